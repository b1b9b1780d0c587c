package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrTaskNotFound is returned when a task name is not present in the registry.
var ErrTaskNotFound = errors.New("task not found")

// ErrCacheMiss is returned by build caches when no entry exists for a key.
var ErrCacheMiss = errors.New("cache miss")

// SourceTransformError is raised when a stage fails to process input,
// e.g. a syntax error in a style file. It is recoverable in watch mode.
type SourceTransformError struct {
	Pipeline string
	Stage    string
	Path     string
	Err      error
}

func (e *SourceTransformError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: stage %q failed on %s: %v", e.Pipeline, e.Stage, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: stage %q failed: %v", e.Pipeline, e.Stage, e.Err)
}

func (e *SourceTransformError) Unwrap() error { return e.Err }

// IOError wraps filesystem failures (missing source, unwritable destination).
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// ConfigurationError reports a malformed task graph or pipeline definition.
// It is always fatal and raised before any task runs.
type ConfigurationError struct {
	Subject string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration for %s: %s", e.Subject, e.Reason)
}

// TaskError is the aggregate failure of a composed task.
type TaskError struct {
	Task   string
	Kind   TaskKind
	Failed []string
	Errs   []error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s %q failed: %s", e.Kind, e.Task, strings.Join(e.Failed, ", "))
}

// Unwrap exposes every child error to errors.Is / errors.As.
func (e *TaskError) Unwrap() []error { return e.Errs }

// IsConfiguration reports whether err is (or wraps) a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
