package process

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/aretw0/kiln/pkg/cache"
	"github.com/aretw0/kiln/pkg/domain"
)

// DefaultWaitDelay is how long a cancelled process may take to exit after
// the interrupt before it is killed.
const DefaultWaitDelay = 5 * time.Second

// Runner executes allow-listed local processes.
// Only registered tools can run; configuration never executes arbitrary strings.
type Runner struct {
	registry map[string]ToolConfig
	baseDir  string
	timeout  time.Duration
}

// RunnerOption configures the runner.
type RunnerOption func(*Runner)

// WithRegistry populates the allow-list from a loaded config.
func WithRegistry(tools map[string]ToolConfig) RunnerOption {
	return func(r *Runner) {
		for name, tool := range tools {
			tool.Name = name
			r.registry[name] = tool
		}
	}
}

// WithBaseDir sets the working directory for executed processes.
func WithBaseDir(dir string) RunnerOption {
	return func(r *Runner) {
		r.baseDir = dir
	}
}

// WithTimeout bounds every invocation. Zero means no bound.
func WithTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.timeout = d
	}
}

// NewRunner creates a new Process Runner.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		registry: make(map[string]ToolConfig),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a trusted command to the allow-list.
func (r *Runner) Register(tool ToolConfig) {
	r.registry[tool.Name] = tool
}

// Tool returns a registered tool.
func (r *Runner) Tool(name string) (ToolConfig, bool) {
	t, ok := r.registry[name]
	return t, ok
}

// Tools returns the registered tool names in order.
func (r *Runner) Tools() []string {
	names := make([]string, 0, len(r.registry))
	for name := range r.registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invocation is a single process execution.
type Invocation struct {
	Tool  string
	Stdin []byte
	// Args are exposed to the process as KILN_ARG_<NAME> environment variables.
	Args map[string]any
}

// Execute runs a registered tool and returns its stdout. A non-zero exit is
// an error carrying stderr.
func (r *Runner) Execute(ctx context.Context, inv Invocation) ([]byte, error) {
	tool, ok := r.registry[inv.Tool]
	if !ok {
		return nil, &domain.ConfigurationError{Subject: "tool " + inv.Tool, Reason: "not registered"}
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, tool.Command, tool.Args...)
	cmd.Dir = r.baseDir
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = DefaultWaitDelay
	cmd.Env = append(cmd.Environ(), environment(tool, inv.Args)...)
	if inv.Stdin != nil {
		cmd.Stdin = bytes.NewReader(inv.Stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w", tool.Name, ctxErr)
		}
		return nil, fmt.Errorf("%s failed: %w: %s", tool.Name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// environment flattens tool env and invocation args into KEY=VALUE pairs.
// Args travel as environment variables rather than flags so values can
// never be interpreted as options.
func environment(tool ToolConfig, args map[string]any) []string {
	env := make([]string, 0, len(tool.Environment)+len(args))
	for k, v := range tool.Environment {
		env = append(env, k+"="+v)
	}
	for k, v := range args {
		var val string
		switch v.(type) {
		case string, int, int64, float64, bool:
			val = fmt.Sprintf("%v", v)
		case nil:
		default:
			if data, err := json.Marshal(v); err == nil {
				val = string(data)
			} else {
				val = fmt.Sprintf("%v", v)
			}
		}
		env = append(env, fmt.Sprintf("KILN_ARG_%s=%s", strings.ToUpper(k), val))
	}
	sort.Strings(env)
	return env
}

// Task returns a task runner that invokes tool without input.
func (r *Runner) Task(tool string, args map[string]any) TaskFunc {
	return func(ctx context.Context) error {
		_, err := r.Execute(ctx, Invocation{Tool: tool, Args: args})
		return err
	}
}

// TaskFunc adapts a function to the task runner contract.
type TaskFunc func(ctx context.Context) error

// Run calls f(ctx).
func (f TaskFunc) Run(ctx context.Context) error { return f(ctx) }

// Stage is a pipeline stage piping each record through a tool:
// record content on stdin, replacement content from stdout.
type Stage struct {
	runner   *Runner
	tool     ToolConfig
	args     map[string]any
	identity string
	missing  bool
}

// Stage builds an exec stage for a registered tool.
func (r *Runner) Stage(tool string, args map[string]any) (*Stage, error) {
	t, ok := r.registry[tool]
	if !ok {
		return nil, &domain.ConfigurationError{Subject: "exec stage", Reason: fmt.Sprintf("tool %q is not registered", tool)}
	}
	s := &Stage{runner: r, tool: t, args: args}
	if t.Optional {
		if _, err := exec.LookPath(t.Command); err != nil {
			s.missing = true
			return s, nil
		}
	}
	if t.Pure {
		s.identity = cache.StageIdentity("exec:"+t.Name, map[string]any{
			"command": t.Command,
			"args":    t.Args,
			"env":     t.Environment,
			"with":    args,
		})
	}
	return s, nil
}

func (s *Stage) Name() string { return "exec:" + s.tool.Name }

// Identity is empty for impure tools, which disables caching.
func (s *Stage) Identity() string { return s.identity }

// Available reports whether the tool will actually run.
func (s *Stage) Available() bool { return !s.missing }

// Process runs the tool over one record.
func (s *Stage) Process(ctx context.Context, rec domain.FileRecord) ([]byte, error) {
	if s.missing {
		return rec.Content, nil
	}
	args := make(map[string]any, len(s.args)+1)
	for k, v := range s.args {
		args[k] = v
	}
	args["path"] = rec.Path
	return s.runner.Execute(ctx, Invocation{Tool: s.tool.Name, Stdin: rec.Content, Args: args})
}

// Transform runs the tool over every record in order.
func (s *Stage) Transform(ctx context.Context, in []domain.FileRecord) ([]domain.FileRecord, error) {
	out := make([]domain.FileRecord, 0, len(in))
	for _, rec := range in {
		content, err := s.Process(ctx, rec)
		if err != nil {
			return nil, &domain.SourceTransformError{Stage: s.Name(), Path: rec.Path, Err: err}
		}
		out = append(out, rec.WithContent(content))
	}
	return out, nil
}
