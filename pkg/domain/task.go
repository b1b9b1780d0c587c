package domain

import (
	"fmt"
	"strings"
	"time"
)

// TaskKind describes how a task produces its outcome.
type TaskKind string

const (
	TaskLeaf     TaskKind = "leaf"
	TaskSeries   TaskKind = "series"
	TaskParallel TaskKind = "parallel"
)

// TaskStatus is the lifecycle position of a task inside a registry.
type TaskStatus string

const (
	StatusIdle      TaskStatus = "idle"
	StatusRunning   TaskStatus = "running"
	StatusSucceeded TaskStatus = "succeeded"
	StatusFailed    TaskStatus = "failed"
)

// Outcome is the result of running a task.
// For composed tasks, Children holds the outcomes of the children that ran
// (in declaration order) and Failed lists the names of the failed ones.
type Outcome struct {
	Task     string        `json:"task"`
	Kind     TaskKind      `json:"kind"`
	Status   TaskStatus    `json:"status"`
	Err      error         `json:"-"`
	Failed   []string      `json:"failed,omitempty"`
	Children []Outcome     `json:"children,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Succeeded reports whether the task finished without error.
func (o Outcome) Succeeded() bool {
	return o.Status == StatusSucceeded
}

// Walk visits o and every nested child outcome depth-first.
func (o Outcome) Walk(fn func(Outcome)) {
	fn(o)
	for _, c := range o.Children {
		c.Walk(fn)
	}
}

// Summary renders a one-line description, e.g. "build failed (styles)".
func (o Outcome) Summary() string {
	if o.Succeeded() {
		return fmt.Sprintf("%s succeeded in %s", o.Task, o.Duration.Round(time.Millisecond))
	}
	if len(o.Failed) > 0 {
		return fmt.Sprintf("%s failed (%s)", o.Task, strings.Join(o.Failed, ", "))
	}
	return fmt.Sprintf("%s failed", o.Task)
}
