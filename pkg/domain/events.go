package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventTaskStart   EventType = "task_start"
	EventTaskFinish  EventType = "task_finish"
	EventStageFinish EventType = "stage_finish"
	EventCacheLookup EventType = "cache_lookup"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
}

// TaskEvent represents entry into or exit from a task.
type TaskEvent struct {
	EventBase
	Task     string        `json:"task"`
	Kind     TaskKind      `json:"kind"`
	Status   TaskStatus    `json:"status,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Err      error         `json:"-"`
}

// StageEvent represents a completed pipeline stage.
type StageEvent struct {
	EventBase
	Pipeline string        `json:"pipeline"`
	Stage    string        `json:"stage"`
	Records  int           `json:"records"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// CacheEvent represents a build cache consultation for one record.
type CacheEvent struct {
	EventBase
	Pipeline string `json:"pipeline"`
	Stage    string `json:"stage"`
	Path     string `json:"path"`
	Hit      bool   `json:"hit"`
}

// LifecycleHooks defines callbacks for build observability.
// Any field may be nil.
type LifecycleHooks struct {
	OnTaskStart   func(context.Context, *TaskEvent)
	OnTaskFinish  func(context.Context, *TaskEvent)
	OnStageFinish func(context.Context, *StageEvent)
	OnCacheLookup func(context.Context, *CacheEvent)
}

// Merge returns hooks that call h first and then other.
func (h LifecycleHooks) Merge(other LifecycleHooks) LifecycleHooks {
	return LifecycleHooks{
		OnTaskStart:   chain(h.OnTaskStart, other.OnTaskStart),
		OnTaskFinish:  chain(h.OnTaskFinish, other.OnTaskFinish),
		OnStageFinish: chain(h.OnStageFinish, other.OnStageFinish),
		OnCacheLookup: chain(h.OnCacheLookup, other.OnCacheLookup),
	}
}

func chain[E any](a, b func(context.Context, E)) func(context.Context, E) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ctx context.Context, e E) {
		a(ctx, e)
		b(ctx, e)
	}
}
