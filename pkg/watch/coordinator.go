package watch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/kiln/pkg/domain"
	"github.com/aretw0/kiln/pkg/ports"
	"github.com/bmatcuk/doublestar/v4"
)

// DefaultDebounce is the quiet period after the last matching event.
const DefaultDebounce = 200 * time.Millisecond

// Effect is the client notification sent after a rule's tasks succeed.
type Effect string

const (
	EffectNone        Effect = "none"
	EffectReload      Effect = "reload"
	EffectStyleUpdate Effect = "style-update"
)

// Rule maps path patterns to the tasks they trigger.
type Rule struct {
	Name     string
	Patterns []string
	Tasks    []string
	Effect   Effect
}

// Matches reports whether a root-relative path triggers the rule.
func (r Rule) Matches(p string) bool {
	for _, pattern := range r.Patterns {
		if ok, _ := doublestar.Match(pattern, p); ok {
			return true
		}
	}
	return false
}

// Validate rejects rules that can never fire or name unknown tasks.
func (r Rule) Validate(known func(string) bool) error {
	subject := "watch rule " + r.Name
	if len(r.Patterns) == 0 {
		return &domain.ConfigurationError{Subject: subject, Reason: "no patterns"}
	}
	for _, p := range r.Patterns {
		if !doublestar.ValidatePattern(p) {
			return &domain.ConfigurationError{Subject: subject, Reason: fmt.Sprintf("invalid glob %q", p)}
		}
	}
	if len(r.Tasks) == 0 && r.Effect != EffectReload {
		return &domain.ConfigurationError{Subject: subject, Reason: "no tasks"}
	}
	for _, t := range r.Tasks {
		if known != nil && !known(t) {
			return &domain.ConfigurationError{Subject: subject, Reason: fmt.Sprintf("unknown task %q", t)}
		}
	}
	switch r.Effect {
	case "", EffectNone, EffectReload, EffectStyleUpdate:
	default:
		return &domain.ConfigurationError{Subject: subject, Reason: fmt.Sprintf("unknown effect %q", r.Effect)}
	}
	return nil
}

// TaskRunner executes named tasks; tasks.Executor satisfies it.
type TaskRunner interface {
	Run(ctx context.Context, name string) domain.Outcome
}

// State of a rule.
type State string

const (
	StateIdle       State = "idle"
	StateDebouncing State = "debouncing"
	StateRunning    State = "running"
)

// Report describes one completed rule run.
type Report struct {
	Rule     string
	Paths    []string
	Outcomes []domain.Outcome
	Err      error
	Duration time.Duration
}

type ruleState struct {
	rule    Rule
	state   State
	gen     uint64
	timer   *time.Timer
	pending bool
	paths   map[string]bool
}

// Coordinator debounces filesystem events per rule and runs the rule's tasks.
// Events arriving while a rule runs schedule exactly one follow-up run.
type Coordinator struct {
	runner      TaskRunner
	broadcaster ports.Broadcaster
	debounce    time.Duration
	logger      *slog.Logger
	onReport    func(Report)

	mu    sync.Mutex
	rules []*ruleState
	ctx   context.Context
	wg    sync.WaitGroup
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithDebounce sets the quiet period.
func WithDebounce(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.debounce = d
		}
	}
}

// WithBroadcaster sets where reload signals go.
func WithBroadcaster(b ports.Broadcaster) Option {
	return func(c *Coordinator) {
		c.broadcaster = b
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithReport registers a callback invoked after every rule run.
func WithReport(fn func(Report)) Option {
	return func(c *Coordinator) {
		c.onReport = fn
	}
}

// NewCoordinator creates a coordinator for rules.
func NewCoordinator(runner TaskRunner, rules []Rule, opts ...Option) *Coordinator {
	c := &Coordinator{
		runner:      runner,
		broadcaster: ports.NopBroadcaster{},
		debounce:    DefaultDebounce,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		ctx:         context.Background(),
	}
	for _, opt := range opts {
		opt(c)
	}
	for _, r := range rules {
		c.rules = append(c.rules, &ruleState{rule: r, state: StateIdle, paths: make(map[string]bool)})
	}
	return c
}

// State returns the current state of a rule.
func (c *Coordinator) State(rule string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rs := range c.rules {
		if rs.rule.Name == rule {
			return rs.state
		}
	}
	return ""
}

// Run consumes events until ctx is done. Source errors and task failures
// are logged; they never stop the loop.
func (c *Coordinator) Run(ctx context.Context, src EventSource) error {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()

	events, errs := src.Events(), src.Errors()
	for {
		select {
		case <-ctx.Done():
			c.stop()
			return nil
		case ev, ok := <-events:
			if !ok {
				c.logger.Warn("Watch event source closed")
				events = nil
				continue
			}
			c.Notify(ev)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			c.logger.Warn("Watch error", "err", err)
		}
	}
}

// Notify feeds one event into every matching rule.
func (c *Coordinator) Notify(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx.Err() != nil {
		return
	}
	for _, rs := range c.rules {
		if !rs.rule.Matches(ev.Path) {
			continue
		}
		rs.paths[ev.Path] = true
		switch rs.state {
		case StateIdle, StateDebouncing:
			rs.state = StateDebouncing
			c.schedule(rs)
		case StateRunning:
			rs.pending = true
		}
		c.logger.Debug("Change detected", "rule", rs.rule.Name, "path", ev.Path, "op", ev.Op, "state", rs.state)
	}
}

// schedule (re)starts the debounce timer. Must be called with c.mu held.
func (c *Coordinator) schedule(rs *ruleState) {
	rs.gen++
	gen := rs.gen
	if rs.timer != nil && rs.timer.Stop() {
		c.wg.Done()
	}
	c.wg.Add(1)
	rs.timer = time.AfterFunc(c.debounce, func() {
		defer c.wg.Done()
		c.fire(rs, gen)
	})
}

func (c *Coordinator) fire(rs *ruleState, gen uint64) {
	c.mu.Lock()
	if rs.gen != gen || rs.state != StateDebouncing || c.ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	rs.state = StateRunning
	rs.timer = nil
	paths := make([]string, 0, len(rs.paths))
	for p := range rs.paths {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	rs.paths = make(map[string]bool)
	ctx := c.ctx
	c.mu.Unlock()

	report := c.execute(ctx, rs.rule, paths)

	c.mu.Lock()
	if rs.pending && ctx.Err() == nil {
		rs.pending = false
		rs.state = StateDebouncing
		c.schedule(rs)
	} else {
		rs.pending = false
		rs.state = StateIdle
	}
	c.mu.Unlock()

	if c.onReport != nil {
		c.onReport(report)
	}
}

func (c *Coordinator) execute(ctx context.Context, rule Rule, paths []string) Report {
	start := time.Now()
	report := Report{Rule: rule.Name, Paths: paths}
	c.logger.Info("Running watch tasks", "rule", rule.Name, "tasks", rule.Tasks, "changes", len(paths))

	for _, name := range rule.Tasks {
		out := c.runner.Run(ctx, name)
		report.Outcomes = append(report.Outcomes, out)
		if !out.Succeeded() {
			report.Err = out.Err
			break
		}
	}
	report.Duration = time.Since(start)

	if report.Err != nil {
		if ctx.Err() != nil {
			return report
		}
		c.logger.Error("Watch tasks failed", "rule", rule.Name, "err", report.Err)
		c.broadcaster.Broadcast(domain.Signal{Kind: domain.SignalBuildError, Paths: paths, Message: report.Err.Error()})
		return report
	}

	c.logger.Info("Watch tasks finished", "rule", rule.Name, "duration", report.Duration)
	switch rule.Effect {
	case EffectReload:
		c.broadcaster.Broadcast(domain.Signal{Kind: domain.SignalFullReload, Paths: paths})
	case EffectStyleUpdate:
		c.broadcaster.Broadcast(domain.Signal{Kind: domain.SignalStyleUpdate, Paths: paths})
	}
	return report
}

// stop cancels pending timers and waits for in-flight runs.
func (c *Coordinator) stop() {
	c.mu.Lock()
	for _, rs := range c.rules {
		if rs.timer != nil && rs.timer.Stop() {
			c.wg.Done()
		}
		rs.timer = nil
	}
	c.mu.Unlock()
	c.wg.Wait()
}
