package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aretw0/kiln"
	"github.com/aretw0/kiln/internal/logging"
	"github.com/aretw0/kiln/pkg/domain"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Options carries the persistent flags shared by every command.
type Options struct {
	Dir        string
	ConfigFile string
	Debug      bool
	LogFormat  string
	Quiet      bool
}

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps a command error to a process exit code:
// 0 on success, 2 for configuration errors, 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	if domain.IsConfiguration(err) {
		return 2
	}
	return 1
}

// SignalContext wraps a context and captures the signal that cancelled it.
type SignalContext struct {
	context.Context
	Cancel func()
	start  sync.Once
	stop   sync.Once
	sigCh  chan os.Signal
	sigVal os.Signal
	mu     sync.Mutex
}

// NewSignalContext creates a context that is cancelled on SIGINT or SIGTERM.
// It acts as a drop-in replacement for signal.NotifyContext but allows retrieving the signal.
func NewSignalContext(parent context.Context) *SignalContext {
	ctx, cancel := context.WithCancel(parent)
	sc := &SignalContext{
		Context: ctx,
		Cancel:  cancel,
		sigCh:   make(chan os.Signal, 1),
	}

	sc.start.Do(func() {
		signal.Notify(sc.sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			select {
			case sig := <-sc.sigCh:
				sc.mu.Lock()
				sc.sigVal = sig
				sc.mu.Unlock()
				sc.Cancel()
			case <-sc.Context.Done():
				// Context cancelled elsewhere
			}
			sc.stop.Do(func() {
				signal.Stop(sc.sigCh)
			})
		}()
	})

	return sc
}

// Signal returns the signal that caused the context to be cancelled, or nil.
func (sc *SignalContext) Signal() os.Signal {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.sigVal
}

// createLogger configures the application logger.
// Without --debug only warnings and errors reach stderr.
func createLogger(opts Options) *slog.Logger {
	level := slog.LevelWarn
	if opts.Debug {
		level = slog.LevelDebug
	}
	return logging.NewWithFormat(os.Stderr, level, logging.ParseFormat(opts.LogFormat))
}

func createEngine(opts Options, logger *slog.Logger, extra ...kiln.Option) (*kiln.Engine, error) {
	engineOpts := []kiln.Option{kiln.WithLogger(logger)}
	if opts.ConfigFile != "" {
		engineOpts = append(engineOpts, kiln.WithConfigFile(opts.ConfigFile))
	}
	engineOpts = append(engineOpts, extra...)

	engine, err := kiln.New(opts.Dir, engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing engine: %w", err)
	}
	return engine, nil
}

// console prints status lines, colored when the writer is a terminal.
type console struct {
	out   io.Writer
	color bool
	quiet bool
}

func newConsole(quiet bool) *console {
	return &console{
		out:   os.Stdout,
		color: term.IsTerminal(int(os.Stdout.Fd())),
		quiet: quiet,
	}
}

func (c *console) paint(s, hex string) string {
	if !c.color {
		return s
	}
	p := termenv.ColorProfile()
	return termenv.String(s).Foreground(p.Color(hex)).String()
}

// system prints a standardized system message.
func (c *console) system(format string, args ...any) {
	if c.quiet {
		return
	}
	fmt.Fprintf(c.out, "%s %s\n", c.paint(">>>", "#f97316"), fmt.Sprintf(format, args...))
}

// outcome prints a task outcome tree with durations and failure causes.
func (c *console) outcome(out domain.Outcome) {
	if c.quiet && out.Succeeded() {
		return
	}
	c.outcomeLine(out, 0)
	if !out.Succeeded() && out.Err != nil {
		fmt.Fprintf(c.out, "\n%s\n", c.paint(rootCause(out), "#ef4444"))
	}
}

func (c *console) outcomeLine(out domain.Outcome, depth int) {
	mark := c.paint("✓", "#22c55e")
	if !out.Succeeded() {
		mark = c.paint("✗", "#ef4444")
	}
	fmt.Fprintf(c.out, "%s%s %s %s\n", strings.Repeat("  ", depth), mark, out.Task,
		c.paint(out.Duration.Round(time.Millisecond).String(), "#9ca3af"))
	for _, child := range out.Children {
		c.outcomeLine(child, depth+1)
	}
}

// rootCause returns the error of the deepest failed leaf.
func rootCause(out domain.Outcome) string {
	for _, child := range out.Children {
		if !child.Succeeded() {
			return rootCause(child)
		}
	}
	if out.Err == nil {
		return out.Summary()
	}
	return fmt.Sprintf("%s: %v", out.Task, out.Err)
}

func isInterrupted(err error) bool {
	return errors.Is(err, context.Canceled)
}
