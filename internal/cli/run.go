package cli

import (
	"context"
	"fmt"

	"github.com/aretw0/kiln"
)

// Run executes a task (the default task when name is empty) and reports the
// outcome. A failed task yields an *ExitError with code 1.
func Run(opts Options, name string) error {
	logger := createLogger(opts)
	con := newConsole(opts.Quiet)

	engine, err := createEngine(opts, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	sigCtx := NewSignalContext(context.Background())
	defer sigCtx.Cancel()

	if name == "" {
		name = kiln.DefaultTask
		if _, ok := engine.Registry().Get(name); !ok {
			name = "build"
		}
	}
	con.system("Running '%s' in %s", name, engine.Dir())

	out := engine.Run(sigCtx, name)
	con.outcome(out)

	if !out.Succeeded() {
		if sig := sigCtx.Signal(); sig != nil && isInterrupted(out.Err) {
			con.system("Interrupted (%s).", sig)
		}
		return &ExitError{Code: 1, Err: fmt.Errorf("%s", out.Summary())}
	}

	stats := engine.CacheStats()
	logger.Info("Cache activity", "hits", stats.Hits, "misses", stats.Misses, "puts", stats.Puts)
	con.system("%s (cache: %d hits, %d misses)", out.Summary(), stats.Hits, stats.Misses)
	return nil
}
