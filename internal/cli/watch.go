package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/aretw0/kiln"
	"github.com/aretw0/kiln/internal/presentation/tui"
	"github.com/aretw0/kiln/pkg/watch"
	"golang.org/x/sync/errgroup"
)

// RunWatch starts development mode: the watch-init task, the development
// server and the watch coordinator, until SIGINT or SIGTERM.
func RunWatch(opts Options) error {
	logger := createLogger(opts)
	con := newConsole(opts.Quiet)
	if !opts.Quiet {
		tui.PrintBanner(kiln.Version)
	}

	engine, err := createEngine(opts, logger, kiln.WithWatchReport(func(r watch.Report) {
		if r.Err != nil {
			con.system("%s failed, waiting for changes.", r.Rule)
			for _, out := range r.Outcomes {
				if !out.Succeeded() {
					con.outcome(out)
				}
			}
			return
		}
		con.system("%s rebuilt in %s (%d changes).", r.Rule, r.Duration.Round(time.Millisecond), len(r.Paths))
	}))
	if err != nil {
		return err
	}
	defer engine.Close()

	sigCtx := NewSignalContext(context.Background())
	defer sigCtx.Cancel()

	logger.Info("Starting watcher", "dir", engine.Dir(), "addr", engine.Addr())
	con.system("Serving at http://localhost%s", engine.Addr())

	g, ctx := errgroup.WithContext(sigCtx)
	g.Go(func() error {
		if err := engine.Serve(ctx); err != nil {
			return fmt.Errorf("development server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return engine.Watch(ctx)
	})

	err = g.Wait()
	if sig := sigCtx.Signal(); sig != nil {
		con.system("Stopped (%s).", sig)
	}
	return err
}
