package cli

import (
	"fmt"
	"os"

	"github.com/aretw0/kiln/internal/presentation/graph"
	"github.com/aretw0/kiln/internal/presentation/tui"
)

// Validate loads and assembles the project without running anything.
// Configuration problems map to exit code 2.
func Validate(opts Options) error {
	engine, err := createEngine(opts, createLogger(opts))
	if err != nil {
		return &ExitError{Code: ExitCode(err), Err: err}
	}
	defer engine.Close()

	con := newConsole(opts.Quiet)
	con.system("%d tasks and %d watch rules are valid.", len(engine.Tasks()), len(engine.Rules()))
	return nil
}

// Graph prints the task graph as a Mermaid diagram.
func Graph(opts Options) error {
	engine, err := createEngine(opts, createLogger(opts))
	if err != nil {
		return err
	}
	defer engine.Close()

	fmt.Print(graph.GenerateMermaid(engine.Tasks(), nil))
	return nil
}

// Tasks prints the registered tasks as a table.
func Tasks(opts Options) error {
	engine, err := createEngine(opts, createLogger(opts))
	if err != nil {
		return err
	}
	defer engine.Close()

	table := tui.TaskTable(engine.Tasks())
	if !newConsole(false).color {
		fmt.Print(table)
		return nil
	}
	rendered, err := tui.NewRenderer()(table)
	if err != nil {
		rendered = table
	}
	fmt.Fprint(os.Stdout, rendered)
	return nil
}
