package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/aretw0/kiln/pkg/adapters/process"
	"github.com/aretw0/kiln/pkg/adapters/s3"
	"github.com/aretw0/kiln/pkg/domain"
	"github.com/aretw0/kiln/pkg/dsl"
	"github.com/aretw0/kiln/pkg/pipeline"
	"github.com/aretw0/kiln/pkg/ports"
	"github.com/aretw0/kiln/pkg/tasks"
	"github.com/aretw0/kiln/pkg/watch"
)

// CleanTask is the built-in leaf removing the dist directory.
const CleanTask = "clean"

// Deps are the runtime collaborators wired into assembled pipelines.
type Deps struct {
	Cache       ports.BuildCache
	Broadcaster ports.Broadcaster
	Hooks       domain.LifecycleHooks
	Logger      *slog.Logger
	Stages      map[string]StageFactory
	Workers     int
}

// Project is an assembled configuration, ready to execute.
type Project struct {
	Dir       string
	Config    *Config
	Registry  *tasks.Registry
	Pipelines map[string]*pipeline.Pipeline
	Rules     []watch.Rule
	Tools     *process.Runner
	// Outputs are the absolute dest directories of all pipelines.
	Outputs []string
}

type assembler struct {
	dir         string
	cfg         *Config
	deps        Deps
	logger      *slog.Logger
	broadcaster ports.Broadcaster
	factories   map[string]StageFactory
	tools       *process.Runner
	graph       *dsl.Builder
	registry    *tasks.Registry
	pipelines   map[string]*pipeline.Pipeline
	outputs     []string
	store       *s3.Store
}

// Assemble validates cfg and builds the task registry, pipelines and watch
// rules. Every problem is reported as a *domain.ConfigurationError before
// anything runs.
func Assemble(dir string, cfg *Config, deps Deps) (*Project, error) {
	a := &assembler{
		dir:         dir,
		cfg:         cfg,
		deps:        deps,
		logger:      deps.Logger,
		broadcaster: deps.Broadcaster,
		factories:   deps.Stages,
		graph:       dsl.New(),
		pipelines:   make(map[string]*pipeline.Pipeline),
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if a.broadcaster == nil {
		a.broadcaster = ports.NopBroadcaster{}
	}

	tools, err := loadTools(dir, cfg)
	if err != nil {
		return nil, err
	}
	a.tools = process.NewRunner(process.WithRegistry(tools), process.WithBaseDir(dir))

	if err := a.buildPipelines(); err != nil {
		return nil, err
	}
	if err := a.buildTasks(); err != nil {
		return nil, err
	}
	rules, err := a.buildRules()
	if err != nil {
		return nil, err
	}

	return &Project{
		Dir:       dir,
		Config:    cfg,
		Registry:  a.registry,
		Pipelines: a.pipelines,
		Rules:     rules,
		Tools:     a.tools,
		Outputs:   a.outputs,
	}, nil
}

// loadTools merges the shared tools file with the inline tools: list.
func loadTools(dir string, cfg *Config) (map[string]process.ToolConfig, error) {
	tools := make(map[string]process.ToolConfig, len(cfg.Tools))
	if cfg.ToolsFile != "" {
		path := resolve(dir, cfg.ToolsFile)
		if _, err := os.Stat(path); err != nil {
			return nil, &domain.ConfigurationError{Subject: "tools_file", Reason: err.Error()}
		}
		shared, err := process.LoadTools(path)
		if err != nil {
			return nil, &domain.ConfigurationError{Subject: "tools_file", Reason: err.Error()}
		}
		for _, name := range sortedKeys(shared) {
			if shared[name].Command == "" {
				return nil, &domain.ConfigurationError{Subject: "tool " + name, Reason: "missing command in " + cfg.ToolsFile}
			}
			tools[name] = shared[name]
		}
	}

	inline := make(map[string]bool, len(cfg.Tools))
	for _, t := range cfg.Tools {
		if t.Name == "" || t.Command == "" {
			return nil, &domain.ConfigurationError{Subject: "tools", Reason: "every tool needs a name and a command"}
		}
		if inline[t.Name] {
			return nil, &domain.ConfigurationError{Subject: "tool " + t.Name, Reason: "defined twice"}
		}
		inline[t.Name] = true
		tools[t.Name] = t
	}
	return tools, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (a *assembler) buildPipelines() error {
	for _, name := range sortedKeys(a.cfg.Pipelines) {
		spec := a.cfg.Pipelines[name]
		if _, clash := a.cfg.Tasks[name]; clash {
			return &domain.ConfigurationError{Subject: "pipeline " + name, Reason: "name is also used by a task"}
		}

		src := pipeline.Source{
			Base:     a.path(spec.Source.Base),
			Patterns: spec.Source.Patterns,
			Exclude:  spec.Source.Exclude,
			Ordered:  spec.Source.Ordered,
		}

		steps := make([]pipeline.Step, 0, len(spec.Stages))
		for _, ss := range spec.Stages {
			if err := checkDelay(name, ss); err != nil {
				return err
			}
			st, err := a.stage(name, spec.Source, ss)
			if err != nil {
				return err
			}
			steps = append(steps, pipeline.Use(st).After(ss.Delay))
		}

		sinks := make([]pipeline.Sink, 0, len(spec.Sinks))
		for _, ss := range spec.Sinks {
			sk, err := a.sink(name, ss)
			if err != nil {
				return err
			}
			sinks = append(sinks, sk)
		}

		p := pipeline.New(name, src,
			pipeline.WithSteps(steps...),
			pipeline.WithSinks(sinks...),
			pipeline.WithCache(a.deps.Cache),
			pipeline.WithHooks(a.deps.Hooks),
			pipeline.WithLogger(a.logger),
			pipeline.WithWorkers(a.deps.Workers),
		)
		if err := p.Validate(); err != nil {
			return err
		}
		a.graph.Add(name).Describe(spec.Description).Runs(p)
		a.pipelines[name] = p
	}
	return nil
}

func (a *assembler) buildTasks() error {
	_, userClean := a.cfg.Tasks[CleanTask]
	_, pipeClean := a.cfg.Pipelines[CleanTask]
	if !userClean && !pipeClean {
		a.graph.Add(CleanTask).
			Describe("Remove " + a.cfg.Dist).
			Runs(pipeline.Clean{Dirs: []string{a.path(a.cfg.Dist)}})
	}

	for _, name := range sortedKeys(a.cfg.Tasks) {
		if a.graph.Has(name) {
			return &domain.ConfigurationError{Subject: "task " + name, Reason: "name is already defined"}
		}
		if err := a.declare(name, a.cfg.Tasks[name]); err != nil {
			return err
		}
	}

	registry, err := a.graph.Build()
	if err != nil {
		return err
	}
	a.registry = registry
	return nil
}

// declare adds name to the graph. Inline children are declared as
// "<name>:<position>".
func (a *assembler) declare(name string, spec TaskSpec) error {
	forms := 0
	for _, set := range []bool{spec.Ref != "", len(spec.Series) > 0, len(spec.Parallel) > 0, spec.Run != ""} {
		if set {
			forms++
		}
	}
	if forms != 1 {
		return &domain.ConfigurationError{Subject: "task " + name, Reason: "needs exactly one of a task name, series, parallel or run"}
	}

	tb := a.graph.Add(name).Describe(spec.Description)
	switch {
	case spec.Ref != "":
		tb.Series(spec.Ref)
	case spec.Run != "":
		if _, ok := a.tools.Tool(spec.Run); !ok {
			return &domain.ConfigurationError{Subject: "task " + name, Reason: fmt.Sprintf("tool %q is not registered", spec.Run)}
		}
		tb.Runs(a.tools.Task(spec.Run, spec.With))
	default:
		list := spec.Series
		if len(spec.Parallel) > 0 {
			list = spec.Parallel
		}
		children := make([]string, len(list))
		for i, c := range list {
			if c.Ref != "" {
				children[i] = c.Ref
				continue
			}
			inline := fmt.Sprintf("%s:%d", name, i+1)
			if a.graph.Has(inline) {
				return &domain.ConfigurationError{Subject: "task " + inline, Reason: "name is already defined"}
			}
			if err := a.declare(inline, c); err != nil {
				return err
			}
			children[i] = inline
		}
		if len(spec.Parallel) > 0 {
			tb.Parallel(children...)
		} else {
			tb.Series(children...)
		}
	}
	return nil
}

func (a *assembler) buildRules() ([]watch.Rule, error) {
	known := func(name string) bool {
		_, ok := a.registry.Get(name)
		return ok
	}
	rules := make([]watch.Rule, 0, len(a.cfg.Watch))
	seen := make(map[string]bool)
	for i, rs := range a.cfg.Watch {
		name := rs.Name
		if name == "" {
			name = fmt.Sprintf("watch-%d", i+1)
		}
		if seen[name] {
			return nil, &domain.ConfigurationError{Subject: "watch rule " + name, Reason: "defined twice"}
		}
		seen[name] = true
		effect := watch.Effect(rs.Effect)
		if effect == "" {
			effect = watch.EffectNone
		}
		r := watch.Rule{Name: name, Patterns: rs.Patterns, Tasks: rs.Tasks, Effect: effect}
		if err := r.Validate(known); err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func (a *assembler) s3Store() (*s3.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	store, err := a.cfg.S3.open()
	if err != nil {
		return nil, err
	}
	a.store = store
	return store, nil
}

func (c S3Config) open() (*s3.Store, error) {
	return s3.New(s3.Config{
		Endpoint:  c.Endpoint,
		Region:    c.Region,
		AccessKey: c.AccessKey,
		SecretKey: c.SecretKey,
		Bucket:    c.Bucket,
		Prefix:    c.Prefix,
		UseSSL:    c.UseSSL,
	})
}
