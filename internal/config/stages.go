package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aretw0/kiln/pkg/adapters/s3"
	"github.com/aretw0/kiln/pkg/domain"
	"github.com/aretw0/kiln/pkg/pipeline"
	"github.com/mitchellh/mapstructure"
)

// StageFactory builds a custom stage from its with: options.
type StageFactory func(with map[string]any) (pipeline.Stage, error)

// decode maps free-form options onto a typed struct. Unknown keys are errors.
func decode(with map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(with)
}

type concatOptions struct {
	File      string `mapstructure:"file"`
	Separator string `mapstructure:"separator"`
}

type patternOptions struct {
	Patterns []string `mapstructure:"patterns"`
}

type ifOptions struct {
	Pattern string    `mapstructure:"pattern"`
	Stage   StageSpec `mapstructure:"stage"`
}

type headerOptions struct {
	Text string `mapstructure:"text"`
}

type replaceOptions struct {
	Old string `mapstructure:"old"`
	New string `mapstructure:"new"`
}

type userefOptions struct {
	Root string `mapstructure:"root"`
}

func (a *assembler) stage(pipe string, src SourceSpec, spec StageSpec) (pipeline.Stage, error) {
	subject := fmt.Sprintf("pipeline %s stage %s", pipe, spec.Use)
	fail := func(err error) (pipeline.Stage, error) {
		return nil, &domain.ConfigurationError{Subject: subject, Reason: err.Error()}
	}

	switch spec.Use {
	case "concat":
		var o concatOptions
		if err := decode(spec.With, &o); err != nil {
			return fail(err)
		}
		if o.File == "" {
			return fail(fmt.Errorf("file is required"))
		}
		return pipeline.Concat(o.File, o.Separator), nil
	case "rename":
		var o pipeline.RenameOptions
		if err := decode(spec.With, &o); err != nil {
			return fail(err)
		}
		return pipeline.Rename(o), nil
	case "minify":
		if err := decode(spec.With, &struct{}{}); err != nil {
			return fail(err)
		}
		return pipeline.Minify(), nil
	case "filter", "reject":
		var o patternOptions
		if err := decode(spec.With, &o); err != nil {
			return fail(err)
		}
		if len(o.Patterns) == 0 {
			return fail(fmt.Errorf("patterns are required"))
		}
		if spec.Use == "reject" {
			return pipeline.Reject(o.Patterns...), nil
		}
		return pipeline.Filter(o.Patterns...), nil
	case "if":
		var o ifOptions
		if err := decode(spec.With, &o); err != nil {
			return fail(err)
		}
		if o.Pattern == "" || o.Stage.Use == "" {
			return fail(fmt.Errorf("pattern and stage are required"))
		}
		inner, err := a.stage(pipe, src, o.Stage)
		if err != nil {
			return nil, err
		}
		return pipeline.If(o.Pattern, inner), nil
	case "header":
		var o headerOptions
		if err := decode(spec.With, &o); err != nil {
			return fail(err)
		}
		return pipeline.Header(o.Text), nil
	case "replace":
		var o replaceOptions
		if err := decode(spec.With, &o); err != nil {
			return fail(err)
		}
		if o.Old == "" {
			return fail(fmt.Errorf("old is required"))
		}
		return pipeline.Replace(o.Old, o.New), nil
	case "useref":
		var o userefOptions
		if err := decode(spec.With, &o); err != nil {
			return fail(err)
		}
		root := a.path(src.Base)
		if o.Root != "" {
			root = a.path(o.Root)
		}
		return pipeline.Useref(root), nil
	case "optimize-image":
		var o pipeline.ImageOptions
		if err := decode(spec.With, &o); err != nil {
			return fail(err)
		}
		if o.JPEGQuality < 0 || o.JPEGQuality > 100 {
			return fail(fmt.Errorf("jpeg_quality must be within 1..100"))
		}
		return pipeline.OptimizeImage(o), nil
	case "exec":
		tool, _ := spec.With["tool"].(string)
		if tool == "" {
			return fail(fmt.Errorf("tool is required"))
		}
		args := make(map[string]any, len(spec.With))
		for k, v := range spec.With {
			if k != "tool" {
				args[k] = v
			}
		}
		st, err := a.tools.Stage(tool, args)
		if err != nil {
			return nil, err
		}
		if !st.Available() {
			a.logger.Warn("Optional tool not found, stage passes files through", "pipeline", pipe, "tool", tool)
		}
		return st, nil
	}

	if f, ok := a.factories[spec.Use]; ok {
		st, err := f(spec.With)
		if err != nil {
			return fail(err)
		}
		return st, nil
	}
	return fail(fmt.Errorf("unknown stage"))
}

type destOptions struct {
	Dir  string `mapstructure:"dir"`
	Mode string `mapstructure:"mode"`
}

type broadcastOptions struct {
	Kind string `mapstructure:"kind"`
}

type notifyOptions struct {
	Message string `mapstructure:"message"`
}

func (a *assembler) sink(pipe string, spec StageSpec) (pipeline.Sink, error) {
	subject := fmt.Sprintf("pipeline %s sink %s", pipe, spec.Use)
	fail := func(err error) (pipeline.Sink, error) {
		return nil, &domain.ConfigurationError{Subject: subject, Reason: err.Error()}
	}
	if spec.Delay != 0 {
		return fail(fmt.Errorf("sinks do not take a delay"))
	}

	switch spec.Use {
	case "dest":
		var o destOptions
		if err := decode(spec.With, &o); err != nil {
			return fail(err)
		}
		if o.Dir == "" {
			return fail(fmt.Errorf("dir is required"))
		}
		d := pipeline.Dest{Dir: a.path(o.Dir)}
		if o.Mode != "" {
			var mode uint32
			if _, err := fmt.Sscanf(o.Mode, "%o", &mode); err != nil {
				return fail(fmt.Errorf("invalid mode %q", o.Mode))
			}
			d.Mode = os.FileMode(mode)
		}
		a.outputs = append(a.outputs, d.Dir)
		return d, nil
	case "broadcast":
		var o broadcastOptions
		if err := decode(spec.With, &o); err != nil {
			return fail(err)
		}
		kind := domain.SignalKind(o.Kind)
		switch kind {
		case "", domain.SignalFullReload, domain.SignalStyleUpdate:
		default:
			return fail(fmt.Errorf("unknown signal kind %q", o.Kind))
		}
		return pipeline.Broadcast{Broadcaster: a.broadcaster, Kind: kind}, nil
	case "notify":
		var o notifyOptions
		if err := decode(spec.With, &o); err != nil {
			return fail(err)
		}
		return pipeline.Notify{Logger: a.logger.With("pipeline", pipe), Message: o.Message}, nil
	case "s3":
		if err := decode(spec.With, &struct{}{}); err != nil {
			return fail(err)
		}
		store, err := a.s3Store()
		if err != nil {
			return nil, err
		}
		return s3.Sink{Store: store}, nil
	}
	return fail(fmt.Errorf("unknown sink"))
}

func (a *assembler) path(p string) string { return resolve(a.dir, p) }

// resolve makes a project-relative slash path absolute.
func resolve(dir, p string) string {
	if p == "" {
		return dir
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, filepath.FromSlash(p))
}

// checkDelay rejects negative or excessive settle delays.
func checkDelay(pipe string, spec StageSpec) error {
	if spec.Delay < 0 || spec.Delay > time.Minute {
		return &domain.ConfigurationError{
			Subject: fmt.Sprintf("pipeline %s stage %s", pipe, spec.Use),
			Reason:  fmt.Sprintf("delay %s out of range", spec.Delay),
		}
	}
	return nil
}
