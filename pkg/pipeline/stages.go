package pipeline

import (
	"bytes"
	"context"
	"path"
	"strings"

	"github.com/aretw0/kiln/pkg/domain"
	"github.com/bmatcuk/doublestar/v4"
)

type concatStage struct {
	target    string
	separator string
}

// Concat joins every record, in input order, into a single record at target.
// An empty input produces no output.
func Concat(target, separator string) Stage {
	return &concatStage{target: target, separator: separator}
}

func (c *concatStage) Name() string { return "concat" }

func (c *concatStage) Transform(_ context.Context, in []domain.FileRecord) ([]domain.FileRecord, error) {
	if len(in) == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	latest := in[0].ModTime
	for i, rec := range in {
		if i > 0 {
			buf.WriteString(c.separator)
		}
		buf.Write(rec.Content)
		if rec.ModTime.After(latest) {
			latest = rec.ModTime
		}
	}
	return []domain.FileRecord{domain.NewRecord(c.target, buf.Bytes(), latest)}, nil
}

// RenameOptions mirrors the usual path rewriting knobs. Empty fields keep the
// original value.
type RenameOptions struct {
	Dirname  string `mapstructure:"dirname"`
	Basename string `mapstructure:"basename"`
	Prefix   string `mapstructure:"prefix"`
	Suffix   string `mapstructure:"suffix"`
	Extname  string `mapstructure:"extname"`
}

// Rename rewrites record paths. "app.css" with Suffix ".min" becomes "app.min.css".
func Rename(opts RenameOptions) Stage {
	return Map("rename", func(_ context.Context, rec domain.FileRecord) (domain.FileRecord, error) {
		return rec.WithPath(opts.apply(rec.Path)), nil
	})
}

func (o RenameOptions) apply(p string) string {
	dir, file := path.Split(p)
	ext := path.Ext(file)
	base := strings.TrimSuffix(file, ext)
	if o.Dirname != "" {
		dir = o.Dirname
	}
	if o.Basename != "" {
		base = o.Basename
	}
	if o.Extname != "" {
		ext = o.Extname
	}
	return path.Join(dir, o.Prefix+base+o.Suffix+ext)
}

type filterStage struct {
	patterns []string
	invert   bool
}

// Filter keeps records whose path matches any pattern.
func Filter(patterns ...string) Stage {
	return &filterStage{patterns: patterns}
}

// Reject drops records whose path matches any pattern.
func Reject(patterns ...string) Stage {
	return &filterStage{patterns: patterns, invert: true}
}

func (f *filterStage) Name() string {
	if f.invert {
		return "reject"
	}
	return "filter"
}

func (f *filterStage) Transform(_ context.Context, in []domain.FileRecord) ([]domain.FileRecord, error) {
	out := make([]domain.FileRecord, 0, len(in))
	for _, rec := range in {
		if matchAny(f.patterns, rec.Path) != f.invert {
			out = append(out, rec)
		}
	}
	return out, nil
}

func matchAny(patterns []string, p string) bool {
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(normalizePattern(pattern), p); ok {
			return true
		}
	}
	return false
}

type ifStage struct {
	pattern string
	inner   Stage
}

// If applies inner only to records matching pattern. Non-matching records pass
// through first, followed by inner's output.
func If(pattern string, inner Stage) Stage {
	return &ifStage{pattern: pattern, inner: inner}
}

func (s *ifStage) Name() string { return "if(" + s.inner.Name() + ")" }

func (s *ifStage) Transform(ctx context.Context, in []domain.FileRecord) ([]domain.FileRecord, error) {
	var pass, hit []domain.FileRecord
	for _, rec := range in {
		if ok, _ := doublestar.Match(normalizePattern(s.pattern), rec.Path); ok {
			hit = append(hit, rec)
		} else {
			pass = append(pass, rec)
		}
	}
	if len(hit) == 0 {
		return pass, nil
	}
	out, err := s.inner.Transform(ctx, hit)
	if err != nil {
		return nil, err
	}
	return append(pass, out...), nil
}

// Header prepends text to every record.
func Header(text string) Stage {
	return Each("header", func(_ context.Context, rec domain.FileRecord) ([]byte, error) {
		out := make([]byte, 0, len(text)+len(rec.Content))
		out = append(out, text...)
		return append(out, rec.Content...), nil
	})
}

// Replace substitutes every occurrence of old with repl.
func Replace(old, repl string) Stage {
	return Each("replace", func(_ context.Context, rec domain.FileRecord) ([]byte, error) {
		return bytes.ReplaceAll(rec.Content, []byte(old), []byte(repl)), nil
	})
}
