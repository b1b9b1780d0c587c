package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aretw0/kiln/pkg/domain"
	"github.com/bmatcuk/doublestar/v4"
)

// Source selects the input files of a pipeline.
type Source struct {
	// Base is the directory patterns are evaluated against. Record paths are
	// relative to it.
	Base string
	// Patterns are doublestar globs ("scss/**/*.scss").
	Patterns []string
	// Exclude drops matches, e.g. "**/_*.scss" for style partials.
	Exclude []string
	// Ordered lists explicit files whose order is authoritative. They come
	// first, followed by glob matches not already listed.
	Ordered []string
}

func normalizePattern(p string) string {
	p = filepath.ToSlash(p)
	return strings.TrimPrefix(p, "./")
}

// Resolve reads every selected file. Each call expands the selection anew.
func (s Source) Resolve(ctx context.Context) ([]domain.FileRecord, error) {
	if len(s.Patterns) == 0 && len(s.Ordered) == 0 {
		return nil, &domain.ConfigurationError{Subject: "source", Reason: "no patterns or ordered paths"}
	}
	base := s.Base
	if base == "" {
		base = "."
	}
	fsys := os.DirFS(base)

	var paths []string
	seen := make(map[string]bool)
	for _, p := range s.Ordered {
		p = path.Clean(normalizePattern(p))
		if seen[p] {
			continue
		}
		seen[p] = true
		paths = append(paths, p)
	}

	var matched []string
	for _, pattern := range s.Patterns {
		pattern = normalizePattern(pattern)
		if !doublestar.ValidatePattern(pattern) {
			return nil, &domain.ConfigurationError{Subject: "source", Reason: fmt.Sprintf("invalid glob %q", pattern)}
		}
		found, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, &domain.IOError{Op: "glob", Path: filepath.Join(base, pattern), Err: err}
		}
		for _, m := range found {
			if seen[m] || s.excluded(m) {
				continue
			}
			seen[m] = true
			matched = append(matched, m)
		}
	}
	sort.Strings(matched)
	paths = append(paths, matched...)

	records := make([]domain.FileRecord, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := readRecord(fsys, base, p)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s Source) excluded(p string) bool {
	for _, pattern := range s.Exclude {
		if ok, _ := doublestar.Match(normalizePattern(pattern), p); ok {
			return true
		}
	}
	return false
}

// Matches reports whether a base-relative path is selected by the source.
func (s Source) Matches(p string) bool {
	p = normalizePattern(p)
	for _, o := range s.Ordered {
		if path.Clean(normalizePattern(o)) == p {
			return true
		}
	}
	if s.excluded(p) {
		return false
	}
	for _, pattern := range s.Patterns {
		if ok, _ := doublestar.Match(normalizePattern(pattern), p); ok {
			return true
		}
	}
	return false
}

func readRecord(fsys fs.FS, base, p string) (domain.FileRecord, error) {
	info, err := fs.Stat(fsys, p)
	if err != nil {
		return domain.FileRecord{}, &domain.IOError{Op: "stat", Path: filepath.Join(base, p), Err: err}
	}
	if info.IsDir() {
		return domain.FileRecord{}, &domain.IOError{Op: "read", Path: filepath.Join(base, p), Err: errors.New("is a directory")}
	}
	data, err := fs.ReadFile(fsys, p)
	if err != nil {
		return domain.FileRecord{}, &domain.IOError{Op: "read", Path: filepath.Join(base, p), Err: err}
	}
	return domain.NewRecord(p, data, info.ModTime()), nil
}
