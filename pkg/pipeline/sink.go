package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aretw0/kiln/pkg/domain"
	"github.com/aretw0/kiln/pkg/ports"
)

// Sink consumes the final records of a pipeline.
type Sink interface {
	Name() string
	Write(ctx context.Context, records []domain.FileRecord) error
}

// ErrOutsideDest is returned by Dest for record paths that would land outside Dir.
var ErrOutsideDest = errors.New("path escapes destination directory")

// Dest writes records under Dir, creating directories as needed. Files whose
// bytes are already identical are left untouched.
type Dest struct {
	Dir  string
	Mode os.FileMode
}

func (d Dest) Name() string { return "dest" }

func (d Dest) Write(ctx context.Context, records []domain.FileRecord) error {
	mode := d.Mode
	if mode == 0 {
		mode = 0644
	}
	for _, rec := range records {
		if !filepath.IsLocal(filepath.FromSlash(rec.Path)) {
			return &domain.IOError{Op: "write", Path: rec.Path, Err: ErrOutsideDest}
		}
	}
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		target := filepath.Join(d.Dir, filepath.FromSlash(rec.Path))
		if existing, err := os.ReadFile(target); err == nil && bytes.Equal(existing, rec.Content) {
			continue
		}
		if err := writeFileAtomic(target, rec.Content, mode); err != nil {
			return &domain.IOError{Op: "write", Path: target, Err: err}
		}
	}
	return nil
}

func writeFileAtomic(target string, data []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Chmod(name, mode); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, target); err != nil {
		os.Remove(name)
		return err
	}
	return nil
}

// Broadcast pushes a signal listing the written paths.
type Broadcast struct {
	Broadcaster ports.Broadcaster
	Kind        domain.SignalKind
}

func (b Broadcast) Name() string { return "broadcast" }

func (b Broadcast) Write(_ context.Context, records []domain.FileRecord) error {
	if b.Broadcaster == nil {
		return nil
	}
	kind := b.Kind
	if kind == "" {
		kind = domain.SignalFullReload
	}
	paths := make([]string, len(records))
	for i, rec := range records {
		paths[i] = rec.Path
	}
	b.Broadcaster.Broadcast(domain.Signal{Kind: kind, Paths: paths})
	return nil
}

// Notify logs a completion message.
type Notify struct {
	Logger  *slog.Logger
	Message string
}

func (n Notify) Name() string { return "notify" }

func (n Notify) Write(_ context.Context, records []domain.FileRecord) error {
	if n.Logger == nil {
		return nil
	}
	msg := n.Message
	if msg == "" {
		msg = "Pipeline done"
	}
	n.Logger.Info(msg, "files", len(records))
	return nil
}

// Clean removes output directories. It satisfies the task runner contract.
type Clean struct {
	Dirs []string
}

func (c Clean) Run(ctx context.Context) error {
	for _, dir := range c.Dirs {
		if err := ctx.Err(); err != nil {
			return err
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			return &domain.IOError{Op: "clean", Path: dir, Err: err}
		}
		if abs == filepath.Dir(abs) {
			return &domain.IOError{Op: "clean", Path: dir, Err: fmt.Errorf("refusing to remove filesystem root")}
		}
		if err := os.RemoveAll(abs); err != nil {
			return &domain.IOError{Op: "clean", Path: dir, Err: err}
		}
	}
	return nil
}
