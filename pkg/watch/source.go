package watch

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Op describes a filesystem change.
type Op uint8

const (
	OpCreate Op = 1 << iota
	OpWrite
	OpRemove
	OpRename
)

func (o Op) String() string {
	var parts []string
	if o&OpCreate != 0 {
		parts = append(parts, "create")
	}
	if o&OpWrite != 0 {
		parts = append(parts, "write")
	}
	if o&OpRemove != 0 {
		parts = append(parts, "remove")
	}
	if o&OpRename != 0 {
		parts = append(parts, "rename")
	}
	return strings.Join(parts, "|")
}

// Event is a change to a path relative to the watched root, slash-separated.
type Event struct {
	Path      string
	Op        Op
	Timestamp time.Time
}

// EventSource produces filesystem events.
type EventSource interface {
	Events() <-chan Event
	Errors() <-chan error
	Close() error
}

// DefaultIgnore lists directory names never watched.
var DefaultIgnore = []string{".git", ".kiln", "node_modules"}

// FSWatcher watches a directory tree recursively with fsnotify. Directories
// created later are added automatically.
type FSWatcher struct {
	root    string
	watcher *fsnotify.Watcher
	ignore  map[string]bool

	events chan Event
	errors chan error

	closeOnce sync.Once
	closeCh   chan struct{}
	wg        sync.WaitGroup
}

// NewFSWatcher starts watching root. ignore names directories to skip in
// addition to hidden ones; nil means DefaultIgnore.
func NewFSWatcher(root string, ignore []string) (*FSWatcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if ignore == nil {
		ignore = DefaultIgnore
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &FSWatcher{
		root:    abs,
		watcher: fsw,
		ignore:  make(map[string]bool, len(ignore)),
		events:  make(chan Event, 256),
		errors:  make(chan error, 16),
		closeCh: make(chan struct{}),
	}
	for _, name := range ignore {
		w.ignore[name] = true
	}
	if err := w.addTree(abs); err != nil {
		fsw.Close()
		return nil, err
	}

	w.wg.Add(1)
	go w.loop()
	return w, nil
}

func (w *FSWatcher) skipDir(p string) bool {
	if p == w.root {
		return false
	}
	base := filepath.Base(p)
	return w.ignore[base] || strings.HasPrefix(base, ".")
}

func (w *FSWatcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.skipDir(p) {
			return filepath.SkipDir
		}
		return w.watcher.Add(p)
	})
}

func (w *FSWatcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.closeCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.sendError(err)
		}
	}
}

func (w *FSWatcher) handle(ev fsnotify.Event) {
	var op Op
	if ev.Has(fsnotify.Create) {
		op |= OpCreate
	}
	if ev.Has(fsnotify.Write) {
		op |= OpWrite
	}
	if ev.Has(fsnotify.Remove) {
		op |= OpRemove
	}
	if ev.Has(fsnotify.Rename) {
		op |= OpRename
	}
	if op == 0 {
		return
	}

	if op&OpCreate != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if !w.skipDir(ev.Name) {
				if err := w.addTree(ev.Name); err != nil {
					w.sendError(err)
				}
			}
			return
		}
	}

	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}
	select {
	case w.events <- Event{Path: filepath.ToSlash(rel), Op: op, Timestamp: time.Now()}:
	default:
		w.sendError(errors.New("event channel full, dropping event"))
	}
}

func (w *FSWatcher) sendError(err error) {
	select {
	case w.errors <- err:
	default:
	}
}

// Events returns the event channel.
func (w *FSWatcher) Events() <-chan Event { return w.events }

// Errors returns the error channel.
func (w *FSWatcher) Errors() <-chan error { return w.errors }

// Close stops the watcher and closes both channels.
func (w *FSWatcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.closeCh)
		w.wg.Wait()
		err = w.watcher.Close()
		close(w.events)
		close(w.errors)
	})
	return err
}
