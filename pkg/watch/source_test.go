package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, w *FSWatcher, path string) Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-w.Events():
			if ev.Path == path {
				return ev
			}
		case <-deadline:
			t.Fatalf("no event for %s", path)
		}
	}
}

func TestFSWatcher_ReportsRelativePaths(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "app/scss"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules/pkg"), 0755))

	w, err := NewFSWatcher(root, nil)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(root, "app/scss/main.scss"), []byte("a{}"), 0644))
	ev := waitFor(t, w, "app/scss/main.scss")
	require.NotZero(t, ev.Op)
}

func TestFSWatcher_WatchesNewDirectories(t *testing.T) {
	root := t.TempDir()
	w, err := NewFSWatcher(root, nil)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.MkdirAll(filepath.Join(root, "app/images"), 0755))
	// Give the watcher a moment to register the new tree.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(root, "app/images/logo.png"), []byte("png"), 0644))

	waitFor(t, w, "app/images/logo.png")
}

func TestFSWatcher_CloseIsIdempotent(t *testing.T) {
	w, err := NewFSWatcher(t.TempDir(), nil)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	_, ok := <-w.Events()
	require.False(t, ok)
}
