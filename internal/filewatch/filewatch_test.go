package filewatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWatcher struct {
	added  []string
	addErr error
	events chan fsnotify.Event
	errs   chan error
	closed chan struct{}
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{
		events: make(chan fsnotify.Event),
		errs:   make(chan error),
		closed: make(chan struct{}),
	}
}

func (f *fakeWatcher) Add(name string) error {
	f.added = append(f.added, name)
	return f.addErr
}

func (f *fakeWatcher) Close() error {
	close(f.closed)
	return nil
}

func (f *fakeWatcher) Events() <-chan fsnotify.Event { return f.events }
func (f *fakeWatcher) Errors() <-chan error          { return f.errs }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startFake(t *testing.T, path string) (*fakeWatcher, <-chan struct{}, context.CancelFunc) {
	t.Helper()

	fw := newFakeWatcher()
	w := &Watcher{
		Path:       path,
		Debounce:   10 * time.Millisecond,
		Logger:     quietLogger(),
		newWatcher: func() (FsWatcher, error) { return fw, nil },
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	ch, err := w.Watch(ctx)
	require.NoError(t, err)

	return fw, ch, cancel
}

func TestWatch_WatchesParentDirectory(t *testing.T) {
	fw, _, _ := startFake(t, "/data/export/rows.json")
	assert.Equal(t, []string{"/data/export"}, fw.added)
}

func TestWatch_SignalsAfterDebounce(t *testing.T) {
	fw, ch, _ := startFake(t, "/data/rows.json")

	fw.events <- fsnotify.Event{Name: "/data/rows.json", Op: fsnotify.Write}
	fw.events <- fsnotify.Event{Name: "/data/rows.json", Op: fsnotify.Write}

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("no change signaled")
	}

	select {
	case <-ch:
		t.Fatal("burst signaled twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWatch_IgnoresOtherFilesAndChmod(t *testing.T) {
	fw, ch, _ := startFake(t, "/data/rows.json")

	fw.events <- fsnotify.Event{Name: "/data/other.json", Op: fsnotify.Write}
	fw.events <- fsnotify.Event{Name: "/data/rows.json", Op: fsnotify.Chmod}

	select {
	case <-ch:
		t.Fatal("unexpected signal")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWatch_RenameCounts(t *testing.T) {
	assert.True(t, relevant(fsnotify.Event{Name: "/d/f.json", Op: fsnotify.Create}, "/d/f.json"))
	assert.True(t, relevant(fsnotify.Event{Name: "/d/./f.json", Op: fsnotify.Rename}, "/d/f.json"))
	assert.False(t, relevant(fsnotify.Event{Name: "/d/g.json", Op: fsnotify.Create}, "/d/f.json"))
}

func TestWatch_CancelClosesChannel(t *testing.T) {
	fw, ch, cancel := startFake(t, "/data/rows.json")
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed")
	}

	<-fw.closed
}

func TestWatch_AddError(t *testing.T) {
	fw := newFakeWatcher()
	fw.addErr = errors.New("no such directory")

	w := &Watcher{Path: "/missing/rows.json", newWatcher: func() (FsWatcher, error) { return fw, nil }}

	_, err := w.Watch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such directory")
	<-fw.closed
}

func TestWatch_RealFilesystem(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rows.json")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := &Watcher{Path: path, Debounce: 20 * time.Millisecond, Logger: quietLogger()}

	ch, err := w.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, writeFile(path, `[]`))

	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("no change signaled for real write")
	}
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o600)
}
