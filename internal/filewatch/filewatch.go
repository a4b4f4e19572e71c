// Package filewatch signals when a single file changes on disk. It watches
// the parent directory rather than the file so that editors and exporters
// that replace the file by rename are still noticed.
package filewatch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period after the last event before a change
// is signaled. Exporters often write a file in several bursts.
const DefaultDebounce = 2 * time.Second

// FsWatcher is the subset of *fsnotify.Watcher used here. Tests substitute
// a fake.
type FsWatcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWatcher struct {
	w *fsnotify.Watcher
}

func (f fsnotifyWatcher) Add(name string) error         { return f.w.Add(name) }
func (f fsnotifyWatcher) Close() error                  { return f.w.Close() }
func (f fsnotifyWatcher) Events() <-chan fsnotify.Event { return f.w.Events }
func (f fsnotifyWatcher) Errors() <-chan error          { return f.w.Errors }

func newFsnotifyWatcher() (FsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return fsnotifyWatcher{w: w}, nil
}

// Watcher reports changes to Path.
type Watcher struct {
	Path     string
	Debounce time.Duration // 0 means DefaultDebounce
	Logger   *slog.Logger

	newWatcher func() (FsWatcher, error)
}

// Watch starts watching and returns a channel that receives one value per
// debounced burst of changes. Signals are coalesced: a slow consumer sees
// at most one pending signal. The channel is closed when ctx is canceled.
func (w *Watcher) Watch(ctx context.Context) (<-chan struct{}, error) {
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}

	debounce := w.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	newWatcher := w.newWatcher
	if newWatcher == nil {
		newWatcher = newFsnotifyWatcher
	}

	target, err := filepath.Abs(w.Path)
	if err != nil {
		return nil, fmt.Errorf("filewatch: resolving %s: %w", w.Path, err)
	}

	fw, err := newWatcher()
	if err != nil {
		return nil, fmt.Errorf("filewatch: creating watcher: %w", err)
	}

	if err := fw.Add(filepath.Dir(target)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("filewatch: watching %s: %w", filepath.Dir(target), err)
	}

	out := make(chan struct{}, 1)

	go loop(ctx, fw, target, debounce, logger, out)

	return out, nil
}

func loop(ctx context.Context, fw FsWatcher, target string, debounce time.Duration, logger *slog.Logger, out chan<- struct{}) {
	defer close(out)
	defer fw.Close()

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-fw.Events():
			if !ok {
				return
			}

			if !relevant(ev, target) {
				continue
			}

			logger.Debug("source file event",
				slog.String("path", ev.Name),
				slog.String("op", ev.Op.String()),
			)

			timer.Reset(debounce)

		case err, ok := <-fw.Errors():
			if !ok {
				return
			}

			logger.Warn("file watcher error", slog.String("error", err.Error()))

		case <-timer.C:
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}
}

// relevant reports whether ev concerns the watched file. Pure permission
// changes are ignored.
func relevant(ev fsnotify.Event, target string) bool {
	if filepath.Clean(ev.Name) != target {
		return false
	}

	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Remove)
}
