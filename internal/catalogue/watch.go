package catalogue

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultReloadDebounce = 300 * time.Millisecond

// Watcher reloads a catalogue when manifests or scripts below its root
// change. A reload that fails keeps the previous content.
type Watcher struct {
	root      string
	catalogue *Catalogue
	logger    *slog.Logger
	debounce  time.Duration

	// reloaded is signalled after every reload attempt, used by tests.
	reloaded func(error)
}

func NewWatcher(root string, catalogue *Catalogue, logger *slog.Logger) *Watcher {
	return &Watcher{
		root:      root,
		catalogue: catalogue,
		logger:    logger.With("component", "catalogue-watcher"),
		debounce:  defaultReloadDebounce,
	}
}

// Run watches the catalogue directory until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create catalogue watcher: %w", err)
	}
	defer watcher.Close()

	if err := addWatchRecursive(watcher, w.root); err != nil {
		return fmt.Errorf("failed to watch catalogue directory %q: %w", w.root, err)
	}
	w.logger.InfoContext(ctx, "watching catalogue", slog.String("root", w.root))

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	defer func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				// new benchmark directories are not covered by the existing watches
				_ = addWatchRecursive(watcher, ev.Name)
			}
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() { w.reload(ctx) })
			mu.Unlock()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.ErrorContext(ctx, "catalogue watch error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	benchmarks, err := Load(w.root)
	if err != nil {
		w.logger.ErrorContext(ctx, "catalogue reload failed, keeping the previous content",
			slog.String("error", err.Error()))
	} else {
		w.catalogue.Replace(benchmarks)
		w.logger.InfoContext(ctx, "catalogue reloaded", slog.Int("benchmarks", len(benchmarks)))
	}
	if w.reloaded != nil {
		w.reloaded(err)
	}
}

func addWatchRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}
