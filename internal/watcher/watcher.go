// Package watcher observes song library directories and reports songs whose
// files appeared or changed, so detections can be scheduled without manual
// rescans. Events are debounced per song file: copying a large MP3 into a
// library emits a burst of writes, and only the settled file is worth
// analysing.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vocalgap/vocalgap/internal/observe"
)

// Config tunes a [Watcher]. Zero fields take defaults.
type Config struct {
	// Dirs are the song library roots. Subdirectories are watched too;
	// UltraStar libraries keep one directory per song.
	Dirs []string

	// Debounce is how long a song file must stay quiet before it is
	// reported. Default 2 seconds.
	Debounce time.Duration

	// OnSong is called with the song text file path once its burst of
	// events has settled. Required.
	OnSong func(path string)

	// Metrics records the watched-song gauge. Nil disables recording.
	Metrics *observe.Metrics
}

// Watcher reports new and changed song files under a set of library roots.
type Watcher struct {
	cfg Config
	fsw *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]*time.Timer
	songs   map[string]struct{}
}

// New creates a Watcher and registers every directory under the configured
// roots. Roots that do not exist are skipped with a warning so one unmounted
// library does not take the service down.
func New(cfg Config) (*Watcher, error) {
	if cfg.OnSong == nil {
		return nil, fmt.Errorf("watcher: OnSong callback is required")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 2 * time.Second
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: create: %w", err)
	}

	w := &Watcher{
		cfg:     cfg,
		fsw:     fsw,
		pending: make(map[string]*time.Timer),
		songs:   make(map[string]struct{}),
	}

	for _, dir := range cfg.Dirs {
		if err := w.addTree(dir); err != nil {
			slog.Warn("watcher: skipping library root", "dir", dir, "err", err)
		}
	}
	return w, nil
}

// Run processes file events until ctx is cancelled. It blocks; call it in a
// goroutine. Pending debounce timers are dropped on shutdown.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()
	defer w.cancelPending()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watcher: event stream error", "err", err)
		}
	}
}

// Songs returns the song files seen so far, for a startup scan consumer.
func (w *Watcher) Songs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.songs))
	for s := range w.songs {
		out = append(out, s)
	}
	return out
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	// New directories join the watch so song folders created after startup
	// are covered.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				slog.Warn("watcher: cannot watch new directory", "dir", event.Name, "err", err)
			}
			return
		}
	}

	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}
	if !isSongFile(event.Name) {
		return
	}

	path := event.Name
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, known := w.songs[path]; !known {
		w.songs[path] = struct{}{}
		if w.cfg.Metrics != nil {
			w.cfg.Metrics.WatchedSongs.Add(ctx, 1)
		}
	}

	// Reset the debounce timer for this song.
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.cfg.Debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.cfg.OnSong(path)
	})
}

// addTree registers dir and all its subdirectories, and seeds the song set
// with files already present.
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.fsw.Add(path)
		}
		if isSongFile(path) {
			w.mu.Lock()
			if _, known := w.songs[path]; !known {
				w.songs[path] = struct{}{}
				if w.cfg.Metrics != nil {
					w.cfg.Metrics.WatchedSongs.Add(context.Background(), 1)
				}
			}
			w.mu.Unlock()
		}
		return nil
	})
}

func (w *Watcher) cancelPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}

// isSongFile matches UltraStar song text files.
func isSongFile(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".txt")
}
