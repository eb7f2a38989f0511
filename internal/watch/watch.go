// Package watch reloads the configuration file while the service runs and
// applies the settings that can change live.
package watch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/naturalspeech/naturalspeech/tts"
)

const defaultDebounce = 250 * time.Millisecond

// ErrWatching is returned by Start on a running watcher.
var ErrWatching = errors.New("already watching")

// LoadFunc reads the configuration again.
type LoadFunc func() (tts.Config, error)

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets how long writes must settle before a reload.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithLogger sets the watcher logger.
func WithLogger(l *log.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// Watcher calls onChange with the reloaded configuration whenever the file
// at path is written. Configurations that fail to load are logged and
// skipped.
type Watcher struct {
	path     string
	load     LoadFunc
	onChange func(tts.Config)
	debounce time.Duration
	logger   *log.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// New creates a watcher for the file at path.
func New(path string, load LoadFunc, onChange func(tts.Config), opts ...Option) *Watcher {
	w := &Watcher{
		path:     filepath.Clean(path),
		load:     load,
		onChange: onChange,
		debounce: defaultDebounce,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = log.Default().WithPrefix("watch")
	}
	return w
}

// Start watches until ctx is done or Close is called. The directory is
// watched rather than the file so editors that replace the file are seen.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		return ErrWatching
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return fmt.Errorf("failed to watch directory: %w", err)
	}

	w.watcher = fw
	w.done = make(chan struct{})
	w.logger.Debug("Watching config", "file", w.path)
	go w.loop(ctx, fw, w.done)
	return nil
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			fw.Close()
			return

		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.logger.Debug("fsnotify event", "file", event.Name, "event", event.Op)
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.reload()

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Debug("fsnotify error", "file", w.path, "err", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := w.load()
	if err != nil {
		w.logger.Error("Ignoring invalid config", "file", w.path, "err", err)
		return
	}
	w.logger.Info("Config reloaded", "file", w.path)
	w.onChange(cfg)
}

// Close stops watching and waits for the loop to exit.
func (w *Watcher) Close() error {
	w.mu.Lock()
	fw, done := w.watcher, w.done
	w.watcher = nil
	w.mu.Unlock()
	if fw == nil {
		return nil
	}
	err := fw.Close()
	<-done
	return err
}
