package config

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Reload describes one applied configuration reload.
type Reload struct {
	// Config is the newly loaded configuration.
	Config Config

	// Dirty lists the sections that changed relative to the previous
	// configuration.
	Dirty []Section
}

// Handler receives reload notifications.
type Handler func(Reload)

// Watcher reloads a configuration file when it changes on disk.
//
// Editors commonly replace files by rename, so the watcher monitors the
// containing directory and filters by name. Rapid write bursts are
// debounced before reloading.
type Watcher struct {
	mu       sync.Mutex
	path     string
	current  Config
	handlers []Handler

	fsw      *fsnotify.Watcher
	debounce time.Duration
	log      *slog.Logger

	closed  bool
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets how long a change must be quiet before reloading.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWatcherLogger sets the watcher logger.
func WithWatcherLogger(log *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if log != nil {
			w.log = log
		}
	}
}

// NewWatcher starts watching the given configuration file. The initial
// configuration is the baseline for change diffs.
func NewWatcher(path string, initial Config, opts ...WatcherOption) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(absPath)); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		path:     absPath,
		current:  initial,
		fsw:      fsw,
		debounce: 100 * time.Millisecond,
		log:      slog.Default(),
		closeCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	w.wg.Add(1)
	go w.loop()

	return w, nil
}

// OnReload registers a handler for configuration reloads. Handlers run on
// the watcher goroutine.
func (w *Watcher) OnReload(h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, h)
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	w.mu.Unlock()

	err := w.fsw.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case <-w.closeCh:
			if timer != nil {
				timer.Stop()
			}
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(ev) {
				continue
			}
			// Restart the quiet-period timer on every relevant event.
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerCh = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}

		case <-timerCh:
			timerCh = nil
			timer = nil
			w.reload()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watch error", "error", err)
		}
	}
}

// relevant reports whether an fsnotify event concerns the watched file.
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if ev.Name != w.path {
		return false
	}
	return ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Rename)
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		// A half-written or invalid file keeps the previous configuration.
		w.log.Warn("config reload failed, keeping previous", "path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	dirty := Diff(w.current, cfg)
	if len(dirty) == 0 {
		w.mu.Unlock()
		return
	}
	w.current = cfg
	handlers := make([]Handler, len(w.handlers))
	copy(handlers, w.handlers)
	w.mu.Unlock()

	w.log.Info("config reloaded", "path", w.path, "dirty", sectionNames(dirty))
	for _, h := range handlers {
		h(Reload{Config: cfg, Dirty: dirty})
	}
}

func sectionNames(sections []Section) []string {
	names := make([]string, len(sections))
	for i, s := range sections {
		names[i] = string(s)
	}
	return names
}
