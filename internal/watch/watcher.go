// Package watch reports debounced changes to a fixed set of files.
package watch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce groups bursts of writes (editors often write, chmod and
// rename a file in quick succession) into one event.
const DefaultDebounce = 300 * time.Millisecond

// WatchEvent is one debounced change. Op accumulates every operation seen
// for Path during the debounce window.
type WatchEvent struct {
	Path string
	Op   fsnotify.Op
}

// Watcher watches files by watching their parent directories, so a file
// replaced by rename keeps being watched.
type Watcher struct {
	logger         *log.Logger
	fs             *fsnotify.Watcher
	files          map[string]bool
	dirs           []string
	debounceWindow time.Duration

	events chan WatchEvent
	errors chan error

	mu      sync.Mutex
	pending map[string]fsnotify.Op
	timer   *time.Timer
	closed  bool

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewWatcher returns a Watcher for paths. The files need not exist yet but
// their directories must.
func NewWatcher(paths ...string) (*Watcher, error) {
	if len(paths) == 0 {
		return nil, errors.New("watch: no paths")
	}

	files := make(map[string]bool, len(paths))
	seenDir := make(map[string]bool)
	var dirs []string
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			return nil, errors.New("watch: empty path")
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("watch: resolving %s: %w", p, err)
		}
		files[abs] = true
		if dir := filepath.Dir(abs); !seenDir[dir] {
			seenDir[dir] = true
			dirs = append(dirs, dir)
		}
	}

	return &Watcher{
		logger:         log.Default(),
		files:          files,
		dirs:           dirs,
		debounceWindow: DefaultDebounce,
		events:         make(chan WatchEvent, 16),
		errors:         make(chan error, 1),
		pending:        make(map[string]fsnotify.Op),
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}, nil
}

// SetLogger replaces the default logger. Call before Start.
func (w *Watcher) SetLogger(logger *log.Logger) {
	if w != nil && logger != nil {
		w.logger = logger
	}
}

// Start begins watching. Events and Errors are closed when ctx is done or
// Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if w == nil {
		return errors.New("watch: nil watcher")
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: creating watcher: %w", err)
	}
	for _, dir := range w.dirs {
		if err := fs.Add(dir); err != nil {
			fs.Close()
			return fmt.Errorf("watch: adding %s: %w", dir, err)
		}
	}
	w.fs = fs

	go w.loop(ctx)
	return nil
}

// Events returns the debounced change events.
func (w *Watcher) Events() <-chan WatchEvent {
	if w == nil {
		ch := make(chan WatchEvent)
		close(ch)
		return ch
	}
	return w.events
}

// Errors returns watcher errors. Errors are dropped while one is unread.
func (w *Watcher) Errors() <-chan error {
	if w == nil {
		ch := make(chan error)
		close(ch)
		return ch
	}
	return w.errors
}

// Stop stops the watcher and waits for it to finish.
func (w *Watcher) Stop() error {
	if w == nil {
		return nil
	}
	w.stopOnce.Do(func() { close(w.stopCh) })
	if w.fs == nil {
		return nil
	}
	<-w.doneCh
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.doneCh)
	defer w.fs.Close()
	defer w.shutdown()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if w.isRelevant(ev.Name) {
				w.record(ev.Name, ev.Op)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.sendError(err)
		}
	}
}

func (w *Watcher) isRelevant(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	return w.files[abs]
}

func (w *Watcher) record(path string, op fsnotify.Op) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	w.pending[path] |= op
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounceWindow, w.flush)
}

// flush emits the pending events. Sends never block, so it holds mu
// throughout and cannot race shutdown closing the channel.
func (w *Watcher) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	pending := w.pending
	w.pending = make(map[string]fsnotify.Op)
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	if w.closed {
		return
	}

	for path, op := range pending {
		select {
		case w.events <- WatchEvent{Path: path, Op: op}:
		default:
			w.logger.Warn("dropping file event, consumer is behind", "path", path)
		}
	}
}

func (w *Watcher) shutdown() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	close(w.events)
	close(w.errors)
}

func (w *Watcher) sendError(err error) {
	if err == nil {
		return
	}
	select {
	case w.errors <- err:
	default:
	}
}
