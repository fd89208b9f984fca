// Package filesource turns filesystem changes into keyed notifications.
//
// A Source owns a notify.Controller and an fsnotify watcher. Every watched
// path is a key: listeners registered with notify.Key(path) run when that
// path changes, global listeners run for every change. Bursts of events on
// the same path are coalesced by a debounce window.
//
//	src, err := filesource.New(filesource.WithDebounce(50 * time.Millisecond))
//	src.Add("herald.yaml")
//	src.AddListener(notify.ValueFunc(reload), notify.Key(src.Key("herald.yaml")))
//	go src.Serve(ctx)
package filesource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vango-dev/herald/pkg/notify"
)

const defaultDebounce = 100 * time.Millisecond

// ErrClosed is returned when adding a path to a closed Source.
var ErrClosed = errors.New("filesource: closed")

// Event is the value delivered with each change notification.
type Event struct {
	Path string    `json:"path"`
	Op   string    `json:"op"`
	Time time.Time `json:"time"`
}

// Source publishes debounced file changes through a controller.
type Source struct {
	*notify.Controller

	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *slog.Logger
	name     string
	ctrlOpts []notify.Option

	mu      sync.Mutex
	paths   map[string]struct{}
	pending map[string]*pendingEvent
	closed  bool

	done      chan struct{}
	closeOnce sync.Once

	delivered atomic.Uint64
	coalesced atomic.Uint64
}

type pendingEvent struct {
	timer *time.Timer
	event Event
}

// Option configures a Source.
type Option func(*Source)

// WithDebounce sets the coalescing window. Zero or negative keeps the default.
func WithDebounce(d time.Duration) Option {
	return func(s *Source) {
		if d > 0 {
			s.debounce = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Source) {
		s.logger = logger
	}
}

// WithName names the underlying controller. Default: "files".
func WithName(name string) Option {
	return func(s *Source) {
		s.name = name
	}
}

// WithNotifyOptions passes options to the underlying controller, such as an
// observer or scheduler.
func WithNotifyOptions(opts ...notify.Option) Option {
	return func(s *Source) {
		s.ctrlOpts = append(s.ctrlOpts, opts...)
	}
}

// New creates a Source and starts its event forwarder.
func New(opts ...Option) (*Source, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("filesource: %w", err)
	}
	s := &Source{
		watcher:  w,
		debounce: defaultDebounce,
		name:     "files",
		paths:    make(map[string]struct{}),
		pending:  make(map[string]*pendingEvent),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	ctrlOpts := append([]notify.Option{notify.WithName(s.name), notify.WithLogger(s.logger)}, s.ctrlOpts...)
	s.Controller = notify.New(ctrlOpts...)
	s.Controller.OnDispose(func() { s.Close() })

	go s.run()
	return s, nil
}

// Key returns the notification key used for path.
func (s *Source) Key(path string) string {
	return clean(path)
}

// Add starts watching path. Adding a path twice is a no-op.
func (s *Source) Add(path string) error {
	p := clean(path)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.paths[p]; ok {
		return nil
	}
	if err := s.watcher.Add(p); err != nil {
		return fmt.Errorf("filesource: watch %s: %w", p, err)
	}
	s.paths[p] = struct{}{}
	s.logger.Debug("Watching path", slog.String("path", p))
	return nil
}

// Remove stops watching path.
func (s *Source) Remove(path string) error {
	p := clean(path)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.paths[p]; !ok {
		return nil
	}
	delete(s.paths, p)
	if pe, ok := s.pending[p]; ok {
		pe.timer.Stop()
		delete(s.pending, p)
	}
	if s.closed {
		return nil
	}
	return s.watcher.Remove(p)
}

// Paths returns the watched paths, sorted.
func (s *Source) Paths() []string {
	s.mu.Lock()
	out := make([]string, 0, len(s.paths))
	for p := range s.paths {
		out = append(out, p)
	}
	s.mu.Unlock()
	sort.Strings(out)
	return out
}

// Stats reports delivered notifications and events absorbed by debouncing.
func (s *Source) Stats() (delivered, coalesced uint64) {
	return s.delivered.Load(), s.coalesced.Load()
}

// Serve blocks until ctx is done or the source is closed, then closes it.
func (s *Source) Serve(ctx context.Context) error {
	select {
	case <-ctx.Done():
		s.Close()
		return ctx.Err()
	case <-s.done:
		return nil
	}
}

// String names the source as a supervised service.
func (s *Source) String() string {
	return "filesource:" + s.name
}

// Close stops watching and cancels pending notifications. The controller is
// left alive so existing listeners can still be removed.
func (s *Source) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		for p, pe := range s.pending {
			pe.timer.Stop()
			delete(s.pending, p)
		}
		s.mu.Unlock()

		close(s.done)
		err = s.watcher.Close()
	})
	return err
}

func (s *Source) run() {
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handle(ev)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("File watcher error", slog.Any("error", err))
		case <-s.done:
			return
		}
	}
}

func (s *Source) handle(ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod {
		return
	}
	key := s.keyFor(ev.Name)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || key == "" {
		return
	}

	entry := Event{Path: clean(ev.Name), Op: ev.Op.String(), Time: time.Now().UTC()}
	if pe, ok := s.pending[key]; ok {
		pe.event = entry
		pe.timer.Reset(s.debounce)
		s.coalesced.Add(1)
		return
	}
	s.pending[key] = &pendingEvent{
		event: entry,
		timer: time.AfterFunc(s.debounce, func() { s.flush(key) }),
	}
}

// keyFor maps an event path to its watched key: the path itself, or the
// watched directory containing it. Caller must not hold s.mu.
func (s *Source) keyFor(name string) string {
	p := clean(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.paths[p]; ok {
		return p
	}
	if dir := filepath.Dir(p); dir != p {
		if _, ok := s.paths[dir]; ok {
			return dir
		}
	}
	return ""
}

func (s *Source) flush(key string) {
	s.mu.Lock()
	pe, ok := s.pending[key]
	if !ok || s.closed {
		s.mu.Unlock()
		return
	}
	delete(s.pending, key)
	s.mu.Unlock()

	s.delivered.Add(1)
	s.NotifyKey(key, pe.event)
}

func clean(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
