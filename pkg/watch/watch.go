// Package watch binds refresh callbacks to Listenables for the lifetime of a
// context, and keeps a registry of the live bindings.
//
// A Watcher is the unit of subscription used by long-lived consumers such as
// websocket connections: it attaches one listener, and removes it when the
// watcher is closed or its context ends.
//
//	w := watch.Bind(ctx, cart, func() { push(cart.Snapshot()) },
//	    watch.WithLabel("ws"),
//	    watch.WithKeys("total"),
//	)
//	defer w.Close()
package watch

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/vango-dev/herald/pkg/notify"
)

// Registry tracks live watchers. The zero value is not usable; create one
// with NewRegistry.
type Registry struct {
	mu       sync.Mutex
	watchers map[uuid.UUID]*Watcher
	closed   bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{watchers: make(map[uuid.UUID]*Watcher)}
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the registry used when Bind gets no WithRegistry
// option.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Track adds w to the registry. It reports false if the registry is closed.
func (r *Registry) Track(w *Watcher) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.watchers[w.id] = w
	return true
}

func (r *Registry) untrack(w *Watcher) {
	r.mu.Lock()
	delete(r.watchers, w.id)
	r.mu.Unlock()
}

// Counts returns the number of live watchers per label.
func (r *Registry) Counts() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[string]int)
	for _, w := range r.watchers {
		counts[w.label]++
	}
	return counts
}

// Total returns the number of live watchers.
func (r *Registry) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.watchers)
}

// Watchers returns the live watchers sorted by label, then by creation.
func (r *Registry) Watchers() []*Watcher {
	r.mu.Lock()
	list := make([]*Watcher, 0, len(r.watchers))
	for _, w := range r.watchers {
		list = append(list, w)
	}
	r.mu.Unlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].label != list[j].label {
			return list[i].label < list[j].label
		}
		return list[i].seq < list[j].seq
	})
	return list
}

// Reset closes every watcher and leaves the registry open. Intended for tests.
func (r *Registry) Reset() {
	for _, w := range r.snapshot() {
		w.Close()
	}
}

// Close closes every watcher and rejects new ones.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.Reset()
}

func (r *Registry) snapshot() []*Watcher {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := make([]*Watcher, 0, len(r.watchers))
	for _, w := range r.watchers {
		list = append(list, w)
	}
	return list
}

// Watcher is a refresh callback bound to a Listenable.
type Watcher struct {
	id    uuid.UUID
	seq   uint64
	label string
	keys  []any

	source   notify.Listenable
	listener *notify.Listener
	registry *Registry
	logger   *slog.Logger

	closeOnce sync.Once
	done      chan struct{}

	mu   sync.Mutex
	stop func() bool
}

// Option configures Bind.
type Option func(*bindConfig)

type bindConfig struct {
	registry *Registry
	label    string
	keys     []any
	priority int
	logger   *slog.Logger
}

// WithRegistry tracks the watcher in r instead of the default registry.
func WithRegistry(r *Registry) Option {
	return func(c *bindConfig) {
		c.registry = r
	}
}

// WithLabel groups the watcher under label in Registry.Counts.
func WithLabel(label string) Option {
	return func(c *bindConfig) {
		c.label = label
	}
}

// WithKeys scopes the watcher to notifications on keys.
func WithKeys(keys ...any) Option {
	return func(c *bindConfig) {
		c.keys = append(c.keys, keys...)
	}
}

// WithPriority sets the priority of the watcher's listener.
func WithPriority(p int) Option {
	return func(c *bindConfig) {
		c.priority = p
	}
}

// WithLogger sets the logger used for lifecycle records.
func WithLogger(logger *slog.Logger) Option {
	return func(c *bindConfig) {
		c.logger = logger
	}
}

var seqCounter atomic.Uint64

// Bind attaches refresh to source until the returned watcher is closed or
// ctx is done. A nil ctx never ends.
func Bind(ctx context.Context, source notify.Listenable, refresh func(), opts ...Option) *Watcher {
	if refresh == nil {
		refresh = func() {}
	}
	return bind(ctx, source, notify.Func(refresh), opts)
}

// BindKeyValue is Bind for callbacks that need the notified key and value.
func BindKeyValue(ctx context.Context, source notify.Listenable, fn func(key, value any), opts ...Option) *Watcher {
	if fn == nil {
		fn = func(any, any) {}
	}
	return bind(ctx, source, notify.KeyValueFunc(fn), opts)
}

func bind(ctx context.Context, source notify.Listenable, l *notify.Listener, opts []Option) *Watcher {
	cfg := bindConfig{label: "default"}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.registry == nil {
		cfg.registry = defaultRegistry
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	w := &Watcher{
		id:       uuid.New(),
		seq:      seqCounter.Add(1),
		label:    cfg.label,
		keys:     cfg.keys,
		source:   source,
		listener: l,
		registry: cfg.registry,
		logger:   cfg.logger,
		done:     make(chan struct{}),
	}

	if !w.registry.Track(w) {
		w.closeOnce.Do(func() { close(w.done) })
		return w
	}
	source.AddListener(w.listener, w.listenOptions(cfg.priority)...)

	if ctx != nil {
		stop := context.AfterFunc(ctx, w.Close)
		w.mu.Lock()
		w.stop = stop
		w.mu.Unlock()
	}
	w.logger.Debug("Watcher bound", slog.String("watcher", w.id.String()), slog.String("label", w.label))
	return w
}

func (w *Watcher) listenOptions(priority int) []notify.ListenOption {
	var opts []notify.ListenOption
	if priority != 0 {
		opts = append(opts, notify.Priority(priority))
	}
	if len(w.keys) > 0 {
		opts = append(opts, notify.Keys(w.keys...))
	}
	return opts
}

// ID returns the watcher's unique identifier.
func (w *Watcher) ID() uuid.UUID {
	return w.id
}

// Label returns the watcher's label.
func (w *Watcher) Label() string {
	return w.label
}

// Done is closed once the watcher has been closed.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

// Close detaches the watcher from its source. It is safe to call more than
// once and from inside the refresh callback.
func (w *Watcher) Close() {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		stop := w.stop
		w.mu.Unlock()
		if stop != nil {
			stop()
		}
		if len(w.keys) > 0 {
			w.source.RemoveListener(w.listener, notify.Keys(w.keys...))
		}
		w.source.RemoveListener(w.listener)
		w.registry.untrack(w)
		close(w.done)
		w.logger.Debug("Watcher closed", slog.String("watcher", w.id.String()), slog.String("label", w.label))
	})
}
