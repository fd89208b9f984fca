package notify

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Listenable is the registration surface shared by controllers, derived
// values, merged controllers and any user-defined change notifier.
type Listenable interface {
	AddListener(l *Listener, opts ...ListenOption)
	RemoveListener(l *Listener, opts ...ListenOption)
}

// Disposable is implemented by Listenables that have a disposal lifecycle.
type Disposable interface {
	Dispose()
	IsDisposed() bool
}

// Notification describes a NotifyListeners call.
type Notification struct {
	// Keys restricts the notification to listeners registered under these
	// keys. Empty means a global notification. Each distinct key is a
	// separate pass.
	Keys []any

	// Value is passed to value-shaped listeners and predicates.
	Value any

	// ExcludeGlobal suppresses the global listeners for this call.
	ExcludeGlobal bool
}

// Controller is a change-notification hub.
//
// A Controller is created active and becomes disposed exactly once. Every
// method is a silent no-op after Dispose. Storage is guarded by a mutex that
// is never held while listeners run, so listeners may call back into the
// controller.
type Controller struct {
	id   uint64
	name string

	mu       sync.Mutex
	reg      *registry
	cleanups []func()

	disposed atomic.Bool

	sink      ErrorSink
	logger    *slog.Logger
	observer  Observer
	scheduler Scheduler
}

// Option configures a Controller.
type Option func(*Controller)

// WithName sets the name used in logs, errors and metrics.
func WithName(name string) Option {
	return func(c *Controller) {
		c.name = name
	}
}

// WithErrorSink sets where recovered listener panics are reported.
// The default logs them through the controller's logger.
func WithErrorSink(sink ErrorSink) Option {
	return func(c *Controller) {
		c.sink = sink
	}
}

// WithLogger sets the controller's logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithObserver attaches instrumentation.
func WithObserver(o Observer) Option {
	return func(c *Controller) {
		c.observer = o
	}
}

// WithScheduler sets the scheduler used for deferred work.
// The default is DefaultScheduler().
func WithScheduler(s Scheduler) Option {
	return func(c *Controller) {
		c.scheduler = s
	}
}

// New creates an active Controller with no listeners.
func New(opts ...Option) *Controller {
	c := &Controller{
		id:  nextID(),
		reg: newRegistry(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.name == "" {
		c.name = fmt.Sprintf("controller-%d", c.id)
	}
	if c.sink == nil {
		c.sink = &LogSink{Logger: c.logger}
	}
	if c.scheduler == nil {
		c.scheduler = DefaultScheduler()
	}
	return c
}

// ID returns the unique identifier for this controller.
func (c *Controller) ID() uint64 {
	return c.id
}

// Name returns the controller name.
func (c *Controller) Name() string {
	return c.name
}

// IsDisposed reports whether Dispose has been called.
func (c *Controller) IsDisposed() bool {
	return c.disposed.Load()
}

// Scheduler returns the scheduler used for deferred work.
func (c *Controller) Scheduler() Scheduler {
	return c.scheduler
}

// AddListener registers l.
//
// Without options l is a simple listener and adding it again is a no-op.
// Priority, Key, Keys and When make it a complex listener; adding the same
// listener under the same key again is also a no-op.
func (c *Controller) AddListener(l *Listener, opts ...ListenOption) {
	if l == nil || c.disposed.Load() {
		return
	}
	cfg := buildListenConfig(opts)

	c.mu.Lock()
	if c.disposed.Load() {
		c.mu.Unlock()
		return
	}
	added := c.reg.add(l, cfg)
	c.mu.Unlock()

	if added > 0 && c.observer != nil {
		c.observer.ListenersChanged(c.name, added)
	}
}

// RemoveListener unregisters l. Without a key it removes the simple
// registration and every global registration of l; with Key or Keys it
// removes the registrations under those keys. Other options are ignored.
func (c *Controller) RemoveListener(l *Listener, opts ...ListenOption) {
	if l == nil || c.disposed.Load() {
		return
	}
	cfg := buildListenConfig(opts)

	c.mu.Lock()
	removed := c.reg.remove(l, cfg.keys)
	c.mu.Unlock()

	if removed > 0 && c.observer != nil {
		c.observer.ListenersChanged(c.name, -removed)
	}
}

// Listen registers l and returns a function that removes it. Calling the
// returned function more than once has no further effect.
func (c *Controller) Listen(l *Listener, opts ...ListenOption) (cancel func()) {
	c.AddListener(l, opts...)
	return sync.OnceFunc(func() {
		c.RemoveListener(l, opts...)
	})
}

// Notify runs a global notification with a nil value.
func (c *Controller) Notify() {
	c.NotifyListeners(Notification{})
}

// NotifyValue runs a global notification carrying value.
func (c *Controller) NotifyValue(value any) {
	c.NotifyListeners(Notification{Value: value})
}

// NotifyKey runs a notification on key carrying value.
func (c *Controller) NotifyKey(key, value any) {
	c.NotifyListeners(Notification{Keys: []any{key}, Value: value})
}

// NotifyListeners dispatches n. Each distinct key in n.Keys runs its own
// pass over the listeners registered under it, merged with the global
// listeners unless n.ExcludeGlobal is set.
func (c *Controller) NotifyListeners(n Notification) {
	if c.disposed.Load() {
		return
	}

	turns.enter()
	defer turns.exit()

	keys := normalizeKeys(n.Keys)
	if len(keys) == 0 {
		c.pass(nil, false, n.Value, !n.ExcludeGlobal)
		return
	}
	for _, key := range keys {
		if c.disposed.Load() {
			return
		}
		c.pass(key, true, n.Value, !n.ExcludeGlobal)
	}
}

// HasListeners reports whether any listener is registered.
func (c *Controller) HasListeners() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reg.hasListeners()
}

// GlobalListenersCount returns the number of global registrations, simple
// and complex.
func (c *Controller) GlobalListenersCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reg.globalCount()
}

// KeyedListenersCount returns the number of registrations under key.
func (c *Controller) KeyedListenersCount(key any) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reg.keyedCount(key)
}

// ListenersCount returns the total number of registrations.
func (c *Controller) ListenersCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reg.size()
}

// OnDispose registers fn to run when the controller is disposed. Functions
// run in reverse registration order. If the controller is already disposed,
// fn runs immediately.
func (c *Controller) OnDispose(fn func()) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	if c.disposed.Load() {
		c.mu.Unlock()
		fn()
		return
	}
	c.cleanups = append(c.cleanups, fn)
	c.mu.Unlock()
}

// Dispose releases every listener and marks the controller disposed.
// It is safe to call more than once and from inside a listener; a pass in
// progress skips the listeners it has not reached yet.
func (c *Controller) Dispose() {
	c.mu.Lock()
	if c.disposed.Swap(true) {
		c.mu.Unlock()
		return
	}
	n := c.reg.size()
	c.reg.clear()
	cleanups := c.cleanups
	c.cleanups = nil
	c.mu.Unlock()

	if n > 0 && c.observer != nil {
		c.observer.ListenersChanged(c.name, -n)
	}
	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
	c.log().Debug("Controller disposed", slog.String("controller", c.name), slog.Int("released", n))
}

func (c *Controller) log() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	return slog.Default()
}

var _ Listenable = (*Controller)(nil)
var _ Disposable = (*Controller)(nil)
