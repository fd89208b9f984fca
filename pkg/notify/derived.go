package notify

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrNilSource is returned by Derive when the source is nil.
var ErrNilSource = errors.New("notify: nil source")

// Derived is a read-only value computed from a source and kept in sync with
// it. It is itself Listenable, so derived values can be chained.
type Derived[T any] struct {
	ctrl *Controller

	mu      sync.RWMutex
	value   T
	prev    T
	hasPrev bool

	distinct    bool
	autoDispose bool
	equal       func(a, b T) bool

	// compute re-runs the selector against the source.
	compute func() (T, error)

	// checkPending is set while an auto-dispose check is scheduled.
	checkPending atomic.Bool
}

// DeriveOption configures Derive.
type DeriveOption func(*deriveConfig)

type deriveConfig struct {
	distinct    bool
	autoDispose bool
	equal       any
	ctrlOpts    []Option
}

// Distinct controls whether an unchanged value suppresses notification.
// The default is true.
func Distinct(distinct bool) DeriveOption {
	return func(c *deriveConfig) {
		c.distinct = distinct
	}
}

// AutoDispose controls whether the derived value disposes itself once its
// last listener is removed. The default is true.
func AutoDispose(autoDispose bool) DeriveOption {
	return func(c *deriveConfig) {
		c.autoDispose = autoDispose
	}
}

// Equals sets the equality used for distinct suppression. fn must be a
// func(a, b T) bool for the derived type T; other values are ignored.
func Equals[T any](fn func(a, b T) bool) DeriveOption {
	return func(c *deriveConfig) {
		c.equal = fn
	}
}

// DeriveWith passes controller options (name, sink, logger, observer,
// scheduler) to the derived value's own controller.
func DeriveWith(opts ...Option) DeriveOption {
	return func(c *deriveConfig) {
		c.ctrlOpts = append(c.ctrlOpts, opts...)
	}
}

// Derive creates a value computed by selector from source.
//
// The selector runs once immediately; if it panics, Derive returns a
// *SelectorError and nothing is subscribed. Afterwards it runs on every
// source notification. A panic there is reported to the error sink and the
// previous value is kept.
//
// Example:
//
//	positive, err := notify.Derive(counter, func(c *Counter) bool {
//	    return c.Count() > 0
//	})
//	if err != nil {
//	    return err
//	}
//	positive.AddListener(notify.Func(render))
func Derive[S Listenable, T any](source S, selector func(S) T, opts ...DeriveOption) (*Derived[T], error) {
	if isNil(source) || selector == nil {
		return nil, ErrNilSource
	}
	if d, ok := any(source).(Disposable); ok && d.IsDisposed() {
		return nil, ErrDisposed
	}

	cfg := deriveConfig{distinct: true, autoDispose: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	ctrlOpts := cfg.ctrlOpts
	if named, ok := any(source).(interface{ Name() string }); ok {
		ctrlOpts = append([]Option{WithName(named.Name() + ".derived")}, ctrlOpts...)
	}

	d := &Derived[T]{
		ctrl:        New(ctrlOpts...),
		distinct:    cfg.distinct,
		autoDispose: cfg.autoDispose,
	}
	if fn, ok := cfg.equal.(func(a, b T) bool); ok {
		d.equal = fn
	}
	d.compute = func() (T, error) {
		return evaluate(d.ctrl.name, source, selector, false)
	}

	initial, err := evaluate(d.ctrl.name, source, selector, true)
	if err != nil {
		d.ctrl.Dispose()
		return nil, err
	}
	d.value = initial

	relay := Func(d.sourceChanged)
	source.AddListener(relay)
	d.ctrl.OnDispose(func() {
		source.RemoveListener(relay)
	})

	return d, nil
}

// evaluate runs selector inside a recover boundary.
func evaluate[S any, T any](name string, source S, selector func(S) T, initial bool) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &SelectorError{
				Controller: name,
				Initial:    initial,
				Value:      r,
				Stack:      captureStack(),
			}
		}
	}()
	return selector(source), nil
}

// sourceChanged recomputes and republishes the value.
func (d *Derived[T]) sourceChanged() {
	if d.ctrl.IsDisposed() {
		return
	}

	next, err := d.compute()
	if err != nil {
		d.ctrl.sink.ReportError(err)
		return
	}

	changed, err := d.store(next)
	if err != nil {
		d.ctrl.sink.ReportError(err)
		return
	}
	if changed {
		d.ctrl.NotifyValue(next)
	}
}

// store replaces the value with next unless distinct and equal. A panicking
// equality function is returned as a SelectorError and keeps the old value.
func (d *Derived[T]) store(next T) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.distinct {
		same, panicked := safeEquals(d.equals, d.value, next)
		if panicked != nil {
			return false, &SelectorError{
				Controller: d.ctrl.Name(),
				Value:      panicked,
				Stack:      captureStack(),
			}
		}
		if same {
			return false, nil
		}
	}
	d.prev = d.value
	d.hasPrev = true
	d.value = next
	return true, nil
}

func (d *Derived[T]) equals(a, b T) bool {
	if d.equal != nil {
		return d.equal(a, b)
	}
	return defaultEquals(a, b)
}

// Value returns the current value.
func (d *Derived[T]) Value() T {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.value
}

// PrevValue returns the value before the last change, or the zero value if
// the value has not changed yet.
func (d *Derived[T]) PrevValue() T {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.prev
}

// HasPrevValue reports whether the value has changed at least once.
func (d *Derived[T]) HasPrevValue() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.hasPrev
}

// AddListener registers l. Adding a listener while an auto-dispose check is
// pending keeps the derived value alive.
func (d *Derived[T]) AddListener(l *Listener, opts ...ListenOption) {
	d.ctrl.AddListener(l, opts...)
}

// RemoveListener unregisters l. Removing the last listener of an
// auto-disposing value schedules a dispose check.
func (d *Derived[T]) RemoveListener(l *Listener, opts ...ListenOption) {
	d.ctrl.RemoveListener(l, opts...)
	if !d.autoDispose || d.ctrl.IsDisposed() || d.ctrl.HasListeners() {
		return
	}
	if d.checkPending.CompareAndSwap(false, true) {
		d.ctrl.scheduler.Defer(d.disposeIfUnused)
	}
}

// Listen registers l and returns its remover.
func (d *Derived[T]) Listen(l *Listener, opts ...ListenOption) func() {
	d.AddListener(l, opts...)
	return sync.OnceFunc(func() {
		d.RemoveListener(l, opts...)
	})
}

func (d *Derived[T]) disposeIfUnused() {
	d.checkPending.Store(false)
	if !d.ctrl.HasListeners() {
		d.Dispose()
	}
}

// Dispose detaches from the source and releases every listener. It is safe
// when the source is already disposed.
func (d *Derived[T]) Dispose() {
	d.ctrl.Dispose()
}

// IsDisposed reports whether the derived value has been disposed.
func (d *Derived[T]) IsDisposed() bool {
	return d.ctrl.IsDisposed()
}

// Name returns the name of the derived value's controller.
func (d *Derived[T]) Name() string {
	return d.ctrl.Name()
}

// HasListeners reports whether any listener is registered.
func (d *Derived[T]) HasListeners() bool {
	return d.ctrl.HasListeners()
}

// ListenersCount returns the number of registrations.
func (d *Derived[T]) ListenersCount() int {
	return d.ctrl.ListenersCount()
}

var _ Listenable = (*Derived[int])(nil)
var _ Disposable = (*Derived[int])(nil)
