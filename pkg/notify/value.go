package notify

import "sync"

// Value is an observable value. Set notifies the listeners with the new
// value when it differs from the current one.
type Value[T any] struct {
	ctrl *Controller

	// wmu serializes Set and Update so that fn never runs under mu.
	wmu sync.Mutex

	mu    sync.RWMutex
	value T

	// equal decides whether a Set changes the value. Nil uses defaultEquals.
	equal func(a, b T) bool
}

// NewValue creates a Value holding initial.
func NewValue[T any](initial T, opts ...Option) *Value[T] {
	return &Value[T]{
		ctrl:  New(opts...),
		value: initial,
	}
}

// WithEquals sets the equality function used by Set and Update.
func (v *Value[T]) WithEquals(fn func(a, b T) bool) *Value[T] {
	v.mu.Lock()
	v.equal = fn
	v.mu.Unlock()
	return v
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.value
}

// Set stores value and notifies if it changed. A panicking equality
// function is reported to the error sink as an EqualityError and leaves the
// value unchanged.
func (v *Value[T]) Set(value T) {
	v.Update(func(T) T { return value })
}

// Update replaces the value with fn(current) and notifies if it changed.
// fn may call Get but must not call Set or Update on v. A panic in fn
// propagates to the caller and leaves the value unchanged.
func (v *Value[T]) Update(fn func(T) T) {
	next, changed := v.swap(fn)
	if changed {
		v.ctrl.NotifyValue(next)
	}
}

func (v *Value[T]) swap(fn func(T) T) (next T, changed bool) {
	v.wmu.Lock()
	defer v.wmu.Unlock()

	v.mu.RLock()
	old, eq := v.value, v.equal
	v.mu.RUnlock()
	if eq == nil {
		eq = defaultEquals[T]
	}

	next = fn(old)
	same, panicked := safeEquals(eq, old, next)
	if panicked != nil {
		v.ctrl.sink.ReportError(&EqualityError{
			Controller: v.ctrl.Name(),
			Value:      panicked,
			Stack:      captureStack(),
		})
		return next, false
	}
	if same {
		return next, false
	}

	v.mu.Lock()
	v.value = next
	v.mu.Unlock()
	return next, true
}

// AddListener registers l. See Controller.AddListener.
func (v *Value[T]) AddListener(l *Listener, opts ...ListenOption) {
	v.ctrl.AddListener(l, opts...)
}

// RemoveListener unregisters l. See Controller.RemoveListener.
func (v *Value[T]) RemoveListener(l *Listener, opts ...ListenOption) {
	v.ctrl.RemoveListener(l, opts...)
}

// Listen registers l and returns its remover.
func (v *Value[T]) Listen(l *Listener, opts ...ListenOption) func() {
	return v.ctrl.Listen(l, opts...)
}

// Controller returns the underlying controller.
func (v *Value[T]) Controller() *Controller {
	return v.ctrl
}

// Name returns the controller name.
func (v *Value[T]) Name() string {
	return v.ctrl.Name()
}

// HasListeners reports whether any listener is registered.
func (v *Value[T]) HasListeners() bool {
	return v.ctrl.HasListeners()
}

// Dispose releases every listener.
func (v *Value[T]) Dispose() {
	v.ctrl.Dispose()
}

// IsDisposed reports whether Dispose has been called.
func (v *Value[T]) IsDisposed() bool {
	return v.ctrl.IsDisposed()
}
