// Package listenable provides collections that notify listeners when they
// change.
//
// Each collection composes a *notify.Controller. Structural changes (append,
// insert, remove, clear) run a global notification; element updates run a
// notification keyed by the element's index or map key, so listeners can
// scope themselves with notify.Key.
package listenable

import (
	"fmt"
	"sync"

	"github.com/vango-dev/herald/pkg/notify"
)

// List is an ordered collection that notifies on change.
type List[T any] struct {
	ctrl *notify.Controller

	mu    sync.RWMutex
	items []T
}

// NewList creates a list holding items.
func NewList[T any](items []T, opts ...notify.Option) *List[T] {
	return &List[T]{
		ctrl:  notify.New(opts...),
		items: append([]T(nil), items...),
	}
}

// Append adds items to the end of the list.
func (l *List[T]) Append(items ...T) {
	if len(items) == 0 {
		return
	}
	l.mu.Lock()
	l.items = append(l.items, items...)
	n := len(l.items)
	l.mu.Unlock()

	l.ctrl.NotifyValue(n)
}

// Insert places item at index i. i may equal Len().
func (l *List[T]) Insert(i int, item T) error {
	l.mu.Lock()
	if i < 0 || i > len(l.items) {
		n := len(l.items)
		l.mu.Unlock()
		return fmt.Errorf("listenable: insert index %d out of range [0,%d]", i, n)
	}
	var zero T
	l.items = append(l.items, zero)
	copy(l.items[i+1:], l.items[i:])
	l.items[i] = item
	n := len(l.items)
	l.mu.Unlock()

	l.ctrl.NotifyValue(n)
	return nil
}

// Set replaces the element at index i and notifies listeners keyed by i.
func (l *List[T]) Set(i int, item T) error {
	l.mu.Lock()
	if i < 0 || i >= len(l.items) {
		n := len(l.items)
		l.mu.Unlock()
		return fmt.Errorf("listenable: index %d out of range [0,%d)", i, n)
	}
	l.items[i] = item
	l.mu.Unlock()

	l.ctrl.NotifyKey(i, item)
	return nil
}

// RemoveAt removes and returns the element at index i.
func (l *List[T]) RemoveAt(i int) (T, error) {
	var zero T
	l.mu.Lock()
	if i < 0 || i >= len(l.items) {
		n := len(l.items)
		l.mu.Unlock()
		return zero, fmt.Errorf("listenable: index %d out of range [0,%d)", i, n)
	}
	item := l.items[i]
	l.items = append(l.items[:i:i], l.items[i+1:]...)
	n := len(l.items)
	l.mu.Unlock()

	l.ctrl.NotifyValue(n)
	return item, nil
}

// Clear removes every element. Clearing an empty list does not notify.
func (l *List[T]) Clear() {
	l.mu.Lock()
	if len(l.items) == 0 {
		l.mu.Unlock()
		return
	}
	l.items = nil
	l.mu.Unlock()

	l.ctrl.NotifyValue(0)
}

// Len returns the number of elements.
func (l *List[T]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// At returns the element at index i.
func (l *List[T]) At(i int) (T, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if i < 0 || i >= len(l.items) {
		var zero T
		return zero, false
	}
	return l.items[i], true
}

// Items returns a copy of the elements.
func (l *List[T]) Items() []T {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]T(nil), l.items...)
}

// Controller returns the underlying controller.
func (l *List[T]) Controller() *notify.Controller {
	return l.ctrl
}

// AddListener registers a listener on the list.
func (l *List[T]) AddListener(listener *notify.Listener, opts ...notify.ListenOption) {
	l.ctrl.AddListener(listener, opts...)
}

// RemoveListener unregisters a listener from the list.
func (l *List[T]) RemoveListener(listener *notify.Listener, opts ...notify.ListenOption) {
	l.ctrl.RemoveListener(listener, opts...)
}

// Name returns the controller name.
func (l *List[T]) Name() string { return l.ctrl.Name() }

// Dispose releases every listener.
func (l *List[T]) Dispose() { l.ctrl.Dispose() }

// IsDisposed reports whether the list has been disposed.
func (l *List[T]) IsDisposed() bool { return l.ctrl.IsDisposed() }

var _ notify.Listenable = (*List[int])(nil)
