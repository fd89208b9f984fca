package listenable

import (
	"sync"

	"github.com/vango-dev/herald/pkg/notify"
)

// Set is an unordered collection of distinct elements. Add and Remove notify
// listeners scoped to the element, and global listeners. The notified value
// is true for an addition and false for a removal.
type Set[T comparable] struct {
	ctrl *notify.Controller

	mu    sync.RWMutex
	items map[T]struct{}
	order []T
}

// NewSet creates a set holding items.
func NewSet[T comparable](items []T, opts ...notify.Option) *Set[T] {
	s := &Set[T]{
		ctrl:  notify.New(opts...),
		items: make(map[T]struct{}, len(items)),
	}
	for _, item := range items {
		if _, ok := s.items[item]; !ok {
			s.items[item] = struct{}{}
			s.order = append(s.order, item)
		}
	}
	return s
}

// Add inserts item and reports whether it was new.
func (s *Set[T]) Add(item T) bool {
	s.mu.Lock()
	if _, ok := s.items[item]; ok {
		s.mu.Unlock()
		return false
	}
	s.items[item] = struct{}{}
	s.order = append(s.order, item)
	s.mu.Unlock()

	s.ctrl.NotifyKey(item, true)
	return true
}

// Remove deletes item and reports whether it was present.
func (s *Set[T]) Remove(item T) bool {
	s.mu.Lock()
	if _, ok := s.items[item]; !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.items, item)
	for i, x := range s.order {
		if x == item {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	s.ctrl.NotifyKey(item, false)
	return true
}

// Has reports whether item is in the set.
func (s *Set[T]) Has(item T) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.items[item]
	return ok
}

// Len returns the number of elements.
func (s *Set[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Items returns the elements in insertion order.
func (s *Set[T]) Items() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]T(nil), s.order...)
}

// Controller returns the underlying controller.
func (s *Set[T]) Controller() *notify.Controller {
	return s.ctrl
}

// AddListener registers a listener on the set.
func (s *Set[T]) AddListener(l *notify.Listener, opts ...notify.ListenOption) {
	s.ctrl.AddListener(l, opts...)
}

// RemoveListener unregisters a listener from the set.
func (s *Set[T]) RemoveListener(l *notify.Listener, opts ...notify.ListenOption) {
	s.ctrl.RemoveListener(l, opts...)
}

// Name returns the controller name.
func (s *Set[T]) Name() string { return s.ctrl.Name() }

// Dispose releases every listener.
func (s *Set[T]) Dispose() { s.ctrl.Dispose() }

// IsDisposed reports whether the set has been disposed.
func (s *Set[T]) IsDisposed() bool { return s.ctrl.IsDisposed() }

var _ notify.Listenable = (*Set[string])(nil)
