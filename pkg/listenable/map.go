package listenable

import (
	"sort"
	"sync"

	"github.com/vango-dev/herald/pkg/notify"
)

// Map is a keyed collection. Put and Delete notify listeners scoped to the
// affected key, and global listeners.
type Map[K comparable, V any] struct {
	ctrl *notify.Controller

	mu    sync.RWMutex
	items map[K]V
	equal func(a, b V) bool
}

// NewMap creates an empty map.
func NewMap[K comparable, V any](opts ...notify.Option) *Map[K, V] {
	return &Map[K, V]{
		ctrl:  notify.New(opts...),
		items: make(map[K]V),
	}
}

// WithEquals sets the equality used to skip no-op puts. Without it every
// Put notifies.
func (m *Map[K, V]) WithEquals(fn func(a, b V) bool) *Map[K, V] {
	m.mu.Lock()
	m.equal = fn
	m.mu.Unlock()
	return m
}

// Put stores value under key.
func (m *Map[K, V]) Put(key K, value V) {
	m.mu.Lock()
	old, existed := m.items[key]
	if existed && m.equal != nil && m.equal(old, value) {
		m.mu.Unlock()
		return
	}
	m.items[key] = value
	m.mu.Unlock()

	m.ctrl.NotifyKey(key, value)
}

// Delete removes key. It reports whether the key was present; a missing key
// does not notify.
func (m *Map[K, V]) Delete(key K) bool {
	m.mu.Lock()
	_, ok := m.items[key]
	delete(m.items, key)
	m.mu.Unlock()

	if ok {
		m.ctrl.NotifyKey(key, nil)
	}
	return ok
}

// Get returns the value stored under key.
func (m *Map[K, V]) Get(key K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	return v, ok
}

// Keys returns the keys. When K is a string or an integer type the keys are
// sorted.
func (m *Map[K, V]) Keys() []K {
	m.mu.RLock()
	keys := make([]K, 0, len(m.items))
	for k := range m.items {
		keys = append(keys, k)
	}
	m.mu.RUnlock()

	sortKeys(keys)
	return keys
}

// Len returns the number of entries.
func (m *Map[K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// Controller returns the underlying controller.
func (m *Map[K, V]) Controller() *notify.Controller {
	return m.ctrl
}

// AddListener registers a listener on the map.
func (m *Map[K, V]) AddListener(l *notify.Listener, opts ...notify.ListenOption) {
	m.ctrl.AddListener(l, opts...)
}

// RemoveListener unregisters a listener from the map.
func (m *Map[K, V]) RemoveListener(l *notify.Listener, opts ...notify.ListenOption) {
	m.ctrl.RemoveListener(l, opts...)
}

// Name returns the controller name.
func (m *Map[K, V]) Name() string { return m.ctrl.Name() }

// Dispose releases every listener.
func (m *Map[K, V]) Dispose() { m.ctrl.Dispose() }

// IsDisposed reports whether the map has been disposed.
func (m *Map[K, V]) IsDisposed() bool { return m.ctrl.IsDisposed() }

// sortKeys orders string and integer keys; other key types keep map order.
func sortKeys[K comparable](keys []K) {
	if len(keys) < 2 {
		return
	}
	switch any(keys[0]).(type) {
	case string:
		sort.Slice(keys, func(i, j int) bool {
			return any(keys[i]).(string) < any(keys[j]).(string)
		})
	case int:
		sort.Slice(keys, func(i, j int) bool {
			return any(keys[i]).(int) < any(keys[j]).(int)
		})
	case int64:
		sort.Slice(keys, func(i, j int) bool {
			return any(keys[i]).(int64) < any(keys[j]).(int64)
		})
	}
}

var _ notify.Listenable = (*Map[string, int])(nil)
