package notify

import "sync"

// Merged is a proxy that notifies its listeners whenever any of its sources
// notifies. A single relay listener is attached to every source; the relay
// forwards the source's key and value.
type Merged struct {
	ctrl    *Controller
	relay   *Listener
	sources []Listenable
}

// Merge creates a proxy over sources. Nil sources are skipped. Disposing the
// proxy detaches the relay from every source.
//
// Example:
//
//	m := notify.Merge([]notify.Listenable{cart, user, prefs})
//	defer m.Dispose()
//	m.AddListener(notify.Func(redraw))
func Merge(sources []Listenable, opts ...Option) *Merged {
	m := &Merged{ctrl: New(opts...)}
	m.relay = SourceFunc(func(key, value any, _ *Controller) {
		if key == nil {
			m.ctrl.NotifyValue(value)
			return
		}
		m.ctrl.NotifyKey(key, value)
	})

	for _, src := range sources {
		if isNil(src) {
			continue
		}
		m.sources = append(m.sources, src)
		src.AddListener(m.relay)
	}

	m.ctrl.OnDispose(func() {
		m.ctrl.mu.Lock()
		sources := m.sources
		m.sources = nil
		m.ctrl.mu.Unlock()

		for _, src := range sources {
			src.RemoveListener(m.relay)
		}
	})
	return m
}

// AddListener registers l on the proxy.
func (m *Merged) AddListener(l *Listener, opts ...ListenOption) {
	m.ctrl.AddListener(l, opts...)
}

// RemoveListener unregisters l from the proxy.
func (m *Merged) RemoveListener(l *Listener, opts ...ListenOption) {
	m.ctrl.RemoveListener(l, opts...)
}

// Listen registers l and returns its remover.
func (m *Merged) Listen(l *Listener, opts ...ListenOption) func() {
	m.AddListener(l, opts...)
	return sync.OnceFunc(func() {
		m.RemoveListener(l, opts...)
	})
}

// Sources returns the number of attached sources.
func (m *Merged) Sources() int {
	m.ctrl.mu.Lock()
	defer m.ctrl.mu.Unlock()
	return len(m.sources)
}

// Name returns the proxy controller name.
func (m *Merged) Name() string {
	return m.ctrl.Name()
}

// HasListeners reports whether any listener is registered on the proxy.
func (m *Merged) HasListeners() bool {
	return m.ctrl.HasListeners()
}

// Dispose detaches from every source and releases the proxy's listeners.
func (m *Merged) Dispose() {
	m.ctrl.Dispose()
}

// IsDisposed reports whether the proxy has been disposed.
func (m *Merged) IsDisposed() bool {
	return m.ctrl.IsDisposed()
}

var _ Listenable = (*Merged)(nil)
var _ Disposable = (*Merged)(nil)
