package notify

// Kind identifies the callback shape of a Listener.
type Kind uint8

const (
	// KindVoid listeners take no arguments.
	KindVoid Kind = iota + 1
	// KindValue listeners receive the notified value.
	KindValue
	// KindKeyValue listeners receive the notified key and value.
	KindKeyValue
	// KindSource listeners receive the key, the value and the notifying Controller.
	KindSource
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindVoid:
		return "void"
	case KindValue:
		return "value"
	case KindKeyValue:
		return "key-value"
	case KindSource:
		return "source"
	default:
		return "unknown"
	}
}

// Listener is a callback registered on a Controller.
//
// The callback shape is chosen by the constructor and never changes. A
// Listener is identified by its pointer: registering the same *Listener twice
// as a simple listener keeps a single entry.
type Listener struct {
	id   uint64
	kind Kind

	void     func()
	value    func(value any)
	keyValue func(key, value any)
	source   func(key, value any, src *Controller)
}

// Func creates a listener that takes no arguments.
func Func(fn func()) *Listener {
	return &Listener{id: nextID(), kind: KindVoid, void: fn}
}

// ValueFunc creates a listener that receives the notified value.
func ValueFunc(fn func(value any)) *Listener {
	return &Listener{id: nextID(), kind: KindValue, value: fn}
}

// KeyValueFunc creates a listener that receives the notified key and value.
// The key is nil for global notifications.
func KeyValueFunc(fn func(key, value any)) *Listener {
	return &Listener{id: nextID(), kind: KindKeyValue, keyValue: fn}
}

// SourceFunc creates a listener that also receives the notifying Controller.
func SourceFunc(fn func(key, value any, src *Controller)) *Listener {
	return &Listener{id: nextID(), kind: KindSource, source: fn}
}

// ID returns the unique identifier for this listener.
func (l *Listener) ID() uint64 {
	return l.id
}

// Kind returns the callback shape of this listener.
func (l *Listener) Kind() Kind {
	return l.kind
}

// invoke calls the callback with the arguments its shape declares.
func (l *Listener) invoke(key, value any, src *Controller) {
	switch l.kind {
	case KindVoid:
		if l.void != nil {
			l.void()
		}
	case KindValue:
		if l.value != nil {
			l.value(value)
		}
	case KindKeyValue:
		if l.keyValue != nil {
			l.keyValue(key, value)
		}
	case KindSource:
		if l.source != nil {
			l.source(key, value, src)
		}
	}
}

// Predicate decides whether a listener runs for a notification.
type Predicate func(key, value any) bool

// ListenOption configures how a listener is registered.
type ListenOption func(*listenConfig)

type listenConfig struct {
	priority  int
	keys      []any
	predicate Predicate
}

// Priority sets the listener priority. Higher priorities run first; the
// default is 0.
func Priority(p int) ListenOption {
	return func(c *listenConfig) {
		c.priority = p
	}
}

// Key scopes the listener to notifications on key. Keys must be comparable;
// a nil key leaves the listener global.
func Key(key any) ListenOption {
	return func(c *listenConfig) {
		c.keys = append(c.keys, key)
	}
}

// Keys scopes the listener to notifications on any of keys.
func Keys(keys ...any) ListenOption {
	return func(c *listenConfig) {
		c.keys = append(c.keys, keys...)
	}
}

// When sets a predicate; the listener is skipped unless it returns true.
func When(p Predicate) ListenOption {
	return func(c *listenConfig) {
		c.predicate = p
	}
}

func buildListenConfig(opts []ListenOption) listenConfig {
	var cfg listenConfig
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	cfg.keys = normalizeKeys(cfg.keys)
	return cfg
}

// simple reports whether the registration qualifies for the simple set.
func (c listenConfig) simple() bool {
	return c.priority == 0 && len(c.keys) == 0 && c.predicate == nil
}

// normalizeKeys drops nil and repeated keys while keeping first-seen order.
func normalizeKeys(keys []any) []any {
	if len(keys) == 0 {
		return nil
	}
	seen := make(map[any]struct{}, len(keys))
	out := make([]any, 0, len(keys))
	for _, k := range keys {
		if k == nil {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
