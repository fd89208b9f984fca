package notify

import (
	"sort"
	"sync/atomic"
)

// entry is a registered listener together with its registration attributes.
// A listener registered under several keys gets one entry per key, all
// sharing the same sequence number.
type entry struct {
	listener  *Listener
	priority  int
	seq       uint64
	predicate Predicate

	// removed is set when the entry leaves the registry so that a pass
	// iterating an older snapshot skips it.
	removed atomic.Bool
}

// before reports whether a runs before b: higher priority first, then
// registration order.
func (a *entry) before(b *entry) bool {
	if a.priority != b.priority {
		return a.priority > b.priority
	}
	return a.seq < b.seq
}

// registry stores and classifies the listeners of a single Controller.
//
// Every slice it hands out is treated as immutable: mutations build new
// slices, so a snapshot returned by order stays valid while listeners
// are added or removed.
//
// registry is not safe for concurrent use; Controller serializes access.
type registry struct {
	seq uint64

	// simple holds priority-0, unkeyed, predicate-free listeners in
	// registration order.
	simple    []*entry
	simpleIdx map[*Listener]*entry

	// global holds complex listeners without a key, sorted.
	global []*entry

	// keyed holds complex listeners per key, sorted.
	keyed map[any][]*entry

	// globalOrder caches merge(simple, global); nil when invalid.
	globalOrder []*entry
	globalValid bool

	// orders caches the merged order per key.
	orders map[any][]*entry
}

func newRegistry() *registry {
	return &registry{
		simpleIdx: make(map[*Listener]*entry),
		keyed:     make(map[any][]*entry),
		orders:    make(map[any][]*entry),
	}
}

// add registers l and returns the number of entries created. Zero means l
// was already registered with the same scope.
func (r *registry) add(l *Listener, cfg listenConfig) int {
	if l == nil {
		return 0
	}

	if cfg.simple() {
		if _, ok := r.simpleIdx[l]; ok {
			return 0
		}
		r.seq++
		e := &entry{listener: l, seq: r.seq}
		r.simpleIdx[l] = e
		r.simple = appendEntry(r.simple, e)
		r.invalidateAll()
		return 1
	}

	r.seq++
	seq := r.seq

	if len(cfg.keys) == 0 {
		if containsListener(r.global, l) {
			return 0
		}
		r.global = insertSorted(r.global, &entry{
			listener:  l,
			priority:  cfg.priority,
			seq:       seq,
			predicate: cfg.predicate,
		})
		r.invalidateAll()
		return 1
	}

	inserted := 0
	for _, key := range cfg.keys {
		b := r.keyed[key]
		if containsListener(b, l) {
			continue
		}
		r.keyed[key] = insertSorted(b, &entry{
			listener:  l,
			priority:  cfg.priority,
			seq:       seq,
			predicate: cfg.predicate,
		})
		delete(r.orders, key)
		inserted++
	}
	return inserted
}

// remove unregisters l and returns the number of entries removed. Without
// keys it removes the simple registration and every global complex entry of
// l; with keys it removes the entries of l in those key buckets.
func (r *registry) remove(l *Listener, keys []any) int {
	if l == nil {
		return 0
	}

	if len(keys) == 0 {
		removed := 0
		if e, ok := r.simpleIdx[l]; ok {
			e.removed.Store(true)
			delete(r.simpleIdx, l)
			r.simple = removeEntry(r.simple, e)
			removed++
		}
		if containsListener(r.global, l) {
			before := len(r.global)
			r.global = removeListener(r.global, l)
			removed += before - len(r.global)
		}
		if removed > 0 {
			r.invalidateAll()
		}
		return removed
	}

	removedAny := 0
	for _, key := range keys {
		b := r.keyed[key]
		if !containsListener(b, l) {
			continue
		}
		n := removeListener(b, l)
		removedAny += len(b) - len(n)
		if len(n) == 0 {
			delete(r.keyed, key)
		} else {
			r.keyed[key] = n
		}
		delete(r.orders, key)
	}
	return removedAny
}

// order returns the dispatch snapshot for one pass.
//
// hasKey=false selects the global pass; includeGlobal=false drops the global
// listeners from a keyed pass.
func (r *registry) order(key any, hasKey, includeGlobal bool) []*entry {
	if !hasKey {
		if !includeGlobal {
			return nil
		}
		return r.globalMerged()
	}
	if !includeGlobal {
		return r.keyed[key]
	}
	if cached, ok := r.orders[key]; ok {
		return cached
	}
	merged := mergeOrdered(r.globalMerged(), r.keyed[key])
	r.orders[key] = merged
	return merged
}

// globalMerged returns merge(simple, global), rebuilding the cache if needed.
func (r *registry) globalMerged() []*entry {
	if !r.globalValid {
		r.globalOrder = mergeOrdered(r.simple, r.global)
		r.globalValid = true
	}
	return r.globalOrder
}

func (r *registry) invalidateAll() {
	r.globalValid = false
	r.globalOrder = nil
	if len(r.orders) > 0 {
		r.orders = make(map[any][]*entry)
	}
}

func (r *registry) globalCount() int {
	return len(r.simple) + len(r.global)
}

func (r *registry) keyedCount(key any) int {
	return len(r.keyed[key])
}

// size returns the total number of entries across all buckets.
func (r *registry) size() int {
	n := r.globalCount()
	for _, b := range r.keyed {
		n += len(b)
	}
	return n
}

func (r *registry) hasListeners() bool {
	return len(r.simple) > 0 || len(r.global) > 0 || len(r.keyed) > 0
}

// clear drops every entry and flags them removed.
func (r *registry) clear() {
	for _, e := range r.simple {
		e.removed.Store(true)
	}
	for _, e := range r.global {
		e.removed.Store(true)
	}
	for _, b := range r.keyed {
		for _, e := range b {
			e.removed.Store(true)
		}
	}
	r.simple = nil
	r.simpleIdx = make(map[*Listener]*entry)
	r.global = nil
	r.keyed = make(map[any][]*entry)
	r.invalidateAll()
}

// mergeOrdered merges two lists already sorted by entry.before into a new
// sorted list. The merge is stable: on equal position a comes first.
func mergeOrdered(a, b []*entry) []*entry {
	if len(b) == 0 {
		return a
	}
	if len(a) == 0 {
		return b
	}
	out := make([]*entry, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if b[j].before(a[i]) {
			out = append(out, b[j])
			j++
		} else {
			out = append(out, a[i])
			i++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

// insertSorted returns a new slice with e placed after every entry that runs
// before it.
func insertSorted(b []*entry, e *entry) []*entry {
	pos := sort.Search(len(b), func(i int) bool {
		return e.before(b[i])
	})
	out := make([]*entry, 0, len(b)+1)
	out = append(out, b[:pos]...)
	out = append(out, e)
	out = append(out, b[pos:]...)
	return out
}

func appendEntry(b []*entry, e *entry) []*entry {
	out := make([]*entry, 0, len(b)+1)
	out = append(out, b...)
	return append(out, e)
}

func removeEntry(b []*entry, e *entry) []*entry {
	out := make([]*entry, 0, len(b))
	for _, x := range b {
		if x != e {
			out = append(out, x)
		}
	}
	return out
}

// removeListener returns b without the entries of l and flags them removed.
func removeListener(b []*entry, l *Listener) []*entry {
	out := make([]*entry, 0, len(b))
	for _, e := range b {
		if e.listener == l {
			e.removed.Store(true)
			continue
		}
		out = append(out, e)
	}
	return out
}

func containsListener(b []*entry, l *Listener) bool {
	for _, e := range b {
		if e.listener == l {
			return true
		}
	}
	return false
}
