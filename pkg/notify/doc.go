// Package notify provides the change-notification core used throughout Herald.
//
// A Controller is a notification hub. Listeners register on it, optionally
// with a priority, a key scope and a predicate, and are invoked in a
// deterministic order whenever the Controller notifies.
//
// # Listeners
//
// A Listener is created once with one of four callback shapes and is then
// identified by its pointer:
//
//	refresh := notify.Func(func() { redraw() })
//	logged := notify.KeyValueFunc(func(key, value any) {
//	    slog.Info("changed", "key", key, "value", value)
//	})
//
//	c := notify.New(notify.WithName("cart"))
//	c.AddListener(refresh)
//	c.AddListener(logged, notify.Priority(10), notify.Key("total"))
//
//	c.NotifyKey("total", 42) // logged runs first, then refresh
//	c.Notify()               // only refresh: logged is scoped to "total"
//
// Listeners without priority, key or predicate are "simple" and stored in an
// identity set, so adding the same Listener twice is a no-op.
//
// # Ordering
//
// For a notification on key K the dispatch order is the merge of the global
// listeners and the listeners registered under K, sorted by descending
// priority. Listeners of equal priority run in registration order.
//
// Each pass iterates a snapshot. Listeners added during a pass are first seen
// by the next notification; listeners removed during a pass are skipped if they
// have not run yet.
//
// # Errors
//
// A panicking listener never stops the pass. The panic is recovered, wrapped
// in a *ListenerError and sent to the Controller's ErrorSink.
//
// # Derived values
//
// Derive builds a read-only value computed from any Listenable:
//
//	positive, err := notify.Derive(counter, func(c *Counter) bool {
//	    return c.Count() > 0
//	})
//
// A derived value notifies only when its value changes (unless Distinct(false)
// is given) and, by default, disposes itself once its last listener is removed
// and the scheduled check finds it still unobserved. With the default
// scheduler that check runs when the next dispatch pass or Batch ends, or on
// Flush.
package notify
