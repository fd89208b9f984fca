package notify

import "time"

// pass runs one dispatch pass for key over a snapshot of the merged order.
// The snapshot is taken under the lock and iterated without it.
func (c *Controller) pass(key any, hasKey bool, value any, includeGlobal bool) {
	c.mu.Lock()
	snapshot := c.reg.order(key, hasKey, includeGlobal)
	c.mu.Unlock()

	var end func(DispatchStats)
	if c.observer != nil {
		end = c.observer.BeginDispatch(Dispatch{
			Controller: c.name,
			Key:        key,
			HasKey:     hasKey,
			Listeners:  len(snapshot),
		})
	}
	if len(snapshot) == 0 {
		if end != nil {
			end(DispatchStats{})
		}
		return
	}

	start := time.Now()
	stats := c.run(snapshot, key, value)
	stats.Duration = time.Since(start)
	if end != nil {
		end(stats)
	}
}

// run invokes every live entry of snapshot in order. A failing listener is
// reported and the pass moves on.
func (c *Controller) run(snapshot []*entry, key, value any) DispatchStats {
	var stats DispatchStats
	for _, e := range snapshot {
		if e.removed.Load() {
			stats.Skipped++
			continue
		}
		ok, err := c.invoke(e, key, value)
		switch {
		case err != nil:
			stats.Failed++
			c.report(err)
		case ok:
			stats.Invoked++
		default:
			stats.Skipped++
		}
	}
	return stats
}

// invoke applies the entry predicate and calls the listener inside a
// recover boundary. ok is false when the predicate rejected the call.
func (c *Controller) invoke(e *entry, key, value any) (ok bool, err *ListenerError) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = &ListenerError{
				Controller: c.name,
				Key:        key,
				Listener:   e.listener.id,
				Kind:       e.listener.kind,
				Value:      r,
				Stack:      captureStack(),
			}
		}
	}()

	if e.predicate != nil && !e.predicate(key, value) {
		return false, nil
	}
	e.listener.invoke(key, value, c)
	return true, nil
}

func (c *Controller) report(err *ListenerError) {
	if c.observer != nil {
		c.observer.ListenerFailed(err)
	}
	c.sink.ReportError(err)
}
