package notify

import "time"

// Dispatch describes one notification pass.
type Dispatch struct {
	// Controller is the name of the notifying controller.
	Controller string

	// Key is the notified key. HasKey distinguishes a nil key from a global pass.
	Key    any
	HasKey bool

	// Listeners is the size of the snapshot for this pass.
	Listeners int
}

// DispatchStats summarizes a finished pass.
type DispatchStats struct {
	Invoked  int
	Skipped  int
	Failed   int
	Duration time.Duration
}

// Observer receives instrumentation callbacks from controllers.
// Implementations must not call back into the notifying controller.
type Observer interface {
	// BeginDispatch is called before a pass. The returned function, if
	// non-nil, is called when the pass ends.
	BeginDispatch(d Dispatch) func(DispatchStats)

	// ListenerFailed is called for every recovered listener panic.
	ListenerFailed(err *ListenerError)

	// ListenersChanged is called when the controller's listener count changes
	// by delta entries.
	ListenersChanged(controller string, delta int)
}

// Observers combines observers into one. Nil observers are dropped.
func Observers(observers ...Observer) Observer {
	var list multiObserver
	for _, o := range observers {
		if o != nil {
			list = append(list, o)
		}
	}
	switch len(list) {
	case 0:
		return nil
	case 1:
		return list[0]
	}
	return list
}

type multiObserver []Observer

func (m multiObserver) BeginDispatch(d Dispatch) func(DispatchStats) {
	ends := make([]func(DispatchStats), 0, len(m))
	for _, o := range m {
		if end := o.BeginDispatch(d); end != nil {
			ends = append(ends, end)
		}
	}
	return func(s DispatchStats) {
		for i := len(ends) - 1; i >= 0; i-- {
			ends[i](s)
		}
	}
}

func (m multiObserver) ListenerFailed(err *ListenerError) {
	for _, o := range m {
		o.ListenerFailed(err)
	}
}

func (m multiObserver) ListenersChanged(controller string, delta int) {
	for _, o := range m {
		o.ListenersChanged(controller, delta)
	}
}
