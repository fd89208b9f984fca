package debugapi

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/vango-dev/herald/pkg/notify"
)

// ErrDuplicateName is returned when a controller name is already registered.
var ErrDuplicateName = errors.New("debugapi: controller name already registered")

// Hub is a named set of controllers exposed for introspection.
type Hub struct {
	mu      sync.RWMutex
	entries map[string]*hubEntry
}

type hubEntry struct {
	ctrl        *notify.Controller
	description string
}

// Info describes a registered controller.
type Info struct {
	Name        string `json:"name"`
	ID          uint64 `json:"id"`
	Description string `json:"description,omitempty"`
	Listeners   int    `json:"listeners"`
	Global      int    `json:"global"`
	Disposed    bool   `json:"disposed"`
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{entries: make(map[string]*hubEntry)}
}

// Register adds ctrl under its name. The entry is removed automatically when
// the controller is disposed.
func (h *Hub) Register(ctrl *notify.Controller, description string) error {
	if ctrl == nil {
		return errors.New("debugapi: nil controller")
	}
	name := ctrl.Name()

	h.mu.Lock()
	if _, ok := h.entries[name]; ok {
		h.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	h.entries[name] = &hubEntry{ctrl: ctrl, description: description}
	h.mu.Unlock()

	ctrl.OnDispose(func() {
		h.unregister(name, ctrl)
	})
	return nil
}

// Unregister removes the controller registered under name.
func (h *Hub) Unregister(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.entries[name]; !ok {
		return false
	}
	delete(h.entries, name)
	return true
}

func (h *Hub) unregister(name string, ctrl *notify.Controller) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if e, ok := h.entries[name]; ok && e.ctrl == ctrl {
		delete(h.entries, name)
	}
}

// Get returns the controller registered under name.
func (h *Hub) Get(name string) (*notify.Controller, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.entries[name]
	if !ok {
		return nil, false
	}
	return e.ctrl, true
}

// Lookup resolves name to a Listenable. It matches stream.Lookup.
func (h *Hub) Lookup(name string) (notify.Listenable, bool) {
	ctrl, ok := h.Get(name)
	if !ok {
		return nil, false
	}
	return ctrl, true
}

// Info returns the description of the controller registered under name.
func (h *Hub) Info(name string) (Info, bool) {
	h.mu.RLock()
	e, ok := h.entries[name]
	h.mu.RUnlock()
	if !ok {
		return Info{}, false
	}
	return e.info(name), true
}

// List returns every registered controller sorted by name.
func (h *Hub) List() []Info {
	h.mu.RLock()
	list := make([]Info, 0, len(h.entries))
	for name, e := range h.entries {
		list = append(list, e.info(name))
	}
	h.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// Len returns the number of registered controllers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

func (e *hubEntry) info(name string) Info {
	return Info{
		Name:        name,
		ID:          e.ctrl.ID(),
		Description: e.description,
		Listeners:   e.ctrl.ListenersCount(),
		Global:      e.ctrl.GlobalListenersCount(),
		Disposed:    e.ctrl.IsDisposed(),
	}
}
