// Package source is the event-source layer that feeds the recorder.
//
// Components create named Sources on a Hub and write events to them.
// Listeners subscribe to the Hub, are told about every source (existing ones
// are replayed during Subscribe), and choose which sources to Enable and at
// which Level. Events are delivered synchronously on the writer's goroutine.
package source

import (
	"sync"
	"sync/atomic"
)

// Hub tracks sources and the listeners that want to hear about them
type Hub struct {
	mu        sync.RWMutex
	sources   map[string]*Source
	order     []*Source
	listeners map[uint64]Listener
	nextID    atomic.Uint64
}

// Default is the process-wide hub
var Default = NewHub()

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		sources:   make(map[string]*Source),
		listeners: make(map[uint64]Listener),
	}
}

// New creates or returns the named source on the Default hub
func New(name string) *Source {
	return Default.NewSource(name)
}

// NewSource creates the named source and announces it to every listener.
// Creating a name twice returns the existing source without a second
// announcement.
func (h *Hub) NewSource(name string) *Source {
	h.mu.Lock()
	if src, ok := h.sources[name]; ok {
		h.mu.Unlock()
		return src
	}

	src := newSource(name)
	h.sources[name] = src
	h.order = append(h.order, src)

	listeners := make([]Listener, 0, len(h.listeners))
	for _, l := range h.listeners {
		listeners = append(listeners, l)
	}
	h.mu.Unlock()

	for _, l := range listeners {
		l.OnSourceCreated(src)
	}
	return src
}

// Subscribe registers l and replays OnSourceCreated for every existing
// source before returning. Sources created concurrently are announced
// exactly once, either by the replay or by NewSource. The cancel function
// disables l on every source and is idempotent.
func (h *Hub) Subscribe(l Listener) (cancel func()) {
	id := h.nextID.Add(1)

	h.mu.Lock()
	h.listeners[id] = l
	existing := make([]*Source, len(h.order))
	copy(existing, h.order)
	h.mu.Unlock()

	for _, src := range existing {
		l.OnSourceCreated(src)
	}

	var once sync.Once
	return func() {
		once.Do(func() { h.unsubscribe(id, l) })
	}
}

func (h *Hub) unsubscribe(id uint64, l Listener) {
	h.mu.Lock()
	delete(h.listeners, id)
	sources := make([]*Source, len(h.order))
	copy(sources, h.order)
	h.mu.Unlock()

	for _, src := range sources {
		src.Disable(l)
	}
}

// Lookup returns the named source if it exists
func (h *Hub) Lookup(name string) (*Source, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	src, ok := h.sources[name]
	return src, ok
}

// Sources returns all sources in creation order
func (h *Hub) Sources() []*Source {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Source, len(h.order))
	copy(out, h.order)
	return out
}
