package notify

import (
	"sync"

	"golang.org/x/exp/slices"
)

// Hub is the in-process registry of listeners shared by the notifier
// backends. Backends receive events from their transport and Broadcast them.
type Hub struct {
	mutex     sync.RWMutex
	listeners map[string][]*hubListener
	closed    bool
}

func NewHub() *Hub {
	return &Hub{
		listeners: make(map[string][]*hubListener),
	}
}

// Listen registers a new listener for name. Listening on a closed hub
// returns a listener whose channel is already closed.
func (h *Hub) Listen(name string) Listener {
	l := &hubListener{
		hub:     h,
		name:    name,
		channel: make(chan Event, 1),
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.closed {
		close(l.channel)
		l.closed = true
		return l
	}
	h.listeners[name] = append(h.listeners[name], l)
	return l
}

// Broadcast delivers ev to every listener of ev.Name without blocking.
func (h *Hub) Broadcast(ev Event) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	for _, l := range h.listeners[ev.Name] {
		l.offer(ev)
	}
}

// Names returns the sorted names that have at least one listener.
func (h *Hub) Names() []string {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	names := make([]string, 0, len(h.listeners))
	for name := range h.listeners {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Close closes every listener. Later Listen calls get closed listeners.
func (h *Hub) Close() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for _, listeners := range h.listeners {
		for _, l := range listeners {
			l.closed = true
			close(l.channel)
		}
	}
	h.listeners = nil
}

func (h *Hub) remove(l *hubListener) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if l.closed {
		return
	}
	l.closed = true
	close(l.channel)

	listeners := h.listeners[l.name]
	idx := slices.Index(listeners, l)
	if idx == -1 {
		return
	}
	listeners = slices.Delete(listeners, idx, idx+1)
	if len(listeners) == 0 {
		delete(h.listeners, l.name)
		return
	}
	h.listeners[l.name] = listeners
}

type hubListener struct {
	hub     *Hub
	name    string
	channel chan Event

	// guarded by hub.mutex
	closed bool
}

func (l *hubListener) Events() <-chan Event {
	return l.channel
}

func (l *hubListener) Close() error {
	l.hub.remove(l)
	return nil
}

// offer replaces an undelivered event with ev. Callers hold hub.mutex.
func (l *hubListener) offer(ev Event) {
	select {
	case l.channel <- ev:
		return
	default:
	}
	select {
	case <-l.channel:
	default:
	}
	select {
	case l.channel <- ev:
	default:
	}
}
