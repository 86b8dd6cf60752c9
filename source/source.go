package source

import (
	"context"
	"sync"
	"sync/atomic"
)

// Event is one diagnostic record. It is passed by value and must not be
// retained by listeners after OnEvent returns.
type Event struct {
	Source  string
	Level   Level
	Message string
	Payload []any
}

// Listener receives source announcements and events.
type Listener interface {
	// OnSourceCreated is called once for every source known to the hub,
	// possibly before Subscribe has returned.
	OnSourceCreated(src *Source)
	// OnEvent is called synchronously on the emitting goroutine.
	OnEvent(ctx context.Context, ev Event)
}

type subscription struct {
	listener Listener
	level    Level
}

// Source is a named producer of diagnostic events
type Source struct {
	name string

	// copy-on-write, so Write never takes a lock
	subs atomic.Pointer[[]subscription]
	mu   sync.Mutex
}

func newSource(name string) *Source {
	s := &Source{name: name}
	s.subs.Store(&[]subscription{})
	return s
}

// Name returns the source name
func (s *Source) Name() string {
	return s.name
}

// Enable subscribes l to events at or above level. Enabling an already
// subscribed listener updates its level.
func (s *Source) Enable(l Listener, level Level) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := *s.subs.Load()
	next := make([]subscription, 0, len(cur)+1)
	found := false
	for _, sub := range cur {
		if sub.listener == l {
			sub.level = level
			found = true
		}
		next = append(next, sub)
	}
	if !found {
		next = append(next, subscription{listener: l, level: level})
	}
	s.subs.Store(&next)
}

// Disable removes l's subscription, if any
func (s *Source) Disable(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := *s.subs.Load()
	next := make([]subscription, 0, len(cur))
	for _, sub := range cur {
		if sub.listener != l {
			next = append(next, sub)
		}
	}
	s.subs.Store(&next)
}

// IsEnabled reports whether any listener would receive an event at level
func (s *Source) IsEnabled(level Level) bool {
	for _, sub := range *s.subs.Load() {
		if level <= sub.level {
			return true
		}
	}
	return false
}

// Write emits an event to every listener subscribed at or above level
func (s *Source) Write(level Level, message string, payload ...any) {
	s.WriteContext(context.Background(), level, message, payload...)
}

// WriteContext is Write with a context carrying the emitting worker
func (s *Source) WriteContext(ctx context.Context, level Level, message string, payload ...any) {
	subs := *s.subs.Load()
	if len(subs) == 0 {
		return
	}

	ev := Event{
		Source:  s.name,
		Level:   level,
		Message: message,
		Payload: payload,
	}
	for _, sub := range subs {
		if level <= sub.level {
			sub.listener.OnEvent(ctx, ev)
		}
	}
}
