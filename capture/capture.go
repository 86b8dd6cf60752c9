// Package capture turns diagnostic events into lines in the ring.
//
// A Listener subscribes to a source.Hub, enables every source whose name
// matches its patterns, and for each event assembles
//
//	<timestamp>:<message>{<param0>}{<param1>}...\n
//
// in the calling worker's scratch buffer before handing the bytes to the
// store. Nothing on this path takes a lock, and nothing escapes it: failures
// of any kind drop the event silently.
package capture

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxpert/selfdiag/encoding"
	"github.com/maxpert/selfdiag/ring"
	"github.com/maxpert/selfdiag/source"
	"github.com/maxpert/selfdiag/telemetry"
	"github.com/puzpuzpuz/xsync/v3"
)

// MinBufferSize fits the longest timestamp, the separator and the newline
// with room to spare.
const MinBufferSize = 64

// Reserver is the backing store seen from the capture path
type Reserver interface {
	Reserve(n int) (ring.Reservation, bool)
}

// Options configures a Listener
type Options struct {
	Patterns   []string // source name globs
	Level      source.Level
	TimeKind   encoding.TimeKind
	BufferSize int
	Now        func() time.Time // defaults to time.Now
}

// registration phases; transitions only move forward
const (
	stateUninitialized int32 = iota
	stateDraining
	stateInitialized
)

// Listener records events from matching sources into a Reserver
type Listener struct {
	filter  *source.NameFilter
	level   atomic.Int32
	kind    encoding.TimeKind
	now     func() time.Time
	buffers *ScratchCache
	store   Reserver

	// sources announced before construction finished
	state     atomic.Int32
	pendingMu sync.Mutex
	pending   []*source.Source

	enabled  *xsync.MapOf[string, *source.Source]
	enableFn func(src *source.Source, level source.Level)
	cancel   func()
	closed   atomic.Bool
}

// New builds a Listener and subscribes it to hub. Sources the hub announces
// while New is still running are enabled once construction is complete.
func New(hub *source.Hub, store Reserver, opts Options) (*Listener, error) {
	return newListener(hub, store, opts, nil)
}

func newListener(hub *source.Hub, store Reserver, opts Options, enableFn func(*source.Source, source.Level)) (*Listener, error) {
	if hub == nil {
		return nil, fmt.Errorf("source hub is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.BufferSize < MinBufferSize {
		return nil, fmt.Errorf("scratch buffer size must be >= %d, got %d", MinBufferSize, opts.BufferSize)
	}

	filter, err := source.NewNameFilter(opts.Patterns)
	if err != nil {
		return nil, err
	}

	l := &Listener{
		filter:   filter,
		kind:     opts.TimeKind,
		now:      opts.Now,
		buffers:  NewScratchCache(opts.BufferSize),
		store:    store,
		enabled:  xsync.NewMapOf[string, *source.Source](),
		enableFn: enableFn,
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.enableFn == nil {
		l.enableFn = func(src *source.Source, level source.Level) { src.Enable(l, level) }
	}
	l.level.Store(int32(opts.Level))

	// OnSourceCreated can run from here on, on this goroutine (replay) or
	// on any goroutine creating a source
	l.cancel = hub.Subscribe(l)
	l.drain()

	return l, nil
}

// OnSourceCreated implements source.Listener
func (l *Listener) OnSourceCreated(src *source.Source) {
	if !l.filter.Match(src.Name()) {
		return
	}

	if l.state.Load() == stateUninitialized {
		l.pendingMu.Lock()
		if l.state.Load() == stateUninitialized {
			l.pending = append(l.pending, src)
			l.pendingMu.Unlock()
			return
		}
		l.pendingMu.Unlock()
	}

	l.enable(src)
}

// drain enables the sources that arrived before construction finished.
// The pending list is swapped out under the lock; enabling happens outside it.
func (l *Listener) drain() {
	l.pendingMu.Lock()
	pending := l.pending
	l.pending = nil
	l.state.Store(stateDraining)
	l.pendingMu.Unlock()

	for _, src := range pending {
		l.enable(src)
	}

	l.state.Store(stateInitialized)
}

func (l *Listener) enable(src *source.Source) {
	if l.closed.Load() {
		return
	}
	if _, loaded := l.enabled.LoadOrStore(src.Name(), src); loaded {
		return
	}

	telemetry.SourcesEnabled.Inc()

	// re-apply if SetLevel ran concurrently
	lvl := l.Level()
	l.enableFn(src, lvl)
	for cur := l.Level(); cur != lvl; cur = l.Level() {
		lvl = cur
		l.enableFn(src, lvl)
	}

	// Close may have run after the check above and missed this source
	if l.closed.Load() {
		src.Disable(l)
		if _, ok := l.enabled.LoadAndDelete(src.Name()); ok {
			telemetry.SourcesEnabled.Dec()
		}
	}
}

// OnEvent implements source.Listener. It never panics and never blocks
// beyond the single write to the store.
func (l *Listener) OnEvent(ctx context.Context, ev source.Event) {
	if l.closed.Load() {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			telemetry.EventsDroppedTotal.With(telemetry.DropPanic).Inc()
		}
	}()

	buf, pooled := l.buffers.Acquire(ctx)
	if pooled {
		defer l.buffers.Put(buf)
	}

	line := l.encode(buf.data, ev.Message, ev.Payload)
	l.write(line)
}

// encode assembles one line in buf and returns it
func (l *Listener) encode(buf []byte, message string, payload []any) []byte {
	pos := encoding.EncodeTimestamp(l.now(), l.kind, buf, 0)
	buf[pos] = ':'
	pos++

	pos = encoding.EncodeText(message, false, buf, pos)
	for _, v := range payload {
		pos = encoding.EncodeValue(v, buf, pos)
	}

	buf[pos] = '\n'
	pos++
	return buf[:pos]
}

func (l *Listener) write(line []byte) {
	res, ok := l.store.Reserve(len(line))
	if !ok {
		telemetry.EventsDroppedTotal.With(telemetry.DropNoStore).Inc()
		return
	}

	if res.Available < len(line) {
		telemetry.WrappedWritesTotal.Inc()
	}

	if err := ring.Write(line, &res); err != nil {
		telemetry.EventsDroppedTotal.With(telemetry.DropWrite).Inc()
		return
	}

	telemetry.EventsCapturedTotal.Inc()
	telemetry.BytesWrittenTotal.Add(float64(len(line)))
	telemetry.LineBytes.Observe(float64(len(line)))
}

// Level returns the current subscription level
func (l *Listener) Level() source.Level {
	return source.Level(l.level.Load())
}

// SetLevel changes the level on every enabled source
func (l *Listener) SetLevel(level source.Level) {
	if l.level.Swap(int32(level)) == int32(level) {
		return
	}
	l.enabled.Range(func(_ string, src *source.Source) bool {
		src.Enable(l, level)
		return true
	})
}

// Sources returns the names of the enabled sources, sorted
func (l *Listener) Sources() []string {
	names := make([]string, 0, l.enabled.Size())
	l.enabled.Range(func(name string, _ *source.Source) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	return names
}

// Buffers exposes the scratch cache, mainly so workers can Release theirs
func (l *Listener) Buffers() *ScratchCache {
	return l.buffers
}

// Close unsubscribes from every source. Events arriving afterwards are ignored.
func (l *Listener) Close() {
	if !l.closed.CompareAndSwap(false, true) {
		return
	}
	l.cancel()
	telemetry.SourcesEnabled.Sub(float64(l.enabled.Size()))
	l.enabled.Clear()
}
