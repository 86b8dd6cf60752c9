package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/maxpert/selfdiag/encoding"
	"github.com/maxpert/selfdiag/ring"
	"github.com/maxpert/selfdiag/source"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedTime = time.Date(2020, 12, 9, 10, 20, 50, 465941200, time.UTC)

func fixedNow() time.Time { return fixedTime }

// memStore is an in-memory ring with the same cursor rules as ring.FileStore
type memStore struct {
	mu     sync.Mutex
	data   []byte
	pos    int64
	reject bool
	fail   bool
}

func newMemStore(size int) *memStore {
	return &memStore{data: make([]byte, size)}
}

func (m *memStore) Reserve(n int) (ring.Reservation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reject || n > len(m.data) {
		return ring.Reservation{}, false
	}
	begin := m.pos % int64(len(m.data))
	m.pos += int64(n)
	return ring.NewReservation(m, begin, len(m.data)-int(begin)), true
}

func (m *memStore) WriteAt(p []byte, off int64) (int, error) {
	if m.fail {
		return 0, errors.New("disk on fire")
	}
	return copy(m.data[off:], p), nil
}

func (m *memStore) contents() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.data[:m.pos])
}

type panicStore struct{}

func (panicStore) Reserve(int) (ring.Reservation, bool) {
	panic("reserve exploded")
}

type explodingStringer struct{}

func (explodingStringer) String() string {
	panic("stringer exploded")
}

func testOptions() Options {
	return Options{
		Patterns:   []string{"Telemetry-*"},
		Level:      source.LevelVerbose,
		TimeKind:   encoding.KindUTC,
		BufferSize: 256,
		Now:        fixedNow,
	}
}

func newTestListener(t *testing.T, hub *source.Hub, store Reserver, opts Options) *Listener {
	t.Helper()
	l, err := New(hub, store, opts)
	require.NoError(t, err)
	t.Cleanup(l.Close)
	return l
}

// enableRecorder counts enable calls per source and the phase each ran in
type enableRecorder struct {
	mu     sync.Mutex
	l      *Listener
	counts map[string]int
	states []int32
}

func newEnableRecorder() *enableRecorder {
	return &enableRecorder{counts: make(map[string]int)}
}

func (r *enableRecorder) enable(src *source.Source, _ source.Level) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[src.Name()]++
	if r.l != nil {
		r.states = append(r.states, r.l.state.Load())
	}
}

func (r *enableRecorder) snapshot() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.counts))
	for k, v := range r.counts {
		out[k] = v
	}
	return out
}

func TestNewValidatesArguments(t *testing.T) {
	hub := source.NewHub()
	store := newMemStore(1024)

	_, err := New(nil, store, testOptions())
	assert.Error(t, err)

	_, err = New(hub, nil, testOptions())
	assert.Error(t, err)

	opts := testOptions()
	opts.BufferSize = MinBufferSize - 1
	_, err = New(hub, store, opts)
	assert.Error(t, err)

	opts = testOptions()
	opts.Patterns = []string{"Telemetry-[*"}
	_, err = New(hub, store, opts)
	assert.Error(t, err)
}

func TestRegistrationDefersReplayedSources(t *testing.T) {
	hub := source.NewHub()
	hub.NewSource("Telemetry-A")
	hub.NewSource("Other")
	hub.NewSource("Telemetry-B")

	rec := newEnableRecorder()
	l, err := newListener(hub, newMemStore(1024), testOptions(), rec.enable)
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, map[string]int{"Telemetry-A": 1, "Telemetry-B": 1}, rec.snapshot())
	assert.Equal(t, stateInitialized, l.state.Load())
	assert.Empty(t, l.pending)
	assert.Equal(t, []string{"Telemetry-A", "Telemetry-B"}, l.Sources())
}

func TestRegistrationAfterInitIsImmediate(t *testing.T) {
	hub := source.NewHub()
	rec := newEnableRecorder()
	l, err := newListener(hub, newMemStore(1024), testOptions(), rec.enable)
	require.NoError(t, err)
	defer l.Close()
	rec.l = l

	hub.NewSource("Telemetry-C")
	hub.NewSource("Something-Else")

	assert.Equal(t, map[string]int{"Telemetry-C": 1}, rec.snapshot())
	assert.Equal(t, []int32{stateInitialized}, rec.states)
}

func TestRegistrationPhases(t *testing.T) {
	hub := source.NewHub()
	first := hub.NewSource("Telemetry-First")
	second := hub.NewSource("Telemetry-Second")

	filter, err := source.NewNameFilter([]string{"Telemetry-*"})
	require.NoError(t, err)

	rec := newEnableRecorder()
	l := &Listener{
		filter:   filter,
		enabled:  xsync.NewMapOf[string, *source.Source](),
		enableFn: rec.enable,
	}
	rec.l = l

	// still under construction: deferred
	l.OnSourceCreated(first)
	assert.Empty(t, rec.snapshot())
	assert.Len(t, l.pending, 1)

	l.drain()
	assert.Equal(t, map[string]int{"Telemetry-First": 1}, rec.snapshot())
	assert.Equal(t, []int32{stateDraining}, rec.states)
	assert.Nil(t, l.pending)

	// initialized: immediate
	l.OnSourceCreated(second)
	assert.Equal(t, map[string]int{"Telemetry-First": 1, "Telemetry-Second": 1}, rec.snapshot())

	// repeated announcements never enable twice
	l.OnSourceCreated(first)
	l.OnSourceCreated(second)
	assert.Equal(t, map[string]int{"Telemetry-First": 1, "Telemetry-Second": 1}, rec.snapshot())
}

func TestRegistrationConcurrentCreation(t *testing.T) {
	hub := source.NewHub()
	const total = 200

	for i := 0; i < total/4; i++ {
		hub.NewSource(fmt.Sprintf("Telemetry-%d", i))
	}

	rec := newEnableRecorder()
	var wg sync.WaitGroup
	for g := 0; g < 3; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := total/4 + g; i < total; i += 3 {
				hub.NewSource(fmt.Sprintf("Telemetry-%d", i))
				hub.NewSource(fmt.Sprintf("Noise-%d", i))
			}
		}(g)
	}

	l, err := newListener(hub, newMemStore(1024), testOptions(), rec.enable)
	require.NoError(t, err)
	defer l.Close()
	wg.Wait()

	counts := rec.snapshot()
	require.Len(t, counts, total)
	for i := 0; i < total; i++ {
		assert.Equal(t, 1, counts[fmt.Sprintf("Telemetry-%d", i)], "source %d", i)
	}
	assert.Len(t, l.Sources(), total)
}

func TestOnEventWritesLine(t *testing.T) {
	hub := source.NewHub()
	store := newMemStore(1024)
	src := hub.NewSource("Telemetry-Test")
	newTestListener(t, hub, store, testOptions())

	src.Write(source.LevelInformational, "hello", 42, nil)

	assert.Equal(t, "2020-12-09T10:20:50.4659412Z:hello{42}{null}\n", store.contents())
}

func TestOnEventLocalTime(t *testing.T) {
	hub := source.NewHub()
	store := newMemStore(1024)
	src := hub.NewSource("Telemetry-Test")

	opts := testOptions()
	opts.TimeKind = encoding.KindLocal
	opts.Now = func() time.Time {
		return time.Date(2020, 12, 9, 10, 20, 50, 465941200, time.FixedZone("PST", -8*3600))
	}
	newTestListener(t, hub, store, opts)

	src.Write(source.LevelWarning, "disk", "almost full")

	assert.Equal(t, "2020-12-09T10:20:50.4659412-08:00:disk{almost full}\n", store.contents())
}

func TestOnEventRespectsLevel(t *testing.T) {
	hub := source.NewHub()
	store := newMemStore(1024)
	src := hub.NewSource("Telemetry-Test")

	opts := testOptions()
	opts.Level = source.LevelWarning
	l := newTestListener(t, hub, store, opts)

	src.Write(source.LevelVerbose, "chatty")
	assert.Empty(t, store.contents())

	l.SetLevel(source.LevelVerbose)
	assert.Equal(t, source.LevelVerbose, l.Level())
	src.Write(source.LevelVerbose, "chatty")
	assert.Equal(t, "2020-12-09T10:20:50.4659412Z:chatty\n", store.contents())
}

func TestOnEventIgnoresUnmatchedSources(t *testing.T) {
	hub := source.NewHub()
	store := newMemStore(1024)
	other := hub.NewSource("Other")
	newTestListener(t, hub, store, testOptions())

	other.Write(source.LevelCritical, "ignored")
	assert.Empty(t, store.contents())
	assert.False(t, other.IsEnabled(source.LevelLogAlways))
}

func TestOnEventTruncatesToBuffer(t *testing.T) {
	hub := source.NewHub()
	store := newMemStore(1024)
	src := hub.NewSource("Telemetry-Test")

	opts := testOptions()
	opts.BufferSize = MinBufferSize
	newTestListener(t, hub, store, opts)

	src.Write(source.LevelError, strings.Repeat("a", 100), "dropped")

	line := store.contents()
	assert.Len(t, line, MinBufferSize)
	assert.True(t, strings.HasSuffix(line, "a...\n"), line)
	assert.NotContains(t, line, "{")
}

func TestOnEventWrapsRing(t *testing.T) {
	hub := source.NewHub()
	store := newMemStore(50)
	src := hub.NewSource("Telemetry-Test")
	newTestListener(t, hub, store, testOptions())

	line := "2020-12-09T10:20:50.4659412Z:hello\n"
	src.Write(source.LevelError, "hello")
	src.Write(source.LevelError, "hello")

	// second line starts at 35, 15 bytes fit before the end
	assert.Equal(t, line[:15], string(store.data[35:]))
	assert.Equal(t, line[15:], string(store.data[:20]))
}

func TestOnEventFailsSilently(t *testing.T) {
	t.Run("store rejects", func(t *testing.T) {
		hub := source.NewHub()
		store := newMemStore(1024)
		store.reject = true
		src := hub.NewSource("Telemetry-Test")
		newTestListener(t, hub, store, testOptions())

		assert.NotPanics(t, func() { src.Write(source.LevelError, "lost") })
		assert.Empty(t, store.contents())
	})

	t.Run("write fails", func(t *testing.T) {
		hub := source.NewHub()
		store := newMemStore(1024)
		store.fail = true
		src := hub.NewSource("Telemetry-Test")
		newTestListener(t, hub, store, testOptions())

		assert.NotPanics(t, func() { src.Write(source.LevelError, "lost") })
	})

	t.Run("payload panics", func(t *testing.T) {
		hub := source.NewHub()
		store := newMemStore(1024)
		src := hub.NewSource("Telemetry-Test")
		newTestListener(t, hub, store, testOptions())

		assert.NotPanics(t, func() { src.Write(source.LevelError, "boom", explodingStringer{}) })
		assert.Empty(t, store.contents())

		src.Write(source.LevelError, "after")
		assert.Equal(t, "2020-12-09T10:20:50.4659412Z:after\n", store.contents())
	})

	t.Run("store panics", func(t *testing.T) {
		hub := source.NewHub()
		src := hub.NewSource("Telemetry-Test")
		newTestListener(t, hub, panicStore{}, testOptions())

		assert.NotPanics(t, func() { src.Write(source.LevelError, "boom") })
	})
}

func TestOnEventUsesWorkerBuffer(t *testing.T) {
	hub := source.NewHub()
	store := newMemStore(1024)
	src := hub.NewSource("Telemetry-Test")
	l := newTestListener(t, hub, store, testOptions())

	w := NewWorkerID()
	ctx := WithWorker(context.Background(), w)
	src.WriteContext(ctx, source.LevelError, "one")
	src.WriteContext(ctx, source.LevelError, "two")
	assert.Equal(t, 1, l.Buffers().Len())

	l.Buffers().Release(w)
	assert.Equal(t, 0, l.Buffers().Len())
	assert.Equal(t,
		"2020-12-09T10:20:50.4659412Z:one\n2020-12-09T10:20:50.4659412Z:two\n",
		store.contents())
}

func TestOnEventConcurrentWorkers(t *testing.T) {
	hub := source.NewHub()
	store := newMemStore(1 << 20)
	src := hub.NewSource("Telemetry-Test")
	newTestListener(t, hub, store, testOptions())

	const workers, perWorker = 8, 100
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx := context.Background()
			if i%2 == 0 {
				ctx = WithWorker(ctx, NewWorkerID())
			}
			for j := 0; j < perWorker; j++ {
				src.WriteContext(ctx, source.LevelError, "tick", i, j)
			}
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSuffix(store.contents(), "\n"), "\n")
	require.Len(t, lines, workers*perWorker)
	for _, line := range lines {
		assert.True(t, strings.HasPrefix(line, "2020-12-09T10:20:50.4659412Z:tick{"), line)
	}
}

func TestOnEventDoesNotAllocate(t *testing.T) {
	hub := source.NewHub()
	store := newMemStore(1 << 16)
	l := newTestListener(t, hub, store, testOptions())

	ctx := WithWorker(context.Background(), NewWorkerID())
	ev := source.Event{
		Source:  "Telemetry-Test",
		Level:   source.LevelError,
		Message: "hello",
		Payload: []any{42, nil, "text"},
	}
	l.OnEvent(ctx, ev)

	allocs := testing.AllocsPerRun(100, func() {
		l.OnEvent(ctx, ev)
	})
	assert.Zero(t, allocs)
}

func TestCloseDisablesSources(t *testing.T) {
	hub := source.NewHub()
	store := newMemStore(1024)
	src := hub.NewSource("Telemetry-Test")
	l, err := New(hub, store, testOptions())
	require.NoError(t, err)
	require.True(t, src.IsEnabled(source.LevelVerbose))

	l.Close()
	l.Close()

	assert.False(t, src.IsEnabled(source.LevelLogAlways))
	assert.Empty(t, l.Sources())

	l.OnEvent(context.Background(), source.Event{Message: "late"})
	assert.Empty(t, store.contents())

	// sources created after Close are not picked up
	late := hub.NewSource("Telemetry-Late")
	assert.False(t, late.IsEnabled(source.LevelLogAlways))
}

func TestCloseDuringEnableLeavesNoSubscription(t *testing.T) {
	hub := source.NewHub()
	store := newMemStore(1024)

	var l *Listener
	l, err := newListener(hub, store, testOptions(), func(src *source.Source, level source.Level) {
		// Close lands between the closed check and the subscription
		l.Close()
		src.Enable(l, level)
	})
	require.NoError(t, err)

	src := hub.NewSource("Telemetry-Racing")
	assert.False(t, src.IsEnabled(source.LevelLogAlways))
	assert.Empty(t, l.Sources())

	src.Write(source.LevelError, "late")
	assert.Empty(t, store.contents())
}
