// Package recorder owns the ring file and the capture listener and keeps
// both in line with the diagnostics configuration as it changes at runtime.
package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxpert/selfdiag/capture"
	"github.com/maxpert/selfdiag/cfg"
	"github.com/maxpert/selfdiag/ring"
	"github.com/maxpert/selfdiag/source"
	"github.com/maxpert/selfdiag/telemetry"
	"github.com/rs/zerolog/log"
)

// ReloadFunc returns the latest diagnostics settings
type ReloadFunc func() (*cfg.DiagnosticsConfiguration, error)

// Options for New. Zero values pick sensible defaults.
type Options struct {
	Hub      *source.Hub // defaults to source.Default
	Process  string      // file name prefix, defaults to the executable name
	Instance uint64
	Reload   ReloadFunc // nil disables periodic refresh
}

// Stats describes the recorder for the admin endpoint
type Stats struct {
	Enabled        bool     `json:"enabled"`
	Path           string   `json:"path,omitempty"`
	Capacity       int64    `json:"capacity"`
	Position       int64    `json:"position"`
	Cursor         int64    `json:"cursor"`
	Wraps          int64    `json:"wraps"`
	Level          string   `json:"level"`
	TimeKind       string   `json:"time_kind"`
	Sources        []string `json:"sources"`
	ScratchBuffers int      `json:"scratch_buffers"`
}

// Recorder records events from matching sources into a ring file
type Recorder struct {
	hub      *source.Hub
	process  string
	pid      int
	instance uint64
	reload   ReloadFunc

	// read on every event, swapped on refresh
	store atomic.Pointer[ring.FileStore]

	// serializes Apply, guards everything below
	mu       sync.Mutex
	current  cfg.DiagnosticsConfiguration
	listener *capture.Listener

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// FilePath returns the ring file path for a process
func FilePath(dir, process string, pid int) string {
	return filepath.Join(dir, fmt.Sprintf("%s.%d.log", process, pid))
}

func processName() string {
	name := filepath.Base(os.Args[0])
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// New applies diag and returns a recorder that is already capturing.
// Call Start to begin picking up configuration changes.
func New(diag cfg.DiagnosticsConfiguration, opts Options) (*Recorder, error) {
	r := &Recorder{
		hub:      opts.Hub,
		process:  opts.Process,
		pid:      os.Getpid(),
		instance: opts.Instance,
		reload:   opts.Reload,
		stopCh:   make(chan struct{}),
	}
	if r.hub == nil {
		r.hub = source.Default
	}
	if r.process == "" {
		r.process = processName()
	}

	diag.Normalize()
	if err := diag.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.applyLocked(diag, true); err != nil {
		r.closeLocked()
		return nil, err
	}

	return r, nil
}

// Reserve implements capture.Reserver over the current ring file
func (r *Recorder) Reserve(n int) (ring.Reservation, bool) {
	store := r.store.Load()
	if store == nil {
		return ring.Reservation{}, false
	}
	return store.Reserve(n)
}

// Apply moves the recorder to new settings. Invalid settings are rejected
// and the current ones stay in effect.
func (r *Recorder) Apply(next cfg.DiagnosticsConfiguration) error {
	next.Normalize()
	if err := next.Validate(); err != nil {
		log.Warn().Err(err).Msg("Ignoring invalid diagnostics configuration")
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.applyLocked(next, false)
}

func (r *Recorder) applyLocked(next cfg.DiagnosticsConfiguration, initial bool) error {
	prev := r.current

	// a failed open leaves no store behind even though prev says enabled
	reopen := next.Enabled && r.store.Load() == nil
	if initial || reopen || storeChanged(prev, next) {
		if err := r.swapStoreLocked(next); err != nil {
			return err
		}
	}

	switch {
	case !next.Enabled:
		r.closeListenerLocked()
	case r.listener == nil || listenerChanged(prev, next):
		if err := r.rebuildListenerLocked(next); err != nil {
			return err
		}
	case prev.Level() != next.Level():
		r.listener.SetLevel(next.Level())
		log.Info().Str("level", next.Level().String()).Msg("Diagnostics level changed")
	}

	r.current = next
	return nil
}

func storeChanged(prev, next cfg.DiagnosticsConfiguration) bool {
	return prev.Enabled != next.Enabled ||
		(next.Enabled && (prev.LogDirectory != next.LogDirectory || prev.FileSizeKB != next.FileSizeKB))
}

func listenerChanged(prev, next cfg.DiagnosticsConfiguration) bool {
	return !slices.Equal(prev.SourcePatterns, next.SourcePatterns) ||
		prev.Kind() != next.Kind() ||
		prev.ScratchBufferSize != next.ScratchBufferSize
}

// swapStoreLocked closes the current ring file and, when enabled, opens the
// one next describes. The old file is closed first because the new one may
// have the same path. If the open fails recording stays off until a later
// refresh succeeds.
func (r *Recorder) swapStoreLocked(next cfg.DiagnosticsConfiguration) error {
	if old := r.store.Swap(nil); old != nil {
		if err := old.Close(); err != nil {
			log.Warn().Err(err).Str("path", old.Path()).Msg("Failed to close ring file")
		}
	}

	if !next.Enabled {
		log.Info().Msg("Diagnostics recording disabled")
		return nil
	}

	path := FilePath(next.LogDirectory, r.process, r.pid)
	store, err := ring.OpenFileStore(path, next.FileSizeBytes(), r.instance)
	if err != nil {
		return fmt.Errorf("failed to open diagnostics ring: %w", err)
	}

	r.store.Store(store)
	telemetry.StoreReopensTotal.Inc()
	log.Info().
		Str("path", path).
		Int64("capacity", store.Capacity()).
		Msg("Diagnostics ring file opened")
	return nil
}

// rebuildListenerLocked replaces the listener. The old one goes first so no
// event is recorded twice.
func (r *Recorder) rebuildListenerLocked(next cfg.DiagnosticsConfiguration) error {
	r.closeListenerLocked()

	l, err := capture.New(r.hub, r, capture.Options{
		Patterns:   next.SourcePatterns,
		Level:      next.Level(),
		TimeKind:   next.Kind(),
		BufferSize: next.ScratchBufferSize,
	})
	if err != nil {
		return fmt.Errorf("failed to create capture listener: %w", err)
	}

	r.listener = l
	log.Debug().
		Strs("patterns", next.SourcePatterns).
		Str("level", next.Level().String()).
		Strs("sources", l.Sources()).
		Msg("Diagnostics listener subscribed")
	return nil
}

func (r *Recorder) closeListenerLocked() {
	if r.listener != nil {
		r.listener.Close()
		r.listener = nil
	}
}

// Refresh reloads the settings and applies them. Reload failures keep the
// current settings.
func (r *Recorder) Refresh() error {
	if r.reload == nil {
		return nil
	}

	next, err := r.reload()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to reload diagnostics configuration")
		return err
	}
	return r.Apply(*next)
}

// Start begins periodic refresh and metadata sync
func (r *Recorder) Start() {
	r.wg.Add(1)
	go r.refreshLoop()
}

func (r *Recorder) refreshLoop() {
	defer r.wg.Done()

	interval := r.refreshInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = r.Refresh()
			if err := r.Sync(); err != nil {
				log.Debug().Err(err).Msg("Failed to sync diagnostics ring")
			}

			if next := r.refreshInterval(); next != interval {
				interval = next
				ticker.Reset(interval)
			}
		case <-r.stopCh:
			return
		}
	}
}

func (r *Recorder) refreshInterval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current.RefreshInterval()
}

// Stop ends the refresh loop, unsubscribes from every source and closes the
// ring file. It is safe to call more than once.
func (r *Recorder) Stop() error {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeLocked()
}

func (r *Recorder) closeLocked() error {
	r.closeListenerLocked()
	if store := r.store.Swap(nil); store != nil {
		return store.Close()
	}
	return nil
}

// Sync flushes the ring file and its metadata
func (r *Recorder) Sync() error {
	store := r.store.Load()
	if store == nil {
		return nil
	}
	return store.Sync()
}

// Path returns the current ring file, or "" while disabled
func (r *Recorder) Path() string {
	store := r.store.Load()
	if store == nil {
		return ""
	}
	return store.Path()
}

// Settings returns the settings in effect
func (r *Recorder) Settings() cfg.DiagnosticsConfiguration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Sources returns the names of the sources being recorded
func (r *Recorder) Sources() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return nil
	}
	return r.listener.Sources()
}

// StoreStats implements telemetry.StatsProvider
func (r *Recorder) StoreStats() telemetry.StoreStats {
	var st telemetry.StoreStats
	if store := r.store.Load(); store != nil {
		s := store.Stats()
		st.Capacity = s.Capacity
		st.Position = s.Position
		st.Wraps = s.Wraps
	}

	r.mu.Lock()
	if r.listener != nil {
		st.ScratchCount = r.listener.Buffers().Len()
	}
	r.mu.Unlock()
	return st
}

// Stats returns a snapshot for the admin endpoint
func (r *Recorder) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := Stats{
		Enabled:  r.current.Enabled,
		Level:    r.current.Level().String(),
		TimeKind: r.current.Kind().String(),
		Sources:  []string{},
	}
	if store := r.store.Load(); store != nil {
		s := store.Stats()
		st.Path = store.Path()
		st.Capacity = s.Capacity
		st.Position = s.Position
		st.Cursor = s.Cursor
		st.Wraps = s.Wraps
	}
	if r.listener != nil {
		st.Sources = r.listener.Sources()
		st.ScratchBuffers = r.listener.Buffers().Len()
	}
	return st
}
