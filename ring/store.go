package ring

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// Store capacity bounds
const (
	MinCapacity = 1 << 10
	MaxCapacity = 1 << 30
)

// Stats is a point-in-time view of a store's write cursor
type Stats struct {
	Capacity int64
	Position int64 // logical bytes reserved since open
	Cursor   int64 // physical offset of the next write
	Wraps    int64
}

// FileStore is a fixed-size file used as a ring of bytes.
//
// The logical write position only ever grows; its value modulo the capacity
// is the physical offset. Reserve is lock-free, so any number of goroutines
// may reserve and write concurrently without their ranges overlapping, as
// long as no single reservation exceeds the capacity.
type FileStore struct {
	file     *os.File
	path     string
	capacity int64
	instance uint64

	position atomic.Int64
	closed   atomic.Bool

	// serializes Sync and Close
	mu sync.Mutex
}

// OpenFileStore creates (or recreates) the ring file at path with the given
// capacity. Existing contents are discarded and the cursor starts at 0.
func OpenFileStore(path string, capacity int64, instance uint64) (*FileStore, error) {
	if capacity < MinCapacity || capacity > MaxCapacity {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidCapacity, capacity)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open ring file %s: %w", path, err)
	}

	if err := f.Truncate(capacity); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to size ring file %s: %w", path, err)
	}

	s := &FileStore{
		file:     f,
		path:     path,
		capacity: capacity,
		instance: instance,
	}

	if err := WriteMetadata(path, s.metadata()); err != nil {
		f.Close()
		return nil, err
	}

	return s, nil
}

// Path returns the ring file path
func (s *FileStore) Path() string {
	return s.path
}

// Capacity returns the ring size in bytes
func (s *FileStore) Capacity() int64 {
	return s.capacity
}

// Reserve claims n bytes at the write cursor. It fails when the store is
// closed or n can never fit.
func (s *FileStore) Reserve(n int) (Reservation, bool) {
	if n <= 0 || int64(n) > s.capacity || s.closed.Load() {
		return Reservation{}, false
	}

	end := s.position.Add(int64(n))
	begin := (end - int64(n)) % s.capacity

	return Reservation{
		w:         s.file,
		pos:       begin,
		Available: int(s.capacity - begin),
	}, true
}

// Stats returns the current cursor position
func (s *FileStore) Stats() Stats {
	pos := s.position.Load()
	return Stats{
		Capacity: s.capacity,
		Position: pos,
		Cursor:   pos % s.capacity,
		Wraps:    pos / s.capacity,
	}
}

// Sync flushes the ring file and refreshes the metadata sidecar
func (s *FileStore) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return ErrClosed
	}
	return s.syncLocked()
}

func (s *FileStore) syncLocked() error {
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync ring file: %w", err)
	}
	return WriteMetadata(s.path, s.metadata())
}

// Close syncs and closes the ring file. Reservations taken before Close
// fail their writes with an error; later Reserve calls return false.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	syncErr := s.syncLocked()
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("failed to close ring file: %w", err)
	}
	return syncErr
}

func (s *FileStore) metadata() Metadata {
	st := s.Stats()
	return Metadata{
		Capacity:  st.Capacity,
		Cursor:    st.Cursor,
		Wraps:     st.Wraps,
		Instance:  s.instance,
		UpdatedAt: time.Now().UnixMilli(),
	}
}
