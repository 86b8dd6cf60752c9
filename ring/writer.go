// Package ring implements the circular backing store for diagnostic lines.
//
// A store hands out Reservations: exclusive grants for a byte count at the
// current write cursor, together with how many bytes fit before the end of
// the store. Write turns a reservation into one or two physical writes,
// wrapping to offset 0 when the grant crosses the end. The oldest bytes are
// overwritten silently; nothing in this package tracks what was lost.
package ring

import (
	"errors"
	"fmt"
	"io"
)

var (
	// ErrClosed is returned when writing through a reservation whose store is gone
	ErrClosed = errors.New("ring: store closed")
	// ErrInvalidCapacity is returned for stores that cannot hold a single byte
	ErrInvalidCapacity = errors.New("ring: invalid capacity")
)

// Reservation is a grant to write a fixed number of bytes starting at a
// position in a store. Available is the number of bytes that can be written
// contiguously before the store must wrap.
//
// The zero value is not usable. Reservations are values so that the capture
// path can keep them on the stack.
type Reservation struct {
	w         io.WriterAt
	pos       int64
	Available int
}

// NewReservation builds a reservation over any io.WriterAt.
func NewReservation(w io.WriterAt, pos int64, available int) Reservation {
	return Reservation{w: w, pos: pos, Available: available}
}

// Write writes p at the current position and advances it.
func (r *Reservation) Write(p []byte) (int, error) {
	if r.w == nil {
		return 0, ErrClosed
	}
	n, err := r.w.WriteAt(p, r.pos)
	r.pos += int64(n)
	return n, err
}

// Seek repositions the reservation. Only io.SeekStart and io.SeekCurrent are
// supported; the store's size is not known to the reservation.
func (r *Reservation) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = r.pos + offset
	default:
		return r.pos, fmt.Errorf("ring: unsupported whence %d", whence)
	}
	if next < 0 {
		return r.pos, fmt.Errorf("ring: negative position %d", next)
	}
	r.pos = next
	return next, nil
}

// Position returns the physical offset of the next byte to be written.
func (r *Reservation) Position() int64 {
	return r.pos
}

// Write performs the physical write for p under res. When p does not fit
// before the end of the store, the head goes to the end and the tail is
// written from offset 0.
func Write(p []byte, res *Reservation) error {
	if res.Available >= len(p) {
		return writeFull(res, p)
	}

	head := res.Available
	if head < 0 {
		head = 0
	}
	if err := writeFull(res, p[:head]); err != nil {
		return err
	}
	if _, err := res.Seek(0, io.SeekStart); err != nil {
		return err
	}
	return writeFull(res, p[head:])
}

func writeFull(res *Reservation, p []byte) error {
	if len(p) == 0 {
		return nil
	}
	n, err := res.Write(p)
	if err != nil {
		return err
	}
	if n != len(p) {
		return io.ErrShortWrite
	}
	return nil
}
