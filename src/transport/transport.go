// Package transport defines the proximity channel that carries a shipment
// record from the carrier's device to the receiver's device. The physical
// mechanism (NFC tap, QR relay, cable) is platform-owned; the core only sees
// an opaque byte channel with a hard size ceiling.
package transport

import (
	"errors"
	"fmt"
)

// DefaultCapacity is the default payload ceiling in bytes. Proximity links
// carry on the order of a few KB per tap.
const DefaultCapacity = 4096

// ErrEmpty is returned by Read when no frame is pending.
var ErrEmpty = errors.New("transport: no pending frame")

// CapacityError reports a payload that exceeds the channel's size ceiling. It
// is surfaced before any transport write is attempted.
type CapacityError struct {
	Size  int
	Limit int
}

// Error implements the error interface
func (e CapacityError) Error() string {
	return fmt.Sprintf("payload of %d bytes exceeds transport ceiling of %d bytes", e.Size, e.Limit)
}

// IsCapacity checks whether an error is a CapacityError.
func IsCapacity(err error) bool {
	_, ok := err.(CapacityError)
	return ok
}

// CheckCapacity validates a payload size against a ceiling.
func CheckCapacity(size, limit int) error {
	if size > limit {
		return CapacityError{Size: size, Limit: limit}
	}
	return nil
}

// Channel is the byte-transfer contract a proximity device must provide.
// Write may be retried by the physical device on transient I/O failure, so
// everything downstream of a Channel must tolerate duplicate frames.
type Channel interface {
	// Write queues one frame for the other side. It must reject oversized
	// frames with a CapacityError before touching the physical layer.
	Write(p []byte) error

	// Read pops the next pending frame, or returns ErrEmpty.
	Read() ([]byte, error)

	// Capacity returns the channel's payload ceiling in bytes.
	Capacity() int
}
