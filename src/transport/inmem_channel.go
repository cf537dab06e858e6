package transport

import (
	"sync"
)

// InmemChannel implements Channel in memory. It allows the handshake to be
// exercised end-to-end without physical devices, and models the tap as a
// FIFO of frames.
type InmemChannel struct {
	sync.Mutex

	frames   [][]byte
	capacity int
}

// NewInmemChannel creates an InmemChannel with the given payload ceiling. A
// non-positive capacity falls back to DefaultCapacity.
func NewInmemChannel(capacity int) *InmemChannel {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &InmemChannel{
		capacity: capacity,
	}
}

// Write implements Channel.
func (c *InmemChannel) Write(p []byte) error {
	if err := CheckCapacity(len(p), c.capacity); err != nil {
		return err
	}

	c.Lock()
	defer c.Unlock()

	frame := append([]byte(nil), p...)
	c.frames = append(c.frames, frame)

	return nil
}

// Read implements Channel.
func (c *InmemChannel) Read() ([]byte, error) {
	c.Lock()
	defer c.Unlock()

	if len(c.frames) == 0 {
		return nil, ErrEmpty
	}

	frame := c.frames[0]
	c.frames = c.frames[1:]

	return frame, nil
}

// Capacity implements Channel.
func (c *InmemChannel) Capacity() int {
	return c.capacity
}
