package hdbus

import (
	"context"
	"sync"
	"sync/atomic"
)

/*
FrameChannel is the bounded ring-buffer pair described in §3 and §4.D: one
ring carries outbound frames from the external IP stack to the driver, the
other carries inbound frames from the driver to the stack. Each ring is
strictly single-producer-single-consumer; a producer that finds its ring full
suspends until the consumer releases a slot, and vice versa.

Slots are handed out by reference (a *Frame into the ring's own backing
array), never copied, so that "acquire, mutate in place, release" composes
the way §3's TxRingSlot/RxRingSlot invariants require.
*/

// Frame is an opaque byte buffer up to FrameCapacity bytes. The driver never
// parses or checksums it.
type Frame struct {
	Data []byte
	N    int
}

// Bytes returns the valid payload of the frame.
func (f *Frame) Bytes() []byte {
	return f.Data[:f.N]
}

type frameRing struct {
	mu     sync.Mutex
	notify chan struct{}
	frames []Frame
	filled []bool
	head   int
	tail   int
}

func newFrameRing(depth, capacity int) *frameRing {
	r := &frameRing{
		frames: make([]Frame, depth),
		filled: make([]bool, depth),
		notify: make(chan struct{}),
	}
	for i := range r.frames {
		r.frames[i].Data = make([]byte, capacity)
	}
	return r
}

// wake broadcasts to every blocked acquirer by closing the current notify
// channel and swapping in a fresh one; must be called with mu held.
func (r *frameRing) wake() {
	close(r.notify)
	r.notify = make(chan struct{})
}

func (r *frameRing) producerAcquire(ctx context.Context) (*Frame, error) {
	r.mu.Lock()
	for r.filled[r.tail] {
		ch := r.notify
		r.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		r.mu.Lock()
	}
	f := &r.frames[r.tail]
	r.mu.Unlock()
	return f, nil
}

func (r *frameRing) producerCommit(n int) {
	r.mu.Lock()
	r.frames[r.tail].N = n
	r.filled[r.tail] = true
	r.tail = (r.tail + 1) % len(r.frames)
	r.wake()
	r.mu.Unlock()
}

func (r *frameRing) consumerAcquire(ctx context.Context) (*Frame, error) {
	r.mu.Lock()
	for !r.filled[r.head] {
		ch := r.notify
		r.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		r.mu.Lock()
	}
	f := &r.frames[r.head]
	r.mu.Unlock()
	return f, nil
}

// consumerRelease frees the slot at head and advances past it. An
// acquisition that is never released leaves the ring untouched, so the next
// acquisition returns the same frame — the driver relies on this by not
// calling TxDone after a failed write (the head-of-line retry rule in §5).
func (r *frameRing) consumerRelease() {
	r.mu.Lock()
	r.filled[r.head] = false
	r.head = (r.head + 1) % len(r.frames)
	r.wake()
	r.mu.Unlock()
}

// FrameChannel exposes the driver's ring-buffer pair to an external IP
// stack, along with the link-state and station-identifier handle described
// in §4.D and §6.
type FrameChannel struct {
	station [6]byte
	mtu     int

	tx *frameRing
	rx *frameRing

	up atomic.Bool
}

// NewFrameChannel builds a FrameChannel with ChannelDepth slots of
// FrameCapacity bytes each (both overridable via cfg), for the given
// station identifier.
func NewFrameChannel(cfg Config) *FrameChannel {
	depth := cfg.channelDepth()
	capacity := cfg.frameCapacity()
	c := &FrameChannel{
		station: cfg.Station,
		mtu:     capacity,
		tx:      newFrameRing(depth, capacity),
		rx:      newFrameRing(depth, capacity),
	}
	return c
}

// Station returns this channel's six-byte station identifier.
func (c *FrameChannel) Station() [6]byte {
	return c.station
}

// MTU returns the maximum frame size this channel carries.
func (c *FrameChannel) MTU() int {
	return c.mtu
}

// LinkUp reports whether the owning driver's loop is currently running.
func (c *FrameChannel) LinkUp() bool {
	return c.up.Load()
}

func (c *FrameChannel) setLinkUp(up bool) {
	c.up.Store(up)
}

// TxBuf suspends until an outbound frame is available and returns a
// reference to its payload slice. Driver-side only.
func (c *FrameChannel) TxBuf(ctx context.Context) (*Frame, error) {
	return c.tx.consumerAcquire(ctx)
}

// TxDone releases the TX slot acquired by the last TxBuf call back to the
// producer. Driver-side only.
func (c *FrameChannel) TxDone() {
	c.tx.consumerRelease()
}

// RxBuf suspends until an RX slot is free and returns a writable reference.
// Driver-side only.
func (c *FrameChannel) RxBuf(ctx context.Context) (*Frame, error) {
	return c.rx.producerAcquire(ctx)
}

// RxDone publishes the first n bytes of the RX slot acquired by the last
// RxBuf call to the consumer. Driver-side only.
func (c *FrameChannel) RxDone(n int) {
	c.rx.producerCommit(n)
}

// EnqueueTx copies data into the next free TX slot and publishes it,
// suspending until a slot is available. This is the external IP stack's
// producer side of the TX ring.
func (c *FrameChannel) EnqueueTx(ctx context.Context, data []byte) error {
	if len(data) > c.mtu {
		return OverflowErrorF("outbound frame of %d bytes exceeds MTU %d", len(data), c.mtu)
	}
	f, err := c.tx.producerAcquire(ctx)
	if err != nil {
		return err
	}
	n := copy(f.Data, data)
	c.tx.producerCommit(n)
	return nil
}

// DequeueRx suspends until an inbound frame is available, and returns a copy
// of its bytes. This is the external IP stack's consumer side of the RX
// ring.
func (c *FrameChannel) DequeueRx(ctx context.Context) ([]byte, error) {
	f, err := c.rx.consumerAcquire(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]byte, f.N)
	copy(out, f.Data[:f.N])
	c.rx.consumerRelease()
	return out, nil
}
