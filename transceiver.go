package hdbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

/*
Transceiver is the collision-sensing, idle-delimited half-duplex UART
abstraction of §4.B. Per the §9 design note ("encapsulate both roles in one
Transceiver type owning the peripheral exclusively"), one Transceiver owns
one Line exclusively; ReadUntilIdle and Write are mutually exclusive via
rxLock rather than via raw aliasing pointers, which removes the aliasing
hazard the original design worked around with unsafe pointers.
*/

// Line is the physical half-duplex medium a Transceiver drives: writing to
// it is echoed back into the byte stream every reader (including the writer
// itself) observes, because all stations share one wire.
type Line interface {
	// Bytes returns the stream of bytes arriving on the line. It is closed
	// when the line is torn down.
	Bytes() <-chan byte
	// Write sends p out over the line, blocking until it has been handed to
	// the hardware (or simulated peer). It may return early with an error
	// if ctx is cancelled first.
	Write(ctx context.Context, p []byte) (int, error)
}

// Transceiver implements the collision-sensing write and idle-delimited read
// described in §4.B over one Line.
type Transceiver struct {
	line           Line
	idleGap        time.Duration
	echoProbeBytes int
	isLineFree     func() bool

	incoming <-chan byte

	rxLock   sync.Mutex
	rxStolen atomic.Bool
}

// NewTransceiver builds a Transceiver over line, treating a gap of idleGap
// with no incoming bytes as end-of-frame, and comparing the first
// echoProbeBytes bytes of a write against their echo to detect collisions.
func NewTransceiver(line Line, idleGap time.Duration, echoProbeBytes int) *Transceiver {
	if echoProbeBytes <= 0 {
		echoProbeBytes = EchoProbeBytes
	}
	return &Transceiver{
		line:           line,
		idleGap:        idleGap,
		echoProbeBytes: echoProbeBytes,
		isLineFree:     func() bool { return true },
		incoming:       line.Bytes(),
	}
}

// IsLineFree is a best-effort instantaneous idle check. The reference
// hardware always returns true here (see the open question in §9); this
// implementation keeps that conservative default but lets a caller install a
// sharper one.
func (t *Transceiver) IsLineFree() bool {
	return t.isLineFree()
}

// SetLineFreeCheck overrides the IsLineFree policy, e.g. with a real
// hardware idle-line read for a backend that can provide one.
func (t *Transceiver) SetLineFreeCheck(f func() bool) {
	t.isLineFree = f
}

// ReadUntilIdle suspends until the line has been idle for one inter-byte
// time after at least one byte, or buf fills. If the transmitter has stolen
// the receiver for echo sensing, this call suspends indefinitely instead of
// returning — the enclosing select is expected to drop it, per §4.B.
func (t *Transceiver) ReadUntilIdle(ctx context.Context, buf []byte) (int, error) {
	t.rxLock.Lock()
	t.rxStolen.Store(false)

	n := 0
	idle := time.NewTimer(t.idleGap)
	defer idle.Stop()

	for {
		if t.rxStolen.Load() {
			t.rxLock.Unlock()
			<-ctx.Done()
			return 0, ctx.Err()
		}
		select {
		case b, ok := <-t.incoming:
			if !ok {
				t.rxLock.Unlock()
				return 0, FramingErrorF("line closed during read")
			}
			if t.rxStolen.Load() {
				// The transmitter seized the line between our select firing
				// and our handling of it; drop the byte and suspend.
				t.rxLock.Unlock()
				<-ctx.Done()
				return 0, ctx.Err()
			}
			if n >= len(buf) {
				t.rxLock.Unlock()
				return 0, OverflowErrorF("inbound frame exceeds %d-byte slot", len(buf))
			}
			buf[n] = b
			n++
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(t.idleGap)
		case <-idle.C:
			if n > 0 {
				t.rxLock.Unlock()
				return n, nil
			}
			idle.Reset(t.idleGap)
		case <-ctx.Done():
			t.rxLock.Unlock()
			return 0, ctx.Err()
		}
	}
}

func collisionOccurred(echo, sent []byte) bool {
	n := min(len(echo), len(sent))
	for i := 0; i < n; i++ {
		if echo[i] != sent[i] {
			return true
		}
	}
	return false
}

type echoResult struct {
	bytes []byte
	err   error
}

// Write performs the collision-sensing duplex write described in §4.B: it
// steals the receiver for echo sensing, races the echo read against the
// outbound write, and classifies the outcome.
func (t *Transceiver) Write(ctx context.Context, buf []byte) error {
	t.rxStolen.Store(true)
	t.rxLock.Lock()
	defer t.rxLock.Unlock()

	probeLen := min(t.echoProbeBytes, len(buf))

	echoCtx, cancelEcho := context.WithCancel(ctx)
	defer cancelEcho()
	echoCh := make(chan echoResult, 1)
	go func() {
		got := make([]byte, 0, probeLen)
		for len(got) < probeLen {
			select {
			case b, ok := <-t.incoming:
				if !ok {
					echoCh <- echoResult{got, FramingErrorF("line closed during echo read")}
					return
				}
				got = append(got, b)
			case <-echoCtx.Done():
				echoCh <- echoResult{got, echoCtx.Err()}
				return
			}
		}
		echoCh <- echoResult{got, nil}
	}()

	txCtx, cancelTx := context.WithCancel(ctx)
	defer cancelTx()
	txCh := make(chan error, 1)
	go func() {
		_, err := t.line.Write(txCtx, buf)
		txCh <- err
	}()

	select {
	case txErr := <-txCh:
		if txErr != nil {
			cancelEcho()
			return FramingErrorF("transmit error with no prior echo: %v", txErr)
		}
		// Line.Write returns once the bytes are handed to the line, which can
		// be before their echo has been read back. A correctly wired
		// half-duplex line echoes them within one idle gap; no echo by then
		// means the wiring is wrong.
		grace := time.NewTimer(t.idleGap)
		defer grace.Stop()
		select {
		case echoRes := <-echoCh:
			if echoRes.err != nil || collisionOccurred(echoRes.bytes, buf) {
				return CollisionErrorF("echo mismatch or echo read failure in first %d bytes", probeLen)
			}
			return nil
		case <-grace.C:
			cancelEcho()
			return FramingErrorF("transmit completed but no echo arrived within %s (line not wired for half duplex?)", t.idleGap)
		}
	case echoRes := <-echoCh:
		if echoRes.err != nil {
			cancelTx()
			<-txCh
			return CollisionErrorF("echo read failed: %v", echoRes.err)
		}
		if collisionOccurred(echoRes.bytes, buf) {
			cancelTx()
			<-txCh
			return CollisionErrorF("echo mismatch in first %d bytes", probeLen)
		}
		select {
		case txErr := <-txCh:
			if txErr != nil {
				return FramingErrorF("transmit failed: %v", txErr)
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
