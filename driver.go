package hdbus

import (
	"context"
)

/*
HalfDuplexDriver is the main loop of §4.E: indefinitely arbitrate one
transceiver and one FrameChannel, applying the BackoffScheduler on
contention. Each iteration starts a transmit attempt and a receive attempt
as independently cancellable goroutines; whichever finishes first wins, and
the loser is cancelled — the Go rendition of the spec's
select(transmit(), receive()) branch-drop idiom. All state that must
survive a drop (in_backoff, the backoff scheduler's armed timer) lives on
the driver struct, never in a goroutine-local variable, per the §9
branch-drop-correctness note.
*/

// transceiver is the subset of *Transceiver the driver depends on, broken
// out as an interface so tests can substitute a fake without a real Line.
type transceiver interface {
	ReadUntilIdle(ctx context.Context, buf []byte) (int, error)
	Write(ctx context.Context, buf []byte) error
	IsLineFree() bool
}

// HalfDuplexDriver arbitrates one transceiver against one FrameChannel.
type HalfDuplexDriver struct {
	transceiver transceiver
	channel     *FrameChannel
	backoff     *BackoffScheduler
	diag        *diagnosticManager
	onGiveUp    func(frame []byte)

	inBackoff bool
}

// NewHalfDuplexDriver builds a driver over tc and channel, using timer and
// cfg's entropy source to drive the backoff scheduler.
func NewHalfDuplexDriver(tc transceiver, channel *FrameChannel, timer OneShotTimer, cfg Config) *HalfDuplexDriver {
	if timer == nil {
		timer = newDefaultTimer()
	}
	return &HalfDuplexDriver{
		transceiver: tc,
		channel:     channel,
		backoff:     NewBackoffScheduler(timer, cfg.entropy(), cfg.backoffCap()),
		diag:        newDiagnosticManager(),
		onGiveUp:    cfg.OnGiveUp,
	}
}

// Diagnostics returns a snapshot of this driver's counters.
func (d *HalfDuplexDriver) Diagnostics() Diagnostics {
	return d.diag.get()
}

// EventLog returns the most recent (up to 64) diagnostic event codes, most
// recent first.
func (d *HalfDuplexDriver) EventLog() []int {
	return d.diag.getEventLog()
}

// Run executes the main loop until ctx is cancelled, and returns ctx's
// error. It reports the link as up for the duration of the call, per the
// link-state query contract in §6.
func (d *HalfDuplexDriver) Run(ctx context.Context) error {
	d.channel.setLinkUp(true)
	defer d.channel.setLinkUp(false)

	for ctx.Err() == nil {
		txCtx, cancelTx := context.WithCancel(ctx)
		rxCtx, cancelRx := context.WithCancel(ctx)
		txDone := make(chan struct{})
		rxDone := make(chan struct{})

		go func() {
			d.transmit(txCtx)
			close(txDone)
		}()
		go func() {
			d.receive(rxCtx)
			close(rxDone)
		}()

		select {
		case <-txDone:
			cancelRx()
			<-rxDone
		case <-rxDone:
			cancelTx()
			<-txDone
		}
		cancelTx()
		cancelRx()
	}
	return ctx.Err()
}

// transmit runs one iteration of the transmit state machine in §4.E.
func (d *HalfDuplexDriver) transmit(ctx context.Context) {
	if d.inBackoff {
		if err := d.backoff.Resume(ctx); err != nil {
			// Dropped mid-wait; in_backoff and the armed timer survive
			// untouched for the next iteration to resume again.
			return
		}
		d.inBackoff = false
	}

	if !d.transceiver.IsLineFree() {
		d.incrementBackoff(nil)
		d.awaitIdle(ctx)
		return
	}

	frame, err := d.channel.TxBuf(ctx)
	if err != nil {
		// Cancelled while waiting for a frame; the ring is untouched.
		return
	}

	if err := d.transceiver.Write(ctx, frame.Bytes()); err != nil {
		d.recordWriteError(err)
		d.incrementBackoff(frame)
		return
	}

	d.channel.TxDone()
	d.backoff.Clear()
	d.inBackoff = false
	d.diag.txDone()
}

func (d *HalfDuplexDriver) recordWriteError(err error) {
	herr, ok := err.(*Error)
	if !ok {
		return
	}
	switch herr.Code() {
	case CodeFraming:
		d.diag.framing()
	case CodeCollision:
		d.diag.collision()
	}
}

// incrementBackoff sets in_backoff and asks the scheduler for the next
// delay. If the scheduler gives up, the frame (if one was acquired) is
// dropped via tx_done so the producer can reuse the slot, and in_backoff is
// cleared so the next iteration starts fresh. frame is nil when called from
// the line-busy branch, which never acquired a slot in the first place.
func (d *HalfDuplexDriver) incrementBackoff(frame *Frame) {
	d.inBackoff = true
	if err := d.backoff.Increment(); err != nil {
		d.diag.giveUp()
		if frame != nil {
			if d.onGiveUp != nil {
				dropped := make([]byte, frame.N)
				copy(dropped, frame.Bytes())
				d.onGiveUp(dropped)
			}
			d.channel.TxDone()
		}
		d.inBackoff = false
	}
}

// awaitIdle never completes: a busy line suspends TX until any RX event
// (even a spurious one) causes the enclosing select in Run to drop this
// branch and restart the loop, at which point IsLineFree is rechecked.
func (d *HalfDuplexDriver) awaitIdle(ctx context.Context) {
	<-ctx.Done()
}

// receive runs one iteration of the receive state machine in §4.E.
func (d *HalfDuplexDriver) receive(ctx context.Context) {
	slot, err := d.channel.RxBuf(ctx)
	if err != nil {
		return
	}

	n, err := d.transceiver.ReadUntilIdle(ctx, slot.Data)
	if err != nil {
		if herr, ok := err.(*Error); ok {
			switch herr.Code() {
			case CodeFraming:
				d.diag.framing()
			case CodeOverflow:
				d.diag.overflow()
			}
		}
		// Discarded: the slot was never committed, so the next iteration's
		// RxBuf reacquires the same slot.
		return
	}

	d.channel.RxDone(n)
	d.diag.rxDone()
}
