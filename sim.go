package hdbus

import (
	"context"
	"sync"
)

/*
SimulatedBus is an in-memory half-duplex medium: every byte written by any
attached SimulatedLine is broadcast to every attached line, including the
writer's own — reproducing the defining property of the real hardware this
driver targets (§1: "a correctly wired half-duplex line must echo"). It is
used by this repository's tests and by cmd/hdbussim, standing in for the
§8 "simulated echo"/"simulated line" scenarios.
*/

// SimulatedBus is a shared medium that multiple SimulatedLines attach to.
type SimulatedBus struct {
	mu   sync.Mutex
	subs []chan byte
}

// NewSimulatedBus creates an empty bus.
func NewSimulatedBus() *SimulatedBus {
	return &SimulatedBus{}
}

// Attach joins a new station to the bus and returns its Line.
func (b *SimulatedBus) Attach() *SimulatedLine {
	ch := make(chan byte, 8192)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return &SimulatedLine{bus: b, incoming: ch}
}

// broadcast delivers data to every attached subscriber in order.
func (b *SimulatedBus) broadcast(ctx context.Context, data []byte) {
	b.mu.Lock()
	subs := make([]chan byte, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, bt := range data {
		for _, ch := range subs {
			select {
			case ch <- bt:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Inject delivers data to every attached station as if some other,
// unmodeled station had transmitted it — useful for exercising RX behavior
// independent of any local write (§8 scenario D).
func (b *SimulatedBus) Inject(data []byte) {
	b.broadcast(context.Background(), data)
}

// SimulatedLine is one station's view of a SimulatedBus.
type SimulatedLine struct {
	bus      *SimulatedBus
	incoming chan byte

	// Corrupt, when set, rewrites the bytes this station observes echoed
	// back from its own Write calls, simulating a second station
	// transmitting over the same slot and producing a garbled echo (§8
	// scenarios B and C).
	Corrupt func(sent []byte) []byte
}

// Bytes implements Line.
func (l *SimulatedLine) Bytes() <-chan byte {
	return l.incoming
}

// Write implements Line.
func (l *SimulatedLine) Write(ctx context.Context, p []byte) (int, error) {
	wire := p
	if l.Corrupt != nil {
		wire = l.Corrupt(p)
	}
	l.bus.broadcast(ctx, wire)
	return len(p), nil
}
