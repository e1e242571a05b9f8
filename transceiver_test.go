package hdbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTransceiverQuietSend(t *testing.T) {
	// Scenario A: a clean echo results in a successful write with no error.
	bus := NewSimulatedBus()
	line := bus.Attach()
	tc := NewTransceiver(line, 2*time.Millisecond, EchoProbeBytes)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	frame := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07}
	require.NoError(t, tc.Write(ctx, frame))
}

func TestTransceiverFirstByteCollision(t *testing.T) {
	// Scenario B: a write whose echo differs in the first byte is reported
	// as a collision.
	bus := NewSimulatedBus()
	line := bus.Attach()
	line.Corrupt = func(sent []byte) []byte {
		corrupted := append([]byte(nil), sent...)
		corrupted[0] = 0x99
		return corrupted
	}
	tc := NewTransceiver(line, 2*time.Millisecond, EchoProbeBytes)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	frame := []byte{0x41, 0x42, 0x43, 0x44, 0x45}
	err := tc.Write(ctx, frame)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrCollision)
}

func TestTransceiverReadUntilIdleAssemblesOneFrame(t *testing.T) {
	bus := NewSimulatedBus()
	line := bus.Attach()
	tc := NewTransceiver(line, 5*time.Millisecond, EchoProbeBytes)

	bus.Inject([]byte{0xAA, 0xBB, 0xCC})

	buf := make([]byte, 64)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	n, err := tc.ReadUntilIdle(ctx, buf)
	require.NoError(t, err)
	require.Equal(t, []byte{0xAA, 0xBB, 0xCC}, buf[:n])
}

func TestTransceiverReadUntilIdleOverflows(t *testing.T) {
	// Scenario E: inbound bytes exceeding the slot capacity before an idle
	// gap surface OVERFLOW.
	bus := NewSimulatedBus()
	line := bus.Attach()
	tc := NewTransceiver(line, 20*time.Millisecond, EchoProbeBytes)

	buf := make([]byte, 4)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go bus.Inject([]byte{1, 2, 3, 4, 5})

	_, err := tc.ReadUntilIdle(ctx, buf)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrOverflow)
}

func TestCollisionOccurred(t *testing.T) {
	require.False(t, collisionOccurred([]byte{1, 2, 3}, []byte{1, 2, 3}))
	require.True(t, collisionOccurred([]byte{1, 9, 3}, []byte{1, 2, 3}))
	require.False(t, collisionOccurred([]byte{1, 2}, []byte{1, 2, 3}))
}
