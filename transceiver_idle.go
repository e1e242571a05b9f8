package hdbus

import (
	"time"
)

// Parity and stop-bit settings, used to compute the inter-byte idle gap from
// a configured baud rate and passed to a Line implementation that configures
// the wire (see OpenLinuxLine in serial_linux.go).
const (
	ParityNone = 'N'
	ParityOdd  = 'O'
	ParityEven = 'E'
)

const (
	StopBitsOne = 1
	StopBitsTwo = 2
)

// InterByteGap estimates the time it takes to transmit one character at the
// given line settings, the same half-char-time arithmetic the teacher
// protocol used to derive its 1.5/3.5-character timeouts, adapted here to
// produce the single idle gap ReadUntilIdle waits for: one character time
// after the last received byte, but never less than one millisecond.
//
// parity is one of ParityNone, ParityOdd, ParityEven; stopBits is
// StopBitsOne or StopBitsTwo.
func InterByteGap(baud int, parity rune, stopBits int) time.Duration {
	bits := 8 + stopBits + 1 // data bits, stop bits, start bit
	if parity != ParityNone {
		bits++
	}
	charTime := time.Duration(float64(bits) / float64(baud) * float64(time.Second))
	if charTime < time.Millisecond {
		charTime = time.Millisecond
	}
	return charTime
}
