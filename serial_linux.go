//go:build linux

package hdbus

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"time"
	"unsafe"

	"github.com/tarm/serial"
	"golang.org/x/sys/unix"
)

/*
LinuxLine is the §4.G real-hardware Line backend: a
github.com/tarm/serial port, put into RS-485 half-duplex mode via the
TIOCSRS485 ioctl on the underlying file descriptor so the driver's own
transmissions are looped back into the receive path the way the bus
transceiver this driver was designed for behaves.
*/

const (
	ioctlTIOCGRS485 = 0x542E
	ioctlTIOCSRS485 = 0x542F

	serialRS485Enabled = 1 << 0
)

// serialRS485 mirrors struct serial_rs485 from <linux/serial.h>: a 32-bit
// flags word, two delay fields, and reserved padding, all native-endian
// uint32s.
type serialRS485 struct {
	flags               uint32
	delayRTSBeforeSend  uint32
	delayRTSAfterSend   uint32
	padding             [5]uint32
}

// LinuxLine opens a serial device and exposes it as a Line, reading bytes
// into a channel on a background goroutine and arranging for the kernel to
// echo transmitted bytes per the RS-485 half-duplex contract.
type LinuxLine struct {
	port *serial.Port
	file *os.File

	incoming chan byte

	closeOnce sync.Once
	closeErr  error
}

// OpenLinuxLine opens dev at the given baud/parity/stopBits and enables
// RS-485 half-duplex mode on it.
func OpenLinuxLine(dev string, baud int, parity rune, stopBits int) (*LinuxLine, error) {
	cfg := &serial.Config{
		Name:        dev,
		Baud:        baud,
		Size:        8,
		Parity:      serialParity(parity),
		StopBits:    serialStopBits(stopBits),
		ReadTimeout: 50 * time.Millisecond,
	}
	port, err := serial.OpenPort(cfg)
	if err != nil {
		return nil, fmt.Errorf("hdbus: open %s: %w", dev, err)
	}

	f, err := os.OpenFile(dev, os.O_RDWR, 0)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("hdbus: open %s for rs485 ioctl: %w", dev, err)
	}
	if err := enableRS485(f); err != nil {
		f.Close()
		port.Close()
		return nil, err
	}

	l := &LinuxLine{
		port:     port,
		file:     f,
		incoming: make(chan byte, 4096),
	}
	go l.readLoop()
	return l, nil
}

func serialParity(p rune) serial.Parity {
	switch p {
	case ParityOdd:
		return serial.ParityOdd
	case ParityEven:
		return serial.ParityEven
	default:
		return serial.ParityNone
	}
}

func serialStopBits(n int) serial.StopBits {
	if n == StopBitsTwo {
		return serial.Stop2
	}
	return serial.Stop1
}

// enableRS485 issues TIOCSRS485 so the driver's transmitted bytes are
// looped back to the receiver exactly as the bus hardware this driver
// targets requires.
func enableRS485(f *os.File) error {
	var rs serialRS485
	rs.flags = serialRS485Enabled

	buf := make([]byte, unsafe.Sizeof(rs))
	binary.NativeEndian.PutUint32(buf[0:4], rs.flags)
	binary.NativeEndian.PutUint32(buf[4:8], rs.delayRTSBeforeSend)
	binary.NativeEndian.PutUint32(buf[8:12], rs.delayRTSAfterSend)

	if err := ioctl(f.Fd(), ioctlTIOCSRS485, unsafe.Pointer(&buf[0])); err != nil {
		return fmt.Errorf("hdbus: TIOCSRS485 on %s: %w", f.Name(), err)
	}
	return nil
}

func ioctl(fd uintptr, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func (l *LinuxLine) readLoop() {
	buf := make([]byte, 256)
	for {
		n, err := l.port.Read(buf)
		for i := 0; i < n; i++ {
			l.incoming <- buf[i]
		}
		if err != nil {
			close(l.incoming)
			return
		}
	}
}

// Bytes implements Line.
func (l *LinuxLine) Bytes() <-chan byte {
	return l.incoming
}

// Write implements Line.
func (l *LinuxLine) Write(ctx context.Context, p []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := l.port.Write(p)
		done <- result{n, err}
	}()
	select {
	case r := <-done:
		return r.n, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Close releases the underlying file descriptors.
func (l *LinuxLine) Close() error {
	l.closeOnce.Do(func() {
		l.closeErr = l.port.Close()
		l.file.Close()
	})
	return l.closeErr
}
