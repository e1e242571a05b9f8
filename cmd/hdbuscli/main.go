// Command hdbuscli is an operator tool for exercising a half-duplex bus
// driver against a real serial device: send one frame, receive one frame, or
// print live diagnostic counters.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/rolfl/hdbus"
)

type sharedOpts struct {
	Device  string `long:"device" short:"d" description:"Serial device path" default:"/dev/ttyUSB0"`
	Baud    int    `long:"baud" short:"b" description:"Baud rate" default:"115200"`
	Station string `long:"station" short:"s" description:"Six-byte station identifier, hex" default:"000000000001"`
}

type sendCommand struct {
	sharedOpts
	Args struct {
		Payload string `positional-arg-name:"payload" description:"Frame payload, as a UTF-8 string"`
	} `positional-args:"yes" required:"yes"`
}

type recvCommand struct {
	sharedOpts
	Timeout int `long:"timeout" short:"t" description:"Seconds to wait for a frame" default:"10"`
}

type diagCommand struct {
	sharedOpts
	Watch bool `long:"watch" short:"w" description:"Keep printing counters until interrupted"`
}

type cliCommand struct {
	Send sendCommand `command:"send" description:"Transmit one frame and exit"`
	Recv recvCommand `command:"recv" description:"Wait for one frame and print it"`
	Diag diagCommand `command:"diag" description:"Print running diagnostic counters"`
}

func main() {
	cmd := cliCommand{}
	parser := flags.NewParser(&cmd, flags.HelpFlag|flags.PassDoubleDash)

	if _, err := parser.Parse(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (c *sendCommand) Execute(args []string) error {
	drv, ch, cancel, err := startDriver(c.sharedOpts)
	if err != nil {
		return err
	}
	defer cancel()

	ctx, cancelOp := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelOp()
	if err := ch.EnqueueTx(ctx, []byte(c.Args.Payload)); err != nil {
		return fmt.Errorf("hdbuscli: enqueue: %w", err)
	}
	for d := drv.Diagnostics(); d.FramesSent == 0; d = drv.Diagnostics() {
		if d.GiveUps > 0 {
			return fmt.Errorf("hdbuscli: frame dropped after %d attempts", hdbus.BackoffCap)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("hdbuscli: transmit: %w", ctx.Err())
		case <-time.After(10 * time.Millisecond):
		}
	}
	fmt.Printf("sent %d bytes\n", len(c.Args.Payload))
	return nil
}

func (c *recvCommand) Execute(args []string) error {
	drv, ch, cancel, err := startDriver(c.sharedOpts)
	if err != nil {
		return err
	}
	defer cancel()
	_ = drv

	ctx, cancelOp := context.WithTimeout(context.Background(), time.Duration(c.Timeout)*time.Second)
	defer cancelOp()
	frame, err := ch.DequeueRx(ctx)
	if err != nil {
		return fmt.Errorf("hdbuscli: receive: %w", err)
	}
	fmt.Printf("%q\n", frame)
	return nil
}

func (c *diagCommand) Execute(args []string) error {
	drv, _, cancel, err := startDriver(c.sharedOpts)
	if err != nil {
		return err
	}
	defer cancel()

	printOnce := func() {
		d := drv.Diagnostics()
		fmt.Printf("sent=%d recv=%d collisions=%d framing=%d overflows=%d giveups=%d\n",
			d.FramesSent, d.FramesReceived, d.Collisions, d.FramingErrors, d.Overflows, d.GiveUps)
	}

	if !c.Watch {
		printOnce()
		return nil
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			printOnce()
		case <-sig:
			return nil
		}
	}
}

// startDriver opens the device named in opts, builds a driver around it, and
// launches its Run loop in the background. The returned cancel function both
// stops the loop and closes the underlying device.
func startDriver(opts sharedOpts) (*hdbus.HalfDuplexDriver, *hdbus.FrameChannel, func(), error) {
	station, err := parseStation(opts.Station)
	if err != nil {
		return nil, nil, nil, err
	}

	line, err := hdbus.OpenLinuxLine(opts.Device, opts.Baud, hdbus.ParityNone, hdbus.StopBitsOne)
	if err != nil {
		return nil, nil, nil, err
	}

	idleGap := hdbus.InterByteGap(opts.Baud, hdbus.ParityNone, hdbus.StopBitsOne)
	tc := hdbus.NewTransceiver(line, idleGap, hdbus.EchoProbeBytes)

	cfg := hdbus.Config{Station: station}
	channel := hdbus.NewFrameChannel(cfg)
	drv := hdbus.NewHalfDuplexDriver(tc, channel, nil, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go drv.Run(ctx)

	stop := func() {
		cancel()
		line.Close()
	}
	return drv, channel, stop, nil
}

func parseStation(hexStr string) ([6]byte, error) {
	var station [6]byte
	if len(hexStr) != 12 {
		return station, fmt.Errorf("hdbuscli: --station must be 12 hex digits, got %q", hexStr)
	}
	for i := 0; i < 6; i++ {
		var b byte
		if _, err := fmt.Sscanf(hexStr[i*2:i*2+2], "%02x", &b); err != nil {
			return station, fmt.Errorf("hdbuscli: --station: %w", err)
		}
		station[i] = b
	}
	return station, nil
}
