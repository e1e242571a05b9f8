// Command hdbussim runs two half-duplex drivers back to back over an
// in-memory SimulatedBus, with one station periodically transmitting to the
// other, to exercise the driver without any real hardware attached.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/rolfl/hdbus"
)

func main() {
	bus := hdbus.NewSimulatedBus()

	alice := newStation(bus, [6]byte{0, 0, 0, 0, 0, 1})
	bob := newStation(bus, [6]byte{0, 0, 0, 0, 0, 2})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	go alice.drv.Run(ctx)
	go bob.drv.Run(ctx)

	go func() {
		for i := 0; ; i++ {
			select {
			case <-ctx.Done():
				return
			default:
			}
			msg := fmt.Sprintf("hello #%d", i)
			if err := alice.channel.EnqueueTx(ctx, []byte(msg)); err != nil {
				return
			}
			time.Sleep(200 * time.Millisecond)
		}
	}()

	for {
		frame, err := bob.channel.DequeueRx(ctx)
		if err != nil {
			log.Printf("bob: stopped: %v", err)
			return
		}
		log.Printf("bob received: %q", frame)
	}
}

type station struct {
	channel *hdbus.FrameChannel
	drv     *hdbus.HalfDuplexDriver
}

func newStation(bus *hdbus.SimulatedBus, id [6]byte) *station {
	line := bus.Attach()
	tc := hdbus.NewTransceiver(line, time.Millisecond, hdbus.EchoProbeBytes)
	cfg := hdbus.Config{Station: id}
	channel := hdbus.NewFrameChannel(cfg)
	drv := hdbus.NewHalfDuplexDriver(tc, channel, nil, cfg)
	return &station{channel: channel, drv: drv}
}
