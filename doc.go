/*
Package hdbus drives a shared half-duplex serial bus for an IP stack sitting
above it. The bus is a single wire (or RS-485 pair) with multiple stations
attached; only one station may transmit at a time, and a station detects that
it has collided with another by comparing the bytes it sent against the bytes
the wire echoes back.

A driver is assembled from four independent pieces: a Transceiver that owns
the physical Line and performs the collision-sensing write and
idle-delimited read, a FrameChannel that exposes bounded TX/RX ring buffers
to the IP stack, a BackoffScheduler that spaces out retries after a
collision or line-busy condition, and the HalfDuplexDriver itself, which
arbitrates the two on every iteration of its main loop.

Bringing up a driver over a real serial port looks like:

    line, _ := hdbus.OpenLinuxLine("/dev/ttyUSB0", 115200, hdbus.ParityNone, hdbus.StopBitsOne)
    idle := hdbus.InterByteGap(115200, hdbus.ParityNone, hdbus.StopBitsOne)
    tc := hdbus.NewTransceiver(line, idle, hdbus.EchoProbeBytes)

    cfg := hdbus.Config{Station: [6]byte{0, 0, 0, 0, 0, 1}}
    channel := hdbus.NewFrameChannel(cfg)
    drv := hdbus.NewHalfDuplexDriver(tc, channel, nil, cfg)

    go drv.Run(ctx)

Once running, the IP stack talks only to the FrameChannel:

    channel.EnqueueTx(ctx, []byte("hello"))
    frame, _ := channel.DequeueRx(ctx)

For tests and demos, SimulatedBus and SimulatedLine stand in for real
hardware, looping a station's own writes back to it the same way a real
half-duplex line would.
*/
package hdbus
