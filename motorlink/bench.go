package motorlink

import (
	"bytes"
	"io"
	"sync"
	"time"

	"linetrack/telemetry"
)

// Bench is an in-process motor controller. It streams $STS records built
// from a mutable frame at a fixed period and records every $CLR it receives.
// The vehicle runs against it with -sim; tests use it as a fake transport.
type Bench struct {
	period      time.Duration
	readTimeout time.Duration

	mu       sync.Mutex
	frame    telemetry.Frame
	pending  []byte
	commands []telemetry.Command
	writeErr error
	closed   bool

	notify   chan struct{}
	done     chan struct{}
	doneOnce sync.Once
}

// NewBench starts a simulator that emits a frame every period.
func NewBench(period time.Duration, initial telemetry.Frame) *Bench {
	if period <= 0 {
		period = 20 * time.Millisecond
	}
	b := &Bench{
		period:      period,
		readTimeout: DefaultReadTimeout,
		frame:       initial,
		notify:      make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Bench) run() {
	ticker := time.NewTicker(b.period)
	defer ticker.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			b.mu.Lock()
			b.frame.Odometer += uint32(abs(b.frame.SpeedMmS)) * uint32(b.period/time.Millisecond) / 1000
			line := b.frame.Line()
			b.mu.Unlock()
			b.Inject(line)
		}
	}
}

// Update mutates the simulated frame under the bench lock.
func (b *Bench) Update(fn func(f *telemetry.Frame)) {
	b.mu.Lock()
	fn(&b.frame)
	b.mu.Unlock()
}

// Frame returns the current simulated frame.
func (b *Bench) Frame() telemetry.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frame
}

// Inject queues raw bytes for the reader, bypassing the frame encoder.
func (b *Bench) Inject(raw string) {
	b.mu.Lock()
	if !b.closed {
		b.pending = append(b.pending, raw...)
	}
	b.mu.Unlock()
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Commands returns every command received so far.
func (b *Bench) Commands() []telemetry.Command {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]telemetry.Command(nil), b.commands...)
}

// LastCommand returns the most recent command received.
func (b *Bench) LastCommand() (telemetry.Command, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.commands) == 0 {
		return telemetry.Command{}, false
	}
	return b.commands[len(b.commands)-1], true
}

// FailWrites makes subsequent writes return err; nil restores normal writes.
func (b *Bench) FailWrites(err error) {
	b.mu.Lock()
	b.writeErr = err
	b.mu.Unlock()
}

// Read blocks until bytes are queued or the read timeout elapses, in which
// case it returns (0, nil) like a serial port.
func (b *Bench) Read(p []byte) (int, error) {
	timer := time.NewTimer(b.readTimeout)
	defer timer.Stop()
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return 0, io.ErrClosedPipe
		}
		if len(b.pending) > 0 {
			n := copy(p, b.pending)
			b.pending = b.pending[n:]
			b.mu.Unlock()
			return n, nil
		}
		b.mu.Unlock()

		select {
		case <-b.notify:
		case <-timer.C:
			return 0, nil
		case <-b.done:
			return 0, io.ErrClosedPipe
		}
	}
}

// Write accepts one or more $CLR records. The simulated speed follows the
// mean of the commanded wheel speeds.
func (b *Bench) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, io.ErrClosedPipe
	}
	if b.writeErr != nil {
		return 0, b.writeErr
	}
	for _, rec := range bytes.SplitAfter(p, []byte(telemetry.Terminator)) {
		if len(rec) == 0 {
			continue
		}
		cmd, err := telemetry.DecodeCommand(string(rec))
		if err != nil {
			continue
		}
		b.commands = append(b.commands, cmd)
		b.frame.SpeedMmS = (cmd.Left + cmd.Right) / 2
	}
	return len(p), nil
}

// Close stops the emitter; further reads and writes fail.
func (b *Bench) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.doneOnce.Do(func() { close(b.done) })
	return nil
}

// ResetInputBuffer drops queued bytes.
func (b *Bench) ResetInputBuffer() error {
	b.mu.Lock()
	b.pending = b.pending[:0]
	b.mu.Unlock()
	return nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
