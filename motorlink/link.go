// Package motorlink owns the byte transport to the motor controller. A single
// receive goroutine keeps the latest decoded telemetry frame; commands are
// written synchronously under a mutex.
package motorlink

import (
	"bytes"
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"linetrack/telemetry"
)

// Transport is the byte stream to the motor controller. Reads should return
// within a bounded timeout so the receive loop can observe shutdown.
type Transport interface {
	io.Reader
	io.Writer
	io.Closer
}

// Resetter is implemented by transports that can discard buffered input.
type Resetter interface {
	ResetInputBuffer() error
}

// ErrClosed is returned by SendCommand after Close.
var ErrClosed = errors.New("motorlink: link closed")

// Defaults applied by New for zero Options fields.
const (
	DefaultJoinTimeout = 200 * time.Millisecond
	DefaultMaxLine     = 256
	errorLogInterval   = time.Second
	readErrorBackoff   = 20 * time.Millisecond
)

// Options configures a Link.
type Options struct {
	Limit       int           // symmetric command clamp; 0 selects telemetry.DefaultLimit
	JoinTimeout time.Duration // bounded wait for the receive loop on Close
	MaxLine     int           // longer unterminated input is discarded
	Logf        func(format string, args ...any)
}

// Stats are cumulative link counters.
type Stats struct {
	Frames       uint64 `json:"frames"`
	DecodeErrors uint64 `json:"decode_errors"`
	ReadErrors   uint64 `json:"read_errors"`
	WriteErrors  uint64 `json:"write_errors"`
	CommandsSent uint64 `json:"commands_sent"`
}

type sample struct {
	frame telemetry.Frame
	at    time.Time
}

// Link is a live connection to the motor controller.
type Link struct {
	t    Transport
	opts Options
	logf func(format string, args ...any)

	latest atomic.Pointer[sample]

	writeMu sync.Mutex

	frames     atomic.Uint64
	decodeErrs atomic.Uint64
	readErrs   atomic.Uint64
	writeErrs  atomic.Uint64
	sent       atomic.Uint64

	stop      chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
	closeOnce sync.Once
	closed    atomic.Bool
	closeErr  error
}

// New takes ownership of t, discards stale input and starts the receive loop.
func New(t Transport, opts Options) *Link {
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = DefaultJoinTimeout
	}
	if opts.MaxLine <= 0 {
		opts.MaxLine = DefaultMaxLine
	}
	l := &Link{
		t:    t,
		opts: opts,
		logf: opts.Logf,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	if l.logf == nil {
		l.logf = log.Printf
	}
	if r, ok := t.(Resetter); ok {
		if err := r.ResetInputBuffer(); err != nil {
			l.logf("motorlink: reset input buffer: %v", err)
		}
	}
	go l.receive()
	return l
}

// Latest returns the most recently decoded frame and when it arrived. ok is
// false until the first frame has been decoded.
func (l *Link) Latest() (f telemetry.Frame, at time.Time, ok bool) {
	s := l.latest.Load()
	if s == nil {
		return telemetry.Frame{}, time.Time{}, false
	}
	return s.frame, s.at, true
}

// SendCommand clamps and writes one $CLR record. A failed write is logged,
// counted and dropped.
func (l *Link) SendCommand(left, right int) error {
	if l.closed.Load() {
		return ErrClosed
	}
	rec := telemetry.EncodeCommand(left, right, l.opts.Limit)

	l.writeMu.Lock()
	_, err := l.t.Write(rec)
	l.writeMu.Unlock()

	if err != nil {
		if n := l.writeErrs.Add(1); n == 1 || n%50 == 0 {
			l.logf("motorlink: write command: %v (%d write errors)", err, n)
		}
		return err
	}
	l.sent.Add(1)
	return nil
}

// Stats returns a snapshot of the link counters.
func (l *Link) Stats() Stats {
	return Stats{
		Frames:       l.frames.Load(),
		DecodeErrors: l.decodeErrs.Load(),
		ReadErrors:   l.readErrs.Load(),
		WriteErrors:  l.writeErrs.Load(),
		CommandsSent: l.sent.Load(),
	}
}

// Connected reports whether the link is open and its receive loop is alive.
func (l *Link) Connected() bool {
	if l.closed.Load() {
		return false
	}
	select {
	case <-l.done:
		return false
	default:
		return true
	}
}

// Close stops the receive loop, waits up to JoinTimeout for it and closes
// the transport. It is safe to call more than once.
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		l.stopOnce.Do(func() { close(l.stop) })

		select {
		case <-l.done:
		case <-time.After(l.opts.JoinTimeout):
			l.logf("motorlink: receive loop did not exit within %v", l.opts.JoinTimeout)
		}

		l.writeMu.Lock()
		l.closeErr = l.t.Close()
		l.writeMu.Unlock()
	})
	return l.closeErr
}

func (l *Link) stopping() bool {
	select {
	case <-l.stop:
		return true
	default:
		return false
	}
}

func (l *Link) receive() {
	defer close(l.done)

	buf := make([]byte, 128)
	pending := make([]byte, 0, l.opts.MaxLine)
	var lastLog time.Time

	for !l.stopping() {
		n, err := l.t.Read(buf)
		if n > 0 {
			pending = l.consume(append(pending, buf[:n]...), &lastLog)
		}
		if err == nil {
			continue
		}
		if l.stopping() {
			return
		}
		l.readErrs.Add(1)
		if time.Since(lastLog) >= errorLogInterval {
			l.logf("motorlink: read: %v (%d read errors)", err, l.readErrs.Load())
			lastLog = time.Now()
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
			return
		}
		select {
		case <-l.stop:
			return
		case <-time.After(readErrorBackoff):
		}
	}
}

// consume decodes every complete record in pending and returns the unconsumed tail.
func (l *Link) consume(pending []byte, lastLog *time.Time) []byte {
	for {
		i := bytes.IndexByte(pending, '\n')
		if i < 0 {
			break
		}
		rec := string(pending[:i+1])
		pending = pending[i+1:]

		f, err := telemetry.Decode(rec)
		if err != nil {
			l.decodeErrs.Add(1)
			if time.Since(*lastLog) >= errorLogInterval {
				l.logf("motorlink: discard %q: %v", rec, err)
				*lastLog = time.Now()
			}
			continue
		}
		l.latest.Store(&sample{frame: f, at: time.Now()})
		l.frames.Add(1)
	}

	if len(pending) > l.opts.MaxLine {
		l.decodeErrs.Add(1)
		pending = pending[:0]
	}
	out := make([]byte, len(pending), l.opts.MaxLine)
	copy(out, pending)
	return out
}
