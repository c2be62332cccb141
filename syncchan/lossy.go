package syncchan

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"linetrack/protocol"
)

// ErrDropped is returned for a request the lossy model discarded.
var ErrDropped = errors.New("sync: message dropped")

// ReportSink delivers vehicle reports.
type ReportSink interface {
	SendReport(ctx context.Context, r protocol.VehicleReport) error
}

// CommandSource fetches the station command.
type CommandSource interface {
	FetchCommand(ctx context.Context) (protocol.StationCommand, error)
}

// HealthSource fetches vehicle health.
type HealthSource interface {
	FetchHealth(ctx context.Context) (protocol.HealthStatus, error)
}

// Lossy models an unreliable link: each call is dropped with probability
// DropRate and otherwise delayed by Latency. A zero Lossy passes everything.
type Lossy struct {
	DropRate float64
	Latency  time.Duration

	mu      sync.Mutex
	rng     *rand.Rand
	dropped uint64
	passed  uint64
}

// NewLossy creates a seeded model so runs are reproducible.
func NewLossy(dropRate float64, latency time.Duration, seed int64) *Lossy {
	return &Lossy{DropRate: dropRate, Latency: latency, rng: rand.New(rand.NewSource(seed))}
}

// Counts returns how many calls were dropped and passed.
func (l *Lossy) Counts() (dropped, passed uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped, l.passed
}

// admit decides one call. It sleeps for the latency outside the lock.
func (l *Lossy) admit(ctx context.Context) error {
	l.mu.Lock()
	drop := false
	if l.DropRate > 0 {
		if l.rng == nil {
			l.rng = rand.New(rand.NewSource(1))
		}
		drop = l.rng.Float64() < l.DropRate
	}
	if drop {
		l.dropped++
	} else {
		l.passed++
	}
	l.mu.Unlock()

	if l.Latency > 0 {
		t := time.NewTimer(l.Latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	if drop {
		return ErrDropped
	}
	return nil
}

// Reports wraps sink with the loss model.
func (l *Lossy) Reports(sink ReportSink) ReportSink {
	return lossyReports{l, sink}
}

// Commands wraps src with the loss model.
func (l *Lossy) Commands(src CommandSource) CommandSource {
	return lossyCommands{l, src}
}

// Health wraps src with the loss model.
func (l *Lossy) Health(src HealthSource) HealthSource {
	return lossyHealth{l, src}
}

type lossyReports struct {
	l    *Lossy
	sink ReportSink
}

func (s lossyReports) SendReport(ctx context.Context, r protocol.VehicleReport) error {
	if err := s.l.admit(ctx); err != nil {
		return err
	}
	return s.sink.SendReport(ctx, r)
}

type lossyCommands struct {
	l   *Lossy
	src CommandSource
}

func (s lossyCommands) FetchCommand(ctx context.Context) (protocol.StationCommand, error) {
	if err := s.l.admit(ctx); err != nil {
		return protocol.StationCommand{}, err
	}
	return s.src.FetchCommand(ctx)
}

type lossyHealth struct {
	l   *Lossy
	src HealthSource
}

func (s lossyHealth) FetchHealth(ctx context.Context) (protocol.HealthStatus, error) {
	if err := s.l.admit(ctx); err != nil {
		return protocol.HealthStatus{}, err
	}
	return s.src.FetchHealth(ctx)
}
