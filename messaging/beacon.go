package messaging

import (
	"context"
	"log"
	"sync"
	"time"

	"linetrack/protocol"
)

// HealthSink publishes health statuses; *syncchan.BrokerSink satisfies it.
type HealthSink interface {
	SendHealth(ctx context.Context, h protocol.HealthStatus) error
}

// HealthBeacon publishes the vehicle health on startup and then
// periodically, so a broker-connected station can evaluate it without a
// request/response probe.
type HealthBeacon struct {
	sink     HealthSink
	source   func() protocol.HealthStatus
	interval time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
	failures int
}

// NewHealthBeacon creates a beacon. An interval <= 0 selects one second.
func NewHealthBeacon(sink HealthSink, source func() protocol.HealthStatus, interval time.Duration) *HealthBeacon {
	if interval <= 0 {
		interval = time.Second
	}
	return &HealthBeacon{
		sink:     sink,
		source:   source,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start sends one status and begins the loop.
func (b *HealthBeacon) Start() {
	b.send()
	b.wg.Add(1)
	go b.loop()
}

// Stop halts the loop and waits for it.
func (b *HealthBeacon) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
	b.wg.Wait()
}

func (b *HealthBeacon) send() {
	ctx, cancel := context.WithTimeout(context.Background(), b.interval)
	defer cancel()
	if err := b.sink.SendHealth(ctx, b.source()); err != nil {
		b.failures++
		if b.failures == 1 || b.failures%30 == 0 {
			log.Printf("beacon: send health (%d failures): %v", b.failures, err)
		}
		return
	}
	if b.failures > 0 {
		log.Printf("beacon: health publishing recovered after %d failures", b.failures)
		b.failures = 0
	}
}

func (b *HealthBeacon) loop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.send()
		}
	}
}
