package syncchan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"linetrack/protocol"
)

// ErrNoValue is returned by a CellSource before anything has been stored,
// or once the stored value is older than its MaxAge.
var ErrNoValue = errors.New("sync: no fresh value")

// Publisher is the outbound half of a message broker client.
type Publisher interface {
	Publish(topic string, data []byte) error
}

// BrokerSink publishes sync payloads as protocol envelopes on one topic.
type BrokerSink struct {
	pub   Publisher
	codec protocol.Codec
	topic string
	src   protocol.Address
	dst   protocol.Address
}

// NewBrokerSink creates a sink. A nil codec selects JSON.
func NewBrokerSink(pub Publisher, codec protocol.Codec, topic string, src, dst protocol.Address) *BrokerSink {
	if codec == nil {
		codec = protocol.JSON
	}
	return &BrokerSink{pub: pub, codec: codec, topic: topic, src: src, dst: dst}
}

// Topic returns the topic the sink publishes on.
func (b *BrokerSink) Topic() string { return b.topic }

// SendReport publishes a vehicle report.
func (b *BrokerSink) SendReport(ctx context.Context, r protocol.VehicleReport) error {
	return b.send(ctx, protocol.TypeVehicleReport, r)
}

// SendHealth publishes a vehicle health status.
func (b *BrokerSink) SendHealth(ctx context.Context, h protocol.HealthStatus) error {
	return b.send(ctx, protocol.TypeVehicleHealth, h)
}

// SendCommand publishes a station command.
func (b *BrokerSink) SendCommand(ctx context.Context, c protocol.StationCommand) error {
	return b.send(ctx, protocol.TypeStationCommand, c)
}

// SendEvent publishes a station transition.
func (b *BrokerSink) SendEvent(ctx context.Context, ev protocol.StationEvent) error {
	return b.send(ctx, protocol.TypeStationEvent, ev)
}

func (b *BrokerSink) send(ctx context.Context, msgType string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	env, err := protocol.NewEnvelopeWith(b.codec, msgType, b.src, b.dst, payload)
	if err != nil {
		return fmt.Errorf("sync build %s: %w", msgType, err)
	}
	data, err := env.EncodeWith(b.codec)
	if err != nil {
		return fmt.Errorf("sync encode %s: %w", msgType, err)
	}
	if err := b.pub.Publish(b.topic, data); err != nil {
		return fmt.Errorf("sync publish %s: %w", b.topic, err)
	}
	return nil
}

// CellSource serves the latest value a subscriber stored in Cell. It is the
// inbound half of the broker transport: handlers Store, pollers Fetch.
type CellSource[T any] struct {
	Cell   *Cell[T]
	MaxAge time.Duration // 0 accepts any age
	Now    func() time.Time
}

// Fetch returns the stored value if one is fresh.
func (s *CellSource[T]) Fetch() (T, error) {
	v, seq, at := s.Cell.Load()
	if seq == 0 {
		var zero T
		return zero, ErrNoValue
	}
	if s.MaxAge > 0 {
		now := time.Now()
		if s.Now != nil {
			now = s.Now()
		}
		if now.Sub(at) > s.MaxAge {
			var zero T
			return zero, ErrNoValue
		}
	}
	return v, nil
}

// CommandCell adapts a command cell to CommandSource.
type CommandCell struct{ CellSource[protocol.StationCommand] }

// FetchCommand returns the last received command.
func (c *CommandCell) FetchCommand(ctx context.Context) (protocol.StationCommand, error) {
	return c.Fetch()
}

// HealthCell adapts a health cell to HealthSource.
type HealthCell struct{ CellSource[protocol.HealthStatus] }

// FetchHealth returns the last received health status.
func (c *HealthCell) FetchHealth(ctx context.Context) (protocol.HealthStatus, error) {
	return c.Fetch()
}
