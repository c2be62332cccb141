package protocol

import (
	"errors"
	"fmt"
	"log"
)

// Ingest outcomes other than success. HandleRaw logs everything except
// ErrFiltered.
var (
	ErrExpired     = errors.New("protocol: message expired")
	ErrFiltered    = errors.New("protocol: not addressed to this node")
	ErrUnknownType = errors.New("protocol: unknown message type")
)

// FilterFunc reports whether a message should be handled, judged from its
// header alone.
type FilterFunc func(hdr *RawHeader) bool

// DestinedFor accepts messages for node, for "*" and for no node at all.
func DestinedFor(node string) FilterFunc {
	return func(hdr *RawHeader) bool {
		switch hdr.Dst.Node {
		case "", "*", node:
			return true
		}
		return false
	}
}

// MessageHandler receives decoded payloads, one method per message type.
type MessageHandler interface {
	HandleVehicleReport(env *Envelope, p *VehicleReport)
	HandleVehicleHealth(env *Envelope, p *HealthStatus)
	HandleStationCommand(env *Envelope, p *StationCommand)
	HandleStationEvent(env *Envelope, p *StationEvent)
}

// NoOpHandler ignores every message. Embed it to handle only some types.
type NoOpHandler struct{}

func (NoOpHandler) HandleVehicleReport(*Envelope, *VehicleReport)   {}
func (NoOpHandler) HandleVehicleHealth(*Envelope, *HealthStatus)    {}
func (NoOpHandler) HandleStationCommand(*Envelope, *StationCommand) {}
func (NoOpHandler) HandleStationEvent(*Envelope, *StationEvent)     {}

// route decodes an envelope's payload and hands it to the handler.
type route func(c Codec, h MessageHandler, env *Envelope) error

var routes = map[string]route{
	TypeVehicleReport:  deliver(MessageHandler.HandleVehicleReport),
	TypeVehicleHealth:  deliver(MessageHandler.HandleVehicleHealth),
	TypeStationCommand: deliver(MessageHandler.HandleStationCommand),
	TypeStationEvent:   deliver(MessageHandler.HandleStationEvent),
}

func deliver[T any](method func(MessageHandler, *Envelope, *T)) route {
	return func(c Codec, h MessageHandler, env *Envelope) error {
		p := new(T)
		if err := c.Unmarshal(env.Payload, p); err != nil {
			return fmt.Errorf("protocol: %s payload: %w", env.Type, err)
		}
		method(h, env, p)
		return nil
	}
}

// Ingestor decodes raw broker messages in two passes: the header first, for
// expiry and addressing, then the full envelope and payload.
type Ingestor struct {
	codec   Codec
	handler MessageHandler
	filter  FilterFunc
}

func NewIngestor(handler MessageHandler, filter FilterFunc) *Ingestor {
	return NewIngestorWith(JSON, handler, filter)
}

func NewIngestorWith(c Codec, handler MessageHandler, filter FilterFunc) *Ingestor {
	return &Ingestor{codec: c, handler: handler, filter: filter}
}

// Ingest decodes data and dispatches it.
func (ing *Ingestor) Ingest(data []byte) error {
	var hdr RawHeader
	if err := ing.codec.Unmarshal(data, &hdr); err != nil {
		return fmt.Errorf("protocol: header: %w", err)
	}
	if hdr.Expired() {
		return fmt.Errorf("%w: %s %s", ErrExpired, hdr.Type, hdr.ID)
	}
	if ing.filter != nil && !ing.filter(&hdr) {
		return ErrFiltered
	}
	rt, ok := routes[hdr.Type]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownType, hdr.Type)
	}

	var env Envelope
	if err := ing.codec.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("protocol: envelope: %w", err)
	}
	return rt(ing.codec, ing.handler, &env)
}

// HandleRaw is Ingest for subscriber callbacks.
func (ing *Ingestor) HandleRaw(data []byte) {
	if err := ing.Ingest(data); err != nil && !errors.Is(err, ErrFiltered) {
		log.Print(err)
	}
}
