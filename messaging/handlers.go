package messaging

import (
	"log"
	"time"

	"linetrack/protocol"
	"linetrack/syncchan"
)

// StationHandler handles inbound vehicle messages on the reports and health topics.
type StationHandler struct {
	protocol.NoOpHandler

	onReport func(protocol.VehicleReport)
	health   *syncchan.Cell[protocol.HealthStatus]
}

// NewStationHandler forwards reports to onReport and stores health in health.
func NewStationHandler(onReport func(protocol.VehicleReport), health *syncchan.Cell[protocol.HealthStatus]) *StationHandler {
	return &StationHandler{onReport: onReport, health: health}
}

func (h *StationHandler) HandleVehicleReport(env *protocol.Envelope, p *protocol.VehicleReport) {
	if h.onReport != nil {
		h.onReport(*p)
	}
}

func (h *StationHandler) HandleVehicleHealth(env *protocol.Envelope, p *protocol.HealthStatus) {
	if h.health != nil {
		h.health.Store(*p, time.Now())
	}
}

// VehicleHandler handles inbound station messages on the commands topic.
type VehicleHandler struct {
	protocol.NoOpHandler

	commands *syncchan.Cell[protocol.StationCommand]
}

// NewVehicleHandler stores every valid command in commands.
func NewVehicleHandler(commands *syncchan.Cell[protocol.StationCommand]) *VehicleHandler {
	return &VehicleHandler{commands: commands}
}

func (h *VehicleHandler) HandleStationCommand(env *protocol.Envelope, p *protocol.StationCommand) {
	if !protocol.ValidCommand(p.Command) {
		log.Printf("vehicle_handler: ignoring unknown command %q from %s", p.Command, env.Src.Node)
		return
	}
	h.commands.Store(*p, time.Now())
}

func (h *VehicleHandler) HandleStationEvent(env *protocol.Envelope, p *protocol.StationEvent) {
	log.Printf("vehicle_handler: station %s -> %s (%s)", p.From, p.To, p.Reason)
}

// Subscriber is the inbound half of a broker client.
type Subscriber interface {
	Subscribe(topic string, handler func(payload []byte)) error
}

// Bind subscribes to each topic and feeds messages through one ingestor.
func Bind(sub Subscriber, codec protocol.Codec, handler protocol.MessageHandler, filter protocol.FilterFunc, topics ...string) error {
	ing := protocol.NewIngestorWith(codec, handler, filter)
	for _, topic := range topics {
		if err := sub.Subscribe(topic, ing.HandleRaw); err != nil {
			return err
		}
		log.Printf("messaging: subscribed to %s (%s)", topic, codec.Name())
	}
	return nil
}
