package engine

import (
	"linetrack/station"
	"linetrack/vehicle"
)

// stationEmitter bridges the station machine's emitter interface to the EventBus.
type stationEmitter struct {
	bus *EventBus
}

func (e *stationEmitter) EmitStateChanged(from, to station.State, reason string) {
	e.bus.Emit(Event{Type: EventStationStateChanged, Payload: StateChangedEvent{From: from, To: to, Reason: reason}})
}

func (e *stationEmitter) EmitHealthChecked(v station.HealthVerdict) {
	e.bus.Emit(Event{Type: EventHealthChecked, Payload: HealthCheckedEvent{Verdict: v}})
}

func (e *stationEmitter) EmitAcknowledged(state station.State) {
	e.bus.Emit(Event{Type: EventAbnormalAcknowledged, Payload: AcknowledgedEvent{State: state}})
}

func (e *stationEmitter) EmitWarning(w station.Warning) {
	e.bus.Emit(Event{Type: EventWarning, Payload: WarningEvent{Warning: w}})
}

// VehicleEmitter bridges the vehicle machine's emitter interface to an EventBus.
type VehicleEmitter struct {
	bus *EventBus
}

// NewVehicleEmitter returns an emitter publishing on bus.
func NewVehicleEmitter(bus *EventBus) *VehicleEmitter {
	return &VehicleEmitter{bus: bus}
}

func (e *VehicleEmitter) EmitStateChanged(from, to vehicle.State, reason string) {
	e.bus.Emit(Event{Type: EventVehicleStateChanged, Payload: VehicleStateChangedEvent{From: from, To: to, Reason: reason}})
}

func (e *VehicleEmitter) EmitMissionDispatched(tag vehicle.MissionTag) {
	e.bus.Emit(Event{Type: EventMissionDispatched, Payload: MissionDispatchedEvent{Tag: tag}})
}
