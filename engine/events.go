package engine

import (
	"linetrack/protocol"
	"linetrack/station"
	"linetrack/vehicle"
)

const (
	EventStationStateChanged EventType = iota + 1
	EventHealthChecked
	EventAbnormalAcknowledged
	EventWarning
	EventVehicleReport
	EventVehicleStateChanged
	EventMissionDispatched
	EventMessagingConnected
	EventMessagingDisconnected
)

// String returns the name used on the SSE stream.
func (t EventType) String() string {
	switch t {
	case EventStationStateChanged:
		return "state"
	case EventHealthChecked:
		return "health"
	case EventAbnormalAcknowledged:
		return "acknowledged"
	case EventWarning:
		return "warning"
	case EventVehicleReport:
		return "report"
	case EventVehicleStateChanged:
		return "vehicle_state"
	case EventMissionDispatched:
		return "mission"
	case EventMessagingConnected, EventMessagingDisconnected:
		return "messaging"
	}
	return "event"
}

// --- Event payloads ---

type StateChangedEvent struct {
	From   station.State `json:"from"`
	To     station.State `json:"to"`
	Reason string        `json:"reason"`
}

type HealthCheckedEvent struct {
	Verdict station.HealthVerdict `json:"verdict"`
}

type AcknowledgedEvent struct {
	State station.State `json:"state"`
}

type WarningEvent struct {
	Warning station.Warning `json:"warning"`
}

type VehicleReportEvent struct {
	Report protocol.VehicleReport `json:"report"`
}

type VehicleStateChangedEvent struct {
	From   vehicle.State `json:"from"`
	To     vehicle.State `json:"to"`
	Reason string        `json:"reason"`
}

type MissionDispatchedEvent struct {
	Tag vehicle.MissionTag `json:"tag"`
}

type ConnectionEvent struct {
	Detail string `json:"detail"`
}
