package vehicle

import "linetrack/protocol"

// State is the vehicle supervisory state. Values double as report wire names.
type State string

// Vehicle states
const (
	Initial        State = protocol.VehicleInitial
	Ready          State = protocol.VehicleReady
	Running        State = protocol.VehicleRunning
	ObstacleStop   State = protocol.VehicleObstacleStop
	PushButtonStop State = protocol.VehiclePushButtonStop
	ServerStop     State = protocol.VehicleServerStop
	Abnormal       State = protocol.VehicleAbnormal
)

// Status returns the report status string for s.
func (s State) Status() string {
	switch s {
	case PushButtonStop:
		return protocol.StatusPushEStop
	case ObstacleStop:
		return protocol.StatusObstacleEStop
	}
	return protocol.StatusNone
}

// MissionTag is a tag id and the speed limit advertised with it.
type MissionTag struct {
	ID         uint32 `json:"id"`
	SpeedLimit uint32 `json:"speed_limit"`
}

// EventEmitter is the interface the vehicle package uses to emit events.
type EventEmitter interface {
	EmitStateChanged(from, to State, reason string)
	EmitMissionDispatched(tag MissionTag)
}

type nopEmitter struct{}

func (nopEmitter) EmitStateChanged(State, State, string) {}
func (nopEmitter) EmitMissionDispatched(MissionTag)      {}
