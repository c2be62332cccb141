package station

import "linetrack/protocol"

// State is the station supervisory state.
type State string

// Station states
const (
	Initial       State = "initial"
	Ready         State = "ready"
	Running       State = "running"
	Paused        State = "paused"
	PushEStop     State = "push_estop"
	ObstacleEStop State = "obstacle_estop"
	ServerEStop   State = "server_estop"
	Abnormal      State = "abnormal"
)

// AllStates lists every state in display order.
var AllStates = []State{Initial, Ready, Running, Paused, PushEStop, ObstacleEStop, ServerEStop, Abnormal}

// Operator actions accepted by Machine.Apply.
const (
	ActionGo          = "go"
	ActionPause       = "pause"
	ActionResume      = "resume"
	ActionEStop       = "estop"
	ActionStop        = "stop"
	ActionAcknowledge = "acknowledge"
)

// ValidAction reports whether a is an operator action.
func ValidAction(a string) bool {
	switch a {
	case ActionGo, ActionPause, ActionResume, ActionEStop, ActionStop, ActionAcknowledge:
		return true
	}
	return false
}

// Warning is an operator-facing notice for the current state.
type Warning struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// EventEmitter is the interface the station package uses to emit events.
type EventEmitter interface {
	EmitStateChanged(from, to State, reason string)
	EmitHealthChecked(v HealthVerdict)
	EmitAcknowledged(state State)
	EmitWarning(w Warning)
}

type nopEmitter struct{}

func (nopEmitter) EmitStateChanged(State, State, string) {}
func (nopEmitter) EmitHealthChecked(HealthVerdict)       {}
func (nopEmitter) EmitAcknowledged(State)                {}
func (nopEmitter) EmitWarning(Warning)                   {}

// Snapshot is a consistent copy of the machine for display.
type Snapshot struct {
	State          State                  `json:"state"`
	PausedByServer bool                   `json:"paused_by_server"`
	Acknowledged   bool                   `json:"acknowledged"`
	HealthFailures int                    `json:"health_failures"`
	Health         HealthVerdict          `json:"health"`
	Report         protocol.VehicleReport `json:"report"`
	HaveReport     bool                   `json:"have_report"`
	Command        string                 `json:"command"`
	Alive          uint64                 `json:"alive"`
}
