package protocol

import "time"

// Vehicle report status strings.
const (
	StatusNone          = ""
	StatusPushEStop     = "Push-EStop"
	StatusObstacleEStop = "OBS-EStop"
)

// Vehicle state names as they appear in VehicleReport.State.
const (
	VehicleInitial        = "initial"
	VehicleReady          = "ready"
	VehicleRunning        = "running"
	VehicleObstacleStop   = "obstacle_stop"
	VehiclePushButtonStop = "push_button_stop"
	VehicleServerStop     = "server_stop"
	VehicleAbnormal       = "abnormal"
)

// --- Vehicle -> Station payloads ---

// TagInfo is the mission tag under the vehicle and its advertised speed limit.
type TagInfo struct {
	ID         uint32 `json:"id"`
	SpeedLimit uint32 `json:"speed_limit"`
}

// TelemetrySummary is the subset of the telemetry frame a station cares about.
type TelemetrySummary struct {
	SOC            int    `json:"soc"`
	LinePosition   int    `json:"line_position"`
	ObstacleMm     uint32 `json:"obstacle_mm"`
	Emergency      bool   `json:"emergency"`
	Speed          int    `json:"speed"`
	Odometer       uint32 `json:"odometer"`
	WireAngle      int    `json:"wire_angle"`
	WireDistanceMm uint32 `json:"wire_distance_mm"`
	Mode           int    `json:"mode"`
}

// VehicleReport is sent periodically by the vehicle.
type VehicleReport struct {
	Timestamp     time.Time        `json:"timestamp"`
	VehicleID     string           `json:"vehicle_id"`
	State         string           `json:"state"`
	Status        string           `json:"status"`
	LineFollowing bool             `json:"line_following"`
	Tag           TagInfo          `json:"tag"`
	Telemetry     TelemetrySummary `json:"telemetry"`
	Alive         uint64           `json:"alive"`
}

// HealthStatus answers a station health probe.
type HealthStatus struct {
	HardwareConnected bool      `json:"hardware_connected"`
	DataUpdating      bool      `json:"data_updating"`
	EmergencyFlag     bool      `json:"emergency_flag"`
	BatterySOC        int       `json:"battery_soc"`
	CommunicationOK   bool      `json:"communication_ok"`
	Ready             bool      `json:"ready"`
	LastUpdate        time.Time `json:"last_update"`
}

// --- Station -> Vehicle payloads ---

// Command names carried by StationCommand.
const (
	CommandNone   = "none"
	CommandGo     = "go"
	CommandPause  = "pause"
	CommandResume = "resume"
	CommandEStop  = "estop"
)

// StationCommand is the station's current instruction plus a liveness counter.
type StationCommand struct {
	Command string `json:"command"`
	Alive   uint64 `json:"alive"`
}

// ValidCommand reports whether name is a known command.
func ValidCommand(name string) bool {
	switch name {
	case CommandNone, CommandGo, CommandPause, CommandResume, CommandEStop:
		return true
	}
	return false
}

// --- Station -> observers ---

// StationEvent records one state-machine transition.
type StationEvent struct {
	Machine string    `json:"machine"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	Reason  string    `json:"reason"`
	At      time.Time `json:"at"`
}
