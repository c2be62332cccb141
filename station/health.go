package station

import "linetrack/protocol"

// Health sub-check names reported in HealthVerdict.Failed.
const (
	CheckHardware      = "hardware_connected"
	CheckDataUpdating  = "data_updating"
	CheckBattery       = "battery"
	CheckEmergency     = "emergency_clear"
	CheckCommunication = "communication"
)

// HealthVerdict is the result of one health round.
type HealthVerdict struct {
	OK     bool                  `json:"ok"`
	Failed []string              `json:"failed,omitempty"`
	Status protocol.HealthStatus `json:"status"`
	Err    string                `json:"error,omitempty"`
}

// Evaluate checks the conjunction of the health sub-conditions. channelOK is
// the station's own view of the report channel.
func Evaluate(h protocol.HealthStatus, channelOK bool, minBattery int) HealthVerdict {
	v := HealthVerdict{Status: h}
	if !h.HardwareConnected {
		v.Failed = append(v.Failed, CheckHardware)
	}
	if !h.DataUpdating {
		v.Failed = append(v.Failed, CheckDataUpdating)
	}
	if h.BatterySOC < minBattery {
		v.Failed = append(v.Failed, CheckBattery)
	}
	if h.EmergencyFlag {
		v.Failed = append(v.Failed, CheckEmergency)
	}
	if !h.CommunicationOK || !channelOK {
		v.Failed = append(v.Failed, CheckCommunication)
	}
	v.OK = len(v.Failed) == 0
	return v
}

// Has reports whether check is among the failures.
func (v HealthVerdict) Has(check string) bool {
	for _, f := range v.Failed {
		if f == check {
			return true
		}
	}
	return false
}

// LivenessFailed reports a failure of any check other than battery and emergency.
func (v HealthVerdict) LivenessFailed() bool {
	return v.Has(CheckHardware) || v.Has(CheckDataUpdating) || v.Has(CheckCommunication)
}
