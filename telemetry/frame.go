package telemetry

import (
	"fmt"
	"strconv"
	"strings"
)

// Record markers for the motor controller line protocol.
const (
	StatusMarker  = "$STS"
	CommandMarker = "$CLR"
	Terminator    = "\r\n"

	// FieldCount is the number of integer fields after the $STS marker.
	FieldCount = 11
)

// Mode is the controller's operating mode field.
type Mode int

const (
	ModeVehicle Mode = iota
	ModeManual
	ModeSupervised
)

func (m Mode) String() string {
	switch m {
	case ModeVehicle:
		return "vehicle"
	case ModeManual:
		return "manual"
	case ModeSupervised:
		return "supervised"
	default:
		return "mode(" + strconv.Itoa(int(m)) + ")"
	}
}

// Frame is one decoded $STS record. It is a value type; decoders never
// modify a Frame after handing it out.
type Frame struct {
	Mode           Mode
	StateOfCharge  int    // percent, 0-100
	LinePosition   int    // -15..15, 0 = centered, negative = line left of center
	Emergency      bool   // push-button e-stop asserted
	ObstacleMm     uint32 // lidar distance
	WireAngle      int    // degrees
	WireDistanceMm uint32
	SpeedMmS       int
	Odometer       uint32
	MissionTag     uint32 // 0 = no tag under the reader
	TagSpeedLimit  uint32 // mm/s advertised by the tag
}

// Line formats the frame as a complete $STS record including the terminator.
func (f Frame) Line() string {
	emg := 0
	if f.Emergency {
		emg = 1
	}
	fields := []string{
		StatusMarker,
		strconv.Itoa(int(f.Mode)),
		strconv.Itoa(f.StateOfCharge),
		strconv.Itoa(f.LinePosition),
		strconv.Itoa(emg),
		strconv.FormatUint(uint64(f.ObstacleMm), 10),
		strconv.Itoa(f.WireAngle),
		strconv.FormatUint(uint64(f.WireDistanceMm), 10),
		strconv.Itoa(f.SpeedMmS),
		strconv.FormatUint(uint64(f.Odometer), 10),
		strconv.FormatUint(uint64(f.MissionTag), 10),
		strconv.FormatUint(uint64(f.TagSpeedLimit), 10),
	}
	return strings.Join(fields, ",") + Terminator
}

func (f Frame) String() string {
	return fmt.Sprintf("mode=%s soc=%d line=%d emg=%t obs=%dmm speed=%d tag=%d/%d",
		f.Mode, f.StateOfCharge, f.LinePosition, f.Emergency, f.ObstacleMm, f.SpeedMmS, f.MissionTag, f.TagSpeedLimit)
}
