package telemetry

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Decode errors. Decode wraps ErrField with the offending field name.
var (
	ErrMarker     = errors.New("telemetry: missing $STS marker")
	ErrTerminator = errors.New("telemetry: missing line terminator")
	ErrFieldCount = errors.New("telemetry: wrong field count")
	ErrField      = errors.New("telemetry: invalid field")
)

// DefaultLimit is the symmetric wheel-speed limit applied when none is configured.
const DefaultLimit = 300

var fieldNames = [FieldCount]string{
	"mode", "soc", "line_pos", "emg", "obstacle_mm", "wire_angle",
	"wire_distance_mm", "speed", "odometer", "tag1", "tag2",
}

// unsignedField marks fields that must not be negative.
var unsignedField = [FieldCount]bool{4: true, 6: true, 8: true, 9: true, 10: true}

// Decode parses a single "$STS,...\r\n" record. On any error the returned
// Frame is the zero value and must not be published.
func Decode(line string) (Frame, error) {
	if !strings.HasPrefix(line, StatusMarker+",") {
		return Frame{}, ErrMarker
	}
	if !strings.HasSuffix(line, Terminator) {
		return Frame{}, ErrTerminator
	}
	body := strings.TrimSuffix(strings.TrimPrefix(line, StatusMarker+","), Terminator)
	parts := strings.Split(body, ",")
	if len(parts) != FieldCount {
		return Frame{}, fmt.Errorf("%w: got %d, want %d", ErrFieldCount, len(parts), FieldCount)
	}

	var v [FieldCount]int64
	for i, p := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 32)
		if err != nil {
			return Frame{}, fmt.Errorf("%w %s: %q", ErrField, fieldNames[i], p)
		}
		if unsignedField[i] && n < 0 {
			return Frame{}, fmt.Errorf("%w %s: negative value %d", ErrField, fieldNames[i], n)
		}
		v[i] = n
	}

	return Frame{
		Mode:           Mode(v[0]),
		StateOfCharge:  int(v[1]),
		LinePosition:   int(v[2]),
		Emergency:      v[3] != 0,
		ObstacleMm:     uint32(v[4]),
		WireAngle:      int(v[5]),
		WireDistanceMm: uint32(v[6]),
		SpeedMmS:       int(v[7]),
		Odometer:       uint32(v[8]),
		MissionTag:     uint32(v[9]),
		TagSpeedLimit:  uint32(v[10]),
	}, nil
}

// Command is a pair of wheel speeds in mm/s.
type Command struct {
	Left  int `json:"left"`
	Right int `json:"right"`
}

// Stop is the zero-speed command.
var Stop = Command{}

// Clamped returns the command with both wheels limited to [-limit, limit].
func (c Command) Clamped(limit int) Command {
	return Command{Left: Clamp(c.Left, limit), Right: Clamp(c.Right, limit)}
}

// Clamp limits v to [-limit, limit]. A non-positive limit selects DefaultLimit.
func Clamp(v, limit int) int {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}

// EncodeCommand formats a "$CLR,<left>,<right>\r\n" record. Out-of-range
// speeds are clamped silently.
func EncodeCommand(left, right, limit int) []byte {
	l := Clamp(left, limit)
	r := Clamp(right, limit)
	return []byte(CommandMarker + "," + strconv.Itoa(l) + "," + strconv.Itoa(r) + Terminator)
}

// DecodeCommand parses a $CLR record. The bench simulator uses it to read
// what the vehicle sent.
func DecodeCommand(line string) (Command, error) {
	if !strings.HasPrefix(line, CommandMarker+",") {
		return Command{}, ErrMarker
	}
	if !strings.HasSuffix(line, Terminator) {
		return Command{}, ErrTerminator
	}
	parts := strings.Split(strings.TrimSuffix(strings.TrimPrefix(line, CommandMarker+","), Terminator), ",")
	if len(parts) != 2 {
		return Command{}, fmt.Errorf("%w: got %d, want 2", ErrFieldCount, len(parts))
	}
	l, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return Command{}, fmt.Errorf("%w left: %q", ErrField, parts[0])
	}
	r, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return Command{}, fmt.Errorf("%w right: %q", ErrField, parts[1])
	}
	return Command{Left: l, Right: r}, nil
}
