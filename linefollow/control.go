// Package linefollow maps line-sensor telemetry to wheel speeds.
package linefollow

import (
	"math"

	"linetrack/telemetry"
)

// Policy constants.
const (
	// SpotTurnAbove is the |line position| beyond which the vehicle rotates in place.
	SpotTurnAbove = 8
	// DefaultTurnSpeed is the wheel magnitude used for spot turns.
	DefaultTurnSpeed = 50
	// GainPerStep is the correction applied per unit of line offset.
	GainPerStep = 8
	// MaxCorrectionRatio caps the correction as a fraction of base speed.
	MaxCorrectionRatio = 0.3
)

// Params holds the tunables that are not per-call arguments.
type Params struct {
	TurnSpeed int
}

// Control computes wheel speeds using the default turn speed.
func Control(f telemetry.Frame, baseSpeed, maxSpeed int) telemetry.Command {
	return Params{TurnSpeed: DefaultTurnSpeed}.Control(f, baseSpeed, maxSpeed)
}

// Control computes wheel speeds for one tick. It is deterministic and has no
// side effects. Negative line positions mean the line is left of center.
func (p Params) Control(f telemetry.Frame, baseSpeed, maxSpeed int) telemetry.Command {
	turn := p.TurnSpeed
	if turn <= 0 {
		turn = DefaultTurnSpeed
	}
	pos := f.LinePosition

	var cmd telemetry.Command
	switch {
	case abs(pos) > SpotTurnAbove:
		if pos < 0 {
			cmd = telemetry.Command{Left: -turn, Right: turn}
		} else {
			cmd = telemetry.Command{Left: turn, Right: -turn}
		}
	case pos == 0:
		cmd = telemetry.Command{Left: baseSpeed, Right: baseSpeed}
	default:
		corr := min(abs(pos)*GainPerStep, int(math.Round(float64(baseSpeed)*MaxCorrectionRatio)))
		if pos < 0 {
			cmd = telemetry.Command{Left: baseSpeed - corr, Right: baseSpeed}
		} else {
			cmd = telemetry.Command{Left: baseSpeed, Right: baseSpeed - corr}
		}
	}
	if maxSpeed < 0 {
		maxSpeed = 0
	}
	return telemetry.Command{Left: clamp(cmd.Left, maxSpeed), Right: clamp(cmd.Right, maxSpeed)}
}

func clamp(v, limit int) int {
	return max(-limit, min(v, limit))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
