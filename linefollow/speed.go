package linefollow

import "linetrack/telemetry"

// SpeedPolicy decides base and max wheel speed from the tag the vehicle is on.
type SpeedPolicy struct {
	BaseSpeed     int // cruising speed once a tag has been seen
	MaxSpeed      int // hard wheel limit passed to Control
	PrestartSpeed int // fixed speed before the first tag
}

// DefaultSpeedPolicy returns the stock 150/200/200 mm/s policy.
func DefaultSpeedPolicy() SpeedPolicy {
	return SpeedPolicy{BaseSpeed: 150, MaxSpeed: 200, PrestartSpeed: 200}
}

// EffectiveSpeed returns the (base, max) pair for Control. Before the first
// tag the pre-start speed is used for both. After that the base speed is the
// smallest of the cruising speed, the tag's advertised limit and the mission
// limit; zero limits are treated as "no limit".
func (p SpeedPolicy) EffectiveSpeed(f telemetry.Frame, missionMax int) (base, maxSpeed int) {
	if f.MissionTag == 0 {
		return p.PrestartSpeed, p.PrestartSpeed
	}
	base = p.BaseSpeed
	if lim := int(f.TagSpeedLimit); lim > 0 && lim < base {
		base = lim
	}
	if missionMax > 0 && missionMax < base {
		base = missionMax
	}
	return base, p.MaxSpeed
}
