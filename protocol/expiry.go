package protocol

import "time"

// Reports and commands are superseded every tick, so they expire within a
// couple of seconds. Health beacons outlive a few missed intervals.
var ttlByType = map[string]time.Duration{
	TypeVehicleReport:  2 * time.Second,
	TypeStationCommand: 2 * time.Second,
	TypeVehicleHealth:  15 * time.Second,
	TypeStationEvent:   10 * time.Minute,
}

// FallbackTTL applies to message types without their own entry.
const FallbackTTL = 30 * time.Second

func DefaultTTLFor(msgType string) time.Duration {
	if ttl, ok := ttlByType[msgType]; ok {
		return ttl
	}
	return FallbackTTL
}

// pastDeadline treats a zero deadline as "never".
func pastDeadline(at time.Time) bool {
	return !at.IsZero() && time.Now().After(at)
}

func (e *Envelope) Expired() bool  { return pastDeadline(e.ExpiresAt) }
func (h *RawHeader) Expired() bool { return pastDeadline(h.ExpiresAt) }

// IsExpired reports whether env is past its deadline.
func IsExpired(env *Envelope) bool { return env.Expired() }
