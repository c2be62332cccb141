package vehicle

// TagEdge fires once per contiguous occupancy of a mission tag. Readings are
// compared with the last dispatched id, not the last observed one.
type TagEdge struct {
	last uint32
}

// Observe feeds one tag reading. Id 0 re-arms the detector. A non-zero id
// different from the last dispatched id fires when armed; while not armed
// nothing is recorded, so the tag fires once the caller arms it again.
func (e *TagEdge) Observe(id uint32, armed bool) bool {
	if id == 0 {
		e.last = 0
		return false
	}
	if !armed || id == e.last {
		return false
	}
	e.last = id
	return true
}

// Last returns the last dispatched id, or 0.
func (e *TagEdge) Last() uint32 { return e.last }
