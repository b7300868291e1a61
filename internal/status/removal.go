package status

// RemoveResult is the outcome of a best-effort removal.
type RemoveResult int

const (
	// RemoveAbsent means there was nothing to remove.
	RemoveAbsent RemoveResult = iota
	// RemoveRemoved means the resource existed and is now gone.
	RemoveRemoved
	// RemoveFailed means the resource existed and could not be removed.
	RemoveFailed
)

func (r RemoveResult) String() string {
	switch r {
	case RemoveAbsent:
		return "absent"
	case RemoveRemoved:
		return "removed"
	case RemoveFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Removal pairs a removal outcome with the resource it concerns.
type Removal struct {
	Resource string
	Result   RemoveResult
	Err      error
}

// Failed returns the removals whose result is RemoveFailed.
func Failed(removals []Removal) []Removal {
	var out []Removal
	for _, r := range removals {
		if r.Result == RemoveFailed {
			out = append(out, r)
		}
	}
	return out
}
