package calls

// transitions lists every legal status change. Terminal states have no entry.
var transitions = map[CallStatus][]CallStatus{
	CallStatusPending:    {CallStatusProcessing},
	CallStatusProcessing: {CallStatusCompleted, CallStatusFailed},
}

func (s CallStatus) Valid() bool {
	switch s {
	case CallStatusPending, CallStatusProcessing, CallStatusCompleted, CallStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is allowed from s.
func (s CallStatus) Terminal() bool {
	return s == CallStatusCompleted || s == CallStatusFailed
}

// CanTransition reports whether from -> to is a legal change.
func CanTransition(from, to CallStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (m DialMode) Valid() bool {
	return m == DialModeReal || m == DialModeSimulated
}

func ValidPriority(p int) bool {
	return p >= PriorityHigh && p <= PriorityLow
}
