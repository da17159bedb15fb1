package session

// Phase is the per-connection rendezvous state.
//
//	accepted -> enqueued -> paired
//	                     -> invalid (closed before pairing)
type Phase string

const (
	PhaseAccepted Phase = "accepted"
	PhaseEnqueued Phase = "enqueued"
	PhasePaired   Phase = "paired"
	PhaseInvalid  Phase = "invalid"
)

func (p Phase) terminal() bool {
	return p == PhasePaired || p == PhaseInvalid
}

func (s *Session) Phase() Phase {
	s.phaseMu.Lock()
	defer s.phaseMu.Unlock()
	return s.phase
}

// Advance moves the session forward. Terminal phases are sticky and the
// result reports whether the transition applied.
func (s *Session) Advance(next Phase) bool {
	s.phaseMu.Lock()
	defer s.phaseMu.Unlock()
	if s.phase.terminal() || s.phase == next {
		return false
	}
	if next == PhaseAccepted {
		return false
	}
	s.phase = next
	return true
}
