package engine

// NewState returns a fresh not-started session over the given offering
// catalog (offering id -> owner participant id).
func NewState(offerings map[string]string) State {
	if offerings == nil {
		offerings = map[string]string{}
	}
	return State{
		Status:    StatusNotStarted,
		Offerings: offerings,
	}
}

// StartInteractive builds one turn per ranked participant id, in rank order,
// and activates the session. newID mints turn identifiers.
func StartInteractive(s State, ranked []string, newID func() string) (State, []Event, error) {
	if s.Status == StatusActive || s.Mode != "" {
		return s, nil, ErrSessionAlreadyActive
	}
	if len(ranked) < 2 {
		return s, nil, ErrInsufficientParticipants
	}

	turns := make([]Turn, len(ranked))
	for i, pid := range ranked {
		turns[i] = Turn{
			ID:            newID(),
			ParticipantID: pid,
			Position:      i + 1,
		}
	}

	newState := s
	newState.Mode = ModeInteractive
	newState.Status = StatusActive
	newState.Turns = turns
	newState.Cursor = 0
	newState.Reveal = nil

	events := []Event{
		{Type: EvtSessionStarted},
		{Type: EvtTurnAdvanced, TurnID: turns[0].ID, ParticipantID: turns[0].ParticipantID},
	}
	return newState, events, nil
}

// Reset force-wipes the session back to not_started, keeping only the
// offering catalog. It is the admin escape hatch for a stuck event.
func Reset(s State) (State, []Event) {
	newState := NewState(s.Offerings)
	return newState, []Event{{Type: EvtSessionReset}}
}
