package engine

import "math/rand/v2"

// GenerateSealed precomputes the whole exchange in one shot: shuffle the
// participant ids, then give each position's participant to the next one
// around the circle. The shift-by-one over a shuffled list always yields a
// single N-cycle with no fixed point, which is all the fairness this needs;
// it does not sample uniformly over every possible derangement.
func GenerateSealed(s State, participants []string, rng *rand.Rand) (State, []Event, error) {
	if len(s.Assignments) > 0 {
		return s, nil, ErrAlreadyGenerated
	}
	if s.Status == StatusActive || s.Mode != "" {
		return s, nil, ErrSessionAlreadyActive
	}
	if len(participants) < 2 {
		return s, nil, ErrInsufficientParticipants
	}

	order := make([]string, len(participants))
	copy(order, participants)
	rng.Shuffle(len(order), func(i, j int) {
		order[i], order[j] = order[j], order[i]
	})

	assignments := make([]Assignment, len(order))
	for i, giver := range order {
		assignments[i] = Assignment{
			GiverID:    giver,
			ReceiverID: order[(i+1)%len(order)],
		}
	}

	newState := s
	newState.Mode = ModeSealed
	newState.Status = StatusCompleted
	newState.Assignments = assignments

	events := []Event{
		{Type: EvtAssignmentGenerated},
		{Type: EvtSessionCompleted},
	}
	return newState, events, nil
}
