package engine

import "errors"

// Reason maps an engine error to the wire reason code reported to callers.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrNotYourTurn):
		return "NotYourTurn"
	case errors.Is(err, ErrSelfPickForbidden):
		return "SelfPickForbidden"
	case errors.Is(err, ErrRevealInProgress):
		return "RevealInProgress"
	case errors.Is(err, ErrGiftAlreadyClaimed):
		return "GiftAlreadyClaimed"
	case errors.Is(err, ErrSessionNotActive):
		return "SessionNotActive"
	case errors.Is(err, ErrNoActiveReveal):
		return "NoActiveReveal"
	case errors.Is(err, ErrNotRevealOwner):
		return "NotRevealOwner"
	case errors.Is(err, ErrSessionAlreadyActive):
		return "SessionAlreadyActive"
	case errors.Is(err, ErrInsufficientParticipants):
		return "InsufficientParticipants"
	case errors.Is(err, ErrAlreadyGenerated):
		return "AlreadyGenerated"
	case errors.Is(err, ErrUnknownOffering):
		return "UnknownOffering"
	case errors.Is(err, ErrMissingID):
		return "MissingID"
	case errors.Is(err, ErrUnsupportedCommand):
		return "UnsupportedCommand"
	default:
		return "Internal"
	}
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}
