package engine

import (
	"errors"
	"slices"
	"time"
)

var ErrNotYourTurn = errors.New("not your turn")
var ErrSelfPickForbidden = errors.New("cannot claim your own offering")
var ErrRevealInProgress = errors.New("a reveal is already in progress")
var ErrGiftAlreadyClaimed = errors.New("offering already claimed")
var ErrSessionNotActive = errors.New("session is not active")
var ErrNoActiveReveal = errors.New("no reveal in progress")
var ErrNotRevealOwner = errors.New("reveal belongs to another participant")
var ErrSessionAlreadyActive = errors.New("session already active")
var ErrInsufficientParticipants = errors.New("not enough participants")
var ErrAlreadyGenerated = errors.New("assignment already generated")
var ErrUnknownOffering = errors.New("unknown offering")
var ErrMissingID = errors.New("missing identifier")
var ErrUnsupportedCommand = errors.New("unsupported command")

type Mode string

const (
	ModeInteractive Mode = "interactive"
	ModeSealed      Mode = "sealed"
)

type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusActive     Status = "active"
	StatusCompleted  Status = "completed"
)

type Participant struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Eligible bool   `json:"eligible"`
}

// Turn is one participant's slot in the extraction order. ChosenOfferingID is
// empty until a claim lands; CompletedAt is zero until the reveal closes.
type Turn struct {
	ID               string    `json:"id"`
	ParticipantID    string    `json:"participant_id"`
	Position         int       `json:"position"`
	ChosenOfferingID string    `json:"chosen_offering_id,omitempty"`
	CompletedAt      time.Time `json:"completed_at,omitzero"`
}

// Reveal marks the single claim currently open for everyone to see.
type Reveal struct {
	OfferingID string `json:"offering_id"`
	ClaimantID string `json:"claimant_id"`
}

// Assignment is one giver->receiver edge of a sealed exchange.
type Assignment struct {
	GiverID    string `json:"giver_id"`
	ReceiverID string `json:"receiver_id"`
}

// State is the whole extraction session. Offerings maps offering id to the
// owning participant id and is fixed at event creation; the core never looks
// at anything else about an offering.
type State struct {
	Mode        Mode              `json:"mode,omitempty"`
	Status      Status            `json:"status"`
	Turns       []Turn            `json:"turns,omitempty"`
	Cursor      int               `json:"cursor"`
	Reveal      *Reveal           `json:"reveal,omitempty"`
	Offerings   map[string]string `json:"offerings"`
	Assignments []Assignment      `json:"assignments,omitempty"`
}

type CommandType string

const (
	CmdClaim       CommandType = "Claim"
	CmdClose       CommandType = "Close"
	CmdAdminAssign CommandType = "AdminAssign"
)

type Command struct {
	Type        CommandType
	TurnID      string
	OfferingID  string
	RequesterID string
	IsAdmin     bool
	Now         time.Time
}

type EventType string

const (
	EvtGiftChosen          EventType = "GiftChosen"
	EvtRevealClosed        EventType = "RevealClosed"
	EvtTurnAdvanced        EventType = "TurnAdvanced"
	EvtSessionStarted      EventType = "SessionStarted"
	EvtSessionCompleted    EventType = "SessionCompleted"
	EvtSessionReset        EventType = "SessionReset"
	EvtAssignmentGenerated EventType = "AssignmentGenerated"
)

type Event struct {
	Type          EventType
	TurnID        string
	OfferingID    string
	ParticipantID string
}

// Apply validates cmd against s and returns the events it produced plus the
// next state. s is never mutated; callers own making the swap atomic.
func Apply(s State, cmd Command) ([]Event, State, error) {
	switch cmd.Type {
	case CmdClaim:
		return applyClaim(s, cmd)
	case CmdClose:
		return applyClose(s, cmd)
	case CmdAdminAssign:
		return applyAdminAssign(s, cmd)
	default:
		return nil, s, ErrUnsupportedCommand
	}
}

func applyClaim(s State, cmd Command) ([]Event, State, error) {
	if cmd.TurnID == "" || cmd.OfferingID == "" || cmd.RequesterID == "" {
		return nil, s, ErrMissingID
	}
	if s.Status != StatusActive || s.Mode != ModeInteractive {
		return nil, s, ErrSessionNotActive
	}

	cur := s.Turns[s.Cursor]
	if cur.ID != cmd.TurnID || cur.ParticipantID != cmd.RequesterID {
		return nil, s, ErrNotYourTurn
	}
	if s.Reveal != nil {
		return nil, s, ErrRevealInProgress
	}
	if err := checkOffering(s, cmd.OfferingID, cur.ParticipantID); err != nil {
		return nil, s, err
	}

	newState := s
	newState.Turns = slices.Clone(s.Turns)
	newState.Turns[s.Cursor].ChosenOfferingID = cmd.OfferingID
	newState.Reveal = &Reveal{OfferingID: cmd.OfferingID, ClaimantID: cmd.RequesterID}

	events := []Event{
		{Type: EvtGiftChosen, TurnID: cur.ID, OfferingID: cmd.OfferingID, ParticipantID: cur.ParticipantID},
	}
	return events, newState, nil
}

func applyClose(s State, cmd Command) ([]Event, State, error) {
	if cmd.TurnID == "" || (cmd.RequesterID == "" && !cmd.IsAdmin) {
		return nil, s, ErrMissingID
	}
	if s.Status != StatusActive || s.Mode != ModeInteractive {
		return nil, s, ErrSessionNotActive
	}
	if s.Reveal == nil {
		return nil, s, ErrNoActiveReveal
	}

	// The revealing turn is always the turn at the cursor.
	cur := s.Turns[s.Cursor]
	if cur.ID != cmd.TurnID {
		return nil, s, ErrNoActiveReveal
	}
	if cmd.RequesterID != s.Reveal.ClaimantID && !cmd.IsAdmin {
		return nil, s, ErrNotRevealOwner
	}

	newState := s
	newState.Turns = slices.Clone(s.Turns)
	newState.Turns[s.Cursor].CompletedAt = at(cmd.Now)
	newState.Reveal = nil

	events := []Event{
		{Type: EvtRevealClosed, TurnID: cur.ID, OfferingID: cur.ChosenOfferingID, ParticipantID: cur.ParticipantID},
	}
	newState, events = advance(newState, events)
	return events, newState, nil
}

func applyAdminAssign(s State, cmd Command) ([]Event, State, error) {
	if cmd.TurnID == "" || cmd.OfferingID == "" {
		return nil, s, ErrMissingID
	}
	if s.Status != StatusActive || s.Mode != ModeInteractive {
		return nil, s, ErrSessionNotActive
	}
	if s.Reveal != nil {
		return nil, s, ErrRevealInProgress
	}

	cur := s.Turns[s.Cursor]
	if cur.ID != cmd.TurnID {
		return nil, s, ErrNotYourTurn
	}
	if err := checkOffering(s, cmd.OfferingID, cur.ParticipantID); err != nil {
		return nil, s, err
	}

	// Claim and close in one step so the session never shows an open reveal
	// for an absent participant.
	newState := s
	newState.Turns = slices.Clone(s.Turns)
	newState.Turns[s.Cursor].ChosenOfferingID = cmd.OfferingID
	newState.Turns[s.Cursor].CompletedAt = at(cmd.Now)

	events := []Event{
		{Type: EvtGiftChosen, TurnID: cur.ID, OfferingID: cmd.OfferingID, ParticipantID: cur.ParticipantID},
		{Type: EvtRevealClosed, TurnID: cur.ID, OfferingID: cmd.OfferingID, ParticipantID: cur.ParticipantID},
	}
	newState, events = advance(newState, events)
	return events, newState, nil
}

// checkOffering enforces the two claim invariants: no self-claim and no
// double-claim across the whole session.
func checkOffering(s State, offeringID, claimantID string) error {
	owner, ok := s.Offerings[offeringID]
	if !ok {
		return ErrUnknownOffering
	}
	if owner == claimantID {
		return ErrSelfPickForbidden
	}
	for _, t := range s.Turns {
		if t.ChosenOfferingID == offeringID {
			return ErrGiftAlreadyClaimed
		}
	}
	return nil
}

// advance moves the cursor to the next open turn, or completes the session
// when none remain.
func advance(s State, events []Event) (State, []Event) {
	for i, t := range s.Turns {
		if t.CompletedAt.IsZero() {
			s.Cursor = i
			events = append(events, Event{Type: EvtTurnAdvanced, TurnID: t.ID, ParticipantID: t.ParticipantID})
			return s, events
		}
	}
	s.Cursor = len(s.Turns)
	s.Status = StatusCompleted
	events = append(events, Event{Type: EvtSessionCompleted})
	return s, events
}

func at(now time.Time) time.Time {
	if now.IsZero() {
		return time.Now()
	}
	return now
}
