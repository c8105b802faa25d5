// Package session runs one actor goroutine per exchange event. The actor is
// the sole owner of the authoritative state: every mutation flows through its
// inbox and is checked and applied in a single serialized step, so two
// conflicting requests always resolve to one winner and a typed loser error.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/giftswap/exchange-backend/internal/engine"
	"github.com/giftswap/exchange-backend/internal/ranking"
	"github.com/giftswap/exchange-backend/internal/store"
)

type Msg interface{ isSessionMsg() }

// Do carries a claim/close/adminAssign command from one caller. The result
// lands on Reply: nil on success, an engine sentinel otherwise.
type Do struct {
	Cmd   engine.Command
	Reply chan error
}

func (Do) isSessionMsg() {}

// Start ranks the eligible participants by their quiz results and opens the
// interactive extraction.
type Start struct {
	Reply chan error
}

func (Start) isSessionMsg() {}

// GenerateSealed precomputes the full derangement instead of running turns.
type GenerateSealed struct {
	Reply chan error
}

func (GenerateSealed) isSessionMsg() {}

// Reset force-wipes the session back to not_started.
type Reset struct {
	Reply chan error
}

func (Reset) isSessionMsg() {}

type Join struct {
	ClientID string
	Outbox   chan Frame // where this observer receives frames
}

func (Join) isSessionMsg() {}

type Leave struct{ ClientID string }

func (Leave) isSessionMsg() {}

type Shutdown struct{}

func (Shutdown) isSessionMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isSessionMsg() {}

// Notice is the advisory change notification. Observers treat it as a hint
// and reconcile against the snapshot that rides the same frame.
type Notice struct {
	Type          string `json:"type"`
	TurnID        string `json:"turn_id,omitempty"`
	OfferingID    string `json:"offering_id,omitempty"`
	ParticipantID string `json:"participant_id,omitempty"`
}

type Snapshot struct {
	Version      int                  `json:"version"`
	State        engine.State         `json:"state"`
	Participants []engine.Participant `json:"participants"`
}

// Frame is one broadcast unit: the notices produced by a mutation, then the
// authoritative snapshot.
type Frame struct {
	Notices  []Notice `json:"notices,omitempty"`
	Snapshot Snapshot `json:"snapshot"`
}

type View struct {
	Version    int
	NumClients int
	State      engine.State
}

type Session struct {
	inbox        chan Msg
	code         string
	state        engine.State
	version      int
	participants []engine.Participant
	results      map[string]ranking.Result
	setup        []byte // serialized persistedSetup, immutable after construction
	clients      map[string]chan Frame
	store        store.SessionStore
	log          *zap.Logger
	rng          *rand.Rand
	newID        func() string
	ctx          context.Context
	cancel       context.CancelFunc
}

// persistedSetup rides along in every durable record so a session can be
// rebuilt from the record alone, without the process that created it.
type persistedSetup struct {
	Participants []engine.Participant      `json:"participants"`
	QuizResults  map[string]ranking.Result `json:"quiz_results,omitempty"`
}

func New(parent context.Context, code string, participants []engine.Participant,
	offerings map[string]string, results map[string]ranking.Result,
	st store.SessionStore, log *zap.Logger) *Session {

	s := newSession(parent, code, participants, results, st, log)
	s.state = engine.NewState(offerings)
	go s.loop()
	return s
}

// Restore rebuilds a session from a durable record, picking up the version
// where the previous actor left off so the write-through compare-and-set
// stays monotonic.
func Restore(parent context.Context, rec store.Record, st store.SessionStore, log *zap.Logger) (*Session, error) {
	var state engine.State
	if err := json.Unmarshal(rec.Snapshot, &state); err != nil {
		return nil, fmt.Errorf("decode session snapshot: %w", err)
	}
	var setup persistedSetup
	if len(rec.Setup) > 0 {
		if err := json.Unmarshal(rec.Setup, &setup); err != nil {
			return nil, fmt.Errorf("decode event setup: %w", err)
		}
	}
	s := newSession(parent, rec.Code, setup.Participants, setup.QuizResults, st, log)
	s.state = state
	s.version = rec.Version
	go s.loop()
	return s, nil
}

func newSession(parent context.Context, code string, participants []engine.Participant,
	results map[string]ranking.Result, st store.SessionStore, log *zap.Logger) *Session {

	ctx, cancel := context.WithCancel(parent)
	log = log.With(zap.String("event", code))
	setup, err := json.Marshal(persistedSetup{Participants: participants, QuizResults: results})
	if err != nil {
		log.Error("marshal event setup", zap.Error(err))
		setup = nil
	}
	return &Session{
		inbox:        make(chan Msg, 64),
		code:         code,
		participants: participants,
		results:      results,
		setup:        setup,
		clients:      make(map[string]chan Frame),
		store:        st,
		log:          log,
		rng:          rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		newID:        uuid.NewString,
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (s *Session) Inbox() chan<- Msg { return s.inbox }

func (s *Session) loop() {
	for {
		select {
		case <-s.ctx.Done():
			s.shutdown()
			return

		case m := <-s.inbox:
			switch msg := m.(type) {
			case Join:
				s.clients[msg.ClientID] = msg.Outbox
				msg.Outbox <- Frame{Snapshot: s.snapshot()}

			case Leave:
				delete(s.clients, msg.ClientID)

			case Do:
				events, newState, err := engine.Apply(s.state, msg.Cmd)
				msg.Reply <- err
				if err != nil {
					break
				}
				s.commit(newState, events)

			case Start:
				ranked := ranking.Order(s.eligible(), s.results)
				ids := make([]string, len(ranked))
				for i, p := range ranked {
					ids[i] = p.ID
				}
				newState, events, err := engine.StartInteractive(s.state, ids, s.newID)
				msg.Reply <- err
				if err != nil {
					break
				}
				s.commit(newState, events)

			case GenerateSealed:
				ids := make([]string, 0, len(s.participants))
				for _, p := range s.eligible() {
					ids = append(ids, p.ID)
				}
				newState, events, err := engine.GenerateSealed(s.state, ids, s.rng)
				msg.Reply <- err
				if err != nil {
					break
				}
				s.commit(newState, events)

			case Reset:
				newState, events := engine.Reset(s.state)
				msg.Reply <- nil
				s.commit(newState, events)

			case GetState:
				msg.Reply <- View{
					Version:    s.version,
					NumClients: len(s.clients),
					State:      s.state,
				}

			case Shutdown:
				s.shutdown()
				return
			}
		}
	}
}

// commit swaps in the accepted state, bumps the version, writes through to
// the durable store, and fans the change out. A failed save is logged and
// never undoes the mutation; the actor's state stays the source of truth.
func (s *Session) commit(newState engine.State, events []engine.Event) {
	s.state = newState
	s.version++
	s.persist()

	notices := make([]Notice, 0, len(events))
	for _, e := range events {
		notices = append(notices, Notice{
			Type:          noticeType(e.Type),
			TurnID:        e.TurnID,
			OfferingID:    e.OfferingID,
			ParticipantID: e.ParticipantID,
		})
	}
	s.broadcast(Frame{Notices: notices, Snapshot: s.snapshot()})
}

func (s *Session) persist() {
	snapshot, err := json.Marshal(s.state)
	if err != nil {
		s.log.Error("marshal session snapshot", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, 3*time.Second)
	defer cancel()
	err = s.store.Save(ctx, store.Record{
		Code:      s.code,
		Version:   s.version,
		Mode:      string(s.state.Mode),
		Status:    string(s.state.Status),
		Snapshot:  snapshot,
		Setup:     s.setup,
		UpdatedAt: time.Now(),
	})
	if err != nil {
		s.log.Warn("persist session snapshot", zap.Int("version", s.version), zap.Error(err))
	}
}

func (s *Session) snapshot() Snapshot {
	return Snapshot{
		Version:      s.version,
		State:        s.state,
		Participants: s.participants,
	}
}

func (s *Session) eligible() []engine.Participant {
	var out []engine.Participant
	for _, p := range s.participants {
		if p.Eligible {
			out = append(out, p)
		}
	}
	return out
}

func (s *Session) broadcast(frame Frame) {
	for id, ch := range s.clients {
		select {
		case ch <- frame:
		default:
			// Observer is slow or gone - drop it. It reconnects and rejoins
			// with a fresh snapshot.
			close(ch)
			delete(s.clients, id)
		}
	}
}

func (s *Session) shutdown() {
	for id, ch := range s.clients {
		close(ch)
		delete(s.clients, id)
	}
	s.cancel()
}

func noticeType(t engine.EventType) string {
	switch t {
	case engine.EvtGiftChosen:
		return "gift_chosen"
	case engine.EvtRevealClosed:
		return "reveal_closed"
	case engine.EvtTurnAdvanced:
		return "turn_advanced"
	case engine.EvtSessionStarted:
		return "session_started"
	case engine.EvtSessionCompleted:
		return "session_completed"
	case engine.EvtSessionReset:
		return "session_reset"
	case engine.EvtAssignmentGenerated:
		return "assignment_generated"
	default:
		return string(t)
	}
}
