package hub

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/giftswap/exchange-backend/internal/engine"
	"github.com/giftswap/exchange-backend/internal/ranking"
	"github.com/giftswap/exchange-backend/internal/session"
	"github.com/giftswap/exchange-backend/internal/store"
)

type HubMsg interface{ isHubMsg() }

// EventSetup is everything the external collaborators hand over before a
// session can run: who is in, what they brought, and how they scored.
type EventSetup struct {
	Participants []engine.Participant
	Offerings    map[string]string // offering id -> owner participant id
	QuizResults  map[string]ranking.Result
}

type EnsureSession struct {
	Code  string
	Setup EventSetup // only used if creation happens
	Reply chan *session.Session
}

type GetSession struct {
	Code  string
	Reply chan *session.Session
}

type RemoveSession struct {
	Code string
}

type ShutdownHub struct{}

func (EnsureSession) isHubMsg() {}
func (GetSession) isHubMsg()    {}
func (RemoveSession) isHubMsg() {}
func (ShutdownHub) isHubMsg()   {}

// Hub is the registry of live sessions, one per event code.
type Hub struct {
	inbox    chan HubMsg
	sessions map[string]*session.Session
	store    store.SessionStore
	log      *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewHub(parent context.Context, st store.SessionStore, log *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:    make(chan HubMsg, 64),
		sessions: make(map[string]*session.Session),
		store:    st,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case EnsureSession:
				if s := h.sessions[msg.Code]; s != nil {
					msg.Reply <- s
					break
				}
				if s := h.rehydrate(msg.Code); s != nil {
					msg.Reply <- s
					break
				}
				s := session.New(h.ctx, msg.Code, msg.Setup.Participants,
					msg.Setup.Offerings, msg.Setup.QuizResults, h.store, h.log)
				h.sessions[msg.Code] = s
				msg.Reply <- s

			case GetSession:
				s := h.sessions[msg.Code]
				if s == nil {
					s = h.rehydrate(msg.Code) // May still be nil
				}
				msg.Reply <- s

			case RemoveSession:
				if s := h.sessions[msg.Code]; s != nil {
					s.Inbox() <- session.Shutdown{}
					delete(h.sessions, msg.Code)
				}
				h.deleteRecord(msg.Code)

			case ShutdownHub:
				for _, s := range h.sessions {
					s.Inbox() <- session.Shutdown{}
				}
				clear(h.sessions)
				h.cancel()
			}
		}
	}
}

// rehydrate revives a session from its durable record when no live actor
// holds the code. Another process (or an earlier run of this one) may have
// written it; a miss in the registry is not a miss in the store.
func (h *Hub) rehydrate(code string) *session.Session {
	ctx, cancel := context.WithTimeout(h.ctx, 3*time.Second)
	defer cancel()
	rec, err := h.store.Load(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		h.log.Warn("load session record", zap.String("code", code), zap.Error(err))
		return nil
	}
	s, err := session.Restore(h.ctx, rec, h.store, h.log)
	if err != nil {
		h.log.Warn("restore session", zap.String("code", code), zap.Error(err))
		return nil
	}
	h.sessions[code] = s
	return s
}

// deleteRecord is best-effort: a removed event should not come back on the
// next lookup via rehydration.
func (h *Hub) deleteRecord(code string) {
	ctx, cancel := context.WithTimeout(h.ctx, 3*time.Second)
	defer cancel()
	if err := h.store.Delete(ctx, code); err != nil && !errors.Is(err, store.ErrNotFound) {
		h.log.Warn("delete session record", zap.String("code", code), zap.Error(err))
	}
}
