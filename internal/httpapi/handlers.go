package httpapi

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/giftswap/exchange-backend/internal/engine"
	"github.com/giftswap/exchange-backend/internal/hub"
	"github.com/giftswap/exchange-backend/internal/ranking"
	"github.com/giftswap/exchange-backend/internal/session"
)

type API struct {
	hub        *hub.Hub
	adminToken string
	log        *zap.Logger
}

// CreateEventRequest carries the external collaborators' data: who is in,
// what each one brought, and how they scored on the quiz.
type CreateEventRequest struct {
	Participants []engine.Participant      `json:"participants"`
	Offerings    []OfferingRef             `json:"offerings"`
	QuizResults  map[string]ranking.Result `json:"quiz_results"`
}

type OfferingRef struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_participant_id"`
}

func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, 6)
	for i := 0; i < 6; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

func (a *API) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req CreateEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if len(req.Participants) == 0 {
		http.Error(w, "participants required", http.StatusBadRequest)
		return
	}
	offerings := make(map[string]string, len(req.Offerings))
	for _, o := range req.Offerings {
		if o.ID == "" || o.OwnerID == "" {
			http.Error(w, "offering id and owner required", http.StatusBadRequest)
			return
		}
		offerings[o.ID] = o.OwnerID
	}

	var code string
	for {
		c, err := GenerateCode()
		if err != nil {
			http.Error(w, "failed to generate code", http.StatusInternalServerError)
			return
		}
		reply := make(chan *session.Session, 1)
		a.hub.Inbox() <- hub.GetSession{Code: c, Reply: reply}
		if <-reply == nil {
			code = c
			break
		}
		a.log.Info("collision on code, regenerating", zap.String("code", c))
	}

	reply := make(chan *session.Session, 1)
	a.hub.Inbox() <- hub.EnsureSession{
		Code: code,
		Setup: hub.EventSetup{
			Participants: req.Participants,
			Offerings:    offerings,
			QuizResults:  req.QuizResults,
		},
		Reply: reply,
	}
	if <-reply == nil {
		http.Error(w, "failed to create event", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(struct {
		Code string `json:"code"`
	}{Code: code})
}

func (a *API) Snapshot(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.getSession(w, r)
	if !ok {
		return
	}
	reply := make(chan session.View, 1)
	sess.Inbox() <- session.GetState{Reply: reply}
	view := <-reply

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Version int          `json:"version"`
		State   engine.State `json:"state"`
	}{Version: view.Version, State: view.State})
}

func (a *API) StartInteractive(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.getSession(w, r)
	if !ok {
		return
	}
	reply := make(chan error, 1)
	sess.Inbox() <- session.Start{Reply: reply}
	a.respond(w, <-reply)
}

func (a *API) GenerateSealed(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.getSession(w, r)
	if !ok {
		return
	}
	reply := make(chan error, 1)
	sess.Inbox() <- session.GenerateSealed{Reply: reply}
	a.respond(w, <-reply)
}

func (a *API) Reset(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.getSession(w, r)
	if !ok {
		return
	}
	reply := make(chan error, 1)
	sess.Inbox() <- session.Reset{Reply: reply}
	a.respond(w, <-reply)
}

func (a *API) getSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	code := chi.URLParam(r, "code")
	reply := make(chan *session.Session, 1)
	a.hub.Inbox() <- hub.GetSession{Code: code, Reply: reply}
	sess := <-reply
	if sess == nil {
		http.Error(w, "event not found", http.StatusNotFound)
		return nil, false
	}
	return sess, true
}

func (a *API) respond(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(statusFor(err))
		_ = json.NewEncoder(w).Encode(struct {
			Error string `json:"error"`
		}{Error: engine.Reason(err)})
		return
	}
	_ = json.NewEncoder(w).Encode(struct {
		OK bool `json:"ok"`
	}{OK: true})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrMissingID),
		errors.Is(err, engine.ErrUnknownOffering),
		errors.Is(err, engine.ErrInsufficientParticipants):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrNotRevealOwner):
		return http.StatusForbidden
	default:
		return http.StatusConflict
	}
}

func (a *API) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if a.adminToken == "" || token != a.adminToken {
			http.Error(w, "admin token required", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
