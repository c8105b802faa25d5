package ws

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/giftswap/exchange-backend/internal/engine"
	"github.com/giftswap/exchange-backend/internal/hub"
	"github.com/giftswap/exchange-backend/internal/session"
	"github.com/giftswap/exchange-backend/internal/types"
)

// Handler upgrades an observer connection and bridges it to the event's
// session actor. Identity is the participant query param; registration and
// auth live outside this core. Admins connect with the shared admin token.
func Handler(h *hub.Hub, adminToken string, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}
		participantID := r.URL.Query().Get("participant")
		isAdmin := adminToken != "" && r.URL.Query().Get("admin_token") == adminToken

		reply := make(chan *session.Session, 1)
		h.Inbox() <- hub.GetSession{Code: code, Reply: reply}
		sess := <-reply
		if sess == nil {
			http.Error(w, "event not found", http.StatusNotFound)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan session.Frame, 8)
		clientID := randID(6)

		sess.Inbox() <- session.Join{ClientID: clientID, Outbox: out}
		defer func() { sess.Inbox() <- session.Leave{ClientID: clientID} }()

		// Writer goroutine: notices first, then the snapshot they hint at.
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for frame := range out {
				for i := range frame.Notices {
					write(writeCtx, conn, types.ServerMessage{Type: "Notice", Notice: &frame.Notices[i]})
				}
				snap := frame.Snapshot
				write(writeCtx, conn, types.ServerMessage{Type: "StateSnapshot", Snapshot: &snap})
			}
		}()

		// Reader loop. No idle deadline: observers may never send a command
		// and must keep receiving frames until they hang up.
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				write(r.Context(), conn, types.ServerMessage{Type: "Error", Error: "bad json"})
				continue
			}

			cmd, ok := toCommand(cm, participantID, isAdmin)
			if !ok {
				write(r.Context(), conn, types.ServerMessage{Type: "Error", Error: "unknown type"})
				continue
			}

			result := make(chan error, 1)
			sess.Inbox() <- session.Do{Cmd: cmd, Reply: result}
			if err := <-result; err != nil {
				log.Debug("command rejected",
					zap.String("event", code),
					zap.String("type", cm.Type),
					zap.String("reason", engine.Reason(err)))
				write(r.Context(), conn, types.ServerMessage{Type: "Error", Error: engine.Reason(err)})
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, msg types.ServerMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_ = conn.Write(wctx, websocket.MessageText, payload)
}

func toCommand(m types.ClientMessage, participantID string, isAdmin bool) (engine.Command, bool) {
	switch m.Type {
	case "Claim":
		return engine.Command{
			Type:        engine.CmdClaim,
			TurnID:      m.TurnID,
			OfferingID:  m.OfferingID,
			RequesterID: participantID,
		}, true
	case "Close":
		return engine.Command{
			Type:        engine.CmdClose,
			TurnID:      m.TurnID,
			RequesterID: participantID,
			IsAdmin:     isAdmin,
		}, true
	case "AdminAssign":
		if !isAdmin {
			return engine.Command{}, false
		}
		return engine.Command{
			Type:       engine.CmdAdminAssign,
			TurnID:     m.TurnID,
			OfferingID: m.OfferingID,
		}, true
	default:
		return engine.Command{}, false
	}
}

func randID(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[rand.Intn(len(charset))]
	}
	return string(b)
}
