package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/giftswap/exchange-backend/internal/hub"
	"github.com/giftswap/exchange-backend/internal/ws"
)

func SetupRoutes(h *hub.Hub, adminToken string, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	api := &API{hub: h, adminToken: adminToken, log: log}

	r.Post("/events", api.CreateEvent)
	r.Get("/events/{code}", api.Snapshot)
	r.Post("/events/{code}/start", api.StartInteractive)
	r.Post("/events/{code}/sealed", api.GenerateSealed)
	r.With(api.requireAdmin).Post("/events/{code}/reset", api.Reset)
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(h, adminToken, log))
	return r
}
