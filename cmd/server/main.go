package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/giftswap/exchange-backend/internal/config"
	"github.com/giftswap/exchange-backend/internal/httpapi"
	"github.com/giftswap/exchange-backend/internal/hub"
	"github.com/giftswap/exchange-backend/internal/store"
)

func main() {
	cfg := config.Load()

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var st store.SessionStore
	if cfg.DatabaseURL != "" {
		gs, err := store.OpenGorm(cfg.DatabaseURL)
		if err != nil {
			log.Fatal("open postgres store", zap.Error(err))
		}
		st = gs
		log.Info("using postgres session store")
	} else {
		st = store.NewMemory()
		log.Info("using in-memory session store")
	}

	h := hub.NewHub(ctx, st, log)
	handler := httpapi.SetupRoutes(h, cfg.AdminToken, log)

	srv := &http.Server{Addr: cfg.Addr, Handler: handler}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

// newLogger builds a development logger at debug and a production logger at
// any other zap level. An unknown level is a config error, not info.
func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	return cfg.Build()
}
