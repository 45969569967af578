package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/haven-im/haven-server/internal/auth"
	"github.com/haven-im/haven-server/internal/config"
	"github.com/haven-im/haven-server/internal/core"
	"github.com/haven-im/haven-server/internal/store"
	"github.com/haven-im/haven-server/internal/store/sqlite"
	transporthttp "github.com/haven-im/haven-server/internal/transport/http"
)

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	broker          *core.Broker
	store           store.Store
	log             *zerolog.Logger
}

// storeCallRecorder adapts the store to the broker's call-history hook.
type storeCallRecorder struct {
	store store.CallStore
}

func (r *storeCallRecorder) RecordCallStarted(ctx context.Context, code string, callerID, calleeID int64) error {
	now := time.Now().UTC()
	return r.store.CreateCall(ctx, &store.Call{
		Code:      code,
		CallerID:  callerID,
		CalleeID:  calleeID,
		Status:    store.CallStatusRinging,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

func (r *storeCallRecorder) RecordCallStatus(ctx context.Context, code string, status string) error {
	return r.store.UpdateCallStatus(ctx, code, store.CallStatus(status))
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      24 * time.Hour,
	}

	authService := auth.NewService(st, jwtConfig)

	// Voice-join authorization reads persistent channel membership; call
	// history is written through the recorder hook.
	broker := core.NewBroker(st, &storeCallRecorder{store: st}, logger)
	server := transporthttp.NewServer(broker, authService, st, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		broker:          broker,
		store:           st,
		log:             logger,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go a.broker.Run(ctx)

	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
