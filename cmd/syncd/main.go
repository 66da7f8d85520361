// Package main is the entry point for the local sync daemon.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/capitalize-ai/support-sync/internal/api"
	"github.com/capitalize-ai/support-sync/internal/clock"
	"github.com/capitalize-ai/support-sync/internal/config"
	"github.com/capitalize-ai/support-sync/internal/engine"
	"github.com/capitalize-ai/support-sync/internal/handler"
	"github.com/capitalize-ai/support-sync/internal/presence"
	"github.com/capitalize-ai/support-sync/internal/session"
	"github.com/capitalize-ai/support-sync/internal/transport"
	"github.com/capitalize-ai/support-sync/pkg/logger"
	"github.com/capitalize-ai/support-sync/pkg/tracing"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "syncd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()

	sess, err := session.Parse(cfg.SessionToken, time.Now())
	if err != nil {
		return err
	}
	log = log.WithSession(sess.UserID, sess.Role)

	log.Info("starting sync daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize tracing if enabled
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "support-sync", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	apiClient, err := api.NewClient(api.Config{
		BaseURL: cfg.APIBaseURL,
		Token:   sess.Token,
		Timeout: cfg.APITimeout,
	}, log.Named("api"))
	if err != nil {
		return err
	}

	natsClient := transport.New(transport.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
		UserID:   sess.UserID,
	}, log.Named("transport"))

	eng := engine.New(natsClient, apiClient, clock.Real(), engine.Options{
		UserID:           sess.UserID,
		PageSize:         cfg.PageSize,
		SendTimeout:      cfg.SendTimeout,
		NoticeBufferSize: cfg.NoticeBufferSize,
		Presence: presence.Options{
			Idle:   cfg.TypingIdle,
			Expiry: cfg.TypingExpiry,
		},
	}, log)

	if err := natsClient.Connect(ctx, eng.Handle); err != nil {
		return err
	}
	defer natsClient.Close()

	if err := natsClient.EnsureOutbox(ctx, cfg.NATSCreateOutbox); err != nil {
		// Sends fall back to HTTP while the outbox is unavailable.
		log.Warn("outbox stream unavailable", zap.Error(err))
	}

	notices := handler.NewNoticeHub(log.Named("notices"))

	server := &http.Server{
		Addr: cfg.BridgeAddr,
		Handler: handler.NewRouter(handler.RouterConfig{
			Engine:            eng,
			Presence:          eng.Presence(),
			Transport:         natsClient,
			Notices:           notices,
			Logger:            log.Named("bridge"),
			UserID:            sess.UserID,
			Staff:             sess.IsStaff(),
			Secret:            cfg.BridgeSecret,
			AllowedOrigins:    cfg.BridgeOrigins,
			RateLimitRequests: cfg.RateLimitRequests,
			RateLimitWindow:   cfg.RateLimitWindow,
		}),
		ReadTimeout:  cfg.BridgeReadTimeout,
		WriteTimeout: cfg.BridgeWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return notices.Run(gctx, eng.Notices())
	})

	g.Go(func() error {
		log.Info("bridge listening", zap.String("addr", cfg.BridgeAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("bridge server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down bridge")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("bridge forced to shutdown", zap.Error(err))
		}
		eng.Logout()
		return nil
	})

	err = g.Wait()
	log.Info("sync daemon stopped")
	return err
}
