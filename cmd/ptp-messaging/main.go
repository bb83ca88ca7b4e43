package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ptpplayersteachingplayers/ptp-messaging/internal/auth"
	"github.com/ptpplayersteachingplayers/ptp-messaging/internal/chat"
	"github.com/ptpplayersteachingplayers/ptp-messaging/internal/config"
	ginserver "github.com/ptpplayersteachingplayers/ptp-messaging/internal/http/gin"
	"github.com/ptpplayersteachingplayers/ptp-messaging/internal/messaging"
	"github.com/ptpplayersteachingplayers/ptp-messaging/internal/obs"
	"github.com/ptpplayersteachingplayers/ptp-messaging/internal/push"
	"github.com/ptpplayersteachingplayers/ptp-messaging/internal/store"
	memorystore "github.com/ptpplayersteachingplayers/ptp-messaging/internal/store/memory"
	mongostore "github.com/ptpplayersteachingplayers/ptp-messaging/internal/store/mongo"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env := getenv("APP_ENV", "dev")
	logger := obs.NewLogger(env)

	cfg, err := config.Load()
	if err != nil {
		logger.Warn("using fallback configuration", "error", err)
		cfg.Env = env
		cfg.HTTPAddr = getenv("HTTP_ADDR", ":8080")
		cfg.JWTSecret = "ptp-dev-secret"
		cfg.SupportUserID = "support"
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}

	authCtx, err := auth.NewContext(cfg.JWTSecret)
	if err != nil {
		logger.Error("auth context init failed", "error", err)
		os.Exit(1)
	}

	conversationStore, ready, cleanup := buildStore(ctx, cfg, logger)
	defer cleanup()

	tracker := chat.NewTracker()

	var notifier messaging.Notifier
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := push.NewProducer(cfg.KafkaBrokers, cfg.PushTopic, tracker, logger)
		if err != nil {
			logger.Error("push producer init failed", "error", err)
			os.Exit(1)
		}
		defer producer.Close()
		notifier = producer
		logger.Info("push relay enabled", "topic", cfg.PushTopic)
	} else {
		logger.Warn("KAFKA_BROKERS not set, push relay disabled")
	}

	client, err := messaging.NewClient(conversationStore, messaging.Config{SupportUserID: cfg.SupportUserID}, notifier, logger)
	if err != nil {
		logger.Error("messaging client init failed", "error", err)
		os.Exit(1)
	}

	server := ginserver.NewServer(cfg, obs.Middleware{Logger: logger}, obs.HealthHandlers{Ready: ready}, ginserver.Handlers{
		Chat:           ginserver.ChatHandler{Client: client, Logger: logger},
		Stream:         &ginserver.StreamHandler{Client: client, Tracker: tracker, Logger: logger},
		AuthMiddleware: ginserver.AuthMiddleware{Auth: authCtx, Logger: logger}.Handle,
	})

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
	}()

	logger.Info("HTTP server starting", "addr", cfg.HTTPAddr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("HTTP server stopped")
}

// buildStore prefers Mongo when configured, falling back to the in-memory
// store so local runs need no external services.
func buildStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Store, func() error, func()) {
	if cfg.MongoURI == "" {
		logger.Warn("MONGO_URI not set, using in-memory store")
		return memorystore.NewStore(), func() error { return nil }, func() {}
	}
	client, err := mongostore.New(cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		logger.Error("mongo connect failed", "error", err)
		os.Exit(1)
	}
	st := mongostore.NewStore(client, logger)
	st.WatchRetryDelay = cfg.WatchRetryDelay
	st.OnWatchState = func(state mongostore.WatchState, err error) {
		switch state {
		case mongostore.WatchConnected:
			logger.Info("change stream connected")
		case mongostore.WatchReconnecting:
			logger.Warn("change stream reconnecting", "error", err)
		case mongostore.WatchFailed:
			logger.Error("change stream failed", "error", err)
		}
	}
	if err := st.EnsureIndexes(ctx); err != nil {
		logger.Error("index creation failed", "error", err)
		os.Exit(1)
	}
	logger.Info("mongo store ready", "db", cfg.MongoDB)

	ready := func() error {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return client.Ping(pingCtx)
	}
	cleanup := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Close(closeCtx); err != nil {
			logger.Warn("mongo disconnect failed", "error", err)
		}
	}
	return st, ready, cleanup
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
