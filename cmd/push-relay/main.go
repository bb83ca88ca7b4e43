// push-relay consumes new_message events and hands them to the platform
// notification service. The actual delivery call lives behind an interface;
// this binary logs deliveries and is the deploy target for the relay.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ptpplayersteachingplayers/ptp-messaging/internal/config"
	"github.com/ptpplayersteachingplayers/ptp-messaging/internal/obs"
	"github.com/ptpplayersteachingplayers/ptp-messaging/internal/push"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env := getenv("APP_ENV", "dev")
	logger := obs.NewLogger(env)

	cfg, err := config.Load()
	if err != nil {
		// The relay has no use for JWT_SECRET, so a failed load still
		// leaves enough environment to run from.
		logger.Warn("using fallback configuration", "error", err)
		for _, b := range strings.Split(os.Getenv("KAFKA_BROKERS"), ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
		cfg.PushTopic = getenv("PUSH_TOPIC", "ptp.push.new-message")
		cfg.PushGroupID = getenv("PUSH_GROUP_ID", "push-relay")
	}
	if len(cfg.KafkaBrokers) == 0 {
		logger.Error("KAFKA_BROKERS is required for the relay")
		os.Exit(1)
	}

	consumer, err := push.NewConsumer(cfg.KafkaBrokers, cfg.PushGroupID, func(ctx context.Context, event push.Event) error {
		logger.Info("delivering push notification",
			"conversation_id", event.ConversationID,
			"message_id", event.MessageID,
			"recipients", len(event.RecipientIDs),
			"suppress_alert", event.SuppressAlert,
		)
		return nil
	}, logger)
	if err != nil {
		logger.Error("consumer init failed", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	logger.Info("push relay consuming", "topic", cfg.PushTopic, "group", cfg.PushGroupID)
	if err := consumer.Run(ctx, []string{cfg.PushTopic}); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("relay stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("push relay stopped")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
