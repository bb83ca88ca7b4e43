package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates application configuration values loaded from environment
// variables. Mongo and Kafka are optional: without them the server runs on
// the in-memory store with no push relay.
type Config struct {
	Env      string
	HTTPAddr string

	MongoURI string
	MongoDB  string

	KafkaBrokers []string
	PushTopic    string
	PushGroupID  string

	JWTSecret     string
	SupportUserID string

	WatchRetryDelay time.Duration
	SendTimeout     time.Duration
}

// Load parses configuration from the current environment. A .env file is
// merged in when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Env:           getEnv("APP_ENV", "dev"),
		HTTPAddr:      getEnv("HTTP_ADDR", ":8080"),
		MongoURI:      os.Getenv("MONGO_URI"),
		MongoDB:       getEnv("MONGO_DB", "ptp_messaging"),
		PushTopic:     getEnv("PUSH_TOPIC", "ptp.push.new-message"),
		PushGroupID:   getEnv("PUSH_GROUP_ID", "push-relay"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		SupportUserID: getEnv("SUPPORT_USER_ID", "support"),
	}
	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		for _, raw := range strings.Split(brokers, ",") {
			if b := strings.TrimSpace(raw); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	retry, err := parseDurationEnv("WATCH_RETRY_DELAY", 2*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg.WatchRetryDelay = retry

	sendTimeout, err := parseDurationEnv("SEND_TIMEOUT", 10*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg.SendTimeout = sendTimeout

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required")
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseDurationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", key, err)
	}
	return d, nil
}
