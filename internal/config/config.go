package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the service settings read from the environment.
type Config struct {
	Port        string
	DatabaseURL string
	JWTSecret   string

	Redis struct {
		Addr     string
		Password string
		DB       int
	}

	EncryptionKey string

	Classifier struct {
		URL     string
		APIKey  string
		Timeout time.Duration
	}

	Escalation struct {
		Threshold     string
		NotifyTimeout time.Duration
	}

	Notify struct {
		WebhookURL   string
		WebhookToken string
		MQTT         struct {
			Broker   string
			ClientID string
			Username string
			Password string
			Topic    string
		}
	}

	AnalyticsCacheTTL time.Duration
	HistoryDays       int

	Log struct {
		Level   string
		Format  string
		Service string
	}
}

// Load reads the configuration. JWT_SECRET is the only required value.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Port = getEnv("PORT", "8080")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	cfg.Redis.Addr = os.Getenv("REDIS_ADDR")
	cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")

	var err error
	if cfg.Redis.DB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, err
	}

	cfg.EncryptionKey = os.Getenv("ENCRYPTION_KEY")

	cfg.Classifier.URL = os.Getenv("CLASSIFIER_URL")
	cfg.Classifier.APIKey = os.Getenv("CLASSIFIER_API_KEY")
	if cfg.Classifier.Timeout, err = getDuration("CLASSIFIER_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}

	cfg.Escalation.Threshold = getEnv("ESCALATION_THRESHOLD", "medium")
	if cfg.Escalation.NotifyTimeout, err = getDuration("NOTIFY_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	cfg.Notify.WebhookURL = os.Getenv("NOTIFY_WEBHOOK_URL")
	cfg.Notify.WebhookToken = os.Getenv("NOTIFY_WEBHOOK_TOKEN")
	cfg.Notify.MQTT.Broker = os.Getenv("MQTT_BROKER")
	cfg.Notify.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "moodline")
	cfg.Notify.MQTT.Username = os.Getenv("MQTT_USERNAME")
	cfg.Notify.MQTT.Password = os.Getenv("MQTT_PASSWORD")
	cfg.Notify.MQTT.Topic = getEnv("MQTT_TOPIC", "moodline/alerts")

	if cfg.AnalyticsCacheTTL, err = getDuration("ANALYTICS_CACHE_TTL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.HistoryDays, err = getInt("RECENT_HISTORY_DAYS", 7); err != nil {
		return nil, err
	}
	if cfg.HistoryDays < 1 {
		cfg.HistoryDays = 7
	}

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")
	cfg.Log.Service = getEnv("SERVICE_NAME", "moodline")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

// getDuration accepts Go duration strings ("5s") or a bare number of seconds.
func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
