package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Port           string
	AllowedOrigins []string
	LogLevel       string

	// WebSocket timing
	WSReadTimeout  time.Duration
	WSWriteTimeout time.Duration
	PingPeriod     time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64

	// Orchestration
	ResponderTimeout    time.Duration // hard bound on one responder invocation
	SessionRetention    time.Duration // how long ended sessions stay in memory
	QueueStatusInterval time.Duration // periodic queue_status broadcast to agents
	MaxWaitAlert        time.Duration // watchdog threshold for the queue head
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	config := &Config{
		Port:           getEnv("PORT", "8080"),
		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "http://localhost:5173"), ","),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}

	wsReadTimeout, err := strconv.Atoi(getEnv("WS_READ_TIMEOUT", "60"))
	if err != nil {
		return nil, fmt.Errorf("invalid WS_READ_TIMEOUT: %w", err)
	}
	config.WSReadTimeout = time.Duration(wsReadTimeout) * time.Second

	wsWriteTimeout, err := strconv.Atoi(getEnv("WS_WRITE_TIMEOUT", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid WS_WRITE_TIMEOUT: %w", err)
	}
	config.WSWriteTimeout = time.Duration(wsWriteTimeout) * time.Second

	responderTimeout, err := strconv.Atoi(getEnv("RESPONDER_TIMEOUT", "15"))
	if err != nil {
		return nil, fmt.Errorf("invalid RESPONDER_TIMEOUT: %w", err)
	}
	config.ResponderTimeout = time.Duration(responderTimeout) * time.Second

	retention, err := strconv.Atoi(getEnv("SESSION_RETENTION", "3600"))
	if err != nil {
		return nil, fmt.Errorf("invalid SESSION_RETENTION: %w", err)
	}
	config.SessionRetention = time.Duration(retention) * time.Second

	queueStatus, err := strconv.Atoi(getEnv("QUEUE_STATUS_INTERVAL", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid QUEUE_STATUS_INTERVAL: %w", err)
	}
	config.QueueStatusInterval = time.Duration(queueStatus) * time.Second

	maxWait, err := strconv.Atoi(getEnv("MAX_WAIT_ALERT", "300"))
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_WAIT_ALERT: %w", err)
	}
	config.MaxWaitAlert = time.Duration(maxWait) * time.Second

	// Calculate WebSocket constants
	config.PongWait = config.WSReadTimeout
	config.PingPeriod = (config.PongWait * 9) / 10 // Must be less than pongWait
	config.WriteWait = config.WSWriteTimeout
	config.MaxMessageSize = 4096

	// Trim spaces from allowed origins
	for i, origin := range config.AllowedOrigins {
		config.AllowedOrigins[i] = strings.TrimSpace(origin)
	}

	return config, nil
}

// getEnv gets an environment variable with a fallback default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
