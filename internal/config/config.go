package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	NodeEnv string
	Relay   RelayConfig
	Client  ClientConfig
}

// RelayConfig holds relay server configuration
type RelayConfig struct {
	Port          string
	SweepInterval time.Duration // how often stale connections are checked
	StaleAfter    time.Duration // inactivity window before eviction
}

// ClientConfig holds peer sync client configuration
type ClientConfig struct {
	RelayURL             string // ws://host:port/ws
	HeartbeatInterval    time.Duration
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int
	PingTimeout          time.Duration
	LoopbackChannel      string        // shared slot name for the local fallback
	LoopbackDrain        time.Duration // queue drain period while in fallback
	LoopbackClearDelay   time.Duration // how long a payload stays in the slot
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	return &Config{
		NodeEnv: getEnv("NODE_ENV", "development"),
		Relay: RelayConfig{
			Port:          getEnv("SYNC_RELAY_PORT", "8765"),
			SweepInterval: getEnvDuration("SYNC_SWEEP_INTERVAL", 30*time.Second),
			StaleAfter:    getEnvDuration("SYNC_STALE_AFTER", 5*time.Minute),
		},
		Client: ClientConfig{
			RelayURL:             getEnv("SYNC_RELAY_URL", "ws://localhost:8765/ws"),
			HeartbeatInterval:    getEnvDuration("SYNC_HEARTBEAT_INTERVAL", 30*time.Second),
			ReconnectBaseDelay:   getEnvDuration("SYNC_RECONNECT_BASE", 10*time.Second),
			ReconnectMaxDelay:    getEnvDuration("SYNC_RECONNECT_MAX", 60*time.Second),
			MaxReconnectAttempts: getEnvInt("SYNC_RECONNECT_ATTEMPTS", 5),
			PingTimeout:          getEnvDuration("SYNC_PING_TIMEOUT", 5*time.Second),
			LoopbackChannel:      getEnv("SYNC_LOOPBACK_CHANNEL", "sync-channel"),
			LoopbackDrain:        getEnvDuration("SYNC_LOOPBACK_DRAIN", 1*time.Second),
			LoopbackClearDelay:   getEnvDuration("SYNC_LOOPBACK_CLEAR", 100*time.Millisecond),
		},
	}, nil
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvDuration parses a Go duration string (e.g. "30s", "5m")
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvInt parses an integer environment variable
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
