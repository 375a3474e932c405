package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	Port string

	// Chain connectivity.
	RPCURL             string
	RPCWSURL           string
	ContractAddress    string
	OperatorPrivateKey string
	ChainID            int64

	// Store.
	DBPath string

	// Game rules.
	KillProximityMeters        float64
	ZoneGraceSeconds           int64
	GPSPingIntervalSeconds     int64
	BLERequired                bool
	HeartbeatIntervalSeconds   int64
	HeartbeatProximityMeters   float64
	HeartbeatDisableThreshold  int
	CheckinDurationSeconds     int64
	PregameDurationSeconds     int64

	// Startup behaviour.
	StartGameID uint64
	RebuildDB   bool

	// Listener and websocket health.
	WSHeartbeatCheckIntervalMs int64
	WSHeartbeatStaleMs         int64
	WSRestartCooldownMs        int64

	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:               envOrDefault("PORT", "8019"),
		RPCURL:             os.Getenv("RPC_URL"),
		RPCWSURL:           os.Getenv("RPC_WS_URL"),
		ContractAddress:    os.Getenv("CONTRACT_ADDRESS"),
		OperatorPrivateKey: os.Getenv("OPERATOR_PRIVATE_KEY"),
		ChainID:            envInt("CHAIN_ID", 8453),

		DBPath: envOrDefault("DB_PATH", "./data/manhunt.db"),

		KillProximityMeters:       envFloat("KILL_PROXIMITY_METERS", 100),
		ZoneGraceSeconds:          envInt("ZONE_GRACE_SECONDS", 60),
		GPSPingIntervalSeconds:    envInt("GPS_PING_INTERVAL_SECONDS", 5),
		BLERequired:               envBool("BLE_REQUIRED", true),
		HeartbeatIntervalSeconds:  envInt("HEARTBEAT_INTERVAL_SECONDS", 600),
		HeartbeatProximityMeters:  envFloat("HEARTBEAT_PROXIMITY_METERS", 100),
		HeartbeatDisableThreshold: int(envInt("HEARTBEAT_DISABLE_THRESHOLD", 4)),
		CheckinDurationSeconds:    envInt("CHECKIN_DURATION_SECONDS", 300),
		PregameDurationSeconds:    envInt("PREGAME_DURATION_SECONDS", 180),

		StartGameID: uint64(envInt("START_GAME_ID", 1)),
		RebuildDB:   envBool("REBUILD_DB", false),

		WSHeartbeatCheckIntervalMs: envInt("WS_HEARTBEAT_CHECK_INTERVAL_MS", 30_000),
		WSHeartbeatStaleMs:         envInt("WS_HEARTBEAT_STALE_MS", 120_000),
		WSRestartCooldownMs:        envInt("WS_RESTART_COOLDOWN_MS", 30_000),

		LogLevel: envOrDefault("LOG_LEVEL", "info"),
	}
}

// Validate reports missing required settings. The process must not start
// without chain connectivity and an operator identity.
func (c *Config) Validate() error {
	var missing []string
	if c.RPCURL == "" {
		missing = append(missing, "RPC_URL")
	}
	if c.ContractAddress == "" {
		missing = append(missing, "CONTRACT_ADDRESS")
	}
	if c.OperatorPrivateKey == "" {
		missing = append(missing, "OPERATOR_PRIVATE_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
