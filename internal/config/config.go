// Package config provides centralized configuration management.
// Every tunable of the session server lives here; other packages receive
// the relevant section through their constructors.
//
// Values come from the defaults below, overridden by environment variables
// (a .env file is loaded by cmd/server before Load is called).
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds HTTP/websocket listener settings.
type ServerConfig struct {
	Port           int
	AdminKey       string   // Required for /api/tokens and /api/admin/*; empty disables them
	AllowedOrigins []string // Websocket/CORS origins; localhost is always allowed
	DebugAddr      string   // pprof + metrics listener, localhost only
	DebugEnabled   bool
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Port:           3000,
		AllowedOrigins: []string{"http://localhost:3000", "http://127.0.0.1:3000"},
		DebugAddr:      "127.0.0.1:6060",
		DebugEnabled:   true,
	}
}

// ServerFromEnv returns server configuration with environment variable overrides.
func ServerFromEnv() ServerConfig {
	cfg := DefaultServer()

	if p := getEnvInt("PORT", 0); p > 0 {
		cfg.Port = p
	}
	if k := os.Getenv("ADMIN_KEY"); k != "" {
		cfg.AdminKey = k
	}
	if o := getEnvList("ALLOWED_ORIGINS"); len(o) > 0 {
		cfg.AllowedOrigins = o
	}
	if a := os.Getenv("DEBUG_ADDR"); a != "" {
		cfg.DebugAddr = a
	}
	if os.Getenv("DISABLE_DEBUG_SERVER") == "true" {
		cfg.DebugEnabled = false
	}

	return cfg
}

// =============================================================================
// SESSION CONFIGURATION
// =============================================================================

// Duplicate login policies.
const (
	DuplicateReplace = "replace" // newest connection wins, old one is closed
	DuplicateReject  = "reject"  // newest connection is refused while one is live
)

// SessionConfig controls authentication and connection lifetime.
type SessionConfig struct {
	TokenTTL        time.Duration // Lifetime of an issued login token
	IdleTimeout     time.Duration // Connections silent this long are closed
	DuplicatePolicy string        // DuplicateReplace or DuplicateReject
	StartMap        string        // Map for characters without a valid saved map
	MessagesPerSec  float64       // Inbound message budget per connection
	MessageBurst    int
	ChatCooldown    time.Duration // Minimum gap between chat lines per session
	ChatMaxLength   int
}

// DefaultSession returns the default session configuration.
func DefaultSession() SessionConfig {
	return SessionConfig{
		TokenTTL:        2 * time.Minute,
		IdleTimeout:     60 * time.Second,
		DuplicatePolicy: DuplicateReplace,
		StartMap:        "100000000",
		MessagesPerSec:  60,
		MessageBurst:    120,
		ChatCooldown:    400 * time.Millisecond,
		ChatMaxLength:   200,
	}
}

// SessionFromEnv returns session configuration with environment variable overrides.
func SessionFromEnv() SessionConfig {
	cfg := DefaultSession()

	if d := getEnvDuration("SESSION_TOKEN_TTL", 0); d > 0 {
		cfg.TokenTTL = d
	}
	if d := getEnvDuration("SESSION_IDLE_TIMEOUT", 0); d > 0 {
		cfg.IdleTimeout = d
	}
	switch os.Getenv("SESSION_DUPLICATE_POLICY") {
	case DuplicateReject:
		cfg.DuplicatePolicy = DuplicateReject
	case DuplicateReplace:
		cfg.DuplicatePolicy = DuplicateReplace
	}
	if m := os.Getenv("START_MAP"); m != "" {
		cfg.StartMap = m
	}
	if r := getEnvFloat("MESSAGES_PER_SEC", 0); r > 0 {
		cfg.MessagesPerSec = r
	}
	if b := getEnvInt("MESSAGE_BURST", 0); b > 0 {
		cfg.MessageBurst = b
	}

	return cfg
}

// =============================================================================
// ANTI-CHEAT CONFIGURATION
// =============================================================================

// MovementConfig holds movement and interaction legality thresholds.
type MovementConfig struct {
	MaxSpeed        float64 // px/s; faster moves are dropped
	PortalTolerance float64 // px; max distance from a portal to use it
}

// DefaultMovement returns the default movement configuration.
func DefaultMovement() MovementConfig {
	return MovementConfig{
		MaxSpeed:        1200,
		PortalTolerance: 200,
	}
}

// MovementFromEnv returns movement configuration with environment variable overrides.
func MovementFromEnv() MovementConfig {
	cfg := DefaultMovement()

	if v := getEnvFloat("MAX_MOVE_SPEED", 0); v > 0 {
		cfg.MaxSpeed = v
	}
	if v := getEnvFloat("PORTAL_TOLERANCE", 0); v > 0 {
		cfg.PortalTolerance = v
	}

	return cfg
}

// =============================================================================
// REACTOR & DROP CONFIGURATION
// =============================================================================

// ReactorConfig holds reactor hit rules.
type ReactorConfig struct {
	MaxHP        int
	RangeX       float64
	RangeY       float64
	Cooldown     time.Duration // Shared by all actors hitting one reactor
	RespawnDelay time.Duration
}

// DefaultReactor returns the default reactor configuration.
func DefaultReactor() ReactorConfig {
	return ReactorConfig{
		MaxHP:        4,
		RangeX:       120,
		RangeY:       60,
		Cooldown:     600 * time.Millisecond,
		RespawnDelay: 10 * time.Second,
	}
}

// DropConfig holds drop ledger timings.
type DropConfig struct {
	ProtectionWindow time.Duration // Only the owner may loot before this elapses
	Expiry           time.Duration // Untouched drops are swept after this
}

// DefaultDrop returns the default drop configuration.
func DefaultDrop() DropConfig {
	return DropConfig{
		ProtectionWindow: 5 * time.Second,
		Expiry:           180 * time.Second,
	}
}

// =============================================================================
// SWEEP CONFIGURATION
// =============================================================================

// SweepConfig holds the intervals of the background sweeps.
type SweepConfig struct {
	Liveness    time.Duration
	Reactors    time.Duration
	Drops       time.Duration
	PlayerCount time.Duration
}

// DefaultSweep returns the default sweep intervals.
func DefaultSweep() SweepConfig {
	return SweepConfig{
		Liveness:    5 * time.Second,
		Reactors:    250 * time.Millisecond,
		Drops:       time.Second,
		PlayerCount: 10 * time.Second,
	}
}

// =============================================================================
// STORAGE & DATA CONFIGURATION
// =============================================================================

// Storage drivers.
const (
	StorageMemory = "memory"
	StorageMongo  = "mongo"
)

// StorageConfig selects and configures the character persistence backend.
type StorageConfig struct {
	Driver           string
	MongoURI         string
	MongoDatabase    string
	MongoCollection  string
	OperationTimeout time.Duration
	WorldDataPath    string // JSON catalog of maps, NPCs, reactors and loot
	JournalPath      string // Audit journal (JSONL); empty disables it
}

// DefaultStorage returns the default storage configuration.
func DefaultStorage() StorageConfig {
	return StorageConfig{
		Driver:           StorageMemory,
		MongoURI:         "mongodb://localhost:27017",
		MongoDatabase:    "shlop",
		MongoCollection:  "characters",
		OperationTimeout: 5 * time.Second,
		WorldDataPath:    "data/world.json",
		JournalPath:      "audit.jsonl",
	}
}

// StorageFromEnv returns storage configuration with environment variable overrides.
func StorageFromEnv() StorageConfig {
	cfg := DefaultStorage()

	if d := os.Getenv("STORAGE_DRIVER"); d != "" {
		cfg.Driver = d
	}
	if u := os.Getenv("MONGO_URI"); u != "" {
		cfg.MongoURI = u
	}
	if db := os.Getenv("MONGO_DATABASE"); db != "" {
		cfg.MongoDatabase = db
	}
	if c := os.Getenv("MONGO_COLLECTION"); c != "" {
		cfg.MongoCollection = c
	}
	if d := getEnvDuration("STORAGE_TIMEOUT", 0); d > 0 {
		cfg.OperationTimeout = d
	}
	if p := os.Getenv("WORLD_DATA_PATH"); p != "" {
		cfg.WorldDataPath = p
	}
	if p, ok := os.LookupEnv("JOURNAL_PATH"); ok {
		cfg.JournalPath = p
	}

	return cfg
}

// =============================================================================
// LOGGING CONFIGURATION
// =============================================================================

// LogConfig controls the zap logger.
type LogConfig struct {
	Level      string // debug, info, warn, error
	FilePath   string // Rolling log file; empty logs to console only
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// DefaultLog returns the default logging configuration.
func DefaultLog() LogConfig {
	return LogConfig{
		Level:      "info",
		FilePath:   "server.log",
		MaxSizeMB:  10,
		MaxBackups: 3,
		MaxAgeDays: 7,
	}
}

// LogFromEnv returns logging configuration with environment variable overrides.
func LogFromEnv() LogConfig {
	cfg := DefaultLog()

	if l := os.Getenv("LOG_LEVEL"); l != "" {
		cfg.Level = l
	}
	if p, ok := os.LookupEnv("LOG_FILE"); ok {
		cfg.FilePath = p
	}

	return cfg
}

// =============================================================================
// RESOURCE LIMITS
// =============================================================================

// LimitsConfig controls DoS protection limits.
type LimitsConfig struct {
	MaxConnections      int     // Total websocket connections
	MaxConnectionsPerIP int     // Concurrent websocket connections per IP
	RequestsPerSecond   float64 // HTTP requests per IP
	RequestBurst        int
	LoopQueue           int // Pending work items before submitters block

	// TrustProxy keys per-IP limits on X-Forwarded-For / X-Real-IP. Only
	// enable it behind a proxy that overwrites those headers.
	TrustProxy bool
}

// DefaultLimits returns the default resource limits.
func DefaultLimits() LimitsConfig {
	return LimitsConfig{
		MaxConnections:      2000,
		MaxConnectionsPerIP: 10,
		RequestsPerSecond:   10,
		RequestBurst:        20,
		LoopQueue:           4096,
	}
}

// LimitsFromEnv loads the limits with environment overrides.
func LimitsFromEnv() LimitsConfig {
	cfg := DefaultLimits()
	cfg.MaxConnections = getEnvInt("MAX_CONNECTIONS", cfg.MaxConnections)
	cfg.MaxConnectionsPerIP = getEnvInt("MAX_CONNECTIONS_PER_IP", cfg.MaxConnectionsPerIP)
	cfg.TrustProxy = os.Getenv("TRUSTED_PROXY") == "true"
	return cfg
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Server   ServerConfig
	Session  SessionConfig
	Movement MovementConfig
	Reactor  ReactorConfig
	Drop     DropConfig
	Sweep    SweepConfig
	Storage  StorageConfig
	Log      LogConfig
	Limits   LimitsConfig
}

// Load returns the complete configuration with environment overrides.
func Load() AppConfig {
	return AppConfig{
		Server:   ServerFromEnv(),
		Session:  SessionFromEnv(),
		Movement: MovementFromEnv(),
		Reactor:  DefaultReactor(),
		Drop:     DefaultDrop(),
		Sweep:    DefaultSweep(),
		Storage:  StorageFromEnv(),
		Log:      LogFromEnv(),
		Limits:   LimitsFromEnv(),
	}
}

// Default returns the complete configuration without consulting the environment.
func Default() AppConfig {
	return AppConfig{
		Server:   DefaultServer(),
		Session:  DefaultSession(),
		Movement: DefaultMovement(),
		Reactor:  DefaultReactor(),
		Drop:     DefaultDrop(),
		Sweep:    DefaultSweep(),
		Storage:  DefaultStorage(),
		Log:      DefaultLog(),
		Limits:   DefaultLimits(),
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}
