// Package config holds the plain configuration structs the pipeline's
// components are built from. No env/file loading lives here —
// populating these structs is the caller's responsibility, matching
// spec.md §1's Non-goal on configuration loading. Field comments
// document the environment variable spec.md §6 names for each value,
// for a caller-supplied loader to follow.
package config

import "time"

// Database configures the GORM/Postgres connection (env: DATABASE_URL,
// DB_MAX_OPEN_CONNS, DB_MAX_IDLE_CONNS).
type Database struct {
	DSN                 string
	MaxOpenConns        int
	MaxIdleConns        int
	ConnMaxLifetime     time.Duration
	ConnMaxIdleTime     time.Duration
	HealthCheckInterval time.Duration
}

// Redis configures the queue's backing store (env: REDIS_URL,
// REDIS_PASSWORD, REDIS_DB).
type Redis struct {
	Addr     string
	Password string
	DB       int
}

// Queue configures worker concurrency and retry behavior (env:
// QUEUE_CONCURRENCY).
type Queue struct {
	Concurrency  int64
	KeyPrefix    string
	MaxRetries   int
	InitialDelay time.Duration
}

// Provider configures one LLM Provider Registry entry (env:
// `<NAME>_API_KEY`, `<NAME>_BASE_URL`, `<NAME>_MODEL`).
type Provider struct {
	Name        string
	Protocol    string
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	RPS         float64
	Temperature float32
	MaxTokens   int
	Enabled     bool
}

// Providers configures the full registry (env: LLM_DEFAULT_PROVIDER,
// LLM_FALLBACK_ORDER as a comma-separated list).
type Providers struct {
	Entries         []Provider
	DefaultProvider string
	FallbackOrder   []string
}

// GitIdentity configures the Committer's author identity (env:
// GIT_AUTHOR_NAME, GIT_AUTHOR_EMAIL, GIT_SSH_PRIVATE_KEY_PATH).
type GitIdentity struct {
	Name           string
	Email          string
	PrivateKeyPath string
}

// Gate controls whether a failing quality score blocks commit (env:
// QUALITY_GATE_ENFORCE).
type Gate struct {
	Enforce bool
}

// Config is the top-level configuration surface a caller assembles
// (from env, a file, a secrets manager, or test fixtures) and passes
// to the pipeline's constructors.
type Config struct {
	Database  Database
	Redis     Redis
	Queue     Queue
	Providers Providers
	Git       GitIdentity
	Gate      Gate
}
