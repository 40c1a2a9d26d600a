package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Background job intervals
const (
	RetentionJobInterval = 24 * time.Hour
	SweepJobTimeout      = 5 * time.Minute
)

// Confidence below which a classified intent never triggers an action.
const ActionConfidenceThreshold = 0.5

// Default maximum delivery attempts per outbound message
const DefaultMaxAttempts = 3
