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
const CleanupJobInterval = 5 * time.Minute

// Stale auth artifacts (QR codes, pairing codes) are cleared after this
const AuthArtifactTTL = 10 * time.Minute

// Default rate limiting for the HTTP API
const DefaultRateLimitPerMin = 60

// Engagement bookkeeping
const (
	XPPerMessage = 10
	XPPerLevel   = 100
)

// Full rule warnings repeat at most once per this window; repeats get a
// reaction glyph only.
const WarningSuppressionWindow = 24 * time.Hour

// Upstream AI calls
const (
	AIMaxAttempts     = 3
	AIInitialBackoff  = 500 * time.Millisecond
	AICompletionCache = 15 * time.Minute
)
