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

// Pairing negotiation
const (
	PairingKeysPollInterval = 250 * time.Millisecond
	PairingRetryMultiplier  = 1.0
)

// Timeout for a single sweep pass
const SweepTimeout = 30 * time.Second

// Session creation rate limit window
const CreateLimitWindow = time.Minute

// Timeout for a single store write issued outside a request
const PersistTimeout = 5 * time.Second
