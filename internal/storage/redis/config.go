package redis

import "time"

// Config holds Redis connection and behavior settings
type Config struct {
	// URL is the Redis connection URL (e.g., redis://localhost:6379)
	URL string

	// Pool settings
	PoolSize     int
	MinIdleConns int

	// Retention of records that can no longer change. Zero keeps them forever.
	FinalizedOfferTTL time.Duration
	CompletedMatchTTL time.Duration
}

// DefaultConfig returns sensible defaults for Redis configuration
func DefaultConfig() Config {
	return Config{
		URL:               "redis://localhost:6379",
		PoolSize:          10,
		MinIdleConns:      2,
		FinalizedOfferTTL: 7 * 24 * time.Hour,
		CompletedMatchTTL: 7 * 24 * time.Hour,
	}
}
