package redis

import "time"

// Config holds Redis connection and behavior settings
type Config struct {
	// URL is the Redis connection URL (e.g., redis://localhost:6379)
	URL string

	// Pool settings
	PoolSize     int
	MinIdleConns int

	// KeyPrefix namespaces credential keys, allowing several profiles to
	// share one Redis instance
	KeyPrefix string

	// TTL applied to every credential entry; zero keeps entries until cleared
	TTL time.Duration
}

// DefaultConfig returns sensible defaults for Redis configuration
func DefaultConfig() Config {
	return Config{
		URL:          "redis://localhost:6379",
		PoolSize:     4,
		MinIdleConns: 1,
		KeyPrefix:    "impostr:credential",
		TTL:          0,
	}
}
