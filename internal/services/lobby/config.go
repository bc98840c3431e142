package lobby

import "time"

// Config holds configuration for the lobby synchronizer
type Config struct {
	JoinTimeout  time.Duration // bounds connect, join acknowledgement and the initial fetch
	AckTimeout   time.Duration // bounds the start acknowledgement
	UpdateBuffer int
}

// DefaultConfig returns default lobby configuration
func DefaultConfig() Config {
	return Config{
		JoinTimeout:  15 * time.Second,
		AckTimeout:   10 * time.Second,
		UpdateBuffer: 16,
	}
}
