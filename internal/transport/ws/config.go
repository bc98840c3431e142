package ws

import "time"

// Config holds configuration for the websocket transport
type Config struct {
	URL                string
	HandshakeTimeout   time.Duration
	AckTimeout         time.Duration
	WriteTimeout       time.Duration
	ReconnectAttempts  int
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
	// EventBuffer bounds the events read ahead of the consumer. Acks share
	// the read loop, so a consumer awaiting one must keep draining Events.
	EventBuffer        int
}

// DefaultConfig returns default transport configuration
func DefaultConfig(url string) Config {
	return Config{
		URL:                url,
		HandshakeTimeout:   10 * time.Second,
		AckTimeout:         10 * time.Second,
		WriteTimeout:       5 * time.Second,
		ReconnectAttempts:  5,
		ReconnectBaseDelay: 500 * time.Millisecond,
		ReconnectMaxDelay:  10 * time.Second,
		EventBuffer:        32,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig(c.URL)
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.AckTimeout == 0 {
		c.AckTimeout = def.AckTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = def.ReconnectBaseDelay
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = def.ReconnectMaxDelay
	}
	if c.EventBuffer == 0 {
		c.EventBuffer = def.EventBuffer
	}
	return c
}
