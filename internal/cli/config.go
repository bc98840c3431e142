package cli

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"

	"github.com/SvelteTick/Impostr/internal/factory"
	"github.com/SvelteTick/Impostr/internal/storage"
	redisstorage "github.com/SvelteTick/Impostr/internal/storage/redis"
)

// Config holds CLI configuration. Values come from the environment and are
// overridden by flags.
type Config struct {
	ServerURL   string `env:"IMPOSTR_SERVER" envDefault:"https://impostr-backend-production.up.railway.app"`
	SocketURL   string `env:"IMPOSTR_SOCKET"`
	Store       string `env:"IMPOSTR_STORE" envDefault:"file"`
	StorePath   string `env:"IMPOSTR_STORE_PATH"`
	RedisURL    string `env:"IMPOSTR_REDIS_URL" envDefault:"redis://localhost:6379"`
	Output      string `env:"IMPOSTR_OUTPUT" envDefault:"text"`
	MetricsAddr string `env:"IMPOSTR_METRICS_ADDR"`
	LogFormat   string `env:"IMPOSTR_LOG_FORMAT" envDefault:"text"`
	Verbose     bool   `env:"IMPOSTR_VERBOSE"`
}

// LoadConfig reads the configuration from the environment
func LoadConfig() (*Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &c, nil
}

// Socket returns the event channel URL, derived from the server URL when
// not set explicitly
func (c *Config) Socket() (string, error) {
	if c.SocketURL != "" {
		return c.SocketURL, nil
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("invalid server URL %q: scheme must be http or https", c.ServerURL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}

// Path returns the credential store location for file and sqlite stores
func (c *Config) Path() string {
	if c.StorePath != "" {
		return c.StorePath
	}
	name := "credentials.json"
	if c.Store == storage.TypeSQLite {
		name = "credentials.db"
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".impostr", name)
	}
	return filepath.Join(home, ".impostr", name)
}

// Factory converts the CLI configuration into the application config
func (c *Config) Factory() (factory.Config, error) {
	socket, err := c.Socket()
	if err != nil {
		return factory.Config{}, err
	}

	fc := factory.Config{
		ServerURL:   c.ServerURL,
		SocketURL:   socket,
		StorageType: c.Store,
	}
	switch c.Store {
	case storage.TypeFile, storage.TypeSQLite:
		fc.StoragePath = c.Path()
	case storage.TypeRedis:
		redisCfg := redisstorage.DefaultConfig()
		redisCfg.URL = c.RedisURL
		fc.RedisConfig = &redisCfg
	}
	return fc, nil
}
