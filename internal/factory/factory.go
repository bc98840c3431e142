package factory

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/SvelteTick/Impostr/internal/api"
	"github.com/SvelteTick/Impostr/internal/dependencies/clock"
	"github.com/SvelteTick/Impostr/internal/dependencies/random"
	"github.com/SvelteTick/Impostr/internal/middleware"
	"github.com/SvelteTick/Impostr/internal/services/auth"
	"github.com/SvelteTick/Impostr/internal/services/lobby"
	"github.com/SvelteTick/Impostr/internal/storage"
	"github.com/SvelteTick/Impostr/internal/storage/file"
	"github.com/SvelteTick/Impostr/internal/storage/memory"
	redisstorage "github.com/SvelteTick/Impostr/internal/storage/redis"
	sqlitestorage "github.com/SvelteTick/Impostr/internal/storage/sqlite"
	"github.com/SvelteTick/Impostr/internal/transport"
	"github.com/SvelteTick/Impostr/internal/transport/ws"
)

// App contains all wired application components
type App struct {
	// Storage
	Storage storage.Storage

	// External dependencies
	Clock  clock.Clock
	Random random.Random

	// Remote service
	API    *api.Client
	Dialer transport.Dialer

	// Services
	AuthService *auth.Service

	LobbyConfig lobby.Config
	Logger      *slog.Logger

	closers []io.Closer
}

// Config holds configuration for the application factory
type Config struct {
	// ServerURL is the base URL of the request layer
	ServerURL string
	// SocketURL is the websocket endpoint of the event channel
	SocketURL string
	// StorageType selects the credential store ("memory", "file", "redis"
	// or "sqlite"). If empty, defaults to "memory".
	StorageType string
	// StoragePath is the file or database path for "file" and "sqlite"
	StoragePath string
	// RedisConfig holds Redis connection settings (required if StorageType is "redis")
	RedisConfig *redisstorage.Config
	// AuthConfig holds configuration for the auth service (optional)
	AuthConfig auth.Config
	// TransportConfig holds channel settings (optional); its URL is
	// replaced by SocketURL
	TransportConfig ws.Config
	// LobbyConfig holds synchronizer settings (optional)
	LobbyConfig lobby.Config
	// Logger is the application logger (optional)
	// If nil, a no-op logger is used
	Logger *slog.Logger
}

// New creates a new application with all dependencies wired
func New(cfg Config) (*App, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.ServerURL == "" {
		return nil, errors.New("ServerURL is required")
	}

	store, closer, err := openStorage(cfg)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{
		Timeout:   30 * time.Second,
		Transport: middleware.Logging(logger, nil),
	}
	apiClient := api.NewClient(cfg.ServerURL, httpClient)

	rnd := random.New()
	transportCfg := cfg.TransportConfig
	if transportCfg == (ws.Config{}) {
		transportCfg = ws.DefaultConfig("")
	}
	transportCfg.URL = cfg.SocketURL
	dialer := ws.NewDialer(transportCfg, rnd, logger, nil)

	app := newWithDependencies(store, clock.New(), rnd, apiClient, dialer, cfg, logger)
	if closer != nil {
		app.closers = append(app.closers, closer)
	}
	return app, nil
}

func openStorage(cfg Config) (storage.Storage, io.Closer, error) {
	switch cfg.StorageType {
	case "", storage.TypeMemory:
		return memory.New(), nil, nil
	case storage.TypeFile:
		if cfg.StoragePath == "" {
			return nil, nil, errors.New("StoragePath required when StorageType is file")
		}
		return file.New(cfg.StoragePath), nil, nil
	case storage.TypeSQLite:
		if cfg.StoragePath == "" {
			return nil, nil, errors.New("StoragePath required when StorageType is sqlite")
		}
		store, err := sqlitestorage.Open(cfg.StoragePath)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	case storage.TypeRedis:
		if cfg.RedisConfig == nil {
			return nil, nil, errors.New("RedisConfig required when StorageType is redis")
		}
		store, err := redisstorage.New(*cfg.RedisConfig)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	default:
		return nil, nil, fmt.Errorf("invalid StorageType %q: must be one of memory, file, redis, sqlite", cfg.StorageType)
	}
}

// newWithDependencies creates an App with the given dependencies (useful for testing)
func newWithDependencies(store storage.Storage, clk clock.Clock, rnd random.Random, apiClient *api.Client, dialer transport.Dialer, cfg Config, logger *slog.Logger) *App {
	authService := auth.New(store, apiClient, clk, logger, cfg.AuthConfig)

	lobbyCfg := cfg.LobbyConfig
	if lobbyCfg == (lobby.Config{}) {
		lobbyCfg = lobby.DefaultConfig()
	}

	return &App{
		Storage:     store,
		Clock:       clk,
		Random:      rnd,
		API:         apiClient,
		Dialer:      dialer,
		AuthService: authService,
		LobbyConfig: lobbyCfg,
		Logger:      logger,
	}
}

// NewSynchronizer creates a lobby synchronizer for one room join
func (a *App) NewSynchronizer() *lobby.Synchronizer {
	return lobby.New(a.Dialer, a.API, a.Logger, a.LobbyConfig)
}

// Close releases the credential store
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
