// Package auth manages the lifecycle of the signed-in user's credential:
// it decides whether the held access token is usable and renews it at most
// once at a time when it is not.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/SvelteTick/Impostr/internal/api"
	"github.com/SvelteTick/Impostr/internal/dependencies/clock"
	"github.com/SvelteTick/Impostr/internal/metrics"
	"github.com/SvelteTick/Impostr/internal/model"
	"github.com/SvelteTick/Impostr/internal/services/token"
	"github.com/SvelteTick/Impostr/internal/storage"
)

// State of the credential as last observed by the service
type State string

const (
	StateNoCredential State = "NO_CREDENTIAL"
	StateValid        State = "VALID"
	StateRefreshing   State = "REFRESHING"
	StateInvalid      State = "INVALID"
)

// API is the subset of the remote service the credential manager calls
type API interface {
	Register(ctx context.Context, req api.RegisterRequest) (*api.RegisterResponse, error)
	Login(ctx context.Context, req api.LoginRequest) (*api.TokenResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*api.TokenResponse, error)
}

// Config holds configuration for the auth service
type Config struct {
	// RefreshTimeout bounds a refresh call. The call is detached from the
	// caller's context, so this is the only deadline it has.
	RefreshTimeout time.Duration
}

// DefaultConfig returns default auth configuration
func DefaultConfig() Config {
	return Config{
		RefreshTimeout: 15 * time.Second,
	}
}

const refreshKey = "refresh"

// Service is the credential lifecycle manager. It is the only writer of the
// credential entries in storage and is safe for concurrent use.
type Service struct {
	storage storage.Storage
	api     API
	codec   *token.Codec
	clock   clock.Clock
	logger  *slog.Logger
	cfg     Config

	refreshGroup singleflight.Group

	mu    sync.RWMutex
	state State

	// writeMu serializes credential writes. generation advances whenever the
	// credential is replaced or cleared outside a refresh.
	writeMu    sync.Mutex
	generation uint64
}

// New creates a new auth Service
func New(store storage.Storage, remote API, clk clock.Clock, logger *slog.Logger, cfg Config) *Service {
	if cfg.RefreshTimeout == 0 {
		cfg.RefreshTimeout = DefaultConfig().RefreshTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		storage: store,
		api:     remote,
		codec:   token.NewCodec(),
		clock:   clk,
		logger:  logger,
		cfg:     cfg,
		state:   StateNoCredential,
	}
}

// State returns the state the credential was last seen in
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Service) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	metrics.RecordCredentialCheck(string(state))
}

// EnsureValid returns an access token usable for a protected action.
//
// A token that has not expired is returned without any network call. An
// expired or undecodable token is renewed with the refresh token; concurrent
// callers share a single refresh call. When the credential cannot be renewed
// all stored entries are cleared and model.ErrSessionExpired is returned.
// model.ErrUnauthenticated is returned when no access token is stored.
//
// Cancelling ctx abandons the wait but not the refresh itself, whose result
// is still persisted for later callers.
func (s *Service) EnsureValid(ctx context.Context) (string, error) {
	gen := s.currentGeneration()
	access, err := s.read(ctx, storage.KeyAccessToken)
	if err != nil {
		return "", err
	}
	if access == "" {
		s.setState(StateNoCredential)
		return "", model.ErrUnauthenticated
	}

	if s.usable(access) {
		s.setState(StateValid)
		return access, nil
	}

	refresh, err := s.read(ctx, storage.KeyRefreshToken)
	if err != nil {
		return "", err
	}
	if !s.refreshable(refresh) {
		s.logger.Info("credential expired and cannot be refreshed")
		return s.invalidate(ctx, gen, nil)
	}

	s.setState(StateRefreshing)
	ch := s.refreshGroup.DoChan(refreshKey, func() (any, error) {
		return s.refresh(context.WithoutCancel(ctx), access, refresh)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Shared {
			metrics.RefreshShared.Inc()
		}
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// refresh runs inside the single-flight group. The stored access token is
// re-read first since a flight that finished just before this one started
// may already have replaced it. The result is dropped when the credential
// was saved or cleared while the call was in flight.
func (s *Service) refresh(ctx context.Context, expiredAccess, refreshToken string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RefreshTimeout)
	defer cancel()

	gen := s.currentGeneration()
	current, err := s.read(ctx, storage.KeyAccessToken)
	if err != nil {
		return "", err
	}
	if current == "" {
		s.setState(StateNoCredential)
		return "", model.ErrUnauthenticated
	}
	if current != expiredAccess && s.usable(current) {
		s.setState(StateValid)
		return current, nil
	}

	start := time.Now()
	resp, err := s.api.Refresh(ctx, refreshToken)
	if err == nil && resp.Access() == "" {
		err = api.ErrMissingToken
	}
	if err != nil {
		metrics.RecordRefresh("failure")
		s.logger.Warn("token refresh failed",
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return s.invalidate(ctx, gen, err)
	}

	rotated := resp.RefreshToken != "" && resp.RefreshToken != refreshToken
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.generation != gen {
		s.logger.Info("discarding refreshed token, credential changed during refresh")
		return s.storedAccess(ctx)
	}
	if err := s.storage.Set(ctx, storage.KeyAccessToken, resp.Access()); err != nil {
		return "", fmt.Errorf("failed to persist access token: %w", err)
	}
	if rotated {
		if err := s.storage.Set(ctx, storage.KeyRefreshToken, resp.RefreshToken); err != nil {
			return "", fmt.Errorf("failed to persist refresh token: %w", err)
		}
	}

	metrics.RecordRefresh("success")
	s.logger.Info("token refreshed",
		slog.Duration("duration", time.Since(start)),
		slog.Bool("refresh_token_rotated", rotated),
	)
	s.setState(StateValid)
	return resp.Access(), nil
}

// invalidate clears every stored credential entry and returns the session
// expired failure, wrapping cause when there is one. A credential saved or
// cleared since gen was observed is left alone.
func (s *Service) invalidate(ctx context.Context, gen uint64, cause error) (string, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.generation != gen {
		return s.storedAccess(ctx)
	}
	s.generation++

	s.setState(StateInvalid)
	if err := s.storage.Delete(ctx, storage.CredentialKeys...); err != nil {
		s.logger.Error("failed to clear credential", slog.String("error", err.Error()))
		return "", errors.Join(model.ErrSessionExpired, err)
	}
	if cause != nil {
		return "", fmt.Errorf("%w: %w", model.ErrSessionExpired, cause)
	}
	return "", model.ErrSessionExpired
}

func (s *Service) currentGeneration() uint64 {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.generation
}

// storedAccess answers a caller whose credential changed under it with
// whatever is stored now. Callers hold writeMu.
func (s *Service) storedAccess(ctx context.Context) (string, error) {
	access, err := s.read(ctx, storage.KeyAccessToken)
	if err != nil {
		return "", err
	}
	if access == "" {
		s.setState(StateNoCredential)
		return "", model.ErrUnauthenticated
	}
	s.setState(StateValid)
	return access, nil
}

// usable reports whether an access token can be sent as is. A token that
// fails to decode is never usable.
func (s *Service) usable(access string) bool {
	claims, err := s.codec.Decode(access)
	if err != nil {
		s.logger.Debug("access token could not be decoded", slog.String("error", err.Error()))
		return false
	}
	return !claims.ExpiredAt(s.clock.Now())
}

// refreshable reports whether a refresh call is worth attempting. A refresh
// token that fails to decode is left for the server to judge.
func (s *Service) refreshable(refresh string) bool {
	if refresh == "" {
		return false
	}
	claims, err := s.codec.Decode(refresh)
	if err != nil {
		return true
	}
	return !claims.ExpiredAt(s.clock.Now())
}

// read returns the stored value for key, or "" when it is absent
func (s *Service) read(ctx context.Context, key string) (string, error) {
	value, err := s.storage.Get(ctx, key)
	if errors.Is(err, model.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read credential: %w", err)
	}
	return value, nil
}

// Save persists a credential obtained elsewhere, replacing the stored one.
// Entries absent from cred are removed.
func (s *Service) Save(ctx context.Context, cred model.Credential) error {
	if !cred.HasAccess() {
		return fmt.Errorf("%w: credential has no access token", model.ErrMalformedToken)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.generation++

	var stale []string
	if err := s.storage.Set(ctx, storage.KeyAccessToken, cred.AccessToken); err != nil {
		return fmt.Errorf("failed to persist access token: %w", err)
	}
	if cred.RefreshToken != "" {
		if err := s.storage.Set(ctx, storage.KeyRefreshToken, cred.RefreshToken); err != nil {
			return fmt.Errorf("failed to persist refresh token: %w", err)
		}
	} else {
		stale = append(stale, storage.KeyRefreshToken)
	}
	if cred.CachedUser != nil {
		data, err := json.Marshal(cred.CachedUser)
		if err != nil {
			return err
		}
		if err := s.storage.Set(ctx, storage.KeyUser, string(data)); err != nil {
			return fmt.Errorf("failed to persist user profile: %w", err)
		}
	} else {
		stale = append(stale, storage.KeyUser)
	}
	if len(stale) > 0 {
		if err := s.storage.Delete(ctx, stale...); err != nil {
			return err
		}
	}

	s.setState(StateValid)
	return nil
}

// Credential loads the stored credential. Without an access token the
// result is empty whatever else is stored.
func (s *Service) Credential(ctx context.Context) (model.Credential, error) {
	access, err := s.read(ctx, storage.KeyAccessToken)
	if err != nil || access == "" {
		return model.Credential{}, err
	}
	refresh, err := s.read(ctx, storage.KeyRefreshToken)
	if err != nil {
		return model.Credential{}, err
	}
	cred := model.Credential{AccessToken: access, RefreshToken: refresh}

	raw, err := s.read(ctx, storage.KeyUser)
	if err != nil {
		return model.Credential{}, err
	}
	if raw != "" {
		var user model.UserProfile
		if err := json.Unmarshal([]byte(raw), &user); err != nil {
			s.logger.Warn("discarding unreadable cached user profile", slog.String("error", err.Error()))
		} else {
			cred.CachedUser = &user
		}
	}
	return cred, nil
}

// Logout clears the stored credential. It never calls the remote service.
func (s *Service) Logout(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.generation++

	if err := s.storage.Delete(ctx, storage.CredentialKeys...); err != nil {
		return fmt.Errorf("failed to clear credential: %w", err)
	}
	s.setState(StateNoCredential)
	s.logger.Info("signed out")
	return nil
}
