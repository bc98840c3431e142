package auth

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/SvelteTick/Impostr/internal/api"
	"github.com/SvelteTick/Impostr/internal/model"
)

// RegisterInput holds the fields for creating an account
type RegisterInput struct {
	Email    string
	Password string
	Name     string
	Nickname string
}

// Register creates an account and stores its credential and profile
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.UserProfile, error) {
	resp, err := s.api.Register(ctx, api.RegisterRequest{
		Email:    strings.TrimSpace(in.Email),
		Password: in.Password,
		Name:     strings.TrimSpace(in.Name),
		Nickname: strings.TrimSpace(in.Nickname),
	})
	if err != nil {
		return nil, err
	}

	user := resp.User
	if err := s.Save(ctx, model.Credential{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		CachedUser:   &user,
	}); err != nil {
		return nil, err
	}

	s.logger.Info("registered account", slog.String("user_id", string(user.ID)))
	return &user, nil
}

// Login signs in and stores the returned token pair. The backend does not
// return a profile here, so any profile cached for a previous account is
// dropped.
func (s *Service) Login(ctx context.Context, email, password string) error {
	resp, err := s.api.Login(ctx, api.LoginRequest{
		Email:    strings.TrimSpace(email),
		Password: password,
	})
	if err != nil {
		return err
	}
	if resp.Access() == "" {
		return api.ErrMissingToken
	}

	if err := s.Save(ctx, model.Credential{
		AccessToken:  resp.Access(),
		RefreshToken: resp.RefreshToken,
	}); err != nil {
		return err
	}

	s.logger.Info("signed in")
	return nil
}

// CurrentUser returns the cached profile. When none is cached a profile
// carrying only the token subject is returned.
func (s *Service) CurrentUser(ctx context.Context) (*model.UserProfile, error) {
	cred, err := s.Credential(ctx)
	if err != nil {
		return nil, err
	}
	if !cred.HasAccess() {
		return nil, model.ErrUnauthenticated
	}
	if cred.CachedUser != nil {
		return cred.CachedUser, nil
	}

	claims, err := s.codec.Decode(cred.AccessToken)
	if err != nil {
		return nil, err
	}
	return &model.UserProfile{ID: claims.Subject}, nil
}

// Report describes the stored credential without touching the network
type Report struct {
	State            State
	User             *model.UserProfile
	AccessExpiresAt  time.Time // zero when the access token cannot be decoded
	RefreshExpiresAt time.Time // zero when absent or undecodable
	NeedsRefresh     bool
}

// Inspect reports what EnsureValid would do with the stored credential.
// StateInvalid means EnsureValid would fail with model.ErrSessionExpired.
func (s *Service) Inspect(ctx context.Context) (Report, error) {
	cred, err := s.Credential(ctx)
	if err != nil {
		return Report{}, err
	}
	if !cred.HasAccess() {
		return Report{State: StateNoCredential}, nil
	}

	report := Report{User: cred.CachedUser}
	if claims, err := s.codec.Decode(cred.AccessToken); err == nil {
		report.AccessExpiresAt = claims.ExpiresAt
	}
	if claims, err := s.codec.Decode(cred.Refresh()); err == nil {
		report.RefreshExpiresAt = claims.ExpiresAt
	}

	switch {
	case s.usable(cred.AccessToken):
		report.State = StateValid
	case s.refreshable(cred.Refresh()):
		report.State = StateValid
		report.NeedsRefresh = true
	default:
		report.State = StateInvalid
	}
	if s.State() == StateRefreshing {
		report.State = StateRefreshing
	}
	return report, nil
}
