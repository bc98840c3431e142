package api

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/SvelteTick/Impostr/internal/model"
)

// RegisterRequest creates an account
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Nickname string `json:"nickname"`
}

// RegisterResponse is returned by a successful registration
type RegisterResponse struct {
	AccessToken  string            `json:"accessToken"`
	RefreshToken string            `json:"refreshToken"`
	User         model.UserProfile `json:"user"`
}

// LoginRequest signs in with email and password
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse is returned by login and refresh. The backend names the
// access token "token" on these routes and "accessToken" on register; both
// are accepted.
type TokenResponse struct {
	Token        string `json:"token"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Access returns the access token whichever field carried it
func (r TokenResponse) Access() string {
	if r.Token != "" {
		return r.Token
	}
	return r.AccessToken
}

// ErrMissingToken is returned when a token response has no access token
var ErrMissingToken = errors.New("response did not include an access token")

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type joinRequest struct {
	RoomCode model.RoomCode `json:"roomCode"`
}

// Register creates an account and returns its first token pair
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
	var resp RegisterResponse
	if err := c.Post(ctx, "/auth/register", "", req, &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, ErrMissingToken
	}
	return &resp, nil
}

// Login exchanges credentials for a token pair
func (c *Client) Login(ctx context.Context, req LoginRequest) (*TokenResponse, error) {
	var resp TokenResponse
	if err := c.Post(ctx, "/auth/login", "", req, &resp); err != nil {
		return nil, err
	}
	if resp.Access() == "" {
		return nil, ErrMissingToken
	}
	return &resp, nil
}

// Refresh exchanges a refresh token for a new access token, and possibly a
// rotated refresh token
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	var resp TokenResponse
	if err := c.Post(ctx, "/auth/refresh", "", refreshRequest{RefreshToken: refreshToken}, &resp); err != nil {
		return nil, err
	}
	if resp.Access() == "" {
		return nil, ErrMissingToken
	}
	return &resp, nil
}

// CreateSession creates a game session hosted by the token's user
func (c *Client) CreateSession(ctx context.Context, token string, cfg model.SessionConfig) (*model.Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var session model.Session
	if err := c.Post(ctx, "/game/create", token, cfg, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// JoinSession adds the token's user to the session with the given code
func (c *Client) JoinSession(ctx context.Context, token string, code model.RoomCode) (*model.Session, error) {
	var session model.Session
	if err := c.Post(ctx, "/game/join", token, joinRequest{RoomCode: code}, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetSession fetches the full snapshot of a session
func (c *Client) GetSession(ctx context.Context, token string, code model.RoomCode) (*model.Session, error) {
	var session model.Session
	if err := c.Get(ctx, fmt.Sprintf("/game/%s", url.PathEscape(string(code))), token, &session); err != nil {
		return nil, err
	}
	return &session, nil
}
