// Package token decodes the claims of signed access and refresh tokens
// without verifying their signature. The server stays authoritative; the
// decoded expiry only tells the client when to refresh.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/SvelteTick/Impostr/internal/model"
)

// Claims are the registered claims the client relies on
type Claims struct {
	Subject   model.UserID
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// ExpiredAt reports whether the claims have expired at now. A token expiring
// exactly at now counts as expired.
func (c Claims) ExpiredAt(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}

// Codec decodes tokens. The zero value is ready to use.
type Codec struct {
	parser *jwt.Parser
}

// NewCodec creates a Codec
func NewCodec() *Codec {
	return &Codec{parser: jwt.NewParser()}
}

// Decode extracts the claims of raw. Any structural problem, including a
// missing exp claim, is reported as model.ErrMalformedToken.
func (c *Codec) Decode(raw string) (Claims, error) {
	if raw == "" {
		return Claims{}, fmt.Errorf("%w: empty token", model.ErrMalformedToken)
	}

	parser := c.parser
	if parser == nil {
		parser = jwt.NewParser()
	}

	var registered jwt.RegisteredClaims
	if _, _, err := parser.ParseUnverified(raw, &registered); err != nil {
		return Claims{}, fmt.Errorf("%w: %w", model.ErrMalformedToken, err)
	}
	if registered.ExpiresAt == nil {
		return Claims{}, fmt.Errorf("%w: missing exp claim", model.ErrMalformedToken)
	}

	claims := Claims{
		Subject:   model.UserID(registered.Subject),
		ExpiresAt: registered.ExpiresAt.Time,
	}
	if registered.IssuedAt != nil {
		claims.IssuedAt = registered.IssuedAt.Time
	}
	return claims, nil
}

// IsMalformed reports whether err came from decoding a malformed token
func IsMalformed(err error) bool {
	return errors.Is(err, model.ErrMalformedToken)
}
