package model

import "time"

// UserID uniquely identifies an account on the remote service
type UserID string

// UserProfile is the account profile cached alongside the credential
type UserProfile struct {
	ID          UserID `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"name"`
	Nickname    string `json:"nickname"`
}

// Credential is the token pair held for the signed-in user.
// An empty AccessToken means there is no credential at all, whatever
// RefreshToken holds.
type Credential struct {
	AccessToken  string
	RefreshToken string       // empty when absent
	CachedUser   *UserProfile // nil when absent
}

// HasAccess reports whether an access token is held
func (c Credential) HasAccess() bool {
	return c.AccessToken != ""
}

// Refresh returns the refresh token usable for decisions, which is empty
// whenever there is no access token
func (c Credential) Refresh() string {
	if !c.HasAccess() {
		return ""
	}
	return c.RefreshToken
}

// Player is a participant in a session lobby. Players are replaced, never
// mutated, when a new snapshot arrives.
type Player struct {
	UserID   UserID    `json:"userId"`
	Nickname string    `json:"nickname"`
	IsHost   bool      `json:"isHost"`
	JoinedAt time.Time `json:"joinedAt"`
}
