package model

import (
	"fmt"
	"strings"
	"time"
)

// RoomCodeLength is the length of a room code
const RoomCodeLength = 5

// Player count and config bounds accepted by the backend
const (
	MinPlayers       = 3
	MaxPlayersLimit  = 20
	MaxImposterCount = 3
	MinTimeLimit     = 30
	MaxTimeLimit     = 600
)

// RoomCode is the short identifier players use to join a session
type RoomCode string

// NormalizeRoomCode trims and uppercases user input and checks its length
func NormalizeRoomCode(input string) (RoomCode, error) {
	code := strings.ToUpper(strings.TrimSpace(input))
	if len([]rune(code)) != RoomCodeLength {
		return "", fmt.Errorf("%w: got %q", ErrInvalidRoomCode, input)
	}
	return RoomCode(code), nil
}

// SessionState is the server-side phase of a session
type SessionState string

const (
	SessionStateLobby   SessionState = "LOBBY"
	SessionStatePlaying SessionState = "PLAYING"
	SessionStateVoting  SessionState = "VOTING"
	SessionStateEnded   SessionState = "ENDED"
)

// SessionConfig holds the settings chosen when a session is created
type SessionConfig struct {
	MaxPlayers    int  `json:"maxPlayers"`
	ImposterCount int  `json:"imposterCount"`
	TimeLimit     *int `json:"timeLimit,omitempty"` // seconds, nil when unlimited
}

// DefaultSessionConfig returns the settings offered when creating a game
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxPlayers:    8,
		ImposterCount: 2,
	}
}

// MaxImposters returns the largest imposter count allowed for MaxPlayers
func (c SessionConfig) MaxImposters() int {
	return min(MaxImposterCount, c.MaxPlayers/2)
}

// Validate checks the config against the bounds the backend accepts
func (c SessionConfig) Validate() error {
	if c.MaxPlayers < MinPlayers || c.MaxPlayers > MaxPlayersLimit {
		return fmt.Errorf("%w: maxPlayers must be between %d and %d", ErrInvalidConfig, MinPlayers, MaxPlayersLimit)
	}
	if c.ImposterCount < 1 || c.ImposterCount > c.MaxImposters() {
		return fmt.Errorf("%w: imposterCount must be between 1 and %d", ErrInvalidConfig, c.MaxImposters())
	}
	if c.TimeLimit != nil && (*c.TimeLimit < MinTimeLimit || *c.TimeLimit > MaxTimeLimit) {
		return fmt.Errorf("%w: timeLimit must be between %d and %d seconds", ErrInvalidConfig, MinTimeLimit, MaxTimeLimit)
	}
	return nil
}

// Session is the client's projection of a game session. It is only ever
// replaced wholesale by a newer snapshot.
type Session struct {
	RoomCode  RoomCode      `json:"roomCode"`
	HostID    UserID        `json:"hostId"`
	Players   []Player      `json:"players"`
	Config    SessionConfig `json:"config"`
	State     SessionState  `json:"state"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Clone returns a copy that shares no slices with s
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Players = append([]Player(nil), s.Players...)
	if s.Config.TimeLimit != nil {
		tl := *s.Config.TimeLimit
		c.Config.TimeLimit = &tl
	}
	return &c
}

// Host returns the host player, or nil if none is flagged
func (s *Session) Host() *Player {
	for i := range s.Players {
		if s.Players[i].IsHost {
			return &s.Players[i]
		}
	}
	return nil
}

// Player returns the player with the given user ID, or nil if not present
func (s *Session) Player(id UserID) *Player {
	for i := range s.Players {
		if s.Players[i].UserID == id {
			return &s.Players[i]
		}
	}
	return nil
}

// IsHost reports whether the given user is this session's host
func (s *Session) IsHost(id UserID) bool {
	if id == "" || s.HostID != id {
		return false
	}
	p := s.Player(id)
	return p != nil && p.IsHost
}

// CanStart reports whether the given user may start the game
func (s *Session) CanStart(id UserID) bool {
	return s.IsHost(id) && len(s.Players) >= MinPlayers
}

// Validate checks the session invariants. The server is authoritative, so
// callers log violations rather than reject the snapshot.
func (s *Session) Validate() error {
	if s.Config.MaxPlayers > 0 && len(s.Players) > s.Config.MaxPlayers {
		return fmt.Errorf("session %s has %d players, max %d", s.RoomCode, len(s.Players), s.Config.MaxPlayers)
	}
	if s.Config.ImposterCount < 1 || s.Config.ImposterCount > s.Config.MaxImposters() {
		return fmt.Errorf("session %s has imposter count %d outside 1..%d", s.RoomCode, s.Config.ImposterCount, s.Config.MaxImposters())
	}

	seen := make(map[UserID]bool, len(s.Players))
	hosts := 0
	for _, p := range s.Players {
		if seen[p.UserID] {
			return fmt.Errorf("session %s lists player %s twice", s.RoomCode, p.UserID)
		}
		seen[p.UserID] = true
		if p.IsHost {
			hosts++
			if p.UserID != s.HostID {
				return fmt.Errorf("session %s flags %s as host but hostId is %s", s.RoomCode, p.UserID, s.HostID)
			}
		}
	}
	if hosts != 1 {
		return fmt.Errorf("session %s has %d hosts", s.RoomCode, hosts)
	}
	return nil
}
