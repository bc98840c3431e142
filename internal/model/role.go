package model

// Role is the secret role a player receives when the game starts
type Role string

const (
	RolePlayer   Role = "PLAYER"
	RoleImpostor Role = "IMPOSTOR"
)

// RoleAssignment is delivered once, at the lobby to game transition. It is
// not part of Session.
type RoleAssignment struct {
	Role       Role    `json:"role"`
	SecretWord *string `json:"secretWord,omitempty"` // nil when absent
}

// Word returns the secret word, or "" when absent
func (r RoleAssignment) Word() string {
	if r.SecretWord == nil {
		return ""
	}
	return *r.SecretWord
}
