package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/SvelteTick/Impostr/internal/model"
	"github.com/SvelteTick/Impostr/internal/services/auth"
	"github.com/SvelteTick/Impostr/internal/services/lobby"
)

// Output handles formatting output based on the configured format
type Output struct {
	format string
	out    io.Writer
	errOut io.Writer
}

// NewOutput creates a new Output formatter
func NewOutput(format string, out, errOut io.Writer) *Output {
	return &Output{format: format, out: out, errOut: errOut}
}

// Print outputs data in the configured format
func (o *Output) Print(data any) {
	if o.format == "json" {
		o.printJSON(data)
	} else {
		o.printText(data)
	}
}

// PrintError outputs an error
func (o *Output) PrintError(err error) {
	if o.format == "json" {
		errData := map[string]any{
			"error": map[string]string{
				"message": err.Error(),
			},
		}
		data, _ := json.Marshal(errData)
		_, _ = fmt.Fprintln(o.errOut, string(data))
	} else {
		_, _ = fmt.Fprintf(o.errOut, "Error: %s\n", err)
	}
}

// PrintMessage outputs a simple message
func (o *Output) PrintMessage(msg string) {
	if o.format == "json" {
		data, _ := json.Marshal(map[string]string{"message": msg})
		_, _ = fmt.Fprintln(o.out, string(data))
	} else {
		_, _ = fmt.Fprintln(o.out, msg)
	}
}

func (o *Output) printJSON(data any) {
	enc := json.NewEncoder(o.out)
	if _, ok := data.(LobbyUpdate); !ok {
		// lobby updates are streamed one per line
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(data)
}

func (o *Output) printText(data any) {
	switch v := data.(type) {
	case *model.UserProfile:
		o.printProfile(v)
	case *model.Session:
		o.printSession(v)
	case Status:
		o.printStatus(v)
	case LobbyUpdate:
		o.printLobbyUpdate(v)
	default:
		// Fallback to JSON for unknown types
		o.printJSON(data)
	}
}

// Status is the printable form of auth.Report
type Status struct {
	State            auth.State         `json:"state"`
	User             *model.UserProfile `json:"user,omitempty"`
	AccessExpiresAt  *time.Time         `json:"accessExpiresAt,omitempty"`
	RefreshExpiresAt *time.Time         `json:"refreshExpiresAt,omitempty"`
	NeedsRefresh     bool               `json:"needsRefresh"`
}

func newStatus(r auth.Report) Status {
	s := Status{State: r.State, User: r.User, NeedsRefresh: r.NeedsRefresh}
	if !r.AccessExpiresAt.IsZero() {
		s.AccessExpiresAt = &r.AccessExpiresAt
	}
	if !r.RefreshExpiresAt.IsZero() {
		s.RefreshExpiresAt = &r.RefreshExpiresAt
	}
	return s
}

// LobbyUpdate is the printable form of lobby.Update
type LobbyUpdate struct {
	State   lobby.State           `json:"state"`
	Session *model.Session        `json:"session,omitempty"`
	Role    *model.RoleAssignment `json:"role,omitempty"`
	Error   string                `json:"error,omitempty"`
}

func newLobbyUpdate(u lobby.Update) LobbyUpdate {
	v := LobbyUpdate{State: u.State, Session: u.Session, Role: u.Role}
	if u.Err != nil {
		v.Error = u.Err.Error()
	}
	return v
}

func (o *Output) printProfile(p *model.UserProfile) {
	_, _ = fmt.Fprintf(o.out, "User: %s\n", p.ID)
	if p.Nickname != "" {
		_, _ = fmt.Fprintf(o.out, "Nickname: %s\n", p.Nickname)
	}
	if p.DisplayName != "" {
		_, _ = fmt.Fprintf(o.out, "Name: %s\n", p.DisplayName)
	}
	if p.Email != "" {
		_, _ = fmt.Fprintf(o.out, "Email: %s\n", p.Email)
	}
}

func (o *Output) printStatus(s Status) {
	_, _ = fmt.Fprintf(o.out, "State: %s\n", s.State)
	if s.User != nil {
		_, _ = fmt.Fprintf(o.out, "User: %s\n", describePlayer(s.User.ID, s.User.Nickname))
	}
	if s.AccessExpiresAt != nil {
		_, _ = fmt.Fprintf(o.out, "Access token expires: %s\n", s.AccessExpiresAt.Format(time.RFC3339))
	}
	if s.RefreshExpiresAt != nil {
		_, _ = fmt.Fprintf(o.out, "Refresh token expires: %s\n", s.RefreshExpiresAt.Format(time.RFC3339))
	}
	if s.NeedsRefresh {
		_, _ = fmt.Fprintln(o.out, "Access token will be refreshed on next use")
	}
}

func (o *Output) printSession(s *model.Session) {
	_, _ = fmt.Fprintf(o.out, "Room: %s\n", s.RoomCode)
	_, _ = fmt.Fprintf(o.out, "State: %s\n", s.State)
	_, _ = fmt.Fprintf(o.out, "Imposters: %d\n", s.Config.ImposterCount)
	if s.Config.TimeLimit != nil {
		_, _ = fmt.Fprintf(o.out, "Time Limit: %ds\n", *s.Config.TimeLimit)
	}
	_, _ = fmt.Fprintf(o.out, "Players (%d/%d):\n", len(s.Players), s.Config.MaxPlayers)
	for _, p := range s.Players {
		hostStr := ""
		if p.IsHost {
			hostStr = " [host]"
		}
		_, _ = fmt.Fprintf(o.out, "  - %s%s\n", describePlayer(p.UserID, p.Nickname), hostStr)
	}
}

func (o *Output) printLobbyUpdate(u LobbyUpdate) {
	switch {
	case u.Role != nil:
		_, _ = fmt.Fprintln(o.out, "Game started!")
		if u.Role.Role == model.RoleImpostor {
			_, _ = fmt.Fprintln(o.out, "You are the IMPOSTOR. Blend in.")
		} else {
			_, _ = fmt.Fprintf(o.out, "You are a player. The word is: %s\n", u.Role.Word())
		}
	case u.Error != "":
		_, _ = fmt.Fprintf(o.errOut, "[%s] %s\n", u.State, u.Error)
	case u.Session != nil:
		names := make([]string, 0, len(u.Session.Players))
		for _, p := range u.Session.Players {
			name := describePlayer(p.UserID, p.Nickname)
			if p.IsHost {
				name += "*"
			}
			names = append(names, name)
		}
		_, _ = fmt.Fprintf(o.out, "[%s] %s %d/%d: %s\n",
			u.State, u.Session.RoomCode, len(u.Session.Players), u.Session.Config.MaxPlayers, strings.Join(names, ", "))
	default:
		_, _ = fmt.Fprintf(o.out, "[%s]\n", u.State)
	}
}

func describePlayer(id model.UserID, nickname string) string {
	if nickname == "" {
		return string(id)
	}
	return fmt.Sprintf("%s (%s)", nickname, id)
}
