package lobby

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/SvelteTick/Impostr/internal/model"
)

// Payload shapes observed from the backend, normalized here so the state
// machine only ever sees a full Session or a RoleAssignment.
//
//	snapshot events                       result
//	{"session": {...}}                    full replacement
//	{"players": [...], ...session fields} session fields, missing ones kept from current
//	[...players]                          players replaced, rest kept from current
//
//	game-started                          result
//	role | yourRole, default PLAYER       Role (IMPOSTER accepted as IMPOSTOR)
//	secretWord | word, "" means absent    SecretWord

var (
	errUnrecognizedPayload = errors.New("unrecognized snapshot payload")
	errCrossRoom           = errors.New("snapshot is for another room")
)

// normalizeSnapshot turns a snapshot event payload into the session that
// replaces current. current may be nil.
func normalizeSnapshot(data json.RawMessage, code model.RoomCode, current *model.Session) (*model.Session, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errUnrecognizedPayload
	}

	var next *model.Session
	var priorHost model.UserID
	switch data[0] {
	case '[':
		var players []model.Player
		if err := json.Unmarshal(data, &players); err != nil {
			return nil, err
		}
		next = current.Clone()
		if next == nil {
			next = &model.Session{}
		}
		priorHost, next.HostID = next.HostID, ""
		next.Players = players

	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, err
		}
		if raw, ok := fields["session"]; ok && !isNull(raw) {
			next = &model.Session{}
			if err := json.Unmarshal(raw, next); err != nil {
				return nil, err
			}
			break
		}
		if _, ok := fields["players"]; !ok {
			return nil, errUnrecognizedPayload
		}
		next = &model.Session{}
		if err := json.Unmarshal(data, next); err != nil {
			return nil, err
		}
		mergeMissing(next, current)
		if next.HostID == "" && current != nil {
			priorHost = current.HostID
		}

	default:
		return nil, errUnrecognizedPayload
	}

	if next.RoomCode == "" {
		next.RoomCode = code
	}
	next.RoomCode = model.RoomCode(strings.ToUpper(string(next.RoomCode)))
	if next.RoomCode != code {
		return nil, errCrossRoom
	}
	// the flagged player wins over a host carried from the previous projection
	if next.HostID == "" {
		if host := next.Host(); host != nil {
			next.HostID = host.UserID
		} else {
			next.HostID = priorHost
		}
	}
	return next, nil
}

// mergeMissing fills the fields a players-bearing payload left out from the
// current projection. The host is derived by the caller.
func mergeMissing(next, current *model.Session) {
	if current == nil {
		return
	}
	if next.RoomCode == "" {
		next.RoomCode = current.RoomCode
	}
	if next.Config.MaxPlayers == 0 && next.Config.ImposterCount == 0 {
		next.Config = current.Clone().Config
	}
	if next.State == "" {
		next.State = current.State
	}
	if next.CreatedAt.IsZero() {
		next.CreatedAt = current.CreatedAt
	}
}

type gameStartedPayload struct {
	Role       string `json:"role"`
	YourRole   string `json:"yourRole"`
	SecretWord string `json:"secretWord"`
	Word       string `json:"word"`
}

// normalizeRole turns a game-started payload into a RoleAssignment. The
// second result is false when the role string was not recognised and
// PLAYER was assumed.
func normalizeRole(data json.RawMessage) (model.RoleAssignment, bool, error) {
	var p gameStartedPayload
	if len(bytes.TrimSpace(data)) > 0 && !isNull(data) {
		if err := json.Unmarshal(data, &p); err != nil {
			return model.RoleAssignment{}, false, err
		}
	}

	raw := p.Role
	if raw == "" {
		raw = p.YourRole
	}

	assignment := model.RoleAssignment{Role: model.RolePlayer}
	known := true
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "", string(model.RolePlayer):
	case string(model.RoleImpostor), "IMPOSTER":
		assignment.Role = model.RoleImpostor
	default:
		known = false
	}

	word := p.SecretWord
	if word == "" {
		word = p.Word
	}
	if word != "" {
		assignment.SecretWord = &word
	}
	return assignment, known, nil
}

type ackPayload struct {
	Success *bool           `json:"success"`
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
	Session json.RawMessage `json:"session"`
}

// parseAck inspects a command acknowledgement. It returns the rejection
// message when the server refused the command, and any session the
// acknowledgement carried.
func parseAck(data json.RawMessage) (rejected bool, message string, session json.RawMessage) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return false, "", nil
	}
	var ack ackPayload
	if err := json.Unmarshal(data, &ack); err != nil {
		return false, "", nil
	}

	message = ack.Message
	if errMsg := errorText(ack.Error); errMsg != "" {
		rejected = true
		message = errMsg
	}
	if ack.Success != nil && !*ack.Success {
		rejected = true
	}
	return rejected, message, ack.Session
}

// errorText extracts a message from an error field or error event payload,
// which may be a string or an object with a message
func errorText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Message != "" {
			return obj.Message
		}
		if obj.Error != "" {
			return obj.Error
		}
	}
	if raw[0] == '{' {
		return "unknown error"
	}
	return string(raw)
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
