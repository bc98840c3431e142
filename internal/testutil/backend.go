package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/golang-jwt/jwt/v5"

	"github.com/SvelteTick/Impostr/internal/model"
)

// Backend is an in-process fake of the Impostr backend: the JSON request
// layer plus the websocket event channel at /ws. Tokens are signed with
// TestSigningKey and checked against the real clock.
type Backend struct {
	*httptest.Server

	t          testing.TB
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// SecretWord is handed to every non-impostor on game start
	SecretWord string

	mu           sync.Mutex
	users        map[string]*backendUser // by email
	sessions     map[model.RoomCode]*model.Session
	members      map[model.RoomCode]map[model.UserID]*websocket.Conn
	nextUser     int
	nextRoom     int
	refreshCalls int
}

type backendUser struct {
	profile  model.UserProfile
	password string
}

type wsFrame struct {
	Type  string          `json:"type"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	ID    string          `json:"id,omitempty"`
}

// NewBackend starts a fake backend that is closed with the test
func NewBackend(t testing.TB) *Backend {
	t.Helper()
	b := &Backend{
		t:          t,
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		SecretWord: "APPLE",
		users:      make(map[string]*backendUser),
		sessions:   make(map[model.RoomCode]*model.Session),
		members:    make(map[model.RoomCode]map[model.UserID]*websocket.Conn),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/register", b.handleRegister)
	mux.HandleFunc("POST /auth/login", b.handleLogin)
	mux.HandleFunc("POST /auth/refresh", b.handleRefresh)
	mux.HandleFunc("POST /game/create", b.authenticated(b.handleCreate))
	mux.HandleFunc("POST /game/join", b.authenticated(b.handleJoin))
	mux.HandleFunc("GET /game/{code}", b.authenticated(b.handleGet))
	mux.HandleFunc("GET /ws", b.authenticated(b.handleSocket))

	b.Server = httptest.NewServer(mux)
	t.Cleanup(b.Close)
	return b
}

// SocketURL returns the websocket endpoint
func (b *Backend) SocketURL() string {
	return "ws" + strings.TrimPrefix(b.URL, "http") + "/ws"
}

// RefreshCalls returns how many refresh requests were served
func (b *Backend) RefreshCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refreshCalls
}

// Session returns a copy of the stored session
func (b *Backend) Session(code model.RoomCode) *model.Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessions[code].Clone()
}

// Members returns how many players of the room are connected to the channel
func (b *Backend) Members(code model.RoomCode) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.members[code])
}

// AddPlayer adds a player to a room without a channel connection and
// notifies connected members, as if they joined from another device
func (b *Backend) AddPlayer(code model.RoomCode, id model.UserID, nickname string) {
	b.mu.Lock()
	session := b.sessions[code]
	if session == nil {
		b.mu.Unlock()
		b.t.Errorf("fake backend: no room %s", code)
		return
	}
	session.Players = append(session.Players, model.Player{UserID: id, Nickname: nickname, JoinedAt: time.Now().UTC()})
	b.mu.Unlock()
	b.broadcast(code, string(model.EventPlayerJoined), map[string]any{"session": b.Session(code)})
}

// IssueTokens mints an access and refresh token for subject
func (b *Backend) IssueTokens(subject string) (access, refresh string) {
	now := time.Now()
	return SignToken(b.t, subject, now, now.Add(b.AccessTTL)), SignToken(b.t, subject, now, now.Add(b.RefreshTTL))
}

func (b *Backend) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
		Nickname string `json:"nickname"`
	}
	if !decode(w, r, &req) {
		return
	}

	b.mu.Lock()
	if _, exists := b.users[req.Email]; exists {
		b.mu.Unlock()
		writeError(w, http.StatusConflict, "Email already registered")
		return
	}
	b.nextUser++
	profile := model.UserProfile{
		ID:          model.UserID(fmt.Sprintf("user-%d", b.nextUser)),
		Email:       req.Email,
		DisplayName: req.Name,
		Nickname:    req.Nickname,
	}
	b.users[req.Email] = &backendUser{profile: profile, password: req.Password}
	b.mu.Unlock()

	access, refresh := b.IssueTokens(string(profile.ID))
	writeJSON(w, http.StatusCreated, map[string]any{
		"accessToken":  access,
		"refreshToken": refresh,
		"user":         profile,
	})
}

func (b *Backend) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decode(w, r, &req) {
		return
	}

	b.mu.Lock()
	user, ok := b.users[req.Email]
	b.mu.Unlock()
	if !ok || user.password != req.Password {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	access, refresh := b.IssueTokens(string(user.profile.ID))
	writeJSON(w, http.StatusOK, map[string]string{"token": access, "refreshToken": refresh})
}

func (b *Backend) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if !decode(w, r, &req) {
		return
	}

	b.mu.Lock()
	b.refreshCalls++
	b.mu.Unlock()

	subject, err := verify(req.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}
	access, _ := b.IssueTokens(subject)
	writeJSON(w, http.StatusOK, map[string]string{"token": access})
}

func (b *Backend) handleCreate(w http.ResponseWriter, r *http.Request, user model.UserID) {
	var cfg model.SessionConfig
	if !decode(w, r, &cfg) {
		return
	}
	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	b.mu.Lock()
	b.nextRoom++
	code := model.RoomCode(fmt.Sprintf("RM%03d", b.nextRoom))
	session := &model.Session{
		RoomCode:  code,
		HostID:    user,
		Players:   []model.Player{{UserID: user, Nickname: b.nickname(user), IsHost: true, JoinedAt: time.Now().UTC()}},
		Config:    cfg,
		State:     model.SessionStateLobby,
		CreatedAt: time.Now().UTC(),
	}
	b.sessions[code] = session
	snapshot := session.Clone()
	b.mu.Unlock()

	writeJSON(w, http.StatusCreated, snapshot)
}

func (b *Backend) handleJoin(w http.ResponseWriter, r *http.Request, user model.UserID) {
	var req struct {
		RoomCode model.RoomCode `json:"roomCode"`
	}
	if !decode(w, r, &req) {
		return
	}

	snapshot, status, msg := b.addMember(req.RoomCode, user)
	if status != http.StatusOK {
		writeError(w, status, msg)
		return
	}
	b.broadcast(req.RoomCode, string(model.EventPlayerJoined), map[string]any{"session": snapshot})
	writeJSON(w, http.StatusOK, snapshot)
}

func (b *Backend) handleGet(w http.ResponseWriter, r *http.Request, user model.UserID) {
	session := b.Session(model.RoomCode(r.PathValue("code")))
	if session == nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// addMember adds user to the room unless already present
func (b *Backend) addMember(code model.RoomCode, user model.UserID) (*model.Session, int, string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	session := b.sessions[code]
	switch {
	case session == nil:
		return nil, http.StatusNotFound, "Session not found"
	case session.Player(user) != nil:
		return session.Clone(), http.StatusOK, ""
	case session.State != model.SessionStateLobby:
		return nil, http.StatusBadRequest, "Game has already started"
	case len(session.Players) >= session.Config.MaxPlayers:
		return nil, http.StatusBadRequest, "Session is full"
	}
	session.Players = append(session.Players, model.Player{UserID: user, Nickname: b.nickname(user), JoinedAt: time.Now().UTC()})
	return session.Clone(), http.StatusOK, ""
}

func (b *Backend) nickname(id model.UserID) string {
	for _, u := range b.users {
		if u.profile.ID == id {
			return u.profile.Nickname
		}
	}
	return string(id)
}

func (b *Backend) handleSocket(w http.ResponseWriter, r *http.Request, user model.UserID) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	var joined model.RoomCode
	defer func() {
		if joined != "" {
			b.mu.Lock()
			delete(b.members[joined], user)
			b.mu.Unlock()
		}
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var f wsFrame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		var payload model.RoomPayload
		_ = json.Unmarshal(f.Data, &payload)

		switch model.EventName(f.Event) {
		case model.EventJoinRoom:
			snapshot, _, msg := b.addMember(payload.RoomCode, user)
			if snapshot == nil {
				b.ack(ctx, conn, f.ID, map[string]any{"success": false, "error": msg})
				continue
			}
			// Existing members see the new snapshot before the joiner is
			// registered, so snapshots reach every member in join order.
			b.broadcast(payload.RoomCode, string(model.EventPlayerJoined), map[string]any{"session": snapshot})
			b.mu.Lock()
			if b.members[payload.RoomCode] == nil {
				b.members[payload.RoomCode] = make(map[model.UserID]*websocket.Conn)
			}
			b.members[payload.RoomCode][user] = conn
			b.mu.Unlock()
			joined = payload.RoomCode
			b.ack(ctx, conn, f.ID, map[string]any{"success": true})

		case model.EventStartGame:
			if msg := b.start(payload.RoomCode, user); msg != "" {
				b.ack(ctx, conn, f.ID, map[string]any{"success": false, "error": msg})
				continue
			}
			b.ack(ctx, conn, f.ID, map[string]any{"success": true})
			b.sendRoles(payload.RoomCode)

		case model.EventLeaveRoom:
			b.mu.Lock()
			if session := b.sessions[payload.RoomCode]; session != nil {
				kept := session.Players[:0]
				for _, p := range session.Players {
					if p.UserID != user {
						kept = append(kept, p)
					}
				}
				session.Players = kept
			}
			delete(b.members[payload.RoomCode], user)
			snapshot := b.sessions[payload.RoomCode].Clone()
			b.mu.Unlock()
			joined = ""
			if snapshot != nil {
				b.broadcast(payload.RoomCode, string(model.EventPlayerLeft), map[string]any{"session": snapshot})
			}

		default:
			b.send(ctx, conn, string(model.EventError), map[string]string{"message": "Unknown event " + f.Event})
		}
	}
}

func (b *Backend) start(code model.RoomCode, user model.UserID) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	session := b.sessions[code]
	switch {
	case session == nil:
		return "Session not found"
	case session.HostID != user:
		return "Only the host can start the game"
	case len(session.Players) < model.MinPlayers:
		return "Not enough players"
	}
	session.State = model.SessionStatePlaying
	return ""
}

// sendRoles makes the last player to join the impostor
func (b *Backend) sendRoles(code model.RoomCode) {
	b.mu.Lock()
	session := b.sessions[code].Clone()
	conns := make(map[model.UserID]*websocket.Conn, len(b.members[code]))
	for id, c := range b.members[code] {
		conns[id] = c
	}
	b.mu.Unlock()

	impostor := session.Players[len(session.Players)-1].UserID
	for id, conn := range conns {
		payload := map[string]any{"role": model.RolePlayer, "secretWord": b.SecretWord}
		if id == impostor {
			payload = map[string]any{"yourRole": model.RoleImpostor}
		}
		b.send(context.Background(), conn, string(model.EventGameStarted), payload)
	}
}

func (b *Backend) broadcast(code model.RoomCode, event string, payload any) {
	b.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(b.members[code]))
	for _, c := range b.members[code] {
		conns = append(conns, c)
	}
	b.mu.Unlock()
	for _, c := range conns {
		b.send(context.Background(), c, event, payload)
	}
}

func (b *Backend) ack(ctx context.Context, conn *websocket.Conn, id string, payload any) {
	data, _ := json.Marshal(payload)
	msg, _ := json.Marshal(wsFrame{Type: "ack", ID: id, Data: data})
	_ = conn.Write(ctx, websocket.MessageText, msg)
}

func (b *Backend) send(ctx context.Context, conn *websocket.Conn, event string, payload any) {
	data, _ := json.Marshal(payload)
	msg, _ := json.Marshal(wsFrame{Type: "event", Event: event, Data: data})
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_ = conn.Write(ctx, websocket.MessageText, msg)
}

func (b *Backend) authenticated(next func(http.ResponseWriter, *http.Request, model.UserID)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		subject, err := verify(raw)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next(w, r, model.UserID(subject))
	}
}

func verify(raw string) (string, error) {
	if raw == "" {
		return "", errors.New("missing token")
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return TestSigningKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"message": message, "statusCode": status})
}
