// Package lobby keeps a local projection of a game session in sync with
// the server over an event channel, from joining the room until the game
// starts or the player leaves.
package lobby

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/SvelteTick/Impostr/internal/api/apierr"
	"github.com/SvelteTick/Impostr/internal/metrics"
	"github.com/SvelteTick/Impostr/internal/model"
	"github.com/SvelteTick/Impostr/internal/services/token"
	"github.com/SvelteTick/Impostr/internal/transport"
)

// State of the synchronizer
type State string

const (
	StateIdle       State = "IDLE"
	StateConnecting State = "CONNECTING"
	StateJoining    State = "JOINING"
	StateInLobby    State = "IN_LOBBY"
	StateInGame     State = "IN_GAME"
	StateClosed     State = "CLOSED"
)

// Update is one value of the stream returned by Join. Session is the
// projection after the update; it is kept on errors so callers can keep
// showing the last good state. Role is set only on the final IN_GAME update.
type Update struct {
	State   State
	Session *model.Session
	Role    *model.RoleAssignment
	Err     error
}

// SessionFetcher loads the full session over the request layer
type SessionFetcher interface {
	GetSession(ctx context.Context, token string, code model.RoomCode) (*model.Session, error)
}

// Synchronizer joins a single room. Create one per join; it cannot be
// reused after it is closed.
type Synchronizer struct {
	dialer  transport.Dialer
	fetcher SessionFetcher
	codec   *token.Codec
	logger  *slog.Logger
	cfg     Config

	mu      sync.Mutex
	state   State
	code    model.RoomCode
	self    model.UserID
	token   string
	conn    transport.Channel
	session *model.Session
	role    *model.RoleAssignment
	updates chan Update
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a Synchronizer. fetcher may be nil, in which case the first
// snapshot is whatever the join acknowledgement or the first event carries.
func New(dialer transport.Dialer, fetcher SessionFetcher, logger *slog.Logger, cfg Config) *Synchronizer {
	def := DefaultConfig()
	if cfg.JoinTimeout == 0 {
		cfg.JoinTimeout = def.JoinTimeout
	}
	if cfg.AckTimeout == 0 {
		cfg.AckTimeout = def.AckTimeout
	}
	if cfg.UpdateBuffer == 0 {
		cfg.UpdateBuffer = def.UpdateBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{
		dialer:  dialer,
		fetcher: fetcher,
		codec:   token.NewCodec(),
		logger:  logger,
		cfg:     cfg,
		state:   StateIdle,
	}
}

// State returns the current state
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Session returns a copy of the current projection, or nil before the
// first snapshot
func (s *Synchronizer) Session() *model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Clone()
}

// Role returns the role assignment once the game has started
func (s *Synchronizer) Role() *model.RoleAssignment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// Self returns the user ID the synchronizer acts as, taken from the
// access token subject
func (s *Synchronizer) Self() model.UserID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self
}

// Join connects with accessToken and joins the room. On success the
// returned stream starts with the initial snapshot and ends after an
// IN_GAME update carrying the role, after Leave, or after a CLOSED update
// whose Err wraps model.ErrConnectionLost. A failed join returns a
// *model.JoinError and leaves the synchronizer CLOSED.
func (s *Synchronizer) Join(ctx context.Context, code model.RoomCode, accessToken string) (<-chan Update, error) {
	code, err := model.NormalizeRoomCode(string(code))
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	switch s.state {
	case StateIdle:
	case StateClosed:
		s.mu.Unlock()
		return nil, model.ErrSynchronizerClosed
	default:
		s.mu.Unlock()
		return nil, model.ErrAlreadyJoined
	}
	s.state = StateConnecting
	s.code = code
	s.token = accessToken
	s.self = s.subject(accessToken)
	s.mu.Unlock()

	logger := s.logger.With(slog.String("room_code", string(code)))
	ctx, cancel := context.WithTimeout(ctx, s.cfg.JoinTimeout)
	defer cancel()

	conn, err := s.dialer.Dial(ctx, accessToken)
	if err != nil {
		return nil, s.failJoin(logger, &model.JoinError{Reason: model.JoinNetwork, Err: err})
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		_ = conn.Close()
		return nil, model.ErrSynchronizerClosed
	}
	s.conn = conn
	s.state = StateJoining
	s.mu.Unlock()

	initial, err := s.joinRoom(ctx, conn, code)
	if err != nil {
		return nil, s.failJoin(logger, err)
	}
	if initial != nil {
		s.logInvariants(logger, initial)
	}

	updates := make(chan Update, s.cfg.UpdateBuffer)
	runCtx, runCancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		runCancel()
		return nil, model.ErrSynchronizerClosed
	}
	s.state = StateInLobby
	s.session = initial
	s.updates = updates
	s.cancel = runCancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	metrics.RecordJoin("success")
	logger.Info("joined room", slog.Int("players", playerCount(initial)))

	if initial != nil {
		updates <- Update{State: StateInLobby, Session: initial.Clone()}
	}
	go s.run(runCtx, conn, updates, done, logger)
	return updates, nil
}

// joinRoom sends join-room and returns the initial snapshot, which comes
// from the acknowledgement when it carries one and from the fetcher
// otherwise
func (s *Synchronizer) joinRoom(ctx context.Context, conn transport.Channel, code model.RoomCode) (*model.Session, error) {
	ack, err := conn.EmitWithAck(ctx, string(model.EventJoinRoom), model.RoomPayload{RoomCode: code})
	if err != nil {
		return nil, &model.JoinError{Reason: model.JoinNetwork, Err: err}
	}

	rejected, message, session := parseAck(ack)
	if rejected {
		return nil, &model.JoinError{Reason: apierr.JoinReason(0, message), Message: message}
	}
	if len(session) > 0 && !isNull(session) {
		if normalized, err := normalizeSnapshot(session, code, nil); err == nil {
			return normalized, nil
		}
	}

	if s.fetcher == nil {
		return nil, nil
	}
	fetched, err := s.fetcher.GetSession(ctx, s.tokenValue(), code)
	if err != nil {
		return nil, apierr.ClassifyJoin(err)
	}
	if fetched == nil {
		return nil, nil
	}
	if got := model.RoomCode(strings.ToUpper(string(fetched.RoomCode))); got != "" && got != code {
		s.logger.Warn("discarding fetched session for another room",
			slog.String("room_code", string(code)),
			slog.String("fetched_room_code", string(fetched.RoomCode)),
		)
		return nil, nil
	}
	return fetched.Clone(), nil
}

func (s *Synchronizer) failJoin(logger *slog.Logger, err error) error {
	metrics.RecordJoin("failure")
	logger.Warn("failed to join room", slog.String("error", err.Error()))

	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.state = StateClosed
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	return err
}

// run applies inbound events in arrival order until a terminal transition
func (s *Synchronizer) run(ctx context.Context, conn transport.Channel, updates chan<- Update, done chan struct{}, logger *slog.Logger) {
	defer close(done)
	defer close(updates)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-conn.Events():
			if !ok {
				s.connectionLost(ctx, conn, updates, logger)
				return
			}
			if s.handle(ctx, conn, ev, updates, logger) {
				return
			}
		}
	}
}

// handle applies one event and reports whether the stream has ended
func (s *Synchronizer) handle(ctx context.Context, conn transport.Channel, ev transport.Event, updates chan<- Update, logger *slog.Logger) bool {
	name := model.EventName(ev.Name)
	switch {
	case name.IsSnapshotEvent():
		s.applySnapshot(ctx, ev, updates, logger)
		return false

	case name == model.EventGameStarted:
		return s.startGame(ctx, conn, ev, updates, logger)

	case name == model.EventError:
		msg := errorText(ev.Data)
		metrics.RecordEvent(ev.Name, "reported")
		logger.Warn("server reported error", slog.String("message", msg))
		s.send(ctx, updates, Update{State: StateInLobby, Session: s.Session(), Err: &model.ChannelError{Message: msg}})
		return false

	case ev.Name == transport.EventReconnected:
		return s.rejoin(ctx, conn, updates, logger)

	default:
		metrics.RecordEvent(ev.Name, "ignored")
		logger.Debug("ignoring event", slog.String("event", ev.Name))
		return false
	}
}

func (s *Synchronizer) applySnapshot(ctx context.Context, ev transport.Event, updates chan<- Update, logger *slog.Logger) {
	s.mu.Lock()
	next, err := normalizeSnapshot(ev.Data, s.code, s.session)
	if err != nil {
		s.mu.Unlock()
		metrics.RecordEvent(ev.Name, "discarded")
		logger.Debug("discarding snapshot",
			slog.String("event", ev.Name),
			slog.String("reason", err.Error()),
		)
		return
	}
	s.session = next
	snapshot := next.Clone()
	s.mu.Unlock()

	metrics.RecordEvent(ev.Name, "applied")
	s.logInvariants(logger, snapshot)
	logger.Debug("applied snapshot",
		slog.String("event", ev.Name),
		slog.Int("players", len(snapshot.Players)),
	)
	s.send(ctx, updates, Update{State: StateInLobby, Session: snapshot})
}

func (s *Synchronizer) startGame(ctx context.Context, conn transport.Channel, ev transport.Event, updates chan<- Update, logger *slog.Logger) bool {
	assignment, known, err := normalizeRole(ev.Data)
	if err != nil {
		metrics.RecordEvent(ev.Name, "discarded")
		logger.Warn("discarding undecodable game-started payload", slog.String("error", err.Error()))
		return false
	}
	if !known {
		logger.Warn("unrecognized role, assuming player")
	}
	metrics.RecordEvent(ev.Name, "applied")

	s.mu.Lock()
	s.state = StateInGame
	s.role = &assignment
	s.conn = nil
	snapshot := s.session.Clone()
	s.mu.Unlock()

	_ = conn.Close()
	logger.Info("game started")
	s.send(ctx, updates, Update{State: StateInGame, Session: snapshot, Role: &assignment})
	return true
}

// rejoin restores room membership after the transport reconnected
func (s *Synchronizer) rejoin(ctx context.Context, conn transport.Channel, updates chan<- Update, logger *slog.Logger) bool {
	s.mu.Lock()
	code := s.code
	s.mu.Unlock()

	logger.Info("channel reconnected, rejoining room")
	joinCtx, cancel := context.WithTimeout(ctx, s.cfg.JoinTimeout)
	defer cancel()

	type joinResult struct {
		session *model.Session
		err     error
	}
	result := make(chan joinResult, 1)
	go func() {
		snapshot, err := s.joinRoom(joinCtx, conn, code)
		result <- joinResult{session: snapshot, err: err}
	}()

	// The acknowledgement is read behind inbound events, so events keep
	// being drained while it is awaited and are applied once it arrives.
	var held []transport.Event
	events := conn.Events()
	streamEnded := false
	var res joinResult
wait:
	for {
		select {
		case res = <-result:
			break wait
		case ev, ok := <-events:
			if !ok {
				events = nil
				streamEnded = true
				continue
			}
			held = append(held, ev)
		}
	}

	snapshot, err := res.session, res.err
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		metrics.RecordJoin("failure")
		logger.Warn("rejoin failed", slog.String("error", err.Error()))
		s.close(conn)
		s.send(ctx, updates, Update{State: StateClosed, Session: s.Session(), Err: err})
		return true
	}
	metrics.RecordJoin("rejoin")

	for _, ev := range held {
		if s.handle(ctx, conn, ev, updates, logger) {
			return true
		}
	}
	if snapshot != nil {
		s.mu.Lock()
		s.session = snapshot
		s.mu.Unlock()
		s.send(ctx, updates, Update{State: StateInLobby, Session: snapshot.Clone()})
	}
	if streamEnded {
		s.connectionLost(ctx, conn, updates, logger)
		return true
	}
	return false
}

func (s *Synchronizer) connectionLost(ctx context.Context, conn transport.Channel, updates chan<- Update, logger *slog.Logger) {
	if ctx.Err() != nil || s.State() == StateClosed {
		return
	}
	err := conn.Err()
	switch {
	case err == nil:
		err = model.ErrConnectionLost
	case !errors.Is(err, model.ErrConnectionLost):
		err = fmt.Errorf("%w: %w", model.ErrConnectionLost, err)
	}
	logger.Warn("connection lost", slog.String("error", err.Error()))
	s.close(conn)
	s.send(ctx, updates, Update{State: StateClosed, Session: s.Session(), Err: err})
}

// close moves to CLOSED keeping the last session
func (s *Synchronizer) close(conn transport.Channel) {
	s.mu.Lock()
	s.state = StateClosed
	s.conn = nil
	s.mu.Unlock()
	_ = conn.Close()
}

func (s *Synchronizer) send(ctx context.Context, updates chan<- Update, u Update) {
	select {
	case updates <- u:
	case <-ctx.Done():
	}
}

// StartGame asks the server to start the game. It is only allowed for the
// host once at least three players are present, and does not change the
// local state: that happens when game-started arrives.
func (s *Synchronizer) StartGame(ctx context.Context) error {
	s.mu.Lock()
	state, conn, code := s.state, s.conn, s.code
	session, self := s.session, s.self
	s.mu.Unlock()

	switch {
	case state == StateClosed:
		return model.ErrSynchronizerClosed
	case state != StateInLobby || conn == nil:
		return model.ErrNotInLobby
	case session == nil || !session.IsHost(self):
		return model.ErrNotHost
	case len(session.Players) < model.MinPlayers:
		return fmt.Errorf("%w: have %d, need %d", model.ErrInsufficientPlayers, len(session.Players), model.MinPlayers)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.AckTimeout)
	defer cancel()

	ack, err := conn.EmitWithAck(ctx, string(model.EventStartGame), model.RoomPayload{RoomCode: code})
	if err != nil {
		return fmt.Errorf("failed to start game: %w", err)
	}
	if rejected, message, _ := parseAck(ack); rejected {
		return fmt.Errorf("%w: %s", model.ErrStartRejected, message)
	}

	s.logger.Info("start requested", slog.String("room_code", string(code)))
	return nil
}

// Leave notifies the server, releases the channel and ends the stream.
// Calling it again, or after the game started, only releases resources.
func (s *Synchronizer) Leave(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateClosed && s.done == nil {
		s.mu.Unlock()
		return nil
	}
	prev := s.state
	conn, code := s.conn, s.code
	cancel, done := s.cancel, s.done
	s.state = StateClosed
	s.conn = nil
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		if prev == StateInLobby || prev == StateJoining {
			if err := conn.Emit(ctx, string(model.EventLeaveRoom), model.RoomPayload{RoomCode: code}); err != nil {
				s.logger.Warn("failed to send leave", slog.String("error", err.Error()))
			}
		}
		_ = conn.Close()
	}
	if done != nil {
		<-done
	}

	if prev == StateInLobby || prev == StateJoining {
		s.logger.Info("left room", slog.String("room_code", string(code)))
	}
	return nil
}

func (s *Synchronizer) subject(accessToken string) model.UserID {
	claims, err := s.codec.Decode(accessToken)
	if err != nil {
		s.logger.Warn("access token has no readable subject, host commands disabled", slog.String("error", err.Error()))
		return ""
	}
	return claims.Subject
}

func (s *Synchronizer) tokenValue() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *Synchronizer) logInvariants(logger *slog.Logger, session *model.Session) {
	if err := session.Validate(); err != nil {
		logger.Debug("snapshot violates session invariants", slog.String("error", err.Error()))
	}
}

func playerCount(session *model.Session) int {
	if session == nil {
		return 0
	}
	return len(session.Players)
}
