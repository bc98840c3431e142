package lobby

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/SvelteTick/Impostr/internal/api"
	"github.com/SvelteTick/Impostr/internal/dependencies/mocks"
	"github.com/SvelteTick/Impostr/internal/model"
	"github.com/SvelteTick/Impostr/internal/testutil"
	"github.com/SvelteTick/Impostr/internal/transport"
)

type fakeFetcher struct {
	session *model.Session
	err     error
	calls   atomic.Int32
	token   atomic.Value
}

func (f *fakeFetcher) GetSession(ctx context.Context, token string, code model.RoomCode) (*model.Session, error) {
	f.calls.Add(1)
	f.token.Store(token)
	if f.err != nil {
		return nil, f.err
	}
	return f.session.Clone(), nil
}

type SynchronizerSuite struct {
	suite.Suite
	channel *mocks.MockChannel
	dialer  *mocks.MockDialer
	fetcher *fakeFetcher
	sync    *Synchronizer
	ctx     context.Context

	hostToken  string
	guestToken string
}

func TestSynchronizerSuite(t *testing.T) {
	suite.Run(t, new(SynchronizerSuite))
}

func (s *SynchronizerSuite) SetupTest() {
	s.channel = mocks.NewMockChannel()
	s.dialer = mocks.NewMockDialer(s.channel)
	s.fetcher = &fakeFetcher{session: lobbySession("AB12C", "host", 1)}
	s.sync = New(s.dialer, s.fetcher, testutil.NopLogger(), DefaultConfig())
	s.ctx = context.Background()

	now := time.Now()
	s.hostToken = testutil.SignToken(s.T(), "host", now, now.Add(time.Hour))
	s.guestToken = testutil.SignToken(s.T(), "p2", now, now.Add(time.Hour))
}

func (s *SynchronizerSuite) TearDownTest() {
	_ = s.sync.Leave(s.ctx)
}

// lobbySession builds a session hosted by hostID with n players in total
func lobbySession(code model.RoomCode, hostID model.UserID, n int) *model.Session {
	session := &model.Session{
		RoomCode: code,
		HostID:   hostID,
		Players:  []model.Player{{UserID: hostID, Nickname: string(hostID), IsHost: true}},
		Config:   model.SessionConfig{MaxPlayers: 8, ImposterCount: 2},
		State:    model.SessionStateLobby,
	}
	for i := 2; i <= n; i++ {
		id := model.UserID(fmt.Sprintf("p%d", i))
		session.Players = append(session.Players, model.Player{UserID: id, Nickname: string(id)})
	}
	return session
}

func sessionEvent(session *model.Session) map[string]any {
	return map[string]any{"session": session}
}

func (s *SynchronizerSuite) join(token string) <-chan Update {
	updates, err := s.sync.Join(s.ctx, "AB12C", token)
	s.Require().NoError(err)
	return updates
}

func (s *SynchronizerSuite) next(updates <-chan Update) Update {
	select {
	case u, ok := <-updates:
		s.Require().True(ok, "update stream closed")
		return u
	case <-time.After(2 * time.Second):
		s.FailNow("timed out waiting for update")
		return Update{}
	}
}

func (s *SynchronizerSuite) requireStreamClosed(updates <-chan Update) {
	select {
	case u, ok := <-updates:
		s.Require().False(ok, "unexpected update %+v", u)
	case <-time.After(2 * time.Second):
		s.FailNow("update stream not closed")
	}
}

// Join tests

func (s *SynchronizerSuite) TestJoinEmitsJoinRoomAndYieldsInitialSnapshot() {
	updates := s.join(s.hostToken)

	first := s.next(updates)
	s.Equal(StateInLobby, first.State)
	s.Equal(model.RoomCode("AB12C"), first.Session.RoomCode)
	s.Equal(StateInLobby, s.sync.State())
	s.Equal(model.UserID("host"), s.sync.Self())

	emitted := s.channel.Emitted()
	s.Require().Len(emitted, 1)
	s.Equal("join-room", emitted[0].Name)
	s.True(emitted[0].Ack)
	s.JSONEq(`{"roomCode":"AB12C"}`, string(emitted[0].Payload))

	s.Equal([]string{s.hostToken}, s.dialer.Tokens())
	s.Equal(s.hostToken, s.fetcher.token.Load())
}

func (s *SynchronizerSuite) TestJoinNormalizesRoomCode() {
	_, err := s.sync.Join(s.ctx, " ab12c ", s.hostToken)
	s.Require().NoError(err)

	s.JSONEq(`{"roomCode":"AB12C"}`, string(s.channel.Emitted()[0].Payload))
}

func (s *SynchronizerSuite) TestJoinRejectsInvalidRoomCode() {
	_, err := s.sync.Join(s.ctx, "AB1", s.hostToken)

	s.ErrorIs(err, model.ErrInvalidRoomCode)
	s.Empty(s.dialer.Tokens())
}

func (s *SynchronizerSuite) TestJoinUsesSessionFromAck() {
	s.channel.QueueAck("join-room", map[string]any{"success": true, "session": lobbySession("AB12C", "host", 2)}, nil)

	updates := s.join(s.hostToken)

	s.Len(s.next(updates).Session.Players, 2)
	s.Zero(s.fetcher.calls.Load())
}

func (s *SynchronizerSuite) TestJoinWithoutFetcherWaitsForFirstEvent() {
	s.sync = New(s.dialer, nil, testutil.NopLogger(), DefaultConfig())
	updates := s.join(s.hostToken)
	s.Nil(s.sync.Session())

	s.channel.Push("session-updated", sessionEvent(lobbySession("AB12C", "host", 2)))

	s.Len(s.next(updates).Session.Players, 2)
}

func (s *SynchronizerSuite) TestJoinDiscardsFetchedSessionForAnotherRoom() {
	s.fetcher.session = lobbySession("ZZ99Z", "other", 4)
	updates := s.join(s.hostToken)

	s.Equal(StateInLobby, s.sync.State())
	s.Nil(s.sync.Session())

	s.channel.Push("session-updated", sessionEvent(lobbySession("AB12C", "host", 2)))

	u := s.next(updates)
	s.Equal(model.RoomCode("AB12C"), u.Session.RoomCode)
	s.Len(u.Session.Players, 2)
}

func (s *SynchronizerSuite) TestJoinRejectedByAck() {
	tests := []struct {
		message string
		reason  model.JoinReason
		target  error
	}{
		{"Room is full", model.JoinRoomFull, model.ErrRoomFull},
		{"Game has already started", model.JoinGameInProgress, model.ErrGameInProgress},
		{"Room not found", model.JoinRoomNotFound, model.ErrRoomNotFound},
	}

	for _, tt := range tests {
		s.Run(tt.message, func() {
			channel := mocks.NewMockChannel()
			channel.QueueAck("join-room", map[string]any{"error": tt.message}, nil)
			syncer := New(mocks.NewMockDialer(channel), s.fetcher, testutil.NopLogger(), DefaultConfig())

			_, err := syncer.Join(s.ctx, "AB12C", s.hostToken)

			var joinErr *model.JoinError
			s.Require().ErrorAs(err, &joinErr)
			s.Equal(tt.reason, joinErr.Reason)
			s.ErrorIs(err, tt.target)
			s.Equal(StateClosed, syncer.State())
			s.True(channel.Closed())
		})
	}
}

func (s *SynchronizerSuite) TestJoinFetchFailureIsClassified() {
	s.fetcher.err = &api.Error{StatusCode: 404, Message: "Session not found"}

	_, err := s.sync.Join(s.ctx, "AB12C", s.hostToken)

	s.ErrorIs(err, model.ErrRoomNotFound)
	s.Equal(StateClosed, s.sync.State())
	s.True(s.channel.Closed())
}

func (s *SynchronizerSuite) TestJoinConflictMeansAlreadyInSession() {
	s.fetcher.err = &api.Error{StatusCode: 409, Message: "User already in a session"}

	_, err := s.sync.Join(s.ctx, "AB12C", s.hostToken)

	s.ErrorIs(err, model.ErrAlreadyInSession)
}

func (s *SynchronizerSuite) TestJoinDialFailureIsNetworkError() {
	s.dialer.Err = errors.New("connection refused")

	_, err := s.sync.Join(s.ctx, "AB12C", s.hostToken)

	var joinErr *model.JoinError
	s.Require().ErrorAs(err, &joinErr)
	s.Equal(model.JoinNetwork, joinErr.Reason)
	s.ErrorIs(err, model.ErrJoinNetwork)
	s.Equal(StateClosed, s.sync.State())
}

func (s *SynchronizerSuite) TestJoinAckFailureIsNetworkError() {
	s.channel.QueueAck("join-room", nil, transport.ErrAckTimeout)

	_, err := s.sync.Join(s.ctx, "AB12C", s.hostToken)

	s.ErrorIs(err, model.ErrJoinNetwork)
	s.ErrorIs(err, transport.ErrAckTimeout)
}

func (s *SynchronizerSuite) TestJoinTwice() {
	s.join(s.hostToken)

	_, err := s.sync.Join(s.ctx, "AB12C", s.hostToken)
	s.ErrorIs(err, model.ErrAlreadyJoined)

	s.Require().NoError(s.sync.Leave(s.ctx))
	_, err = s.sync.Join(s.ctx, "AB12C", s.hostToken)
	s.ErrorIs(err, model.ErrSynchronizerClosed)
}

// Event application tests

func (s *SynchronizerSuite) TestSnapshotForJoinedRoomReplacesProjection() {
	updates := s.join(s.hostToken)
	s.next(updates)

	s.channel.Push("session-updated", sessionEvent(lobbySession("AB12C", "host", 3)))

	u := s.next(updates)
	s.Len(u.Session.Players, 3)
	s.Len(s.sync.Session().Players, 3)
}

func (s *SynchronizerSuite) TestSnapshotForOtherRoomIsDiscarded() {
	updates := s.join(s.hostToken)
	s.next(updates)

	s.channel.Push("session-updated", sessionEvent(lobbySession("ZZ99Z", "host", 3)))
	s.channel.Push("player-left", sessionEvent(lobbySession("AB12C", "host", 2)))

	u := s.next(updates)
	s.Len(u.Session.Players, 2, "the cross-room snapshot produced no update")
	s.Equal(model.RoomCode("AB12C"), s.sync.Session().RoomCode)
}

func (s *SynchronizerSuite) TestEventsAppliedInArrivalOrder() {
	updates := s.join(s.hostToken)
	s.next(updates)

	s.channel.Push("player-joined", sessionEvent(lobbySession("AB12C", "host", 2)))
	s.channel.Push("player-joined", sessionEvent(lobbySession("AB12C", "host", 3)))
	s.channel.Push("player-left", sessionEvent(lobbySession("AB12C", "host", 2)))

	s.Len(s.next(updates).Session.Players, 2)
	s.Len(s.next(updates).Session.Players, 3)
	s.Len(s.next(updates).Session.Players, 2)
	s.Len(s.sync.Session().Players, 2)
}

func (s *SynchronizerSuite) TestPlayersVariantIsNormalized() {
	updates := s.join(s.hostToken)
	s.next(updates)

	s.channel.Push("player-joined", map[string]any{"players": lobbySession("AB12C", "host", 3).Players})

	u := s.next(updates)
	s.Len(u.Session.Players, 3)
	s.Equal(model.UserID("host"), u.Session.HostID)
	s.Equal(8, u.Session.Config.MaxPlayers)
}

func (s *SynchronizerSuite) TestUpdatesAreCopies() {
	updates := s.join(s.hostToken)
	u := s.next(updates)

	u.Session.Players[0].Nickname = "changed"

	s.Equal(model.UserID("host"), s.sync.Session().Players[0].UserID)
	s.Equal("host", s.sync.Session().Players[0].Nickname)
}

func (s *SynchronizerSuite) TestErrorEventIsNonFatal() {
	updates := s.join(s.hostToken)
	s.next(updates)

	s.channel.Push("error", map[string]any{"message": "Not allowed"})

	u := s.next(updates)
	var chErr *model.ChannelError
	s.Require().ErrorAs(u.Err, &chErr)
	s.Equal("Not allowed", chErr.Message)
	s.Equal(StateInLobby, u.State)
	s.NotNil(u.Session)
	s.Equal(StateInLobby, s.sync.State())
}

func (s *SynchronizerSuite) TestUnknownEventsAreIgnored() {
	updates := s.join(s.hostToken)
	s.next(updates)

	s.channel.Push("vote-cast", map[string]any{"x": 1})
	s.channel.Push("session-updated", sessionEvent(lobbySession("AB12C", "host", 2)))

	s.Len(s.next(updates).Session.Players, 2)
}

func (s *SynchronizerSuite) TestConnectionLostKeepsLastSession() {
	updates := s.join(s.hostToken)
	s.next(updates)
	s.channel.Push("session-updated", sessionEvent(lobbySession("AB12C", "host", 2)))
	s.next(updates)

	s.channel.Fail(fmt.Errorf("%w: gave up", model.ErrConnectionLost))

	u := s.next(updates)
	s.Equal(StateClosed, u.State)
	s.ErrorIs(u.Err, model.ErrConnectionLost)
	s.Len(u.Session.Players, 2)
	s.requireStreamClosed(updates)
	s.Equal(StateClosed, s.sync.State())
	s.Len(s.sync.Session().Players, 2)
}

func (s *SynchronizerSuite) TestStreamEndWithoutCauseIsConnectionLost() {
	updates := s.join(s.hostToken)
	s.next(updates)

	s.channel.Fail(nil)

	s.ErrorIs(s.next(updates).Err, model.ErrConnectionLost)
}

func (s *SynchronizerSuite) TestReconnectRejoinsRoom() {
	updates := s.join(s.hostToken)
	s.next(updates)

	s.channel.Push(transport.EventReconnected, nil)

	u := s.next(updates)
	s.Equal(StateInLobby, u.State)
	s.Equal([]string{"join-room", "join-room"}, s.channel.EmittedNames())
	s.Equal(int32(2), s.fetcher.calls.Load())
}

func (s *SynchronizerSuite) TestRejoinDrainsEventsWhileAwaitingAck() {
	const backlog = 100
	var joins atomic.Int32
	s.channel.AckFunc = func(event string, payload json.RawMessage) (json.RawMessage, error) {
		if event == "join-room" && joins.Add(1) == 2 {
			for i := range backlog {
				s.channel.Push("session-updated", sessionEvent(lobbySession("AB12C", "host", 2+i%2)))
			}
		}
		return nil, nil
	}
	updates := s.join(s.hostToken)
	s.next(updates)
	s.fetcher.session = lobbySession("AB12C", "host", 4)

	s.channel.Push(transport.EventReconnected, nil)

	for i := range backlog {
		u := s.next(updates)
		s.Require().Len(u.Session.Players, 2+i%2)
	}
	last := s.next(updates)
	s.Equal(StateInLobby, last.State)
	s.Len(last.Session.Players, 4)
}

func (s *SynchronizerSuite) TestRejectedRejoinCloses() {
	updates := s.join(s.hostToken)
	s.next(updates)
	s.channel.QueueAck("join-room", map[string]any{"error": "Room not found"}, nil)

	s.channel.Push(transport.EventReconnected, nil)

	u := s.next(updates)
	s.Equal(StateClosed, u.State)
	s.ErrorIs(u.Err, model.ErrRoomNotFound)
	s.NotNil(u.Session)
	s.requireStreamClosed(updates)
}

// StartGame tests

func (s *SynchronizerSuite) TestStartGameBeforeJoin() {
	s.ErrorIs(s.sync.StartGame(s.ctx), model.ErrNotInLobby)
}

func (s *SynchronizerSuite) TestStartGameRequiresHost() {
	s.fetcher.session = lobbySession("AB12C", "host", 4)
	updates := s.join(s.guestToken)
	s.next(updates)

	err := s.sync.StartGame(s.ctx)

	s.ErrorIs(err, model.ErrNotHost)
	s.Equal([]string{"join-room"}, s.channel.EmittedNames())
}

func (s *SynchronizerSuite) TestStartGameRequiresThreePlayers() {
	s.fetcher.session = lobbySession("AB12C", "host", 2)
	updates := s.join(s.hostToken)
	s.next(updates)

	err := s.sync.StartGame(s.ctx)

	s.ErrorIs(err, model.ErrInsufficientPlayers)
	s.Equal([]string{"join-room"}, s.channel.EmittedNames())
}

func (s *SynchronizerSuite) TestStartGameAtExactlyThreePlayers() {
	s.fetcher.session = lobbySession("AB12C", "host", 3)
	updates := s.join(s.hostToken)
	s.next(updates)

	s.Require().NoError(s.sync.StartGame(s.ctx))

	emitted := s.channel.Emitted()
	s.Require().Len(emitted, 2)
	s.Equal("start-game", emitted[1].Name)
	s.True(emitted[1].Ack)
	s.JSONEq(`{"roomCode":"AB12C"}`, string(emitted[1].Payload))
	s.Equal(StateInLobby, s.sync.State(), "state changes only when game-started arrives")
}

func (s *SynchronizerSuite) TestStartGameRejectedByServer() {
	s.fetcher.session = lobbySession("AB12C", "host", 3)
	updates := s.join(s.hostToken)
	s.next(updates)
	s.channel.QueueAck("start-game", map[string]any{"error": "Not enough players"}, nil)

	err := s.sync.StartGame(s.ctx)

	s.ErrorIs(err, model.ErrStartRejected)
	s.Contains(err.Error(), "Not enough players")
}

func (s *SynchronizerSuite) TestStartGameHostFlagMustMatchHostID() {
	session := lobbySession("AB12C", "host", 3)
	session.Players[0].IsHost = false
	s.fetcher.session = session
	updates := s.join(s.hostToken)
	s.next(updates)

	s.ErrorIs(s.sync.StartGame(s.ctx), model.ErrNotHost)
}

// Game start tests

func (s *SynchronizerSuite) TestGameStartedEndsStreamWithRole() {
	updates := s.join(s.hostToken)
	s.next(updates)

	s.channel.Push("game-started", `{"role":"IMPOSTOR","secretWord":"APPLE"}`)

	u := s.next(updates)
	s.Equal(StateInGame, u.State)
	s.Require().NotNil(u.Role)
	s.Equal(model.RoleImpostor, u.Role.Role)
	s.Equal("APPLE", u.Role.Word())
	s.NotNil(u.Session)
	s.requireStreamClosed(updates)

	s.Equal(StateInGame, s.sync.State())
	s.Equal(u.Role, s.sync.Role())
	s.True(s.channel.Closed())
}

func (s *SynchronizerSuite) TestGameStartedAlternateFieldNames() {
	updates := s.join(s.hostToken)
	s.next(updates)

	s.channel.Push("game-started", `{"yourRole":"PLAYER","word":"APPLE"}`)

	u := s.next(updates)
	s.Equal(model.RolePlayer, u.Role.Role)
	s.Equal("APPLE", u.Role.Word())
}

func (s *SynchronizerSuite) TestLeaveAfterGameStartedSendsNothing() {
	updates := s.join(s.hostToken)
	s.next(updates)
	s.channel.Push("game-started", `{"role":"PLAYER"}`)
	s.next(updates)

	s.Require().NoError(s.sync.Leave(s.ctx))

	s.Equal([]string{"join-room"}, s.channel.EmittedNames())
	s.Equal(StateClosed, s.sync.State())
}

// Leave tests

func (s *SynchronizerSuite) TestLeaveIsIdempotent() {
	updates := s.join(s.hostToken)
	s.next(updates)

	s.Require().NoError(s.sync.Leave(s.ctx))
	s.Require().NoError(s.sync.Leave(s.ctx))

	s.Equal([]string{"join-room", "leave-room"}, s.channel.EmittedNames())
	s.JSONEq(`{"roomCode":"AB12C"}`, string(s.channel.Emitted()[1].Payload))
	s.False(s.channel.Emitted()[1].Ack)
	s.Equal(StateClosed, s.sync.State())
	s.True(s.channel.Closed())
	s.requireStreamClosed(updates)
}

func (s *SynchronizerSuite) TestLeaveBeforeJoin() {
	s.Require().NoError(s.sync.Leave(s.ctx))

	s.Equal(StateClosed, s.sync.State())
	s.Empty(s.channel.EmittedNames())
}

func (s *SynchronizerSuite) TestLeaveAfterConnectionLost() {
	updates := s.join(s.hostToken)
	s.next(updates)
	s.channel.Fail(model.ErrConnectionLost)
	s.next(updates)

	s.Require().NoError(s.sync.Leave(s.ctx))

	s.Equal([]string{"join-room"}, s.channel.EmittedNames())
}

func (s *SynchronizerSuite) TestLeaveKeepsLastSession() {
	updates := s.join(s.hostToken)
	s.next(updates)

	s.Require().NoError(s.sync.Leave(s.ctx))

	s.NotNil(s.sync.Session())
}

// Scenario: a guest and the host join AB12C, the lobby fills up and the
// host starts the game.

func (s *SynchronizerSuite) TestLobbyToGameScenario() {
	hostChannel := mocks.NewMockChannel()
	host := New(mocks.NewMockDialer(hostChannel), s.fetcher, testutil.NopLogger(), DefaultConfig())
	defer host.Leave(s.ctx)

	guestUpdates := s.join(s.guestToken)
	s.next(guestUpdates)
	hostUpdates, err := host.Join(s.ctx, "AB12C", s.hostToken)
	s.Require().NoError(err)
	s.next(hostUpdates)

	broadcast := func(event string, payload any) {
		s.channel.Push(event, payload)
		hostChannel.Push(event, payload)
	}

	broadcast("session-updated", sessionEvent(lobbySession("AB12C", "host", 2)))
	s.Len(s.next(guestUpdates).Session.Players, 2)
	s.Len(s.next(hostUpdates).Session.Players, 2)

	s.ErrorIs(s.sync.StartGame(s.ctx), model.ErrNotHost)
	s.ErrorIs(host.StartGame(s.ctx), model.ErrInsufficientPlayers)
	s.Equal([]string{"join-room"}, s.channel.EmittedNames())
	s.Equal([]string{"join-room"}, hostChannel.EmittedNames())

	broadcast("player-joined", sessionEvent(lobbySession("AB12C", "host", 3)))
	s.Len(s.next(guestUpdates).Session.Players, 3)
	s.True(s.next(hostUpdates).Session.CanStart(host.Self()))

	s.Require().NoError(host.StartGame(s.ctx))
	s.Equal([]string{"join-room", "start-game"}, hostChannel.EmittedNames())
	s.Equal(StateInLobby, s.sync.State())

	s.channel.Push("game-started", map[string]any{"role": "PLAYER"})
	u := s.next(guestUpdates)
	s.Equal(StateInGame, u.State)
	s.Equal(model.RoleAssignment{Role: model.RolePlayer}, *u.Role)
	s.Nil(u.Role.SecretWord)
	s.requireStreamClosed(guestUpdates)
	s.Equal(StateInGame, s.sync.State())
}
