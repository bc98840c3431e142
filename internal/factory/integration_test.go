package factory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/SvelteTick/Impostr/internal/api"
	"github.com/SvelteTick/Impostr/internal/model"
	"github.com/SvelteTick/Impostr/internal/services/auth"
	"github.com/SvelteTick/Impostr/internal/services/lobby"
	"github.com/SvelteTick/Impostr/internal/storage"
	"github.com/SvelteTick/Impostr/internal/testutil"
)

type IntegrationSuite struct {
	suite.Suite
	backend *testutil.Backend
	app     *TestApp
	ctx     context.Context
}

func TestIntegrationSuite(t *testing.T) {
	suite.Run(t, new(IntegrationSuite))
}

func (s *IntegrationSuite) SetupTest() {
	s.backend = testutil.NewBackend(s.T())
	s.app = NewTestApp(s.backend.URL)
	// Tokens from the fake backend are minted against the real clock
	s.app.MockClock.Set(time.Now())
	s.ctx = context.Background()
}

func (s *IntegrationSuite) register(app *App, email, nickname string) *model.UserProfile {
	user, err := app.AuthService.Register(s.ctx, auth.RegisterInput{
		Email:    email,
		Password: "hunter22",
		Name:     nickname,
		Nickname: nickname,
	})
	s.Require().NoError(err)
	return user
}

// Test: a fresh credential is handed out without touching the network
func (s *IntegrationSuite) TestRegisterThenEnsureValid() {
	user := s.register(s.app.App, "host@example.com", "host")

	token, err := s.app.AuthService.EnsureValid(s.ctx)
	s.Require().NoError(err)
	s.NotEmpty(token)
	s.Equal(auth.StateValid, s.app.AuthService.State())
	s.Zero(s.backend.RefreshCalls())

	current, err := s.app.AuthService.CurrentUser(s.ctx)
	s.Require().NoError(err)
	s.Equal(user.ID, current.ID)
}

// Test: concurrent callers share one refresh of an expired access token
func (s *IntegrationSuite) TestExpiredTokenRefreshedOnce() {
	s.backend.AccessTTL = time.Minute
	s.register(s.app.App, "host@example.com", "host")
	s.backend.AccessTTL = time.Hour
	s.app.MockClock.Advance(2 * time.Minute)

	var wg sync.WaitGroup
	tokens := make([]string, 10)
	errs := make([]error, 10)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = s.app.AuthService.EnsureValid(s.ctx)
		}(i)
	}
	wg.Wait()

	for i := range tokens {
		s.Require().NoError(errs[i])
		s.Equal(tokens[0], tokens[i])
	}
	s.Equal(1, s.backend.RefreshCalls())

	stored, err := s.app.Storage.Get(s.ctx, storage.KeyAccessToken)
	s.Require().NoError(err)
	s.Equal(tokens[0], stored)
}

// Test: an expired refresh token signs the user out without a network call
func (s *IntegrationSuite) TestExpiredRefreshTokenSignsOut() {
	s.backend.AccessTTL = time.Minute
	s.backend.RefreshTTL = 5 * time.Minute
	s.register(s.app.App, "host@example.com", "host")
	s.app.MockClock.Advance(10 * time.Minute)

	_, err := s.app.AuthService.EnsureValid(s.ctx)
	s.Require().ErrorIs(err, model.ErrSessionExpired)
	s.Zero(s.backend.RefreshCalls())
	s.Zero(s.app.Memory.Len())

	_, err = s.app.AuthService.EnsureValid(s.ctx)
	s.ErrorIs(err, model.ErrUnauthenticated)
}

// Test: a wrong password surfaces the server's message and keeps no credential
func (s *IntegrationSuite) TestLoginRejected() {
	s.register(s.app.App, "host@example.com", "host")
	s.Require().NoError(s.app.AuthService.Logout(s.ctx))

	err := s.app.AuthService.Login(s.ctx, "host@example.com", "wrong")
	s.Require().Error(err)
	s.Equal(401, api.StatusCode(err))
	s.Contains(err.Error(), "Invalid credentials")

	s.Require().NoError(s.app.AuthService.Login(s.ctx, "host@example.com", "hunter22"))
	_, err = s.app.AuthService.EnsureValid(s.ctx)
	s.NoError(err)
}

// Test: joining over a scripted channel takes the snapshot from the backend
func (s *IntegrationSuite) TestJoinFetchesSnapshotFromBackend() {
	s.register(s.app.App, "host@example.com", "host")
	token, err := s.app.AuthService.EnsureValid(s.ctx)
	s.Require().NoError(err)

	created, err := s.app.API.CreateSession(s.ctx, token, model.DefaultSessionConfig())
	s.Require().NoError(err)

	s.app.MockChannel.QueueAck(string(model.EventJoinRoom), map[string]bool{"success": true}, nil)
	syncer := s.app.NewSynchronizer()
	updates, err := syncer.Join(s.ctx, created.RoomCode, token)
	s.Require().NoError(err)
	defer func() { _ = syncer.Leave(s.ctx) }()

	first := <-updates
	s.Equal(lobby.StateInLobby, first.State)
	s.Require().NotNil(first.Session)
	s.Equal(created.RoomCode, first.Session.RoomCode)
	s.Len(first.Session.Players, 1)
	s.True(first.Session.IsHost(syncer.Self()))
	s.Equal([]string{token}, s.app.MockDialer.Tokens())

	s.backend.AddPlayer(created.RoomCode, "guest-1", "g1")
	s.app.MockChannel.Push(string(model.EventPlayerJoined), map[string]any{"session": s.backend.Session(created.RoomCode)})

	next := <-updates
	s.Len(next.Session.Players, 2)
	s.ErrorIs(syncer.StartGame(s.ctx), model.ErrInsufficientPlayers)
}

// Test: a full lobby round over the real websocket transport
func (s *IntegrationSuite) TestLobbyOverWebsocket() {
	newApp := func() *App {
		app, err := New(Config{
			ServerURL: s.backend.URL,
			SocketURL: s.backend.SocketURL(),
			Logger:    testutil.NopLogger(),
		})
		s.Require().NoError(err)
		s.T().Cleanup(func() { _ = app.Close() })
		return app
	}

	host, guest1, guest2 := newApp(), newApp(), newApp()
	s.register(host, "host@example.com", "host")
	s.register(guest1, "g1@example.com", "g1")
	s.register(guest2, "g2@example.com", "g2")

	hostToken, err := host.AuthService.EnsureValid(s.ctx)
	s.Require().NoError(err)
	created, err := host.API.CreateSession(s.ctx, hostToken, model.DefaultSessionConfig())
	s.Require().NoError(err)

	hostSync := host.NewSynchronizer()
	hostUpdates, err := hostSync.Join(s.ctx, created.RoomCode, hostToken)
	s.Require().NoError(err)

	joinAs := func(app *App) (*lobby.Synchronizer, <-chan lobby.Update) {
		token, err := app.AuthService.EnsureValid(s.ctx)
		s.Require().NoError(err)
		syncer := app.NewSynchronizer()
		updates, err := syncer.Join(s.ctx, created.RoomCode, token)
		s.Require().NoError(err)
		return syncer, updates
	}
	_, g1Updates := joinAs(guest1)
	_, g2Updates := joinAs(guest2)

	s.waitFor(hostUpdates, func(u lobby.Update) bool {
		return u.Session != nil && len(u.Session.Players) == 3
	})
	s.Require().NoError(hostSync.StartGame(s.ctx))

	hostFinal := s.waitFor(hostUpdates, func(u lobby.Update) bool { return u.State == lobby.StateInGame })
	g1Final := s.waitFor(g1Updates, func(u lobby.Update) bool { return u.State == lobby.StateInGame })
	g2Final := s.waitFor(g2Updates, func(u lobby.Update) bool { return u.State == lobby.StateInGame })

	s.Equal(model.RolePlayer, hostFinal.Role.Role)
	s.Equal("APPLE", hostFinal.Role.Word())
	s.Equal(model.RolePlayer, g1Final.Role.Role)
	s.Equal(model.RoleImpostor, g2Final.Role.Role)
	s.Nil(g2Final.Role.SecretWord)
	s.Equal(lobby.StateInGame, hostSync.State())
}

// waitFor reads updates until one matches
func (s *IntegrationSuite) waitFor(updates <-chan lobby.Update, match func(lobby.Update) bool) lobby.Update {
	s.T().Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case u, ok := <-updates:
			s.Require().True(ok, "update stream ended early")
			s.Require().NoError(u.Err)
			if match(u) {
				return u
			}
		case <-timeout:
			s.FailNow("timed out waiting for update")
			return lobby.Update{}
		}
	}
}
