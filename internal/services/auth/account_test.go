package auth

import (
	"time"

	"github.com/SvelteTick/Impostr/internal/api"
	"github.com/SvelteTick/Impostr/internal/model"
	"github.com/SvelteTick/Impostr/internal/storage"
)

func (s *ServiceSuite) TestRegisterStoresCredentialAndProfile() {
	user := model.UserProfile{ID: "u1", Email: "alice@example.com", DisplayName: "Alice", Nickname: "ali"}
	access := s.token("u1", time.Hour)
	s.api.registerResp = &api.RegisterResponse{AccessToken: access, RefreshToken: "r1", User: user}

	got, err := s.service.Register(s.ctx, RegisterInput{Email: " alice@example.com ", Password: "pw", Name: "Alice", Nickname: "ali"})

	s.Require().NoError(err)
	s.Equal(user, *got)
	s.Equal(access, s.stored(storage.KeyAccessToken))
	s.Equal("r1", s.stored(storage.KeyRefreshToken))

	cached, err := s.service.CurrentUser(s.ctx)
	s.Require().NoError(err)
	s.Equal(user, *cached)
}

func (s *ServiceSuite) TestRegisterFailureStoresNothing() {
	s.api.registerErr = &api.Error{StatusCode: 409, Message: "Email already registered"}

	_, err := s.service.Register(s.ctx, RegisterInput{Email: "a@b.c", Password: "pw"})

	s.Error(err)
	s.requireCleared()
}

func (s *ServiceSuite) TestLoginStoresTokenPairAndDropsOldProfile() {
	s.store(storage.KeyUser, `{"id":"someone-else"}`)
	access := s.token("u2", time.Hour)
	s.api.loginResp = &api.TokenResponse{Token: access, RefreshToken: "r2"}

	s.Require().NoError(s.service.Login(s.ctx, "  bob@example.com", "pw"))

	s.Equal("bob@example.com", s.api.lastLoginMail)
	s.Equal(access, s.stored(storage.KeyAccessToken))
	s.Equal("r2", s.stored(storage.KeyRefreshToken))
	s.Empty(s.stored(storage.KeyUser))
}

func (s *ServiceSuite) TestLoginWithoutTokenFails() {
	s.api.loginResp = &api.TokenResponse{}

	err := s.service.Login(s.ctx, "bob@example.com", "pw")

	s.ErrorIs(err, api.ErrMissingToken)
	s.requireCleared()
}

func (s *ServiceSuite) TestCurrentUserFallsBackToTokenSubject() {
	s.store(storage.KeyAccessToken, s.token("u9", time.Hour))

	user, err := s.service.CurrentUser(s.ctx)

	s.Require().NoError(err)
	s.Equal(model.UserID("u9"), user.ID)
}

func (s *ServiceSuite) TestCurrentUserWithoutCredential() {
	_, err := s.service.CurrentUser(s.ctx)
	s.ErrorIs(err, model.ErrUnauthenticated)
}

func (s *ServiceSuite) TestInspectStates() {
	report, err := s.service.Inspect(s.ctx)
	s.Require().NoError(err)
	s.Equal(StateNoCredential, report.State)

	s.store(storage.KeyAccessToken, s.token("u1", time.Minute))
	report, err = s.service.Inspect(s.ctx)
	s.Require().NoError(err)
	s.Equal(StateValid, report.State)
	s.False(report.NeedsRefresh)
	s.True(s.now.Add(time.Minute).Equal(report.AccessExpiresAt))

	s.store(storage.KeyRefreshToken, s.token("u1", time.Hour))
	s.clock.Advance(2 * time.Minute)
	report, err = s.service.Inspect(s.ctx)
	s.Require().NoError(err)
	s.Equal(StateValid, report.State)
	s.True(report.NeedsRefresh)

	s.clock.Advance(2 * time.Hour)
	report, err = s.service.Inspect(s.ctx)
	s.Require().NoError(err)
	s.Equal(StateInvalid, report.State)
	s.Zero(s.api.refreshCalls.Load())
}
