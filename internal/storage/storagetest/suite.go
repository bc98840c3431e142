// Package storagetest holds the behaviour every credential storage backend
// must share.
package storagetest

import (
	"context"

	"github.com/stretchr/testify/suite"

	"github.com/SvelteTick/Impostr/internal/model"
	"github.com/SvelteTick/Impostr/internal/storage"
)

// Suite runs the storage contract against a backend. Embed it or run it
// directly with NewStorage set.
type Suite struct {
	suite.Suite
	NewStorage func() storage.Storage

	Storage storage.Storage
	Ctx     context.Context
}

func (s *Suite) SetupTest() {
	s.Require().NotNil(s.NewStorage, "NewStorage must be set")
	s.Storage = s.NewStorage()
	s.Ctx = context.Background()
}

func (s *Suite) TestSetAndGet() {
	s.Require().NoError(s.Storage.Set(s.Ctx, storage.KeyAccessToken, "access-1"))

	value, err := s.Storage.Get(s.Ctx, storage.KeyAccessToken)
	s.Require().NoError(err)
	s.Equal("access-1", value)
}

func (s *Suite) TestGetMissingKey() {
	_, err := s.Storage.Get(s.Ctx, storage.KeyRefreshToken)
	s.ErrorIs(err, model.ErrKeyNotFound)
}

func (s *Suite) TestSetOverwrites() {
	s.Require().NoError(s.Storage.Set(s.Ctx, storage.KeyAccessToken, "access-1"))
	s.Require().NoError(s.Storage.Set(s.Ctx, storage.KeyAccessToken, "access-2"))

	value, err := s.Storage.Get(s.Ctx, storage.KeyAccessToken)
	s.Require().NoError(err)
	s.Equal("access-2", value)
}

func (s *Suite) TestKeysAreIndependent() {
	s.Require().NoError(s.Storage.Set(s.Ctx, storage.KeyAccessToken, "access"))
	s.Require().NoError(s.Storage.Set(s.Ctx, storage.KeyRefreshToken, "refresh"))

	s.Require().NoError(s.Storage.Delete(s.Ctx, storage.KeyAccessToken))

	_, err := s.Storage.Get(s.Ctx, storage.KeyAccessToken)
	s.ErrorIs(err, model.ErrKeyNotFound)
	value, err := s.Storage.Get(s.Ctx, storage.KeyRefreshToken)
	s.Require().NoError(err)
	s.Equal("refresh", value)
}

func (s *Suite) TestDeleteAllCredentialKeys() {
	s.Require().NoError(s.Storage.Set(s.Ctx, storage.KeyAccessToken, "access"))
	s.Require().NoError(s.Storage.Set(s.Ctx, storage.KeyRefreshToken, "refresh"))
	s.Require().NoError(s.Storage.Set(s.Ctx, storage.KeyUser, `{"id":"u1"}`))

	s.Require().NoError(s.Storage.Delete(s.Ctx, storage.CredentialKeys...))

	for _, key := range storage.CredentialKeys {
		_, err := s.Storage.Get(s.Ctx, key)
		s.ErrorIs(err, model.ErrKeyNotFound, key)
	}
}

func (s *Suite) TestDeleteMissingKeysIsNoop() {
	s.NoError(s.Storage.Delete(s.Ctx, storage.CredentialKeys...))
	s.NoError(s.Storage.Delete(s.Ctx))
}
