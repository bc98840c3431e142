package memory

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/SvelteTick/Impostr/internal/storage"
	"github.com/SvelteTick/Impostr/internal/storage/storagetest"
)

func TestStorageSuite(t *testing.T) {
	suite.Run(t, &storagetest.Suite{
		NewStorage: func() storage.Storage { return New() },
	})
}

func TestLenTracksKeys(t *testing.T) {
	s := New()
	ctx := t.Context()

	_ = s.Set(ctx, storage.KeyAccessToken, "a")
	_ = s.Set(ctx, storage.KeyRefreshToken, "r")
	if got := s.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}

	_ = s.Delete(ctx, storage.CredentialKeys...)
	if got := s.Len(); got != 0 {
		t.Fatalf("Len() after delete = %d, want 0", got)
	}
}
