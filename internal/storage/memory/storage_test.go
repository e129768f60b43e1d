package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/playhub/internal/model"
	"github.com/mcoot/playhub/internal/storage"
	"github.com/mcoot/playhub/internal/storage/storagetest"
)

func TestStorageConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage {
		return New()
	})
}

type StorageSuite struct {
	suite.Suite
	storage *Storage
	ctx     context.Context
}

func TestStorageSuite(t *testing.T) {
	suite.Run(t, new(StorageSuite))
}

func (s *StorageSuite) SetupTest() {
	s.storage = New()
	s.ctx = context.Background()
}

func (s *StorageSuite) TestPingError() {
	boom := errors.New("disk on fire")
	s.storage.SetPingError(boom)
	s.ErrorIs(s.storage.Ping(s.ctx), boom)

	s.storage.SetPingError(nil)
	s.NoError(s.storage.Ping(s.ctx))
}

func (s *StorageSuite) TestReturnedRecordsAreCopies() {
	s.Require().NoError(s.storage.SaveStack(s.ctx, &model.ResourceStack{OwnerID: "a", ItemKey: "gem", Qty: 5}))

	got, err := s.storage.GetStack(s.ctx, model.StackRef{OwnerID: "a", ItemKey: "gem"})
	s.Require().NoError(err)
	got.Qty = 100

	again, err := s.storage.GetStack(s.ctx, model.StackRef{OwnerID: "a", ItemKey: "gem"})
	s.Require().NoError(err)
	s.Equal(5, again.Qty)
}
