//go:build integration

package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/spacemeshos/poe/registry"
	"github.com/spacemeshos/poe/storage"
)

type PostgresSuite struct {
	suite.Suite
	container *tcpostgres.PostgresContainer
	dsn       string
}

func TestPostgresSuite(t *testing.T) {
	suite.Run(t, new(PostgresSuite))
}

func (s *PostgresSuite) SetupSuite() {
	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("poe"),
		tcpostgres.WithUsername("poe"),
		tcpostgres.WithPassword("poe"),
		tcpostgres.BasicWaitStrategies(),
	)
	s.Require().NoError(err)
	s.container = container

	s.dsn, err = container.ConnectionString(ctx, "sslmode=disable")
	s.Require().NoError(err)
}

func (s *PostgresSuite) TearDownSuite() {
	if s.container != nil {
		s.Require().NoError(testcontainers.TerminateContainer(s.container))
	}
}

func (s *PostgresSuite) open() *storage.Postgres {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	store, err := storage.OpenPostgres(ctx, s.dsn)
	s.Require().NoError(err)
	return store
}

func (s *PostgresSuite) SetupTest() {
	store := s.open()
	defer store.Close()
	ctx := context.Background()
	var fingerprints []registry.Fingerprint
	s.Require().NoError(store.Iterate(ctx, func(fp registry.Fingerprint, _ registry.Record) error {
		fingerprints = append(fingerprints, fp)
		return nil
	}))
	for _, fp := range fingerprints {
		s.Require().NoError(store.Delete(ctx, fp))
	}
}

func (s *PostgresSuite) TestStore() {
	store := s.open()
	defer store.Close()
	testStore(s.T(), store)
}

func (s *PostgresSuite) TestRegistryLifecycle() {
	ctx := context.Background()
	store := s.open()
	defer store.Close()

	reg, err := registry.New(6, registry.WithStore(store))
	s.Require().NoError(err)
	s.Require().NoError(reg.Create(ctx, id(1), registry.Fingerprint{0, 1}, 1))
	s.Require().NoError(reg.Transfer(ctx, id(1), registry.Fingerprint{0, 1}, id(2), 2))
	s.Require().ErrorIs(reg.Revoke(ctx, id(1), registry.Fingerprint{0, 1}), registry.ErrNotOwner)
	s.Require().NoError(reg.Revoke(ctx, id(2), registry.Fingerprint{0, 1}))

	count, err := reg.Count(ctx)
	s.Require().NoError(err)
	s.Zero(count)
}
