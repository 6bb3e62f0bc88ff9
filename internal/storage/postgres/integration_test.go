//go:build integration

package postgres

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"listing_feed/internal/domain"
)

type PostgresIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *postgres.PostgresContainer
	db        *sqlx.DB
	store     *PipelineStore
}

func (s *PostgresIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()

	migrationsPath, err := filepath.Abs("../../../migrations")
	s.Require().NoError(err)

	container, err := postgres.Run(s.ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test_db"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		postgres.WithInitScripts(
			filepath.Join(migrationsPath, "001_create_listing_pipeline.up.sql"),
			filepath.Join(migrationsPath, "002_create_listing_pipeline_history.up.sql"),
		),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	connStr, err := container.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)

	db, err := sqlx.Connect("postgres", connStr)
	s.Require().NoError(err)
	s.db = db
	s.store = NewPipelineStore(db)
}

func (s *PostgresIntegrationSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *PostgresIntegrationSuite) SetupTest() {
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM listing_pipeline_history")
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM listing_pipeline")
}

func TestPostgresIntegrationSuite(t *testing.T) {
	suite.Run(t, new(PostgresIntegrationSuite))
}

func change(org, listing string, status domain.Status, at time.Time) *domain.StatusChange {
	return &domain.StatusChange{
		OrganizationID: org,
		ListingID:      listing,
		Status:         status,
		ChangedAt:      at,
	}
}

func (s *PostgresIntegrationSuite) TestPipelineStore_Upsert_Insert() {
	now := time.Now().UTC().Truncate(time.Microsecond)

	err := s.store.Upsert(s.ctx, change("org-1", "L1", domain.StatusReviewing, now))
	s.NoError(err)

	var status string
	err = s.db.GetContext(s.ctx, &status,
		"SELECT status FROM listing_pipeline WHERE organization_id = $1 AND listing_id = $2", "org-1", "L1")
	s.NoError(err)
	s.Equal("reviewing", status)
}

func (s *PostgresIntegrationSuite) TestPipelineStore_Upsert_Idempotent() {
	now := time.Now().UTC().Truncate(time.Microsecond)

	s.NoError(s.store.Upsert(s.ctx, change("org-1", "L1", domain.StatusViewing, now)))
	s.NoError(s.store.Upsert(s.ctx, change("org-1", "L1", domain.StatusViewing, now.Add(time.Minute))))

	var count int
	err := s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM listing_pipeline WHERE listing_id = $1", "L1")
	s.NoError(err)
	s.Equal(1, count)
}

func (s *PostgresIntegrationSuite) TestPipelineStore_Upsert_OverwritesStatus() {
	now := time.Now().UTC().Truncate(time.Microsecond)

	s.NoError(s.store.Upsert(s.ctx, change("org-1", "L1", domain.StatusReviewing, now)))
	s.NoError(s.store.Upsert(s.ctx, change("org-1", "L1", domain.StatusPassed, now.Add(time.Minute))))

	statuses, err := s.store.GetStatuses(s.ctx, "org-1", []string{"L1"})
	s.NoError(err)
	s.Equal(domain.StatusPassed, statuses["L1"])
}

func (s *PostgresIntegrationSuite) TestPipelineStore_GetStatuses_ScopedByOrganization() {
	now := time.Now().UTC().Truncate(time.Microsecond)

	s.NoError(s.store.Upsert(s.ctx, change("org-1", "L1", domain.StatusContacted, now)))
	s.NoError(s.store.Upsert(s.ctx, change("org-1", "L2", domain.StatusAcquired, now)))
	s.NoError(s.store.Upsert(s.ctx, change("org-2", "L1", domain.StatusPassed, now)))

	statuses, err := s.store.GetStatuses(s.ctx, "org-1", []string{"L1", "L2", "L3"})
	s.NoError(err)
	s.Len(statuses, 2)
	s.Equal(domain.StatusContacted, statuses["L1"])
	s.Equal(domain.StatusAcquired, statuses["L2"])
	_, ok := statuses["L3"]
	s.False(ok)
}

func (s *PostgresIntegrationSuite) TestPipelineStore_GetStatuses_Empty() {
	statuses, err := s.store.GetStatuses(s.ctx, "org-1", nil)
	s.NoError(err)
	s.Empty(statuses)
}

func (s *PostgresIntegrationSuite) TestPipelineStore_History_NewestFirst() {
	base := time.Now().UTC().Truncate(time.Microsecond)

	s.NoError(s.store.AppendHistory(s.ctx, change("org-1", "L1", domain.StatusReviewing, base)))
	s.NoError(s.store.AppendHistory(s.ctx, change("org-1", "L1", domain.StatusContacted, base.Add(time.Hour))))
	s.NoError(s.store.AppendHistory(s.ctx, change("org-1", "L2", domain.StatusPassed, base)))

	history, err := s.store.History(s.ctx, "org-1", "L1", 0)
	s.NoError(err)
	s.Require().Len(history, 2)
	s.Equal(domain.StatusContacted, history[0].Status)
	s.Equal(domain.StatusReviewing, history[1].Status)
	s.True(history[1].ChangedAt.Equal(base))
}

func (s *PostgresIntegrationSuite) TestTransaction_Commit() {
	tm := NewTransactionManager(s.db)
	now := time.Now().UTC().Truncate(time.Microsecond)

	err := tm.WithTransaction(s.ctx, func(ctx context.Context) error {
		c := change("org-1", "TX1", domain.StatusViewing, now)
		if err := s.store.Upsert(ctx, c); err != nil {
			return err
		}
		return s.store.AppendHistory(ctx, c)
	})
	s.NoError(err)

	var count int
	err = s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM listing_pipeline_history WHERE listing_id = $1", "TX1")
	s.NoError(err)
	s.Equal(1, count)
}

func (s *PostgresIntegrationSuite) TestTransaction_Rollback() {
	tm := NewTransactionManager(s.db)
	now := time.Now().UTC().Truncate(time.Microsecond)
	errAbort := errors.New("abort")

	err := tm.WithTransaction(s.ctx, func(ctx context.Context) error {
		if err := s.store.Upsert(ctx, change("org-1", "TX2", domain.StatusViewing, now)); err != nil {
			return err
		}
		return errAbort
	})
	s.ErrorIs(err, errAbort)

	statuses, err := s.store.GetStatuses(s.ctx, "org-1", []string{"TX2"})
	s.NoError(err)
	s.Empty(statuses)
}

func (s *PostgresIntegrationSuite) TestTransaction_Nested() {
	tm := NewTransactionManager(s.db)
	now := time.Now().UTC().Truncate(time.Microsecond)

	err := tm.WithTransaction(s.ctx, func(ctx context.Context) error {
		outer := GetTxFromContext(ctx)
		return tm.WithTransaction(ctx, func(inner context.Context) error {
			s.Same(outer, GetTxFromContext(inner))
			return s.store.Upsert(inner, change("org-1", "TX3", domain.StatusNew, now))
		})
	})
	s.NoError(err)
}
