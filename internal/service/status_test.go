package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"listing_feed/internal/domain"
	"listing_feed/internal/service/mocks"
)

type StatusServiceTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller

	statuses  *mocks.MockStatusStore
	txManager *mocks.MockTransactionManager
	publisher *mocks.MockPublisher

	service *StatusService
	now     time.Time
	logger  *slog.Logger
}

func (s *StatusServiceTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())

	s.statuses = mocks.NewMockStatusStore(s.ctrl)
	s.txManager = mocks.NewMockTransactionManager(s.ctrl)
	s.publisher = mocks.NewMockPublisher(s.ctrl)

	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	s.now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	s.service = NewStatusService(s.statuses, s.txManager, s.publisher, s.logger)
	s.service.now = func() time.Time { return s.now }
}

func (s *StatusServiceTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestStatusServiceTestSuite(t *testing.T) {
	suite.Run(t, new(StatusServiceTestSuite))
}

func (s *StatusServiceTestSuite) expectTransaction() {
	s.txManager.EXPECT().
		WithTransaction(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, fn func(context.Context) error) error {
			return fn(ctx)
		})
}

func (s *StatusServiceTestSuite) TestSetStatus_Success() {
	ctx := context.Background()
	want := &domain.StatusChange{
		OrganizationID: "org-1",
		ListingID:      "athome-1",
		Status:         domain.StatusReviewing,
		ChangedAt:      s.now,
	}

	s.expectTransaction()
	s.statuses.EXPECT().Upsert(gomock.Any(), want).Return(nil)
	s.statuses.EXPECT().AppendHistory(gomock.Any(), want).Return(nil)
	s.publisher.EXPECT().PublishStatusChange(gomock.Any(), want).Return(nil)

	change, err := s.service.SetStatus(ctx, "org-1", "athome-1", "reviewing")

	s.NoError(err)
	s.Equal(want, change)
}

func (s *StatusServiceTestSuite) TestSetStatus_InvalidStatus() {
	ctx := context.Background()

	change, err := s.service.SetStatus(ctx, "org-1", "athome-1", "archived")

	s.ErrorIs(err, domain.ErrInvalidStatus)
	s.Nil(change)
}

func (s *StatusServiceTestSuite) TestSetStatus_MissingIdentifiers() {
	ctx := context.Background()

	_, err := s.service.SetStatus(ctx, "", "athome-1", "new")
	s.ErrorIs(err, ErrMissingOrganization)

	_, err = s.service.SetStatus(ctx, "org-1", " ", "new")
	s.ErrorIs(err, ErrInvalidListing)
}

func (s *StatusServiceTestSuite) TestSetStatus_UpsertErrorSkipsPublish() {
	ctx := context.Background()

	s.expectTransaction()
	s.statuses.EXPECT().Upsert(gomock.Any(), gomock.Any()).Return(errors.New("db error"))

	change, err := s.service.SetStatus(ctx, "org-1", "athome-1", "Passed")

	s.Error(err)
	s.Nil(change)
	s.Contains(err.Error(), "upsert status")
}

func (s *StatusServiceTestSuite) TestSetStatus_HistoryErrorRollsBack() {
	ctx := context.Background()
	errHistory := errors.New("history table missing")

	s.expectTransaction()
	s.statuses.EXPECT().Upsert(gomock.Any(), gomock.Any()).Return(nil)
	s.statuses.EXPECT().AppendHistory(gomock.Any(), gomock.Any()).Return(errHistory)

	_, err := s.service.SetStatus(ctx, "org-1", "athome-1", "Passed")

	s.ErrorIs(err, errHistory)
}

func (s *StatusServiceTestSuite) TestSetStatus_PublishFailureIsNotFatal() {
	ctx := context.Background()

	s.expectTransaction()
	s.statuses.EXPECT().Upsert(gomock.Any(), gomock.Any()).Return(nil)
	s.statuses.EXPECT().AppendHistory(gomock.Any(), gomock.Any()).Return(nil)
	s.publisher.EXPECT().PublishStatusChange(gomock.Any(), gomock.Any()).Return(errors.New("channel closed"))

	change, err := s.service.SetStatus(ctx, "org-1", "athome-1", "Acquired")

	s.NoError(err)
	s.Equal(domain.StatusAcquired, change.Status)
}

func (s *StatusServiceTestSuite) TestSetStatus_NilPublisher() {
	ctx := context.Background()
	svc := NewStatusService(s.statuses, s.txManager, nil, s.logger)

	s.expectTransaction()
	s.statuses.EXPECT().Upsert(gomock.Any(), gomock.Any()).Return(nil)
	s.statuses.EXPECT().AppendHistory(gomock.Any(), gomock.Any()).Return(nil)

	_, err := svc.SetStatus(ctx, "org-1", "athome-1", "viewing")

	s.NoError(err)
}

func (s *StatusServiceTestSuite) TestHistory() {
	ctx := context.Background()

	s.statuses.EXPECT().History(gomock.Any(), "org-1", "athome-1", 10).Return(nil, nil)

	changes, err := s.service.History(ctx, "org-1", "athome-1", 10)

	s.NoError(err)
	s.NotNil(changes)
	s.Empty(changes)
}

func (s *StatusServiceTestSuite) TestHistory_StoreError() {
	ctx := context.Background()

	s.statuses.EXPECT().History(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errors.New("boom"))

	_, err := s.service.History(ctx, "org-1", "athome-1", 0)

	s.Error(err)
	s.Contains(err.Error(), "load history")
}
