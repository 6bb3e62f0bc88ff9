package dashboard

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listing_feed/internal/api"
	"listing_feed/internal/broadcast"
	"listing_feed/internal/domain"
	"listing_feed/internal/eventlog"
	"listing_feed/internal/eventlog/eventlogtest"
)

// listingDB stands in for the listing store behind the snapshot endpoint.
type listingDB struct {
	mu       sync.Mutex
	listings []domain.Listing
}

func (d *listingDB) add(l domain.Listing) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listings = append([]domain.Listing{l}, d.listings...)
}

func (d *listingDB) Fresh(ctx context.Context, q domain.SnapshotQuery) (*domain.SnapshotPage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return &domain.SnapshotPage{
		Listings: append([]domain.Listing(nil), d.listings...),
		MaxHours: q.MaxHours,
		Total:    int64(len(d.listings)),
	}, nil
}

func (d *listingDB) Available(ctx context.Context, q domain.SnapshotQuery) (*domain.SnapshotPage, error) {
	return &domain.SnapshotPage{Listings: []domain.Listing{}}, nil
}

type noopStatuses struct{}

func (noopStatuses) SetStatus(ctx context.Context, org, id, status string) (*domain.StatusChange, error) {
	st, err := domain.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	return &domain.StatusChange{OrganizationID: org, ListingID: id, Status: st}, nil
}

func (noopStatuses) History(ctx context.Context, org, id string, limit int) ([]domain.StatusChange, error) {
	return []domain.StatusChange{}, nil
}

func insert(id string) map[string]any {
	return map[string]any{
		"operation":        "insert",
		"transaction_type": "buy",
		"listing_id":       id,
		"sale_price":       100000,
	}
}

// Inserts appended while the client is disconnected are not replayed on
// reconnect; only a snapshot refresh brings them in.
func TestDashboard_GapIsRecoveredByRefresh(t *testing.T) {
	logger := testLogger()
	log := eventlogtest.NewMemoryLog()
	db := &listingDB{}

	bc := broadcast.NewBroadcaster(log, eventlog.TailerConfig{
		Count:          10,
		Block:          30 * time.Millisecond,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}, logger)
	srv := httptest.NewServer(api.NewServer(api.Options{
		Stream:              bc,
		Snapshots:           db,
		Statuses:            noopStatuses{},
		DefaultOrganization: "org-1",
	}, logger).Handler())
	defer srv.Close()

	client := newTestClient(srv.URL)
	conn := NewLiveConn(client.OpenStream, LiveConnConfig{}, logger)

	gap := make(chan struct{}, 1)
	resume := make(chan struct{})
	conn.wait = func(ctx context.Context, d time.Duration) error {
		select {
		case gap <- struct{}{}:
		default:
		}
		select {
		case <-resume:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	rec := NewReconciler(NewStore(), client, client, conn, ReconcilerConfig{MaxHours: 72}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	eventually := func(cond func() bool, msg string) {
		t.Helper()
		require.Eventually(t, cond, 3*time.Second, 5*time.Millisecond, msg)
	}
	has := func(id string) func() bool {
		return func() bool {
			_, ok := rec.Store().Get(id)
			return ok
		}
	}

	eventually(func() bool {
		state, _ := rec.Store().State()
		connState, _ := conn.State()
		return state == StateLoaded && connState == ConnOpen
	}, "client did not load and connect")
	reads := log.Reads()
	eventually(func() bool { return log.Reads() > reads }, "session never read the log")

	_, err := log.Append(ctx, insert("A"))
	require.NoError(t, err)
	eventually(has("A"), "A not streamed")

	srv.CloseClientConnections()
	select {
	case <-gap:
	case <-time.After(3 * time.Second):
		t.Fatal("client did not notice the dropped connection")
	}
	eventually(func() bool { return broadcast.ActiveSessions() == 0 }, "server session still open")

	_, err = log.Append(ctx, insert("B"))
	require.NoError(t, err)
	db.add(domain.Listing{ID: "B", Price: 100000, Status: domain.StatusNew})

	readsBefore := log.Reads()
	close(resume)
	eventually(func() bool { return log.Reads() > readsBefore }, "client did not reconnect")

	_, err = log.Append(ctx, insert("C"))
	require.NoError(t, err)
	eventually(has("C"), "C not streamed after reconnect")

	_, ok := rec.Store().Get("B")
	assert.False(t, ok, "B was appended during the gap and must not be replayed")

	_, err = rec.Refresh(ctx)
	require.NoError(t, err)
	assert.True(t, has("B")())
	assert.Equal(t, 3, rec.Store().Len())
}
