package dashboard

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listing_feed/internal/domain"
)

func listing(id string, price float64) domain.Listing {
	return domain.Listing{ID: id, Price: price, Status: domain.StatusNew}
}

func ids(ls []domain.Listing) []string {
	out := make([]string, 0, len(ls))
	for _, l := range ls {
		out = append(out, l.ID)
	}
	return out
}

func TestStore_AddIfAbsentIsIdempotent(t *testing.T) {
	s := NewStore()

	assert.True(t, s.AddIfAbsent(listing("X1", 100)))
	assert.False(t, s.AddIfAbsent(listing("X1", 999)))

	assert.Equal(t, 1, s.Len())
	got, ok := s.Get("X1")
	require.True(t, ok)
	assert.Equal(t, 100.0, got.Price)
}

func TestStore_AddIfAbsentPrepends(t *testing.T) {
	s := NewStore()
	s.AddIfAbsent(listing("A", 1))
	s.AddIfAbsent(listing("B", 2))

	assert.Equal(t, []string{"B", "A"}, ids(s.List()))
}

func TestStore_AddIfAbsentRejectsEmptyID(t *testing.T) {
	s := NewStore()
	assert.False(t, s.AddIfAbsent(domain.Listing{}))
	assert.Zero(t, s.Len())
}

func TestStore_MergeKeepsStreamedEntriesFirst(t *testing.T) {
	s := NewStore()
	s.AddIfAbsent(listing("S1", 1))
	s.AddIfAbsent(listing("X", 1))
	s.AddIfAbsent(listing("S2", 1))

	res := s.Merge([]domain.Listing{listing("X", 500), listing("P", 2), listing("Q", 3)})

	assert.Equal(t, []string{"S2", "S1", "X", "P", "Q"}, ids(s.List()))
	assert.Equal(t, MergeResult{Added: 2, Replaced: 1}, res)

	x, _ := s.Get("X")
	assert.Equal(t, 500.0, x.Price, "snapshot data replaces the streamed entry")

	state, err := s.State()
	assert.Equal(t, StateLoaded, state)
	assert.NoError(t, err)
}

func TestStore_MergeIgnoresDuplicatesInSnapshot(t *testing.T) {
	s := NewStore()
	s.Merge([]domain.Listing{listing("A", 1), listing("A", 2), {ID: ""}})

	assert.Equal(t, []string{"A"}, ids(s.List()))
	a, _ := s.Get("A")
	assert.Equal(t, 1.0, a.Price)
}

func TestStore_ArrivalOrderIndependence(t *testing.T) {
	snapshot := []domain.Listing{listing("X", 500), listing("P", 2)}
	streamed := listing("X", 1)
	streamed.DaysOnMarket = 0

	snapshotFirst := NewStore()
	snapshotFirst.Merge(snapshot)
	snapshotFirst.AddIfAbsent(streamed)

	streamFirst := NewStore()
	streamFirst.AddIfAbsent(streamed)
	streamFirst.Merge(snapshot)

	assert.ElementsMatch(t, snapshotFirst.List(), streamFirst.List())
	for _, s := range []*Store{snapshotFirst, streamFirst} {
		x, _ := s.Get("X")
		assert.Equal(t, 500.0, x.Price)
		assert.Equal(t, 2, s.Len())
	}
}

func TestStore_MergeKeepingStatus(t *testing.T) {
	s := NewStore()
	s.Merge([]domain.Listing{listing("A", 1), listing("B", 1)})
	s.UpdateStatus("A", domain.StatusViewing)
	s.UpdateStatus("B", domain.StatusViewing)

	res := s.MergeKeepingStatus([]domain.Listing{listing("A", 7), listing("B", 8), listing("C", 9)}, func(id string) bool {
		return id == "A" || id == "C"
	})
	assert.Equal(t, MergeResult{Added: 1, Replaced: 2}, res)

	a, _ := s.Get("A")
	assert.Equal(t, domain.StatusViewing, a.Status)
	assert.Equal(t, 7.0, a.Price)

	b, _ := s.Get("B")
	assert.Equal(t, domain.StatusNew, b.Status)

	c, _ := s.Get("C")
	assert.Equal(t, domain.StatusNew, c.Status)
}

func TestStore_UpdateStatus(t *testing.T) {
	s := NewStore()
	s.AddIfAbsent(listing("A", 1))

	prev, ok := s.UpdateStatus("A", domain.StatusViewing)
	assert.True(t, ok)
	assert.Equal(t, domain.StatusNew, prev)

	a, _ := s.Get("A")
	assert.Equal(t, domain.StatusViewing, a.Status)

	_, ok = s.UpdateStatus("missing", domain.StatusPassed)
	assert.False(t, ok)
}

func TestStore_FailedKeepsEntries(t *testing.T) {
	s := NewStore()
	s.AddIfAbsent(listing("A", 1))
	s.SetFailed(errors.New("boom"))

	state, err := s.State()
	assert.Equal(t, StateFailed, state)
	assert.EqualError(t, err, "boom")
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, "failed to load", state.String())
}

func TestStore_SubscribeNotifiesAndCoalesces(t *testing.T) {
	s := NewStore()
	ch, cancel := s.Subscribe()
	defer cancel()

	s.AddIfAbsent(listing("A", 1))
	s.AddIfAbsent(listing("B", 1))

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("no notification")
	}
	select {
	case <-ch:
		t.Fatal("notifications should coalesce")
	default:
	}

	cancel()
	s.AddIfAbsent(listing("C", 1))
	select {
	case <-ch:
		t.Fatal("unsubscribed channel notified")
	default:
	}
}
