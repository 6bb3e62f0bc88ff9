// Package dashboard keeps a client-side list of fresh buy listings in sync
// with the feed server: an initial snapshot, live inserts from the stream
// and optimistic pipeline status edits.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"listing_feed/internal/domain"
)

var ErrUnknownListing = errors.New("unknown listing")

type SnapshotSource interface {
	FetchSnapshot(ctx context.Context, maxHours int) (*domain.SnapshotPage, error)
}

type StatusWriter interface {
	SetStatus(ctx context.Context, listingID string, status domain.Status) error
}

type ReconcilerConfig struct {
	MaxHours       int
	PersistTimeout time.Duration
}

// Reconciler merges the snapshot and the live stream into one Store.
// Neither source waits for the other; Store.Merge makes their arrival order
// irrelevant.
type Reconciler struct {
	store     *Store
	snapshots SnapshotSource
	statuses  StatusWriter
	conn      *LiveConn
	cfg       ReconcilerConfig
	logger    *slog.Logger
	now       func() time.Time

	refreshMu sync.Mutex
	pending   sync.WaitGroup

	editMu  sync.Mutex
	editSeq uint64
	edits   map[string]statusEdit
}

// statusEdit tracks the latest local status change of one listing. settled
// is the sequence number at which its write finished, zero while in flight.
type statusEdit struct {
	seq     uint64
	settled uint64
}

func NewReconciler(
	store *Store,
	snapshots SnapshotSource,
	statuses StatusWriter,
	conn *LiveConn,
	cfg ReconcilerConfig,
	logger *slog.Logger,
) *Reconciler {
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 10 * time.Second
	}
	return &Reconciler{
		store:     store,
		snapshots: snapshots,
		statuses:  statuses,
		conn:      conn,
		cfg:       cfg,
		logger:    logger.With("component", "reconciler"),
		now:       time.Now,
		edits:     make(map[string]statusEdit),
	}
}

func (r *Reconciler) Store() *Store { return r.store }

func (r *Reconciler) Conn() *LiveConn { return r.conn }

// ConnState reports the live connection state.
func (r *Reconciler) ConnState() (ConnState, error) { return r.conn.State() }

// Run starts the snapshot fetch and the live connection concurrently and
// blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = r.Refresh(ctx)
	}()

	err := r.conn.Run(ctx, r.handleFrame)
	wg.Wait()
	return err
}

// Refresh fetches a snapshot and merges it into the store. It recovers
// inserts missed while the stream was disconnected. A fetch abandoned
// because ctx was cancelled leaves the store as it was; one that ran out
// of time counts as a failure. Listings whose status was changed locally
// after the fetch began, or whose write had not finished by then, keep
// their local status.
func (r *Reconciler) Refresh(ctx context.Context) (*domain.RefreshStats, error) {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	start := time.Now()
	prevState, prevErr := r.store.State()
	if prevState != StateLoaded {
		r.store.SetLoading()
	}
	mark := r.editMark()

	page, err := r.snapshots.FetchSnapshot(ctx, r.cfg.MaxHours)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			if prevState != StateLoaded {
				r.store.setState(prevState, prevErr)
			}
			return nil, ctx.Err()
		}
		r.store.SetFailed(err)
		r.logger.Error("snapshot fetch failed", "error", err)
		return nil, fmt.Errorf("refresh: %w", err)
	}

	res := r.store.MergeKeepingStatus(page.Listings, func(id string) bool {
		return r.editedSince(id, mark)
	})
	r.forgetEdits(mark)
	stats := &domain.RefreshStats{
		Fetched:  len(page.Listings),
		Added:    res.Added,
		Replaced: res.Replaced,
		Duration: time.Since(start),
	}
	r.logger.Info("snapshot merged",
		"fetched", stats.Fetched,
		"added", stats.Added,
		"replaced", stats.Replaced,
		"duration", stats.Duration,
	)
	return stats, nil
}

// HandleEvent applies one streamed event. Only inserts of buy listings
// with a listing ID are kept; a listing already present is left alone.
func (r *Reconciler) HandleEvent(ev domain.ListingEvent) bool {
	if !ev.Tracked() {
		return false
	}
	return r.store.AddIfAbsent(domain.ListingFromEvent(ev, r.now()))
}

func (r *Reconciler) handleFrame(frame Event) {
	ev, err := domain.DecodeListingEvent(frame.Data)
	if err != nil {
		r.logger.Warn("dropping undecodable event", "id", frame.ID, "error", err)
		return
	}
	if r.HandleEvent(ev) {
		r.logger.Debug("listing added from stream", "id", frame.ID, "listing_id", ev.ListingID)
	}
}

// UpdateStatus changes the status locally right away and persists it in
// the background. A failed write is logged and the local status stays;
// there is no rollback and no retry.
func (r *Reconciler) UpdateStatus(ctx context.Context, listingID string, status domain.Status) error {
	// recorded before the store changes so a concurrent merge never sees
	// the new status without the edit
	seq := r.beginEdit(listingID)
	if _, ok := r.store.UpdateStatus(listingID, status); !ok {
		r.dropEdit(listingID, seq)
		return fmt.Errorf("update status: %w", ErrUnknownListing)
	}

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.PersistTimeout)
	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		defer cancel()
		defer r.settleEdit(listingID, seq)
		if err := r.statuses.SetStatus(persistCtx, listingID, status); err != nil {
			r.logger.Warn("failed to persist status",
				"listing_id", listingID,
				"status", status,
				"error", err,
			)
		}
	}()
	return nil
}

// Wait blocks until background status writes have finished.
func (r *Reconciler) Wait() {
	r.pending.Wait()
}

func (r *Reconciler) beginEdit(id string) uint64 {
	r.editMu.Lock()
	defer r.editMu.Unlock()
	r.editSeq++
	r.edits[id] = statusEdit{seq: r.editSeq}
	return r.editSeq
}

func (r *Reconciler) dropEdit(id string, seq uint64) {
	r.editMu.Lock()
	defer r.editMu.Unlock()
	if e, ok := r.edits[id]; ok && e.seq == seq {
		delete(r.edits, id)
	}
}

// settleEdit marks the write of edit seq as finished. Earlier edits of the
// same listing were superseded and are ignored.
func (r *Reconciler) settleEdit(id string, seq uint64) {
	r.editMu.Lock()
	defer r.editMu.Unlock()
	e, ok := r.edits[id]
	if !ok || e.seq != seq {
		return
	}
	r.editSeq++
	e.settled = r.editSeq
	r.edits[id] = e
}

func (r *Reconciler) editMark() uint64 {
	r.editMu.Lock()
	defer r.editMu.Unlock()
	return r.editSeq
}

// editedSince reports whether a snapshot requested at mark may predate the
// local status of id.
func (r *Reconciler) editedSince(id string, mark uint64) bool {
	r.editMu.Lock()
	defer r.editMu.Unlock()
	e, ok := r.edits[id]
	return ok && (e.settled == 0 || e.settled > mark)
}

// forgetEdits drops edits that every later snapshot already reflects.
func (r *Reconciler) forgetEdits(mark uint64) {
	r.editMu.Lock()
	defer r.editMu.Unlock()
	for id, e := range r.edits {
		if e.settled != 0 && e.settled <= mark {
			delete(r.edits, id)
		}
	}
}
