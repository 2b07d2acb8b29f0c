package live

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/Lujiluz/koilive/internal/domain"
)

// Reconciler merges authoritative leaderboard pulls with incremental push
// events into one coherent snapshot per auction. All merge rules are
// idempotent and monotonic so duplicate or out-of-order delivery over the
// channel is harmless.
type Reconciler struct {
	mu        sync.RWMutex
	snapshots map[string]*domain.LeaderboardSnapshot
	seenBids  map[string]map[string]struct{}
	ended     map[string]domain.EndedEvent

	logger *slog.Logger
}

// NewReconciler creates an empty Reconciler.
func NewReconciler(logger *slog.Logger) *Reconciler {
	return &Reconciler{
		snapshots: make(map[string]*domain.LeaderboardSnapshot),
		seenBids:  make(map[string]map[string]struct{}),
		ended:     make(map[string]domain.EndedEvent),
		logger:    logger.With(slog.String("component", "reconciler")),
	}
}

// ApplySnapshot installs an authoritative snapshot for its auction. A
// snapshot whose AsOf is strictly older than the held one is rejected with
// domain.ErrStaleSnapshot; equal or newer snapshots fully replace the view.
func (r *Reconciler) ApplySnapshot(snap domain.LeaderboardSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, done := r.ended[snap.AuctionID]; done {
		return fmt.Errorf("reconcile: snapshot for %s: %w", snap.AuctionID, domain.ErrAuctionEnded)
	}

	if held, ok := r.snapshots[snap.AuctionID]; ok && snap.AsOf.Before(held.AsOf) {
		r.logger.Debug("stale snapshot dropped",
			slog.String("auction_id", snap.AuctionID),
			slog.Time("held_as_of", held.AsOf),
			slog.Time("incoming_as_of", snap.AsOf),
		)
		return fmt.Errorf("reconcile: snapshot for %s: %w", snap.AuctionID, domain.ErrStaleSnapshot)
	}

	r.snapshots[snap.AuctionID] = snap.Clone()
	return nil
}

// ApplyBid folds one push bid event into the auction's view. It returns true
// when the event changed the view and should be surfaced as a new-bid
// signal. Duplicates (same user, amount, time) and bids below the current
// highest are absorbed silently; the highest bid never decreases.
func (r *Reconciler) ApplyBid(ev domain.BidEvent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, done := r.ended[ev.AuctionID]; done {
		return false
	}

	seen := r.seenBids[ev.AuctionID]
	if seen == nil {
		seen = make(map[string]struct{})
		r.seenBids[ev.AuctionID] = seen
	}
	key := ev.Key()
	if _, dup := seen[key]; dup {
		return false
	}
	seen[key] = struct{}{}

	snap, ok := r.snapshots[ev.AuctionID]
	if !ok {
		// No authoritative pull yet: seed a minimal view from the event so
		// the highest-bid display is live while the pull is in flight.
		snap = &domain.LeaderboardSnapshot{AuctionID: ev.AuctionID}
		r.snapshots[ev.AuctionID] = snap
	}

	snap.TotalBids++

	if ev.BidAmount < snap.CurrentHighestBid {
		// A racing lower bid: counted, but the leader view is untouched.
		return false
	}

	snap.CurrentHighestBid = ev.BidAmount
	snap.CurrentWinner = &domain.Participant{
		UserID:        ev.UserID,
		Name:          ev.UserName,
		HighestBid:    ev.BidAmount,
		LatestBidTime: ev.BidTime,
		Rank:          1,
	}
	return true
}

// ApplyEnded marks the auction as settled. Later bid and extension events
// for the auction are ignored. Applying a second ended event is a no-op and
// returns false.
func (r *Reconciler) ApplyEnded(ev domain.EndedEvent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, done := r.ended[ev.AuctionID]; done {
		return false
	}
	r.ended[ev.AuctionID] = ev

	if snap, ok := r.snapshots[ev.AuctionID]; ok {
		snap.TotalBids = ev.TotalBids
		snap.TotalParticipants = ev.TotalParticipants
		if ev.Winner != nil {
			snap.CurrentHighestBid = ev.Winner.WinningBid
			snap.CurrentWinner = &domain.Participant{
				UserID:     ev.Winner.UserID,
				Name:       ev.Winner.Name,
				HighestBid: ev.Winner.WinningBid,
				Rank:       1,
			}
		}
	}
	return true
}

// Ended reports whether the auction has been settled.
func (r *Reconciler) Ended(auctionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, done := r.ended[auctionID]
	return done
}

// Settlement returns the ended event for a settled auction.
func (r *Reconciler) Settlement(auctionID string) (domain.EndedEvent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ev, ok := r.ended[auctionID]
	return ev, ok
}

// Snapshot returns a copy of the current view for the auction. The second
// return is false while no pull has resolved and no event has arrived yet
// (the "loading" state, which is not an error).
func (r *Reconciler) Snapshot(auctionID string) (domain.LeaderboardSnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap, ok := r.snapshots[auctionID]
	if !ok {
		return domain.LeaderboardSnapshot{}, false
	}
	return *snap.Clone(), true
}

// Tracked returns the IDs of all auctions with a current view.
func (r *Reconciler) Tracked() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.snapshots))
	for id := range r.snapshots {
		ids = append(ids, id)
	}
	return ids
}

// Drop discards all state for an auction. Called when the room is left.
func (r *Reconciler) Drop(auctionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.snapshots, auctionID)
	delete(r.seenBids, auctionID)
	delete(r.ended, auctionID)
}
