package domain

import (
	"context"
	"time"
)

// ListOpts carries standard pagination parameters for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// BidLogStore persists every bid observed on the push channel. Inserts are
// idempotent on (auction, user, amount, time) so duplicate delivery and
// replays after reconnect never double-count.
type BidLogStore interface {
	Insert(ctx context.Context, entry BidLogEntry) error
	// InsertBatch records a whole pulled leaderboard's standing bids at once.
	InsertBatch(ctx context.Context, entries []BidLogEntry) error
	ListByAuction(ctx context.Context, auctionID string, opts ListOpts) ([]BidLogEntry, error)
}

// SettlementStore persists observed auction outcomes. Settled rows stay in
// the database forever; MarkArchived flags the ones whose bid history has
// already been moved to cold storage so the archive sweep never revisits
// them.
type SettlementStore interface {
	Insert(ctx context.Context, s Settlement) error
	// Get returns the settlement for an auction or ErrNotFound.
	Get(ctx context.Context, auctionID string) (Settlement, error)
	// ListEndedBefore returns settlements that ended strictly before the
	// cutoff and have not been archived yet.
	ListEndedBefore(ctx context.Context, before time.Time) ([]Settlement, error)
	// MarkArchived flags an auction's settlement as archived.
	MarkArchived(ctx context.Context, auctionID string) error
}
