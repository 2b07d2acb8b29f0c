package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Lujiluz/koilive/internal/domain"
)

// BidLogStore implements domain.BidLogStore using PostgreSQL.
type BidLogStore struct {
	pool *pgxpool.Pool
}

// NewBidLogStore creates a BidLogStore backed by the given connection pool.
func NewBidLogStore(pool *pgxpool.Pool) *BidLogStore {
	return &BidLogStore{pool: pool}
}

const bidLogInsert = `
	INSERT INTO bid_log (
		auction_id, user_id, user_name, bid_amount, bid_type, bid_time, seen_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (auction_id, user_id, bid_amount, bid_time) DO NOTHING`

const bidLogSelectCols = `auction_id, user_id, user_name, bid_amount, bid_type, bid_time, seen_at`

func scanBidLogRows(rows pgx.Rows) ([]domain.BidLogEntry, error) {
	var entries []domain.BidLogEntry
	for rows.Next() {
		var e domain.BidLogEntry
		if err := rows.Scan(
			&e.AuctionID, &e.UserID, &e.UserName,
			&e.BidAmount, &e.BidType, &e.BidTime, &e.SeenAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Insert records one observed bid. Duplicate deliveries of the same bid
// (same auction, user, amount, time) are silently skipped.
func (s *BidLogStore) Insert(ctx context.Context, entry domain.BidLogEntry) error {
	_, err := s.pool.Exec(ctx, bidLogInsert,
		entry.AuctionID, entry.UserID, entry.UserName,
		entry.BidAmount, entry.BidType, entry.BidTime, entry.SeenAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert bid log %s: %w", entry.AuctionID, err)
	}
	return nil
}

// InsertBatch inserts multiple observed bids using a pgx Batch, with the same
// duplicate suppression as Insert.
func (s *BidLogStore) InsertBatch(ctx context.Context, entries []domain.BidLogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(bidLogInsert,
			e.AuctionID, e.UserID, e.UserName,
			e.BidAmount, e.BidType, e.BidTime, e.SeenAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range entries {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert bid log batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListByAuction returns observed bids for an auction, newest first.
func (s *BidLogStore) ListByAuction(ctx context.Context, auctionID string, opts domain.ListOpts) ([]domain.BidLogEntry, error) {
	query := `SELECT ` + bidLogSelectCols + ` FROM bid_log WHERE auction_id = $1 ORDER BY bid_time DESC`
	args := []any{auctionID}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bid log by auction: %w", err)
	}
	defer rows.Close()

	entries, err := scanBidLogRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan bid log by auction: %w", err)
	}
	return entries, nil
}

// DeleteByAuction removes an auction's entries after they have been archived.
// Returns the number of rows deleted.
func (s *BidLogStore) DeleteByAuction(ctx context.Context, auctionID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM bid_log WHERE auction_id = $1`, auctionID)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete bid log %s: %w", auctionID, err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.BidLogStore = (*BidLogStore)(nil)
