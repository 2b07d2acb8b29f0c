package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Lujiluz/koilive/internal/domain"
)

// SettlementStore implements domain.SettlementStore using PostgreSQL.
type SettlementStore struct {
	pool *pgxpool.Pool
}

// NewSettlementStore creates a SettlementStore backed by the given pool.
func NewSettlementStore(pool *pgxpool.Pool) *SettlementStore {
	return &SettlementStore{pool: pool}
}

const settlementSelectCols = `auction_id, winner_id, winner_name, winning_bid, total_bids, total_participants, ended_at`

// Insert records an auction's observed outcome. The first ended notice wins;
// re-inserting a settled auction is a no-op.
func (s *SettlementStore) Insert(ctx context.Context, settlement domain.Settlement) error {
	const query = `
		INSERT INTO settlements (
			auction_id, winner_id, winner_name, winning_bid,
			total_bids, total_participants, ended_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (auction_id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		settlement.AuctionID, settlement.WinnerID, settlement.WinnerName,
		settlement.WinningBid, settlement.TotalBids, settlement.TotalParticipants,
		settlement.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert settlement %s: %w", settlement.AuctionID, err)
	}
	return nil
}

// Get returns the settlement for an auction or domain.ErrNotFound.
func (s *SettlementStore) Get(ctx context.Context, auctionID string) (domain.Settlement, error) {
	var out domain.Settlement
	err := s.pool.QueryRow(ctx,
		`SELECT `+settlementSelectCols+` FROM settlements WHERE auction_id = $1`,
		auctionID,
	).Scan(
		&out.AuctionID, &out.WinnerID, &out.WinnerName, &out.WinningBid,
		&out.TotalBids, &out.TotalParticipants, &out.EndedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Settlement{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Settlement{}, fmt.Errorf("postgres: get settlement %s: %w", auctionID, err)
	}
	return out, nil
}

// ListEndedBefore returns unarchived settlements that ended strictly before
// the cutoff, oldest first. Archived auctions are skipped: their bid history
// has already been trimmed, and re-archiving would overwrite the uploaded
// object with an empty one.
func (s *SettlementStore) ListEndedBefore(ctx context.Context, before time.Time) ([]domain.Settlement, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+settlementSelectCols+` FROM settlements
		 WHERE ended_at < $1 AND archived_at IS NULL ORDER BY ended_at ASC`,
		before,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settlements before: %w", err)
	}
	defer rows.Close()

	var out []domain.Settlement
	for rows.Next() {
		var st domain.Settlement
		if err := rows.Scan(
			&st.AuctionID, &st.WinnerID, &st.WinnerName, &st.WinningBid,
			&st.TotalBids, &st.TotalParticipants, &st.EndedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan settlement: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate settlements: %w", err)
	}
	return out, nil
}

// MarkArchived flags a settlement as archived so the sweep never picks it up
// again.
func (s *SettlementStore) MarkArchived(ctx context.Context, auctionID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE settlements SET archived_at = NOW() WHERE auction_id = $1`,
		auctionID,
	)
	if err != nil {
		return fmt.Errorf("postgres: mark settlement archived %s: %w", auctionID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.SettlementStore = (*SettlementStore)(nil)
