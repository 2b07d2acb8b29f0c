package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Lujiluz/koilive/internal/domain"
)

// SnapshotCache implements domain.SnapshotCache as one JSON value per
// auction.
//
// Key schema:
//
//	lb:{auctionID} - JSON-encoded LeaderboardSnapshot
type SnapshotCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSnapshotCache creates a SnapshotCache backed by the given Client. A zero
// TTL keeps snapshots until invalidated.
func NewSnapshotCache(c *Client, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{rdb: c.Underlying(), ttl: ttl}
}

func snapshotKey(auctionID string) string { return "lb:" + auctionID }

// Set stores a snapshot, replacing any previous one for the auction.
func (sc *SnapshotCache) Set(ctx context.Context, snap domain.LeaderboardSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot %s: %w", snap.AuctionID, err)
	}
	if err := sc.rdb.Set(ctx, snapshotKey(snap.AuctionID), data, sc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set snapshot %s: %w", snap.AuctionID, err)
	}
	return nil
}

// Get returns the cached snapshot or domain.ErrNotFound.
func (sc *SnapshotCache) Get(ctx context.Context, auctionID string) (domain.LeaderboardSnapshot, error) {
	data, err := sc.rdb.Get(ctx, snapshotKey(auctionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.LeaderboardSnapshot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.LeaderboardSnapshot{}, fmt.Errorf("redis: get snapshot %s: %w", auctionID, err)
	}

	var snap domain.LeaderboardSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.LeaderboardSnapshot{}, fmt.Errorf("redis: unmarshal snapshot %s: %w", auctionID, err)
	}
	return snap, nil
}

// Invalidate removes the cached snapshot for the auction.
func (sc *SnapshotCache) Invalidate(ctx context.Context, auctionID string) error {
	if err := sc.rdb.Del(ctx, snapshotKey(auctionID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate snapshot %s: %w", auctionID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.SnapshotCache = (*SnapshotCache)(nil)
