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

// AuctionCache implements domain.AuctionCache with one JSON value per
// auction.
//
// Key schema:
//
//	auction:{id} - JSON-encoded normalized Auction
type AuctionCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewAuctionCache creates an AuctionCache backed by the given Client.
func NewAuctionCache(c *Client, ttl time.Duration) *AuctionCache {
	return &AuctionCache{rdb: c.Underlying(), ttl: ttl}
}

func auctionKey(id string) string { return "auction:" + id }

// Set stores a normalized auction.
func (ac *AuctionCache) Set(ctx context.Context, auction domain.Auction) error {
	data, err := json.Marshal(auction)
	if err != nil {
		return fmt.Errorf("redis: marshal auction %s: %w", auction.ID, err)
	}
	if err := ac.rdb.Set(ctx, auctionKey(auction.ID), data, ac.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set auction %s: %w", auction.ID, err)
	}
	return nil
}

// Get returns the cached auction or domain.ErrNotFound.
func (ac *AuctionCache) Get(ctx context.Context, id string) (domain.Auction, error) {
	data, err := ac.rdb.Get(ctx, auctionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Auction{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Auction{}, fmt.Errorf("redis: get auction %s: %w", id, err)
	}

	var auction domain.Auction
	if err := json.Unmarshal(data, &auction); err != nil {
		return domain.Auction{}, fmt.Errorf("redis: unmarshal auction %s: %w", id, err)
	}
	return auction, nil
}

// Invalidate removes the cached auction.
func (ac *AuctionCache) Invalidate(ctx context.Context, id string) error {
	if err := ac.rdb.Del(ctx, auctionKey(id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate auction %s: %w", id, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.AuctionCache = (*AuctionCache)(nil)
