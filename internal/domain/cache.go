package domain

import (
	"context"
	"time"
)

// SnapshotCache holds the most recently reconciled leaderboard snapshot per
// auction so restarts and status queries do not refetch from the REST API.
type SnapshotCache interface {
	// Set stores a snapshot, replacing any previous one for the auction.
	Set(ctx context.Context, snap LeaderboardSnapshot) error
	// Get returns the cached snapshot or ErrNotFound.
	Get(ctx context.Context, auctionID string) (LeaderboardSnapshot, error)
	// Invalidate removes the cached snapshot for the auction.
	Invalidate(ctx context.Context, auctionID string) error
}

// AuctionCache holds normalized auction detail fetched from the REST API.
type AuctionCache interface {
	Set(ctx context.Context, auction Auction) error
	// Get returns the cached auction or ErrNotFound.
	Get(ctx context.Context, id string) (Auction, error)
	Invalidate(ctx context.Context, id string) error
}

// LockManager provides distributed mutual exclusion so only one replica runs
// a given maintenance job at a time.
type LockManager interface {
	// Acquire obtains the lock or returns ErrLockHeld. The returned release
	// function is safe to call more than once.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RateLimiter throttles operations per key.
type RateLimiter interface {
	// Allow reports whether one more request for the key fits within the
	// window; an allowed request is counted.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	// Wait blocks until a request for the key is allowed or the context is
	// cancelled.
	Wait(ctx context.Context, key string) error
}
