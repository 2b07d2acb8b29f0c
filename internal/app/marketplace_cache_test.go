package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lujiluz/koilive/internal/domain"
)

type fakeMarketplace struct {
	mu       sync.Mutex
	auction  domain.Auction
	err      error
	bids     []int64
	fetches  int
	requests int
}

func (f *fakeMarketplace) GetAuction(ctx context.Context, id string) (domain.Auction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	if f.err != nil {
		return domain.Auction{}, f.err
	}
	return f.auction, nil
}

func (f *fakeMarketplace) FetchParticipants(ctx context.Context, auctionID string) (domain.LeaderboardSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	return domain.LeaderboardSnapshot{AuctionID: auctionID}, nil
}

func (f *fakeMarketplace) SubmitBid(ctx context.Context, auctionID string, amount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bids = append(f.bids, amount)
	return nil
}

type fakeAuctionCache struct {
	mu       sync.Mutex
	auctions map[string]domain.Auction
}

func newFakeAuctionCache() *fakeAuctionCache {
	return &fakeAuctionCache{auctions: make(map[string]domain.Auction)}
}

func (c *fakeAuctionCache) Set(ctx context.Context, auction domain.Auction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.auctions[auction.ID] = auction
	return nil
}

func (c *fakeAuctionCache) Get(ctx context.Context, id string) (domain.Auction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	auction, ok := c.auctions[id]
	if !ok {
		return domain.Auction{}, domain.ErrNotFound
	}
	return auction, nil
}

func (c *fakeAuctionCache) Invalidate(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.auctions, id)
	return nil
}

type fakeLimiter struct {
	mu    sync.Mutex
	waits []string
	err   error
}

func (l *fakeLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	return true, nil
}

func (l *fakeLimiter) Wait(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.waits = append(l.waits, key)
	return l.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCachedMarketplaceRefreshesCacheOnSuccess(t *testing.T) {
	api := &fakeMarketplace{auction: domain.Auction{ID: "a-1", Title: "Kohaku 45cm"}}
	cache := newFakeAuctionCache()
	m := newCachedMarketplace(api, cache, nil, discardLogger())

	auction, err := m.GetAuction(context.Background(), "a-1")
	require.NoError(t, err)
	assert.Equal(t, "Kohaku 45cm", auction.Title)

	cached, err := cache.Get(context.Background(), "a-1")
	require.NoError(t, err)
	assert.Equal(t, auction, cached)
}

func TestCachedMarketplaceFallsBackToCacheOnFailure(t *testing.T) {
	api := &fakeMarketplace{auction: domain.Auction{ID: "a-1", Title: "Kohaku 45cm"}}
	cache := newFakeAuctionCache()
	m := newCachedMarketplace(api, cache, nil, discardLogger())

	_, err := m.GetAuction(context.Background(), "a-1")
	require.NoError(t, err)

	api.mu.Lock()
	api.err = errors.New("marketplace down")
	api.mu.Unlock()

	auction, err := m.GetAuction(context.Background(), "a-1")
	require.NoError(t, err, "cached detail answers while the API is down")
	assert.Equal(t, "Kohaku 45cm", auction.Title)

	// An auction never seen before has nothing to fall back to.
	_, err = m.GetAuction(context.Background(), "a-2")
	require.Error(t, err)
}

func TestCachedMarketplaceThrottlesBidSubmission(t *testing.T) {
	api := &fakeMarketplace{}
	limiter := &fakeLimiter{}
	m := newCachedMarketplace(api, nil, limiter, discardLogger())

	require.NoError(t, m.SubmitBid(context.Background(), "a-1", 600_000))

	limiter.mu.Lock()
	assert.Equal(t, []string{bidSubmitKey}, limiter.waits)
	limiter.mu.Unlock()

	api.mu.Lock()
	assert.Equal(t, []int64{600_000}, api.bids)
	api.mu.Unlock()
}

func TestCachedMarketplaceBidBlockedByLimiterNeverReachesAPI(t *testing.T) {
	api := &fakeMarketplace{}
	limiter := &fakeLimiter{err: context.Canceled}
	m := newCachedMarketplace(api, nil, limiter, discardLogger())

	err := m.SubmitBid(context.Background(), "a-1", 600_000)
	require.ErrorIs(t, err, context.Canceled)

	api.mu.Lock()
	assert.Empty(t, api.bids)
	api.mu.Unlock()
}

func TestCachedMarketplacePullBypassesCache(t *testing.T) {
	api := &fakeMarketplace{}
	cache := newFakeAuctionCache()
	m := newCachedMarketplace(api, cache, nil, discardLogger())

	snap, err := m.FetchParticipants(context.Background(), "a-1")
	require.NoError(t, err)
	assert.Equal(t, "a-1", snap.AuctionID)

	api.mu.Lock()
	assert.Equal(t, 1, api.fetches)
	api.mu.Unlock()
}
