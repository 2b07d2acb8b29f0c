package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Lujiluz/koilive/internal/domain"
	"github.com/Lujiluz/koilive/internal/live"
	"github.com/Lujiluz/koilive/internal/platform/plutokoi"
)

// bidSubmitKey is the rate limiter key shared by every outbound bid, keeping
// the engine's REST submissions under the marketplace's tolerance.
const bidSubmitKey = "marketplace:bid_submit"

// marketplaceClient is the REST surface the decorator wraps.
type marketplaceClient interface {
	live.MarketplaceAPI
	live.Submitter
}

// cachedMarketplace decorates the REST client with the Redis auction cache
// and the outbound bid rate limiter. Successful lookups refresh the cache;
// when the marketplace is unreachable the last cached detail answers instead,
// so a flapping API does not stall room pulls.
type cachedMarketplace struct {
	api     marketplaceClient
	cache   domain.AuctionCache // may be nil
	limiter domain.RateLimiter  // may be nil
	logger  *slog.Logger
}

func newCachedMarketplace(api marketplaceClient, cache domain.AuctionCache, limiter domain.RateLimiter, logger *slog.Logger) *cachedMarketplace {
	return &cachedMarketplace{
		api:     api,
		cache:   cache,
		limiter: limiter,
		logger:  logger.With(slog.String("component", "marketplace_cache")),
	}
}

// GetAuction fetches auction detail from the marketplace, falling back to the
// cache on failure.
func (m *cachedMarketplace) GetAuction(ctx context.Context, id string) (domain.Auction, error) {
	auction, err := m.api.GetAuction(ctx, id)
	if err == nil {
		if m.cache != nil {
			if cerr := m.cache.Set(ctx, auction); cerr != nil {
				m.logger.Warn("auction cache write failed",
					slog.String("auction_id", id),
					slog.String("error", cerr.Error()),
				)
			}
		}
		return auction, nil
	}

	if m.cache != nil {
		cached, cerr := m.cache.Get(ctx, id)
		if cerr == nil {
			m.logger.Warn("serving auction detail from cache",
				slog.String("auction_id", id),
				slog.String("error", err.Error()),
			)
			return cached, nil
		}
	}

	return domain.Auction{}, err
}

// FetchParticipants always goes to the marketplace; the authoritative pull
// must never be answered from a cache.
func (m *cachedMarketplace) FetchParticipants(ctx context.Context, auctionID string) (domain.LeaderboardSnapshot, error) {
	return m.api.FetchParticipants(ctx, auctionID)
}

// SubmitBid throttles the submission through the shared limiter, then
// delegates to the REST client. The bid is still pending in the flow while we
// wait, so the timeout keeps bounding the whole round trip.
func (m *cachedMarketplace) SubmitBid(ctx context.Context, auctionID string, amount int64) error {
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx, bidSubmitKey); err != nil {
			return fmt.Errorf("app: bid rate limit: %w", err)
		}
	}
	return m.api.SubmitBid(ctx, auctionID, amount)
}

var (
	_ live.MarketplaceAPI = (*cachedMarketplace)(nil)
	_ live.Submitter      = (*cachedMarketplace)(nil)
	_ marketplaceClient   = (*plutokoi.APIClient)(nil)
)
