package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Lujiluz/koilive/internal/domain"
	"github.com/Lujiluz/koilive/internal/server"
	"github.com/Lujiluz/koilive/internal/server/handler"
)

// WatchMode runs the live engine without persistence: push channel, room
// membership, reconciliation, countdown, notifications, and the operator
// server when enabled.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting watch mode",
		slog.Any("auctions", a.cfg.Watch.Auctions),
	)

	g, ctx := errgroup.WithContext(ctx)
	a.startLive(ctx, g, deps)
	return g.Wait()
}

// RecordMode runs the live engine with the audit stores attached, so every
// observed bid and settlement lands in Postgres.
func (a *App) RecordMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting record mode",
		slog.Any("auctions", a.cfg.Watch.Auctions),
		slog.Bool("redis", deps.SnapshotCache != nil),
	)

	g, ctx := errgroup.WithContext(ctx)
	a.startLive(ctx, g, deps)
	return g.Wait()
}

// ArchiveMode runs only the cold-storage sweep: settled auction history older
// than the retention window is bundled into object storage and trimmed from
// Postgres. No marketplace session is held.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode",
		slog.Int("retention_days", a.cfg.Archive.RetentionDays),
	)
	return a.runArchiveSweep(ctx, deps)
}

// FullMode runs everything: the live engine with persistence plus the
// periodic archive sweep when it is enabled and wired.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode",
		slog.Any("auctions", a.cfg.Watch.Auctions),
	)

	g, ctx := errgroup.WithContext(ctx)
	a.startLive(ctx, g, deps)

	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		g.Go(func() error {
			return a.runArchiveSweep(ctx, deps)
		})
	}

	return g.Wait()
}

// startLive launches the engine, countdown ticker, notification bridge,
// dashboard hub, and operator server on the group.
func (a *App) startLive(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error {
		return deps.Engine.Run(ctx)
	})
	g.Go(func() error {
		return deps.Ticker.Run(ctx)
	})
	g.Go(func() error {
		return deps.Bridge.Run(ctx)
	})
	if deps.WSHub != nil {
		g.Go(func() error {
			return deps.WSHub.Run(ctx)
		})
	}
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}
}

// startHTTPServer builds the handler set, starts the operator server, and
// arranges a graceful shutdown when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(a.logger),
		Status:   handler.NewStatusHandler(deps.Engine, a.logger),
		Auctions: handler.NewAuctionHandler(deps.Engine, deps.SnapshotCache, deps.BidLog, deps.Settlements, deps.BlobReader, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:          a.cfg.Server.Port,
		CORSOrigins:   a.cfg.Server.CORSOrigins,
		APIKey:        a.cfg.Server.APIKey,
		BidRateLimit:  a.cfg.Server.BidRateLimit,
		BidRateWindow: a.cfg.Server.BidRateWindow.Duration,
	}, handlers, deps.WSHub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown failed", slog.String("error", err.Error()))
		}
		return ctx.Err()
	})
}

// runArchiveSweep archives settled auctions older than the retention window,
// immediately on startup and then on every configured interval.
func (a *App) runArchiveSweep(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return fmt.Errorf("app: archiver not wired (postgres and s3 must both be enabled)")
	}

	sweep := func() {
		// When Redis is wired, only one replica sweeps at a time.
		if deps.Locks != nil {
			release, err := deps.Locks.Acquire(ctx, "archive_sweep", a.cfg.Archive.Interval.Duration)
			if err != nil {
				if errors.Is(err, domain.ErrLockHeld) {
					a.logger.Info("archive sweep skipped, another replica holds the lock")
				} else {
					a.logger.Error("archive sweep lock failed", slog.String("error", err.Error()))
				}
				return
			}
			defer release()
		}

		cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.Archive.RetentionDays)
		archived, err := deps.Archiver.ArchiveEndedBefore(ctx, cutoff)
		if err != nil {
			a.logger.Error("archive sweep failed",
				slog.Time("cutoff", cutoff),
				slog.String("error", err.Error()),
			)
			return
		}
		a.logger.Info("archive sweep complete",
			slog.Time("cutoff", cutoff),
			slog.Int64("auctions_archived", archived),
		)
	}

	sweep()

	ticker := time.NewTicker(a.cfg.Archive.Interval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			sweep()
		}
	}
}
