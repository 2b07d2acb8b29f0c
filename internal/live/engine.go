package live

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Lujiluz/koilive/internal/domain"
	"github.com/Lujiluz/koilive/internal/platform/plutokoi"
)

// PushChannel is the persistent channel the engine drives. Satisfied by
// plutokoi.WSClient; tests plug in a fake.
type PushChannel interface {
	Connect(ctx context.Context) error
	Close() error
	Connected() bool
	SendJoin(auctionID string) error
	SendLeave(auctionID string) error
	OnLeaderboard(plutokoi.LeaderboardHandler)
	OnBid(plutokoi.BidHandler)
	OnExtension(plutokoi.ExtensionHandler)
	OnEnded(plutokoi.EndedHandler)
	OnRoomAck(plutokoi.RoomAckHandler)
	OnChannelError(plutokoi.ChannelErrorHandler)
	OnConnectionChange(plutokoi.ConnectionHandler)
}

// MarketplaceAPI is the REST collaborator slice the engine consumes: auction
// detail and the authoritative participants pull.
type MarketplaceAPI interface {
	GetAuction(ctx context.Context, id string) (domain.Auction, error)
	FetchParticipants(ctx context.Context, auctionID string) (domain.LeaderboardSnapshot, error)
}

// EngineConfig carries the engine's tunables.
type EngineConfig struct {
	// UserID is the local session's user; used to detect being outbid and
	// to reconcile own bid attempts.
	UserID string
	// Auctions are joined at startup and re-joined after every reconnect.
	Auctions []string
	// BidTimeout bounds how long a submitted bid may stay unconfirmed.
	BidTimeout time.Duration
	// PullTimeout bounds each authoritative participants pull.
	PullTimeout time.Duration
}

// Engine is the live synchronization engine. It owns the push channel, the
// room set, the reconciled per-auction views, the countdown state, and the
// bid flow, and publishes everything observable through the signal hub.
type Engine struct {
	cfg   EngineConfig
	ws    PushChannel
	api   MarketplaceAPI
	rooms *RoomTracker
	rec   *Reconciler
	cd    *Countdown
	bids  *BidFlow
	sig   *Signals
	clock clockwork.Clock

	// Optional persistence; any of these may be nil.
	snapCache   domain.SnapshotCache
	bidLog      domain.BidLogStore
	settlements domain.SettlementStore

	mu      sync.Mutex
	watched map[string]bool

	registerOnce sync.Once
	logger       *slog.Logger
}

// NewEngine wires an Engine around the given channel and REST client.
func NewEngine(
	cfg EngineConfig,
	ws PushChannel,
	api MarketplaceAPI,
	sig *Signals,
	clock clockwork.Clock,
	logger *slog.Logger,
) *Engine {
	e := &Engine{
		cfg:     cfg,
		ws:      ws,
		api:     api,
		sig:     sig,
		clock:   clock,
		watched: make(map[string]bool),
		logger:  logger.With(slog.String("component", "engine")),
	}
	e.rooms = NewRoomTracker(ws, logger)
	e.rec = NewReconciler(logger)
	e.cd = NewCountdown(clock)

	if submitter, ok := api.(Submitter); ok {
		e.bids = NewBidFlow(submitter, clock, cfg.BidTimeout, e.onBidResolved, logger)
	}
	return e
}

// WithPersistence attaches the optional cache and audit stores.
func (e *Engine) WithPersistence(snapCache domain.SnapshotCache, bidLog domain.BidLogStore, settlements domain.SettlementStore) *Engine {
	e.snapCache = snapCache
	e.bidLog = bidLog
	e.settlements = settlements
	return e
}

// Countdown exposes the engine's deadline state to the shared ticker.
func (e *Engine) Countdown() *Countdown { return e.cd }

// Run connects the channel, joins the configured auctions, and blocks until
// the context is cancelled. On the way out it leaves every room before
// closing the channel so the server holds no stale memberships.
func (e *Engine) Run(ctx context.Context) error {
	e.registerOnce.Do(e.registerHandlers)

	if err := e.connectWithRetry(ctx); err != nil {
		return err
	}

	for _, id := range e.cfg.Auctions {
		if err := e.Watch(ctx, id); err != nil {
			e.logger.Warn("initial watch failed",
				slog.String("auction_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	<-ctx.Done()

	left := e.rooms.LeaveAll()
	e.logger.Info("engine shutting down", slog.Int("rooms_left", len(left)))
	if err := e.ws.Close(); err != nil {
		e.logger.Warn("channel close failed", slog.String("error", err.Error()))
	}
	return ctx.Err()
}

// connectWithRetry dials the channel with a bounded backoff budget.
func (e *Engine) connectWithRetry(ctx context.Context) error {
	const attempts = 5
	delay := time.Second

	var err error
	for i := 0; i < attempts; i++ {
		if err = e.ws.Connect(ctx); err == nil {
			return nil
		}
		e.logger.Warn("connect failed",
			slog.Int("attempt", i+1),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.clock.After(delay):
		}
		if delay *= 2; delay > 30*time.Second {
			delay = 30 * time.Second
		}
	}
	return err
}

// Watch subscribes to an auction: joins its room and kicks off the
// authoritative pull. A JoinNotReady error keeps the auction on the desired
// set; it is re-joined automatically on the next connected transition.
func (e *Engine) Watch(ctx context.Context, auctionID string) error {
	e.mu.Lock()
	e.watched[auctionID] = true
	e.mu.Unlock()

	epoch, err := e.rooms.Join(auctionID)
	if err != nil {
		return err
	}

	// The pull must outlive the caller: Watch is invoked from request
	// handlers whose context dies as soon as the response is written, and
	// cancelling the authoritative pull would leave the room joined but
	// unreconciled. PullTimeout still bounds the work; the epoch check
	// discards results for rooms left in the meantime.
	go e.syncRoom(context.WithoutCancel(ctx), auctionID, epoch)
	return nil
}

// Unwatch leaves the auction's room and drops all local state for it.
func (e *Engine) Unwatch(ctx context.Context, auctionID string) {
	e.mu.Lock()
	delete(e.watched, auctionID)
	e.mu.Unlock()

	e.rooms.Leave(auctionID)
	e.rec.Drop(auctionID)
	e.cd.Remove(auctionID)
	if e.snapCache != nil {
		if err := e.snapCache.Invalidate(ctx, auctionID); err != nil {
			e.logger.Debug("snapshot cache invalidate failed",
				slog.String("auction_id", auctionID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// PlaceBid submits a bid against the auction's currently known highest bid.
func (e *Engine) PlaceBid(ctx context.Context, auctionID string, amount int64) (BidAttempt, error) {
	if e.bids == nil {
		return BidAttempt{}, domain.ErrBidRejected
	}
	if e.rec.Ended(auctionID) {
		return BidAttempt{}, domain.ErrAuctionEnded
	}

	var currentHighest int64
	if snap, ok := e.rec.Snapshot(auctionID); ok {
		currentHighest = snap.CurrentHighestBid
	}
	return e.bids.Submit(ctx, auctionID, e.cfg.UserID, amount, currentHighest)
}

// Snapshot returns the current reconciled view for an auction.
func (e *Engine) Snapshot(auctionID string) (domain.LeaderboardSnapshot, bool) {
	return e.rec.Snapshot(auctionID)
}

// Remaining returns the countdown for an auction.
func (e *Engine) Remaining(auctionID string) (time.Duration, bool) {
	return e.cd.Remaining(auctionID)
}

// Status summarizes the engine for the operator API.
type Status struct {
	Connected bool     `json:"connected"`
	Rooms     []string `json:"rooms"`
	Tracked   []string `json:"tracked"`
}

// Status reports connectivity and room membership.
func (e *Engine) Status() Status {
	return Status{
		Connected: e.ws.Connected(),
		Rooms:     e.rooms.Rooms(),
		Tracked:   e.rec.Tracked(),
	}
}

// ---------------------------------------------------------------------------
// Channel event handlers
// ---------------------------------------------------------------------------

func (e *Engine) registerHandlers() {
	e.ws.OnLeaderboard(e.onLeaderboard)
	e.ws.OnBid(e.onBid)
	e.ws.OnExtension(e.onExtension)
	e.ws.OnEnded(e.onEnded)
	e.ws.OnRoomAck(e.onRoomAck)
	e.ws.OnChannelError(e.onChannelError)
	e.ws.OnConnectionChange(e.onConnectionChange)
}

// syncRoom runs the room-entry choreography: auction detail for the base
// deadline, then the authoritative participants pull. Results are discarded
// when the join epoch is no longer current (the room was left, or re-joined,
// while the pull was in flight).
func (e *Engine) syncRoom(ctx context.Context, auctionID string, epoch uint64) {
	pullCtx := ctx
	if e.cfg.PullTimeout > 0 {
		var cancel context.CancelFunc
		pullCtx, cancel = context.WithTimeout(ctx, e.cfg.PullTimeout)
		defer cancel()
	}

	if auction, err := e.api.GetAuction(pullCtx, auctionID); err != nil {
		e.logger.Warn("auction detail fetch failed",
			slog.String("auction_id", auctionID),
			slog.String("error", err.Error()),
		)
	} else if e.rooms.Current(auctionID, epoch) {
		e.cd.SetBase(auctionID, auction.EndAt)
	}

	snap, err := e.api.FetchParticipants(pullCtx, auctionID)
	if err != nil {
		e.logger.Warn("participants pull failed",
			slog.String("auction_id", auctionID),
			slog.String("error", err.Error()),
		)
		e.sig.Publish(Signal{
			Type:      SignalPullFailed,
			AuctionID: auctionID,
			At:        e.clock.Now(),
			Payload:   err.Error(),
		})
		return
	}

	if !e.rooms.Current(auctionID, epoch) {
		e.logger.Debug("discarding pull for left room",
			slog.String("auction_id", auctionID),
		)
		return
	}

	if err := e.rec.ApplySnapshot(snap); err != nil {
		if !errors.Is(err, domain.ErrStaleSnapshot) && !errors.Is(err, domain.ErrAuctionEnded) {
			e.logger.Warn("pull apply failed",
				slog.String("auction_id", auctionID),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	e.backfillBids(snap)
	e.cacheSnapshot(ctx, auctionID)
}

func (e *Engine) onLeaderboard(snap domain.LeaderboardSnapshot) {
	if !e.rooms.Joined(snap.AuctionID) {
		return
	}
	if err := e.rec.ApplySnapshot(snap); err != nil {
		// Stale and post-ended snapshots are invariant-preserving no-ops.
		return
	}
	e.cacheSnapshot(context.Background(), snap.AuctionID)
}

func (e *Engine) onBid(ev domain.BidEvent) {
	if !e.rooms.Joined(ev.AuctionID) {
		return
	}

	var wasLeader bool
	if snap, ok := e.rec.Snapshot(ev.AuctionID); ok && snap.CurrentWinner != nil {
		wasLeader = e.cfg.UserID != "" && snap.CurrentWinner.UserID == e.cfg.UserID
	}

	changed := e.rec.ApplyBid(ev)

	if e.bids != nil {
		e.bids.Confirm(ev)
	}
	if !changed {
		return
	}

	e.sig.Publish(Signal{
		Type:      SignalNewBid,
		AuctionID: ev.AuctionID,
		At:        e.clock.Now(),
		ShowFor:   NewBidDisplayDuration,
		Payload:   ev,
	})

	if wasLeader && ev.UserID != e.cfg.UserID {
		e.sig.Publish(Signal{
			Type:      SignalOutbid,
			AuctionID: ev.AuctionID,
			At:        e.clock.Now(),
			Payload:   ev,
		})
	}

	e.recordBid(ev)
	e.cacheSnapshot(context.Background(), ev.AuctionID)
}

func (e *Engine) onExtension(ev domain.ExtensionEvent) {
	if !e.rooms.Joined(ev.AuctionID) || e.rec.Ended(ev.AuctionID) {
		return
	}
	if !e.cd.ApplyExtension(ev) {
		return
	}
	e.sig.Publish(Signal{
		Type:      SignalExtension,
		AuctionID: ev.AuctionID,
		At:        e.clock.Now(),
		ShowFor:   ExtensionDisplayDuration,
		Payload:   ev,
	})
}

func (e *Engine) onEnded(ev domain.EndedEvent) {
	if !e.rooms.Joined(ev.AuctionID) {
		return
	}
	if !e.rec.ApplyEnded(ev) {
		return
	}

	e.cd.Remove(ev.AuctionID)
	e.sig.Publish(Signal{
		Type:      SignalEnded,
		AuctionID: ev.AuctionID,
		At:        e.clock.Now(),
		Payload:   ev,
	})

	e.recordSettlement(ev)
	e.cacheSnapshot(context.Background(), ev.AuctionID)
}

func (e *Engine) onRoomAck(event string, ack domain.RoomAck) {
	// Diagnostic only; membership never depends on acks.
	e.logger.Debug("room ack",
		slog.String("event", event),
		slog.String("auction_id", ack.AuctionID),
	)
}

func (e *Engine) onChannelError(ev domain.ChannelError) {
	e.logger.Warn("server error frame",
		slog.String("message", ev.Message),
		slog.String("code", ev.Code),
	)
}

func (e *Engine) onConnectionChange(connected bool) {
	e.sig.Publish(Signal{
		Type:    SignalConnection,
		At:      e.clock.Now(),
		Payload: connected,
	})

	if !connected {
		// Server-side memberships died with the socket; drop them locally
		// without sending leaves and rebuild on reconnect.
		e.rooms.Reset()
		return
	}

	e.mu.Lock()
	desired := make([]string, 0, len(e.watched))
	for id := range e.watched {
		desired = append(desired, id)
	}
	e.mu.Unlock()

	for _, id := range desired {
		if err := e.Watch(context.Background(), id); err != nil {
			e.logger.Warn("rejoin failed",
				slog.String("auction_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (e *Engine) onBidResolved(attempt BidAttempt) {
	e.sig.Publish(Signal{
		Type:      SignalBidResult,
		AuctionID: attempt.AuctionID,
		At:        e.clock.Now(),
		Payload:   attempt,
	})
}

// ---------------------------------------------------------------------------
// Persistence side effects
// ---------------------------------------------------------------------------

func (e *Engine) cacheSnapshot(ctx context.Context, auctionID string) {
	if e.snapCache == nil {
		return
	}
	snap, ok := e.rec.Snapshot(auctionID)
	if !ok {
		return
	}
	if err := e.snapCache.Set(ctx, snap); err != nil {
		e.logger.Debug("snapshot cache set failed",
			slog.String("auction_id", auctionID),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) recordBid(ev domain.BidEvent) {
	if e.bidLog == nil {
		return
	}
	entry := domain.BidLogEntry{
		AuctionID: ev.AuctionID,
		UserID:    ev.UserID,
		UserName:  ev.UserName,
		BidAmount: ev.BidAmount,
		BidType:   ev.BidType,
		BidTime:   ev.BidTime,
		SeenAt:    e.clock.Now(),
	}
	if err := e.bidLog.Insert(context.Background(), entry); err != nil {
		e.logger.Warn("bid log insert failed",
			slog.String("auction_id", ev.AuctionID),
			slog.String("error", err.Error()),
		)
	}
}

// backfillBids records each participant's standing bid from an authoritative
// pull. Bids placed before we joined, or while the channel was down, reach
// the audit log only through this path; the idempotent batch insert makes
// overlap with live-recorded events harmless.
func (e *Engine) backfillBids(snap domain.LeaderboardSnapshot) {
	if e.bidLog == nil {
		return
	}

	seen := e.clock.Now()
	entries := make([]domain.BidLogEntry, 0, len(snap.Participants))
	for _, p := range snap.Participants {
		if p.HighestBid <= 0 {
			continue
		}
		bidType := domain.BidTypeOutbid
		if p.Rank == 1 {
			bidType = domain.BidTypeWinning
		}
		entries = append(entries, domain.BidLogEntry{
			AuctionID: snap.AuctionID,
			UserID:    p.UserID,
			UserName:  p.Name,
			BidAmount: p.HighestBid,
			BidType:   bidType,
			BidTime:   p.LatestBidTime,
			SeenAt:    seen,
		})
	}
	if len(entries) == 0 {
		return
	}

	if err := e.bidLog.InsertBatch(context.Background(), entries); err != nil {
		e.logger.Warn("bid log backfill failed",
			slog.String("auction_id", snap.AuctionID),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) recordSettlement(ev domain.EndedEvent) {
	if e.settlements == nil {
		return
	}
	s := domain.Settlement{
		AuctionID:         ev.AuctionID,
		TotalBids:         ev.TotalBids,
		TotalParticipants: ev.TotalParticipants,
		EndedAt:           e.clock.Now(),
	}
	if ev.Winner != nil {
		s.WinnerID = ev.Winner.UserID
		s.WinnerName = ev.Winner.Name
		s.WinningBid = ev.Winner.WinningBid
	}
	if err := e.settlements.Insert(context.Background(), s); err != nil {
		e.logger.Warn("settlement insert failed",
			slog.String("auction_id", ev.AuctionID),
			slog.String("error", err.Error()),
		)
	}
}
