package live

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lujiluz/koilive/internal/domain"
	"github.com/Lujiluz/koilive/internal/platform/plutokoi"
)

// fakePush is a scriptable push channel: the test registers as the server and
// feeds events straight into the engine's handlers.
type fakePush struct {
	fakeChannel

	hmu           sync.Mutex
	leaderboardHs []plutokoi.LeaderboardHandler
	bidHs         []plutokoi.BidHandler
	extensionHs   []plutokoi.ExtensionHandler
	endedHs       []plutokoi.EndedHandler
	ackHs         []plutokoi.RoomAckHandler
	errHs         []plutokoi.ChannelErrorHandler
	connHs        []plutokoi.ConnectionHandler
}

func (f *fakePush) Connect(ctx context.Context) error {
	f.setConnected(true)
	return nil
}

func (f *fakePush) Close() error {
	f.setConnected(false)
	return nil
}

func (f *fakePush) OnLeaderboard(h plutokoi.LeaderboardHandler) {
	f.hmu.Lock()
	defer f.hmu.Unlock()
	f.leaderboardHs = append(f.leaderboardHs, h)
}

func (f *fakePush) OnBid(h plutokoi.BidHandler) {
	f.hmu.Lock()
	defer f.hmu.Unlock()
	f.bidHs = append(f.bidHs, h)
}

func (f *fakePush) OnExtension(h plutokoi.ExtensionHandler) {
	f.hmu.Lock()
	defer f.hmu.Unlock()
	f.extensionHs = append(f.extensionHs, h)
}

func (f *fakePush) OnEnded(h plutokoi.EndedHandler) {
	f.hmu.Lock()
	defer f.hmu.Unlock()
	f.endedHs = append(f.endedHs, h)
}

func (f *fakePush) OnRoomAck(h plutokoi.RoomAckHandler) {
	f.hmu.Lock()
	defer f.hmu.Unlock()
	f.ackHs = append(f.ackHs, h)
}

func (f *fakePush) OnChannelError(h plutokoi.ChannelErrorHandler) {
	f.hmu.Lock()
	defer f.hmu.Unlock()
	f.errHs = append(f.errHs, h)
}

func (f *fakePush) OnConnectionChange(h plutokoi.ConnectionHandler) {
	f.hmu.Lock()
	defer f.hmu.Unlock()
	f.connHs = append(f.connHs, h)
}

func (f *fakePush) emitLeaderboard(snap domain.LeaderboardSnapshot) {
	f.hmu.Lock()
	hs := append([]plutokoi.LeaderboardHandler(nil), f.leaderboardHs...)
	f.hmu.Unlock()
	for _, h := range hs {
		h(snap)
	}
}

func (f *fakePush) emitBid(ev domain.BidEvent) {
	f.hmu.Lock()
	hs := append([]plutokoi.BidHandler(nil), f.bidHs...)
	f.hmu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

func (f *fakePush) emitEnded(ev domain.EndedEvent) {
	f.hmu.Lock()
	hs := append([]plutokoi.EndedHandler(nil), f.endedHs...)
	f.hmu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

func (f *fakePush) emitConnection(connected bool) {
	f.setConnected(connected)
	f.hmu.Lock()
	hs := append([]plutokoi.ConnectionHandler(nil), f.connHs...)
	f.hmu.Unlock()
	for _, h := range hs {
		h(connected)
	}
}

// fakeAPI serves auction detail and participant pulls, optionally gated so a
// test can hold a pull in flight.
type fakeAPI struct {
	mu        sync.Mutex
	auctions  map[string]domain.Auction
	snapshots map[string]domain.LeaderboardSnapshot
	gate      chan struct{} // when non-nil, FetchParticipants blocks on it
	bids      []int64
}

func (f *fakeAPI) GetAuction(ctx context.Context, id string) (domain.Auction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.auctions[id]
	if !ok {
		return domain.Auction{}, domain.ErrNotFound
	}
	return a, nil
}

func (f *fakeAPI) FetchParticipants(ctx context.Context, auctionID string) (domain.LeaderboardSnapshot, error) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return domain.LeaderboardSnapshot{}, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return domain.LeaderboardSnapshot{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.snapshots[auctionID]
	if !ok {
		return domain.LeaderboardSnapshot{}, domain.ErrPullFailed
	}
	return snap, nil
}

func (f *fakeAPI) SubmitBid(ctx context.Context, auctionID string, amount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bids = append(f.bids, amount)
	return nil
}

// fakeBidLog records audit writes in memory.
type fakeBidLog struct {
	mu      sync.Mutex
	entries []domain.BidLogEntry
	batches int
}

func (f *fakeBidLog) Insert(ctx context.Context, entry domain.BidLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeBidLog) InsertBatch(ctx context.Context, entries []domain.BidLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches++
	f.entries = append(f.entries, entries...)
	return nil
}

func (f *fakeBidLog) ListByAuction(ctx context.Context, auctionID string, opts domain.ListOpts) ([]domain.BidLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.BidLogEntry
	for _, e := range f.entries {
		if e.AuctionID == auctionID {
			out = append(out, e)
		}
	}
	return out, nil
}

func newEngineFixture(t *testing.T) (*Engine, *fakePush, *fakeAPI, *Signals, *clockwork.FakeClock) {
	t.Helper()

	end := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(end.Add(-time.Hour))

	push := &fakePush{}
	push.setConnected(true)

	api := &fakeAPI{
		auctions: map[string]domain.Auction{
			"a-1": {ID: "a-1", Title: "Kohaku 45cm", EndAt: end},
		},
		snapshots: map[string]domain.LeaderboardSnapshot{
			"a-1": snapshotAt("a-1", 500_000, end.Add(-2*time.Hour)),
		},
	}

	sig := NewSignals()
	t.Cleanup(sig.Close)

	eng := NewEngine(EngineConfig{
		UserID:     "u-me",
		BidTimeout: 10 * time.Second,
	}, push, api, sig, clock, testLogger())
	eng.registerHandlers()
	return eng, push, api, sig, clock
}

func TestEngineWatchJoinsAndPulls(t *testing.T) {
	eng, push, _, _, _ := newEngineFixture(t)

	require.NoError(t, eng.Watch(context.Background(), "a-1"))
	assert.Equal(t, []string{"a-1"}, push.sentJoins())

	require.Eventually(t, func() bool {
		snap, ok := eng.Snapshot("a-1")
		return ok && snap.CurrentHighestBid == 500_000
	}, time.Second, 5*time.Millisecond, "authoritative pull lands")

	remaining, ok := eng.Remaining("a-1")
	require.True(t, ok)
	assert.Equal(t, time.Hour, remaining, "base deadline set from auction detail")
}

func TestEngineDiscardsPullAfterUnwatch(t *testing.T) {
	eng, _, api, _, _ := newEngineFixture(t)

	gate := make(chan struct{})
	api.mu.Lock()
	api.gate = gate
	api.mu.Unlock()

	require.NoError(t, eng.Watch(context.Background(), "a-1"))
	eng.Unwatch(context.Background(), "a-1")
	close(gate)

	// The pull resolves after the room was left; its result must not
	// resurrect the view.
	time.Sleep(50 * time.Millisecond)
	_, ok := eng.Snapshot("a-1")
	assert.False(t, ok)
}

func TestEngineWatchPullSurvivesCallerCancel(t *testing.T) {
	eng, _, api, _, _ := newEngineFixture(t)

	gate := make(chan struct{})
	api.mu.Lock()
	api.gate = gate
	api.mu.Unlock()

	// An API-initiated watch arrives with a request-scoped context that is
	// cancelled the moment the handler returns.
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, eng.Watch(ctx, "a-1"))
	cancel()
	close(gate)

	require.Eventually(t, func() bool {
		snap, ok := eng.Snapshot("a-1")
		return ok && snap.CurrentHighestBid == 500_000
	}, time.Second, 5*time.Millisecond, "pull completes despite the dead caller context")
}

func TestEngineIgnoresEventsForUnjoinedRooms(t *testing.T) {
	eng, push, _, _, _ := newEngineFixture(t)

	push.emitBid(domain.BidEvent{
		AuctionID: "a-other",
		UserID:    "u-2",
		BidAmount: 700_000,
		BidTime:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	})

	_, ok := eng.Snapshot("a-other")
	assert.False(t, ok)
}

func TestEngineBackfillsPulledBidsIntoLog(t *testing.T) {
	eng, _, _, _, _ := newEngineFixture(t)
	bidLog := &fakeBidLog{}
	eng.WithPersistence(nil, bidLog, nil)

	require.NoError(t, eng.Watch(context.Background(), "a-1"))

	// The authoritative pull carries each participant's standing bid; those
	// never arrive as push events, so the pull must write them.
	require.Eventually(t, func() bool {
		entries, _ := bidLog.ListByAuction(context.Background(), "a-1", domain.ListOpts{})
		return len(entries) == 1
	}, time.Second, 5*time.Millisecond)

	entries, _ := bidLog.ListByAuction(context.Background(), "a-1", domain.ListOpts{})
	assert.Equal(t, "u-1", entries[0].UserID)
	assert.Equal(t, int64(500_000), entries[0].BidAmount)
	assert.Equal(t, domain.BidTypeWinning, entries[0].BidType)

	bidLog.mu.Lock()
	assert.Equal(t, 1, bidLog.batches, "standing bids land as one batch")
	bidLog.mu.Unlock()
}

func TestEngineRejoinsAfterReconnect(t *testing.T) {
	eng, push, _, _, _ := newEngineFixture(t)

	require.NoError(t, eng.Watch(context.Background(), "a-1"))
	require.Eventually(t, func() bool {
		_, ok := eng.Snapshot("a-1")
		return ok
	}, time.Second, 5*time.Millisecond)

	push.emitConnection(false)
	assert.Empty(t, eng.Status().Rooms, "memberships drop with the socket")
	assert.Empty(t, push.sentLeaves(), "no leave commands on a dead socket")

	push.emitConnection(true)
	require.Eventually(t, func() bool {
		return len(push.sentJoins()) == 2
	}, time.Second, 5*time.Millisecond, "watched auction re-joined")
	assert.True(t, eng.Status().Connected)
}

func TestEngineBidRoundTrip(t *testing.T) {
	eng, push, api, sig, _ := newEngineFixture(t)

	results, cancel := sig.Subscribe(SignalBidResult)
	defer cancel()

	require.NoError(t, eng.Watch(context.Background(), "a-1"))
	require.Eventually(t, func() bool {
		_, ok := eng.Snapshot("a-1")
		return ok
	}, time.Second, 5*time.Millisecond)

	attempt, err := eng.PlaceBid(context.Background(), "a-1", 600_000)
	require.NoError(t, err)
	assert.Equal(t, BidPending, attempt.State)

	api.mu.Lock()
	assert.Equal(t, []int64{600_000}, api.bids)
	api.mu.Unlock()

	// The server broadcasts our accepted bid; the attempt settles.
	push.emitBid(domain.BidEvent{
		AuctionID: "a-1",
		UserID:    "u-me",
		UserName:  "Me",
		BidAmount: 600_000,
		BidTime:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	})

	select {
	case s := <-results:
		resolved, ok := s.Payload.(BidAttempt)
		require.True(t, ok)
		assert.Equal(t, BidConfirmed, resolved.State)
	case <-time.After(time.Second):
		t.Fatal("no bid result signal")
	}

	snap, ok := eng.Snapshot("a-1")
	require.True(t, ok)
	assert.Equal(t, int64(600_000), snap.CurrentHighestBid)
}

func TestEngineBidBelowHighestRejectedLocally(t *testing.T) {
	eng, _, api, _, _ := newEngineFixture(t)

	require.NoError(t, eng.Watch(context.Background(), "a-1"))
	require.Eventually(t, func() bool {
		_, ok := eng.Snapshot("a-1")
		return ok
	}, time.Second, 5*time.Millisecond)

	_, err := eng.PlaceBid(context.Background(), "a-1", 400_000)
	require.ErrorIs(t, err, domain.ErrBidTooLow)

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Empty(t, api.bids)
}

func TestEngineOutbidSignal(t *testing.T) {
	eng, push, _, sig, _ := newEngineFixture(t)

	outbid, cancel := sig.Subscribe(SignalOutbid)
	defer cancel()

	require.NoError(t, eng.Watch(context.Background(), "a-1"))
	require.Eventually(t, func() bool {
		_, ok := eng.Snapshot("a-1")
		return ok
	}, time.Second, 5*time.Millisecond)

	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	// We take the lead, then someone beats us.
	push.emitBid(domain.BidEvent{AuctionID: "a-1", UserID: "u-me", BidAmount: 600_000, BidTime: at})
	push.emitBid(domain.BidEvent{AuctionID: "a-1", UserID: "u-rival", BidAmount: 650_000, BidTime: at.Add(time.Second)})

	select {
	case s := <-outbid:
		ev, ok := s.Payload.(domain.BidEvent)
		require.True(t, ok)
		assert.Equal(t, "u-rival", ev.UserID)
	case <-time.After(time.Second):
		t.Fatal("no outbid signal")
	}
}

func TestEngineEndedSettlesAndStopsCountdown(t *testing.T) {
	eng, push, _, sig, _ := newEngineFixture(t)

	endedCh, cancel := sig.Subscribe(SignalEnded)
	defer cancel()

	require.NoError(t, eng.Watch(context.Background(), "a-1"))
	require.Eventually(t, func() bool {
		_, ok := eng.Snapshot("a-1")
		return ok
	}, time.Second, 5*time.Millisecond)

	push.emitEnded(domain.EndedEvent{
		AuctionID:         "a-1",
		Winner:            &domain.Winner{UserID: "u-1", Name: "Ayu", WinningBid: 500_000},
		TotalBids:         3,
		TotalParticipants: 1,
	})

	select {
	case <-endedCh:
	case <-time.After(time.Second):
		t.Fatal("no ended signal")
	}

	_, ok := eng.Remaining("a-1")
	assert.False(t, ok, "countdown state removed on settle")

	_, err := eng.PlaceBid(context.Background(), "a-1", 900_000)
	assert.ErrorIs(t, err, domain.ErrAuctionEnded)

	// Duplicate ended notice publishes nothing.
	push.emitEnded(domain.EndedEvent{AuctionID: "a-1"})
	select {
	case <-endedCh:
		t.Fatal("duplicate ended notice surfaced")
	case <-time.After(20 * time.Millisecond):
	}
}
