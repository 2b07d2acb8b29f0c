package live

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lujiluz/koilive/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func snapshotAt(auctionID string, highest int64, asOf time.Time) domain.LeaderboardSnapshot {
	winner := domain.Participant{
		UserID:        "u-1",
		Name:          "Ayu",
		HighestBid:    highest,
		LatestBidTime: asOf.Add(-time.Minute),
		Rank:          1,
	}
	return domain.LeaderboardSnapshot{
		AuctionID:         auctionID,
		Participants:      []domain.Participant{winner},
		CurrentHighestBid: highest,
		CurrentWinner:     &winner,
		TotalParticipants: 1,
		TotalBids:         3,
		AsOf:              asOf,
	}
}

func TestReconcilerRejectsStaleSnapshot(t *testing.T) {
	r := NewReconciler(testLogger())
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, r.ApplySnapshot(snapshotAt("a-1", 500_000, base)))

	err := r.ApplySnapshot(snapshotAt("a-1", 900_000, base.Add(-time.Second)))
	require.ErrorIs(t, err, domain.ErrStaleSnapshot)

	snap, ok := r.Snapshot("a-1")
	require.True(t, ok)
	assert.Equal(t, int64(500_000), snap.CurrentHighestBid)
}

func TestReconcilerEqualAsOfReplaces(t *testing.T) {
	r := NewReconciler(testLogger())
	asOf := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, r.ApplySnapshot(snapshotAt("a-1", 500_000, asOf)))
	require.NoError(t, r.ApplySnapshot(snapshotAt("a-1", 550_000, asOf)))

	snap, ok := r.Snapshot("a-1")
	require.True(t, ok)
	assert.Equal(t, int64(550_000), snap.CurrentHighestBid)
}

func TestReconcilerDuplicateBidAbsorbed(t *testing.T) {
	r := NewReconciler(testLogger())
	asOf := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, r.ApplySnapshot(snapshotAt("a-1", 500_000, asOf)))

	ev := domain.BidEvent{
		AuctionID: "a-1",
		UserID:    "u-2",
		UserName:  "Budi",
		BidAmount: 600_000,
		BidTime:   asOf.Add(time.Second),
	}

	assert.True(t, r.ApplyBid(ev), "first delivery should change the view")
	assert.False(t, r.ApplyBid(ev), "redelivery must be a no-op")

	snap, ok := r.Snapshot("a-1")
	require.True(t, ok)
	assert.Equal(t, int64(600_000), snap.CurrentHighestBid)
	assert.Equal(t, 4, snap.TotalBids, "duplicate must not double-count")
	require.NotNil(t, snap.CurrentWinner)
	assert.Equal(t, "u-2", snap.CurrentWinner.UserID)
}

func TestReconcilerHighestBidNeverDecreases(t *testing.T) {
	r := NewReconciler(testLogger())
	asOf := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, r.ApplySnapshot(snapshotAt("a-1", 500_000, asOf)))

	low := domain.BidEvent{
		AuctionID: "a-1",
		UserID:    "u-3",
		UserName:  "Citra",
		BidAmount: 400_000,
		BidTime:   asOf.Add(2 * time.Second),
	}
	assert.False(t, r.ApplyBid(low), "lower racing bid must not surface")

	snap, ok := r.Snapshot("a-1")
	require.True(t, ok)
	assert.Equal(t, int64(500_000), snap.CurrentHighestBid)
	require.NotNil(t, snap.CurrentWinner)
	assert.Equal(t, "u-1", snap.CurrentWinner.UserID)
	assert.Equal(t, 4, snap.TotalBids, "lower bid still counts toward total")
}

func TestReconcilerBidBeforePullSeedsView(t *testing.T) {
	r := NewReconciler(testLogger())

	ev := domain.BidEvent{
		AuctionID: "a-9",
		UserID:    "u-4",
		UserName:  "Dewi",
		BidAmount: 750_000,
		BidTime:   time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	require.True(t, r.ApplyBid(ev))

	snap, ok := r.Snapshot("a-9")
	require.True(t, ok)
	assert.Equal(t, int64(750_000), snap.CurrentHighestBid)
	assert.Equal(t, 1, snap.TotalBids)
}

func TestReconcilerEndedIsTerminalAndIdempotent(t *testing.T) {
	r := NewReconciler(testLogger())
	asOf := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, r.ApplySnapshot(snapshotAt("a-1", 500_000, asOf)))

	ended := domain.EndedEvent{
		AuctionID:         "a-1",
		Winner:            &domain.Winner{UserID: "u-1", Name: "Ayu", WinningBid: 500_000},
		TotalBids:         7,
		TotalParticipants: 3,
	}
	require.True(t, r.ApplyEnded(ended))
	assert.False(t, r.ApplyEnded(ended), "second ended notice is a no-op")
	assert.True(t, r.Ended("a-1"))

	// Post-ended events are ignored.
	late := domain.BidEvent{
		AuctionID: "a-1",
		UserID:    "u-5",
		BidAmount: 999_000,
		BidTime:   asOf.Add(time.Minute),
	}
	assert.False(t, r.ApplyBid(late))
	assert.ErrorIs(t, r.ApplySnapshot(snapshotAt("a-1", 999_000, asOf.Add(time.Hour))), domain.ErrAuctionEnded)

	snap, ok := r.Snapshot("a-1")
	require.True(t, ok)
	assert.Equal(t, int64(500_000), snap.CurrentHighestBid)
	assert.Equal(t, 7, snap.TotalBids)
}

func TestReconcilerSnapshotIsACopy(t *testing.T) {
	r := NewReconciler(testLogger())
	asOf := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, r.ApplySnapshot(snapshotAt("a-1", 500_000, asOf)))

	snap, ok := r.Snapshot("a-1")
	require.True(t, ok)
	snap.Participants[0].HighestBid = 1
	snap.CurrentHighestBid = 1

	again, ok := r.Snapshot("a-1")
	require.True(t, ok)
	assert.Equal(t, int64(500_000), again.CurrentHighestBid)
	assert.Equal(t, int64(500_000), again.Participants[0].HighestBid)
}

func TestReconcilerDrop(t *testing.T) {
	r := NewReconciler(testLogger())
	asOf := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, r.ApplySnapshot(snapshotAt("a-1", 500_000, asOf)))

	r.Drop("a-1")

	_, ok := r.Snapshot("a-1")
	assert.False(t, ok)
	assert.Empty(t, r.Tracked())
}
