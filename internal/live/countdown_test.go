package live

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lujiluz/koilive/internal/domain"
)

func TestCountdownRemainingFromServerTimestamps(t *testing.T) {
	end := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(end.Add(-90 * time.Second))

	cd := NewCountdown(clock)
	cd.SetBase("a-1", end)

	remaining, ok := cd.Remaining("a-1")
	require.True(t, ok)
	assert.Equal(t, 90*time.Second, remaining)
	assert.False(t, cd.Expired("a-1"))
}

func TestCountdownClampsAtZeroAfterDeadline(t *testing.T) {
	end := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(end.Add(5 * time.Second))

	cd := NewCountdown(clock)
	cd.SetBase("a-1", end)

	remaining, ok := cd.Remaining("a-1")
	require.True(t, ok)
	assert.Equal(t, time.Duration(0), remaining, "remaining never goes negative")
	assert.True(t, cd.Expired("a-1"))
}

func TestCountdownExtensionAdoptedOnlyWhenLater(t *testing.T) {
	end := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(end.Add(-time.Minute))

	cd := NewCountdown(clock)
	cd.SetBase("a-1", end)

	// Push the deadline to 00:10.
	adopted := cd.ApplyExtension(domain.ExtensionEvent{
		AuctionID:  "a-1",
		NewEndTime: end.Add(10 * time.Minute),
	})
	require.True(t, adopted)

	deadline, ok := cd.Deadline("a-1")
	require.True(t, ok)
	assert.Equal(t, end.Add(10*time.Minute), deadline)

	// A late-arriving extension to 00:05 is older than the effective
	// deadline and must be ignored.
	adopted = cd.ApplyExtension(domain.ExtensionEvent{
		AuctionID:  "a-1",
		NewEndTime: end.Add(5 * time.Minute),
	})
	assert.False(t, adopted)

	deadline, ok = cd.Deadline("a-1")
	require.True(t, ok)
	assert.Equal(t, end.Add(10*time.Minute), deadline)

	// Equal end time is ignored too.
	assert.False(t, cd.ApplyExtension(domain.ExtensionEvent{
		AuctionID:  "a-1",
		NewEndTime: end.Add(10 * time.Minute),
	}))
}

func TestCountdownExtensionSurvivesBaseRefresh(t *testing.T) {
	end := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(end.Add(-time.Minute))

	cd := NewCountdown(clock)
	cd.SetBase("a-1", end)
	require.True(t, cd.ApplyExtension(domain.ExtensionEvent{
		AuctionID:  "a-1",
		NewEndTime: end.Add(10 * time.Minute),
	}))

	// A re-pull re-reports the original base; the adopted extension wins.
	cd.SetBase("a-1", end)

	deadline, ok := cd.Deadline("a-1")
	require.True(t, ok)
	assert.Equal(t, end.Add(10*time.Minute), deadline)
}

func TestCountdownUnknownAuction(t *testing.T) {
	cd := NewCountdown(clockwork.NewFakeClock())

	_, ok := cd.Remaining("missing")
	assert.False(t, ok)
	assert.False(t, cd.Expired("missing"))
}

func TestCountdownNoDriftAcrossRepeatedReads(t *testing.T) {
	end := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(end.Add(-time.Hour))

	cd := NewCountdown(clock)
	cd.SetBase("a-1", end)

	// Remaining is recomputed from the deadline each read, so many reads at
	// the same instant agree exactly.
	for i := 0; i < 1000; i++ {
		remaining, ok := cd.Remaining("a-1")
		require.True(t, ok)
		require.Equal(t, time.Hour, remaining)
	}

	clock.Advance(59 * time.Minute)
	remaining, ok := cd.Remaining("a-1")
	require.True(t, ok)
	assert.Equal(t, time.Minute, remaining)
}

func TestTickerPublishesOneSignalPerTrackedAuction(t *testing.T) {
	end := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(end.Add(-10 * time.Second))

	cd := NewCountdown(clock)
	cd.SetBase("a-1", end)
	cd.SetBase("a-2", end.Add(time.Minute))

	sig := NewSignals()
	defer sig.Close()
	ch, cancel := sig.Subscribe(SignalCountdown)
	defer cancel()

	ticker := NewTicker(cd, sig, clock, time.Second)
	ticker.publishOnce()

	got := map[string]CountdownTick{}
	for i := 0; i < 2; i++ {
		select {
		case s := <-ch:
			tick, ok := s.Payload.(CountdownTick)
			require.True(t, ok)
			got[tick.AuctionID] = tick
		default:
			t.Fatal("expected a countdown signal per tracked auction")
		}
	}

	require.Len(t, got, 2)
	assert.Equal(t, 10, got["a-1"].RemainingSec)
	assert.False(t, got["a-1"].Expired)
	assert.Equal(t, 70, got["a-2"].RemainingSec)
}

func TestTickerStopsOnContextCancel(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ticker := NewTicker(NewCountdown(clock), NewSignals(), clock, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ticker.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("ticker did not stop")
	}
}
