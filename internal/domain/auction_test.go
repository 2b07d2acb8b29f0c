package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCombineDateTime(t *testing.T) {
	date := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		timeOfDay string
		want      time.Time
		wantErr   bool
	}{
		{
			name:      "bare hour minute",
			timeOfDay: "18:30",
			want:      time.Date(2025, 1, 1, 18, 30, 0, 0, time.UTC),
		},
		{
			name:      "bare hour minute second",
			timeOfDay: "18:30:45",
			want:      time.Date(2025, 1, 1, 18, 30, 45, 0, time.UTC),
		},
		{
			name:      "full timestamp overrides date",
			timeOfDay: "2025-02-03T10:00:00Z",
			want:      time.Date(2025, 2, 3, 10, 0, 0, 0, time.UTC),
		},
		{
			name:      "empty falls back to date",
			timeOfDay: "",
			want:      date,
		},
		{
			name:      "garbage",
			timeOfDay: "half past six",
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CombineDateTime(date, tt.timeOfDay)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "got %v want %v", got, tt.want)
		})
	}
}

func TestLifecycle(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	window := 10 * time.Minute

	tests := []struct {
		name string
		now  time.Time
		want LifecycleState
	}{
		{"before start", start.Add(-time.Hour), LifecycleUpcoming},
		{"mid auction", start.Add(12 * time.Hour), LifecycleActive},
		{"inside ending window", end.Add(-5 * time.Minute), LifecycleEndingSoon},
		{"exactly at window edge", end.Add(-window), LifecycleEndingSoon},
		{"at deadline", end, LifecycleCompleted},
		{"past deadline", end.Add(5 * time.Second), LifecycleCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Lifecycle(start, end, tt.now, window))
		})
	}
}

func TestLegacyAuctionNormalize(t *testing.T) {
	legacy := LegacyAuction{
		Code:         "KOI-0042",
		Title:        "Kohaku 62cm",
		Variety:      "Kohaku",
		StartPrice:   500_000,
		BidIncrement: 50_000,
		StartDate:    time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC),
		EndDate:      time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC),
		EndTime:      "21:00",
	}

	got, err := legacy.Normalize()
	require.NoError(t, err)

	assert.Equal(t, "KOI-0042", got.ID)
	assert.Equal(t, SourceLegacy, got.Source)
	assert.Equal(t, time.Date(2025, 1, 3, 21, 0, 0, 0, time.UTC), got.EndAt)
	// A legacy auction with no recorded bids opens at its start price.
	assert.Equal(t, int64(500_000), got.CurrentBid)
}

func TestLegacyAuctionNormalizeBadEndTime(t *testing.T) {
	legacy := LegacyAuction{Code: "KOI-0001", EndTime: "whenever"}
	_, err := legacy.Normalize()
	require.Error(t, err)
}

func TestBackendAuctionNormalize(t *testing.T) {
	end := time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)
	backend := BackendAuction{
		ID:           "a1b2",
		Title:        "Showa 55cm",
		KoiVariety:   "Showa",
		Breeder:      "Dainichi",
		StartPrice:   1_000_000,
		BidIncrement: 100_000,
		StartAt:      end.Add(-48 * time.Hour),
		EndAt:        end,
		CurrentBid:   1_200_000,
	}

	got := backend.Normalize()
	assert.Equal(t, SourceBackend, got.Source)
	assert.Equal(t, end, got.EndAt)
	assert.Equal(t, int64(1_200_000), got.CurrentBid)
}
