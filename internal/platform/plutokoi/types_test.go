package plutokoi

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lujiluz/koilive/internal/domain"
)

func TestLeaderboardPushReRanksOnClient(t *testing.T) {
	raw := []byte(`{
		"event": "leaderboard_update",
		"data": {
			"auctionId": "a-1",
			"participants": [
				{"userId": "u-low", "name": "Low", "highestBid": 400000, "latestBidTime": "2025-01-01T11:00:00Z", "rank": 1},
				{"userId": "u-high", "name": "High", "highestBid": 600000, "latestBidTime": "2025-01-01T11:05:00Z", "rank": 2}
			],
			"currentHighestBid": 600000,
			"totalParticipants": 2,
			"totalBids": 5,
			"timestamp": "2025-01-01T12:00:00Z"
		}
	}`)

	var env WSEnvelope
	require.NoError(t, json.Unmarshal(raw, &env))
	require.Equal(t, EventLeaderboardUpdate, env.Event)

	var lb WSLeaderboard
	require.NoError(t, json.Unmarshal(env.Data, &lb))
	snap := lb.ToDomainSnapshot()

	// Wire order claimed the low bidder was rank 1; the client re-ranks.
	require.Len(t, snap.Participants, 2)
	assert.Equal(t, "u-high", snap.Participants[0].UserID)
	assert.Equal(t, 1, snap.Participants[0].Rank)
	assert.Equal(t, "u-low", snap.Participants[1].UserID)
	assert.Equal(t, 2, snap.Participants[1].Rank)
	assert.NoError(t, snap.Validate())
}

func TestLeaderboardPushDerivesWinnerWhenOmitted(t *testing.T) {
	lb := WSLeaderboard{
		AuctionID: "a-1",
		Participants: []WSParticipant{
			{UserID: "u-1", Name: "Ayu", HighestBid: 500_000, LatestBidTime: time.Date(2025, 1, 1, 11, 0, 0, 0, time.UTC)},
		},
		CurrentHighestBid: 500_000,
		TotalParticipants: 1,
		TotalBids:         2,
		Timestamp:         time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
	}

	snap := lb.ToDomainSnapshot()
	require.NotNil(t, snap.CurrentWinner)
	assert.Equal(t, "u-1", snap.CurrentWinner.UserID)
}

func TestBidPushToDomain(t *testing.T) {
	raw := []byte(`{
		"auctionId": "a-1",
		"userId": "u-2",
		"userName": "Budi",
		"bidAmount": 750000,
		"bidType": "outbid",
		"bidTime": "2025-01-01T12:00:00Z",
		"isNewLeader": true
	}`)

	var bid WSBid
	require.NoError(t, json.Unmarshal(raw, &bid))
	ev := bid.ToDomain()

	assert.Equal(t, "a-1", ev.AuctionID)
	assert.Equal(t, domain.BidTypeOutbid, ev.BidType)
	assert.Equal(t, int64(750_000), ev.BidAmount)
	assert.True(t, ev.IsNewLeader)
}

func TestEndedPushWithoutWinner(t *testing.T) {
	raw := []byte(`{"auctionId": "a-1", "totalBids": 0, "totalParticipants": 0}`)

	var ended WSEnded
	require.NoError(t, json.Unmarshal(raw, &ended))
	ev := ended.ToDomain()

	assert.Nil(t, ev.Winner, "no-bid auctions settle without a winner")
	assert.Equal(t, "a-1", ev.AuctionID)
}

func TestAPIAuctionToDomain(t *testing.T) {
	raw := []byte(`{
		"_id": "66f0c2",
		"title": "Showa 52cm",
		"koiVariety": "Showa",
		"breeder": "Dainichi",
		"startPrice": 1000000,
		"bidIncrement": 50000,
		"startDate": "2025-01-01T00:00:00Z",
		"endDate": "2025-01-08T00:00:00Z",
		"currentBid": 1200000
	}`)

	var a APIAuction
	require.NoError(t, json.Unmarshal(raw, &a))
	auction := a.ToDomain()

	assert.Equal(t, "66f0c2", auction.ID)
	assert.Equal(t, domain.SourceBackend, auction.Source)
	assert.Equal(t, int64(50_000), auction.BidIncrement)
	assert.Equal(t, time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC), auction.EndAt)
}

func TestRoomCommandFrame(t *testing.T) {
	data, err := json.Marshal(WSEnvelope{
		Event: EventJoinAuction,
		Data:  mustMarshal(t, WSRoomCommand{AuctionID: "a-1"}),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"join_auction","data":{"auctionId":"a-1"}}`, string(data))
}

func mustMarshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}
