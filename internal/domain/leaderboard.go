package domain

import (
	"fmt"
	"sort"
	"time"
)

// Participant is one bidder's aggregate standing in an auction.
type Participant struct {
	UserID        string    `json:"user_id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	TotalBids     int       `json:"total_bids"`
	HighestBid    int64     `json:"highest_bid"`
	LatestBidTime time.Time `json:"latest_bid_time"`
	Rank          int       `json:"rank"`
}

// LeaderboardSnapshot is the authoritative state of one auction's bidding at
// a point in time. Participants are rank-ordered: highest bid first, ties
// broken by whoever reached that amount earliest.
type LeaderboardSnapshot struct {
	AuctionID         string        `json:"auction_id"`
	Participants      []Participant `json:"participants"`
	CurrentHighestBid int64         `json:"current_highest_bid"`
	CurrentWinner     *Participant  `json:"current_winner,omitempty"`
	TotalParticipants int           `json:"total_participants"`
	TotalBids         int           `json:"total_bids"`
	AsOf              time.Time     `json:"as_of"`
}

// RankParticipants sorts participants in place into leaderboard order and
// rewrites their Rank fields starting at 1.
func RankParticipants(ps []Participant) {
	sort.SliceStable(ps, func(i, j int) bool {
		if ps[i].HighestBid != ps[j].HighestBid {
			return ps[i].HighestBid > ps[j].HighestBid
		}
		return ps[i].LatestBidTime.Before(ps[j].LatestBidTime)
	})
	for i := range ps {
		ps[i].Rank = i + 1
	}
}

// Leader returns the top-ranked participant, or nil for an empty board.
func (s *LeaderboardSnapshot) Leader() *Participant {
	if len(s.Participants) == 0 {
		return nil
	}
	return &s.Participants[0]
}

// Validate checks the snapshot's internal invariants: rank ordering and the
// agreement between CurrentHighestBid and the top participant.
func (s *LeaderboardSnapshot) Validate() error {
	for i := 1; i < len(s.Participants); i++ {
		prev, cur := s.Participants[i-1], s.Participants[i]
		if cur.HighestBid > prev.HighestBid {
			return fmt.Errorf("domain: snapshot %s: participants out of order at rank %d", s.AuctionID, i+1)
		}
		if cur.HighestBid == prev.HighestBid && cur.LatestBidTime.Before(prev.LatestBidTime) {
			return fmt.Errorf("domain: snapshot %s: tie-break violated at rank %d", s.AuctionID, i+1)
		}
	}
	if len(s.Participants) > 0 && s.CurrentHighestBid != s.Participants[0].HighestBid {
		return fmt.Errorf("domain: snapshot %s: highest bid %d disagrees with top participant %d",
			s.AuctionID, s.CurrentHighestBid, s.Participants[0].HighestBid)
	}
	return nil
}

// Clone returns a deep copy so callers can hand snapshots out without
// exposing the reconciler's internal state to mutation.
func (s *LeaderboardSnapshot) Clone() *LeaderboardSnapshot {
	out := *s
	out.Participants = make([]Participant, len(s.Participants))
	copy(out.Participants, s.Participants)
	if s.CurrentWinner != nil {
		w := *s.CurrentWinner
		out.CurrentWinner = &w
	}
	return &out
}
