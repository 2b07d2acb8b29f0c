package plutokoi

import (
	"encoding/json"
	"time"

	"github.com/Lujiluz/koilive/internal/domain"
)

// ---------------------------------------------------------------------------
// Channel wire protocol
// ---------------------------------------------------------------------------

// Client-to-server command events.
const (
	EventJoinAuction  = "join_auction"
	EventLeaveAuction = "leave_auction"
)

// Server-to-client push events.
const (
	EventLeaderboardUpdate = "leaderboard_update"
	EventNewBid            = "new_bid"
	EventAuctionExtended   = "auction_extended"
	EventAuctionEnded      = "auction_ended"
	EventAuctionJoined     = "auction_joined"
	EventAuctionLeft       = "auction_left"
	EventError             = "error"
)

// WSEnvelope is the outer frame of every channel message in both directions.
type WSEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// WSRoomCommand is the payload of join/leave commands and of the server's
// diagnostic acks.
type WSRoomCommand struct {
	AuctionID string `json:"auctionId"`
}

// WSParticipant mirrors one leaderboard row on the wire.
type WSParticipant struct {
	UserID        string    `json:"userId"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	TotalBids     int       `json:"totalBids"`
	HighestBid    int64     `json:"highestBid"`
	LatestBidTime time.Time `json:"latestBidTime"`
	Rank          int       `json:"rank"`
}

// WSLeaderboard is a full leaderboard push for one auction.
type WSLeaderboard struct {
	AuctionID         string          `json:"auctionId"`
	Participants      []WSParticipant `json:"participants"`
	CurrentHighestBid int64           `json:"currentHighestBid"`
	CurrentWinner     *WSParticipant  `json:"currentWinner,omitempty"`
	TotalParticipants int             `json:"totalParticipants"`
	TotalBids         int             `json:"totalBids"`
	Timestamp         time.Time       `json:"timestamp"`
}

// WSBid is an incremental accepted-bid push.
type WSBid struct {
	AuctionID   string    `json:"auctionId"`
	UserID      string    `json:"userId"`
	UserName    string    `json:"userName"`
	BidAmount   int64     `json:"bidAmount"`
	BidType     string    `json:"bidType"`
	BidTime     time.Time `json:"bidTime"`
	IsNewLeader bool      `json:"isNewLeader"`
}

// WSExtension is a deadline push-back notice.
type WSExtension struct {
	AuctionID        string    `json:"auctionId"`
	NewEndTime       time.Time `json:"newEndTime"`
	ExtensionMinutes int       `json:"extensionMinutes"`
	Reason           string    `json:"reason"`
	Timestamp        time.Time `json:"timestamp"`
}

// WSWinner is the settled winner inside an ended notice.
type WSWinner struct {
	UserID     string `json:"userId"`
	Name       string `json:"name"`
	WinningBid int64  `json:"winningBid"`
}

// WSEnded is the terminal auction notice.
type WSEnded struct {
	AuctionID         string    `json:"auctionId"`
	Winner            *WSWinner `json:"winner,omitempty"`
	TotalBids         int       `json:"totalBids"`
	TotalParticipants int       `json:"totalParticipants"`
}

// WSError is an error frame pushed by the server.
type WSError struct {
	Message   string    `json:"message"`
	Code      string    `json:"code,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (p WSParticipant) toDomain() domain.Participant {
	return domain.Participant{
		UserID:        p.UserID,
		Name:          p.Name,
		Email:         p.Email,
		TotalBids:     p.TotalBids,
		HighestBid:    p.HighestBid,
		LatestBidTime: p.LatestBidTime,
		Rank:          p.Rank,
	}
}

// ToDomainSnapshot converts a leaderboard push into the domain snapshot,
// re-ranking participants so the client never trusts wire ordering.
func (l *WSLeaderboard) ToDomainSnapshot() domain.LeaderboardSnapshot {
	participants := make([]domain.Participant, 0, len(l.Participants))
	for _, p := range l.Participants {
		participants = append(participants, p.toDomain())
	}
	domain.RankParticipants(participants)

	snap := domain.LeaderboardSnapshot{
		AuctionID:         l.AuctionID,
		Participants:      participants,
		CurrentHighestBid: l.CurrentHighestBid,
		TotalParticipants: l.TotalParticipants,
		TotalBids:         l.TotalBids,
		AsOf:              l.Timestamp,
	}
	if l.CurrentWinner != nil {
		w := l.CurrentWinner.toDomain()
		snap.CurrentWinner = &w
	} else if leader := snap.Leader(); leader != nil {
		w := *leader
		snap.CurrentWinner = &w
	}
	return snap
}

// ToDomain converts a bid push into the domain event.
func (b *WSBid) ToDomain() domain.BidEvent {
	return domain.BidEvent{
		AuctionID:   b.AuctionID,
		UserID:      b.UserID,
		UserName:    b.UserName,
		BidAmount:   b.BidAmount,
		BidType:     domain.BidType(b.BidType),
		BidTime:     b.BidTime,
		IsNewLeader: b.IsNewLeader,
	}
}

// ToDomain converts an extension push into the domain event.
func (e *WSExtension) ToDomain() domain.ExtensionEvent {
	return domain.ExtensionEvent{
		AuctionID:        e.AuctionID,
		NewEndTime:       e.NewEndTime,
		ExtensionMinutes: e.ExtensionMinutes,
		Reason:           e.Reason,
		Timestamp:        e.Timestamp,
	}
}

// ToDomain converts an ended push into the domain event.
func (e *WSEnded) ToDomain() domain.EndedEvent {
	out := domain.EndedEvent{
		AuctionID:         e.AuctionID,
		TotalBids:         e.TotalBids,
		TotalParticipants: e.TotalParticipants,
	}
	if e.Winner != nil {
		out.Winner = &domain.Winner{
			UserID:     e.Winner.UserID,
			Name:       e.Winner.Name,
			WinningBid: e.Winner.WinningBid,
		}
	}
	return out
}

// ToDomain converts an error frame into the domain form.
func (e *WSError) ToDomain() domain.ChannelError {
	return domain.ChannelError{Message: e.Message, Code: e.Code, Timestamp: e.Timestamp}
}

// ---------------------------------------------------------------------------
// REST API payloads
// ---------------------------------------------------------------------------

// APIResponse is the REST collaborator's standard envelope.
type APIResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// APIAuction is the backend auction detail shape.
type APIAuction struct {
	ID           string    `json:"_id"`
	Title        string    `json:"title"`
	KoiVariety   string    `json:"koiVariety"`
	Breeder      string    `json:"breeder"`
	StartPrice   int64     `json:"startPrice"`
	BidIncrement int64     `json:"bidIncrement"`
	StartDate    time.Time `json:"startDate"`
	EndDate      time.Time `json:"endDate"`
	CurrentBid   int64     `json:"currentBid"`
	WinnerID     string    `json:"winnerId,omitempty"`
}

// ToDomain normalizes the backend payload into the canonical auction.
func (a *APIAuction) ToDomain() domain.Auction {
	return domain.BackendAuction{
		ID:           a.ID,
		Title:        a.Title,
		KoiVariety:   a.KoiVariety,
		Breeder:      a.Breeder,
		StartPrice:   a.StartPrice,
		BidIncrement: a.BidIncrement,
		StartAt:      a.StartDate,
		EndAt:        a.EndDate,
		CurrentBid:   a.CurrentBid,
		WinnerID:     a.WinnerID,
	}.Normalize()
}

// APIParticipants is the authoritative pull response for one auction.
type APIParticipants struct {
	AuctionID         string          `json:"auctionId"`
	Participants      []WSParticipant `json:"participants"`
	CurrentHighestBid int64           `json:"currentHighestBid"`
	TotalParticipants int             `json:"totalParticipants"`
	TotalBids         int             `json:"totalBids"`
	AsOf              time.Time       `json:"asOf"`
}

// ToDomainSnapshot converts the pull response into a snapshot, re-ranking on
// the client.
func (p *APIParticipants) ToDomainSnapshot() domain.LeaderboardSnapshot {
	lb := WSLeaderboard{
		AuctionID:         p.AuctionID,
		Participants:      p.Participants,
		CurrentHighestBid: p.CurrentHighestBid,
		TotalParticipants: p.TotalParticipants,
		TotalBids:         p.TotalBids,
		Timestamp:         p.AsOf,
	}
	return lb.ToDomainSnapshot()
}

// APIBidHistoryEntry is one row of an auction's recorded bid history.
type APIBidHistoryEntry struct {
	AuctionID string    `json:"auctionId"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	BidAmount int64     `json:"bidAmount"`
	BidType   string    `json:"bidType"`
	BidTime   time.Time `json:"bidTime"`
}
