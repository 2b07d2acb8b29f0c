package domain

import (
	"fmt"
	"time"
)

// BidType classifies an accepted bid as pushed by the auction server.
type BidType string

const (
	BidTypeInitial BidType = "initial"
	BidTypeOutbid  BidType = "outbid"
	BidTypeWinning BidType = "winning"
	BidTypeAuto    BidType = "auto"
)

// BidEvent is an incremental push describing one bid the server accepted.
type BidEvent struct {
	AuctionID   string    `json:"auction_id"`
	UserID      string    `json:"user_id"`
	UserName    string    `json:"user_name"`
	BidAmount   int64     `json:"bid_amount"`
	BidType     BidType   `json:"bid_type"`
	BidTime     time.Time `json:"bid_time"`
	IsNewLeader bool      `json:"is_new_leader"`
}

// Key is the event's identity for duplicate suppression. The server does not
// assign bid IDs on the push channel, so (user, amount, time) stands in.
func (e BidEvent) Key() string {
	return fmt.Sprintf("%s|%d|%d", e.UserID, e.BidAmount, e.BidTime.UnixNano())
}

// ExtensionEvent is a deadline push-back triggered by a late bid.
type ExtensionEvent struct {
	AuctionID        string    `json:"auction_id"`
	NewEndTime       time.Time `json:"new_end_time"`
	ExtensionMinutes int       `json:"extension_minutes"`
	Reason           string    `json:"reason"`
	Timestamp        time.Time `json:"timestamp"`
}

// Winner identifies the settled winner of an ended auction.
type Winner struct {
	UserID     string `json:"user_id"`
	Name       string `json:"name"`
	WinningBid int64  `json:"winning_bid"`
}

// EndedEvent is the terminal notice for an auction. After it arrives, all
// further bid and extension events for the auction are ignored.
type EndedEvent struct {
	AuctionID         string  `json:"auction_id"`
	Winner            *Winner `json:"winner,omitempty"`
	TotalBids         int     `json:"total_bids"`
	TotalParticipants int     `json:"total_participants"`
}

// RoomAck is the server's diagnostic acknowledgment of a join or leave. It
// never drives membership state.
type RoomAck struct {
	AuctionID string `json:"auction_id"`
}

// ChannelError is an error frame pushed by the auction server.
type ChannelError struct {
	Message   string    `json:"message"`
	Code      string    `json:"code,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// BidLogEntry is one observed bid as recorded in the audit store.
type BidLogEntry struct {
	AuctionID string
	UserID    string
	UserName  string
	BidAmount int64
	BidType   BidType
	BidTime   time.Time
	SeenAt    time.Time
}

// Settlement records the observed outcome of an ended auction.
type Settlement struct {
	AuctionID         string
	WinnerID          string
	WinnerName        string
	WinningBid        int64
	TotalBids         int
	TotalParticipants int
	EndedAt           time.Time
}
