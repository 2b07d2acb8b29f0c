// Package live implements the client-side auction synchronization engine:
// room membership, leaderboard reconciliation, deadline tracking, and bid
// submission over the marketplace's push channel.
package live

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// SignalType identifies a category of engine signal.
type SignalType string

const (
	SignalConnection SignalType = "connection"
	SignalNewBid     SignalType = "new_bid"
	SignalOutbid     SignalType = "outbid"
	SignalExtension  SignalType = "extension"
	SignalEnded      SignalType = "ended"
	SignalCountdown  SignalType = "countdown"
	SignalBidResult  SignalType = "bid_result"
	SignalPullFailed SignalType = "pull_failed"
)

// Transient display durations for UI-facing signals.
const (
	NewBidDisplayDuration    = 3 * time.Second
	ExtensionDisplayDuration = 5 * time.Second
)

// Signal is one engine-level notification: a new bid, an extension, an
// auction ending, a countdown tick, or a connectivity transition.
type Signal struct {
	Type      SignalType `json:"type"`
	AuctionID string     `json:"auction_id,omitempty"`
	At        time.Time  `json:"at"`
	// ShowFor is the suggested display duration for transient signals;
	// zero for persistent ones.
	ShowFor time.Duration `json:"show_for,omitempty"`
	Payload any           `json:"payload,omitempty"`
}

type subscriber struct {
	ch    chan Signal
	types map[SignalType]bool // empty means all
}

// Signals is an injectable publish/subscribe hub for engine signals. It
// replaces the module-level listener registry of the original frontend with
// an instance that has explicit construction and teardown.
type Signals struct {
	mu     sync.RWMutex
	subs   map[uuid.UUID]*subscriber
	closed bool
}

// NewSignals creates an empty signal hub.
func NewSignals() *Signals {
	return &Signals{subs: make(map[uuid.UUID]*subscriber)}
}

// Subscribe registers a listener for the given signal types (all types when
// none are given). The returned cancel function removes the subscription and
// closes the channel; it is safe to call more than once.
func (s *Signals) Subscribe(types ...SignalType) (<-chan Signal, func()) {
	filter := make(map[SignalType]bool, len(types))
	for _, t := range types {
		filter[t] = true
	}

	sub := &subscriber{
		ch:    make(chan Signal, 64),
		types: filter,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}

	id := uuid.New()
	s.subs[id] = sub

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(sub.ch)
			}
		})
	}
	return sub.ch, cancel
}

// Publish delivers the signal to every matching subscriber. Delivery is
// non-blocking: a subscriber whose buffer is full misses the signal rather
// than stalling the engine.
func (s *Signals) Publish(sig Signal) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return
	}

	for _, sub := range s.subs {
		if len(sub.types) > 0 && !sub.types[sig.Type] {
			continue
		}
		select {
		case sub.ch <- sig:
		default:
		}
	}
}

// Close tears down the hub, closing all subscriber channels. Publish and
// Subscribe become no-ops afterwards.
func (s *Signals) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for id, sub := range s.subs {
		delete(s.subs, id)
		close(sub.ch)
	}
}
