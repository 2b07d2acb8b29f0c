package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Lujiluz/koilive/internal/domain"
	"github.com/Lujiluz/koilive/internal/live"
)

// Event types emitted by the bridge, usable in the notifier's event filter.
const (
	EventOutbid     = "outbid"
	EventEnded      = "auction_ended"
	EventExtended   = "auction_extended"
	EventBidResult  = "bid_result"
	EventConnection = "connection"
)

// Bridge subscribes to the engine's signal hub and forwards the
// operator-relevant signals through the notifier.
type Bridge struct {
	notifier *Notifier
	sig      *live.Signals
	logger   *slog.Logger
}

// NewBridge creates a Bridge between the given hub and notifier.
func NewBridge(notifier *Notifier, sig *live.Signals, logger *slog.Logger) *Bridge {
	return &Bridge{
		notifier: notifier,
		sig:      sig,
		logger:   logger.With(slog.String("component", "notify_bridge")),
	}
}

// Run forwards signals until the context is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	ch, cancel := b.sig.Subscribe(
		live.SignalOutbid,
		live.SignalEnded,
		live.SignalExtension,
		live.SignalBidResult,
		live.SignalConnection,
	)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s, ok := <-ch:
			if !ok {
				return nil
			}
			b.forward(ctx, s)
		}
	}
}

func (b *Bridge) forward(ctx context.Context, s live.Signal) {
	var event, title, message string

	switch s.Type {
	case live.SignalOutbid:
		ev, ok := s.Payload.(domain.BidEvent)
		if !ok {
			return
		}
		event = EventOutbid
		title = "You have been outbid"
		message = fmt.Sprintf("Auction %s: %s raised the bid to Rp %d.", ev.AuctionID, ev.UserName, ev.BidAmount)

	case live.SignalEnded:
		ev, ok := s.Payload.(domain.EndedEvent)
		if !ok {
			return
		}
		event = EventEnded
		title = "Auction ended"
		if ev.Winner != nil {
			message = fmt.Sprintf("Auction %s settled: %s won at Rp %d (%d bids).",
				ev.AuctionID, ev.Winner.Name, ev.Winner.WinningBid, ev.TotalBids)
		} else {
			message = fmt.Sprintf("Auction %s ended with no bids.", ev.AuctionID)
		}

	case live.SignalExtension:
		ev, ok := s.Payload.(domain.ExtensionEvent)
		if !ok {
			return
		}
		event = EventExtended
		title = "Auction extended"
		message = fmt.Sprintf("Auction %s: deadline pushed to %s (%s).",
			ev.AuctionID, ev.NewEndTime.Format("15:04:05 MST"), ev.Reason)

	case live.SignalBidResult:
		attempt, ok := s.Payload.(live.BidAttempt)
		if !ok || attempt.State != live.BidRejected {
			return
		}
		event = EventBidResult
		title = "Bid not confirmed"
		message = fmt.Sprintf("Auction %s: bid of Rp %d was rolled back (%v).",
			attempt.AuctionID, attempt.Amount, attempt.Err)

	case live.SignalConnection:
		connected, ok := s.Payload.(bool)
		if !ok || connected {
			return
		}
		event = EventConnection
		title = "Live channel lost"
		message = "The auction channel disconnected; reconnecting."

	default:
		return
	}

	if err := b.notifier.Notify(ctx, event, title, message); err != nil {
		b.logger.Warn("notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
