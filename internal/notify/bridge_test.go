package notify

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lujiluz/koilive/internal/domain"
	"github.com/Lujiluz/koilive/internal/live"
)

type recordingSender struct {
	mu       sync.Mutex
	titles   []string
	messages []string
}

func (s *recordingSender) Send(_ context.Context, title, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles = append(s.titles, title)
	s.messages = append(s.messages, message)
	return nil
}

func (s *recordingSender) Name() string { return "recorder" }

func (s *recordingSender) sent() ([]string, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.titles...), append([]string(nil), s.messages...)
}

func newBridgeFixture(events []string) (*Bridge, *recordingSender, *live.Signals) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sender := &recordingSender{}
	notifier := NewNotifier([]Sender{sender}, events, logger)
	sig := live.NewSignals()
	return NewBridge(notifier, sig, logger), sender, sig
}

func TestBridgeFormatsOutbid(t *testing.T) {
	b, sender, _ := newBridgeFixture(nil)

	b.forward(context.Background(), live.Signal{
		Type: live.SignalOutbid,
		Payload: domain.BidEvent{
			AuctionID: "a-1",
			UserName:  "rival",
			BidAmount: 750_000,
		},
	})

	titles, messages := sender.sent()
	require.Len(t, titles, 1)
	assert.Equal(t, "You have been outbid", titles[0])
	assert.Equal(t, "Auction a-1: rival raised the bid to Rp 750000.", messages[0])
}

func TestBridgeFormatsEndedWithAndWithoutWinner(t *testing.T) {
	b, sender, _ := newBridgeFixture(nil)

	b.forward(context.Background(), live.Signal{
		Type: live.SignalEnded,
		Payload: domain.EndedEvent{
			AuctionID: "a-1",
			Winner:    &domain.Winner{Name: "collector", WinningBid: 900_000},
			TotalBids: 12,
		},
	})
	b.forward(context.Background(), live.Signal{
		Type:    live.SignalEnded,
		Payload: domain.EndedEvent{AuctionID: "a-2"},
	})

	_, messages := sender.sent()
	require.Len(t, messages, 2)
	assert.Equal(t, "Auction a-1 settled: collector won at Rp 900000 (12 bids).", messages[0])
	assert.Equal(t, "Auction a-2 ended with no bids.", messages[1])
}

func TestBridgeOnlyReportsRejectedBidResults(t *testing.T) {
	b, sender, _ := newBridgeFixture(nil)

	b.forward(context.Background(), live.Signal{
		Type:    live.SignalBidResult,
		Payload: live.BidAttempt{AuctionID: "a-1", Amount: 600_000, State: live.BidConfirmed},
	})
	b.forward(context.Background(), live.Signal{
		Type: live.SignalBidResult,
		Payload: live.BidAttempt{
			AuctionID: "a-1",
			Amount:    600_000,
			State:     live.BidRejected,
			Err:       domain.ErrBidTimeout,
		},
	})

	titles, messages := sender.sent()
	require.Len(t, titles, 1)
	assert.Equal(t, "Bid not confirmed", titles[0])
	assert.Contains(t, messages[0], "Rp 600000")
	assert.Contains(t, messages[0], domain.ErrBidTimeout.Error())
}

func TestBridgeConnectionOnlyOnLoss(t *testing.T) {
	b, sender, _ := newBridgeFixture(nil)

	b.forward(context.Background(), live.Signal{Type: live.SignalConnection, Payload: true})
	b.forward(context.Background(), live.Signal{Type: live.SignalConnection, Payload: false})

	titles, _ := sender.sent()
	require.Len(t, titles, 1)
	assert.Equal(t, "Live channel lost", titles[0])
}

func TestBridgeHonoursEventFilter(t *testing.T) {
	b, sender, _ := newBridgeFixture([]string{EventEnded})

	b.forward(context.Background(), live.Signal{
		Type:    live.SignalOutbid,
		Payload: domain.BidEvent{AuctionID: "a-1", UserName: "rival", BidAmount: 1},
	})
	b.forward(context.Background(), live.Signal{
		Type:    live.SignalEnded,
		Payload: domain.EndedEvent{AuctionID: "a-1"},
	})

	titles, _ := sender.sent()
	require.Len(t, titles, 1)
	assert.Equal(t, "Auction ended", titles[0])
}

func TestBridgeRunForwardsPublishedSignals(t *testing.T) {
	b, sender, sig := newBridgeFixture(nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Run(ctx)
	}()

	sig.Publish(live.Signal{
		Type:    live.SignalOutbid,
		Payload: domain.BidEvent{AuctionID: "a-1", UserName: "rival", BidAmount: 5},
	})

	require.Eventually(t, func() bool {
		titles, _ := sender.sent()
		return len(titles) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
