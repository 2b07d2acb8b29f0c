package live

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Lujiluz/koilive/internal/domain"
)

// deadlineState holds the base deadline and the latest adopted extension for
// one auction. The effective deadline is the extension when one has been
// adopted, otherwise the base.
type deadlineState struct {
	base     time.Time
	extended time.Time
}

func (d deadlineState) effective() time.Time {
	if !d.extended.IsZero() {
		return d.extended
	}
	return d.base
}

// Countdown computes time remaining per auction purely from server-issued
// timestamps and an injected clock. It never accumulates client-side elapsed
// time, so long-lived processes cannot drift.
type Countdown struct {
	mu        sync.RWMutex
	deadlines map[string]deadlineState
	clock     clockwork.Clock
}

// NewCountdown creates a Countdown driven by the given clock.
func NewCountdown(clock clockwork.Clock) *Countdown {
	return &Countdown{
		deadlines: make(map[string]deadlineState),
		clock:     clock,
	}
}

// SetBase records the auction's normalized end instant from an authoritative
// source (auction detail or snapshot pull). It does not disturb an adopted
// extension.
func (c *Countdown) SetBase(auctionID string, endAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d := c.deadlines[auctionID]
	d.base = endAt
	c.deadlines[auctionID] = d
}

// ApplyExtension adopts an extension event when its new end time is strictly
// later than the current effective deadline. Earlier or equal end times are
// ignored, which guards against malformed and out-of-order events. Returns
// whether the extension was adopted.
func (c *Countdown) ApplyExtension(ev domain.ExtensionEvent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	d := c.deadlines[ev.AuctionID]
	if eff := d.effective(); !eff.IsZero() && !ev.NewEndTime.After(eff) {
		return false
	}
	d.extended = ev.NewEndTime
	c.deadlines[ev.AuctionID] = d
	return true
}

// Deadline returns the effective deadline for the auction.
func (c *Countdown) Deadline(auctionID string) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d, ok := c.deadlines[auctionID]
	if !ok {
		return time.Time{}, false
	}
	return d.effective(), true
}

// Remaining returns the time left until the effective deadline, clamped at
// zero. The second return is false when no deadline is known.
func (c *Countdown) Remaining(auctionID string) (time.Duration, bool) {
	return c.RemainingAt(auctionID, c.clock.Now())
}

// RemainingAt is the pure core of Remaining: it evaluates the countdown at
// an explicit instant, which is what the tests drive directly.
func (c *Countdown) RemainingAt(auctionID string, now time.Time) (time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d, ok := c.deadlines[auctionID]
	if !ok {
		return 0, false
	}
	remaining := d.effective().Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// Expired reports whether the effective deadline has passed. Unknown
// auctions are not expired.
func (c *Countdown) Expired(auctionID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d, ok := c.deadlines[auctionID]
	if !ok {
		return false
	}
	return !c.clock.Now().Before(d.effective())
}

// Remove discards deadline state for an auction.
func (c *Countdown) Remove(auctionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.deadlines, auctionID)
}

// tracked returns all auction IDs with a known deadline.
func (c *Countdown) tracked() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.deadlines))
	for id := range c.deadlines {
		ids = append(ids, id)
	}
	return ids
}

// CountdownTick is the payload of a SignalCountdown signal.
type CountdownTick struct {
	AuctionID    string        `json:"auction_id"`
	Remaining    time.Duration `json:"remaining"`
	RemainingSec int           `json:"remaining_sec"`
	Expired      bool          `json:"expired"`
}

// Ticker is the single shared ticking source. Each interval it publishes one
// countdown signal per tracked auction; views subscribe to the hub instead
// of running their own timers.
type Ticker struct {
	cd       *Countdown
	sig      *Signals
	clock    clockwork.Clock
	interval time.Duration
}

// NewTicker creates a Ticker publishing to the given signal hub.
func NewTicker(cd *Countdown, sig *Signals, clock clockwork.Clock, interval time.Duration) *Ticker {
	if interval <= 0 {
		interval = time.Second
	}
	return &Ticker{cd: cd, sig: sig, clock: clock, interval: interval}
}

// Run publishes countdown signals until the context is cancelled.
func (t *Ticker) Run(ctx context.Context) error {
	ticker := t.clock.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			t.publishOnce()
		}
	}
}

func (t *Ticker) publishOnce() {
	now := t.clock.Now()
	for _, id := range t.cd.tracked() {
		remaining, ok := t.cd.RemainingAt(id, now)
		if !ok {
			continue
		}
		t.sig.Publish(Signal{
			Type:      SignalCountdown,
			AuctionID: id,
			At:        now,
			Payload: CountdownTick{
				AuctionID:    id,
				Remaining:    remaining,
				RemainingSec: int(remaining / time.Second),
				Expired:      remaining == 0,
			},
		})
	}
}
