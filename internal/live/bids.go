package live

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/Lujiluz/koilive/internal/domain"
)

// BidState is the explicit three-state result of a bid attempt. The UI
// renders Pending optimistically and must reconcile to Confirmed or
// Rejected; there is no implicit success.
type BidState string

const (
	BidPending   BidState = "pending"
	BidConfirmed BidState = "confirmed"
	BidRejected  BidState = "rejected"
)

// BidAttempt is one locally initiated bid and its reconciliation state.
type BidAttempt struct {
	ID          uuid.UUID
	AuctionID   string
	UserID      string
	Amount      int64
	State       BidState
	SubmittedAt time.Time
	ResolvedAt  time.Time
	// Err holds the rejection cause (domain.ErrBidRejected or
	// domain.ErrBidTimeout) once State is BidRejected.
	Err error
}

// Submitter sends a bid to the REST collaborator. The server remains the
// sole authority on acceptance; the flow only tracks reconciliation.
type Submitter interface {
	SubmitBid(ctx context.Context, auctionID string, amount int64) error
}

// BidFlow manages optimistic bid submission: a client-side increment
// pre-check, a pending record, confirmation against the server's subsequent
// bid event, and rollback with a typed error when no confirmation arrives in
// time.
type BidFlow struct {
	mu      sync.Mutex
	pending map[string]*BidAttempt // keyed by auction ID; one in flight each

	submitter Submitter
	clock     clockwork.Clock
	timeout   time.Duration
	onResolve func(BidAttempt)
	logger    *slog.Logger
}

// NewBidFlow creates a BidFlow. onResolve is invoked (outside the lock) each
// time an attempt leaves the pending state; it may be nil.
func NewBidFlow(submitter Submitter, clock clockwork.Clock, timeout time.Duration, onResolve func(BidAttempt), logger *slog.Logger) *BidFlow {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &BidFlow{
		pending:   make(map[string]*BidAttempt),
		submitter: submitter,
		clock:     clock,
		timeout:   timeout,
		onResolve: onResolve,
		logger:    logger.With(slog.String("component", "bidflow")),
	}
}

// Submit validates and sends a bid attempt. The amount must strictly exceed
// currentHighest (a user-experience pre-check only; the server still decides
// acceptance). A second submission while one is pending for the same auction
// returns domain.ErrBidPending.
func (bf *BidFlow) Submit(ctx context.Context, auctionID, userID string, amount, currentHighest int64) (BidAttempt, error) {
	if amount <= 0 || amount <= currentHighest {
		return BidAttempt{}, fmt.Errorf("bidflow: %d over %d: %w", amount, currentHighest, domain.ErrBidTooLow)
	}

	bf.mu.Lock()
	if _, inFlight := bf.pending[auctionID]; inFlight {
		bf.mu.Unlock()
		return BidAttempt{}, fmt.Errorf("bidflow: auction %s: %w", auctionID, domain.ErrBidPending)
	}
	attempt := &BidAttempt{
		ID:          uuid.New(),
		AuctionID:   auctionID,
		UserID:      userID,
		Amount:      amount,
		State:       BidPending,
		SubmittedAt: bf.clock.Now(),
	}
	bf.pending[auctionID] = attempt
	bf.mu.Unlock()

	if err := bf.submitter.SubmitBid(ctx, auctionID, amount); err != nil {
		bf.resolve(auctionID, attempt.ID, BidRejected, fmt.Errorf("%w: %v", domain.ErrBidRejected, err))
		return *attempt, fmt.Errorf("bidflow: submit %s: %w", auctionID, err)
	}

	bf.logger.Info("bid submitted",
		slog.String("auction_id", auctionID),
		slog.Int64("amount", amount),
	)

	// Roll the optimistic state back if no confirming event arrives.
	id := attempt.ID
	bf.clock.AfterFunc(bf.timeout, func() {
		bf.resolve(auctionID, id, BidRejected, domain.ErrBidTimeout)
	})

	return *attempt, nil
}

// Confirm reconciles a push bid event against the pending attempt for its
// auction. The attempt is confirmed when the event is from the same user
// with an amount at or above the attempt's: the server may have accepted a
// higher concurrent bid from the same user (auto-bid), which still settles
// the attempt. The match check and the state transition happen under one
// lock, so a timeout firing concurrently can never void a reported
// confirmation: exactly one of them wins, and Confirm returns true only when
// it did.
func (bf *BidFlow) Confirm(ev domain.BidEvent) (BidAttempt, bool) {
	bf.mu.Lock()
	attempt, ok := bf.pending[ev.AuctionID]
	if !ok || attempt.UserID != ev.UserID || ev.BidAmount < attempt.Amount {
		bf.mu.Unlock()
		return BidAttempt{}, false
	}
	resolved := bf.resolveLocked(attempt, BidConfirmed, nil)
	bf.mu.Unlock()

	bf.notifyResolved(resolved)
	return resolved, true
}

// Pending returns the in-flight attempt for an auction, if any.
func (bf *BidFlow) Pending(auctionID string) (BidAttempt, bool) {
	bf.mu.Lock()
	defer bf.mu.Unlock()

	attempt, ok := bf.pending[auctionID]
	if !ok {
		return BidAttempt{}, false
	}
	return *attempt, true
}

// resolve transitions the attempt out of pending exactly once. Attempts that
// were already resolved, or superseded by a newer attempt for the same
// auction, are left alone.
func (bf *BidFlow) resolve(auctionID string, id uuid.UUID, state BidState, cause error) {
	bf.mu.Lock()
	attempt, ok := bf.pending[auctionID]
	if !ok || attempt.ID != id {
		bf.mu.Unlock()
		return
	}
	resolved := bf.resolveLocked(attempt, state, cause)
	bf.mu.Unlock()

	bf.notifyResolved(resolved)
}

// resolveLocked performs the pending→resolved transition. Callers hold bf.mu.
func (bf *BidFlow) resolveLocked(attempt *BidAttempt, state BidState, cause error) BidAttempt {
	delete(bf.pending, attempt.AuctionID)
	attempt.State = state
	attempt.Err = cause
	attempt.ResolvedAt = bf.clock.Now()
	return *attempt
}

func (bf *BidFlow) notifyResolved(resolved BidAttempt) {
	if resolved.State == BidRejected {
		bf.logger.Warn("bid attempt rejected",
			slog.String("auction_id", resolved.AuctionID),
			slog.Int64("amount", resolved.Amount),
			slog.String("cause", fmt.Sprint(resolved.Err)),
		)
	}
	if bf.onResolve != nil {
		bf.onResolve(resolved)
	}
}
