// Package domain defines the core auction models, events, and the interfaces
// implemented by the cache, store, and blob packages.
package domain

import (
	"fmt"
	"time"
)

// LifecycleState is the derived phase of an auction. It is never stored; it
// is always computed from the auction's start/end instants and a clock.
type LifecycleState string

const (
	LifecycleUpcoming   LifecycleState = "upcoming"
	LifecycleActive     LifecycleState = "active"
	LifecycleEndingSoon LifecycleState = "ending-soon"
	LifecycleCompleted  LifecycleState = "completed"
)

// AuctionSource discriminates the two auction payload shapes the marketplace
// has shipped: the legacy mock catalog and the current backend API.
type AuctionSource string

const (
	SourceLegacy  AuctionSource = "legacy"
	SourceBackend AuctionSource = "backend"
)

// Auction is the single canonical auction shape used everywhere past the
// boundary. Legacy and backend payloads are normalized into it before any
// reconciliation or deadline logic runs.
type Auction struct {
	ID           string
	Source       AuctionSource
	Title        string
	KoiVariety   string
	Breeder      string
	StartPrice   int64
	BidIncrement int64
	StartAt      time.Time
	EndAt        time.Time
	CurrentBid   int64
	WinnerID     string
}

// LegacyAuction is the old mock catalog shape: a date plus a separate bare
// time-of-day string for the closing time.
type LegacyAuction struct {
	Code         string
	Title        string
	Variety      string
	StartPrice   int64
	BidIncrement int64
	StartDate    time.Time
	EndDate      time.Time
	EndTime      string // "15:04" or "15:04:05", in the end date's location
}

// BackendAuction is the current API shape with full RFC 3339 instants.
type BackendAuction struct {
	ID           string
	Title        string
	KoiVariety   string
	Breeder      string
	StartPrice   int64
	BidIncrement int64
	StartAt      time.Time
	EndAt        time.Time
	CurrentBid   int64
	WinnerID     string
}

// Normalize converts a legacy auction into the canonical shape, combining
// the end date and bare end time into a single instant.
func (l LegacyAuction) Normalize() (Auction, error) {
	endAt, err := CombineDateTime(l.EndDate, l.EndTime)
	if err != nil {
		return Auction{}, fmt.Errorf("domain: normalize legacy auction %s: %w", l.Code, err)
	}

	return Auction{
		ID:           l.Code,
		Source:       SourceLegacy,
		Title:        l.Title,
		KoiVariety:   l.Variety,
		StartPrice:   l.StartPrice,
		BidIncrement: l.BidIncrement,
		StartAt:      l.StartDate,
		EndAt:        endAt,
		CurrentBid:   l.StartPrice,
	}, nil
}

// Normalize converts a backend auction into the canonical shape.
func (b BackendAuction) Normalize() Auction {
	return Auction{
		ID:           b.ID,
		Source:       SourceBackend,
		Title:        b.Title,
		KoiVariety:   b.KoiVariety,
		Breeder:      b.Breeder,
		StartPrice:   b.StartPrice,
		BidIncrement: b.BidIncrement,
		StartAt:      b.StartAt,
		EndAt:        b.EndAt,
		CurrentBid:   b.CurrentBid,
		WinnerID:     b.WinnerID,
	}
}

// CombineDateTime merges a date with a closing-time string. The time part
// accepts either a bare time of day ("15:04" or "15:04:05") or a full
// RFC 3339 timestamp, in which case the date argument is ignored.
func CombineDateTime(date time.Time, timeOfDay string) (time.Time, error) {
	if timeOfDay == "" {
		return date, nil
	}

	if full, err := time.Parse(time.RFC3339, timeOfDay); err == nil {
		return full, nil
	}

	var clock time.Time
	var err error
	for _, layout := range []string{"15:04:05", "15:04"} {
		clock, err = time.Parse(layout, timeOfDay)
		if err == nil {
			return time.Date(
				date.Year(), date.Month(), date.Day(),
				clock.Hour(), clock.Minute(), clock.Second(), 0,
				date.Location(),
			), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized end time %q", timeOfDay)
}

// Lifecycle computes the auction phase at the given instant. An auction is
// ending-soon when the deadline is within the given window.
func Lifecycle(startAt, endAt, now time.Time, endingSoonWindow time.Duration) LifecycleState {
	switch {
	case now.Before(startAt):
		return LifecycleUpcoming
	case !now.Before(endAt):
		return LifecycleCompleted
	case endAt.Sub(now) <= endingSoonWindow:
		return LifecycleEndingSoon
	default:
		return LifecycleActive
	}
}

// Lifecycle computes the phase of this auction at the given instant.
func (a Auction) Lifecycle(now time.Time, endingSoonWindow time.Duration) LifecycleState {
	return Lifecycle(a.StartAt, a.EndAt, now, endingSoonWindow)
}
