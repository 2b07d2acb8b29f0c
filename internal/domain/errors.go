package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConnection    = errors.New("connection failed")
	ErrJoinNotReady  = errors.New("join attempted while disconnected")
	ErrStaleSnapshot = errors.New("stale snapshot rejected")
	ErrBidTooLow     = errors.New("bid does not exceed current highest")
	ErrBidRejected   = errors.New("bid rejected")
	ErrBidTimeout    = errors.New("bid confirmation timed out")
	ErrBidPending    = errors.New("bid already pending for auction")
	ErrPullFailed    = errors.New("participants pull failed")
	ErrAuctionEnded  = errors.New("auction has ended")
	ErrContextDone   = errors.New("context cancelled")
	ErrLockHeld      = errors.New("lock already held")
)
