package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Lujiluz/koilive/internal/domain"
	"github.com/Lujiluz/koilive/internal/live"
)

// AuctionHandler serves live leaderboards, recorded bid history, settlements,
// and bid placement for watched auctions.
type AuctionHandler struct {
	engine      *live.Engine
	snapCache   domain.SnapshotCache // may be nil
	bidLog      domain.BidLogStore   // may be nil
	settlements domain.SettlementStore
	archive     domain.BlobReader // may be nil
	logger      *slog.Logger
}

// NewAuctionHandler creates an AuctionHandler. The cache, stores, and archive
// reader may be nil; the corresponding endpoints then fall back or report 404.
func NewAuctionHandler(
	engine *live.Engine,
	snapCache domain.SnapshotCache,
	bidLog domain.BidLogStore,
	settlements domain.SettlementStore,
	archive domain.BlobReader,
	logger *slog.Logger,
) *AuctionHandler {
	return &AuctionHandler{
		engine:      engine,
		snapCache:   snapCache,
		bidLog:      bidLog,
		settlements: settlements,
		archive:     archive,
		logger:      logHandler(logger, "auction"),
	}
}

// GetLeaderboard returns the reconciled leaderboard for an auction, falling
// back to the snapshot cache when the engine holds no live view.
// GET /api/auctions/{id}/leaderboard
func (h *AuctionHandler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	auctionID := pathParam(r, "id")

	var remaining *int64
	if left, ok := h.engine.Remaining(auctionID); ok {
		sec := int64(left / time.Second)
		remaining = &sec
	}

	if snap, ok := h.engine.Snapshot(auctionID); ok {
		writeJSON(w, http.StatusOK, map[string]any{
			"leaderboard":   snap,
			"remaining_sec": remaining,
			"live":          true,
		})
		return
	}

	if h.snapCache != nil {
		snap, err := h.snapCache.Get(r.Context(), auctionID)
		if err == nil {
			writeJSON(w, http.StatusOK, map[string]any{
				"leaderboard":   snap,
				"remaining_sec": remaining,
				"live":          false,
			})
			return
		}
		if !errors.Is(err, domain.ErrNotFound) {
			h.logger.Warn("snapshot cache read failed",
				slog.String("auction_id", auctionID),
				slog.String("error", err.Error()),
			)
		}
	}

	writeError(w, http.StatusNotFound, "no leaderboard for auction")
}

// ListBids returns the recorded bid history for an auction, newest first.
// GET /api/auctions/{id}/bids
func (h *AuctionHandler) ListBids(w http.ResponseWriter, r *http.Request) {
	if h.bidLog == nil {
		writeError(w, http.StatusNotFound, "bid history recording is disabled")
		return
	}

	auctionID := pathParam(r, "id")
	entries, err := h.bidLog.ListByAuction(r.Context(), auctionID, parseListOpts(r))
	if err != nil {
		h.logger.Error("bid log query failed",
			slog.String("auction_id", auctionID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "bid history query failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"bids": entries, "count": len(entries)})
}

// GetSettlement returns the recorded outcome of an ended auction.
// GET /api/auctions/{id}/settlement
func (h *AuctionHandler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	auctionID := pathParam(r, "id")

	// Prefer the in-memory settlement when the engine saw the ending live.
	if h.settlements != nil {
		settlement, err := h.settlements.Get(r.Context(), auctionID)
		if err == nil {
			writeJSON(w, http.StatusOK, settlement)
			return
		}
		if !errors.Is(err, domain.ErrNotFound) {
			h.logger.Error("settlement query failed",
				slog.String("auction_id", auctionID),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "settlement query failed")
			return
		}
	}

	writeError(w, http.StatusNotFound, "auction not settled")
}

// GetArchive streams the cold-storage bundle of an archived auction: one
// JSONL object holding the settlement followed by the full bid log.
// GET /api/auctions/{id}/archive
func (h *AuctionHandler) GetArchive(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusNotFound, "archive storage is disabled")
		return
	}

	auctionID := pathParam(r, "id")

	// Archive keys are bucketed by settlement month, so resolve the exact
	// key by listing the prefix.
	infos, err := h.archive.List(r.Context(), "archive/auctions/")
	if err != nil {
		h.logger.Error("archive list failed",
			slog.String("auction_id", auctionID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "archive lookup failed")
		return
	}

	var key string
	for _, info := range infos {
		if strings.HasSuffix(info.Path, "/"+auctionID+".jsonl") {
			key = info.Path
			break
		}
	}
	if key == "" {
		writeError(w, http.StatusNotFound, "auction not archived")
		return
	}

	body, err := h.archive.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "auction not archived")
			return
		}
		h.logger.Error("archive read failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "archive read failed")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, body)
}

// placeBidRequest is the body of a bid placement request.
type placeBidRequest struct {
	Amount int64 `json:"amount"`
}

// PlaceBid submits a bid through the engine's bid flow.
// POST /api/auctions/{id}/bids
func (h *AuctionHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	auctionID := pathParam(r, "id")

	var req placeBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	attempt, err := h.engine.PlaceBid(r.Context(), auctionID, req.Amount)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, attempt)
	case errors.Is(err, domain.ErrBidTooLow):
		writeError(w, http.StatusUnprocessableEntity, "bid must exceed the current highest bid")
	case errors.Is(err, domain.ErrBidPending):
		writeError(w, http.StatusConflict, "a bid is already pending for this auction")
	case errors.Is(err, domain.ErrAuctionEnded):
		writeError(w, http.StatusGone, "auction has ended")
	default:
		h.logger.Error("bid placement failed",
			slog.String("auction_id", auctionID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "bid submission failed")
	}
}

// Watch joins an auction's room and starts tracking it.
// POST /api/auctions/{id}/watch
func (h *AuctionHandler) Watch(w http.ResponseWriter, r *http.Request) {
	auctionID := pathParam(r, "id")

	if err := h.engine.Watch(r.Context(), auctionID); err != nil {
		if errors.Is(err, domain.ErrJoinNotReady) {
			// Kept on the desired set; joined automatically on reconnect.
			writeJSON(w, http.StatusAccepted, map[string]string{
				"status": "queued until the live channel reconnects",
			})
			return
		}
		h.logger.Error("watch failed",
			slog.String("auction_id", auctionID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "join failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "watching"})
}

// Unwatch leaves an auction's room and drops its local state.
// DELETE /api/auctions/{id}/watch
func (h *AuctionHandler) Unwatch(w http.ResponseWriter, r *http.Request) {
	auctionID := pathParam(r, "id")
	h.engine.Unwatch(r.Context(), auctionID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped watching"})
}
