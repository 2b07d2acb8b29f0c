// Package plutokoi contains the REST and WebSocket clients for the Pluto Koi
// auction backend.
package plutokoi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Lujiluz/koilive/internal/domain"
)

// sessionCookie is the marketplace's session credential cookie name. The
// token travels out-of-band on every request; it is never embedded in a
// request or handshake payload.
const sessionCookie = "pluto_session"

// APIClient is the REST client for the auction backend: catalog, the
// authoritative participants pull, bid submission, and bid history.
type APIClient struct {
	baseURL      string
	sessionToken string
	httpClient   *http.Client
}

// NewAPIClient creates a REST client for the given API root, e.g.
// "https://api.plutokoi.com". The session token authenticates all calls.
func NewAPIClient(baseURL, sessionToken string) *APIClient {
	return &APIClient{
		baseURL:      baseURL,
		sessionToken: sessionToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ListAuctions returns a page of auctions from the catalog.
func (c *APIClient) ListAuctions(ctx context.Context, limit, offset int) ([]domain.Auction, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))

	body, err := c.doRequest(ctx, http.MethodGet, "/api/auctions?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("plutokoi/rest: list auctions: %w", err)
	}

	var apiAuctions []APIAuction
	if err := json.Unmarshal(body, &apiAuctions); err != nil {
		return nil, fmt.Errorf("plutokoi/rest: decode auctions: %w", err)
	}

	auctions := make([]domain.Auction, 0, len(apiAuctions))
	for i := range apiAuctions {
		auctions = append(auctions, apiAuctions[i].ToDomain())
	}
	return auctions, nil
}

// GetAuction returns one auction's detail by ID.
func (c *APIClient) GetAuction(ctx context.Context, id string) (domain.Auction, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/api/auctions/"+url.PathEscape(id), nil)
	if err != nil {
		return domain.Auction{}, fmt.Errorf("plutokoi/rest: get auction %s: %w", id, err)
	}

	var apiAuction APIAuction
	if err := json.Unmarshal(body, &apiAuction); err != nil {
		return domain.Auction{}, fmt.Errorf("plutokoi/rest: decode auction: %w", err)
	}
	return apiAuction.ToDomain(), nil
}

// FetchParticipants is the authoritative leaderboard pull issued on room
// entry. Failures wrap domain.ErrPullFailed so the engine can keep any
// previously held snapshot in place.
func (c *APIClient) FetchParticipants(ctx context.Context, auctionID string) (domain.LeaderboardSnapshot, error) {
	path := "/api/auctions/" + url.PathEscape(auctionID) + "/participants"

	body, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return domain.LeaderboardSnapshot{}, fmt.Errorf("plutokoi/rest: fetch participants %s: %w: %v", auctionID, domain.ErrPullFailed, err)
	}

	var pull APIParticipants
	if err := json.Unmarshal(body, &pull); err != nil {
		return domain.LeaderboardSnapshot{}, fmt.Errorf("plutokoi/rest: decode participants %s: %w: %v", auctionID, domain.ErrPullFailed, err)
	}
	if pull.AuctionID == "" {
		pull.AuctionID = auctionID
	}
	if pull.AsOf.IsZero() {
		pull.AsOf = time.Now().UTC()
	}
	return pull.ToDomainSnapshot(), nil
}

// SubmitBid sends a bid attempt. Acceptance is reported asynchronously over
// the push channel; a nil return only means the server took the submission.
func (c *APIClient) SubmitBid(ctx context.Context, auctionID string, amount int64) error {
	payload := map[string]any{
		"auctionId": auctionID,
		"bidAmount": amount,
	}
	path := "/api/auctions/" + url.PathEscape(auctionID) + "/bids"

	if _, err := c.doRequest(ctx, http.MethodPost, path, payload); err != nil {
		return fmt.Errorf("plutokoi/rest: submit bid %s: %w", auctionID, err)
	}
	return nil
}

// BidHistory returns the recorded bid history for an auction.
func (c *APIClient) BidHistory(ctx context.Context, auctionID string, opts domain.ListOpts) ([]APIBidHistoryEntry, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(opts.Limit))
	params.Set("offset", strconv.Itoa(opts.Offset))
	path := "/api/auctions/" + url.PathEscape(auctionID) + "/bids?" + params.Encode()

	body, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("plutokoi/rest: bid history %s: %w", auctionID, err)
	}

	var entries []APIBidHistoryEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("plutokoi/rest: decode bid history: %w", err)
	}
	return entries, nil
}

// doRequest performs one HTTP round trip, unwraps the API response envelope,
// and returns the inner data payload.
func (c *APIClient) doRequest(ctx context.Context, method, path string, payload any) (json.RawMessage, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: c.sessionToken})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
	case http.StatusNotFound:
		return nil, domain.ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("status %d: %w", resp.StatusCode, domain.ErrConnection)
	default:
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(body, 256))
	}

	var envelope APIResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if !envelope.Success {
		return nil, fmt.Errorf("api error: %s", envelope.Message)
	}
	return envelope.Data, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
