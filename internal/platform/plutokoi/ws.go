package plutokoi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Lujiluz/koilive/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 1 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 30 * time.Second

	// maxReconnectAttempts bounds automatic reconnection. Once the budget is
	// exhausted the client stays disconnected until Connect is called again.
	maxReconnectAttempts = 5
)

// Handler types for server push events.
type (
	LeaderboardHandler  func(domain.LeaderboardSnapshot)
	BidHandler          func(domain.BidEvent)
	ExtensionHandler    func(domain.ExtensionEvent)
	EndedHandler        func(domain.EndedEvent)
	RoomAckHandler      func(event string, ack domain.RoomAck)
	ChannelErrorHandler func(domain.ChannelError)
	ConnectionHandler   func(connected bool)
)

// WSClient is the persistent bidirectional channel to the auction server.
// It owns the connection lifecycle exclusively: no other component opens or
// closes the socket. Authentication rides on the session cookie in the
// handshake headers, never in a payload.
type WSClient struct {
	wsURL        string
	sessionToken string

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	closed    bool
	gen       uint64 // connection generation; stale pumps exit on mismatch

	handlerMu     sync.RWMutex
	leaderboardHs []LeaderboardHandler
	bidHs         []BidHandler
	extensionHs   []ExtensionHandler
	endedHs       []EndedHandler
	ackHs         []RoomAckHandler
	channelErrHs  []ChannelErrorHandler
	connectionHs  []ConnectionHandler

	logger *slog.Logger
}

// NewWSClient creates a channel client for the given WebSocket endpoint,
// e.g. "wss://api.plutokoi.com/live".
func NewWSClient(wsURL, sessionToken string, logger *slog.Logger) *WSClient {
	return &WSClient{
		wsURL:        wsURL,
		sessionToken: sessionToken,
		logger:       logger.With(slog.String("component", "ws")),
	}
}

// Connect establishes the channel. It is idempotent: when the channel is
// already open it returns nil without side effects. A failed dial returns an
// error wrapping domain.ErrConnection; the caller may invoke Connect again.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("plutokoi/ws: connect: %w", domain.ErrConnection)
	}
	if w.connected {
		return nil
	}
	return w.dialLocked(ctx)
}

// dialLocked performs the handshake and starts the pumps. Caller holds w.mu.
func (w *WSClient) dialLocked(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}
	header := http.Header{}
	header.Set("Cookie", sessionCookie+"="+w.sessionToken)

	conn, _, err := dialer.DialContext(ctx, w.wsURL, header)
	if err != nil {
		return fmt.Errorf("plutokoi/ws: connect: %w: %v", domain.ErrConnection, err)
	}

	w.conn = conn
	w.gen++
	gen := w.gen

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	w.setConnectedLocked(true)

	go w.readLoop(conn, gen)
	go w.pingLoop(conn, gen)

	w.logger.Info("channel connected", slog.String("url", w.wsURL))
	return nil
}

// Connected reports the current channel state.
func (w *WSClient) Connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connected
}

// SendJoin sends a join-room command for the auction.
func (w *WSClient) SendJoin(auctionID string) error {
	return w.sendEnvelope(EventJoinAuction, WSRoomCommand{AuctionID: auctionID})
}

// SendLeave sends a leave-room command for the auction.
func (w *WSClient) SendLeave(auctionID string) error {
	return w.sendEnvelope(EventLeaveAuction, WSRoomCommand{AuctionID: auctionID})
}

// Close shuts the channel down permanently. Safe to call more than once.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	w.setConnectedLocked(false)

	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}
	return nil
}

// ---------------------------------------------------------------------------
// Handler registration
// ---------------------------------------------------------------------------

// OnLeaderboard registers a handler for full leaderboard pushes.
func (w *WSClient) OnLeaderboard(h LeaderboardHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.leaderboardHs = append(w.leaderboardHs, h)
}

// OnBid registers a handler for accepted-bid pushes.
func (w *WSClient) OnBid(h BidHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.bidHs = append(w.bidHs, h)
}

// OnExtension registers a handler for deadline extension pushes.
func (w *WSClient) OnExtension(h ExtensionHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.extensionHs = append(w.extensionHs, h)
}

// OnEnded registers a handler for auction-ended notices.
func (w *WSClient) OnEnded(h EndedHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.endedHs = append(w.endedHs, h)
}

// OnRoomAck registers a handler for join/leave acks. Acks are diagnostic;
// they never drive membership state.
func (w *WSClient) OnRoomAck(h RoomAckHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.ackHs = append(w.ackHs, h)
}

// OnChannelError registers a handler for server error frames.
func (w *WSClient) OnChannelError(h ChannelErrorHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.channelErrHs = append(w.channelErrHs, h)
}

// OnConnectionChange registers a handler invoked synchronously on every
// connectivity transition.
func (w *WSClient) OnConnectionChange(h ConnectionHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.connectionHs = append(w.connectionHs, h)
}

// ---------------------------------------------------------------------------
// Internal
// ---------------------------------------------------------------------------

// setConnectedLocked flips the connectivity flag and notifies observers on a
// transition. Caller holds w.mu; observers run on their own goroutine so a
// handler calling back into the client cannot deadlock.
func (w *WSClient) setConnectedLocked(connected bool) {
	if w.connected == connected {
		return
	}
	w.connected = connected

	w.handlerMu.RLock()
	handlers := make([]ConnectionHandler, len(w.connectionHs))
	copy(handlers, w.connectionHs)
	w.handlerMu.RUnlock()

	go func() {
		for _, h := range handlers {
			h(connected)
		}
	}()
}

// sendEnvelope serializes and writes one command frame.
func (w *WSClient) sendEnvelope(event string, payload any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.connected || w.conn == nil {
		return fmt.Errorf("plutokoi/ws: send %s: %w", event, domain.ErrConnection)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("plutokoi/ws: marshal %s: %w", event, err)
	}
	frame, err := json.Marshal(WSEnvelope{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("plutokoi/ws: marshal envelope: %w", err)
	}

	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := w.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("plutokoi/ws: write %s: %w", event, err)
	}
	return nil
}

// readLoop reads frames until the connection drops, then hands off to the
// reconnect routine. The gen check keeps a pump from a superseded
// connection from touching current state.
func (w *WSClient) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			w.mu.Lock()
			stale := w.gen != gen
			closed := w.closed
			if !stale && !closed {
				w.setConnectedLocked(false)
				w.conn = nil
			}
			w.mu.Unlock()

			conn.Close()
			if stale || closed {
				return
			}

			w.logger.Warn("channel read failed, reconnecting",
				slog.String("error", err.Error()),
			)
			w.reconnect()
			return
		}
		w.handleMessage(message)
	}
}

// pingLoop keeps the connection alive. It exits when its connection
// generation is superseded or the write fails.
func (w *WSClient) pingLoop(conn *websocket.Conn, gen uint64) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for range ticker.C {
		w.mu.Lock()
		if w.closed || w.gen != gen {
			w.mu.Unlock()
			return
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		err := conn.WriteMessage(websocket.PingMessage, nil)
		w.mu.Unlock()

		if err != nil {
			return
		}
	}
}

// reconnect retries the handshake with capped exponential backoff, up to the
// attempt budget. On success the connectivity observers fire and the engine
// re-joins its rooms. On exhaustion the client stays disconnected; a later
// explicit Connect starts a fresh budget.
func (w *WSClient) reconnect() {
	delay := reconnectDelay

	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		time.Sleep(delay)

		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.dialLocked(ctx)
		cancel()
		w.mu.Unlock()

		if err == nil {
			return
		}

		w.logger.Warn("reconnect attempt failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", maxReconnectAttempts),
			slog.String("error", err.Error()),
		)

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}

	w.logger.Error("reconnect budget exhausted, staying disconnected")
}

// handleMessage decodes one frame and routes it to the registered handlers.
// Unparseable frames and unknown events are dropped.
func (w *WSClient) handleMessage(raw []byte) {
	var envelope WSEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return
	}

	switch envelope.Event {
	case EventLeaderboardUpdate:
		var lb WSLeaderboard
		if err := json.Unmarshal(envelope.Data, &lb); err != nil {
			return
		}
		snap := lb.ToDomainSnapshot()

		w.handlerMu.RLock()
		handlers := w.leaderboardHs
		w.handlerMu.RUnlock()
		for _, h := range handlers {
			h(snap)
		}

	case EventNewBid:
		var bid WSBid
		if err := json.Unmarshal(envelope.Data, &bid); err != nil {
			return
		}
		ev := bid.ToDomain()

		w.handlerMu.RLock()
		handlers := w.bidHs
		w.handlerMu.RUnlock()
		for _, h := range handlers {
			h(ev)
		}

	case EventAuctionExtended:
		var ext WSExtension
		if err := json.Unmarshal(envelope.Data, &ext); err != nil {
			return
		}
		ev := ext.ToDomain()

		w.handlerMu.RLock()
		handlers := w.extensionHs
		w.handlerMu.RUnlock()
		for _, h := range handlers {
			h(ev)
		}

	case EventAuctionEnded:
		var ended WSEnded
		if err := json.Unmarshal(envelope.Data, &ended); err != nil {
			return
		}
		ev := ended.ToDomain()

		w.handlerMu.RLock()
		handlers := w.endedHs
		w.handlerMu.RUnlock()
		for _, h := range handlers {
			h(ev)
		}

	case EventAuctionJoined, EventAuctionLeft:
		var cmd WSRoomCommand
		if err := json.Unmarshal(envelope.Data, &cmd); err != nil {
			return
		}
		ack := domain.RoomAck{AuctionID: cmd.AuctionID}

		w.handlerMu.RLock()
		handlers := w.ackHs
		w.handlerMu.RUnlock()
		for _, h := range handlers {
			h(envelope.Event, ack)
		}

	case EventError:
		var wsErr WSError
		if err := json.Unmarshal(envelope.Data, &wsErr); err != nil {
			return
		}
		ev := wsErr.ToDomain()

		w.handlerMu.RLock()
		handlers := w.channelErrHs
		w.handlerMu.RUnlock()
		for _, h := range handlers {
			h(ev)
		}
	}
}
