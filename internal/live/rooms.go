package live

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/Lujiluz/koilive/internal/domain"
)

// Channel is the slice of the push channel the room tracker needs: send a
// join or leave command and report connectivity. The WebSocket client
// satisfies it; tests use a fake.
type Channel interface {
	Connected() bool
	SendJoin(auctionID string) error
	SendLeave(auctionID string) error
}

// Membership is the local join state of one auction room.
type Membership string

const (
	MemberUnjoined Membership = "unjoined"
	MemberJoining  Membership = "joining"
	MemberJoined   Membership = "joined"
)

type roomState struct {
	membership Membership
	epoch      uint64
}

// RoomTracker owns the set of joined auction rooms. It deduplicates join
// requests across re-entries, guarantees symmetric leave on teardown, and
// guards async results against rooms that were left while the work was in
// flight.
type RoomTracker struct {
	mu     sync.Mutex
	rooms  map[string]*roomState
	epoch  uint64
	ch     Channel
	logger *slog.Logger
}

// NewRoomTracker creates a RoomTracker sending over the given channel.
func NewRoomTracker(ch Channel, logger *slog.Logger) *RoomTracker {
	return &RoomTracker{
		rooms:  make(map[string]*roomState),
		ch:     ch,
		logger: logger.With(slog.String("component", "rooms")),
	}
}

// Join subscribes to an auction room. Joining an already joined (or joining)
// room is a no-op. When the channel is disconnected it returns
// domain.ErrJoinNotReady and leaves the room unjoined; the caller retries on
// the next connected transition. The local state flips to joined as soon as
// the command is sent; the server ack is diagnostic only.
//
// The returned epoch identifies this join generation: async work started on
// behalf of the join (the authoritative pull) must present it to Current
// before applying its result.
func (rt *RoomTracker) Join(auctionID string) (uint64, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if room, ok := rt.rooms[auctionID]; ok && room.membership != MemberUnjoined {
		return room.epoch, nil
	}

	if !rt.ch.Connected() {
		return 0, fmt.Errorf("rooms: join %s: %w", auctionID, domain.ErrJoinNotReady)
	}

	rt.epoch++
	room := &roomState{membership: MemberJoining, epoch: rt.epoch}
	rt.rooms[auctionID] = room

	if err := rt.ch.SendJoin(auctionID); err != nil {
		delete(rt.rooms, auctionID)
		return 0, fmt.Errorf("rooms: join %s: %w", auctionID, err)
	}

	room.membership = MemberJoined
	rt.logger.Debug("room joined", slog.String("auction_id", auctionID))
	return room.epoch, nil
}

// Leave unsubscribes from an auction room. Not-joined rooms are a no-op.
// The room is removed from the joined set synchronously; the leave command
// is sent best-effort and no server acknowledgment is awaited.
func (rt *RoomTracker) Leave(auctionID string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.leaveLocked(auctionID)
}

func (rt *RoomTracker) leaveLocked(auctionID string) {
	room, ok := rt.rooms[auctionID]
	if !ok || room.membership == MemberUnjoined {
		return
	}
	delete(rt.rooms, auctionID)

	if rt.ch.Connected() {
		if err := rt.ch.SendLeave(auctionID); err != nil {
			rt.logger.Warn("leave send failed",
				slog.String("auction_id", auctionID),
				slog.String("error", err.Error()),
			)
		}
	}
	rt.logger.Debug("room left", slog.String("auction_id", auctionID))
}

// LeaveAll leaves every joined room and returns their IDs. Called on
// intentional teardown so the server never retains stale memberships.
func (rt *RoomTracker) LeaveAll() []string {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	ids := make([]string, 0, len(rt.rooms))
	for id := range rt.rooms {
		ids = append(ids, id)
	}
	for _, id := range ids {
		rt.leaveLocked(id)
	}
	return ids
}

// Joined reports whether the room is currently in the joined set.
func (rt *RoomTracker) Joined(auctionID string) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	room, ok := rt.rooms[auctionID]
	return ok && room.membership == MemberJoined
}

// Current reports whether the given epoch still identifies the live join
// generation for the room. Async results carrying a stale epoch (the room
// was left, or left and re-joined, while they were in flight) must be
// discarded.
func (rt *RoomTracker) Current(auctionID string, epoch uint64) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	room, ok := rt.rooms[auctionID]
	return ok && room.membership != MemberUnjoined && room.epoch == epoch
}

// Reset drops all membership state without sending leaves. Used when the
// connection is lost: the server-side memberships died with the socket and
// the engine re-joins from scratch on reconnect.
func (rt *RoomTracker) Reset() []string {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	ids := make([]string, 0, len(rt.rooms))
	for id := range rt.rooms {
		ids = append(ids, id)
	}
	rt.rooms = make(map[string]*roomState)
	return ids
}

// Rooms returns the IDs of all joined rooms.
func (rt *RoomTracker) Rooms() []string {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	ids := make([]string, 0, len(rt.rooms))
	for id, room := range rt.rooms {
		if room.membership == MemberJoined {
			ids = append(ids, id)
		}
	}
	return ids
}
