package live

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lujiluz/koilive/internal/domain"
)

// fakeChannel records join/leave commands for room tracker tests.
type fakeChannel struct {
	mu        sync.Mutex
	connected bool
	joins     []string
	leaves    []string
	joinErr   error
}

func (f *fakeChannel) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeChannel) SendJoin(auctionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.joinErr != nil {
		return f.joinErr
	}
	f.joins = append(f.joins, auctionID)
	return nil
}

func (f *fakeChannel) SendLeave(auctionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves = append(f.leaves, auctionID)
	return nil
}

func (f *fakeChannel) setConnected(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = v
}

func (f *fakeChannel) sentJoins() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.joins...)
}

func (f *fakeChannel) sentLeaves() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.leaves...)
}

func TestRoomJoinIsIdempotent(t *testing.T) {
	ch := &fakeChannel{connected: true}
	rt := NewRoomTracker(ch, testLogger())

	epoch1, err := rt.Join("a-1")
	require.NoError(t, err)
	epoch2, err := rt.Join("a-1")
	require.NoError(t, err)

	assert.Equal(t, epoch1, epoch2, "re-join returns the live epoch")
	assert.Equal(t, []string{"a-1"}, ch.sentJoins(), "only one join command on the wire")
	assert.True(t, rt.Joined("a-1"))
}

func TestRoomJoinWhileDisconnected(t *testing.T) {
	ch := &fakeChannel{connected: false}
	rt := NewRoomTracker(ch, testLogger())

	_, err := rt.Join("a-1")
	require.ErrorIs(t, err, domain.ErrJoinNotReady)
	assert.False(t, rt.Joined("a-1"))
	assert.Empty(t, ch.sentJoins())
}

func TestRoomJoinSendFailureRollsBack(t *testing.T) {
	ch := &fakeChannel{connected: true, joinErr: errors.New("broken pipe")}
	rt := NewRoomTracker(ch, testLogger())

	_, err := rt.Join("a-1")
	require.Error(t, err)
	assert.False(t, rt.Joined("a-1"))

	// A later retry starts clean.
	ch.mu.Lock()
	ch.joinErr = nil
	ch.mu.Unlock()
	_, err = rt.Join("a-1")
	require.NoError(t, err)
	assert.True(t, rt.Joined("a-1"))
}

func TestRoomLeaveIsImmediateAndBestEffort(t *testing.T) {
	ch := &fakeChannel{connected: true}
	rt := NewRoomTracker(ch, testLogger())

	_, err := rt.Join("a-1")
	require.NoError(t, err)

	rt.Leave("a-1")
	assert.False(t, rt.Joined("a-1"), "membership drops synchronously, no ack awaited")
	assert.Equal(t, []string{"a-1"}, ch.sentLeaves())

	// Leaving a room that is not joined is a no-op.
	rt.Leave("a-1")
	assert.Equal(t, []string{"a-1"}, ch.sentLeaves())
}

func TestRoomLeaveAllOnTeardown(t *testing.T) {
	ch := &fakeChannel{connected: true}
	rt := NewRoomTracker(ch, testLogger())

	for _, id := range []string{"a-1", "a-2", "a-3"} {
		_, err := rt.Join(id)
		require.NoError(t, err)
	}

	left := rt.LeaveAll()
	assert.ElementsMatch(t, []string{"a-1", "a-2", "a-3"}, left)
	assert.ElementsMatch(t, []string{"a-1", "a-2", "a-3"}, ch.sentLeaves())
	assert.Empty(t, rt.Rooms())
}

func TestRoomResetSendsNoLeaves(t *testing.T) {
	ch := &fakeChannel{connected: true}
	rt := NewRoomTracker(ch, testLogger())

	_, err := rt.Join("a-1")
	require.NoError(t, err)

	ch.setConnected(false)
	dropped := rt.Reset()

	assert.Equal(t, []string{"a-1"}, dropped)
	assert.Empty(t, ch.sentLeaves(), "dead socket: nothing to send leaves on")
	assert.False(t, rt.Joined("a-1"))
}

func TestRoomEpochGuardsLatePullResults(t *testing.T) {
	ch := &fakeChannel{connected: true}
	rt := NewRoomTracker(ch, testLogger())

	epoch, err := rt.Join("a-1")
	require.NoError(t, err)
	assert.True(t, rt.Current("a-1", epoch))

	// The user leaves while the pull is still in flight: its epoch goes
	// stale and the result must be discarded.
	rt.Leave("a-1")
	assert.False(t, rt.Current("a-1", epoch))

	// Re-joining mints a new epoch; the old pull stays invalid.
	epoch2, err := rt.Join("a-1")
	require.NoError(t, err)
	assert.NotEqual(t, epoch, epoch2)
	assert.False(t, rt.Current("a-1", epoch))
	assert.True(t, rt.Current("a-1", epoch2))
}
