package game

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clickbattle-gg/backend/powers"
	"github.com/clickbattle-gg/backend/protocol"
	"github.com/clickbattle-gg/backend/store"
)

// fakeBus records every emission so tests can assert on broadcast order.
type fakeBus struct {
	mu     sync.Mutex
	events []busEvent
}

type busEvent struct {
	scope   string // "room", "user" or "lobby"
	target  string
	event   string
	payload any
}

func (b *fakeBus) ToRoom(roomID, event string, payload any) {
	b.record(busEvent{scope: "room", target: roomID, event: event, payload: payload})
}

func (b *fakeBus) ToUser(userID, event string, payload any) {
	b.record(busEvent{scope: "user", target: userID, event: event, payload: payload})
}

func (b *fakeBus) ToLobby(event string, payload any) {
	b.record(busEvent{scope: "lobby", event: event, payload: payload})
}

func (b *fakeBus) record(e busEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *fakeBus) byType(event string) []busEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []busEvent
	for _, e := range b.events {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

// fakeClock drives the service's time without sleeping.
type fakeClock struct {
	mu sync.Mutex
	ms int64
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.UnixMilli(c.ms)
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ms += d.Milliseconds()
}

func newTestService(t *testing.T) (*Service, *store.Memory, *fakeBus, *fakeClock) {
	t.Helper()
	st := store.NewMemory()
	bus := &fakeBus{}
	clock := &fakeClock{ms: 1_000_000}
	s := New(st, bus, slog.Default())
	s.now = clock.now
	return s, st, bus, clock
}

func seedRoom(t *testing.T, st *store.Memory, roomID, hostID string, members ...store.Player) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.CreateRoom(ctx, store.Room{
		RoomID:     roomID,
		HostUserID: hostID,
		Status:     store.StatusWaiting,
	}))
	for _, p := range members {
		require.NoError(t, st.PutPlayer(ctx, roomID, p))
	}
}

func TestStartFixesDeadlines(t *testing.T) {
	s, st, bus, clock := newTestService(t)
	ctx := context.Background()
	seedRoom(t, st, "r1", "host",
		store.Player{UserID: "host", Name: "Alice", Team: store.TeamA},
		store.Player{UserID: "u2", Name: "Bob", Team: store.TeamB})
	defer s.Stop("r1")

	res, err := s.Start(ctx, "r1", "host", 30*time.Second)
	require.NoError(t, err)

	now := clock.now().UnixMilli()
	assert.Equal(t, now+s.ChoosingWindow.Milliseconds(), res.ChoosingEndsAt)
	assert.Equal(t, res.ChoosingEndsAt+30_000, res.EndsAt)

	room, err := st.GetRoom(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusInGame, room.Status)
	assert.Equal(t, res.ChoosingEndsAt, room.ChoosingEndsAt)
	assert.Equal(t, res.EndsAt, room.EndsAt)

	choosing := bus.byType(protocol.EvtChoosing)
	require.Len(t, choosing, 1)
	payload := choosing[0].payload.(protocol.Choosing)
	assert.Equal(t, int64(30_000), payload.DurationMs)
	assert.Equal(t, payload.EndsAt-payload.ChoosingEndsAt, payload.DurationMs)
}

func TestStartDefaultsDuration(t *testing.T) {
	s, st, _, _ := newTestService(t)
	seedRoom(t, st, "r1", "host", store.Player{UserID: "host", Team: store.TeamA})
	defer s.Stop("r1")

	res, err := s.Start(context.Background(), "r1", "host", 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultDuration.Milliseconds(), res.EndsAt-res.ChoosingEndsAt)
}

func TestStartHostOnly(t *testing.T) {
	s, st, _, _ := newTestService(t)
	seedRoom(t, st, "r1", "host", store.Player{UserID: "host", Team: store.TeamA})

	_, err := s.Start(context.Background(), "r1", "u2", 30*time.Second)
	assert.Equal(t, protocol.CodeForbiddenHostOnly, protocol.CodeOf(err))
}

func TestStartUnknownRoom(t *testing.T) {
	s, _, _, _ := newTestService(t)

	_, err := s.Start(context.Background(), "nope", "host", 30*time.Second)
	assert.Equal(t, protocol.CodeRoomNotFound, protocol.CodeOf(err))
}

func TestStartRequiresWaiting(t *testing.T) {
	s, st, _, _ := newTestService(t)
	ctx := context.Background()
	seedRoom(t, st, "r1", "host", store.Player{UserID: "host", Team: store.TeamA})
	defer s.Stop("r1")

	_, err := s.Start(ctx, "r1", "host", 30*time.Second)
	require.NoError(t, err)

	_, err = s.Start(ctx, "r1", "host", 30*time.Second)
	assert.Equal(t, protocol.CodeRoomNotWaiting, protocol.CodeOf(err))
}

func TestStartDealsOffersPrivately(t *testing.T) {
	s, st, bus, _ := newTestService(t)
	ctx := context.Background()
	seedRoom(t, st, "r1", "host",
		store.Player{UserID: "host", Team: store.TeamA},
		store.Player{UserID: "u2", Team: store.TeamB})
	defer s.Stop("r1")

	_, err := s.Start(ctx, "r1", "host", 30*time.Second)
	require.NoError(t, err)

	offers := bus.byType(protocol.EvtOffers)
	require.Len(t, offers, 2)
	for _, e := range offers {
		assert.Equal(t, "user", e.scope)
		payload := e.payload.(protocol.Offers)
		assert.Len(t, payload.Offers, powers.OfferSize)

		stored, err := st.PlayerOffers(ctx, "r1", e.target)
		require.NoError(t, err)
		assert.Equal(t, payload.Offers, stored)
	}
}

func TestStartResetsPreviousMatchState(t *testing.T) {
	s, st, _, _ := newTestService(t)
	ctx := context.Background()
	seedRoom(t, st, "r1", "host", store.Player{UserID: "host", Team: store.TeamA})
	defer s.Stop("r1")

	// Leftovers from an earlier match in the same room.
	_, err := st.IncrTeamScore(ctx, "r1", store.TeamA, 40)
	require.NoError(t, err)
	_, err = st.IncrPlayerScore(ctx, "r1", "host", 40)
	require.NoError(t, err)
	_, err = st.IncrClickCount(ctx, "r1", "host")
	require.NoError(t, err)
	require.NoError(t, st.SetPlayerPower(ctx, "r1", "host", powers.Bombe))

	_, err = s.Start(ctx, "r1", "host", 30*time.Second)
	require.NoError(t, err)

	scores, err := st.TeamScores(ctx, "r1")
	require.NoError(t, err)
	assert.Zero(t, scores.A)
	assert.Zero(t, scores.B)

	personal, err := st.PlayerScore(ctx, "r1", "host")
	require.NoError(t, err)
	assert.Zero(t, personal)

	chosen, err := st.PlayerPower(ctx, "r1", "host")
	require.NoError(t, err)
	assert.Empty(t, chosen)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestLoopFinishesMatchOnce(t *testing.T) {
	s, st, bus, clock := newTestService(t)
	ctx := context.Background()
	s.ChoosingWindow = 20 * time.Millisecond
	s.Tick = 5 * time.Millisecond
	seedRoom(t, st, "r1", "host",
		store.Player{UserID: "host", Team: store.TeamA},
		store.Player{UserID: "u2", Team: store.TeamB})
	defer s.Stop("r1")

	_, err := s.Start(ctx, "r1", "host", 50*time.Millisecond)
	require.NoError(t, err)

	// Choosing phase ticks first.
	waitFor(t, time.Second, func() bool {
		for _, e := range bus.byType(protocol.EvtTimer) {
			if e.payload.(protocol.Timer).Phase == protocol.PhaseChoosing {
				return true
			}
		}
		return false
	})

	clock.advance(25 * time.Millisecond)
	waitFor(t, time.Second, func() bool { return len(bus.byType(protocol.EvtPlay)) >= 1 })

	clock.advance(time.Second)
	waitFor(t, time.Second, func() bool { return len(bus.byType(protocol.EvtEnd)) >= 1 })

	// The loop exits after finishing; give it a moment and confirm exactly one
	// end event and exactly one play transition.
	time.Sleep(30 * time.Millisecond)
	assert.Len(t, bus.byType(protocol.EvtEnd), 1)
	assert.Len(t, bus.byType(protocol.EvtPlay), 1)

	room, err := st.GetRoom(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusFinished, room.Status)

	end := bus.byType(protocol.EvtEnd)[0].payload.(protocol.End)
	assert.Equal(t, WinnerDraw, end.Winner)
}

func TestFinishPicksWinner(t *testing.T) {
	s, st, bus, _ := newTestService(t)
	ctx := context.Background()
	seedRoom(t, st, "r1", "host", store.Player{UserID: "host", Team: store.TeamA})

	_, err := st.IncrTeamScore(ctx, "r1", store.TeamA, 10)
	require.NoError(t, err)
	_, err = st.IncrTeamScore(ctx, "r1", store.TeamB, 25)
	require.NoError(t, err)

	s.finish("r1")

	ends := bus.byType(protocol.EvtEnd)
	require.Len(t, ends, 1)
	end := ends[0].payload.(protocol.End)
	assert.Equal(t, store.TeamB, end.Winner)
	assert.Equal(t, int64(10), end.Scores.A)
	assert.Equal(t, int64(25), end.Scores.B)
}

func TestFinishArchivesMatch(t *testing.T) {
	s, st, _, _ := newTestService(t)
	ctx := context.Background()
	seedRoom(t, st, "r1", "host",
		store.Player{UserID: "host", Name: "Alice", Team: store.TeamA})

	_, err := st.IncrTeamScore(ctx, "r1", store.TeamA, 5)
	require.NoError(t, err)

	done := make(chan MatchResult, 1)
	s.SetArchiver(archiveFunc(func(_ context.Context, res MatchResult) error {
		done <- res
		return nil
	}))

	s.finish("r1")

	select {
	case res := <-done:
		assert.Equal(t, "r1", res.RoomID)
		assert.Equal(t, store.TeamA, res.Winner)
		require.Len(t, res.Players, 1)
		assert.Equal(t, "Alice", res.Players[0].Name)
	case <-time.After(time.Second):
		t.Fatal("archive never called")
	}
}

type archiveFunc func(ctx context.Context, res MatchResult) error

func (f archiveFunc) ArchiveMatch(ctx context.Context, res MatchResult) error { return f(ctx, res) }

func TestStopIsIdempotent(t *testing.T) {
	s, st, _, _ := newTestService(t)
	seedRoom(t, st, "r1", "host", store.Player{UserID: "host", Team: store.TeamA})

	_, err := s.Start(context.Background(), "r1", "host", 30*time.Second)
	require.NoError(t, err)

	s.Stop("r1")
	s.Stop("r1")
	s.Stop("never-started")
}
