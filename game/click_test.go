package game

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clickbattle-gg/backend/powers"
	"github.com/clickbattle-gg/backend/protocol"
	"github.com/clickbattle-gg/backend/store"
)

// startedRoom seeds an IN_GAME room and advances the clock past the choosing
// window so clicks are accepted.
func startedRoom(t *testing.T, s *Service, st *store.Memory, clock *fakeClock, members ...store.Player) {
	t.Helper()
	seedRoom(t, st, "r1", "host", members...)
	_, err := s.Start(context.Background(), "r1", "host", 60*time.Second)
	require.NoError(t, err)
	s.Stop("r1") // the loop is not under test here
	clock.advance(s.ChoosingWindow + time.Second)
}

func TestClickAccepted(t *testing.T) {
	s, st, bus, clock := newTestService(t)
	ctx := context.Background()
	startedRoom(t, s, st, clock,
		store.Player{UserID: "host", Team: store.TeamA},
		store.Player{UserID: "u2", Team: store.TeamB})

	// Pin a deterministic power.
	require.NoError(t, st.SetPlayerPower(ctx, "r1", "host", powers.DoubleImpact))

	res, err := s.Click(ctx, "r1", "host")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Damage)
	assert.Equal(t, int64(2), res.PersonalScore)

	scores, err := st.TeamScores(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), scores.A)
	assert.Zero(t, scores.B)

	personal := bus.byType(protocol.EvtPersonalScore)
	require.NotEmpty(t, personal)
	last := personal[len(personal)-1].payload.(protocol.PersonalScore)
	assert.Equal(t, "host", last.UserID)
	assert.Equal(t, int64(2), last.PersonalScore)
}

func TestClickRateLimited(t *testing.T) {
	s, st, _, clock := newTestService(t)
	ctx := context.Background()
	startedRoom(t, s, st, clock, store.Player{UserID: "host", Team: store.TeamA})
	require.NoError(t, st.SetPlayerPower(ctx, "r1", "host", powers.DoubleImpact))

	_, err := s.Click(ctx, "r1", "host")
	require.NoError(t, err)

	// Second click inside the minimum gap: refused, nothing mutated.
	clock.advance(10 * time.Millisecond)
	_, err = s.Click(ctx, "r1", "host")
	assert.Equal(t, protocol.CodeRateLimit, protocol.CodeOf(err))

	scores, err := st.TeamScores(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), scores.A)

	count, err := st.IncrClickCount(ctx, "r1", "host")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count, "rejected click must not have counted")

	// Past the gap the next click goes through.
	clock.advance(s.ClickMinGap)
	_, err = s.Click(ctx, "r1", "host")
	require.NoError(t, err)
}

func TestClickDuringChoosing(t *testing.T) {
	s, st, _, _ := newTestService(t)
	ctx := context.Background()
	seedRoom(t, st, "r1", "host", store.Player{UserID: "host", Team: store.TeamA})
	_, err := s.Start(ctx, "r1", "host", 60*time.Second)
	require.NoError(t, err)
	s.Stop("r1")

	_, err = s.Click(ctx, "r1", "host")
	assert.Equal(t, protocol.CodeChoosingPhase, protocol.CodeOf(err))
}

func TestClickAfterEnd(t *testing.T) {
	s, st, _, clock := newTestService(t)
	ctx := context.Background()
	startedRoom(t, s, st, clock, store.Player{UserID: "host", Team: store.TeamA})

	clock.advance(2 * time.Minute)
	_, err := s.Click(ctx, "r1", "host")
	assert.Equal(t, protocol.CodeGameAlreadyEnded, protocol.CodeOf(err))
}

func TestClickOutsideRoster(t *testing.T) {
	s, st, _, clock := newTestService(t)
	ctx := context.Background()
	startedRoom(t, s, st, clock, store.Player{UserID: "host", Team: store.TeamA})

	_, err := s.Click(ctx, "r1", "stranger")
	assert.Equal(t, protocol.CodePlayerNotInRoom, protocol.CodeOf(err))
}

func TestClickWithoutTeam(t *testing.T) {
	s, st, _, clock := newTestService(t)
	ctx := context.Background()
	startedRoom(t, s, st, clock,
		store.Player{UserID: "host", Team: store.TeamA},
		store.Player{UserID: "u2"})

	_, err := s.Click(ctx, "r1", "u2")
	assert.Equal(t, protocol.CodePlayerNoTeam, protocol.CodeOf(err))
}

func TestClickUnknownOrWaitingRoom(t *testing.T) {
	s, st, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := s.Click(ctx, "nope", "host")
	assert.Equal(t, protocol.CodeRoomNotFound, protocol.CodeOf(err))

	seedRoom(t, st, "r1", "host", store.Player{UserID: "host", Team: store.TeamA})
	_, err = s.Click(ctx, "r1", "host")
	assert.Equal(t, protocol.CodeNotInGame, protocol.CodeOf(err))
}

func TestClickFallsBackToFirstOffer(t *testing.T) {
	s, st, _, clock := newTestService(t)
	ctx := context.Background()
	startedRoom(t, s, st, clock, store.Player{UserID: "host", Team: store.TeamA})

	// No committed power: the first offer applies.
	require.NoError(t, st.SetPlayerOffers(ctx, "r1", "host", []string{powers.DoubleImpact, powers.Bombe, powers.Retardement}))

	res, err := s.Click(ctx, "r1", "host")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Damage)

	// The fallback is never written back as a committed choice.
	chosen, err := st.PlayerPower(ctx, "r1", "host")
	require.NoError(t, err)
	assert.Empty(t, chosen)
}

func TestScoresStayConsistent(t *testing.T) {
	s, st, _, clock := newTestService(t)
	ctx := context.Background()
	startedRoom(t, s, st, clock,
		store.Player{UserID: "host", Team: store.TeamA},
		store.Player{UserID: "u2", Team: store.TeamB})
	require.NoError(t, st.SetPlayerOffers(ctx, "r1", "host", []string{powers.RafaleInstable}))
	require.NoError(t, st.SetPlayerOffers(ctx, "r1", "u2", []string{powers.FurieCyclique}))

	for i := 0; i < 30; i++ {
		clock.advance(s.ClickMinGap + time.Millisecond)
		_, err := s.Click(ctx, "r1", "host")
		require.NoError(t, err)
		_, err = s.Click(ctx, "r1", "u2")
		require.NoError(t, err)
	}

	scores, err := st.TeamScores(ctx, "r1")
	require.NoError(t, err)
	hostScore, err := st.PlayerScore(ctx, "r1", "host")
	require.NoError(t, err)
	u2Score, err := st.PlayerScore(ctx, "r1", "u2")
	require.NoError(t, err)

	// Each team's score is the sum of its members' personal scores.
	assert.Equal(t, hostScore, scores.A)
	assert.Equal(t, u2Score, scores.B)
}

// failingStore refuses the combined score write, standing in for a Redis
// transaction error mid-click.
type failingStore struct {
	*store.Memory
}

func (f *failingStore) ApplyDamage(context.Context, string, string, string, int) (int64, error) {
	return 0, errors.New("tx failed")
}

func TestClickScoreWriteFailsAtomically(t *testing.T) {
	st := store.NewMemory()
	bus := &fakeBus{}
	clock := &fakeClock{ms: 1_000_000}
	s := New(&failingStore{Memory: st}, bus, slog.Default())
	s.now = clock.now

	ctx := context.Background()
	seedRoom(t, st, "r1", "host", store.Player{UserID: "host", Team: store.TeamA})
	_, err := s.Start(ctx, "r1", "host", 60*time.Second)
	require.NoError(t, err)
	s.Stop("r1")
	clock.advance(s.ChoosingWindow + time.Second)

	_, err = s.Click(ctx, "r1", "host")
	require.Error(t, err)

	// The failed click must not leave a half-applied score on either side.
	personal, err := st.PlayerScore(ctx, "r1", "host")
	require.NoError(t, err)
	assert.Zero(t, personal)
	scores, err := st.TeamScores(ctx, "r1")
	require.NoError(t, err)
	assert.Zero(t, scores.A)
	assert.Zero(t, scores.B)
}

func TestChoosePowerCommits(t *testing.T) {
	s, st, _, _ := newTestService(t)
	ctx := context.Background()
	seedRoom(t, st, "r1", "host", store.Player{UserID: "host", Team: store.TeamA})
	_, err := s.Start(ctx, "r1", "host", 60*time.Second)
	require.NoError(t, err)
	s.Stop("r1")

	offers, err := st.PlayerOffers(ctx, "r1", "host")
	require.NoError(t, err)
	require.NotEmpty(t, offers)

	res, err := s.ChoosePower(ctx, "r1", "host", offers[1])
	require.NoError(t, err)
	assert.Equal(t, offers[1], res.PowerID)

	chosen, err := st.PlayerPower(ctx, "r1", "host")
	require.NoError(t, err)
	assert.Equal(t, offers[1], chosen)
}

func TestChoosePowerNotOffered(t *testing.T) {
	s, st, _, _ := newTestService(t)
	ctx := context.Background()
	seedRoom(t, st, "r1", "host", store.Player{UserID: "host", Team: store.TeamA})
	_, err := s.Start(ctx, "r1", "host", 60*time.Second)
	require.NoError(t, err)
	s.Stop("r1")

	offers, err := st.PlayerOffers(ctx, "r1", "host")
	require.NoError(t, err)
	offered := make(map[string]bool)
	for _, id := range offers {
		offered[id] = true
	}
	var outside string
	for _, p := range powers.Catalog {
		if !offered[p.ID] {
			outside = p.ID
			break
		}
	}
	require.NotEmpty(t, outside)

	_, err = s.ChoosePower(ctx, "r1", "host", outside)
	assert.Equal(t, protocol.CodePowerNotOffered, protocol.CodeOf(err))
}

func TestChoosePowerAfterWindow(t *testing.T) {
	s, st, _, clock := newTestService(t)
	ctx := context.Background()
	startedRoom(t, s, st, clock, store.Player{UserID: "host", Team: store.TeamA})

	offers, err := st.PlayerOffers(ctx, "r1", "host")
	require.NoError(t, err)
	require.NotEmpty(t, offers)

	_, err = s.ChoosePower(ctx, "r1", "host", offers[0])
	assert.Equal(t, protocol.CodeChoosingPhaseEnded, protocol.CodeOf(err))
}

func TestChoosePowerUnknownIDNotOffered(t *testing.T) {
	s, st, _, _ := newTestService(t)
	ctx := context.Background()
	seedRoom(t, st, "r1", "host", store.Player{UserID: "host", Team: store.TeamA})
	_, err := s.Start(ctx, "r1", "host", 60*time.Second)
	require.NoError(t, err)
	s.Stop("r1")

	// An id outside the catalog is refused as not offered, like any id
	// outside the player's offer.
	_, err = s.ChoosePower(ctx, "r1", "host", "apoutchou")
	assert.Equal(t, protocol.CodePowerNotOffered, protocol.CodeOf(err))

	// Room and roster problems surface before the offer check, whatever the
	// id looks like.
	_, err = s.ChoosePower(ctx, "nope", "host", "apoutchou")
	assert.Equal(t, protocol.CodeRoomNotFound, protocol.CodeOf(err))
	_, err = s.ChoosePower(ctx, "r1", "stranger", "apoutchou")
	assert.Equal(t, protocol.CodePlayerNotInRoom, protocol.CodeOf(err))
}

func TestChoosePowerOutsideRoster(t *testing.T) {
	s, st, _, _ := newTestService(t)
	ctx := context.Background()
	seedRoom(t, st, "r1", "host", store.Player{UserID: "host", Team: store.TeamA})
	_, err := s.Start(ctx, "r1", "host", 60*time.Second)
	require.NoError(t, err)
	s.Stop("r1")

	_, err = s.ChoosePower(ctx, "r1", "stranger", powers.Bombe)
	assert.Equal(t, protocol.CodePlayerNotInRoom, protocol.CodeOf(err))
}

func TestMatchProgressClamps(t *testing.T) {
	assert.Equal(t, 0.0, matchProgress(50, 100, 200))
	assert.Equal(t, 0.5, matchProgress(150, 100, 200))
	assert.Equal(t, 1.0, matchProgress(300, 100, 200))
	assert.Equal(t, 1.0, matchProgress(100, 100, 100))
}
