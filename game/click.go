package game

import (
	"context"

	"github.com/clickbattle-gg/backend/powers"
	"github.com/clickbattle-gg/backend/protocol"
	"github.com/clickbattle-gg/backend/store"
)

// ClickResult is the game:click ack payload.
type ClickResult struct {
	Damage        int   `json:"damage"`
	PersonalScore int64 `json:"personalScore"`
}

// Click runs the per-click pipeline: phase and roster checks, the 50ms rate
// limit, then the accepted path — last-click stamp, atomic click count,
// effective power, damage, atomic player+team score increments and the score
// broadcasts. A rejected click mutates nothing.
func (s *Service) Click(ctx context.Context, roomID, userID string) (*ClickResult, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, protocol.Err(protocol.CodeRoomNotFound)
	}
	if room.Status != store.StatusInGame {
		return nil, protocol.Err(protocol.CodeNotInGame)
	}

	now := s.nowMs()
	if now < room.ChoosingEndsAt {
		return nil, protocol.Err(protocol.CodeChoosingPhase)
	}
	if room.EndsAt == 0 || now >= room.EndsAt {
		return nil, protocol.Err(protocol.CodeGameAlreadyEnded)
	}

	player, err := s.store.GetPlayer(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	if player == nil {
		return nil, protocol.Err(protocol.CodePlayerNotInRoom)
	}
	if player.Team == "" {
		return nil, protocol.Err(protocol.CodePlayerNoTeam)
	}

	last, err := s.store.LastClick(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	if last != 0 && now-last < s.ClickMinGap.Milliseconds() {
		return nil, protocol.Err(protocol.CodeRateLimit)
	}

	// Accepted from here on.
	if err := s.store.SetLastClick(ctx, roomID, userID, now); err != nil {
		return nil, err
	}
	clickCount, err := s.store.IncrClickCount(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}

	powerID, err := s.effectivePower(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}

	progress := matchProgress(now, room.ChoosingEndsAt, room.EndsAt)
	damage := powers.Damage(powerID, clickCount, progress)

	// Both score increments land in one unit of work so the team aggregates
	// never drift from the sum of personal scores.
	personal, err := s.store.ApplyDamage(ctx, roomID, userID, player.Team, damage)
	if err != nil {
		return nil, err
	}

	s.broadcastScores(ctx, roomID)
	s.bus.ToUser(userID, protocol.EvtPersonalScore, protocol.PersonalScore{
		RoomID:        roomID,
		UserID:        userID,
		PersonalScore: personal,
	})

	return &ClickResult{Damage: damage, PersonalScore: personal}, nil
}

// effectivePower resolves what a click uses, without writing anything back:
// the committed choice, else the first offered power, else the engine
// default. A player who never chooses keeps playing their first offer.
func (s *Service) effectivePower(ctx context.Context, roomID, userID string) (string, error) {
	chosen, err := s.store.PlayerPower(ctx, roomID, userID)
	if err != nil {
		return "", err
	}
	if chosen != "" {
		return chosen, nil
	}
	offers, err := s.store.PlayerOffers(ctx, roomID, userID)
	if err != nil {
		return "", err
	}
	if len(offers) > 0 {
		return offers[0], nil
	}
	return powers.Default, nil
}

// matchProgress is elapsed PLAYING time over the PLAYING window, clamped to
// [0,1].
func matchProgress(now, choosingEndsAt, endsAt int64) float64 {
	window := endsAt - choosingEndsAt
	if window <= 0 {
		return 1
	}
	p := float64(now-choosingEndsAt) / float64(window)
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// ChooseResult is the game:choosePower ack payload.
type ChooseResult struct {
	PowerID string `json:"powerId"`
}

// ChoosePower commits a player's power for the match. Only valid while the
// choosing window is open, and only for a power in that player's offer. An id
// outside the catalog is just an id outside the offer. This is the sole
// writer of the committed power; Click only reads it.
func (s *Service) ChoosePower(ctx context.Context, roomID, userID, powerID string) (*ChooseResult, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, protocol.Err(protocol.CodeRoomNotFound)
	}
	if room.Status != store.StatusInGame {
		return nil, protocol.Err(protocol.CodeNotInGame)
	}
	if s.nowMs() >= room.ChoosingEndsAt {
		return nil, protocol.Err(protocol.CodeChoosingPhaseEnded)
	}

	player, err := s.store.GetPlayer(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	if player == nil {
		return nil, protocol.Err(protocol.CodePlayerNotInRoom)
	}

	offers, err := s.store.PlayerOffers(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	offered := false
	for _, id := range offers {
		if id == powerID {
			offered = true
			break
		}
	}
	if !offered {
		return nil, protocol.Err(protocol.CodePowerNotOffered)
	}

	if err := s.store.SetPlayerPower(ctx, roomID, userID, powerID); err != nil {
		return nil, err
	}
	return &ChooseResult{PowerID: powerID}, nil
}
