// Package game is the match engine: the phase state machine with its per-room
// broadcast loop, the per-click damage pipeline and power selection.
package game

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/clickbattle-gg/backend/powers"
	"github.com/clickbattle-gg/backend/protocol"
	"github.com/clickbattle-gg/backend/store"
)

const (
	// DefaultChoosingWindow is the fixed power-selection phase length.
	DefaultChoosingWindow = 6 * time.Second
	// DefaultDuration applies when game:start carries no durationSec.
	DefaultDuration = 90 * time.Second
	// DefaultTick is the broadcast loop interval.
	DefaultTick = 500 * time.Millisecond
	// DefaultClickMinGap is the per-player anti-cheat floor between clicks.
	DefaultClickMinGap = 50 * time.Millisecond
)

// Winner values broadcast in game:end.
const WinnerDraw = "DRAW"

// MatchResult is handed to the archiver once a match finishes.
type MatchResult struct {
	RoomID     string
	Scores     store.Scores
	Winner     string
	Players    []store.Player
	FinishedAt int64
}

// Archiver persists finished matches. Optional; a nil archiver disables it.
type Archiver interface {
	ArchiveMatch(ctx context.Context, res MatchResult) error
}

// Service drives matches. One broadcast loop runs per started room, owned by
// this process and cancelable through Stop. All counter state lives in the
// store; the loop itself is the only in-memory match state.
type Service struct {
	store   store.Store
	bus     protocol.Emitter
	log     *slog.Logger
	archive Archiver

	// Overridable for tests; leave at defaults in production.
	ChoosingWindow time.Duration
	Tick           time.Duration
	ClickMinGap    time.Duration

	now func() time.Time

	mu     sync.Mutex
	timers map[string]chan struct{}
}

// New builds a match service with production timings.
func New(st store.Store, bus protocol.Emitter, log *slog.Logger) *Service {
	return &Service{
		store:          st,
		bus:            bus,
		log:            log.With(slog.String("component", "game")),
		ChoosingWindow: DefaultChoosingWindow,
		Tick:           DefaultTick,
		ClickMinGap:    DefaultClickMinGap,
		now:            time.Now,
		timers:         make(map[string]chan struct{}),
	}
}

// SetArchiver attaches a match archiver. Call before serving traffic.
func (s *Service) SetArchiver(a Archiver) { s.archive = a }

func (s *Service) nowMs() int64 { return s.now().UnixMilli() }

// StartResult is the game:start ack payload.
type StartResult struct {
	RoomID         string `json:"roomId"`
	ChoosingEndsAt int64  `json:"choosingEndsAt"`
	EndsAt         int64  `json:"endsAt"`
}

// Start moves a WAITING room to IN_GAME: fixes the choosing and end
// deadlines, resets every per-match counter, deals a fresh power offer to
// each roster member and starts the room's broadcast loop. Only the host may
// start. Starting a room whose loop is already running is a no-op at the
// loop level.
func (s *Service) Start(ctx context.Context, roomID, requesterID string, duration time.Duration) (*StartResult, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, protocol.Err(protocol.CodeRoomNotFound)
	}
	if room.HostUserID != requesterID {
		return nil, protocol.Err(protocol.CodeForbiddenHostOnly)
	}
	if room.Status != store.StatusWaiting {
		return nil, protocol.Err(protocol.CodeRoomNotWaiting)
	}

	if duration <= 0 {
		duration = DefaultDuration
	}
	now := s.nowMs()
	choosingEndsAt := now + s.ChoosingWindow.Milliseconds()
	endsAt := choosingEndsAt + duration.Milliseconds()

	if err := s.store.SetRoomStatus(ctx, roomID, store.StatusInGame); err != nil {
		return nil, err
	}
	if err := s.store.SetRoomDeadlines(ctx, roomID, choosingEndsAt, endsAt); err != nil {
		return nil, err
	}

	// Fresh match: every counter from any previous match in this room goes.
	resets := []func(context.Context, string) error{
		s.store.ResetTeamScores,
		s.store.ResetPlayerScores,
		s.store.ResetClickCounts,
		s.store.ResetPowers,
		s.store.ResetOffers,
	}
	for _, reset := range resets {
		if err := reset(ctx, roomID); err != nil {
			return nil, err
		}
	}

	players, err := s.store.ListPlayers(ctx, roomID)
	if err != nil {
		return nil, err
	}
	for _, p := range players {
		offers := powers.DrawOffers(powers.OfferSize)
		if err := s.store.SetPlayerOffers(ctx, roomID, p.UserID, offers); err != nil {
			return nil, err
		}
		s.bus.ToUser(p.UserID, protocol.EvtOffers, protocol.Offers{
			RoomID: roomID,
			Offers: offers,
		})
	}

	s.bus.ToRoom(roomID, protocol.EvtChoosing, protocol.Choosing{
		RoomID:         roomID,
		ChoosingEndsAt: choosingEndsAt,
		EndsAt:         endsAt,
		DurationMs:     duration.Milliseconds(),
	})
	s.broadcastScores(ctx, roomID)

	s.startLoop(roomID, choosingEndsAt, endsAt)

	s.log.Info("match started",
		slog.String("roomId", roomID),
		slog.Int64("choosingEndsAt", choosingEndsAt),
		slog.Int64("endsAt", endsAt),
		slog.Int("players", len(players)))

	return &StartResult{RoomID: roomID, ChoosingEndsAt: choosingEndsAt, EndsAt: endsAt}, nil
}

// startLoop spawns the room's broadcast loop unless one is already running.
func (s *Service) startLoop(roomID string, choosingEndsAt, endsAt int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, running := s.timers[roomID]; running {
		return
	}
	stop := make(chan struct{})
	s.timers[roomID] = stop
	go s.runLoop(roomID, choosingEndsAt, endsAt, stop)
}

// Stop cancels the room's broadcast loop if one is running. Idempotent; used
// on room deletion and by tests.
func (s *Service) Stop(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stop, ok := s.timers[roomID]; ok {
		close(stop)
		delete(s.timers, roomID)
	}
}

// clearTimer removes the loop's own registration once it ends naturally.
// Compares the channel so a Stop/Start pair in between is not clobbered.
func (s *Service) clearTimer(roomID string, stop chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.timers[roomID]; ok && cur == stop {
		delete(s.timers, roomID)
	}
}

// runLoop broadcasts game:timer every tick, emits the one-time game:play
// transition when the choosing deadline passes, and finishes the match when
// the clock runs out. Phase is recomputed from the deadlines on every tick,
// never stored.
func (s *Service) runLoop(roomID string, choosingEndsAt, endsAt int64, stop chan struct{}) {
	defer s.clearTimer(roomID, stop)

	ticker := time.NewTicker(s.Tick)
	defer ticker.Stop()

	playStarted := false
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			now := s.nowMs()

			if now < choosingEndsAt {
				s.bus.ToRoom(roomID, protocol.EvtTimer, protocol.Timer{
					RoomID:     roomID,
					Phase:      protocol.PhaseChoosing,
					TimeLeftMs: choosingEndsAt - now,
				})
				continue
			}

			if !playStarted {
				playStarted = true
				s.bus.ToRoom(roomID, protocol.EvtPlay, protocol.Play{
					RoomID:     roomID,
					EndsAt:     endsAt,
					DurationMs: endsAt - choosingEndsAt,
				})
			}

			timeLeft := endsAt - now
			if timeLeft <= 0 {
				s.finish(roomID)
				return
			}

			s.bus.ToRoom(roomID, protocol.EvtTimer, protocol.Timer{
				RoomID:     roomID,
				Phase:      protocol.PhasePlaying,
				TimeLeftMs: timeLeft,
				EndsAt:     endsAt,
			})
		}
	}
}

// finish closes the match: FINISHED status, final scores, winner, one
// game:end broadcast, then the optional archive write.
func (s *Service) finish(roomID string) {
	ctx := context.Background()

	if err := s.store.SetRoomStatus(ctx, roomID, store.StatusFinished); err != nil {
		s.log.Error("finish: set status", slog.String("roomId", roomID), slog.Any("error", err))
	}

	scores, err := s.store.TeamScores(ctx, roomID)
	if err != nil {
		s.log.Error("finish: read scores", slog.String("roomId", roomID), slog.Any("error", err))
	}

	winner := WinnerDraw
	switch {
	case scores.A > scores.B:
		winner = store.TeamA
	case scores.B > scores.A:
		winner = store.TeamB
	}

	s.bus.ToRoom(roomID, protocol.EvtEnd, protocol.End{
		RoomID: roomID,
		Scores: scores,
		Winner: winner,
	})
	s.log.Info("match finished",
		slog.String("roomId", roomID),
		slog.String("winner", winner),
		slog.Int64("scoreA", scores.A),
		slog.Int64("scoreB", scores.B))

	if s.archive == nil {
		return
	}
	players, err := s.store.ListPlayers(ctx, roomID)
	if err != nil {
		s.log.Error("finish: list players", slog.String("roomId", roomID), slog.Any("error", err))
		return
	}
	res := MatchResult{
		RoomID:     roomID,
		Scores:     scores,
		Winner:     winner,
		Players:    players,
		FinishedAt: s.nowMs(),
	}
	go func() {
		if err := s.archive.ArchiveMatch(context.Background(), res); err != nil {
			s.log.Error("archive match", slog.String("roomId", roomID), slog.Any("error", err))
		}
	}()
}

func (s *Service) broadcastScores(ctx context.Context, roomID string) {
	scores, err := s.store.TeamScores(ctx, roomID)
	if err != nil {
		s.log.Error("broadcast scores", slog.String("roomId", roomID), slog.Any("error", err))
		return
	}
	s.bus.ToRoom(roomID, protocol.EvtScoreUpdate, protocol.ScoreUpdate{
		RoomID: roomID,
		Scores: scores,
	})
}
