// Package rooms manages the room lifecycle: creation, joining with team
// balancing, the deletion policy and listings.
package rooms

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/clickbattle-gg/backend/protocol"
	"github.com/clickbattle-gg/backend/store"
)

// TimerStopper cancels a room's broadcast loop. Satisfied by game.Service.
type TimerStopper interface {
	Stop(roomID string)
}

// Registry enforces room policy on top of the shared store. It does not talk
// to sockets; the transport layer broadcasts what Registry returns.
type Registry struct {
	store  store.Store
	timers TimerStopper
	log    *slog.Logger
	now    func() time.Time
	newID  func() string
}

// New builds a registry. timers may be nil when no match engine is attached
// (some tests exercise the registry alone).
func New(st store.Store, timers TimerStopper, log *slog.Logger) *Registry {
	return &Registry{
		store:  st,
		timers: timers,
		log:    log.With(slog.String("component", "rooms")),
		now:    time.Now,
		newID:  func() string { return uuid.NewString()[:8] },
	}
}

// Create allocates a WAITING room hosted by user, inserts the host as the
// first roster member and assigns their team. An empty roomID gets a
// generated one. Supplied ids are taken as-is; uniqueness is the caller's
// concern.
func (r *Registry) Create(ctx context.Context, user store.Player, roomID string) (*store.Room, []store.Player, string, error) {
	if roomID == "" {
		roomID = r.newID()
	}

	room := store.Room{
		RoomID:     roomID,
		HostUserID: user.UserID,
		Status:     store.StatusWaiting,
		CreatedAt:  r.now().UnixMilli(),
	}
	if err := r.store.CreateRoom(ctx, room); err != nil {
		return nil, nil, "", err
	}

	team, err := r.assignTeam(ctx, roomID, user)
	if err != nil {
		return nil, nil, "", err
	}

	players, err := r.store.ListPlayers(ctx, roomID)
	if err != nil {
		return nil, nil, "", err
	}

	r.log.Info("room created",
		slog.String("roomId", roomID), slog.String("host", user.UserID))
	return &room, players, team, nil
}

// Join adds user to the roster. Joining an IN_GAME room is allowed only for
// existing roster members (reconnection); anyone else gets NOT_YOUR_ROOM. A
// rejoining player keeps their team.
func (r *Registry) Join(ctx context.Context, roomID string, user store.Player) (*store.Room, []store.Player, string, error) {
	room, err := r.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, nil, "", err
	}
	if room == nil {
		return nil, nil, "", protocol.Err(protocol.CodeRoomNotFound)
	}

	existing, err := r.store.GetPlayer(ctx, roomID, user.UserID)
	if err != nil {
		return nil, nil, "", err
	}
	if room.Status != store.StatusWaiting && existing == nil {
		return nil, nil, "", protocol.Err(protocol.CodeNotYourRoom)
	}

	if existing != nil {
		user.Team = existing.Team
	}
	team, err := r.assignTeam(ctx, roomID, user)
	if err != nil {
		return nil, nil, "", err
	}

	players, err := r.store.ListPlayers(ctx, roomID)
	if err != nil {
		return nil, nil, "", err
	}
	return room, players, team, nil
}

// LeaveResult tells the transport layer what to broadcast after a leave.
type LeaveResult struct {
	Deleted bool
	// Reason is RoomDeletedReasonHostLeft when the host left; empty for the
	// silent empty-room deletion.
	Reason  string
	Room    *store.Room
	Players []store.Player
}

// Leave removes the player. The host leaving deletes the room outright; there
// is no host hand-off. A non-host leaving an otherwise empty room deletes it
// silently. Any room deletion cancels the room's broadcast loop.
func (r *Registry) Leave(ctx context.Context, roomID, userID string) (*LeaveResult, error) {
	room, err := r.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return &LeaveResult{Deleted: true}, nil
	}

	if err := r.store.RemovePlayer(ctx, roomID, userID); err != nil {
		return nil, err
	}

	if room.HostUserID == userID {
		if err := r.delete(ctx, roomID); err != nil {
			return nil, err
		}
		r.log.Info("room deleted, host left",
			slog.String("roomId", roomID), slog.String("host", userID))
		return &LeaveResult{Deleted: true, Reason: protocol.RoomDeletedReasonHostLeft}, nil
	}

	players, err := r.store.ListPlayers(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if len(players) == 0 {
		if err := r.delete(ctx, roomID); err != nil {
			return nil, err
		}
		r.log.Info("room deleted, empty", slog.String("roomId", roomID))
		return &LeaveResult{Deleted: true}, nil
	}

	return &LeaveResult{Room: room, Players: players}, nil
}

func (r *Registry) delete(ctx context.Context, roomID string) error {
	if r.timers != nil {
		r.timers.Stop(roomID)
	}
	return r.store.DeleteRoom(ctx, roomID)
}

// List returns the rooms visible to viewerID: every WAITING room, plus
// IN_GAME rooms where the viewer is on the roster (so a client can resume an
// active match). onlyWaiting drops the latter set.
func (r *Registry) List(ctx context.Context, viewerID string, onlyWaiting bool) ([]protocol.RoomEntry, error) {
	ids, err := r.store.ListRoomIDs(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)

	entries := make([]protocol.RoomEntry, 0, len(ids))
	for _, id := range ids {
		room, err := r.store.GetRoom(ctx, id)
		if err != nil {
			return nil, err
		}
		if room == nil {
			continue
		}

		visible := room.Status == store.StatusWaiting
		if !visible && !onlyWaiting && room.Status == store.StatusInGame && viewerID != "" {
			member, err := r.store.GetPlayer(ctx, id, viewerID)
			if err != nil {
				return nil, err
			}
			visible = member != nil
		}
		if !visible {
			continue
		}

		players, err := r.store.ListPlayers(ctx, id)
		if err != nil {
			return nil, err
		}
		entries = append(entries, protocol.RoomEntry{Room: room, Players: players})
	}
	return entries, nil
}

// OpenRooms is the lobby-wide view: WAITING rooms only.
func (r *Registry) OpenRooms(ctx context.Context) ([]protocol.RoomEntry, error) {
	return r.List(ctx, "", true)
}

// assignTeam writes the player to the roster, keeping a held team and
// otherwise picking the strictly smaller one (tie goes to A). The count is
// read before the write; skew under simultaneous joins is tolerated.
func (r *Registry) assignTeam(ctx context.Context, roomID string, user store.Player) (string, error) {
	if user.Team == "" {
		players, err := r.store.ListPlayers(ctx, roomID)
		if err != nil {
			return "", err
		}
		var countA, countB int
		for _, p := range players {
			switch p.Team {
			case store.TeamA:
				countA++
			case store.TeamB:
				countB++
			}
		}
		user.Team = store.TeamA
		if countB < countA {
			user.Team = store.TeamB
		}
	}

	if err := r.store.PutPlayer(ctx, roomID, user); err != nil {
		return "", err
	}
	return user.Team, nil
}
