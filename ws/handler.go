package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/clickbattle-gg/backend/game"
	"github.com/clickbattle-gg/backend/protocol"
	"github.com/clickbattle-gg/backend/rooms"
	"github.com/clickbattle-gg/backend/store"
)

// Handler dispatches inbound requests to the registry and the match engine
// and answers each one with an ack. Every failure stays on the ack path;
// nothing here closes the connection.
type Handler struct {
	hub      *Hub
	registry *rooms.Registry
	game     *game.Service
	log      *slog.Logger
}

// NewHandler wires the dispatcher.
func NewHandler(hub *Hub, registry *rooms.Registry, gameSvc *game.Service, log *slog.Logger) *Handler {
	return &Handler{
		hub:      hub,
		registry: registry,
		game:     gameSvc,
		log:      log.With(slog.String("component", "handler")),
	}
}

// Handle processes one inbound frame from the client's read loop.
func (hd *Handler) Handle(c *Client, raw []byte) {
	var req protocol.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		c.sendJSON(protocol.Ack{Type: "ack", OK: false, Error: protocol.CodeBadRequest})
		return
	}

	ctx := context.Background()

	var (
		data any
		err  error
	)
	switch req.Type {
	case protocol.ReqRoomCreate:
		data, err = hd.roomCreate(ctx, c, req.Payload)
	case protocol.ReqRoomJoin:
		data, err = hd.roomJoin(ctx, c, req.Payload)
	case protocol.ReqRoomLeave:
		data, err = hd.roomLeave(ctx, c)
	case protocol.ReqRoomList:
		data, err = hd.roomList(ctx, c, req.Payload)
	case protocol.ReqGameStart:
		data, err = hd.gameStart(ctx, c, req.Payload)
	case protocol.ReqGameChoose:
		data, err = hd.gameChoosePower(ctx, c, req.Payload)
	case protocol.ReqGameClick:
		data, err = hd.gameClick(ctx, c, req.Payload)
	default:
		err = protocol.Err(protocol.CodeBadRequest)
	}

	ack := protocol.Ack{Type: "ack", Seq: req.Seq, OK: err == nil, Data: data}
	if err != nil {
		ack.Error = protocol.CodeOf(err)
		if ack.Error == protocol.CodeInternal {
			hd.log.Error("request failed",
				slog.String("type", req.Type),
				slog.String("userId", c.userID),
				slog.Any("error", err))
		}
	}
	c.sendJSON(ack)
}

// Disconnect runs the leave path for a dropped connection. No ack.
func (hd *Handler) Disconnect(c *Client) {
	if c.currentRoom() == "" {
		return
	}
	if _, err := hd.leaveCurrentRoom(context.Background(), c); err != nil {
		hd.log.Error("disconnect cleanup",
			slog.String("userId", c.userID), slog.Any("error", err))
	}
}

func (hd *Handler) roomCreate(ctx context.Context, c *Client, raw json.RawMessage) (any, error) {
	var p protocol.RoomCreate
	if err := protocol.Decode(raw, &p); err != nil {
		return nil, err
	}

	user := store.Player{UserID: c.userID, Name: c.name}
	room, players, team, err := hd.registry.Create(ctx, user, p.RoomID)
	if err != nil {
		return nil, err
	}

	hd.hub.JoinRoom(c, room.RoomID)
	c.setRoom(room.RoomID)

	hd.hub.ToRoom(room.RoomID, protocol.EvtRoomUpdate, protocol.RoomUpdate{Room: room, Players: players})
	c.sendJSON(protocol.Event{Type: protocol.EvtMyTeam, Payload: protocol.MyTeam{Team: team}})
	hd.broadcastLobbyList(ctx)

	return map[string]any{"roomId": room.RoomID, "room": room}, nil
}

func (hd *Handler) roomJoin(ctx context.Context, c *Client, raw json.RawMessage) (any, error) {
	var p protocol.RoomJoin
	if err := protocol.Decode(raw, &p); err != nil {
		return nil, err
	}

	user := store.Player{UserID: c.userID, Name: c.name}
	room, players, team, err := hd.registry.Join(ctx, p.RoomID, user)
	if err != nil {
		return nil, err
	}

	hd.hub.JoinRoom(c, room.RoomID)
	c.setRoom(room.RoomID)

	hd.hub.ToRoom(room.RoomID, protocol.EvtRoomUpdate, protocol.RoomUpdate{Room: room, Players: players})
	c.sendJSON(protocol.Event{Type: protocol.EvtMyTeam, Payload: protocol.MyTeam{Team: team}})

	return map[string]any{"roomId": room.RoomID}, nil
}

func (hd *Handler) roomLeave(ctx context.Context, c *Client) (any, error) {
	if c.currentRoom() == "" {
		return nil, nil
	}
	return hd.leaveCurrentRoom(ctx, c)
}

// leaveCurrentRoom applies the deletion policy result to the hub: a host
// departure notifies the remaining members before the room subscription is
// torn down, an empty-room deletion is silent, and an ordinary leave
// broadcasts the updated roster.
func (hd *Handler) leaveCurrentRoom(ctx context.Context, c *Client) (any, error) {
	roomID := c.currentRoom()

	res, err := hd.registry.Leave(ctx, roomID, c.userID)
	if err != nil {
		return nil, err
	}

	hd.hub.LeaveRoom(c, roomID)
	c.setRoom("")

	if res.Deleted {
		if res.Reason == protocol.RoomDeletedReasonHostLeft {
			hd.hub.ToRoom(roomID, protocol.EvtRoomDeleted, protocol.RoomDeleted{
				RoomID: roomID,
				Reason: res.Reason,
			})
		}
		hd.hub.DropRoom(roomID)
	} else {
		hd.hub.ToRoom(roomID, protocol.EvtRoomUpdate, protocol.RoomUpdate{
			Room:    res.Room,
			Players: res.Players,
		})
	}
	hd.broadcastLobbyList(ctx)

	return nil, nil
}

func (hd *Handler) roomList(ctx context.Context, c *Client, raw json.RawMessage) (any, error) {
	var p protocol.RoomList
	if err := protocol.Decode(raw, &p); err != nil {
		return nil, err
	}
	entries, err := hd.registry.List(ctx, c.userID, p.OnlyWaiting)
	if err != nil {
		return nil, err
	}
	return map[string]any{"rooms": entries}, nil
}

func (hd *Handler) gameStart(ctx context.Context, c *Client, raw json.RawMessage) (any, error) {
	var p protocol.GameStart
	if err := protocol.Decode(raw, &p); err != nil {
		return nil, err
	}
	roomID := p.RoomID
	if roomID == "" {
		roomID = c.currentRoom()
	}
	if roomID == "" {
		return nil, protocol.Err(protocol.CodeNoRoom)
	}

	res, err := hd.game.Start(ctx, roomID, c.userID, time.Duration(p.DurationSec)*time.Second)
	if err != nil {
		return nil, err
	}
	// The room left the WAITING set.
	hd.broadcastLobbyList(ctx)
	return res, nil
}

func (hd *Handler) gameChoosePower(ctx context.Context, c *Client, raw json.RawMessage) (any, error) {
	var p protocol.GameChoosePower
	if err := protocol.Decode(raw, &p); err != nil {
		return nil, err
	}
	roomID := p.RoomID
	if roomID == "" {
		roomID = c.currentRoom()
	}
	if roomID == "" {
		return nil, protocol.Err(protocol.CodeNoRoom)
	}
	return hd.game.ChoosePower(ctx, roomID, c.userID, p.PowerID)
}

func (hd *Handler) gameClick(ctx context.Context, c *Client, raw json.RawMessage) (any, error) {
	var p protocol.GameClick
	if err := protocol.Decode(raw, &p); err != nil {
		return nil, err
	}
	roomID := p.RoomID
	if roomID == "" {
		roomID = c.currentRoom()
	}
	if roomID == "" {
		return nil, protocol.Err(protocol.CodeNoRoom)
	}
	return hd.game.Click(ctx, roomID, c.userID)
}

// broadcastLobbyList pushes the open (WAITING) rooms to every connection.
// Per-viewer in-progress rooms are only visible through the room:list ack.
func (hd *Handler) broadcastLobbyList(ctx context.Context) {
	entries, err := hd.registry.OpenRooms(ctx)
	if err != nil {
		hd.log.Error("lobby list", slog.Any("error", err))
		return
	}
	hd.hub.ToLobby(protocol.EvtRoomListUpdate, protocol.RoomListUpdate{Rooms: entries})
}
