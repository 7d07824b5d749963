package ws

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/clickbattle-gg/backend/protocol"
)

// Hub tracks every connection, which user each one authenticated as, and
// which room each one has joined. It implements protocol.Emitter for the
// registry and the match engine.
type Hub struct {
	log    *slog.Logger
	tokens TokenVerifier

	mu      sync.Mutex
	clients map[*Client]bool
	byUser  map[string]map[*Client]bool
	rooms   map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client

	handler *Handler
}

// NewHub builds a hub; attach the dispatcher with SetHandler before Run.
func NewHub(tokens TokenVerifier, log *slog.Logger) *Hub {
	return &Hub{
		log:        log.With(slog.String("component", "ws")),
		tokens:     tokens,
		clients:    make(map[*Client]bool),
		byUser:     make(map[string]map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// SetHandler wires the request dispatcher.
func (h *Hub) SetHandler(hd *Handler) { h.handler = hd }

// Run processes connection churn. Start exactly once.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			if h.byUser[client.userID] == nil {
				h.byUser[client.userID] = make(map[*Client]bool)
			}
			h.byUser[client.userID][client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				if set := h.byUser[client.userID]; set != nil {
					delete(set, client)
					if len(set) == 0 {
						delete(h.byUser, client.userID)
					}
				}
				if roomID := client.currentRoom(); roomID != "" {
					if set := h.rooms[roomID]; set != nil {
						delete(set, client)
						if len(set) == 0 {
							delete(h.rooms, roomID)
						}
					}
				}
				close(client.send)
				h.log.Info("client disconnected", slog.String("userId", client.userID))
			}
			h.mu.Unlock()
		}
	}
}

// JoinRoom subscribes the connection to a room's broadcasts.
func (h *Hub) JoinRoom(c *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*Client]bool)
	}
	h.rooms[roomID][c] = true
}

// LeaveRoom unsubscribes the connection.
func (h *Hub) LeaveRoom(c *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set := h.rooms[roomID]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

// DropRoom unsubscribes every connection from a deleted room and clears their
// current-room binding.
func (h *Hub) DropRoom(roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.rooms[roomID] {
		c.setRoom("")
	}
	delete(h.rooms, roomID)
}

func marshalEvent(event string, payload any) ([]byte, bool) {
	b, err := json.Marshal(protocol.Event{Type: event, Payload: payload})
	return b, err == nil
}

// ToRoom sends to every connection joined to the room.
func (h *Hub) ToRoom(roomID, event string, payload any) {
	b, ok := marshalEvent(event, payload)
	if !ok {
		h.log.Error("marshal event", slog.String("event", event))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.rooms[roomID] {
		c.enqueue(b)
	}
}

// ToUser sends privately to every connection of the user.
func (h *Hub) ToUser(userID, event string, payload any) {
	b, ok := marshalEvent(event, payload)
	if !ok {
		h.log.Error("marshal event", slog.String("event", event))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.byUser[userID] {
		c.enqueue(b)
	}
}

// ToLobby sends to every authenticated connection.
func (h *Hub) ToLobby(event string, payload any) {
	b, ok := marshalEvent(event, payload)
	if !ok {
		h.log.Error("marshal event", slog.String("event", event))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.enqueue(b)
	}
}
