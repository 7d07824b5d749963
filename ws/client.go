// Package ws is the transport layer: one persistent websocket per client,
// authenticated at the handshake, with a hub fanning events out to rooms,
// users and the lobby.
package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clickbattle-gg/backend/auth"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client pairs one websocket connection with its authenticated identity.
// room is the client's current room; the connection's read loop writes it on
// join/leave but the hub also clears it when a room is deleted from another
// connection, so access goes through the mutex.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID string
	name   string

	mu   sync.Mutex
	room string
}

func (c *Client) currentRoom() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *Client) setRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.room = roomID
}

// readPump reads requests off the socket and hands them to the dispatcher. A
// connection processes its own requests strictly in order.
func (c *Client) readPump() {
	defer func() {
		c.hub.handler.Disconnect(c)
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("read error", slog.String("userId", c.userID), slog.Any("error", err))
			}
			break
		}
		c.hub.handler.Handle(c, message)
	}
}

// writePump flushes the send channel to the socket and keeps the connection
// alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue drops the frame rather than blocking on a stuck client.
func (c *Client) enqueue(b []byte) {
	select {
	case c.send <- b:
	default:
	}
}

func (c *Client) sendJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		c.hub.log.Error("marshal frame", slog.Any("error", err))
		return
	}
	c.enqueue(b)
}

// ServeWS upgrades the connection and authenticates it from the token query
// parameter. A missing or invalid token is the only failure that terminates
// the connection; everything after the handshake answers through acks.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("upgrade failed", slog.Any("error", err))
		return
	}

	tokenString := r.URL.Query().Get("token")
	if tokenString == "" {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "authentication required"))
		conn.Close()
		return
	}

	claims, err := h.tokens.Verify(tokenString)
	if err != nil {
		h.log.Warn("handshake rejected", slog.Any("error", err))
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "invalid token"))
		conn.Close()
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 256),
		userID: claims.UserID,
		name:   claims.Name,
	}

	h.log.Info("client connected",
		slog.String("userId", client.userID), slog.String("name", client.name))

	h.register <- client

	go client.writePump()
	go client.readPump()
}

// TokenVerifier validates handshake tokens. Satisfied by auth.Service.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}
