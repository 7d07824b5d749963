package store

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process Store with the same semantics as the Redis
// implementation. It backs the test suite and local development without a
// Redis instance.
type Memory struct {
	mu sync.Mutex

	rooms        map[string]Room
	players      map[string]map[string]Player // roomID -> userID -> player
	teamScores   map[string]map[string]int64  // roomID -> team -> score
	playerScores map[string]map[string]int64
	clickCounts  map[string]map[string]int64
	powers       map[string]map[string]string
	offers       map[string]map[string][]string
	lastClicks   map[string]map[string]int64
	pseudos      map[string]pseudoEntry
}

type pseudoEntry struct {
	browserID string
	expiresAt time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		rooms:        make(map[string]Room),
		players:      make(map[string]map[string]Player),
		teamScores:   make(map[string]map[string]int64),
		playerScores: make(map[string]map[string]int64),
		clickCounts:  make(map[string]map[string]int64),
		powers:       make(map[string]map[string]string),
		offers:       make(map[string]map[string][]string),
		lastClicks:   make(map[string]map[string]int64),
		pseudos:      make(map[string]pseudoEntry),
	}
}

func (m *Memory) CreateRoom(_ context.Context, room Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[room.RoomID] = room
	return nil
}

func (m *Memory) GetRoom(_ context.Context, roomID string) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return nil, nil
	}
	return &room, nil
}

func (m *Memory) DeleteRoom(_ context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, roomID)
	delete(m.players, roomID)
	delete(m.teamScores, roomID)
	delete(m.playerScores, roomID)
	delete(m.clickCounts, roomID)
	delete(m.powers, roomID)
	delete(m.offers, roomID)
	delete(m.lastClicks, roomID)
	return nil
}

func (m *Memory) SetRoomStatus(_ context.Context, roomID string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return nil
	}
	room.Status = status
	m.rooms[roomID] = room
	return nil
}

func (m *Memory) SetRoomDeadlines(_ context.Context, roomID string, choosingEndsAt, endsAt int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return nil
	}
	room.ChoosingEndsAt = choosingEndsAt
	room.EndsAt = endsAt
	m.rooms[roomID] = room
	return nil
}

func (m *Memory) ListRoomIDs(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.rooms))
	for id := range m.rooms {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *Memory) PutPlayer(_ context.Context, roomID string, p Player) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.players[roomID] == nil {
		m.players[roomID] = make(map[string]Player)
	}
	m.players[roomID][p.UserID] = p
	return nil
}

func (m *Memory) GetPlayer(_ context.Context, roomID, userID string) (*Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[roomID][userID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *Memory) ListPlayers(_ context.Context, roomID string) ([]Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	players := make([]Player, 0, len(m.players[roomID]))
	for _, p := range m.players[roomID] {
		players = append(players, p)
	}
	return players, nil
}

func (m *Memory) RemovePlayer(_ context.Context, roomID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.players[roomID], userID)
	return nil
}

func (m *Memory) ResetTeamScores(_ context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teamScores[roomID] = map[string]int64{TeamA: 0, TeamB: 0}
	return nil
}

func (m *Memory) TeamScores(_ context.Context, roomID string) (Scores, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.teamScores[roomID]
	return Scores{A: s[TeamA], B: s[TeamB]}, nil
}

func (m *Memory) IncrTeamScore(_ context.Context, roomID, team string, delta int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.teamScores[roomID] == nil {
		m.teamScores[roomID] = make(map[string]int64)
	}
	m.teamScores[roomID][team] += int64(delta)
	return m.teamScores[roomID][team], nil
}

func (m *Memory) IncrPlayerScore(_ context.Context, roomID, userID string, delta int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.playerScores[roomID] == nil {
		m.playerScores[roomID] = make(map[string]int64)
	}
	m.playerScores[roomID][userID] += int64(delta)
	return m.playerScores[roomID][userID], nil
}

func (m *Memory) ApplyDamage(_ context.Context, roomID, userID, team string, delta int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.playerScores[roomID] == nil {
		m.playerScores[roomID] = make(map[string]int64)
	}
	if m.teamScores[roomID] == nil {
		m.teamScores[roomID] = make(map[string]int64)
	}
	m.playerScores[roomID][userID] += int64(delta)
	m.teamScores[roomID][team] += int64(delta)
	return m.playerScores[roomID][userID], nil
}

func (m *Memory) PlayerScore(_ context.Context, roomID, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playerScores[roomID][userID], nil
}

func (m *Memory) ResetPlayerScores(_ context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.playerScores, roomID)
	return nil
}

func (m *Memory) IncrClickCount(_ context.Context, roomID, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.clickCounts[roomID] == nil {
		m.clickCounts[roomID] = make(map[string]int64)
	}
	m.clickCounts[roomID][userID]++
	return m.clickCounts[roomID][userID], nil
}

func (m *Memory) ResetClickCounts(_ context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clickCounts, roomID)
	return nil
}

func (m *Memory) SetPlayerPower(_ context.Context, roomID, userID, powerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.powers[roomID] == nil {
		m.powers[roomID] = make(map[string]string)
	}
	m.powers[roomID][userID] = powerID
	return nil
}

func (m *Memory) PlayerPower(_ context.Context, roomID, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.powers[roomID][userID], nil
}

func (m *Memory) ResetPowers(_ context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.powers, roomID)
	return nil
}

func (m *Memory) SetPlayerOffers(_ context.Context, roomID, userID string, offers []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offers[roomID] == nil {
		m.offers[roomID] = make(map[string][]string)
	}
	m.offers[roomID][userID] = append([]string(nil), offers...)
	return nil
}

func (m *Memory) PlayerOffers(_ context.Context, roomID, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	offers := m.offers[roomID][userID]
	if offers == nil {
		return nil, nil
	}
	return append([]string(nil), offers...), nil
}

func (m *Memory) ResetOffers(_ context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.offers, roomID)
	return nil
}

func (m *Memory) LastClick(_ context.Context, roomID, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastClicks[roomID][userID], nil
}

func (m *Memory) SetLastClick(_ context.Context, roomID, userID string, ts int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastClicks[roomID] == nil {
		m.lastClicks[roomID] = make(map[string]int64)
	}
	m.lastClicks[roomID][userID] = ts
	return nil
}

func (m *Memory) ReservePseudo(_ context.Context, name, browserID string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(name)
	entry, ok := m.pseudos[key]
	if ok && time.Now().Before(entry.expiresAt) && entry.browserID != browserID {
		return false, nil
	}
	m.pseudos[key] = pseudoEntry{browserID: browserID, expiresAt: time.Now().Add(ttl)}
	return true, nil
}
