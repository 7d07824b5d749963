package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key layout, one hash family per room plus a global index set:
//
//	room:<id>              room metadata hash
//	room:<id>:players      userId -> player JSON
//	room:<id>:scores       A / B team aggregates
//	room:<id>:playerScores userId -> personal score
//	room:<id>:clickCounts  userId -> accepted click count
//	room:<id>:powers       userId -> committed power id
//	room:<id>:offers       userId -> offer list JSON
//	room:<id>:clicks       userId -> last accepted click (epoch ms)
//	rooms:index            set of all known room ids
//	pseudo:<name>          browserId holding the name
func roomKey(roomID string) string         { return "room:" + roomID }
func playersKey(roomID string) string      { return "room:" + roomID + ":players" }
func scoresKey(roomID string) string       { return "room:" + roomID + ":scores" }
func playerScoresKey(roomID string) string { return "room:" + roomID + ":playerScores" }
func clickCountsKey(roomID string) string  { return "room:" + roomID + ":clickCounts" }
func powersKey(roomID string) string       { return "room:" + roomID + ":powers" }
func offersKey(roomID string) string       { return "room:" + roomID + ":offers" }
func clicksKey(roomID string) string       { return "room:" + roomID + ":clicks" }

const roomIndexKey = "rooms:index"
const pseudoPrefix = "pseudo:"

// Redis implements Store on go-redis. All counter mutations go through
// HINCRBY so concurrent clicks from different connections cannot lose writes.
type Redis struct {
	rdb *redis.Client
	log *slog.Logger
}

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// NewRedis connects and pings. The returned store is safe for concurrent use.
func NewRedis(ctx context.Context, opts Options, log *slog.Logger) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Info("connected to redis", slog.String("addr", opts.Addr))
	return &Redis{rdb: rdb, log: log}, nil
}

// Close releases the underlying connection pool.
func (s *Redis) Close() error { return s.rdb.Close() }

func (s *Redis) CreateRoom(ctx context.Context, room Room) error {
	fields := map[string]any{
		"roomId":     room.RoomID,
		"hostUserId": room.HostUserID,
		"status":     string(room.Status),
		"createdAt":  strconv.FormatInt(room.CreatedAt, 10),
	}
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, roomKey(room.RoomID), fields)
	pipe.SAdd(ctx, roomIndexKey, room.RoomID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("create room %s: %w", room.RoomID, err)
	}
	return nil
}

func (s *Redis) GetRoom(ctx context.Context, roomID string) (*Room, error) {
	m, err := s.rdb.HGetAll(ctx, roomKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get room %s: %w", roomID, err)
	}
	if m["roomId"] == "" {
		return nil, nil
	}
	return roomFromHash(m), nil
}

func roomFromHash(m map[string]string) *Room {
	parse := func(k string) int64 {
		v, _ := strconv.ParseInt(m[k], 10, 64)
		return v
	}
	return &Room{
		RoomID:         m["roomId"],
		HostUserID:     m["hostUserId"],
		Status:         Status(m["status"]),
		CreatedAt:      parse("createdAt"),
		ChoosingEndsAt: parse("choosingEndsAt"),
		EndsAt:         parse("endsAt"),
	}
}

func (s *Redis) DeleteRoom(ctx context.Context, roomID string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx,
		roomKey(roomID),
		playersKey(roomID),
		scoresKey(roomID),
		playerScoresKey(roomID),
		clickCountsKey(roomID),
		powersKey(roomID),
		offersKey(roomID),
		clicksKey(roomID),
	)
	pipe.SRem(ctx, roomIndexKey, roomID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete room %s: %w", roomID, err)
	}
	return nil
}

func (s *Redis) SetRoomStatus(ctx context.Context, roomID string, status Status) error {
	if err := s.rdb.HSet(ctx, roomKey(roomID), "status", string(status)).Err(); err != nil {
		return fmt.Errorf("set status %s: %w", roomID, err)
	}
	return nil
}

func (s *Redis) SetRoomDeadlines(ctx context.Context, roomID string, choosingEndsAt, endsAt int64) error {
	err := s.rdb.HSet(ctx, roomKey(roomID),
		"choosingEndsAt", strconv.FormatInt(choosingEndsAt, 10),
		"endsAt", strconv.FormatInt(endsAt, 10),
	).Err()
	if err != nil {
		return fmt.Errorf("set deadlines %s: %w", roomID, err)
	}
	return nil
}

func (s *Redis) ListRoomIDs(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, roomIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return ids, nil
}

func (s *Redis) PutPlayer(ctx context.Context, roomID string, p Player) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := s.rdb.HSet(ctx, playersKey(roomID), p.UserID, string(b)).Err(); err != nil {
		return fmt.Errorf("put player %s/%s: %w", roomID, p.UserID, err)
	}
	return nil
}

func (s *Redis) GetPlayer(ctx context.Context, roomID, userID string) (*Player, error) {
	raw, err := s.rdb.HGet(ctx, playersKey(roomID), userID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get player %s/%s: %w", roomID, userID, err)
	}
	var p Player
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("decode player %s/%s: %w", roomID, userID, err)
	}
	return &p, nil
}

func (s *Redis) ListPlayers(ctx context.Context, roomID string) ([]Player, error) {
	m, err := s.rdb.HGetAll(ctx, playersKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list players %s: %w", roomID, err)
	}
	players := make([]Player, 0, len(m))
	for userID, raw := range m {
		var p Player
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			s.log.Warn("skipping corrupt player entry",
				slog.String("roomId", roomID), slog.String("userId", userID))
			continue
		}
		players = append(players, p)
	}
	return players, nil
}

func (s *Redis) RemovePlayer(ctx context.Context, roomID, userID string) error {
	if err := s.rdb.HDel(ctx, playersKey(roomID), userID).Err(); err != nil {
		return fmt.Errorf("remove player %s/%s: %w", roomID, userID, err)
	}
	return nil
}

func (s *Redis) ResetTeamScores(ctx context.Context, roomID string) error {
	if err := s.rdb.HSet(ctx, scoresKey(roomID), TeamA, "0", TeamB, "0").Err(); err != nil {
		return fmt.Errorf("reset scores %s: %w", roomID, err)
	}
	return nil
}

func (s *Redis) TeamScores(ctx context.Context, roomID string) (Scores, error) {
	m, err := s.rdb.HGetAll(ctx, scoresKey(roomID)).Result()
	if err != nil {
		return Scores{}, fmt.Errorf("get scores %s: %w", roomID, err)
	}
	a, _ := strconv.ParseInt(m[TeamA], 10, 64)
	b, _ := strconv.ParseInt(m[TeamB], 10, 64)
	return Scores{A: a, B: b}, nil
}

func (s *Redis) IncrTeamScore(ctx context.Context, roomID, team string, delta int) (int64, error) {
	v, err := s.rdb.HIncrBy(ctx, scoresKey(roomID), team, int64(delta)).Result()
	if err != nil {
		return 0, fmt.Errorf("incr team score %s/%s: %w", roomID, team, err)
	}
	return v, nil
}

func (s *Redis) IncrPlayerScore(ctx context.Context, roomID, userID string, delta int) (int64, error) {
	v, err := s.rdb.HIncrBy(ctx, playerScoresKey(roomID), userID, int64(delta)).Result()
	if err != nil {
		return 0, fmt.Errorf("incr player score %s/%s: %w", roomID, userID, err)
	}
	return v, nil
}

func (s *Redis) ApplyDamage(ctx context.Context, roomID, userID, team string, delta int) (int64, error) {
	var personal *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		personal = pipe.HIncrBy(ctx, playerScoresKey(roomID), userID, int64(delta))
		pipe.HIncrBy(ctx, scoresKey(roomID), team, int64(delta))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("apply damage %s/%s: %w", roomID, userID, err)
	}
	return personal.Val(), nil
}

func (s *Redis) PlayerScore(ctx context.Context, roomID, userID string) (int64, error) {
	raw, err := s.rdb.HGet(ctx, playerScoresKey(roomID), userID).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get player score %s/%s: %w", roomID, userID, err)
	}
	v, _ := strconv.ParseInt(raw, 10, 64)
	return v, nil
}

func (s *Redis) ResetPlayerScores(ctx context.Context, roomID string) error {
	if err := s.rdb.Del(ctx, playerScoresKey(roomID)).Err(); err != nil {
		return fmt.Errorf("reset player scores %s: %w", roomID, err)
	}
	return nil
}

func (s *Redis) IncrClickCount(ctx context.Context, roomID, userID string) (int64, error) {
	v, err := s.rdb.HIncrBy(ctx, clickCountsKey(roomID), userID, 1).Result()
	if err != nil {
		return 0, fmt.Errorf("incr click count %s/%s: %w", roomID, userID, err)
	}
	return v, nil
}

func (s *Redis) ResetClickCounts(ctx context.Context, roomID string) error {
	if err := s.rdb.Del(ctx, clickCountsKey(roomID)).Err(); err != nil {
		return fmt.Errorf("reset click counts %s: %w", roomID, err)
	}
	return nil
}

func (s *Redis) SetPlayerPower(ctx context.Context, roomID, userID, powerID string) error {
	if err := s.rdb.HSet(ctx, powersKey(roomID), userID, powerID).Err(); err != nil {
		return fmt.Errorf("set power %s/%s: %w", roomID, userID, err)
	}
	return nil
}

func (s *Redis) PlayerPower(ctx context.Context, roomID, userID string) (string, error) {
	v, err := s.rdb.HGet(ctx, powersKey(roomID), userID).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get power %s/%s: %w", roomID, userID, err)
	}
	return v, nil
}

func (s *Redis) ResetPowers(ctx context.Context, roomID string) error {
	if err := s.rdb.Del(ctx, powersKey(roomID)).Err(); err != nil {
		return fmt.Errorf("reset powers %s: %w", roomID, err)
	}
	return nil
}

func (s *Redis) SetPlayerOffers(ctx context.Context, roomID, userID string, offers []string) error {
	b, err := json.Marshal(offers)
	if err != nil {
		return err
	}
	if err := s.rdb.HSet(ctx, offersKey(roomID), userID, string(b)).Err(); err != nil {
		return fmt.Errorf("set offers %s/%s: %w", roomID, userID, err)
	}
	return nil
}

func (s *Redis) PlayerOffers(ctx context.Context, roomID, userID string) ([]string, error) {
	raw, err := s.rdb.HGet(ctx, offersKey(roomID), userID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get offers %s/%s: %w", roomID, userID, err)
	}
	var offers []string
	if err := json.Unmarshal([]byte(raw), &offers); err != nil {
		return nil, fmt.Errorf("decode offers %s/%s: %w", roomID, userID, err)
	}
	return offers, nil
}

func (s *Redis) ResetOffers(ctx context.Context, roomID string) error {
	if err := s.rdb.Del(ctx, offersKey(roomID)).Err(); err != nil {
		return fmt.Errorf("reset offers %s: %w", roomID, err)
	}
	return nil
}

func (s *Redis) LastClick(ctx context.Context, roomID, userID string) (int64, error) {
	raw, err := s.rdb.HGet(ctx, clicksKey(roomID), userID).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get last click %s/%s: %w", roomID, userID, err)
	}
	v, _ := strconv.ParseInt(raw, 10, 64)
	return v, nil
}

func (s *Redis) SetLastClick(ctx context.Context, roomID, userID string, ts int64) error {
	if err := s.rdb.HSet(ctx, clicksKey(roomID), userID, strconv.FormatInt(ts, 10)).Err(); err != nil {
		return fmt.Errorf("set last click %s/%s: %w", roomID, userID, err)
	}
	return nil
}

func (s *Redis) ReservePseudo(ctx context.Context, name, browserID string, ttl time.Duration) (bool, error) {
	key := pseudoPrefix + strings.ToLower(name)

	// SET NX claims a free name atomically; concurrent claimers cannot both
	// win. Only when the name is already held do we look at the holder, to
	// let the owning browser refresh its own TTL.
	claimed, err := s.rdb.SetNX(ctx, key, browserID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("reserve pseudo %s: %w", name, err)
	}
	if claimed {
		return true, nil
	}

	holder, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		// Expired between the SETNX and the GET; retry the claim once.
		claimed, err := s.rdb.SetNX(ctx, key, browserID, ttl).Result()
		if err != nil {
			return false, fmt.Errorf("reserve pseudo %s: %w", name, err)
		}
		return claimed, nil
	}
	if err != nil {
		return false, fmt.Errorf("get pseudo %s: %w", name, err)
	}
	if holder != browserID {
		return false, nil
	}
	if err := s.rdb.Set(ctx, key, browserID, ttl).Err(); err != nil {
		return false, fmt.Errorf("refresh pseudo %s: %w", name, err)
	}
	return true, nil
}
