package history

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
)

const defaultLeaderboardSize = 20

// LeaderboardSource is what the HTTP layer needs from the archive.
type LeaderboardSource interface {
	TopPlayers(ctx context.Context, limit int) ([]PlayerStats, error)
	MatchHistory(ctx context.Context, userID string, limit int32) ([]MatchRecord, error)
}

// Handler serves the read-only history endpoints.
type Handler struct {
	src LeaderboardSource
	log *slog.Logger
}

func NewHandler(src LeaderboardSource, log *slog.Logger) *Handler {
	return &Handler{src: src, log: log}
}

// Leaderboard handles GET /leaderboard?limit=N.
func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := defaultLeaderboardSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	stats, err := h.src.TopPlayers(r.Context(), limit)
	if err != nil {
		h.log.Error("leaderboard query failed", slog.String("error", err.Error()))
		http.Error(w, `{"error":"INTERNAL"}`, http.StatusInternalServerError)
		return
	}
	if stats == nil {
		stats = []PlayerStats{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"players": stats})
}

// PlayerHistory handles GET /history?userId=...&limit=N.
func (h *Handler) PlayerHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, `{"error":"BAD_REQUEST"}`, http.StatusBadRequest)
		return
	}
	limit := int32(defaultLeaderboardSize)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
			limit = int32(n)
		}
	}

	records, err := h.src.MatchHistory(r.Context(), userID, limit)
	if err != nil {
		h.log.Error("history query failed",
			slog.String("userId", userID), slog.String("error", err.Error()))
		http.Error(w, `{"error":"INTERNAL"}`, http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []MatchRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"matches": records})
}
