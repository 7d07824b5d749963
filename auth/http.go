package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/clickbattle-gg/backend/store"
)

// pseudoTTL is how long a display name stays reserved for a browser.
const pseudoTTL = 30 * 24 * time.Hour

var validate = validator.New()

type tokenRequest struct {
	UserID    string `json:"userId,omitempty"`
	BrowserID string `json:"browserId" validate:"required"`
	Name      string `json:"name" validate:"required,min=1,max=24"`
}

type tokenResponse struct {
	Token  string `json:"token"`
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

// Handler serves the token endpoint: reserve the pseudo for the requesting
// browser, then mint a token. Conflicting pseudos are refused with 409.
type Handler struct {
	tokens *Service
	store  store.Store
	log    *slog.Logger
}

// NewHandler builds the auth HTTP handler.
func NewHandler(tokens *Service, st store.Store, log *slog.Logger) *Handler {
	return &Handler{tokens: tokens, store: st, log: log.With(slog.String("component", "auth"))}
}

// Token handles POST /auth/token.
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		json.NewEncoder(w).Encode(map[string]string{"error": "method not allowed"})
		return
	}

	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "BAD_REQUEST"})
		return
	}
	if err := validate.Struct(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "BAD_REQUEST"})
		return
	}

	ok, err := h.store.ReservePseudo(r.Context(), req.Name, req.BrowserID, pseudoTTL)
	if err != nil {
		h.log.Error("reserve pseudo", slog.Any("error", err))
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "INTERNAL"})
		return
	}
	if !ok {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "PSEUDO_TAKEN"})
		return
	}

	userID := req.UserID
	if userID == "" {
		userID = uuid.NewString()
	}

	token, err := h.tokens.Sign(userID, req.Name)
	if err != nil {
		h.log.Error("sign token", slog.Any("error", err))
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "INTERNAL"})
		return
	}

	h.log.Info("token issued", slog.String("userId", userID), slog.String("name", req.Name))
	json.NewEncoder(w).Encode(tokenResponse{Token: token, UserID: userID, Name: req.Name})
}
