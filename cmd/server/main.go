package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/clickbattle-gg/backend/auth"
	"github.com/clickbattle-gg/backend/config"
	"github.com/clickbattle-gg/backend/game"
	"github.com/clickbattle-gg/backend/history"
	"github.com/clickbattle-gg/backend/rooms"
	"github.com/clickbattle-gg/backend/store"
	"github.com/clickbattle-gg/backend/ws"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	// .env is optional; real deployments set variables directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	log := setupLogger(cfg.Env)
	log.Info("starting click battle server", slog.String("env", cfg.Env))

	ctx := context.Background()

	st, err := store.NewRedis(ctx, store.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, log)
	if err != nil {
		log.Error("redis connection failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	tokens := auth.NewService([]byte(cfg.Auth.JWTSecret), "clickbattle")
	hub := ws.NewHub(tokens, log)

	gameSvc := game.New(st, hub, log)
	gameSvc.ChoosingWindow = cfg.Game.ChoosingWindow
	gameSvc.Tick = cfg.Game.Tick
	gameSvc.ClickMinGap = cfg.Game.ClickMinGap

	registry := rooms.New(st, gameSvc, log)
	hub.SetHandler(ws.NewHandler(hub, registry, gameSvc, log))
	go hub.Run()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ws", hub.ServeWS)

	authHandler := auth.NewHandler(tokens, st, log)
	mux.HandleFunc("/auth/token", authHandler.Token)

	if cfg.Auth.GoogleClientID != "" {
		google := auth.NewGoogle(tokens,
			cfg.Auth.GoogleClientID, cfg.Auth.GoogleClientSecret,
			cfg.Auth.GoogleRedirectURL, cfg.HTTP.FrontendURL, log)
		mux.HandleFunc("/auth/google/login", google.Login)
		mux.HandleFunc("/auth/google/callback", google.Callback)
		log.Info("google sign-in enabled")
	}

	if cfg.History.Enabled {
		archive, err := history.NewDynamo(ctx, cfg.History.AWSRegion,
			cfg.History.MatchesTable, cfg.History.StatsTable, log)
		if err != nil {
			log.Error("history backend unavailable", slog.String("error", err.Error()))
			os.Exit(1)
		}
		gameSvc.SetArchiver(archive)
		historyHandler := history.NewHandler(archive, log)
		mux.HandleFunc("/leaderboard", historyHandler.Leaderboard)
		mux.HandleFunc("/history", historyHandler.PlayerHistory)
		log.Info("match history enabled",
			slog.String("matchesTable", cfg.History.MatchesTable),
			slog.String("statsTable", cfg.History.StatsTable))
	}

	log.Info("listening", slog.String("address", cfg.HTTP.Address))
	if err := http.ListenAndServe(cfg.HTTP.Address, withCORS(cfg.HTTP.FrontendURL, mux)); err != nil {
		log.Error("server stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func withCORS(origin string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envDev:
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envProd:
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	default:
		log = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	return log
}
