package config

import (
	"flag"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env     string        `yaml:"env" env:"APP_ENV" env-default:"local"`
	HTTP    HTTPConfig    `yaml:"http"`
	Redis   RedisConfig   `yaml:"redis"`
	Auth    AuthConfig    `yaml:"auth"`
	Game    GameConfig    `yaml:"game"`
	History HistoryConfig `yaml:"history"`
}

type HTTPConfig struct {
	Address     string `yaml:"address" env:"HTTP_ADDRESS" env-default:":8080"`
	FrontendURL string `yaml:"frontend_url" env:"FRONTEND_URL" env-default:"http://localhost:5173"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD" env-default:""`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

type AuthConfig struct {
	JWTSecret          string `yaml:"jwt_secret" env:"JWT_SECRET"`
	GoogleClientID     string `yaml:"google_client_id" env:"GOOGLE_CLIENT_ID" env-default:""`
	GoogleClientSecret string `yaml:"google_client_secret" env:"GOOGLE_CLIENT_SECRET" env-default:""`
	GoogleRedirectURL  string `yaml:"google_redirect_url" env:"GOOGLE_REDIRECT_URL" env-default:""`
}

type GameConfig struct {
	ChoosingWindow time.Duration `yaml:"choosing_window" env:"GAME_CHOOSING_WINDOW" env-default:"6s"`
	Tick           time.Duration `yaml:"tick" env:"GAME_TICK" env-default:"500ms"`
	ClickMinGap    time.Duration `yaml:"click_min_gap" env:"GAME_CLICK_MIN_GAP" env-default:"50ms"`
}

type HistoryConfig struct {
	Enabled      bool   `yaml:"enabled" env:"HISTORY_ENABLED" env-default:"false"`
	AWSRegion    string `yaml:"aws_region" env:"AWS_REGION" env-default:"eu-west-3"`
	MatchesTable string `yaml:"matches_table" env:"HISTORY_MATCHES_TABLE" env-default:"ClickBattleMatches"`
	StatsTable   string `yaml:"stats_table" env:"HISTORY_STATS_TABLE" env-default:"ClickBattlePlayerStats"`
}

// MustLoad reads the yaml config named by -config or CONFIG_PATH, falling
// back to environment variables alone when no file is present.
func MustLoad() *Config {
	configPath := fetchConfigPath()

	var cfg Config
	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			panic("config file does not exist: " + configPath)
		}
		if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
			panic("cannot read config: " + err.Error())
		}
	} else {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			panic("cannot read config from env: " + err.Error())
		}
	}

	if cfg.Auth.JWTSecret == "" {
		panic("JWT_SECRET is required")
	}

	return &cfg
}

func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	return res
}
