package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"beergame/internal/game"
)

const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"
)

type APIConfig struct {
	Addr               string
	Store              string
	DatabaseURL        string
	SQLitePath         string
	InstructorPassword string
	DiscordToken       string
	DiscordChannelID   string
	AdvanceEvery       time.Duration
	WorkerRunOnce      bool
	LogLevel           slog.Level
	Game               game.Config
}

type CLIConfig struct {
	APIBaseURL string
}

// LoadDotEnv reads a .env file from the working directory when present.
// Variables already set in the environment win.
func LoadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func LoadAPIFromEnv() (APIConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("BEERGAME_API_ADDR", ":8080")
	}

	gameCfg, err := LoadGameFromEnv()
	if err != nil {
		return APIConfig{}, err
	}
	cfg := APIConfig{
		Addr:               addr,
		Store:              strings.ToLower(envDefault("BEERGAME_STORE", StoreSQLite)),
		DatabaseURL:        strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SQLitePath:         envDefault("BEERGAME_SQLITE_PATH", "tmp/beergame.sqlite"),
		InstructorPassword: envDefault("BEERGAME_INSTRUCTOR_PASSWORD", "beer123"),
		DiscordToken:       strings.TrimSpace(os.Getenv("DISCORD_BOT_TOKEN")),
		DiscordChannelID:   strings.TrimSpace(os.Getenv("DISCORD_CHANNEL_ID")),
		AdvanceEvery:       envDurationDefault("BEERGAME_ADVANCE_EVERY", 0),
		WorkerRunOnce:      envBoolDefault("BEERGAME_WORKER_RUN_ONCE", false),
		LogLevel:           envLevelDefault("LOG_LEVEL", slog.LevelInfo),
		Game:               gameCfg,
	}
	switch cfg.Store {
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return cfg, fmt.Errorf("BEERGAME_STORE=postgres requires DATABASE_URL")
		}
	case StoreSQLite, StoreMemory:
	default:
		return cfg, fmt.Errorf("unsupported BEERGAME_STORE %q", cfg.Store)
	}
	if (cfg.DiscordToken == "") != (cfg.DiscordChannelID == "") {
		return cfg, fmt.Errorf("DISCORD_BOT_TOKEN and DISCORD_CHANNEL_ID must be set together")
	}
	if cfg.AdvanceEvery < 0 {
		return cfg, fmt.Errorf("BEERGAME_ADVANCE_EVERY must not be negative")
	}
	return cfg, nil
}

// LoadGameFromEnv reads the engine policies on top of game.DefaultConfig.
func LoadGameFromEnv() (game.Config, error) {
	cfg := game.DefaultConfig()
	if teams := envList("BEERGAME_TEAMS"); len(teams) > 0 {
		cfg.Teams = teams
	}
	cfg.LeadTime = envIntDefault("BEERGAME_LEAD_TIME", cfg.LeadTime)
	cfg.PipelineDefault = envIntDefault("BEERGAME_PIPELINE_DEFAULT", cfg.PipelineDefault)
	cfg.PipelineFromGhost = envBoolDefault("BEERGAME_PIPELINE_FROM_GHOST", cfg.PipelineFromGhost)
	if v := strings.TrimSpace(os.Getenv("BEERGAME_GHOST_POLICY")); v != "" {
		policy, err := game.ParseGhostPolicy(v)
		if err != nil {
			return cfg, err
		}
		cfg.Ghost = policy
	}
	cfg.GhostMin = envIntDefault("BEERGAME_GHOST_MIN", cfg.GhostMin)
	cfg.GhostMax = envIntDefault("BEERGAME_GHOST_MAX", cfg.GhostMax)
	cfg.Shock = envBoolDefault("BEERGAME_SHOCK", cfg.Shock)
	cfg.ShockWeek = envIntDefault("BEERGAME_SHOCK_WEEK", cfg.ShockWeek)
	cfg.ShockDemand = envIntDefault("BEERGAME_SHOCK_DEMAND", cfg.ShockDemand)
	cfg.HoldRate = envFloatDefault("BEERGAME_HOLD_RATE", cfg.HoldRate)
	cfg.BacklogRate = envFloatDefault("BEERGAME_BACKLOG_RATE", cfg.BacklogRate)
	cfg.InitialInventory = envIntDefault("BEERGAME_INITIAL_INVENTORY", cfg.InitialInventory)
	cfg.DefaultDemand = envIntDefault("BEERGAME_DEFAULT_DEMAND", cfg.DefaultDemand)
	cfg.MaxDemand = envIntDefault("BEERGAME_MAX_DEMAND", cfg.MaxDemand)
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("game config: %w", err)
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("BEER_API_BASE_URL", "http://localhost:8080"), "/"),
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envFloatDefault(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return fallback
	}
	return f
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envLevelDefault(key string, fallback slog.Level) slog.Level {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		return fallback
	}
	return lvl
}
