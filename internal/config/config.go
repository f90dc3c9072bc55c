// README: Config loader with env defaults for HTTP, stores, AI providers, Maps and sessions.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"

	ModeFree     = "free"
	ModeScripted = "scripted"
)

type AIConfig struct {
	Provider            string
	GeminiKey           string
	OpenAIKey           string
	Model               string
	Temperature         float32
	ExtractTemperature  float32
	ShowMoreTemperature float32
	MaxOutputTokens     int32
}

type MapsConfig struct {
	APIKey   string
	Language string
	Region   string
}

type SessionConfig struct {
	Timeout         time.Duration
	CleanupInterval time.Duration
}

type Config struct {
	HTTP struct {
		Addr        string
		CORSOrigins []string
		TurnTimeout time.Duration
	}
	DB struct {
		DSN string
	}
	Redis struct {
		Addr string
	}
	AI       AIConfig
	Maps     MapsConfig
	Session  SessionConfig
	Dialogue struct {
		Mode string
	}
}

// Load reads an optional .env file and then the process environment.
// Empty Redis/DB settings select the in-memory session store and disable the usage ledger.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	cfg.HTTP.Addr = envOrDefault("OUTING_HTTP_ADDR", ":8080")
	cfg.HTTP.CORSOrigins = envList("OUTING_CORS_ORIGINS", []string{"*"})
	cfg.HTTP.TurnTimeout = envOrDefaultDuration("OUTING_TURN_TIMEOUT", 60*time.Second)
	cfg.DB.DSN = os.Getenv("OUTING_DB_DSN")
	cfg.Redis.Addr = os.Getenv("OUTING_REDIS_ADDR")

	cfg.AI.Provider = strings.ToLower(envOrDefault("OUTING_AI_PROVIDER", ProviderGemini))
	cfg.AI.GeminiKey = os.Getenv("GEMINI_API_KEY")
	cfg.AI.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	cfg.AI.Model = os.Getenv("OUTING_AI_MODEL")
	cfg.AI.Temperature = envOrDefaultFloat32("OUTING_AI_TEMPERATURE", 0.7)
	cfg.AI.ExtractTemperature = envOrDefaultFloat32("OUTING_AI_EXTRACT_TEMPERATURE", 0.1)
	cfg.AI.ShowMoreTemperature = envOrDefaultFloat32("OUTING_AI_SHOW_MORE_TEMPERATURE", 0.9)
	cfg.AI.MaxOutputTokens = int32(envOrDefaultInt("OUTING_AI_MAX_OUTPUT_TOKENS", 2048))

	cfg.Maps.APIKey = os.Getenv("GOOGLE_MAPS_API_KEY")
	cfg.Maps.Language = envOrDefault("OUTING_MAPS_LANGUAGE", "ja")
	cfg.Maps.Region = envOrDefault("OUTING_MAPS_REGION", "JP")

	cfg.Session.Timeout = envOrDefaultDuration("OUTING_SESSION_TIMEOUT", 30*time.Minute)
	cfg.Session.CleanupInterval = envOrDefaultDuration("OUTING_SESSION_CLEANUP_INTERVAL", 10*time.Minute)

	cfg.Dialogue.Mode = strings.ToLower(envOrDefault("OUTING_DIALOGUE_MODE", ModeFree))

	if cfg.AI.Model == "" {
		cfg.AI.Model = defaultModel(cfg.AI.Provider)
	}
	return cfg, cfg.Validate()
}

// Validate reports the first missing or inconsistent setting.
func (c Config) Validate() error {
	switch c.AI.Provider {
	case ProviderGemini:
		if c.AI.GeminiKey == "" {
			return fmt.Errorf("environment variable GEMINI_API_KEY is required")
		}
	case ProviderOpenAI:
		if c.AI.OpenAIKey == "" {
			return fmt.Errorf("environment variable OPENAI_API_KEY is required")
		}
	default:
		return fmt.Errorf("unknown OUTING_AI_PROVIDER %q", c.AI.Provider)
	}
	if c.Maps.APIKey == "" {
		return fmt.Errorf("environment variable GOOGLE_MAPS_API_KEY is required")
	}
	if c.Dialogue.Mode != ModeFree && c.Dialogue.Mode != ModeScripted {
		return fmt.Errorf("unknown OUTING_DIALOGUE_MODE %q", c.Dialogue.Mode)
	}
	if c.Session.Timeout <= 0 || c.Session.CleanupInterval <= 0 {
		return fmt.Errorf("session timeout and cleanup interval must be positive")
	}
	return nil
}

func defaultModel(provider string) string {
	if provider == ProviderOpenAI {
		return "gpt-4o-mini"
	}
	return "gemini-2.0-flash"
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultFloat32(key string, def float32) float32 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 32); err == nil {
			return float32(n)
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
