package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("GOOGLE_MAPS_API_KEY", "m-key")
	t.Setenv("OUTING_AI_PROVIDER", "")
	t.Setenv("OUTING_DIALOGUE_MODE", "")
	t.Setenv("OUTING_SESSION_TIMEOUT", "")
	t.Setenv("OUTING_CORS_ORIGINS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AI.Provider != ProviderGemini || cfg.AI.Model != "gemini-2.0-flash" {
		t.Fatalf("unexpected ai config: %+v", cfg.AI)
	}
	if cfg.Session.Timeout != 30*time.Minute || cfg.Session.CleanupInterval != 10*time.Minute {
		t.Fatalf("unexpected session config: %+v", cfg.Session)
	}
	if cfg.Dialogue.Mode != ModeFree {
		t.Fatalf("expected free mode, got %q", cfg.Dialogue.Mode)
	}
	if len(cfg.HTTP.CORSOrigins) != 1 || cfg.HTTP.CORSOrigins[0] != "*" {
		t.Fatalf("unexpected cors origins: %v", cfg.HTTP.CORSOrigins)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("OUTING_AI_PROVIDER", "OpenAI")
	t.Setenv("OPENAI_API_KEY", "o-key")
	t.Setenv("GOOGLE_MAPS_API_KEY", "m-key")
	t.Setenv("OUTING_SESSION_TIMEOUT", "5m")
	t.Setenv("OUTING_AI_SHOW_MORE_TEMPERATURE", "0.8")
	t.Setenv("OUTING_CORS_ORIGINS", "http://a.example, http://b.example")
	t.Setenv("OUTING_DIALOGUE_MODE", "scripted")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AI.Provider != ProviderOpenAI || cfg.AI.Model != "gpt-4o-mini" {
		t.Fatalf("unexpected ai config: %+v", cfg.AI)
	}
	if cfg.Session.Timeout != 5*time.Minute {
		t.Fatalf("expected 5m timeout, got %v", cfg.Session.Timeout)
	}
	if cfg.AI.ShowMoreTemperature < 0.79 || cfg.AI.ShowMoreTemperature > 0.81 {
		t.Fatalf("unexpected show-more temperature %v", cfg.AI.ShowMoreTemperature)
	}
	if len(cfg.HTTP.CORSOrigins) != 2 || cfg.HTTP.CORSOrigins[1] != "http://b.example" {
		t.Fatalf("unexpected cors origins: %v", cfg.HTTP.CORSOrigins)
	}
	if cfg.Dialogue.Mode != ModeScripted {
		t.Fatalf("expected scripted mode, got %q", cfg.Dialogue.Mode)
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		var c Config
		c.AI.Provider = ProviderGemini
		c.AI.GeminiKey = "k"
		c.Maps.APIKey = "m"
		c.Dialogue.Mode = ModeFree
		c.Session.Timeout = time.Minute
		c.Session.CleanupInterval = time.Minute
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"missing gemini key", func(c *Config) { c.AI.GeminiKey = "" }, true},
		{"missing openai key", func(c *Config) { c.AI.Provider = ProviderOpenAI }, true},
		{"unknown provider", func(c *Config) { c.AI.Provider = "bard" }, true},
		{"missing maps key", func(c *Config) { c.Maps.APIKey = "" }, true},
		{"unknown mode", func(c *Config) { c.Dialogue.Mode = "wizard" }, true},
		{"zero timeout", func(c *Config) { c.Session.Timeout = 0 }, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := base()
			tc.mutate(&c)
			err := c.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() err=%v wantErr=%v", err, tc.wantErr)
			}
		})
	}
}
