package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/liuscraft/orion-translate/internal/translation"
)

func TestLoad_MergesDefaultsAndEnv(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "translate.json")
	data := `{
		"logging": {"level": "debug"},
		"session": {"source_language": "en-US", "target_languages": ["de-DE", "fr"], "output_voice": "Katja"},
		"audio": {"sample_rate": 48000, "channels": 2}
	}`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("DASHSCOPE_API_KEY", "dash-key")
	t.Setenv("LLM_API_KEY", "llm-key")
	t.Setenv("TRANSLATE_SERVER_ADDR", "127.0.0.1:9000")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Logging.Level != "warn" {
		t.Fatalf("expected LOG_LEVEL to override config, got %q", cfg.Logging.Level)
	}
	want := translation.Config{SourceLanguage: "en-US", TargetLanguages: []string{"de-DE", "fr"}, OutputVoice: "Katja"}
	if got := cfg.Session.Translation(); !reflect.DeepEqual(got, want) {
		t.Fatalf("session = %+v, want %+v", got, want)
	}
	if cfg.Audio.SampleRate != 48000 || cfg.Audio.Channels != 2 {
		t.Fatalf("audio = %+v", cfg.Audio)
	}
	if cfg.Audio.ChunkMs != 100 {
		t.Fatalf("expected default chunk size to be preserved, got %d", cfg.Audio.ChunkMs)
	}
	if cfg.Engine.APIKey != "dash-key" || cfg.TTS.APIKey != "dash-key" {
		t.Fatalf("expected DashScope api key from env")
	}
	if cfg.LLM.APIKey != "llm-key" {
		t.Fatalf("expected LLM api key from env")
	}
	if cfg.Server.Addr != "127.0.0.1:9000" {
		t.Fatalf("expected server addr from env, got %q", cfg.Server.Addr)
	}
	if !cfg.SynthesisEnabled() || !cfg.UsesDashScope() {
		t.Fatalf("expected synthesis and dashscope to be enabled")
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("DASHSCOPE_API_KEY", "dash-key")
	t.Setenv("LLM_API_KEY", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.APIKey != "dash-key" {
		t.Fatalf("expected LLM key to fall back to DashScope key, got %q", cfg.LLM.APIKey)
	}
	if cfg.SynthesisEnabled() {
		t.Fatalf("synthesis should be disabled without an output voice")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "translate.json")
	if err := os.WriteFile(path, []byte("{"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
	}{
		{"empty source", func(c *AppConfig) { c.Session.SourceLanguage = "" }},
		{"no targets", func(c *AppConfig) { c.Session.TargetLanguages = nil }},
		{"duplicate targets", func(c *AppConfig) { c.Session.TargetLanguages = []string{"de", "de"} }},
		{"chunk size", func(c *AppConfig) { c.Session.SynthesisChunkSize = 0 }},
		{"engine provider", func(c *AppConfig) { c.Engine.Provider = "whisper" }},
		{"engine sample rate", func(c *AppConfig) { c.Engine.SampleRate = 0 }},
		{"audio channels", func(c *AppConfig) { c.Audio.Channels = 0 }},
		{"pacing", func(c *AppConfig) { c.Audio.RealTimePercentage = -1 }},
		{"follow ups", func(c *AppConfig) { c.Keyword.FollowUps = -1 }},
		{"server addr", func(c *AppConfig) { c.Server.Addr = " " }},
	}

	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestValidateSessionErrorType(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Session.SourceLanguage = ""
	var cfgErr *translation.ConfigurationError
	if err := cfg.Validate(); !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestValidateKeys(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.ValidateKeys(true, true, true); err == nil {
		t.Fatalf("expected error when keys are missing")
	}

	cfg.Engine.APIKey = "engine"
	cfg.TTS.APIKey = "tts"
	cfg.LLM.APIKey = "llm"
	if err := cfg.ValidateKeys(true, true, true); err != nil {
		t.Fatalf("unexpected key validation error: %v", err)
	}
}
