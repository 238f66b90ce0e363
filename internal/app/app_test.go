package app

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/liuscraft/orion-translate/internal/config"
	"github.com/liuscraft/orion-translate/internal/engine"
	"github.com/liuscraft/orion-translate/internal/translation"
)

func testConfig() *config.AppConfig {
	cfg := config.DefaultConfig()
	cfg.Engine.Provider = config.EngineFake
	return cfg
}

func TestFileOpenerResamplesToEngineRate(t *testing.T) {
	cfg := testConfig()
	cfg.Audio.SampleRate = 8000
	cfg.Audio.RealTimePercentage = 0
	cfg.Engine.SampleRate = 16000

	path := filepath.Join(t.TempDir(), "speech.pcm")
	if err := os.WriteFile(path, make([]byte, 1600), 0o644); err != nil {
		t.Fatalf("write pcm: %v", err)
	}

	src, err := FileOpener(cfg, path)()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer src.Close()

	chunk, err := src.Read(context.Background())
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(chunk) != 3200 {
		t.Errorf("chunk = %d bytes, want 3200", len(chunk))
	}
	if _, err := src.Read(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("second Read() error = %v, want EOF", err)
	}
}

func TestNewEngine(t *testing.T) {
	ctx := context.Background()

	eng, err := NewEngine(ctx, testConfig(), nil)
	if err != nil {
		t.Fatalf("NewEngine(fake) error = %v", err)
	}
	if _, ok := eng.(*engine.FakeEngine); !ok {
		t.Errorf("NewEngine(fake) = %T", eng)
	}

	cfg := testConfig()
	cfg.Engine.Provider = config.EngineDashScope
	if _, err := NewEngine(ctx, cfg, nil); err == nil {
		t.Error("expected missing key error for dashscope")
	}

	cfg = testConfig()
	cfg.Engine.LLMFallback = true
	if _, err := NewEngine(ctx, cfg, nil); err == nil {
		t.Error("expected missing llm key error")
	}

	cfg.LLM.APIKey = "llm-key"
	eng, err = NewEngine(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("NewEngine(fallback) error = %v", err)
	}
	if _, ok := eng.(*engine.TranslatingEngine); !ok {
		t.Errorf("NewEngine(fallback) = %T", eng)
	}
}

func TestNewSessionRunsDemoEngine(t *testing.T) {
	cfg := testConfig()
	session, err := NewSession(context.Background(), cfg, translation.Config{
		SourceLanguage:  "zh-CN",
		TargetLanguages: []string{"en-US"},
	}, nil)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	defer session.Dispose()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := session.RecognizeOnce(ctx)
	if err != nil {
		t.Fatalf("RecognizeOnce() error = %v", err)
	}
	if result.Text() != "你好，欢迎使用实时翻译。" {
		t.Errorf("Text() = %q", result.Text())
	}
}

func TestNewSessionRequiresTTSKeyForVoice(t *testing.T) {
	cfg := testConfig()
	_, err := NewSession(context.Background(), cfg, translation.Config{
		SourceLanguage:  "zh-CN",
		TargetLanguages: []string{"en-US"},
		OutputVoice:     "loongstella",
	}, nil)
	if err == nil {
		t.Fatal("expected tts key error")
	}
}

func TestKeywordModel(t *testing.T) {
	m, err := KeywordModel(config.KeywordConfig{Phrases: []string{"hey orion"}, FollowUps: 2})
	if err != nil {
		t.Fatalf("KeywordModel() error = %v", err)
	}
	if m.FollowUps != 2 || len(m.Phrases) != 1 {
		t.Errorf("model = %+v", m)
	}

	if _, err := KeywordModel(config.KeywordConfig{}); err == nil {
		t.Error("expected error without phrases")
	}
	if _, err := KeywordModel(config.KeywordConfig{ModelPath: filepath.Join(t.TempDir(), "none.yaml")}); err == nil {
		t.Error("expected error for missing model file")
	}
}
