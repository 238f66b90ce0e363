// Package app 根据 AppConfig 组装引擎、音频源与合成器，供命令行和服务端共用
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/liuscraft/orion-translate/internal/ai"
	"github.com/liuscraft/orion-translate/internal/audio"
	"github.com/liuscraft/orion-translate/internal/audio/source"
	"github.com/liuscraft/orion-translate/internal/config"
	"github.com/liuscraft/orion-translate/internal/engine"
	"github.com/liuscraft/orion-translate/internal/keyword"
	"github.com/liuscraft/orion-translate/internal/logging"
	"github.com/liuscraft/orion-translate/internal/translation"
	"github.com/liuscraft/orion-translate/internal/tts"
)

type formatter interface {
	Format() audio.Format
}

// Resampled 打开的音频源采样率与引擎不同时插入重采样
func Resampled(open audio.Opener, toRate int) audio.Opener {
	return func() (audio.Source, error) {
		src, err := open()
		if err != nil {
			return nil, err
		}
		f, ok := src.(formatter)
		if !ok {
			return src, nil
		}
		format := f.Format()
		if format.Channels != 1 {
			logging.Warnf("audio input has %d channels, engine expects mono", format.Channels)
		}
		return audio.NewResamplingSource(src, format, toRate, nil), nil
	}
}

// MicrophoneOpener 每次激活打开默认或指定的输入设备
func MicrophoneOpener(cfg *config.AppConfig) audio.Opener {
	return Resampled(source.Opener(source.Options{
		SampleRate:      cfg.Audio.SampleRate,
		Channels:        cfg.Audio.Channels,
		FramesPerBuffer: cfg.Audio.FramesPerBuffer,
		HighLatency:     cfg.Audio.HighLatency,
		Device:          cfg.Audio.Device,
	}), cfg.Engine.SampleRate)
}

// FileOpener 每次激活从头读取音频文件
func FileOpener(cfg *config.AppConfig, path string) audio.Opener {
	return Resampled(audio.FileOpener(path, audio.FileOptions{
		Format:             audio.Format{SampleRate: cfg.Audio.SampleRate, Channels: cfg.Audio.Channels},
		ChunkDuration:      cfg.Audio.ChunkMs,
		RealTimePercentage: cfg.Audio.RealTimePercentage,
	}), cfg.Engine.SampleRate)
}

// NewEngine 按 engine.provider 创建引擎，开启 llm_fallback 时包装大模型翻译
func NewEngine(ctx context.Context, cfg *config.AppConfig, open audio.Opener) (engine.Engine, error) {
	var (
		eng engine.Engine
		err error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Engine.Provider)) {
	case config.EngineFake:
		eng = demoEngine()
	case config.EngineDashScope:
		if err := cfg.ValidateKeys(true, false, false); err != nil {
			return nil, err
		}
		eng, err = engine.NewDashScopeEngine(engine.DashScopeConfig{
			APIKey:        cfg.Engine.APIKey,
			Endpoint:      cfg.Engine.Endpoint,
			Model:         cfg.Engine.Model,
			SampleRate:    cfg.Engine.SampleRate,
			MaxEndSilence: cfg.Engine.MaxEndSilence,
			VocabularyID:  cfg.Engine.VocabularyID,
		}, open)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown engine provider: %s", cfg.Engine.Provider)
	}

	if !cfg.Engine.LLMFallback {
		return eng, nil
	}
	translator, err := NewTranslator(ctx, cfg)
	if err != nil {
		_ = eng.Close()
		return nil, err
	}
	return engine.NewTranslatingEngine(eng, translator, msDuration(cfg.Engine.TranslateTimeoutMs)), nil
}

func NewTranslator(ctx context.Context, cfg *config.AppConfig) (*ai.Translator, error) {
	if err := cfg.ValidateKeys(false, false, true); err != nil {
		return nil, err
	}
	return ai.NewTranslator(ctx, ai.Config{
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		APIKey:  cfg.LLM.APIKey,
		Timeout: msDuration(cfg.LLM.TimeoutMs),
	})
}

// demoEngine 离线演示用脚本，不含译文，配合 llm_fallback 可得到翻译
func demoEngine() *engine.FakeEngine {
	eng := engine.NewFakeEngine(
		engine.Utterance{Partials: []string{"你好"}, Text: "你好，欢迎使用实时翻译。"},
		engine.Utterance{Partials: []string{"今天"}, Text: "今天天气很好。"},
	)
	eng.Delay = 300 * time.Millisecond
	eng.EndOfInput = true
	return eng
}

func NewSynthesizer(cfg *config.AppConfig) (*tts.Synthesizer, error) {
	if err := cfg.ValidateKeys(false, true, false); err != nil {
		return nil, err
	}
	return tts.NewSynthesizer(tts.NewDashScopeProvider(), tts.Config{
		APIKey:               cfg.TTS.APIKey,
		Endpoint:             cfg.TTS.Endpoint,
		Workspace:            cfg.TTS.Workspace,
		Model:                cfg.TTS.Model,
		Format:               cfg.TTS.Format,
		SampleRate:           cfg.TTS.SampleRate,
		Volume:               cfg.TTS.Volume,
		Rate:                 cfg.TTS.Rate,
		Pitch:                cfg.TTS.Pitch,
		EnableSSML:           cfg.TTS.EnableSSML,
		TextType:             cfg.TTS.TextType,
		EnableDataInspection: cfg.TTS.EnableDataInspection,
	}, tts.WithMaxSegmentRunes(cfg.TTS.MaxSegmentRunes)), nil
}

// NewSession 用给定会话配置和音频源创建会话
func NewSession(ctx context.Context, cfg *config.AppConfig, session translation.Config, open audio.Opener) (*translation.Session, error) {
	eng, err := NewEngine(ctx, cfg, open)
	if err != nil {
		return nil, err
	}
	opts := []translation.Option{translation.WithSynthesisChunkSize(cfg.Session.SynthesisChunkSize)}
	if session.OutputVoice != "" {
		synth, err := NewSynthesizer(cfg)
		if err != nil {
			_ = eng.Close()
			return nil, err
		}
		opts = append(opts, translation.WithSynthesizer(synth))
	}
	s, err := translation.New(session, eng, opts...)
	if err != nil {
		_ = eng.Close()
		return nil, err
	}
	return s, nil
}

// KeywordModel 优先读取模型文件，否则使用配置中的唤醒词
func KeywordModel(cfg config.KeywordConfig) (*keyword.Model, error) {
	if cfg.ModelPath != "" {
		return keyword.FromFile(cfg.ModelPath)
	}
	m, err := keyword.FromPhrases(cfg.Phrases...)
	if err != nil {
		return nil, err
	}
	m.FollowUps = cfg.FollowUps
	return m, nil
}

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
