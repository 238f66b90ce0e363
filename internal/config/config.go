package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/liuscraft/orion-translate/internal/translation"
)

const DefaultPath = "config/translate.json"

const (
	EngineFake      = "fake"
	EngineDashScope = "dashscope"
)

type AppConfig struct {
	Logging LoggingConfig `json:"logging"`
	Session SessionConfig `json:"session"`
	Engine  EngineConfig  `json:"engine"`
	TTS     TTSConfig     `json:"tts"`
	LLM     LLMConfig     `json:"llm"`
	Audio   AudioConfig   `json:"audio"`
	Keyword KeywordConfig `json:"keyword"`
	Server  ServerConfig  `json:"server"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

type SessionConfig struct {
	SourceLanguage  string   `json:"source_language"`
	TargetLanguages []string `json:"target_languages"`
	OutputVoice     string   `json:"output_voice"`
	// SynthesisChunkSize 每个合成事件的最大字节数
	SynthesisChunkSize int `json:"synthesis_chunk_size"`
}

// Translation 转换为会话配置
func (c SessionConfig) Translation() translation.Config {
	return translation.Config{
		SourceLanguage:  c.SourceLanguage,
		TargetLanguages: append([]string(nil), c.TargetLanguages...),
		OutputVoice:     c.OutputVoice,
	}
}

type EngineConfig struct {
	Provider      string `json:"provider"`
	APIKey        string `json:"api_key"`
	Endpoint      string `json:"endpoint"`
	Model         string `json:"model"`
	SampleRate    int    `json:"sample_rate"`
	MaxEndSilence int    `json:"max_end_silence_ms"`
	VocabularyID  string `json:"vocabulary_id"`
	// LLMFallback 引擎缺少译文时用大模型补全
	LLMFallback        bool `json:"llm_fallback"`
	TranslateTimeoutMs int  `json:"translate_timeout_ms"`
}

type TTSConfig struct {
	APIKey               string  `json:"api_key"`
	Endpoint             string  `json:"endpoint"`
	Workspace            string  `json:"workspace"`
	Model                string  `json:"model"`
	Format               string  `json:"format"`
	SampleRate           int     `json:"sample_rate"`
	Volume               int     `json:"volume"`
	Rate                 float64 `json:"rate"`
	Pitch                float64 `json:"pitch"`
	EnableSSML           bool    `json:"enable_ssml"`
	TextType             string  `json:"text_type"`
	EnableDataInspection *bool   `json:"enable_data_inspection"`
	MaxSegmentRunes      int     `json:"max_segment_runes"`
}

type LLMConfig struct {
	APIKey    string `json:"api_key"`
	BaseURL   string `json:"base_url"`
	Model     string `json:"model"`
	TimeoutMs int    `json:"timeout_ms"`
}

type AudioConfig struct {
	SampleRate      int    `json:"sample_rate"`
	Channels        int    `json:"channels"`
	FramesPerBuffer int    `json:"frames_per_buffer"`
	Device          string `json:"device"`
	HighLatency     bool   `json:"high_latency"`
	// ChunkMs 文件输入每块的时长
	ChunkMs int `json:"chunk_ms"`
	// RealTimePercentage 文件输入的播放速度，100 为实时，0 为不限速
	RealTimePercentage int `json:"real_time_percentage"`
}

type KeywordConfig struct {
	ModelPath string   `json:"model_path"`
	Phrases   []string `json:"phrases"`
	FollowUps int      `json:"follow_ups"`
}

type ServerConfig struct {
	Addr string `json:"addr"`
	// ReadLimit 单个 websocket 消息的最大字节数
	ReadLimit int64 `json:"read_limit"`
}

func DefaultConfig() *AppConfig {
	enableDataInspection := true

	return &AppConfig{
		Logging: LoggingConfig{},
		Session: SessionConfig{
			SourceLanguage:     "zh-CN",
			TargetLanguages:    []string{"en-US"},
			SynthesisChunkSize: 32 * 1024,
		},
		Engine: EngineConfig{
			Provider:           EngineDashScope,
			Model:              "gummy-realtime-v1",
			SampleRate:         16000,
			MaxEndSilence:      800,
			TranslateTimeoutMs: 10000,
		},
		TTS: TTSConfig{
			Model:                "cosyvoice-v3-flash",
			Format:               "pcm",
			SampleRate:           16000,
			Volume:               50,
			Rate:                 1.0,
			Pitch:                1.0,
			TextType:             "PlainText",
			EnableDataInspection: &enableDataInspection,
			MaxSegmentRunes:      120,
		},
		LLM: LLMConfig{
			BaseURL:   "https://dashscope.aliyuncs.com/compatible-mode/v1",
			Model:     "qwen-plus",
			TimeoutMs: 10000,
		},
		Audio: AudioConfig{
			SampleRate:         16000,
			Channels:           1,
			ChunkMs:            100,
			RealTimePercentage: 100,
		},
		Keyword: KeywordConfig{
			FollowUps: 1,
		},
		Server: ServerConfig{
			Addr:      ":8080",
			ReadLimit: 1 << 20,
		},
	}
}

func Load(path string) (*AppConfig, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = DefaultPath
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg.ApplyEnv()
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.ApplyEnv()
	return cfg, cfg.Validate()
}

func (c *AppConfig) ApplyEnv() {
	if level := strings.TrimSpace(os.Getenv("LOG_LEVEL")); level != "" {
		c.Logging.Level = level
	}
	if format := strings.TrimSpace(os.Getenv("LOG_FORMAT")); format != "" {
		c.Logging.Format = format
	}

	if dash := strings.TrimSpace(os.Getenv("DASHSCOPE_API_KEY")); dash != "" {
		c.Engine.APIKey = dash
		c.TTS.APIKey = dash
		if strings.TrimSpace(c.LLM.APIKey) == "" {
			c.LLM.APIKey = dash
		}
	}

	if llm := strings.TrimSpace(os.Getenv("LLM_API_KEY")); llm != "" {
		c.LLM.APIKey = llm
	}
	if addr := strings.TrimSpace(os.Getenv("TRANSLATE_SERVER_ADDR")); addr != "" {
		c.Server.Addr = addr
	}
}

func (c *AppConfig) Validate() error {
	if err := c.Session.Translation().Validate(); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	if c.Session.SynthesisChunkSize <= 0 {
		return errors.New("session.synthesis_chunk_size must be positive")
	}

	switch strings.ToLower(strings.TrimSpace(c.Engine.Provider)) {
	case EngineFake, EngineDashScope:
	default:
		return fmt.Errorf("invalid engine provider: %s", c.Engine.Provider)
	}
	if c.Engine.SampleRate <= 0 {
		return errors.New("engine.sample_rate must be positive")
	}
	if c.Engine.MaxEndSilence < 0 {
		return errors.New("engine.max_end_silence_ms must be non-negative")
	}

	if c.TTS.SampleRate <= 0 {
		return errors.New("tts.sample_rate must be positive")
	}
	if c.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if c.Audio.Channels <= 0 {
		return errors.New("audio.channels must be positive")
	}
	if c.Audio.ChunkMs < 0 {
		return errors.New("audio.chunk_ms must be non-negative")
	}
	if c.Audio.RealTimePercentage < 0 {
		return errors.New("audio.real_time_percentage must be non-negative")
	}
	if c.Keyword.FollowUps < 0 {
		return errors.New("keyword.follow_ups must be non-negative")
	}
	if strings.TrimSpace(c.Server.Addr) == "" {
		return errors.New("server.addr must not be empty")
	}
	return nil
}

// ValidateKeys 校验启用的云服务是否配置了密钥
func (c *AppConfig) ValidateKeys(requireEngine, requireTTS, requireLLM bool) error {
	if requireEngine && strings.TrimSpace(c.Engine.APIKey) == "" {
		return errors.New("engine api_key is required")
	}
	if requireTTS && strings.TrimSpace(c.TTS.APIKey) == "" {
		return errors.New("tts api_key is required")
	}
	if requireLLM && strings.TrimSpace(c.LLM.APIKey) == "" {
		return errors.New("llm api_key is required")
	}
	return nil
}

// UsesDashScope 引擎是否需要云端密钥
func (c *AppConfig) UsesDashScope() bool {
	return strings.EqualFold(strings.TrimSpace(c.Engine.Provider), EngineDashScope)
}

// SynthesisEnabled 配置了输出音色时才合成
func (c *AppConfig) SynthesisEnabled() bool {
	return strings.TrimSpace(c.Session.OutputVoice) != ""
}
