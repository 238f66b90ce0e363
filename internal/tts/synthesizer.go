package tts

import (
	"context"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/liuscraft/orion-translate/internal/logging"
	"github.com/liuscraft/orion-translate/internal/text"
)

const (
	defaultMaxSegmentRunes = 120
	defaultFinishTimeout   = 30 * time.Second
)

// Synthesizer 把一段译文合成为 PCM 音频流
type Synthesizer struct {
	provider      Provider
	cfg           Config
	filter        text.MarkdownFilter
	maxRunes      int
	finishTimeout time.Duration
	log           *zap.SugaredLogger
}

type SynthesizerOption func(*Synthesizer)

// WithMaxSegmentRunes 单次发送给服务端的最大字符数
func WithMaxSegmentRunes(n int) SynthesizerOption {
	return func(s *Synthesizer) {
		if n > 0 {
			s.maxRunes = n
		}
	}
}

func WithFinishTimeout(d time.Duration) SynthesizerOption {
	return func(s *Synthesizer) {
		if d > 0 {
			s.finishTimeout = d
		}
	}
}

func NewSynthesizer(provider Provider, cfg Config, opts ...SynthesizerOption) *Synthesizer {
	s := &Synthesizer{
		provider:      provider,
		cfg:           cfg,
		filter:        text.NewMarkdownFilter(nil),
		maxRunes:      defaultMaxSegmentRunes,
		finishTimeout: defaultFinishTimeout,
		log:           logging.Named("synthesizer"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Synthesize voice 为空时使用配置中的音色；返回的 reader 读到 EOF 表示合成结束，
// 合成失败时 Read 返回对应错误。关闭 reader 会取消未完成的合成
func (s *Synthesizer) Synthesize(ctx context.Context, voice, input string) (io.ReadCloser, error) {
	segments := text.Split(s.filter.Filter(input), s.maxRunes)
	if len(segments) == 0 {
		return nil, ErrEmptyText
	}

	cfg := s.cfg
	if voice != "" {
		cfg.Voice = voice
	}

	ctx, cancel := context.WithCancel(ctx)
	stream, err := s.provider.Start(ctx, cfg)
	if err != nil {
		cancel()
		return nil, err
	}

	for _, segment := range segments {
		if err := stream.WriteTextChunk(ctx, segment); err != nil {
			cancel()
			_ = stream.Close(ctx)
			return nil, err
		}
	}

	go func() {
		finishCtx, done := context.WithTimeout(ctx, s.finishTimeout)
		defer done()
		if err := stream.Close(finishCtx); err != nil {
			s.log.Warnf("finish synthesis (voice=%s): %v", cfg.Voice, err)
		}
	}()

	s.log.Debugw("synthesis started", "voice", cfg.Voice, "segments", len(segments))
	return &synthesisReader{ReadCloser: stream.AudioReader(), cancel: cancel}, nil
}

type synthesisReader struct {
	io.ReadCloser
	cancel context.CancelFunc
	once   sync.Once
}

func (r *synthesisReader) Close() error {
	var err error
	r.once.Do(func() {
		r.cancel()
		err = r.ReadCloser.Close()
	})
	return err
}
