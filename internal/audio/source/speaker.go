package source

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"

	"github.com/liuscraft/orion-translate/internal/logging"
)

// SpeakerOptions 播放参数；输入始终是单声道 int16 PCM
type SpeakerOptions struct {
	SampleRate int
	Channels   int
	Volume     float64
}

func (o *SpeakerOptions) applyDefaults() {
	if o.SampleRate <= 0 {
		o.SampleRate = 16000
	}
	if o.Channels <= 0 {
		o.Channels = 2
	}
	if o.Volume <= 0 {
		o.Volume = 1.0
	}
}

type playbackStream interface {
	Start() error
	Stop() error
	Close() error
}

// Speaker 把合成音频写入默认输出设备
type Speaker struct {
	opts   SpeakerOptions
	stream playbackStream
	log    *zap.SugaredLogger

	mu      sync.Mutex
	pending bytes.Buffer
	played  int64
	closed  bool
}

// OpenSpeaker 打开默认输出流并立即开始播放，需先调用 Initialize
func OpenSpeaker(opts SpeakerOptions) (*Speaker, error) {
	opts.applyDefaults()
	s := newSpeaker(opts, logging.Named("speaker"))
	stream, err := portaudio.OpenDefaultStream(0, opts.Channels, float64(opts.SampleRate), 1024, s.fill)
	if err != nil {
		return nil, fmt.Errorf("open output stream: %w", err)
	}
	s.stream = stream
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("start output stream: %w", err)
	}
	s.log.Infow("speaker opened", "sample_rate", opts.SampleRate, "channels", opts.Channels)
	return s, nil
}

func newSpeaker(opts SpeakerOptions, log *zap.SugaredLogger) *Speaker {
	return &Speaker{opts: opts, log: log}
}

// Write 排队一段 PCM，非阻塞
func (s *Speaker) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, fmt.Errorf("speaker closed")
	}
	return s.pending.Write(p)
}

// Pending 尚未播放的字节数
func (s *Speaker) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.Len()
}

// Close 停止播放并丢弃剩余音频
func (s *Speaker) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	dropped := s.pending.Len()
	s.pending.Reset()
	played := s.played
	s.mu.Unlock()

	if s.stream != nil {
		if err := s.stream.Stop(); err != nil {
			s.log.Warnf("stop output stream: %v", err)
		}
		if err := s.stream.Close(); err != nil {
			s.log.Warnf("close output stream: %v", err)
		}
	}
	s.log.Infof("speaker closed, played %d bytes, dropped %d", played, dropped)
	return nil
}

// fill 是 portaudio 回调：每个输出声道写入同一个单声道样本，不足处补零
func (s *Speaker) fill(out [][]float32) {
	for ch := range out {
		clear(out[ch])
	}
	if len(out) == 0 {
		return
	}
	frames := len(out[0])

	s.mu.Lock()
	want := frames * 2
	if want > s.pending.Len() {
		want = s.pending.Len() &^ 1
	}
	chunk := make([]byte, want)
	_, _ = s.pending.Read(chunk)
	s.played += int64(want)
	volume := float32(s.opts.Volume)
	s.mu.Unlock()

	for i := 0; i < want/2; i++ {
		sample := int16(binary.LittleEndian.Uint16(chunk[i*2:]))
		v := clampUnit(float32(sample) / 32768.0 * volume)
		for ch := range out {
			out[ch][i] = v
		}
	}
}

func clampUnit(v float32) float32 {
	switch {
	case v > 1.0:
		return 1.0
	case v < -1.0:
		return -1.0
	default:
		return v
	}
}
