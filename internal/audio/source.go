package audio

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

// Source 音频输入源，Read 返回 16 位小端 PCM 块，输入结束时返回 io.EOF
type Source interface {
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

// Opener 每次激活打开一个新的音频源
type Opener func() (Source, error)

// Format PCM 格式
type Format struct {
	SampleRate int
	Channels   int
}

// BytesPerSecond 16 位 PCM 每秒字节数
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// ChunkBytes 给定时长对应的字节数，按帧对齐
func (f Format) ChunkBytes(d time.Duration) int {
	frame := f.Channels * 2
	n := int(int64(f.BytesPerSecond()) * int64(d) / int64(time.Second))
	n -= n % frame
	if n < frame {
		n = frame
	}
	return n
}

// Duration 给定字节数对应的播放时长
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

var ErrSourceClosed = errors.New("audio source closed")

// ReaderSource 把 io.Reader 切成固定时长的块
//
// Pace 为 0 时尽快读取；为 100 时按实时速度输出，50 表示两倍速。
type ReaderSource struct {
	reader io.Reader
	closer io.Closer
	format Format
	chunk  int
	pace   int

	mu      sync.Mutex
	closed  bool
	started time.Time
	sent    int
}

// ReaderOptions ReaderSource 选项
type ReaderOptions struct {
	Format Format
	// ChunkDuration 每次 Read 的音频时长，默认 100ms
	ChunkDuration time.Duration
	// RealTimePercentage 0 到 100，0 表示不节流
	RealTimePercentage int
}

func NewReaderSource(r io.Reader, opts ReaderOptions) *ReaderSource {
	if opts.Format.SampleRate <= 0 {
		opts.Format.SampleRate = 16000
	}
	if opts.Format.Channels <= 0 {
		opts.Format.Channels = 1
	}
	if opts.ChunkDuration <= 0 {
		opts.ChunkDuration = 100 * time.Millisecond
	}
	if opts.RealTimePercentage < 0 {
		opts.RealTimePercentage = 0
	}
	if opts.RealTimePercentage > 100 {
		opts.RealTimePercentage = 100
	}

	s := &ReaderSource{
		reader: r,
		format: opts.Format,
		chunk:  opts.Format.ChunkBytes(opts.ChunkDuration),
		pace:   opts.RealTimePercentage,
	}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

func (s *ReaderSource) Format() Format {
	return s.format
}

func (s *ReaderSource) Read(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSourceClosed
	}
	if s.started.IsZero() {
		s.started = time.Now()
	}
	wait := s.pacingDelay()
	s.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	buf := make([]byte, s.chunk)
	n, err := io.ReadFull(s.reader, buf)
	if n > 0 {
		// 不完整的帧丢弃
		n -= n % (s.format.Channels * 2)
	}
	s.mu.Lock()
	s.sent += n
	s.mu.Unlock()

	switch {
	case n > 0:
		return buf[:n], nil
	case err == nil, errors.Is(err, io.ErrUnexpectedEOF):
		return nil, io.EOF
	default:
		return nil, err
	}
}

// pacingDelay 调用方持锁
func (s *ReaderSource) pacingDelay() time.Duration {
	if s.pace == 0 {
		return 0
	}
	due := s.format.Duration(s.sent) * time.Duration(s.pace) / 100
	return due - time.Since(s.started)
}

func (s *ReaderSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// ChannelSource 由外部推送音频块，例如 WebSocket 连接
type ChannelSource struct {
	ch        chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu    sync.RWMutex
	ended bool
}

func NewChannelSource(buffer int) *ChannelSource {
	if buffer <= 0 {
		buffer = 32
	}
	return &ChannelSource{
		ch:   make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

// Push 推送一块音频，源关闭后返回 ErrSourceClosed
func (s *ChannelSource) Push(ctx context.Context, data []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ended {
		return ErrSourceClosed
	}
	select {
	case <-s.done:
		return ErrSourceClosed
	default:
	}
	select {
	case s.ch <- append([]byte(nil), data...):
		return nil
	case <-s.done:
		return ErrSourceClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EndOfInput 标记输入结束，已推送的数据读完后 Read 返回 io.EOF
func (s *ChannelSource) EndOfInput() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.ended = true
		close(s.ch)
	}
}

func (s *ChannelSource) Read(ctx context.Context) ([]byte, error) {
	select {
	case data, ok := <-s.ch:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	case <-s.done:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *ChannelSource) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}
