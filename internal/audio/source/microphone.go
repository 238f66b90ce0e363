package source

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"

	"github.com/liuscraft/orion-translate/internal/audio"
	"github.com/liuscraft/orion-translate/internal/logging"
)

// Options 麦克风参数
type Options struct {
	SampleRate      int
	Channels        int
	FramesPerBuffer int
	// HighLatency 使用设备的高延迟设置，适合蓝牙耳机
	HighLatency bool
	// Device 设备名称（部分匹配），空字符串表示默认输入设备
	Device string
}

func (o *Options) applyDefaults() {
	if o.SampleRate <= 0 {
		o.SampleRate = 16000
	}
	if o.Channels <= 0 {
		o.Channels = 1
	}
	if o.FramesPerBuffer <= 0 {
		o.FramesPerBuffer = o.SampleRate / 10
	}
}

type audioStream interface {
	Start() error
	Read() error
	Abort() error
	Stop() error
	Close() error
}

// MicrophoneSource 麦克风音频源，实现 audio.Source
type MicrophoneSource struct {
	stream    audioStream
	opts      Options
	buffer    []int16
	log       *zap.SugaredLogger
	closeCh   chan struct{}
	closeOnce sync.Once

	startOnce sync.Once
	startErr  error

	mu           sync.Mutex
	totalReads   int64
	blockedReads int64
}

// Initialize 初始化 PortAudio，返回的函数在进程退出前调用
func Initialize() (func(), error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	return func() { _ = portaudio.Terminate() }, nil
}

// Open 打开输入流；流在第一次 Read 时启动，避免创建与读取之间的输入溢出
func Open(opts Options) (*MicrophoneSource, error) {
	opts.applyDefaults()
	log := logging.Named("microphone")
	buffer := make([]int16, opts.FramesPerBuffer*opts.Channels)

	device, err := inputDevice(opts.Device)
	if err != nil {
		log.Warnf("input device lookup failed, using default stream: %v", err)
		stream, err := portaudio.OpenDefaultStream(opts.Channels, 0, float64(opts.SampleRate), opts.FramesPerBuffer, &buffer)
		if err != nil {
			return nil, fmt.Errorf("open default input stream: %w", err)
		}
		return newMicrophoneSource(stream, opts, buffer, log), nil
	}

	latency := device.DefaultLowInputLatency
	if opts.HighLatency {
		latency = device.DefaultHighInputLatency
	}
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: opts.Channels,
			Latency:  latency,
		},
		SampleRate:      float64(opts.SampleRate),
		FramesPerBuffer: opts.FramesPerBuffer,
	}
	stream, err := portaudio.OpenStream(params, &buffer)
	if err != nil {
		return nil, fmt.Errorf("open input stream on %s: %w", device.Name, err)
	}

	log.Infow("microphone opened",
		"device", device.Name,
		"sample_rate", opts.SampleRate,
		"channels", opts.Channels,
		"latency", latency)
	return newMicrophoneSource(stream, opts, buffer, log), nil
}

// Opener 每次激活打开一次麦克风
func Opener(opts Options) audio.Opener {
	return func() (audio.Source, error) {
		return Open(opts)
	}
}

func inputDevice(name string) (*portaudio.DeviceInfo, error) {
	if name == "" {
		return portaudio.DefaultInputDevice()
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	lower := strings.ToLower(name)
	for _, dev := range devices {
		if dev.MaxInputChannels > 0 && strings.Contains(strings.ToLower(dev.Name), lower) {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("no input device matching %q", name)
}

func newMicrophoneSource(stream audioStream, opts Options, buffer []int16, log *zap.SugaredLogger) *MicrophoneSource {
	return &MicrophoneSource{
		stream:  stream,
		opts:    opts,
		buffer:  buffer,
		log:     log,
		closeCh: make(chan struct{}),
	}
}

// Format 输出 PCM 格式
func (m *MicrophoneSource) Format() audio.Format {
	return audio.Format{SampleRate: m.opts.SampleRate, Channels: m.opts.Channels}
}

func (m *MicrophoneSource) start() error {
	m.startOnce.Do(func() {
		if err := m.stream.Start(); err != nil {
			m.startErr = fmt.Errorf("start input stream: %w", err)
		}
	})
	return m.startErr
}

// Read 阻塞读取一个缓冲区；ctx 取消或 Close 会中止底层读取
func (m *MicrophoneSource) Read(ctx context.Context) ([]byte, error) {
	if err := m.start(); err != nil {
		return nil, err
	}

	began := time.Now()
	readErr := make(chan error, 1)
	go func() {
		readErr <- m.stream.Read()
	}()

	select {
	case <-ctx.Done():
		m.abort("context canceled")
		return nil, ctx.Err()
	case <-m.closeCh:
		m.abort("source closed")
		return nil, io.EOF
	case err := <-readErr:
		m.recordRead(time.Since(began))
		if err != nil {
			select {
			case <-m.closeCh:
				return nil, io.EOF
			default:
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
	}

	out := make([]byte, len(m.buffer)*2)
	for i, v := range m.buffer {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out, nil
}

// Close 停止并关闭输入流，不调用 portaudio.Terminate
func (m *MicrophoneSource) Close() error {
	m.closeOnce.Do(func() {
		close(m.closeCh)
		if err := m.stream.Stop(); err != nil {
			m.log.Warnf("stop input stream: %v", err)
		}
		if err := m.stream.Close(); err != nil {
			m.log.Warnf("close input stream: %v", err)
		}
		m.log.Infof("microphone closed after %d reads", m.reads())
	})
	return nil
}

func (m *MicrophoneSource) abort(reason string) {
	if err := m.stream.Abort(); err != nil {
		m.log.Warnf("abort input stream (%s): %v", reason, err)
	}
}

func (m *MicrophoneSource) reads() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalReads
}

// recordRead 读取耗时超过缓冲区时长三倍视为阻塞
func (m *MicrophoneSource) recordRead(d time.Duration) {
	expected := time.Duration(m.opts.FramesPerBuffer) * time.Second / time.Duration(m.opts.SampleRate)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalReads++
	if d > 3*expected {
		m.blockedReads++
		m.log.Warnf("read blocked for %v (expected ~%v), blocked %d/%d", d, expected, m.blockedReads, m.totalReads)
	}
}
