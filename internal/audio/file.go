package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mewkiz/flac"
)

// FileOptions 文件输入选项，Format 只用于裸 PCM 文件
type FileOptions struct {
	Format             Format
	ChunkDuration      int // 毫秒
	RealTimePercentage int
}

// OpenFile 打开 WAV、FLAC 或裸 PCM 文件作为音频源
func OpenFile(path string, opts FileOptions) (*ReaderSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}

	br := bufio.NewReader(f)
	magic, _ := br.Peek(4)

	var (
		r      io.Reader = br
		format           = opts.Format
	)
	switch {
	case bytes.Equal(magic, []byte("RIFF")):
		format, err = skipWAVHeader(br)
	case bytes.Equal(magic, []byte("fLaC")):
		r, format, err = newFLACReader(br)
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	src := NewReaderSource(r, ReaderOptions{
		Format:             format,
		ChunkDuration:      msDuration(opts.ChunkDuration),
		RealTimePercentage: opts.RealTimePercentage,
	})
	src.closer = f
	return src, nil
}

// FileOpener 每次激活重新打开文件
func FileOpener(path string, opts FileOptions) Opener {
	return func() (Source, error) {
		return OpenFile(path, opts)
	}
}

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

var errNotPCM = errors.New("wav: only 16-bit PCM is supported")

// skipWAVHeader 读取 RIFF 头直到 data 块，返回其中的格式
func skipWAVHeader(r io.Reader) (Format, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return Format{}, fmt.Errorf("wav header: %w", err)
	}
	if string(riff[8:12]) != "WAVE" {
		return Format{}, errors.New("wav: missing WAVE tag")
	}

	var format Format
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return Format{}, fmt.Errorf("wav: data chunk not found: %w", err)
		}
		id := string(hdr[:4])
		size := int64(binary.LittleEndian.Uint32(hdr[4:]))

		switch id {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return Format{}, fmt.Errorf("wav fmt chunk: %w", err)
			}
			if size < 16 {
				return Format{}, errors.New("wav: short fmt chunk")
			}
			audioFormat := binary.LittleEndian.Uint16(body[0:])
			bits := binary.LittleEndian.Uint16(body[14:])
			if (audioFormat != 1 && audioFormat != 0xFFFE) || bits != 16 {
				return Format{}, errNotPCM
			}
			format.Channels = int(binary.LittleEndian.Uint16(body[2:]))
			format.SampleRate = int(binary.LittleEndian.Uint32(body[4:]))
		case "data":
			if format.SampleRate == 0 {
				return Format{}, errors.New("wav: data chunk before fmt chunk")
			}
			return format, nil
		default:
			if _, err := io.CopyN(io.Discard, r, size+size%2); err != nil {
				return Format{}, fmt.Errorf("wav chunk %q: %w", id, err)
			}
		}
	}
}

// flacReader 按帧解码 FLAC 为交错的 16 位 PCM
type flacReader struct {
	stream *flac.Stream
	shift  int
	buf    []byte
}

func newFLACReader(r io.Reader) (io.Reader, Format, error) {
	stream, err := flac.New(r)
	if err != nil {
		return nil, Format{}, fmt.Errorf("flac: %w", err)
	}
	info := stream.Info
	format := Format{SampleRate: int(info.SampleRate), Channels: int(info.NChannels)}
	return &flacReader{stream: stream, shift: int(info.BitsPerSample) - 16}, format, nil
}

func (f *flacReader) Read(p []byte) (int, error) {
	for len(f.buf) == 0 {
		frame, err := f.stream.ParseNext()
		if err != nil {
			return 0, err
		}
		if len(frame.Subframes) == 0 {
			continue
		}
		samples := frame.Subframes[0].NSamples
		out := make([]byte, 0, samples*len(frame.Subframes)*2)
		for i := 0; i < samples; i++ {
			for _, sub := range frame.Subframes {
				v := sub.Samples[i]
				if f.shift > 0 {
					v >>= f.shift
				} else if f.shift < 0 {
					v <<= -f.shift
				}
				out = binary.LittleEndian.AppendUint16(out, uint16(int16(v)))
			}
		}
		f.buf = out
	}
	n := copy(p, f.buf)
	f.buf = f.buf[n:]
	return n, nil
}
