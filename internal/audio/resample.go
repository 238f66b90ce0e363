package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
)

// Resampler 在采样率之间转换交错的 int16 PCM
type Resampler interface {
	Resample(input []int16, inputRate, outputRate, channels int) ([]int16, error)
}

// LinearResampler 线性插值，适合语音识别的实时输入
type LinearResampler struct{}

func NewLinearResampler() *LinearResampler {
	return &LinearResampler{}
}

func (LinearResampler) Resample(input []int16, inputRate, outputRate, channels int) ([]int16, error) {
	if inputRate <= 0 || outputRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: input=%d, output=%d", inputRate, outputRate)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("invalid channels: %d", channels)
	}
	frames := len(input) / channels
	if frames == 0 {
		return []int16{}, nil
	}
	if inputRate == outputRate {
		return append([]int16(nil), input[:frames*channels]...), nil
	}

	step := float64(inputRate) / float64(outputRate)
	outFrames := (frames*outputRate + inputRate - 1) / inputRate
	out := make([]int16, outFrames*channels)

	for i := 0; i < outFrames; i++ {
		pos := float64(i) * step
		left := int(pos)
		frac := pos - float64(left)
		if left >= frames-1 {
			left, frac = frames-1, 0
		}
		right := left + 1
		if right >= frames {
			right = left
		}
		for ch := 0; ch < channels; ch++ {
			a := float64(input[left*channels+ch])
			b := float64(input[right*channels+ch])
			out[i*channels+ch] = clampInt16(a + (b-a)*frac)
		}
	}
	return out, nil
}

func clampInt16(v float64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int16(math.Round(v))
	}
}

// ResamplingSource 把源音频转换为引擎需要的采样率，按块独立重采样
type ResamplingSource struct {
	source    Source
	resampler Resampler
	from      Format
	toRate    int
}

// NewResamplingSource 采样率相同时直接返回原始源
func NewResamplingSource(source Source, from Format, toRate int, resampler Resampler) Source {
	if from.SampleRate == toRate || toRate <= 0 {
		return source
	}
	if resampler == nil {
		resampler = NewLinearResampler()
	}
	return &ResamplingSource{source: source, resampler: resampler, from: from, toRate: toRate}
}

func (r *ResamplingSource) Read(ctx context.Context) ([]byte, error) {
	data, err := r.source.Read(ctx)
	if err != nil {
		return nil, err
	}
	samples, err := r.resampler.Resample(pcmToSamples(data), r.from.SampleRate, r.toRate, r.from.Channels)
	if err != nil {
		return nil, err
	}
	return samplesToPCM(samples), nil
}

func (r *ResamplingSource) Close() error {
	return r.source.Close()
}

func pcmToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

func samplesToPCM(samples []int16) []byte {
	out := make([]byte, 0, len(samples)*2)
	for _, s := range samples {
		out = binary.LittleEndian.AppendUint16(out, uint16(s))
	}
	return out
}
