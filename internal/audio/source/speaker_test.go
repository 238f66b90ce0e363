package source

import (
	"testing"

	"go.uber.org/zap"
)

type recordingPlayback struct {
	stopped int
	closed  int
}

func (r *recordingPlayback) Start() error { return nil }
func (r *recordingPlayback) Stop() error  { r.stopped++; return nil }
func (r *recordingPlayback) Close() error { r.closed++; return nil }

func testSpeaker(volume float64) *Speaker {
	opts := SpeakerOptions{Volume: volume}
	opts.applyDefaults()
	return newSpeaker(opts, zap.NewNop().Sugar())
}

func TestSpeakerFillDuplicatesChannels(t *testing.T) {
	s := testSpeaker(1.0)
	// 0x4000 = 16384 -> 0.5, 0xC000 = -16384 -> -0.5
	if _, err := s.Write([]byte{0x00, 0x40, 0x00, 0xC0}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	out := [][]float32{make([]float32, 4), make([]float32, 4)}
	out[0][3], out[1][3] = 0.9, 0.9
	s.fill(out)

	want := []float32{0.5, -0.5, 0, 0}
	for ch := range out {
		for i, v := range want {
			if out[ch][i] != v {
				t.Errorf("out[%d][%d] = %v, want %v", ch, i, out[ch][i], v)
			}
		}
	}
	if s.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", s.Pending())
	}
}

func TestSpeakerFillKeepsRemainder(t *testing.T) {
	s := testSpeaker(1.0)
	_, _ = s.Write(make([]byte, 10))

	out := [][]float32{make([]float32, 2)}
	s.fill(out)
	if s.Pending() != 6 {
		t.Errorf("Pending() = %d, want 6", s.Pending())
	}
}

func TestSpeakerFillClampsVolume(t *testing.T) {
	s := testSpeaker(4.0)
	_, _ = s.Write([]byte{0x00, 0x40, 0x00, 0xC0})

	out := [][]float32{make([]float32, 2)}
	s.fill(out)
	if out[0][0] != 1.0 || out[0][1] != -1.0 {
		t.Errorf("fill() = %v, want clamped [1 -1]", out[0])
	}
}

func TestSpeakerCloseDropsPending(t *testing.T) {
	s := testSpeaker(1.0)
	stream := &recordingPlayback{}
	s.stream = stream
	_, _ = s.Write(make([]byte, 8))

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	_ = s.Close()
	if stream.stopped != 1 || stream.closed != 1 {
		t.Errorf("stream stopped=%d closed=%d, want 1/1", stream.stopped, stream.closed)
	}
	if _, err := s.Write([]byte{0, 0}); err == nil {
		t.Error("Write() after Close should fail")
	}
	if s.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", s.Pending())
	}
}
