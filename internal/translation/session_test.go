package translation

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/liuscraft/orion-translate/internal/engine"
	"github.com/liuscraft/orion-translate/internal/keyword"
)

var allEventTypes = []EventType{
	EventTypeIntermediateResult,
	EventTypeFinalResult,
	EventTypeError,
	EventTypeSynthesisResult,
	EventTypeSessionStarted,
	EventTypeSessionStopped,
	EventTypeSpeechStart,
	EventTypeSpeechEnd,
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func record(t *testing.T, s *Session) *recorder {
	t.Helper()
	r := &recorder{}
	for _, et := range allEventTypes {
		if _, err := s.Subscribe(et, r.add); err != nil {
			t.Fatalf("Subscribe(%v) error = %v", et, err)
		}
	}
	return r
}

func (r *recorder) add(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) types() []EventType {
	var out []EventType
	for _, e := range r.snapshot() {
		out = append(out, e.Type())
	}
	return out
}

func (r *recorder) count(et EventType) int {
	n := 0
	for _, e := range r.snapshot() {
		if e.Type() == et {
			n++
		}
	}
	return n
}

func (r *recorder) finals() []*TranslationResult {
	var out []*TranslationResult
	for _, e := range r.snapshot() {
		if re, ok := e.(*ResultEvent); ok && e.Type() == EventTypeFinalResult {
			out = append(out, re.Result)
		}
	}
	return out
}

func (r *recorder) waitFor(t *testing.T, et EventType, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.count(et) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d %v events, got %v", n, et, r.types())
}

func testConfig() Config {
	return Config{SourceLanguage: "en-US", TargetLanguages: []string{"de", "fr"}}
}

func newTestSession(t *testing.T, cfg Config, eng engine.Engine, opts ...Option) *Session {
	t.Helper()
	s, err := New(cfg, eng, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Dispose() })
	return s
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func assertTypes(t *testing.T, got, want []EventType) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

type fakeSynthesizer struct {
	mu     sync.Mutex
	texts  []string
	voices []string
	audio  []byte
	err    error
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, voice, text string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	f.voices = append(f.voices, voice)
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(bytes.NewReader(f.audio)), nil
}

func (f *fakeSynthesizer) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

// blockingEngine holds Start until release is closed.
type blockingEngine struct {
	*engine.FakeEngine
	release chan struct{}
}

func (b *blockingEngine) Start(ctx context.Context, req engine.Request) (engine.Stream, error) {
	<-b.release
	return b.FakeEngine.Start(ctx, req)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(Config{SourceLanguage: "en-US"}, engine.NewFakeEngine())
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("New() error = %v, want *ConfigurationError", err)
	}

	_, err = New(testConfig(), nil)
	if !errors.As(err, &cfgErr) || cfgErr.Field != "engine" {
		t.Fatalf("New(nil engine) error = %v, want engine ConfigurationError", err)
	}
}

func TestSessionProperties(t *testing.T) {
	cfg := Config{SourceLanguage: "en-US", TargetLanguages: []string{"de", "fr"}, OutputVoice: "Katja"}
	s := newTestSession(t, cfg, engine.NewFakeEngine(), WithSessionID("session-1"))

	if s.ID() != "session-1" {
		t.Errorf("ID() = %q", s.ID())
	}
	if s.SourceLanguage() != "en-US" {
		t.Errorf("SourceLanguage() = %q", s.SourceLanguage())
	}
	targets := s.TargetLanguages()
	if len(targets) != 2 || targets[0] != "de" || targets[1] != "fr" {
		t.Errorf("TargetLanguages() = %v", targets)
	}
	targets[0] = "it"
	if s.TargetLanguages()[0] != "de" {
		t.Error("TargetLanguages() exposes internal slice")
	}
	if s.OutputVoiceName() != "Katja" {
		t.Errorf("OutputVoiceName() = %q", s.OutputVoiceName())
	}
	if s.State() != StateIdle {
		t.Errorf("State() = %v, want Idle", s.State())
	}
	if s.PipelineState() != PipelineCreated {
		t.Errorf("PipelineState() = %v, want Created", s.PipelineState())
	}

	cfg.TargetLanguages[0] = "es"
	if s.TargetLanguages()[0] != "de" {
		t.Error("session shares target languages with caller config")
	}
}

func TestContinuousRecognition(t *testing.T) {
	eng := engine.NewFakeEngine(
		engine.Utterance{Partials: []string{"hel"}, Text: "hello", Translations: map[string]string{"de": "hallo", "fr": "bonjour"}},
		engine.Utterance{Text: "goodbye", Translations: map[string]string{"de": "tschüss", "fr": "au revoir"}},
	)
	s := newTestSession(t, testConfig(), eng, WithSessionID("s-cont"))
	rec := record(t, s)
	ctx := testContext(t)

	if err := s.StartContinuous(ctx); err != nil {
		t.Fatalf("StartContinuous() error = %v", err)
	}
	if s.State() != StateRunning {
		t.Errorf("State() = %v, want Running", s.State())
	}

	rec.waitFor(t, EventTypeFinalResult, 2)
	if err := s.StopContinuous(ctx); err != nil {
		t.Fatalf("StopContinuous() error = %v", err)
	}
	if s.State() != StateIdle {
		t.Errorf("State() after stop = %v, want Idle", s.State())
	}
	if s.PipelineState() != PipelineStopped {
		t.Errorf("PipelineState() after stop = %v, want Stopped", s.PipelineState())
	}

	assertTypes(t, rec.types(), []EventType{
		EventTypeSessionStarted,
		EventTypeSpeechStart, EventTypeIntermediateResult, EventTypeSpeechEnd, EventTypeFinalResult,
		EventTypeSpeechStart, EventTypeSpeechEnd, EventTypeFinalResult,
		EventTypeSessionStopped,
	})

	finals := rec.finals()
	if finals[0].Text() != "hello" || finals[1].Text() != "goodbye" {
		t.Errorf("final texts = %q, %q", finals[0].Text(), finals[1].Text())
	}
	if got, _ := finals[0].Translation("fr"); got != "bonjour" {
		t.Errorf("Translation(fr) = %q, want bonjour", got)
	}
	if finals[0].RecognitionStatus() != RecognitionRecognized || finals[0].TranslationStatus() != TranslationSuccess {
		t.Errorf("statuses = %v/%v", finals[0].RecognitionStatus(), finals[0].TranslationStatus())
	}
	for _, e := range rec.snapshot() {
		if e.SessionID() != "s-cont" {
			t.Fatalf("event %v has session id %q", e.Type(), e.SessionID())
		}
	}

	reqs := eng.Requests()
	if len(reqs) != 1 || reqs[0].Mode != engine.ModeContinuous || reqs[0].SourceLanguage != "en-US" {
		t.Errorf("engine requests = %+v", reqs)
	}
}

func TestNoEventsAfterStop(t *testing.T) {
	eng := engine.NewFakeEngine(engine.Utterance{Text: "one"}, engine.Utterance{Text: "two"}, engine.Utterance{Text: "three"})
	eng.Delay = 5 * time.Millisecond
	s := newTestSession(t, testConfig(), eng)
	rec := record(t, s)
	ctx := testContext(t)

	if err := s.StartContinuous(ctx); err != nil {
		t.Fatalf("StartContinuous() error = %v", err)
	}
	rec.waitFor(t, EventTypeSpeechStart, 1)
	if err := s.StopContinuous(ctx); err != nil {
		t.Fatalf("StopContinuous() error = %v", err)
	}

	seen := len(rec.snapshot())
	time.Sleep(50 * time.Millisecond)
	if got := len(rec.snapshot()); got != seen {
		t.Fatalf("%d events delivered after stop resolved", got-seen)
	}
	types := rec.types()
	if types[len(types)-1] != EventTypeSessionStopped {
		t.Errorf("last event = %v, want SessionStopped", types[len(types)-1])
	}
}

func TestStartWhileRunning(t *testing.T) {
	s := newTestSession(t, testConfig(), engine.NewFakeEngine())
	ctx := testContext(t)

	if err := s.StartContinuous(ctx); err != nil {
		t.Fatalf("StartContinuous() error = %v", err)
	}

	checks := []struct {
		name string
		call func() error
	}{
		{"StartContinuous", func() error { return s.StartContinuous(ctx) }},
		{"RecognizeOnce", func() error { _, err := s.RecognizeOnce(ctx); return err }},
		{"StartKeywordSpotting", func() error {
			m, _ := keyword.FromPhrases("hey orion")
			return s.StartKeywordSpotting(ctx, m)
		}},
		{"StopKeywordSpotting", func() error { return s.StopKeywordSpotting(ctx) }},
	}
	for _, tt := range checks {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			var stateErr *InvalidStateError
			if !errors.As(err, &stateErr) {
				t.Fatalf("%s error = %v, want *InvalidStateError", tt.name, err)
			}
			if stateErr.State != StateRunning {
				t.Errorf("State = %v, want Running", stateErr.State)
			}
		})
	}

	err := s.StartContinuous(ctx)
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("StartContinuous() error = %v, want ErrAlreadyRunning", err)
	}
	if s.State() != StateRunning {
		t.Errorf("State() = %v after rejected command, want Running", s.State())
	}
	if err := s.StopContinuous(ctx); err != nil {
		t.Fatalf("StopContinuous() error = %v", err)
	}
}

func TestStopWhileIdle(t *testing.T) {
	s := newTestSession(t, testConfig(), engine.NewFakeEngine())
	ctx := testContext(t)

	if err := s.StopContinuous(ctx); !errors.Is(err, ErrNotRunning) {
		t.Errorf("StopContinuous() error = %v, want ErrNotRunning", err)
	}
	if err := s.StopKeywordSpotting(ctx); !errors.Is(err, ErrNotRunning) {
		t.Errorf("StopKeywordSpotting() error = %v, want ErrNotRunning", err)
	}
}

func TestCommandPending(t *testing.T) {
	eng := &blockingEngine{FakeEngine: engine.NewFakeEngine(), release: make(chan struct{})}
	s := newTestSession(t, testConfig(), eng)
	ctx := testContext(t)

	fut, err := s.StartContinuousAsync(ctx)
	if err != nil {
		t.Fatalf("StartContinuousAsync() error = %v", err)
	}
	if s.State() != StateRunning {
		t.Errorf("State() = %v while start pending, want Running", s.State())
	}

	_, err = s.StopContinuousAsync(ctx)
	if !errors.Is(err, ErrCommandPending) {
		t.Fatalf("StopContinuousAsync() error = %v, want ErrCommandPending", err)
	}

	close(eng.release)
	if _, err := fut.Wait(ctx); err != nil {
		t.Fatalf("start Wait() error = %v", err)
	}
	if err := s.StopContinuous(ctx); err != nil {
		t.Fatalf("StopContinuous() error = %v", err)
	}
}

func TestRecognizeOnce(t *testing.T) {
	eng := engine.NewFakeEngine(
		engine.Utterance{Partials: []string{"good", "good morn"}, Text: "good morning", Translations: map[string]string{"de": "guten Morgen", "fr": "bonjour"}},
		engine.Utterance{Text: "never delivered"},
	)
	s := newTestSession(t, testConfig(), eng)
	rec := record(t, s)
	ctx := testContext(t)

	result, err := s.RecognizeOnce(ctx)
	if err != nil {
		t.Fatalf("RecognizeOnce() error = %v", err)
	}
	if result.Text() != "good morning" {
		t.Errorf("Text() = %q, want good morning", result.Text())
	}
	if got, _ := result.Translation("de"); got != "guten Morgen" {
		t.Errorf("Translation(de) = %q", got)
	}
	if result.ResultID() == "" {
		t.Error("ResultID() is empty")
	}
	if s.State() != StateIdle {
		t.Errorf("State() = %v, want Idle", s.State())
	}

	assertTypes(t, rec.types(), []EventType{
		EventTypeSessionStarted,
		EventTypeSpeechStart, EventTypeIntermediateResult, EventTypeIntermediateResult, EventTypeSpeechEnd, EventTypeFinalResult,
		EventTypeSessionStopped,
	})
	if reqs := eng.Requests(); reqs[0].Mode != engine.ModeSingleShot {
		t.Errorf("Mode = %v, want SingleShot", reqs[0].Mode)
	}

	// the session is reusable after a single shot
	if _, err := s.RecognizeOnce(ctx); err != nil {
		t.Fatalf("second RecognizeOnce() error = %v", err)
	}
}

func TestRecognizeOnceNoMatch(t *testing.T) {
	eng := engine.NewFakeEngine()
	eng.EndOfInput = true
	s := newTestSession(t, testConfig(), eng)
	ctx := testContext(t)

	result, err := s.RecognizeOnce(ctx)
	if err != nil {
		t.Fatalf("RecognizeOnce() error = %v", err)
	}
	if result.RecognitionStatus() != RecognitionNoMatch {
		t.Errorf("RecognitionStatus() = %v, want NoMatch", result.RecognitionStatus())
	}
}

func TestRecognizeOnceSilenceTimeout(t *testing.T) {
	eng := engine.NewFakeEngine(engine.Utterance{Reason: engine.ReasonInitialSilenceTimeout})
	s := newTestSession(t, testConfig(), eng)

	result, err := s.RecognizeOnce(testContext(t))
	if err != nil {
		t.Fatalf("RecognizeOnce() error = %v", err)
	}
	if result.RecognitionStatus() != RecognitionInitialSilenceTimeout {
		t.Errorf("RecognitionStatus() = %v, want InitialSilenceTimeout", result.RecognitionStatus())
	}
}

func TestEngineFailure(t *testing.T) {
	eng := engine.NewFakeEngine(engine.Utterance{Text: "hello"})
	eng.Err = &engine.Error{Code: "NetworkError", Message: "connection reset"}
	s := newTestSession(t, testConfig(), eng)
	rec := record(t, s)
	ctx := testContext(t)

	if err := s.StartContinuous(ctx); err != nil {
		t.Fatalf("StartContinuous() error = %v", err)
	}
	rec.waitFor(t, EventTypeSessionStopped, 1)

	var info ErrorInfo
	for _, e := range rec.snapshot() {
		if ee, ok := e.(*ErrorEvent); ok {
			info = ee.Info
		}
	}
	if info.Code != "NetworkError" || info.Detail != "connection reset" || info.SessionID != s.ID() {
		t.Errorf("error info = %+v", info)
	}

	deadline := time.Now().Add(time.Second)
	for s.State() != StateIdle && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.State() != StateIdle {
		t.Fatalf("State() = %v after engine failure, want Idle", s.State())
	}
	if err := s.StartContinuous(ctx); err != nil {
		t.Fatalf("restart after failure error = %v", err)
	}
}

func TestRecognizeOnceEngineFailure(t *testing.T) {
	eng := engine.NewFakeEngine()
	eng.Err = errors.New("socket closed")
	s := newTestSession(t, testConfig(), eng)

	result, err := s.RecognizeOnce(testContext(t))
	if err != nil {
		t.Fatalf("RecognizeOnce() error = %v", err)
	}
	if result.RecognitionStatus() != RecognitionCanceled {
		t.Errorf("RecognitionStatus() = %v, want Canceled", result.RecognitionStatus())
	}
	if result.ErrorDetails() != "socket closed" {
		t.Errorf("ErrorDetails() = %q", result.ErrorDetails())
	}
}

func TestStartFailure(t *testing.T) {
	eng := engine.NewFakeEngine()
	eng.StartErr = &engine.Error{Code: "AuthenticationFailure", Message: "bad key"}
	s := newTestSession(t, testConfig(), eng)
	rec := record(t, s)

	err := s.StartContinuous(testContext(t))
	var engErr *EngineError
	if !errors.As(err, &engErr) || engErr.Code != "AuthenticationFailure" {
		t.Fatalf("StartContinuous() error = %v, want EngineError", err)
	}
	if s.State() != StateIdle {
		t.Errorf("State() = %v, want Idle", s.State())
	}
	assertTypes(t, rec.types(), []EventType{EventTypeError})
}

func TestOrderNormalization(t *testing.T) {
	eng := engine.NewFakeEngine()
	eng.Events = []engine.Event{
		{Kind: engine.KindIntermediate, ResultID: "u1", Text: "hi"},
		{Kind: engine.KindFinal, ResultID: "u1", Text: "hi there"},
		{Kind: engine.KindFinal, Text: "no id"},
	}
	eng.EndOfInput = true
	s := newTestSession(t, testConfig(), eng)
	rec := record(t, s)

	if err := s.StartContinuous(testContext(t)); err != nil {
		t.Fatalf("StartContinuous() error = %v", err)
	}
	rec.waitFor(t, EventTypeSessionStopped, 1)

	assertTypes(t, rec.types(), []EventType{
		EventTypeSessionStarted,
		EventTypeSpeechStart, EventTypeIntermediateResult, EventTypeSpeechEnd, EventTypeFinalResult,
		EventTypeSpeechStart, EventTypeSpeechEnd, EventTypeFinalResult,
		EventTypeSessionStopped,
	})

	events := rec.snapshot()
	if start := events[1].(*SpeechEvent); start.ResultID != "u1" {
		t.Errorf("SpeechStart ResultID = %q, want u1", start.ResultID)
	}
	second := rec.finals()[1]
	if second.ResultID() == "" {
		t.Error("generated result id is empty")
	}
	if end := events[6].(*SpeechEvent); end.ResultID != second.ResultID() {
		t.Errorf("SpeechEnd ResultID = %q, want %q", end.ResultID, second.ResultID())
	}
}

func TestKeywordSpotting(t *testing.T) {
	eng := engine.NewFakeEngine(
		engine.Utterance{Partials: []string{"the weather"}, Text: "the weather is nice"},
		engine.Utterance{Partials: []string{"hey"}, Text: "Hey, Orion!"},
		engine.Utterance{Text: "what time is it"},
		engine.Utterance{Text: "not for you"},
	)
	eng.EndOfInput = true
	s := newTestSession(t, testConfig(), eng)
	rec := record(t, s)
	ctx := testContext(t)

	model, err := keyword.FromPhrases("hey orion")
	if err != nil {
		t.Fatalf("FromPhrases() error = %v", err)
	}
	if err := s.StartKeywordSpotting(ctx, model); err != nil {
		t.Fatalf("StartKeywordSpotting() error = %v", err)
	}
	rec.waitFor(t, EventTypeSessionStopped, 1)

	var texts []string
	for _, r := range rec.finals() {
		texts = append(texts, r.Text())
	}
	if strings.Join(texts, "|") != "Hey, Orion!|what time is it" {
		t.Errorf("delivered finals = %q", texts)
	}
	if got := rec.count(EventTypeIntermediateResult); got != 1 {
		t.Errorf("intermediate results = %d, want 1", got)
	}
	if got := rec.count(EventTypeSpeechStart); got != 2 {
		t.Errorf("speech starts = %d, want 2", got)
	}
	if reqs := eng.Requests(); reqs[0].Mode != engine.ModeKeyword || reqs[0].Keywords[0] != "hey orion" {
		t.Errorf("request = %+v", reqs[0])
	}
}

func TestKeywordSpottingStateAndStop(t *testing.T) {
	s := newTestSession(t, testConfig(), engine.NewFakeEngine())
	ctx := testContext(t)

	if _, err := s.StartKeywordSpottingAsync(ctx, nil); err == nil {
		t.Fatal("StartKeywordSpottingAsync(nil) succeeded")
	}
	if _, err := s.StartKeywordSpottingAsync(ctx, &keyword.Model{Phrases: []string{"  "}}); err == nil {
		t.Fatal("StartKeywordSpottingAsync(empty model) succeeded")
	}

	model, _ := keyword.FromPhrases("computer")
	if err := s.StartKeywordSpotting(ctx, model); err != nil {
		t.Fatalf("StartKeywordSpotting() error = %v", err)
	}
	if s.State() != StateKeywordSpotting {
		t.Errorf("State() = %v, want KeywordSpotting", s.State())
	}
	if err := s.StopContinuous(ctx); !errors.Is(err, ErrNotRunning) {
		t.Errorf("StopContinuous() error = %v, want ErrNotRunning", err)
	}
	if err := s.StopKeywordSpotting(ctx); err != nil {
		t.Fatalf("StopKeywordSpotting() error = %v", err)
	}
	if s.State() != StateIdle {
		t.Errorf("State() = %v, want Idle", s.State())
	}
}

func TestSynthesisFollowsFinal(t *testing.T) {
	eng := engine.NewFakeEngine(
		engine.Utterance{Text: "hello", Translations: map[string]string{"de": "hallo", "fr": "bonjour"}},
		engine.Utterance{Text: "bye", Translations: map[string]string{"de": "tschüss", "fr": "salut"}},
	)
	eng.EndOfInput = true
	synth := &fakeSynthesizer{audio: []byte("abcdefgh")}
	cfg := testConfig()
	cfg.OutputVoice = "Katja"
	s := newTestSession(t, cfg, eng, WithSynthesizer(synth), WithSynthesisChunkSize(3))
	rec := record(t, s)

	if err := s.StartContinuous(testContext(t)); err != nil {
		t.Fatalf("StartContinuous() error = %v", err)
	}
	rec.waitFor(t, EventTypeSessionStopped, 1)

	if calls := synth.calls(); len(calls) != 2 || calls[0] != "hallo" || calls[1] != "tschüss" {
		t.Fatalf("synthesized texts = %v, want first target translations", calls)
	}

	finalAt := map[string]int{}
	var audio = map[string][]byte{}
	var statuses = map[string][]SynthesisStatus{}
	for i, e := range rec.snapshot() {
		switch ev := e.(type) {
		case *ResultEvent:
			if e.Type() == EventTypeFinalResult {
				finalAt[ev.Result.ResultID()] = i
			}
		case *SynthesisEvent:
			id := ev.Result.ResultID()
			at, ok := finalAt[id]
			if !ok || at > i {
				t.Fatalf("synthesis for %s delivered before its final", id)
			}
			audio[id] = append(audio[id], ev.Result.Audio()...)
			statuses[id] = append(statuses[id], ev.Result.Status())
		}
	}

	if len(audio) != 2 {
		t.Fatalf("synthesis for %d results, want 2", len(audio))
	}
	for id, data := range audio {
		if string(data) != "abcdefgh" {
			t.Errorf("audio for %s = %q", id, data)
		}
		st := statuses[id]
		if len(st) != 4 || st[3] != SynthesisEnd {
			t.Errorf("statuses for %s = %v, want 3 chunks and End", id, st)
		}
	}
	if types := rec.types(); types[len(types)-1] != EventTypeSessionStopped {
		t.Errorf("SessionStopped is not the last event: %v", types)
	}
}

func TestSynthesisSkipped(t *testing.T) {
	tests := []struct {
		name  string
		voice string
		utter engine.Utterance
	}{
		{"no voice", "", engine.Utterance{Text: "hello", Translations: map[string]string{"de": "hallo"}}},
		{"translation failed", "Katja", engine.Utterance{Text: "hello", TranslationError: "quota"}},
		{"no match", "Katja", engine.Utterance{Reason: engine.ReasonNoMatch}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := engine.NewFakeEngine(tt.utter)
			eng.EndOfInput = true
			synth := &fakeSynthesizer{audio: []byte("x")}
			cfg := testConfig()
			cfg.OutputVoice = tt.voice
			s := newTestSession(t, cfg, eng, WithSynthesizer(synth))
			rec := record(t, s)

			if err := s.StartContinuous(testContext(t)); err != nil {
				t.Fatalf("StartContinuous() error = %v", err)
			}
			rec.waitFor(t, EventTypeSessionStopped, 1)
			if len(synth.calls()) != 0 {
				t.Errorf("synthesizer called for %s", tt.name)
			}
			if rec.count(EventTypeSynthesisResult) != 0 {
				t.Errorf("synthesis events published for %s", tt.name)
			}
		})
	}
}

func TestSynthesisFailure(t *testing.T) {
	eng := engine.NewFakeEngine(engine.Utterance{Text: "hello", Translations: map[string]string{"de": "hallo"}})
	eng.EndOfInput = true
	synth := &fakeSynthesizer{err: errors.New("voice not found")}
	cfg := testConfig()
	cfg.OutputVoice = "Nobody"
	s := newTestSession(t, cfg, eng, WithSynthesizer(synth))
	rec := record(t, s)

	if err := s.StartContinuous(testContext(t)); err != nil {
		t.Fatalf("StartContinuous() error = %v", err)
	}
	rec.waitFor(t, EventTypeSessionStopped, 1)

	var failure *SynthesisResult
	for _, e := range rec.snapshot() {
		if se, ok := e.(*SynthesisEvent); ok {
			failure = se.Result
		}
	}
	if failure == nil || failure.Status() != SynthesisError || failure.FailureReason() != "voice not found" {
		t.Fatalf("synthesis failure = %+v", failure)
	}
	if rec.count(EventTypeFinalResult) != 1 {
		t.Error("final result missing after synthesis failure")
	}
}

func TestPanickingObserverDoesNotStopPipeline(t *testing.T) {
	eng := engine.NewFakeEngine(engine.Utterance{Text: "one"}, engine.Utterance{Text: "two"})
	eng.EndOfInput = true
	s := newTestSession(t, testConfig(), eng)
	if _, err := s.OnFinalResult(func(*ResultEvent) { panic("observer bug") }); err != nil {
		t.Fatalf("OnFinalResult() error = %v", err)
	}
	rec := record(t, s)

	if err := s.StartContinuous(testContext(t)); err != nil {
		t.Fatalf("StartContinuous() error = %v", err)
	}
	rec.waitFor(t, EventTypeSessionStopped, 1)
	if got := rec.count(EventTypeFinalResult); got != 2 {
		t.Errorf("finals = %d, want 2", got)
	}
}

func TestTypedSubscriptionAndUnsubscribe(t *testing.T) {
	eng := engine.NewFakeEngine(engine.Utterance{Text: "one"}, engine.Utterance{Text: "two"})
	eng.Delay = 10 * time.Millisecond
	eng.EndOfInput = true
	s := newTestSession(t, testConfig(), eng)
	rec := record(t, s)

	var mu sync.Mutex
	var texts []string
	var sub Subscription
	sub, err := s.OnFinalResult(func(e *ResultEvent) {
		mu.Lock()
		texts = append(texts, e.Result.Text())
		mu.Unlock()
		_, _ = s.Unsubscribe(sub)
	})
	if err != nil {
		t.Fatalf("OnFinalResult() error = %v", err)
	}

	if err := s.StartContinuous(testContext(t)); err != nil {
		t.Fatalf("StartContinuous() error = %v", err)
	}
	rec.waitFor(t, EventTypeSessionStopped, 1)

	mu.Lock()
	defer mu.Unlock()
	if len(texts) != 1 || texts[0] != "one" {
		t.Errorf("typed handler saw %v, want [one]", texts)
	}
}

func TestDispose(t *testing.T) {
	eng := engine.NewFakeEngine(engine.Utterance{Text: "hello"})
	s, err := New(testConfig(), eng)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	rec := record(t, s)
	ctx := testContext(t)

	if err := s.StartContinuous(ctx); err != nil {
		t.Fatalf("StartContinuous() error = %v", err)
	}
	rec.waitFor(t, EventTypeFinalResult, 1)

	if err := s.Dispose(); err != nil {
		t.Fatalf("Dispose() error = %v", err)
	}
	seen := len(rec.snapshot())
	if err := s.Dispose(); err != nil {
		t.Fatalf("second Dispose() error = %v", err)
	}
	if eng.CloseCount() != 1 {
		t.Errorf("engine closed %d times, want 1", eng.CloseCount())
	}
	if s.State() != StateDisposed {
		t.Errorf("State() = %v, want Disposed", s.State())
	}

	ops := []struct {
		name string
		call func() error
	}{
		{"StartContinuous", func() error { return s.StartContinuous(ctx) }},
		{"StopContinuous", func() error { return s.StopContinuous(ctx) }},
		{"RecognizeOnce", func() error { _, err := s.RecognizeOnce(ctx); return err }},
		{"Subscribe", func() error { _, err := s.Subscribe(EventTypeError, func(Event) {}); return err }},
		{"OnFinalResult", func() error { _, err := s.OnFinalResult(func(*ResultEvent) {}); return err }},
		{"Unsubscribe", func() error { _, err := s.Unsubscribe(Subscription{}); return err }},
	}
	for _, op := range ops {
		err := op.call()
		var stateErr *InvalidStateError
		if !errors.As(err, &stateErr) || !errors.Is(err, ErrDisposed) {
			t.Errorf("%s after Dispose error = %v, want ErrDisposed", op.name, err)
		}
	}

	time.Sleep(20 * time.Millisecond)
	if got := len(rec.snapshot()); got != seen {
		t.Errorf("%d events delivered after Dispose", got-seen)
	}
}

func TestDisposeImmediatelyAfterCreate(t *testing.T) {
	eng := engine.NewFakeEngine(engine.Utterance{Text: "hello"})
	s, err := New(testConfig(), eng)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	rec := record(t, s)

	if err := s.Dispose(); err != nil {
		t.Fatalf("Dispose() error = %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 0 {
		t.Errorf("Dispose() emitted %d events, want none", len(got))
	}
	if eng.CloseCount() != 1 {
		t.Errorf("engine closed %d times, want 1", eng.CloseCount())
	}
	if reqs := eng.Requests(); len(reqs) != 0 {
		t.Errorf("engine started %d times, want 0", len(reqs))
	}
	if s.State() != StateDisposed {
		t.Errorf("State() = %v, want Disposed", s.State())
	}
}

func TestSubscribeRejectsNilHandler(t *testing.T) {
	s := newTestSession(t, testConfig(), engine.NewFakeEngine())

	var cfgErr *ConfigurationError
	if _, err := s.Subscribe(EventTypeFinalResult, nil); !errors.As(err, &cfgErr) {
		t.Errorf("Subscribe(nil) error = %v, want ConfigurationError", err)
	}
	if _, err := s.OnError(nil); !errors.As(err, &cfgErr) {
		t.Errorf("OnError(nil) error = %v, want ConfigurationError", err)
	}

	sub, err := s.Subscribe(EventTypeFinalResult, func(Event) {})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if ok, err := s.Unsubscribe(sub); !ok || err != nil {
		t.Errorf("Unsubscribe() = %v, %v, want true, nil", ok, err)
	}
	if ok, err := s.Unsubscribe(sub); ok || err != nil {
		t.Errorf("second Unsubscribe() = %v, %v, want false, nil", ok, err)
	}
}

func TestConcurrentDispose(t *testing.T) {
	eng := engine.NewFakeEngine()
	s, err := New(testConfig(), eng)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := s.StartContinuous(testContext(t)); err != nil {
		t.Fatalf("StartContinuous() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Dispose()
		}()
	}
	wg.Wait()

	if eng.CloseCount() != 1 {
		t.Errorf("engine closed %d times, want 1", eng.CloseCount())
	}
}

func TestFutureWaitHonoursContext(t *testing.T) {
	fut := newFuture[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := fut.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait() error = %v, want context.Canceled", err)
	}

	fut.resolve(7, nil)
	fut.resolve(8, errors.New("ignored"))
	select {
	case <-fut.Done():
	default:
		t.Fatal("Done() not closed after resolve")
	}
	v, err := fut.Wait(context.Background())
	if v != 7 || err != nil {
		t.Errorf("Wait() = %d, %v, want 7, nil", v, err)
	}
}
