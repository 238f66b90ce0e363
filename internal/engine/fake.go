package engine

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// Utterance scripts one phrase for FakeEngine.
type Utterance struct {
	Partials         []string
	Text             string
	Reason           Reason
	Translations     map[string]string
	TranslationError string
}

// FakeEngine replays a script without audio or network. It backs tests and
// the "fake" engine provider of the command line tools.
type FakeEngine struct {
	Utterances []Utterance
	// Events, when set, are replayed verbatim instead of Utterances.
	Events []Event
	// EndOfInput makes Recv return io.EOF after the script; otherwise the
	// stream idles until stopped, like a live microphone.
	EndOfInput bool
	// Err is returned by Recv once the script is exhausted.
	Err      error
	StartErr error
	// Delay is waited before every event.
	Delay time.Duration

	mu       sync.Mutex
	requests []Request
	closed   int
}

func NewFakeEngine(utterances ...Utterance) *FakeEngine {
	return &FakeEngine{Utterances: utterances}
}

func (f *FakeEngine) Start(ctx context.Context, req Request) (Stream, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	startErr := f.StartErr
	f.mu.Unlock()

	if startErr != nil {
		return nil, startErr
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	events := f.Events
	if len(events) == 0 {
		events = scriptEvents(f.Utterances)
	}
	return &fakeStream{
		events:     events,
		endOfInput: f.EndOfInput,
		err:        f.Err,
		delay:      f.Delay,
		stopCh:     make(chan struct{}),
	}, nil
}

func (f *FakeEngine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

// Requests returns every request passed to Start.
func (f *FakeEngine) Requests() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Request, len(f.requests))
	copy(out, f.requests)
	return out
}

// CloseCount reports how many times Close was called.
func (f *FakeEngine) CloseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func scriptEvents(utterances []Utterance) []Event {
	var events []Event
	for i, u := range utterances {
		id := fmt.Sprintf("fake-%d", i+1)
		events = append(events, Event{Kind: KindSpeechStart, ResultID: id})
		for _, partial := range u.Partials {
			events = append(events, Event{Kind: KindIntermediate, ResultID: id, Text: partial})
		}
		events = append(events,
			Event{Kind: KindSpeechEnd, ResultID: id},
			Event{
				Kind:             KindFinal,
				ResultID:         id,
				Text:             u.Text,
				Reason:           u.Reason,
				Translations:     u.Translations,
				TranslationError: u.TranslationError,
			},
		)
	}
	return events
}

type fakeStream struct {
	mu         sync.Mutex
	events     []Event
	pos        int
	endOfInput bool
	err        error
	delay      time.Duration
	stopCh     chan struct{}
	stopOnce   sync.Once
}

func (s *fakeStream) Recv() (Event, error) {
	if s.delay > 0 {
		timer := time.NewTimer(s.delay)
		select {
		case <-s.stopCh:
			timer.Stop()
			return Event{}, io.EOF
		case <-timer.C:
		}
	}

	s.mu.Lock()
	if s.pos < len(s.events) {
		ev := s.events[s.pos]
		s.pos++
		s.mu.Unlock()
		select {
		case <-s.stopCh:
			return Event{}, io.EOF
		default:
		}
		return ev, nil
	}
	s.mu.Unlock()

	if s.err != nil {
		return Event{}, s.err
	}
	if s.endOfInput {
		return Event{}, io.EOF
	}
	<-s.stopCh
	return Event{}, io.EOF
}

func (s *fakeStream) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	return nil
}
