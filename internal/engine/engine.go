package engine

import (
	"context"
	"fmt"
	"time"
)

// Mode selects how an engine stream behaves for one activation.
type Mode int

const (
	ModeContinuous Mode = iota
	ModeSingleShot
	ModeKeyword
)

func (m Mode) String() string {
	switch m {
	case ModeContinuous:
		return "Continuous"
	case ModeSingleShot:
		return "SingleShot"
	case ModeKeyword:
		return "Keyword"
	default:
		return "Unknown"
	}
}

// Request describes one activation.
type Request struct {
	SourceLanguage  string
	TargetLanguages []string
	Mode            Mode
	// Keywords are wake phrases for engines with native keyword spotting.
	Keywords []string
}

// Kind tags an engine event.
type Kind int

const (
	KindSpeechStart Kind = iota
	KindIntermediate
	KindSpeechEnd
	KindFinal
)

func (k Kind) String() string {
	switch k {
	case KindSpeechStart:
		return "SpeechStart"
	case KindIntermediate:
		return "Intermediate"
	case KindSpeechEnd:
		return "SpeechEnd"
	case KindFinal:
		return "Final"
	default:
		return "Unknown"
	}
}

// Reason is the recognition outcome reported on a final event.
type Reason int

const (
	ReasonRecognized Reason = iota
	ReasonNoMatch
	ReasonInitialSilenceTimeout
	ReasonInitialBabbleTimeout
)

// Event is a raw engine notification. The session layer turns it into
// immutable published events.
type Event struct {
	Kind         Kind
	ResultID     string
	Text         string
	Reason       Reason
	Translations map[string]string
	// TranslationError is set when recognition succeeded but translation did not.
	TranslationError string
	Offset           time.Duration
	Duration         time.Duration
}

// Stream delivers the events of one activation.
type Stream interface {
	// Recv blocks until the next event. It returns io.EOF once the input audio
	// is exhausted and *Error for unrecoverable engine failures.
	Recv() (Event, error)
	// Stop tears the stream down. Recv returns after Stop completes.
	Stop(ctx context.Context) error
}

// Engine is the recognition/translation backend.
type Engine interface {
	Start(ctx context.Context, req Request) (Stream, error)
	Close() error
}

// Error is an unrecoverable failure reported by an engine.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("engine error: %s", e.Message)
	}
	return fmt.Sprintf("engine error %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}
