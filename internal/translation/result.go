package translation

import (
	"time"

	"github.com/liuscraft/orion-translate/internal/engine"
)

// RecognitionStatus 识别状态
type RecognitionStatus int

const (
	RecognitionRecognized RecognitionStatus = iota
	RecognitionNoMatch
	RecognitionInitialSilenceTimeout
	RecognitionInitialBabbleTimeout
	RecognitionCanceled
)

func (s RecognitionStatus) String() string {
	switch s {
	case RecognitionRecognized:
		return "Recognized"
	case RecognitionNoMatch:
		return "NoMatch"
	case RecognitionInitialSilenceTimeout:
		return "InitialSilenceTimeout"
	case RecognitionInitialBabbleTimeout:
		return "InitialBabbleTimeout"
	case RecognitionCanceled:
		return "Canceled"
	default:
		return "Unknown"
	}
}

// TranslationStatus 翻译状态
type TranslationStatus int

const (
	TranslationSuccess TranslationStatus = iota
	TranslationFailure
)

func (s TranslationStatus) String() string {
	switch s {
	case TranslationSuccess:
		return "Success"
	case TranslationFailure:
		return "Failure"
	default:
		return "Unknown"
	}
}

// TranslationResult 识别与翻译结果快照，投递后不再改变
type TranslationResult struct {
	resultID          string
	text              string
	recognitionStatus RecognitionStatus
	translationStatus TranslationStatus
	translations      map[string]string
	offset            time.Duration
	duration          time.Duration
	errorDetails      string
}

func newTranslationResult(ev engine.Event) *TranslationResult {
	r := &TranslationResult{
		resultID:          ev.ResultID,
		text:              ev.Text,
		recognitionStatus: recognitionStatusOf(ev.Reason),
		translationStatus: TranslationSuccess,
		translations:      make(map[string]string, len(ev.Translations)),
		offset:            ev.Offset,
		duration:          ev.Duration,
	}
	for lang, text := range ev.Translations {
		r.translations[lang] = text
	}
	if ev.TranslationError != "" {
		r.translationStatus = TranslationFailure
		r.errorDetails = ev.TranslationError
	}
	return r
}

func newCanceledResult(resultID, details string) *TranslationResult {
	return &TranslationResult{
		resultID:          resultID,
		recognitionStatus: RecognitionCanceled,
		translationStatus: TranslationFailure,
		translations:      map[string]string{},
		errorDetails:      details,
	}
}

func newNoMatchResult(resultID string) *TranslationResult {
	return &TranslationResult{
		resultID:          resultID,
		recognitionStatus: RecognitionNoMatch,
		translationStatus: TranslationSuccess,
		translations:      map[string]string{},
	}
}

func recognitionStatusOf(reason engine.Reason) RecognitionStatus {
	switch reason {
	case engine.ReasonNoMatch:
		return RecognitionNoMatch
	case engine.ReasonInitialSilenceTimeout:
		return RecognitionInitialSilenceTimeout
	case engine.ReasonInitialBabbleTimeout:
		return RecognitionInitialBabbleTimeout
	default:
		return RecognitionRecognized
	}
}

func (r *TranslationResult) ResultID() string                     { return r.resultID }
func (r *TranslationResult) Text() string                         { return r.text }
func (r *TranslationResult) RecognitionStatus() RecognitionStatus { return r.recognitionStatus }
func (r *TranslationResult) TranslationStatus() TranslationStatus { return r.translationStatus }
func (r *TranslationResult) Offset() time.Duration                { return r.offset }
func (r *TranslationResult) Duration() time.Duration              { return r.duration }

// ErrorDetails 仅在 Canceled 或翻译失败时有值
func (r *TranslationResult) ErrorDetails() string { return r.errorDetails }

// Translations 返回目标语言到译文的副本
func (r *TranslationResult) Translations() map[string]string {
	out := make(map[string]string, len(r.translations))
	for lang, text := range r.translations {
		out[lang] = text
	}
	return out
}

// Translation 返回单个目标语言的译文
func (r *TranslationResult) Translation(lang string) (string, bool) {
	text, ok := r.translations[lang]
	return text, ok
}

// SynthesisStatus 合成状态
type SynthesisStatus int

const (
	SynthesisSuccess SynthesisStatus = iota
	SynthesisEnd
	SynthesisError
)

func (s SynthesisStatus) String() string {
	switch s {
	case SynthesisSuccess:
		return "Success"
	case SynthesisEnd:
		return "End"
	case SynthesisError:
		return "Error"
	default:
		return "Unknown"
	}
}

// SynthesisResult 合成结果快照
type SynthesisResult struct {
	resultID      string
	status        SynthesisStatus
	audio         []byte
	failureReason string
}

func newSynthesisChunk(resultID string, audio []byte) *SynthesisResult {
	return &SynthesisResult{
		resultID: resultID,
		status:   SynthesisSuccess,
		audio:    append([]byte(nil), audio...),
	}
}

func newSynthesisEnd(resultID string) *SynthesisResult {
	return &SynthesisResult{resultID: resultID, status: SynthesisEnd}
}

func newSynthesisFailure(resultID, reason string) *SynthesisResult {
	return &SynthesisResult{resultID: resultID, status: SynthesisError, failureReason: reason}
}

// ResultID 触发本次合成的识别结果
func (r *SynthesisResult) ResultID() string        { return r.resultID }
func (r *SynthesisResult) Status() SynthesisStatus { return r.status }
func (r *SynthesisResult) FailureReason() string   { return r.failureReason }

// Audio 返回音频副本，仅 Success 时非空
func (r *SynthesisResult) Audio() []byte {
	if len(r.audio) == 0 {
		return nil
	}
	return append([]byte(nil), r.audio...)
}

// AudioLen 音频字节数，不复制
func (r *SynthesisResult) AudioLen() int { return len(r.audio) }

// ErrorInfo 错误事件负载
type ErrorInfo struct {
	SessionID string
	Code      string
	Detail    string
}
