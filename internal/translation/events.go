package translation

import (
	"time"
)

// EventType 事件类型
type EventType int

const (
	EventTypeIntermediateResult EventType = iota
	EventTypeFinalResult
	EventTypeError
	EventTypeSynthesisResult
	EventTypeSessionStarted
	EventTypeSessionStopped
	EventTypeSpeechStart
	EventTypeSpeechEnd
)

func (t EventType) String() string {
	switch t {
	case EventTypeIntermediateResult:
		return "IntermediateResult"
	case EventTypeFinalResult:
		return "FinalResult"
	case EventTypeError:
		return "Error"
	case EventTypeSynthesisResult:
		return "SynthesisResult"
	case EventTypeSessionStarted:
		return "SessionStarted"
	case EventTypeSessionStopped:
		return "SessionStopped"
	case EventTypeSpeechStart:
		return "SpeechStart"
	case EventTypeSpeechEnd:
		return "SpeechEnd"
	default:
		return "Unknown"
	}
}

// Event 事件接口
type Event interface {
	Type() EventType
	SessionID() string
	Timestamp() time.Time
}

// EventHandler 事件处理器
type EventHandler func(event Event)

// BaseEvent 事件公共字段
type BaseEvent struct {
	eventType EventType
	sessionID string
	timestamp time.Time
}

func newBaseEvent(eventType EventType, sessionID string) BaseEvent {
	return BaseEvent{
		eventType: eventType,
		sessionID: sessionID,
		timestamp: time.Now(),
	}
}

func (e *BaseEvent) Type() EventType {
	return e.eventType
}

func (e *BaseEvent) SessionID() string {
	return e.sessionID
}

func (e *BaseEvent) Timestamp() time.Time {
	return e.timestamp
}

// ResultEvent 中间或最终识别翻译结果
type ResultEvent struct {
	BaseEvent
	Result *TranslationResult
}

func newResultEvent(final bool, sessionID string, result *TranslationResult) *ResultEvent {
	eventType := EventTypeIntermediateResult
	if final {
		eventType = EventTypeFinalResult
	}
	return &ResultEvent{
		BaseEvent: newBaseEvent(eventType, sessionID),
		Result:    result,
	}
}

// ErrorEvent 引擎错误
type ErrorEvent struct {
	BaseEvent
	Info ErrorInfo
}

func newErrorEvent(info ErrorInfo) *ErrorEvent {
	return &ErrorEvent{
		BaseEvent: newBaseEvent(EventTypeError, info.SessionID),
		Info:      info,
	}
}

// SynthesisEvent 合成音频
type SynthesisEvent struct {
	BaseEvent
	Result *SynthesisResult
}

func newSynthesisEvent(sessionID string, result *SynthesisResult) *SynthesisEvent {
	return &SynthesisEvent{
		BaseEvent: newBaseEvent(EventTypeSynthesisResult, sessionID),
		Result:    result,
	}
}

// SessionEvent 一次激活的开始或结束
type SessionEvent struct {
	BaseEvent
}

func newSessionEvent(started bool, sessionID string) *SessionEvent {
	eventType := EventTypeSessionStopped
	if started {
		eventType = EventTypeSessionStarted
	}
	return &SessionEvent{BaseEvent: newBaseEvent(eventType, sessionID)}
}

// SpeechEvent 语音起止边界
type SpeechEvent struct {
	BaseEvent
	ResultID string
	Offset   time.Duration
}

func newSpeechEvent(start bool, sessionID, resultID string, offset time.Duration) *SpeechEvent {
	eventType := EventTypeSpeechEnd
	if start {
		eventType = EventTypeSpeechStart
	}
	return &SpeechEvent{
		BaseEvent: newBaseEvent(eventType, sessionID),
		ResultID:  resultID,
		Offset:    offset,
	}
}
