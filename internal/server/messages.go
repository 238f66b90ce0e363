package server

import (
	"time"

	"github.com/liuscraft/orion-translate/internal/translation"
)

// 客户端消息类型
const (
	msgConfigure = "configure"
	msgStart     = "start"
	msgStop      = "stop"
	msgEndAudio  = "end_audio"
)

// 启动模式
const (
	modeContinuous = "continuous"
	modeOnce       = "once"
	modeKeyword    = "keyword"
)

type clientMessage struct {
	Type            string   `json:"type"`
	SourceLanguage  string   `json:"source_language,omitempty"`
	TargetLanguages []string `json:"target_languages,omitempty"`
	OutputVoice     string   `json:"output_voice,omitempty"`
	Mode            string   `json:"mode,omitempty"`
	Keywords        []string `json:"keywords,omitempty"`
	FollowUps       int      `json:"follow_ups,omitempty"`
}

type serverMessage struct {
	Type      string            `json:"type"`
	SessionID string            `json:"session_id,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Op        string            `json:"op,omitempty"`
	ResultID  string            `json:"result_id,omitempty"`
	OffsetMs  int64             `json:"offset_ms,omitempty"`
	Result    *resultPayload    `json:"result,omitempty"`
	Synthesis *synthesisPayload `json:"synthesis,omitempty"`
	Error     *errorPayload     `json:"error,omitempty"`
}

type resultPayload struct {
	ResultID          string            `json:"result_id"`
	Text              string            `json:"text"`
	RecognitionStatus string            `json:"recognition_status"`
	TranslationStatus string            `json:"translation_status"`
	Translations      map[string]string `json:"translations"`
	OffsetMs          int64             `json:"offset_ms"`
	DurationMs        int64             `json:"duration_ms"`
	ErrorDetails      string            `json:"error_details,omitempty"`
}

type synthesisPayload struct {
	ResultID      string `json:"result_id"`
	Status        string `json:"status"`
	Audio         []byte `json:"audio,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func encodeResult(r *translation.TranslationResult) *resultPayload {
	if r == nil {
		return nil
	}
	return &resultPayload{
		ResultID:          r.ResultID(),
		Text:              r.Text(),
		RecognitionStatus: r.RecognitionStatus().String(),
		TranslationStatus: r.TranslationStatus().String(),
		Translations:      r.Translations(),
		OffsetMs:          r.Offset().Milliseconds(),
		DurationMs:        r.Duration().Milliseconds(),
		ErrorDetails:      r.ErrorDetails(),
	}
}

// encodeEvent 会话事件转为下行消息
func encodeEvent(event translation.Event) serverMessage {
	msg := serverMessage{SessionID: event.SessionID(), Timestamp: event.Timestamp()}
	switch e := event.(type) {
	case *translation.ResultEvent:
		msg.Type = "intermediate"
		if e.Type() == translation.EventTypeFinalResult {
			msg.Type = "final"
		}
		msg.Result = encodeResult(e.Result)
	case *translation.SynthesisEvent:
		msg.Type = "synthesis"
		msg.Synthesis = &synthesisPayload{
			ResultID:      e.Result.ResultID(),
			Status:        e.Result.Status().String(),
			Audio:         e.Result.Audio(),
			FailureReason: e.Result.FailureReason(),
		}
	case *translation.ErrorEvent:
		msg.Type = "error"
		msg.Error = &errorPayload{Code: e.Info.Code, Message: e.Info.Detail}
	case *translation.SpeechEvent:
		msg.Type = "speech_end"
		if e.Type() == translation.EventTypeSpeechStart {
			msg.Type = "speech_start"
		}
		msg.ResultID = e.ResultID
		msg.OffsetMs = e.Offset.Milliseconds()
	case *translation.SessionEvent:
		msg.Type = "session_stopped"
		if e.Type() == translation.EventTypeSessionStarted {
			msg.Type = "session_started"
		}
	default:
		msg.Type = event.Type().String()
	}
	return msg
}

func ackMessage(op string) serverMessage {
	return serverMessage{Type: "ack", Op: op, Timestamp: time.Now()}
}

func commandError(op string, err error) serverMessage {
	return serverMessage{
		Type:      "command_error",
		Op:        op,
		Timestamp: time.Now(),
		Error:     &errorPayload{Code: errorCode(err), Message: err.Error()},
	}
}
