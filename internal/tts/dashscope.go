package tts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/liuscraft/orion-translate/internal/logging"
)

const (
	defaultDashScopeEndpoint = "wss://dashscope.aliyuncs.com/api-ws/v1/inference"
	audioBufferSize          = 1024 * 1024
)

type DashScopeProvider struct {
	log *zap.SugaredLogger
}

func NewDashScopeProvider() *DashScopeProvider {
	return &DashScopeProvider{log: logging.Named("tts")}
}

func (p *DashScopeProvider) Start(ctx context.Context, cfg Config) (Stream, error) {
	normalized, err := normalizeConfig(cfg)
	if err != nil {
		return nil, err
	}

	conn, err := connectDashScope(ctx, normalized)
	if err != nil {
		return nil, err
	}

	stream := &dashScopeStream{
		cfg:       normalized,
		conn:      conn,
		audioBuf:  newBufferedPipe(audioBufferSize),
		startedCh: make(chan struct{}),
		doneCh:    make(chan struct{}),
		taskID:    uuid.NewString(),
		log:       p.log,
	}

	stream.startReceiver()

	if err := stream.sendRunTask(); err != nil {
		stream.abort(err)
		return nil, err
	}
	if err := stream.waitStarted(ctx); err != nil {
		stream.abort(err)
		return nil, err
	}
	return stream, nil
}

type dashScopeStream struct {
	cfg       Config
	conn      *websocket.Conn
	audioBuf  *bufferedPipe
	writeMu   sync.Mutex
	startedCh chan struct{}
	doneCh    chan struct{}
	taskID    string
	log       *zap.SugaredLogger

	errMu sync.Mutex
	err   error

	startedOnce sync.Once
	doneOnce    sync.Once
	finishOnce  sync.Once
}

func (s *dashScopeStream) AudioReader() io.ReadCloser {
	return s.audioBuf
}

func (s *dashScopeStream) WriteTextChunk(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if err := s.waitStarted(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.doneCh:
		if err := s.streamErr(); err != nil {
			return err
		}
		return io.ErrClosedPipe
	default:
	}
	return s.send("continue-task", taskPayload{Input: map[string]any{"text": text}})
}

func (s *dashScopeStream) Close(ctx context.Context) error {
	var finishErr error
	s.finishOnce.Do(func() {
		finishErr = s.send("finish-task", taskPayload{Input: map[string]any{}})
	})
	if finishErr != nil {
		// 连接已断开时以接收端记录的错误为准
		select {
		case <-s.doneCh:
			if err := s.streamErr(); err != nil {
				return err
			}
		case <-ctx.Done():
		}
		s.abort(finishErr)
		return finishErr
	}
	select {
	case <-s.doneCh:
		_ = s.conn.Close()
		return s.streamErr()
	case <-ctx.Done():
		s.abort(ctx.Err())
		return ctx.Err()
	}
}

func (s *dashScopeStream) waitStarted(ctx context.Context) error {
	select {
	case <-s.startedCh:
		return nil
	case <-s.doneCh:
		if err := s.streamErr(); err != nil {
			return err
		}
		return errors.New("tts task finished before start")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *dashScopeStream) sendRunTask() error {
	return s.sendWithHeader(taskHeader{Action: "run-task", TaskID: s.taskID, Streaming: "duplex"}, taskPayload{
		TaskGroup: "audio",
		Task:      "tts",
		Function:  "SpeechSynthesizer",
		Model:     s.cfg.Model,
		Parameters: map[string]any{
			"text_type":   s.cfg.TextType,
			"voice":       s.cfg.Voice,
			"format":      s.cfg.Format,
			"sample_rate": s.cfg.SampleRate,
			"volume":      s.cfg.Volume,
			"rate":        s.cfg.Rate,
			"pitch":       s.cfg.Pitch,
			"enable_ssml": s.cfg.EnableSSML,
		},
		Input: map[string]any{},
	})
}

func (s *dashScopeStream) send(action string, payload taskPayload) error {
	return s.sendWithHeader(taskHeader{Action: action, TaskID: s.taskID, Streaming: "duplex"}, payload)
}

func (s *dashScopeStream) sendWithHeader(header taskHeader, payload taskPayload) error {
	data, err := json.Marshal(taskMessage{Header: header, Payload: payload})
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *dashScopeStream) startReceiver() {
	go func() {
		for {
			messageType, data, err := s.conn.ReadMessage()
			if err != nil {
				s.abort(err)
				return
			}

			if messageType == websocket.BinaryMessage {
				if _, err := s.audioBuf.Write(data); err != nil {
					s.abort(err)
					return
				}
				continue
			}
			if messageType != websocket.TextMessage {
				continue
			}

			var event taskMessage
			if err := json.Unmarshal(data, &event); err != nil {
				s.abort(err)
				return
			}
			if s.handleEvent(event) {
				return
			}
		}
	}()
}

func (s *dashScopeStream) handleEvent(event taskMessage) bool {
	switch event.Header.Event {
	case "task-started":
		s.startedOnce.Do(func() { close(s.startedCh) })
	case "task-finished":
		s.markDone(nil)
		return true
	case "task-failed":
		s.log.Errorf("tts task failed: code=%s, message=%s", event.Header.ErrorCode, event.Header.ErrorMessage)
		s.abort(mapDashScopeError(event.Header.ErrorCode, event.Header.ErrorMessage))
		return true
	}
	return false
}

// abort 以错误结束任务并关闭连接
func (s *dashScopeStream) abort(err error) {
	s.markDone(err)
	_ = s.conn.Close()
}

func (s *dashScopeStream) markDone(err error) {
	s.doneOnce.Do(func() {
		s.errMu.Lock()
		s.err = err
		s.errMu.Unlock()
		_ = s.audioBuf.closeWithError(err)
		close(s.doneCh)
	})
}

func (s *dashScopeStream) streamErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func normalizeConfig(cfg Config) (Config, error) {
	if cfg.APIKey == "" {
		return Config{}, fmt.Errorf("%w: DASHSCOPE_API_KEY is required", ErrAuth)
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		cfg.Endpoint = defaultDashScopeEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = "cosyvoice-v3-flash"
	}
	if cfg.Voice == "" {
		cfg.Voice = "longanyang"
	}
	if cfg.Format == "" {
		cfg.Format = "pcm"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Volume == 0 {
		cfg.Volume = 50
	}
	if cfg.Rate == 0 {
		cfg.Rate = 1
	}
	if cfg.Pitch == 0 {
		cfg.Pitch = 1
	}
	if cfg.TextType == "" {
		cfg.TextType = "PlainText"
	}
	if cfg.EnableDataInspection == nil {
		enabled := true
		cfg.EnableDataInspection = &enabled
	}
	return cfg, nil
}

func connectDashScope(ctx context.Context, cfg Config) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", fmt.Sprintf("bearer %s", cfg.APIKey))
	if cfg.EnableDataInspection != nil && *cfg.EnableDataInspection {
		header.Set("X-DashScope-DataInspection", "enable")
	}
	if strings.TrimSpace(cfg.Workspace) != "" {
		header.Set("X-DashScope-WorkSpace", strings.TrimSpace(cfg.Workspace))
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, cfg.Endpoint, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: %s", ErrAuth, resp.Status)
		}
		return nil, fmt.Errorf("%w: dial %s: %v", ErrTransient, cfg.Endpoint, err)
	}
	return conn, nil
}

type taskMessage struct {
	Header  taskHeader  `json:"header"`
	Payload taskPayload `json:"payload"`
}

type taskHeader struct {
	Action       string `json:"action,omitempty"`
	TaskID       string `json:"task_id,omitempty"`
	Streaming    string `json:"streaming,omitempty"`
	Event        string `json:"event,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type taskPayload struct {
	TaskGroup  string         `json:"task_group,omitempty"`
	Task       string         `json:"task,omitempty"`
	Function   string         `json:"function,omitempty"`
	Model      string         `json:"model,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Input      map[string]any `json:"input"`
}

func mapDashScopeError(code, message string) error {
	lower := strings.ToLower(code + " " + message)
	switch {
	case strings.Contains(lower, "unauthorized"), strings.Contains(lower, "authentication"):
		return fmt.Errorf("%w: %s", ErrAuth, message)
	case strings.Contains(lower, "invalidparameter"), strings.Contains(lower, "bad request"):
		return fmt.Errorf("%w: %s", ErrBadRequest, message)
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "tempor"):
		return fmt.Errorf("%w: %s", ErrTransient, message)
	}
	if message == "" {
		message = "dashscope task failed"
	}
	return errors.New(message)
}
