package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/liuscraft/orion-translate/internal/audio"
	"github.com/liuscraft/orion-translate/internal/logging"
)

const (
	defaultDashScopeEndpoint = "wss://dashscope.aliyuncs.com/api-ws/v1/inference"
	defaultTranslationModel  = "gummy-realtime-v1"
)

var ErrAPIKeyRequired = errors.New("DASHSCOPE_API_KEY is required")

// DashScopeConfig 实时语音翻译连接参数
type DashScopeConfig struct {
	APIKey     string
	Endpoint   string
	Model      string
	Format     string
	SampleRate int
	// MaxEndSilence 句尾静音时长（毫秒），0 使用服务端默认值
	MaxEndSilence int
	VocabularyID  string
}

// DashScopeEngine 通过 WebSocket 双工任务完成识别与翻译，每次 Start 建立一条连接
type DashScopeEngine struct {
	cfg  DashScopeConfig
	open audio.Opener
	log  *zap.SugaredLogger

	mu      sync.Mutex
	closed  bool
	streams map[*dashScopeStream]struct{}
}

func NewDashScopeEngine(cfg DashScopeConfig, open audio.Opener) (*DashScopeEngine, error) {
	if cfg.APIKey == "" {
		return nil, ErrAPIKeyRequired
	}
	if open == nil {
		return nil, errors.New("audio opener is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultDashScopeEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = defaultTranslationModel
	}
	if cfg.Format == "" {
		cfg.Format = "pcm"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	return &DashScopeEngine{
		cfg:     cfg,
		open:    open,
		log:     logging.Named("dashscope"),
		streams: make(map[*dashScopeStream]struct{}),
	}, nil
}

func (e *DashScopeEngine) Start(ctx context.Context, req Request) (Stream, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, &Error{Code: "EngineClosed", Message: "engine already closed"}
	}
	e.mu.Unlock()

	if err := checkTargetCodes(req.TargetLanguages); err != nil {
		return nil, err
	}

	source, err := e.open()
	if err != nil {
		return nil, &Error{Code: "AudioInputError", Message: err.Error(), Err: err}
	}

	s := newDashScopeStream(e, req, source)
	if err := s.start(ctx); err != nil {
		s.shutdown()
		return nil, err
	}

	e.mu.Lock()
	e.streams[s] = struct{}{}
	e.mu.Unlock()
	return s, nil
}

// Close 关闭所有仍在运行的连接
func (e *DashScopeEngine) Close() error {
	e.mu.Lock()
	e.closed = true
	streams := make([]*dashScopeStream, 0, len(e.streams))
	for s := range e.streams {
		streams = append(streams, s)
	}
	e.mu.Unlock()

	for _, s := range streams {
		s.shutdown()
	}
	return nil
}

func (e *DashScopeEngine) forget(s *dashScopeStream) {
	e.mu.Lock()
	delete(e.streams, s)
	e.mu.Unlock()
}

func (e *DashScopeEngine) connect(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", fmt.Sprintf("Bearer %s", e.cfg.APIKey))
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, e.cfg.Endpoint, header)
	if err != nil {
		code := "ConnectionFailure"
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			code = "AuthenticationFailure"
		}
		return nil, &Error{Code: code, Message: err.Error(), Err: err}
	}
	return conn, nil
}

type dashScopeStream struct {
	engine  *DashScopeEngine
	req     Request
	source  audio.Source
	conn    *websocket.Conn
	taskID  string
	targets map[string]string
	log     *zap.SugaredLogger

	writeMu   sync.Mutex
	events    chan Event
	startedCh chan struct{}
	doneCh    chan struct{}
	stopCh    chan struct{}
	pumpDone  chan struct{}
	cancel    context.CancelFunc

	errMu sync.Mutex
	err   error

	startedOnce  sync.Once
	doneOnce     sync.Once
	stopOnce     sync.Once
	shutdownOnce sync.Once

	sentence int64
	ended    bool
}

func newDashScopeStream(e *DashScopeEngine, req Request, source audio.Source) *dashScopeStream {
	taskID := uuid.NewString()
	return &dashScopeStream{
		engine:    e,
		req:       req,
		source:    source,
		taskID:    taskID,
		targets:   targetLanguageCodes(req.TargetLanguages),
		log:       e.log.With("task_id", taskID),
		events:    make(chan Event, 64),
		startedCh: make(chan struct{}),
		doneCh:    make(chan struct{}),
		stopCh:    make(chan struct{}),
		pumpDone:  make(chan struct{}),
		sentence:  -1,
	}
}

func (s *dashScopeStream) start(ctx context.Context) error {
	conn, err := s.engine.connect(ctx)
	if err != nil {
		close(s.pumpDone)
		return err
	}
	s.conn = conn

	if err := s.sendRunTask(); err != nil {
		close(s.pumpDone)
		return &Error{Code: "ConnectionFailure", Message: err.Error(), Err: err}
	}
	go s.receive()

	select {
	case <-s.startedCh:
	case <-s.doneCh:
		close(s.pumpDone)
		if err := s.failure(); err != nil {
			return err
		}
		return &Error{Code: "ConnectionFailure", Message: "task ended before it started"}
	case <-ctx.Done():
		close(s.pumpDone)
		return ctx.Err()
	}

	pumpCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.pump(pumpCtx)
	s.log.Infow("translation task started", "mode", s.req.Mode.String(), "targets", s.req.TargetLanguages)
	return nil
}

// Recv 在任务结束后先返回剩余事件，再返回 io.EOF 或任务失败错误
func (s *dashScopeStream) Recv() (Event, error) {
	ev, ok := <-s.events
	if ok {
		return ev, nil
	}
	select {
	case <-s.stopCh:
		return Event{}, io.EOF
	default:
	}
	if err := s.failure(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}

// Stop 结束任务并等待服务端确认，超时后直接断开
func (s *dashScopeStream) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	if s.cancel != nil {
		s.cancel()
	}
	<-s.pumpDone

	var err error
	select {
	case <-s.doneCh:
	default:
		if err = s.sendFinishTask(); err == nil {
			select {
			case <-s.doneCh:
			case <-ctx.Done():
				err = ctx.Err()
			}
		}
	}
	s.shutdown()
	return err
}

func (s *dashScopeStream) shutdown() {
	s.shutdownOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		if s.conn != nil {
			_ = s.conn.Close()
		}
		if err := s.source.Close(); err != nil {
			s.log.Warnf("close audio source: %v", err)
		}
		s.engine.forget(s)
	})
}

// pump 把音频源写入连接，输入结束时发送 finish-task
func (s *dashScopeStream) pump(ctx context.Context) {
	defer close(s.pumpDone)
	for {
		data, err := s.source.Read(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				s.log.Infof("audio input exhausted, finishing task")
				if err := s.sendFinishTask(); err != nil {
					s.setErr(&Error{Code: "ConnectionFailure", Message: err.Error(), Err: err})
					_ = s.conn.Close()
				}
			case ctx.Err() != nil:
			default:
				s.setErr(&Error{Code: "AudioInputError", Message: err.Error(), Err: err})
				_ = s.conn.Close()
			}
			return
		}
		if len(data) == 0 {
			continue
		}
		s.writeMu.Lock()
		err = s.conn.WriteMessage(websocket.BinaryMessage, data)
		s.writeMu.Unlock()
		if err != nil {
			if ctx.Err() == nil {
				s.setErr(&Error{Code: "ConnectionFailure", Message: err.Error(), Err: err})
			}
			return
		}
	}
}

func (s *dashScopeStream) receive() {
	defer close(s.events)
	defer s.markDone()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.stopCh:
			default:
				s.setErr(&Error{Code: "ConnectionFailure", Message: err.Error(), Err: err})
			}
			return
		}
		var msg eventMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.setErr(&Error{Code: "ProtocolError", Message: err.Error(), Err: err})
			return
		}
		if s.handle(msg) {
			return
		}
	}
}

// handle 返回 true 表示任务已结束
func (s *dashScopeStream) handle(msg eventMessage) bool {
	switch msg.Header.Event {
	case "task-started":
		s.startedOnce.Do(func() { close(s.startedCh) })
	case "result-generated":
		if msg.Payload.Output != nil {
			for _, ev := range s.translate(msg.Payload.Output) {
				s.emit(ev)
			}
		}
	case "task-finished":
		return true
	case "task-failed":
		message := msg.Header.ErrorMessage
		if message == "" {
			message = "task failed"
		}
		s.setErr(&Error{Code: msg.Header.ErrorCode, Message: message})
		return true
	}
	return false
}

func (s *dashScopeStream) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.stopCh:
	}
}

// translate 把一条 result-generated 映射为引擎事件，按句子编号划分语句
func (s *dashScopeStream) translate(out *taskOutput) []Event {
	tr := out.Transcription
	if tr == nil || tr.Heartbeat {
		return nil
	}

	var events []Event
	id := fmt.Sprintf("%s-%d", s.taskID, tr.SentenceID)
	begin := time.Duration(tr.BeginTime) * time.Millisecond

	if tr.SentenceID == s.sentence && s.ended {
		return nil
	}
	if tr.SentenceID != s.sentence {
		s.sentence = tr.SentenceID
		s.ended = false
		events = append(events, Event{Kind: KindSpeechStart, ResultID: id, Offset: begin})
	}

	translations := make(map[string]string, len(out.Translations))
	for _, t := range out.Translations {
		if t.SentenceID != tr.SentenceID {
			continue
		}
		if target, ok := s.targets[t.Lang]; ok {
			translations[target] = t.Text
		}
	}

	if !tr.SentenceEnd {
		if tr.Text != "" {
			events = append(events, Event{Kind: KindIntermediate, ResultID: id, Text: tr.Text, Translations: translations, Offset: begin})
		}
		return events
	}

	s.ended = true
	var duration time.Duration
	if tr.EndTime != nil {
		duration = time.Duration(*tr.EndTime)*time.Millisecond - begin
	}
	final := Event{
		Kind:         KindFinal,
		ResultID:     id,
		Text:         tr.Text,
		Translations: translations,
		Offset:       begin,
		Duration:     duration,
	}
	if tr.Text == "" {
		final.Reason = ReasonNoMatch
	} else if missing := s.missingTargets(translations); len(missing) > 0 {
		final.TranslationError = fmt.Sprintf("no translation for %v", missing)
	}
	events = append(events,
		Event{Kind: KindSpeechEnd, ResultID: id, Offset: begin + duration},
		final,
	)
	return events
}

func (s *dashScopeStream) missingTargets(translations map[string]string) []string {
	var missing []string
	for _, target := range s.req.TargetLanguages {
		if _, ok := translations[target]; !ok {
			missing = append(missing, target)
		}
	}
	return missing
}

func (s *dashScopeStream) sendRunTask() error {
	params := map[string]any{
		"format":                       s.engine.cfg.Format,
		"sample_rate":                  s.engine.cfg.SampleRate,
		"transcription_enabled":        true,
		"translation_enabled":          true,
		"translation_target_languages": languageCodes(s.req.TargetLanguages),
		"source_language":              languageCode(s.req.SourceLanguage),
	}
	if s.engine.cfg.MaxEndSilence > 0 {
		params["max_end_silence"] = s.engine.cfg.MaxEndSilence
	}
	if s.engine.cfg.VocabularyID != "" {
		params["vocabulary_id"] = s.engine.cfg.VocabularyID
	}

	return s.writeJSON(taskMessage{
		Header: taskHeader{Action: "run-task", TaskID: s.taskID, Streaming: "duplex"},
		Payload: taskPayload{
			TaskGroup:  "audio",
			Task:       "asr",
			Function:   "recognition",
			Model:      s.engine.cfg.Model,
			Parameters: params,
			Input:      map[string]any{},
		},
	})
}

func (s *dashScopeStream) sendFinishTask() error {
	return s.writeJSON(taskMessage{
		Header:  taskHeader{Action: "finish-task", TaskID: s.taskID, Streaming: "duplex"},
		Payload: taskPayload{Input: map[string]any{}},
	})
}

func (s *dashScopeStream) writeJSON(msg taskMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *dashScopeStream) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *dashScopeStream) failure() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *dashScopeStream) markDone() {
	s.doneOnce.Do(func() { close(s.doneCh) })
}

// languageCode 服务端只接受基础语言代码，例如 zh-CN 发送为 zh
func languageCode(tag string) string {
	t, err := language.Parse(tag)
	if err != nil {
		return tag
	}
	base, _ := t.Base()
	return base.String()
}

func languageCodes(tags []string) []string {
	out := make([]string, len(tags))
	for i, tag := range tags {
		out[i] = languageCode(tag)
	}
	return out
}

// checkTargetCodes 服务端只接受基础语言代码，共用基础语言的目标无法区分
func checkTargetCodes(tags []string) error {
	seen := make(map[string]string, len(tags))
	for _, tag := range tags {
		code := languageCode(tag)
		if prev, ok := seen[code]; ok {
			return &Error{
				Code:    "UnsupportedLanguage",
				Message: fmt.Sprintf("targets %s and %s share language code %q", prev, tag, code),
			}
		}
		seen[code] = tag
	}
	return nil
}

// targetLanguageCodes 服务端语言代码到调用方目标语言的映射
func targetLanguageCodes(tags []string) map[string]string {
	out := make(map[string]string, len(tags))
	for _, tag := range tags {
		code := languageCode(tag)
		if _, exists := out[code]; !exists {
			out[code] = tag
		}
	}
	return out
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
	Output     *taskOutput    `json:"output,omitempty"`
}

type eventMessage = taskMessage

type taskOutput struct {
	Transcription *sentence           `json:"transcription,omitempty"`
	Translations  []translatedSentence `json:"translations,omitempty"`
}

type sentence struct {
	SentenceID  int64  `json:"sentence_id"`
	BeginTime   int64  `json:"begin_time"`
	EndTime     *int64 `json:"end_time"`
	Text        string `json:"text"`
	Heartbeat   bool   `json:"heartbeat"`
	SentenceEnd bool   `json:"sentence_end"`
}

type translatedSentence struct {
	SentenceID  int64  `json:"sentence_id"`
	Lang        string `json:"lang"`
	Text        string `json:"text"`
	SentenceEnd bool   `json:"sentence_end"`
}
