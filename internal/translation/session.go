package translation

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/liuscraft/orion-translate/internal/engine"
	"github.com/liuscraft/orion-translate/internal/keyword"
	"github.com/liuscraft/orion-translate/internal/logging"
)

// Option 会话选项
type Option func(*Session)

// WithSynthesizer 设置语音合成器，配合 OutputVoice 使用
func WithSynthesizer(synth Synthesizer) Option {
	return func(s *Session) {
		s.synth = synth
	}
}

// WithLogger 替换会话日志
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(s *Session) {
		if logger != nil {
			s.log = logger
		}
	}
}

// WithSessionID 指定会话 ID，默认生成 UUID
func WithSessionID(id string) Option {
	return func(s *Session) {
		if id != "" {
			s.id = id
		}
	}
}

// WithSynthesisChunkSize 每个合成事件携带的最大音频字节数
func WithSynthesisChunkSize(n int) Option {
	return func(s *Session) {
		s.chunkSize = n
	}
}

// Session 语音翻译会话
//
// 观察者在管线 goroutine 上同步执行。观察者内可以调用 *Async 方法，
// 但不能调用阻塞版本或 Dispose，否则会等待自身所在的 goroutine。
type Session struct {
	id        string
	cfg       Config
	engine    engine.Engine
	synth     Synthesizer
	chunkSize int
	log       *zap.SugaredLogger
	bus       *Dispatcher
	pipeline  *pipeline

	mu           sync.Mutex
	stateMachine *StateMachine[State]
	pending      string
	activation   *activation

	disposeOnce sync.Once
	disposeErr  error
}

// New 校验配置并创建会话
func New(cfg Config, eng engine.Engine, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if eng == nil {
		return nil, &ConfigurationError{Field: "engine", Reason: "must not be nil"}
	}

	s := &Session{
		id:           logging.NewSessionID(),
		cfg:          cfg.clone(),
		engine:       eng,
		stateMachine: NewStateMachine(StateIdle, sessionTransitions),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logging.ForSession(s.id)
	}

	s.bus = NewDispatcher(s.log)
	s.pipeline = newPipeline(s.id, s.cfg, eng, s.bus, s.synth, s.chunkSize, s.log)
	s.log.Infow("session created",
		"source_language", s.cfg.SourceLanguage,
		"target_languages", s.cfg.TargetLanguages,
		"output_voice", s.cfg.OutputVoice)
	return s, nil
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) SourceLanguage() string {
	return s.cfg.SourceLanguage
}

// TargetLanguages 返回副本
func (s *Session) TargetLanguages() []string {
	return append([]string(nil), s.cfg.TargetLanguages...)
}

func (s *Session) OutputVoiceName() string {
	return s.cfg.OutputVoice
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateMachine.GetCurrentState()
}

// PipelineState 当前管线状态
func (s *Session) PipelineState() PipelineState {
	return s.pipeline.State()
}

// Subscribe 注册观察者，按注册顺序调用
func (s *Session) Subscribe(eventType EventType, handler EventHandler) (Subscription, error) {
	if s.State() == StateDisposed {
		return Subscription{}, &InvalidStateError{Op: "Subscribe", State: StateDisposed, Err: ErrDisposed}
	}
	if handler == nil {
		return Subscription{}, &ConfigurationError{Field: "handler", Reason: "must not be nil"}
	}
	return s.bus.Subscribe(eventType, handler), nil
}

// Unsubscribe 取消订阅；对已失效的句柄返回 false，会话释放后返回 ErrDisposed
func (s *Session) Unsubscribe(sub Subscription) (bool, error) {
	if s.State() == StateDisposed {
		return false, &InvalidStateError{Op: "Unsubscribe", State: StateDisposed, Err: ErrDisposed}
	}
	return s.bus.Unsubscribe(sub), nil
}

func (s *Session) OnIntermediateResult(handler func(*ResultEvent)) (Subscription, error) {
	return subscribeTyped(s, EventTypeIntermediateResult, handler)
}

func (s *Session) OnFinalResult(handler func(*ResultEvent)) (Subscription, error) {
	return subscribeTyped(s, EventTypeFinalResult, handler)
}

func (s *Session) OnError(handler func(*ErrorEvent)) (Subscription, error) {
	return subscribeTyped(s, EventTypeError, handler)
}

func (s *Session) OnSynthesisResult(handler func(*SynthesisEvent)) (Subscription, error) {
	return subscribeTyped(s, EventTypeSynthesisResult, handler)
}

func (s *Session) OnSessionStarted(handler func(*SessionEvent)) (Subscription, error) {
	return subscribeTyped(s, EventTypeSessionStarted, handler)
}

func (s *Session) OnSessionStopped(handler func(*SessionEvent)) (Subscription, error) {
	return subscribeTyped(s, EventTypeSessionStopped, handler)
}

func (s *Session) OnSpeechStart(handler func(*SpeechEvent)) (Subscription, error) {
	return subscribeTyped(s, EventTypeSpeechStart, handler)
}

func (s *Session) OnSpeechEnd(handler func(*SpeechEvent)) (Subscription, error) {
	return subscribeTyped(s, EventTypeSpeechEnd, handler)
}

func subscribeTyped[E Event](s *Session, eventType EventType, handler func(E)) (Subscription, error) {
	if handler == nil {
		return s.Subscribe(eventType, nil)
	}
	return s.Subscribe(eventType, func(event Event) {
		if e, ok := event.(E); ok {
			handler(e)
		}
	})
}

// RecognizeOnceAsync 识别单个语句，Future 在会话回到 Idle 后以 Final 结果完成
func (s *Session) RecognizeOnceAsync(ctx context.Context) (*Future[*TranslationResult], error) {
	fut := newFuture[*TranslationResult]()
	err := s.submit("RecognizeOnce", s.requireIdle(StateRunning), func() {
		err := s.activate(ctx, startOptions{mode: engine.ModeSingleShot, once: fut})
		if err != nil {
			fut.resolve(newCanceledResult("", err.Error()), nil)
		}
	})
	if err != nil {
		return nil, err
	}
	return fut, nil
}

// RecognizeOnce RecognizeOnceAsync 的阻塞版本
func (s *Session) RecognizeOnce(ctx context.Context) (*TranslationResult, error) {
	fut, err := s.RecognizeOnceAsync(ctx)
	if err != nil {
		return nil, err
	}
	return fut.Wait(ctx)
}

// StartContinuousAsync 开始连续识别，管线进入 Listening 后完成
func (s *Session) StartContinuousAsync(ctx context.Context) (*Future[struct{}], error) {
	fut := newFuture[struct{}]()
	err := s.submit("StartContinuous", s.requireIdle(StateRunning), func() {
		fut.resolve(struct{}{}, s.activate(ctx, startOptions{mode: engine.ModeContinuous}))
	})
	if err != nil {
		return nil, err
	}
	return fut, nil
}

func (s *Session) StartContinuous(ctx context.Context) error {
	fut, err := s.StartContinuousAsync(ctx)
	if err != nil {
		return err
	}
	_, err = fut.Wait(ctx)
	return err
}

// StopContinuousAsync 停止识别，Future 完成后不再投递任何事件
func (s *Session) StopContinuousAsync(ctx context.Context) (*Future[struct{}], error) {
	return s.stopAsync("StopContinuous", StateRunning)
}

func (s *Session) StopContinuous(ctx context.Context) error {
	fut, err := s.StopContinuousAsync(ctx)
	if err != nil {
		return err
	}
	_, err = fut.Wait(ctx)
	return err
}

// StartKeywordSpottingAsync 开始关键词识别，只投递命中关键词的语句
func (s *Session) StartKeywordSpottingAsync(ctx context.Context, model *keyword.Model) (*Future[struct{}], error) {
	if model == nil {
		return nil, &ConfigurationError{Field: "keyword_model", Reason: "must not be nil"}
	}
	if err := model.Validate(); err != nil {
		return nil, &ConfigurationError{Field: "keyword_model", Reason: err.Error(), Err: err}
	}

	fut := newFuture[struct{}]()
	err := s.submit("StartKeywordSpotting", s.requireIdle(StateKeywordSpotting), func() {
		fut.resolve(struct{}{}, s.activate(ctx, startOptions{mode: engine.ModeKeyword, model: model}))
	})
	if err != nil {
		return nil, err
	}
	return fut, nil
}

func (s *Session) StartKeywordSpotting(ctx context.Context, model *keyword.Model) error {
	fut, err := s.StartKeywordSpottingAsync(ctx, model)
	if err != nil {
		return err
	}
	_, err = fut.Wait(ctx)
	return err
}

func (s *Session) StopKeywordSpottingAsync(ctx context.Context) (*Future[struct{}], error) {
	return s.stopAsync("StopKeywordSpotting", StateKeywordSpotting)
}

func (s *Session) StopKeywordSpotting(ctx context.Context) error {
	fut, err := s.StopKeywordSpottingAsync(ctx)
	if err != nil {
		return err
	}
	_, err = fut.Wait(ctx)
	return err
}

// Dispose 停止识别、移除观察者并关闭引擎；可重复调用，之后其它操作返回 InvalidStateError
func (s *Session) Dispose() error {
	s.disposeOnce.Do(func() {
		s.mu.Lock()
		s.stateMachine.Transition(StateDisposed)
		s.mu.Unlock()

		s.bus.Dispose()
		s.pipeline.shutdown()
		if err := s.engine.Close(); err != nil {
			s.log.Warnf("close engine: %v", err)
			s.disposeErr = err
		}
		s.log.Infof("session disposed")
	})
	return s.disposeErr
}

// requireIdle 开始类命令只允许在 Idle 执行，并立即切到目标状态
func (s *Session) requireIdle(target State) func(State) error {
	return func(cur State) error {
		if cur != StateIdle {
			return ErrAlreadyRunning
		}
		s.stateMachine.Transition(target)
		return nil
	}
}

// submit 在持锁下检查状态并把命令交给管线 goroutine
func (s *Session) submit(op string, check func(State) error, task func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.stateMachine.GetCurrentState()
	if cur == StateDisposed {
		return &InvalidStateError{Op: op, State: cur, Err: ErrDisposed}
	}
	if s.pending != "" {
		return &InvalidStateError{Op: op, State: cur, Err: ErrCommandPending}
	}
	if err := check(cur); err != nil {
		return &InvalidStateError{Op: op, State: cur, Err: err}
	}

	s.pending = op
	if err := s.pipeline.commands.submit(task); err != nil {
		s.pending = ""
		if s.stateMachine.GetCurrentState() != cur {
			s.stateMachine.Transition(cur)
		}
		return &InvalidStateError{Op: op, State: cur, Err: err}
	}
	s.log.Debugf("command %s accepted in state %s", op, cur)
	return nil
}

// activate 在管线 goroutine 上运行
func (s *Session) activate(ctx context.Context, opts startOptions) error {
	opts.onExit = s.onActivationExit

	if err := ctx.Err(); err != nil {
		s.abortStart()
		return err
	}

	a, err := s.pipeline.start(ctx, opts)
	if err != nil {
		s.abortStart()
		engErr := &EngineError{SessionID: s.id, Detail: err.Error(), Err: err}
		var ee *engine.Error
		if errors.As(err, &ee) {
			engErr.Code = ee.Code
			engErr.Detail = ee.Message
		}
		s.log.Errorw("start recognition failed", "mode", opts.mode.String(), "error", err)
		s.bus.Publish(newErrorEvent(ErrorInfo{SessionID: s.id, Code: engErr.Code, Detail: engErr.Detail}))
		return engErr
	}

	s.mu.Lock()
	s.activation = a
	s.pending = ""
	s.mu.Unlock()

	s.pipeline.launch(a)
	return nil
}

func (s *Session) abortStart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = ""
	if s.stateMachine.GetCurrentState() != StateDisposed {
		s.stateMachine.Transition(StateIdle)
	}
}

// onActivationExit 激活结束（停止、输入结束、单次完成或引擎失败）后回到 Idle
func (s *Session) onActivationExit(a *activation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activation != a {
		return
	}
	s.activation = nil
	if s.stateMachine.GetCurrentState() != StateDisposed {
		s.stateMachine.Transition(StateIdle)
	}
}

func (s *Session) stopAsync(op string, running State) (*Future[struct{}], error) {
	fut := newFuture[struct{}]()
	check := func(cur State) error {
		if cur != running {
			return ErrNotRunning
		}
		return nil
	}
	err := s.submit(op, check, func() {
		s.mu.Lock()
		a := s.activation
		s.mu.Unlock()

		if a != nil {
			s.pipeline.stop(a)
		}

		s.mu.Lock()
		s.pending = ""
		if s.activation == nil && s.stateMachine.GetCurrentState() == running {
			s.stateMachine.Transition(StateIdle)
		}
		s.mu.Unlock()
		fut.resolve(struct{}{}, nil)
	})
	if err != nil {
		return nil, err
	}
	return fut, nil
}
