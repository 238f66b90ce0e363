package translation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/liuscraft/orion-translate/internal/engine"
	"github.com/liuscraft/orion-translate/internal/keyword"
	"github.com/liuscraft/orion-translate/internal/logging"
)

const (
	defaultSynthesisChunkSize = 32 * 1024
	synthesisQueueSize        = 16
	streamStopTimeout         = 5 * time.Second
)

// Synthesizer 把译文合成为音频，读到 io.EOF 表示合成结束
type Synthesizer interface {
	Synthesize(ctx context.Context, voice, text string) (io.ReadCloser, error)
}

type synthesisJob struct {
	resultID string
	text     string
}

// activation 管线的一次运行
type activation struct {
	id     uint64
	mode   engine.Mode
	stream engine.Stream
	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.SugaredLogger

	stopping atomic.Bool
	haltOnce sync.Once
	done     chan struct{}

	synthCh   chan synthesisJob
	synthDone chan struct{}

	once    *Future[*TranslationResult]
	spotter *keyword.Spotter
	onExit  func(a *activation)

	// 以下字段只在事件循环 goroutine 中访问
	open     bool
	ended    bool
	resultID string
	seq      int
	held     []Event
	final    *TranslationResult
	failure  string
}

type startOptions struct {
	mode   engine.Mode
	model  *keyword.Model
	once   *Future[*TranslationResult]
	onExit func(a *activation)
}

// pipeline 识别管线，会话独占，自身状态只由自己修改
type pipeline struct {
	sessionID string
	cfg       Config
	engine    engine.Engine
	bus       *Dispatcher
	synth     Synthesizer
	chunkSize int
	log       *zap.SugaredLogger
	commands  *commandRunner

	mu           sync.Mutex
	stateMachine *StateMachine[PipelineState]
	current      *activation
}

func newPipeline(sessionID string, cfg Config, eng engine.Engine, bus *Dispatcher, synth Synthesizer, chunkSize int, logger *zap.SugaredLogger) *pipeline {
	if chunkSize <= 0 {
		chunkSize = defaultSynthesisChunkSize
	}
	return &pipeline{
		sessionID:    sessionID,
		cfg:          cfg,
		engine:       eng,
		bus:          bus,
		synth:        synth,
		chunkSize:    chunkSize,
		log:          logger,
		commands:     newCommandRunner(),
		stateMachine: NewStateMachine(PipelineCreated, pipelineTransitions),
	}
}

func (p *pipeline) State() PipelineState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stateMachine.GetCurrentState()
}

func (p *pipeline) transition(to PipelineState) {
	p.mu.Lock()
	from := p.stateMachine.GetCurrentState()
	ok := p.stateMachine.Transition(to)
	p.mu.Unlock()
	if !ok && from != to {
		p.log.Debugw("pipeline transition rejected", "from", from, "to", to)
	}
}

// start 启动引擎流，成功后管线进入 Started；事件循环由 launch 启动
func (p *pipeline) start(ctx context.Context, opts startOptions) (*activation, error) {
	p.mu.Lock()
	if p.current != nil {
		p.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	p.mu.Unlock()

	req := engine.Request{
		SourceLanguage:  p.cfg.SourceLanguage,
		TargetLanguages: append([]string(nil), p.cfg.TargetLanguages...),
		Mode:            opts.mode,
	}
	if opts.model != nil {
		req.Keywords = append([]string(nil), opts.model.Phrases...)
	}

	actCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream, err := p.engine.Start(actCtx, req)
	if err != nil {
		cancel()
		return nil, err
	}

	id := logging.StartActivation()
	a := &activation{
		id:        id,
		mode:      opts.mode,
		stream:    stream,
		ctx:       actCtx,
		cancel:    cancel,
		log:       p.log.With("activation_id", id, "mode", opts.mode.String()),
		done:      make(chan struct{}),
		synthCh:   make(chan synthesisJob, synthesisQueueSize),
		synthDone: make(chan struct{}),
		once:      opts.once,
		onExit:    opts.onExit,
	}
	if opts.model != nil {
		a.spotter = keyword.NewSpotter(opts.model)
	}

	p.mu.Lock()
	p.current = a
	if !p.stateMachine.Transition(PipelineStarted) {
		p.log.Warnf("pipeline started from state %s", p.stateMachine.GetCurrentState())
	}
	p.mu.Unlock()
	return a, nil
}

// launch 发布 SessionStarted 并启动事件循环与合成 goroutine
func (p *pipeline) launch(a *activation) {
	a.log.Infof("activation started")
	p.bus.Publish(newSessionEvent(true, p.sessionID))
	p.transition(PipelineListening)

	go p.synthesisLoop(a)
	go p.run(a)
}

func (p *pipeline) run(a *activation) {
	defer p.finish(a)

	for {
		ev, err := a.stream.Recv()
		if a.stopping.Load() {
			return
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				a.log.Infof("end of input audio")
				return
			}
			p.fail(a, err)
			return
		}
		if p.handle(a, ev) {
			return
		}
	}
}

// handle 处理一个引擎事件，返回 true 表示本次激活结束
func (p *pipeline) handle(a *activation, ev engine.Event) bool {
	switch ev.Kind {
	case engine.KindSpeechStart:
		if !a.open {
			p.beginUtterance(a, ev)
		}
	case engine.KindIntermediate:
		if !a.open {
			p.beginUtterance(a, ev)
		}
		if a.ended {
			a.log.Debugf("dropping late intermediate result for %s", a.resultID)
			return false
		}
		ev.ResultID = a.resultID
		p.emit(a, newResultEvent(false, p.sessionID, newTranslationResult(ev)))
	case engine.KindSpeechEnd:
		if !a.open {
			p.beginUtterance(a, ev)
		}
		if !a.ended {
			p.endSpeech(a, ev.Offset+ev.Duration)
		}
	case engine.KindFinal:
		if !a.open {
			p.beginUtterance(a, ev)
		}
		if !a.ended {
			p.endSpeech(a, ev.Offset+ev.Duration)
		}
		ev.ResultID = a.resultID
		return p.completeUtterance(a, newTranslationResult(ev))
	default:
		a.log.Warnf("ignoring engine event of kind %s", ev.Kind)
	}
	return false
}

func (p *pipeline) beginUtterance(a *activation, ev engine.Event) {
	a.seq++
	a.open = true
	a.ended = false
	a.resultID = ev.ResultID
	if a.resultID == "" {
		a.resultID = fmt.Sprintf("%s-%d-%d", p.sessionID, a.id, a.seq)
	}
	p.emit(a, newSpeechEvent(true, p.sessionID, a.resultID, ev.Offset))
}

func (p *pipeline) endSpeech(a *activation, offset time.Duration) {
	a.ended = true
	p.emit(a, newSpeechEvent(false, p.sessionID, a.resultID, offset))
	p.transition(PipelineProcessing)
}

func (p *pipeline) completeUtterance(a *activation, result *TranslationResult) bool {
	held := a.held
	a.held = nil
	a.open = false

	deliver := true
	if a.spotter != nil {
		deliver = a.spotter.Accept(result.Text())
		if deliver {
			for _, e := range held {
				p.bus.Publish(e)
			}
		} else {
			a.log.Debugf("keyword gate dropped utterance %s", result.ResultID())
		}
	}
	if deliver {
		p.bus.Publish(newResultEvent(true, p.sessionID, result))
		p.queueSynthesis(a, result)
	}

	if a.mode == engine.ModeSingleShot {
		a.final = result
		return true
	}
	p.transition(PipelineListening)
	return false
}

// emit 关键词模式下先缓存，等 Final 决定是否投递
func (p *pipeline) emit(a *activation, e Event) {
	if a.spotter != nil {
		a.held = append(a.held, e)
		return
	}
	p.bus.Publish(e)
}

func (p *pipeline) fail(a *activation, err error) {
	engErr := &EngineError{SessionID: p.sessionID, Detail: err.Error(), Err: err}
	var ee *engine.Error
	if errors.As(err, &ee) {
		engErr.Code = ee.Code
		engErr.Detail = ee.Message
	}
	a.failure = engErr.Detail
	a.held = nil
	a.log.Errorw("engine failure", "code", engErr.Code, "error", engErr)

	p.bus.Publish(newErrorEvent(ErrorInfo{
		SessionID: p.sessionID,
		Code:      engErr.Code,
		Detail:    engErr.Detail,
	}))
}

func (p *pipeline) queueSynthesis(a *activation, result *TranslationResult) {
	if p.synth == nil || p.cfg.OutputVoice == "" {
		return
	}
	if result.RecognitionStatus() != RecognitionRecognized || result.TranslationStatus() != TranslationSuccess {
		return
	}
	text, ok := result.Translation(p.cfg.TargetLanguages[0])
	if !ok || strings.TrimSpace(text) == "" {
		return
	}
	select {
	case a.synthCh <- synthesisJob{resultID: result.ResultID(), text: text}:
	case <-a.ctx.Done():
	}
}

func (p *pipeline) synthesisLoop(a *activation) {
	defer close(a.synthDone)
	for job := range a.synthCh {
		if a.stopping.Load() {
			continue
		}
		p.synthesize(a, job)
	}
}

func (p *pipeline) synthesize(a *activation, job synthesisJob) {
	reader, err := p.synth.Synthesize(a.ctx, p.cfg.OutputVoice, job.text)
	if err != nil {
		p.publishSynthesis(a, newSynthesisFailure(job.resultID, err.Error()))
		return
	}
	defer reader.Close()

	buf := make([]byte, p.chunkSize)
	for {
		n, err := io.ReadFull(reader, buf)
		if n > 0 {
			p.publishSynthesis(a, newSynthesisChunk(job.resultID, buf[:n]))
		}
		switch {
		case err == nil:
			continue
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			p.publishSynthesis(a, newSynthesisEnd(job.resultID))
		default:
			p.publishSynthesis(a, newSynthesisFailure(job.resultID, err.Error()))
		}
		return
	}
}

func (p *pipeline) publishSynthesis(a *activation, result *SynthesisResult) {
	if a.stopping.Load() {
		return
	}
	p.bus.Publish(newSynthesisEvent(p.sessionID, result))
}

// halt 取消激活上下文并停止引擎流，可重复调用
func (p *pipeline) halt(a *activation) {
	a.haltOnce.Do(func() {
		a.cancel()
		ctx, cancel := context.WithTimeout(context.Background(), streamStopTimeout)
		defer cancel()
		if err := a.stream.Stop(ctx); err != nil {
			a.log.Warnf("stop engine stream: %v", err)
		}
	})
}

// finish 在事件循环退出时运行：等合成排空，发布 SessionStopped，回调会话
func (p *pipeline) finish(a *activation) {
	close(a.synthCh)
	<-a.synthDone
	p.halt(a)

	p.mu.Lock()
	p.stateMachine.Transition(PipelineStopped)
	if p.current == a {
		p.current = nil
	}
	p.mu.Unlock()

	p.bus.Publish(newSessionEvent(false, p.sessionID))
	a.log.Infof("activation stopped")

	if a.onExit != nil {
		a.onExit(a)
	}
	close(a.done)

	if a.once != nil {
		switch {
		case a.final != nil:
			a.once.resolve(a.final, nil)
		case a.failure != "":
			a.once.resolve(newCanceledResult(a.resultID, a.failure), nil)
		case a.stopping.Load():
			a.once.resolve(newCanceledResult(a.resultID, "recognition stopped"), nil)
		default:
			a.once.resolve(newNoMatchResult(a.resultID), nil)
		}
	}
}

// stop 请求停止并等待事件循环与合成完全退出
func (p *pipeline) stop(a *activation) {
	a.stopping.Store(true)
	p.halt(a)
	<-a.done
}

// shutdown 关闭命令 goroutine 并停止当前激活
func (p *pipeline) shutdown() {
	p.commands.close()

	p.mu.Lock()
	a := p.current
	p.mu.Unlock()
	if a != nil {
		p.stop(a)
	}
}
