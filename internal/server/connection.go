package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/liuscraft/orion-translate/internal/audio"
	"github.com/liuscraft/orion-translate/internal/keyword"
	"github.com/liuscraft/orion-translate/internal/translation"
)

var (
	errNoSession   = errors.New("no session configured")
	errConfigured  = errors.New("session already configured")
	errUnknownMode = errors.New("unknown start mode")
	errNoAudio     = errors.New("no activation is consuming audio")
)

func errorCode(err error) string {
	var (
		cfgErr    *translation.ConfigurationError
		stateErr  *translation.InvalidStateError
		engineErr *translation.EngineError
	)
	switch {
	case errors.As(err, &cfgErr):
		return "Configuration"
	case errors.As(err, &stateErr):
		return "InvalidState"
	case errors.As(err, &engineErr):
		return engineErr.Code
	default:
		return "BadRequest"
	}
}

// audioRelay 把上行音频帧转给当前激活；每次激活打开新的 ChannelSource
type audioRelay struct {
	buffer int

	mu      sync.Mutex
	current *audio.ChannelSource
}

func (r *audioRelay) open() (audio.Source, error) {
	src := audio.NewChannelSource(r.buffer)
	r.mu.Lock()
	prev := r.current
	r.current = src
	r.mu.Unlock()
	if prev != nil {
		prev.EndOfInput()
	}
	return src, nil
}

func (r *audioRelay) push(ctx context.Context, data []byte) error {
	r.mu.Lock()
	src := r.current
	r.mu.Unlock()
	if src == nil {
		return errNoAudio
	}
	if err := src.Push(ctx, data); err != nil {
		if errors.Is(err, audio.ErrSourceClosed) {
			return errNoAudio
		}
		return err
	}
	return nil
}

func (r *audioRelay) endOfInput() {
	r.mu.Lock()
	src := r.current
	r.current = nil
	r.mu.Unlock()
	if src != nil {
		src.EndOfInput()
	}
}

// connection 一个 websocket 连接对应一个会话
type connection struct {
	server *Server
	conn   *websocket.Conn
	log    *zap.SugaredLogger
	relay  *audioRelay
	out    chan serverMessage

	session *translation.Session
}

func newConnection(s *Server, conn *websocket.Conn, log *zap.SugaredLogger) *connection {
	return &connection{
		server: s,
		conn:   conn,
		log:    log,
		relay:  &audioRelay{buffer: s.opts.AudioBuffer},
		out:    make(chan serverMessage, s.opts.OutboundBuffer),
	}
}

func (c *connection) serve(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.writeLoop(ctx)
	})
	g.Go(func() error {
		defer cancel()
		return c.readLoop(ctx, g)
	})
	err := g.Wait()

	c.relay.endOfInput()
	if c.session != nil {
		if derr := c.session.Dispose(); derr != nil {
			c.log.Warnf("dispose session: %v", derr)
		}
	}
	if err != nil && !isClosed(err) {
		return err
	}
	return nil
}

func isClosed(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, websocket.ErrCloseSent) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}

// writeLoop 唯一的写端；退出时关闭连接使 readLoop 返回
func (c *connection) writeLoop(ctx context.Context) error {
	defer c.conn.Close()
	for {
		select {
		case <-ctx.Done():
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		case msg := <-c.out:
			if err := c.conn.WriteJSON(msg); err != nil {
				return fmt.Errorf("write %s: %w", msg.Type, err)
			}
		}
	}
}

func (c *connection) readLoop(ctx context.Context, g *errgroup.Group) error {
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if isClosed(err) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		switch kind {
		case websocket.BinaryMessage:
			if err := c.relay.push(ctx, data); err != nil {
				c.log.Debugf("drop %d audio bytes: %v", len(data), err)
			}
		case websocket.TextMessage:
			var msg clientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				c.send(ctx, commandError("decode", err))
				continue
			}
			c.handle(ctx, g, msg)
		}
	}
}

func (c *connection) handle(ctx context.Context, g *errgroup.Group, msg clientMessage) {
	switch msg.Type {
	case msgConfigure:
		if err := c.configure(ctx, msg); err != nil {
			c.send(ctx, commandError(msg.Type, err))
			return
		}
		c.send(ctx, ackMessage(msg.Type))
	case msgStart:
		c.start(ctx, g, msg)
	case msgStop:
		c.stop(ctx, g)
	case msgEndAudio:
		c.relay.endOfInput()
		c.send(ctx, ackMessage(msg.Type))
	default:
		c.send(ctx, commandError(msg.Type, fmt.Errorf("unknown message type %q", msg.Type)))
	}
}

func (c *connection) configure(ctx context.Context, msg clientMessage) error {
	if c.session != nil {
		return errConfigured
	}
	cfg := c.server.opts.Defaults
	if msg.SourceLanguage != "" {
		cfg.SourceLanguage = msg.SourceLanguage
	}
	if len(msg.TargetLanguages) > 0 {
		cfg.TargetLanguages = msg.TargetLanguages
	}
	if msg.OutputVoice != "" {
		cfg.OutputVoice = msg.OutputVoice
	}

	session, err := c.server.factory(ctx, cfg, c.relay.open)
	if err != nil {
		return err
	}
	if err := c.forward(ctx, session); err != nil {
		_ = session.Dispose()
		return err
	}
	c.session = session
	c.log = c.log.With("session_id", session.ID())
	c.log.Infow("session configured",
		"source", cfg.SourceLanguage,
		"targets", cfg.TargetLanguages,
		"voice", cfg.OutputVoice)
	return nil
}

// forward 把全部事件类型转发给客户端
func (c *connection) forward(ctx context.Context, session *translation.Session) error {
	types := []translation.EventType{
		translation.EventTypeSessionStarted,
		translation.EventTypeSpeechStart,
		translation.EventTypeIntermediateResult,
		translation.EventTypeSpeechEnd,
		translation.EventTypeFinalResult,
		translation.EventTypeSynthesisResult,
		translation.EventTypeError,
		translation.EventTypeSessionStopped,
	}
	for _, t := range types {
		if _, err := session.Subscribe(t, func(event translation.Event) {
			c.send(ctx, encodeEvent(event))
		}); err != nil {
			return err
		}
	}
	return nil
}

func (c *connection) start(ctx context.Context, g *errgroup.Group, msg clientMessage) {
	if c.session == nil {
		if err := c.configure(ctx, clientMessage{Type: msgConfigure}); err != nil {
			c.send(ctx, commandError(msg.Type, err))
			return
		}
	}

	mode := msg.Mode
	if mode == "" {
		mode = modeContinuous
	}
	switch mode {
	case modeContinuous:
		fut, err := c.session.StartContinuousAsync(ctx)
		if err != nil {
			c.send(ctx, commandError(msg.Type, err))
			return
		}
		g.Go(func() error { return awaitAck(ctx, c, msg.Type, fut) })
	case modeOnce:
		fut, err := c.session.RecognizeOnceAsync(ctx)
		if err != nil {
			c.send(ctx, commandError(msg.Type, err))
			return
		}
		c.send(ctx, ackMessage(msg.Type))
		g.Go(func() error {
			result, err := fut.Wait(ctx)
			if err != nil {
				return nil
			}
			c.send(ctx, serverMessage{
				Type:      "once_result",
				SessionID: c.session.ID(),
				Timestamp: time.Now(),
				Result:    encodeResult(result),
			})
			return nil
		})
	case modeKeyword:
		model, err := c.keywordModel(msg)
		if err != nil {
			c.send(ctx, commandError(msg.Type, err))
			return
		}
		fut, err := c.session.StartKeywordSpottingAsync(ctx, model)
		if err != nil {
			c.send(ctx, commandError(msg.Type, err))
			return
		}
		g.Go(func() error { return awaitAck(ctx, c, msg.Type, fut) })
	default:
		c.send(ctx, commandError(msg.Type, fmt.Errorf("%w: %s", errUnknownMode, mode)))
	}
}

func (c *connection) keywordModel(msg clientMessage) (*keyword.Model, error) {
	if len(msg.Keywords) == 0 {
		if c.server.opts.Keyword == nil {
			return nil, &translation.ConfigurationError{Field: "keywords", Reason: "must not be empty"}
		}
		return c.server.opts.Keyword, nil
	}
	model, err := keyword.FromPhrases(msg.Keywords...)
	if err != nil {
		return nil, &translation.ConfigurationError{Field: "keywords", Reason: err.Error(), Err: err}
	}
	if msg.FollowUps > 0 {
		model.FollowUps = msg.FollowUps
	}
	return model, nil
}

func (c *connection) stop(ctx context.Context, g *errgroup.Group) {
	if c.session == nil {
		c.send(ctx, commandError(msgStop, errNoSession))
		return
	}
	var (
		fut *translation.Future[struct{}]
		err error
	)
	if c.session.State() == translation.StateKeywordSpotting {
		fut, err = c.session.StopKeywordSpottingAsync(ctx)
	} else {
		fut, err = c.session.StopContinuousAsync(ctx)
	}
	if err != nil {
		c.send(ctx, commandError(msgStop, err))
		return
	}
	g.Go(func() error { return awaitAck(ctx, c, msgStop, fut) })
}

func awaitAck[T any](ctx context.Context, c *connection, op string, fut *translation.Future[T]) error {
	if _, err := fut.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		c.send(ctx, commandError(op, err))
		return nil
	}
	c.send(ctx, ackMessage(op))
	return nil
}

// send 连接关闭后丢弃消息，避免阻塞管线 goroutine
func (c *connection) send(ctx context.Context, msg serverMessage) {
	select {
	case c.out <- msg:
	case <-ctx.Done():
	}
}
