// Package server 通过 websocket 提供实时语音翻译会话
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/liuscraft/orion-translate/internal/audio"
	"github.com/liuscraft/orion-translate/internal/keyword"
	"github.com/liuscraft/orion-translate/internal/logging"
	"github.com/liuscraft/orion-translate/internal/translation"
)

// SessionFactory 为一个连接创建会话，open 提供该连接上传的音频
type SessionFactory func(ctx context.Context, cfg translation.Config, open audio.Opener) (*translation.Session, error)

type Options struct {
	// Defaults 客户端未指定时使用的会话配置
	Defaults translation.Config
	// Keyword 客户端未给出唤醒词时使用的模型，可为空
	Keyword        *keyword.Model
	ReadLimit      int64
	AudioBuffer    int
	OutboundBuffer int
}

func (o *Options) applyDefaults() {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 1 << 20
	}
	if o.AudioBuffer <= 0 {
		o.AudioBuffer = 64
	}
	if o.OutboundBuffer <= 0 {
		o.OutboundBuffer = 256
	}
}

type Server struct {
	factory  SessionFactory
	opts     Options
	log      *zap.SugaredLogger
	upgrader websocket.Upgrader
	active   atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
}

func New(factory SessionFactory, opts Options) *Server {
	opts.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		ctx:     ctx,
		cancel:  cancel,
		factory: factory,
		opts:    opts,
		log:     logging.Named("server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Handler 路由: GET /healthz, GET /v1/translate (websocket)
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.healthz)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/translate", s.translate)
	})
	return r
}

// Close 断开所有 websocket 连接并释放其会话
func (s *Server) Close() {
	s.cancel()
}

// ActiveConnections 当前连接数
func (s *Server) ActiveConnections() int64 {
	return s.active.Load()
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"connections": s.active.Load(),
	})
}

func (s *Server) translate(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("websocket upgrade: %v", err)
		return
	}
	conn.SetReadLimit(s.opts.ReadLimit)

	s.active.Add(1)
	defer s.active.Add(-1)

	log := s.log.With("request_id", chimiddleware.GetReqID(r.Context()), "remote", r.RemoteAddr)
	log.Info("connection opened")
	if err := newConnection(s, conn, log).serve(s.ctx); err != nil {
		log.Warnf("connection ended: %v", err)
		return
	}
	log.Info("connection closed")
}
