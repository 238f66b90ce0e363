package engine

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/liuscraft/orion-translate/internal/logging"
)

const defaultTranslateTimeout = 10 * time.Second

// Translator 文本翻译后端，用于补全引擎未给出的译文
type Translator interface {
	Translate(ctx context.Context, text, source string, targets []string) (map[string]string, error)
}

// TranslatingEngine 包装识别引擎，为缺少译文的最终结果调用 Translator
type TranslatingEngine struct {
	inner      Engine
	translator Translator
	timeout    time.Duration
	log        *zap.SugaredLogger
}

func NewTranslatingEngine(inner Engine, translator Translator, timeout time.Duration) *TranslatingEngine {
	if timeout <= 0 {
		timeout = defaultTranslateTimeout
	}
	return &TranslatingEngine{
		inner:      inner,
		translator: translator,
		timeout:    timeout,
		log:        logging.Named("translating-engine"),
	}
}

func (e *TranslatingEngine) Start(ctx context.Context, req Request) (Stream, error) {
	stream, err := e.inner.Start(ctx, req)
	if err != nil {
		return nil, err
	}
	streamCtx, cancel := context.WithCancel(ctx)
	return &translatingStream{
		engine: e,
		inner:  stream,
		req:    req,
		ctx:    streamCtx,
		cancel: cancel,
	}, nil
}

func (e *TranslatingEngine) Close() error {
	return e.inner.Close()
}

type translatingStream struct {
	engine *TranslatingEngine
	inner  Stream
	req    Request
	ctx    context.Context
	cancel context.CancelFunc
}

func (s *translatingStream) Recv() (Event, error) {
	ev, err := s.inner.Recv()
	if err != nil {
		return ev, err
	}
	if ev.Kind != KindFinal || ev.Reason != ReasonRecognized || strings.TrimSpace(ev.Text) == "" {
		return ev, nil
	}
	missing := missingTargets(ev.Translations, s.req.TargetLanguages)
	if len(missing) == 0 {
		return ev, nil
	}
	return s.fill(ev, missing), nil
}

func (s *translatingStream) fill(ev Event, missing []string) Event {
	ctx, cancel := context.WithTimeout(s.ctx, s.engine.timeout)
	defer cancel()

	got, err := s.engine.translator.Translate(ctx, ev.Text, s.req.SourceLanguage, missing)

	merged := make(map[string]string, len(s.req.TargetLanguages))
	for lang, text := range ev.Translations {
		merged[lang] = text
	}
	for lang, text := range got {
		merged[lang] = text
	}
	ev.Translations = merged

	if err != nil {
		s.engine.log.Warnf("fill translations for %s: %v", ev.ResultID, err)
		ev.TranslationError = err.Error()
		return ev
	}
	if len(missingTargets(merged, s.req.TargetLanguages)) == 0 {
		ev.TranslationError = ""
	}
	return ev
}

func (s *translatingStream) Stop(ctx context.Context) error {
	s.cancel()
	return s.inner.Stop(ctx)
}

func missingTargets(translations map[string]string, targets []string) []string {
	var missing []string
	for _, target := range targets {
		if strings.TrimSpace(translations[target]) == "" {
			missing = append(missing, target)
		}
	}
	return missing
}
