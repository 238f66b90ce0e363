package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/liuscraft/orion-translate/internal/app"
	"github.com/liuscraft/orion-translate/internal/audio"
	"github.com/liuscraft/orion-translate/internal/audio/source"
	"github.com/liuscraft/orion-translate/internal/config"
	"github.com/liuscraft/orion-translate/internal/logging"
	"github.com/liuscraft/orion-translate/internal/translation"
)

const stopTimeout = 5 * time.Second

type overrides struct {
	source   string
	targets  string
	voice    string
	keywords string
	pace     int
}

func main() {
	configPath := flag.String("config", config.DefaultPath, "config file path")
	input := flag.String("input", "mic", "audio input: mic, or a WAV/FLAC/raw PCM file")
	mode := flag.String("mode", "continuous", "recognition mode: once, continuous or keyword")
	audioOut := flag.String("audio-out", "", "append synthesized audio to this file")
	play := flag.Bool("play", false, "play synthesized audio on the default output device")
	var o overrides
	flag.StringVar(&o.source, "source", "", "source language (BCP-47), overrides config")
	flag.StringVar(&o.targets, "targets", "", "comma-separated target languages, overrides config")
	flag.StringVar(&o.voice, "voice", "", "output voice for synthesis, overrides config")
	flag.StringVar(&o.keywords, "keywords", "", "comma-separated wake phrases for keyword mode")
	flag.IntVar(&o.pace, "pace", -1, "file input speed in percent of real time (0 = unthrottled)")
	flag.Parse()

	appConfig, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	applyOverrides(appConfig, o)
	if err := appConfig.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	if err := logging.Init(logging.Config{
		Level:  appConfig.Logging.Level,
		Format: appConfig.Logging.Format,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, appConfig, *input, *mode, *audioOut, *play); err != nil {
		logging.Errorf("translate: %v", err)
		logging.Sync()
		os.Exit(1)
	}
}

func applyOverrides(cfg *config.AppConfig, o overrides) {
	if s := strings.TrimSpace(o.source); s != "" {
		cfg.Session.SourceLanguage = s
	}
	if targets := splitComma(o.targets); len(targets) > 0 {
		cfg.Session.TargetLanguages = targets
	}
	if v := strings.TrimSpace(o.voice); v != "" {
		cfg.Session.OutputVoice = v
	}
	if phrases := splitComma(o.keywords); len(phrases) > 0 {
		cfg.Keyword.Phrases = phrases
		cfg.Keyword.ModelPath = ""
	}
	if o.pace >= 0 {
		cfg.Audio.RealTimePercentage = o.pace
	}
}

func run(ctx context.Context, cfg *config.AppConfig, input, mode, audioOut string, play bool) error {
	if input == "mic" || play {
		terminate, err := source.Initialize()
		if err != nil {
			return err
		}
		defer terminate()
	}

	var open audio.Opener
	if input == "mic" {
		open = app.MicrophoneOpener(cfg)
	} else {
		open = app.FileOpener(cfg, input)
	}

	session, err := app.NewSession(ctx, cfg, cfg.Session.Translation(), open)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer session.Dispose()

	p := newPrinter(os.Stdout, session.TargetLanguages())
	if err := p.attach(session); err != nil {
		return err
	}
	if audioOut != "" {
		f, err := os.Create(audioOut)
		if err != nil {
			return fmt.Errorf("create audio output: %w", err)
		}
		defer f.Close()
		if err := attachAudioWriter(session, f); err != nil {
			return err
		}
	}
	if play {
		speaker, err := source.OpenSpeaker(source.SpeakerOptions{SampleRate: cfg.TTS.SampleRate})
		if err != nil {
			return err
		}
		defer speaker.Close()
		if err := attachAudioWriter(session, speaker); err != nil {
			return err
		}
	}

	logging.Infof("session %s: %s -> %s, mode=%s, input=%s",
		session.ID(), session.SourceLanguage(), strings.Join(session.TargetLanguages(), ","), mode, input)

	switch mode {
	case "once":
		result, err := session.RecognizeOnce(ctx)
		if err != nil {
			return err
		}
		p.summary(result)
		return nil
	case "continuous":
		if err := session.StartContinuous(ctx); err != nil {
			return err
		}
		return waitAndStop(ctx, p, session.StopContinuous)
	case "keyword":
		model, err := app.KeywordModel(cfg.Keyword)
		if err != nil {
			return err
		}
		if err := session.StartKeywordSpotting(ctx, model); err != nil {
			return err
		}
		return waitAndStop(ctx, p, session.StopKeywordSpotting)
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
}

// waitAndStop 等待输入结束或中断信号；中断时停止识别
func waitAndStop(ctx context.Context, p *printer, stopFn func(context.Context) error) error {
	select {
	case <-p.stopped:
		return nil
	case <-ctx.Done():
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := stopFn(stopCtx); err != nil && !errors.Is(err, translation.ErrNotRunning) {
		return err
	}
	return nil
}

// printer 把事件打印到终端
type printer struct {
	w       io.Writer
	targets []string

	mu       sync.Mutex
	stopped  chan struct{}
	stopOnce sync.Once
}

func newPrinter(w io.Writer, targets []string) *printer {
	return &printer{w: w, targets: targets, stopped: make(chan struct{})}
}

func (p *printer) attach(session *translation.Session) error {
	subs := []func() (translation.Subscription, error){
		func() (translation.Subscription, error) {
			return session.OnIntermediateResult(func(e *translation.ResultEvent) {
				p.printf("… %s\n", e.Result.Text())
			})
		},
		func() (translation.Subscription, error) {
			return session.OnFinalResult(func(e *translation.ResultEvent) {
				p.printf("%s\n", p.formatFinal(e.Result))
			})
		},
		func() (translation.Subscription, error) {
			return session.OnError(func(e *translation.ErrorEvent) {
				p.printf("! %s: %s\n", e.Info.Code, e.Info.Detail)
			})
		},
		func() (translation.Subscription, error) {
			return session.OnSessionStopped(func(*translation.SessionEvent) {
				p.stopOnce.Do(func() { close(p.stopped) })
			})
		},
	}
	for _, sub := range subs {
		if _, err := sub(); err != nil {
			return err
		}
	}
	return nil
}

func (p *printer) formatFinal(r *translation.TranslationResult) string {
	if r.RecognitionStatus() != translation.RecognitionRecognized {
		return fmt.Sprintf("[%s] %s", r.ResultID(), r.RecognitionStatus())
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", r.ResultID(), r.Text())
	translations := r.Translations()
	langs := p.targets
	if len(langs) == 0 {
		for lang := range translations {
			langs = append(langs, lang)
		}
		sort.Strings(langs)
	}
	for _, lang := range langs {
		if text, ok := translations[lang]; ok {
			fmt.Fprintf(&b, "\n    %s: %s", lang, text)
		}
	}
	if r.TranslationStatus() == translation.TranslationFailure {
		fmt.Fprintf(&b, "\n    translation failed: %s", r.ErrorDetails())
	}
	return b.String()
}

func (p *printer) summary(r *translation.TranslationResult) {
	if r.RecognitionStatus() == translation.RecognitionCanceled {
		p.printf("canceled: %s\n", r.ErrorDetails())
		return
	}
	p.printf("%s\n", p.formatFinal(r))
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

func attachAudioWriter(session *translation.Session, w io.Writer) error {
	_, err := session.OnSynthesisResult(func(e *translation.SynthesisEvent) {
		switch e.Result.Status() {
		case translation.SynthesisSuccess:
			if _, err := w.Write(e.Result.Audio()); err != nil {
				logging.Warnf("write synthesized audio: %v", err)
			}
		case translation.SynthesisError:
			logging.Warnf("synthesis for %s failed: %s", e.Result.ResultID(), e.Result.FailureReason())
		}
	})
	return err
}

func splitComma(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
