package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/liuscraft/orion-translate/internal/app"
	"github.com/liuscraft/orion-translate/internal/audio"
	"github.com/liuscraft/orion-translate/internal/config"
	"github.com/liuscraft/orion-translate/internal/keyword"
	"github.com/liuscraft/orion-translate/internal/logging"
	"github.com/liuscraft/orion-translate/internal/server"
	"github.com/liuscraft/orion-translate/internal/translation"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", config.DefaultPath, "config file path")
	addr := flag.String("addr", "", "listen address, overrides config")
	flag.Parse()

	appConfig, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		appConfig.Server.Addr = *addr
	}
	if err := appConfig.ValidateKeys(appConfig.UsesDashScope(), appConfig.SynthesisEnabled(), appConfig.Engine.LLMFallback); err != nil {
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

	var model *keyword.Model
	if appConfig.Keyword.ModelPath != "" || len(appConfig.Keyword.Phrases) > 0 {
		model, err = app.KeywordModel(appConfig.Keyword)
		if err != nil {
			logging.Fatalf("Failed to load keyword model: %v", err)
		}
	}

	factory := func(ctx context.Context, cfg translation.Config, open audio.Opener) (*translation.Session, error) {
		return app.NewSession(ctx, appConfig, cfg, open)
	}
	srv := server.New(factory, server.Options{
		Defaults:  appConfig.Session.Translation(),
		Keyword:   model,
		ReadLimit: appConfig.Server.ReadLimit,
	})
	httpServer := &http.Server{
		Addr:              appConfig.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logging.Infof("translate server listening on %s (engine=%s)", appConfig.Server.Addr, appConfig.Engine.Provider)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logging.Fatalf("Server failed: %v", err)
		}
	case <-ctx.Done():
		logging.Infof("shutting down...")
	}

	srv.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logging.Warnf("http shutdown: %v", err)
	}
}
