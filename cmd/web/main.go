package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"euphoria-magic/internal/app"
	"euphoria-magic/internal/capture"
	"euphoria-magic/internal/config"
	"euphoria-magic/internal/extension"
	"euphoria-magic/internal/web"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := app.NewLogger(cfg.LogLevel, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("init failed", "err", err)
		os.Exit(1)
	}
	go a.PruneSessions(ctx)

	watcher := capture.NewWatcher(capture.WatcherOptions{
		OnEligible: func(host string, c capture.Candidate) {
			logger.Debug("capture candidate", "host", host, "src", c.Src)
		},
	})
	defer watcher.Stop()

	opts := web.Options{
		Generator: a.Generator,
		Editor:    a.Gemini,
		Sessions:  a.Sessions,
		Router: extension.NewRouter(extension.Options{
			State:     a.State,
			Generator: a.Generator,
			Logger:    logger,
		}),
		State:               a.State,
		Watcher:             watcher,
		Normalizer:          a.Normalizer,
		Video:               a.Video,
		ExtensionArchiveURL: cfg.ExtensionArchiveURL,
		MaxUploadBytes:      cfg.MaxUploadBytes,
		RequestTimeout:      cfg.RequestTimeout,
		Logger:              logger,
	}

	handler, err := web.New(opts).Routes()
	if err != nil {
		logger.Error("routes failed", "err", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.WebAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + time.Minute,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "err", err)
		}
	}()

	logger.Info("web started", "addr", cfg.WebAddr, "fal_key_from_env", cfg.VideoEnabled())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
	logger.Info("shutting down")
}
