// Package app wires the services shared by the web server, the Telegram bot
// and the command line tool.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/mattn/go-isatty"

	"euphoria-magic/internal/config"
	"euphoria-magic/internal/fal"
	"euphoria-magic/internal/gemini"
	"euphoria-magic/internal/generate"
	"euphoria-magic/internal/httpclient"
	"euphoria-magic/internal/imageio"
	"euphoria-magic/internal/session"
	"euphoria-magic/internal/store"
	"euphoria-magic/internal/video"
)

const (
	sessionIdle   = time.Hour
	pruneInterval = 5 * time.Minute
)

type App struct {
	Config config.Config
	// HTTPClient talks to the model providers and Telegram.
	HTTPClient *http.Client
	// FetchClient downloads caller-supplied image URLs.
	FetchClient *http.Client
	Normalizer  *imageio.Normalizer
	Gemini      *gemini.Client
	State       *store.Store
	Generator   *generate.Service
	Sessions    *session.Store
	// Video resolves its Fal.ai key per request, from FAL_API_KEY first and
	// the keys saved through /api/keys second.
	Video  *video.Pipeline
	Logger *slog.Logger
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	httpClient := httpclient.New(httpclient.Options{
		PreferIPv4:           cfg.PreferIPv4,
		Timeout:              cfg.HTTPTimeout,
		AllowPrivateNetworks: true,
	})
	fetchClient := httpclient.New(httpclient.Options{
		PreferIPv4:           cfg.PreferIPv4,
		Timeout:              cfg.HTTPTimeout,
		AllowPrivateNetworks: cfg.AllowPrivateFetch,
	})
	normalizer := imageio.New(fetchClient)

	st, err := store.Open(ctx, store.Options{URL: cfg.StateURL, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("state store: %w", err)
	}

	geminiKey := cfg.GeminiAPIKey
	if geminiKey == "" {
		stored, err := st.APIKeys(ctx)
		if err != nil {
			return nil, fmt.Errorf("load stored api keys: %w", err)
		}
		geminiKey = stored.GeminiAPIKey
		if geminiKey != "" {
			logger.Info("using gemini api key saved in state store")
		}
	}
	if geminiKey == "" {
		return nil, errors.New("GEMINI_API_KEY is required (or save one through /api/keys)")
	}

	gem, err := gemini.NewClient(ctx, gemini.Options{
		APIKey:     geminiKey,
		BaseURL:    cfg.GeminiBaseURL,
		APIVersion: cfg.GeminiAPIVersion,
		HTTPClient: httpClient,
		ImageModel: cfg.GeminiImageModel,
		TextModel:  cfg.GeminiTextModel,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}

	falClient, err := fal.New(fal.Options{
		APIKey: cfg.FalAPIKey,
		KeySource: func(ctx context.Context) (string, error) {
			keys, err := st.APIKeys(ctx)
			return keys.FalAPIKey, err
		},
		BaseURL:      cfg.FalBaseURL,
		Model:        cfg.FalVideoModel,
		PollInterval: cfg.FalPollInterval,
		HTTPClient:   httpClient,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("fal: %w", err)
	}
	if !cfg.VideoEnabled() {
		logger.Info("FAL_API_KEY not set, video uses the key saved through /api/keys")
	}

	return &App{
		Config:      cfg,
		HTTPClient:  httpClient,
		FetchClient: fetchClient,
		Normalizer:  normalizer,
		Gemini:      gem,
		State:       st,
		Generator: generate.New(generate.Options{
			Compositor: gem,
			Normalizer: normalizer,
			History:    st,
			Logger:     logger,
		}),
		Sessions: session.NewStore(session.Options{
			Editor: gem,
			Logger: logger,
		}),
		Video: video.NewPipeline(video.Options{
			Prompter:   gem,
			Generator:  falClient,
			Normalizer: normalizer,
			Logger:     logger,
		}),
		Logger: logger,
	}, nil
}

// PruneSessions drops idle chat-edit sessions until ctx is done.
func (a *App) PruneSessions(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.Sessions.Prune(sessionIdle); n > 0 {
				a.Logger.Info("pruned idle sessions", "count", n)
			}
		}
	}
}

// NewLogger writes text to terminals and JSON everywhere else.
func NewLogger(level string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
