// Package generate runs the two-variation composite: one prompt, two
// concurrent model calls, both must succeed.
package generate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"euphoria-magic/internal/gemini"
	"euphoria-magic/internal/imageio"
	"euphoria-magic/internal/prompt"
	"euphoria-magic/internal/store"
)

// ErrUserInput marks requests that are missing an image.
var ErrUserInput = errors.New("both reference and subject images are required")

type Compositor interface {
	Composite(ctx context.Context, req gemini.CompositeRequest) (string, error)
}

type HistoryRecorder interface {
	AppendHistory(ctx context.Context, entry store.HistoryEntry) error
}

type Options struct {
	Compositor Compositor
	Normalizer *imageio.Normalizer
	History    HistoryRecorder
	Logger     *slog.Logger
}

type Service struct {
	compositor Compositor
	normalizer *imageio.Normalizer
	history    HistoryRecorder
	logger     *slog.Logger
}

func New(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	normalizer := opts.Normalizer
	if normalizer == nil {
		normalizer = imageio.New(nil)
	}
	return &Service{
		compositor: opts.Compositor,
		normalizer: normalizer,
		history:    opts.History,
		logger:     logger,
	}
}

type Input struct {
	Reference imageio.Source
	Subject   imageio.Source
	Params    prompt.Params
	Roles     prompt.Roles
}

type Result struct {
	Images []string `json:"images"`
	Prompt string   `json:"prompt"`
}

// Generate returns exactly two images or an error. When either call fails the
// other one is cancelled and nothing is returned.
func (s *Service) Generate(ctx context.Context, in Input) (Result, error) {
	if in.Reference.Empty() || in.Subject.Empty() {
		return Result{}, ErrUserInput
	}
	if s.compositor == nil {
		return Result{}, errors.New("compositor is nil")
	}

	reference, err := s.normalizer.Resolve(ctx, in.Reference)
	if err != nil {
		return Result{}, fmt.Errorf("reference image: %w", err)
	}
	subject, err := s.normalizer.Resolve(ctx, in.Subject)
	if err != nil {
		return Result{}, fmt.Errorf("subject image: %w", err)
	}

	base := prompt.Generation(in.Params, in.Roles)
	started := time.Now()

	var images [len(prompt.Variations)]string
	g, gctx := errgroup.WithContext(ctx)
	for i, variation := range prompt.Variations {
		g.Go(func() error {
			img, err := s.compositor.Composite(gctx, gemini.CompositeRequest{
				Reference: reference,
				Subject:   subject,
				Prompt:    prompt.WithVariation(base, variation),
				Roles:     in.Roles,
			})
			if err != nil {
				return fmt.Errorf("variation %d: %w", i+1, err)
			}
			images[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Warn("generation failed", "duration", time.Since(started), "error", err)
		return Result{}, err
	}

	result := Result{Images: images[:], Prompt: base}
	s.logger.Info("generation done", "duration", time.Since(started))

	if s.history != nil {
		entry := store.HistoryEntry{Params: in.Params, Prompt: base, Images: result.Images}
		if err := s.history.AppendHistory(ctx, entry); err != nil {
			s.logger.Warn("record history failed", "error", err)
		}
	}
	return result, nil
}
