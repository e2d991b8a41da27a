// Package video turns a finished composite into a short clip: a text model
// writes the motion prompt, then the video model animates the image.
package video

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"euphoria-magic/internal/fal"
	"euphoria-magic/internal/imageio"
)

var ErrNoVideoURL = errors.New("no video URL returned")

type Prompter interface {
	VideoPrompt(ctx context.Context, image imageio.Payload) (string, error)
}

type Generator interface {
	GenerateVideo(ctx context.Context, req fal.VideoRequest) (fal.VideoResult, error)
}

type Options struct {
	Prompter   Prompter
	Generator  Generator
	Normalizer *imageio.Normalizer
	Limits     *Limits
	Logger     *slog.Logger
}

type Pipeline struct {
	prompter   Prompter
	generator  Generator
	normalizer *imageio.Normalizer
	limits     Limits
	logger     *slog.Logger
}

func NewPipeline(opts Options) *Pipeline {
	limits := DefaultLimits()
	if opts.Limits != nil {
		limits = *opts.Limits
	}
	normalizer := opts.Normalizer
	if normalizer == nil {
		normalizer = imageio.New(nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pipeline{
		prompter:   opts.Prompter,
		generator:  opts.Generator,
		normalizer: normalizer,
		limits:     limits,
		logger:     logger,
	}
}

func (p *Pipeline) Limits() Limits {
	return p.limits
}

// Input is the image to animate. A non-empty Prompt skips the prompt stage.
type Input struct {
	Image      imageio.Source
	Prompt     string
	Duration   int
	Resolution string
}

type Result struct {
	VideoURL string `json:"videoUrl"`
	Prompt   string `json:"prompt"`
}

// Run executes the stages in order. Any failure aborts with no partial result.
func (p *Pipeline) Run(ctx context.Context, in Input) (Result, error) {
	if in.Image.Empty() {
		return Result{}, &ValidationError{Errors: []string{"Valid image URL is required"}}
	}
	if p.generator == nil {
		return Result{}, errors.New("video generator is not configured")
	}

	imageURL := strings.TrimSpace(in.Image.URL)
	if imageURL == "" {
		imageURL = in.Image.Payload.DataURL()
	}

	motion := strings.TrimSpace(in.Prompt)
	if motion == "" {
		if p.prompter == nil {
			return Result{}, errors.New("video prompter is not configured")
		}
		image, err := p.normalizer.Resolve(ctx, in.Image)
		if err != nil {
			return Result{}, fmt.Errorf("load image: %w", err)
		}
		motion, err = p.prompter.VideoPrompt(ctx, image)
		if err != nil {
			return Result{}, err
		}
		motion = TruncatePrompt(strings.TrimSpace(motion), p.limits.MaxPromptChars)
	}

	params := p.limits.WithDefaults(Params{
		ImageURL:   imageURL,
		Prompt:     motion,
		Duration:   in.Duration,
		Resolution: in.Resolution,
	})
	if v := p.limits.Validate(params); !v.Valid {
		return Result{}, &ValidationError{Errors: v.Errors}
	}

	started := time.Now()
	out, err := p.generator.GenerateVideo(ctx, fal.VideoRequest{
		ImageURL:   params.ImageURL,
		Prompt:     params.Prompt,
		Duration:   params.Duration,
		Resolution: params.Resolution,
	})
	if err != nil {
		return Result{}, fmt.Errorf("generate video: %w", err)
	}
	if out.VideoURL() == "" {
		return Result{}, ErrNoVideoURL
	}

	p.logger.Info("video generated", "duration", time.Since(started), "resolution", params.Resolution, "seconds", params.Duration)
	return Result{VideoURL: out.VideoURL(), Prompt: params.Prompt}, nil
}
