package extension

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"euphoria-magic/internal/generate"
	"euphoria-magic/internal/imageio"
	"euphoria-magic/internal/prompt"
	"euphoria-magic/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type State interface {
	SetReference(ctx context.Context, ref store.ReferenceImage) (store.ReferenceImage, error)
	Reference(ctx context.Context) (store.ReferenceImage, bool, error)
	SetPending(ctx context.Context, pending store.PendingGeneration) (store.PendingGeneration, error)
}

type Generator interface {
	Generate(ctx context.Context, in generate.Input) (generate.Result, error)
}

type Options struct {
	State     State
	Generator Generator
	Logger    *slog.Logger
}

type Router struct {
	state     State
	generator Generator
	logger    *slog.Logger
}

func NewRouter(opts Options) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Router{
		state:     opts.State,
		generator: opts.Generator,
		logger:    logger,
	}
}

// Dispatch decodes one raw message and runs its action. Failures are folded
// into the Response; Dispatch itself never fails.
func (r *Router) Dispatch(ctx context.Context, raw []byte) Response {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return failure(fmt.Errorf("decode message: %w", err))
	}
	if !env.Action.Valid() {
		r.logger.Warn("unknown extension action", "action", env.Action)
		return Response{Success: false, Error: errUnknownAction}
	}

	resp, err := r.dispatch(ctx, env.Action, raw)
	if err != nil {
		r.logger.Warn("extension action failed", "action", env.Action, "error", err)
		return failure(err)
	}
	return resp
}

func (r *Router) dispatch(ctx context.Context, action Action, raw []byte) (Response, error) {
	switch action {
	case ActionSetReferenceImage:
		var req SetReferenceImageRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return Response{}, err
		}
		return r.SetReferenceImage(ctx, req)
	case ActionGetReferenceImage:
		return r.GetReferenceImage(ctx)
	case ActionGenerateTransformation:
		var req GenerateTransformationRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return Response{}, err
		}
		return r.GenerateTransformation(ctx, req)
	case ActionOpenPopup:
		return r.OpenPopup(ctx)
	case ActionOpenActualPopup:
		return Response{Success: true, Open: PagePopup}, nil
	case ActionOpenGenerationPage:
		var req OpenGenerationPageRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return Response{}, err
		}
		return r.OpenGenerationPage(ctx, req)
	}
	return Response{Success: false, Error: errUnknownAction}, nil
}

func (r *Router) SetReferenceImage(ctx context.Context, req SetReferenceImageRequest) (Response, error) {
	if strings.TrimSpace(req.ImageURL) == "" {
		return Response{}, errors.New("imageUrl is required")
	}
	ref, err := r.state.SetReference(ctx, store.ReferenceImage{
		URL:       req.ImageURL,
		PageURL:   req.PageURL,
		PageTitle: req.PageTitle,
	})
	if err != nil {
		return Response{}, err
	}
	return Response{Success: true, ReferenceImage: &ref}, nil
}

func (r *Router) GetReferenceImage(ctx context.Context) (Response, error) {
	ref, ok, err := r.state.Reference(ctx)
	if err != nil {
		return Response{}, err
	}
	resp := Response{Success: true}
	if ok {
		resp.ReferenceImage = &ref
	}
	return resp, nil
}

func (r *Router) GenerateTransformation(ctx context.Context, req GenerateTransformationRequest) (Response, error) {
	if r.generator == nil {
		return Response{}, errors.New("generation is not configured")
	}
	result, err := r.generator.Generate(ctx, generate.Input{
		Reference: imageio.Source{URL: strings.TrimSpace(req.ReferenceImage)},
		Subject:   imageio.Source{URL: strings.TrimSpace(req.CharacterImage)},
		Params:    req.Params(),
		Roles:     prompt.CharacterRoles,
	})
	if err != nil {
		return Response{}, err
	}
	return Response{Success: true, Result: &result}, nil
}

// OpenPopup hands the current reference image to the generation page.
func (r *Router) OpenPopup(ctx context.Context) (Response, error) {
	ref, _, err := r.state.Reference(ctx)
	if err != nil {
		return Response{}, err
	}
	if _, err := r.state.SetPending(ctx, store.PendingGeneration{ReferenceImage: ref.URL}); err != nil {
		return Response{}, err
	}
	return Response{Success: true, Open: PageGeneration}, nil
}

func (r *Router) OpenGenerationPage(ctx context.Context, req OpenGenerationPageRequest) (Response, error) {
	_, err := r.state.SetPending(ctx, store.PendingGeneration{
		ReferenceImage: req.Data.ReferenceImage,
		CharacterImage: req.Data.CharacterImage,
	})
	if err != nil {
		return Response{}, err
	}
	return Response{Success: true, Open: PageGeneration}, nil
}
