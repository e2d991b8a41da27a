package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"google.golang.org/genai"

	"euphoria-magic/internal/imageio"
	"euphoria-magic/internal/prompt"
)

const (
	defaultImageModel = "gemini-2.5-flash-image-preview"
	defaultTextModel  = "gemini-2.0-flash"

	defaultOutputMIME = "image/png"
)

const (
	editDefaultText = "I've processed your request."
	editNoCandidate = "I understand your request, but I wasn't able to generate a modified image. Could you please try rephrasing your request or be more specific about the changes you'd like to make?"
)

// Models is the subset of *genai.Models used here.
type Models interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type Options struct {
	APIKey     string
	BaseURL    string
	APIVersion string
	HTTPClient *http.Client

	ImageModel string
	TextModel  string

	Logger *slog.Logger
}

type Client struct {
	models     Models
	imageModel string
	textModel  string
	logger     *slog.Logger
}

// NewClient builds a Client backed by the Gemini API.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("gemini api key is empty")
	}

	cfg := &genai.ClientConfig{
		APIKey:     opts.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
	}
	if base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"); base != "" {
		cfg.HTTPOptions.BaseURL = base + "/"
	}
	if v := strings.TrimSpace(opts.APIVersion); v != "" {
		cfg.HTTPOptions.APIVersion = v
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return New(client.Models, opts), nil
}

// New wraps an existing Models implementation.
func New(models Models, opts Options) *Client {
	imageModel := strings.TrimSpace(opts.ImageModel)
	if imageModel == "" {
		imageModel = defaultImageModel
	}
	textModel := strings.TrimSpace(opts.TextModel)
	if textModel == "" {
		textModel = defaultTextModel
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		models:     models,
		imageModel: imageModel,
		textModel:  textModel,
		logger:     logger,
	}
}

func imageConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		Temperature:        genai.Ptr[float32](0.7),
		TopK:               genai.Ptr[float32](32),
		TopP:               genai.Ptr[float32](1),
		MaxOutputTokens:    4096,
		ResponseModalities: []string{"IMAGE", "TEXT"},
	}
}

func textConfig(temperature float32, maxTokens int32) *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(temperature),
		TopK:            genai.Ptr[float32](32),
		TopP:            genai.Ptr[float32](1),
		MaxOutputTokens: maxTokens,
	}
}

// Composite sends [label, reference, label, subject, prompt] and returns the
// first generated image as a data URL.
func (c *Client) Composite(ctx context.Context, req CompositeRequest) (string, error) {
	reference, err := req.Reference.Bytes()
	if err != nil {
		return "", fmt.Errorf("reference image: %w", err)
	}
	subject, err := req.Subject.Bytes()
	if err != nil {
		return "", fmt.Errorf("subject image: %w", err)
	}

	parts := []*genai.Part{
		genai.NewPartFromText(prompt.ReferenceLabel),
		genai.NewPartFromBytes(reference, req.Reference.MIMEType),
		genai.NewPartFromText(prompt.PersonLabel(req.Roles)),
		genai.NewPartFromBytes(subject, req.Subject.MIMEType),
		genai.NewPartFromText(req.Prompt),
	}

	resp, err := c.generate(ctx, c.imageModel, parts, imageConfig())
	if err != nil {
		return "", err
	}
	return imageFromResponse(resp)
}

// Edit runs one chat-edit turn. A text-only answer is returned as a result,
// not an error.
func (c *Client) Edit(ctx context.Context, req EditRequest) (EditResult, error) {
	current, err := req.CurrentImage.Bytes()
	if err != nil {
		return EditResult{}, fmt.Errorf("current image: %w", err)
	}
	currentMIME := req.CurrentImage.MIMEType
	if currentMIME == "" {
		currentMIME = defaultOutputMIME
	}

	parts := make([]*genai.Part, 0, len(req.History)+2)
	for _, turn := range req.History {
		parts = append(parts, genai.NewPartFromText(prompt.HistoryLine(turn.Role, turn.Content)))
	}
	parts = append(parts,
		genai.NewPartFromText(prompt.ChatEdit(req.Message, req.Params, req.Roles)),
		genai.NewPartFromBytes(current, currentMIME),
	)

	resp, err := c.generate(ctx, c.imageModel, parts, imageConfig())
	if err != nil {
		return EditResult{}, err
	}

	if resp == nil || len(resp.Candidates) == 0 {
		return EditResult{Text: editNoCandidate}, nil
	}

	result := EditResult{Text: editDefaultText}
	for _, part := range DecodeParts(resp.Candidates[0]) {
		switch p := part.(type) {
		case ImagePart:
			if result.ImageURL == "" {
				result.ImageURL = imageio.FromBytes(p.Data, p.MIMEType).DataURL()
			}
		case TextPart:
			result.Text = p.Text
		}
	}
	return result, nil
}

// VideoPrompt asks the text model for a cinematic motion description of the
// image. The text is returned as produced; callers apply the length cap.
func (c *Client) VideoPrompt(ctx context.Context, image imageio.Payload) (string, error) {
	text, err := c.describe(ctx, image, prompt.VideoMeta, textConfig(0.8, 200))
	if err != nil {
		return "", fmt.Errorf("video prompt: %w", err)
	}
	return text, nil
}

// AnalyzeScene returns a structured description of the image. Unparseable
// model output falls back to a generic scene.
func (c *Client) AnalyzeScene(ctx context.Context, image imageio.Payload) (Scene, error) {
	text, err := c.describe(ctx, image, prompt.SceneAnalysis, textConfig(0.3, 300))
	if err != nil {
		return Scene{}, fmt.Errorf("analyze scene: %w", err)
	}

	var scene Scene
	if err := jsoniter.Unmarshal([]byte(stripCodeFence(text)), &scene); err != nil {
		c.logger.Debug("scene analysis is not json", "error", err)
		return fallbackScene, nil
	}
	return scene, nil
}

func (c *Client) describe(ctx context.Context, image imageio.Payload, instruction string, cfg *genai.GenerateContentConfig) (string, error) {
	raw, err := image.Bytes()
	if err != nil {
		return "", err
	}

	parts := []*genai.Part{
		genai.NewPartFromText(instruction),
		genai.NewPartFromBytes(raw, image.MIMEType),
	}

	resp, err := c.generate(ctx, c.textModel, parts, cfg)
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", errors.New("no response generated")
	}

	for _, part := range DecodeParts(resp.Candidates[0]) {
		if p, ok := part.(TextPart); ok {
			return p.Text, nil
		}
	}
	return "", errors.New("response has no text")
}

func (c *Client) generate(ctx context.Context, model string, parts []*genai.Part, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	if c.models == nil {
		return nil, errors.New("gemini models client is nil")
	}

	started := time.Now()
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	resp, err := c.models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		c.logger.Warn("gemini request failed", "model", model, "duration", time.Since(started), "error", err)
		return nil, fmt.Errorf("gemini %s: %w", model, err)
	}

	candidates := 0
	if resp != nil {
		candidates = len(resp.Candidates)
	}
	c.logger.Debug("gemini request", "model", model, "duration", time.Since(started), "candidates", candidates)
	return resp, nil
}

// DecodeParts maps the candidate's parts onto the closed Part set.
func DecodeParts(candidate *genai.Candidate) []Part {
	if candidate == nil || candidate.Content == nil {
		return nil
	}

	out := make([]Part, 0, len(candidate.Content.Parts))
	for _, p := range candidate.Content.Parts {
		out = append(out, decodePart(p))
	}
	return out
}

func decodePart(p *genai.Part) Part {
	switch {
	case p == nil:
		return UnknownPart{}
	case p.InlineData != nil && len(p.InlineData.Data) > 0:
		mimeType := p.InlineData.MIMEType
		if !strings.HasPrefix(mimeType, "image/") {
			mimeType = defaultOutputMIME
		}
		return ImagePart{MIMEType: mimeType, Data: p.InlineData.Data}
	case p.Text != "" && !p.Thought:
		return TextPart{Text: p.Text}
	default:
		return UnknownPart{}
	}
}

func imageFromResponse(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", ErrNoImageGenerated
	}

	candidate := resp.Candidates[0]
	var text []string
	for _, part := range DecodeParts(candidate) {
		switch p := part.(type) {
		case ImagePart:
			return imageio.FromBytes(p.Data, p.MIMEType).DataURL(), nil
		case TextPart:
			text = append(text, p.Text)
		}
	}

	noImage := &NoImageDataError{Text: strings.TrimSpace(strings.Join(text, " "))}
	if candidate.FinishReason != genai.FinishReasonUnspecified && candidate.FinishReason != genai.FinishReasonStop {
		noImage.FinishReason = string(candidate.FinishReason)
	}
	return "", noImage
}

func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
