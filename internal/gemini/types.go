package gemini

import (
	"errors"
	"fmt"

	"euphoria-magic/internal/imageio"
	"euphoria-magic/internal/prompt"
)

var (
	// ErrNoImageGenerated means the model returned zero candidates.
	ErrNoImageGenerated = errors.New("no image generated")
	// ErrNoImageData means a candidate came back without an image part.
	ErrNoImageData = errors.New("no image data in response")
)

// NoImageDataError carries whatever the model said instead of an image.
type NoImageDataError struct {
	Text         string
	FinishReason string
}

func (e *NoImageDataError) Error() string {
	msg := ErrNoImageData.Error()
	if e.FinishReason != "" {
		msg += fmt.Sprintf(" (finish reason: %s)", e.FinishReason)
	}
	if e.Text != "" {
		msg += ": " + e.Text
	}
	return msg
}

func (e *NoImageDataError) Is(target error) bool {
	return target == ErrNoImageData
}

// Part is one decoded response part. Exactly one of ImagePart, TextPart or
// UnknownPart is produced for every provider part.
type Part interface {
	isPart()
}

type ImagePart struct {
	MIMEType string
	Data     []byte
}

type TextPart struct {
	Text string
}

type UnknownPart struct{}

func (ImagePart) isPart()   {}
func (TextPart) isPart()    {}
func (UnknownPart) isPart() {}

type CompositeRequest struct {
	Reference imageio.Payload
	Subject   imageio.Payload
	Prompt    string
	Roles     prompt.Roles
}

// Turn is a prior chat message. Only its text is sent back to the model.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type EditRequest struct {
	Message      string
	CurrentImage imageio.Payload
	History      []Turn
	Params       prompt.Params
	Roles        prompt.Roles
}

// EditResult is the outcome of one chat edit. ImageURL is empty when the
// model answered with text only.
type EditResult struct {
	Text     string
	ImageURL string
}

func (r EditResult) HasImage() bool {
	return r.ImageURL != ""
}

// Scene is the structured analysis of an image used to seed video prompts.
type Scene struct {
	Description string `json:"description"`
	Setting     string `json:"setting"`
	Character   string `json:"character"`
	Mood        string `json:"mood"`
}

var fallbackScene = Scene{
	Description: "Generated image analysis",
	Setting:     "Dynamic environment",
	Character:   "Main subject",
	Mood:        "Engaging and cinematic",
}
