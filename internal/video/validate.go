package video

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"euphoria-magic/internal/imageio"
	"euphoria-magic/internal/prompt"
)

// Limits are the provider-declared bounds for a video request.
type Limits struct {
	MinDuration       int
	MaxDuration       int
	DefaultDuration   int
	Resolutions       []string
	DefaultResolution string
	MaxPromptChars    int
}

func DefaultLimits() Limits {
	return Limits{
		MinDuration:       1,
		MaxDuration:       10,
		DefaultDuration:   6,
		Resolutions:       []string{"720p", "1080p", "480p"},
		DefaultResolution: "720p",
		MaxPromptChars:    prompt.MaxVideoPromptChars,
	}
}

type Params struct {
	ImageURL   string `json:"imageUrl"`
	Prompt     string `json:"prompt"`
	Duration   int    `json:"duration"`
	Resolution string `json:"resolution"`
}

// WithDefaults fills a zero duration and an empty resolution.
func (l Limits) WithDefaults(p Params) Params {
	if p.Duration == 0 {
		p.Duration = l.DefaultDuration
	}
	if strings.TrimSpace(p.Resolution) == "" {
		p.Resolution = l.DefaultResolution
	}
	return p
}

type Validation struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// Validate checks every rule and reports all failures together.
func (l Limits) Validate(p Params) Validation {
	errs := []string{}

	if !imageio.IsDataURL(p.ImageURL) && !imageio.IsHTTPURL(p.ImageURL) {
		errs = append(errs, "Valid image URL is required")
	}

	if strings.TrimSpace(p.Prompt) == "" {
		errs = append(errs, "Video prompt is required")
	}
	if utf8.RuneCountInString(p.Prompt) > l.MaxPromptChars {
		errs = append(errs, fmt.Sprintf("Prompt must be %d characters or less", l.MaxPromptChars))
	}

	if p.Duration < l.MinDuration || p.Duration > l.MaxDuration {
		errs = append(errs, fmt.Sprintf("Duration must be between %d and %d seconds", l.MinDuration, l.MaxDuration))
	}

	if !slices.Contains(l.Resolutions, p.Resolution) {
		errs = append(errs, "Resolution must be one of: "+strings.Join(l.Resolutions, ", "))
	}

	return Validation{Valid: len(errs) == 0, Errors: errs}
}

type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return "invalid video parameters: " + strings.Join(e.Errors, "; ")
}

// TruncatePrompt hard-cuts text longer than max characters to max-3 plus "...".
func TruncatePrompt(text string, max int) string {
	if max <= 3 || utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)
	return string(runes[:max-3]) + "..."
}
