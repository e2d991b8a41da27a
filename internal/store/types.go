package store

import (
	"euphoria-magic/internal/prompt"
)

const (
	KeyReferenceImage        = "referenceImage"
	KeyAPIKeys               = "apiKeys"
	KeySettings              = "settings"
	KeyTransformationHistory = "transformationHistory"
	KeyRecentFaces           = "recentFaces"
	KeyPendingGeneration     = "pendingGeneration"
)

const (
	MaxHistory     = 10
	MaxRecentFaces = 5

	// MaskedKey is what clients see in place of a stored API key.
	MaskedKey = "••••••••••••••••"
)

// ReferenceImage is the scene image picked on a web page. Timestamp is Unix
// milliseconds.
type ReferenceImage struct {
	URL       string `json:"url"`
	PageURL   string `json:"pageUrl"`
	PageTitle string `json:"pageTitle"`
	Timestamp int64  `json:"timestamp"`
}

type APIKeys struct {
	GeminiAPIKey string `json:"geminiApiKey,omitempty"`
	FalAPIKey    string `json:"falApiKey,omitempty"`
}

func (k APIKeys) Masked() APIKeys {
	var out APIKeys
	if k.GeminiAPIKey != "" {
		out.GeminiAPIKey = MaskedKey
	}
	if k.FalAPIKey != "" {
		out.FalAPIKey = MaskedKey
	}
	return out
}

type Settings struct {
	AutoDetect     bool   `json:"autoDetect"`
	ButtonPosition string `json:"buttonPosition"`
	Theme          string `json:"theme"`
}

func DefaultSettings() Settings {
	return Settings{AutoDetect: true, ButtonPosition: "top-right", Theme: "default"}
}

type HistoryEntry struct {
	Timestamp int64         `json:"timestamp"`
	Params    prompt.Params `json:"params"`
	Prompt    string        `json:"prompt"`
	Images    []string      `json:"images"`
}

type RecentFace struct {
	ID         string `json:"id"`
	ImageURL   string `json:"imageUrl"`
	Thumbnail  string `json:"thumbnail"`
	UploadedAt int64  `json:"uploadedAt"`
}

// PendingGeneration is handed from the page that picked the images to the
// page that runs the generation.
type PendingGeneration struct {
	ReferenceImage string `json:"referenceImage"`
	CharacterImage string `json:"characterImage,omitempty"`
	Timestamp      int64  `json:"timestamp"`
}
