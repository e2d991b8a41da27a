// Package extension dispatches the browser extension's action-tagged
// messages. Each action has its own request type and is answered with a
// Response.
package extension

import (
	"euphoria-magic/internal/generate"
	"euphoria-magic/internal/prompt"
	"euphoria-magic/internal/store"
)

type Action string

const (
	ActionSetReferenceImage      Action = "setReferenceImage"
	ActionGetReferenceImage      Action = "getReferenceImage"
	ActionGenerateTransformation Action = "generateTransformation"
	ActionOpenPopup              Action = "openPopup"
	ActionOpenActualPopup        Action = "openActualPopup"
	ActionOpenGenerationPage     Action = "openGenerationPage"
)

// Actions lists every action the router accepts.
var Actions = []Action{
	ActionSetReferenceImage,
	ActionGetReferenceImage,
	ActionGenerateTransformation,
	ActionOpenPopup,
	ActionOpenActualPopup,
	ActionOpenGenerationPage,
}

func (a Action) Valid() bool {
	for _, known := range Actions {
		if a == known {
			return true
		}
	}
	return false
}

// Pages the extension opens in a new tab.
const (
	PageGeneration = "generation.html"
	PagePopup      = "popup.html"
)

const errUnknownAction = "Unknown action"

type envelope struct {
	Action Action `json:"action"`
}

type SetReferenceImageRequest struct {
	ImageURL  string `json:"imageUrl"`
	PageURL   string `json:"pageUrl"`
	PageTitle string `json:"pageTitle"`
}

type GenerateTransformationRequest struct {
	ReferenceImage      string `json:"referenceImage"`
	CharacterImage      string `json:"characterImage"`
	PreserveClothing    bool   `json:"preserveClothing"`
	PreserveAccessories bool   `json:"preserveAccessories"`
	PreserveExpression  bool   `json:"preserveExpression"`
	CopyPose            bool   `json:"copyPose"`
	CustomInstructions  string `json:"customInstructions"`
}

func (r GenerateTransformationRequest) Params() prompt.Params {
	return prompt.Params{
		PreserveClothing:    r.PreserveClothing,
		PreserveAccessories: r.PreserveAccessories,
		PreserveExpression:  r.PreserveExpression,
		CopyPose:            r.CopyPose,
		CustomInstructions:  r.CustomInstructions,
	}
}

type OpenGenerationPageRequest struct {
	Data struct {
		ReferenceImage string `json:"referenceImage"`
		CharacterImage string `json:"characterImage,omitempty"`
	} `json:"data"`
}

// Response is the reply for every action. Only the fields that belong to the
// action are set.
type Response struct {
	Success        bool                  `json:"success"`
	Error          string                `json:"error,omitempty"`
	ReferenceImage *store.ReferenceImage `json:"referenceImage,omitempty"`
	Result         *generate.Result      `json:"result,omitempty"`
	Open           string                `json:"open,omitempty"`
}

func failure(err error) Response {
	return Response{Success: false, Error: err.Error()}
}
