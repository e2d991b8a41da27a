// Package prompt assembles the instruction text sent to the image model.
// Every function here is pure: the same inputs always produce the same string.
package prompt

import (
	"fmt"
	"strings"
)

// Params are the user toggles for one generation or edit call.
type Params struct {
	PreserveClothing    bool   `json:"preserveClothing"`
	PreserveAccessories bool   `json:"preserveAccessories"`
	PreserveExpression  bool   `json:"preserveExpression"`
	CopyPose            bool   `json:"copyPose"`
	CustomInstructions  string `json:"customInstructions,omitempty"`
}

// Roles names the person image in the prompt. The web app calls it SUBJECT,
// the browser extension calls it CHARACTER.
type Roles struct {
	Upper string
	Lower string
}

var (
	SubjectRoles   = Roles{Upper: "SUBJECT", Lower: "subject"}
	CharacterRoles = Roles{Upper: "CHARACTER", Lower: "character"}
)

func (r Roles) orDefault() Roles {
	if strings.TrimSpace(r.Upper) == "" {
		return SubjectRoles
	}
	if strings.TrimSpace(r.Lower) == "" {
		r.Lower = strings.ToLower(r.Upper)
	}
	return r
}

// RolesFor maps a client-supplied name ("character", "subject") to Roles.
func RolesFor(name string) Roles {
	if strings.EqualFold(strings.TrimSpace(name), CharacterRoles.Lower) {
		return CharacterRoles
	}
	return SubjectRoles
}

const (
	ReferenceLabel = "REFERENCE IMAGE (the scene/environment to copy):"

	closingClause = " Ensure seamless integration with proper lighting, shadows, and perspective matching the REFERENCE IMAGE environment."
)

// Variations are appended one per request in two-variation generation.
var Variations = [2]string{
	"Keep the pose natural and relaxed with a slight smile.",
	"Use a more confident pose with a different facial expression or head tilt.",
}

func PersonLabel(r Roles) string {
	r = r.orDefault()
	return fmt.Sprintf("%s IMAGE (the person to place in the scene):", r.Upper)
}

// Generation builds the replace-and-relight prompt for the initial composite.
func Generation(p Params, r Roles) string {
	r = r.orDefault()

	var b strings.Builder
	fmt.Fprintf(&b,
		"Replace the person in the REFERENCE IMAGE (first image) with the person in the %[1]s IMAGE (second image). "+
			"Relight the %[1]s to blend in with the ambience, and replace its attire, accessories and pose as per its gender and age group. "+
			"Preserve the %[2]s's skin tone, facial features and structure, hairstyle, body physique etc.",
		r.Upper, r.Lower)

	writeModifiers(&b, p, r)
	b.WriteString(closingClause)
	return b.String()
}

// ChatEdit builds the instruction for one chat-edit turn. The user message is
// quoted verbatim. No closing clause is added on this path.
func ChatEdit(message string, p Params, r Roles) string {
	r = r.orDefault()

	var b strings.Builder
	fmt.Fprintf(&b,
		"I have an AI-generated image that was created by replacing a person from a REFERENCE IMAGE with a person from a %s IMAGE. "+
			"The person was relit to blend with the ambience and their attire, accessories and pose were adjusted. "+
			"Please help me modify this CURRENT IMAGE based on my request: \"%s\". "+
			"Apply the requested changes while maintaining overall quality and coherence. "+
			"Make modifications natural and well-integrated. "+
			"If unclear or impossible, provide a helpful explanation instead.",
		r.Upper, message)

	writeModifiers(&b, p, r)
	return b.String()
}

func writeModifiers(b *strings.Builder, p Params, r Roles) {
	var keep []string
	if p.PreserveClothing {
		keep = append(keep, fmt.Sprintf("preserve the clothing style from the %s IMAGE", r.Upper))
	}
	if p.PreserveAccessories {
		keep = append(keep, fmt.Sprintf("preserve accessories from the %s IMAGE", r.Upper))
	}
	if p.PreserveExpression {
		keep = append(keep, fmt.Sprintf("preserve the facial expression from the %s IMAGE", r.Upper))
	}
	if len(keep) > 0 {
		fmt.Fprintf(b, " However, %s.", strings.Join(keep, ", "))
	}

	if p.CopyPose {
		fmt.Fprintf(b, " Replicate the pose, posture, and orientation of the person in the REFERENCE IMAGE exactly, while applying it to the %s.", r.Upper)
	}

	if custom := strings.TrimSpace(p.CustomInstructions); custom != "" {
		fmt.Fprintf(b, " Additional requirements: %s.", custom)
	}
}

func WithVariation(base, variation string) string {
	return base + " " + variation
}

// HistoryLine renders one prior chat turn as "role: content".
func HistoryLine(role, content string) string {
	return role + ": " + content
}

// MaxVideoPromptChars caps the motion description handed to the video model.
const MaxVideoPromptChars = 600

const VideoMeta = `Analyze this generated image and create a cinematic video prompt that will make the person or character come alive in a 6-second video. The prompt should:

1. Describe natural movements that would make the character appear to be "going live"
2. Include environmental interactions (walking, gesturing, interacting with surroundings)
3. Add cinematic elements like camera movements or lighting changes
4. Keep the character's appearance and style consistent
5. Make it feel dynamic and engaging
6. Limit to 600 characters maximum

Focus on creating a prompt that would work well for image-to-video generation, making the scene feel alive and cinematic while maintaining the original character's essence.

Return only the video prompt, nothing else.`

const SceneAnalysis = `Analyze this image and provide a structured analysis for video generation:

1. Description: Brief description of what's happening in the image
2. Setting: The environment/background/location
3. Character: Description of the main person/character
4. Mood: The overall mood/atmosphere

Format your response as JSON with these exact keys: description, setting, character, mood`
