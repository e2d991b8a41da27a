package web

import (
	"errors"
	"net/http"
	"strings"

	"euphoria-magic/internal/gemini"
	"euphoria-magic/internal/generate"
	"euphoria-magic/internal/imageio"
	"euphoria-magic/internal/prompt"
)

type generateResponse struct {
	Success bool     `json:"success"`
	Images  []string `json:"images"`
	Prompt  string   `json:"prompt"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form", err)
		return
	}

	reference, err := formImage(r, "referenceImage")
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read reference image", err)
		return
	}

	roles := prompt.RolesFor(r.FormValue("roles"))
	subject, err := formImage(r, "subjectImage")
	if err == nil && subject.Empty() {
		subject, err = formImage(r, "characterImage")
		if !subject.Empty() && strings.TrimSpace(r.FormValue("roles")) == "" {
			roles = prompt.CharacterRoles
		}
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read subject image", err)
		return
	}

	if reference.Empty() || subject.Empty() {
		writeError(w, http.StatusBadRequest, "Both reference and subject images are required", nil)
		return
	}

	params, err := formParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid params", err)
		return
	}

	if s.generator == nil {
		writeError(w, http.StatusServiceUnavailable, "generation is not configured", nil)
		return
	}

	ctx, cancel := s.withTimeout(r)
	defer cancel()

	result, err := s.generator.Generate(ctx, generate.Input{
		Reference: reference,
		Subject:   subject,
		Params:    params,
		Roles:     roles,
	})
	if err != nil {
		if errors.Is(err, generate.ErrUserInput) {
			writeError(w, http.StatusBadRequest, "Both reference and subject images are required", nil)
			return
		}
		s.logger.Error("generate failed", "err", err)
		writeError(w, statusFor(err), "Failed to generate image", err)
		return
	}

	writeJSON(w, http.StatusOK, generateResponse{Success: true, Images: result.Images, Prompt: result.Prompt})
}

// formImage reads an uploaded file under field. A plain form value with the
// same name is taken as an image URL or data URL.
func formImage(r *http.Request, field string) (imageio.Source, error) {
	file, header, err := r.FormFile(field)
	if err == nil {
		defer file.Close()
		payload, err := imageio.FromReader(file, header.Header.Get("Content-Type"))
		if err != nil {
			return imageio.Source{}, err
		}
		return imageio.Source{Payload: payload}, nil
	}
	if !errors.Is(err, http.ErrMissingFile) {
		return imageio.Source{}, err
	}

	if v := strings.TrimSpace(r.FormValue(field)); v != "" {
		return imageio.Source{URL: v}, nil
	}
	return imageio.Source{}, nil
}

// formParams accepts either a "params" JSON field or the flat fields the
// extension posts.
func formParams(r *http.Request) (prompt.Params, error) {
	var p prompt.Params
	if raw := strings.TrimSpace(r.FormValue("params")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return prompt.Params{}, err
		}
		return p, nil
	}
	p.PreserveClothing = parseBool(r.FormValue("preserveClothing"))
	p.PreserveAccessories = parseBool(r.FormValue("preserveAccessories"))
	p.PreserveExpression = parseBool(r.FormValue("preserveExpression"))
	p.CopyPose = parseBool(r.FormValue("copyPose"))
	p.CustomInstructions = strings.TrimSpace(r.FormValue("customInstructions"))
	return p, nil
}

func parseBool(value string) bool {
	value = strings.TrimSpace(strings.ToLower(value))
	return value == "1" || value == "true" || value == "yes" || value == "on"
}

type chatEditRequest struct {
	Message             string        `json:"message"`
	CurrentImageURL     string        `json:"currentImageUrl"`
	ConversationHistory []gemini.Turn `json:"conversationHistory"`
	Params              prompt.Params `json:"params"`
}

type chatEditResponse struct {
	Success     bool    `json:"success"`
	Response    string  `json:"response"`
	NewImageURL *string `json:"newImageUrl"`
}

// handleChatEdit is the stateless edit turn: the caller owns the history and
// the current image.
func (s *Server) handleChatEdit(w http.ResponseWriter, r *http.Request) {
	var req chatEditRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" || strings.TrimSpace(req.CurrentImageURL) == "" {
		writeError(w, http.StatusBadRequest, "Message and current image URL are required", nil)
		return
	}
	mimeType, data, err := imageio.ParseDataURL(req.CurrentImageURL)
	if err != nil || data == "" {
		writeError(w, http.StatusBadRequest, "Invalid image data", err)
		return
	}
	if s.editor == nil {
		writeError(w, http.StatusServiceUnavailable, "chat edit is not configured", nil)
		return
	}

	ctx, cancel := s.withTimeout(r)
	defer cancel()

	result, err := s.editor.Edit(ctx, gemini.EditRequest{
		Message:      req.Message,
		CurrentImage: imageio.Payload{Data: data, MIMEType: mimeType},
		History:      req.ConversationHistory,
		Params:       req.Params,
		Roles:        prompt.SubjectRoles,
	})
	if err != nil {
		s.logger.Error("chat edit failed", "err", err)
		writeError(w, statusFor(err), "Failed to process edit request", err)
		return
	}

	out := chatEditResponse{Success: true, Response: result.Text}
	if result.HasImage() {
		out.NewImageURL = &result.ImageURL
	}
	writeJSON(w, http.StatusOK, out)
}
