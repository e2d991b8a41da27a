package web

import (
	"io"
	"net/http"
	"strconv"

	"euphoria-magic/internal/store"
)

const extensionFileName = "euphoria-extension.zip"

func (s *Server) handleDownloadExtension(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.archiveURL == "" {
		writeJSON(w, http.StatusNotFound, apiError{Error: "Extension file not found"})
		return
	}

	exists, err := s.fs.Exists(ctx, s.archiveURL)
	if err != nil || !exists {
		if err != nil {
			s.logger.Warn("extension archive check failed", "url", s.archiveURL, "err", err)
		}
		writeJSON(w, http.StatusNotFound, apiError{Error: "Extension file not found"})
		return
	}

	reader, err := s.fs.OpenURL(ctx, s.archiveURL)
	if err != nil {
		s.logger.Error("extension archive open failed", "url", s.archiveURL, "err", err)
		writeJSON(w, http.StatusNotFound, apiError{Error: "Extension file not found"})
		return
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		s.logger.Error("extension archive read failed", "url", s.archiveURL, "err", err)
		writeJSON(w, http.StatusNotFound, apiError{Error: "Extension file not found"})
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+extensionFileName+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleExtensionMessage(w http.ResponseWriter, r *http.Request) {
	if s.router == nil {
		writeError(w, http.StatusServiceUnavailable, "extension router is not configured", nil)
		return
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read message", err)
		return
	}

	ctx, cancel := s.withTimeout(r)
	defer cancel()

	writeJSON(w, http.StatusOK, s.router.Dispatch(ctx, raw))
}

func (s *Server) requireState(w http.ResponseWriter) bool {
	if s.state == nil {
		writeError(w, http.StatusServiceUnavailable, "state store is not configured", nil)
		return false
	}
	return true
}

type addFaceRequest struct {
	ImageURL  string `json:"imageUrl"`
	Thumbnail string `json:"thumbnail"`
}

func (s *Server) handleListFaces(w http.ResponseWriter, r *http.Request) {
	if !s.requireState(w) {
		return
	}
	faces, err := s.state.RecentFaces(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load recent faces", err)
		return
	}
	if faces == nil {
		faces = []store.RecentFace{}
	}
	writeJSON(w, http.StatusOK, faces)
}

func (s *Server) handleAddFace(w http.ResponseWriter, r *http.Request) {
	if !s.requireState(w) {
		return
	}
	var req addFaceRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	face, err := s.state.AddRecentFace(r.Context(), req.ImageURL, req.Thumbnail)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to save face", err)
		return
	}
	writeJSON(w, http.StatusCreated, face)
}

func (s *Server) handleRemoveFace(w http.ResponseWriter, r *http.Request) {
	if !s.requireState(w) {
		return
	}
	if err := s.state.RemoveRecentFace(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to remove face", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !s.requireState(w) {
		return
	}
	history, err := s.state.History(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load history", err)
		return
	}
	if history == nil {
		history = []store.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	if !s.requireState(w) {
		return
	}
	settings, err := s.state.Settings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load settings", err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	if !s.requireState(w) {
		return
	}
	var settings store.Settings
	if !s.decodeJSON(w, r, &settings) {
		return
	}
	if err := s.state.SaveSettings(r.Context(), settings); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save settings", err)
		return
	}
	s.handleGetSettings(w, r)
}

// Stored keys never leave the server unmasked.
func (s *Server) handleGetKeys(w http.ResponseWriter, r *http.Request) {
	if !s.requireState(w) {
		return
	}
	keys, err := s.state.APIKeys(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load keys", err)
		return
	}
	writeJSON(w, http.StatusOK, keys.Masked())
}

func (s *Server) handlePutKeys(w http.ResponseWriter, r *http.Request) {
	if !s.requireState(w) {
		return
	}
	var update store.APIKeys
	if !s.decodeJSON(w, r, &update) {
		return
	}
	keys, err := s.state.SaveAPIKeys(r.Context(), update)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save keys", err)
		return
	}
	writeJSON(w, http.StatusOK, keys.Masked())
}

func (s *Server) handleGetPending(w http.ResponseWriter, r *http.Request) {
	if !s.requireState(w) {
		return
	}
	pending, ok, err := s.state.Pending(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load pending generation", err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, apiError{Error: "no pending generation"})
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

func (s *Server) handleClearPending(w http.ResponseWriter, r *http.Request) {
	if !s.requireState(w) {
		return
	}
	if err := s.state.ClearPending(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to clear pending generation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
