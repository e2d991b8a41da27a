package web

import (
	"errors"
	"net/http"
	"strings"

	"euphoria-magic/internal/prompt"
	"euphoria-magic/internal/session"
)

type createSessionRequest struct {
	ImageURL string        `json:"imageUrl"`
	Params   prompt.Params `json:"params"`
}

type sendMessageRequest struct {
	Message string `json:"message"`
}

type sendMessageResponse struct {
	Success bool            `json:"success"`
	Reply   session.Message `json:"reply"`
	Error   string          `json:"error,omitempty"`
}

type commitRequest struct {
	MessageID string `json:"messageId"`
}

type commitResponse struct {
	Success         bool   `json:"success"`
	CurrentImageURL string `json:"currentImageUrl"`
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	if s.sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "sessions are not configured", nil)
		return nil, false
	}
	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found", nil)
		return nil, false
	}
	return sess, true
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "sessions are not configured", nil)
		return
	}

	var req createSessionRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ImageURL) == "" {
		writeError(w, http.StatusBadRequest, "imageUrl is required", nil)
		return
	}

	ctx, cancel := s.withTimeout(r)
	defer cancel()

	image, err := s.normalizer.Normalize(ctx, req.ImageURL)
	if err != nil {
		writeError(w, statusFor(err), "failed to load image", err)
		return
	}

	sess, err := s.sessions.Create(image, req.Params)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to create session", err)
		return
	}
	writeJSON(w, http.StatusCreated, sess.Snapshot())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	s.sessions.Delete(sess.ID)
	w.WriteHeader(http.StatusNoContent)
}

// handleSessionMessage runs one edit turn. A failed turn still returns the
// apology message that was appended to the conversation.
func (s *Server) handleSessionMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var req sendMessageRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	ctx, cancel := s.withTimeout(r)
	defer cancel()

	reply, err := sess.Send(ctx, req.Message)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, sendMessageResponse{Success: true, Reply: reply})
	case errors.Is(err, session.ErrEmptyMessage), errors.Is(err, session.ErrBusy):
		writeError(w, statusFor(err), err.Error(), nil)
	default:
		s.logger.Warn("session edit failed", "session", sess.ID, "err", err)
		writeJSON(w, statusFor(err), sendMessageResponse{Success: false, Reply: reply, Error: err.Error()})
	}
}

func (s *Server) handleSessionCommit(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var req commitRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	image, err := sess.Commit(req.MessageID)
	if err != nil {
		writeError(w, statusFor(err), err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, commitResponse{Success: true, CurrentImageURL: image.DataURL()})
}
