package web

import (
	"errors"
	"net/http"

	"euphoria-magic/internal/imageio"
	"euphoria-magic/internal/video"
)

type videoRequest struct {
	ImageURL   string `json:"imageUrl"`
	Prompt     string `json:"prompt,omitempty"`
	Duration   int    `json:"duration,omitempty"`
	Resolution string `json:"resolution,omitempty"`
}

type videoResponse struct {
	Success  bool   `json:"success"`
	VideoURL string `json:"videoUrl"`
	Prompt   string `json:"prompt"`
}

func (s *Server) handleVideo(w http.ResponseWriter, r *http.Request) {
	if s.video == nil {
		writeError(w, http.StatusServiceUnavailable, "video generation is not configured", nil)
		return
	}

	var req videoRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	ctx, cancel := s.withTimeout(r)
	defer cancel()

	result, err := s.video.Run(ctx, video.Input{
		Image:      imageio.Source{URL: req.ImageURL},
		Prompt:     req.Prompt,
		Duration:   req.Duration,
		Resolution: req.Resolution,
	})
	if err != nil {
		var verr *video.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, apiError{Error: "Invalid video parameters", Errors: verr.Errors})
			return
		}
		s.logger.Error("video failed", "err", err)
		writeError(w, statusFor(err), "Failed to generate video", err)
		return
	}

	writeJSON(w, http.StatusOK, videoResponse{Success: true, VideoURL: result.VideoURL, Prompt: result.Prompt})
}

// handleVideoValidate checks parameters without dispatching anything.
func (s *Server) handleVideoValidate(w http.ResponseWriter, r *http.Request) {
	limits := video.DefaultLimits()
	if s.video != nil {
		limits = s.video.Limits()
	}

	var req videoRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	v := limits.Validate(limits.WithDefaults(video.Params{
		ImageURL:   req.ImageURL,
		Prompt:     req.Prompt,
		Duration:   req.Duration,
		Resolution: req.Resolution,
	}))
	writeJSON(w, http.StatusOK, v)
}
