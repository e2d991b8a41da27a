package web

import (
	"net/http"
	"strings"

	"euphoria-magic/internal/capture"
)

type captureBatch struct {
	Host     string            `json:"host"`
	Elements []capture.Element `json:"elements"`
}

type captureVerdict struct {
	Src        string `json:"src"`
	Eligible   bool   `json:"eligible"`
	Reason     string `json:"reason,omitempty"`
	HighResURL string `json:"highResUrl,omitempty"`
}

type selectRequest struct {
	Src       string `json:"src"`
	PageURL   string `json:"pageUrl"`
	PageTitle string `json:"pageTitle"`
}

func (s *Server) handleCaptureCheck(w http.ResponseWriter, r *http.Request) {
	var req captureBatch
	if !s.decodeJSON(w, r, &req) {
		return
	}

	out := make([]captureVerdict, 0, len(req.Elements))
	for _, el := range req.Elements {
		ok, reason := capture.Eligible(el, req.Host)
		v := captureVerdict{Src: el.Src, Eligible: ok, Reason: reason}
		if ok {
			v.HighResURL = capture.HighResURL(el.Src, req.Host)
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

// handleCaptureObserve feeds inserted images to the watcher. Results show up
// in /api/capture/marked once the settle delay has passed.
func (s *Server) handleCaptureObserve(w http.ResponseWriter, r *http.Request) {
	if s.watcher == nil {
		writeError(w, http.StatusServiceUnavailable, "capture watcher is not configured", nil)
		return
	}
	var req captureBatch
	if !s.decodeJSON(w, r, &req) {
		return
	}
	for _, el := range req.Elements {
		s.watcher.Inserted(req.Host, el)
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"queued": len(req.Elements)})
}

func (s *Server) handleCaptureMarked(w http.ResponseWriter, r *http.Request) {
	if s.watcher == nil {
		writeError(w, http.StatusServiceUnavailable, "capture watcher is not configured", nil)
		return
	}
	host := strings.TrimSpace(r.URL.Query().Get("host"))
	writeJSON(w, http.StatusOK, map[string]any{"images": s.watcher.Marked(host)})
}

func (s *Server) handleCaptureSelect(w http.ResponseWriter, r *http.Request) {
	if !s.requireState(w) {
		return
	}
	var req selectRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	ref, err := capture.Select(r.Context(), s.state, capture.Selection{
		Src:       req.Src,
		PageURL:   req.PageURL,
		PageTitle: req.PageTitle,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to select image", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "referenceImage": ref})
}
