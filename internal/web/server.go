// Package web serves the companion HTTP API used by the web page and the
// browser extension.
package web

import (
	"context"
	"embed"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/viant/afs"

	"euphoria-magic/internal/capture"
	"euphoria-magic/internal/extension"
	"euphoria-magic/internal/fal"
	"euphoria-magic/internal/gemini"
	"euphoria-magic/internal/generate"
	"euphoria-magic/internal/httpclient"
	"euphoria-magic/internal/imageio"
	"euphoria-magic/internal/session"
	"euphoria-magic/internal/store"
	"euphoria-magic/internal/video"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

//go:embed static/*
var staticFS embed.FS

const (
	defaultMaxUploadBytes = 25 << 20
	defaultRequestTimeout = 240 * time.Second
	maxJSONBytes          = 32 << 20
)

type Generator interface {
	Generate(ctx context.Context, in generate.Input) (generate.Result, error)
}

type VideoRunner interface {
	Run(ctx context.Context, in video.Input) (video.Result, error)
	Limits() video.Limits
}

type Options struct {
	Generator  Generator
	Editor     session.Editor
	Sessions   *session.Store
	Video      VideoRunner
	Router     *extension.Router
	State      *store.Store
	Watcher    *capture.Watcher
	Normalizer *imageio.Normalizer

	FS                  afs.Service
	ExtensionArchiveURL string

	MaxUploadBytes int64
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

type Server struct {
	generator  Generator
	editor     session.Editor
	sessions   *session.Store
	video      VideoRunner
	router     *extension.Router
	state      *store.Store
	watcher    *capture.Watcher
	normalizer *imageio.Normalizer

	fs         afs.Service
	archiveURL string

	maxUploadBytes int64
	requestTimeout time.Duration
	logger         *slog.Logger
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	fs := opts.FS
	if fs == nil {
		fs = afs.New()
	}
	normalizer := opts.Normalizer
	if normalizer == nil {
		normalizer = imageio.New(nil)
	}
	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	return &Server{
		generator:      opts.Generator,
		editor:         opts.Editor,
		sessions:       opts.Sessions,
		video:          opts.Video,
		router:         opts.Router,
		state:          opts.State,
		watcher:        opts.Watcher,
		normalizer:     normalizer,
		fs:             fs,
		archiveURL:     opts.ExtensionArchiveURL,
		maxUploadBytes: maxUpload,
		requestTimeout: timeout,
		logger:         logger,
	}
}

// Routes returns the full handler wrapped in request logging.
func (s *Server) Routes() (http.Handler, error) {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/generate", s.handleGenerate)
	mux.HandleFunc("POST /api/chat-edit", s.handleChatEdit)
	mux.HandleFunc("GET /api/download-extension", s.handleDownloadExtension)

	mux.HandleFunc("POST /api/video", s.handleVideo)
	mux.HandleFunc("POST /api/video/validate", s.handleVideoValidate)

	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("POST /api/sessions/{id}/messages", s.handleSessionMessage)
	mux.HandleFunc("POST /api/sessions/{id}/commit", s.handleSessionCommit)

	mux.HandleFunc("POST /api/extension/message", s.handleExtensionMessage)

	mux.HandleFunc("POST /api/capture/check", s.handleCaptureCheck)
	mux.HandleFunc("POST /api/capture/observe", s.handleCaptureObserve)
	mux.HandleFunc("GET /api/capture/marked", s.handleCaptureMarked)
	mux.HandleFunc("POST /api/capture/select", s.handleCaptureSelect)

	mux.HandleFunc("GET /api/recent-faces", s.handleListFaces)
	mux.HandleFunc("POST /api/recent-faces", s.handleAddFace)
	mux.HandleFunc("DELETE /api/recent-faces/{id}", s.handleRemoveFace)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("PUT /api/settings", s.handlePutSettings)
	mux.HandleFunc("GET /api/keys", s.handleGetKeys)
	mux.HandleFunc("PUT /api/keys", s.handlePutKeys)
	mux.HandleFunc("GET /api/pending", s.handleGetPending)
	mux.HandleFunc("DELETE /api/pending", s.handleClearPending)

	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		return nil, err
	}
	mux.Handle("/", http.FileServer(http.FS(staticSub)))

	return withLogging(mux, s.logger), nil
}

type apiError struct {
	Success bool     `json:"success"`
	Error   string   `json:"error"`
	Details string   `json:"details,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	out := apiError{Error: message}
	if err != nil {
		out.Details = err.Error()
	}
	writeJSON(w, status, out)
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err)
		return false
	}
	return true
}

func (s *Server) withTimeout(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.requestTimeout)
}

// statusFor maps pipeline errors onto HTTP status codes.
func statusFor(err error) int {
	var verr *video.ValidationError
	var apiErr *fal.APIError
	switch {
	case errors.Is(err, httpclient.ErrBlockedAddress),
		errors.Is(err, generate.ErrUserInput),
		errors.As(err, &verr),
		errors.Is(err, session.ErrEmptyMessage),
		errors.Is(err, session.ErrNotCommittable):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, fal.ErrNoAPIKey):
		return http.StatusServiceUnavailable
	case errors.Is(err, imageio.ErrNetwork),
		errors.Is(err, gemini.ErrNoImageGenerated),
		errors.Is(err, gemini.ErrNoImageData),
		errors.Is(err, video.ErrNoVideoURL),
		errors.As(err, &apiErr):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func withLogging(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("http", "method", r.Method, "path", r.URL.Path, "status", rec.status, "dur_ms", time.Since(start).Milliseconds())
	})
}
