package fal

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testModel = "fal-ai/test/model"

func TestNew(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)

	c, err := New(Options{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, QueueBaseURL, c.baseURL)
	assert.Equal(t, DefaultVideoModel, c.model)

	c, err = New(Options{APIKey: "k", Mode: ModeSync})
	require.NoError(t, err)
	assert.Equal(t, SyncBaseURL, c.baseURL)
}

func TestGenerateVideo_Queue(t *testing.T) {
	var polls atomic.Int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Key secret", r.Header.Get("Authorization"))

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/"+testModel:
			var req VideoRequest
			raw, _ := io.ReadAll(r.Body)
			assert.NoError(t, json.Unmarshal(raw, &req))
			assert.Equal(t, "https://img.example/a.png", req.ImageURL)
			assert.Equal(t, 6, req.Duration)
			assert.Equal(t, "720p", req.Resolution)

			_, _ = io.WriteString(w, `{"request_id":"r1","status_url":"`+srv.URL+`/status/r1","response_url":"`+srv.URL+`/result/r1"}`)
		case r.URL.Path == "/status/r1":
			if polls.Add(1) < 3 {
				_, _ = io.WriteString(w, `{"status":"IN_PROGRESS"}`)
				return
			}
			_, _ = io.WriteString(w, `{"status":"COMPLETED"}`)
		case r.URL.Path == "/result/r1":
			_, _ = io.WriteString(w, `{"video":{"url":"https://cdn.example/v.mp4","content_type":"video/mp4","file_name":"v.mp4","file_size":1234},"seed":42,"timings":{"inference":3.5}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, err := New(Options{APIKey: "secret", BaseURL: srv.URL, Model: testModel, PollInterval: time.Millisecond, HTTPClient: srv.Client()})
	require.NoError(t, err)

	res, err := c.GenerateVideo(context.Background(), VideoRequest{
		ImageURL:   "https://img.example/a.png",
		Prompt:     "walks forward",
		Duration:   6,
		Resolution: "720p",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/v.mp4", res.VideoURL())
	assert.Equal(t, int64(1234), res.Video.FileSize)
	assert.Equal(t, int64(42), res.Seed)
	assert.InDelta(t, 3.5, res.Timings["inference"], 0.001)
	assert.EqualValues(t, 3, polls.Load())
}

func TestGenerateVideo_QueueFallbackURLs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/" + testModel:
			_, _ = io.WriteString(w, `{"request_id":"r2"}`)
		case "/" + testModel + "/requests/r2/status":
			_, _ = io.WriteString(w, `{"status":"COMPLETED"}`)
		case "/" + testModel + "/requests/r2":
			_, _ = io.WriteString(w, `{"video":{"url":"https://cdn.example/2.mp4"}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, err := New(Options{APIKey: "k", BaseURL: srv.URL, Model: testModel, HTTPClient: srv.Client()})
	require.NoError(t, err)

	res, err := c.GenerateVideo(context.Background(), VideoRequest{})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/2.mp4", res.VideoURL())
}

func TestGenerateVideo_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, err error)
	}{
		{
			name: "submit rejected",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = io.WriteString(w, `{"detail":"bad key"}`)
			},
			check: func(t *testing.T, err error) {
				var apiErr *APIError
				require.True(t, errors.As(err, &apiErr))
				assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
				assert.Contains(t, apiErr.Body, "bad key")
			},
		},
		{
			name: "completed with error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				if r.Method == http.MethodPost {
					_, _ = io.WriteString(w, `{"request_id":"r3"}`)
					return
				}
				_, _ = io.WriteString(w, `{"status":"COMPLETED","error":"nsfw content"}`)
			},
			check: func(t *testing.T, err error) {
				assert.Contains(t, err.Error(), "nsfw content")
			},
		},
		{
			name: "unknown status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				if r.Method == http.MethodPost {
					_, _ = io.WriteString(w, `{"request_id":"r4"}`)
					return
				}
				_, _ = io.WriteString(w, `{"status":"CANCELLED"}`)
			},
			check: func(t *testing.T, err error) {
				assert.Contains(t, err.Error(), "CANCELLED")
			},
		},
		{
			name: "no request id",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, `{}`)
			},
			check: func(t *testing.T, err error) {
				assert.Contains(t, err.Error(), "request_id")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c, err := New(Options{APIKey: "k", BaseURL: srv.URL, Model: testModel, PollInterval: time.Millisecond, HTTPClient: srv.Client()})
			require.NoError(t, err)

			_, err = c.GenerateVideo(context.Background(), VideoRequest{})
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestGenerateVideo_ContextCancelledWhilePolling(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = io.WriteString(w, `{"request_id":"r5"}`)
			return
		}
		_, _ = io.WriteString(w, `{"status":"IN_QUEUE","queue_position":4}`)
	}))
	defer srv.Close()

	c, err := New(Options{APIKey: "k", BaseURL: srv.URL, Model: testModel, PollInterval: 5 * time.Millisecond, HTTPClient: srv.Client()})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err = c.GenerateVideo(ctx, VideoRequest{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGenerateVideo_Sync(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/"+testModel, r.URL.Path)
		_, _ = io.WriteString(w, `{"video":{"url":"https://cdn.example/sync.mp4"}}`)
	}))
	defer srv.Close()

	c, err := New(Options{APIKey: "k", BaseURL: srv.URL, Model: testModel, Mode: ModeSync, HTTPClient: srv.Client()})
	require.NoError(t, err)

	res, err := c.GenerateVideo(context.Background(), VideoRequest{})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/sync.mp4", res.VideoURL())
	assert.EqualValues(t, 1, calls.Load())
}

func TestGenerateVideo_KeySource(t *testing.T) {
	var auth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"video":{"url":"https://cdn.example/v.mp4"}}`)
	}))
	defer srv.Close()

	stored := ""
	c, err := New(Options{
		KeySource:  func(context.Context) (string, error) { return stored, nil },
		BaseURL:    srv.URL,
		Model:      testModel,
		Mode:       ModeSync,
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)

	_, err = c.GenerateVideo(context.Background(), VideoRequest{ImageURL: "https://img.example/a.png"})
	assert.ErrorIs(t, err, ErrNoAPIKey)
	assert.Nil(t, auth.Load())

	stored = " saved-key "
	res, err := c.GenerateVideo(context.Background(), VideoRequest{ImageURL: "https://img.example/a.png"})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/v.mp4", res.VideoURL())
	assert.Equal(t, "Key saved-key", auth.Load())

	boom := errors.New("disk gone")
	c.keySource = func(context.Context) (string, error) { return "", boom }
	_, err = c.GenerateVideo(context.Background(), VideoRequest{ImageURL: "https://img.example/a.png"})
	assert.ErrorIs(t, err, boom)
}

func TestGenerateVideo_StaticKeyWins(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Key env-key", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"video":{"url":"https://cdn.example/v.mp4"}}`)
	}))
	defer srv.Close()

	c, err := New(Options{
		APIKey:     "env-key",
		KeySource:  func(context.Context) (string, error) { return "stored-key", nil },
		BaseURL:    srv.URL,
		Model:      testModel,
		Mode:       ModeSync,
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)
	_, err = c.GenerateVideo(context.Background(), VideoRequest{ImageURL: "https://img.example/a.png"})
	require.NoError(t, err)
}
