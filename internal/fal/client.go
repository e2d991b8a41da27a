// Package fal talks to the Fal.ai model API, either through the request queue
// (submit, poll, fetch) or through the synchronous endpoint.
package fal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

const (
	QueueBaseURL = "https://queue.fal.run"
	SyncBaseURL  = "https://fal.run"

	DefaultVideoModel = "fal-ai/bytedance/seedance/v1/lite/image-to-video"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNoAPIKey is returned when neither a static key nor a key source yields a key.
var ErrNoAPIKey = errors.New("fal api key is not configured")

// KeySource looks up the API key at request time.
type KeySource func(ctx context.Context) (string, error)

type Mode int

const (
	ModeQueue Mode = iota
	ModeSync
)

type Options struct {
	APIKey string
	// KeySource is consulted on every request when APIKey is empty.
	KeySource    KeySource
	BaseURL      string
	Model        string
	Mode         Mode
	PollInterval time.Duration
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

type Client struct {
	apiKey       string
	keySource    KeySource
	baseURL      string
	model        string
	mode         Mode
	pollInterval time.Duration
	httpClient   *http.Client
	logger       *slog.Logger
}

func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" && opts.KeySource == nil {
		return nil, errors.New("fal api key is empty")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = QueueBaseURL
		if opts.Mode == ModeSync {
			baseURL = SyncBaseURL
		}
	}

	model := strings.Trim(strings.TrimSpace(opts.Model), "/")
	if model == "" {
		model = DefaultVideoModel
	}

	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = 1500 * time.Millisecond
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		apiKey:       strings.TrimSpace(opts.APIKey),
		keySource:    opts.KeySource,
		baseURL:      baseURL,
		model:        model,
		mode:         opts.Mode,
		pollInterval: pollInterval,
		httpClient:   httpClient,
		logger:       logger,
	}, nil
}

// GenerateVideo runs an image-to-video request to completion.
func (c *Client) GenerateVideo(ctx context.Context, req VideoRequest) (VideoResult, error) {
	key, err := c.key(ctx)
	if err != nil {
		return VideoResult{}, err
	}
	endpoint := c.baseURL + "/" + c.model

	var result VideoResult
	if c.mode == ModeSync {
		if err := c.do(ctx, key, http.MethodPost, endpoint, req, &result); err != nil {
			return VideoResult{}, err
		}
		return result, nil
	}

	var submitted queueSubmit
	if err := c.do(ctx, key, http.MethodPost, endpoint, req, &submitted); err != nil {
		return VideoResult{}, fmt.Errorf("submit: %w", err)
	}
	if submitted.RequestID == "" {
		return VideoResult{}, errors.New("submit: response has no request_id")
	}
	c.logger.Info("fal request queued", "model", c.model, "request_id", submitted.RequestID)

	statusURL := submitted.StatusURL
	if statusURL == "" {
		statusURL = endpoint + "/requests/" + submitted.RequestID + "/status"
	}
	responseURL := submitted.ResponseURL
	if responseURL == "" {
		responseURL = endpoint + "/requests/" + submitted.RequestID
	}

	if err := c.wait(ctx, key, submitted.RequestID, statusURL); err != nil {
		return VideoResult{}, err
	}

	if err := c.do(ctx, key, http.MethodGet, responseURL, nil, &result); err != nil {
		return VideoResult{}, fmt.Errorf("fetch result: %w", err)
	}
	return result, nil
}

func (c *Client) key(ctx context.Context) (string, error) {
	if c.apiKey != "" {
		return c.apiKey, nil
	}
	if c.keySource == nil {
		return "", ErrNoAPIKey
	}
	key, err := c.keySource(ctx)
	if err != nil {
		return "", fmt.Errorf("load fal api key: %w", err)
	}
	if key = strings.TrimSpace(key); key == "" {
		return "", ErrNoAPIKey
	}
	return key, nil
}

func (c *Client) wait(ctx context.Context, key, requestID, statusURL string) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	lastStatus := ""
	for {
		var status queueStatus
		if err := c.do(ctx, key, http.MethodGet, statusURL, nil, &status); err != nil {
			return fmt.Errorf("poll status: %w", err)
		}

		if status.Status != lastStatus {
			c.logger.Debug("fal request status", "request_id", requestID, "status", status.Status, "queue_position", status.QueuePosition)
			lastStatus = status.Status
		}

		switch status.Status {
		case StatusCompleted:
			if status.Error != "" {
				return fmt.Errorf("fal request %s failed: %s", requestID, status.Error)
			}
			return nil
		case StatusInQueue, StatusInProgress:
		default:
			return fmt.Errorf("fal request %s: unexpected status %q", requestID, status.Status)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) do(ctx context.Context, key, method, url string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("authorization", "Key "+key)
	httpReq.Header.Set("accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("content-type", "application/json")
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer httpResp.Body.Close()

	rawBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode >= 400 {
		return &APIError{StatusCode: httpResp.StatusCode, Body: strings.TrimSpace(string(rawBody))}
	}

	if err := json.Unmarshal(rawBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
