// Package imageio turns the image sources the service accepts (data URLs,
// remote http(s) URLs and uploaded files) into a base64 payload with a MIME type.
package imageio

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"euphoria-magic/internal/httpclient"
)

const fallbackMIME = "image/jpeg"

// ErrNetwork is returned when a remote image cannot be fetched.
var ErrNetwork = errors.New("image fetch failed")

// Payload is a base64 encoded image with its MIME type.
type Payload struct {
	Data     string
	MIMEType string
}

func (p Payload) Bytes() ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return raw, nil
}

func (p Payload) DataURL() string {
	return ToDataURL(p.MIMEType, p.Data)
}

func (p Payload) Empty() bool {
	return p.Data == ""
}

type Normalizer struct {
	httpClient *http.Client
}

// New returns a Normalizer. A nil client falls back to one that refuses
// loopback and private network addresses.
func New(httpClient *http.Client) *Normalizer {
	if httpClient == nil {
		httpClient = httpclient.New(httpclient.Options{})
	}
	return &Normalizer{httpClient: httpClient}
}

// Normalize accepts a data URL or an http(s) URL. Data URLs never touch the network.
func (n *Normalizer) Normalize(ctx context.Context, source string) (Payload, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return Payload{}, errors.New("image source is empty")
	}

	if IsDataURL(source) {
		mimeType, data, err := ParseDataURL(source)
		if err != nil {
			return Payload{}, err
		}
		return Payload{Data: data, MIMEType: mimeType}, nil
	}

	if IsHTTPURL(source) {
		return n.Fetch(ctx, source)
	}

	return Payload{}, fmt.Errorf("unsupported image source %q", truncate(source, 64))
}

// Source is an image that is either already loaded or still addressed by URL.
type Source struct {
	URL     string
	Payload Payload
}

func (s Source) Empty() bool {
	return s.Payload.Empty() && strings.TrimSpace(s.URL) == ""
}

// Resolve returns the loaded payload, normalizing the URL when needed.
func (n *Normalizer) Resolve(ctx context.Context, s Source) (Payload, error) {
	if !s.Payload.Empty() {
		return s.Payload, nil
	}
	return n.Normalize(ctx, s.URL)
}

func (n *Normalizer) Fetch(ctx context.Context, url string) (Payload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Payload{}, fmt.Errorf("%w: %s returned %s", ErrNetwork, url, resp.Status)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: read body: %v", ErrNetwork, err)
	}

	return FromBytes(raw, resp.Header.Get("content-type")), nil
}

// FromReader reads an uploaded file. declaredMIME may be empty.
func FromReader(r io.Reader, declaredMIME string) (Payload, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return Payload{}, fmt.Errorf("read image: %w", err)
	}
	if len(raw) == 0 {
		return Payload{}, errors.New("image is empty")
	}
	return FromBytes(raw, declaredMIME), nil
}

func FromBytes(raw []byte, declaredMIME string) Payload {
	return Payload{
		Data:     base64.StdEncoding.EncodeToString(raw),
		MIMEType: DetectMIME(raw, declaredMIME),
	}
}

// DetectMIME prefers the declared type, then content sniffing, then image/jpeg.
func DetectMIME(raw []byte, declared string) string {
	mimeType := baseMIME(declared)
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = baseMIME(http.DetectContentType(raw))
	}
	if mimeType == "" || mimeType == "application/octet-stream" || mimeType == "text/plain" {
		mimeType = fallbackMIME
	}
	return mimeType
}

func IsDataURL(value string) bool {
	return strings.HasPrefix(strings.TrimSpace(value), "data:")
}

func IsHTTPURL(value string) bool {
	value = strings.ToLower(strings.TrimSpace(value))
	return strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://")
}

// ParseDataURL splits a data URL into MIME type and base64 data. A value
// without the data: prefix is treated as bare base64.
func ParseDataURL(value string) (mimeType string, base64Data string, err error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", "", errors.New("empty data url")
	}

	const prefix = "data:"
	if !strings.HasPrefix(value, prefix) {
		return fallbackMIME, value, nil
	}

	parts := strings.SplitN(value, ",", 2)
	if len(parts) != 2 {
		return "", "", errors.New("invalid data url")
	}

	meta := strings.TrimPrefix(parts[0], prefix)
	mimeType = strings.TrimSpace(strings.Split(meta, ";")[0])
	if mimeType == "" {
		mimeType = fallbackMIME
	}
	return mimeType, parts[1], nil
}

func ToDataURL(mimeType, base64Data string) string {
	if mimeType == "" {
		mimeType = fallbackMIME
	}
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64Data)
}

// StripDataURLPrefix returns everything after the first comma.
func StripDataURLPrefix(value string) string {
	if idx := strings.IndexByte(value, ','); idx >= 0 {
		return value[idx+1:]
	}
	return value
}

func baseMIME(value string) string {
	value = strings.TrimSpace(value)
	if idx := strings.IndexByte(value, ';'); idx >= 0 {
		value = strings.TrimSpace(value[:idx])
	}
	return strings.ToLower(value)
}

func truncate(value string, n int) string {
	if len(value) <= n {
		return value
	}
	return value[:n] + "..."
}
