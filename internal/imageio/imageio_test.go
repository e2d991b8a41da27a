package imageio

import (
	"bytes"
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"euphoria-magic/internal/httpclient"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func TestNormalize_DataURL(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	n := New(srv.Client())
	src := "data:image/webp;base64,QUJDRA=="

	first, err := n.Normalize(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, "QUJDRA==", first.Data)
	assert.Equal(t, "image/webp", first.MIMEType)

	second, err := n.Normalize(context.Background(), first.DataURL())
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Zero(t, hits.Load())
}

func TestNormalize_HTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.png":
			w.Header().Set("Content-Type", "image/png; charset=binary")
			_, _ = w.Write(pngHeader)
		case "/sniff":
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write(pngHeader)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	n := New(srv.Client())

	t.Run("content type header", func(t *testing.T) {
		p, err := n.Normalize(context.Background(), srv.URL+"/ok.png")
		require.NoError(t, err)
		assert.Equal(t, "image/png", p.MIMEType)
		raw, err := p.Bytes()
		require.NoError(t, err)
		assert.Equal(t, pngHeader, raw)
	})

	t.Run("sniffed", func(t *testing.T) {
		p, err := n.Normalize(context.Background(), srv.URL+"/sniff")
		require.NoError(t, err)
		assert.Equal(t, "image/png", p.MIMEType)
	})

	t.Run("non-2xx is a network error", func(t *testing.T) {
		_, err := n.Normalize(context.Background(), srv.URL+"/missing")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNetwork)
	})
}

func TestNormalize_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := New(nil).Normalize(context.Background(), url+"/x.jpg")
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestNormalize_DefaultClientRefusesLoopback(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("content-type", "image/png")
		_, _ = w.Write(pngHeader)
	}))
	defer srv.Close()

	_, err := New(nil).Normalize(context.Background(), srv.URL+"/metadata.png")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.ErrorIs(t, err, httpclient.ErrBlockedAddress)
	assert.Zero(t, hits.Load())
}

func TestNormalize_Unsupported(t *testing.T) {
	_, err := New(nil).Normalize(context.Background(), "ftp://example.com/a.png")
	assert.Error(t, err)
	_, err = New(nil).Normalize(context.Background(), "  ")
	assert.Error(t, err)
}

func TestResolve(t *testing.T) {
	n := New(nil)
	loaded := Payload{Data: "QUJD", MIMEType: "image/png"}

	got, err := n.Resolve(context.Background(), Source{URL: "https://unused.invalid/x.png", Payload: loaded})
	require.NoError(t, err)
	assert.Equal(t, loaded, got)

	got, err = n.Resolve(context.Background(), Source{URL: "data:image/gif;base64,R0lG"})
	require.NoError(t, err)
	assert.Equal(t, Payload{Data: "R0lG", MIMEType: "image/gif"}, got)

	assert.True(t, Source{}.Empty())
	assert.False(t, Source{URL: "x"}.Empty())
}

func TestFromReader(t *testing.T) {
	p, err := FromReader(bytes.NewReader([]byte("plain bytes")), "")
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", p.MIMEType)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("plain bytes")), p.Data)

	p, err = FromReader(bytes.NewReader(pngHeader), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "image/png", p.MIMEType)

	_, err = FromReader(bytes.NewReader(nil), "image/png")
	assert.Error(t, err)
}

func TestParseDataURL(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		wantMIME string
		wantData string
		wantErr  bool
	}{
		{name: "png", in: "data:image/png;base64,AAAA", wantMIME: "image/png", wantData: "AAAA"},
		{name: "missing mime", in: "data:;base64,AAAA", wantMIME: "image/jpeg", wantData: "AAAA"},
		{name: "bare base64", in: "AAAA", wantMIME: "image/jpeg", wantData: "AAAA"},
		{name: "comma inside data kept", in: "data:image/png;base64,AA,BB", wantMIME: "image/png", wantData: "AA,BB"},
		{name: "no comma", in: "data:image/png;base64", wantErr: true},
		{name: "empty", in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mimeType, data, err := ParseDataURL(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMIME, mimeType)
			assert.Equal(t, tt.wantData, data)
		})
	}
}

func TestStripDataURLPrefix(t *testing.T) {
	assert.Equal(t, "AAAA", StripDataURLPrefix("data:image/png;base64,AAAA"))
	assert.Equal(t, "AAAA", StripDataURLPrefix("AAAA"))
	assert.Equal(t, "data:image/png;base64,AAAA", ToDataURL("image/png", "AAAA"))
	assert.Equal(t, "data:image/jpeg;base64,AAAA", ToDataURL("", "AAAA"))
}
