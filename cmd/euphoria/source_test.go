package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestLoadSource(t *testing.T) {
	src, err := loadSource(" https://example.com/a.jpg ")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a.jpg", src.URL)

	src, err = loadSource("data:image/png;base64,QUJD")
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,QUJD", src.URL)

	path := filepath.Join(t.TempDir(), "scene.png")
	require.NoError(t, os.WriteFile(path, pngHeader, 0o644))
	src, err = loadSource(path)
	require.NoError(t, err)
	assert.Empty(t, src.URL)
	assert.Equal(t, "image/png", src.Payload.MIMEType)

	_, err = loadSource("")
	assert.Error(t, err)
	_, err = loadSource(filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)
}

func TestWriteImage(t *testing.T) {
	dir := t.TempDir()
	path, err := writeImage(dir, "variation-1", "data:image/jpeg;base64,QUJD")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "variation-1.jpg"), path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ABC", string(raw))

	_, err = writeImage(dir, "bad", "data:image/png;base64,@@@")
	assert.Error(t, err)
}

func TestExtensionFor(t *testing.T) {
	assert.Equal(t, ".png", extensionFor("image/png"))
	assert.Equal(t, ".webp", extensionFor("image/webp"))
	assert.Equal(t, ".png", extensionFor(""))
}
