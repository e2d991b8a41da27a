package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"euphoria-magic/internal/imageio"
)

// loadSource turns a CLI argument into an image source. URLs are left for the
// normalizer to fetch; local files and stdin are read here.
func loadSource(arg string) (imageio.Source, error) {
	arg = strings.TrimSpace(arg)
	switch {
	case arg == "":
		return imageio.Source{}, fmt.Errorf("image is required")
	case arg == "-":
		p, err := imageio.FromReader(os.Stdin, "")
		if err != nil {
			return imageio.Source{}, err
		}
		return imageio.Source{Payload: p}, nil
	case imageio.IsDataURL(arg) || imageio.IsHTTPURL(arg):
		return imageio.Source{URL: arg}, nil
	}

	raw, err := os.ReadFile(arg)
	if err != nil {
		return imageio.Source{}, err
	}
	return imageio.Source{Payload: imageio.FromBytes(raw, "")}, nil
}

func writeImage(dir, name, dataURL string) (string, error) {
	mimeType, data, err := imageio.ParseDataURL(dataURL)
	if err != nil {
		return "", err
	}
	raw, err := imageio.Payload{Data: data, MIMEType: mimeType}.Bytes()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, name+extensionFor(mimeType))
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	}
	return ".png"
}
