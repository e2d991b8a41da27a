package capture

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"euphoria-magic/internal/store"
)

type ReferenceSetter interface {
	SetReference(ctx context.Context, ref store.ReferenceImage) (store.ReferenceImage, error)
}

// Selection is a user click on an image.
type Selection struct {
	Src       string
	PageURL   string
	PageTitle string
}

// Select persists the clicked image as the current reference, using the
// high-resolution rewrite for the page's host.
func Select(ctx context.Context, refs ReferenceSetter, sel Selection) (store.ReferenceImage, error) {
	src := strings.TrimSpace(sel.Src)
	if src == "" {
		return store.ReferenceImage{}, errors.New("image url is required")
	}

	return refs.SetReference(ctx, store.ReferenceImage{
		URL:       HighResURL(src, hostOf(sel.PageURL)),
		PageURL:   sel.PageURL,
		PageTitle: sel.PageTitle,
	})
}

func hostOf(pageURL string) string {
	u, err := url.Parse(strings.TrimSpace(pageURL))
	if err != nil {
		return ""
	}
	return u.Hostname()
}
