// Package capture decides which page images can be picked as a reference
// scene and rewrites their URLs toward the full-size original.
package capture

import (
	"regexp"
	"strings"
)

// Node is an element on the page as reported by the client.
type Node struct {
	Tag       string            `json:"tag"`
	ClassName string            `json:"className,omitempty"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

// Element is an image candidate. Width and Height are the rendered size.
// Ancestors run from the parent outwards.
type Element struct {
	Node
	Src       string  `json:"src"`
	Alt       string  `json:"alt,omitempty"`
	Width     float64 `json:"width"`
	Height    float64 `json:"height"`
	Ancestors []Node  `json:"ancestors,omitempty"`
}

const (
	minSize          = 200
	minSizePinterest = 150

	minAspect = 0.3
	maxAspect = 3.0

	optOutAttr = "data-no-soul-ai"
)

var blockedClasses = []string{"icon", "logo", "avatar", "profile", "button", "thumbnail"}

// Rejection reasons.
const (
	ReasonNotImage    = "not an image"
	ReasonTooSmall    = "too small"
	ReasonNoSource    = "missing or vector source"
	ReasonUIChrome    = "ui element class"
	ReasonOptOut      = "opted out"
	ReasonNotPin      = "not a pin image"
	ReasonNotPost     = "not inside a post"
	ReasonAspectRatio = "aspect ratio out of range"
)

func isPinterest(host string) bool {
	return strings.Contains(strings.ToLower(host), "pinterest")
}

func isInstagram(host string) bool {
	return strings.Contains(strings.ToLower(host), "instagram")
}

// Eligible reports whether el on a page served from host can be picked. The
// second value names the first rule that failed.
func Eligible(el Element, host string) (bool, string) {
	if !strings.EqualFold(el.Tag, "img") {
		return false, ReasonNotImage
	}

	limit := float64(minSize)
	if isPinterest(host) {
		limit = minSizePinterest
	}
	if el.Width < limit || el.Height < limit {
		return false, ReasonTooSmall
	}

	if el.Src == "" || strings.Contains(el.Src, "data:image/svg") {
		return false, ReasonNoSource
	}

	className := strings.ToLower(el.ClassName)
	for _, cls := range blockedClasses {
		if strings.Contains(className, cls) {
			return false, ReasonUIChrome
		}
	}

	if _, ok := el.Attrs[optOutAttr]; ok {
		return false, ReasonOptOut
	}

	if isPinterest(host) {
		pin := el.closest(isPinContainer) ||
			strings.Contains(el.Src, "pinimg.com") ||
			el.Alt != "" ||
			el.Width >= minSize
		if !pin {
			return false, ReasonNotPin
		}
	}

	if isInstagram(host) && !el.closest(isPostContainer) {
		return false, ReasonNotPost
	}

	aspect := el.Width / el.Height
	if aspect < minAspect || aspect > maxAspect {
		return false, ReasonAspectRatio
	}

	return true, ""
}

// closest checks the element itself and then its ancestors.
func (el Element) closest(match func(Node) bool) bool {
	if match(el.Node) {
		return true
	}
	for _, n := range el.Ancestors {
		if match(n) {
			return true
		}
	}
	return false
}

func (n Node) hasClass(name string) bool {
	for _, c := range strings.Fields(n.ClassName) {
		if c == name {
			return true
		}
	}
	return false
}

func isPinContainer(n Node) bool {
	if strings.Contains(n.Attrs["data-test-id"], "pin") {
		return true
	}
	if n.Attrs["role"] == "img" {
		return true
	}
	return n.hasClass("pinWrapper") || n.hasClass("gridCentered") || n.hasClass("mainContainer")
}

func isPostContainer(n Node) bool {
	return strings.EqualFold(n.Tag, "article") || n.Attrs["role"] == "presentation"
}

var (
	pinterestSize   = regexp.MustCompile(`/\d+x\d+/`)
	pinterestSuffix = regexp.MustCompile(`_\d+\.`)
	instagramSize   = regexp.MustCompile(`s\d+x\d+`)
	sizeParam       = regexp.MustCompile(`[?&](w|width|h|height)=\d+`)
)

// HighResURL rewrites known size markers toward the original image. The
// result is not checked for existence.
func HighResURL(src, host string) string {
	out := src
	if isPinterest(host) {
		out = pinterestSize.ReplaceAllString(out, "/originals/")
		out = pinterestSuffix.ReplaceAllString(out, "_original.")
	}
	if isInstagram(host) {
		out = instagramSize.ReplaceAllString(out, "s1080x1080")
	}
	return sizeParam.ReplaceAllString(out, "")
}
