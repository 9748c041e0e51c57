// Package segmentation turns interactive prompts into object masks. It owns
// the per-image embedding cache, the prompt-driven segmenter, and the
// exhaustive grid segmenter, all sharing one opaque backbone.
package segmentation

import (
	"image"

	"layerforge/core"
	"layerforge/geometry"
	"layerforge/imaging"
)

// Point labels for point prompts.
const (
	LabelBackground = 0
	LabelForeground = 1
)

// PromptKind discriminates the prompt union.
type PromptKind int

const (
	PromptPoint PromptKind = iota
	PromptBox
	PromptText
)

// Prompt is a tagged union: exactly one of the payload fields is meaningful
// for its Kind. Coordinates are always in original image space.
type Prompt struct {
	Kind PromptKind

	// Point prompt payload.
	X     float64
	Y     float64
	Label int

	// Box prompt payload.
	Box geometry.Box

	// Text prompt payload.
	Text string
}

// NewPointPrompt builds a point prompt.
func NewPointPrompt(x, y float64, label int) Prompt {
	return Prompt{Kind: PromptPoint, X: x, Y: y, Label: label}
}

// NewBoxPrompt builds a box prompt.
func NewBoxPrompt(box geometry.Box) Prompt {
	return Prompt{Kind: PromptBox, Box: box}
}

// NewTextPrompt builds a text prompt.
func NewTextPrompt(phrase string) Prompt {
	return Prompt{Kind: PromptText, Text: phrase}
}

// validatePrompts rejects empty prompt lists and out-of-bounds coordinates
// before any model work happens.
func validatePrompts(prompts []Prompt, imageW, imageH int) error {
	if len(prompts) == 0 {
		return core.InvalidInputf("at least one prompt (point, box, or text) is required")
	}
	for i, p := range prompts {
		switch p.Kind {
		case PromptPoint:
			if p.Label != LabelForeground && p.Label != LabelBackground {
				return core.InvalidInputf("prompt %d: label must be 0 (background) or 1 (foreground)", i)
			}
			if !geometry.InBounds(geometry.Point{X: p.X, Y: p.Y}, imageW, imageH) {
				return core.InvalidInputf("prompt %d: point (%.1f,%.1f) outside %dx%d image", i, p.X, p.Y, imageW, imageH)
			}
		case PromptBox:
			if !p.Box.Valid() {
				return core.InvalidInputf("prompt %d: box must satisfy x1<x2, y1<y2", i)
			}
			clamped := p.Box.Clamp(imageW, imageH)
			if clamped != p.Box {
				return core.InvalidInputf("prompt %d: box %+v outside %dx%d image", i, p.Box, imageW, imageH)
			}
		case PromptText:
			if p.Text == "" {
				return core.InvalidInputf("prompt %d: text prompt must not be empty", i)
			}
		default:
			return core.InvalidInputf("prompt %d: unknown prompt kind %d", i, p.Kind)
		}
	}
	return nil
}

// Result is one segmented object, everything in original image space.
type Result struct {
	// Mask is the binary mask at full image size.
	Mask *image.Gray
	// BBox is the tight box around the mask, x1<x2 and y1<y2.
	BBox geometry.Box
	// Confidence is the model's score in [0,1].
	Confidence float64
	// Object is the RGBA crop of the base image under the mask.
	Object *image.RGBA
	// Overlay is the full-size selection visualization.
	Overlay *image.RGBA
}

// Options tunes a single Segment call.
type Options struct {
	// Multimask asks the backbone for several candidates per prompt; the
	// segmenter selects by confidence, larger area, then candidate index.
	Multimask bool
	// Threshold binarizes the probability map; zero means the 0.5 default.
	Threshold float64
	// EdgeCleanup, when non-nil, post-processes the produced object layer's
	// alpha edges. It never touches the base image.
	EdgeCleanup *EdgeCleanupRef
}

// EdgeCleanupRef mirrors imaging.EdgeCleanupParams at the API boundary.
type EdgeCleanupRef struct {
	Enabled   bool
	Strength  int
	FeatherPx int
	ErodePx   int
}

func (r *EdgeCleanupRef) params() imaging.EdgeCleanupParams {
	return imaging.EdgeCleanupParams{
		Enabled:   r.Enabled,
		Strength:  r.Strength,
		FeatherPx: r.FeatherPx,
		ErodePx:   r.ErodePx,
	}
}

// DefaultThreshold is the binarization cutoff when the caller passes zero.
const DefaultThreshold = 0.5
