// Package geometry implements the coordinate mapping between original image
// pixel space and the segmentation model's fixed input space.
//
// The mapping is an aspect-preserving letterbox: the longest image side is
// scaled to the model edge and the remainder is padded with a neutral value.
// A stretch-to-square mapping would shear masks on non-square images, so the
// letterbox behavior is a correctness requirement, not a tuning choice.
package geometry

import "fmt"

// DefaultModelEdge is the side length of the square model input space.
const DefaultModelEdge = 1024

// Point is a coordinate pair. The space it lives in (image or model) is
// determined by which direction of the transform produced it.
type Point struct {
	X float64
	Y float64
}

// Box is an axis-aligned rectangle with the invariant X1 < X2, Y1 < Y2,
// expressed as [x1,y1,x2,y2] like every bounding box crossing the API.
type Box struct {
	X1 int
	Y1 int
	X2 int
	Y2 int
}

// Valid reports whether the box satisfies its ordering invariant.
func (b Box) Valid() bool {
	return b.X1 < b.X2 && b.Y1 < b.Y2
}

// Width returns the horizontal extent of the box.
func (b Box) Width() int { return b.X2 - b.X1 }

// Height returns the vertical extent of the box.
func (b Box) Height() int { return b.Y2 - b.Y1 }

// Transform maps between original image space and the model input space.
//
// The scaled image content is anchored at the model-space origin with the
// padding on the right/bottom, so both directions reduce to a single scale
// factor and the round trip is exact up to floating point.
type Transform struct {
	imageW int
	imageH int
	edge   int
	scale  float64
}

// NewTransform builds the letterbox transform for an image of the given size
// into a square model input of edge x edge pixels.
func NewTransform(imageW, imageH, edge int) (*Transform, error) {
	if imageW <= 0 || imageH <= 0 {
		return nil, fmt.Errorf("image size must be positive, got %dx%d", imageW, imageH)
	}
	if edge <= 0 {
		return nil, fmt.Errorf("model edge must be positive, got %d", edge)
	}

	long := imageW
	if imageH > long {
		long = imageH
	}

	return &Transform{
		imageW: imageW,
		imageH: imageH,
		edge:   edge,
		scale:  float64(edge) / float64(long),
	}, nil
}

// Scale returns the image-to-model scale factor.
func (t *Transform) Scale() float64 { return t.scale }

// ImageSize returns the original image dimensions.
func (t *Transform) ImageSize() (w, h int) { return t.imageW, t.imageH }

// ModelEdge returns the side length of the square model input.
func (t *Transform) ModelEdge() int { return t.edge }

// ContentSize returns the dimensions the image content occupies inside the
// model input, before padding. The long side equals the model edge.
func (t *Transform) ContentSize() (w, h int) {
	return scaledDim(t.imageW, t.scale), scaledDim(t.imageH, t.scale)
}

// ToModelSpace maps a point from original image space to model input space.
func (t *Transform) ToModelSpace(p Point) Point {
	return Point{X: p.X * t.scale, Y: p.Y * t.scale}
}

// ToImageSpace maps a point from model input space back to image space.
// It is the exact inverse of ToModelSpace.
func (t *Transform) ToImageSpace(p Point) Point {
	return Point{X: p.X / t.scale, Y: p.Y / t.scale}
}

// BoxToModelSpace maps a box from image space to model space.
func (t *Transform) BoxToModelSpace(b Box) Box {
	return Box{
		X1: int(float64(b.X1) * t.scale),
		Y1: int(float64(b.Y1) * t.scale),
		X2: roundUp(float64(b.X2) * t.scale),
		Y2: roundUp(float64(b.Y2) * t.scale),
	}
}

// BoxToImageSpace maps a box from model space back to image space, clamping
// to the image bounds so downstream crops never leave the canvas.
func (t *Transform) BoxToImageSpace(b Box) Box {
	out := Box{
		X1: int(float64(b.X1) / t.scale),
		Y1: int(float64(b.Y1) / t.scale),
		X2: roundUp(float64(b.X2) / t.scale),
		Y2: roundUp(float64(b.Y2) / t.scale),
	}
	return out.Clamp(t.imageW, t.imageH)
}

// Clamp restricts the box to [0,w] x [0,h].
func (b Box) Clamp(w, h int) Box {
	out := b
	if out.X1 < 0 {
		out.X1 = 0
	}
	if out.Y1 < 0 {
		out.Y1 = 0
	}
	if out.X2 > w {
		out.X2 = w
	}
	if out.Y2 > h {
		out.Y2 = h
	}
	return out
}

// InBounds reports whether the point lies inside an image of the given size.
// Bounds are inclusive both ends, matching the prompt coordinate invariant.
func InBounds(p Point, w, h int) bool {
	return p.X >= 0 && p.X <= float64(w) && p.Y >= 0 && p.Y <= float64(h)
}

func scaledDim(dim int, scale float64) int {
	s := int(float64(dim)*scale + 0.5)
	if s < 1 {
		s = 1
	}
	return s
}

func roundUp(v float64) int {
	i := int(v)
	if v > float64(i) {
		return i + 1
	}
	return i
}
