package segmentation

import (
	"context"
	"image"

	"layerforge/geometry"
)

// Embedding holds the backbone features for one image, plus the letterbox
// transform that produced the model input. Features are opaque to this
// package; only the backbone that produced them can decode against them.
type Embedding struct {
	ImageID  string
	Features []float32
	Edge     int
	// ContentW/ContentH is the scaled content region inside the square
	// model input (the rest is padding).
	ContentW int
	ContentH int
}

// DecodeRequest carries one prompt set in model space.
type DecodeRequest struct {
	Points    []geometry.Point
	Labels    []int
	Box       *geometry.Box
	Text      string
	Multimask bool
}

// Candidate is one raw mask proposal from the decoder: a probability map
// over the full model-space square and the model's own quality score.
type Candidate struct {
	Prob       *image.Gray
	Confidence float64
}

// Backbone is the segmentation model. Implementations wrap the native
// runtime behind cgo; StubBackbone stands in when no weights are present.
//
// Embed consumes the letterboxed square input and returns the opaque
// feature blob. Decode runs the prompt decoder against a cached embedding.
// DecodeBatch decodes many single-point foreground prompts in one call so
// that peak memory is bounded by the batch size, returning candidates per
// point in input order.
type Backbone interface {
	Embed(ctx context.Context, input *image.RGBA) ([]float32, error)
	Decode(ctx context.Context, emb *Embedding, req DecodeRequest) ([]Candidate, error)
	DecodeBatch(ctx context.Context, emb *Embedding, points []geometry.Point) ([][]Candidate, error)
}
