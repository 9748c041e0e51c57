package segmentation

import (
	"context"
	"image"
	"image/color"
	"math"
	"sync/atomic"

	"layerforge/geometry"
)

// StubBackbone is a deterministic stand-in for the native segmentation
// runtime. It lets the whole service run without model weights: Embed
// remembers the content size, Decode proposes axis-aligned regions around
// the prompt. Useful for development and exercised heavily by tests.
type StubBackbone struct {
	// Halo is the half-width, in model-space pixels, of the region a
	// point prompt selects. Zero means the 48px default.
	Halo int

	embedCalls atomic.Int64
}

// EmbedCalls reports how many Embed invocations the stub has served. Tests
// use it to verify the cache's single-flight behavior.
func (b *StubBackbone) EmbedCalls() int64 { return b.embedCalls.Load() }

func (b *StubBackbone) halo() int {
	if b.Halo > 0 {
		return b.Halo
	}
	return 48
}

// Embed hashes nothing and learns nothing; the stub only needs the input
// dimensions, which the cache carries on the Embedding itself.
func (b *StubBackbone) Embed(ctx context.Context, input *image.RGBA) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.embedCalls.Add(1)
	bounds := input.Bounds()
	return []float32{float32(bounds.Dx()), float32(bounds.Dy())}, nil
}

// Decode fills a rectangle around the foreground points (or the box) with
// probability 1, carving out a small hole around each background point.
// Multimask mode returns three nested candidates with distinct confidences.
func (b *StubBackbone) Decode(ctx context.Context, emb *Embedding, req DecodeRequest) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	base := b.regionFor(emb, req)
	if !req.Multimask {
		return []Candidate{b.candidate(emb, base, req, 0.95)}, nil
	}
	out := make([]Candidate, 0, 3)
	for i, conf := range []float64{0.90, 0.97, 0.93} {
		shrunk := shrinkRect(base, i*b.halo()/4)
		out = append(out, b.candidate(emb, shrunk, req, conf))
	}
	return out, nil
}

// DecodeBatch decodes each point as a single foreground click.
func (b *StubBackbone) DecodeBatch(ctx context.Context, emb *Embedding, points []geometry.Point) ([][]Candidate, error) {
	out := make([][]Candidate, len(points))
	for i, p := range points {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cands, err := b.Decode(ctx, emb, DecodeRequest{
			Points: []geometry.Point{p},
			Labels: []int{LabelForeground},
		})
		if err != nil {
			return nil, err
		}
		out[i] = cands
	}
	return out, nil
}

func (b *StubBackbone) regionFor(emb *Embedding, req DecodeRequest) image.Rectangle {
	if req.Box != nil {
		return image.Rect(req.Box.X1, req.Box.Y1, req.Box.X2, req.Box.Y2)
	}
	if req.Text != "" && len(req.Points) == 0 {
		// Text prompts select the center quarter of the content.
		return image.Rect(emb.ContentW/4, emb.ContentH/4, emb.ContentW*3/4, emb.ContentH*3/4)
	}
	h := b.halo()
	rect := image.Rectangle{}
	first := true
	for i, p := range req.Points {
		if len(req.Labels) > i && req.Labels[i] != LabelForeground {
			continue
		}
		r := image.Rect(int(p.X)-h, int(p.Y)-h, int(p.X)+h, int(p.Y)+h)
		if first {
			rect = r
			first = false
		} else {
			rect = rect.Union(r)
		}
	}
	return rect
}

func (b *StubBackbone) candidate(emb *Embedding, rect image.Rectangle, req DecodeRequest, conf float64) Candidate {
	prob := image.NewGray(image.Rect(0, 0, emb.Edge, emb.Edge))
	content := image.Rect(0, 0, emb.ContentW, emb.ContentH)
	rect = rect.Intersect(content)
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			prob.SetGray(x, y, color.Gray{Y: 255})
		}
	}
	hole := b.halo() / 4
	for i, p := range req.Points {
		if len(req.Labels) <= i || req.Labels[i] != LabelBackground {
			continue
		}
		for y := int(p.Y) - hole; y < int(p.Y)+hole; y++ {
			for x := int(p.X) - hole; x < int(p.X)+hole; x++ {
				if image.Pt(x, y).In(content) {
					prob.SetGray(x, y, color.Gray{})
				}
			}
		}
	}
	return Candidate{Prob: prob, Confidence: conf}
}

func shrinkRect(r image.Rectangle, by int) image.Rectangle {
	out := image.Rect(r.Min.X+by, r.Min.Y+by, r.Max.X-by, r.Max.Y-by)
	if out.Dx() < 2 || out.Dy() < 2 {
		mid := image.Pt((r.Min.X+r.Max.X)/2, (r.Min.Y+r.Max.Y)/2)
		side := int(math.Max(1, float64(r.Dx())/4))
		out = image.Rect(mid.X-side, mid.Y-side, mid.X+side, mid.Y+side)
	}
	return out
}
