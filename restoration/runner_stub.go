package restoration

import (
	"context"
	"image"
	"sync/atomic"

	"layerforge/imaging"
)

// StubRunner is a deterministic stand-in for a native diffusion backend.
// It paints the masked region with the mean color of the unmasked pixels,
// which is stable across runs and cheap enough for tests and development
// without weights.
type StubRunner struct {
	calls atomic.Int64
}

// Calls reports how many Inpaint invocations the stub has served.
func (r *StubRunner) Calls() int64 { return r.calls.Load() }

func (r *StubRunner) Inpaint(ctx context.Context, img *image.RGBA, mask *image.Gray, _ Params) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.calls.Add(1)
	b := img.Bounds()
	var sumR, sumG, sumB, n uint64
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			if mask.Pix[y*mask.Stride+x] > 0 {
				continue
			}
			off := y*img.Stride + x*4
			sumR += uint64(img.Pix[off])
			sumG += uint64(img.Pix[off+1])
			sumB += uint64(img.Pix[off+2])
			n++
		}
	}
	fillR, fillG, fillB := uint8(127), uint8(127), uint8(127)
	if n > 0 {
		fillR, fillG, fillB = uint8(sumR/n), uint8(sumG/n), uint8(sumB/n)
	}
	out := imaging.CloneRGBA(img)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			if mask.Pix[y*mask.Stride+x] == 0 {
				continue
			}
			off := y*out.Stride + x*4
			out.Pix[off] = fillR
			out.Pix[off+1] = fillG
			out.Pix[off+2] = fillB
			out.Pix[off+3] = 255
		}
	}
	return out, nil
}

// StubRuntime serves the same StubRunner for every engine.
type StubRuntime struct {
	Runner StubRunner
}

func (rt *StubRuntime) Acquire(ctx context.Context, engine Engine) (DiffusionRunner, error) {
	if _, err := ParseEngine(string(engine)); err != nil {
		return nil, err
	}
	return &rt.Runner, nil
}
