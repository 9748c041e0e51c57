package geometry

import (
	"image"
	"image/color"
	"math"
	"testing"
)

func TestNewTransform_InvalidSizes(t *testing.T) {
	cases := []struct {
		name string
		w, h int
		edge int
	}{
		{"zero width", 0, 100, 1024},
		{"zero height", 100, 0, 1024},
		{"negative width", -5, 100, 1024},
		{"zero edge", 100, 100, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewTransform(tc.w, tc.h, tc.edge); err == nil {
				t.Errorf("expected error for %dx%d edge=%d", tc.w, tc.h, tc.edge)
			}
		})
	}
}

func TestTransform_RoundTrip(t *testing.T) {
	// Strongly non-square images are the regression case: a stretch-to-square
	// mapping would fail the round trip off the diagonal.
	sizes := []struct{ w, h int }{
		{1024, 1024},
		{2000, 400},
		{400, 2000},
		{3, 7},
		{1920, 1080},
	}

	for _, size := range sizes {
		tr, err := NewTransform(size.w, size.h, DefaultModelEdge)
		if err != nil {
			t.Fatalf("NewTransform(%d,%d): %v", size.w, size.h, err)
		}

		points := []Point{
			{0, 0},
			{float64(size.w), float64(size.h)},
			{float64(size.w) / 2, float64(size.h) / 2},
			{1, float64(size.h) - 1},
			{float64(size.w) * 0.73, float64(size.h) * 0.21},
		}

		for _, p := range points {
			back := tr.ToImageSpace(tr.ToModelSpace(p))
			if math.Abs(back.X-p.X) > 1e-6 || math.Abs(back.Y-p.Y) > 1e-6 {
				t.Errorf("%dx%d: round trip of %+v gave %+v", size.w, size.h, p, back)
			}
		}
	}
}

func TestTransform_LongSideHitsModelEdge(t *testing.T) {
	tr, err := NewTransform(2000, 400, DefaultModelEdge)
	if err != nil {
		t.Fatal(err)
	}

	cw, ch := tr.ContentSize()
	if cw != DefaultModelEdge {
		t.Errorf("long side should fill the model edge, got %d", cw)
	}
	if ch >= DefaultModelEdge {
		t.Errorf("short side should be letterboxed, got %d", ch)
	}

	// Aspect ratio must survive the mapping (no shear).
	want := float64(400) / float64(2000)
	got := float64(ch) / float64(cw)
	if math.Abs(got-want) > 0.01 {
		t.Errorf("aspect ratio distorted: want %.4f got %.4f", want, got)
	}
}

func TestTransform_BoxRoundTripStaysInBounds(t *testing.T) {
	tr, err := NewTransform(2000, 400, DefaultModelEdge)
	if err != nil {
		t.Fatal(err)
	}

	in := Box{X1: 100, Y1: 50, X2: 900, Y2: 380}
	out := tr.BoxToImageSpace(tr.BoxToModelSpace(in))

	if !out.Valid() {
		t.Fatalf("box lost ordering invariant: %+v", out)
	}
	if out.X1 < 0 || out.Y1 < 0 || out.X2 > 2000 || out.Y2 > 400 {
		t.Errorf("box left the image bounds: %+v", out)
	}
	// Allow one pixel of rounding slack per edge.
	if abs(out.X1-in.X1) > 1 || abs(out.Y1-in.Y1) > 1 || abs(out.X2-in.X2) > 1 || abs(out.Y2-in.Y2) > 1 {
		t.Errorf("box round trip drifted: in=%+v out=%+v", in, out)
	}
}

func TestLetterboxImage_PadsOutsideContent(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 200, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 200; x++ {
			src.Set(x, y, color.RGBA{R: 255, A: 255})
		}
	}

	tr, err := NewTransform(200, 40, 100)
	if err != nil {
		t.Fatal(err)
	}
	boxed := tr.LetterboxImage(src)

	if got := boxed.Bounds().Dx(); got != 100 {
		t.Fatalf("model input must be square, got width %d", got)
	}

	_, ch := tr.ContentSize()
	inside := boxed.RGBAAt(10, ch/2)
	if inside.R < 200 {
		t.Errorf("content region should carry image pixels, got %+v", inside)
	}

	below := boxed.RGBAAt(10, ch+5)
	if below.R != letterboxPad.R || below.G != letterboxPad.G || below.B != letterboxPad.B {
		t.Errorf("padding should be neutral gray, got %+v", below)
	}
}

func TestMaskToImageSpace_RestoresOriginalGrid(t *testing.T) {
	tr, err := NewTransform(2000, 400, DefaultModelEdge)
	if err != nil {
		t.Fatal(err)
	}

	mask := image.NewGray(image.Rect(0, 0, DefaultModelEdge, DefaultModelEdge))
	cw, ch := tr.ContentSize()
	for y := 0; y < ch/2; y++ {
		for x := 0; x < cw/2; x++ {
			mask.SetGray(x, y, color.Gray{Y: 255})
		}
	}

	out := tr.MaskToImageSpace(mask)
	if out.Bounds().Dx() != 2000 || out.Bounds().Dy() != 400 {
		t.Fatalf("output mask must match image size, got %v", out.Bounds())
	}

	if out.GrayAt(100, 50).Y != 255 {
		t.Errorf("expected foreground in mapped quadrant")
	}
	if out.GrayAt(1900, 350).Y != 0 {
		t.Errorf("expected background outside mapped quadrant")
	}
}

func TestInBounds(t *testing.T) {
	if !InBounds(Point{X: 2000, Y: 400}, 2000, 400) {
		t.Error("bounds are inclusive at the far edge")
	}
	if InBounds(Point{X: -1, Y: 0}, 2000, 400) {
		t.Error("negative coordinates are out of bounds")
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
