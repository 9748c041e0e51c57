package imaging

import (
	"image"
	"image/color"
	"testing"

	"layerforge/geometry"
)

func solidRGBA(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func rectMask(w, h int, box geometry.Box) *image.Gray {
	m := NewMask(w, h)
	for y := box.Y1; y < box.Y2; y++ {
		for x := box.X1; x < box.X2; x++ {
			m.SetGray(x, y, color.Gray{Y: 255})
		}
	}
	return m
}

func TestBoundingBox(t *testing.T) {
	m := rectMask(100, 50, geometry.Box{X1: 10, Y1: 5, X2: 40, Y2: 25})
	box, ok := BoundingBox(m)
	if !ok {
		t.Fatal("expected a bounding box")
	}
	want := geometry.Box{X1: 10, Y1: 5, X2: 40, Y2: 25}
	if box != want {
		t.Errorf("got %+v want %+v", box, want)
	}

	if _, ok := BoundingBox(NewMask(10, 10)); ok {
		t.Error("empty mask must not produce a box")
	}
}

func TestBoundingBox_SinglePixelKeepsOrdering(t *testing.T) {
	m := NewMask(10, 10)
	m.SetGray(3, 7, color.Gray{Y: 255})
	box, ok := BoundingBox(m)
	if !ok {
		t.Fatal("expected a box")
	}
	if !box.Valid() {
		t.Errorf("1px box must keep x1<x2,y1<y2: %+v", box)
	}
}

func TestIoU(t *testing.T) {
	a := rectMask(100, 100, geometry.Box{X1: 0, Y1: 0, X2: 50, Y2: 100})
	b := rectMask(100, 100, geometry.Box{X1: 25, Y1: 0, X2: 75, Y2: 100})

	got := IoU(a, b)
	want := 2500.0 / 7500.0
	if got < want-1e-9 || got > want+1e-9 {
		t.Errorf("IoU = %f, want %f", got, want)
	}

	if IoU(NewMask(10, 10), NewMask(10, 10)) != 0 {
		t.Error("two empty masks have IoU 0")
	}
}

func TestMorphology_CloseFillsHoles(t *testing.T) {
	m := rectMask(30, 30, geometry.Box{X1: 5, Y1: 5, X2: 25, Y2: 25})
	m.SetGray(15, 15, color.Gray{Y: 0}) // pinhole

	closed := Close(m, 2)
	if closed.GrayAt(15, 15).Y == 0 {
		t.Error("close should fill a pinhole")
	}
}

func TestDilateErode_Inverse(t *testing.T) {
	m := rectMask(40, 40, geometry.Box{X1: 10, Y1: 10, X2: 30, Y2: 30})
	restored := Erode(Dilate(m, 3), 3)
	if Area(restored) != Area(m) {
		t.Errorf("dilate+erode should restore a convex mask: got %d want %d", Area(restored), Area(m))
	}
}

func TestMergeInpaintResult_ProtectedPixelsUntouched(t *testing.T) {
	original := solidRGBA(20, 20, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	generated := solidRGBA(20, 20, color.RGBA{R: 200, G: 100, B: 50, A: 255})
	mask := rectMask(20, 20, geometry.Box{X1: 5, Y1: 5, X2: 10, Y2: 10})

	out := MergeInpaintResult(original, generated, mask)

	for y := 0; y < 20; y++ {
		for x := 0; x < 20; x++ {
			off := y*out.Stride + x*4
			inMask := x >= 5 && x < 10 && y >= 5 && y < 10
			if inMask {
				if out.Pix[off] != 200 {
					t.Fatalf("masked pixel (%d,%d) should take generated color", x, y)
				}
			} else {
				for c := 0; c < 4; c++ {
					if out.Pix[off+c] != original.Pix[off+c] {
						t.Fatalf("protected pixel (%d,%d) modified", x, y)
					}
				}
			}
		}
	}
}

func TestResizeLongEdge(t *testing.T) {
	img := solidRGBA(2000, 400, color.RGBA{R: 99, A: 255})
	mask := rectMask(2000, 400, geometry.Box{X1: 0, Y1: 0, X2: 1000, Y2: 400})

	outImg, outMask, w, h := ResizeLongEdge(img, mask, 1024)
	if w != 2000 || h != 400 {
		t.Fatalf("original size misreported: %dx%d", w, h)
	}

	ob := outImg.Bounds()
	if ob.Dx() > 1024 {
		t.Errorf("long edge %d exceeds target", ob.Dx())
	}
	if ob.Dx()%8 != 0 || ob.Dy()%8 != 0 {
		t.Errorf("dimensions must snap to multiples of 8: %dx%d", ob.Dx(), ob.Dy())
	}
	if ob.Dx() < 8 || ob.Dy() < 8 {
		t.Errorf("dimensions must not collapse below 8: %dx%d", ob.Dx(), ob.Dy())
	}
	if outMask.Bounds() != ob {
		t.Error("mask and image must resize together")
	}
}

func TestResizeLongEdge_NoopWhenSmall(t *testing.T) {
	img := solidRGBA(100, 60, color.RGBA{A: 255})
	mask := NewMask(100, 60)
	outImg, _, _, _ := ResizeLongEdge(img, mask, 1024)
	if outImg != img {
		t.Error("images under the target should pass through unchanged")
	}
}

func TestApplyAlphaMask(t *testing.T) {
	img := solidRGBA(10, 10, color.RGBA{R: 50, G: 60, B: 70, A: 255})
	mask := rectMask(10, 10, geometry.Box{X1: 0, Y1: 0, X2: 5, Y2: 10})

	out := ApplyAlphaMask(img, mask)
	if out.RGBAAt(2, 2).A != 255 {
		t.Error("foreground must stay opaque")
	}
	if out.RGBAAt(7, 2).A != 0 {
		t.Error("background must become transparent")
	}
	if img.RGBAAt(7, 2).A != 255 {
		t.Error("input image must not be mutated")
	}
}

func TestAutoRestoreMask_BandOutsideSilhouette(t *testing.T) {
	obj := solidRGBA(60, 60, color.RGBA{})
	for y := 20; y < 40; y++ {
		for x := 20; x < 40; x++ {
			obj.SetRGBA(x, y, color.RGBA{R: 100, G: 100, B: 100, A: 255})
		}
	}

	band := AutoRestoreMask(obj)
	if Area(band) == 0 {
		t.Fatal("expected a non-empty restore band")
	}
	// The band must not overlap the visible silhouette.
	for y := 0; y < 60; y++ {
		for x := 0; x < 60; x++ {
			if band.GrayAt(x, y).Y > 0 && obj.RGBAAt(x, y).A > 0 {
				t.Fatalf("band overlaps silhouette at (%d,%d)", x, y)
			}
		}
	}
}

func TestAutoRestoreMask_EmptyAlpha(t *testing.T) {
	if Area(AutoRestoreMask(solidRGBA(30, 30, color.RGBA{}))) != 0 {
		t.Error("fully transparent layers have nothing to restore")
	}
}

func TestCleanEdges_InteriorUntouched(t *testing.T) {
	img := solidRGBA(40, 40, color.RGBA{})
	for y := 10; y < 30; y++ {
		for x := 10; x < 30; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 120, G: 130, B: 140, A: 255})
		}
	}
	// Halo pixel: partial alpha at the boundary.
	img.SetRGBA(10, 20, color.RGBA{R: 255, G: 255, B: 255, A: 128})

	mask := rectMask(40, 40, geometry.Box{X1: 10, Y1: 10, X2: 30, Y2: 30})
	out := CleanEdges(img, mask, EdgeCleanupParams{Enabled: true, Strength: 60})

	center := out.RGBAAt(20, 20)
	if center.R != 120 || center.A != 255 {
		t.Errorf("fully-opaque interior pixel modified: %+v", center)
	}

	halo := out.RGBAAt(10, 20)
	if halo.R == 255 {
		t.Error("halo pixel should be pulled toward the interior color")
	}
}

func TestCleanEdges_DisabledIsIdentity(t *testing.T) {
	img := solidRGBA(10, 10, color.RGBA{R: 5, A: 255})
	mask := rectMask(10, 10, geometry.Box{X1: 0, Y1: 0, X2: 10, Y2: 10})
	if out := CleanEdges(img, mask, EdgeCleanupParams{Enabled: false}); out != img {
		t.Error("disabled cleanup must return the input unchanged")
	}
}

func TestEdgeCleanupParams_Validate(t *testing.T) {
	cases := []struct {
		name    string
		p       EdgeCleanupParams
		wantErr bool
	}{
		{"defaults", DefaultEdgeCleanup(), false},
		{"strength too high", EdgeCleanupParams{Strength: 150}, true},
		{"negative feather", EdgeCleanupParams{FeatherPx: -1}, true},
		{"erode too large", EdgeCleanupParams{ErodePx: 9}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.p.Validate(); (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestEstimateForeground_StaysInsideROI(t *testing.T) {
	// Dark object on a light background.
	patch := solidRGBA(50, 50, color.RGBA{R: 230, G: 230, B: 230, A: 255})
	for y := 15; y < 35; y++ {
		for x := 15; x < 35; x++ {
			patch.SetRGBA(x, y, color.RGBA{R: 20, G: 20, B: 20, A: 255})
		}
	}
	roi := rectMask(50, 50, geometry.Box{X1: 10, Y1: 10, X2: 40, Y2: 40})

	fg := EstimateForeground(patch, roi, nil, nil)
	if Area(fg) == 0 {
		t.Fatal("expected foreground pixels")
	}
	for y := 0; y < 50; y++ {
		for x := 0; x < 50; x++ {
			if fg.GrayAt(x, y).Y > 0 && roi.GrayAt(x, y).Y == 0 {
				t.Fatalf("foreground leaked outside ROI at (%d,%d)", x, y)
			}
		}
	}
	if fg.GrayAt(25, 25).Y == 0 {
		t.Error("object center should be foreground")
	}
}

func TestRenderOverlay(t *testing.T) {
	mask := rectMask(20, 20, geometry.Box{X1: 0, Y1: 0, X2: 10, Y2: 20})
	overlay := RenderOverlay(mask)

	set := overlay.RGBAAt(5, 5)
	if set.R != 255 || set.A != 90 {
		t.Errorf("overlay should be red at alpha 90, got %+v", set)
	}
	if overlay.RGBAAt(15, 5).A != 0 {
		t.Error("overlay should be transparent outside the mask")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	img := solidRGBA(16, 16, color.RGBA{R: 1, G: 2, B: 3, A: 255})
	data, err := EncodePNG(img)
	if err != nil {
		t.Fatal(err)
	}
	if !IsPNG(data) {
		t.Error("encoded data should carry the PNG signature")
	}
	back, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	got := ToRGBA(back).RGBAAt(8, 8)
	if got != (color.RGBA{R: 1, G: 2, B: 3, A: 255}) {
		t.Errorf("round trip altered pixels: %+v", got)
	}
}
