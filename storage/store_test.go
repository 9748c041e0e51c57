package storage

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"layerforge/core"
	"layerforge/imaging"
	"layerforge/logging"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir(), logging.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 7, A: 255})
		}
	}
	data, err := imaging.EncodePNG(img)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestSaveImage_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	asset, err := store.SaveImage(ctx, pngBytes(t, 40, 30))
	if err != nil {
		t.Fatalf("SaveImage: %v", err)
	}
	if len(asset.ID) != 32 {
		t.Errorf("id %q, want 32 hex chars", asset.ID)
	}
	if asset.Kind != KindImage || asset.Width != 40 || asset.Height != 30 {
		t.Errorf("asset metadata wrong: %+v", asset)
	}

	img, err := store.LoadImage(ctx, asset.ID)
	if err != nil {
		t.Fatalf("LoadImage: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 40 || b.Dy() != 30 {
		t.Errorf("loaded size %v, want 40x30", b.Size())
	}

	got, err := store.Get(ctx, asset.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != asset.ID || got.Kind != KindImage {
		t.Errorf("Get = %+v", got)
	}
}

func TestSaveImage_RejectsGarbage(t *testing.T) {
	store := newTestStore(t)
	for _, data := range [][]byte{nil, {}, []byte("not an image")} {
		if _, err := store.SaveImage(context.Background(), data); !errors.Is(err, core.ErrInvalidInput) {
			t.Errorf("SaveImage(%d bytes): err = %v, want ErrInvalidInput", len(data), err)
		}
	}
}

func TestGet_NotFound(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Get(context.Background(), "deadbeefdeadbeefdeadbeefdeadbeef"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if _, err := store.LoadImage(context.Background(), "deadbeefdeadbeefdeadbeefdeadbeef"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("LoadImage err = %v, want ErrNotFound", err)
	}
}

func TestSaveDerived(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	parent, err := store.SaveImage(ctx, pngBytes(t, 20, 20))
	if err != nil {
		t.Fatal(err)
	}

	mask := image.NewGray(image.Rect(0, 0, 20, 20))
	derived, err := store.SaveDerived(ctx, KindMask, parent.ID, mask)
	if err != nil {
		t.Fatalf("SaveDerived: %v", err)
	}
	if derived.ParentID != parent.ID {
		t.Errorf("parent = %q, want %q", derived.ParentID, parent.ID)
	}

	if _, err := store.SaveDerived(ctx, KindMask, "deadbeefdeadbeefdeadbeefdeadbeef", mask); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("orphan derived: err = %v, want ErrNotFound", err)
	}
	if _, err := store.SaveDerived(ctx, "banana", parent.ID, mask); !errors.Is(err, core.ErrInvalidInput) {
		t.Errorf("bad kind: err = %v, want ErrInvalidInput", err)
	}

	children, err := store.ListByParent(ctx, parent.ID)
	if err != nil {
		t.Fatalf("ListByParent: %v", err)
	}
	if len(children) != 1 || children[0].ID != derived.ID {
		t.Errorf("children = %+v", children)
	}
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	asset, err := store.SaveImage(ctx, pngBytes(t, 8, 8))
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, asset.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, asset.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("after delete: err = %v, want ErrNotFound", err)
	}
	if err := store.Delete(ctx, asset.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("double delete: err = %v, want ErrNotFound", err)
	}
}
