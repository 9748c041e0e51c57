package server

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"layerforge/lifecycle"
	"layerforge/restoration"
	"layerforge/segmentation"
	"layerforge/storage"
)

func newTestServer(t *testing.T, loader lifecycle.Loader) *Server {
	t.Helper()
	store, err := storage.Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cache := segmentation.NewEmbeddingCache(&segmentation.StubBackbone{}, 0, nil)
	segmenter := segmentation.NewSegmenter(store, cache, nil)
	if loader == nil {
		loader = lifecycle.StubLoader{}
	}
	manager := lifecycle.NewManager(loader, nil)
	manager.OnReload(cache.InvalidateAll)
	pipeline := restoration.NewPipeline(manager, segmenter, nil)

	return New(DefaultConfig(), store, segmenter, pipeline, manager, nil)
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func testImage(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 230, G: 230, B: 230, A: 255})
		}
	}
	// a distinct block so segmentation has something to find
	for y := h / 4; y < h/2; y++ {
		for x := w / 4; x < w/2; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 30, G: 90, B: 200, A: 255})
		}
	}
	return encodePNG(t, img)
}

// objectImage builds an object-layer PNG: an opaque blob surrounded by
// transparent padding, so the automatic restore mask is non-empty.
func objectImage(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := h / 4; y < 3*h/4; y++ {
		for x := w / 4; x < 3*w/4; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 200, G: 60, B: 60, A: 255})
		}
	}
	return encodePNG(t, img)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func uploadImage(t *testing.T, h http.Handler, data []byte) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/images", bytes.NewReader(data))
	req.Header.Set("Content-Type", "image/png")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload: got status %d: %s", rec.Code, rec.Body.String())
	}
	var asset struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &asset); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	if len(asset.ID) != 32 {
		t.Fatalf("asset id = %q, want 32 hex chars", asset.ID)
	}
	return asset.ID
}

func TestUploadAndFetchAsset(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.Handler()

	id := uploadImage(t, h, testImage(t, 64, 48))

	req := httptest.NewRequest(http.MethodGet, "/assets/"+id, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("get asset: status %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("content type = %q, want image/png", ct)
	}
	decoded, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("returned asset is not a PNG: %v", err)
	}
	if decoded.Bounds().Dx() != 64 || decoded.Bounds().Dy() != 48 {
		t.Fatalf("asset size = %v, want 64x48", decoded.Bounds())
	}

	rec = doJSON(t, h, http.MethodGet, "/assets/"+id+"/meta", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get meta: status %d", rec.Code)
	}
	var meta struct {
		Asset struct {
			Kind   string `json:"kind"`
			Width  int    `json:"width"`
			Height int    `json:"height"`
		} `json:"asset"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &meta); err != nil {
		t.Fatalf("decode meta: %v", err)
	}
	if meta.Asset.Kind != storage.KindImage || meta.Asset.Width != 64 || meta.Asset.Height != 48 {
		t.Fatalf("unexpected meta: %+v", meta.Asset)
	}
}

func TestGetAsset_UnknownIDIsNotFound(t *testing.T) {
	s := newTestServer(t, nil)
	rec := doJSON(t, s.Handler(), http.MethodGet, "/assets/deadbeefdeadbeefdeadbeefdeadbeef", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if body.Error.Code != "not_found" {
		t.Fatalf("error code = %q, want not_found", body.Error.Code)
	}
}

func TestUpload_BadDataIsInvalidInput(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/images", strings.NewReader("not an image"))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSegment_PointPrompt(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.Handler()
	id := uploadImage(t, h, testImage(t, 128, 96))

	rec := doJSON(t, h, http.MethodPost, "/images/"+id+"/segment", map[string]any{
		"prompts": []map[string]any{{"type": "point", "x": 40.0, "y": 30.0}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("segment: status %d: %s", rec.Code, rec.Body.String())
	}
	var resp segmentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode segment response: %v", err)
	}
	if resp.ObjectAssetID == "" || resp.MaskAssetID == "" || resp.OverlayAssetID == "" {
		t.Fatalf("missing asset ids in response: %+v", resp)
	}
	if resp.Confidence <= 0 || resp.Confidence > 1 {
		t.Fatalf("confidence = %g, want (0,1]", resp.Confidence)
	}
	if resp.BBox.X2 <= resp.BBox.X1 || resp.BBox.Y2 <= resp.BBox.Y1 {
		t.Fatalf("degenerate bbox: %+v", resp.BBox)
	}

	// derived assets must hang off the source image
	recMeta := doJSON(t, h, http.MethodGet, "/assets/"+id+"/meta", nil)
	var meta struct {
		Children []struct {
			Kind string `json:"kind"`
		} `json:"children"`
	}
	if err := json.Unmarshal(recMeta.Body.Bytes(), &meta); err != nil {
		t.Fatalf("decode meta: %v", err)
	}
	if len(meta.Children) != 3 {
		t.Fatalf("children = %d, want 3 (object, mask, overlay)", len(meta.Children))
	}
}

func TestSegment_EmptyPromptsRejected(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.Handler()
	id := uploadImage(t, h, testImage(t, 64, 64))

	rec := doJSON(t, h, http.MethodPost, "/images/"+id+"/segment", map[string]any{
		"prompts": []map[string]any{},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSegment_UnknownPromptTypeRejected(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.Handler()
	id := uploadImage(t, h, testImage(t, 64, 64))

	rec := doJSON(t, h, http.MethodPost, "/images/"+id+"/segment", map[string]any{
		"prompts": []map[string]any{{"type": "scribble"}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSegmentAll_ReturnsObjects(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.Handler()
	id := uploadImage(t, h, testImage(t, 128, 128))

	rec := doJSON(t, h, http.MethodPost, "/images/"+id+"/segment_all", map[string]any{
		"grid_points": 4,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("segment_all: status %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Count   int               `json:"count"`
		Objects []segmentResponse `json:"objects"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Count != len(resp.Objects) || resp.Count == 0 {
		t.Fatalf("count = %d, objects = %d", resp.Count, len(resp.Objects))
	}
	for i, obj := range resp.Objects {
		if obj.ObjectAssetID == "" || obj.MaskAssetID == "" {
			t.Fatalf("object %d missing asset ids", i)
		}
		if obj.OverlayAssetID != "" {
			t.Fatalf("object %d: sweep results should not store overlays", i)
		}
	}
}

func TestRestoreObject_CacheHitOnRepeat(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.Handler()
	id := uploadImage(t, h, objectImage(t, 64, 64))

	body := map[string]any{
		"asset_id": id,
		"engine":   "sd15_inpaint",
		"params":   map[string]any{"seed": 7},
	}
	rec := doJSON(t, h, http.MethodPost, "/restore_object", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("restore: status %d: %s", rec.Code, rec.Body.String())
	}
	var first struct {
		AssetID  string `json:"asset_id"`
		CacheHit bool   `json:"cache_hit"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &first); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if first.CacheHit {
		t.Fatal("first call reported a cache hit")
	}
	if first.AssetID == "" {
		t.Fatal("no asset id returned")
	}

	rec = doJSON(t, h, http.MethodPost, "/restore_object", body)
	var second struct {
		CacheHit bool `json:"cache_hit"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &second); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !second.CacheHit {
		t.Fatal("repeat call with identical inputs missed the cache")
	}
}

func TestRestoreObject_UnknownEngineRejected(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.Handler()
	id := uploadImage(t, h, testImage(t, 32, 32))

	rec := doJSON(t, h, http.MethodPost, "/restore_object", map[string]any{
		"asset_id": id,
		"engine":   "dalle_unlimited",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestRestoreObject_MissingWeightsIs503(t *testing.T) {
	s := newTestServer(t, lifecycle.NewWeightsLoader(t.TempDir(), nil))
	h := s.Handler()
	id := uploadImage(t, h, objectImage(t, 32, 32))

	rec := doJSON(t, h, http.MethodPost, "/restore_object", map[string]any{
		"asset_id": id,
	})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Error struct {
			Code        string   `json:"code"`
			Suggestions []string `json:"suggestions"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if body.Error.Code != "weights_missing" {
		t.Fatalf("error code = %q, want weights_missing", body.Error.Code)
	}
	if len(body.Error.Suggestions) == 0 {
		t.Fatal("expected precache suggestion in error")
	}
}

func TestRoiSplit_ProducesTwoLayers(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.Handler()
	id := uploadImage(t, h, testImage(t, 128, 128))

	rec := doJSON(t, h, http.MethodPost, "/images/"+id+"/roi_split", map[string]any{
		"roi":    map[string]int{"x1": 20, "y1": 20, "x2": 80, "y2": 80},
		"engine": "sd15_inpaint",
		"params": map[string]any{"seed": 1},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("roi_split: status %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		ForegroundAssetID string `json:"foreground_asset_id"`
		BackgroundAssetID string `json:"background_asset_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ForegroundAssetID == "" || resp.BackgroundAssetID == "" {
		t.Fatalf("missing layer ids: %+v", resp)
	}
}

func TestDecomposeArea_ReturnsLayerIDs(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.Handler()
	id := uploadImage(t, h, testImage(t, 128, 128))

	rec := doJSON(t, h, http.MethodPost, "/images/"+id+"/decompose_area", map[string]any{
		"roi":        map[string]int{"x1": 0, "y1": 0, "x2": 128, "y2": 128},
		"num_layers": 3,
		"engine":     "sd15_inpaint",
		"params":     map[string]any{"seed": 1},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("decompose_area: status %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		LayerAssetIDs []string `json:"layer_asset_ids"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.LayerAssetIDs) < 1 {
		t.Fatal("no layers returned")
	}
}

func TestOverlapSplit_ReturnsBothLayers(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.Handler()
	idA := uploadImage(t, h, testImage(t, 96, 96))
	idB := uploadImage(t, h, testImage(t, 96, 96))

	rec := doJSON(t, h, http.MethodPost, "/overlap_split", map[string]any{
		"layer_a_asset_id": idA,
		"layer_b_asset_id": idB,
		"engine":           "sd15_inpaint",
		"params":           map[string]any{"seed": 1},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("overlap_split: status %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		LayerA string `json:"layer_a_asset_id"`
		LayerB string `json:"layer_b_asset_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.LayerA == "" || resp.LayerB == "" {
		t.Fatalf("missing output ids: %+v", resp)
	}
}

func TestExport_BuildsZip(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.Handler()
	id := uploadImage(t, h, testImage(t, 128, 96))

	rec := doJSON(t, h, http.MethodPost, "/images/"+id+"/segment", map[string]any{
		"prompts": []map[string]any{{"type": "point", "x": 40.0, "y": 30.0}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("segment: status %d", rec.Code)
	}
	var seg segmentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &seg); err != nil {
		t.Fatalf("decode segment response: %v", err)
	}

	rec = doJSON(t, h, http.MethodPost, "/images/"+id+"/export", map[string]any{
		"include_base_image": true,
		"layers": []map[string]any{{
			"layer_id": "layer-1",
			"asset_id": seg.ObjectAssetID,
			"x":        float64(seg.BBox.X1),
			"y":        float64(seg.BBox.Y1),
			"z_index":  1,
		}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("export: status %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/zip" {
		t.Fatalf("content type = %q, want application/zip", ct)
	}

	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	if err != nil {
		t.Fatalf("response is not a zip: %v", err)
	}
	names := make(map[string]bool, len(zr.File))
	for _, f := range zr.File {
		names[f.Name] = true
	}
	for _, want := range []string{"composed.png", "project.json", "layers/layer-1.png"} {
		if !names[want] {
			t.Fatalf("archive missing %s (have %v)", want, names)
		}
	}
}

func TestWarmupAndReload(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.Handler()

	rec := doJSON(t, h, http.MethodPost, "/warmup", map[string]any{
		"engines": []string{"sd15_inpaint"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("warmup: status %d: %s", rec.Code, rec.Body.String())
	}
	var report struct {
		Engines []struct {
			Engine string `json:"engine"`
			State  string `json:"state"`
		} `json:"engines"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode warmup report: %v", err)
	}
	if len(report.Engines) != 1 || report.Engines[0].State != "ready" {
		t.Fatalf("unexpected warmup report: %+v", report)
	}

	rec = doJSON(t, h, http.MethodPost, "/reload_models", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reload: status %d", rec.Code)
	}
	var reload struct {
		EnginesFreed int `json:"engines_freed"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &reload); err != nil {
		t.Fatalf("decode reload report: %v", err)
	}
	if reload.EnginesFreed != 1 {
		t.Fatalf("engines_freed = %d, want 1", reload.EnginesFreed)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	rec := doJSON(t, s.Handler(), http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health: status %d", rec.Code)
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if body.Status != "ok" {
		t.Fatalf("status = %q, want ok", body.Status)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.Handler()
	id := uploadImage(t, h, testImage(t, 32, 32))

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"out of bounds point", http.MethodPost, "/images/" + id + "/segment",
			map[string]any{"prompts": []map[string]any{{"type": "point", "x": 9999.0, "y": 9999.0}}},
			http.StatusBadRequest},
		{"unknown image", http.MethodPost, "/images/ffffffffffffffffffffffffffffffff/segment",
			map[string]any{"prompts": []map[string]any{{"type": "point", "x": 1.0, "y": 1.0}}},
			http.StatusNotFound},
		{"invalid roi", http.MethodPost, "/images/" + id + "/roi_split",
			map[string]any{"roi": map[string]int{"x1": 10, "y1": 10, "x2": 5, "y2": 5}},
			http.StatusBadRequest},
		{"malformed body", http.MethodPost, "/restore_object", nil, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var rec *httptest.ResponseRecorder
			if tc.body == nil {
				req := httptest.NewRequest(tc.method, tc.path, strings.NewReader("{broken"))
				rec = httptest.NewRecorder()
				h.ServeHTTP(rec, req)
			} else {
				rec = doJSON(t, h, tc.method, tc.path, tc.body)
			}
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
}

func TestDecodeJSON_TrailingGarbageRejected(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.Handler()
	id := uploadImage(t, h, testImage(t, 32, 32))

	body := `{"prompts":[{"type":"point","x":16,"y":16}]} {"extra":true}`
	req := httptest.NewRequest(http.MethodPost, "/images/"+id+"/segment", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d (%s)", rec.Code, http.StatusBadRequest, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "trailing data") {
		t.Errorf("body = %s, want trailing data message", rec.Body.String())
	}
}
