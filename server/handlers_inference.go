package server

import (
	"image"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"layerforge/core"
	"layerforge/exporter"
	"layerforge/geometry"
	"layerforge/imaging"
	"layerforge/metrics"
	"layerforge/restoration"
	"layerforge/segmentation"
	"layerforge/storage"
)

// promptJSON is the wire form of one segmentation prompt. Type selects the
// payload: "point" uses x/y/label, "box" uses box, "text" uses text.
type promptJSON struct {
	Type  string   `json:"type"`
	X     float64  `json:"x"`
	Y     float64  `json:"y"`
	Label *int     `json:"label"`
	Box   *boxJSON `json:"box"`
	Text  string   `json:"text"`
}

func (p promptJSON) toPrompt() (segmentation.Prompt, error) {
	switch p.Type {
	case "point":
		label := segmentation.LabelForeground
		if p.Label != nil {
			label = *p.Label
		}
		return segmentation.NewPointPrompt(p.X, p.Y, label), nil
	case "box":
		if p.Box == nil {
			return segmentation.Prompt{}, core.InvalidInputf("box prompt needs a `box` object")
		}
		return segmentation.NewBoxPrompt(p.Box.toBox()), nil
	case "text":
		return segmentation.NewTextPrompt(p.Text), nil
	default:
		return segmentation.Prompt{}, core.InvalidInputf("prompt type must be point, box, or text, got %q", p.Type)
	}
}

func (b boxJSON) toBox() geometry.Box {
	return geometry.Box{X1: b.X1, Y1: b.Y1, X2: b.X2, Y2: b.Y2}
}

func fromBox(b geometry.Box) boxJSON {
	return boxJSON{X1: b.X1, Y1: b.Y1, X2: b.X2, Y2: b.Y2}
}

func (p pointJSON) toPoint() geometry.Point {
	return geometry.Point{X: p.X, Y: p.Y}
}

// paramsJSON is the wire form of diffusion parameters. Omitted fields take
// engine defaults; a negative seed requests fresh noise and skips caching.
type paramsJSON struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt"`
	Steps          int     `json:"steps"`
	GuidanceScale  float64 `json:"guidance_scale"`
	Strength       float64 `json:"strength"`
	Seed           int64   `json:"seed"`
}

func (p paramsJSON) toParams() restoration.Params {
	return restoration.Params{
		Prompt:         p.Prompt,
		NegativePrompt: p.NegativePrompt,
		Steps:          p.Steps,
		GuidanceScale:  p.GuidanceScale,
		Strength:       p.Strength,
		Seed:           p.Seed,
	}
}

type edgeCleanupJSON struct {
	Enabled   bool `json:"enabled"`
	Strength  int  `json:"strength"`
	FeatherPx int  `json:"feather_px"`
	ErodePx   int  `json:"erode_px"`
}

type segmentRequest struct {
	Prompts     []promptJSON     `json:"prompts"`
	Multimask   bool             `json:"multimask"`
	Threshold   float64          `json:"threshold"`
	EdgeCleanup *edgeCleanupJSON `json:"edge_cleanup"`
}

type segmentResponse struct {
	ObjectAssetID  string  `json:"object_asset_id"`
	MaskAssetID    string  `json:"mask_asset_id"`
	OverlayAssetID string  `json:"overlay_asset_id,omitempty"`
	BBox           boxJSON `json:"bbox"`
	Confidence     float64 `json:"confidence"`
}

func (s *Server) handleSegment(w http.ResponseWriter, r *http.Request) {
	imageID := chi.URLParam(r, "id")
	var req segmentRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	prompts := make([]segmentation.Prompt, 0, len(req.Prompts))
	for _, pj := range req.Prompts {
		p, err := pj.toPrompt()
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		prompts = append(prompts, p)
	}
	opts := segmentation.Options{Multimask: req.Multimask, Threshold: req.Threshold}
	if req.EdgeCleanup != nil {
		opts.EdgeCleanup = &segmentation.EdgeCleanupRef{
			Enabled:   req.EdgeCleanup.Enabled,
			Strength:  req.EdgeCleanup.Strength,
			FeatherPx: req.EdgeCleanup.FeatherPx,
			ErodePx:   req.EdgeCleanup.ErodePx,
		}
	}

	start := time.Now()
	result, err := s.segmenter.Segment(r.Context(), imageID, prompts, opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	metrics.InferenceDuration.WithLabelValues("segment", "backbone").Observe(time.Since(start).Seconds())

	resp, err := s.storeSegmentResult(r, imageID, result, true)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// storeSegmentResult persists one segmentation result's derived assets and
// builds its wire form. The overlay is skipped for bulk sweeps.
func (s *Server) storeSegmentResult(r *http.Request, imageID string, result *segmentation.Result, withOverlay bool) (*segmentResponse, error) {
	object, err := s.store.SaveDerived(r.Context(), storage.KindObject, imageID, result.Object)
	if err != nil {
		return nil, err
	}
	mask, err := s.store.SaveDerived(r.Context(), storage.KindMask, imageID, result.Mask)
	if err != nil {
		return nil, err
	}
	resp := &segmentResponse{
		ObjectAssetID: object.ID,
		MaskAssetID:   mask.ID,
		BBox:          fromBox(result.BBox),
		Confidence:    result.Confidence,
	}
	if withOverlay && result.Overlay != nil {
		overlay, err := s.store.SaveDerived(r.Context(), storage.KindOverlay, imageID, result.Overlay)
		if err != nil {
			return nil, err
		}
		resp.OverlayAssetID = overlay.ID
	}
	return resp, nil
}

type segmentAllRequest struct {
	GridPoints    int     `json:"grid_points"`
	BatchSize     int     `json:"batch_size"`
	MinConfidence float64 `json:"min_confidence"`
	IoUThreshold  float64 `json:"iou_threshold"`
}

func (s *Server) handleSegmentAll(w http.ResponseWriter, r *http.Request) {
	imageID := chi.URLParam(r, "id")
	var req segmentAllRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	cfg := segmentation.DefaultExhaustiveConfig()
	if req.GridPoints != 0 {
		cfg.GridPoints = req.GridPoints
	}
	if req.BatchSize != 0 {
		cfg.BatchSize = req.BatchSize
	}
	if req.MinConfidence != 0 {
		cfg.MinConfidence = req.MinConfidence
	}
	if req.IoUThreshold != 0 {
		cfg.IoUThreshold = req.IoUThreshold
	}

	start := time.Now()
	results, err := s.segmenter.SegmentAll(r.Context(), imageID, cfg)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	metrics.InferenceDuration.WithLabelValues("segment_all", "backbone").Observe(time.Since(start).Seconds())

	objects := make([]*segmentResponse, 0, len(results))
	for _, result := range results {
		resp, err := s.storeSegmentResult(r, imageID, result, false)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		objects = append(objects, resp)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(objects),
		"objects": objects,
	})
}

type restoreRequest struct {
	AssetID     string     `json:"asset_id"`
	MaskAssetID string     `json:"mask_asset_id"`
	Engine      string     `json:"engine"`
	Params      paramsJSON `json:"params"`
}

func (s *Server) handleRestoreObject(w http.ResponseWriter, r *http.Request) {
	var req restoreRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	engine, err := restoration.ParseEngine(req.Engine)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	object, err := s.store.LoadImage(r.Context(), req.AssetID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var mask *image.Gray
	if req.MaskAssetID != "" {
		mask, err = s.loadMask(r, req.MaskAssetID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	start := time.Now()
	restored, cacheHit, err := s.pipeline.Restore(r.Context(), object, mask, engine, req.Params.toParams())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	metrics.ObserveInference("restore_object", engine.String(), time.Since(start), cacheHit)

	asset, err := s.store.SaveDerived(r.Context(), storage.KindLayer, req.AssetID, restored)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"asset_id":  asset.ID,
		"engine":    engine.String(),
		"cache_hit": cacheHit,
	})
}

// loadMask reads a stored mask PNG back as a binary grayscale image.
// Stored masks round-trip through RGBA with R=G=B, so the red channel is
// the mask value.
func (s *Server) loadMask(r *http.Request, id string) (*image.Gray, error) {
	img, err := s.store.LoadImage(r.Context(), id)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	mask := imaging.NewMask(b.Dx(), b.Dy())
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			mask.Pix[y*mask.Stride+x] = img.Pix[y*img.Stride+x*4]
		}
	}
	return mask, nil
}

type roiSplitRequest struct {
	ROI     boxJSON    `json:"roi"`
	FgPoint *pointJSON `json:"fg_point"`
	BgPoint *pointJSON `json:"bg_point"`
	Engine  string     `json:"engine"`
	Params  paramsJSON `json:"params"`
}

func (s *Server) handleRoiSplit(w http.ResponseWriter, r *http.Request) {
	imageID := chi.URLParam(r, "id")
	var req roiSplitRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	engine, err := restoration.ParseEngine(req.Engine)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	base, err := s.store.LoadImage(r.Context(), imageID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var fgHint, bgHint *geometry.Point
	if req.FgPoint != nil {
		p := req.FgPoint.toPoint()
		fgHint = &p
	}
	if req.BgPoint != nil {
		p := req.BgPoint.toPoint()
		bgHint = &p
	}

	start := time.Now()
	fg, bg, cacheHit, err := s.pipeline.RoiSplit(r.Context(), base, req.ROI.toBox(), fgHint, bgHint, engine, req.Params.toParams())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	metrics.ObserveInference("roi_split", engine.String(), time.Since(start), cacheHit)

	fgAsset, err := s.store.SaveDerived(r.Context(), storage.KindLayer, imageID, fg)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	bgAsset, err := s.store.SaveDerived(r.Context(), storage.KindLayer, imageID, bg)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"foreground_asset_id": fgAsset.ID,
		"background_asset_id": bgAsset.ID,
		"engine":              engine.String(),
		"cache_hit":           cacheHit,
	})
}

type overlapSplitRequest struct {
	LayerAAssetID string     `json:"layer_a_asset_id"`
	LayerBAssetID string     `json:"layer_b_asset_id"`
	Engine        string     `json:"engine"`
	Params        paramsJSON `json:"params"`
}

func (s *Server) handleOverlapSplit(w http.ResponseWriter, r *http.Request) {
	var req overlapSplitRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	engine, err := restoration.ParseEngine(req.Engine)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	layerA, err := s.store.LoadImage(r.Context(), req.LayerAAssetID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	layerB, err := s.store.LoadImage(r.Context(), req.LayerBAssetID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	start := time.Now()
	outA, outB, cacheHit, err := s.pipeline.OverlapSplit(r.Context(), layerA, layerB, engine, req.Params.toParams())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	metrics.ObserveInference("overlap_split", engine.String(), time.Since(start), cacheHit)

	assetA, err := s.store.SaveDerived(r.Context(), storage.KindLayer, req.LayerAAssetID, outA)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	assetB, err := s.store.SaveDerived(r.Context(), storage.KindLayer, req.LayerBAssetID, outB)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"layer_a_asset_id": assetA.ID,
		"layer_b_asset_id": assetB.ID,
		"engine":           engine.String(),
		"cache_hit":        cacheHit,
	})
}

type decomposeRequest struct {
	ROI       boxJSON    `json:"roi"`
	NumLayers int        `json:"num_layers"`
	Engine    string     `json:"engine"`
	Params    paramsJSON `json:"params"`
}

func (s *Server) handleDecomposeArea(w http.ResponseWriter, r *http.Request) {
	imageID := chi.URLParam(r, "id")
	var req decomposeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	engine, err := restoration.ParseEngine(req.Engine)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	base, err := s.store.LoadImage(r.Context(), imageID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	start := time.Now()
	layers, cacheHit, err := s.pipeline.DecomposeArea(r.Context(), base, req.ROI.toBox(), req.NumLayers, engine, req.Params.toParams())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	metrics.ObserveInference("decompose_area", engine.String(), time.Since(start), cacheHit)

	ids := make([]string, 0, len(layers))
	for _, layer := range layers {
		asset, err := s.store.SaveDerived(r.Context(), storage.KindLayer, imageID, layer)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		ids = append(ids, asset.ID)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"layer_asset_ids": ids,
		"engine":          engine.String(),
		"cache_hit":       cacheHit,
	})
}

type exportRequest struct {
	Layers           []exporter.Layer `json:"layers"`
	IncludeBaseImage bool             `json:"include_base_image"`
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	imageID := chi.URLParam(r, "id")
	var req exportRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	base, err := s.store.LoadImage(r.Context(), imageID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	archive, err := exporter.BuildExportZip(r.Context(), imageID, base, req.Layers, req.IncludeBaseImage, s.store)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="project_`+imageID+`.zip"`)
	w.WriteHeader(http.StatusOK)
	w.Write(archive)
}
