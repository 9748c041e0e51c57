package server

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"layerforge/core"
	"layerforge/restoration"
)

// boxJSON is the wire form of a bounding box.
type boxJSON struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// pointJSON is the wire form of a coordinate pair.
type pointJSON struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"engines": s.manager.States(),
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// handleUpload accepts a multipart "file" field or a raw image body and
// registers the image as a root asset.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)

	var data []byte
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, err := r.FormFile("file")
		if err != nil {
			s.writeError(w, r, core.InvalidInputf("multipart upload needs a `file` field: %v", err))
			return
		}
		defer file.Close()
		data, err = io.ReadAll(file)
		if err != nil {
			s.writeError(w, r, core.InvalidInputf("failed to read upload: %v", err))
			return
		}
	} else {
		var err error
		data, err = io.ReadAll(r.Body)
		if err != nil {
			s.writeError(w, r, core.InvalidInputf("failed to read upload: %v", err))
			return
		}
	}

	asset, err := s.store.SaveImage(r.Context(), data)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, asset)
}

// handleGetAsset streams the PNG for any asset id.
func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	data, err := s.store.ReadFile(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handleGetAssetMeta(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	asset, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	children, err := s.store.ListByParent(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"asset":    asset,
		"children": children,
	})
}

func (s *Server) handleDeleteAsset(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// warmupRequest optionally narrows the engines to prime.
type warmupRequest struct {
	Engines []string `json:"engines"`
}

func (s *Server) handleWarmup(w http.ResponseWriter, r *http.Request) {
	var req warmupRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	engines := make([]restoration.Engine, 0, len(req.Engines))
	for _, name := range req.Engines {
		engine, err := restoration.ParseEngine(name)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		engines = append(engines, engine)
	}
	writeJSON(w, http.StatusOK, s.manager.Warmup(r.Context(), engines...))
}

func (s *Server) handleReloadModels(w http.ResponseWriter, r *http.Request) {
	report := s.manager.ReloadAll()
	s.logger.Info("models reloaded",
		zap.Int("engines_freed", report.EnginesFreed),
		zap.Int("cache_entries_cleared", report.CacheEntriesCleared))
	writeJSON(w, http.StatusOK, report)
}
