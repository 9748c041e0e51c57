package exporter

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"

	"layerforge/imaging"
)

// Project is the manifest written into every export archive.
type Project struct {
	BaseImageID      string  `json:"base_image_id"`
	IncludeBaseImage bool    `json:"include_base_image"`
	Layers           []Layer `json:"layers"`
}

// BuildExportZip composes the project and packs the archive: composed.png,
// project.json, the visible layers' PNGs under layers/, and their masks
// under masks/.
func BuildExportZip(ctx context.Context, baseImageID string, base *image.RGBA, layers []Layer, includeBase bool, resolve AssetResolver) ([]byte, error) {
	composed, err := ComposeImage(ctx, base, layers, includeBase, resolve)
	if err != nil {
		return nil, err
	}
	composedPNG, err := imaging.EncodePNG(composed)
	if err != nil {
		return nil, fmt.Errorf("failed to encode composed image: %w", err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	if err := writeZipEntry(zw, "composed.png", composedPNG); err != nil {
		return nil, err
	}

	manifest, err := json.MarshalIndent(Project{
		BaseImageID:      baseImageID,
		IncludeBaseImage: includeBase,
		Layers:           layers,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode project manifest: %w", err)
	}
	if err := writeZipEntry(zw, "project.json", manifest); err != nil {
		return nil, err
	}

	for _, layer := range layers {
		if !layer.Visible {
			continue
		}
		data, err := resolve.ReadFile(ctx, layer.AssetID)
		if err != nil {
			return nil, err
		}
		if err := writeZipEntry(zw, fmt.Sprintf("layers/%s.png", layer.LayerID), data); err != nil {
			return nil, err
		}
		if layer.MaskAssetID != "" {
			mask, err := resolve.ReadFile(ctx, layer.MaskAssetID)
			if err != nil {
				return nil, err
			}
			if err := writeZipEntry(zw, fmt.Sprintf("masks/%s.png", layer.LayerID), mask); err != nil {
				return nil, err
			}
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	return buf.Bytes(), nil
}

func writeZipEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("failed to create archive entry %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write archive entry %s: %w", name, err)
	}
	return nil
}
