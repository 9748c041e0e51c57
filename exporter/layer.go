// Package exporter composes placed layers back into a flat image and packs
// project exports as ZIP archives.
package exporter

import (
	"encoding/json"

	"layerforge/core"
)

// Layer is one placed element of a project: an asset plus its canvas
// transform. Wire defaults are scale 1, opacity 1, visible.
type Layer struct {
	LayerID     string  `json:"layer_id"`
	AssetID     string  `json:"asset_id"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	ScaleX      float64 `json:"scale_x"`
	ScaleY      float64 `json:"scale_y"`
	RotationDeg float64 `json:"rotation_deg"`
	Opacity     float64 `json:"opacity"`
	Visible     bool    `json:"visible"`
	Locked      bool    `json:"locked"`
	ZIndex      int     `json:"z_index"`
	MaskAssetID string  `json:"mask_asset_id,omitempty"`
}

// UnmarshalJSON applies the wire defaults before decoding so omitted fields
// keep their documented values rather than Go zeros.
func (l *Layer) UnmarshalJSON(data []byte) error {
	type alias Layer
	a := alias{ScaleX: 1, ScaleY: 1, Opacity: 1, Visible: true}
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*l = Layer(a)
	return nil
}

// Validate rejects layers that cannot be composed.
func (l *Layer) Validate() error {
	if l.LayerID == "" {
		return core.InvalidInputf("layer_id is required")
	}
	if l.AssetID == "" {
		return core.InvalidInputf("layer %s: asset_id is required", l.LayerID)
	}
	if l.ScaleX <= 0 || l.ScaleY <= 0 {
		return core.InvalidInputf("layer %s: scale must be positive", l.LayerID)
	}
	if l.Opacity < 0 || l.Opacity > 1 {
		return core.InvalidInputf("layer %s: opacity must be in [0,1]", l.LayerID)
	}
	return nil
}
