// Package restoration runs the diffusion inpainting pipeline shared by
// object restoration, ROI split, overlap split, and area decomposition.
// It owns engine selection, parameter validation, result fingerprinting,
// and the fingerprint-keyed result cache.
package restoration

import (
	"context"
	"image"

	"layerforge/core"
)

// Engine identifies one of the supported inpainting backends. The set is
// closed: requests naming anything else are rejected before any model work.
type Engine string

const (
	EngineSD15        Engine = "sd15_inpaint"
	EngineSDXL        Engine = "sdxl_inpaint"
	EngineKandinsky22 Engine = "kandinsky22_inpaint"
)

// DefaultEngine is used when a request leaves the engine unset.
const DefaultEngine = EngineSDXL

// engineSpec carries the tuned per-engine defaults. WorkEdge is the long
// edge the inputs are resized to before inference; output is resized back.
type engineSpec struct {
	DefaultSteps     int
	DefaultGuidance  float64
	WorkEdge         int
	SupportsStrength bool
}

var engineSpecs = map[Engine]engineSpec{
	EngineSD15:        {DefaultSteps: 20, DefaultGuidance: 6.0, WorkEdge: 512},
	EngineSDXL:        {DefaultSteps: 20, DefaultGuidance: 5.5, WorkEdge: 1024, SupportsStrength: true},
	EngineKandinsky22: {DefaultSteps: 30, DefaultGuidance: 4.0, WorkEdge: 768},
}

// ParseEngine validates an engine name from the wire. Empty selects the
// default.
func ParseEngine(name string) (Engine, error) {
	if name == "" {
		return DefaultEngine, nil
	}
	e := Engine(name)
	if _, ok := engineSpecs[e]; !ok {
		return "", core.InvalidInputf(
			"unknown engine %q (supported: %s, %s, %s)",
			name, EngineSD15, EngineSDXL, EngineKandinsky22)
	}
	return e, nil
}

// Engines lists the supported engines in a stable order.
func Engines() []Engine {
	return []Engine{EngineSD15, EngineSDXL, EngineKandinsky22}
}

func (e Engine) String() string { return string(e) }

func (e Engine) spec() engineSpec { return engineSpecs[e] }

// DiffusionRunner is one loaded inpainting backend. Inpaint regenerates the
// masked region of img and returns a full image at the same size; pixels
// outside the mask are advisory only, the pipeline re-applies the originals.
type DiffusionRunner interface {
	Inpaint(ctx context.Context, img *image.RGBA, mask *image.Gray, params Params) (*image.RGBA, error)
}

// Runtime hands out ready runners. Acquire blocks while the engine loads,
// returns core.ErrWeightsUnavailable when its weights are missing, and
// core.ErrResourceExhausted when the device cannot fit the model.
type Runtime interface {
	Acquire(ctx context.Context, engine Engine) (DiffusionRunner, error)
}
