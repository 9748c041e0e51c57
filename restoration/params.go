package restoration

import (
	"layerforge/core"
)

// DefaultPrompt steers the engines toward diagram-style output when the
// caller does not provide a prompt.
const DefaultPrompt = "clean flat scientific diagram, solid colors, sharp edges, no text, no extra symbols"

// Parameter bounds shared by all engines.
const (
	MinSteps    = 1
	MaxSteps    = 100
	MinGuidance = 1.0
	MaxGuidance = 30.0
)

// Params are the caller-tunable knobs of one inpainting run. Zero values
// select engine defaults.
type Params struct {
	Prompt         string
	NegativePrompt string
	// Steps is the number of denoising iterations, clamped to [1,100].
	Steps int
	// GuidanceScale is the classifier-free guidance weight, in [1,30].
	GuidanceScale float64
	// Strength is the img2img denoise strength in (0,1]; only the SDXL
	// engine honors it. Zero means engine default.
	Strength float64
	// Seed fixes the noise; negative requests a random seed, which also
	// bypasses the result cache.
	Seed int64
}

// withDefaults validates the params and fills engine defaults for zero
// values. Steps outside the valid range are clamped rather than rejected;
// out-of-range guidance and strength are errors.
func (p Params) withDefaults(engine Engine) (Params, error) {
	spec := engine.spec()
	if p.Prompt == "" {
		p.Prompt = DefaultPrompt
	}
	if p.Steps == 0 {
		p.Steps = spec.DefaultSteps
	}
	if p.Steps < MinSteps {
		p.Steps = MinSteps
	}
	if p.Steps > MaxSteps {
		p.Steps = MaxSteps
	}
	if p.GuidanceScale == 0 {
		p.GuidanceScale = spec.DefaultGuidance
	}
	if p.GuidanceScale < MinGuidance || p.GuidanceScale > MaxGuidance {
		return Params{}, core.InvalidInputf(
			"guidance_scale must be in [%g,%g], got %g", MinGuidance, MaxGuidance, p.GuidanceScale)
	}
	if p.Strength != 0 {
		if !spec.SupportsStrength {
			return Params{}, core.InvalidInputf("engine %s does not support strength", engine)
		}
		if p.Strength < 0 || p.Strength > 1 {
			return Params{}, core.InvalidInputf("strength must be in (0,1], got %g", p.Strength)
		}
	}
	return p, nil
}
