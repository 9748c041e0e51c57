package lifecycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"layerforge/core"
	"layerforge/restoration"
)

// weightsFile is the expected filename inside each engine's weights dir.
const weightsFile = "model.safetensors"

// RunnerFactory builds a runner from a verified weights path.
type RunnerFactory func(engine restoration.Engine, weightsPath string) (restoration.DiffusionRunner, error)

// WeightsLoader loads engines from a weights directory laid out as
// <dir>/<engine>/model.safetensors. When an engine's weights are absent it
// fails with core.ErrWeightsUnavailable and points at the precache tool.
type WeightsLoader struct {
	dir     string
	factory RunnerFactory
}

// NewWeightsLoader builds a loader rooted at dir. A nil factory selects the
// built-in deterministic runner, which keeps the service functional on
// hosts without the native diffusion runtime.
func NewWeightsLoader(dir string, factory RunnerFactory) *WeightsLoader {
	if factory == nil {
		factory = func(restoration.Engine, string) (restoration.DiffusionRunner, error) {
			return &restoration.StubRunner{}, nil
		}
	}
	return &WeightsLoader{dir: dir, factory: factory}
}

func (l *WeightsLoader) Load(ctx context.Context, engine restoration.Engine) (restoration.DiffusionRunner, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := filepath.Join(l.dir, string(engine), weightsFile)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil, core.WeightsUnavailable(
			fmt.Sprintf("weights for engine %s not found at %s", engine, path),
			"run `precache` to download the engine weights",
			"or set WEIGHTS_DIR to the directory that holds them",
		)
	}
	return l.factory(engine, path)
}

// Unload drops the runner reference; device memory release is the
// factory-built runner's concern and happens on finalization.
func (l *WeightsLoader) Unload(restoration.Engine, restoration.DiffusionRunner) {}

// StubLoader serves the deterministic runner with no weights on disk at
// all. Development and tests only.
type StubLoader struct{}

func (StubLoader) Load(ctx context.Context, engine restoration.Engine) (restoration.DiffusionRunner, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &restoration.StubRunner{}, nil
}

func (StubLoader) Unload(restoration.Engine, restoration.DiffusionRunner) {}
