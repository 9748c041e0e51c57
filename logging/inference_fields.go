package logging

import (
	"time"

	"go.uber.org/zap"
)

// InferenceFields returns the standard zap fields for a completed model
// operation: segmentation prompts, exhaustive grids, and restoration runs
// all log through this helper so dashboards see one shape.
//
// Example:
//
//	logger.Info("restore complete",
//	    logging.InferenceFields("sdxl_inpaint", imageID, elapsed, cacheHit)...)
func InferenceFields(engine, imageID string, elapsed time.Duration, cacheHit bool) []zap.Field {
	return []zap.Field{
		zap.String("engine", engine),
		zap.String("image_id", imageID),
		zap.Int64("runtime_ms", elapsed.Milliseconds()),
		zap.Bool("cache_hit", cacheHit),
	}
}

// MemoryFields returns zap fields for a model footprint report.
func MemoryFields(ramMB, vramMB int64) []zap.Field {
	return []zap.Field{
		zap.Int64("ram_mb", ramMB),
		zap.Int64("vram_mb", vramMB),
	}
}
