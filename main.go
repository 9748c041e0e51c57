package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"layerforge/lifecycle"
	"layerforge/logging"
	"layerforge/restoration"
	"layerforge/segmentation"
	"layerforge/server"
	"layerforge/shutdown"
	"layerforge/storage"
)

func main() {
	if err := godotenv.Load(); err != nil {
		// The logger is not up yet.
		fmt.Printf("no .env file loaded: %v\n", err)
	}
	cfg := LoadConfig()

	logger, err := logging.NewLogger(cfg.DevMode, cfg.LogFile)
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("service failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg Config, logger *logging.Logger) error {
	sm := shutdown.NewManager(logger, shutdown.WithTimeout(cfg.ShutdownTimeout))
	sm.Register("flush logs", 0, func(context.Context) error { return logger.Sync() })
	sm.Start()

	store, err := storage.Open(cfg.StorageDir, logger)
	if err != nil {
		return fmt.Errorf("failed to open asset store: %w", err)
	}
	sm.Register("asset store", 30, func(context.Context) error { return store.Close() })

	// The deterministic fallback keeps the API usable on hosts without the
	// native inference runtime; real backends plug in through these two
	// factory points.
	backbone := &segmentation.StubBackbone{}
	embCache := segmentation.NewEmbeddingCache(backbone, cfg.ModelEdge, logger)
	segmenter := segmentation.NewSegmenter(store, embCache, logger)

	loader := lifecycle.NewWeightsLoader(cfg.WeightsDir, nil)
	manager := lifecycle.NewManager(loader, logger)
	manager.OnReload(embCache.InvalidateAll)
	sm.Register("partial downloads", 40, shutdown.CleanPartialDownloads(logger, cfg.WeightsDir))

	pipeline := restoration.NewPipeline(manager, segmenter, logger)

	srv := server.New(cfg.serverConfig(), store, segmenter, pipeline, manager, logger)
	logger.Info("layerforge starting",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("storage_dir", cfg.StorageDir),
		zap.String("weights_dir", cfg.WeightsDir),
		zap.Bool("dev_mode", cfg.DevMode))

	// Start blocks until a signal cancels the context, then drains HTTP
	// before the cleanup steps run.
	serveErr := srv.Start(sm.Context())
	if err := sm.Shutdown(); err != nil {
		logger.Error("cleanup incomplete", zap.Error(err))
	}
	return serveErr
}
