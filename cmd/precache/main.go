// Command precache downloads the model weights the service needs so it can
// run fully offline. Weights land in <dir>/<name>/model.safetensors, the
// layout the server's loader expects.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"layerforge/core"
)

// Manifest is the weights.yaml schema.
type Manifest struct {
	Weights []WeightEntry `yaml:"weights"`
}

// WeightEntry is one downloadable weight file.
type WeightEntry struct {
	// Name is the engine identifier (or "backbone" for segmentation).
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
	// SHA256 is the expected checksum; empty skips verification.
	SHA256 string `yaml:"sha256"`
}

func main() {
	var (
		manifestPath = flag.String("manifest", "weights.yaml", "path to the weights manifest")
		dir          = flag.String("dir", core.GetEnvOrDefault("WEIGHTS_DIR", "weights"), "weights cache directory")
		only         = flag.String("only", "", "download a single entry by name")
		force        = flag.Bool("force", false, "re-download even when a verified copy exists")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *manifestPath, *dir, *only, *force); err != nil {
		color.New(color.FgRed, color.Bold).Fprintf(os.Stderr, "precache failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, manifestPath, dir, only string, force bool) error {
	manifest, err := loadManifest(manifestPath)
	if err != nil {
		return err
	}

	entries := manifest.Weights
	if only != "" {
		entries = nil
		for _, e := range manifest.Weights {
			if e.Name == only {
				entries = append(entries, e)
			}
		}
		if len(entries) == 0 {
			return fmt.Errorf("no manifest entry named %q", only)
		}
	}

	header := color.New(color.FgCyan, color.Bold)
	header.Printf("precaching %d weight file(s) into %s\n", len(entries), dir)

	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		fmt.Printf("[%d/%d] %s\n", i+1, len(entries), entry.Name)
		if err := fetch(ctx, dir, entry, force); err != nil {
			return fmt.Errorf("%s: %w", entry.Name, err)
		}
	}

	color.New(color.FgGreen, color.Bold).Println("all weights cached")
	return nil
}

func loadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if len(m.Weights) == 0 {
		return nil, fmt.Errorf("manifest %s lists no weights", path)
	}
	for i, e := range m.Weights {
		if e.Name == "" || e.URL == "" {
			return nil, fmt.Errorf("manifest entry %d needs both name and url", i)
		}
	}
	return &m, nil
}

func fetch(ctx context.Context, dir string, entry WeightEntry, force bool) error {
	dest := filepath.Join(dir, entry.Name, "model.safetensors")

	if !force {
		if ok, size := verified(dest, entry.SHA256); ok {
			color.New(color.FgHiBlack).Printf("  already cached (%s), skipping\n", core.FormatBytes(size))
			return nil
		}
	}

	result, err := core.DownloadFile(ctx, core.DownloadOptions{
		URL:            entry.URL,
		DestPath:       dest,
		ExpectedSHA256: entry.SHA256,
		OnProgress:     printProgress,
	})
	if err != nil {
		return err
	}
	fmt.Println()
	status := color.New(color.FgGreen)
	if result.Resumed {
		status.Printf("  done (resumed, %s fetched)\n", core.FormatBytes(result.BytesDownloaded))
	} else {
		status.Printf("  done (%s)\n", core.FormatBytes(result.BytesDownloaded))
	}
	return nil
}

// verified reports whether dest exists and matches the checksum. With no
// checksum, mere existence counts.
func verified(dest, sha256 string) (bool, int64) {
	info, err := os.Stat(dest)
	if err != nil {
		return false, 0
	}
	if sha256 == "" {
		return true, info.Size()
	}
	sum, err := core.ComputeSHA256(dest)
	if err != nil || sum != sha256 {
		return false, 0
	}
	return true, info.Size()
}

func printProgress(p core.ProgressInfo) {
	if p.Percent >= 0 {
		fmt.Printf("\r  %6.2f%%  %s / %s  (%s/s)   ",
			p.Percent,
			core.FormatBytes(p.Downloaded),
			core.FormatBytes(p.Total),
			core.FormatBytes(int64(p.Speed)))
		return
	}
	fmt.Printf("\r  %s  (%s/s)   ",
		core.FormatBytes(p.Downloaded),
		core.FormatBytes(int64(p.Speed)))
}
