package core

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// DownloadOptions configures one weight-file download.
type DownloadOptions struct {
	// URL to fetch.
	URL string
	// DestPath is the final location. Data streams into DestPath+".part"
	// and is renamed only after the checksum (if any) verifies.
	DestPath string
	// ExpectedSHA256 is the lowercase hex checksum to verify against.
	// Empty skips verification.
	ExpectedSHA256 string
	// HTTPClient overrides the default client; downloads carry no timeout
	// of their own and rely on the context.
	HTTPClient *http.Client
	// OnProgress is invoked periodically during the transfer.
	OnProgress func(ProgressInfo)
}

// DownloadResult reports a completed download.
type DownloadResult struct {
	BytesDownloaded int64
	TotalBytes      int64
	Resumed         bool
	Path            string
}

// ProgressInfo is a snapshot of a running transfer.
type ProgressInfo struct {
	Total      int64
	Downloaded int64
	// Percent is -1 when the server did not report a length.
	Percent float64
	Speed   float64 // bytes per second
	Elapsed time.Duration
}

// DownloadFile fetches a file with resume support: an existing .part file
// continues via a Range request, and the final rename only happens after a
// successful (and, when requested, verified) transfer. A checksum mismatch
// removes the partial so the next attempt starts clean.
func DownloadFile(ctx context.Context, opts DownloadOptions) (*DownloadResult, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("download URL is required")
	}
	if opts.DestPath == "" {
		return nil, fmt.Errorf("download destination is required")
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	if err := os.MkdirAll(filepath.Dir(opts.DestPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create destination directory: %w", err)
	}

	partPath := opts.DestPath + ".part"
	var resumeFrom int64
	if info, err := os.Stat(partPath); err == nil {
		resumeFrom = info.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if resumeFrom > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", resumeFrom))
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	var total int64
	resumed := false
	switch resp.StatusCode {
	case http.StatusOK:
		// Full body; any partial data is stale.
		total = resp.ContentLength
		resumeFrom = 0
	case http.StatusPartialContent:
		resumed = true
		total = resumeFrom + resp.ContentLength
	case http.StatusRequestedRangeNotSatisfiable:
		// The partial may already be the whole file; verify and finish.
		if opts.ExpectedSHA256 != "" {
			sum, sumErr := ComputeSHA256(partPath)
			if sumErr == nil && sum == opts.ExpectedSHA256 {
				if renameErr := os.Rename(partPath, opts.DestPath); renameErr != nil {
					return nil, renameErr
				}
				info, _ := os.Stat(opts.DestPath)
				return &DownloadResult{TotalBytes: info.Size(), Resumed: true, Path: opts.DestPath}, nil
			}
		}
		os.Remove(partPath)
		return nil, fmt.Errorf("server rejected resume from %d bytes; partial removed, retry", resumeFrom)
	default:
		return nil, fmt.Errorf("unexpected status %s fetching %s", resp.Status, opts.URL)
	}

	var file *os.File
	if resumed {
		file, err = os.OpenFile(partPath, os.O_APPEND|os.O_WRONLY, 0o644)
	} else {
		file, err = os.Create(partPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open partial file: %w", err)
	}

	reader := &progressReader{
		reader:     resp.Body,
		start:      time.Now(),
		total:      total,
		downloaded: resumeFrom,
		onProgress: opts.OnProgress,
	}
	written, copyErr := io.Copy(file, reader)
	syncErr := file.Sync()
	closeErr := file.Close()
	if copyErr != nil {
		return nil, fmt.Errorf("download interrupted: %w", copyErr)
	}
	if syncErr != nil {
		return nil, fmt.Errorf("failed to sync partial file: %w", syncErr)
	}
	if closeErr != nil {
		return nil, closeErr
	}

	if opts.ExpectedSHA256 != "" {
		sum, err := ComputeSHA256(partPath)
		if err != nil {
			return nil, fmt.Errorf("checksum read failed: %w", err)
		}
		if sum != opts.ExpectedSHA256 {
			os.Remove(partPath)
			return nil, fmt.Errorf("checksum mismatch for %s: got %s, want %s",
				filepath.Base(opts.DestPath), sum, opts.ExpectedSHA256)
		}
	}
	if err := os.Rename(partPath, opts.DestPath); err != nil {
		return nil, fmt.Errorf("failed to finalize download: %w", err)
	}

	return &DownloadResult{
		BytesDownloaded: written,
		TotalBytes:      total,
		Resumed:         resumed,
		Path:            opts.DestPath,
	}, nil
}

// progressReader tracks transfer progress, invoking the callback roughly
// every 256KB so terminal output stays readable.
type progressReader struct {
	reader     io.Reader
	start      time.Time
	total      int64
	downloaded int64
	lastReport int64
	onProgress func(ProgressInfo)
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	if n > 0 {
		r.downloaded += int64(n)
		if r.onProgress != nil && (r.downloaded-r.lastReport >= 256<<10 || err == io.EOF) {
			r.lastReport = r.downloaded
			elapsed := time.Since(r.start)
			info := ProgressInfo{
				Total:      r.total,
				Downloaded: r.downloaded,
				Percent:    -1,
				Elapsed:    elapsed,
			}
			if r.total > 0 {
				info.Percent = 100 * float64(r.downloaded) / float64(r.total)
			}
			if secs := elapsed.Seconds(); secs > 0 {
				info.Speed = float64(r.downloaded) / secs
			}
			r.onProgress(info)
		}
	}
	return n, err
}

// FormatBytes renders a byte count for humans, binary-based.
func FormatBytes(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}
	const (
		kb = int64(1) << 10
		mb = kb << 10
		gb = mb << 10
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
