package storage

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"layerforge/core"
	"layerforge/imaging"
	"layerforge/logging"
	"layerforge/metrics"
)

// Asset kinds. Uploaded images are the roots; everything else derives from
// one and records it as parent.
const (
	KindImage   = "image"
	KindObject  = "object"
	KindMask    = "mask"
	KindOverlay = "overlay"
	KindLayer   = "layer"
)

const dbFileName = "layerforge.db"

// Asset is one stored PNG plus its metadata row.
type Asset struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	ParentID  string    `json:"parent_id,omitempty"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the asset repository: one SQLite database and a files/ directory
// of PNGs, both under the configured root.
type Store struct {
	db     *sql.DB
	root   string
	logger *logging.Logger
}

// Open prepares the store under root, creating directories and applying
// migrations as needed.
func Open(root string, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := os.MkdirAll(filepath.Join(root, "files"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	dbPath := filepath.Join(root, dbFileName)
	if err := migrateUp(dbPath); err != nil {
		return nil, err
	}
	db, err := newSQLiteConnection(DefaultConnectionConfig(dbPath))
	if err != nil {
		return nil, err
	}
	return &Store{db: db, root: root, logger: logger}, nil
}

// Close releases the database connection.
func (s *Store) Close() error { return s.db.Close() }

// newAssetID produces the 32-char hex id used across the API.
func newAssetID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

func (s *Store) filePath(id string) string {
	return filepath.Join(s.root, "files", id+".png")
}

// SaveImage decodes an uploaded image (PNG or JPEG), normalizes it to PNG
// on disk, and registers it as a root asset.
func (s *Store) SaveImage(ctx context.Context, data []byte) (*Asset, error) {
	if len(data) == 0 {
		return nil, core.InvalidInputf("uploaded image is empty")
	}
	decoded, err := imaging.Decode(data)
	if err != nil {
		return nil, core.InvalidInputf("uploaded data is not a decodable image: %v", err)
	}
	return s.saveAsset(ctx, KindImage, "", imaging.ToRGBA(decoded))
}

// SaveDerived stores a produced layer, mask, or overlay under its source
// image.
func (s *Store) SaveDerived(ctx context.Context, kind, parentID string, img image.Image) (*Asset, error) {
	switch kind {
	case KindObject, KindMask, KindOverlay, KindLayer:
	default:
		return nil, core.InvalidInputf("unknown asset kind %q", kind)
	}
	if _, err := s.Get(ctx, parentID); err != nil {
		return nil, err
	}
	return s.saveAsset(ctx, kind, parentID, img)
}

func (s *Store) saveAsset(ctx context.Context, kind, parentID string, img image.Image) (*Asset, error) {
	data, err := imaging.EncodePNG(img)
	if err != nil {
		return nil, fmt.Errorf("failed to encode asset: %w", err)
	}
	asset := &Asset{
		ID:        newAssetID(),
		Kind:      kind,
		ParentID:  parentID,
		Width:     img.Bounds().Dx(),
		Height:    img.Bounds().Dy(),
		CreatedAt: time.Now().UTC(),
	}
	if err := os.WriteFile(s.filePath(asset.ID), data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write asset file: %w", err)
	}

	var parent any
	if parentID != "" {
		parent = parentID
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO assets (id, kind, parent_id, width, height, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		asset.ID, asset.Kind, parent, asset.Width, asset.Height, asset.CreatedAt)
	if err != nil {
		os.Remove(s.filePath(asset.ID))
		return nil, fmt.Errorf("failed to insert asset row: %w", err)
	}
	metrics.AssetsStored.WithLabelValues(kind).Inc()
	s.logger.Debug("asset stored",
		zap.String("asset_id", asset.ID),
		zap.String("kind", kind),
		zap.Int("width", asset.Width),
		zap.Int("height", asset.Height))
	return asset, nil
}

// Get looks up asset metadata by id.
func (s *Store) Get(ctx context.Context, id string) (*Asset, error) {
	if id == "" {
		return nil, core.InvalidInputf("asset id is required")
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, COALESCE(parent_id, ''), width, height, created_at FROM assets WHERE id = ?`, id)
	a := &Asset{}
	err := row.Scan(&a.ID, &a.Kind, &a.ParentID, &a.Width, &a.Height, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFoundf("asset %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load asset %s: %w", id, err)
	}
	return a, nil
}

// ReadFile returns the asset's PNG bytes for serving.
func (s *Store) ReadFile(ctx context.Context, id string) ([]byte, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.filePath(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, core.NotFoundf("asset file for %s is missing", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read asset file %s: %w", id, err)
	}
	return data, nil
}

// LoadImage decodes a stored asset into pixels. Implements the image source
// the segmentation package consumes.
func (s *Store) LoadImage(ctx context.Context, id string) (*image.RGBA, error) {
	data, err := s.ReadFile(ctx, id)
	if err != nil {
		return nil, err
	}
	decoded, err := imaging.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("stored asset %s is corrupt: %w", id, err)
	}
	return imaging.ToRGBA(decoded), nil
}

// ListByParent returns an image's derived assets, oldest first.
func (s *Store) ListByParent(ctx context.Context, parentID string) ([]*Asset, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, COALESCE(parent_id, ''), width, height, created_at
		 FROM assets WHERE parent_id = ? ORDER BY created_at, id`, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	defer rows.Close()

	var out []*Asset
	for rows.Next() {
		a := &Asset{}
		if err := rows.Scan(&a.ID, &a.Kind, &a.ParentID, &a.Width, &a.Height, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan asset row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Delete removes an asset and, via foreign keys, every derived asset's row.
// Files of cascaded children are swept lazily by ReadFile misses.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM assets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete asset %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return core.NotFoundf("asset %s not found", id)
	}
	os.Remove(s.filePath(id))
	return nil
}
