// Package cache is the content-addressed asset store. Blobs live on disk at
// a path derived from the SHA-256 of their bytes; rows in cache_entries carry
// reference counts and orphan state.
package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/fetcharr/fetcharr/internal/fingerprint"
	"github.com/fetcharr/fetcharr/internal/logging"
	"github.com/fetcharr/fetcharr/internal/metrics"
	"github.com/fetcharr/fetcharr/internal/models"
)

var (
	// ErrMissing is returned when neither row nor file exists for a hash.
	ErrMissing = errors.New("cache entry missing")
	// ErrIntegrity is returned when bytes on disk do not hash to their name.
	ErrIntegrity = errors.New("cache integrity violation")
)

// Rows is the persistence slice the cache needs; implemented by
// repository.CacheRepository.
type Rows interface {
	GetByHash(hash string) (*models.CacheEntry, error)
	UpsertWithReference(e *models.CacheEntry) (deduped bool, err error)
	AddReference(hash string) error
	ReleaseReference(hash string) error
	ListGCEligible(grace time.Duration, limit int) ([]*models.CacheEntry, error)
	Delete(hash string) error
	RestoreOrphanedAt(e *models.CacheEntry) error
	Stats(grace time.Duration) (*models.CacheStats, error)
}

type Cache struct {
	root  string
	rows  Rows
	grace time.Duration
	log   zerolog.Logger
}

// StoreResult describes the outcome of one Store call.
type StoreResult struct {
	ContentHash string
	RelPath     string
	Deduped     bool
}

// New opens the cache rooted at root, creating the directory if needed.
func New(root string, rows Rows, grace time.Duration) (*Cache, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create cache root: %w", err)
	}
	return &Cache{root: root, rows: rows, grace: grace, log: logging.WithComponent("cache")}, nil
}

// relPath derives the fanout location {h0:2}/{h2:4}/{hash}.{ext}. 256x256
// leaves keep directories small at multi-million-file scale.
func relPath(hash, ext string) string {
	return filepath.Join(hash[0:2], hash[2:4], hash+ext)
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	switch ext {
	case ".jpeg":
		return ".jpg"
	}
	return ext
}

// Store writes a blob into the cache and takes one reference on it. Identical
// content dedupes to the existing entry. The write is atomic (pending file +
// rename); re-storing bytes already on disk is a file no-op.
func (c *Cache) Store(data []byte, ext, mimeType string) (*StoreResult, error) {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	rel := relPath(hash, normalizeExt(ext))
	abs := filepath.Join(c.root, rel)

	if existing, err := c.rows.GetByHash(hash); err != nil {
		return nil, err
	} else if existing != nil {
		rel = existing.RelPath
		abs = filepath.Join(c.root, rel)
	}

	if fi, err := os.Stat(abs); err == nil && fi.Size() == int64(len(data)) {
		// File already present: content addressing guarantees it is ours, but
		// verify rather than trust a hostile or bit-rotted filesystem.
		onDisk, err := os.ReadFile(abs)
		if err != nil {
			return nil, fmt.Errorf("read existing blob: %w", err)
		}
		if !bytes.Equal(onDisk, data) {
			return nil, fmt.Errorf("%w: %s exists with different content", ErrIntegrity, rel)
		}
	} else {
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return nil, fmt.Errorf("create cache dirs: %w", err)
		}
		if err := renameio.WriteFile(abs, data, 0o644); err != nil {
			return nil, fmt.Errorf("write blob: %w", err)
		}
	}

	entry := &models.CacheEntry{
		ContentHash: hash,
		RelPath:     rel,
		SizeBytes:   int64(len(data)),
		MimeType:    mimeType,
	}
	if isImageMime(mimeType) {
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
			entry.Width, entry.Height = cfg.Width, cfg.Height
		}
		if phash, err := fingerprint.Compute(data); err == nil {
			entry.PerceptualHash = &phash
		}
	}

	deduped, err := c.rows.UpsertWithReference(entry)
	if err != nil {
		return nil, err
	}
	if deduped {
		metrics.CacheDedupeHits.Inc()
	}
	return &StoreResult{ContentHash: hash, RelPath: rel, Deduped: deduped}, nil
}

func isImageMime(mime string) bool {
	return strings.HasPrefix(mime, "image/")
}

// Retrieve returns the blob bytes for a hash, verifying integrity on the way
// out.
func (c *Cache) Retrieve(hash string) ([]byte, error) {
	entry, err := c.rows.GetByHash(hash)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissing, hash)
	}
	data, err := os.ReadFile(filepath.Join(c.root, entry.RelPath))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s (row without file)", ErrMissing, hash)
	}
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != hash {
		return nil, fmt.Errorf("%w: %s", ErrIntegrity, entry.RelPath)
	}
	return data, nil
}

// Entry returns the row for a hash, or nil.
func (c *Cache) Entry(hash string) (*models.CacheEntry, error) {
	return c.rows.GetByHash(hash)
}

// AbsPath returns the on-disk location of a cached blob.
func (c *Cache) AbsPath(entry *models.CacheEntry) string {
	return filepath.Join(c.root, entry.RelPath)
}

// AddReference takes one more reference on an existing entry.
func (c *Cache) AddReference(hash string) error {
	return c.rows.AddReference(hash)
}

// ReleaseReference drops one reference; the row is orphaned the moment the
// count reaches zero.
func (c *Cache) ReleaseReference(hash string) error {
	return c.rows.ReleaseReference(hash)
}

// Verify re-hashes the blob on disk. Missing files return ErrMissing, bad
// content ErrIntegrity.
func (c *Cache) Verify(hash string) error {
	_, err := c.Retrieve(hash)
	return err
}

// Stats reports cache-wide totals and refreshes the gauges.
func (c *Cache) Stats() (*models.CacheStats, error) {
	stats, err := c.rows.Stats(c.grace)
	if err != nil {
		return nil, err
	}
	metrics.CacheEntries.Set(float64(stats.Entries))
	metrics.CacheBytes.Set(float64(stats.TotalBytes))
	return stats, nil
}
