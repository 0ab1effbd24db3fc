package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fetcharr/fetcharr/internal/models"
)

// memRows is an in-memory stand-in for repository.CacheRepository.
type memRows struct {
	entries map[string]*models.CacheEntry
}

func newMemRows() *memRows {
	return &memRows{entries: map[string]*models.CacheEntry{}}
}

func (m *memRows) GetByHash(hash string) (*models.CacheEntry, error) {
	e, ok := m.entries[hash]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (m *memRows) UpsertWithReference(e *models.CacheEntry) (bool, error) {
	if existing, ok := m.entries[e.ContentHash]; ok {
		existing.ReferenceCount++
		existing.OrphanedAt = nil
		existing.LastUsedAt = time.Now()
		return true, nil
	}
	cp := *e
	cp.ReferenceCount = 1
	cp.CreatedAt = time.Now()
	cp.LastUsedAt = cp.CreatedAt
	m.entries[e.ContentHash] = &cp
	return false, nil
}

func (m *memRows) AddReference(hash string) error {
	e, ok := m.entries[hash]
	if !ok {
		return ErrMissing
	}
	e.ReferenceCount++
	e.OrphanedAt = nil
	return nil
}

func (m *memRows) ReleaseReference(hash string) error {
	e, ok := m.entries[hash]
	if !ok {
		return ErrMissing
	}
	if e.ReferenceCount == 0 {
		return assert.AnError
	}
	e.ReferenceCount--
	if e.ReferenceCount == 0 {
		now := time.Now()
		e.OrphanedAt = &now
	}
	return nil
}

func (m *memRows) ListGCEligible(grace time.Duration, limit int) ([]*models.CacheEntry, error) {
	cutoff := time.Now().Add(-grace)
	var out []*models.CacheEntry
	for _, e := range m.entries {
		if e.OrphanedAt != nil && e.OrphanedAt.Before(cutoff) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContentHash < out[j].ContentHash })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRows) Delete(hash string) error {
	delete(m.entries, hash)
	return nil
}

func (m *memRows) RestoreOrphanedAt(e *models.CacheEntry) error {
	if existing, ok := m.entries[e.ContentHash]; ok {
		existing.OrphanedAt = e.OrphanedAt
	}
	return nil
}

func (m *memRows) Stats(grace time.Duration) (*models.CacheStats, error) {
	cutoff := time.Now().Add(-grace)
	s := &models.CacheStats{}
	for _, e := range m.entries {
		s.Entries++
		s.TotalBytes += e.SizeBytes
		if e.OrphanedAt != nil {
			s.Orphaned++
			if e.OrphanedAt.Before(cutoff) {
				s.OrphanedDue++
			}
		}
	}
	return s, nil
}

func newTestCache(t *testing.T, grace time.Duration) (*Cache, *memRows) {
	t.Helper()
	rows := newMemRows()
	c, err := New(t.TempDir(), rows, grace)
	require.NoError(t, err)
	return c, rows
}

func pngBytes(t *testing.T, shade uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 40, 60))
	for y := 0; y < 60; y++ {
		for x := 0; x < 40; x++ {
			img.SetGray(x, y, color.Gray{Y: shade + uint8(x)})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestStoreAndRetrieve(t *testing.T) {
	c, _ := newTestCache(t, time.Hour)
	data := pngBytes(t, 10)

	res, err := c.Store(data, "png", "image/png")
	require.NoError(t, err)
	assert.False(t, res.Deduped)

	sum := sha256.Sum256(data)
	want := hex.EncodeToString(sum[:])
	assert.Equal(t, want, res.ContentHash)
	assert.Equal(t, filepath.Join(want[0:2], want[2:4], want+".png"), res.RelPath)

	got, err := c.Retrieve(res.ContentHash)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	entry, err := c.Entry(res.ContentHash)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 1, entry.ReferenceCount)
	assert.Equal(t, 40, entry.Width)
	assert.Equal(t, 60, entry.Height)
	require.NotNil(t, entry.PerceptualHash)
	assert.Len(t, *entry.PerceptualHash, 16)
}

func TestStoreDedupesIdenticalContent(t *testing.T) {
	c, rows := newTestCache(t, time.Hour)
	data := pngBytes(t, 50)

	first, err := c.Store(data, "png", "image/png")
	require.NoError(t, err)
	second, err := c.Store(data, "png", "image/png")
	require.NoError(t, err)

	assert.Equal(t, first.ContentHash, second.ContentHash)
	assert.True(t, second.Deduped)
	assert.Equal(t, 2, rows.entries[first.ContentHash].ReferenceCount)
	assert.Len(t, rows.entries, 1)
}

func TestReleaseToZeroOrphansEntry(t *testing.T) {
	c, rows := newTestCache(t, time.Hour)
	res, err := c.Store(pngBytes(t, 20), "png", "image/png")
	require.NoError(t, err)

	require.NoError(t, c.AddReference(res.ContentHash))
	require.NoError(t, c.ReleaseReference(res.ContentHash))
	assert.Nil(t, rows.entries[res.ContentHash].OrphanedAt)

	require.NoError(t, c.ReleaseReference(res.ContentHash))
	assert.NotNil(t, rows.entries[res.ContentHash].OrphanedAt)

	// Releasing an already-zero entry must not succeed silently.
	assert.Error(t, c.ReleaseReference(res.ContentHash))

	// Re-referencing clears the orphan mark.
	require.NoError(t, c.AddReference(res.ContentHash))
	assert.Nil(t, rows.entries[res.ContentHash].OrphanedAt)
}

func TestRetrieveDetectsCorruption(t *testing.T) {
	c, _ := newTestCache(t, time.Hour)
	res, err := c.Store(pngBytes(t, 30), "png", "image/png")
	require.NoError(t, err)

	abs := filepath.Join(c.root, res.RelPath)
	require.NoError(t, os.WriteFile(abs, []byte("tampered"), 0o644))

	_, err = c.Retrieve(res.ContentHash)
	assert.ErrorIs(t, err, ErrIntegrity)
	assert.ErrorIs(t, c.Verify(res.ContentHash), ErrIntegrity)
}

func TestRetrieveMissing(t *testing.T) {
	c, _ := newTestCache(t, time.Hour)
	_, err := c.Retrieve("deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef")
	assert.ErrorIs(t, err, ErrMissing)
}

func TestGarbageCollectHonoursGrace(t *testing.T) {
	grace := 90 * 24 * time.Hour
	c, rows := newTestCache(t, grace)

	keep, err := c.Store(pngBytes(t, 1), "png", "image/png")
	require.NoError(t, err)
	due, err := c.Store(pngBytes(t, 200), "png", "image/png")
	require.NoError(t, err)
	require.NoError(t, c.ReleaseReference(keep.ContentHash))
	require.NoError(t, c.ReleaseReference(due.ContentHash))

	// keep: orphaned 89 days ago, inside the window. due: 91 days, eligible.
	recent := time.Now().Add(-89 * 24 * time.Hour)
	old := time.Now().Add(-91 * 24 * time.Hour)
	rows.entries[keep.ContentHash].OrphanedAt = &recent
	rows.entries[due.ContentHash].OrphanedAt = &old

	res, err := c.GarbageCollect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Removed)
	assert.Equal(t, 0, res.Failed)
	assert.Positive(t, res.BytesReclaimed)

	assert.NotContains(t, rows.entries, due.ContentHash)
	assert.Contains(t, rows.entries, keep.ContentHash)
	_, statErr := os.Stat(filepath.Join(c.root, due.RelPath))
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(filepath.Join(c.root, keep.RelPath))
	assert.NoError(t, statErr)
}

func TestReingestReleaseKeepsLedgerBalanced(t *testing.T) {
	c, rows := newTestCache(t, time.Hour)
	data := pngBytes(t, 77)

	first, err := c.Store(data, "png", "image/png")
	require.NoError(t, err)
	second, err := c.Store(data, "png", "image/png")
	require.NoError(t, err)
	require.Equal(t, first.ContentHash, second.ContentHash)

	// One candidate row holds the blob, so re-ingesting it pairs the second
	// Store with a release of the prior reference.
	require.NoError(t, c.ReleaseReference(first.ContentHash))
	entry := rows.entries[first.ContentHash]
	assert.Equal(t, 1, entry.ReferenceCount)
	assert.Nil(t, entry.OrphanedAt)

	// Dropping the candidate itself orphans the blob; it stays collectable.
	require.NoError(t, c.ReleaseReference(first.ContentHash))
	assert.NotNil(t, rows.entries[first.ContentHash].OrphanedAt)
}

func TestGarbageCollectStopsOnFullyStuckBatch(t *testing.T) {
	c, rows := newTestCache(t, time.Minute)
	old := time.Now().Add(-time.Hour)
	for i := 0; i < gcBatchSize; i++ {
		hash := fmt.Sprintf("%064d", i)
		rel := filepath.Join("st", "uc", hash)
		dir := filepath.Join(c.root, rel)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "pin"), []byte("x"), 0o644))
		orphaned := old
		rows.entries[hash] = &models.CacheEntry{
			ContentHash: hash,
			RelPath:     rel,
			SizeBytes:   1,
			OrphanedAt:  &orphaned,
		}
	}

	// Every unlink fails (the blob path is a non-empty directory) and the
	// restored rows stay eligible, so the sweep must stop after one pass.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := c.GarbageCollect(ctx)
	require.NoError(t, err, "a fully stuck batch must end the sweep, not time it out")
	assert.Equal(t, 0, res.Removed)
	assert.Equal(t, gcBatchSize, res.Failed)
	assert.Len(t, rows.entries, gcBatchSize)
	for _, e := range rows.entries {
		require.NotNil(t, e.OrphanedAt)
		assert.WithinDuration(t, old, *e.OrphanedAt, time.Second)
	}
}

func TestGarbageCollectMissingFileStillDropsRow(t *testing.T) {
	c, rows := newTestCache(t, time.Minute)
	res, err := c.Store(pngBytes(t, 5), "png", "image/png")
	require.NoError(t, err)
	require.NoError(t, c.ReleaseReference(res.ContentHash))
	old := time.Now().Add(-time.Hour)
	rows.entries[res.ContentHash].OrphanedAt = &old
	require.NoError(t, os.Remove(filepath.Join(c.root, res.RelPath)))

	gc, err := c.GarbageCollect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, gc.Removed)
	assert.NotContains(t, rows.entries, res.ContentHash)
}

func TestStats(t *testing.T) {
	c, rows := newTestCache(t, time.Hour)
	a, err := c.Store(pngBytes(t, 2), "png", "image/png")
	require.NoError(t, err)
	_, err = c.Store(pngBytes(t, 90), "png", "image/png")
	require.NoError(t, err)
	require.NoError(t, c.ReleaseReference(a.ContentHash))
	old := time.Now().Add(-2 * time.Hour)
	rows.entries[a.ContentHash].OrphanedAt = &old

	stats, err := c.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Entries)
	assert.Equal(t, 1, stats.Orphaned)
	assert.Equal(t, 1, stats.OrphanedDue)
	assert.Positive(t, stats.TotalBytes)
}
