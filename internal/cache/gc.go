package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/fetcharr/fetcharr/internal/metrics"
)

const gcBatchSize = 500

// GCResult summarises one garbage collection sweep.
type GCResult struct {
	Removed        int   `json:"removed"`
	BytesReclaimed int64 `json:"bytes_reclaimed"`
	Failed         int   `json:"failed"`
}

// GarbageCollect removes entries that have been orphaned longer than the
// grace window. The unlink happens before the row delete; an entry whose file
// cannot be removed keeps its row and original orphan timestamp, so the next
// sweep retries it. An iteration that removes nothing ends the sweep rather
// than re-listing the same stuck batch forever.
func (c *Cache) GarbageCollect(ctx context.Context) (*GCResult, error) {
	res := &GCResult{}
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		batch, err := c.rows.ListGCEligible(c.grace, gcBatchSize)
		if err != nil {
			return res, err
		}
		if len(batch) == 0 {
			break
		}
		removedBefore := res.Removed
		for _, entry := range batch {
			abs := filepath.Join(c.root, entry.RelPath)
			if err := os.Remove(abs); err != nil && !errors.Is(err, os.ErrNotExist) {
				res.Failed++
				c.log.Warn().Err(err).Str("hash", entry.ContentHash).Msg("gc unlink failed, restoring orphan timestamp")
				if rerr := c.rows.RestoreOrphanedAt(entry); rerr != nil {
					c.log.Error().Err(rerr).Str("hash", entry.ContentHash).Msg("gc could not restore orphan timestamp")
				}
				continue
			}
			if err := c.rows.Delete(entry.ContentHash); err != nil {
				res.Failed++
				c.log.Error().Err(err).Str("hash", entry.ContentHash).Msg("gc row delete failed after unlink")
				continue
			}
			c.pruneEmptyDirs(abs)
			res.Removed++
			res.BytesReclaimed += entry.SizeBytes
		}
		if res.Removed == removedBefore || len(batch) < gcBatchSize {
			break
		}
	}
	if res.Removed > 0 {
		metrics.CacheGCRemoved.Add(float64(res.Removed))
	}
	c.log.Info().Int("removed", res.Removed).Int64("bytes", res.BytesReclaimed).Int("failed", res.Failed).Msg("cache gc sweep complete")
	return res, nil
}

// pruneEmptyDirs removes the two fanout levels above a deleted blob when they
// are empty. os.Remove refuses non-empty directories, so this is safe to
// attempt unconditionally.
func (c *Cache) pruneEmptyDirs(abs string) {
	dir := filepath.Dir(abs)
	for i := 0; i < 2; i++ {
		if dir == c.root || os.Remove(dir) != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
