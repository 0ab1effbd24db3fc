package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/fetcharr/fetcharr/internal/models"
)

const (
	historyKeep  = 10000
	activityKeep = 50000
	publishKeep  = 20000
)

// handleGC is the weekly sweep: purge soft-deleted items past their grace,
// drop stale publish records, then let the cache collect orphaned blobs.
// Ordering matters; the purges orphan cache references the collector reaps.
func (d *Deps) handleGC(ctx context.Context, job *models.Job) error {
	purged, err := d.Media.PurgeExpired(d.SoftDeleteGrace)
	if err != nil {
		return fmt.Errorf("purge expired items: %w", err)
	}
	pruned, err := d.Publishes.PruneStale(time.Now().Add(-d.SoftDeleteGrace))
	if err != nil {
		return fmt.Errorf("prune stale publishes: %w", err)
	}
	res, err := d.Cache.GarbageCollect(ctx)
	if err != nil {
		return fmt.Errorf("cache gc: %w", err)
	}

	d.activity("gc", nil, &job.ID,
		fmt.Sprintf("gc: %d items purged, %d stale records pruned, %d blobs removed (%d bytes)",
			purged, pruned, res.Removed, res.BytesReclaimed),
		map[string]any{"failed_unlinks": res.Failed})
	return nil
}

// handleMaintenance trims the unbounded tables. The queue's own 30 second
// sweep handles dependency failures and history migration; this one just
// keeps table sizes sane.
func (d *Deps) handleMaintenance(ctx context.Context, job *models.Job) error {
	if _, err := d.Queue.PruneHistory(historyKeep); err != nil {
		return fmt.Errorf("prune job history: %w", err)
	}
	if d.Activity != nil {
		if _, err := d.Activity.Prune(activityKeep); err != nil {
			return fmt.Errorf("prune activity: %w", err)
		}
	}
	if _, err := d.Publishes.PruneLog(publishKeep); err != nil {
		return fmt.Errorf("prune publish log: %w", err)
	}
	return nil
}
