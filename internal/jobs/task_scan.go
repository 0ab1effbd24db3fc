package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fetcharr/fetcharr/internal/models"
	"github.com/fetcharr/fetcharr/internal/notifications"
	"github.com/fetcharr/fetcharr/internal/scanner"
)

// handleScanLibrary is phase 1 of the scan pipeline: walk the library root,
// find media directories and fan out one scan:directory child per directory.
// The parent job's progress counter tracks how many children have finished.
func (d *Deps) handleScanLibrary(ctx context.Context, job *models.Job) error {
	var payload LibraryPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("bad payload: %w", err)
	}
	lib, err := d.Libraries.GetByID(payload.LibraryID)
	if err != nil {
		return err
	}
	if !lib.IsEnabled {
		return nil
	}

	d.Queue.Progress(job.ID, 0, 0, "discovering")
	dirs, err := scanner.DiscoverMediaDirs(lib.Path)
	if err != nil {
		return fmt.Errorf("discover %s: %w", lib.Path, err)
	}
	d.Queue.Progress(job.ID, 0, len(dirs), "scanning")

	queued := 0
	for i, dir := range dirs {
		if i%50 == 0 && d.Queue.Cancelled(job.ID) {
			return ErrCancelled
		}
		child := withDedupe(
			withParent(NewJob(TaskScanDirectory, childPriority(job, PriorityDirectory, PriorityRoutineDirectory), DirectoryPayload{
				LibraryID: lib.ID,
				Dir:       dir,
			}), job.ID),
			TaskScanDirectory+":"+dir,
		)
		if err := d.Queue.Enqueue(child); err != nil {
			return err
		}
		queued++
	}

	if err := d.Libraries.UpdateLastScan(lib.ID, time.Now()); err != nil {
		return err
	}
	d.activity("scan", nil, &job.ID, fmt.Sprintf("library %s: %d directories queued", lib.Name, queued), nil)
	if d.Dispatcher != nil {
		d.Dispatcher.Dispatch(notifications.EventScanComplete,
			"Scan queued for {{library}}",
			"{{queued}} directories queued in {{library}}",
			map[string]any{"library": lib.Name, "queued": queued})
	}
	return nil
}
