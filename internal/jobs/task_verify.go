package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/fetcharr/fetcharr/internal/models"
	"github.com/fetcharr/fetcharr/internal/notifications"
	"github.com/fetcharr/fetcharr/internal/publish"
)

const verifyPageSize = 500

// handleVerify re-hashes published files and restores anything that drifted
// from the recorded content. An empty payload sweeps every library; a payload
// with a media_item_id checks just that item.
func (d *Deps) handleVerify(ctx context.Context, job *models.Job) error {
	var payload ItemPayload
	if len(job.Payload) > 0 {
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("bad payload: %w", err)
		}
	}

	total := &publish.VerifyResult{}
	if payload.MediaItemID != uuid.Nil {
		item, err := d.Media.GetByID(payload.MediaItemID)
		if err != nil {
			return err
		}
		if item == nil || item.DeletedAt != nil {
			return nil
		}
		if err := d.verifyItem(ctx, item, total); err != nil {
			return err
		}
	} else if err := d.verifySweep(ctx, job, total); err != nil {
		return err
	}

	if total.Drifted == 0 {
		return nil
	}
	d.activity("verify", nil, &job.ID,
		fmt.Sprintf("drift check: %d checked, %d drifted, %d restored, %d locked left alone",
			total.Checked, total.Drifted, total.Restored, len(total.LockedDrift)),
		map[string]any{"locked": total.LockedDrift})
	if d.Dispatcher != nil {
		d.Dispatcher.Dispatch(notifications.EventDriftDetected,
			"Published files drifted",
			"{{drifted}} published files changed on disk, {{restored}} restored",
			map[string]any{"drifted": total.Drifted, "restored": total.Restored, "checked": total.Checked})
	}
	return nil
}

func (d *Deps) verifySweep(ctx context.Context, job *models.Job, total *publish.VerifyResult) error {
	libs, err := d.Libraries.List()
	if err != nil {
		return err
	}
	for _, lib := range libs {
		for offset := 0; ; offset += verifyPageSize {
			if d.Queue.Cancelled(job.ID) {
				return ErrCancelled
			}
			items, err := d.Media.ListByLibrary(lib.ID, verifyPageSize, offset)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				break
			}
			for _, item := range items {
				if item.DeletedAt != nil {
					continue
				}
				if err := d.verifyItem(ctx, item, total); err != nil {
					return err
				}
			}
			d.Queue.Progress(job.ID, total.Checked, 0, "verifying "+lib.Name)
		}
	}
	return nil
}

func (d *Deps) verifyItem(ctx context.Context, item *models.MediaItem, total *publish.VerifyResult) error {
	res, err := d.Publisher.Verify(ctx, item)
	if err != nil {
		// One unrestorable item should not abort the sweep.
		d.Queue.log.Error().Err(err).Str("item", item.Title).Msg("drift check failed")
	}
	if res != nil {
		total.Checked += res.Checked
		total.Drifted += res.Drifted
		total.Restored += res.Restored
		total.LockedDrift = append(total.LockedDrift, res.LockedDrift...)
	}
	return ctx.Err()
}
