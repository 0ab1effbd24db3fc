package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/fetcharr/fetcharr/internal/models"
	"github.com/fetcharr/fetcharr/internal/notifications"
)

// handlePublish writes one item's NFO and selected assets into its library
// directory, then chains a player notification for the directory.
func (d *Deps) handlePublish(ctx context.Context, job *models.Job) error {
	var payload ItemPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("bad payload: %w", err)
	}
	item, err := d.Media.GetByID(payload.MediaItemID)
	if err != nil {
		return err
	}
	if item.DeletedAt != nil {
		return nil
	}
	if item.PendingReview {
		// Hybrid selections wait for a human; publishing now would ship
		// unreviewed artwork.
		return nil
	}

	res, err := d.Publisher.Publish(ctx, item)
	if err != nil {
		return err
	}

	d.activity("publish", &item.ID, &job.ID,
		fmt.Sprintf("%s published: %d assets written, %d unchanged", item.Title, res.AssetsWritten, res.AssetsSkipped),
		nil)
	if d.Dispatcher != nil {
		d.Dispatcher.Dispatch(notifications.EventPublishComplete,
			"Published {{title}}",
			"{{title}}: {{written}} assets written",
			map[string]any{"title": item.Title, "written": res.AssetsWritten, "skipped": res.AssetsSkipped})
	}

	notify := withDedupe(
		withParent(NewJob(TaskNotifyPlayers, childPriority(job, PriorityNotify, PriorityRoutineChild), NotifyPayload{
			MediaItemID: item.ID,
			Path:        item.DirectoryPath,
			Message:     fmt.Sprintf("%s updated", item.Title),
		}), job.ID),
		TaskNotifyPlayers+":"+item.DirectoryPath,
	)
	return d.Queue.Enqueue(notify)
}

// handleNotify pushes a published directory to player groups. A job without a
// group fans out one child per notifiable group, so a flaky group retries on
// its own without re-notifying the healthy ones.
func (d *Deps) handleNotify(ctx context.Context, job *models.Job) error {
	var payload NotifyPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("bad payload: %w", err)
	}
	if payload.GroupID != uuid.Nil {
		return d.Notifier.NotifyGroupByID(ctx, payload.GroupID, payload.Path, "Fetcharr", payload.Message)
	}

	groups, err := d.Notifier.Groups()
	if err != nil {
		return err
	}
	for _, g := range groups {
		child := withDedupe(
			withParent(NewJob(TaskNotifyPlayers, job.Priority, NotifyPayload{
				MediaItemID: payload.MediaItemID,
				Path:        payload.Path,
				Message:     payload.Message,
				GroupID:     g.ID,
			}), job.ID),
			TaskNotifyPlayers+":"+g.ID.String()+":"+payload.Path,
		)
		if err := d.Queue.Enqueue(child); err != nil {
			return err
		}
	}
	return nil
}
