package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fetcharr/fetcharr/internal/metadata"
	"github.com/fetcharr/fetcharr/internal/models"
	"github.com/fetcharr/fetcharr/internal/scoring"
)

// handleEnrich is phase 4: pull provider metadata per the library strategy,
// merge fields through locks, refresh the candidate pool and auto-select
// assets per the automation mode. Selected-but-undownloaded assets fan out as
// download:asset children; yolo libraries chain a publish behind them.
func (d *Deps) handleEnrich(ctx context.Context, job *models.Job) error {
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
	lib, err := d.Libraries.GetByID(item.LibraryID)
	if err != nil {
		return err
	}

	res, err := d.Orchestrator.Enrich(ctx, lib, item)
	if err != nil {
		return fmt.Errorf("enrich %s: %w", item.Title, err)
	}

	changed := metadata.ApplyFields(item, res.Fields)
	now := time.Now()
	item.EnrichedAt = &now
	item.IdentificationStatus = models.IdentEnriched
	if len(changed) > 0 {
		item.HasUnpublishedChanges = true
	}

	for _, c := range res.Candidates {
		if err := d.Candidates.Upsert(c); err != nil {
			return err
		}
	}

	if d.Queue.Cancelled(job.ID) {
		return ErrCancelled
	}

	downloadIDs, pendingReview, err := d.selectAssets(item, lib)
	if err != nil {
		return err
	}
	item.PendingReview = pendingReview
	if err := d.Media.UpdateMetadata(item); err != nil {
		return err
	}

	depIDs := make([]uuid.UUID, 0, len(downloadIDs))
	for _, candID := range downloadIDs {
		dl := withDedupe(
			withParent(NewJob(TaskDownloadAsset, childPriority(job, PriorityDownload, PriorityRoutineChild), DownloadPayload{CandidateID: candID}), job.ID),
			TaskDownloadAsset+":"+candID.String(),
		)
		if err := d.Queue.Enqueue(dl); err != nil {
			return err
		}
		depIDs = append(depIDs, dl.ID)
	}

	if lib.AutomationMode == models.ModeYolo && !pendingReview {
		pub := withDedupe(
			withDeps(withParent(NewJob(TaskPublishItem, childPriority(job, PriorityPublish, PriorityRoutineChild), ItemPayload{MediaItemID: item.ID}), job.ID), depIDs...),
			TaskPublishItem+":"+item.ID.String(),
		)
		if err := d.Queue.Enqueue(pub); err != nil {
			return err
		}
	}

	d.Queue.BumpParent(job.ParentJobID, "enriching")
	d.activity("enrich", &item.ID, &job.ID,
		fmt.Sprintf("%s enriched, %d fields updated", item.Title, len(changed)),
		map[string]any{"provider_errors": res.ProviderErrors})
	return nil
}

// selectAssets runs scoring per asset type and applies automated selections.
// Locked asset types keep whatever is selected; manual libraries score but
// never select. Returns candidate ids needing download.
func (d *Deps) selectAssets(item *models.MediaItem, lib *models.Library) ([]uuid.UUID, bool, error) {
	all, err := d.Candidates.ListByItem(item.ID)
	if err != nil {
		return nil, false, err
	}
	rejects, err := d.Rejected.RejectedSet()
	if err != nil {
		return nil, false, err
	}

	byType := map[models.AssetType][]*models.AssetCandidate{}
	for _, c := range all {
		byType[c.AssetType] = append(byType[c.AssetType], c)
	}

	var downloads []uuid.UUID
	pendingReview := false
	for assetType, cands := range byType {
		if item.IsAssetLocked(assetType) {
			d.Queue.log.Debug().Str("item", item.Title).Str("asset", string(assetType)).Msg("asset type locked, skipping auto-select")
			continue
		}
		policy := scoring.PolicyFor(lib, assetType)
		result := scoring.Run(cands, policy, rejects)

		for _, c := range result.Ranked {
			if err := d.Candidates.Upsert(c); err != nil {
				return nil, false, err
			}
		}
		if lib.AutomationMode == models.ModeManual {
			continue
		}
		if err := d.Candidates.ClearAutoSelections(item.ID, assetType); err != nil {
			return nil, false, err
		}
		for _, sel := range result.Selected {
			if err := d.Candidates.SetSelected(sel.ID, true, models.SelectedAuto, result.PendingReview); err != nil {
				return nil, false, err
			}
			if !sel.IsDownloaded {
				downloads = append(downloads, sel.ID)
			}
		}
		if result.PendingReview {
			pendingReview = true
		}
	}
	return downloads, pendingReview, nil
}
