package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/fetcharr/fetcharr/internal/models"
)

// handleCacheAsset is phase 3: ingest one local artwork file into the
// content-addressed cache and register it as a downloaded local candidate.
func (d *Deps) handleCacheAsset(ctx context.Context, job *models.Job) error {
	var payload CacheAssetPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("bad payload: %w", err)
	}

	data, err := os.ReadFile(payload.Path)
	if err != nil {
		if os.IsNotExist(err) {
			// Removed between scan and cache; nothing left to ingest.
			d.Queue.BumpParent(job.ParentJobID, "caching")
			return nil
		}
		return err
	}

	sourceURL := "file://" + payload.Path
	existing, err := d.Candidates.GetBySource(payload.MediaItemID, payload.AssetType, "local", sourceURL)
	if err != nil {
		return err
	}

	res, err := d.Cache.Store(data, filepath.Ext(payload.Path), http.DetectContentType(data))
	if err != nil {
		return fmt.Errorf("cache %s: %w", payload.Path, err)
	}
	entry, err := d.Cache.Entry(res.ContentHash)
	if err != nil {
		return err
	}

	cand := &models.AssetCandidate{
		MediaItemID:  payload.MediaItemID,
		AssetType:    payload.AssetType,
		Provider:     "local",
		SourceURL:    sourceURL,
		IsDownloaded: true,
		ContentHash:  &res.ContentHash,
	}
	if entry != nil {
		cand.Width = entry.Width
		cand.Height = entry.Height
		cand.PerceptualHash = entry.PerceptualHash
	}
	if err := d.Candidates.Upsert(cand); err != nil {
		return err
	}

	// Store took a reference for this candidate row. If the row already held
	// one from an earlier ingest, drop it so the ledger stays at one
	// reference per referencing row: a re-ingest of unchanged bytes nets to
	// zero, changed bytes move the reference to the new blob.
	if prior, ok := priorReference(existing); ok {
		if err := d.Cache.ReleaseReference(prior); err != nil {
			return err
		}
	}

	d.Queue.BumpParent(job.ParentJobID, "caching")
	return nil
}

// priorReference reports the cache reference an already-ingested candidate
// row holds.
func priorReference(existing *models.AssetCandidate) (string, bool) {
	if existing == nil || existing.ContentHash == nil {
		return "", false
	}
	return *existing.ContentHash, true
}
