package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/fetcharr/fetcharr/internal/models"
)

const maxAssetBytes = 64 << 20

// handleDownload fetches one selected candidate's bytes into the cache and
// marks the candidate downloaded. Local candidates never get here; they are
// ingested by cache:asset.
func (d *Deps) handleDownload(ctx context.Context, job *models.Job) error {
	var payload DownloadPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("bad payload: %w", err)
	}
	cand, err := d.Candidates.GetByID(payload.CandidateID)
	if err != nil {
		return err
	}
	if cand == nil || cand.IsDownloaded || cand.IsRejected {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cand.SourceURL, nil)
	if err != nil {
		return err
	}
	resp, err := d.Download.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", cand.SourceURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: status %d", cand.SourceURL, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetBytes))
	if err != nil {
		return err
	}

	ext := path.Ext(strings.SplitN(path.Base(cand.SourceURL), "?", 2)[0])
	if ext == "" {
		ext = ".jpg"
	}
	mime := resp.Header.Get("Content-Type")
	if mime == "" {
		mime = http.DetectContentType(data)
	}

	res, err := d.Cache.Store(data, ext, mime)
	if err != nil {
		return fmt.Errorf("cache asset: %w", err)
	}
	entry, err := d.Cache.Entry(res.ContentHash)
	if err != nil {
		return err
	}
	var phash *string
	if entry != nil {
		phash = entry.PerceptualHash
	}
	return d.Candidates.MarkDownloaded(cand.ID, res.ContentHash, phash)
}
