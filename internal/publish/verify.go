package publish

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/google/renameio/v2"

	"github.com/fetcharr/fetcharr/internal/metadata"
	"github.com/fetcharr/fetcharr/internal/models"
)

// VerifyResult summarises one drift check.
type VerifyResult struct {
	Checked  int
	Drifted  int
	Restored int
	// LockedDrift lists paths that drifted but belong to a locked asset
	// type. Locked files are never overwritten; a human decides.
	LockedDrift []string
}

// Verify re-hashes every recorded published file for the item and restores
// drifted or missing ones from the cache. The NFO is regenerated from current
// metadata instead. Stale records are skipped; their files are scheduled for
// removal elsewhere.
func (p *Publisher) Verify(ctx context.Context, item *models.MediaItem) (*VerifyResult, error) {
	unlock := p.locks.lock(item.ID.String())
	defer unlock()

	records, err := p.records.ListByItem(item.ID)
	if err != nil {
		return nil, err
	}

	res := &VerifyResult{}
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if rec.Stale {
			continue
		}
		res.Checked++

		actual, err := hashFile(rec.LibraryPath)
		if err != nil && !os.IsNotExist(err) {
			return res, err
		}
		if actual == rec.ContentHash {
			continue
		}
		res.Drifted++

		if rec.AssetType != "nfo" && item.IsAssetLocked(rec.AssetType) {
			res.LockedDrift = append(res.LockedDrift, rec.LibraryPath)
			p.log.Warn().Str("item", item.Title).Str("path", rec.LibraryPath).Msg("locked asset drifted, leaving as-is")
			continue
		}

		if err := p.restore(item, rec); err != nil {
			return res, err
		}
		res.Restored++
		p.log.Info().Str("item", item.Title).Str("path", rec.LibraryPath).Msg("published file restored")
	}
	return res, nil
}

func (p *Publisher) restore(item *models.MediaItem, rec *models.PublishedAsset) error {
	if rec.AssetType == "nfo" {
		data, err := metadata.GenerateNFO(item)
		if err != nil {
			return err
		}
		if err := renameio.WriteFile(rec.LibraryPath, data, 0o644); err != nil {
			return err
		}
		// Metadata may have moved on since the recorded hash; keep the
		// record matched to what is now on disk.
		return p.records.Record(&models.PublishedAsset{
			MediaItemID: item.ID,
			AssetType:   rec.AssetType,
			LibraryPath: rec.LibraryPath,
			ContentHash: metadata.HashNFO(data),
		})
	}
	entry, err := p.blobs.Entry(rec.ContentHash)
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("cached blob %s gone, cannot restore %s", rec.ContentHash, rec.LibraryPath)
	}
	return linkOrCopy(p.blobs.AbsPath(entry), rec.LibraryPath)
}

func hashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
