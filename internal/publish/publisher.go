package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/fetcharr/fetcharr/internal/logging"
	"github.com/fetcharr/fetcharr/internal/metadata"
	"github.com/fetcharr/fetcharr/internal/metrics"
	"github.com/fetcharr/fetcharr/internal/models"
)

// ErrNotReady means validation failed: selected assets are missing downloads
// or required fields are absent.
var ErrNotReady = errors.New("item not ready to publish")

// DefaultConcurrency bounds cross-item publish parallelism to keep library
// filesystem thrash down.
const DefaultConcurrency = 4

// Blobs is the slice of the cache the publisher needs.
type Blobs interface {
	Entry(hash string) (*models.CacheEntry, error)
	AbsPath(entry *models.CacheEntry) string
}

// Items is the media persistence slice, implemented by
// repository.MediaRepository.
type Items interface {
	SetNFOHash(id uuid.UUID, hash string) error
	SetUnpublishedChanges(id uuid.UUID, pending bool) error
}

// Candidates is implemented by repository.CandidateRepository.
type Candidates interface {
	ListSelected(itemID uuid.UUID) ([]*models.AssetCandidate, error)
}

// Records is implemented by repository.PublishRepository.
type Records interface {
	Record(p *models.PublishedAsset) error
	DeleteByPath(itemID uuid.UUID, path string) error
	ListByItem(itemID uuid.UUID) ([]*models.PublishedAsset, error)
	AppendLog(entry *models.PublishLogEntry) error
}

type Publisher struct {
	blobs      Blobs
	items      Items
	candidates Candidates
	records    Records
	sem        *semaphore.Weighted
	locks      keyedMutex
	log        zerolog.Logger
}

func New(blobs Blobs, items Items, candidates Candidates, records Records, concurrency int64) *Publisher {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Publisher{
		blobs:      blobs,
		items:      items,
		candidates: candidates,
		records:    records,
		sem:        semaphore.NewWeighted(concurrency),
		log:        logging.WithComponent("publish"),
	}
}

// Result summarises one publish run.
type Result struct {
	NFOWritten    bool
	AssetsWritten int
	AssetsSkipped int
}

// Publish writes an item's NFO and selected assets into its directory.
// Re-publishing content already on disk with matching hashes is a no-op per
// file. Partial failures roll back this run's writes.
func (p *Publisher) Publish(ctx context.Context, item *models.MediaItem) (*Result, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.sem.Release(1)

	unlock := p.locks.lock(item.ID.String())
	defer unlock()

	start := time.Now()
	res, nfoHash, err := p.publishLocked(ctx, item)

	entry := &models.PublishLogEntry{
		MediaItemID: item.ID,
		Success:     err == nil,
		DurationMs:  time.Since(start).Milliseconds(),
	}
	if nfoHash != "" {
		entry.NFOHash = &nfoHash
	}
	if res != nil {
		entry.AssetsWritten = res.AssetsWritten
	}
	if err != nil {
		msg := err.Error()
		entry.Error = &msg
		metrics.PublishRuns.WithLabelValues("error").Inc()
	} else {
		metrics.PublishRuns.WithLabelValues("ok").Inc()
	}
	if logErr := p.records.AppendLog(entry); logErr != nil {
		p.log.Error().Err(logErr).Str("item", item.Title).Msg("publish log append failed")
	}
	return res, err
}

func (p *Publisher) publishLocked(ctx context.Context, item *models.MediaItem) (*Result, string, error) {
	selected, err := p.candidates.ListSelected(item.ID)
	if err != nil {
		return nil, "", err
	}
	if err := validate(item, selected); err != nil {
		return nil, "", err
	}

	previous, err := p.records.ListByItem(item.ID)
	if err != nil {
		return nil, "", err
	}
	prevByPath := make(map[string]*models.PublishedAsset, len(previous))
	for _, pa := range previous {
		prevByPath[pa.LibraryPath] = pa
	}

	nfoData, err := metadata.GenerateNFO(item)
	if err != nil {
		return nil, "", err
	}
	nfoHash := metadata.HashNFO(nfoData)

	rb := rollback{slots: map[models.AssetType]int{}}
	res := &Result{}
	var staged []*models.PublishedAsset

	// NFO first: if the directory is not writable, fail before touching
	// artwork.
	nfoName, err := NFOFileName(item)
	if err != nil {
		return nil, "", err
	}
	nfoPath := filepath.Join(item.DirectoryPath, nfoName)
	if prev, ok := prevByPath[nfoPath]; ok && prev.ContentHash == nfoHash && fileExists(nfoPath) {
		res.AssetsSkipped++
	} else {
		rb.note(nfoPath)
		if err := renameio.WriteFile(nfoPath, nfoData, 0o644); err != nil {
			rb.undo(p.log)
			return nil, "", fmt.Errorf("write nfo: %w", err)
		}
		res.NFOWritten = true
		staged = append(staged, &models.PublishedAsset{
			MediaItemID: item.ID,
			AssetType:   models.AssetType("nfo"),
			LibraryPath: nfoPath,
			ContentHash: nfoHash,
		})
	}

	for _, asset := range orderAssets(selected) {
		if err := ctx.Err(); err != nil {
			rb.undo(p.log)
			return nil, "", err
		}
		rec, err := p.publishAsset(item, asset, prevByPath, &rb)
		if err != nil {
			rb.undo(p.log)
			return nil, "", err
		}
		if rec != nil {
			staged = append(staged, rec)
			res.AssetsWritten++
		} else {
			res.AssetsSkipped++
		}
	}

	// Records land only after every file is in place, so a failed run never
	// leaves published_assets describing content that rollback removed.
	if err := p.items.SetNFOHash(item.ID, nfoHash); err != nil {
		rb.undo(p.log)
		return nil, "", err
	}
	if err := p.items.SetUnpublishedChanges(item.ID, false); err != nil {
		rb.undo(p.log)
		return nil, "", err
	}
	if err := p.flushRecords(staged, prevByPath); err != nil {
		rb.undo(p.log)
		return nil, "", err
	}
	p.log.Info().Str("item", item.Title).Int("assets", res.AssetsWritten).Int("skipped", res.AssetsSkipped).Msg("publish complete")
	return res, nfoHash, nil
}

// flushRecords upserts this run's published_assets rows. A mid-flush failure
// reverts the rows already written, restoring the previous record for paths
// that had one and deleting the rest, so the ledger matches the rolled-back
// files.
func (p *Publisher) flushRecords(staged []*models.PublishedAsset, prev map[string]*models.PublishedAsset) error {
	for i, rec := range staged {
		if err := p.records.Record(rec); err != nil {
			p.revertRecords(staged[:i], prev)
			return fmt.Errorf("record %s: %w", rec.LibraryPath, err)
		}
	}
	return nil
}

func (p *Publisher) revertRecords(flushed []*models.PublishedAsset, prev map[string]*models.PublishedAsset) {
	for i := len(flushed) - 1; i >= 0; i-- {
		rec := flushed[i]
		var err error
		if old, ok := prev[rec.LibraryPath]; ok {
			err = p.records.Record(old)
		} else {
			err = p.records.DeleteByPath(rec.MediaItemID, rec.LibraryPath)
		}
		if err != nil {
			p.log.Error().Err(err).Str("path", rec.LibraryPath).Msg("publish record revert failed")
		}
	}
}

// orderAssets groups by asset type in a fixed order and assigns fanart slots
// deterministically by score.
func orderAssets(selected []*models.AssetCandidate) []*models.AssetCandidate {
	out := make([]*models.AssetCandidate, len(selected))
	copy(out, selected)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].AssetType != out[j].AssetType {
			return out[i].AssetType < out[j].AssetType
		}
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].SourceURL < out[j].SourceURL
	})
	return out
}

// publishAsset places one selected asset and returns its staged record, or
// nil when the file on disk already matches.
func (p *Publisher) publishAsset(item *models.MediaItem, asset *models.AssetCandidate, prevByPath map[string]*models.PublishedAsset, rb *rollback) (*models.PublishedAsset, error) {
	entry, err := p.blobs.Entry(*asset.ContentHash)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, fmt.Errorf("%w: cached blob %s missing", ErrNotReady, *asset.ContentHash)
	}

	slot := rb.slots[asset.AssetType]
	rb.slots[asset.AssetType]++
	name, err := AssetFileName(item, asset.AssetType, slot, filepath.Ext(entry.RelPath))
	if err != nil {
		return nil, err
	}
	dest := filepath.Join(item.DirectoryPath, name)

	if prev, ok := prevByPath[dest]; ok && prev.ContentHash == entry.ContentHash && fileExists(dest) {
		return nil, nil
	}

	rb.note(dest)
	if err := linkOrCopy(p.blobs.AbsPath(entry), dest); err != nil {
		return nil, fmt.Errorf("place %s: %w", name, err)
	}
	return &models.PublishedAsset{
		MediaItemID: item.ID,
		AssetType:   asset.AssetType,
		LibraryPath: dest,
		ContentHash: entry.ContentHash,
	}, nil
}

// validate enforces publish preconditions: every selected asset downloaded
// and the per-kind required fields present.
func validate(item *models.MediaItem, selected []*models.AssetCandidate) error {
	for _, c := range selected {
		if !c.IsDownloaded || c.ContentHash == nil {
			return fmt.Errorf("%w: selected %s from %s not downloaded", ErrNotReady, c.AssetType, c.Provider)
		}
	}
	if item.Title == "" {
		return fmt.Errorf("%w: title missing", ErrNotReady)
	}
	switch item.MediaType {
	case models.KindMovie, models.KindSeries:
		if item.Year == nil {
			return fmt.Errorf("%w: year missing", ErrNotReady)
		}
	case models.KindEpisode:
		if item.SeasonNumber == nil || item.EpisodeNumber == nil {
			return fmt.Errorf("%w: episode position missing", ErrNotReady)
		}
	}
	return nil
}

// linkOrCopy hard-links when source and destination share a filesystem, else
// streams a copy through a temp file.
func linkOrCopy(src, dest string) error {
	_ = os.Remove(dest)
	if err := os.Link(src, dest); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	t, err := renameio.TempFile(filepath.Dir(dest), dest)
	if err != nil {
		return err
	}
	defer t.Cleanup()
	if _, err := io.Copy(t, in); err != nil {
		return err
	}
	return t.CloseAtomicallyReplace()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ──────────────────── rollback ────────────────────

// rollback reverses this run's filesystem writes: fresh files are unlinked,
// overwritten files restored from their pre-write bytes.
type rollback struct {
	entries []rollbackEntry
	slots   map[models.AssetType]int
}

type rollbackEntry struct {
	path     string
	existed  bool
	previous []byte
}

func (r *rollback) note(path string) {
	e := rollbackEntry{path: path}
	if data, err := os.ReadFile(path); err == nil {
		e.existed = true
		e.previous = data
	}
	r.entries = append(r.entries, e)
}

func (r *rollback) undo(log zerolog.Logger) {
	for i := len(r.entries) - 1; i >= 0; i-- {
		e := r.entries[i]
		var err error
		if e.existed {
			err = renameio.WriteFile(e.path, e.previous, 0o644)
		} else {
			err = os.Remove(e.path)
			if errors.Is(err, os.ErrNotExist) {
				err = nil
			}
		}
		if err != nil {
			log.Error().Err(err).Str("path", e.path).Msg("publish rollback failed")
		}
	}
	r.entries = nil
}

// keyedMutex serialises publishes of the same item.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = map[string]*sync.Mutex{}
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()
	m.Lock()
	return m.Unlock
}
