package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/fetcharr/fetcharr/internal/metadata"
	"github.com/fetcharr/fetcharr/internal/models"
	"github.com/fetcharr/fetcharr/internal/scanner"
)

// handleScanDirectory is phase 2: classify one directory's files, absorb any
// NFO, probe the primary video and upsert the MediaItem. Local artwork fans
// out as cache:asset children. No provider calls happen here.
func (d *Deps) handleScanDirectory(ctx context.Context, job *models.Job) error {
	var payload DirectoryPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("bad payload: %w", err)
	}
	lib, err := d.Libraries.GetByID(payload.LibraryID)
	if err != nil {
		return err
	}

	contents, err := scanner.ReadDirectory(payload.Dir)
	if err != nil {
		return fmt.Errorf("read %s: %w", payload.Dir, err)
	}

	item, err := d.Media.GetByDirectory(payload.Dir)
	if err != nil {
		return err
	}
	created := false
	if item == nil {
		item = &models.MediaItem{
			LibraryID:            lib.ID,
			MediaType:            itemKindFor(lib.MediaType),
			DirectoryPath:        payload.Dir,
			IdentificationStatus: models.IdentUnidentified,
		}
		created = true
	}

	applyParsedName(item, scanner.ParseDirectoryName(payload.Dir))

	if video := contents.PrimaryVideo(); video != "" {
		applyParsedName(item, scanner.ParseFilename(filepath.Base(video)))
		item.FilePath = &video
		if fi, err := os.Stat(video); err == nil {
			item.FileSize = fi.Size()
		}
	}

	if len(contents.NFOs) > 0 {
		if err := d.absorbNFO(item, contents.NFOs[0]); err != nil {
			d.Queue.log.Warn().Err(err).Str("dir", payload.Dir).Msg("NFO unreadable, continuing without it")
		}
	}

	if item.TmdbID != nil || item.TvdbID != nil || item.ImdbID != nil || item.MusicbrainzID != nil {
		if item.IdentificationStatus == models.IdentUnidentified {
			item.IdentificationStatus = models.IdentIdentified
		}
	}
	if item.Title == "" {
		item.Title = filepath.Base(payload.Dir)
	}

	if d.Queue.Cancelled(job.ID) {
		return ErrCancelled
	}

	if item.FilePath != nil && d.Probe != nil {
		if err := d.probeStreams(ctx, item); err != nil {
			d.Queue.log.Warn().Err(err).Str("file", *item.FilePath).Msg("probe failed")
		}
	}

	if created {
		item.ID = uuid.New()
		if err := d.Media.Create(item); err != nil {
			return err
		}
	} else if err := d.Media.UpdateMetadata(item); err != nil {
		return err
	}
	if item.ProbedAt != nil {
		if err := d.Media.UpdateStreamFacts(item); err != nil {
			return err
		}
	}

	for _, uf := range contents.Unknown {
		fi, statErr := os.Stat(uf)
		size := int64(0)
		if statErr == nil {
			size = fi.Size()
		}
		if err := d.Unknown.Upsert(&models.UnknownFile{
			LibraryID:   lib.ID,
			MediaItemID: &item.ID,
			Path:        uf,
			Extension:   filepath.Ext(uf),
			SizeBytes:   size,
		}); err != nil {
			return err
		}
	}

	for _, art := range contents.Artwork {
		child := withDedupe(
			withParent(NewJob(TaskCacheAsset, childPriority(job, PriorityCache, PriorityRoutineChild), CacheAssetPayload{
				LibraryID:   lib.ID,
				MediaItemID: item.ID,
				Path:        art.Path,
				AssetType:   models.AssetType(art.AssetType),
			}), job.ID),
			TaskCacheAsset+":"+art.Path,
		)
		if err := d.Queue.Enqueue(child); err != nil {
			return err
		}
	}

	if item.IdentificationStatus != models.IdentUnidentified {
		child := withDedupe(
			withParent(NewJob(TaskEnrichMetadata, childPriority(job, PriorityEnrich, PriorityRoutineChild), ItemPayload{MediaItemID: item.ID}), job.ID),
			TaskEnrichMetadata+":"+item.ID.String(),
		)
		if err := d.Queue.Enqueue(child); err != nil {
			return err
		}
	}

	d.Queue.BumpParent(job.ParentJobID, "scanning")
	return nil
}

func itemKindFor(t models.LibraryType) models.MediaKind {
	switch t {
	case models.LibraryTV:
		return models.KindSeries
	case models.LibraryMusic:
		return models.KindAlbum
	default:
		return models.KindMovie
	}
}

// applyParsedName fills identity gaps from a parsed file or directory name.
// Existing values always win; names are the weakest identity source.
func applyParsedName(item *models.MediaItem, parsed scanner.ParsedName) {
	if item.Title == "" && parsed.Title != "" {
		item.Title = parsed.Title
	}
	if item.Year == nil && parsed.Year != nil {
		item.Year = parsed.Year
	}
	if item.SeasonNumber == nil && parsed.Season != nil {
		item.SeasonNumber = parsed.Season
	}
	if item.EpisodeNumber == nil && parsed.Episode != nil {
		item.EpisodeNumber = parsed.Episode
	}
	if item.TmdbID == nil && parsed.TmdbID != "" {
		item.TmdbID = &parsed.TmdbID
	}
	if item.TvdbID == nil && parsed.TvdbID != "" {
		item.TvdbID = &parsed.TvdbID
	}
	if item.ImdbID == nil && parsed.ImdbID != "" {
		item.ImdbID = &parsed.ImdbID
	}
}

// absorbNFO folds an existing NFO's identity and fields into the item,
// honoring field locks for descriptive values.
func (d *Deps) absorbNFO(item *models.MediaItem, nfoPath string) error {
	data, err := os.ReadFile(nfoPath)
	if err != nil {
		return err
	}
	parsed, err := metadata.ParseNFO(data)
	if err != nil {
		return err
	}

	if item.TmdbID == nil && parsed.TmdbID != "" {
		item.TmdbID = &parsed.TmdbID
	}
	if item.TvdbID == nil && parsed.TvdbID != "" {
		item.TvdbID = &parsed.TvdbID
	}
	if item.ImdbID == nil && parsed.ImdbID != "" {
		item.ImdbID = &parsed.ImdbID
	}
	if item.MusicbrainzID == nil && parsed.MusicbrainzID != "" {
		item.MusicbrainzID = &parsed.MusicbrainzID
	}

	fields := map[string]any{}
	putNFO(fields, "title", parsed.Title)
	putNFO(fields, "plot", parsed.Plot)
	putNFO(fields, "tagline", parsed.Tagline)
	putNFO(fields, "content_rating", parsed.ContentRating)
	putNFO(fields, "trailer_url", parsed.TrailerURL)
	if parsed.RuntimeMins != nil {
		fields["runtime"] = *parsed.RuntimeMins
	}
	if parsed.Rating != nil {
		fields["rating"] = *parsed.Rating
	}
	if parsed.Votes != nil {
		fields["votes"] = *parsed.Votes
	}
	if len(parsed.Genres) > 0 {
		fields["genres"] = parsed.Genres
	}
	if len(parsed.Studios) > 0 {
		fields["studios"] = parsed.Studios
	}
	if parsed.Premiered != nil {
		fields["premiered"] = parsed.Premiered.Format("2006-01-02")
	}
	metadata.ApplyFields(item, fields)

	if parsed.Year != nil && item.Year == nil {
		item.Year = parsed.Year
	}
	hash := metadata.HashNFO(data)
	item.NFOContentHash = &hash
	return nil
}

func putNFO(fields map[string]any, key, val string) {
	if val != "" {
		fields[key] = val
	}
}

// probeStreams rewrites the item's stream facts from ffprobe output.
func (d *Deps) probeStreams(ctx context.Context, item *models.MediaItem) error {
	res, err := d.Probe.Probe(ctx, *item.FilePath)
	if err != nil {
		return err
	}
	now := time.Now()
	item.ProbedAt = &now
	setStr(&item.VideoCodec, res.GetVideoCodec())
	setStr(&item.AudioCodec, res.GetAudioCodec())
	setStr(&item.AudioFormat, res.GetAudioFormat())
	setStr(&item.HDRFormat, res.GetHDRFormat())
	if w := res.GetWidth(); w > 0 {
		item.Width = &w
	}
	if h := res.GetHeight(); h > 0 {
		item.Height = &h
	}
	if ch := res.GetAudioChannels(); ch > 0 {
		item.AudioChannels = &ch
	}
	if fr := res.GetFramerate(); fr > 0 {
		item.Framerate = &fr
	}
	if br := res.GetVideoBitrate(); br > 0 {
		item.VideoBitrate = &br
	}
	item.AudioLanguages = pq.StringArray(res.GetAudioLanguages())
	item.SubtitleLanguages = pq.StringArray(res.GetSubtitleLanguages())
	return nil
}

func setStr(dst **string, val string) {
	if val != "" {
		*dst = &val
	}
}
