package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fetcharr/fetcharr/internal/models"
	"github.com/fetcharr/fetcharr/internal/pathmap"
)

// webhookInfo is the normalised view of a download-manager event.
type webhookInfo struct {
	Event  string
	Delete bool
	Path   string
	Title  string
	Year   *int

	TmdbID        string
	TvdbID        string
	ImdbID        string
	MusicbrainzID string
}

type radarrEvent struct {
	EventType string `json:"eventType"`
	Movie     struct {
		FolderPath string `json:"folderPath"`
		TmdbID     int64  `json:"tmdbId"`
		ImdbID     string `json:"imdbId"`
		Title      string `json:"title"`
		Year       int    `json:"year"`
	} `json:"movie"`
}

type sonarrEvent struct {
	EventType string `json:"eventType"`
	Series    struct {
		Path   string `json:"path"`
		TvdbID int64  `json:"tvdbId"`
		ImdbID string `json:"imdbId"`
		Title  string `json:"title"`
		Year   int    `json:"year"`
	} `json:"series"`
}

type lidarrEvent struct {
	EventType string `json:"eventType"`
	Artist    struct {
		Path            string `json:"path"`
		ForeignArtistID string `json:"foreignArtistId"`
		Name            string `json:"name"`
	} `json:"artist"`
}

// parseWebhook normalises a Radarr, Sonarr or Lidarr payload.
func parseWebhook(source string, body []byte) (*webhookInfo, error) {
	info := &webhookInfo{}
	switch source {
	case "radarr":
		var ev radarrEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return nil, fmt.Errorf("radarr payload: %w", err)
		}
		info.Event = ev.EventType
		info.Path = ev.Movie.FolderPath
		info.Title = ev.Movie.Title
		if ev.Movie.Year > 0 {
			y := ev.Movie.Year
			info.Year = &y
		}
		if ev.Movie.TmdbID > 0 {
			info.TmdbID = fmt.Sprintf("%d", ev.Movie.TmdbID)
		}
		info.ImdbID = ev.Movie.ImdbID
	case "sonarr":
		var ev sonarrEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return nil, fmt.Errorf("sonarr payload: %w", err)
		}
		info.Event = ev.EventType
		info.Path = ev.Series.Path
		info.Title = ev.Series.Title
		if ev.Series.Year > 0 {
			y := ev.Series.Year
			info.Year = &y
		}
		if ev.Series.TvdbID > 0 {
			info.TvdbID = fmt.Sprintf("%d", ev.Series.TvdbID)
		}
		info.ImdbID = ev.Series.ImdbID
	case "lidarr":
		var ev lidarrEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return nil, fmt.Errorf("lidarr payload: %w", err)
		}
		info.Event = ev.EventType
		info.Path = ev.Artist.Path
		info.Title = ev.Artist.Name
		info.MusicbrainzID = ev.Artist.ForeignArtistID
	default:
		return nil, fmt.Errorf("unknown webhook source %q", source)
	}
	if info.Path == "" {
		return nil, fmt.Errorf("%s %s event carries no path", source, info.Event)
	}
	info.Delete = strings.Contains(strings.ToLower(info.Event), "delete")
	return info, nil
}

// handleWebhook turns a download-manager event into the processing chain:
// directory scan, then enrichment, then publish, then player notification,
// each step depending on the previous. Delete events soft-delete the item and
// leave files in place for the grace window.
func (d *Deps) handleWebhook(ctx context.Context, job *models.Job) error {
	var payload WebhookPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("bad payload: %w", err)
	}
	info, err := parseWebhook(payload.Source, payload.Body)
	if err != nil {
		// Malformed payloads never become valid; retrying is waste.
		d.Queue.log.Warn().Err(err).Str("source", payload.Source).Msg("webhook rejected")
		return nil
	}

	maps, err := d.Mappings.ListForManager(payload.Source)
	if err != nil {
		return err
	}
	dir := pathmap.Translate(info.Path, maps)

	item, err := d.resolveWebhookItem(info, dir)
	if err != nil {
		return err
	}

	if info.Delete {
		if item == nil {
			return nil
		}
		if err := d.Media.SoftDelete(item.ID, time.Now()); err != nil {
			return err
		}
		if err := d.Publishes.MarkStale(item.ID); err != nil {
			return err
		}
		d.activity("webhook", &item.ID, &job.ID,
			fmt.Sprintf("%s removed by %s, grace until purge", item.Title, payload.Source), nil)
		return nil
	}

	lib, err := d.Libraries.GetByPathPrefix(dir)
	if err != nil {
		return fmt.Errorf("no library covers %s: %w", dir, err)
	}

	scan := withDedupe(
		withParent(NewJob(TaskScanDirectory, PriorityDirectory, DirectoryPayload{
			LibraryID: lib.ID,
			Dir:       dir,
		}), job.ID),
		TaskScanDirectory+":"+dir,
	)
	if err := d.Queue.Enqueue(scan); err != nil {
		return err
	}

	var enrich *models.Job
	if item != nil {
		enrich = withDeps(withParent(NewJob(TaskEnrichMetadata, PriorityEnrich, ItemPayload{MediaItemID: item.ID}), job.ID), scan.ID)
		if err := d.Queue.Enqueue(enrich); err != nil {
			return err
		}

		pub := withDeps(withParent(NewJob(TaskPublishItem, PriorityPublish, ItemPayload{MediaItemID: item.ID}), job.ID), enrich.ID)
		if err := d.Queue.Enqueue(pub); err != nil {
			return err
		}

		notify := withDeps(withParent(NewJob(TaskNotifyPlayers, PriorityNotify, NotifyPayload{
			MediaItemID: item.ID,
			Path:        dir,
			Message:     fmt.Sprintf("%s updated", item.Title),
		}), job.ID), pub.ID)
		if err := d.Queue.Enqueue(notify); err != nil {
			return err
		}
	}
	// Without a resolvable item the directory scan itself emits enrichment
	// once the item row exists.

	d.activity("webhook", nil, &job.ID,
		fmt.Sprintf("%s %s for %s", payload.Source, info.Event, dir), nil)
	return nil
}

// resolveWebhookItem finds the item by provider id first, then by directory.
func (d *Deps) resolveWebhookItem(info *webhookInfo, dir string) (*models.MediaItem, error) {
	lookups := []struct{ provider, id string }{
		{"tmdb", info.TmdbID},
		{"tvdb", info.TvdbID},
		{"imdb", info.ImdbID},
		{"musicbrainz", info.MusicbrainzID},
	}
	for _, l := range lookups {
		if l.id == "" {
			continue
		}
		item, err := d.Media.GetByProviderID(l.provider, l.id)
		if err != nil {
			return nil, err
		}
		if item != nil {
			return item, nil
		}
	}
	return d.Media.GetByDirectory(dir)
}
