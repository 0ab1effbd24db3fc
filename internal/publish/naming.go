// Package publish writes NFO files and selected assets from the cache into
// library directories under Kodi naming conventions.
package publish

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fetcharr/fetcharr/internal/models"
)

// videoStem returns the primary video's basename without extension, the
// anchor for episode NFOs and per-file artwork names.
func videoStem(item *models.MediaItem) string {
	if item.FilePath == nil {
		return ""
	}
	base := filepath.Base(*item.FilePath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// NFOFileName returns the conventional NFO name for an item, relative to its
// directory. Episodes name the NFO after the video file; everything else has
// a fixed name.
func NFOFileName(item *models.MediaItem) (string, error) {
	switch item.MediaType {
	case models.KindMovie:
		return "movie.nfo", nil
	case models.KindSeries:
		return "tvshow.nfo", nil
	case models.KindEpisode:
		stem := videoStem(item)
		if stem == "" {
			return "", fmt.Errorf("episode %q has no video file to anchor the NFO name", item.Title)
		}
		return stem + ".nfo", nil
	case models.KindArtist:
		return "artist.nfo", nil
	case models.KindAlbum:
		return "album.nfo", nil
	default:
		return "", fmt.Errorf("media kind %q is not published", item.MediaType)
	}
}

// AssetFileName returns the conventional artwork name for the slot-th asset
// of a type, relative to the item directory. slot is zero-based and only
// meaningful for fanart (fanart.ext, fanart1.ext, fanart2.ext, ...).
func AssetFileName(item *models.MediaItem, assetType models.AssetType, slot int, ext string) (string, error) {
	ext = normalizeExt(ext)
	switch assetType {
	case models.AssetPoster:
		if item.MediaType == models.KindAlbum {
			return "folder" + ext, nil
		}
		return "poster" + ext, nil
	case models.AssetFanart:
		if slot == 0 {
			return "fanart" + ext, nil
		}
		return fmt.Sprintf("fanart%d%s", slot, ext), nil
	case models.AssetBanner:
		return "banner" + ext, nil
	case models.AssetClearLogo:
		return "clearlogo" + ext, nil
	case models.AssetClearArt:
		return "clearart" + ext, nil
	case models.AssetDiscArt:
		return "disc" + ext, nil
	case models.AssetLandscape:
		return "landscape" + ext, nil
	case models.AssetSeasonPoster:
		if item.SeasonNumber == nil {
			return "", fmt.Errorf("season poster for %q without a season number", item.Title)
		}
		if *item.SeasonNumber == 0 {
			return "season-specials-poster" + ext, nil
		}
		return fmt.Sprintf("season%02d-poster%s", *item.SeasonNumber, ext), nil
	case models.AssetThumb:
		if stem := videoStem(item); stem != "" {
			return stem + "-thumb" + ext, nil
		}
		return "thumb" + ext, nil
	case models.AssetTrailer:
		stem := videoStem(item)
		if stem == "" {
			return "", fmt.Errorf("trailer for %q without a video file", item.Title)
		}
		return stem + "-trailer" + ext, nil
	case models.AssetSubtitle:
		stem := videoStem(item)
		if stem == "" {
			return "", fmt.Errorf("subtitle for %q without a video file", item.Title)
		}
		return stem + ext, nil
	default:
		return "", fmt.Errorf("asset type %q has no naming convention", assetType)
	}
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if ext == ".jpeg" {
		return ".jpg"
	}
	return ext
}
