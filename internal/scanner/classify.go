package scanner

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/fetcharr/fetcharr/internal/models"
)

// FileClass buckets every file a directory scan encounters.
type FileClass string

const (
	ClassVideo    FileClass = "video"
	ClassAudio    FileClass = "audio"
	ClassImage    FileClass = "image"
	ClassSubtitle FileClass = "subtitle"
	ClassNFO      FileClass = "nfo"
	ClassTrailer  FileClass = "trailer"
	ClassUnknown  FileClass = "unknown"
)

var videoExtensions = map[string]bool{
	".mp4": true, ".mkv": true, ".avi": true, ".mov": true,
	".m4v": true, ".wmv": true, ".flv": true, ".webm": true,
	".ts": true, ".m2ts": true, ".mpg": true, ".mpeg": true,
}

var audioExtensions = map[string]bool{
	".mp3": true, ".flac": true, ".aac": true, ".ogg": true,
	".wav": true, ".m4a": true, ".alac": true, ".wma": true,
	".opus": true,
}

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".webp": true, ".bmp": true, ".tiff": true, ".tif": true,
}

var subtitleExtensions = map[string]bool{
	".srt": true, ".sub": true, ".ssa": true, ".ass": true,
	".vtt": true, ".idx": true, ".sup": true,
}

// skippable directory entries that never count as media.
var junkNames = map[string]bool{
	".DS_Store": true, "Thumbs.db": true, "desktop.ini": true,
}

// Classify buckets a file by extension and naming convention. Videos whose
// stem ends in -trailer or that live under an extras-style directory classify
// as trailers, not primary videos.
func Classify(path string) FileClass {
	base := filepath.Base(path)
	if junkNames[base] || strings.HasPrefix(base, "._") {
		return ClassUnknown
	}
	ext := strings.ToLower(filepath.Ext(base))
	stem := strings.ToLower(strings.TrimSuffix(base, filepath.Ext(base)))

	switch {
	case ext == ".nfo":
		return ClassNFO
	case videoExtensions[ext]:
		if strings.HasSuffix(stem, "-trailer") || strings.HasSuffix(stem, "_trailer") || inExtrasDir(path) {
			return ClassTrailer
		}
		return ClassVideo
	case audioExtensions[ext]:
		return ClassAudio
	case imageExtensions[ext]:
		return ClassImage
	case subtitleExtensions[ext]:
		return ClassSubtitle
	default:
		return ClassUnknown
	}
}

func inExtrasDir(path string) bool {
	parent := strings.ToLower(filepath.Base(filepath.Dir(path)))
	switch parent {
	case "trailers", "extras", "featurettes", "samples", "behind the scenes":
		return true
	}
	return false
}

// artworkNames maps conventional basenames (sans extension) to asset types,
// following Kodi/Jellyfin/Plex sidecar conventions.
var artworkNames = map[string]models.AssetType{
	"poster":       models.AssetPoster,
	"movie-poster": models.AssetPoster,
	"folder":       models.AssetPoster,
	"cover":        models.AssetPoster,
	"show":         models.AssetPoster,
	"fanart":       models.AssetFanart,
	"backdrop":     models.AssetFanart,
	"background":   models.AssetFanart,
	"banner":       models.AssetBanner,
	"logo":         models.AssetClearLogo,
	"clearlogo":    models.AssetClearLogo,
	"clearart":     models.AssetClearArt,
	"disc":         models.AssetDiscArt,
	"discart":      models.AssetDiscArt,
	"landscape":    models.AssetLandscape,
	"thumb":        models.AssetThumb,
}

// artworkStemSuffixes handles <video-stem>-poster.jpg style names.
var artworkStemSuffixes = map[string]models.AssetType{
	"-poster":   models.AssetPoster,
	"-fanart":   models.AssetFanart,
	"-backdrop": models.AssetFanart,
	"-banner":   models.AssetBanner,
	"-logo":     models.AssetClearLogo,
	"-clearart": models.AssetClearArt,
	"-landscape": models.AssetLandscape,
	"-thumb":    models.AssetThumb,
}

// season01-poster, season-specials-poster, season02-banner
var seasonPosterRx = regexp.MustCompile(`^season(\d{1,2}|-specials)(-poster)?$`)

// ClassifyArtwork maps an image filename to the asset type its name implies.
// videoStem is the primary video's basename without extension, used for
// <stem>-poster style matches; pass "" when there is no primary video.
func ClassifyArtwork(filename, videoStem string) (models.AssetType, bool) {
	stem := strings.ToLower(strings.TrimSuffix(filename, filepath.Ext(filename)))

	// fanart1, fanart2, ... count as extra fanart slots.
	if t, ok := artworkNames[strings.TrimRight(stem, "0123456789")]; ok && strings.HasPrefix(stem, "fanart") {
		return t, true
	}
	if t, ok := artworkNames[stem]; ok {
		return t, true
	}
	if seasonPosterRx.MatchString(stem) {
		return models.AssetSeasonPoster, true
	}
	if videoStem != "" {
		lowerStem := strings.ToLower(videoStem)
		if strings.HasPrefix(stem, lowerStem) {
			for suffix, t := range artworkStemSuffixes {
				if stem == lowerStem+suffix {
					return t, true
				}
			}
		}
	}
	return "", false
}
