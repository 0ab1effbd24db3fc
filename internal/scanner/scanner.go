// Package scanner walks library filesystems, classifies what it finds, and
// parses titles, years, episode markers, and inline provider IDs out of
// filenames. It never touches the database or the network; the scan tasks own
// persistence.
package scanner

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ──────────────────── Filename parsing ────────────────────

// ParsedName holds everything extractable from a media filename alone.
type ParsedName struct {
	Title   string
	Year    *int
	Season  *int
	Episode *int
	TmdbID  string
	TvdbID  string
	ImdbID  string
}

// Year needs delimiters so episode markers and dates do not false-match.
var yearRx = regexp.MustCompile(`(?:[\(\[\.\-_,\s])([12]\d{3})(?:[\)\]\.\-_,+\s]|$)`)

var episodeRxs = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(.+?)[.\s_-]+S(\d{1,2})[.\s_-]?E(\d{1,3})`), // Show.S01E02
	regexp.MustCompile(`(?i)^(.+?)[.\s_-]+(\d{1,2})x(\d{1,3})`),          // Show.1x02
}

// Radarr/Sonarr-style inline IDs: [tmdbid-603], [tvdbid-78804], [imdbid-tt0133093].
var (
	tmdbInlineRx = regexp.MustCompile(`(?i)[\[{]tmdb(?:id)?[-= ](\d+)[\]}]`)
	tvdbInlineRx = regexp.MustCompile(`(?i)[\[{]tvdb(?:id)?[-= ](\d+)[\]}]`)
	imdbInlineRx = regexp.MustCompile(`(?i)[\[{]imdb(?:id)?[-= ](tt\d+)[\]}]`)
)

// releaseNoiseRx strips quality tags that trail the title once the year is
// removed.
var releaseNoiseRx = regexp.MustCompile(`(?i)[.\s_-](2160p|1080p|720p|480p|bluray|blu-ray|remux|web-?dl|web-?rip|hdtv|dvdrip|x264|x265|h\.?264|h\.?265|hevc|proper|repack).*$`)

// ParseFilename extracts structured fields from a video file's basename.
func ParseFilename(filename string) ParsedName {
	stem := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	p := ParsedName{}

	if m := tmdbInlineRx.FindStringSubmatch(stem); m != nil {
		p.TmdbID = m[1]
	}
	if m := tvdbInlineRx.FindStringSubmatch(stem); m != nil {
		p.TvdbID = m[1]
	}
	if m := imdbInlineRx.FindStringSubmatch(stem); m != nil {
		p.ImdbID = m[1]
	}
	// Inline tags are consumed before title extraction.
	for _, rx := range []*regexp.Regexp{tmdbInlineRx, tvdbInlineRx, imdbInlineRx} {
		stem = rx.ReplaceAllString(stem, "")
	}

	titlePart := stem
	for _, rx := range episodeRxs {
		if m := rx.FindStringSubmatch(stem); m != nil {
			titlePart = m[1]
			if s, err := strconv.Atoi(m[2]); err == nil {
				p.Season = &s
			}
			if e, err := strconv.Atoi(m[3]); err == nil {
				p.Episode = &e
			}
			break
		}
	}

	if m := yearRx.FindStringSubmatchIndex(titlePart); m != nil {
		if y, err := strconv.Atoi(titlePart[m[2]:m[3]]); err == nil && y >= 1880 && y <= 2100 {
			p.Year = &y
			titlePart = titlePart[:m[0]]
		}
	}

	titlePart = releaseNoiseRx.ReplaceAllString(titlePart, "")
	p.Title = cleanTitle(titlePart)
	return p
}

// ParseDirectoryName applies the same extraction to a directory basename,
// the usual home of "Title (Year)" naming.
func ParseDirectoryName(dir string) ParsedName {
	return ParseFilename(filepath.Base(dir) + ".d")
}

func cleanTitle(s string) string {
	s = strings.NewReplacer(".", " ", "_", " ").Replace(s)
	s = strings.Trim(s, " -([")
	return strings.Join(strings.Fields(s), " ")
}

// ──────────────────── Directory contents ────────────────────

// Contents is the classified listing of one media directory.
type Contents struct {
	Dir       string
	Videos    []string
	Audio     []string
	Trailers  []string
	Subtitles []string
	NFOs      []string
	Artwork   []ArtworkFile
	Unknown   []string
}

// ArtworkFile is an image whose name mapped to an asset slot.
type ArtworkFile struct {
	Path      string
	AssetType string
}

// PrimaryVideo returns the largest video file, the best guess at the feature
// when samples or split files share the directory.
func (c *Contents) PrimaryVideo() string {
	var best string
	var bestSize int64 = -1
	for _, v := range c.Videos {
		fi, err := os.Stat(v)
		if err != nil {
			continue
		}
		if fi.Size() > bestSize {
			best, bestSize = v, fi.Size()
		}
	}
	return best
}

// ReadDirectory classifies the immediate contents of one directory. Images
// that match no artwork convention land in Unknown along with everything
// else unclassifiable.
func ReadDirectory(dir string) (*Contents, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	c := &Contents{Dir: dir}

	// Two passes: videos first so image names can match the video stem.
	var images []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		switch Classify(path) {
		case ClassVideo:
			c.Videos = append(c.Videos, path)
		case ClassAudio:
			c.Audio = append(c.Audio, path)
		case ClassTrailer:
			c.Trailers = append(c.Trailers, path)
		case ClassSubtitle:
			c.Subtitles = append(c.Subtitles, path)
		case ClassNFO:
			c.NFOs = append(c.NFOs, path)
		case ClassImage:
			images = append(images, path)
		default:
			if !junkNames[e.Name()] && !strings.HasPrefix(e.Name(), "._") {
				c.Unknown = append(c.Unknown, path)
			}
		}
	}
	sort.Strings(c.Videos)

	videoStem := ""
	if primary := c.PrimaryVideo(); primary != "" {
		videoStem = strings.TrimSuffix(filepath.Base(primary), filepath.Ext(primary))
	}
	for _, img := range images {
		if t, ok := ClassifyArtwork(filepath.Base(img), videoStem); ok {
			c.Artwork = append(c.Artwork, ArtworkFile{Path: img, AssetType: string(t)})
		} else {
			c.Unknown = append(c.Unknown, img)
		}
	}
	return c, nil
}

// ──────────────────── Discovery walk ────────────────────

// DiscoverMediaDirs walks a library root and returns every directory that
// directly contains at least one primary video or audio file, sorted for
// deterministic job ordering. Hidden directories and extras folders are
// skipped.
func DiscoverMediaDirs(root string) ([]string, error) {
	seen := map[string]bool{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped, not fatal; the scan reports
			// what it could reach.
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			name := d.Name()
			if path != root && (strings.HasPrefix(name, ".") || isExtrasDirName(name)) {
				return fs.SkipDir
			}
			return nil
		}
		switch Classify(path) {
		case ClassVideo, ClassAudio:
			seen[filepath.Dir(path)] = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	dirs := make([]string, 0, len(seen))
	for d := range seen {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return dirs, nil
}

func isExtrasDirName(name string) bool {
	switch strings.ToLower(name) {
	case "trailers", "extras", "featurettes", "samples", "behind the scenes":
		return true
	}
	return false
}
