package metadata

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strconv"
	"time"

	"github.com/fetcharr/fetcharr/internal/models"
)

// ──────────────────── Kodi NFO Structures ────────────────────

// nfoDoc is the shared shape of every Kodi NFO root (movie, tvshow,
// episodedetails, artist, album). The root element name is set per media
// kind at marshal time; unmarshal accepts any root.
type nfoDoc struct {
	XMLName   xml.Name
	Title     string        `xml:"title"`
	SortTitle string        `xml:"sorttitle,omitempty"`
	Year      string        `xml:"year,omitempty"`
	Plot      string        `xml:"plot,omitempty"`
	Tagline   string        `xml:"tagline,omitempty"`
	Runtime   string        `xml:"runtime,omitempty"`
	MPAA      string        `xml:"mpaa,omitempty"`
	Premiered string        `xml:"premiered,omitempty"`
	Trailer   string        `xml:"trailer,omitempty"`
	Season    string        `xml:"season,omitempty"`
	Episode   string        `xml:"episode,omitempty"`
	Track     string        `xml:"track,omitempty"`
	Genres    []string      `xml:"genre"`
	Studios   []string      `xml:"studio"`
	Actors    []nfoActor    `xml:"actor"`
	UniqueIDs []nfoUniqueID `xml:"uniqueid"`
	Ratings   *nfoRatings   `xml:"ratings"`

	// Legacy single-ID fields, read-only for compatibility with NFOs other
	// tools wrote.
	LegacyIMDB string `xml:"imdbid,omitempty"`
	LegacyTMDB string `xml:"tmdbid,omitempty"`
}

// nfoActor doubles as the element of the actors_json column, so it carries
// both tag sets.
type nfoActor struct {
	Name  string `xml:"name" json:"name"`
	Role  string `xml:"role,omitempty" json:"role,omitempty"`
	Thumb string `xml:"thumb,omitempty" json:"thumb,omitempty"`
	Order int    `xml:"order" json:"order"`
}

type nfoUniqueID struct {
	Type    string `xml:"type,attr"`
	Default bool   `xml:"default,attr,omitempty"`
	Value   string `xml:",chardata"`
}

type nfoRatings struct {
	Ratings []nfoRating `xml:"rating"`
}

type nfoRating struct {
	Name  string  `xml:"name,attr"`
	Max   int     `xml:"max,attr"`
	Value float64 `xml:"value"`
	Votes int     `xml:"votes,omitempty"`
}

// rootNames maps media kinds to Kodi NFO root elements.
var rootNames = map[models.MediaKind]string{
	models.KindMovie:   "movie",
	models.KindSeries:  "tvshow",
	models.KindEpisode: "episodedetails",
	models.KindArtist:  "artist",
	models.KindAlbum:   "album",
}

// ──────────────────── Writer ────────────────────

// GenerateNFO renders a Kodi-convention NFO for an item from database state.
// The database, not provider data, is the source of truth; re-running on an
// unchanged item produces identical bytes.
func GenerateNFO(item *models.MediaItem) ([]byte, error) {
	root, ok := rootNames[item.MediaType]
	if !ok {
		return nil, fmt.Errorf("media kind %q has no NFO form", item.MediaType)
	}

	doc := nfoDoc{
		XMLName: xml.Name{Local: root},
		Title:   item.Title,
		Genres:  item.Genres,
		Studios: item.Studios,
	}
	if item.SortTitle != nil {
		doc.SortTitle = *item.SortTitle
	}
	if item.Year != nil {
		doc.Year = strconv.Itoa(*item.Year)
	}
	if item.Plot != nil {
		doc.Plot = *item.Plot
	}
	if item.Tagline != nil {
		doc.Tagline = *item.Tagline
	}
	if item.RuntimeMins != nil {
		doc.Runtime = strconv.Itoa(*item.RuntimeMins)
	}
	if item.ContentRating != nil {
		doc.MPAA = *item.ContentRating
	}
	if item.Premiered != nil {
		doc.Premiered = item.Premiered.Format("2006-01-02")
	}
	if item.TrailerURL != nil {
		doc.Trailer = *item.TrailerURL
	}
	if item.SeasonNumber != nil {
		doc.Season = strconv.Itoa(*item.SeasonNumber)
	}
	if item.EpisodeNumber != nil {
		doc.Episode = strconv.Itoa(*item.EpisodeNumber)
	}
	if item.TrackNumber != nil {
		doc.Track = strconv.Itoa(*item.TrackNumber)
	}
	if item.Rating != nil {
		r := nfoRating{Name: "default", Max: 10, Value: *item.Rating}
		if item.Votes != nil {
			r.Votes = *item.Votes
		}
		doc.Ratings = &nfoRatings{Ratings: []nfoRating{r}}
	}
	if item.ActorsJSON != nil {
		var actors []nfoActor
		if err := json.Unmarshal([]byte(*item.ActorsJSON), &actors); err == nil {
			doc.Actors = actors
		}
	}

	first := true
	addID := func(idType string, value *string) {
		if value == nil || *value == "" {
			return
		}
		doc.UniqueIDs = append(doc.UniqueIDs, nfoUniqueID{Type: idType, Value: *value, Default: first})
		first = false
	}
	addID("tmdb", item.TmdbID)
	addID("tvdb", item.TvdbID)
	addID("imdb", item.ImdbID)
	addID("musicbrainz", item.MusicbrainzID)

	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal nfo: %w", err)
	}
	return append([]byte(xml.Header), append(body, '\n')...), nil
}

// HashNFO is the content hash recorded on media_items and published_assets.
func HashNFO(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ──────────────────── Reader ────────────────────

// ParsedNFO is what a scan extracts from an on-disk NFO.
type ParsedNFO struct {
	Title         string
	SortTitle     string
	Year          *int
	Plot          string
	Tagline       string
	RuntimeMins   *int
	ContentRating string
	Premiered     *time.Time
	TrailerURL    string
	Season        *int
	Episode       *int
	Rating        *float64
	Votes         *int
	Genres        []string
	Studios       []string
	ActorsJSON    string
	TmdbID        string
	TvdbID        string
	ImdbID        string
	MusicbrainzID string
}

// HasProviderIDs reports whether the NFO identifies the item.
func (p *ParsedNFO) HasProviderIDs() bool {
	return p.TmdbID != "" || p.TvdbID != "" || p.ImdbID != "" || p.MusicbrainzID != ""
}

// ParseNFO reads a Kodi-convention NFO, including ones written by this
// package (round-trip) and the legacy single-ID variants other tools emit.
func ParseNFO(data []byte) (*ParsedNFO, error) {
	var doc nfoDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("not a valid XML NFO: %w", err)
	}
	if doc.Title == "" {
		return nil, fmt.Errorf("NFO has no title element")
	}

	p := &ParsedNFO{
		Title:         doc.Title,
		SortTitle:     doc.SortTitle,
		Plot:          doc.Plot,
		Tagline:       doc.Tagline,
		ContentRating: doc.MPAA,
		TrailerURL:    doc.Trailer,
		Genres:        doc.Genres,
		Studios:       doc.Studios,
	}
	if y, err := strconv.Atoi(doc.Year); err == nil {
		p.Year = &y
	}
	if r, err := strconv.Atoi(doc.Runtime); err == nil {
		p.RuntimeMins = &r
	}
	if s, err := strconv.Atoi(doc.Season); err == nil {
		p.Season = &s
	}
	if e, err := strconv.Atoi(doc.Episode); err == nil {
		p.Episode = &e
	}
	if t, err := time.Parse("2006-01-02", doc.Premiered); err == nil {
		p.Premiered = &t
	}
	if doc.Ratings != nil && len(doc.Ratings.Ratings) > 0 {
		r := doc.Ratings.Ratings[0]
		p.Rating = &r.Value
		if r.Votes > 0 {
			p.Votes = &r.Votes
		}
	}
	if len(doc.Actors) > 0 {
		if buf, err := json.Marshal(doc.Actors); err == nil {
			p.ActorsJSON = string(buf)
		}
	}

	for _, id := range doc.UniqueIDs {
		switch id.Type {
		case "tmdb":
			p.TmdbID = id.Value
		case "tvdb":
			p.TvdbID = id.Value
		case "imdb":
			p.ImdbID = id.Value
		case "musicbrainz":
			p.MusicbrainzID = id.Value
		}
	}
	if p.ImdbID == "" && doc.LegacyIMDB != "" {
		p.ImdbID = doc.LegacyIMDB
	}
	if p.TmdbID == "" && doc.LegacyTMDB != "" {
		p.TmdbID = doc.LegacyTMDB
	}
	return p, nil
}
