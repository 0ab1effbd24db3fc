package providers

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/fetcharr/fetcharr/internal/models"
)

const (
	tmdbBaseURL  = "https://api.themoviedb.org/3"
	tmdbImageURL = "https://image.tmdb.org/t/p/original"
)

// TMDB serves movies and series: metadata plus posters, backdrops, and logos.
type TMDB struct {
	apiKey string
	client *Client
}

func NewTMDB(apiKey string, client *Client) *TMDB {
	return &TMDB{apiKey: apiKey, client: client}
}

func (t *TMDB) Capabilities() Capabilities {
	return Capabilities{
		ID:          "tmdb",
		EntityTypes: []models.MediaKind{models.KindMovie, models.KindSeries, models.KindSeason, models.KindEpisode},
		AssetTypes: map[models.MediaKind][]models.AssetType{
			models.KindMovie:   {models.AssetPoster, models.AssetFanart, models.AssetClearLogo},
			models.KindSeries:  {models.AssetPoster, models.AssetFanart, models.AssetClearLogo},
			models.KindSeason:  {models.AssetSeasonPoster},
			models.KindEpisode: {models.AssetThumb},
		},
		MetadataFields:     []string{"title", "plot", "tagline", "runtime", "rating", "votes", "genres", "studios", "premiered", "content_rating", "trailer_url"},
		AuthMode:           "api_key",
		RequestsPerSecond:  4,
		Burst:              10,
		SupportsYearFilter: true,
		SupportsExternalID: true,
		QualityWeight:      0.8,
	}
}

type tmdbSearchPage struct {
	Results []struct {
		ID           int     `json:"id"`
		Title        string  `json:"title"`
		Name         string  `json:"name"`
		ReleaseDate  string  `json:"release_date"`
		FirstAirDate string  `json:"first_air_date"`
		Popularity   float64 `json:"popularity"`
	} `json:"results"`
}

func (t *TMDB) Search(ctx context.Context, query SearchQuery) ([]SearchResult, error) {
	if t.apiKey == "" {
		return nil, fmt.Errorf("%w: tmdb api key not configured", ErrAuth)
	}
	searchType := "movie"
	yearParam := "year"
	if query.EntityType == models.KindSeries {
		searchType = "tv"
		yearParam = "first_air_date_year"
	}
	u := fmt.Sprintf("%s/search/%s?api_key=%s&query=%s", tmdbBaseURL, searchType, t.apiKey, url.QueryEscape(query.Title))
	if query.Year != nil {
		u += fmt.Sprintf("&%s=%d", yearParam, *query.Year)
	}

	var page tmdbSearchPage
	if err := t.client.GetJSON(ctx, u, nil, &page); err != nil {
		return nil, err
	}
	results := make([]SearchResult, 0, len(page.Results))
	for i, r := range page.Results {
		title := r.Title
		date := r.ReleaseDate
		if title == "" {
			title = r.Name
			date = r.FirstAirDate
		}
		res := SearchResult{
			ProviderID: strconv.Itoa(r.ID),
			Title:      title,
			EntityType: query.EntityType,
			Confidence: 1 - float64(i)/float64(len(page.Results)),
		}
		if len(date) >= 4 {
			if y, err := strconv.Atoi(date[:4]); err == nil {
				res.Year = &y
			}
		}
		results = append(results, res)
	}
	return results, nil
}

type tmdbDetails struct {
	Title        string  `json:"title"`
	Name         string  `json:"name"`
	Overview     string  `json:"overview"`
	Tagline      string  `json:"tagline"`
	Runtime      int     `json:"runtime"`
	VoteAverage  float64 `json:"vote_average"`
	VoteCount    int     `json:"vote_count"`
	ReleaseDate  string  `json:"release_date"`
	FirstAirDate string  `json:"first_air_date"`
	ImdbID       string  `json:"imdb_id"`
	Genres       []struct {
		Name string `json:"name"`
	} `json:"genres"`
	ProductionCompanies []struct {
		Name string `json:"name"`
	} `json:"production_companies"`
	Videos struct {
		Results []struct {
			Site string `json:"site"`
			Type string `json:"type"`
			Key  string `json:"key"`
		} `json:"results"`
	} `json:"videos"`
	ReleaseDates struct {
		Results []struct {
			ISO31661     string `json:"iso_3166_1"`
			ReleaseDates []struct {
				Certification string `json:"certification"`
			} `json:"release_dates"`
		} `json:"results"`
	} `json:"release_dates"`
	ContentRatings struct {
		Results []struct {
			ISO31661 string `json:"iso_3166_1"`
			Rating   string `json:"rating"`
		} `json:"results"`
	} `json:"content_ratings"`
}

func (t *TMDB) GetMetadata(ctx context.Context, entityType models.MediaKind, providerID string) (*MetadataResponse, error) {
	if t.apiKey == "" {
		return nil, fmt.Errorf("%w: tmdb api key not configured", ErrAuth)
	}
	path, appendix := "movie", "videos,release_dates"
	if entityType == models.KindSeries {
		path, appendix = "tv", "videos,content_ratings"
	}
	u := fmt.Sprintf("%s/%s/%s?api_key=%s&append_to_response=%s", tmdbBaseURL, path, providerID, t.apiKey, appendix)

	var d tmdbDetails
	if err := t.client.GetJSON(ctx, u, nil, &d); err != nil {
		return nil, err
	}

	fields := map[string]any{}
	title := d.Title
	premiered := d.ReleaseDate
	if title == "" {
		title = d.Name
		premiered = d.FirstAirDate
	}
	putNonEmpty(fields, "title", title)
	putNonEmpty(fields, "plot", d.Overview)
	putNonEmpty(fields, "tagline", d.Tagline)
	putNonEmpty(fields, "premiered", premiered)
	if d.Runtime > 0 {
		fields["runtime"] = d.Runtime
	}
	if d.VoteCount > 0 {
		fields["rating"] = d.VoteAverage
		fields["votes"] = d.VoteCount
	}
	if len(d.Genres) > 0 {
		genres := make([]string, 0, len(d.Genres))
		for _, g := range d.Genres {
			genres = append(genres, g.Name)
		}
		fields["genres"] = genres
	}
	if len(d.ProductionCompanies) > 0 {
		studios := make([]string, 0, len(d.ProductionCompanies))
		for _, s := range d.ProductionCompanies {
			studios = append(studios, s.Name)
		}
		fields["studios"] = studios
	}
	if cert := d.certification(); cert != "" {
		fields["content_rating"] = cert
	}
	for _, v := range d.Videos.Results {
		if v.Site == "YouTube" && v.Type == "Trailer" {
			fields["trailer_url"] = "https://www.youtube.com/watch?v=" + v.Key
			break
		}
	}
	putNonEmpty(fields, "imdb_id", d.ImdbID)

	return &MetadataResponse{
		Fields:       fields,
		Completeness: completeness(fields, t.Capabilities().MetadataFields),
	}, nil
}

func (d *tmdbDetails) certification() string {
	for _, r := range d.ReleaseDates.Results {
		if r.ISO31661 == "US" {
			for _, rd := range r.ReleaseDates {
				if rd.Certification != "" {
					return rd.Certification
				}
			}
		}
	}
	for _, r := range d.ContentRatings.Results {
		if r.ISO31661 == "US" && r.Rating != "" {
			return r.Rating
		}
	}
	return ""
}

type tmdbImages struct {
	Posters   []tmdbImage `json:"posters"`
	Backdrops []tmdbImage `json:"backdrops"`
	Logos     []tmdbImage `json:"logos"`
	Stills    []tmdbImage `json:"stills"`
}

type tmdbImage struct {
	FilePath    string  `json:"file_path"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	ISO6391     string  `json:"iso_639_1"`
	VoteAverage float64 `json:"vote_average"`
	VoteCount   int     `json:"vote_count"`
}

func (t *TMDB) GetAssets(ctx context.Context, entityType models.MediaKind, providerID string, assetTypes []models.AssetType) ([]*models.AssetCandidate, error) {
	if t.apiKey == "" {
		return nil, fmt.Errorf("%w: tmdb api key not configured", ErrAuth)
	}
	path := "movie"
	if entityType == models.KindSeries {
		path = "tv"
	}
	u := fmt.Sprintf("%s/%s/%s/images?api_key=%s", tmdbBaseURL, path, providerID, t.apiKey)

	var imgs tmdbImages
	if err := t.client.GetJSON(ctx, u, nil, &imgs); err != nil {
		return nil, err
	}

	wanted := assetTypeSet(assetTypes)
	var out []*models.AssetCandidate
	appendSet := func(images []tmdbImage, assetType models.AssetType) {
		if !wanted[assetType] {
			return
		}
		for _, img := range images {
			out = append(out, t.candidate(img, assetType))
		}
	}
	appendSet(imgs.Posters, models.AssetPoster)
	appendSet(imgs.Backdrops, models.AssetFanart)
	appendSet(imgs.Logos, models.AssetClearLogo)
	appendSet(imgs.Stills, models.AssetThumb)
	return out, nil
}

func (t *TMDB) candidate(img tmdbImage, assetType models.AssetType) *models.AssetCandidate {
	c := &models.AssetCandidate{
		AssetType:   assetType,
		Provider:    "tmdb",
		SourceURL:   tmdbImageURL + img.FilePath,
		Width:       img.Width,
		Height:      img.Height,
		VoteCount:   img.VoteCount,
		VoteAverage: img.VoteAverage,
	}
	if img.ISO6391 != "" {
		lang := img.ISO6391
		c.Language = &lang
	}
	return c
}

func (t *TMDB) TestConnection(ctx context.Context) error {
	if t.apiKey == "" {
		return fmt.Errorf("%w: tmdb api key not configured", ErrAuth)
	}
	u := fmt.Sprintf("%s/configuration?api_key=%s", tmdbBaseURL, t.apiKey)
	var out struct{}
	return t.client.GetJSON(ctx, u, nil, &out)
}

// ──────────────────── shared helpers ────────────────────

func putNonEmpty(fields map[string]any, key, value string) {
	if value != "" {
		fields[key] = value
	}
}

func assetTypeSet(types []models.AssetType) map[models.AssetType]bool {
	set := make(map[models.AssetType]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return set
}

// completeness is the filled fraction of the fields a provider claims.
func completeness(fields map[string]any, claimed []string) float64 {
	if len(claimed) == 0 {
		return 0
	}
	filled := 0
	for _, f := range claimed {
		if _, ok := fields[f]; ok {
			filled++
		}
	}
	return float64(filled) / float64(len(claimed))
}
