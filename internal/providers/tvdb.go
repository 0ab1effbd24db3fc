package providers

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/fetcharr/fetcharr/internal/models"
)

const tvdbBaseURL = "https://api4.thetvdb.com/v4"

// TVDB serves series metadata and artwork through the v4 API. Auth is a
// bearer token obtained by a login call and cached until close to expiry.
type TVDB struct {
	apiKey string
	client *Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewTVDB(apiKey string, client *Client) *TVDB {
	return &TVDB{apiKey: apiKey, client: client}
}

func (t *TVDB) Capabilities() Capabilities {
	return Capabilities{
		ID:          "tvdb",
		EntityTypes: []models.MediaKind{models.KindSeries, models.KindSeason, models.KindEpisode},
		AssetTypes: map[models.MediaKind][]models.AssetType{
			models.KindSeries:  {models.AssetPoster, models.AssetFanart, models.AssetBanner, models.AssetClearLogo, models.AssetClearArt},
			models.KindSeason:  {models.AssetSeasonPoster},
			models.KindEpisode: {models.AssetThumb},
		},
		MetadataFields:     []string{"title", "plot", "rating", "votes", "genres", "studios", "premiered", "content_rating"},
		AuthMode:           "token",
		RequestsPerSecond:  2,
		Burst:              5,
		SupportsYearFilter: true,
		SupportsExternalID: true,
		QualityWeight:      0.6,
	}
}

// bearer returns a live token, logging in when the cached one is absent or
// within a minute of expiry.
func (t *TVDB) bearer(ctx context.Context) (map[string]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.token != "" && time.Until(t.tokenExpiry) > time.Minute {
		return map[string]string{"Authorization": "Bearer " + t.token}, nil
	}
	if t.apiKey == "" {
		return nil, fmt.Errorf("%w: tvdb api key not configured", ErrAuth)
	}
	var resp struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	payload := map[string]string{"apikey": t.apiKey}
	if err := t.client.PostJSON(ctx, tvdbBaseURL+"/login", nil, payload, &resp); err != nil {
		return nil, err
	}
	if resp.Data.Token == "" {
		return nil, fmt.Errorf("%w: tvdb login returned no token", ErrAuth)
	}
	// v4 tokens last a month; refresh daily to stay well clear.
	t.token = resp.Data.Token
	t.tokenExpiry = time.Now().Add(24 * time.Hour)
	return map[string]string{"Authorization": "Bearer " + t.token}, nil
}

func (t *TVDB) Search(ctx context.Context, query SearchQuery) ([]SearchResult, error) {
	headers, err := t.bearer(ctx)
	if err != nil {
		return nil, err
	}
	u := fmt.Sprintf("%s/search?type=series&query=%s", tvdbBaseURL, url.QueryEscape(query.Title))
	if query.Year != nil {
		u += fmt.Sprintf("&year=%d", *query.Year)
	}
	var resp struct {
		Data []struct {
			TvdbID string `json:"tvdb_id"`
			Name   string `json:"name"`
			Year   string `json:"year"`
		} `json:"data"`
	}
	if err := t.client.GetJSON(ctx, u, headers, &resp); err != nil {
		return nil, err
	}
	results := make([]SearchResult, 0, len(resp.Data))
	for i, r := range resp.Data {
		res := SearchResult{
			ProviderID: r.TvdbID,
			Title:      r.Name,
			EntityType: models.KindSeries,
			Confidence: 1 - float64(i)/float64(len(resp.Data)),
		}
		if y, err := strconv.Atoi(r.Year); err == nil {
			res.Year = &y
		}
		results = append(results, res)
	}
	return results, nil
}

type tvdbSeries struct {
	Data struct {
		Name       string  `json:"name"`
		Overview   string  `json:"overview"`
		FirstAired string  `json:"firstAired"`
		Score      float64 `json:"score"`
		Genres     []struct {
			Name string `json:"name"`
		} `json:"genres"`
		Companies []struct {
			Name string `json:"name"`
		} `json:"companies"`
		ContentRatings []struct {
			Name    string `json:"name"`
			Country string `json:"country"`
		} `json:"contentRatings"`
	} `json:"data"`
}

func (t *TVDB) GetMetadata(ctx context.Context, entityType models.MediaKind, providerID string) (*MetadataResponse, error) {
	headers, err := t.bearer(ctx)
	if err != nil {
		return nil, err
	}
	u := fmt.Sprintf("%s/series/%s/extended", tvdbBaseURL, providerID)

	var d tvdbSeries
	if err := t.client.GetJSON(ctx, u, headers, &d); err != nil {
		return nil, err
	}

	fields := map[string]any{}
	putNonEmpty(fields, "title", d.Data.Name)
	putNonEmpty(fields, "plot", d.Data.Overview)
	putNonEmpty(fields, "premiered", d.Data.FirstAired)
	if len(d.Data.Genres) > 0 {
		genres := make([]string, 0, len(d.Data.Genres))
		for _, g := range d.Data.Genres {
			genres = append(genres, g.Name)
		}
		fields["genres"] = genres
	}
	if len(d.Data.Companies) > 0 {
		studios := make([]string, 0, len(d.Data.Companies))
		for _, c := range d.Data.Companies {
			studios = append(studios, c.Name)
		}
		fields["studios"] = studios
	}
	for _, cr := range d.Data.ContentRatings {
		if cr.Country == "usa" && cr.Name != "" {
			fields["content_rating"] = cr.Name
			break
		}
	}
	return &MetadataResponse{
		Fields:       fields,
		Completeness: completeness(fields, t.Capabilities().MetadataFields),
	}, nil
}

// tvdb artwork type IDs from /artwork/types.
var tvdbArtworkTypes = map[int]models.AssetType{
	1:  models.AssetBanner,
	2:  models.AssetPoster,
	3:  models.AssetFanart,
	5:  models.AssetClearLogo,
	22: models.AssetClearArt,
	7:  models.AssetSeasonPoster,
}

func (t *TVDB) GetAssets(ctx context.Context, entityType models.MediaKind, providerID string, assetTypes []models.AssetType) ([]*models.AssetCandidate, error) {
	headers, err := t.bearer(ctx)
	if err != nil {
		return nil, err
	}
	u := fmt.Sprintf("%s/series/%s/artworks", tvdbBaseURL, providerID)

	var resp struct {
		Data struct {
			Artworks []struct {
				Image    string `json:"image"`
				Type     int    `json:"type"`
				Width    int    `json:"width"`
				Height   int    `json:"height"`
				Language string `json:"language"`
				Score    int    `json:"score"`
			} `json:"artworks"`
		} `json:"data"`
	}
	if err := t.client.GetJSON(ctx, u, headers, &resp); err != nil {
		return nil, err
	}

	wanted := assetTypeSet(assetTypes)
	var out []*models.AssetCandidate
	for _, a := range resp.Data.Artworks {
		assetType, ok := tvdbArtworkTypes[a.Type]
		if !ok || !wanted[assetType] || a.Image == "" {
			continue
		}
		c := &models.AssetCandidate{
			AssetType: assetType,
			Provider:  "tvdb",
			SourceURL: a.Image,
			Width:     a.Width,
			Height:    a.Height,
			VoteCount: a.Score,
		}
		if a.Language != "" {
			lang := a.Language
			c.Language = &lang
		}
		out = append(out, c)
	}
	return out, nil
}

func (t *TVDB) TestConnection(ctx context.Context) error {
	_, err := t.bearer(ctx)
	return err
}
