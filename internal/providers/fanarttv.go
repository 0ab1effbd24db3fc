package providers

import (
	"context"
	"fmt"
	"strconv"

	"github.com/fetcharr/fetcharr/internal/models"
)

const fanartBaseURL = "https://webservice.fanart.tv/v3"

// FanartTV is artwork-only: curated posters, fanart, and clear art keyed by
// TMDB/TVDB/MusicBrainz IDs. It never serves metadata fields.
type FanartTV struct {
	projectKey string
	clientKey  string
	client     *Client
}

func NewFanartTV(projectKey, clientKey string, client *Client) *FanartTV {
	return &FanartTV{projectKey: projectKey, clientKey: clientKey, client: client}
}

func (f *FanartTV) Capabilities() Capabilities {
	return Capabilities{
		ID:          "fanart.tv",
		EntityTypes: []models.MediaKind{models.KindMovie, models.KindSeries, models.KindArtist, models.KindAlbum},
		AssetTypes: map[models.MediaKind][]models.AssetType{
			models.KindMovie:  {models.AssetPoster, models.AssetFanart, models.AssetBanner, models.AssetClearLogo, models.AssetClearArt, models.AssetDiscArt, models.AssetLandscape},
			models.KindSeries: {models.AssetPoster, models.AssetFanart, models.AssetBanner, models.AssetClearLogo, models.AssetClearArt, models.AssetLandscape, models.AssetSeasonPoster},
			models.KindArtist: {models.AssetFanart, models.AssetClearLogo},
			models.KindAlbum:  {models.AssetPoster},
		},
		AuthMode:          "api_key",
		RequestsPerSecond: 2,
		Burst:             5,
		QualityWeight:     1.0,
	}
}

func (f *FanartTV) headers() map[string]string {
	h := map[string]string{"api-key": f.projectKey}
	if f.clientKey != "" {
		h["client-key"] = f.clientKey
	}
	return h
}

// Search is unsupported: fanart.tv is keyed by IDs resolved elsewhere.
func (f *FanartTV) Search(ctx context.Context, query SearchQuery) ([]SearchResult, error) {
	return nil, nil
}

// GetMetadata always reports an empty response; the provider has no fields.
func (f *FanartTV) GetMetadata(ctx context.Context, entityType models.MediaKind, providerID string) (*MetadataResponse, error) {
	return &MetadataResponse{Fields: map[string]any{}}, nil
}

type fanartImage struct {
	URL   string `json:"url"`
	Lang  string `json:"lang"`
	Likes string `json:"likes"`
}

type fanartMovieResponse struct {
	MoviePoster     []fanartImage `json:"movieposter"`
	MovieBackground []fanartImage `json:"moviebackground"`
	MovieBanner     []fanartImage `json:"moviebanner"`
	HDMovieLogo     []fanartImage `json:"hdmovielogo"`
	HDMovieClearArt []fanartImage `json:"hdmovieclearart"`
	MovieDisc       []fanartImage `json:"moviedisc"`
	MovieThumb      []fanartImage `json:"moviethumb"`
}

type fanartShowResponse struct {
	TVPoster     []fanartImage `json:"tvposter"`
	ShowBackground []fanartImage `json:"showbackground"`
	TVBanner     []fanartImage `json:"tvbanner"`
	HDTVLogo     []fanartImage `json:"hdtvlogo"`
	HDClearArt   []fanartImage `json:"hdclearart"`
	TVThumb      []fanartImage `json:"tvthumb"`
	SeasonPoster []fanartImage `json:"seasonposter"`
}

func (f *FanartTV) GetAssets(ctx context.Context, entityType models.MediaKind, providerID string, assetTypes []models.AssetType) ([]*models.AssetCandidate, error) {
	if f.projectKey == "" {
		return nil, fmt.Errorf("%w: fanart.tv project key not configured", ErrAuth)
	}
	wanted := assetTypeSet(assetTypes)
	var out []*models.AssetCandidate
	add := func(images []fanartImage, assetType models.AssetType) {
		if !wanted[assetType] {
			return
		}
		for _, img := range images {
			out = append(out, f.candidate(img, assetType))
		}
	}

	switch entityType {
	case models.KindMovie:
		var resp fanartMovieResponse
		u := fmt.Sprintf("%s/movies/%s", fanartBaseURL, providerID)
		if err := f.client.GetJSON(ctx, u, f.headers(), &resp); err != nil {
			return nil, err
		}
		add(resp.MoviePoster, models.AssetPoster)
		add(resp.MovieBackground, models.AssetFanart)
		add(resp.MovieBanner, models.AssetBanner)
		add(resp.HDMovieLogo, models.AssetClearLogo)
		add(resp.HDMovieClearArt, models.AssetClearArt)
		add(resp.MovieDisc, models.AssetDiscArt)
		add(resp.MovieThumb, models.AssetLandscape)
	case models.KindSeries, models.KindSeason:
		var resp fanartShowResponse
		u := fmt.Sprintf("%s/tv/%s", fanartBaseURL, providerID)
		if err := f.client.GetJSON(ctx, u, f.headers(), &resp); err != nil {
			return nil, err
		}
		add(resp.TVPoster, models.AssetPoster)
		add(resp.ShowBackground, models.AssetFanart)
		add(resp.TVBanner, models.AssetBanner)
		add(resp.HDTVLogo, models.AssetClearLogo)
		add(resp.HDClearArt, models.AssetClearArt)
		add(resp.TVThumb, models.AssetLandscape)
		add(resp.SeasonPoster, models.AssetSeasonPoster)
	default:
		return nil, nil
	}
	return out, nil
}

func (f *FanartTV) candidate(img fanartImage, assetType models.AssetType) *models.AssetCandidate {
	likes, _ := strconv.Atoi(img.Likes)
	c := &models.AssetCandidate{
		AssetType: assetType,
		Provider:  "fanart.tv",
		SourceURL: img.URL,
		VoteCount: likes,
	}
	// fanart.tv enforces fixed dimensions per slot; report the canonical
	// sizes so resolution scoring stays meaningful.
	switch assetType {
	case models.AssetPoster, models.AssetSeasonPoster:
		c.Width, c.Height = 1000, 1426
	case models.AssetFanart:
		c.Width, c.Height = 1920, 1080
	case models.AssetBanner:
		c.Width, c.Height = 1000, 185
	case models.AssetClearLogo:
		c.Width, c.Height = 800, 310
	case models.AssetClearArt:
		c.Width, c.Height = 1000, 562
	case models.AssetDiscArt:
		c.Width, c.Height = 1000, 1000
	case models.AssetLandscape:
		c.Width, c.Height = 1000, 562
	}
	if img.Lang != "" && img.Lang != "00" {
		lang := img.Lang
		c.Language = &lang
	}
	return c
}

func (f *FanartTV) TestConnection(ctx context.Context) error {
	if f.projectKey == "" {
		return fmt.Errorf("%w: fanart.tv project key not configured", ErrAuth)
	}
	// Fixed probe title with broad artwork coverage.
	u := fmt.Sprintf("%s/movies/603", fanartBaseURL)
	var out struct{}
	return f.client.GetJSON(ctx, u, f.headers(), &out)
}
