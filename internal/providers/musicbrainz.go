package providers

import (
	"context"
	"fmt"
	"net/url"

	"github.com/fetcharr/fetcharr/internal/models"
)

const (
	musicbrainzBaseURL = "https://musicbrainz.org/ws/2"
	coverArtBaseURL    = "https://coverartarchive.org"
)

// MusicBrainz serves artists and albums (release groups), with cover art from
// the Cover Art Archive. No key, hard 1 rps limit per their etiquette rules.
type MusicBrainz struct {
	client *Client
}

func NewMusicBrainz(client *Client) *MusicBrainz {
	return &MusicBrainz{client: client}
}

func (m *MusicBrainz) Capabilities() Capabilities {
	return Capabilities{
		ID:          "musicbrainz",
		EntityTypes: []models.MediaKind{models.KindArtist, models.KindAlbum},
		AssetTypes: map[models.MediaKind][]models.AssetType{
			models.KindAlbum: {models.AssetPoster},
		},
		MetadataFields:    []string{"title", "plot", "genres", "premiered"},
		AuthMode:          "none",
		RequestsPerSecond: 1,
		Burst:             1,
		QualityWeight:     0.6,
	}
}

func (m *MusicBrainz) Search(ctx context.Context, query SearchQuery) ([]SearchResult, error) {
	entity := "artist"
	if query.EntityType == models.KindAlbum {
		entity = "release-group"
	}
	u := fmt.Sprintf("%s/%s?query=%s&fmt=json&limit=10", musicbrainzBaseURL, entity, url.QueryEscape(query.Title))

	var resp struct {
		Artists []struct {
			ID    string `json:"id"`
			Name  string `json:"name"`
			Score int    `json:"score"`
		} `json:"artists"`
		ReleaseGroups []struct {
			ID               string `json:"id"`
			Title            string `json:"title"`
			Score            int    `json:"score"`
			FirstReleaseDate string `json:"first-release-date"`
		} `json:"release-groups"`
	}
	if err := m.client.GetJSON(ctx, u, nil, &resp); err != nil {
		return nil, err
	}

	var results []SearchResult
	for _, a := range resp.Artists {
		results = append(results, SearchResult{
			ProviderID: a.ID,
			Title:      a.Name,
			EntityType: models.KindArtist,
			Confidence: float64(a.Score) / 100,
		})
	}
	for _, rg := range resp.ReleaseGroups {
		res := SearchResult{
			ProviderID: rg.ID,
			Title:      rg.Title,
			EntityType: models.KindAlbum,
			Confidence: float64(rg.Score) / 100,
		}
		if y := parseYearPrefix(rg.FirstReleaseDate); y != nil {
			res.Year = y
		}
		results = append(results, res)
	}
	return results, nil
}

func parseYearPrefix(date string) *int {
	if len(date) < 4 {
		return nil
	}
	y := 0
	if _, err := fmt.Sscanf(date[:4], "%d", &y); err != nil || y == 0 {
		return nil
	}
	return &y
}

func (m *MusicBrainz) GetMetadata(ctx context.Context, entityType models.MediaKind, providerID string) (*MetadataResponse, error) {
	entity := "artist"
	if entityType == models.KindAlbum {
		entity = "release-group"
	}
	u := fmt.Sprintf("%s/%s/%s?fmt=json&inc=genres", musicbrainzBaseURL, entity, providerID)

	var resp struct {
		Name             string `json:"name"`
		Title            string `json:"title"`
		Disambiguation   string `json:"disambiguation"`
		FirstReleaseDate string `json:"first-release-date"`
		Genres           []struct {
			Name string `json:"name"`
		} `json:"genres"`
	}
	if err := m.client.GetJSON(ctx, u, nil, &resp); err != nil {
		return nil, err
	}

	fields := map[string]any{}
	title := resp.Name
	if title == "" {
		title = resp.Title
	}
	putNonEmpty(fields, "title", title)
	putNonEmpty(fields, "plot", resp.Disambiguation)
	putNonEmpty(fields, "premiered", resp.FirstReleaseDate)
	if len(resp.Genres) > 0 {
		genres := make([]string, 0, len(resp.Genres))
		for _, g := range resp.Genres {
			genres = append(genres, g.Name)
		}
		fields["genres"] = genres
	}
	return &MetadataResponse{
		Fields:       fields,
		Completeness: completeness(fields, m.Capabilities().MetadataFields),
	}, nil
}

func (m *MusicBrainz) GetAssets(ctx context.Context, entityType models.MediaKind, providerID string, assetTypes []models.AssetType) ([]*models.AssetCandidate, error) {
	if entityType != models.KindAlbum || !assetTypeSet(assetTypes)[models.AssetPoster] {
		return nil, nil
	}
	u := fmt.Sprintf("%s/release-group/%s", coverArtBaseURL, providerID)

	var resp struct {
		Images []struct {
			Image    string   `json:"image"`
			Front    bool     `json:"front"`
			Approved bool     `json:"approved"`
			Types    []string `json:"types"`
		} `json:"images"`
	}
	if err := m.client.GetJSON(ctx, u, nil, &resp); err != nil {
		return nil, err
	}

	var out []*models.AssetCandidate
	for _, img := range resp.Images {
		if !img.Front {
			continue
		}
		votes := 0
		if img.Approved {
			votes = 100
		}
		out = append(out, &models.AssetCandidate{
			AssetType: models.AssetPoster,
			Provider:  "musicbrainz",
			SourceURL: img.Image,
			// The archive does not report dimensions; cover art is square.
			Width:  1000,
			Height: 1000,
			VoteCount: votes,
		})
	}
	return out, nil
}

func (m *MusicBrainz) TestConnection(ctx context.Context) error {
	// The Beatles; about as permanent as MusicBrainz rows get.
	u := fmt.Sprintf("%s/artist/b10bbbfc-cf9e-42e0-be17-e2c3e1d2600d?fmt=json", musicbrainzBaseURL)
	var out struct{}
	return m.client.GetJSON(ctx, u, nil, &out)
}
