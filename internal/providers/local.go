package providers

import (
	"context"

	"github.com/fetcharr/fetcharr/internal/models"
)

// Local is the pseudo-provider behind artwork discovered on disk during
// scans. The scan pipeline inserts its candidates directly; the adapter
// exists so the registry, scoring tables, and API treat "local" like any
// other source.
type Local struct{}

func NewLocal() *Local { return &Local{} }

func (l *Local) Capabilities() Capabilities {
	return Capabilities{
		ID: "local",
		EntityTypes: []models.MediaKind{
			models.KindMovie, models.KindSeries, models.KindSeason,
			models.KindEpisode, models.KindArtist, models.KindAlbum,
		},
		AuthMode:      "none",
		QualityWeight: 0.5,
	}
}

func (l *Local) Search(ctx context.Context, query SearchQuery) ([]SearchResult, error) {
	return nil, nil
}

func (l *Local) GetMetadata(ctx context.Context, entityType models.MediaKind, providerID string) (*MetadataResponse, error) {
	return &MetadataResponse{Fields: map[string]any{}}, nil
}

// GetAssets returns nothing: local candidates enter through the scan
// pipeline, which has the filesystem in hand.
func (l *Local) GetAssets(ctx context.Context, entityType models.MediaKind, providerID string, assetTypes []models.AssetType) ([]*models.AssetCandidate, error) {
	return nil, nil
}

func (l *Local) TestConnection(ctx context.Context) error { return nil }
