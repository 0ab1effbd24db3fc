// Package providers holds the metadata-provider adapters and the shared
// rate-limited HTTP client they ride on.
package providers

import (
	"context"

	"github.com/fetcharr/fetcharr/internal/models"
)

// Capabilities advertises what one provider can serve; the orchestrator and
// the HTTP client both read it.
type Capabilities struct {
	ID                 string
	EntityTypes        []models.MediaKind
	AssetTypes         map[models.MediaKind][]models.AssetType
	MetadataFields     []string
	AuthMode           string // "api_key", "token", "none"
	RequestsPerSecond  float64
	Burst              int
	SupportsYearFilter bool
	SupportsExternalID bool
	QualityWeight      float64
}

// Serves reports whether the provider handles an entity type at all.
func (c Capabilities) Serves(kind models.MediaKind) bool {
	for _, k := range c.EntityTypes {
		if k == kind {
			return true
		}
	}
	return false
}

// ServesField reports whether the provider claims a metadata field.
func (c Capabilities) ServesField(field string) bool {
	for _, f := range c.MetadataFields {
		if f == field {
			return true
		}
	}
	return false
}

// SearchQuery is a title lookup, optionally narrowed by year or resolved
// directly through an external ID (imdb id and friends).
type SearchQuery struct {
	Title      string
	Year       *int
	EntityType models.MediaKind
	ExternalID string
}

type SearchResult struct {
	ProviderID string
	Title      string
	Year       *int
	EntityType models.MediaKind
	// Confidence in [0,1]; providers that do not score matches return the
	// list order encoded as decreasing values.
	Confidence float64
}

// MetadataResponse carries one provider's view of an entity. Fields uses the
// canonical field names from the orchestrator (plot, rating, genres, ...);
// Completeness is the filled fraction of the fields this provider claims.
type MetadataResponse struct {
	Fields       map[string]any
	Completeness float64
}

// Adapter is one metadata source. GetAssets returns candidates without
// content hashes; hashing happens at download time.
type Adapter interface {
	Search(ctx context.Context, query SearchQuery) ([]SearchResult, error)
	GetMetadata(ctx context.Context, entityType models.MediaKind, providerID string) (*MetadataResponse, error)
	GetAssets(ctx context.Context, entityType models.MediaKind, providerID string, assetTypes []models.AssetType) ([]*models.AssetCandidate, error)
	TestConnection(ctx context.Context) error
	Capabilities() Capabilities
}
