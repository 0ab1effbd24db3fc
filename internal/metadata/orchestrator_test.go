package metadata

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fetcharr/fetcharr/internal/models"
	"github.com/fetcharr/fetcharr/internal/providers"
)

// fakeAdapter serves canned fields and assets.
type fakeAdapter struct {
	caps      providers.Capabilities
	fields    map[string]any
	assets    []*models.AssetCandidate
	metaErr   error
	assetErr  error
	metaCalls int
}

func (f *fakeAdapter) Capabilities() providers.Capabilities { return f.caps }

func (f *fakeAdapter) Search(ctx context.Context, q providers.SearchQuery) ([]providers.SearchResult, error) {
	return nil, nil
}

func (f *fakeAdapter) GetMetadata(ctx context.Context, kind models.MediaKind, id string) (*providers.MetadataResponse, error) {
	f.metaCalls++
	if f.metaErr != nil {
		return nil, f.metaErr
	}
	return &providers.MetadataResponse{Fields: f.fields}, nil
}

func (f *fakeAdapter) GetAssets(ctx context.Context, kind models.MediaKind, id string, types []models.AssetType) ([]*models.AssetCandidate, error) {
	if f.assetErr != nil {
		return nil, f.assetErr
	}
	return f.assets, nil
}

func (f *fakeAdapter) TestConnection(ctx context.Context) error { return nil }

func fakeCaps(id string, quality float64) providers.Capabilities {
	return providers.Capabilities{
		ID:             id,
		EntityTypes:    []models.MediaKind{models.KindMovie},
		MetadataFields: []string{"title", "plot", "rating"},
		AssetTypes: map[models.MediaKind][]models.AssetType{
			models.KindMovie: {models.AssetPoster},
		},
		QualityWeight: quality,
	}
}

func testItem() *models.MediaItem {
	tmdb := "603"
	mb := "mb-1"
	return &models.MediaItem{
		ID:            uuid.New(),
		MediaType:     models.KindMovie,
		Title:         "The Matrix",
		TmdbID:        &tmdb,
		MusicbrainzID: &mb,
	}
}

func newTestOrchestrator(adapters ...providers.Adapter) *Orchestrator {
	reg := providers.NewRegistry(nil)
	for _, a := range adapters {
		reg.Register(a)
	}
	return NewOrchestrator(reg)
}

func TestEnrichPreferredFirstFillsGaps(t *testing.T) {
	preferred := &fakeAdapter{
		caps:   fakeCaps("tmdb", 0.8),
		fields: map[string]any{"title": "The Matrix", "plot": "hacker story"},
	}
	secondary := &fakeAdapter{
		caps:   fakeCaps("musicbrainz", 0.6),
		fields: map[string]any{"plot": "should not override", "rating": 8.7},
	}
	o := newTestOrchestrator(preferred, secondary)
	lib := &models.Library{ProviderStrategy: models.StrategyPreferredFirst, PreferredProvider: strPtr("tmdb")}

	res, err := o.Enrich(context.Background(), lib, testItem())
	require.NoError(t, err)
	assert.Equal(t, "The Matrix", res.Fields["title"])
	assert.Equal(t, "hacker story", res.Fields["plot"], "preferred provider's value must win")
	assert.Equal(t, 8.7, res.Fields["rating"], "gap filled from secondary")
}

func TestEnrichFieldMapping(t *testing.T) {
	tmdb := &fakeAdapter{
		caps:   fakeCaps("tmdb", 0.8),
		fields: map[string]any{"title": "tmdb title", "plot": "tmdb plot", "rating": 1.0},
	}
	mb := &fakeAdapter{
		caps:   fakeCaps("musicbrainz", 0.6),
		fields: map[string]any{"title": "mb title", "plot": "mb plot", "rating": 2.0},
	}
	o := newTestOrchestrator(tmdb, mb)
	mapping := `{"plot":"musicbrainz","rating":"tmdb"}`
	lib := &models.Library{ProviderStrategy: models.StrategyFieldMapping, FieldMappings: &mapping}

	res, err := o.Enrich(context.Background(), lib, testItem())
	require.NoError(t, err)
	assert.Equal(t, "mb plot", res.Fields["plot"])
	assert.Equal(t, 1.0, res.Fields["rating"])
	_, hasTitle := res.Fields["title"]
	assert.False(t, hasTitle, "unmapped fields stay unset")
}

func TestEnrichAggregateAllQualityWins(t *testing.T) {
	high := &fakeAdapter{
		caps:   fakeCaps("tmdb", 0.8),
		fields: map[string]any{"plot": "high quality plot"},
	}
	low := &fakeAdapter{
		caps:   fakeCaps("musicbrainz", 0.6),
		fields: map[string]any{"plot": "low quality plot", "rating": 6.0},
	}
	o := newTestOrchestrator(high, low)
	lib := &models.Library{ProviderStrategy: models.StrategyAggregateAll}

	res, err := o.Enrich(context.Background(), lib, testItem())
	require.NoError(t, err)
	assert.Equal(t, "high quality plot", res.Fields["plot"])
	assert.Equal(t, 6.0, res.Fields["rating"])
}

func TestEnrichPartialSuccess(t *testing.T) {
	broken := &fakeAdapter{
		caps:    fakeCaps("tmdb", 0.8),
		metaErr: errors.New("boom"),
		assets: []*models.AssetCandidate{
			{AssetType: models.AssetPoster, Provider: "tmdb", SourceURL: "http://t/1"},
		},
	}
	working := &fakeAdapter{
		caps:   fakeCaps("musicbrainz", 0.6),
		fields: map[string]any{"rating": 7.0},
		assets: []*models.AssetCandidate{
			{AssetType: models.AssetPoster, Provider: "musicbrainz", SourceURL: "http://m/1"},
		},
	}
	o := newTestOrchestrator(broken, working)
	lib := &models.Library{ProviderStrategy: models.StrategyPreferredFirst}

	item := testItem()
	res, err := o.Enrich(context.Background(), lib, item)
	require.NoError(t, err)
	assert.Equal(t, 7.0, res.Fields["rating"])
	assert.Contains(t, res.ProviderErrors, "tmdb")
	// Assets still aggregate from every provider, including the one whose
	// metadata call failed.
	require.Len(t, res.Candidates, 2)
	for _, c := range res.Candidates {
		assert.Equal(t, item.ID, c.MediaItemID)
	}
}

func TestEnrichAssetsAlwaysAggregated(t *testing.T) {
	a := &fakeAdapter{
		caps:   fakeCaps("tmdb", 0.8),
		fields: map[string]any{"title": "x"},
		assets: []*models.AssetCandidate{
			{AssetType: models.AssetPoster, Provider: "tmdb", SourceURL: "http://t/b"},
			{AssetType: models.AssetPoster, Provider: "tmdb", SourceURL: "http://t/a"},
		},
	}
	b := &fakeAdapter{
		caps: fakeCaps("musicbrainz", 0.6),
		assets: []*models.AssetCandidate{
			{AssetType: models.AssetPoster, Provider: "musicbrainz", SourceURL: "http://m/1"},
		},
	}
	o := newTestOrchestrator(a, b)
	mapping := `{"title":"tmdb"}`
	lib := &models.Library{ProviderStrategy: models.StrategyFieldMapping, FieldMappings: &mapping}

	res, err := o.Enrich(context.Background(), lib, testItem())
	require.NoError(t, err)
	require.Len(t, res.Candidates, 3)
	// Deterministic ordering: provider asc, URL asc.
	assert.Equal(t, "http://m/1", res.Candidates[0].SourceURL)
	assert.Equal(t, "http://t/a", res.Candidates[1].SourceURL)
	assert.Equal(t, "http://t/b", res.Candidates[2].SourceURL)
}

func TestApplyFieldsHonoursLocks(t *testing.T) {
	item := testItem()
	plot := "original plot"
	item.Plot = &plot
	item.LockedFields = []string{"plot"}

	changed := ApplyFields(item, map[string]any{
		"plot":   "provider plot",
		"rating": 8.7,
		"genres": []string{"Action"},
	})

	assert.Equal(t, "original plot", *item.Plot, "locked field must survive enrichment")
	require.NotNil(t, item.Rating)
	assert.Equal(t, 8.7, *item.Rating)
	assert.Equal(t, []string{"Action"}, []string(item.Genres))
	assert.ElementsMatch(t, []string{"rating", "genres"}, changed)
}

func TestApplyFieldsWildcardLock(t *testing.T) {
	item := testItem()
	item.LockedFields = []string{"*"}

	changed := ApplyFields(item, map[string]any{"plot": "p", "rating": 9.0, "title": "New"})
	assert.Empty(t, changed)
	assert.Nil(t, item.Plot)
	assert.Equal(t, "The Matrix", item.Title)
}

func TestApplyFieldsNoChangeReportsNothing(t *testing.T) {
	item := testItem()
	rating := 8.7
	item.Rating = &rating

	changed := ApplyFields(item, map[string]any{"rating": 8.7})
	assert.Empty(t, changed)
}
