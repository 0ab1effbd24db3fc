package metadata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fetcharr/fetcharr/internal/models"
)

func strPtr(s string) *string    { return &s }
func intPtr(n int) *int          { return &n }
func f64Ptr(f float64) *float64  { return &f }

func movieItem() *models.MediaItem {
	premiered := time.Date(1999, 3, 31, 0, 0, 0, 0, time.UTC)
	return &models.MediaItem{
		MediaType:     models.KindMovie,
		Title:         "The Matrix",
		SortTitle:     strPtr("Matrix, The"),
		Year:          intPtr(1999),
		Plot:          strPtr("A computer hacker learns the truth."),
		Tagline:       strPtr("Free your mind."),
		RuntimeMins:   intPtr(136),
		Rating:        f64Ptr(8.7),
		Votes:         intPtr(25000),
		Genres:        []string{"Action", "Science Fiction"},
		Studios:       []string{"Warner Bros."},
		ContentRating: strPtr("R"),
		Premiered:     &premiered,
		TrailerURL:    strPtr("https://www.youtube.com/watch?v=m8e-FF8MsqU"),
		TmdbID:        strPtr("603"),
		ImdbID:        strPtr("tt0133093"),
		ActorsJSON:    strPtr(`[{"name":"Keanu Reeves","role":"Neo","order":0}]`),
	}
}

func TestGenerateNFORoundTrip(t *testing.T) {
	item := movieItem()
	data, err := GenerateNFO(item)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<movie>")
	assert.Contains(t, string(data), `<uniqueid type="tmdb" default="true">603</uniqueid>`)

	p, err := ParseNFO(data)
	require.NoError(t, err)
	assert.Equal(t, "The Matrix", p.Title)
	assert.Equal(t, "Matrix, The", p.SortTitle)
	require.NotNil(t, p.Year)
	assert.Equal(t, 1999, *p.Year)
	assert.Equal(t, "A computer hacker learns the truth.", p.Plot)
	assert.Equal(t, "Free your mind.", p.Tagline)
	require.NotNil(t, p.RuntimeMins)
	assert.Equal(t, 136, *p.RuntimeMins)
	assert.Equal(t, "R", p.ContentRating)
	require.NotNil(t, p.Premiered)
	assert.Equal(t, "1999-03-31", p.Premiered.Format("2006-01-02"))
	require.NotNil(t, p.Rating)
	assert.Equal(t, 8.7, *p.Rating)
	require.NotNil(t, p.Votes)
	assert.Equal(t, 25000, *p.Votes)
	assert.Equal(t, []string{"Action", "Science Fiction"}, p.Genres)
	assert.Equal(t, []string{"Warner Bros."}, p.Studios)
	assert.Equal(t, "603", p.TmdbID)
	assert.Equal(t, "tt0133093", p.ImdbID)
	assert.True(t, p.HasProviderIDs())
	assert.Contains(t, p.ActorsJSON, "Keanu Reeves")
}

func TestGenerateNFODeterministic(t *testing.T) {
	item := movieItem()
	a, err := GenerateNFO(item)
	require.NoError(t, err)
	b, err := GenerateNFO(item)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, HashNFO(a), HashNFO(b))
}

func TestGenerateNFOEpisodeRoot(t *testing.T) {
	item := &models.MediaItem{
		MediaType:     models.KindEpisode,
		Title:         "Negro y Azul",
		SeasonNumber:  intPtr(2),
		EpisodeNumber: intPtr(7),
	}
	data, err := GenerateNFO(item)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<episodedetails>")

	p, err := ParseNFO(data)
	require.NoError(t, err)
	require.NotNil(t, p.Season)
	assert.Equal(t, 2, *p.Season)
	require.NotNil(t, p.Episode)
	assert.Equal(t, 7, *p.Episode)
}

func TestGenerateNFOUnsupportedKind(t *testing.T) {
	_, err := GenerateNFO(&models.MediaItem{MediaType: models.KindTrack, Title: "x"})
	assert.Error(t, err)
}

func TestParseNFOLegacyIDs(t *testing.T) {
	p, err := ParseNFO([]byte(`<movie><title>Old Style</title><imdbid>tt0000001</imdbid><tmdbid>42</tmdbid></movie>`))
	require.NoError(t, err)
	assert.Equal(t, "tt0000001", p.ImdbID)
	assert.Equal(t, "42", p.TmdbID)
}

func TestParseNFORejectsBadInput(t *testing.T) {
	_, err := ParseNFO([]byte("https://www.imdb.com/title/tt0133093/"))
	assert.Error(t, err)

	_, err = ParseNFO([]byte(`<movie></movie>`))
	assert.Error(t, err)
}
