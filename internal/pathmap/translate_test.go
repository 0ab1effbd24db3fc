package pathmap

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fetcharr/fetcharr/internal/models"
)

func mapping(src, dst string) *models.PathMapping {
	return &models.PathMapping{SourcePrefix: src, TargetPrefix: dst}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/data/movies", "/data/movies"},
		{"data/movies", "/data/movies"},
		{"/data/movies/", "/data/movies"},
		{"C:\\media\\movies\\", "/C:/media/movies"},
		{"/", "/"},
		{"", "/"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), "input %q", tt.in)
	}
}

func TestTranslateEmptyMappingsIsIdentity(t *testing.T) {
	assert.Equal(t, "/data/movies/M", Translate("/data/movies/M/", nil))
	assert.Equal(t, "/data/movies/M", Translate("data/movies/M", []*models.PathMapping{}))
}

func TestTranslateLongestPrefixWins(t *testing.T) {
	mappings := []*models.PathMapping{
		mapping("/downloads", "/mnt/wrong"),
		mapping("/downloads/movies", "/data/movies"),
	}
	got := Translate("/downloads/movies/M/m.mkv", mappings)
	assert.Equal(t, "/data/movies/M/m.mkv", got)
}

func TestTranslateNoMatchPassesThrough(t *testing.T) {
	mappings := []*models.PathMapping{mapping("/downloads/movies", "/data/movies")}
	assert.Equal(t, "/srv/tv/S", Translate("/srv/tv/S", mappings))
}

func TestTranslateExactPrefixBoundary(t *testing.T) {
	mappings := []*models.PathMapping{mapping("/downloads/mov", "/data/mov")}
	// "/downloads/movies" must not match the "/downloads/mov" prefix.
	assert.Equal(t, "/downloads/movies/x", Translate("/downloads/movies/x", mappings))
	assert.Equal(t, "/data/mov/x", Translate("/downloads/mov/x", mappings))
	assert.Equal(t, "/data/mov", Translate("/downloads/mov", mappings))
}

func TestTranslateWindowsSource(t *testing.T) {
	mappings := []*models.PathMapping{mapping("/C:/media/movies", "/data/movies")}
	assert.Equal(t, "/data/movies/M/m.mkv", Translate("C:\\media\\movies\\M\\m.mkv", mappings))
}
