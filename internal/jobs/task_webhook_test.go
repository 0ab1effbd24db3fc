package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWebhookRadarr(t *testing.T) {
	body := []byte(`{
		"eventType": "Download",
		"movie": {
			"folderPath": "/movies/Heat (1995)",
			"tmdbId": 949,
			"imdbId": "tt0113277",
			"title": "Heat",
			"year": 1995
		}
	}`)
	info, err := parseWebhook("radarr", body)
	require.NoError(t, err)
	assert.Equal(t, "Download", info.Event)
	assert.False(t, info.Delete)
	assert.Equal(t, "/movies/Heat (1995)", info.Path)
	assert.Equal(t, "949", info.TmdbID)
	assert.Equal(t, "tt0113277", info.ImdbID)
	require.NotNil(t, info.Year)
	assert.Equal(t, 1995, *info.Year)
}

func TestParseWebhookSonarrDelete(t *testing.T) {
	body := []byte(`{
		"eventType": "SeriesDelete",
		"series": {
			"path": "/tv/The Wire",
			"tvdbId": 79126,
			"title": "The Wire"
		}
	}`)
	info, err := parseWebhook("sonarr", body)
	require.NoError(t, err)
	assert.True(t, info.Delete)
	assert.Equal(t, "79126", info.TvdbID)
	assert.Equal(t, "/tv/The Wire", info.Path)
}

func TestParseWebhookLidarr(t *testing.T) {
	body := []byte(`{
		"eventType": "AlbumDownload",
		"artist": {
			"path": "/music/Radiohead",
			"foreignArtistId": "a74b1b7f-71a5-4011-9441-d0b5e4122711",
			"name": "Radiohead"
		}
	}`)
	info, err := parseWebhook("lidarr", body)
	require.NoError(t, err)
	assert.Equal(t, "a74b1b7f-71a5-4011-9441-d0b5e4122711", info.MusicbrainzID)
	assert.Equal(t, "Radiohead", info.Title)
}

func TestParseWebhookRejectsUnknownSource(t *testing.T) {
	_, err := parseWebhook("whisparr", []byte(`{}`))
	assert.Error(t, err)
}

func TestParseWebhookRejectsMissingPath(t *testing.T) {
	_, err := parseWebhook("radarr", []byte(`{"eventType": "Test"}`))
	assert.Error(t, err)
}
