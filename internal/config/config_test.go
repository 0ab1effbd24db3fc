package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSettings map[string]string

func (f fakeSettings) GetAll() (map[string]string, error) { return f, nil }

func TestDefaultsAreValid(t *testing.T) {
	cfg := defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 4, cfg.Jobs.Workers)
	assert.Equal(t, 90, cfg.Cache.OrphanGraceDays)
	assert.Equal(t, 30, cfg.Media.SoftDeleteGraceDays)
	assert.Equal(t, 30*time.Second, cfg.Players.ProcessorInterval)
}

func TestLoadHonoursEnv(t *testing.T) {
	t.Setenv("FETCHARR_SERVER__PORT", "9090")
	t.Setenv("FETCHARR_LOG__LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestMergeFromDBWinsOverEnv(t *testing.T) {
	t.Setenv("FETCHARR_JOBS__WORKERS", "2")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Jobs.Workers)

	require.NoError(t, cfg.MergeFromDB(fakeSettings{
		"jobs.workers":            "8",
		"providers.tmdb_api_key":  "key-from-db",
		"providers.rate.tmdb":     "2.5",
		"some.unknown.future.key": "ignored",
	}))
	assert.Equal(t, 8, cfg.Jobs.Workers)
	assert.Equal(t, "key-from-db", cfg.Providers.TMDBAPIKey)
	assert.Equal(t, 2.5, cfg.Providers.RateOverrides["tmdb"])
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := defaults()
	cfg.Jobs.Workers = 0
	assert.Error(t, cfg.Validate())

	cfg = defaults()
	cfg.Cache.Root = ""
	assert.Error(t, cfg.Validate())

	cfg = defaults()
	cfg.Server.Port = 70000
	assert.Error(t, cfg.Validate())
}

func TestGraceWindows(t *testing.T) {
	cfg := defaults()
	assert.Equal(t, 90*24*time.Hour, cfg.OrphanGrace())
	assert.Equal(t, 30*24*time.Hour, cfg.SoftDeleteGrace())
}
