package players

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fetcharr/fetcharr/internal/models"
)

func playerFor(t *testing.T, srv *httptest.Server, kind models.PlayerKind) *models.MediaPlayer {
	t.Helper()
	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	token := "secret-token"
	return &models.MediaPlayer{Name: "test", Kind: kind, Host: host, Port: port, Token: &token}
}

func TestKodiScanSendsJSONRPC(t *testing.T) {
	var got kodiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/jsonrpc", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"OK"}`))
	}))
	defer srv.Close()

	c := newKodiClient(playerFor(t, srv, models.PlayerKodi))
	require.NoError(t, c.Scan(context.Background(), "/mnt/movies/The Matrix (1999)"))

	assert.Equal(t, "VideoLibrary.Scan", got.Method)
	params, ok := got.Params.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "/mnt/movies/The Matrix (1999)/", params["directory"], "kodi wants a trailing slash")
	assert.Equal(t, false, params["showdialogs"])
}

func TestKodiIsPlaying(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":[{"playerid":1,"type":"video"}]}`))
	}))
	defer srv.Close()

	c := newKodiClient(playerFor(t, srv, models.PlayerKodi))
	playing, err := c.IsPlaying(context.Background())
	require.NoError(t, err)
	assert.True(t, playing)
}

func TestKodiErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"Method not found"}}`))
	}))
	defer srv.Close()

	c := newKodiClient(playerFor(t, srv, models.PlayerKodi))
	err := c.Scan(context.Background(), "/x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Method not found")
}

func TestJellyfinScanAndSessions(t *testing.T) {
	var refreshed bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Authorization"), "secret-token")
		switch r.URL.Path {
		case "/Library/Refresh":
			require.Equal(t, http.MethodPost, r.Method)
			refreshed = true
			w.WriteHeader(http.StatusNoContent)
		case "/Sessions":
			w.Write([]byte(`[{"NowPlayingItem":null},{"NowPlayingItem":{"Id":"abc"}}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := newJellyfinClient(playerFor(t, srv, models.PlayerJellyfin))
	require.NoError(t, c.Scan(context.Background(), "/ignored"))
	assert.True(t, refreshed)

	playing, err := c.IsPlaying(context.Background())
	require.NoError(t, err)
	assert.True(t, playing)
}

func TestPlexScanRefreshesMatchingSection(t *testing.T) {
	var refreshPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret-token", r.Header.Get("X-Plex-Token"))
		switch r.URL.Path {
		case "/library/sections":
			w.Write([]byte(`{"MediaContainer":{"Directory":[
				{"key":"1","Location":[{"path":"/mnt/tv"}]},
				{"key":"2","Location":[{"path":"/mnt/movies"}]}
			]}}`))
		case "/library/sections/2/refresh":
			refreshPath = r.URL.Query().Get("path")
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := newPlexClient(playerFor(t, srv, models.PlayerPlex))
	require.NoError(t, c.Scan(context.Background(), "/mnt/movies/The Matrix (1999)"))
	assert.Equal(t, "/mnt/movies/The Matrix (1999)", refreshPath)
}

func TestPlexScanUnknownPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"MediaContainer":{"Directory":[]}}`))
	}))
	defer srv.Close()

	c := newPlexClient(playerFor(t, srv, models.PlayerPlex))
	err := c.Scan(context.Background(), "/elsewhere/file")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no library section")
}

func TestPlexIsPlaying(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"MediaContainer":{"size":0}}`))
	}))
	defer srv.Close()

	c := newPlexClient(playerFor(t, srv, models.PlayerPlex))
	playing, err := c.IsPlaying(context.Background())
	require.NoError(t, err)
	assert.False(t, playing)
}

func TestNewClientRejectsUnknownKind(t *testing.T) {
	_, err := NewClient(&models.MediaPlayer{Kind: models.PlayerKind("winamp")})
	assert.Error(t, err)
}
