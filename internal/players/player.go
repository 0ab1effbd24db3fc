// Package players talks to Kodi, Jellyfin and Plex instances: library scan
// triggers, playback probes and on-screen notices, coordinated per player
// group.
package players

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fetcharr/fetcharr/internal/models"
)

const clientTimeout = 10 * time.Second

// Client is the common surface over the three player APIs. Announce is a
// best-effort on-screen notice; players without one return nil.
type Client interface {
	// Scan asks the player to rescan the library path. The path must
	// already be translated into the player's view of the filesystem.
	Scan(ctx context.Context, path string) error
	Announce(ctx context.Context, title, message string) error
	IsPlaying(ctx context.Context) (bool, error)
	TestConnection(ctx context.Context) error
}

// Factory builds a Client for a configured player. Swappable in tests.
type Factory func(p *models.MediaPlayer) (Client, error)

// NewClient is the production Factory.
func NewClient(p *models.MediaPlayer) (Client, error) {
	switch p.Kind {
	case models.PlayerKodi:
		return newKodiClient(p), nil
	case models.PlayerJellyfin:
		return newJellyfinClient(p), nil
	case models.PlayerPlex:
		return newPlexClient(p), nil
	default:
		return nil, fmt.Errorf("unknown player kind %q", p.Kind)
	}
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: clientTimeout}
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
