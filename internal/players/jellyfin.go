package players

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/fetcharr/fetcharr/internal/models"
)

// jellyfinClient uses the Jellyfin REST API with an API key. The key lives in
// the player's token column.
type jellyfinClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newJellyfinClient(p *models.MediaPlayer) *jellyfinClient {
	return &jellyfinClient{
		baseURL: fmt.Sprintf("http://%s:%d", p.Host, p.Port),
		apiKey:  strOrEmpty(p.Token),
		http:    newHTTPClient(),
	}
}

func (c *jellyfinClient) do(ctx context.Context, method, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", fmt.Sprintf(`MediaBrowser Token="%s"`, c.apiKey))
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jellyfin %s: %w", path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("jellyfin %s: status %d", path, resp.StatusCode)
	}
	return data, nil
}

// Scan refreshes the whole library. Jellyfin has no public per-directory scan,
// and its refresh is incremental, so the coarse call is cheap enough.
func (c *jellyfinClient) Scan(ctx context.Context, _ string) error {
	_, err := c.do(ctx, http.MethodPost, "/Library/Refresh")
	return err
}

// Announce is a no-op: Jellyfin offers no server-pushed on-screen notice.
func (c *jellyfinClient) Announce(ctx context.Context, title, message string) error {
	return nil
}

func (c *jellyfinClient) IsPlaying(ctx context.Context) (bool, error) {
	data, err := c.do(ctx, http.MethodGet, "/Sessions")
	if err != nil {
		return false, err
	}
	var sessions []struct {
		NowPlayingItem *struct {
			ID string `json:"Id"`
		} `json:"NowPlayingItem"`
	}
	if err := json.Unmarshal(data, &sessions); err != nil {
		return false, err
	}
	for _, s := range sessions {
		if s.NowPlayingItem != nil {
			return true, nil
		}
	}
	return false, nil
}

func (c *jellyfinClient) TestConnection(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/System/Info")
	return err
}
