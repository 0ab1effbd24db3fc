package players

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/fetcharr/fetcharr/internal/models"
)

// plexClient targets a Plex Media Server with an X-Plex-Token.
type plexClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newPlexClient(p *models.MediaPlayer) *plexClient {
	return &plexClient{
		baseURL: fmt.Sprintf("http://%s:%d", p.Host, p.Port),
		token:   strOrEmpty(p.Token),
		http:    newHTTPClient(),
	}
}

func (c *plexClient) do(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Plex-Token", c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("plex %s: %w", path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("plex %s: status %d", path, resp.StatusCode)
	}
	return data, nil
}

type plexSections struct {
	MediaContainer struct {
		Directory []struct {
			Key      string `json:"key"`
			Location []struct {
				Path string `json:"path"`
			} `json:"Location"`
		} `json:"Directory"`
	} `json:"MediaContainer"`
}

// sectionFor finds the library section whose location contains path.
func (c *plexClient) sectionFor(ctx context.Context, path string) (string, error) {
	data, err := c.do(ctx, "/library/sections", nil)
	if err != nil {
		return "", err
	}
	var sections plexSections
	if err := json.Unmarshal(data, &sections); err != nil {
		return "", err
	}
	for _, dir := range sections.MediaContainer.Directory {
		for _, loc := range dir.Location {
			if path == loc.Path || strings.HasPrefix(path, strings.TrimSuffix(loc.Path, "/")+"/") {
				return dir.Key, nil
			}
		}
	}
	return "", fmt.Errorf("plex: no library section contains %s", path)
}

// Scan refreshes just the changed directory within its section.
func (c *plexClient) Scan(ctx context.Context, path string) error {
	key, err := c.sectionFor(ctx, path)
	if err != nil {
		return err
	}
	q := url.Values{"path": {path}}
	_, err = c.do(ctx, fmt.Sprintf("/library/sections/%s/refresh", key), q)
	return err
}

// Announce is a no-op: Plex has no on-screen notice endpoint.
func (c *plexClient) Announce(ctx context.Context, title, message string) error {
	return nil
}

func (c *plexClient) IsPlaying(ctx context.Context) (bool, error) {
	data, err := c.do(ctx, "/status/sessions", nil)
	if err != nil {
		return false, err
	}
	var sessions struct {
		MediaContainer struct {
			Size int `json:"size"`
		} `json:"MediaContainer"`
	}
	if err := json.Unmarshal(data, &sessions); err != nil {
		return false, err
	}
	return sessions.MediaContainer.Size > 0, nil
}

func (c *plexClient) TestConnection(ctx context.Context) error {
	_, err := c.do(ctx, "/identity", nil)
	return err
}
