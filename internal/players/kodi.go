package players

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/fetcharr/fetcharr/internal/logging"
	"github.com/fetcharr/fetcharr/internal/models"
)

// kodiClient speaks Kodi's JSON-RPC v2 over HTTP, with optional basic auth.
type kodiClient struct {
	baseURL  string
	username string
	password string
	http     *http.Client
}

func newKodiClient(p *models.MediaPlayer) *kodiClient {
	return &kodiClient{
		baseURL:  fmt.Sprintf("http://%s:%d/jsonrpc", p.Host, p.Port),
		username: strOrEmpty(p.Username),
		password: strOrEmpty(p.Password),
		http:     newHTTPClient(),
	}
}

type kodiRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      int    `json:"id"`
}

type kodiResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *kodiClient) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	body, err := json.Marshal(kodiRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kodi %s: %w", method, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("kodi %s: status %d", method, resp.StatusCode)
	}
	var out kodiResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("kodi %s: %w", method, err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("kodi %s: %s (%d)", method, out.Error.Message, out.Error.Code)
	}
	return out.Result, nil
}

// Scan triggers VideoLibrary.Scan on the directory. Kodi wants a trailing
// slash on directory paths.
func (c *kodiClient) Scan(ctx context.Context, path string) error {
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	_, err := c.call(ctx, "VideoLibrary.Scan", map[string]any{
		"directory":   path,
		"showdialogs": false,
	})
	return err
}

func (c *kodiClient) Announce(ctx context.Context, title, message string) error {
	_, err := c.call(ctx, "GUI.ShowNotification", map[string]any{
		"title":       title,
		"message":     message,
		"displaytime": 5000,
	})
	return err
}

func (c *kodiClient) IsPlaying(ctx context.Context) (bool, error) {
	res, err := c.call(ctx, "Player.GetActivePlayers", nil)
	if err != nil {
		return false, err
	}
	var active []struct {
		PlayerID int    `json:"playerid"`
		Type     string `json:"type"`
	}
	if err := json.Unmarshal(res, &active); err != nil {
		return false, err
	}
	return len(active) > 0, nil
}

func (c *kodiClient) TestConnection(ctx context.Context) error {
	_, err := c.call(ctx, "JSONRPC.Ping", nil)
	return err
}

// ──────────────────── OnStop listener ────────────────────

// kodiNotification is the envelope Kodi pushes over its WebSocket interface.
type kodiNotification struct {
	Method string `json:"method"`
}

// OnStopListener holds a WebSocket to a Kodi instance and invokes wake each
// time playback stops, so queued updates flush without waiting for the next
// tick. The connection re-dials with backoff until the context ends.
type OnStopListener struct {
	url  string
	wake func()
	log  zerolog.Logger
}

// NewOnStopListener listens on Kodi's WebSocket port, conventionally 9090
// regardless of the HTTP port.
func NewOnStopListener(host string, wsPort int, wake func()) *OnStopListener {
	if wsPort <= 0 {
		wsPort = 9090
	}
	return &OnStopListener{
		url:  fmt.Sprintf("ws://%s:%d/jsonrpc", host, wsPort),
		wake: wake,
		log:  logging.WithComponent("players").With().Str("ws", fmt.Sprintf("%s:%d", host, wsPort)).Logger(),
	}
}

func (l *OnStopListener) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if err := l.listen(ctx); err != nil && ctx.Err() == nil {
			l.log.Debug().Err(err).Msg("kodi websocket dropped, retrying")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < time.Minute {
			backoff *= 2
		}
	}
}

func (l *OnStopListener) listen(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, l.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(1 << 20)

	for {
		var note kodiNotification
		if err := wsjson.Read(ctx, conn, &note); err != nil {
			return err
		}
		if note.Method == "Player.OnStop" {
			l.log.Debug().Msg("playback stopped, waking update queue")
			l.wake()
		}
	}
}
