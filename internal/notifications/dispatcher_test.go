package notifications

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fetcharr/fetcharr/internal/models"
)

type fakeChannels struct {
	channels []*models.NotificationChannel
	err      error
}

func (f *fakeChannels) ListEnabledForEvent(string) ([]*models.NotificationChannel, error) {
	return f.channels, f.err
}

func genericChannel(url string) *models.NotificationChannel {
	return &models.NotificationChannel{
		Name:        "test",
		ChannelType: "generic",
		WebhookURL:  url,
		IsEnabled:   true,
	}
}

func TestDispatchRendersAndPosts(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
	}))
	defer srv.Close()

	d := NewDispatcher(&fakeChannels{channels: []*models.NotificationChannel{genericChannel(srv.URL)}}, NewSender())
	d.Dispatch(EventPublishComplete, "Published {{item.title}}", "{{item.title}} is ready", map[string]any{
		"item": map[string]any{"title": "The Matrix"},
	})

	assert.Equal(t, "Published The Matrix", got["title"])
	assert.Equal(t, "The Matrix is ready", got["message"])
	assert.Equal(t, "fetcharr", got["source"])
}

func TestDispatchUsesChannelTemplateOverride(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
	}))
	defer srv.Close()

	ch := genericChannel(srv.URL)
	cfg := json.RawMessage(`{"template":"custom for {{item.title}}"}`)
	ch.Config = &cfg

	d := NewDispatcher(&fakeChannels{channels: []*models.NotificationChannel{ch}}, NewSender())
	d.Dispatch(EventScanComplete, "t", "default body", map[string]any{
		"item": map[string]any{"title": "Firefly"},
	})

	assert.Equal(t, "custom for Firefly", got["message"])
}

func TestDispatchSurvivesDeliveryFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := NewDispatcher(&fakeChannels{channels: []*models.NotificationChannel{
		genericChannel(srv.URL),
		genericChannel(srv.URL),
	}}, NewSender())

	// Must not panic or propagate.
	d.Dispatch(EventJobFailed, "t", "m", nil)
}

func TestSenderRejectsUnknownChannelType(t *testing.T) {
	err := NewSender().Send(&models.NotificationChannel{ChannelType: "carrier-pigeon"}, "t", "m")
	assert.Error(t, err)
}
