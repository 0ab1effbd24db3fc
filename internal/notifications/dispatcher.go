package notifications

import (
	"github.com/rs/zerolog"

	"github.com/fetcharr/fetcharr/internal/logging"
	"github.com/fetcharr/fetcharr/internal/models"
)

// Events the dispatcher knows. Channels subscribe per event.
const (
	EventPublishComplete = "publish_complete"
	EventJobFailed       = "job_failed"
	EventDriftDetected   = "drift_detected"
	EventScanComplete    = "scan_complete"
)

// Channels is implemented by repository.ChannelRepository.
type Channels interface {
	ListEnabledForEvent(event string) ([]*models.NotificationChannel, error)
}

// Dispatcher fans an event out to every enabled channel subscribed to it.
type Dispatcher struct {
	channels Channels
	sender   *Sender
	log      zerolog.Logger
}

func NewDispatcher(channels Channels, sender *Sender) *Dispatcher {
	return &Dispatcher{
		channels: channels,
		sender:   sender,
		log:      logging.WithComponent("notifications"),
	}
}

// Dispatch renders the title and message templates against payload and sends
// the result to every subscribed channel. A channel config may carry a
// "template" key overriding the message body. Delivery failures are logged,
// never propagated: alerting must not fail the work that triggered it.
func (d *Dispatcher) Dispatch(event, title, message string, payload map[string]any) {
	channels, err := d.channels.ListEnabledForEvent(event)
	if err != nil {
		d.log.Error().Err(err).Str("event", event).Msg("channel lookup failed")
		return
	}
	if len(channels) == 0 {
		return
	}

	renderedTitle := Render(title, payload)
	for _, ch := range channels {
		body := message
		if custom := ch.GetConfig()["template"]; custom != "" {
			body = custom
		}
		if err := d.sender.Send(ch, renderedTitle, Render(body, payload)); err != nil {
			d.log.Warn().Err(err).Str("event", event).Str("channel", ch.Name).Msg("notification delivery failed")
			continue
		}
		d.log.Debug().Str("event", event).Str("channel", ch.Name).Msg("notification sent")
	}
}
