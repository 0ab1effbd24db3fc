// Package notifications delivers event alerts to configured outbound
// channels: chat webhooks, push services and SMTP.
package notifications

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/fetcharr/fetcharr/internal/logging"
	"github.com/fetcharr/fetcharr/internal/models"
)

// Sender posts a rendered message to one notification channel.
type Sender struct {
	client *http.Client
	log    zerolog.Logger
}

func NewSender() *Sender {
	return &Sender{
		client: &http.Client{Timeout: 10 * time.Second},
		log:    logging.WithComponent("notifications"),
	}
}

// Send dispatches a message to the given channel.
func (s *Sender) Send(channel *models.NotificationChannel, title, message string) error {
	switch channel.ChannelType {
	case "discord":
		return s.sendDiscord(channel.WebhookURL, title, message)
	case "slack":
		return s.sendSlack(channel.WebhookURL, title, message)
	case "generic":
		return s.sendGeneric(channel.WebhookURL, title, message)
	case "telegram":
		return s.sendTelegram(channel, title, message)
	case "pushover":
		return s.sendPushover(channel, title, message)
	case "gotify":
		return s.sendGotify(channel, title, message)
	case "email":
		return s.sendEmail(channel, title, message)
	default:
		return fmt.Errorf("unknown channel type: %s", channel.ChannelType)
	}
}

// SendTest validates a channel's configuration end to end.
func (s *Sender) SendTest(channel *models.NotificationChannel) error {
	return s.Send(channel, "Fetcharr Test", "This is a test notification from Fetcharr. Your channel is working correctly!")
}

func (s *Sender) sendDiscord(url, title, message string) error {
	payload := map[string]any{
		"embeds": []map[string]any{
			{
				"title":       title,
				"description": message,
				"color":       3447003,
				"footer": map[string]string{
					"text": "Fetcharr",
				},
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			},
		},
	}
	return s.postJSON(url, payload)
}

func (s *Sender) sendSlack(url, title, message string) error {
	payload := map[string]any{
		"blocks": []map[string]any{
			{
				"type": "header",
				"text": map[string]string{
					"type": "plain_text",
					"text": title,
				},
			},
			{
				"type": "section",
				"text": map[string]string{
					"type": "mrkdwn",
					"text": message,
				},
			},
			{
				"type": "context",
				"elements": []map[string]string{
					{
						"type": "mrkdwn",
						"text": fmt.Sprintf("_Fetcharr · %s_", time.Now().Format("Jan 2, 3:04 PM")),
					},
				},
			},
		},
	}
	return s.postJSON(url, payload)
}

func (s *Sender) sendGeneric(url, title, message string) error {
	payload := map[string]any{
		"title":     title,
		"message":   message,
		"source":    "fetcharr",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	return s.postJSON(url, payload)
}

// ── Telegram ──

func (s *Sender) sendTelegram(channel *models.NotificationChannel, title, message string) error {
	config := channel.GetConfig()
	botToken := config["bot_token"]
	chatID := config["chat_id"]
	if botToken == "" || chatID == "" {
		return fmt.Errorf("telegram requires bot_token and chat_id in config")
	}
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", botToken)
	payload := map[string]any{
		"chat_id":    chatID,
		"text":       fmt.Sprintf("*%s*\n%s", title, message),
		"parse_mode": "Markdown",
	}
	return s.postJSON(url, payload)
}

// ── Pushover ──

func (s *Sender) sendPushover(channel *models.NotificationChannel, title, message string) error {
	config := channel.GetConfig()
	appToken := config["app_token"]
	userKey := config["user_key"]
	if appToken == "" || userKey == "" {
		return fmt.Errorf("pushover requires app_token and user_key in config")
	}
	payload := map[string]any{
		"token":   appToken,
		"user":    userKey,
		"title":   title,
		"message": message,
	}
	return s.postJSON("https://api.pushover.net/1/messages.json", payload)
}

// ── Gotify ──

func (s *Sender) sendGotify(channel *models.NotificationChannel, title, message string) error {
	config := channel.GetConfig()
	serverURL := config["server_url"]
	appToken := config["app_token"]
	if serverURL == "" || appToken == "" {
		return fmt.Errorf("gotify requires server_url and app_token in config")
	}
	serverURL = strings.TrimRight(serverURL, "/")
	url := fmt.Sprintf("%s/message", serverURL)

	payload := map[string]any{
		"title":   title,
		"message": message,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Gotify-Key", appToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("gotify post: %w", err)
	}
	defer resp.Body.Close()
	io.ReadAll(resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("gotify returned status %d", resp.StatusCode)
	}
	return nil
}

// ── Email (SMTP) ──

func (s *Sender) sendEmail(channel *models.NotificationChannel, title, message string) error {
	config := channel.GetConfig()
	host := config["smtp_host"]
	port := config["smtp_port"]
	user := config["smtp_user"]
	pass := config["smtp_password"]
	from := config["smtp_from"]
	to := config["smtp_to"]
	if host == "" || from == "" || to == "" {
		return fmt.Errorf("email requires smtp_host, smtp_from, smtp_to in config")
	}
	if port == "" {
		port = "587"
	}

	addr := fmt.Sprintf("%s:%s", host, port)
	subject := fmt.Sprintf("Subject: %s\r\n", title)
	mime := "MIME-version: 1.0;\r\nContent-Type: text/plain; charset=\"UTF-8\";\r\n\r\n"
	body := []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\n%s%s%s", from, to, subject, mime, message))

	var auth smtp.Auth
	if user != "" && pass != "" {
		auth = smtp.PlainAuth("", user, pass, host)
	}

	return smtp.SendMail(addr, auth, from, strings.Split(to, ","), body)
}

func (s *Sender) postJSON(url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	resp, err := s.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	io.ReadAll(resp.Body)

	if resp.StatusCode >= 400 {
		s.log.Warn().Str("url", url).Int("status", resp.StatusCode).Msg("webhook rejected")
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
