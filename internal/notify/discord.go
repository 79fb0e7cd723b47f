package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"canslim-monitor/internal/config"
	"canslim-monitor/pkg/utils"
)

// Discord messages are hard-capped at 2000 characters.
const discordMessageLimit = 2000

// DiscordNotifier sends notifications to a Discord channel via webhook.
type DiscordNotifier struct {
	webhookURL string
	enabled    bool
	httpClient *http.Client
	retryCfg   utils.RetryConfig
}

// NewDiscordNotifier creates a new Discord notifier.
func NewDiscordNotifier(cfg config.DiscordConfig) *DiscordNotifier {
	return &DiscordNotifier{
		webhookURL: cfg.WebhookURL,
		enabled:    cfg.Enabled && cfg.WebhookURL != "",
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		retryCfg: utils.DefaultRetryConfig(),
	}
}

// Name returns the channel name.
func (d *DiscordNotifier) Name() string {
	return "discord"
}

// IsEnabled returns whether the channel is enabled.
func (d *DiscordNotifier) IsEnabled() bool {
	return d.enabled
}

// Send sends a notification to the Discord webhook.
func (d *DiscordNotifier) Send(ctx context.Context, n Notification) error {
	message := n.Message
	if len(message) > discordMessageLimit {
		message = message[:discordMessageLimit-3] + "..."
	}

	payload := map[string]string{
		"content": message,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling discord payload: %w", err)
	}

	return utils.Retry(ctx, d.retryCfg, func() error {
		return d.post(ctx, body)
	})
}

func (d *DiscordNotifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending discord notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("discord webhook returned status %d", resp.StatusCode)
	}
	return nil
}
