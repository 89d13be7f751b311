// Package notify posts run summaries to webhooks when a backup finishes.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"mysql-replica-backup/internal/backup"
	"mysql-replica-backup/internal/config"
	"mysql-replica-backup/internal/logging"
)

// Message is the JSON body sent to generic webhooks
type Message struct {
	RunID      string           `json:"run_id"`
	Server     string           `json:"server"`
	Success    bool             `json:"success"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Databases  int              `json:"databases"`
	Succeeded  int              `json:"succeeded"`
	TotalBytes int64            `json:"total_bytes"`
	Failures   []backup.Failure `json:"failures,omitempty"`
	Text       string           `json:"text"`
}

// Channel delivers a message to one destination
type Channel interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}

// Notifier sends run summaries through the configured channels
type Notifier struct {
	on       string
	channels []Channel
	logger   *logging.Logger
}

// New creates a notifier from configuration. Channels without a URL are skipped.
func New(cfg config.NotifyConfig, logger *logging.Logger) *Notifier {
	if logger == nil {
		logger = logging.NewNullLogger()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := &http.Client{Timeout: timeout}

	n := &Notifier{on: cfg.On, logger: logger}
	if cfg.WebhookURL != "" {
		n.channels = append(n.channels, &WebhookChannel{URL: cfg.WebhookURL, Client: client})
	}
	if cfg.SlackURL != "" {
		n.channels = append(n.channels, &SlackChannel{URL: cfg.SlackURL, Client: client})
	}
	return n
}

// NewWithChannels creates a notifier with explicit channels
func NewWithChannels(on string, logger *logging.Logger, channels ...Channel) *Notifier {
	if logger == nil {
		logger = logging.NewNullLogger()
	}
	return &Notifier{on: on, channels: channels, logger: logger}
}

// ShouldNotify reports whether a run with the given outcome triggers a notification
func (n *Notifier) ShouldNotify(success bool) bool {
	switch n.on {
	case config.NotifyAlways:
		return true
	case config.NotifyNever:
		return false
	default:
		return !success
	}
}

// Notify sends the summary of result. Delivery errors are logged as warnings
// and returned as a count of failed channels.
func (n *Notifier) Notify(ctx context.Context, result *backup.RunResult) int {
	if result == nil || len(n.channels) == 0 || !n.ShouldNotify(result.Success) {
		return 0
	}

	msg := NewMessage(result)
	failed := 0
	for _, ch := range n.channels {
		if err := ch.Send(ctx, msg); err != nil {
			failed++
			n.logger.WithFields(map[string]interface{}{
				"channel": ch.Name(),
				"run_id":  result.ID,
				"error":   err.Error(),
			}).Warn("Failed to send notification")
			continue
		}
		n.logger.WithFields(map[string]interface{}{
			"channel": ch.Name(),
			"run_id":  result.ID,
		}).Info("Notification sent")
	}
	return failed
}

// NewMessage builds the notification body for result
func NewMessage(result *backup.RunResult) Message {
	return Message{
		RunID:      result.ID,
		Server:     result.Server,
		Success:    result.Success,
		StartedAt:  result.StartedAt,
		FinishedAt: result.FinishedAt,
		Databases:  len(result.Outcomes),
		Succeeded:  result.Succeeded(),
		TotalBytes: result.TotalSize(),
		Failures:   result.Failures,
		Text:       summaryText(result),
	}
}

func summaryText(result *backup.RunResult) string {
	var b strings.Builder
	if result.Success {
		fmt.Fprintf(&b, "Backup of %s succeeded: %d database(s), %s in %s",
			result.Server, result.Succeeded(), humanize.Bytes(uint64(result.TotalSize())),
			result.Duration().Round(time.Second))
		return b.String()
	}

	fmt.Fprintf(&b, "Backup of %s completed with %d failure(s):", result.Server, len(result.Failures))
	for _, f := range result.Failures {
		fmt.Fprintf(&b, "\n• %s: %s", f.Database, f.Error)
	}
	return b.String()
}

// WebhookChannel posts the JSON message to a URL
type WebhookChannel struct {
	URL    string
	Client *http.Client
}

func (wc *WebhookChannel) Name() string { return "webhook" }

func (wc *WebhookChannel) Send(ctx context.Context, msg Message) error {
	return postJSON(ctx, wc.Client, wc.URL, msg)
}

// SlackChannel posts to a Slack incoming webhook
type SlackChannel struct {
	URL    string
	Client *http.Client
}

func (sc *SlackChannel) Name() string { return "slack" }

func (sc *SlackChannel) Send(ctx context.Context, msg Message) error {
	icon := ":white_check_mark:"
	if !msg.Success {
		icon = ":rotating_light:"
	}
	return postJSON(ctx, sc.Client, sc.URL, map[string]string{
		"text": icon + " " + msg.Text,
	})
}

func postJSON(ctx context.Context, client *http.Client, url string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal notification payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("notification endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
