package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"licenseops/internal/metrics"
	"licenseops/internal/models"

	"github.com/jonboulle/clockwork"
)

const (
	ChannelInApp   = "in_app"
	ChannelWebhook = "webhook"
	ChannelSlack   = "slack"
)

const criticalPrefix = "🚨 CRITICAL: "

var slackColors = map[models.Urgency]string{
	models.UrgencyLow:      "#36A64F",
	models.UrgencyMedium:   "#FF9500",
	models.UrgencyHigh:     "#FF6B35",
	models.UrgencyCritical: "#FF0000",
}

// InAppStore persists in-app notification records.
type InAppStore interface {
	CreateInApp(ctx context.Context, n models.Notification) (string, error)
}

type NotifierConfig struct {
	InApp           bool
	WebhookURL      string
	SlackWebhookURL string
}

// ChannelResult is the outcome of one channel attempt.
type ChannelResult struct {
	Channel   string `json:"channel"`
	Delivered bool   `json:"delivered"`
	Error     string `json:"error,omitempty"`
}

type DeliveryReport struct {
	NotificationID string          `json:"notification_id,omitempty"`
	Results        []ChannelResult `json:"results"`
}

func (r DeliveryReport) Failed() []ChannelResult {
	var failed []ChannelResult
	for _, res := range r.Results {
		if !res.Delivered {
			failed = append(failed, res)
		}
	}
	return failed
}

// Notifier fans a notification out to every configured channel. A channel
// failure is recorded in the report and never returned to the caller.
type Notifier struct {
	cfg        NotifierConfig
	store      InAppStore
	httpClient *http.Client
	clock      clockwork.Clock
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func NewNotifier(cfg NotifierConfig, store InAppStore, httpClient *http.Client, clock clockwork.Clock, m *metrics.Metrics, logger *slog.Logger) *Notifier {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Notifier{
		cfg:        cfg,
		store:      store,
		httpClient: httpClient,
		clock:      clock,
		metrics:    m,
		logger:     logger,
	}
}

func (n *Notifier) Create(ctx context.Context, msg models.Notification) DeliveryReport {
	var report DeliveryReport

	if n.cfg.InApp && n.store != nil {
		id, err := n.store.CreateInApp(ctx, msg)
		report.NotificationID = id
		report.Results = append(report.Results, n.result(ChannelInApp, msg, err))
	}
	if n.cfg.WebhookURL != "" {
		err := n.sendWebhook(ctx, msg)
		report.Results = append(report.Results, n.result(ChannelWebhook, msg, err))
	}
	if n.cfg.SlackWebhookURL != "" {
		err := n.sendSlack(ctx, msg)
		report.Results = append(report.Results, n.result(ChannelSlack, msg, err))
	}
	return report
}

// CreateSystemNotification sends a system-scoped notification and, for critical
// urgency, always escalates to Slack when a Slack URL is known.
func (n *Notifier) CreateSystemNotification(ctx context.Context, msg models.Notification) DeliveryReport {
	msg.TenantID = ""
	if msg.Category == "" {
		msg.Category = "system"
	}
	report := n.Create(ctx, msg)

	if msg.Urgency == models.UrgencyCritical && n.cfg.SlackWebhookURL != "" {
		escalated := msg
		escalated.Title = criticalPrefix + msg.Title
		err := n.sendSlack(ctx, escalated)
		report.Results = append(report.Results, n.result(ChannelSlack, escalated, err))
	}
	return report
}

func (n *Notifier) result(channel string, msg models.Notification, err error) ChannelResult {
	if err != nil {
		n.metrics.NotificationsTotal.WithLabelValues(channel, "failed").Inc()
		n.logger.Error("notification channel failed",
			"channel", channel, "type", msg.Type, "tenant_id", msg.TenantID, "error", err)
		return ChannelResult{Channel: channel, Error: err.Error()}
	}
	n.metrics.NotificationsTotal.WithLabelValues(channel, "delivered").Inc()
	return ChannelResult{Channel: channel, Delivered: true}
}

type webhookPayload struct {
	Type      string              `json:"type"`
	Data      models.Notification `json:"data"`
	Timestamp string              `json:"timestamp"`
}

func (n *Notifier) sendWebhook(ctx context.Context, msg models.Notification) error {
	return n.post(ctx, n.cfg.WebhookURL, webhookPayload{
		Type:      "notification",
		Data:      msg,
		Timestamp: n.clock.Now().UTC().Format(time.RFC3339),
	})
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Fields []slackField `json:"fields"`
	Ts     int64        `json:"ts"`
}

type slackPayload struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments"`
}

func (n *Notifier) sendSlack(ctx context.Context, msg models.Notification) error {
	color, ok := slackColors[msg.Urgency]
	if !ok {
		color = slackColors[models.UrgencyMedium]
	}
	tenant := msg.TenantID
	if tenant == "" {
		tenant = "system"
	}
	return n.post(ctx, n.cfg.SlackWebhookURL, slackPayload{
		Text: msg.Title,
		Attachments: []slackAttachment{{
			Color: color,
			Fields: []slackField{
				{Title: "Message", Value: msg.Message, Short: false},
				{Title: "Urgency", Value: string(msg.Urgency), Short: true},
				{Title: "Tenant", Value: tenant, Short: true},
			},
			Ts: n.clock.Now().Unix(),
		}},
	})
}

func (n *Notifier) post(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("returned non-success status: %d", resp.StatusCode)
	}
	return nil
}
