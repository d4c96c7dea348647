package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"licenseops/internal/metrics"

	"github.com/wneessen/go-mail"
	"golang.org/x/time/rate"
)

var ErrNoRecipients = errors.New("email has no recipients")

// Attachment is a file attached to an outgoing email.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// OutgoingEmail is what a provider puts on the wire.
type OutgoingEmail struct {
	To          []string
	From        string
	ReplyTo     string
	Subject     string
	HTML        string
	Text        string
	Attachments []Attachment
}

// EmailProvider delivers rendered mail. Template content never depends on the
// provider in use.
type EmailProvider interface {
	Name() string
	Send(ctx context.Context, msg OutgoingEmail) error
	Verify(ctx context.Context) error
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	TLS      bool
}

type smtpProvider struct {
	client *mail.Client
}

func NewSMTPProvider(cfg SMTPConfig) (EmailProvider, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTimeout(30 * time.Second),
	}
	if cfg.TLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create smtp client: %w", err)
	}
	return &smtpProvider{client: client}, nil
}

func (p *smtpProvider) Name() string { return "smtp" }

func (p *smtpProvider) Send(ctx context.Context, out OutgoingEmail) error {
	msg := mail.NewMsg()
	if err := msg.From(out.From); err != nil {
		return fmt.Errorf("invalid from address: %w", err)
	}
	if err := msg.To(out.To...); err != nil {
		return fmt.Errorf("invalid recipient: %w", err)
	}
	if out.ReplyTo != "" {
		if err := msg.ReplyTo(out.ReplyTo); err != nil {
			return fmt.Errorf("invalid reply-to address: %w", err)
		}
	}
	msg.Subject(out.Subject)
	msg.SetBodyString(mail.TypeTextPlain, out.Text)
	msg.AddAlternativeString(mail.TypeTextHTML, out.HTML)
	for _, a := range out.Attachments {
		if err := msg.AttachReader(a.Filename, bytes.NewReader(a.Content),
			mail.WithFileContentType(mail.ContentType(a.ContentType))); err != nil {
			return fmt.Errorf("failed to attach %s: %w", a.Filename, err)
		}
	}

	if err := p.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send failed: %w", err)
	}
	return nil
}

func (p *smtpProvider) Verify(ctx context.Context) error {
	if err := p.client.DialWithContext(ctx); err != nil {
		return fmt.Errorf("smtp dial failed: %w", err)
	}
	return p.client.Close()
}

// APIConfig configures a transactional email service reached over HTTPS.
type APIConfig struct {
	URL    string
	APIKey string
}

type apiProvider struct {
	cfg        APIConfig
	httpClient *http.Client
}

func NewAPIProvider(cfg APIConfig, httpClient *http.Client) EmailProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &apiProvider{cfg: cfg, httpClient: httpClient}
}

func (p *apiProvider) Name() string { return "api" }

type apiAttachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Content     string `json:"content"`
}

type apiMessage struct {
	From        string          `json:"from"`
	To          []string        `json:"to"`
	ReplyTo     string          `json:"reply_to,omitempty"`
	Subject     string          `json:"subject"`
	HTML        string          `json:"html"`
	Text        string          `json:"text"`
	Attachments []apiAttachment `json:"attachments,omitempty"`
}

func (p *apiProvider) Send(ctx context.Context, out OutgoingEmail) error {
	body := apiMessage{
		From:    out.From,
		To:      out.To,
		ReplyTo: out.ReplyTo,
		Subject: out.Subject,
		HTML:    out.HTML,
		Text:    out.Text,
	}
	for _, a := range out.Attachments {
		body.Attachments = append(body.Attachments, apiAttachment{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Content:     base64.StdEncoding.EncodeToString(a.Content),
		})
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal email: %w", err)
	}
	return p.do(ctx, http.MethodPost, p.cfg.URL, bytes.NewReader(payload))
}

// Verify issues an authenticated HEAD against the send endpoint.
func (p *apiProvider) Verify(ctx context.Context) error {
	return p.do(ctx, http.MethodHead, p.cfg.URL, nil)
}

func (p *apiProvider) do(ctx context.Context, method, url string, body io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("failed to create email api request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("email api request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("email api returned status %d", resp.StatusCode)
	}
	return nil
}

type MailerConfig struct {
	From          string
	ReplyTo       string
	RatePerSecond float64
}

// Mailer renders typed payloads and hands them to the configured provider.
// Send errors are returned to the caller.
type Mailer struct {
	provider EmailProvider
	from     string
	replyTo  string
	limiter  *rate.Limiter
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewMailer(provider EmailProvider, cfg MailerConfig, m *metrics.Metrics, logger *slog.Logger) *Mailer {
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	return &Mailer{
		provider: provider,
		from:     cfg.From,
		replyTo:  cfg.ReplyTo,
		limiter:  rate.NewLimiter(limit, 1),
		metrics:  m,
		logger:   logger,
	}
}

func (m *Mailer) Send(ctx context.Context, to []string, email RenderedEmail, attachments ...Attachment) error {
	if len(to) == 0 {
		return ErrNoRecipients
	}
	if err := m.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("email rate limiter: %w", err)
	}

	err := m.provider.Send(ctx, OutgoingEmail{
		To:          to,
		From:        m.from,
		ReplyTo:     m.replyTo,
		Subject:     email.Subject,
		HTML:        email.HTML,
		Text:        email.Text,
		Attachments: attachments,
	})
	if err != nil {
		m.metrics.EmailsTotal.WithLabelValues(m.provider.Name(), "failed").Inc()
		m.logger.Error("email send failed", "provider", m.provider.Name(), "subject", email.Subject, "error", err)
		return err
	}
	m.metrics.EmailsTotal.WithLabelValues(m.provider.Name(), "sent").Inc()
	m.logger.Info("email sent", "provider", m.provider.Name(), "subject", email.Subject, "recipients", len(to))
	return nil
}

func (m *Mailer) TestConnection(ctx context.Context) error {
	if err := m.provider.Verify(ctx); err != nil {
		return fmt.Errorf("%s provider connectivity check failed: %w", m.provider.Name(), err)
	}
	return nil
}

func (m *Mailer) SendLicenseExpiry(ctx context.Context, d LicenseExpiryData) error {
	email, err := RenderLicenseExpiry(d)
	if err != nil {
		return err
	}
	return m.Send(ctx, []string{d.TenantEmail}, email)
}

func (m *Mailer) SendRenewalReminder(ctx context.Context, d RenewalReminderData) error {
	email, err := RenderRenewalReminder(d)
	if err != nil {
		return err
	}
	return m.Send(ctx, []string{d.TenantEmail}, email)
}

func (m *Mailer) SendWeeklyUsageReport(ctx context.Context, d WeeklyUsageReportData) error {
	email, err := RenderWeeklyUsageReport(d)
	if err != nil {
		return err
	}
	return m.Send(ctx, []string{d.TenantEmail}, email)
}

func (m *Mailer) SendInvoice(ctx context.Context, d InvoiceEmailData) error {
	email, err := RenderInvoice(d)
	if err != nil {
		return err
	}
	var attachments []Attachment
	if len(d.PDF) > 0 {
		attachments = append(attachments, Attachment{
			Filename:    d.InvoiceNumber + ".pdf",
			ContentType: "application/pdf",
			Content:     d.PDF,
		})
	}
	return m.Send(ctx, []string{d.TenantEmail}, email, attachments...)
}

func (m *Mailer) SendQuarterlyReport(ctx context.Context, d QuarterlyReportData) error {
	email, err := RenderQuarterlyReport(d)
	if err != nil {
		return err
	}
	return m.Send(ctx, d.Recipients, email)
}

func (m *Mailer) SendAnnualReview(ctx context.Context, d AnnualReviewData) error {
	email, err := RenderAnnualReview(d)
	if err != nil {
		return err
	}
	return m.Send(ctx, []string{d.TenantEmail}, email)
}

func (m *Mailer) SendComplianceViolation(ctx context.Context, d ComplianceViolationData) error {
	email, err := RenderComplianceViolation(d)
	if err != nil {
		return err
	}
	return m.Send(ctx, []string{d.TenantEmail}, email)
}

func (m *Mailer) SendJobFailureAlert(ctx context.Context, d JobFailureAlertData) error {
	email, err := RenderJobFailureAlert(d)
	if err != nil {
		return err
	}
	return m.Send(ctx, d.Recipients, email)
}
