package jobs

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"licenseops/internal/analytics"
	"licenseops/internal/metrics"
	"licenseops/internal/models"
	"licenseops/internal/repositories"
	"licenseops/internal/services"

	"github.com/jonboulle/clockwork"
)

type EventLogger interface {
	LogEvent(ctx context.Context, event models.SystemEvent)
}

type Mailer interface {
	SendLicenseExpiry(ctx context.Context, d services.LicenseExpiryData) error
	SendRenewalReminder(ctx context.Context, d services.RenewalReminderData) error
	SendWeeklyUsageReport(ctx context.Context, d services.WeeklyUsageReportData) error
	SendInvoice(ctx context.Context, d services.InvoiceEmailData) error
	SendQuarterlyReport(ctx context.Context, d services.QuarterlyReportData) error
	SendAnnualReview(ctx context.Context, d services.AnnualReviewData) error
	SendComplianceViolation(ctx context.Context, d services.ComplianceViolationData) error
}

type Notifier interface {
	Create(ctx context.Context, msg models.Notification) services.DeliveryReport
	CreateSystemNotification(ctx context.Context, msg models.Notification) services.DeliveryReport
}

type UsageAnalytics interface {
	AggregateDailyUsage(ctx context.Context, tenantID, licenseID string, date time.Time) (models.UsageSnapshot, error)
	CurrentUsage(ctx context.Context, tenantID string) (models.UsageMetrics, error)
	CheckUsageLimits(ctx context.Context, tenantID, licenseID string) ([]analytics.LimitBreach, error)
	GenerateWeeklyReport(ctx context.Context, tenantID string) (*models.WeeklyReport, error)
}

// Settings are the tunables of the license jobs.
type Settings struct {
	GracePeriodDays         int
	AnomalySessionThreshold int
	LowUtilizationThreshold float64
	HighUtilizationShare    float64
	InvoiceDueDays          int
	ReportRecipients        []string
	AppBaseURL              string
}

func DefaultSettings() Settings {
	return Settings{
		GracePeriodDays:         7,
		AnomalySessionThreshold: 1000,
		LowUtilizationThreshold: 0.3,
		HighUtilizationShare:    0.7,
		InvoiceDueDays:          15,
	}
}

// Dependencies are constructed once in main and shared by every handler.
// Archive may be nil.
type Dependencies struct {
	Licenses  repositories.LicenseRepository
	Usage     repositories.UsageRepository
	Billing   repositories.BillingRepository
	Reports   repositories.ReportRepository
	Events    EventLogger
	Analytics UsageAnalytics
	Mailer    Mailer
	Notifier  Notifier
	Archive   services.ReportArchive
	Clock     clockwork.Clock
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	Settings  Settings
}

// LicenseJobs holds the handlers of the license lifecycle jobs.
type LicenseJobs struct {
	Dependencies
	batch *BatchRunner
}

func NewLicenseJobs(deps Dependencies) *LicenseJobs {
	return &LicenseJobs{
		Dependencies: deps,
		batch:        NewBatchRunner(deps.Events, deps.Metrics, deps.Logger),
	}
}

func (j *LicenseJobs) url(path string) string {
	return strings.TrimRight(j.Settings.AppBaseURL, "/") + path
}

// archive stores v as JSON when an archive is configured. Failures are logged only.
func (j *LicenseJobs) archive(ctx context.Context, object string, v any) {
	if j.Archive == nil {
		return
	}
	if err := j.Archive.ArchiveJSON(ctx, object, v); err != nil {
		j.Logger.Warn("archive failed", "object", object, "error", err)
	}
}

func (j *LicenseJobs) archiveBytes(ctx context.Context, object string, data []byte, contentType string) {
	if j.Archive == nil {
		return
	}
	if err := j.Archive.ArchiveBytes(ctx, object, data, contentType); err != nil {
		j.Logger.Warn("archive failed", "object", object, "error", err)
	}
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func refItem(r models.TenantLicenseRef) Item {
	return Item{TenantID: r.TenantID, LicenseID: r.LicenseID}
}
