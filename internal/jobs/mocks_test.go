package jobs

import (
	"context"
	"io"
	"log/slog"
	"time"

	"licenseops/internal/analytics"
	"licenseops/internal/models"
	"licenseops/internal/services"

	"github.com/stretchr/testify/mock"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type MockLicenseRepository struct {
	mock.Mock
}

func (m *MockLicenseRepository) ExpiringLicenses(ctx context.Context, now time.Time, afterDays, withinDays int) ([]models.ExpiringLicense, error) {
	args := m.Called(ctx, now, afterDays, withinDays)
	return args.Get(0).([]models.ExpiringLicense), args.Error(1)
}

func (m *MockLicenseRepository) RecordExpiryNotice(ctx context.Context, license models.ExpiringLicense, windowDays int) error {
	args := m.Called(ctx, license, windowDays)
	return args.Error(0)
}

func (m *MockLicenseRepository) ActiveAssignments(ctx context.Context, now time.Time) ([]models.TenantLicenseRef, error) {
	args := m.Called(ctx, now)
	return args.Get(0).([]models.TenantLicenseRef), args.Error(1)
}

func (m *MockLicenseRepository) ActiveTenants(ctx context.Context, now time.Time) ([]models.Tenant, error) {
	args := m.Called(ctx, now)
	return args.Get(0).([]models.Tenant), args.Error(1)
}

func (m *MockLicenseRepository) RenewalCandidates(ctx context.Context, now time.Time, horizonDays int) ([]models.RenewalCandidate, error) {
	args := m.Called(ctx, now, horizonDays)
	return args.Get(0).([]models.RenewalCandidate), args.Error(1)
}

func (m *MockLicenseRepository) UpsertRenewalOpportunity(ctx context.Context, opp *models.RenewalOpportunity) (string, error) {
	args := m.Called(ctx, opp)
	return args.String(0), args.Error(1)
}

func (m *MockLicenseRepository) MarkRenewalReminded(ctx context.Context, opportunityID string, thresholdDays int) error {
	args := m.Called(ctx, opportunityID, thresholdDays)
	return args.Error(0)
}

func (m *MockLicenseRepository) ComplianceTargets(ctx context.Context, now time.Time) ([]models.ComplianceTarget, error) {
	args := m.Called(ctx, now)
	return args.Get(0).([]models.ComplianceTarget), args.Error(1)
}

func (m *MockLicenseRepository) RecordViolation(ctx context.Context, v models.ComplianceViolation) (bool, error) {
	args := m.Called(ctx, v)
	return args.Bool(0), args.Error(1)
}

func (m *MockLicenseRepository) UnnotifiedViolations(ctx context.Context, tenantID, licenseID string) ([]models.ComplianceViolation, error) {
	args := m.Called(ctx, tenantID, licenseID)
	return args.Get(0).([]models.ComplianceViolation), args.Error(1)
}

func (m *MockLicenseRepository) MarkViolationsNotified(ctx context.Context, ids []string, at time.Time) error {
	args := m.Called(ctx, ids, at)
	return args.Error(0)
}

func (m *MockLicenseRepository) SyncStatuses(ctx context.Context, now time.Time, graceDays int) ([]models.StatusTransition, error) {
	args := m.Called(ctx, now, graceDays)
	return args.Get(0).([]models.StatusTransition), args.Error(1)
}

func (m *MockLicenseRepository) LicenseUtilization(ctx context.Context, since time.Time) ([]models.LicenseUtilization, error) {
	args := m.Called(ctx, since)
	return args.Get(0).([]models.LicenseUtilization), args.Error(1)
}

func (m *MockLicenseRepository) ConcurrencyAnomalies(ctx context.Context, since time.Time, threshold int) ([]models.ConcurrencyAnomaly, error) {
	args := m.Called(ctx, since, threshold)
	return args.Get(0).([]models.ConcurrencyAnomaly), args.Error(1)
}

type MockUsageRepository struct {
	mock.Mock
}

func (m *MockUsageRepository) CountActiveUsers(ctx context.Context, tenantID string, from, to time.Time) (int64, error) {
	args := m.Called(ctx, tenantID, from, to)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockUsageRepository) CountAssessments(ctx context.Context, tenantID string, from, to time.Time) (int64, error) {
	args := m.Called(ctx, tenantID, from, to)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockUsageRepository) CountReports(ctx context.Context, tenantID string, from, to time.Time) (int64, error) {
	args := m.Called(ctx, tenantID, from, to)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockUsageRepository) StorageUsedMb(ctx context.Context, tenantID string, upTo time.Time) (float64, error) {
	args := m.Called(ctx, tenantID, upTo)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockUsageRepository) CountAPICalls(ctx context.Context, tenantID string, from, to time.Time) (int64, error) {
	args := m.Called(ctx, tenantID, from, to)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockUsageRepository) FeaturesUsed(ctx context.Context, tenantID string, from, to time.Time) ([]string, error) {
	args := m.Called(ctx, tenantID, from, to)
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockUsageRepository) UpsertSnapshot(ctx context.Context, snapshot models.UsageSnapshot) error {
	args := m.Called(ctx, snapshot)
	return args.Error(0)
}

func (m *MockUsageRepository) ActiveLimits(ctx context.Context, tenantID, licenseID string) (*models.LicenseLimits, error) {
	args := m.Called(ctx, tenantID, licenseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.LicenseLimits), args.Error(1)
}

func (m *MockUsageRepository) WindowMetrics(ctx context.Context, tenantID string, from, to time.Time) (models.UsageMetrics, error) {
	args := m.Called(ctx, tenantID, from, to)
	return args.Get(0).(models.UsageMetrics), args.Error(1)
}

type MockBillingRepository struct {
	mock.Mock
}

func (m *MockBillingRepository) BillableLicenses(ctx context.Context, now time.Time) ([]models.BillableLicense, error) {
	args := m.Called(ctx, now)
	return args.Get(0).([]models.BillableLicense), args.Error(1)
}

func (m *MockBillingRepository) IssueInvoice(ctx context.Context, license models.BillableLicense, invoice *models.Invoice) error {
	args := m.Called(ctx, license, invoice)
	return args.Error(0)
}

func (m *MockBillingRepository) UnsentInvoices(ctx context.Context, since time.Time) ([]models.PendingInvoice, error) {
	args := m.Called(ctx, since)
	return args.Get(0).([]models.PendingInvoice), args.Error(1)
}

func (m *MockBillingRepository) MarkInvoiceEmailed(ctx context.Context, invoiceID string, at time.Time) error {
	args := m.Called(ctx, invoiceID, at)
	return args.Error(0)
}

type MockReportRepository struct {
	mock.Mock
}

func (m *MockReportRepository) QuarterlyMetrics(ctx context.Context, from, to time.Time) (models.QuarterlyMetrics, error) {
	args := m.Called(ctx, from, to)
	return args.Get(0).(models.QuarterlyMetrics), args.Error(1)
}

func (m *MockReportRepository) AnnualReviewCandidates(ctx context.Context, since time.Time) ([]models.AnnualReviewCandidate, error) {
	args := m.Called(ctx, since)
	return args.Get(0).([]models.AnnualReviewCandidate), args.Error(1)
}

func (m *MockReportRepository) ScheduleAnnualReview(ctx context.Context, c models.AnnualReviewCandidate, year int) (bool, error) {
	args := m.Called(ctx, c, year)
	return args.Bool(0), args.Error(1)
}

func (m *MockReportRepository) MarkAnnualReviewNotified(ctx context.Context, tenantID string, year int, at time.Time) error {
	args := m.Called(ctx, tenantID, year, at)
	return args.Error(0)
}

type MockEventLogger struct {
	mock.Mock
}

func (m *MockEventLogger) LogEvent(ctx context.Context, event models.SystemEvent) {
	m.Called(ctx, event)
}

type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) SendLicenseExpiry(ctx context.Context, d services.LicenseExpiryData) error {
	return m.Called(ctx, d).Error(0)
}

func (m *MockMailer) SendRenewalReminder(ctx context.Context, d services.RenewalReminderData) error {
	return m.Called(ctx, d).Error(0)
}

func (m *MockMailer) SendWeeklyUsageReport(ctx context.Context, d services.WeeklyUsageReportData) error {
	return m.Called(ctx, d).Error(0)
}

func (m *MockMailer) SendInvoice(ctx context.Context, d services.InvoiceEmailData) error {
	return m.Called(ctx, d).Error(0)
}

func (m *MockMailer) SendQuarterlyReport(ctx context.Context, d services.QuarterlyReportData) error {
	return m.Called(ctx, d).Error(0)
}

func (m *MockMailer) SendAnnualReview(ctx context.Context, d services.AnnualReviewData) error {
	return m.Called(ctx, d).Error(0)
}

func (m *MockMailer) SendComplianceViolation(ctx context.Context, d services.ComplianceViolationData) error {
	return m.Called(ctx, d).Error(0)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Create(ctx context.Context, msg models.Notification) services.DeliveryReport {
	m.Called(ctx, msg)
	return services.DeliveryReport{}
}

func (m *MockNotifier) CreateSystemNotification(ctx context.Context, msg models.Notification) services.DeliveryReport {
	m.Called(ctx, msg)
	return services.DeliveryReport{}
}

type MockUsageAnalytics struct {
	mock.Mock
}

func (m *MockUsageAnalytics) AggregateDailyUsage(ctx context.Context, tenantID, licenseID string, date time.Time) (models.UsageSnapshot, error) {
	args := m.Called(ctx, tenantID, licenseID, date)
	return args.Get(0).(models.UsageSnapshot), args.Error(1)
}

func (m *MockUsageAnalytics) CurrentUsage(ctx context.Context, tenantID string) (models.UsageMetrics, error) {
	args := m.Called(ctx, tenantID)
	return args.Get(0).(models.UsageMetrics), args.Error(1)
}

func (m *MockUsageAnalytics) CheckUsageLimits(ctx context.Context, tenantID, licenseID string) ([]analytics.LimitBreach, error) {
	args := m.Called(ctx, tenantID, licenseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]analytics.LimitBreach), args.Error(1)
}

func (m *MockUsageAnalytics) GenerateWeeklyReport(ctx context.Context, tenantID string) (*models.WeeklyReport, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.WeeklyReport), args.Error(1)
}

type MockReportArchive struct {
	mock.Mock
}

func (m *MockReportArchive) ArchiveJSON(ctx context.Context, objectName string, v any) error {
	return m.Called(ctx, objectName, v).Error(0)
}

func (m *MockReportArchive) ArchiveBytes(ctx context.Context, objectName string, data []byte, contentType string) error {
	return m.Called(ctx, objectName, data, contentType).Error(0)
}

func (m *MockReportArchive) PresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	args := m.Called(ctx, objectName, expiry)
	return args.String(0), args.Error(1)
}

func (m *MockReportArchive) EnsureBucketExists(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}
