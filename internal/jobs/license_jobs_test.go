package jobs

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"licenseops/internal/analytics"
	"licenseops/internal/metrics"
	"licenseops/internal/models"
	"licenseops/internal/repositories"
	"licenseops/internal/services"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type LicenseJobsTestSuite struct {
	suite.Suite
	licenses  *MockLicenseRepository
	usage     *MockUsageRepository
	billing   *MockBillingRepository
	reports   *MockReportRepository
	events    *MockEventLogger
	analytics *MockUsageAnalytics
	mailer    *MockMailer
	notifier  *MockNotifier
	now       time.Time
	jobs      *LicenseJobs
	ctx       context.Context
}

func (suite *LicenseJobsTestSuite) SetupTest() {
	suite.licenses = &MockLicenseRepository{}
	suite.usage = &MockUsageRepository{}
	suite.billing = &MockBillingRepository{}
	suite.reports = &MockReportRepository{}
	suite.events = &MockEventLogger{}
	suite.analytics = &MockUsageAnalytics{}
	suite.mailer = &MockMailer{}
	suite.notifier = &MockNotifier{}
	// Monday
	suite.now = time.Date(2026, 5, 18, 9, 0, 0, 0, time.UTC)
	suite.ctx = context.Background()

	settings := DefaultSettings()
	settings.AppBaseURL = "https://app.test/"
	settings.ReportRecipients = []string{"finance@vendor.test"}

	suite.jobs = NewLicenseJobs(Dependencies{
		Licenses:  suite.licenses,
		Usage:     suite.usage,
		Billing:   suite.billing,
		Reports:   suite.reports,
		Events:    suite.events,
		Analytics: suite.analytics,
		Mailer:    suite.mailer,
		Notifier:  suite.notifier,
		Clock:     clockwork.NewFakeClockAt(suite.now),
		Metrics:   metrics.Noop(),
		Logger:    discardLogger(),
		Settings:  settings,
	})
}

func (suite *LicenseJobsTestSuite) TearDownTest() {
	t := suite.T()
	suite.licenses.AssertExpectations(t)
	suite.usage.AssertExpectations(t)
	suite.billing.AssertExpectations(t)
	suite.reports.AssertExpectations(t)
	suite.events.AssertExpectations(t)
	suite.analytics.AssertExpectations(t)
	suite.mailer.AssertExpectations(t)
	suite.notifier.AssertExpectations(t)
}

func TestLicenseJobsTestSuite(t *testing.T) {
	suite.Run(t, new(LicenseJobsTestSuite))
}

func (suite *LicenseJobsTestSuite) expectExpiring(window ExpiryWindow, licenses ...models.ExpiringLicense) {
	if licenses == nil {
		licenses = []models.ExpiringLicense{}
	}
	suite.licenses.On("ExpiringLicenses", mock.Anything, suite.now, window.After, window.Days).Return(licenses, nil).Once()
}

func (suite *LicenseJobsTestSuite) TestLicenseExpiryCheck_SevenDaysOut() {
	license := models.ExpiringLicense{
		TenantID:    "tenant1",
		LicenseID:   "license1",
		LicenseName: "Enterprise",
		TenantName:  "Acme",
		TenantEmail: "ops@acme.test",
		ExpiresAt:   suite.now.AddDate(0, 0, 7),
	}
	suite.expectExpiring(ExpiryWindows[0])
	suite.expectExpiring(ExpiryWindows[1])
	suite.expectExpiring(ExpiryWindows[2], license)
	suite.expectExpiring(ExpiryWindows[3])

	suite.mailer.On("SendLicenseExpiry", mock.Anything, mock.MatchedBy(func(d services.LicenseExpiryData) bool {
		rendered, err := services.RenderLicenseExpiry(d)
		return err == nil &&
			strings.Contains(rendered.Subject, "7 days") &&
			d.Urgency == models.UrgencyUrgent &&
			d.TenantEmail == "ops@acme.test" &&
			d.RenewURL == "https://app.test/tenant/tenant1/licenses"
	})).Return(nil).Once()
	suite.notifier.On("Create", mock.Anything, mock.MatchedBy(func(n models.Notification) bool {
		return n.Urgency == models.UrgencyUrgent &&
			n.ActionURL == "/tenant/tenant1/licenses" &&
			n.TenantID == "tenant1" &&
			n.Title == "License Expiring in 7 days"
	})).Once()
	suite.licenses.On("RecordExpiryNotice", mock.Anything, license, 7).Return(nil).Once()
	suite.events.On("LogEvent", mock.Anything, mock.MatchedBy(func(e models.SystemEvent) bool {
		return e.Type == models.EventLicenseExpiryCheck && e.Details["daysRemaining"] == 7 && e.Details["urgencyLevel"] == "urgent"
	})).Once()

	suite.NoError(suite.jobs.LicenseExpiryCheck(suite.ctx))
}

func (suite *LicenseJobsTestSuite) TestLicenseExpiryCheck_IsolatesFailedEmail() {
	failing := models.ExpiringLicense{TenantID: "t1", LicenseID: "l1", TenantEmail: "bad@acme.test", ExpiresAt: suite.now.AddDate(0, 0, 20)}
	ok := models.ExpiringLicense{TenantID: "t2", LicenseID: "l2", TenantEmail: "ok@beta.test", ExpiresAt: suite.now.AddDate(0, 0, 25)}
	suite.expectExpiring(ExpiryWindows[0], failing, ok)
	suite.expectExpiring(ExpiryWindows[1])
	suite.expectExpiring(ExpiryWindows[2])
	suite.expectExpiring(ExpiryWindows[3])

	suite.mailer.On("SendLicenseExpiry", mock.Anything, mock.MatchedBy(func(d services.LicenseExpiryData) bool {
		return d.TenantEmail == "bad@acme.test"
	})).Return(errors.New("mailbox unavailable")).Once()
	suite.mailer.On("SendLicenseExpiry", mock.Anything, mock.MatchedBy(func(d services.LicenseExpiryData) bool {
		return d.TenantEmail == "ok@beta.test" && d.Urgency == models.UrgencyEarlyWarning && d.DaysRemaining == 30
	})).Return(nil).Once()
	suite.notifier.On("Create", mock.Anything, mock.MatchedBy(func(n models.Notification) bool { return n.TenantID == "t2" })).Once()
	suite.licenses.On("RecordExpiryNotice", mock.Anything, ok, 30).Return(nil).Once()
	suite.events.On("LogEvent", mock.Anything, mock.MatchedBy(func(e models.SystemEvent) bool {
		return e.Type == models.EventJobItemFailed && e.TenantID == "t1"
	})).Once()
	suite.events.On("LogEvent", mock.Anything, mock.MatchedBy(func(e models.SystemEvent) bool {
		return e.Type == models.EventLicenseExpiryCheck && e.TenantID == "t2"
	})).Once()

	suite.NoError(suite.jobs.LicenseExpiryCheck(suite.ctx))
}

func (suite *LicenseJobsTestSuite) TestLicenseExpiryCheck_QueryErrorPropagates() {
	suite.licenses.On("ExpiringLicenses", mock.Anything, suite.now, 14, 30).
		Return([]models.ExpiringLicense(nil), errors.New("connection refused")).Once()

	err := suite.jobs.LicenseExpiryCheck(suite.ctx)
	suite.ErrorContains(err, "connection refused")
}

func (suite *LicenseJobsTestSuite) TestUsageAggregation() {
	yesterday := time.Date(2026, 5, 17, 0, 0, 0, 0, time.UTC)
	refs := []models.TenantLicenseRef{{TenantID: "t1", LicenseID: "l1"}, {TenantID: "t2", LicenseID: "l2"}}
	suite.licenses.On("ActiveAssignments", mock.Anything, suite.now).Return(refs, nil).Once()

	for _, ref := range refs {
		snapshot := models.UsageSnapshot{TenantID: ref.TenantID, LicenseID: ref.LicenseID, UsageDate: yesterday}
		suite.analytics.On("AggregateDailyUsage", mock.Anything, ref.TenantID, ref.LicenseID, yesterday).Return(snapshot, nil).Once()
		suite.usage.On("UpsertSnapshot", mock.Anything, snapshot).Return(nil).Once()
		suite.analytics.On("CheckUsageLimits", mock.Anything, ref.TenantID, ref.LicenseID).Return([]analytics.LimitBreach(nil), nil).Once()
	}

	suite.NoError(suite.jobs.UsageAggregation(suite.ctx))
}

func intPtr(v int) *int { return &v }

func (suite *LicenseJobsTestSuite) TestRenewalReminders() {
	candidates := []models.RenewalCandidate{
		{TenantID: "tA", LicenseID: "lA", LicenseName: "Pro", TenantEmail: "a@test", PriceAnnual: 1200, DaysUntilExpiry: 20, ExpiresAt: suite.now.AddDate(0, 0, 20)},
		{TenantID: "tB", LicenseID: "lB", DaysUntilExpiry: 12, LastReminderDays: intPtr(14)},
		{TenantID: "tC", LicenseID: "lC", LicenseName: "Team", TenantEmail: "c@test", PriceAnnual: 600, DaysUntilExpiry: 6, LastReminderDays: intPtr(14), ExpiresAt: suite.now.AddDate(0, 0, 6)},
	}
	suite.licenses.On("RenewalCandidates", mock.Anything, suite.now, 30).Return(candidates, nil).Once()

	suite.licenses.On("UpsertRenewalOpportunity", mock.Anything, mock.MatchedBy(func(o *models.RenewalOpportunity) bool {
		return o.TenantID == "tA" && o.RenewalPrice == 1200 && o.DaysUntilExpiry == 20
	})).Return("opp-A", nil).Once()
	suite.mailer.On("SendRenewalReminder", mock.Anything, mock.MatchedBy(func(d services.RenewalReminderData) bool {
		return d.RenewalURL == "https://app.test/tenant/tA/upgrade?renewal=opp-A" && d.RenewalPrice == 1200
	})).Return(nil).Once()
	suite.licenses.On("MarkRenewalReminded", mock.Anything, "opp-A", 30).Return(nil).Once()

	suite.licenses.On("UpsertRenewalOpportunity", mock.Anything, mock.MatchedBy(func(o *models.RenewalOpportunity) bool {
		return o.TenantID == "tC"
	})).Return("opp-C", nil).Once()
	suite.mailer.On("SendRenewalReminder", mock.Anything, mock.MatchedBy(func(d services.RenewalReminderData) bool {
		return d.RenewalURL == "https://app.test/tenant/tC/upgrade?renewal=opp-C"
	})).Return(nil).Once()
	suite.licenses.On("MarkRenewalReminded", mock.Anything, "opp-C", 7).Return(nil).Once()

	suite.events.On("LogEvent", mock.Anything, mock.MatchedBy(func(e models.SystemEvent) bool {
		return e.Type == models.EventRenewalReminder
	})).Twice()

	suite.NoError(suite.jobs.RenewalReminders(suite.ctx))
}

func (suite *LicenseJobsTestSuite) TestRenewalReminders_SendFailureLeavesThresholdOpen() {
	candidates := []models.RenewalCandidate{
		{TenantID: "tA", LicenseID: "lA", TenantEmail: "a@test", DaysUntilExpiry: 10},
		{TenantID: "tB", LicenseID: "lB", TenantEmail: "b@test", DaysUntilExpiry: 10},
	}
	suite.licenses.On("RenewalCandidates", mock.Anything, suite.now, 30).Return(candidates, nil).Once()
	suite.licenses.On("UpsertRenewalOpportunity", mock.Anything, mock.Anything).Return("opp", nil).Twice()
	suite.mailer.On("SendRenewalReminder", mock.Anything, mock.Anything).Return(errors.New("smtp down")).Twice()
	suite.events.On("LogEvent", mock.Anything, mock.MatchedBy(func(e models.SystemEvent) bool {
		return e.Type == models.EventJobItemFailed
	})).Twice()

	err := suite.jobs.RenewalReminders(suite.ctx)
	suite.ErrorContains(err, "all 2 items failed")
	suite.licenses.AssertNotCalled(suite.T(), "MarkRenewalReminded", mock.Anything, mock.Anything, mock.Anything)
}

func (suite *LicenseJobsTestSuite) TestComplianceCheck_UserLimitExceeded() {
	target := models.ComplianceTarget{
		TenantID: "t1", LicenseID: "l1", LicenseName: "Starter", TenantName: "Acme", TenantEmail: "ops@acme.test",
		Limits: models.LicenseLimits{MaxUsers: 10, MaxStorageMb: 1024},
	}
	suite.licenses.On("ComplianceTargets", mock.Anything, suite.now).Return([]models.ComplianceTarget{target}, nil).Once()
	suite.analytics.On("CurrentUsage", mock.Anything, "t1").Return(models.UsageMetrics{UsersActive: 15, StorageUsedMb: 100}, nil).Once()
	suite.licenses.On("RecordViolation", mock.Anything, mock.MatchedBy(func(v models.ComplianceViolation) bool {
		return v.ViolationType == models.ViolationUserLimitExceeded && v.Current == 15 && v.Limit == 10
	})).Return(true, nil).Once()
	suite.notifier.On("Create", mock.Anything, mock.MatchedBy(func(n models.Notification) bool {
		return n.Urgency == models.UrgencyCritical &&
			n.ActionURL == "/tenant/t1/upgrade" &&
			n.Message == "You have exceeded your user limit (15/10)"
	})).Once()
	suite.licenses.On("UnnotifiedViolations", mock.Anything, "t1", "l1").Return([]models.ComplianceViolation{
		{ID: "v-1", TenantID: "t1", LicenseID: "l1", ViolationType: models.ViolationUserLimitExceeded, Current: 15, Limit: 10},
	}, nil).Once()
	suite.mailer.On("SendComplianceViolation", mock.Anything, mock.MatchedBy(func(d services.ComplianceViolationData) bool {
		return len(d.Violations) == 1 && d.UpgradeURL == "https://app.test/tenant/t1/upgrade"
	})).Return(nil).Once()
	suite.licenses.On("MarkViolationsNotified", mock.Anything, []string{"v-1"}, suite.now).Return(nil).Once()

	suite.NoError(suite.jobs.ComplianceCheck(suite.ctx))
}

func (suite *LicenseJobsTestSuite) TestComplianceCheck_OpenViolationNotRenotified() {
	target := models.ComplianceTarget{TenantID: "t1", LicenseID: "l1", TenantEmail: "ops@acme.test", Limits: models.LicenseLimits{MaxUsers: 10}}
	suite.licenses.On("ComplianceTargets", mock.Anything, suite.now).Return([]models.ComplianceTarget{target}, nil).Once()
	suite.analytics.On("CurrentUsage", mock.Anything, "t1").Return(models.UsageMetrics{UsersActive: 15}, nil).Once()
	suite.licenses.On("RecordViolation", mock.Anything, mock.Anything).Return(false, nil).Once()
	suite.licenses.On("UnnotifiedViolations", mock.Anything, "t1", "l1").Return([]models.ComplianceViolation{}, nil).Once()

	suite.NoError(suite.jobs.ComplianceCheck(suite.ctx))
}

func (suite *LicenseJobsTestSuite) TestComplianceCheck_FailedEmailIsResentNextRun() {
	target := models.ComplianceTarget{TenantID: "t1", LicenseID: "l1", TenantEmail: "ops@acme.test", Limits: models.LicenseLimits{MaxUsers: 10}}
	open := []models.ComplianceViolation{
		{ID: "v-1", TenantID: "t1", LicenseID: "l1", ViolationType: models.ViolationUserLimitExceeded, Current: 15, Limit: 10},
	}
	suite.licenses.On("ComplianceTargets", mock.Anything, suite.now).Return([]models.ComplianceTarget{target}, nil).Twice()
	suite.analytics.On("CurrentUsage", mock.Anything, "t1").Return(models.UsageMetrics{UsersActive: 15}, nil).Twice()
	suite.licenses.On("RecordViolation", mock.Anything, mock.Anything).Return(true, nil).Once()
	suite.notifier.On("Create", mock.Anything, mock.Anything).Once()
	suite.licenses.On("UnnotifiedViolations", mock.Anything, "t1", "l1").Return(open, nil).Twice()
	suite.mailer.On("SendComplianceViolation", mock.Anything, mock.Anything).Return(errors.New("smtp timeout")).Once()
	suite.events.On("LogEvent", mock.Anything, mock.MatchedBy(func(e models.SystemEvent) bool {
		return e.Type == models.EventJobItemFailed && e.TenantID == "t1"
	})).Once()

	suite.ErrorContains(suite.jobs.ComplianceCheck(suite.ctx), "smtp timeout")
	suite.licenses.AssertNotCalled(suite.T(), "MarkViolationsNotified", mock.Anything, mock.Anything, mock.Anything)

	// The violation row now exists, so only the email is retried.
	suite.licenses.On("RecordViolation", mock.Anything, mock.Anything).Return(false, nil).Once()
	suite.mailer.On("SendComplianceViolation", mock.Anything, mock.MatchedBy(func(d services.ComplianceViolationData) bool {
		return len(d.Violations) == 1 && d.Violations[0].ID == "v-1"
	})).Return(nil).Once()
	suite.licenses.On("MarkViolationsNotified", mock.Anything, []string{"v-1"}, suite.now).Return(nil).Once()

	suite.NoError(suite.jobs.ComplianceCheck(suite.ctx))
}

func (suite *LicenseJobsTestSuite) TestUsageReports_ContinuesPastFailedTenant() {
	archive := &MockReportArchive{}
	suite.jobs.Archive = archive

	tenants := []models.Tenant{{ID: "t1", Name: "Acme", Email: "a@test"}, {ID: "t2", Name: "Beta", Email: "b@test"}}
	suite.licenses.On("ActiveTenants", mock.Anything, suite.now).Return(tenants, nil).Once()
	for _, t := range tenants {
		report := &models.WeeklyReport{TenantID: t.ID, PeriodEnd: suite.now}
		suite.analytics.On("GenerateWeeklyReport", mock.Anything, t.ID).Return(report, nil).Once()
		archive.On("ArchiveJSON", mock.Anything, services.UsageReportObject(t.ID, suite.now), report).Return(nil).Once()
	}
	suite.mailer.On("SendWeeklyUsageReport", mock.Anything, mock.MatchedBy(func(d services.WeeklyUsageReportData) bool {
		return d.TenantEmail == "a@test"
	})).Return(errors.New("rejected")).Once()
	suite.mailer.On("SendWeeklyUsageReport", mock.Anything, mock.MatchedBy(func(d services.WeeklyUsageReportData) bool {
		return d.TenantEmail == "b@test"
	})).Return(nil).Once()
	suite.events.On("LogEvent", mock.Anything, mock.MatchedBy(func(e models.SystemEvent) bool {
		return e.Type == models.EventJobItemFailed && e.TenantID == "t1"
	})).Once()

	suite.NoError(suite.jobs.UsageReports(suite.ctx))
	archive.AssertExpectations(suite.T())
}

func (suite *LicenseJobsTestSuite) TestLicenseAnalytics() {
	stats := []models.LicenseUtilization{
		{LicenseID: "l1", LicenseName: "Starter", ActiveLicenses: 10, AvgUtilization: 0.2},
		{LicenseID: "l2", LicenseName: "Pro", ActiveLicenses: 10, AvgUtilization: 0.85, HighUtilizationCount: 8},
		{LicenseID: "l3", LicenseName: "Team", ActiveLicenses: 10, AvgUtilization: 0.5, HighUtilizationCount: 2},
	}
	suite.licenses.On("LicenseUtilization", mock.Anything, suite.now.AddDate(0, 0, -7)).Return(stats, nil).Once()
	suite.notifier.On("CreateSystemNotification", mock.Anything, mock.MatchedBy(func(n models.Notification) bool {
		return n.Category == "revenue_optimization" &&
			n.Urgency == models.UrgencyMedium &&
			n.Message == "Starter has low utilization (20%). Consider offering downgrades."
	})).Once()
	suite.notifier.On("CreateSystemNotification", mock.Anything, mock.MatchedBy(func(n models.Notification) bool {
		return n.Category == "revenue_growth" && n.Urgency == models.UrgencyHigh
	})).Once()

	suite.NoError(suite.jobs.LicenseAnalytics(suite.ctx))
}

func (suite *LicenseJobsTestSuite) pendingInvoice() models.PendingInvoice {
	return models.PendingInvoice{
		Invoice: models.Invoice{
			ID: "inv-1", InvoiceNumber: "INV-202605-1A2B3C4D", TenantID: "t1", LicenseID: "l1",
			Amount: 100, Currency: "USD", DueDate: suite.now.AddDate(0, 0, 15), IssuedAt: suite.now,
			Status: models.InvoiceStatusPending,
		},
		TenantName: "Acme", LicenseName: "Pro", BillingEmail: "billing@acme.test",
	}
}

func (suite *LicenseJobsTestSuite) TestBillingCycles_InvoicesMonthlyPrice() {
	license := models.BillableLicense{
		TenantLicenseID: "tl1", TenantID: "t1", LicenseID: "l1", LicenseName: "Pro",
		TenantName: "Acme", BillingEmail: "billing@acme.test", PriceMonthly: 100,
		NextBillingDate: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	suite.billing.On("BillableLicenses", mock.Anything, suite.now).Return([]models.BillableLicense{license}, nil).Once()
	suite.billing.On("IssueInvoice", mock.Anything, license, mock.MatchedBy(func(inv *models.Invoice) bool {
		return inv.Amount == 100 && inv.Currency == "USD" &&
			inv.DueDate.Equal(suite.now.AddDate(0, 0, 15)) &&
			inv.BillingPeriodEnd.Equal(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)) &&
			strings.HasPrefix(inv.InvoiceNumber, "INV-202605-")
	})).Return(nil).Once()
	suite.events.On("LogEvent", mock.Anything, mock.MatchedBy(func(e models.SystemEvent) bool {
		return e.Type == models.EventInvoiceIssued && e.Details["amount"] == 100.0
	})).Once()
	suite.billing.On("UnsentInvoices", mock.Anything, suite.now.Add(-unsentLookback)).
		Return([]models.PendingInvoice{suite.pendingInvoice()}, nil).Once()
	suite.mailer.On("SendInvoice", mock.Anything, mock.MatchedBy(func(d services.InvoiceEmailData) bool {
		return d.TenantEmail == "billing@acme.test" && d.Amount == 100 && len(d.PDF) > 0 && d.InvoiceNumber == "INV-202605-1A2B3C4D"
	})).Return(nil).Once()
	suite.billing.On("MarkInvoiceEmailed", mock.Anything, "inv-1", suite.now).Return(nil).Once()

	suite.NoError(suite.jobs.BillingCycles(suite.ctx))
}

func (suite *LicenseJobsTestSuite) TestBillingCycles_AlreadyBilledIsSkipped() {
	license := models.BillableLicense{TenantID: "t1", LicenseID: "l1", PriceMonthly: 100}
	suite.billing.On("BillableLicenses", mock.Anything, suite.now).Return([]models.BillableLicense{license}, nil).Once()
	suite.billing.On("IssueInvoice", mock.Anything, license, mock.Anything).Return(repositories.ErrAlreadyBilled).Once()
	suite.billing.On("UnsentInvoices", mock.Anything, mock.Anything).Return([]models.PendingInvoice{}, nil).Once()

	suite.NoError(suite.jobs.BillingCycles(suite.ctx))
}

func (suite *LicenseJobsTestSuite) TestBillingCycles_FailedEmailIsResentNextRun() {
	suite.billing.On("BillableLicenses", mock.Anything, suite.now).Return([]models.BillableLicense{}, nil).Twice()
	suite.billing.On("UnsentInvoices", mock.Anything, mock.Anything).
		Return([]models.PendingInvoice{suite.pendingInvoice()}, nil).Twice()
	suite.mailer.On("SendInvoice", mock.Anything, mock.Anything).Return(errors.New("smtp timeout")).Once()
	suite.events.On("LogEvent", mock.Anything, mock.MatchedBy(func(e models.SystemEvent) bool {
		return e.Type == models.EventJobItemFailed && e.TenantID == "t1"
	})).Once()

	suite.ErrorContains(suite.jobs.BillingCycles(suite.ctx), "all 1 items failed")
	suite.billing.AssertNotCalled(suite.T(), "MarkInvoiceEmailed", mock.Anything, mock.Anything, mock.Anything)

	suite.mailer.On("SendInvoice", mock.Anything, mock.MatchedBy(func(d services.InvoiceEmailData) bool {
		return d.InvoiceNumber == "INV-202605-1A2B3C4D"
	})).Return(nil).Once()
	suite.billing.On("MarkInvoiceEmailed", mock.Anything, "inv-1", suite.now).Return(nil).Once()

	suite.NoError(suite.jobs.BillingCycles(suite.ctx))
}

func (suite *LicenseJobsTestSuite) TestQuarterlyReports() {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	m := models.QuarterlyMetrics{TotalTenants: 40, ActiveLicenses: 55, TotalARR: 120000}
	suite.reports.On("QuarterlyMetrics", mock.Anything, from, to).Return(m, nil).Once()
	suite.mailer.On("SendQuarterlyReport", mock.Anything, services.QuarterlyReportData{
		Recipients: []string{"finance@vendor.test"},
		Quarter:    1,
		Year:       2026,
		Metrics:    m,
	}).Return(nil).Once()

	suite.NoError(suite.jobs.QuarterlyReports(suite.ctx))
}

func (suite *LicenseJobsTestSuite) TestAnnualReviews_OnlyOwedNoticesAreEmailed() {
	fresh := models.AnnualReviewCandidate{TenantID: "t1", TenantName: "Acme", TenantEmail: "a@test", LicenseCount: 2, AnnualSpend: 2400}
	notified := models.AnnualReviewCandidate{TenantID: "t2", TenantEmail: "b@test"}
	suite.reports.On("AnnualReviewCandidates", mock.Anything, suite.now.AddDate(-1, 0, 0)).
		Return([]models.AnnualReviewCandidate{fresh, notified}, nil).Once()
	suite.reports.On("ScheduleAnnualReview", mock.Anything, fresh, 2026).Return(true, nil).Once()
	suite.reports.On("ScheduleAnnualReview", mock.Anything, notified, 2026).Return(false, nil).Once()
	suite.mailer.On("SendAnnualReview", mock.Anything, services.AnnualReviewData{
		TenantEmail: "a@test", TenantName: "Acme", Year: 2026, AnnualSpend: 2400, LicenseCount: 2,
	}).Return(nil).Once()
	suite.reports.On("MarkAnnualReviewNotified", mock.Anything, "t1", 2026, suite.now).Return(nil).Once()

	suite.NoError(suite.jobs.AnnualReviews(suite.ctx))
}

func (suite *LicenseJobsTestSuite) TestAnnualReviews_FailedEmailIsResentNextRun() {
	c := models.AnnualReviewCandidate{TenantID: "t1", TenantName: "Acme", TenantEmail: "a@test"}
	suite.reports.On("AnnualReviewCandidates", mock.Anything, mock.Anything).Return([]models.AnnualReviewCandidate{c}, nil).Twice()
	suite.reports.On("ScheduleAnnualReview", mock.Anything, c, 2026).Return(true, nil).Twice()
	suite.mailer.On("SendAnnualReview", mock.Anything, mock.Anything).Return(errors.New("smtp timeout")).Once()
	suite.events.On("LogEvent", mock.Anything, mock.MatchedBy(func(e models.SystemEvent) bool {
		return e.Type == models.EventJobItemFailed && e.TenantID == "t1"
	})).Once()

	suite.ErrorContains(suite.jobs.AnnualReviews(suite.ctx), "smtp timeout")
	suite.reports.AssertNotCalled(suite.T(), "MarkAnnualReviewNotified", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	suite.mailer.On("SendAnnualReview", mock.Anything, mock.Anything).Return(nil).Once()
	suite.reports.On("MarkAnnualReviewNotified", mock.Anything, "t1", 2026, suite.now).Return(nil).Once()

	suite.NoError(suite.jobs.AnnualReviews(suite.ctx))
}

func (suite *LicenseJobsTestSuite) TestStatusSync_LogsEachTransition() {
	transitions := []models.StatusTransition{
		{TenantID: "t1", LicenseID: "l1", From: models.LicenseStatusActive, To: models.LicenseStatusExpired},
		{TenantID: "t2", LicenseID: "l2", From: models.LicenseStatusGracePeriod, To: models.LicenseStatusSuspended},
	}
	suite.licenses.On("SyncStatuses", mock.Anything, suite.now, 7).Return(transitions, nil).Once()
	suite.events.On("LogEvent", mock.Anything, mock.MatchedBy(func(e models.SystemEvent) bool {
		return e.TenantID == "t1" && e.Details["to"] == "expired" && e.Severity == models.SeverityMedium
	})).Once()
	suite.events.On("LogEvent", mock.Anything, mock.MatchedBy(func(e models.SystemEvent) bool {
		return e.TenantID == "t2" && e.Details["from"] == "grace_period" && e.Severity == models.SeverityHigh
	})).Once()

	suite.NoError(suite.jobs.StatusSync(suite.ctx))
}

func (suite *LicenseJobsTestSuite) TestStatusSync_SecondRunIsQuiet() {
	suite.licenses.On("SyncStatuses", mock.Anything, suite.now, 7).Return([]models.StatusTransition(nil), nil).Once()

	suite.NoError(suite.jobs.StatusSync(suite.ctx))
	suite.events.AssertNotCalled(suite.T(), "LogEvent", mock.Anything, mock.Anything)
}

func (suite *LicenseJobsTestSuite) TestRealTimeMonitoring() {
	anomalies := []models.ConcurrencyAnomaly{{TenantID: "t7", ConcurrentUsers: 1450, LastActivity: suite.now}}
	suite.licenses.On("ConcurrencyAnomalies", mock.Anything, suite.now.Add(-15*time.Minute), 1000).Return(anomalies, nil).Once()
	suite.notifier.On("Create", mock.Anything, mock.MatchedBy(func(n models.Notification) bool {
		return n.TenantID == "t7" && n.Urgency == models.UrgencyHigh && n.Message == "High concurrent user activity: 1450 users"
	})).Once()

	suite.NoError(suite.jobs.RealTimeMonitoring(suite.ctx))
}

func TestRenewalThreshold(t *testing.T) {
	cases := map[int]int{45: 0, 31: 0, 30: 30, 15: 30, 14: 14, 8: 14, 7: 7, 1: 7, 0: 7}
	for days, want := range cases {
		if got := RenewalThreshold(days); got != want {
			t.Errorf("RenewalThreshold(%d) = %d, want %d", days, got, want)
		}
	}
}

func TestPreviousQuarter(t *testing.T) {
	from, to, year, q := PreviousQuarter(time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC))
	if !from.Equal(time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)) || !to.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) || year != 2025 || q != 4 {
		t.Fatalf("unexpected quarter %s..%s %d Q%d", from, to, year, q)
	}
	_, _, year, q = PreviousQuarter(time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC))
	if year != 2026 || q != 2 {
		t.Fatalf("unexpected quarter %d Q%d", year, q)
	}
}

func TestInvoiceNumber(t *testing.T) {
	got := InvoiceNumber(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), "1a2b3c4d-0000-0000-0000-000000000000")
	if got != "INV-202606-1A2B3C4D" {
		t.Fatalf("InvoiceNumber = %s", got)
	}
}

func TestDetectViolations(t *testing.T) {
	target := models.ComplianceTarget{Limits: models.LicenseLimits{MaxUsers: 10, MaxStorageMb: 1024, MaxAPICalls: 0, MaxAssessments: 50}}
	at := time.Date(2026, 5, 18, 8, 0, 0, 0, time.UTC)

	got := DetectViolations(target, models.UsageMetrics{UsersActive: 10, StorageUsedMb: 1023.9, APICallsMade: 1e6, AssessmentsCreated: 51}, at)
	if len(got) != 2 {
		t.Fatalf("expected 2 violations, got %d", len(got))
	}
	if got[0].ViolationType != models.ViolationUserLimitExceeded || got[1].ViolationType != models.ViolationAssessmentLimitExceeded {
		t.Fatalf("unexpected violation types %s, %s", got[0].ViolationType, got[1].ViolationType)
	}
}
