package jobs

import (
	"context"
	"fmt"
	"math"

	"licenseops/internal/models"
	"licenseops/internal/services"
)

const (
	JobUsageReports     = "usage-reports"
	JobLicenseAnalytics = "license-analytics"
)

// UsageReports emails each active tenant its week-over-week report and
// archives the report. A failed send for one tenant does not stop the others.
func (j *LicenseJobs) UsageReports(ctx context.Context) error {
	tenants, err := j.Licenses.ActiveTenants(ctx, j.Clock.Now())
	if err != nil {
		return err
	}

	_, err = RunBatch(ctx, j.batch, JobUsageReports, ContinueOnError, tenants,
		func(t models.Tenant) Item { return Item{TenantID: t.ID} },
		func(ctx context.Context, t models.Tenant) error {
			report, err := j.Analytics.GenerateWeeklyReport(ctx, t.ID)
			if err != nil {
				return err
			}
			j.archive(ctx, services.UsageReportObject(t.ID, report.PeriodEnd), report)

			return j.Mailer.SendWeeklyUsageReport(ctx, services.WeeklyUsageReportData{
				TenantEmail: t.Email,
				TenantName:  t.Name,
				Report:      *report,
			})
		})
	return err
}

// LicenseAnalytics raises system notifications for license SKUs that are
// under-used (downgrade risk) or broadly saturated (upsell opportunity).
func (j *LicenseJobs) LicenseAnalytics(ctx context.Context) error {
	since := j.Clock.Now().AddDate(0, 0, -7)
	stats, err := j.Licenses.LicenseUtilization(ctx, since)
	if err != nil {
		return err
	}

	for _, s := range stats {
		if msg, ok := j.utilizationSuggestion(s); ok {
			j.Notifier.CreateSystemNotification(ctx, msg)
		}
	}
	j.Logger.Info("license analytics completed", "job", JobLicenseAnalytics, "licenses", len(stats))
	return nil
}

func (j *LicenseJobs) utilizationSuggestion(s models.LicenseUtilization) (models.Notification, bool) {
	meta := map[string]any{
		"license_id":      s.LicenseID,
		"active_licenses": s.ActiveLicenses,
		"avg_utilization": s.AvgUtilization,
		"total_revenue":   s.TotalRevenue,
	}
	switch {
	case s.AvgUtilization < j.Settings.LowUtilizationThreshold:
		return models.Notification{
			Type:     "optimization_suggestion",
			Title:    "License Optimization Opportunity",
			Message:  fmt.Sprintf("%s has low utilization (%d%%). Consider offering downgrades.", s.LicenseName, int(math.Round(s.AvgUtilization*100))),
			Urgency:  models.UrgencyMedium,
			Category: "revenue_optimization",
			Metadata: meta,
		}, true
	case float64(s.HighUtilizationCount) > float64(s.ActiveLicenses)*j.Settings.HighUtilizationShare:
		return models.Notification{
			Type:     "upsell_opportunity",
			Title:    "Upsell Opportunity Detected",
			Message:  fmt.Sprintf("%s has high utilization across %d tenants. Consider proactive upselling.", s.LicenseName, s.HighUtilizationCount),
			Urgency:  models.UrgencyHigh,
			Category: "revenue_growth",
			Metadata: meta,
		}, true
	}
	return models.Notification{}, false
}
