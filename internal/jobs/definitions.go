package jobs

import (
	"time"

	"licenseops/internal/models"
)

// Definitions returns the eleven license lifecycle jobs.
func Definitions(j *LicenseJobs) []Definition {
	return []Definition{
		// daily
		{
			Name:          JobLicenseExpiryCheck,
			Description:   "Notify tenants of licenses expiring in 30, 14, 7 and 1 days",
			Schedule:      "0 9 * * *",
			Priority:      models.PriorityCritical,
			Timeout:       5 * time.Minute,
			RetryAttempts: 3,
			RetryDelay:    time.Minute,
			Enabled:       true,
			Handler:       j.LicenseExpiryCheck,
		},
		{
			Name:          JobUsageAggregation,
			Description:   "Snapshot yesterday's usage per license and check limits",
			Schedule:      "0 2 * * *",
			Priority:      models.PriorityHigh,
			Timeout:       10 * time.Minute,
			RetryAttempts: 2,
			RetryDelay:    2 * time.Minute,
			Enabled:       true,
			Handler:       j.UsageAggregation,
		},
		{
			Name:          JobRenewalReminders,
			Description:   "Open renewal opportunities and send reminders",
			Schedule:      "0 10 * * *",
			Priority:      models.PriorityHigh,
			Timeout:       5 * time.Minute,
			RetryAttempts: 3,
			RetryDelay:    time.Minute,
			Enabled:       true,
			Handler:       j.RenewalReminders,
		},
		{
			Name:          JobComplianceCheck,
			Description:   "Record limit violations and notify tenants",
			Schedule:      "0 8 * * *",
			Priority:      models.PriorityHigh,
			Timeout:       15 * time.Minute,
			RetryAttempts: 2,
			RetryDelay:    3 * time.Minute,
			Enabled:       true,
			Handler:       j.ComplianceCheck,
		},
		// weekly
		{
			Name:          JobUsageReports,
			Description:   "Email weekly usage reports to tenants",
			Schedule:      "0 9 * * 1",
			Priority:      models.PriorityMedium,
			Timeout:       30 * time.Minute,
			RetryAttempts: 2,
			RetryDelay:    5 * time.Minute,
			Enabled:       true,
			Handler:       j.UsageReports,
		},
		{
			Name:          JobLicenseAnalytics,
			Description:   "Suggest downgrades and upsells from license utilization",
			Schedule:      "0 11 * * 1",
			Priority:      models.PriorityMedium,
			Timeout:       20 * time.Minute,
			RetryAttempts: 2,
			RetryDelay:    4 * time.Minute,
			Enabled:       true,
			Handler:       j.LicenseAnalytics,
		},
		// monthly
		{
			Name:          JobBillingCycles,
			Description:   "Issue monthly invoices",
			Schedule:      "0 6 1 * *",
			Priority:      models.PriorityCritical,
			Timeout:       time.Hour,
			RetryAttempts: 3,
			RetryDelay:    10 * time.Minute,
			Enabled:       true,
			Handler:       j.BillingCycles,
		},
		{
			Name:          JobQuarterlyReports,
			Description:   "Send the quarterly business report",
			Schedule:      "0 8 1 */3 *",
			Priority:      models.PriorityMedium,
			Timeout:       2 * time.Hour,
			RetryAttempts: 2,
			RetryDelay:    15 * time.Minute,
			Enabled:       true,
			Handler:       j.QuarterlyReports,
		},
		{
			Name:          JobAnnualReviews,
			Description:   "Schedule annual license reviews",
			Schedule:      "0 9 1 1 *",
			Priority:      models.PriorityHigh,
			Timeout:       3 * time.Hour,
			RetryAttempts: 2,
			RetryDelay:    30 * time.Minute,
			Enabled:       true,
			Handler:       j.AnnualReviews,
		},
		// hourly and sub-hourly
		{
			Name:          JobStatusSync,
			Description:   "Move licenses through expired, grace period and suspended",
			Schedule:      "0 * * * *",
			Priority:      models.PriorityMedium,
			Timeout:       5 * time.Minute,
			RetryAttempts: 2,
			RetryDelay:    time.Minute,
			Enabled:       true,
			Handler:       j.StatusSync,
		},
		{
			Name:          JobRealTimeMonitoring,
			Description:   "Flag tenants with unusual concurrent session counts",
			Schedule:      "*/15 * * * *",
			Priority:      models.PriorityHigh,
			Timeout:       3 * time.Minute,
			RetryAttempts: 3,
			RetryDelay:    30 * time.Second,
			Enabled:       true,
			Handler:       j.RealTimeMonitoring,
		},
	}
}
