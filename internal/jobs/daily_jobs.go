package jobs

import (
	"context"
	"fmt"
	"time"

	"licenseops/internal/models"
	"licenseops/internal/services"
)

const (
	JobLicenseExpiryCheck = "license-expiry-check"
	JobUsageAggregation   = "usage-aggregation"
	JobRenewalReminders   = "renewal-reminders"
	JobComplianceCheck    = "compliance-check"
)

// ExpiryWindow is one notification band (After, Days] days before expiry.
type ExpiryWindow struct {
	Days    int
	After   int
	Urgency models.Urgency
}

var ExpiryWindows = []ExpiryWindow{
	{Days: 30, After: 14, Urgency: models.UrgencyEarlyWarning},
	{Days: 14, After: 7, Urgency: models.UrgencyWarning},
	{Days: 7, After: 1, Urgency: models.UrgencyUrgent},
	{Days: 1, After: 0, Urgency: models.UrgencyCritical},
}

type expiryItem struct {
	license models.ExpiringLicense
	window  ExpiryWindow
}

func (j *LicenseJobs) LicenseExpiryCheck(ctx context.Context) error {
	now := j.Clock.Now()

	var items []expiryItem
	for _, w := range ExpiryWindows {
		licenses, err := j.Licenses.ExpiringLicenses(ctx, now, w.After, w.Days)
		if err != nil {
			return fmt.Errorf("expiring licenses within %d days: %w", w.Days, err)
		}
		for _, l := range licenses {
			items = append(items, expiryItem{license: l, window: w})
		}
	}

	_, err := RunBatch(ctx, j.batch, JobLicenseExpiryCheck, ContinueOnError, items,
		func(it expiryItem) Item {
			return Item{TenantID: it.license.TenantID, LicenseID: it.license.LicenseID}
		},
		j.notifyExpiry)
	return err
}

func (j *LicenseJobs) notifyExpiry(ctx context.Context, it expiryItem) error {
	l, w := it.license, it.window
	actionPath := fmt.Sprintf("/tenant/%s/licenses", l.TenantID)

	err := j.Mailer.SendLicenseExpiry(ctx, services.LicenseExpiryData{
		TenantEmail:   l.TenantEmail,
		TenantName:    l.TenantName,
		LicenseName:   l.LicenseName,
		ExpiresAt:     l.ExpiresAt,
		DaysRemaining: w.Days,
		Urgency:       w.Urgency,
		RenewURL:      j.url(actionPath),
	})
	if err != nil {
		return fmt.Errorf("send expiry email: %w", err)
	}

	j.Notifier.Create(ctx, models.Notification{
		Type:      "license_expiry",
		Title:     fmt.Sprintf("License Expiring in %d days", w.Days),
		Message:   fmt.Sprintf("Your %s license expires on %s", l.LicenseName, l.ExpiresAt.UTC().Format("Jan 2, 2006")),
		Urgency:   w.Urgency,
		TenantID:  l.TenantID,
		ActionURL: actionPath,
		Category:  "license_lifecycle",
		Metadata:  map[string]any{"license_id": l.LicenseID, "days_remaining": w.Days},
	})

	if err := j.Licenses.RecordExpiryNotice(ctx, l, w.Days); err != nil {
		return fmt.Errorf("record expiry notice: %w", err)
	}

	j.Events.LogEvent(ctx, models.SystemEvent{
		Type:      models.EventLicenseExpiryCheck,
		TenantID:  l.TenantID,
		LicenseID: l.LicenseID,
		Severity:  models.SeverityMedium,
		Details:   models.JSONB{"daysRemaining": w.Days, "urgencyLevel": string(w.Urgency)},
	})
	return nil
}

// UsageAggregation snapshots yesterday's usage of every active assignment and
// runs the limit check right after each snapshot.
func (j *LicenseJobs) UsageAggregation(ctx context.Context) error {
	now := j.Clock.Now()
	yesterday := startOfDay(now).AddDate(0, 0, -1)

	refs, err := j.Licenses.ActiveAssignments(ctx, now)
	if err != nil {
		return err
	}

	_, err = RunBatch(ctx, j.batch, JobUsageAggregation, ContinueOnError, refs, refItem,
		func(ctx context.Context, ref models.TenantLicenseRef) error {
			snapshot, err := j.Analytics.AggregateDailyUsage(ctx, ref.TenantID, ref.LicenseID, yesterday)
			if err != nil {
				return err
			}
			if err := j.Usage.UpsertSnapshot(ctx, snapshot); err != nil {
				return err
			}
			_, err = j.Analytics.CheckUsageLimits(ctx, ref.TenantID, ref.LicenseID)
			return err
		})
	return err
}

// RenewalThresholds are the days-before-expiry at which a reminder goes out.
var RenewalThresholds = []int{30, 14, 7}

// RenewalThreshold returns the smallest threshold that still covers days, or
// 0 when days is beyond every threshold.
func RenewalThreshold(days int) int {
	best := 0
	for _, t := range RenewalThresholds {
		if days <= t && (best == 0 || t < best) {
			best = t
		}
	}
	return best
}

type renewalItem struct {
	candidate models.RenewalCandidate
	threshold int
}

// dueRenewals filters candidates to those that crossed a threshold they were
// not yet reminded at.
func dueRenewals(candidates []models.RenewalCandidate) []renewalItem {
	var due []renewalItem
	for _, c := range candidates {
		t := RenewalThreshold(c.DaysUntilExpiry)
		if t == 0 {
			continue
		}
		if c.LastReminderDays != nil && *c.LastReminderDays <= t {
			continue
		}
		due = append(due, renewalItem{candidate: c, threshold: t})
	}
	return due
}

func (j *LicenseJobs) RenewalReminders(ctx context.Context) error {
	now := j.Clock.Now()
	candidates, err := j.Licenses.RenewalCandidates(ctx, now, RenewalThresholds[0])
	if err != nil {
		return err
	}

	_, err = RunBatch(ctx, j.batch, JobRenewalReminders, ContinueOnError, dueRenewals(candidates),
		func(it renewalItem) Item {
			return Item{TenantID: it.candidate.TenantID, LicenseID: it.candidate.LicenseID}
		},
		j.remindRenewal)
	return err
}

func (j *LicenseJobs) remindRenewal(ctx context.Context, it renewalItem) error {
	c := it.candidate
	opp := &models.RenewalOpportunity{
		TenantID:        c.TenantID,
		LicenseID:       c.LicenseID,
		RenewalPrice:    c.PriceAnnual,
		DaysUntilExpiry: c.DaysUntilExpiry,
		ExpiresAt:       c.ExpiresAt,
	}
	id, err := j.Licenses.UpsertRenewalOpportunity(ctx, opp)
	if err != nil {
		return err
	}

	err = j.Mailer.SendRenewalReminder(ctx, services.RenewalReminderData{
		TenantEmail:  c.TenantEmail,
		TenantName:   c.TenantName,
		LicenseName:  c.LicenseName,
		ExpiresAt:    c.ExpiresAt,
		RenewalPrice: c.PriceAnnual,
		RenewalURL:   j.url(fmt.Sprintf("/tenant/%s/upgrade?renewal=%s", c.TenantID, id)),
	})
	if err != nil {
		return fmt.Errorf("send renewal reminder: %w", err)
	}

	if err := j.Licenses.MarkRenewalReminded(ctx, id, it.threshold); err != nil {
		return err
	}

	j.Events.LogEvent(ctx, models.SystemEvent{
		Type:      models.EventRenewalReminder,
		TenantID:  c.TenantID,
		LicenseID: c.LicenseID,
		Severity:  models.SeverityLow,
		Details:   models.JSONB{"opportunity_id": id, "threshold_days": it.threshold, "days_until_expiry": c.DaysUntilExpiry},
	})
	return nil
}

// DetectViolations reports every dimension at or above 100% of its limit.
// A zero limit is unlimited.
func DetectViolations(target models.ComplianceTarget, usage models.UsageMetrics, at time.Time) []models.ComplianceViolation {
	checks := []struct {
		kind    models.ViolationType
		current float64
		limit   float64
		text    string
	}{
		{models.ViolationUserLimitExceeded, float64(usage.UsersActive), float64(target.Limits.MaxUsers),
			fmt.Sprintf("Tenant has %d active users but license allows only %d", usage.UsersActive, target.Limits.MaxUsers)},
		{models.ViolationStorageLimitExceeded, usage.StorageUsedMb, target.Limits.MaxStorageMb,
			fmt.Sprintf("Tenant uses %.1f MB of storage but license allows only %.1f MB", usage.StorageUsedMb, target.Limits.MaxStorageMb)},
		{models.ViolationAPICallLimitExceeded, float64(usage.APICallsMade), float64(target.Limits.MaxAPICalls),
			fmt.Sprintf("Tenant made %d API calls this month but license allows only %d", usage.APICallsMade, target.Limits.MaxAPICalls)},
		{models.ViolationAssessmentLimitExceeded, float64(usage.AssessmentsCreated), float64(target.Limits.MaxAssessments),
			fmt.Sprintf("Tenant created %d assessments this month but license allows only %d", usage.AssessmentsCreated, target.Limits.MaxAssessments)},
	}

	var violations []models.ComplianceViolation
	for _, c := range checks {
		if c.limit <= 0 || c.current < c.limit {
			continue
		}
		violations = append(violations, models.ComplianceViolation{
			TenantID:      target.TenantID,
			LicenseID:     target.LicenseID,
			ViolationType: c.kind,
			Severity:      models.SeverityHigh,
			Description:   c.text,
			Current:       c.current,
			Limit:         c.limit,
			DetectedAt:    at,
			Metrics: map[string]any{
				"current":    c.current,
				"limit":      c.limit,
				"percentage": c.current / c.limit * 100,
			},
		})
	}
	return violations
}

var violationLabels = map[models.ViolationType]string{
	models.ViolationUserLimitExceeded:       "user",
	models.ViolationStorageLimitExceeded:    "storage",
	models.ViolationAPICallLimitExceeded:    "API call",
	models.ViolationAssessmentLimitExceeded: "assessment",
}

func (j *LicenseJobs) ComplianceCheck(ctx context.Context) error {
	now := j.Clock.Now()
	targets, err := j.Licenses.ComplianceTargets(ctx, now)
	if err != nil {
		return err
	}

	_, err = RunBatch(ctx, j.batch, JobComplianceCheck, ContinueOnError, targets,
		func(t models.ComplianceTarget) Item { return Item{TenantID: t.TenantID, LicenseID: t.LicenseID} },
		func(ctx context.Context, t models.ComplianceTarget) error {
			return j.checkCompliance(ctx, t, now)
		})
	return err
}

// checkCompliance records new violations with one in-app notice each, then
// emails every open violation not yet emailed. A delivered violation is not
// re-notified while it stays open.
func (j *LicenseJobs) checkCompliance(ctx context.Context, target models.ComplianceTarget, now time.Time) error {
	usage, err := j.Analytics.CurrentUsage(ctx, target.TenantID)
	if err != nil {
		return err
	}

	for _, v := range DetectViolations(target, usage, now) {
		created, err := j.Licenses.RecordViolation(ctx, v)
		if err != nil {
			return err
		}
		if !created {
			continue
		}

		j.Notifier.Create(ctx, models.Notification{
			Type:  "compliance_violation",
			Title: "License Compliance Violation",
			Message: fmt.Sprintf("You have exceeded your %s limit (%s/%s)",
				violationLabels[v.ViolationType], formatAmount(v.Current), formatAmount(v.Limit)),
			Urgency:   models.UrgencyCritical,
			TenantID:  target.TenantID,
			ActionURL: fmt.Sprintf("/tenant/%s/upgrade", target.TenantID),
			Category:  "compliance",
			Metadata:  map[string]any{"license_id": target.LicenseID, "violation_type": string(v.ViolationType)},
		})
	}

	if target.TenantEmail == "" {
		return nil
	}

	// Open violations are emailed until a send succeeds, including ones
	// recorded by an earlier run whose email failed.
	pending, err := j.Licenses.UnnotifiedViolations(ctx, target.TenantID, target.LicenseID)
	if err != nil || len(pending) == 0 {
		return err
	}
	if err := j.Mailer.SendComplianceViolation(ctx, services.ComplianceViolationData{
		TenantEmail: target.TenantEmail,
		TenantName:  target.TenantName,
		LicenseName: target.LicenseName,
		Violations:  pending,
		UpgradeURL:  j.url(fmt.Sprintf("/tenant/%s/upgrade", target.TenantID)),
	}); err != nil {
		return err
	}
	ids := make([]string, 0, len(pending))
	for _, v := range pending {
		ids = append(ids, v.ID)
	}
	return j.Licenses.MarkViolationsNotified(ctx, ids, now)
}

func formatAmount(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.1f", v)
}
