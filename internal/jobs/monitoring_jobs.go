package jobs

import (
	"context"
	"fmt"
	"time"

	"licenseops/internal/models"
)

const (
	JobStatusSync         = "status-sync"
	JobRealTimeMonitoring = "real-time-monitoring"
)

const monitoringWindow = 15 * time.Minute

// StatusSync advances the license status state machine and audits every move.
func (j *LicenseJobs) StatusSync(ctx context.Context) error {
	transitions, err := j.Licenses.SyncStatuses(ctx, j.Clock.Now(), j.Settings.GracePeriodDays)
	if err != nil {
		return err
	}

	for _, t := range transitions {
		severity := models.SeverityMedium
		if t.To == models.LicenseStatusSuspended {
			severity = models.SeverityHigh
		}
		j.Events.LogEvent(ctx, models.SystemEvent{
			Type:      models.EventLicenseStatusSync,
			TenantID:  t.TenantID,
			LicenseID: t.LicenseID,
			Severity:  severity,
			Details:   models.JSONB{"from": string(t.From), "to": string(t.To)},
		})
	}
	j.Logger.Info("license status sync completed", "job", JobStatusSync, "transitions", len(transitions))
	return nil
}

func (j *LicenseJobs) RealTimeMonitoring(ctx context.Context) error {
	since := j.Clock.Now().Add(-monitoringWindow)
	anomalies, err := j.Licenses.ConcurrencyAnomalies(ctx, since, j.Settings.AnomalySessionThreshold)
	if err != nil {
		return err
	}

	for _, a := range anomalies {
		j.Notifier.Create(ctx, models.Notification{
			Type:     "system_anomaly",
			Title:    "Unusual Activity Detected",
			Message:  fmt.Sprintf("High concurrent user activity: %d users", a.ConcurrentUsers),
			Urgency:  models.UrgencyHigh,
			TenantID: a.TenantID,
			Category: "monitoring",
			Metadata: map[string]any{"concurrent_users": a.ConcurrentUsers, "last_activity": a.LastActivity},
		})
	}
	return nil
}
