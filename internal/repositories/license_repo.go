package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"licenseops/internal/models"

	"github.com/jackc/pgx/v5"
)

type LicenseRepository interface {
	ExpiringLicenses(ctx context.Context, now time.Time, afterDays, withinDays int) ([]models.ExpiringLicense, error)
	RecordExpiryNotice(ctx context.Context, license models.ExpiringLicense, windowDays int) error
	ActiveAssignments(ctx context.Context, now time.Time) ([]models.TenantLicenseRef, error)
	ActiveTenants(ctx context.Context, now time.Time) ([]models.Tenant, error)
	RenewalCandidates(ctx context.Context, now time.Time, horizonDays int) ([]models.RenewalCandidate, error)
	UpsertRenewalOpportunity(ctx context.Context, opp *models.RenewalOpportunity) (string, error)
	MarkRenewalReminded(ctx context.Context, opportunityID string, thresholdDays int) error
	ComplianceTargets(ctx context.Context, now time.Time) ([]models.ComplianceTarget, error)
	RecordViolation(ctx context.Context, violation models.ComplianceViolation) (bool, error)
	UnnotifiedViolations(ctx context.Context, tenantID, licenseID string) ([]models.ComplianceViolation, error)
	MarkViolationsNotified(ctx context.Context, ids []string, at time.Time) error
	SyncStatuses(ctx context.Context, now time.Time, graceDays int) ([]models.StatusTransition, error)
	LicenseUtilization(ctx context.Context, since time.Time) ([]models.LicenseUtilization, error)
	ConcurrencyAnomalies(ctx context.Context, since time.Time, threshold int) ([]models.ConcurrencyAnomaly, error)
}

type licenseRepo struct {
	store *DataStore
}

func NewLicenseRepo(store *DataStore) LicenseRepository {
	return &licenseRepo{store: store}
}

// ExpiringLicenses returns active, non auto-renewing licenses expiring in
// (now+afterDays, now+withinDays] that have not been notified for this window
// and this expiry date yet.
func (r *licenseRepo) ExpiringLicenses(ctx context.Context, now time.Time, afterDays, withinDays int) ([]models.ExpiringLicense, error) {
	query := `
		SELECT tl.tenant_id, tl.license_id, l.name, t.name, t.email, tl.expires_at
		FROM tenant_licenses tl
		JOIN licenses l ON tl.license_id = l.id
		JOIN tenants t ON tl.tenant_id = t.id
		WHERE tl.status = 'active'
			AND tl.auto_renewal = false
			AND tl.expires_at > $1::timestamptz + make_interval(days => $2)
			AND tl.expires_at <= $1::timestamptz + make_interval(days => $3)
			AND NOT EXISTS (
				SELECT 1 FROM license_expiry_notices n
				WHERE n.tenant_id = tl.tenant_id
					AND n.license_id = tl.license_id
					AND n.window_days = $3
					AND n.expires_at = tl.expires_at
			)
		ORDER BY tl.expires_at
	`
	rows, err := r.store.Query(ctx, query, now, afterDays, withinDays)
	if err != nil {
		return nil, fmt.Errorf("query expiring licenses: %w", err)
	}
	defer rows.Close()

	var licenses []models.ExpiringLicense
	for rows.Next() {
		var l models.ExpiringLicense
		if err := rows.Scan(&l.TenantID, &l.LicenseID, &l.LicenseName, &l.TenantName, &l.TenantEmail, &l.ExpiresAt); err != nil {
			return nil, err
		}
		licenses = append(licenses, l)
	}
	return licenses, rows.Err()
}

func (r *licenseRepo) RecordExpiryNotice(ctx context.Context, license models.ExpiringLicense, windowDays int) error {
	query := `
		INSERT INTO license_expiry_notices (tenant_id, license_id, window_days, expires_at, sent_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (tenant_id, license_id, window_days, expires_at) DO NOTHING
	`
	_, err := r.store.Exec(ctx, query, license.TenantID, license.LicenseID, windowDays, license.ExpiresAt)
	return err
}

func (r *licenseRepo) ActiveAssignments(ctx context.Context, now time.Time) ([]models.TenantLicenseRef, error) {
	query := `
		SELECT DISTINCT tenant_id, license_id
		FROM tenant_licenses
		WHERE status = 'active' AND expires_at > $1
	`
	rows, err := r.store.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("query active assignments: %w", err)
	}
	defer rows.Close()

	var refs []models.TenantLicenseRef
	for rows.Next() {
		var ref models.TenantLicenseRef
		if err := rows.Scan(&ref.TenantID, &ref.LicenseID); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (r *licenseRepo) ActiveTenants(ctx context.Context, now time.Time) ([]models.Tenant, error) {
	query := `
		SELECT DISTINCT t.id, t.name, t.email, COALESCE(t.billing_email, t.email)
		FROM tenants t
		JOIN tenant_licenses tl ON t.id = tl.tenant_id
		WHERE tl.status = 'active' AND tl.expires_at > $1
	`
	rows, err := r.store.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("query active tenants: %w", err)
	}
	defer rows.Close()

	var tenants []models.Tenant
	for rows.Next() {
		var t models.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.Email, &t.BillingEmail); err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// RenewalCandidates returns active licenses expiring within horizonDays along
// with the reminder threshold already used by their open opportunity.
func (r *licenseRepo) RenewalCandidates(ctx context.Context, now time.Time, horizonDays int) ([]models.RenewalCandidate, error) {
	query := `
		SELECT tl.tenant_id, tl.license_id, l.name, t.name, t.email, tl.expires_at, l.price_annual, ro.last_reminder_days
		FROM tenant_licenses tl
		JOIN licenses l ON tl.license_id = l.id
		JOIN tenants t ON tl.tenant_id = t.id
		LEFT JOIN renewal_opportunities ro
			ON ro.tenant_id = tl.tenant_id
			AND ro.license_id = tl.license_id
			AND ro.status IN ('pending', 'in_progress')
		WHERE tl.status = 'active'
			AND tl.auto_renewal = false
			AND tl.expires_at > $1
			AND tl.expires_at <= $1::timestamptz + make_interval(days => $2)
	`
	rows, err := r.store.Query(ctx, query, now, horizonDays)
	if err != nil {
		return nil, fmt.Errorf("query renewal candidates: %w", err)
	}
	defer rows.Close()

	var candidates []models.RenewalCandidate
	for rows.Next() {
		var c models.RenewalCandidate
		if err := rows.Scan(&c.TenantID, &c.LicenseID, &c.LicenseName, &c.TenantName, &c.TenantEmail, &c.ExpiresAt, &c.PriceAnnual, &c.LastReminderDays); err != nil {
			return nil, err
		}
		c.DaysUntilExpiry = DaysUntil(now, c.ExpiresAt)
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// UpsertRenewalOpportunity keeps at most one open opportunity per tenant and
// license; a re-run refreshes the open row instead of inserting another. The
// reminder threshold is left untouched until MarkRenewalReminded.
func (r *licenseRepo) UpsertRenewalOpportunity(ctx context.Context, opp *models.RenewalOpportunity) (string, error) {
	query := `
		INSERT INTO renewal_opportunities (
			tenant_id, license_id, current_price, renewal_price,
			days_until_expiry, expires_at, status, created_at
		) VALUES ($1, $2, $3, $3, $4, $5, 'pending', NOW())
		ON CONFLICT (tenant_id, license_id) WHERE status IN ('pending', 'in_progress')
		DO UPDATE SET
			renewal_price = EXCLUDED.renewal_price,
			days_until_expiry = EXCLUDED.days_until_expiry,
			expires_at = EXCLUDED.expires_at,
			updated_at = NOW()
		RETURNING id
	`
	var id string
	err := r.store.QueryRow(ctx, query, opp.TenantID, opp.LicenseID, opp.RenewalPrice, opp.DaysUntilExpiry, opp.ExpiresAt).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert renewal opportunity: %w", err)
	}
	opp.ID = id
	return id, nil
}

// MarkRenewalReminded records the threshold of the reminder just sent.
func (r *licenseRepo) MarkRenewalReminded(ctx context.Context, opportunityID string, thresholdDays int) error {
	query := `UPDATE renewal_opportunities SET last_reminder_days = $2, updated_at = NOW() WHERE id = $1`
	if _, err := r.store.Exec(ctx, query, opportunityID, thresholdDays); err != nil {
		return fmt.Errorf("mark renewal %s reminded: %w", opportunityID, err)
	}
	return nil
}

func (r *licenseRepo) ComplianceTargets(ctx context.Context, now time.Time) ([]models.ComplianceTarget, error) {
	query := `
		SELECT tl.tenant_id, tl.license_id, l.name, t.name, t.email,
			COALESCE(l.max_users, 0), COALESCE(l.max_storage_mb, 0)::float8,
			COALESCE(l.max_api_calls_monthly, 0), COALESCE(l.max_assessments_monthly, 0)
		FROM tenant_licenses tl
		JOIN licenses l ON tl.license_id = l.id
		JOIN tenants t ON tl.tenant_id = t.id
		WHERE tl.status = 'active' AND tl.expires_at > $1
	`
	rows, err := r.store.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("query compliance targets: %w", err)
	}
	defer rows.Close()

	var targets []models.ComplianceTarget
	for rows.Next() {
		var t models.ComplianceTarget
		if err := rows.Scan(&t.TenantID, &t.LicenseID, &t.LicenseName, &t.TenantName, &t.TenantEmail,
			&t.Limits.MaxUsers, &t.Limits.MaxStorageMb, &t.Limits.MaxAPICalls, &t.Limits.MaxAssessments); err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// RecordViolation inserts a violation unless an unresolved one of the same type
// is already open. It reports whether a row was created.
func (r *licenseRepo) RecordViolation(ctx context.Context, v models.ComplianceViolation) (bool, error) {
	metrics, err := json.Marshal(v.Metrics)
	if err != nil {
		return false, fmt.Errorf("encode violation metrics: %w", err)
	}
	query := `
		INSERT INTO compliance_violations (tenant_id, license_id, violation_type, severity, description, metrics, detected_at)
		SELECT $1, $2, $3, $4, $5, $6, $7
		WHERE NOT EXISTS (
			SELECT 1 FROM compliance_violations
			WHERE tenant_id = $1 AND license_id = $2 AND violation_type = $3 AND resolved_at IS NULL
		)
	`
	tag, err := r.store.Exec(ctx, query, v.TenantID, v.LicenseID, string(v.ViolationType), string(v.Severity), v.Description, metrics, v.DetectedAt)
	if err != nil {
		return false, fmt.Errorf("insert compliance violation: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UnnotifiedViolations returns the open violations of one assignment whose
// email has not been delivered.
func (r *licenseRepo) UnnotifiedViolations(ctx context.Context, tenantID, licenseID string) ([]models.ComplianceViolation, error) {
	query := `
		SELECT id, violation_type, severity, description, metrics, detected_at
		FROM compliance_violations
		WHERE tenant_id = $1 AND license_id = $2
			AND resolved_at IS NULL AND notified_at IS NULL
		ORDER BY detected_at
	`
	rows, err := r.store.Query(ctx, query, tenantID, licenseID)
	if err != nil {
		return nil, fmt.Errorf("query unnotified violations: %w", err)
	}
	defer rows.Close()

	var violations []models.ComplianceViolation
	for rows.Next() {
		v := models.ComplianceViolation{TenantID: tenantID, LicenseID: licenseID}
		var violationType, severity string
		var raw []byte
		if err := rows.Scan(&v.ID, &violationType, &severity, &v.Description, &raw, &v.DetectedAt); err != nil {
			return nil, err
		}
		v.ViolationType = models.ViolationType(violationType)
		v.Severity = models.Severity(severity)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &v.Metrics); err != nil {
				return nil, fmt.Errorf("decode violation %s metrics: %w", v.ID, err)
			}
			v.Current = metricValue(v.Metrics, "current")
			v.Limit = metricValue(v.Metrics, "limit")
		}
		violations = append(violations, v)
	}
	return violations, rows.Err()
}

func (r *licenseRepo) MarkViolationsNotified(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE compliance_violations SET notified_at = $2 WHERE id = ANY($1) AND notified_at IS NULL`
	if _, err := r.store.Exec(ctx, query, ids, at); err != nil {
		return fmt.Errorf("mark %d violations notified: %w", len(ids), err)
	}
	return nil
}

func metricValue(metrics map[string]any, key string) float64 {
	if f, ok := metrics[key].(float64); ok {
		return f
	}
	return 0
}

const (
	expireActiveSQL = `
		UPDATE tenant_licenses SET status = 'expired', updated_at = NOW()
		WHERE expires_at < $1 AND status = 'active'
		RETURNING tenant_id, license_id
	`
	enterGraceSQL = `
		UPDATE tenant_licenses SET status = 'grace_period', updated_at = NOW()
		WHERE expires_at < $1
			AND expires_at > $1::timestamptz - make_interval(days => $2)
			AND status = 'expired'
		RETURNING tenant_id, license_id
	`
	suspendSQL = `
		UPDATE tenant_licenses tl SET status = 'suspended', updated_at = NOW()
		FROM tenant_licenses prev
		WHERE prev.id = tl.id
			AND tl.expires_at <= $1::timestamptz - make_interval(days => $2)
			AND tl.status IN ('expired', 'grace_period')
		RETURNING tl.tenant_id, tl.license_id, prev.status
	`
)

// SyncStatuses runs the expiry state machine in one transaction. Each pass only
// matches rows still in its source status, so repeating it moves nothing.
// With graceDays == 0 licenses stop at expired.
func (r *licenseRepo) SyncStatuses(ctx context.Context, now time.Time, graceDays int) ([]models.StatusTransition, error) {
	var transitions []models.StatusTransition

	err := r.store.Transaction(ctx, func(tx pgx.Tx) error {
		expired, err := collectTransitions(ctx, tx, models.LicenseStatusActive, models.LicenseStatusExpired, expireActiveSQL, now)
		if err != nil {
			return fmt.Errorf("expire licenses: %w", err)
		}
		transitions = append(transitions, expired...)

		if graceDays <= 0 {
			return nil
		}

		grace, err := collectTransitions(ctx, tx, models.LicenseStatusExpired, models.LicenseStatusGracePeriod, enterGraceSQL, now, graceDays)
		if err != nil {
			return fmt.Errorf("enter grace period: %w", err)
		}
		transitions = append(transitions, grace...)

		rows, err := tx.Query(ctx, suspendSQL, now, graceDays)
		if err != nil {
			return fmt.Errorf("suspend licenses: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			t := models.StatusTransition{To: models.LicenseStatusSuspended}
			var from string
			if err := rows.Scan(&t.TenantID, &t.LicenseID, &from); err != nil {
				return err
			}
			t.From = models.LicenseStatus(from)
			transitions = append(transitions, t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return transitions, nil
}

func collectTransitions(ctx context.Context, tx pgx.Tx, from, to models.LicenseStatus, query string, args ...any) ([]models.StatusTransition, error) {
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transitions []models.StatusTransition
	for rows.Next() {
		t := models.StatusTransition{From: from, To: to}
		if err := rows.Scan(&t.TenantID, &t.LicenseID); err != nil {
			return nil, err
		}
		transitions = append(transitions, t)
	}
	return transitions, rows.Err()
}

func (r *licenseRepo) LicenseUtilization(ctx context.Context, since time.Time) ([]models.LicenseUtilization, error) {
	query := `
		WITH per_assignment AS (
			SELECT tl.license_id, COALESCE(tl.quantity, 1) AS quantity,
				AVG(tlu.users_active::float8 / NULLIF(l.max_users, 0)) AS utilization
			FROM tenant_licenses tl
			JOIN licenses l ON l.id = tl.license_id
			JOIN tenant_license_usage tlu ON tlu.tenant_id = tl.tenant_id AND tlu.license_id = tl.license_id
			WHERE tl.status = 'active' AND tlu.usage_date >= $1
			GROUP BY tl.tenant_id, tl.license_id, tl.quantity
		)
		SELECT l.id, l.name, COUNT(*),
			COALESCE(AVG(pa.utilization), 0)::float8,
			COALESCE(SUM(l.price_annual * pa.quantity), 0)::float8,
			COUNT(*) FILTER (WHERE pa.utilization > 0.8)
		FROM per_assignment pa
		JOIN licenses l ON l.id = pa.license_id
		GROUP BY l.id, l.name
		ORDER BY 5 DESC
	`
	rows, err := r.store.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("query license utilization: %w", err)
	}
	defer rows.Close()

	var result []models.LicenseUtilization
	for rows.Next() {
		var u models.LicenseUtilization
		if err := rows.Scan(&u.LicenseID, &u.LicenseName, &u.ActiveLicenses, &u.AvgUtilization, &u.TotalRevenue, &u.HighUtilizationCount); err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

func (r *licenseRepo) ConcurrencyAnomalies(ctx context.Context, since time.Time, threshold int) ([]models.ConcurrencyAnomaly, error) {
	query := `
		SELECT tenant_id, COUNT(*), MAX(created_at)
		FROM user_sessions
		WHERE created_at > $1
		GROUP BY tenant_id
		HAVING COUNT(*) > $2
	`
	rows, err := r.store.Query(ctx, query, since, threshold)
	if err != nil {
		return nil, fmt.Errorf("query session anomalies: %w", err)
	}
	defer rows.Close()

	var anomalies []models.ConcurrencyAnomaly
	for rows.Next() {
		var a models.ConcurrencyAnomaly
		if err := rows.Scan(&a.TenantID, &a.ConcurrentUsers, &a.LastActivity); err != nil {
			return nil, err
		}
		anomalies = append(anomalies, a)
	}
	return anomalies, rows.Err()
}

// DaysUntil rounds the remaining time up to whole days.
func DaysUntil(now, t time.Time) int {
	d := t.Sub(now)
	if d <= 0 {
		return 0
	}
	days := int(d / (24 * time.Hour))
	if d%(24*time.Hour) != 0 {
		days++
	}
	return days
}
