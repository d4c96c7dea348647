package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"licenseops/internal/models"

	"github.com/jackc/pgx/v5"
)

// UsageRepository holds the raw usage point queries. Every range is half-open [from, to).
type UsageRepository interface {
	CountActiveUsers(ctx context.Context, tenantID string, from, to time.Time) (int64, error)
	CountAssessments(ctx context.Context, tenantID string, from, to time.Time) (int64, error)
	CountReports(ctx context.Context, tenantID string, from, to time.Time) (int64, error)
	StorageUsedMb(ctx context.Context, tenantID string, upTo time.Time) (float64, error)
	CountAPICalls(ctx context.Context, tenantID string, from, to time.Time) (int64, error)
	FeaturesUsed(ctx context.Context, tenantID string, from, to time.Time) ([]string, error)
	UpsertSnapshot(ctx context.Context, snapshot models.UsageSnapshot) error
	ActiveLimits(ctx context.Context, tenantID, licenseID string) (*models.LicenseLimits, error)
	WindowMetrics(ctx context.Context, tenantID string, from, to time.Time) (models.UsageMetrics, error)
}

type usageRepo struct {
	store *DataStore
}

func NewUsageRepo(store *DataStore) UsageRepository {
	return &usageRepo{store: store}
}

func (r *usageRepo) count(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	if err := r.store.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

func (r *usageRepo) CountActiveUsers(ctx context.Context, tenantID string, from, to time.Time) (int64, error) {
	return r.count(ctx, `
		SELECT COUNT(DISTINCT user_id) FROM user_sessions
		WHERE tenant_id = $1 AND created_at >= $2 AND created_at < $3
	`, tenantID, from, to)
}

func (r *usageRepo) CountAssessments(ctx context.Context, tenantID string, from, to time.Time) (int64, error) {
	return r.count(ctx, `
		SELECT COUNT(*) FROM assessments
		WHERE organization_id = $1 AND created_at >= $2 AND created_at < $3
	`, tenantID, from, to)
}

func (r *usageRepo) CountReports(ctx context.Context, tenantID string, from, to time.Time) (int64, error) {
	return r.count(ctx, `
		SELECT COUNT(*) FROM reports
		WHERE tenant_id = $1 AND created_at >= $2 AND created_at < $3
	`, tenantID, from, to)
}

func (r *usageRepo) CountAPICalls(ctx context.Context, tenantID string, from, to time.Time) (int64, error) {
	return r.count(ctx, `
		SELECT COUNT(*) FROM api_usage_logs
		WHERE tenant_id = $1 AND created_at >= $2 AND created_at < $3
	`, tenantID, from, to)
}

func (r *usageRepo) StorageUsedMb(ctx context.Context, tenantID string, upTo time.Time) (float64, error) {
	var mb float64
	err := r.store.QueryRow(ctx, `
		SELECT COALESCE(SUM(file_size_mb), 0)::float8 FROM tenant_files
		WHERE tenant_id = $1 AND created_at < $2
	`, tenantID, upTo).Scan(&mb)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}
	return mb, nil
}

func (r *usageRepo) FeaturesUsed(ctx context.Context, tenantID string, from, to time.Time) ([]string, error) {
	rows, err := r.store.Query(ctx, `
		SELECT DISTINCT feature_name FROM feature_usage_logs
		WHERE tenant_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY feature_name
	`, tenantID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	features := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		features = append(features, name)
	}
	return features, rows.Err()
}

func (r *usageRepo) UpsertSnapshot(ctx context.Context, s models.UsageSnapshot) error {
	features, err := json.Marshal(s.FeaturesUsed)
	if err != nil {
		return fmt.Errorf("encode features: %w", err)
	}
	query := `
		INSERT INTO tenant_license_usage (
			tenant_id, license_id, usage_date,
			users_active, assessments_created, reports_generated,
			storage_used_mb, api_calls_made, features_used
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant_id, license_id, usage_date)
		DO UPDATE SET
			users_active = EXCLUDED.users_active,
			assessments_created = EXCLUDED.assessments_created,
			reports_generated = EXCLUDED.reports_generated,
			storage_used_mb = EXCLUDED.storage_used_mb,
			api_calls_made = EXCLUDED.api_calls_made,
			features_used = EXCLUDED.features_used,
			updated_at = NOW()
	`
	_, err = r.store.Exec(ctx, query, s.TenantID, s.LicenseID, s.UsageDate,
		s.UsersActive, s.AssessmentsCreated, s.ReportsGenerated,
		s.StorageUsedMb, s.APICallsMade, features)
	if err != nil {
		return fmt.Errorf("upsert usage snapshot: %w", err)
	}
	return nil
}

// ActiveLimits returns nil when the tenant holds no active assignment of the license.
func (r *usageRepo) ActiveLimits(ctx context.Context, tenantID, licenseID string) (*models.LicenseLimits, error) {
	query := `
		SELECT COALESCE(l.max_users, 0), COALESCE(l.max_storage_mb, 0)::float8,
			COALESCE(l.max_api_calls_monthly, 0), COALESCE(l.max_assessments_monthly, 0)
		FROM tenant_licenses tl
		JOIN licenses l ON tl.license_id = l.id
		WHERE tl.tenant_id = $1 AND tl.license_id = $2 AND tl.status = 'active'
	`
	limits := &models.LicenseLimits{}
	err := r.store.QueryRow(ctx, query, tenantID, licenseID).Scan(&limits.MaxUsers, &limits.MaxStorageMb, &limits.MaxAPICalls, &limits.MaxAssessments)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return limits, nil
}

// WindowMetrics summarizes stored daily snapshots in [from, to): average users,
// summed counters and peak storage.
func (r *usageRepo) WindowMetrics(ctx context.Context, tenantID string, from, to time.Time) (models.UsageMetrics, error) {
	query := `
		SELECT COALESCE(ROUND(AVG(users_active)), 0)::bigint,
			COALESCE(SUM(assessments_created), 0)::bigint,
			COALESCE(SUM(reports_generated), 0)::bigint,
			COALESCE(MAX(storage_used_mb), 0)::float8,
			COALESCE(SUM(api_calls_made), 0)::bigint
		FROM tenant_license_usage
		WHERE tenant_id = $1 AND usage_date >= $2 AND usage_date < $3
	`
	m := models.UsageMetrics{FeaturesUsed: []string{}}
	err := r.store.QueryRow(ctx, query, tenantID, from, to).Scan(&m.UsersActive, &m.AssessmentsCreated, &m.ReportsGenerated, &m.StorageUsedMb, &m.APICallsMade)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return m, err
	}
	return m, nil
}
