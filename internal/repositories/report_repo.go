package repositories

import (
	"context"
	"fmt"
	"time"

	"licenseops/internal/models"
)

type ReportRepository interface {
	QuarterlyMetrics(ctx context.Context, from, to time.Time) (models.QuarterlyMetrics, error)
	AnnualReviewCandidates(ctx context.Context, since time.Time) ([]models.AnnualReviewCandidate, error)
	ScheduleAnnualReview(ctx context.Context, candidate models.AnnualReviewCandidate, year int) (bool, error)
	MarkAnnualReviewNotified(ctx context.Context, tenantID string, year int, at time.Time) error
}

type reportRepo struct {
	store *DataStore
}

func NewReportRepo(store *DataStore) ReportRepository {
	return &reportRepo{store: store}
}

func (r *reportRepo) QuarterlyMetrics(ctx context.Context, from, to time.Time) (models.QuarterlyMetrics, error) {
	query := `
		SELECT
			(SELECT COUNT(DISTINCT tenant_id) FROM tenant_licenses WHERE status = 'active'),
			(SELECT COUNT(*) FROM tenant_licenses WHERE status = 'active'),
			(SELECT COALESCE(SUM(l.price_annual * COALESCE(tl.quantity, 1)), 0)::float8
				FROM tenant_licenses tl JOIN licenses l ON l.id = tl.license_id
				WHERE tl.status = 'active'),
			(SELECT COALESCE(AVG(users_active), 0)::float8
				FROM tenant_license_usage WHERE usage_date >= $1 AND usage_date < $2),
			(SELECT COUNT(DISTINCT tenant_id) FROM tenant_licenses
				WHERE created_at >= $1 AND created_at < $2),
			(SELECT COUNT(DISTINCT tenant_id) FROM tenant_licenses
				WHERE status IN ('cancelled', 'suspended') AND updated_at >= $1 AND updated_at < $2)
	`
	var m models.QuarterlyMetrics
	err := r.store.QueryRow(ctx, query, from, to).Scan(&m.TotalTenants, &m.ActiveLicenses, &m.TotalARR,
		&m.AvgUsersPerTenant, &m.NewTenants, &m.ChurnedTenants)
	if err != nil {
		return m, fmt.Errorf("query quarterly metrics: %w", err)
	}
	return m, nil
}

func (r *reportRepo) AnnualReviewCandidates(ctx context.Context, since time.Time) ([]models.AnnualReviewCandidate, error) {
	query := `
		WITH usage AS (
			SELECT tenant_id, AVG(users_active) AS avg_users
			FROM tenant_license_usage
			WHERE usage_date >= $1
			GROUP BY tenant_id
		)
		SELECT t.id, t.name, t.email,
			COUNT(tl.id),
			COALESCE(SUM(l.price_annual * COALESCE(tl.quantity, 1)), 0)::float8,
			COALESCE(MAX(u.avg_users), 0)::float8
		FROM tenants t
		JOIN tenant_licenses tl ON t.id = tl.tenant_id
		JOIN licenses l ON tl.license_id = l.id
		LEFT JOIN usage u ON u.tenant_id = t.id
		WHERE tl.status = 'active'
		GROUP BY t.id, t.name, t.email
		ORDER BY 5 DESC
	`
	rows, err := r.store.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("query annual review candidates: %w", err)
	}
	defer rows.Close()

	var candidates []models.AnnualReviewCandidate
	for rows.Next() {
		var c models.AnnualReviewCandidate
		if err := rows.Scan(&c.TenantID, &c.TenantName, &c.TenantEmail, &c.LicenseCount, &c.AnnualSpend, &c.AvgMonthlyUsers); err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// ScheduleAnnualReview creates the review for (tenant, year) once and reports
// whether its notice is still owed, so a run whose email failed is retried.
func (r *reportRepo) ScheduleAnnualReview(ctx context.Context, c models.AnnualReviewCandidate, year int) (bool, error) {
	insert := `
		INSERT INTO annual_reviews (tenant_id, review_year, annual_spend, license_count, avg_users, review_status)
		VALUES ($1, $2, $3, $4, $5, 'scheduled')
		ON CONFLICT (tenant_id, review_year) DO NOTHING
	`
	if _, err := r.store.Exec(ctx, insert, c.TenantID, year, c.AnnualSpend, c.LicenseCount, c.AvgMonthlyUsers); err != nil {
		return false, fmt.Errorf("insert annual review: %w", err)
	}

	var pending bool
	query := `SELECT notified_at IS NULL FROM annual_reviews WHERE tenant_id = $1 AND review_year = $2`
	if err := r.store.QueryRow(ctx, query, c.TenantID, year).Scan(&pending); err != nil {
		return false, fmt.Errorf("query annual review %s/%d: %w", c.TenantID, year, err)
	}
	return pending, nil
}

func (r *reportRepo) MarkAnnualReviewNotified(ctx context.Context, tenantID string, year int, at time.Time) error {
	query := `UPDATE annual_reviews SET notified_at = $3 WHERE tenant_id = $1 AND review_year = $2 AND notified_at IS NULL`
	if _, err := r.store.Exec(ctx, query, tenantID, year, at); err != nil {
		return fmt.Errorf("mark annual review %s/%d notified: %w", tenantID, year, err)
	}
	return nil
}
