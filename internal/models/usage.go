package models

import (
	"time"
)

type UsageMetrics struct {
	UsersActive        int64    `json:"users_active"`
	AssessmentsCreated int64    `json:"assessments_created"`
	ReportsGenerated   int64    `json:"reports_generated"`
	StorageUsedMb      float64  `json:"storage_used_mb"`
	APICallsMade       int64    `json:"api_calls_made"`
	FeaturesUsed       []string `json:"features_used"`
}

// UsageSnapshot is one row of tenant_license_usage.
type UsageSnapshot struct {
	TenantID  string    `json:"tenant_id" db:"tenant_id"`
	LicenseID string    `json:"license_id" db:"license_id"`
	UsageDate time.Time `json:"usage_date" db:"usage_date"`
	UsageMetrics
}

type UsageTrends struct {
	UsersGrowth       int `json:"users_growth"`
	AssessmentsGrowth int `json:"assessments_growth"`
	StorageGrowth     int `json:"storage_growth"`
}

type WeeklyReport struct {
	TenantID        string       `json:"tenant_id"`
	PeriodStart     time.Time    `json:"period_start"`
	PeriodEnd       time.Time    `json:"period_end"`
	Metrics         UsageMetrics `json:"metrics"`
	Previous        UsageMetrics `json:"previous"`
	Trends          UsageTrends  `json:"trends"`
	Recommendations []string     `json:"recommendations"`
}

// QuarterlyMetrics is the platform-wide business summary for one quarter.
type QuarterlyMetrics struct {
	TotalTenants      int64   `json:"total_tenants"`
	ActiveLicenses    int64   `json:"active_licenses"`
	TotalARR          float64 `json:"total_arr"`
	AvgUsersPerTenant float64 `json:"avg_users_per_tenant"`
	NewTenants        int64   `json:"new_tenants"`
	ChurnedTenants    int64   `json:"churned_tenants"`
}

// AnnualReviewCandidate is a tenant due for its yearly license review.
type AnnualReviewCandidate struct {
	TenantID        string
	TenantName      string
	TenantEmail     string
	LicenseCount    int64
	AnnualSpend     float64
	AvgMonthlyUsers float64
}
