package models

import (
	"time"
)

type LicenseStatus string

const (
	LicenseStatusActive      LicenseStatus = "active"
	LicenseStatusGracePeriod LicenseStatus = "grace_period"
	LicenseStatusSuspended   LicenseStatus = "suspended"
	LicenseStatusExpired     LicenseStatus = "expired"
)

// LicenseLimits are the usage ceilings of a license tier. A zero limit means unlimited.
type LicenseLimits struct {
	MaxUsers       int64   `json:"max_users" db:"max_users"`
	MaxStorageMb   float64 `json:"max_storage_mb" db:"max_storage_mb"`
	MaxAPICalls    int64   `json:"max_api_calls_monthly" db:"max_api_calls_monthly"`
	MaxAssessments int64   `json:"max_assessments_monthly" db:"max_assessments_monthly"`
}

type TenantLicense struct {
	TenantID     string        `json:"tenant_id" db:"tenant_id"`
	LicenseID    string        `json:"license_id" db:"license_id"`
	LicenseName  string        `json:"license_name" db:"license_name"`
	Status       LicenseStatus `json:"status" db:"status"`
	ExpiresAt    time.Time     `json:"expires_at" db:"expires_at"`
	PriceMonthly float64       `json:"price_monthly" db:"price_monthly"`
	PriceAnnual  float64       `json:"price_annual" db:"price_annual"`
	Limits       LicenseLimits `json:"limits"`
}

// ExpiringLicense is a license matched by one expiry window, joined with its tenant contact.
type ExpiringLicense struct {
	TenantID    string    `db:"tenant_id"`
	LicenseID   string    `db:"license_id"`
	LicenseName string    `db:"license_name"`
	TenantName  string    `db:"tenant_name"`
	TenantEmail string    `db:"tenant_email"`
	ExpiresAt   time.Time `db:"expires_at"`
}

// RenewalCandidate is an active license approaching expiry, with the threshold
// (in days) of the last reminder already sent for its open opportunity, if any.
type RenewalCandidate struct {
	TenantID         string
	LicenseID        string
	LicenseName      string
	TenantName       string
	TenantEmail      string
	ExpiresAt        time.Time
	PriceAnnual      float64
	DaysUntilExpiry  int
	LastReminderDays *int
}

type RenewalOpportunity struct {
	ID               string    `json:"id" db:"id"`
	TenantID         string    `json:"tenant_id" db:"tenant_id"`
	LicenseID        string    `json:"license_id" db:"license_id"`
	RenewalPrice     float64   `json:"renewal_price" db:"renewal_price"`
	DaysUntilExpiry  int       `json:"days_until_expiry" db:"days_until_expiry"`
	LastReminderDays int       `json:"last_reminder_days" db:"last_reminder_days"`
	ExpiresAt        time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// StatusTransition is one row moved by a status-sync pass.
type StatusTransition struct {
	TenantID  string
	LicenseID string
	From      LicenseStatus
	To        LicenseStatus
}

// ComplianceTarget is an active license with its limits and tenant contact.
type ComplianceTarget struct {
	TenantID    string
	LicenseID   string
	LicenseName string
	TenantName  string
	TenantEmail string
	Limits      LicenseLimits
}

type ViolationType string

const (
	ViolationUserLimitExceeded       ViolationType = "user_limit_exceeded"
	ViolationStorageLimitExceeded    ViolationType = "storage_limit_exceeded"
	ViolationAPICallLimitExceeded    ViolationType = "api_call_limit_exceeded"
	ViolationAssessmentLimitExceeded ViolationType = "assessment_limit_exceeded"
)

type ComplianceViolation struct {
	ID            string         `json:"id,omitempty" db:"id"`
	TenantID      string         `json:"tenant_id" db:"tenant_id"`
	LicenseID     string         `json:"license_id" db:"license_id"`
	ViolationType ViolationType  `json:"violation_type" db:"violation_type"`
	Severity      Severity       `json:"severity" db:"severity"`
	Description   string         `json:"description" db:"description"`
	Current       float64        `json:"current"`
	Limit         float64        `json:"limit"`
	DetectedAt    time.Time      `json:"detected_at" db:"detected_at"`
	Metrics       map[string]any `json:"metrics" db:"metrics"`
	NotifiedAt    *time.Time     `json:"notified_at,omitempty" db:"notified_at"`
}

// LicenseUtilization aggregates usage across every active assignment of one license SKU.
type LicenseUtilization struct {
	LicenseID            string
	LicenseName          string
	ActiveLicenses       int64
	AvgUtilization       float64
	TotalRevenue         float64
	HighUtilizationCount int64
}

// ConcurrencyAnomaly is a tenant whose recent session count crossed the anomaly threshold.
type ConcurrencyAnomaly struct {
	TenantID        string
	ConcurrentUsers int64
	LastActivity    time.Time
}
