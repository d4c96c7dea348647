package models

import (
	"time"
)

// JSONB is a free-form jsonb column value.
type JSONB map[string]any

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Event types written to the system_events audit trail.
const (
	EventLicenseExpiryCheck = "license_expiry_check"
	EventUsageLimitWarning  = "usage_limit_warning"
	EventLicenseStatusSync  = "license_status_transition"
	EventJobItemFailed      = "job_item_failed"
	EventRenewalReminder    = "renewal_reminder_sent"
	EventInvoiceIssued      = "invoice_issued"
	EventAdminAction        = "admin_action"
	EventMaintenance        = "database_maintenance"
)

// SystemEvent is one append-only audit entry.
type SystemEvent struct {
	Type      string    `json:"type" db:"event_type"`
	TenantID  string    `json:"tenant_id,omitempty" db:"tenant_id"`
	LicenseID string    `json:"license_id,omitempty" db:"license_id"`
	UserID    string    `json:"user_id,omitempty" db:"user_id"`
	Details   JSONB     `json:"details" db:"details"`
	Severity  Severity  `json:"severity" db:"severity"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
