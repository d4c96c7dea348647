package models

import (
	"time"
)

// Urgency orders notifications by severity. The expiry levels (early_warning,
// warning, urgent) are carried as-is from the license-expiry windows.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"

	UrgencyEarlyWarning Urgency = "early_warning"
	UrgencyWarning      Urgency = "warning"
	UrgencyUrgent       Urgency = "urgent"
)

// Notification is a transient message fanned out by the notifier. An empty
// TenantID means system scope.
type Notification struct {
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Urgency   Urgency        `json:"urgency"`
	TenantID  string         `json:"tenantId,omitempty"`
	ActionURL string         `json:"actionUrl,omitempty"`
	Category  string         `json:"category,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// InAppNotification is the persisted in-app record of a Notification.
type InAppNotification struct {
	ID        string    `json:"id" db:"id"`
	TenantID  *string   `json:"tenant_id" db:"tenant_id"`
	Type      string    `json:"type" db:"type"`
	Title     string    `json:"title" db:"title"`
	Message   string    `json:"message" db:"message"`
	Urgency   Urgency   `json:"urgency" db:"urgency"`
	ActionURL *string   `json:"action_url" db:"action_url"`
	Category  *string   `json:"category" db:"category"`
	Metadata  JSONB     `json:"metadata" db:"metadata"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
