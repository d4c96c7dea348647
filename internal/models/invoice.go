package models

import (
	"time"
)

type InvoiceStatus string

const (
	InvoiceStatusPending InvoiceStatus = "pending"
	InvoiceStatusPaid    InvoiceStatus = "paid"
	InvoiceStatusOverdue InvoiceStatus = "overdue"
)

type Invoice struct {
	ID                 string        `json:"id" db:"id"`
	InvoiceNumber      string        `json:"invoice_number" db:"invoice_number"`
	TenantID           string        `json:"tenant_id" db:"tenant_id"`
	LicenseID          string        `json:"license_id" db:"license_id"`
	Amount             float64       `json:"amount" db:"amount"`
	Currency           string        `json:"currency" db:"currency"`
	BillingPeriodStart time.Time     `json:"billing_period_start" db:"billing_period_start"`
	BillingPeriodEnd   time.Time     `json:"billing_period_end" db:"billing_period_end"`
	DueDate            time.Time     `json:"due_date" db:"due_date"`
	Status             InvoiceStatus `json:"status" db:"status"`
	IssuedAt           time.Time     `json:"issued_at" db:"issued_at"`
	EmailedAt          *time.Time    `json:"emailed_at,omitempty" db:"emailed_at"`
}

// PendingInvoice is an issued invoice whose email has not been delivered yet,
// with the contact details needed to send it.
type PendingInvoice struct {
	Invoice
	TenantName   string `json:"tenant_name"`
	LicenseName  string `json:"license_name"`
	BillingEmail string `json:"billing_email"`
}

// BillableLicense is a monthly-billed license whose next billing date has arrived.
type BillableLicense struct {
	TenantLicenseID string
	TenantID        string
	LicenseID       string
	LicenseName     string
	TenantName      string
	BillingEmail    string
	PriceMonthly    float64
	NextBillingDate time.Time
}
