package models

// Tenant is the subset of a tenant organization the license jobs address.
type Tenant struct {
	ID           string `json:"id" db:"id"`
	Name         string `json:"name" db:"name"`
	Email        string `json:"email" db:"email"`
	BillingEmail string `json:"billing_email" db:"billing_email"`
}

// TenantLicenseRef identifies one license assignment.
type TenantLicenseRef struct {
	TenantID  string `json:"tenant_id" db:"tenant_id"`
	LicenseID string `json:"license_id" db:"license_id"`
}
