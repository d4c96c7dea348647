package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"licenseops/internal/models"

	"github.com/jackc/pgx/v5"
)

// ErrAlreadyBilled is returned when the billing date moved between selection and issue.
var ErrAlreadyBilled = errors.New("billing period already invoiced")

type BillingRepository interface {
	BillableLicenses(ctx context.Context, now time.Time) ([]models.BillableLicense, error)
	IssueInvoice(ctx context.Context, license models.BillableLicense, invoice *models.Invoice) error
	UnsentInvoices(ctx context.Context, since time.Time) ([]models.PendingInvoice, error)
	MarkInvoiceEmailed(ctx context.Context, invoiceID string, at time.Time) error
}

type billingRepo struct {
	store *DataStore
}

func NewBillingRepo(store *DataStore) BillingRepository {
	return &billingRepo{store: store}
}

func (r *billingRepo) BillableLicenses(ctx context.Context, now time.Time) ([]models.BillableLicense, error) {
	query := `
		SELECT tl.id, tl.tenant_id, tl.license_id, l.name, t.name,
			COALESCE(t.billing_email, t.email), l.price_monthly::float8, tl.next_billing_date
		FROM tenant_licenses tl
		JOIN licenses l ON tl.license_id = l.id
		JOIN tenants t ON tl.tenant_id = t.id
		WHERE tl.billing_cycle = 'monthly'
			AND tl.status = 'active'
			AND tl.next_billing_date <= $1
			AND l.price_monthly > 0
		ORDER BY tl.next_billing_date
	`
	rows, err := r.store.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("query billable licenses: %w", err)
	}
	defer rows.Close()

	var licenses []models.BillableLicense
	for rows.Next() {
		var b models.BillableLicense
		if err := rows.Scan(&b.TenantLicenseID, &b.TenantID, &b.LicenseID, &b.LicenseName, &b.TenantName,
			&b.BillingEmail, &b.PriceMonthly, &b.NextBillingDate); err != nil {
			return nil, err
		}
		licenses = append(licenses, b)
	}
	return licenses, rows.Err()
}

// IssueInvoice inserts the invoice and advances next_billing_date by one month
// atomically. The advance is conditioned on the billing date read earlier, so
// a concurrent or repeated run cannot bill the same period twice.
func (r *billingRepo) IssueInvoice(ctx context.Context, license models.BillableLicense, invoice *models.Invoice) error {
	return r.store.Transaction(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE tenant_licenses
			SET next_billing_date = next_billing_date + INTERVAL '1 month', updated_at = NOW()
			WHERE id = $1 AND next_billing_date = $2
		`, license.TenantLicenseID, license.NextBillingDate)
		if err != nil {
			return fmt.Errorf("advance billing date: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrAlreadyBilled
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO invoices (
				id, invoice_number, tenant_id, license_id, amount, currency,
				billing_period_start, billing_period_end, due_date, status, issued_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, invoice.ID, invoice.InvoiceNumber, invoice.TenantID, invoice.LicenseID, invoice.Amount, invoice.Currency,
			invoice.BillingPeriodStart, invoice.BillingPeriodEnd, invoice.DueDate, string(invoice.Status), invoice.IssuedAt)
		if err != nil {
			return fmt.Errorf("insert invoice: %w", err)
		}
		return nil
	})
}

// UnsentInvoices returns pending invoices issued since the given time whose
// email has not gone out.
func (r *billingRepo) UnsentInvoices(ctx context.Context, since time.Time) ([]models.PendingInvoice, error) {
	query := `
		SELECT i.id, i.invoice_number, i.tenant_id, i.license_id, i.amount::float8, i.currency,
			i.billing_period_start, i.billing_period_end, i.due_date, i.status, i.issued_at,
			t.name, l.name, COALESCE(t.billing_email, t.email)
		FROM invoices i
		JOIN tenants t ON i.tenant_id = t.id
		JOIN licenses l ON i.license_id = l.id
		WHERE i.emailed_at IS NULL
			AND i.status = 'pending'
			AND i.issued_at >= $1
		ORDER BY i.issued_at
	`
	rows, err := r.store.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("query unsent invoices: %w", err)
	}
	defer rows.Close()

	var pending []models.PendingInvoice
	for rows.Next() {
		var p models.PendingInvoice
		var status string
		if err := rows.Scan(&p.ID, &p.InvoiceNumber, &p.TenantID, &p.LicenseID, &p.Amount, &p.Currency,
			&p.BillingPeriodStart, &p.BillingPeriodEnd, &p.DueDate, &status, &p.IssuedAt,
			&p.TenantName, &p.LicenseName, &p.BillingEmail); err != nil {
			return nil, err
		}
		p.Status = models.InvoiceStatus(status)
		pending = append(pending, p)
	}
	return pending, rows.Err()
}

func (r *billingRepo) MarkInvoiceEmailed(ctx context.Context, invoiceID string, at time.Time) error {
	query := `UPDATE invoices SET emailed_at = $2 WHERE id = $1 AND emailed_at IS NULL`
	if _, err := r.store.Exec(ctx, query, invoiceID, at); err != nil {
		return fmt.Errorf("mark invoice %s emailed: %w", invoiceID, err)
	}
	return nil
}
