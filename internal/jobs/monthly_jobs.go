package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"licenseops/internal/models"
	"licenseops/internal/repositories"
	"licenseops/internal/services"

	"github.com/google/uuid"
)

const (
	JobBillingCycles    = "billing-cycles"
	JobQuarterlyReports = "quarterly-reports"
	JobAnnualReviews    = "annual-reviews"
)

// InvoiceNumber formats INV-<yyyymm>-<first 8 hex of id>.
func InvoiceNumber(issued time.Time, id string) string {
	short := strings.ToUpper(strings.ReplaceAll(id, "-", ""))
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("INV-%s-%s", issued.UTC().Format("200601"), short)
}

// unsentLookback bounds how far back BillingCycles retries undelivered
// invoice emails.
const unsentLookback = 45 * 24 * time.Hour

// BillingCycles issues the invoices that are due, then emails every issued
// invoice not yet delivered. An invoice is marked emailed only after its send
// succeeds, so a failed send is retried on the next run.
func (j *LicenseJobs) BillingCycles(ctx context.Context) error {
	now := j.Clock.Now()
	licenses, err := j.Billing.BillableLicenses(ctx, now)
	if err != nil {
		return err
	}

	_, issueErr := RunBatch(ctx, j.batch, JobBillingCycles, ContinueOnError, licenses,
		func(l models.BillableLicense) Item { return Item{TenantID: l.TenantID, LicenseID: l.LicenseID} },
		func(ctx context.Context, l models.BillableLicense) error {
			return j.issue(ctx, l, now)
		})

	unsent, err := j.Billing.UnsentInvoices(ctx, now.Add(-unsentLookback))
	if err != nil {
		return errors.Join(issueErr, err)
	}
	_, sendErr := RunBatch(ctx, j.batch, JobBillingCycles, ContinueOnError, unsent,
		func(inv models.PendingInvoice) Item { return Item{TenantID: inv.TenantID, LicenseID: inv.LicenseID} },
		j.deliverInvoice)
	return errors.Join(issueErr, sendErr)
}

func (j *LicenseJobs) issue(ctx context.Context, l models.BillableLicense, now time.Time) error {
	id := uuid.NewString()
	inv := models.Invoice{
		ID:                 id,
		InvoiceNumber:      InvoiceNumber(now, id),
		TenantID:           l.TenantID,
		LicenseID:          l.LicenseID,
		Amount:             l.PriceMonthly,
		Currency:           "USD",
		BillingPeriodStart: l.NextBillingDate,
		BillingPeriodEnd:   l.NextBillingDate.AddDate(0, 1, 0),
		DueDate:            now.AddDate(0, 0, j.Settings.InvoiceDueDays),
		Status:             models.InvoiceStatusPending,
		IssuedAt:           now,
	}

	if err := j.Billing.IssueInvoice(ctx, l, &inv); err != nil {
		if errors.Is(err, repositories.ErrAlreadyBilled) {
			j.Logger.Info("billing period already invoiced", "tenant_id", l.TenantID, "license_id", l.LicenseID)
			return nil
		}
		return err
	}

	j.archive(ctx, services.InvoiceObject(l.TenantID, inv.InvoiceNumber, "json"), inv)
	j.Events.LogEvent(ctx, models.SystemEvent{
		Type:      models.EventInvoiceIssued,
		TenantID:  l.TenantID,
		LicenseID: l.LicenseID,
		Severity:  models.SeverityLow,
		Details:   models.JSONB{"invoice_number": inv.InvoiceNumber, "amount": inv.Amount, "currency": inv.Currency},
	})
	return nil
}

func (j *LicenseJobs) deliverInvoice(ctx context.Context, inv models.PendingInvoice) error {
	pdf, err := services.RenderInvoicePDF(inv)
	if err != nil {
		j.Logger.Warn("invoice pdf render failed", "invoice", inv.InvoiceNumber, "error", err)
	} else {
		j.archiveBytes(ctx, services.InvoiceObject(inv.TenantID, inv.InvoiceNumber, "pdf"), pdf, "application/pdf")
	}

	if err := j.Mailer.SendInvoice(ctx, services.InvoiceEmailData{
		TenantEmail:   inv.BillingEmail,
		TenantName:    inv.TenantName,
		LicenseName:   inv.LicenseName,
		InvoiceNumber: inv.InvoiceNumber,
		Amount:        inv.Amount,
		Currency:      inv.Currency,
		DueDate:       inv.DueDate,
		PDF:           pdf,
	}); err != nil {
		return err
	}
	return j.Billing.MarkInvoiceEmailed(ctx, inv.ID, j.Clock.Now())
}

// PreviousQuarter returns the bounds and number of the last completed quarter
// before now.
func PreviousQuarter(now time.Time) (from, to time.Time, year, quarter int) {
	now = now.UTC()
	startMonth := time.Month((int(now.Month())-1)/3*3 + 1)
	to = time.Date(now.Year(), startMonth, 1, 0, 0, 0, 0, time.UTC)
	from = to.AddDate(0, -3, 0)
	return from, to, from.Year(), (int(from.Month())-1)/3 + 1
}

// QuarterlyReports summarises the last completed quarter for the report
// recipients and archives the figures.
func (j *LicenseJobs) QuarterlyReports(ctx context.Context) error {
	from, to, year, quarter := PreviousQuarter(j.Clock.Now())

	m, err := j.Reports.QuarterlyMetrics(ctx, from, to)
	if err != nil {
		return err
	}
	j.archive(ctx, services.QuarterlyReportObject(year, quarter), map[string]any{
		"year":         year,
		"quarter":      quarter,
		"period_start": from,
		"period_end":   to,
		"metrics":      m,
	})

	if len(j.Settings.ReportRecipients) == 0 {
		j.Logger.Warn("no report recipients configured, quarterly report not emailed", "job", JobQuarterlyReports)
		return nil
	}
	return j.Mailer.SendQuarterlyReport(ctx, services.QuarterlyReportData{
		Recipients: j.Settings.ReportRecipients,
		Quarter:    quarter,
		Year:       year,
		Metrics:    m,
	})
}

// AnnualReviews schedules one review per tenant and year. The notice is marked
// sent only after the email goes out, so re-runs neither duplicate the row nor
// resend a delivered notice, but do retry a failed one.
func (j *LicenseJobs) AnnualReviews(ctx context.Context) error {
	now := j.Clock.Now()
	year := now.Year()

	candidates, err := j.Reports.AnnualReviewCandidates(ctx, now.AddDate(-1, 0, 0))
	if err != nil {
		return err
	}

	_, err = RunBatch(ctx, j.batch, JobAnnualReviews, ContinueOnError, candidates,
		func(c models.AnnualReviewCandidate) Item { return Item{TenantID: c.TenantID} },
		func(ctx context.Context, c models.AnnualReviewCandidate) error {
			pending, err := j.Reports.ScheduleAnnualReview(ctx, c, year)
			if err != nil || !pending {
				return err
			}
			if err := j.Mailer.SendAnnualReview(ctx, services.AnnualReviewData{
				TenantEmail:  c.TenantEmail,
				TenantName:   c.TenantName,
				Year:         year,
				AnnualSpend:  c.AnnualSpend,
				LicenseCount: c.LicenseCount,
			}); err != nil {
				return err
			}
			return j.Reports.MarkAnnualReviewNotified(ctx, c.TenantID, year, j.Clock.Now())
		})
	return err
}
