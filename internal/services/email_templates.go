package services

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"licenseops/internal/models"
)

// RenderedEmail is the provider-independent output of a template.
type RenderedEmail struct {
	Subject string
	HTML    string
	Text    string
}

type LicenseExpiryData struct {
	TenantEmail   string
	TenantName    string
	LicenseName   string
	ExpiresAt     time.Time
	DaysRemaining int
	Urgency       models.Urgency
	RenewURL      string
}

type RenewalReminderData struct {
	TenantEmail  string
	TenantName   string
	LicenseName  string
	ExpiresAt    time.Time
	RenewalPrice float64
	RenewalURL   string
}

type WeeklyUsageReportData struct {
	TenantEmail string
	TenantName  string
	Report      models.WeeklyReport
}

type InvoiceEmailData struct {
	TenantEmail   string
	TenantName    string
	LicenseName   string
	InvoiceNumber string
	Amount        float64
	Currency      string
	DueDate       time.Time
	PDF           []byte
}

type QuarterlyReportData struct {
	Recipients []string
	Quarter    int
	Year       int
	Metrics    models.QuarterlyMetrics
}

type AnnualReviewData struct {
	TenantEmail  string
	TenantName   string
	Year         int
	AnnualSpend  float64
	LicenseCount int64
}

type ComplianceViolationData struct {
	TenantEmail string
	TenantName  string
	LicenseName string
	Violations  []models.ComplianceViolation
	UpgradeURL  string
}

type JobFailureAlertData struct {
	Recipients          []string
	JobName             string
	ConsecutiveFailures int
	LastError           string
	FailedAt            time.Time
}

var urgencyBanner = map[models.Urgency]string{
	models.UrgencyEarlyWarning: "#FFA500",
	models.UrgencyWarning:      "#FF6B35",
	models.UrgencyUrgent:       "#FF4444",
	models.UrgencyCritical:     "#CC0000",
}

const htmlLayout = `{{define "layout"}}<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
<div style="background-color: {{.Color}}; color: white; padding: 20px; text-align: center;"><h1>{{.Heading}}</h1>{{if .Subheading}}<p>{{.Subheading}}</p>{{end}}</div>
<div style="padding: 20px;">{{template "body" .Data}}<p>Best regards,<br>Customer Success</p></div>
</div>{{end}}`

type layoutData struct {
	Color      string
	Heading    string
	Subheading string
	Data       any
}

var funcs = map[string]any{
	"date":  func(t time.Time) string { return t.Format("Jan 2, 2006") },
	"money": formatMoney,
	"join":  strings.Join,
}

func newHTML(body string) *htmltemplate.Template {
	t := htmltemplate.Must(htmltemplate.New("layout").Funcs(htmltemplate.FuncMap(funcs)).Parse(htmlLayout))
	return htmltemplate.Must(t.New("body").Parse(body))
}

func newText(body string) *texttemplate.Template {
	return texttemplate.Must(texttemplate.New("text").Funcs(texttemplate.FuncMap(funcs)).Parse(body))
}

var (
	expiryHTML = newHTML(`<p>Dear {{.TenantName}},</p>
<p>Your <strong>{{.LicenseName}}</strong> license will expire in <strong>{{.DaysRemaining}} days</strong> on {{date .ExpiresAt}}.</p>
<p>To avoid service interruption, please renew your license before the expiry date.</p>
{{if .RenewURL}}<p style="text-align: center;"><a href="{{.RenewURL}}">Renew License</a></p>{{end}}`)
	expiryText = newText(`License Expiry Notice: Your {{.LicenseName}} license expires in {{.DaysRemaining}} days on {{date .ExpiresAt}}. Please renew to avoid service interruption.{{if .RenewURL}} Renew at: {{.RenewURL}}{{end}}`)

	renewalHTML = newHTML(`<p>Hello {{.TenantName}},</p>
<p>Your <strong>{{.LicenseName}}</strong> license is approaching its renewal date ({{date .ExpiresAt}}).</p>
<p><strong>Renewal Price:</strong> {{money .RenewalPrice "USD"}}</p>
<p style="text-align: center;"><a href="{{.RenewalURL}}">Renew Now</a></p>
<p>Renewing early ensures uninterrupted service.</p>`)
	renewalText = newText(`License Renewal Reminder: Your {{.LicenseName}} license expires on {{date .ExpiresAt}}. Renewal price: {{money .RenewalPrice "USD"}}. Renew at: {{.RenewalURL}}`)

	weeklyHTML = newHTML(`<p>Hello {{.TenantName}},</p>
<p>Here's your weekly usage summary:</p>
<div style="background-color: #F8F9FA; padding: 15px;">
<p><strong>Active Users:</strong> {{.Report.Metrics.UsersActive}} ({{.Report.Trends.UsersGrowth}}%)</p>
<p><strong>Assessments Created:</strong> {{.Report.Metrics.AssessmentsCreated}} ({{.Report.Trends.AssessmentsGrowth}}%)</p>
<p><strong>Reports Generated:</strong> {{.Report.Metrics.ReportsGenerated}}</p>
<p><strong>Storage Used:</strong> {{printf "%.1f" .Report.Metrics.StorageUsedMb}} MB ({{.Report.Trends.StorageGrowth}}%)</p>
<p><strong>API Calls:</strong> {{.Report.Metrics.APICallsMade}}</p>
</div>
{{if .Report.Recommendations}}<h3>Recommendations</h3><ul>{{range .Report.Recommendations}}<li>{{.}}</li>{{end}}</ul>{{end}}`)
	weeklyText = newText(`Weekly Usage Report for {{.TenantName}}: Active Users: {{.Report.Metrics.UsersActive}}, Assessments: {{.Report.Metrics.AssessmentsCreated}}, Reports: {{.Report.Metrics.ReportsGenerated}}, Storage: {{printf "%.1f" .Report.Metrics.StorageUsedMb}} MB{{range .Report.Recommendations}}
- {{.}}{{end}}`)

	invoiceHTML = newHTML(`<p>Dear {{.TenantName}},</p>
<p>Please find your invoice details below:</p>
<div style="background-color: #F8F9FA; padding: 15px;">
<p><strong>Invoice Number:</strong> {{.InvoiceNumber}}</p>
{{if .LicenseName}}<p><strong>License:</strong> {{.LicenseName}}</p>{{end}}
<p><strong>Amount:</strong> {{money .Amount .Currency}}</p>
<p><strong>Due Date:</strong> {{date .DueDate}}</p>
</div>
<p>Thank you for your business!</p>`)
	invoiceText = newText(`Invoice {{.InvoiceNumber}} for {{.TenantName}}: Amount {{money .Amount .Currency}}, Due {{date .DueDate}}`)

	quarterlyHTML = newHTML(`<h3>Key Metrics</h3>
<div style="background-color: #F8F9FA; padding: 15px;">
<p><strong>Total Tenants:</strong> {{.Metrics.TotalTenants}}</p>
<p><strong>Active Licenses:</strong> {{.Metrics.ActiveLicenses}}</p>
<p><strong>Total ARR:</strong> {{money .Metrics.TotalARR "USD"}}</p>
<p><strong>Average Users per Tenant:</strong> {{printf "%.1f" .Metrics.AvgUsersPerTenant}}</p>
<p><strong>New Tenants:</strong> {{.Metrics.NewTenants}}</p>
<p><strong>Churned Tenants:</strong> {{.Metrics.ChurnedTenants}}</p>
</div>`)
	quarterlyText = newText(`Q{{.Quarter}} {{.Year}} Quarterly Report: {{.Metrics.TotalTenants}} tenants, {{.Metrics.ActiveLicenses}} active licenses, {{money .Metrics.TotalARR "USD"}} ARR, {{.Metrics.NewTenants}} new, {{.Metrics.ChurnedTenants}} churned`)

	annualHTML = newHTML(`<p>Dear {{.TenantName}},</p>
<p>It's time for your {{.Year}} annual license review. We'll be reaching out to discuss:</p>
<ul><li>Your current usage and needs</li><li>Potential optimizations</li><li>Renewal terms for the upcoming year</li></ul>
<div style="background-color: #F8F9FA; padding: 15px;">
<p><strong>Annual Spend:</strong> {{money .AnnualSpend "USD"}}</p>
<p><strong>License Count:</strong> {{.LicenseCount}}</p>
</div>`)
	annualText = newText(`Annual License Review scheduled for {{.TenantName}}. Annual spend: {{money .AnnualSpend "USD"}}, Licenses: {{.LicenseCount}}`)

	complianceHTML = newHTML(`<p>Dear {{.TenantName}},</p>
<p>Your <strong>{{.LicenseName}}</strong> license is over its limits:</p>
<ul>{{range .Violations}}<li>{{.Description}}</li>{{end}}</ul>
<p style="text-align: center;"><a href="{{.UpgradeURL}}">Upgrade License</a></p>`)
	complianceText = newText(`License Compliance Violation for {{.TenantName}} ({{.LicenseName}}):{{range .Violations}}
- {{.Description}}{{end}}
Upgrade at: {{.UpgradeURL}}`)

	jobFailureHTML = newHTML(`<p>The scheduled job <strong>{{.JobName}}</strong> has failed {{.ConsecutiveFailures}} times in a row.</p>
<p><strong>Last failure:</strong> {{.FailedAt.UTC.Format "2006-01-02 15:04:05 MST"}}</p>
<pre style="background-color: #F8F9FA; padding: 15px;">{{.LastError}}</pre>`)
	jobFailureText = newText(`Job {{.JobName}} failed {{.ConsecutiveFailures}} times in a row. Last error at {{.FailedAt.UTC.Format "2006-01-02 15:04:05 MST"}}: {{.LastError}}`)
)

func render(subject string, html *htmltemplate.Template, text *texttemplate.Template, layout layoutData) (RenderedEmail, error) {
	var h, t bytes.Buffer
	if err := html.ExecuteTemplate(&h, "layout", layout); err != nil {
		return RenderedEmail{}, fmt.Errorf("render html for %q: %w", subject, err)
	}
	if err := text.Execute(&t, layout.Data); err != nil {
		return RenderedEmail{}, fmt.Errorf("render text for %q: %w", subject, err)
	}
	return RenderedEmail{Subject: subject, HTML: h.String(), Text: t.String()}, nil
}

func RenderLicenseExpiry(d LicenseExpiryData) (RenderedEmail, error) {
	color, ok := urgencyBanner[d.Urgency]
	if !ok {
		color = urgencyBanner[models.UrgencyEarlyWarning]
	}
	subject := fmt.Sprintf("⚠️ License Expiring in %d days - %s", d.DaysRemaining, d.LicenseName)
	return render(subject, expiryHTML, expiryText, layoutData{Color: color, Heading: "License Expiry Notice", Data: d})
}

func RenderRenewalReminder(d RenewalReminderData) (RenderedEmail, error) {
	subject := fmt.Sprintf("🔄 Time to Renew: %s", d.LicenseName)
	return render(subject, renewalHTML, renewalText, layoutData{Color: "#28A745", Heading: "License Renewal Reminder", Data: d})
}

func RenderWeeklyUsageReport(d WeeklyUsageReportData) (RenderedEmail, error) {
	period := fmt.Sprintf("%s to %s", d.Report.PeriodStart.Format("Jan 2, 2006"), d.Report.PeriodEnd.Format("Jan 2, 2006"))
	subject := "📊 Weekly Usage Report - " + period
	return render(subject, weeklyHTML, weeklyText, layoutData{Color: "#17A2B8", Heading: "Weekly Usage Report", Subheading: period, Data: d})
}

func RenderInvoice(d InvoiceEmailData) (RenderedEmail, error) {
	if d.Currency == "" {
		d.Currency = "USD"
	}
	subject := fmt.Sprintf("💰 Invoice %s - Due %s", d.InvoiceNumber, d.DueDate.Format("Jan 2, 2006"))
	return render(subject, invoiceHTML, invoiceText, layoutData{Color: "#6C757D", Heading: "Invoice", Subheading: "Invoice #" + d.InvoiceNumber, Data: d})
}

func RenderQuarterlyReport(d QuarterlyReportData) (RenderedEmail, error) {
	subject := fmt.Sprintf("📈 Q%d %d Quarterly Business Report", d.Quarter, d.Year)
	return render(subject, quarterlyHTML, quarterlyText, layoutData{Color: "#6F42C1", Heading: "Quarterly Business Report", Subheading: fmt.Sprintf("Q%d %d", d.Quarter, d.Year), Data: d})
}

func RenderAnnualReview(d AnnualReviewData) (RenderedEmail, error) {
	subject := fmt.Sprintf("📅 Annual License Review Scheduled - %s", d.TenantName)
	return render(subject, annualHTML, annualText, layoutData{Color: "#FD7E14", Heading: "Annual License Review", Data: d})
}

func RenderComplianceViolation(d ComplianceViolationData) (RenderedEmail, error) {
	subject := fmt.Sprintf("🚫 License Limit Exceeded - %s", d.LicenseName)
	return render(subject, complianceHTML, complianceText, layoutData{Color: "#CC0000", Heading: "License Compliance Violation", Data: d})
}

func RenderJobFailureAlert(d JobFailureAlertData) (RenderedEmail, error) {
	subject := fmt.Sprintf("🚨 Job %s failed %d times", d.JobName, d.ConsecutiveFailures)
	return render(subject, jobFailureHTML, jobFailureText, layoutData{Color: "#CC0000", Heading: "Scheduled Job Failure", Data: d})
}

func formatMoney(amount float64, currency string) string {
	if currency == "" || currency == "USD" {
		return fmt.Sprintf("$%.2f", amount)
	}
	return fmt.Sprintf("%.2f %s", amount, currency)
}
