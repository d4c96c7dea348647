package services

import (
	"bytes"
	"fmt"

	"licenseops/internal/models"

	"github.com/jung-kurt/gofpdf"
)

// RenderInvoicePDF lays out a single-line license invoice on one A4 page.
func RenderInvoicePDF(inv models.PendingInvoice) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	marginX := 20.0
	marginY := 20.0
	pdf.SetMargins(marginX, marginY, marginX)
	pdf.SetAutoPageBreak(true, marginY)

	pdf.SetFont("Arial", "B", 16)
	pdf.SetTextColor(33, 37, 41)
	pdf.SetXY(marginX, marginY)
	pdf.Cell(0, 10, "LICENSE INVOICE")
	pdf.Ln(15)

	pdf.SetFont("Arial", "B", 12)
	pdf.Cell(0, 8, fmt.Sprintf("Invoice Number: %s", inv.InvoiceNumber))
	pdf.Ln(8)
	pdf.Cell(0, 8, fmt.Sprintf("Invoice Date: %s", inv.IssuedAt.Format("02-Jan-2006")))
	pdf.Ln(8)
	pdf.Cell(0, 8, fmt.Sprintf("Due Date: %s", inv.DueDate.Format("02-Jan-2006")))
	pdf.Ln(13)

	pdf.SetFont("Arial", "B", 11)
	pdf.Cell(0, 8, "BILL TO:")
	pdf.Ln(6)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, inv.TenantName)
	pdf.Ln(6)
	pdf.Cell(0, 6, inv.BillingEmail)
	pdf.Ln(10)

	pdf.SetFont("Arial", "B", 10)
	pdf.SetFillColor(240, 240, 240)
	headers := []string{"Description", "Period", "Amount"}
	colWidths := []float64{80, 60, 30}
	for i, header := range headers {
		pdf.CellFormat(colWidths[i], 8, header, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(8)

	pdf.SetFont("Arial", "", 10)
	period := fmt.Sprintf("%s - %s",
		inv.BillingPeriodStart.Format("02-Jan-2006"),
		inv.BillingPeriodEnd.Format("02-Jan-2006"))
	pdf.CellFormat(colWidths[0], 8, inv.LicenseName+" license", "1", 0, "L", false, 0, "")
	pdf.CellFormat(colWidths[1], 8, period, "1", 0, "C", false, 0, "")
	pdf.CellFormat(colWidths[2], 8, fmt.Sprintf("%.2f", inv.Amount), "1", 0, "R", false, 0, "")
	pdf.Ln(13)

	pdf.SetFont("Arial", "B", 11)
	pdf.SetTextColor(220, 20, 60)
	pdf.CellFormat(140, 8, "TOTAL ("+inv.Currency+"):", "", 0, "R", false, 0, "")
	pdf.CellFormat(30, 8, fmt.Sprintf("%.2f", inv.Amount), "", 0, "R", false, 0, "")
	pdf.Ln(15)

	pdf.SetFont("Arial", "I", 8)
	pdf.SetTextColor(128, 128, 128)
	pdf.Cell(0, 5, "This is a computer generated invoice. Thank you for your business!")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render invoice pdf: %w", err)
	}
	return buf.Bytes(), nil
}
