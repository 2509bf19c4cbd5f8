package http

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"safesignal-button/internal/ratelimit"
	"safesignal-button/internal/transport"
)

// maintenanceReport is the snapshot a technician downloads from the device.
type maintenanceReport struct {
	Status      transport.DeviceStatus
	RateLimit   ratelimit.Status
	Pending     []pendingAlert
	Transports  map[string]bool
	GeneratedAt time.Time
}

// buildReportPDF renders a minimal PDF maintenance report.
func buildReportPDF(rep maintenanceReport) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Panic Button Maintenance Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	lines := []string{
		fmt.Sprintf("Device: %s", rep.Status.DeviceID),
		fmt.Sprintf("Tenant: %s", rep.Status.TenantID),
		fmt.Sprintf("Location: %s / %s", rep.Status.BuildingID, rep.Status.RoomID),
		fmt.Sprintf("Firmware: %s", rep.Status.Version),
		fmt.Sprintf("Uptime (s): %d", rep.Status.Uptime),
		fmt.Sprintf("Generated: %s", rep.GeneratedAt.Format(time.RFC3339)),
	}
	for _, line := range lines {
		pdf.Cell(0, 6, line)
		pdf.Ln(5)
	}

	pdf.Ln(4)
	q := rep.Status.Queue
	pdf.Cell(0, 6, fmt.Sprintf("Queue: pending=%d enqueued=%d delivered=%d expired=%d failed=%d",
		q.PendingCount, q.TotalEnqueued, q.TotalDelivered, q.TotalExpired, q.TotalFailed))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Rate limit: count=%d cooling_down=%t", rep.RateLimit.Count, rep.RateLimit.CoolingDown))
	pdf.Ln(5)
	for name, up := range rep.Transports {
		pdf.Cell(0, 6, fmt.Sprintf("Transport %s connected: %t", name, up))
		pdf.Ln(5)
	}
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(20, 6, "Slot", "1", 0, "C", false, 0, "")
	pdf.CellFormat(70, 6, "Alert Key", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Retries", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Created (s)", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Mode", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, p := range rep.Pending {
		pdf.CellFormat(20, 6, fmt.Sprintf("%d", p.Slot), "1", 0, "C", false, 0, "")
		pdf.CellFormat(70, 6, p.AlertKey, "1", 0, "L", false, 0, "")
		pdf.CellFormat(25, 6, fmt.Sprintf("%d", p.RetryCount), "1", 0, "R", false, 0, "")
		pdf.CellFormat(35, 6, fmt.Sprintf("%d", p.CreatedAtUptime), "1", 0, "R", false, 0, "")
		pdf.CellFormat(25, 6, p.Mode, "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// buildReportXLSX renders the same report as a workbook with summary and pending sheets.
func buildReportXLSX(rep maintenanceReport) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	summarySheet := "summary"
	pendingSheet := "pending"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(pendingSheet); err != nil {
		return nil, err
	}

	q := rep.Status.Queue
	summary := [][2]any{
		{"Device", rep.Status.DeviceID},
		{"Tenant", rep.Status.TenantID},
		{"Building", rep.Status.BuildingID},
		{"Room", rep.Status.RoomID},
		{"Firmware", rep.Status.Version},
		{"Uptime (s)", rep.Status.Uptime},
		{"Pending", q.PendingCount},
		{"Total Enqueued", q.TotalEnqueued},
		{"Total Delivered", q.TotalDelivered},
		{"Total Expired", q.TotalExpired},
		{"Total Failed", q.TotalFailed},
		{"Rate Limit Count", rep.RateLimit.Count},
		{"Cooling Down", rep.RateLimit.CoolingDown},
		{"Generated", rep.GeneratedAt.Format(time.RFC3339)},
	}
	_ = f.SetCellValue(summarySheet, "A1", "Panic Button Maintenance Report")
	for i, row := range summary {
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", i+3), row[0])
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", i+3), row[1])
	}

	_ = f.SetCellValue(pendingSheet, "A1", "Slot")
	_ = f.SetCellValue(pendingSheet, "B1", "Alert Key")
	_ = f.SetCellValue(pendingSheet, "C1", "Retries")
	_ = f.SetCellValue(pendingSheet, "D1", "Created (s)")
	_ = f.SetCellValue(pendingSheet, "E1", "Mode")
	for i, p := range rep.Pending {
		row := i + 2
		_ = f.SetCellValue(pendingSheet, fmt.Sprintf("A%d", row), p.Slot)
		_ = f.SetCellValue(pendingSheet, fmt.Sprintf("B%d", row), p.AlertKey)
		_ = f.SetCellValue(pendingSheet, fmt.Sprintf("C%d", row), p.RetryCount)
		_ = f.SetCellValue(pendingSheet, fmt.Sprintf("D%d", row), p.CreatedAtUptime)
		_ = f.SetCellValue(pendingSheet, fmt.Sprintf("E%d", row), p.Mode)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
