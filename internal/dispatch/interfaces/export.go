// Package interfaces holds export builders shared by the operator API.
package interfaces

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	dispatchapp "terminal-cloud/internal/dispatch/application"
	dispatch "terminal-cloud/internal/dispatch/domain"
)

// BuildCommandsXLSX renders a workbook with a fleet summary sheet and one
// command history sheet covering every tracked device.
func BuildCommandsXLSX(devices []dispatchapp.DeviceStatus, history map[string][]dispatch.Command) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "devices"
	commandsSheet := "commands"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(commandsSheet)

	_ = f.SetCellValue(summarySheet, "A1", "Serial")
	_ = f.SetCellValue(summarySheet, "B1", "Last Seen")
	_ = f.SetCellValue(summarySheet, "C1", "Address")
	_ = f.SetCellValue(summarySheet, "D1", "Pending")
	_ = f.SetCellValue(summarySheet, "E1", "Firmware")
	for i, device := range devices {
		row := i + 2
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), device.SN)
		if !device.LastSeenAt.IsZero() {
			_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), device.LastSeenAt.Format(time.RFC3339))
		}
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("C%d", row), device.Addr)
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("D%d", row), device.Pending)
		if device.Info != nil {
			_ = f.SetCellValue(summarySheet, fmt.Sprintf("E%d", row), device.Info.FirmwareVersion)
		}
	}

	_ = f.SetCellValue(commandsSheet, "A1", "Serial")
	_ = f.SetCellValue(commandsSheet, "B1", "ID")
	_ = f.SetCellValue(commandsSheet, "C1", "Type")
	_ = f.SetCellValue(commandsSheet, "D1", "State")
	_ = f.SetCellValue(commandsSheet, "E1", "Created")
	_ = f.SetCellValue(commandsSheet, "F1", "Attempts")
	_ = f.SetCellValue(commandsSheet, "G1", "Return")
	row := 2
	for _, device := range devices {
		for _, cmd := range history[device.SN] {
			_ = f.SetCellValue(commandsSheet, fmt.Sprintf("A%d", row), cmd.DeviceSN)
			_ = f.SetCellValue(commandsSheet, fmt.Sprintf("B%d", row), cmd.ID)
			_ = f.SetCellValue(commandsSheet, fmt.Sprintf("C%d", row), cmd.Type)
			_ = f.SetCellValue(commandsSheet, fmt.Sprintf("D%d", row), string(cmd.State))
			_ = f.SetCellValue(commandsSheet, fmt.Sprintf("E%d", row), cmd.CreatedAt.Format(time.RFC3339))
			_ = f.SetCellValue(commandsSheet, fmt.Sprintf("F%d", row), cmd.Attempts)
			if cmd.ReturnCode != nil {
				_ = f.SetCellValue(commandsSheet, fmt.Sprintf("G%d", row), *cmd.ReturnCode)
			}
			row++
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildFleetPDF renders a fleet overview report.
func BuildFleetPDF(generatedAt time.Time, devices []dispatchapp.DeviceStatus, history map[string][]dispatch.Command) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Terminal Fleet Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", generatedAt.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Devices: %d", len(devices)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(45, 6, "Serial", "1", 0, "C", false, 0, "")
	pdf.CellFormat(45, 6, "Last Seen", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Pending", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Resolved", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Failed", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, device := range devices {
		var resolved, failed int
		for _, cmd := range history[device.SN] {
			switch cmd.State {
			case dispatch.StateAcknowledged:
				resolved++
			case dispatch.StateDeviceReportedError, dispatch.StateTimedOut, dispatch.StateAbandoned:
				failed++
			}
		}
		lastSeen := ""
		if !device.LastSeenAt.IsZero() {
			lastSeen = device.LastSeenAt.Format("2006-01-02 15:04:05")
		}
		pdf.CellFormat(45, 6, device.SN, "1", 0, "L", false, 0, "")
		pdf.CellFormat(45, 6, lastSeen, "1", 0, "C", false, 0, "")
		pdf.CellFormat(25, 6, fmt.Sprintf("%d", device.Pending), "1", 0, "R", false, 0, "")
		pdf.CellFormat(25, 6, fmt.Sprintf("%d", resolved), "1", 0, "R", false, 0, "")
		pdf.CellFormat(25, 6, fmt.Sprintf("%d", failed), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
