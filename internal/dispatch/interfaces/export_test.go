package interfaces

import (
	"bytes"
	"testing"
	"time"

	dispatchapp "terminal-cloud/internal/dispatch/application"
	dispatch "terminal-cloud/internal/dispatch/domain"
)

func fixtureFleet() ([]dispatchapp.DeviceStatus, map[string][]dispatch.Command) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	code := 0
	devices := []dispatchapp.DeviceStatus{
		{SN: "SN100", LastSeenAt: now, Addr: "10.0.0.9:51846", Pending: 1,
			Info: &dispatch.Info{FirmwareVersion: "Ver 6.60", UserCount: 12}},
		{SN: "SN200", Pending: 0},
	}
	history := map[string][]dispatch.Command{
		"SN100": {
			{DeviceSN: "SN100", ID: 1, Type: dispatch.TypeData, State: dispatch.StateAcknowledged,
				CreatedAt: now, Attempts: 1, ReturnCode: &code},
			{DeviceSN: "SN100", ID: 2, Type: dispatch.TypeCheck, State: dispatch.StateSent,
				CreatedAt: now, Attempts: 1},
		},
	}
	return devices, history
}

func TestBuildCommandsXLSX(t *testing.T) {
	devices, history := fixtureFleet()
	data, err := BuildCommandsXLSX(devices, history)
	if err != nil {
		t.Fatalf("BuildCommandsXLSX error: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("empty workbook")
	}
	// XLSX is a zip container.
	if !bytes.HasPrefix(data, []byte("PK")) {
		t.Fatalf("unexpected magic: %q", data[:2])
	}
}

func TestBuildFleetPDF(t *testing.T) {
	devices, history := fixtureFleet()
	data, err := BuildFleetPDF(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), devices, history)
	if err != nil {
		t.Fatalf("BuildFleetPDF error: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		t.Fatal("not a PDF document")
	}
}
