package http

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"terminal-cloud/internal/audit"
	dispatchapp "terminal-cloud/internal/dispatch/application"
	dispatch "terminal-cloud/internal/dispatch/domain"
	"terminal-cloud/internal/eventing"
)

type recordingAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (a *recordingAudit) Log(ctx context.Context, entry audit.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

func newTestHandler(t *testing.T) (*Handler, *dispatchapp.Engine, *recordingAudit) {
	t.Helper()
	bus := eventing.NewInMemoryBus()
	publisher := eventing.NewPublisher(nil, nil, bus, bus)
	engine, err := dispatchapp.NewEngine(dispatch.DefaultConfig(), publisher, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("NewEngine error: %v", err)
	}
	auditLogger := &recordingAudit{}
	handler, err := NewHandler(engine, auditLogger)
	if err != nil {
		t.Fatalf("NewHandler error: %v", err)
	}
	return handler, engine, auditLogger
}

func TestEnqueueCommand(t *testing.T) {
	handler, engine, auditLogger := newTestHandler(t)

	body := `{"device_sn":"SN100","command_type":"DATA","payload":"UPDATE USERINFO PIN=7"}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/commands", strings.NewReader(body)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	var cmd dispatch.Command
	if err := json.Unmarshal(rec.Body.Bytes(), &cmd); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if cmd.ID != 1 || cmd.State != dispatch.StateCreated || cmd.DeviceSN != "SN100" {
		t.Fatalf("unexpected command: %+v", cmd)
	}

	got, err := engine.Command("SN100", 1)
	if err != nil {
		t.Fatalf("Command error: %v", err)
	}
	if got.Type != dispatch.TypeData {
		t.Fatalf("type = %s, want %s", got.Type, dispatch.TypeData)
	}

	auditLogger.mu.Lock()
	defer auditLogger.mu.Unlock()
	if len(auditLogger.entries) != 1 || auditLogger.entries[0].Action != "command.enqueue" {
		t.Fatalf("unexpected audit entries: %+v", auditLogger.entries)
	}
}

func TestEnqueueValidation(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	cases := []struct {
		name string
		body string
	}{
		{"invalid json", "{"},
		{"missing sn", `{"command_type":"DATA"}`},
		{"missing type", `{"device_sn":"SN100"}`},
		{"negative ttl", `{"device_sn":"SN100","command_type":"DATA","ttl_seconds":-5}`},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/commands", strings.NewReader(tc.body)))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", tc.name, rec.Code)
		}
	}
}

func TestGetCommandStatus(t *testing.T) {
	handler, engine, _ := newTestHandler(t)
	ctx := context.Background()
	if _, err := engine.Enqueue(ctx, "SN100", dispatch.TypeCheck, ""); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/commands?device_sn=SN100&command_id=1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var cmd dispatch.Command
	if err := json.Unmarshal(rec.Body.Bytes(), &cmd); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if cmd.ID != 1 || cmd.Type != dispatch.TypeCheck {
		t.Fatalf("unexpected command: %+v", cmd)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/commands?device_sn=SN100&command_id=99", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/commands?device_sn=SN100", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var list []dispatch.Command
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("history length = %d, want 1", len(list))
	}
}

func TestListDevices(t *testing.T) {
	handler, engine, _ := newTestHandler(t)
	ctx := context.Background()
	if _, err := engine.Poll(ctx, "SN100", "Ver 6.60,3,4,50"); err != nil {
		t.Fatalf("Poll error: %v", err)
	}
	if _, err := engine.Enqueue(ctx, "SN100", dispatch.TypeData, ""); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}

	rec := httptest.NewRecorder()
	handler.HandleDevices(rec, httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var views []DeviceView
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("devices = %d, want 1", len(views))
	}
	view := views[0]
	if view.SN != "SN100" || !view.Online || view.Pending != 1 {
		t.Fatalf("unexpected view: %+v", view)
	}
	if view.Info == nil || view.Info.FirmwareVersion != "Ver 6.60" {
		t.Fatalf("unexpected info: %+v", view.Info)
	}
}
