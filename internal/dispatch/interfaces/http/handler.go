// Package http provides the operator-facing JSON API.
package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"terminal-cloud/internal/audit"
	"terminal-cloud/internal/auth"
	dispatchapp "terminal-cloud/internal/dispatch/application"
	dispatch "terminal-cloud/internal/dispatch/domain"
	"terminal-cloud/internal/dispatch/interfaces"
	"terminal-cloud/internal/eventing"
)

// DefaultOnlineThreshold classifies a device as online when it has been
// seen within this window. Devices poll every few seconds.
const DefaultOnlineThreshold = 2 * time.Minute

// Handler provides command and device HTTP endpoints.
type Handler struct {
	engine          *dispatchapp.Engine
	auditLogger     audit.Logger
	onlineThreshold time.Duration
}

// NewHandler constructs a handler.
func NewHandler(engine *dispatchapp.Engine, auditLogger audit.Logger) (*Handler, error) {
	if engine == nil {
		return nil, errors.New("dispatch handler: nil engine")
	}
	return &Handler{
		engine:          engine,
		auditLogger:     auditLogger,
		onlineThreshold: DefaultOnlineThreshold,
	}, nil
}

// EnqueueRequest represents a command enqueue request.
type EnqueueRequest struct {
	DeviceSN    string `json:"device_sn"`
	CommandType string `json:"command_type"`
	Payload     string `json:"payload,omitempty"`
	TTLSeconds  int    `json:"ttl_seconds,omitempty"`
}

// DeviceView is a device session with a derived online flag.
type DeviceView struct {
	dispatchapp.DeviceStatus
	Online bool `json:"online"`
}

// ServeHTTP handles POST/GET /api/v1/commands.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleEnqueue(w, r)
	case http.MethodGet:
		h.handleGet(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req EnqueueRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.TTLSeconds < 0 {
		http.Error(w, "ttl_seconds must be positive", http.StatusBadRequest)
		return
	}

	ctx := eventing.WithDeviceSN(r.Context(), req.DeviceSN)
	cmd, err := h.engine.EnqueueTTL(ctx, req.DeviceSN, req.CommandType, req.Payload,
		time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(cmd)

	h.logAudit(r, cmd.DeviceSN, cmd.ID, cmd.Type)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	sn := r.URL.Query().Get("device_sn")
	if sn == "" {
		http.Error(w, "device_sn required", http.StatusBadRequest)
		return
	}
	if rawID := r.URL.Query().Get("command_id"); rawID != "" {
		id, err := strconv.ParseUint(rawID, 10, 64)
		if err != nil {
			http.Error(w, "command_id must be numeric", http.StatusBadRequest)
			return
		}
		cmd, err := h.engine.Command(sn, id)
		if err != nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(cmd)
		return
	}

	list, err := h.engine.Commands(sn)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list)
}

// HandleDevices handles GET /api/v1/devices.
func (h *Handler) HandleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	now := time.Now().UTC()
	statuses := h.engine.Devices()
	views := make([]DeviceView, 0, len(statuses))
	for _, status := range statuses {
		views = append(views, DeviceView{
			DeviceStatus: status,
			Online:       !status.LastSeenAt.IsZero() && now.Sub(status.LastSeenAt) <= h.onlineThreshold,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(views)
}

// HandleExportXLSX handles GET /api/v1/exports/commands.xlsx.
func (h *Handler) HandleExportXLSX(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	devices, history := h.fleet()
	data, err := interfaces.BuildCommandsXLSX(devices, history)
	if err != nil {
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="commands.xlsx"`)
	_, _ = w.Write(data)
}

// HandleFleetPDF handles GET /api/v1/reports/fleet.pdf.
func (h *Handler) HandleFleetPDF(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	devices, history := h.fleet()
	data, err := interfaces.BuildFleetPDF(time.Now().UTC(), devices, history)
	if err != nil {
		http.Error(w, "report failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="fleet.pdf"`)
	_, _ = w.Write(data)
}

func (h *Handler) fleet() ([]dispatchapp.DeviceStatus, map[string][]dispatch.Command) {
	devices := h.engine.Devices()
	history := make(map[string][]dispatch.Command, len(devices))
	for _, device := range devices {
		cmds, err := h.engine.Commands(device.SN)
		if err != nil {
			continue
		}
		history[device.SN] = cmds
	}
	return devices, history
}

func (h *Handler) logAudit(r *http.Request, sn string, commandID uint64, commandType string) {
	if h.auditLogger == nil {
		return
	}
	meta, _ := json.Marshal(map[string]any{
		"command_type": commandType,
	})
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       "command.enqueue",
		ResourceType: "command",
		ResourceID:   strconv.FormatUint(commandID, 10),
		DeviceSN:     sn,
		Metadata:     meta,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}
