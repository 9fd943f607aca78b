// Package iclock implements the device-facing push protocol endpoints.
// Terminals are unforgiving HTTP clients: once past the SN check, every
// outcome is a 200 so a struggling server never wedges a device into a
// retry loop.
package iclock

import (
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	dispatchapp "terminal-cloud/internal/dispatch/application"
	"terminal-cloud/internal/eventing"
	"terminal-cloud/internal/observability/metrics"
	"terminal-cloud/internal/wire"
)

// maxReplyBody bounds a single reply submission.
const maxReplyBody = 1 << 20

// Handler serves /iclock/devicecmd and /iclock/getrequest.
type Handler struct {
	engine *dispatchapp.Engine
	logger *log.Logger
}

// NewHandler constructs a device protocol handler.
func NewHandler(engine *dispatchapp.Engine, logger *log.Logger) (*Handler, error) {
	if engine == nil {
		return nil, errors.New("iclock handler: nil engine")
	}
	if logger == nil {
		return nil, errors.New("iclock handler: nil logger")
	}
	return &Handler{engine: engine, logger: logger}, nil
}

// ServeHTTP handles GET (poll) and POST (reply) on /iclock/devicecmd.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handlePoll(w, r)
	case http.MethodPost:
		h.handleReply(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// Heartbeat handles GET /iclock/getrequest, the older poll alias that
// carries an INFO blob. It behaves exactly as a poll.
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	h.handlePoll(w, r)
}

func (h *Handler) handlePoll(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	sn := r.URL.Query().Get("SN")
	if sn == "" {
		// Missing serial means a misconfigured device, not a protocol
		// reply. This is the one path that may refuse.
		metrics.IncPoll(metrics.ResultError)
		http.Error(w, "SN required", http.StatusBadRequest)
		return
	}
	h.engine.ObserveAddr(sn, r.RemoteAddr)

	ctx := eventing.WithDeviceSN(r.Context(), sn)
	batch, err := h.engine.Poll(ctx, sn, r.URL.Query().Get("INFO"))
	if err != nil {
		// The device cannot act on an error status. Log it and hand back
		// an empty batch.
		h.logger.Printf("iclock: poll sn=%s error: %v", sn, err)
		metrics.IncPoll(metrics.ResultError)
		writeProtocol(w, nil)
		return
	}
	metrics.IncPoll(metrics.ResultSuccess)
	metrics.ObservePollLatency(metrics.ResultSuccess, time.Since(started).Seconds())
	writeProtocol(w, wire.EncodeCommands(batch))
}

func (h *Handler) handleReply(w http.ResponseWriter, r *http.Request) {
	sn := r.URL.Query().Get("SN")
	if sn == "" {
		http.Error(w, "SN required", http.StatusBadRequest)
		return
	}
	h.engine.ObserveAddr(sn, r.RemoteAddr)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxReplyBody))
	if err != nil {
		h.logger.Printf("iclock: reply sn=%s read error: %v", sn, err)
		writeOK(w)
		return
	}
	defer r.Body.Close()

	records, decodeErrs := wire.DecodeReplies(body)
	for _, decodeErr := range decodeErrs {
		metrics.IncReplyLine(metrics.ReplyMalformed)
		h.logger.Printf("iclock: reply sn=%s %v", sn, decodeErr)
	}
	outcome, err := h.engine.ApplyReplies(eventing.WithDeviceSN(r.Context(), sn), sn, records)
	if err != nil {
		h.logger.Printf("iclock: reply sn=%s apply error: %v", sn, err)
		writeOK(w)
		return
	}
	if outcome.Unknown > 0 {
		h.logger.Printf("iclock: reply sn=%s ignored %d reply line(s) for unknown command ids", sn, outcome.Unknown)
	}
	writeOK(w)
}

// writeProtocol emits a poll response: plain text command lines, or an
// empty body when nothing is pending. The Date header is set explicitly
// in GMT; older firmware uses it to sync its clock.
func writeProtocol(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("Date", time.Now().UTC().Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)
	if len(body) > 0 {
		_, _ = w.Write(body)
	}
}

// writeOK emits the fixed acknowledgment body the firmware expects.
func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("Content-Length", "2")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
