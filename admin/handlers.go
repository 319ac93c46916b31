package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/maxpert/sysfwd/forwarder"
	"github.com/maxpert/sysfwd/source"
	"github.com/maxpert/sysfwd/syslog"
)

const maxRequestBytes = 1 << 20 // 1MB

// Forwarder is what the admin API drives
type Forwarder interface {
	Status() forwarder.Status
	Watermark() (forwarder.Cursor, bool)
	RunCycle(ctx context.Context) (forwarder.CycleResult, error)
	TestMessage() error
	Message(text string, opts forwarder.MessageOptions) error
}

// AdminHandlers handles admin API endpoints
type AdminHandlers struct {
	fwd     Forwarder
	journal source.Appender // nil unless the journal source is active
	now     func() time.Time
}

// NewAdminHandlers creates a new AdminHandlers instance. journal may be nil.
func NewAdminHandlers(fwd Forwarder, journal source.Appender) *AdminHandlers {
	return &AdminHandlers{
		fwd:     fwd,
		journal: journal,
		now:     time.Now,
	}
}

type statusResponse struct {
	Status       forwarder.Status `json:"status"`
	Code         int              `json:"code"`
	Watermark    uint64           `json:"watermark"`
	HasWatermark bool             `json:"has_watermark"`
}

func (h *AdminHandlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := h.fwd.Status()
	wm, ok := h.fwd.Watermark()
	writeJSONResponse(w, statusResponse{
		Status:       status,
		Code:         int(status),
		Watermark:    uint64(wm),
		HasWatermark: ok,
	})
}

func (h *AdminHandlers) handleWatermark(w http.ResponseWriter, r *http.Request) {
	wm, ok := h.fwd.Watermark()
	writeJSONResponse(w, map[string]any{
		"watermark": uint64(wm),
		"set":       ok,
	})
}

type cycleResponse struct {
	Result forwarder.CycleResult `json:"result"`
	Error  string                `json:"error,omitempty"`
}

func (h *AdminHandlers) handleCycle(w http.ResponseWriter, r *http.Request) {
	result, err := h.fwd.RunCycle(r.Context())
	switch {
	case errors.Is(err, forwarder.ErrCycleInProgress):
		writeErrorResponse(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, forwarder.ErrInactive):
		writeErrorResponse(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	// Aborted cycles are a normal outcome; the status tells why
	resp := cycleResponse{Result: result}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSONResponse(w, resp)
}

func (h *AdminHandlers) handleTestMessage(w http.ResponseWriter, r *http.Request) {
	if err := h.fwd.TestMessage(); err != nil {
		writeSendError(w, err)
		return
	}
	writeJSONResponse(w, map[string]any{"sent": true})
}

type messageRequest struct {
	Text     string `json:"text"`
	Severity string `json:"severity"`
	Facility string `json:"facility"`
	Program  string `json:"program"`
}

func (h *AdminHandlers) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeBody(r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Text == "" {
		writeErrorResponse(w, http.StatusBadRequest, "text is required")
		return
	}

	err := h.fwd.Message(req.Text, forwarder.MessageOptions{
		Severity: req.Severity,
		Facility: req.Facility,
		Program:  req.Program,
	})
	if err != nil {
		writeSendError(w, err)
		return
	}
	writeJSONResponse(w, map[string]any{"sent": true})
}

// eventRequest is one journal event. Category accepts a name ("ERROR") or
// a numeric code (10205).
type eventRequest struct {
	SenderID  uint64          `json:"sender_id"`
	Category  json.RawMessage `json:"category"`
	Sender    string          `json:"sender"`
	Text      string          `json:"text"`
	Timestamp int64           `json:"timestamp"`
}

func (h *AdminHandlers) handleAppendEvents(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeErrorResponse(w, http.StatusNotFound, "journal source is not enabled")
		return
	}

	var reqs []eventRequest
	if err := decodeBody(r, &reqs); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	entries := make([]source.JournalEntry, 0, len(reqs))
	for i, req := range reqs {
		category, err := parseCategory(req.Category)
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("event %d: %v", i, err))
			return
		}

		ts := req.Timestamp
		if ts == 0 {
			ts = h.now().Unix()
		}
		entries = append(entries, source.JournalEntry{
			SenderID:  req.SenderID,
			Category:  category,
			Sender:    req.Sender,
			Text:      req.Text,
			Timestamp: ts,
		})
	}

	if err := h.journal.Append(entries); err != nil {
		log.Error().Err(err).Int("events", len(entries)).Msg("Failed to append events")
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	var lastSeq uint64
	if len(entries) > 0 {
		lastSeq = entries[len(entries)-1].Seq
	}
	writeJSONResponse(w, map[string]any{
		"appended": len(entries),
		"last_seq": lastSeq,
	})
}

func parseCategory(raw json.RawMessage) (forwarder.Category, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("category is required")
	}

	var code int
	if err := json.Unmarshal(raw, &code); err == nil {
		return forwarder.Category(code), nil
	}

	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return 0, fmt.Errorf("invalid category %s", raw)
	}
	return forwarder.ParseCategory(name)
}

// writeSendError maps Message failures to HTTP statuses
func writeSendError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, forwarder.ErrInactive):
		writeErrorResponse(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, syslog.ErrUnsupportedSeverity), errors.Is(err, syslog.ErrUnsupportedFacility):
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, forwarder.ErrTransport):
		writeErrorResponse(w, http.StatusBadGateway, err.Error())
	default:
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeBody(r *http.Request, v any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		return fmt.Errorf("failed to read request body: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// writeJSONResponse writes a successful JSON response
func writeJSONResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"data": data}); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]any{"error": message}); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}
