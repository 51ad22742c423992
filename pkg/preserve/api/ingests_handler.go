package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/tendant/simple-preserve/pkg/preserve"
)

// IngestsHandler exposes ingest record lookups and the resend operation.
type IngestsHandler struct {
	service preserve.Service
}

func NewIngestsHandler(service preserve.Service) *IngestsHandler {
	return &IngestsHandler{service: service}
}

// Routes returns the router for ingest record endpoints
func (h *IngestsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ListStale)
	r.Get("/{record_id}", h.GetRecord)
	r.Post("/{record_id}/resend", h.Resend)
	return r
}

// GetRecord returns a single ingest record
func (h *IngestsHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	recordID, ok := parseRecordID(w, r)
	if !ok {
		return
	}

	record, err := h.service.GetIngestRecord(r.Context(), recordID)
	if err != nil {
		http.Error(w, "Ingest record not found", http.StatusNotFound)
		return
	}

	render.JSON(w, r, record)
}

// StaleIngestsResponse lists records still awaiting a response
type StaleIngestsResponse struct {
	OlderThan string                   `json:"older_than"`
	Records   []*preserve.IngestRecord `json:"records"`
}

// ListStale returns pending records older than the given duration. The
// default window is 30 days; override with ?older_than=72h.
func (h *IngestsHandler) ListStale(w http.ResponseWriter, r *http.Request) {
	olderThan := 30 * 24 * time.Hour
	if raw := r.URL.Query().Get("older_than"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "Invalid 'older_than' duration", http.StatusBadRequest)
			return
		}
		olderThan = parsed
	}

	records, err := h.service.ListStaleIngests(r.Context(), olderThan)
	if err != nil {
		slog.Error("Failed to list stale ingests", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	render.JSON(w, r, StaleIngestsResponse{
		OlderThan: olderThan.String(),
		Records:   records,
	})
}

// Resend reopens an errored record and publishes its request again
func (h *IngestsHandler) Resend(w http.ResponseWriter, r *http.Request) {
	recordID, ok := parseRecordID(w, r)
	if !ok {
		return
	}

	record, err := h.service.ResendIngest(r.Context(), recordID)
	if err != nil {
		slog.Error("Failed to resend ingest", "record_id", recordID.String(), "error", err)
		http.Error(w, err.Error(), statusForError(err))
		return
	}

	slog.Info("Ingest resent", "record_id", record.ID.String(), "operation", record.Operation)
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, record)
}

func parseRecordID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idStr := chi.URLParam(r, "record_id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		slog.Error("Invalid record ID", "record_id", idStr, "error", err)
		http.Error(w, "Invalid record ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}
