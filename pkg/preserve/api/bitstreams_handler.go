package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/tendant/simple-preserve/pkg/preserve"
)

// BitstreamsHandler handles bitstream staging, content serving, and
// preservation triggers.
type BitstreamsHandler struct {
	service      preserve.Service
	ledger       *preserve.Ledger
	institutions map[string]preserve.Institution
}

// NewBitstreamsHandler creates a handler over the given service and ledger.
func NewBitstreamsHandler(service preserve.Service, ledger *preserve.Ledger, institutions []preserve.Institution) *BitstreamsHandler {
	byKey := make(map[string]preserve.Institution, len(institutions))
	for _, inst := range institutions {
		byKey[inst.Key] = inst
	}
	return &BitstreamsHandler{
		service:      service,
		ledger:       ledger,
		institutions: byKey,
	}
}

// Routes returns the router for bitstream endpoints
func (h *BitstreamsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.StageBitstream)
	r.Get("/{bitstream_id}", h.GetBitstream)
	r.Get("/{bitstream_id}/content", h.ServeContent)
	r.Post("/{bitstream_id}/ingest", h.TriggerIngest)
	r.Post("/{bitstream_id}/delete-from-medusa", h.TriggerDelete)
	return r
}

// StageBitstreamResponse represents the response after staging a bitstream
type StageBitstreamResponse struct {
	BitstreamID string    `json:"bitstream_id"`
	StagingKey  string    `json:"staging_key"`
	CreatedAt   time.Time `json:"created_at"`
}

// StageBitstream streams the request body into staging storage. Metadata
// arrives in headers and query parameters so the body stays raw content.
func (h *BitstreamsHandler) StageBitstream(w http.ResponseWriter, r *http.Request) {
	itemID, err := uuid.Parse(r.URL.Query().Get("item_id"))
	if err != nil {
		slog.Error("Invalid item ID", "item_id", r.URL.Query().Get("item_id"), "error", err)
		http.Error(w, "Invalid item ID", http.StatusBadRequest)
		return
	}

	filename := r.URL.Query().Get("filename")
	if filename == "" {
		http.Error(w, "Missing required 'filename' parameter", http.StatusBadRequest)
		return
	}

	institutionKey := r.URL.Query().Get("institution")
	if institutionKey == "" {
		http.Error(w, "Missing required 'institution' parameter", http.StatusBadRequest)
		return
	}

	bitstream, err := h.service.StageBitstream(r.Context(), preserve.StageBitstreamRequest{
		ItemID:         itemID,
		InstitutionKey: institutionKey,
		Filename:       filename,
		Length:         r.ContentLength,
		ContentType:    r.Header.Get("Content-Type"),
		Reader:         r.Body,
	})
	if err != nil {
		slog.Error("Failed to stage bitstream", "error", err)
		http.Error(w, err.Error(), statusForError(err))
		return
	}

	slog.Info("Bitstream staged", "bitstream_id", bitstream.ID.String(), "staging_key", *bitstream.StagingKey)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, StageBitstreamResponse{
		BitstreamID: bitstream.ID.String(),
		StagingKey:  *bitstream.StagingKey,
		CreatedAt:   bitstream.CreatedAt,
	})
}

// GetBitstream returns bitstream metadata
func (h *BitstreamsHandler) GetBitstream(w http.ResponseWriter, r *http.Request) {
	bitstreamID, ok := parseBitstreamID(w, r)
	if !ok {
		return
	}

	bitstream, err := h.service.GetBitstream(r.Context(), bitstreamID)
	if err != nil {
		http.Error(w, "Bitstream not found", http.StatusNotFound)
		return
	}

	render.JSON(w, r, bitstream)
}

// ServeContent serves bitstream content, honoring single-range Range
// headers with a 206 response.
func (h *BitstreamsHandler) ServeContent(w http.ResponseWriter, r *http.Request) {
	bitstreamID, ok := parseBitstreamID(w, r)
	if !ok {
		return
	}

	served, err := h.service.ServeBitstream(r.Context(), preserve.ServeBitstreamRequest{
		BitstreamID: bitstreamID,
		RangeHeader: r.Header.Get("Range"),
	})
	if err != nil {
		if errors.Is(err, preserve.ErrInvalidRange) {
			http.Error(w, "Requested range not satisfiable", http.StatusRequestedRangeNotSatisfiable)
			return
		}
		slog.Error("Failed to serve bitstream", "bitstream_id", bitstreamID.String(), "error", err)
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	defer served.Reader.Close()

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Cache-Control", "public, must-revalidate, max-age=0")
	w.Header().Set("Content-Length", strconv.FormatInt(served.Length, 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", served.Filename))
	if served.ContentType != "" {
		w.Header().Set("Content-Type", served.ContentType)
	}
	if !served.UpdatedAt.IsZero() {
		w.Header().Set("Last-Modified", served.UpdatedAt.UTC().Format(http.TimeFormat))
	}

	if served.Partial {
		w.Header().Set("Content-Range",
			fmt.Sprintf("bytes %d-%d/%d", served.Start, served.End, served.TotalSize))
		w.WriteHeader(http.StatusPartialContent)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	if _, err := io.Copy(w, served.Reader); err != nil {
		slog.Warn("Interrupted while writing bitstream content",
			"bitstream_id", bitstreamID.String(), "error", err)
		return
	}

	h.recordDownload(r, bitstreamID)
}

// recordDownload increments the monthly counters for the bitstream's item
// and institution. Counting failures never affect the response.
func (h *BitstreamsHandler) recordDownload(r *http.Request, bitstreamID uuid.UUID) {
	bitstream, err := h.service.GetBitstream(r.Context(), bitstreamID)
	if err != nil {
		return
	}

	scopes := []preserve.Scope{{Kind: preserve.ScopeItem, ID: bitstream.ItemID}}
	if inst, ok := h.institutions[bitstream.InstitutionKey]; ok {
		scopes = append(scopes, preserve.Scope{Kind: preserve.ScopeInstitution, ID: inst.ID})
	}

	if err := h.ledger.Increment(r.Context(), scopes...); err != nil {
		slog.Warn("Failed to record download", "bitstream_id", bitstreamID.String(), "error", err)
	}
}

// TriggerIngest requests preservation of a staged bitstream
func (h *BitstreamsHandler) TriggerIngest(w http.ResponseWriter, r *http.Request) {
	bitstreamID, ok := parseBitstreamID(w, r)
	if !ok {
		return
	}

	record, err := h.service.TriggerIngest(r.Context(), bitstreamID)
	if err != nil {
		slog.Error("Failed to trigger ingest", "bitstream_id", bitstreamID.String(), "error", err)
		http.Error(w, err.Error(), statusForError(err))
		return
	}

	slog.Info("Ingest triggered", "bitstream_id", bitstreamID.String(), "record_id", record.ID.String())
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, record)
}

// TriggerDelete requests removal of a preserved bitstream from the remote archive
func (h *BitstreamsHandler) TriggerDelete(w http.ResponseWriter, r *http.Request) {
	bitstreamID, ok := parseBitstreamID(w, r)
	if !ok {
		return
	}

	record, err := h.service.TriggerDelete(r.Context(), bitstreamID)
	if err != nil {
		slog.Error("Failed to trigger delete", "bitstream_id", bitstreamID.String(), "error", err)
		http.Error(w, err.Error(), statusForError(err))
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, record)
}

func parseBitstreamID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idStr := chi.URLParam(r, "bitstream_id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		slog.Error("Invalid bitstream ID", "bitstream_id", idStr, "error", err)
		http.Error(w, "Invalid bitstream ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// statusForError maps domain errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, preserve.ErrBitstreamNotFound),
		errors.Is(err, preserve.ErrIngestNotFound),
		errors.Is(err, preserve.ErrNotServable):
		return http.StatusNotFound
	case errors.Is(err, preserve.ErrIngestPending),
		errors.Is(err, preserve.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, preserve.ErrNoStagingKey),
		errors.Is(err, preserve.ErrNoMedusaUUID),
		errors.Is(err, preserve.ErrMissingField),
		errors.Is(err, preserve.ErrInstitutionNotFound):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
