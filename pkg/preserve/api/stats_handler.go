package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/tendant/simple-preserve/pkg/preserve"
)

// StatsHandler serves monthly download statistics.
type StatsHandler struct {
	ledger *preserve.Ledger
}

func NewStatsHandler(ledger *preserve.Ledger) *StatsHandler {
	return &StatsHandler{ledger: ledger}
}

// Routes returns the router for download statistics endpoints
func (h *StatsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/downloads", h.Downloads)
	return r
}

// MonthCount is one row of a monthly download report
type MonthCount struct {
	Year  int   `json:"year"`
	Month int   `json:"month"`
	Count int64 `json:"count"`
}

// DownloadsResponse is a zero-filled monthly report for one scope
type DownloadsResponse struct {
	ScopeKind string       `json:"scope_kind"`
	ScopeID   string       `json:"scope_id"`
	From      string       `json:"from"`
	To        string       `json:"to"`
	Months    []MonthCount `json:"months"`
}

// Downloads returns monthly download counts for a scope over an inclusive
// month range. Query parameters: scope_kind, scope_id, from, to (both
// YYYY-MM). Months with no activity appear with a zero count.
func (h *StatsHandler) Downloads(w http.ResponseWriter, r *http.Request) {
	scope, err := parseScope(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	from, err := parseMonth(r.URL.Query().Get("from"))
	if err != nil {
		http.Error(w, "Invalid 'from' month, expected YYYY-MM", http.StatusBadRequest)
		return
	}
	to, err := parseMonth(r.URL.Query().Get("to"))
	if err != nil {
		http.Error(w, "Invalid 'to' month, expected YYYY-MM", http.StatusBadRequest)
		return
	}
	if to.Before(from) {
		http.Error(w, "'to' month precedes 'from' month", http.StatusBadRequest)
		return
	}

	counts, err := h.ledger.RangeQuery(r.Context(), scope, from, to)
	if err != nil {
		slog.Error("Failed to query download counts",
			"scope_kind", scope.Kind, "scope_id", scope.ID.String(), "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	months := make([]MonthCount, 0, len(counts))
	for _, row := range counts {
		months = append(months, MonthCount{Year: row.Year, Month: row.Month, Count: row.Count})
	}

	render.JSON(w, r, DownloadsResponse{
		ScopeKind: string(scope.Kind),
		ScopeID:   scope.ID.String(),
		From:      from.Format("2006-01"),
		To:        to.Format("2006-01"),
		Months:    months,
	})
}

func parseScope(r *http.Request) (preserve.Scope, error) {
	kind := preserve.ScopeKind(r.URL.Query().Get("scope_kind"))
	switch kind {
	case preserve.ScopeItem, preserve.ScopeCollection, preserve.ScopeUnit, preserve.ScopeInstitution:
	default:
		return preserve.Scope{}, fmt.Errorf("invalid scope_kind %q", kind)
	}

	id, err := uuid.Parse(r.URL.Query().Get("scope_id"))
	if err != nil {
		return preserve.Scope{}, fmt.Errorf("invalid scope_id: %w", err)
	}

	return preserve.Scope{Kind: kind, ID: id}, nil
}

func parseMonth(raw string) (time.Time, error) {
	return time.Parse("2006-01", raw)
}
