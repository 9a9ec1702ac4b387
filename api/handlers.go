/*
handlers.go - HTTP API handlers for the calorie ledger

PURPOSE:
  Exposes the mutation orchestrator and the range aggregator via REST.
  Handles HTTP request/response and JSON serialization; all coercion of
  untyped input is delegated to intake.Validator.

ENDPOINTS:
  Entries:
    POST   /api/entries                Log one or more items for a date
    GET    /api/entries                List (?date= or ?start=&end=, limit, offset)
    GET    /api/entries/{id}           Get one entry
    PATCH  /api/entries/{id}           Sparse field-level update
    DELETE /api/entries/{id}           Delete

  Totals:
    GET    /api/totals/{date}          Point read
    GET    /api/totals                 Range (?start&end&include_empty&group=meal_type)
    GET    /api/totals/recent          Trailing window (?days&include_empty)

  Export:
    GET    /api/export                 Stream entries as csv or json

  Admin:
    POST   /api/admin/reconcile        Recompute ledger rows from entries
    POST   /api/admin/export           Write an export to the blob sink

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Orchestrator: create/update/delete with ledger maintenance
  - Aggregator: totals, point reads and listing
  - Validator: untyped input -> typed commands
  - Reconciler: ledger repair
  - Exporter: blob sink writer (optional)

ERROR HANDLING:
  Errors are returned as JSON {error, code, details?}:
  - 400 validation:  bad input, details.field names the offending field
  - 404 not_found:   unknown entry id
  - 503 unavailable: feature not configured (export sink)
  - 500 internal:    storage failures, partial mutations

SEE ALSO:
  - dto.go: Request/response data structures
  - mcp.go: The same operations as MCP tools
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/warp/intake-ledger/export"
	"github.com/warp/intake-ledger/intake"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// RepairObserver is told how many ledger rows a reconciliation corrected.
type RepairObserver interface {
	ObserveRepairs(n int)
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Orchestrator *intake.Orchestrator
	Aggregator   *intake.Aggregator
	Validator    intake.Validator
	Reconciler   *intake.Reconciler
	Exporter     *export.Exporter
	Repairs      RepairObserver
}

// NewHandler wires a handler with default validation over one store.
func NewHandler(store intake.Store) *Handler {
	return &Handler{
		Orchestrator: intake.NewOrchestrator(store),
		Aggregator:   intake.NewAggregator(store),
		Validator:    intake.NewValidator(),
		Reconciler:   intake.NewReconciler(store),
	}
}

// =============================================================================
// ENTRY HANDLERS
// =============================================================================

// LogEntries creates one entry per item and bumps the day's total.
func (h *Handler) LogEntries(w http.ResponseWriter, r *http.Request) {
	body, err := decodeObject(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	cmd, err := h.Validator.LogCommand(body)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	res, err := h.Orchestrator.Log(r.Context(), cmd)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toLogResponse(res))
}

// ListEntries returns a page of entries for a date or a range.
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f, err := h.entryFilter(q.Get("date"), q.Get("start"), q.Get("end"), q.Get("limit"), q.Get("offset"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	entries, err := h.Aggregator.ListEntries(r.Context(), f)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, EntryListResponse{
		Entries: toEntryDTOs(entries),
		Limit:   f.Limit,
		Offset:  f.Offset,
	})
}

// GetEntry returns a single entry.
func (h *Handler) GetEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	e, err := h.Aggregator.Entry(r.Context(), intake.EntryID(id))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toEntryDTO(e))
}

// UpdateEntry merges the body over the stored entry. The body is either the
// updates map itself or {"updates": {...}}.
func (h *Handler) UpdateEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	body, err := decodeObject(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if inner, ok := body["updates"].(map[string]any); ok && len(body) == 1 {
		body = inner
	}

	cmd, err := h.Validator.UpdateCommand(id, body)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	res, err := h.Orchestrator.Update(r.Context(), cmd)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toMutationResponse(res))
}

// DeleteEntry removes an entry; the response reports its former date.
func (h *Handler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	res, err := h.Orchestrator.Delete(r.Context(), intake.EntryID(id))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toMutationResponse(res))
}

// =============================================================================
// TOTALS HANDLERS
// =============================================================================

// GetDayTotal returns one ledger row; absent rows read as zero.
func (h *Handler) GetDayTotal(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "date")
	d, err := intake.ParseDate(raw)
	if err != nil {
		writeDomainError(w, &intake.ValidationError{Field: "date", Reason: "must be YYYY-MM-DD: " + raw})
		return
	}

	t, err := h.Aggregator.DayTotal(r.Context(), d)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toDailyTotalDTO(t))
}

// GetRangeTotals returns the flat or grouped series for [start, end].
func (h *Handler) GetRangeTotals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rq, err := h.Validator.RangeQuery(q.Get("start"), q.Get("end"), q.Get("include_empty"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	switch group := q.Get("group"); group {
	case "":
		rt, err := h.Aggregator.Totals(r.Context(), rq)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toRangeTotalsResponse(rt))
	case "meal_type":
		gt, err := h.Aggregator.TotalsByMealType(r.Context(), rq)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toGroupedTotalsResponse(gt))
	default:
		writeDomainError(w, &intake.ValidationError{Field: "group", Reason: fmt.Sprintf("must be meal_type, got %q", group)})
	}
}

// GetRecentTotals returns the trailing window ending today.
func (h *Handler) GetRecentTotals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	days, err := h.Validator.TrailingDays(q.Get("days"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	rt, err := h.Aggregator.Trailing(r.Context(), days, intake.CoerceBool(q.Get("include_empty")))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toRangeTotalsResponse(rt))
}

// =============================================================================
// EXPORT HANDLERS
// =============================================================================

// StreamExport writes every entry in [start, end] as csv (default) or json.
func (h *Handler) StreamExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rq, err := h.Validator.RangeQuery(q.Get("start"), q.Get("end"), nil)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	format, err := export.ParseFormat(q.Get("format"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	entries, err := h.Aggregator.ListEntries(r.Context(), intake.EntryFilter{Range: &rq.Range})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q",
		fmt.Sprintf("intake_%s_%s.%s", rq.Range.Start, rq.Range.End, format.Ext())))
	w.WriteHeader(http.StatusOK)
	if err := export.Write(w, format, entries); err != nil {
		log.Printf("[Export] stream %s failed: %v", rq.Range, err)
	}
}

// WriteExport renders an export and stores it in the configured sink.
func (h *Handler) WriteExport(w http.ResponseWriter, r *http.Request) {
	var req ExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	rq, err := h.Validator.RangeQuery(req.Start, req.End, nil)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	format, err := export.ParseFormat(req.Format)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if h.Exporter == nil {
		writeDomainError(w, export.ErrNoSink)
		return
	}

	obj, err := h.Exporter.Export(r.Context(), rq.Range, format)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	log.Printf("[Export] wrote %s (%d bytes)", obj.Key, obj.Size)
	writeJSON(w, http.StatusCreated, obj)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// Reconcile recomputes ledger rows for [start, end] from the entry store.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	var req ReconcileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	rq, err := h.Validator.RangeQuery(req.Start, req.End, nil)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	rep, err := h.Reconciler.ReconcileRange(r.Context(), rq.Range)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if h.Repairs != nil {
		h.Repairs.ObserveRepairs(len(rep.Repairs))
	}
	if len(rep.Repairs) > 0 {
		log.Printf("[Reconcile] %s: repaired %d of %d dates", rq.Range, len(rep.Repairs), rep.Checked)
	}

	writeJSON(w, http.StatusOK, toReconcileResponse(rep))
}

// Healthz reports liveness.
func Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// entryFilter builds a listing filter from loosely-typed parameters.
// date wins over start/end; neither lists everything.
func (h *Handler) entryFilter(date, start, end, limit, offset any) (intake.EntryFilter, error) {
	var f intake.EntryFilter

	switch ds := intake.CoerceString(date); {
	case ds != "":
		d, err := intake.ParseDate(ds)
		if err != nil {
			return f, &intake.ValidationError{Field: "date", Reason: "must be YYYY-MM-DD: " + ds}
		}
		f.Date = &d
	case intake.CoerceString(start) != "" || intake.CoerceString(end) != "":
		rq, err := h.Validator.RangeQuery(intake.CoerceString(start), intake.CoerceString(end), nil)
		if err != nil {
			return f, err
		}
		f.Range = &rq.Range
	}

	l, err := pageParam("limit", limit, defaultListLimit)
	if err != nil {
		return f, err
	}
	if l < 1 || l > maxListLimit {
		return f, &intake.ValidationError{Field: "limit", Reason: fmt.Sprintf("must be between 1 and %d", maxListLimit)}
	}
	o, err := pageParam("offset", offset, 0)
	if err != nil {
		return f, err
	}
	if o < 0 {
		return f, &intake.ValidationError{Field: "offset", Reason: "must not be negative"}
	}
	f.Limit, f.Offset = l, o
	return f, nil
}

func pageParam(field string, raw any, def int) (int, error) {
	if raw == nil || intake.CoerceString(raw) == "" {
		return def, nil
	}
	d, ok := intake.CoerceNumber(raw)
	if !ok || !d.IsInteger() {
		return 0, &intake.ValidationError{Field: field, Reason: "must be an integer"}
	}
	return int(d.IntPart()), nil
}

// decodeObject reads a JSON object, keeping numbers as json.Number so
// decimal coercion sees the client's digits.
func decodeObject(r io.Reader) (map[string]any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return nil, err
	}
	if body == nil {
		return nil, errors.New("body must be a JSON object")
	}
	return body, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message, Code: codeFor(status)}
	if err != nil {
		resp.Error = message + ": " + err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps the intake error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	var ve *intake.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   err.Error(),
			Code:    "validation",
			Details: &ErrorDetails{Field: ve.Field},
		})
	case intake.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid input", err)
	case intake.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "not_found"})
	case errors.Is(err, export.ErrNoSink):
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Code: "unavailable"})
	default:
		log.Printf("[Server] internal error: %v", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "internal"})
	}
}

func codeFor(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "validation"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusServiceUnavailable:
		return "unavailable"
	}
	if status >= 500 {
		return "internal"
	}
	return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
}
