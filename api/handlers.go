/*
handlers.go - HTTP API handlers for the PRG binding engine

PURPOSE:
  Exposes one session over REST. Handles HTTP request/response and JSON
  serialization and delegates to the session.

ENDPOINTS:
  Consumers:
    GET    /api/consumers                         List (kind, district, settlement, has_bindings, has_expenses)
    GET    /api/consumers/{id}                    Get one consumer
    POST   /api/consumers/{id}/bind               Bind to a pipeline
    PUT    /api/consumers/{id}/bindings           Replace the binding list
    DELETE /api/consumers/{id}/bindings           Remove all bindings
    DELETE /api/consumers/{id}/bindings/{pid}     Remove one binding

  Bulk:
    POST   /api/settlements/bind                  Bind a whole settlement
    POST   /api/settlements/unbind                Unbind a whole settlement
    POST   /api/auto-bind                         Auto-bind unbound consumers
    GET    /api/search/organizations              Smart organization search
    POST   /api/search/organizations/bind         Bind all search matches

  Loads and checks:
    POST   /api/loads/calculate                   Re-derive pipeline loads
    GET    /api/checks/...                        Consistency checks

  Changes:
    GET    /api/changes                           Pending changes
    POST   /api/changes/commit                    Write to the workbook
    POST   /api/changes/discard                   Drop pending changes
    POST   /api/changes/{id}/revert               Drop one pending change

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call the session
  4. Serialize response

ERROR HANDLING:
  Business outcomes (skipped, already bound, failed per consumer) are part
  of a 200 response. Errors are returned as JSON with:
  - 400: Invalid input, nothing to commit, load change revert
  - 404: Unknown consumer, pipeline or change
  - 409: Stale revert, duplicate journal entry
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/warp/prg-engine/allocation"
	"github.com/warp/prg-engine/session"
	"github.com/warp/prg-engine/workbook"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Session *session.Session

	// ScenarioDir receives the workbooks written for demo scenarios.
	ScenarioDir string

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler over the given session.
func NewHandler(s *session.Session, scenarioDir string) *Handler {
	return &Handler{Session: s, ScenarioDir: scenarioDir}
}

// =============================================================================
// WORKBOOK
// =============================================================================

func (h *Handler) GetWorkbook(w http.ResponseWriter, r *http.Request) {
	ds := h.Session.Dataset()
	h.mu.Lock()
	scenario := h.currentScenario
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, WorkbookDTO{
		Path:       h.Session.WorkbookPath(),
		Pipelines:  len(ds.Pipelines),
		GRS:        len(ds.GRS),
		Consumers:  len(ds.Consumers),
		Pending:    len(h.Session.Pending()),
		ScenarioID: scenario,
	})
}

// =============================================================================
// CONSUMER HANDLERS
// =============================================================================

// ListConsumers returns consumers matching the query filters.
func (h *Handler) ListConsumers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := allocation.ConsumerFilter{
		Kind:       allocation.ConsumerKind(q.Get("kind")),
		District:   q.Get("district"),
		Settlement: q.Get("settlement"),
	}
	switch filter.Kind {
	case "", allocation.KindPopulation, allocation.KindOrganization:
	default:
		writeError(w, http.StatusBadRequest, "Invalid kind (use population or organization)", nil)
		return
	}

	var err error
	if filter.HasBindings, err = boolParam(q.Get("has_bindings")); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid has_bindings", err)
		return
	}
	if filter.HasExpenses, err = boolParam(q.Get("has_expenses")); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid has_expenses", err)
		return
	}

	writeJSON(w, http.StatusOK, toConsumerDTOs(h.Session.Consumers(filter)))
}

func (h *Handler) GetConsumer(w http.ResponseWriter, r *http.Request) {
	c, err := h.Session.Consumer(urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, "Failed to get consumer", err)
		return
	}
	writeJSON(w, http.StatusOK, toConsumerDTO(c))
}

// BindConsumer binds one consumer to one pipeline.
func (h *Handler) BindConsumer(w http.ResponseWriter, r *http.Request) {
	var req BindConsumerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.PipelineID == "" {
		writeError(w, http.StatusBadRequest, "pipeline_id is required", nil)
		return
	}
	if err := validShare(req.Share); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid share", err)
		return
	}

	res, err := h.Session.BindConsumer(urlParam(r, "id"), req.PipelineID, req.Share, req.Force)
	if err != nil {
		writeDomainError(w, r, "Failed to bind consumer", err)
		return
	}
	writeJSON(w, http.StatusOK, toBindingResultDTO(res))
}

// EditShares replaces a consumer's binding list. Shares are not range
// checked; out-of-range values and totals come back as warnings.
func (h *Handler) EditShares(w http.ResponseWriter, r *http.Request) {
	var req EditSharesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	id := urlParam(r, "id")
	bindings := make([]allocation.Binding, len(req.Bindings))
	var warnings []string
	for i, b := range req.Bindings {
		if err := validShare(b.Share); err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", b.PipelineID, err))
		}
		bindings[i] = allocation.Binding{PipelineID: b.PipelineID, Share: b.Share, GRSName: b.GRSName}
	}

	res, err := h.Session.EditShares(id, bindings)
	if err != nil {
		writeDomainError(w, r, "Failed to edit shares", err)
		return
	}

	dto := toBindingResultDTO(res)
	if res.SuccessCount > 0 {
		if c, err := h.Session.Consumer(id); err == nil {
			for _, p := range allocation.CheckShareTotals([]allocation.Consumer{c}) {
				warnings = append(warnings, fmt.Sprintf("total share %.4f is %s", p.TotalShare, p.Kind))
			}
		}
	}
	dto.Warnings = warnings
	writeJSON(w, http.StatusOK, dto)
}

func (h *Handler) UnbindConsumer(w http.ResponseWriter, r *http.Request) {
	res, err := h.Session.UnbindConsumer(urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, "Failed to unbind consumer", err)
		return
	}
	writeJSON(w, http.StatusOK, toBindingResultDTO(res))
}

func (h *Handler) RemovePipelineBinding(w http.ResponseWriter, r *http.Request) {
	res, err := h.Session.RemovePipelineBinding(urlParam(r, "id"), urlParam(r, "pipelineID"))
	if err != nil {
		writeDomainError(w, r, "Failed to remove binding", err)
		return
	}
	writeJSON(w, http.StatusOK, toBindingResultDTO(res))
}

// GetHistory returns the journaled changes of a consumer or pipeline.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	recs, err := h.Session.History(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, "Failed to read history", err)
		return
	}
	writeJSON(w, http.StatusOK, toChangeDTOs(recs))
}

// =============================================================================
// BULK BINDING HANDLERS
// =============================================================================

func (h *Handler) BindSettlement(w http.ResponseWriter, r *http.Request) {
	var req SettlementBindRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.AnchorID == "" || req.PipelineID == "" {
		writeError(w, http.StatusBadRequest, "anchor_id and pipeline_id are required", nil)
		return
	}
	if err := validShare(req.Share); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid share", err)
		return
	}

	res, err := h.Session.BindSettlement(req.PipelineID, req.AnchorID, req.Share)
	if err != nil {
		writeDomainError(w, r, "Failed to bind settlement", err)
		return
	}
	writeJSON(w, http.StatusOK, toBindingResultDTO(res))
}

func (h *Handler) UnbindSettlement(w http.ResponseWriter, r *http.Request) {
	var req SettlementUnbindRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, err := h.Session.UnbindSettlement(req.AnchorID)
	if err != nil {
		writeDomainError(w, r, "Failed to unbind settlement", err)
		return
	}
	writeJSON(w, http.StatusOK, toBindingResultDTO(res))
}

// AutoBind binds every unbound consumer with expenses to its settlement's pipelines.
// An empty body uses the configured share.
func (h *Handler) AutoBind(w http.ResponseWriter, r *http.Request) {
	var req AutoBindRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Share != 0 {
		if err := validShare(req.Share); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid share", err)
			return
		}
	}

	writeJSON(w, http.StatusOK, toBindingResultDTO(h.Session.AutoBind(req.Share)))
}

func (h *Handler) SearchOrganizations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	requireExpenses, err := boolParam(q.Get("require_expenses"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid require_expenses", err)
		return
	}

	query := allocation.OrganizationQuery{
		District:        q.Get("district"),
		Settlement:      q.Get("settlement"),
		NamePattern:     q.Get("name"),
		RequireExpenses: requireExpenses != nil && *requireExpenses,
	}
	writeJSON(w, http.StatusOK, toSearchResultDTO(h.Session.SearchOrganizations(query)))
}

func (h *Handler) BindSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchBindRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.PipelineID == "" {
		writeError(w, http.StatusBadRequest, "pipeline_id is required", nil)
		return
	}
	if err := validShare(req.Share); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid share", err)
		return
	}

	res, err := h.Session.BindSearch(req.query(), req.PipelineID, req.Share)
	if err != nil {
		writeDomainError(w, r, "Failed to bind search results", err)
		return
	}
	writeJSON(w, http.StatusOK, toBindingResultDTO(res))
}

// =============================================================================
// PIPELINE AND LOAD HANDLERS
// =============================================================================

func (h *Handler) ListPipelines(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pipelines := h.Session.Pipelines()
	if district := q.Get("district"); district != "" {
		pipelines = h.Session.PipelinesAt(district, q.Get("settlement"))
	}
	writeJSON(w, http.StatusOK, toPipelineDTOs(pipelines, h.Session.GRS()))
}

func (h *Handler) GetPipeline(w http.ResponseWriter, r *http.Request) {
	p, err := h.Session.Pipeline(urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, "Failed to get pipeline", err)
		return
	}
	writeJSON(w, http.StatusOK, toPipelineDTO(p, h.Session.GRS()))
}

func (h *Handler) ListGRS(w http.ResponseWriter, r *http.Request) {
	grs := h.Session.GRS()
	dtos := make([]GRSDTO, len(grs))
	for i, g := range grs {
		dtos[i] = GRSDTO{ID: g.ID, Name: g.Name, District: g.District}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CalculateLoads re-derives all pipeline loads and queues the changed cells.
func (h *Handler) CalculateLoads(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toCalculationDTO(h.Session.CalculateLoads()))
}

// =============================================================================
// LOCATION HANDLERS
// =============================================================================

func (h *Handler) ListDistricts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Session.Districts())
}

func (h *Handler) ListSettlements(w http.ResponseWriter, r *http.Request) {
	district := r.URL.Query().Get("district")
	if district == "" {
		writeError(w, http.StatusBadRequest, "district is required", nil)
		return
	}
	writeJSON(w, http.StatusOK, h.Session.Settlements(district))
}

func (h *Handler) ListPipelineIDs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	writeJSON(w, http.StatusOK, h.Session.PipelineIDs(q.Get("district"), q.Get("settlement")))
}

// =============================================================================
// CHECK HANDLERS
// =============================================================================

func (h *Handler) CheckAll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toCheckReportDTO(h.Session.Check(), h.Session.GRS()))
}

func (h *Handler) CheckUnboundPipelines(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toPipelineDTOs(h.Session.Check().UnboundPipelines, h.Session.GRS()))
}

func (h *Handler) CheckUnboundConsumers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toConsumerDTOs(h.Session.Check().UnboundConsumers))
}

func (h *Handler) CheckWithoutExpenses(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toConsumerDTOs(h.Session.Check().WithoutExpenses))
}

// CheckGRSMismatches returns GRS mismatches as JSON, or as a CSV download
// with ?format=csv.
func (h *Handler) CheckGRSMismatches(w http.ResponseWriter, r *http.Request) {
	mismatches := h.Session.Check().GRSMismatches

	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="grs_mismatches.csv"`)
		if err := workbook.WriteMismatchesCSV(w, mismatches); err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("write mismatch csv")
		}
		return
	}
	writeJSON(w, http.StatusOK, toGRSMismatchDTOs(mismatches))
}

func (h *Handler) CheckShares(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toShareProblemDTOs(h.Session.Check().ShareProblems))
}

// =============================================================================
// CHANGE HANDLERS
// =============================================================================

func (h *Handler) ListChanges(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toChangeDTOs(h.Session.Pending()))
}

// Commit writes all pending changes to the workbook.
func (h *Handler) Commit(w http.ResponseWriter, r *http.Request) {
	res, err := h.Session.Commit(r.Context())
	if err != nil {
		writeDomainError(w, r, "Failed to commit", err)
		return
	}
	writeJSON(w, http.StatusOK, toCommitDTO(res.Commit, res.Skipped))
}

func (h *Handler) Discard(w http.ResponseWriter, r *http.Request) {
	n := h.Session.Discard()
	writeJSON(w, http.StatusOK, map[string]int{"discarded": n})
}

func (h *Handler) RevertChange(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Session.Revert(allocation.ChangeID(urlParam(r, "id")))
	if err != nil {
		writeDomainError(w, r, "Failed to revert change", err)
		return
	}
	writeJSON(w, http.StatusOK, toChangeDTO(rec))
}

func (h *Handler) ListCommits(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	commits, err := h.Session.Commits(r.Context(), limit)
	if err != nil {
		writeDomainError(w, r, "Failed to list commits", err)
		return
	}
	dtos := make([]CommitDTO, len(commits))
	for i, c := range commits {
		dtos[i] = toCommitDTO(c, nil)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps allocation errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, r *http.Request, message string, err error) {
	switch {
	case allocation.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case allocation.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	case allocation.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		hlog.FromRequest(r).Error().Err(err).Msg(message)
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

// urlParam returns a decoded path parameter. Consumer IDs carry Cyrillic
// sheet names, and chi matches on the escaped path when one is present.
func urlParam(r *http.Request, key string) string {
	raw := chi.URLParam(r, key)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

// boolParam parses an optional boolean query parameter.
func boolParam(s string) (*bool, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func validShare(share float64) error {
	if share <= 0 || share > 1 {
		return fmt.Errorf("share must be in (0, 1], got %v", share)
	}
	return nil
}
