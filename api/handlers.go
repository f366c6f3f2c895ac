/*
handlers.go - HTTP API handlers for inventory counts

PURPOSE:
  Exposes the count engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the count and stock packages.

ENDPOINTS:
  Counts:
    POST   /api/counts/sync                 Refresh the stock snapshot
    POST   /api/counts/sessions             Create session from snapshot
    GET    /api/counts/sessions             List sessions (?status=)
    GET    /api/counts/sessions/{id}        Session with stats
    GET    /api/counts/{id}/lines           Lines (?status=all|uncounted|counted|discrepancy)
    POST   /api/counts/{id}/lines           Record counts (batch)
    PATCH  /api/counts/{id}/submit          active -> review
    POST   /api/counts/{id}/approve         review -> approved + adjustments
    GET    /api/counts/{id}/adjustments     Preview what approval would write
    PATCH  /api/counts/{id}/cancel          active|review -> cancelled
    PATCH  /api/counts/{id}/complete        approved -> completed
    GET    /api/counts/{id}/export.xlsx     Count sheet
    GET    /api/counts/{id}/report.txt      Discrepancy report

  Stock:
    GET    /api/stock/positions             Live levels (?zone=&location=)
    GET    /api/stock/movements             Ledger (?reference=&limit=)

  Scenarios:
    GET    /api/scenarios                   List demo scenarios
    GET    /api/scenarios/current           Last loaded scenario
    POST   /api/scenarios/load              Reset and load a scenario

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call the engine with the authenticated actor
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned in the envelope with the status for their kind:
  - 400: Validation errors, malformed JSON
  - 401: Missing or invalid credentials (auth middleware)
  - 403: Role may not perform the action
  - 404: Session, line or scenario not found
  - 409: Invalid state, session locked
  - 422: Empty snapshot, scope matched nothing
  - 502: Approval could not write its stock adjustments
  - 500: Internal errors (details logged, not returned)

SEE ALSO:
  - dto.go: Request/response data structures
  - auth.go: Actor resolution
  - server.go: Router setup and middleware
*/
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/warp/stockcount/count"
	"github.com/warp/stockcount/report"
	"github.com/warp/stockcount/stock"
)

const maxBodyBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *count.Engine
	Store  Store

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler.
func NewHandler(engine *count.Engine, store Store) *Handler {
	return &Handler{Engine: engine, Store: store}
}

// =============================================================================
// SYNC
// =============================================================================

// Sync refreshes the snapshot.
// POST /api/counts/sync
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.Sync(r.Context(), actorFrom(r.Context()))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{
		Success: true,
		Message: fmt.Sprintf("Snapshot synced: %d positions", res.Positions),
		Data:    SyncDTO{Positions: res.Positions, SyncedAt: res.SyncedAt},
	})
}

// =============================================================================
// SESSION ENDPOINTS
// =============================================================================

// CreateSession materializes a session from the snapshot.
// POST /api/counts/sessions
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeEngineError(w, err)
		return
	}

	sess, err := h.Engine.CreateSession(r.Context(), actorFrom(r.Context()), count.CreateRequest{
		Type:        count.SessionType(req.Type),
		Scope:       req.Scope,
		Description: req.Description,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, Envelope{Success: true, Data: toSessionDTO(sess)})
}

// ListSessions returns sessions, newest first.
// GET /api/counts/sessions?status=review
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	filter := count.SessionFilter{Status: count.Status(r.URL.Query().Get("status"))}
	sessions, err := h.Engine.ListSessions(r.Context(), actorFrom(r.Context()), filter)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	dtos := make([]SessionDTO, 0, len(sessions))
	for i := range sessions {
		dtos = append(dtos, toSessionDTO(&sessions[i]))
	}
	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: dtos})
}

// GetSession returns one session.
// GET /api/counts/sessions/{id}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Engine.GetSession(r.Context(), actorFrom(r.Context()), sessionID(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: toSessionDTO(sess)})
}

// =============================================================================
// LINE ENDPOINTS
// =============================================================================

// ListLines returns the lines of a session, optionally filtered.
// GET /api/counts/{id}/lines?status=discrepancy
func (h *Handler) ListLines(w http.ResponseWriter, r *http.Request) {
	filter, ok := count.ParseLineFilter(r.URL.Query().Get("status"))
	if !ok {
		writeEngineError(w, &count.ValidationError{
			Field:   "status",
			Message: "must be one of all, uncounted, counted, discrepancy",
		})
		return
	}

	sess, lines, err := h.Engine.ListLines(r.Context(), actorFrom(r.Context()), sessionID(r), filter)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, LinesResponse{
		Success: true,
		Data:    toLineDTOs(lines),
		Session: toSessionDTO(sess),
	})
}

// UpdateLines records counted quantities. Entries with a bad quantity or
// an unknown line are reported in "failed" and do not stop the batch.
// POST /api/counts/{id}/lines
func (h *Handler) UpdateLines(w http.ResponseWriter, r *http.Request) {
	var req UpdateLinesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeEngineError(w, err)
		return
	}
	if len(req.Lines) == 0 {
		writeEngineError(w, &count.ValidationError{Field: "lines", Message: "at least one line is required"})
		return
	}

	// Quantities are parsed here so one bad value only fails its own line.
	var (
		updates []count.LineUpdate
		origin  []int
		failed  []LineFailureDTO
	)
	for i, l := range req.Lines {
		qty, err := count.ParseQuantity(l.CountedQty)
		if err != nil {
			failed = append(failed, LineFailureDTO{Index: i, ID: l.ID, Error: err.Error()})
			continue
		}
		updates = append(updates, count.LineUpdate{LineID: count.LineID(l.ID), CountedQty: &qty})
		origin = append(origin, i)
	}
	if len(updates) == 0 {
		writeJSON(w, http.StatusBadRequest, Envelope{
			Success: false,
			Error:   "no valid lines in batch",
			Data:    BatchResultDTO{Lines: []LineDTO{}, Failed: failed},
		})
		return
	}

	res, err := h.Engine.UpdateLines(r.Context(), actorFrom(r.Context()), sessionID(r), updates)
	for _, f := range res.Failed {
		failed = append(failed, LineFailureDTO{Index: origin[f.Index], ID: string(f.LineID), Error: f.Err.Error()})
	}
	batch := BatchResultDTO{Updated: len(res.Updated), Lines: toLineDTOs(res.Updated), Failed: failed}
	if batch.Failed == nil {
		batch.Failed = []LineFailureDTO{}
	}

	if err != nil {
		env := errorEnvelope(err)
		if len(res.Updated) > 0 || len(batch.Failed) > 0 {
			env.Data = batch
		}
		writeJSON(w, statusFor(err), env)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{
		Success: true,
		Message: fmt.Sprintf("%d lines updated, %d failed", batch.Updated, len(batch.Failed)),
		Data:    batch,
	})
}

// =============================================================================
// TRANSITION ENDPOINTS
// =============================================================================

// SubmitSession locks counting and sends the session to review.
// PATCH /api/counts/{id}/submit
func (h *Handler) SubmitSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Engine.SubmitSession(r.Context(), actorFrom(r.Context()), sessionID(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{
		Success: true,
		Message: fmt.Sprintf("Session %s submitted for review", sess.Code),
		Data:    toSessionDTO(sess),
	})
}

// CancelSession abandons a session. No stock changes.
// PATCH /api/counts/{id}/cancel
func (h *Handler) CancelSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Engine.CancelSession(r.Context(), actorFrom(r.Context()), sessionID(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{
		Success: true,
		Message: fmt.Sprintf("Session %s cancelled", sess.Code),
		Data:    toSessionDTO(sess),
	})
}

// CompleteSession closes an approved session.
// PATCH /api/counts/{id}/complete
func (h *Handler) CompleteSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Engine.CompleteSession(r.Context(), actorFrom(r.Context()), sessionID(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{
		Success: true,
		Message: fmt.Sprintf("Session %s completed", sess.Code),
		Data:    toSessionDTO(sess),
	})
}

// PreviewAdjustments shows what approval would write.
// GET /api/counts/{id}/adjustments
func (h *Handler) PreviewAdjustments(w http.ResponseWriter, r *http.Request) {
	plan, err := h.Engine.PreviewAdjustments(r.Context(), actorFrom(r.Context()), sessionID(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: toPlanDTO(plan)})
}

// ApproveSession applies every discrepancy as a stock adjustment.
// POST /api/counts/{id}/approve
func (h *Handler) ApproveSession(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.ApproveSession(r.Context(), actorFrom(r.Context()), sessionID(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	msg := fmt.Sprintf("Session %s approved: %d stock adjustments applied", res.Session.Code, res.AdjustmentCount())
	if n := len(res.Plan.Skipped); n > 0 {
		msg += fmt.Sprintf(", %d skipped", n)
	}
	writeJSON(w, http.StatusOK, ApproveResponse{
		Success:         true,
		Message:         msg,
		AdjustmentCount: res.AdjustmentCount(),
		Skipped:         toSkippedDTOs(res.Plan.Skipped),
		Data:            toSessionDTO(res.Session),
	})
}

// =============================================================================
// EXPORTS
// =============================================================================

// ExportSheet streams the XLSX count sheet.
// GET /api/counts/{id}/export.xlsx
func (h *Handler) ExportSheet(w http.ResponseWriter, r *http.Request) {
	sess, lines, err := h.Engine.ListLines(r.Context(), actorFrom(r.Context()), sessionID(r), count.LinesAll)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := report.WriteCountSheet(&buf, sess, lines); err != nil {
		writeEngineError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", sess.Code+".xlsx"))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// DiscrepancyReport returns the plain-text discrepancy report.
// GET /api/counts/{id}/report.txt
func (h *Handler) DiscrepancyReport(w http.ResponseWriter, r *http.Request) {
	sess, lines, err := h.Engine.ListLines(r.Context(), actorFrom(r.Context()), sessionID(r), count.LinesAll)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := report.WriteDiscrepancyReport(&buf, sess, lines); err != nil {
		writeEngineError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// =============================================================================
// STOCK ENDPOINTS
// =============================================================================

// ListPositions returns live stock levels.
// GET /api/stock/positions?zone=A&location=A1-01
func (h *Handler) ListPositions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := stock.PositionFilter{Zones: q["zone"], LocationCodes: q["location"]}

	positions, err := h.Store.Levels(r.Context(), filter)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: toPositionDTOs(positions)})
}

// ListMovements returns ledger entries, oldest first.
// GET /api/stock/movements?reference={sessionId}&limit=100
func (h *Handler) ListMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := stock.MovementFilter{
		ReferenceID: q.Get("reference"),
		ProductID:   stock.ProductID(q.Get("product")),
		LocationID:  stock.LocationID(q.Get("location")),
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeEngineError(w, &count.ValidationError{Field: "limit", Message: "must be a non-negative integer"})
			return
		}
		filter.Limit = n
	}

	movements, err := h.Store.Movements(r.Context(), filter)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: toMovementDTOs(movements)})
}

// =============================================================================
// SCENARIO ENDPOINTS
// =============================================================================

// ListScenarios returns available demo scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	all, err := LoadScenarios()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	dtos := make([]ScenarioDTO, 0, len(all))
	for _, sc := range all {
		dtos = append(dtos, ScenarioDTO{ID: sc.ID, Name: sc.Name, Description: sc.Description})
	}
	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: dtos})
}

// GetCurrentScenario returns the id of the last loaded scenario.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: map[string]string{"scenario_id": current}})
}

// LoadScenario resets the database and loads a scenario. Admin only.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	if actor.Role != count.RoleAdmin {
		writeEngineError(w, &count.ForbiddenError{Role: actor.Role, Action: "load scenarios"})
		return
	}

	var req LoadScenarioRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeEngineError(w, err)
		return
	}
	sc, err := FindScenario(req.ScenarioID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	res, err := sc.Load(r.Context(), h.Store, h.Engine)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	h.mu.Lock()
	h.currentScenario = sc.ID
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, Envelope{
		Success: true,
		Message: fmt.Sprintf("Scenario %s loaded", sc.Name),
		Data:    SyncDTO{Positions: res.Positions, SyncedAt: res.SyncedAt},
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func sessionID(r *http.Request) count.SessionID {
	return count.SessionID(chi.URLParam(r, "id"))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, count.ErrValidation) {
			return err
		}
		return &count.ValidationError{Message: "invalid JSON body: " + err.Error()}
	}
	return nil
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, count.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, count.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, count.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, count.ErrInvalidState), errors.Is(err, count.ErrSessionLocked):
		return http.StatusConflict
	case errors.Is(err, count.ErrEmptyScope), errors.Is(err, count.ErrEmptySnapshot):
		return http.StatusUnprocessableEntity
	case errors.Is(err, count.ErrAdjustmentFailed):
		return http.StatusBadGateway
	case stock.IsNotFound(err):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func errorEnvelope(err error) Envelope {
	if !count.IsClientError(err) && !count.IsNotFound(err) {
		log.Printf("[API] %v", err)
	}
	if statusFor(err) == http.StatusInternalServerError {
		return Envelope{Success: false, Error: "internal error"}
	}
	return Envelope{Success: false, Error: err.Error()}
}

func writeEngineError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorEnvelope(err))
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Envelope{Success: false, Error: strings.TrimSpace(message)})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
