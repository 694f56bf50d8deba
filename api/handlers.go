/*
handlers.go - HTTP API handlers for the leave ledger

PURPOSE:
  Exposes the leave engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the engine components. No ledger
  logic lives here.

ENDPOINTS:
  Employees:
    POST   /api/employees                     Employee created hook
    DELETE /api/employees/{id}                Employee removed hook
    GET    /api/employees/{id}/balance        Balance summary (self-healing)
    GET    /api/employees/{id}/history        Paginated transaction history
    POST   /api/employees/{id}/transactions   Consume or restore days

  Admin:
    POST   /api/admin/migrations/balances     Run the balance migration
                                              (?dry_run=true to only count)

  Health:
    GET    /healthz

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Invalid input (zero delta, bad page token, bad query parameter)
  - 422: Quota violation (used would leave [0, total])
  - 503: Transient store failure, with Retry-After. Safe to retry.
  - 500: Anything else

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/warp/leave-ledger/leave"
)

// retryAfterSeconds is advertised on 503 responses.
const retryAfterSeconds = "1"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *leave.Service
	Logger  zerolog.Logger
}

// NewHandler creates a new handler over the engine service.
func NewHandler(svc *leave.Service, logger zerolog.Logger) *Handler {
	return &Handler{
		Service: svc,
		Logger:  logger.With().Str("component", "api").Logger(),
	}
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// CreateEmployee runs the employee created hook and returns the initialized balance.
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req CreateEmployeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	b, err := h.Service.Lifecycle.EmployeeCreated(r.Context(), leave.EmployeeID(req.ID))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBalanceDTO(b))
}

// RemoveEmployee runs the employee removed hook.
func (h *Handler) RemoveEmployee(w http.ResponseWriter, r *http.Request) {
	id := leave.EmployeeID(chi.URLParam(r, "id"))

	if err := h.Service.Lifecycle.EmployeeRemoved(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// BALANCE & HISTORY
// =============================================================================

// GetBalance returns total, used and available days. A missing balance is
// created on the fly.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := leave.EmployeeID(chi.URLParam(r, "id"))

	summary, err := h.Service.Balances.GetSummary(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summaryToDTO(summary))
}

// GetHistory returns one page of transactions, oldest first.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id := leave.EmployeeID(chi.URLParam(r, "id"))
	query := r.URL.Query()

	pageSize := 0
	if raw := query.Get("page_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "page_size must be a non-negative integer", err)
			return
		}
		pageSize = n
	}

	page, err := h.Service.History.GetHistory(r.Context(), id, pageSize, query.Get("page_token"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toHistoryResponse(page))
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// ApplyTransaction records a delta against the employee's balance.
func (h *Handler) ApplyTransaction(w http.ResponseWriter, r *http.Request) {
	id := leave.EmployeeID(chi.URLParam(r, "id"))

	var req ApplyTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Delta == nil {
		writeError(w, http.StatusBadRequest, "delta is required", nil)
		return
	}

	tx, b, err := h.Service.Applier.Apply(r.Context(), id, *req.Delta, req.Reason)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ApplyTransactionResponse{
		Transaction: toTransactionDTO(tx),
		Balance:     toBalanceDTO(b),
	})
}

// =============================================================================
// ADMIN
// =============================================================================

// RunBalanceMigration creates missing balances for every known employee.
func (h *Handler) RunBalanceMigration(w http.ResponseWriter, r *http.Request) {
	dryRun := false
	if raw := r.URL.Query().Get("dry_run"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "dry_run must be a boolean", err)
			return
		}
		dryRun = v
	}

	result, err := h.Service.Migration.Run(r.Context(), leave.RunOptions{DryRun: dryRun})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMigrationSummaryDTO(result))
}

// Healthz reports liveness.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// writeServiceError maps engine errors onto HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, leave.ErrQuotaViolation):
		writeError(w, http.StatusUnprocessableEntity, "Quota violation", err)
	case errors.Is(err, leave.ErrInvalidDelta):
		writeError(w, http.StatusBadRequest, "Invalid delta", err)
	case errors.Is(err, leave.ErrInvalidPageToken):
		writeError(w, http.StatusBadRequest, "Invalid page token", err)
	case errors.Is(err, leave.ErrInvalidEmployeeID):
		writeError(w, http.StatusBadRequest, "Invalid employee id", err)
	case leave.IsTransient(err):
		h.Logger.Warn().Err(err).Str("path", r.URL.Path).Msg("transient ledger failure")
		w.Header().Set("Retry-After", retryAfterSeconds)
		writeError(w, http.StatusServiceUnavailable, "Ledger temporarily unavailable", err)
	default:
		h.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("unexpected ledger failure")
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

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
