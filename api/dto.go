/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the leave engine's model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Balance:      BalanceDTO
  History:      TransactionDTO, HistoryResponse
  Transactions: ApplyTransactionRequest, ApplyTransactionResponse
  Employees:    CreateEmployeeRequest
  Admin:        MigrationSummaryDTO, MigrationFailureDTO
  Errors:       ErrorResponse

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/leave-ledger/leave"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// BalanceDTO is the balance view. Available is never negative.
type BalanceDTO struct {
	EmployeeID string `json:"employee_id"`
	Total      int    `json:"total"`
	Used       int    `json:"used"`
	Available  int    `json:"available"`
}

// TransactionDTO represents a ledger entry in API responses.
type TransactionDTO struct {
	ID         string `json:"id"`
	EmployeeID string `json:"employee_id"`
	Delta      int    `json:"delta"`
	Reason     string `json:"reason"`
	Timestamp  string `json:"timestamp"`
}

// HistoryResponse is one page of history. NextPageToken is empty on the last page.
type HistoryResponse struct {
	Items         []TransactionDTO `json:"items"`
	NextPageToken string           `json:"next_page_token"`
}

// ApplyTransactionRequest records consumption (positive delta) or a
// restoration (negative delta).
type ApplyTransactionRequest struct {
	Delta  *int   `json:"delta"`
	Reason string `json:"reason"`
}

// ApplyTransactionResponse echoes the recorded transaction and the new balance.
type ApplyTransactionResponse struct {
	Transaction TransactionDTO `json:"transaction"`
	Balance     BalanceDTO     `json:"balance"`
}

// CreateEmployeeRequest announces a new employee.
type CreateEmployeeRequest struct {
	ID string `json:"id"`
}

// MigrationFailureDTO is one employee the migration could not initialize.
type MigrationFailureDTO struct {
	EmployeeID string `json:"employee_id"`
	Error      string `json:"error"`
}

// MigrationSummaryDTO reports one balance migration run.
type MigrationSummaryDTO struct {
	Scanned    int                   `json:"scanned"`
	Created    int                   `json:"created"`
	Skipped    int                   `json:"skipped"`
	Failed     int                   `json:"failed"`
	DryRun     bool                  `json:"dry_run"`
	DurationMS int64                 `json:"duration_ms"`
	Failures   []MigrationFailureDTO `json:"failures"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toBalanceDTO(b leave.Balance) BalanceDTO {
	return BalanceDTO{
		EmployeeID: string(b.EmployeeID),
		Total:      b.TotalEntitlement,
		Used:       b.Used,
		Available:  b.Available(),
	}
}

func summaryToDTO(s leave.Summary) BalanceDTO {
	return BalanceDTO{
		EmployeeID: string(s.EmployeeID),
		Total:      s.Total,
		Used:       s.Used,
		Available:  s.Available,
	}
}

func toTransactionDTO(tx leave.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:         string(tx.ID),
		EmployeeID: string(tx.EmployeeID),
		Delta:      tx.Delta,
		Reason:     tx.Reason,
		Timestamp:  tx.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

func toHistoryResponse(p leave.Page) HistoryResponse {
	items := make([]TransactionDTO, len(p.Items))
	for i, tx := range p.Items {
		items[i] = toTransactionDTO(tx)
	}
	return HistoryResponse{Items: items, NextPageToken: p.NextPageToken}
}

func toMigrationSummaryDTO(r leave.MigrationResult) MigrationSummaryDTO {
	failures := make([]MigrationFailureDTO, len(r.Failures))
	for i, f := range r.Failures {
		failures[i] = MigrationFailureDTO{EmployeeID: string(f.EmployeeID), Error: f.Err.Error()}
	}
	return MigrationSummaryDTO{
		Scanned:    r.Scanned,
		Created:    r.Created,
		Skipped:    r.Skipped,
		Failed:     r.Failed,
		DryRun:     r.DryRun,
		DurationMS: r.Duration.Milliseconds(),
		Failures:   failures,
	}
}
