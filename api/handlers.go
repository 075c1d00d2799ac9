/*
handlers.go - HTTP handlers for the reporting API

PURPOSE:
  Exposes the state of a finished (or running) replay. Read-only: there is
  no endpoint that submits transactions.

ENDPOINTS:
  GET /api/accounts               All accounts, ordered by client
  GET /api/accounts/{client}      One account
  GET /api/transactions/{tx}      Lifecycle record and journal history
  GET /api/stats                  Replay statistics
  GET /healthz                    Liveness

ERROR HANDLING:
  - 400: Unparseable client or tx id
  - 404: Never referenced
  - 500: Journal lookup failed

SEE ALSO:
  - dto.go: Response shapes
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/settlement-engine/settlement"
)

// JournalReader looks up the journal history of a transaction.
type JournalReader interface {
	JournalForTransaction(ctx context.Context, id settlement.TransactionID) ([]settlement.JournalEntry, error)
}

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine  *settlement.Engine
	Journal JournalReader // optional
	Logger  *zap.Logger

	// Malformed is the number of input rows the reader discarded.
	Malformed int
}

// NewHandler creates a handler over engine. journal may be nil.
func NewHandler(engine *settlement.Engine, journal JournalReader, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Engine: engine, Journal: journal, Logger: logger}
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// ListAccounts returns all accounts.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	snapshot := h.Engine.Ledger().Snapshot()

	dtos := make([]AccountDTO, len(snapshot))
	for i, a := range snapshot {
		dtos[i] = toAccountDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetAccount returns a single account.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "client"), 10, 16)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid client id", err)
		return
	}

	account, ok := h.Engine.Ledger().Account(settlement.ClientID(id))
	if !ok {
		writeError(w, http.StatusNotFound, "Account not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(account))
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// GetTransaction returns a lifecycle record with its journal history.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	raw, err := strconv.ParseUint(chi.URLParam(r, "tx"), 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid transaction id", err)
		return
	}
	id := settlement.TransactionID(raw)

	tx, ok := h.Engine.Transaction(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Transaction not found", nil)
		return
	}

	dto := TransactionDTO{
		TxID:    uint32(id),
		Client:  uint16(tx.Client),
		State:   string(tx.State),
		Amount:  tx.Amount.String(),
		History: []JournalEntryDTO{},
	}

	if h.Journal != nil {
		entries, err := h.Journal.JournalForTransaction(r.Context(), id)
		if err != nil {
			h.Logger.Error("journal lookup failed", zap.Uint32("tx", uint32(id)), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Failed to load journal", err)
			return
		}
		for _, e := range entries {
			dto.History = append(dto.History, toJournalEntryDTO(e))
		}
	}

	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// STATS
// =============================================================================

// GetStats returns replay statistics.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := h.Engine.Stats()
	writeJSON(w, http.StatusOK, StatsDTO{
		Processed: stats.Processed,
		Applied:   stats.Applied,
		Rejected:  stats.Rejected,
		Malformed: h.Malformed,
		Accounts:  h.Engine.Ledger().Len(),
	})
}

// Health reports liveness. A poisoned ledger is reported as 503.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.Engine.Ledger().Poisoned() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "ledger_failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
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
