/*
dto.go - Data Transfer Objects for API responses

PURPOSE:
  JSON shapes of the read-only reporting API. Amounts are always strings
  with four fractional digits so clients never see float rounding.

TYPES:
  AccountDTO      one account snapshot
  TransactionDTO  lifecycle record plus its journal history
  StatsDTO        replay statistics
  ErrorResponse   error body

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/settlement-engine/settlement"
)

// AccountDTO represents an account in API responses. Total is null when
// available+held overflows.
type AccountDTO struct {
	Client    uint16  `json:"client"`
	Available string  `json:"available"`
	Held      string  `json:"held"`
	Total     *string `json:"total"`
	Locked    bool    `json:"locked"`
}

// JournalEntryDTO is one processed record that referenced a transaction.
type JournalEntryDTO struct {
	Seq         uint64 `json:"seq"`
	Client      uint16 `json:"client"`
	Kind        string `json:"kind"`
	Outcome     string `json:"outcome"`
	Detail      string `json:"detail,omitempty"`
	ProcessedAt string `json:"processed_at"`
}

// TransactionDTO represents a lifecycle record.
type TransactionDTO struct {
	TxID    uint32            `json:"tx"`
	Client  uint16            `json:"client"`
	State   string            `json:"state"`
	Amount  string            `json:"amount"`
	History []JournalEntryDTO `json:"history"`
}

// StatsDTO summarises the replay.
type StatsDTO struct {
	Processed int            `json:"processed"`
	Applied   int            `json:"applied"`
	Rejected  map[string]int `json:"rejected"`
	Malformed int            `json:"malformed"`
	Accounts  int            `json:"accounts"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAccountDTO(a settlement.AccountSnapshot) AccountDTO {
	dto := AccountDTO{
		Client:    uint16(a.Client),
		Available: a.Available.String(),
		Held:      a.Held.String(),
		Locked:    a.Frozen,
	}
	if a.TotalOK {
		total := a.Total.String()
		dto.Total = &total
	}
	return dto
}

func toJournalEntryDTO(e settlement.JournalEntry) JournalEntryDTO {
	return JournalEntryDTO{
		Seq:         e.Seq,
		Client:      uint16(e.Record.Client),
		Kind:        string(e.Record.Kind),
		Outcome:     e.Outcome,
		Detail:      e.Detail,
		ProcessedAt: e.ProcessedAt.UTC().Format(time.RFC3339Nano),
	}
}
