package settlement

import (
	"context"
	"time"
)

// =============================================================================
// JOURNAL - Append-only record of every processed input row
// =============================================================================

// JournalEntry records the outcome of one processed record. Outcome is the
// ErrorCode of the result ("ok" on success).
type JournalEntry struct {
	ID          string
	Seq         uint64
	Record      Record
	Outcome     string
	Detail      string
	ProcessedAt time.Time
}

// Journal stores journal entries. Append-only: no Update, no Delete.
type Journal interface {
	Append(ctx context.Context, entry JournalEntry) error
}
