/*
Package sqlite exports replay results to a SQLite database.

PURPOSE:
  Implements settlement.Journal (one row per processed record) and stores
  the final account snapshot for offline inspection. This is an export:
  nothing is ever read back into a ledger.

KEY TABLES:
  journal:   Append-only outcome of every processed record
  accounts:  Final balances, one row per client

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on the journal table
  - accounts is rewritten as a whole by SaveAccounts

AMOUNTS:
  Stored as TEXT with four fractional digits ("12.5000") so values survive
  exactly. An overflowing account total is stored as NULL, never as a
  number.

CONCURRENCY:
  Uses sync.RWMutex around writes; the sharded engine appends from several
  goroutines.

USAGE:
  store, err := sqlite.New("./replay.db")
  if err != nil {
      return err
  }
  defer store.Close()

  engine := settlement.NewEngine(ledger, settlement.Options{Journal: store})

SEE ALSO:
  - settlement/journal.go: Interface definition
  - settlement/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/settlement-engine/settlement"
)

// ErrDuplicateEntry is returned when a journal entry id already exists.
var ErrDuplicateEntry = errors.New("duplicate journal entry")

// Store implements settlement.Journal using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ settlement.Journal = (*Store)(nil)

// New opens (and migrates) the database at dbPath.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Each :memory: connection is its own database.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Journal (append-only)
	CREATE TABLE IF NOT EXISTS journal (
		id TEXT PRIMARY KEY,
		seq INTEGER NOT NULL,
		client INTEGER NOT NULL,
		tx INTEGER NOT NULL,
		kind TEXT NOT NULL,
		amount TEXT NOT NULL,
		outcome TEXT NOT NULL,
		detail TEXT,
		processed_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_journal_seq ON journal(seq);
	CREATE INDEX IF NOT EXISTS idx_journal_tx ON journal(tx, seq);

	-- Final account snapshot
	CREATE TABLE IF NOT EXISTS accounts (
		client INTEGER PRIMARY KEY,
		available TEXT NOT NULL,
		held TEXT NOT NULL,
		total TEXT,
		locked INTEGER NOT NULL,
		saved_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// JOURNAL (settlement.Journal interface)
// =============================================================================

// Append adds a journal entry.
func (s *Store) Append(ctx context.Context, entry settlement.JournalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO journal
		(id, seq, client, tx, kind, amount, outcome, detail, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		int64(entry.Seq),
		int64(entry.Record.Client),
		int64(entry.Record.TxID),
		string(entry.Record.Kind),
		entry.Record.Amount.String(),
		entry.Outcome,
		nullString(entry.Detail),
		entry.ProcessedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicateEntry
		}
		return fmt.Errorf("failed to append journal entry: %w", err)
	}
	return nil
}

// Journal returns up to limit entries in Seq order. limit <= 0 means all.
func (s *Store) Journal(ctx context.Context, limit int) ([]settlement.JournalEntry, error) {
	query := `
		SELECT id, seq, client, tx, kind, amount, outcome, detail, processed_at
		FROM journal
		ORDER BY seq ASC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return s.queryJournal(ctx, query, args...)
}

// JournalForTransaction returns every entry that referenced tx id.
func (s *Store) JournalForTransaction(ctx context.Context, id settlement.TransactionID) ([]settlement.JournalEntry, error) {
	query := `
		SELECT id, seq, client, tx, kind, amount, outcome, detail, processed_at
		FROM journal
		WHERE tx = ?
		ORDER BY seq ASC
	`
	return s.queryJournal(ctx, query, int64(id))
}

func (s *Store) queryJournal(ctx context.Context, query string, args ...any) ([]settlement.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var entries []settlement.JournalEntry
	for rows.Next() {
		entry, err := scanJournalEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanJournalEntry(rows *sql.Rows) (settlement.JournalEntry, error) {
	var (
		entry       settlement.JournalEntry
		seq         int64
		client      int64
		tx          int64
		kind        string
		amount      string
		detail      sql.NullString
		processedAt string
	)

	err := rows.Scan(&entry.ID, &seq, &client, &tx, &kind, &amount, &entry.Outcome, &detail, &processedAt)
	if err != nil {
		return entry, fmt.Errorf("failed to scan journal entry: %w", err)
	}

	entry.Seq = uint64(seq)
	entry.Record.Client = settlement.ClientID(client)
	entry.Record.TxID = settlement.TransactionID(tx)
	entry.Record.Kind = settlement.Kind(kind)
	entry.Record.Amount, err = settlement.ParseAmount(amount)
	if err != nil {
		return entry, fmt.Errorf("journal entry %s: amount %q: %w", entry.ID, amount, err)
	}
	entry.Detail = detail.String
	entry.ProcessedAt, err = time.Parse(time.RFC3339Nano, processedAt)
	if err != nil {
		return entry, fmt.Errorf("journal entry %s: processed_at %q: %w", entry.ID, processedAt, err)
	}

	return entry, nil
}

// =============================================================================
// ACCOUNTS
// =============================================================================

// SaveAccounts replaces the stored account snapshot atomically.
func (s *Store) SaveAccounts(ctx context.Context, accounts []settlement.AccountSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if _, err := sqlTx.ExecContext(ctx, "DELETE FROM accounts"); err != nil {
		return fmt.Errorf("failed to clear accounts: %w", err)
	}

	savedAt := time.Now().UTC().Format(time.RFC3339)
	for _, a := range accounts {
		total := sql.NullString{}
		if a.TotalOK {
			total = sql.NullString{String: a.Total.String(), Valid: true}
		}
		_, err := sqlTx.ExecContext(ctx, `
			INSERT INTO accounts (client, available, held, total, locked, saved_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, int64(a.Client), a.Available.String(), a.Held.String(), total, a.Frozen, savedAt)
		if err != nil {
			return fmt.Errorf("failed to save account %d: %w", a.Client, err)
		}
	}

	return sqlTx.Commit()
}

// Accounts returns the stored snapshot ordered by client.
func (s *Store) Accounts(ctx context.Context) ([]settlement.AccountSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT client, available, held, total, locked
		FROM accounts
		ORDER BY client ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var result []settlement.AccountSnapshot
	for rows.Next() {
		var (
			a               settlement.AccountSnapshot
			client          int64
			available, held string
			total           sql.NullString
		)
		if err := rows.Scan(&client, &available, &held, &total, &a.Frozen); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		a.Client = settlement.ClientID(client)
		if a.Available, err = settlement.ParseAmount(available); err != nil {
			return nil, fmt.Errorf("account %d: available: %w", client, err)
		}
		if a.Held, err = settlement.ParseAmount(held); err != nil {
			return nil, fmt.Errorf("account %d: held: %w", client, err)
		}
		if total.Valid {
			if a.Total, err = settlement.ParseAmount(total.String); err != nil {
				return nil, fmt.Errorf("account %d: total: %w", client, err)
			}
			a.TotalOK = true
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
