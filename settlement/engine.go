/*
engine.go - Batch replay driver

PURPOSE:
  Feeds records from a Source into the transaction log(s) and applies the
  propagation policy: a rejected record is logged, counted, journalled and
  skipped; a fatal ledger failure stops the run.

SHARDING:
  With Workers > 1 the engine runs one TransactionLog per worker, all
  sharing one AccountLedger. Records are routed by tx id, so a dispute,
  resolve or chargeback always lands on the shard that holds its
  originating transaction, behind it in arrival order. Ordering across
  different tx ids (and so across one client's deposits and withdrawals)
  is not preserved; use Workers == 1 for the deterministic replay.

SEE ALSO:
  - transaction.go: Per-record state machine
  - journal.go: Journal interface
  - records/reader.go: CSV Source
*/
package settlement

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Source yields records in arrival order and returns io.EOF when done.
type Source interface {
	Next() (Record, error)
}

// SliceSource is a Source over an in-memory slice.
type SliceSource struct {
	records []Record
}

func NewSliceSource(records ...Record) *SliceSource {
	return &SliceSource{records: records}
}

func (s *SliceSource) Next() (Record, error) {
	if len(s.records) == 0 {
		return Record{}, io.EOF
	}
	rec := s.records[0]
	s.records = s.records[1:]
	return rec, nil
}

// =============================================================================
// STATS
// =============================================================================

// Stats summarises a replay.
type Stats struct {
	Processed int            `json:"processed"`
	Applied   int            `json:"applied"`
	Rejected  map[string]int `json:"rejected"`
}

// RejectedTotal returns the number of rejected records.
func (s Stats) RejectedTotal() int {
	n := 0
	for _, c := range s.Rejected {
		n += c
	}
	return n
}

// =============================================================================
// ENGINE
// =============================================================================

// Options configures an Engine. Zero values are usable.
type Options struct {
	Workers int
	Logger  *zap.Logger
	Journal Journal
	// Clock is used for journal timestamps. Defaults to time.Now.
	Clock func() time.Time
}

// Engine drives a ledger from a record source.
type Engine struct {
	ledger  *AccountLedger
	shards  []*TransactionLog
	logger  *zap.Logger
	journal Journal
	clock   func() time.Time
	seq     atomic.Uint64

	mu    sync.Mutex
	stats Stats
}

func NewEngine(ledger *AccountLedger, opts Options) *Engine {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	shards := make([]*TransactionLog, workers)
	for i := range shards {
		shards[i] = NewTransactionLog()
	}

	return &Engine{
		ledger:  ledger,
		shards:  shards,
		logger:  logger,
		journal: opts.Journal,
		clock:   clock,
		stats:   Stats{Rejected: make(map[string]int)},
	}
}

// Ledger returns the account ledger the engine mutates.
func (e *Engine) Ledger() *AccountLedger {
	return e.ledger
}

// Transaction looks up a lifecycle record in the shard that owns id.
func (e *Engine) Transaction(id TransactionID) (Transaction, bool) {
	return e.shardFor(id).Get(id)
}

// Stats returns a copy of the counters so far.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := Stats{Processed: e.stats.Processed, Applied: e.stats.Applied, Rejected: make(map[string]int, len(e.stats.Rejected))}
	for k, v := range e.stats.Rejected {
		out.Rejected[k] = v
	}
	return out
}

func (e *Engine) shardFor(id TransactionID) *TransactionLog {
	return e.shards[uint32(id)%uint32(len(e.shards))]
}

// Process applies a single record, with logging, stats and journalling.
// The returned error is the record's outcome; it is fatal only if
// IsFatal(err) or the journal failed.
func (e *Engine) Process(ctx context.Context, rec Record) error {
	return e.handle(ctx, e.shardFor(rec.TxID), rec)
}

// Run replays src until io.EOF. Rejected records do not stop the run. It
// returns early on a fatal ledger error, a journal or source error, or ctx
// cancellation.
func (e *Engine) Run(ctx context.Context, src Source) (Stats, error) {
	var err error
	if len(e.shards) == 1 {
		err = e.runSequential(ctx, src)
	} else {
		err = e.runSharded(ctx, src)
	}

	stats := e.Stats()
	e.logger.Info("replay finished",
		zap.Int("processed", stats.Processed),
		zap.Int("applied", stats.Applied),
		zap.Int("rejected", stats.RejectedTotal()),
		zap.Int("accounts", e.ledger.Len()),
	)
	return stats, err
}

func (e *Engine) runSequential(ctx context.Context, src Source) error {
	shard := e.shards[0]
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := src.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read record: %w", err)
		}
		if err := e.handle(ctx, shard, rec); err != nil && stopsRun(err) {
			return err
		}
	}
}

func (e *Engine) runSharded(ctx context.Context, src Source) error {
	g, gctx := errgroup.WithContext(ctx)

	queues := make([]chan Record, len(e.shards))
	for i := range queues {
		queues[i] = make(chan Record, 64)
	}

	for i, shard := range e.shards {
		shard := shard
		queue := queues[i]
		g.Go(func() error {
			for rec := range queue {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := e.handle(gctx, shard, rec); err != nil && stopsRun(err) {
					return err
				}
			}
			return nil
		})
	}

	g.Go(func() error {
		defer func() {
			for _, q := range queues {
				close(q)
			}
		}()
		for {
			rec, err := src.Next()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("read record: %w", err)
			}
			select {
			case queues[uint32(rec.TxID)%uint32(len(queues))] <- rec:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	return g.Wait()
}

// stopsRun reports whether err from handle must end the run.
func stopsRun(err error) bool {
	var perr *ProcessError
	if errors.As(err, &perr) {
		return IsFatal(err)
	}
	return true
}

func (e *Engine) handle(ctx context.Context, shard *TransactionLog, rec Record) error {
	err := shard.Process(rec, e.ledger)
	code := ErrorCode(err)

	e.mu.Lock()
	e.stats.Processed++
	if err == nil {
		e.stats.Applied++
	} else {
		e.stats.Rejected[code]++
	}
	e.mu.Unlock()

	fields := []zap.Field{
		zap.Uint16("client", uint16(rec.Client)),
		zap.Uint32("tx", uint32(rec.TxID)),
		zap.String("kind", string(rec.Kind)),
	}
	switch {
	case err == nil:
		e.logger.Debug("record applied", fields...)
	case IsFatal(err):
		e.logger.Error("ledger failure, halting", append(fields, zap.Error(err))...)
	default:
		e.logger.Warn("record rejected", append(fields, zap.String("code", code), zap.Error(err))...)
	}

	if e.journal != nil {
		entry := JournalEntry{
			ID:          uuid.NewString(),
			Seq:         e.seq.Add(1),
			Record:      rec,
			Outcome:     code,
			ProcessedAt: e.clock().UTC(),
		}
		if err != nil {
			entry.Detail = err.Error()
		}
		if jerr := e.journal.Append(ctx, entry); jerr != nil {
			e.logger.Error("journal append failed", append(fields, zap.Error(jerr))...)
			return fmt.Errorf("journal append: %w", jerr)
		}
	}

	return err
}
