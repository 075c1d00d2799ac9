package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/warp/settlement-engine/api"
	"github.com/warp/settlement-engine/config"
	"github.com/warp/settlement-engine/records"
	"github.com/warp/settlement-engine/settlement"
	"github.com/warp/settlement-engine/settlement/store"
	"github.com/warp/settlement-engine/store/sqlite"
)

// session is a finished replay and the resources it still holds.
type session struct {
	engine    *settlement.Engine
	journal   api.JournalReader
	malformed int
	closers   []func() error
}

func (s *session) Close() error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// replayFile runs the whole file through a fresh ledger. keepJournal keeps
// an in-memory journal when no SQLite export is configured.
func replayFile(ctx context.Context, cfg config.Config, logger *zap.Logger, path string, keepJournal bool) (*session, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	s := &session{}
	var (
		journal settlement.Journal
		db      *sqlite.Store
	)
	switch {
	case cfg.DBPath != "":
		db, err = sqlite.New(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, db.Close)
		journal, s.journal = db, db
	case keepJournal:
		mem := store.NewMemory()
		journal, s.journal = mem, mem
	}

	s.engine = settlement.NewEngine(settlement.NewAccountLedger(), settlement.Options{
		Workers: cfg.Workers,
		Logger:  logger,
		Journal: journal,
	})

	reader := records.NewReader(f, logger)
	_, runErr := s.engine.Run(ctx, reader)
	s.malformed = reader.Skipped()
	if runErr != nil {
		s.Close()
		return nil, fmt.Errorf("replay %s: %w", path, runErr)
	}

	if db != nil {
		if err := db.SaveAccounts(ctx, s.engine.Ledger().Snapshot()); err != nil {
			s.Close()
			return nil, err
		}
	}

	logger.Info("replay complete", zap.String("input", path), zap.Int("malformed", s.malformed))
	return s, nil
}
