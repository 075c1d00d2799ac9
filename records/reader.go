/*
Package records reads transaction records from CSV.

FORMAT:
  type, client, tx, amount
  deposit, 1, 1, 1.0
  withdrawal, 1, 4, 1.5
  dispute, 1, 1,
  resolve, 1, 1

  - An optional header row (first field "type") is skipped.
  - Whitespace around fields is ignored; type is case-insensitive.
  - amount is required for deposit/withdrawal and ignored otherwise.

MALFORMED ROWS:
  Rows that cannot be turned into a valid settlement.Record (unknown type,
  client id outside 16 bits, tx id outside 32 bits, missing, unparseable
  or negative amount) are logged and skipped. The settlement core never
  sees them. Skipped() reports how many were dropped.

SEE ALSO:
  - settlement/engine.go: Reader implements settlement.Source
*/
package records

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/warp/settlement-engine/settlement"
)

// ErrMalformed is wrapped by every row-level parse failure.
var ErrMalformed = errors.New("malformed record")

// Reader is a settlement.Source over CSV input.
type Reader struct {
	csv     *csv.Reader
	logger  *zap.Logger
	row     int
	skipped int
}

var _ settlement.Source = (*Reader)(nil)

func NewReader(r io.Reader, logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true
	return &Reader{csv: cr, logger: logger}
}

// Next returns the next valid record, skipping malformed rows, or io.EOF.
func (r *Reader) Next() (settlement.Record, error) {
	for {
		fields, err := r.csv.Read()
		if errors.Is(err, io.EOF) {
			return settlement.Record{}, io.EOF
		}
		r.row++

		var perr *csv.ParseError
		if errors.As(err, &perr) {
			r.skip(err)
			continue
		}
		if err != nil {
			return settlement.Record{}, fmt.Errorf("read csv: %w", err)
		}

		if r.row == 1 && isHeader(fields) {
			continue
		}

		rec, err := ParseRow(fields)
		if err != nil {
			r.skip(err)
			continue
		}
		return rec, nil
	}
}

// Skipped returns the number of malformed rows dropped so far.
func (r *Reader) Skipped() int {
	return r.skipped
}

func (r *Reader) skip(err error) {
	r.skipped++
	r.logger.Warn("skipping malformed row", zap.Int("row", r.row), zap.Error(err))
}

func isHeader(fields []string) bool {
	return len(fields) > 0 && strings.EqualFold(strings.TrimSpace(fields[0]), "type")
}

// ParseRow converts one CSV row into a record.
func ParseRow(fields []string) (settlement.Record, error) {
	if len(fields) < 3 {
		return settlement.Record{}, fmt.Errorf("%w: want at least 3 fields, got %d", ErrMalformed, len(fields))
	}

	kind, err := settlement.ParseKind(strings.ToLower(strings.TrimSpace(fields[0])))
	if err != nil {
		return settlement.Record{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	client, err := strconv.ParseUint(strings.TrimSpace(fields[1]), 10, 16)
	if err != nil {
		return settlement.Record{}, fmt.Errorf("%w: client %q: %v", ErrMalformed, fields[1], err)
	}

	tx, err := strconv.ParseUint(strings.TrimSpace(fields[2]), 10, 32)
	if err != nil {
		return settlement.Record{}, fmt.Errorf("%w: tx %q: %v", ErrMalformed, fields[2], err)
	}

	rec := settlement.Record{
		Client: settlement.ClientID(client),
		TxID:   settlement.TransactionID(tx),
		Kind:   kind,
	}
	if !kind.MovesFunds() {
		return rec, nil
	}

	raw := ""
	if len(fields) > 3 {
		raw = strings.TrimSpace(fields[3])
	}
	if raw == "" {
		return settlement.Record{}, fmt.Errorf("%w: %s without amount", ErrMalformed, kind)
	}
	amount, err := settlement.ParseAmount(raw)
	if err != nil {
		return settlement.Record{}, fmt.Errorf("%w: amount %q: %w", ErrMalformed, raw, err)
	}
	if amount.IsNegative() {
		return settlement.Record{}, fmt.Errorf("%w: negative amount %q: %w", ErrMalformed, raw, settlement.ErrInvalidAmount)
	}
	rec.Amount = amount
	return rec, nil
}
