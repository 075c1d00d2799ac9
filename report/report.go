// Package report renders account snapshots as CSV.
package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/warp/settlement-engine/settlement"
)

// ErrTotalOverflow is returned after writing a report in which at least one
// account's available+held does not fit in an Amount.
var ErrTotalOverflow = errors.New("account total overflows")

// TotalOverflow is printed in place of a total that cannot be represented.
const TotalOverflow = "overflow"

// Header is the column row of the report.
var Header = []string{"client", "available", "held", "total", "locked"}

// OverflowError lists the clients whose totals overflowed.
type OverflowError struct {
	Clients []settlement.ClientID
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("%v: clients %v", ErrTotalOverflow, e.Clients)
}

func (e *OverflowError) Unwrap() error {
	return ErrTotalOverflow
}

// Write renders accounts, one row each, amounts with four fractional digits.
// Every row is written even if some totals overflow; those rows carry
// TotalOverflow and an *OverflowError is returned.
func Write(w io.Writer, accounts []settlement.AccountSnapshot) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}

	var overflowed []settlement.ClientID
	for _, a := range accounts {
		total := TotalOverflow
		if a.TotalOK {
			total = a.Total.String()
		} else {
			overflowed = append(overflowed, a.Client)
		}
		row := []string{
			strconv.FormatUint(uint64(a.Client), 10),
			a.Available.String(),
			a.Held.String(),
			total,
			strconv.FormatBool(a.Frozen),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	if len(overflowed) > 0 {
		return &OverflowError{Clients: overflowed}
	}
	return nil
}
