package settlement_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/settlement-engine/settlement"
)

// =============================================================================
// CONSTRUCTION
// =============================================================================

func TestNewAmount_ScalesToFourDigits(t *testing.T) {
	a, err := settlement.NewAmount(2000.4999)
	require.NoError(t, err)
	assert.Equal(t, settlement.Amount(20004999), a)
	assert.Equal(t, "2000.4999", a.String())
}

func TestNewAmount_RoundsHalfAwayFromZero(t *testing.T) {
	tests := []struct {
		in   float64
		want settlement.Amount
	}{
		{1.23456, 12346},
		{1.23454, 12345},
		{-1.23456, -12346},
		{-1.23454, -12345},
		{0, 0},
	}
	for _, tt := range tests {
		got, err := settlement.NewAmount(tt.in)
		require.NoError(t, err, "input %v", tt.in)
		assert.Equal(t, tt.want, got, "input %v", tt.in)
	}
}

func TestNewAmount_RejectsNonFinite(t *testing.T) {
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := settlement.NewAmount(v)
		assert.ErrorIs(t, err, settlement.ErrInvalidAmount, "input %v", v)
	}
}

func TestNewAmount_RejectsOutOfRange(t *testing.T) {
	_, err := settlement.NewAmount(1e15)
	assert.ErrorIs(t, err, settlement.ErrInvalidAmount)

	_, err = settlement.NewAmount(-1e15)
	assert.ErrorIs(t, err, settlement.ErrInvalidAmount)

	_, err = settlement.NewAmount(9e14)
	assert.NoError(t, err)
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want settlement.Amount
	}{
		{"1", 10000},
		{"1.5", 15000},
		{"2000.4999", 20004999},
		{"1.00005", 10001},
		{"-1.00005", -10001},
		{"0.00004", 0},
		{"922337203685477.5807", math.MaxInt64},
		{"1.5e2", 1500000},
		{"1e-23", 0},
		{"0e400000000", 0},
	}
	for _, tt := range tests {
		got, err := settlement.ParseAmount(tt.in)
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got, "input %q", tt.in)
	}
}

func TestParseAmount_Invalid(t *testing.T) {
	for _, in := range []string{
		"", "abc", "1.2.3", "922337203685477.5808", "-922337203685477.5809",
		"1e400000000", "-1e400000000", "1e-400000000", "1e20", "1e-24",
	} {
		_, err := settlement.ParseAmount(in)
		assert.ErrorIs(t, err, settlement.ErrInvalidAmount, "input %q", in)
	}
}

// =============================================================================
// ARITHMETIC
// =============================================================================

func TestAmount_AddOverflow(t *testing.T) {
	_, err := settlement.Amount(math.MaxInt64).Add(1)
	assert.ErrorIs(t, err, settlement.ErrOverflow)

	_, err = settlement.Amount(math.MinInt64).Add(-1)
	assert.ErrorIs(t, err, settlement.ErrOverflow)

	sum, err := settlement.Amount(math.MaxInt64 - 1).Add(1)
	require.NoError(t, err)
	assert.Equal(t, settlement.Amount(math.MaxInt64), sum)
}

func TestAmount_SubOverflow(t *testing.T) {
	_, err := settlement.Amount(math.MinInt64).Sub(1)
	assert.ErrorIs(t, err, settlement.ErrOverflow)

	_, err = settlement.Amount(0).Sub(math.MinInt64)
	assert.ErrorIs(t, err, settlement.ErrOverflow)

	diff, err := settlement.Amount(-1).Sub(math.MaxInt64)
	require.NoError(t, err)
	assert.Equal(t, settlement.Amount(math.MinInt64), diff)
}

func TestAmount_Ordering(t *testing.T) {
	small := settlement.MustAmount(1.0001)
	big := settlement.MustAmount(1.0002)

	assert.True(t, small.LessThan(big))
	assert.True(t, big.GreaterThan(small))
	assert.Equal(t, -1, small.Cmp(big))
	assert.Equal(t, 1, big.Cmp(small))
	assert.Equal(t, 0, small.Cmp(settlement.MustAmount(1.0001)))
}

// =============================================================================
// DISPLAY
// =============================================================================

func TestAmount_RoundTrip(t *testing.T) {
	for _, x := range []float64{0, 1, 0.0001, 2000.4999, -3.1415, 123456789.1234, -987654.3219} {
		a, err := settlement.NewAmount(x)
		require.NoError(t, err)
		assert.InDelta(t, x, a.Float64(), 0.00005, "input %v", x)
	}
}

func TestAmount_StringAlwaysFourDigits(t *testing.T) {
	assert.Equal(t, "0.0000", settlement.Amount(0).String())
	assert.Equal(t, "12.5000", settlement.MustAmount(12.5).String())
	assert.Equal(t, "-0.0005", settlement.Amount(-5).String())
	assert.Equal(t, "922337203685477.5807", settlement.Amount(math.MaxInt64).String())
}
