package engine

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertConserved(t *testing.T, v *vault) {
	t.Helper()
	sum := v.available.Add(v.reserved).Add(v.invested)
	assert.True(t, v.total.Equal(sum), "total %s != available %s + reserved %s + invested %s",
		v.total, v.available, v.reserved, v.invested)
}

func TestNewVaultReserves(t *testing.T) {
	v := newVault(1000, 0.5)
	assert.True(t, v.total.Equal(d("1000")))
	assert.True(t, v.reserved.Equal(d("500")))
	assert.True(t, v.available.Equal(d("500")))
	assertConserved(t, v)
}

func TestReserveInvariant(t *testing.T) {
	v := newVault(1234.56, 0.37)
	require.NoError(t, v.debit(d("40"), d("0.04")))
	v.total = v.total.Add(d("17.89"))
	v.reserve()

	assert.True(t, v.reserved.Equal(v.total.Mul(decimal.NewFromFloat(0.37))), "reserved %s", v.reserved)
	assertConserved(t, v)
}

func TestDebit(t *testing.T) {
	v := newVault(1000, 0.5)
	require.NoError(t, v.debit(d("10"), d("0.01")))

	assert.True(t, v.available.Equal(d("489.99")))
	assert.True(t, v.invested.Equal(d("10.01")))
	assertConserved(t, v)
}

func TestDebitInsufficientFunds(t *testing.T) {
	v := newVault(1000, 0.5)
	err := v.debit(d("500"), d("0.5"))

	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.True(t, v.available.Equal(d("500")), "available must be untouched")
	assert.True(t, v.invested.IsZero())
}

func TestCreditKeepsPnLUnsettled(t *testing.T) {
	v := newVault(1000, 0.5)
	require.NoError(t, v.debit(d("100"), d("0.1")))

	pnl := v.credit(d("110"), d("0.11"), d("100.1"))

	assert.True(t, pnl.Equal(d("9.79")), "pnl %s", pnl)
	assert.True(t, v.invested.IsZero())
	assert.True(t, v.available.Equal(d("500")))
	assert.True(t, v.profits.Equal(d("9.79")))
	assert.True(t, v.unsettled.Equal(d("9.79")))
	assert.True(t, v.total.Equal(d("1000")))
	assertConserved(t, v)
}

func TestSettleCompoundsProfit(t *testing.T) {
	v := newVault(1000, 0.5)
	require.NoError(t, v.debit(d("300"), decimal.Zero))
	v.credit(d("400"), decimal.Zero, d("300"))

	compounded, reinvest := v.settle(d("100"), 0.7)

	assert.True(t, compounded)
	assert.True(t, reinvest.Equal(d("70")))
	assert.True(t, v.total.Equal(d("1100")))
	assert.True(t, v.reinvested.Equal(d("70")))
	assert.True(t, v.unsettled.IsZero())
	assertConserved(t, v)

	v.reserve()
	assert.True(t, v.reserved.Equal(d("550")))
	assertConserved(t, v)
}

func TestSettleAbsorbsLoss(t *testing.T) {
	v := newVault(1000, 0.5)
	require.NoError(t, v.debit(d("100"), decimal.Zero))
	v.credit(d("80"), decimal.Zero, d("100"))

	compounded, reinvest := v.settle(d("-20"), 0.7)

	assert.False(t, compounded)
	assert.True(t, reinvest.IsZero())
	assert.True(t, v.total.Equal(d("980")))
	assert.True(t, v.reinvested.IsZero())
	assertConserved(t, v)
}

func TestExposure(t *testing.T) {
	v := newVault(1000, 0.5)
	assert.Equal(t, 0.0, v.exposure())
	require.NoError(t, v.debit(d("50"), decimal.Zero))
	assert.InDelta(t, 0.05, v.exposure(), 1e-12)
}
