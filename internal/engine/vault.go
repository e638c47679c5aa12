package engine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"perpetual-engine/internal/types"
)

// vault owns the capital buckets of one run.
//
// total is the settled capital base. Realized P&L of the running day is kept
// in unsettled and only reaches total (and available) when the day is settled,
// so total == available + reserved + invested holds after every mutation.
type vault struct {
	total      decimal.Decimal
	available  decimal.Decimal
	reserved   decimal.Decimal
	invested   decimal.Decimal
	profits    decimal.Decimal
	unsettled  decimal.Decimal
	reinvested decimal.Decimal

	reserveRatio decimal.Decimal
}

// newVault creates a vault funded with initial and immediately reserves.
func newVault(initial, reserveRatio float64) *vault {
	v := &vault{
		total:        decimal.NewFromFloat(initial),
		reserveRatio: decimal.NewFromFloat(reserveRatio),
	}
	v.reserve()
	return v
}

// reserve recomputes the reserved and available buckets from total.
// Runs at the start of every cycle before any buy decision.
func (v *vault) reserve() {
	v.reserved = v.total.Mul(v.reserveRatio)
	v.available = v.total.Sub(v.reserved).Sub(v.invested)
}

// debit moves amount+fee from available into invested. The fee is
// capitalized into the position cost basis.
//
// Returns:
//   - ErrInsufficientFunds when amount+fee exceeds available; nothing changes
func (v *vault) debit(amount, fee decimal.Decimal) error {
	cost := amount.Add(fee)
	if cost.GreaterThan(v.available) {
		return fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds, cost.StringFixed(2), v.available.StringFixed(2))
	}
	v.available = v.available.Sub(cost)
	v.invested = v.invested.Add(cost)
	return nil
}

// credit releases a closed position. The cost basis returns to available;
// the realized result (saleValue - fee - costBasis) waits in unsettled
// until the day is settled.
//
// Returns:
//   - pnl: realized profit or loss of the sale
func (v *vault) credit(saleValue, fee, costBasis decimal.Decimal) decimal.Decimal {
	pnl := saleValue.Sub(fee).Sub(costBasis)
	v.invested = v.invested.Sub(costBasis)
	v.available = v.available.Add(costBasis)
	v.profits = v.profits.Add(pnl)
	v.unsettled = v.unsettled.Add(pnl)
	return pnl
}

// settle folds the closed day's net result into the capital base.
// A positive result is compounded: reinvested grows by netProfit x rate.
// A loss is absorbed into total without touching reinvested.
//
// Returns:
//   - compounded: true when netProfit > 0
//   - reinvest: amount credited to reinvested
func (v *vault) settle(netProfit decimal.Decimal, rate float64) (compounded bool, reinvest decimal.Decimal) {
	v.total = v.total.Add(netProfit)
	v.available = v.available.Add(netProfit)
	v.unsettled = v.unsettled.Sub(netProfit)
	if !netProfit.IsPositive() {
		return false, decimal.Zero
	}
	reinvest = netProfit.Mul(decimal.NewFromFloat(rate))
	v.reinvested = v.reinvested.Add(reinvest)
	return true, reinvest
}

// exposure is invested / total.
func (v *vault) exposure() float64 {
	if !v.total.IsPositive() {
		return 0
	}
	return v.invested.Div(v.total).InexactFloat64()
}

func (v *vault) state() types.VaultState {
	return types.VaultState{
		Total:      v.total,
		Available:  v.available,
		Reserved:   v.reserved,
		Invested:   v.invested,
		Profits:    v.profits,
		Unsettled:  v.unsettled,
		Reinvested: v.reinvested,
	}
}
