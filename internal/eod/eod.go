package eod

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"

	"perpetual-engine/internal/interfaces"
	"perpetual-engine/internal/tradelog"
	"perpetual-engine/internal/types"
)

// aggRow aggregates one symbol's journal lines for a day.
type aggRow struct {
	Symbol      string
	Buys        int
	BuyQty      decimal.Decimal
	BuyValue    decimal.Decimal
	Sells       int
	SellQty     decimal.Decimal
	SellValue   decimal.Decimal
	Fees        decimal.Decimal
	RealizedPnL decimal.Decimal
}

type eodSummarizer struct {
	journal *tradelog.Journal
	outDir  string
}

var _ interfaces.EodSummarizer = (*eodSummarizer)(nil)

func (s *eodSummarizer) csvPath(date string) string {
	return filepath.Join(s.outDir, date+".csv")
}

// SummarizeDay writes <outDir>/<date>.csv with one row per traded symbol,
// a TOTAL row and the day's statistics. Returns "" when the day had no
// activity at all.
func (s *eodSummarizer) SummarizeDay(day types.DailyStats) (string, error) {
	entries, err := s.journal.ReadDay(day.Date)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 && day.Trades == 0 {
		return "", nil
	}

	aggs := aggregate(entries)
	keys := make([]string, 0, len(aggs))
	for k := range aggs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	outPath := s.csvPath(day.Date)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", err
	}
	out, err := os.Create(outPath)
	if err != nil {
		return "", err
	}
	defer out.Close()

	w := csv.NewWriter(out)
	headers := []string{"symbol", "buys", "buy_qty", "buy_avg", "sells", "sell_qty", "sell_avg", "fees", "realized_pnl", "gross_buy_value", "gross_sell_value"}
	if err := w.Write(headers); err != nil {
		return "", err
	}

	total := aggRow{Symbol: "TOTAL"}
	for _, k := range keys {
		r := aggs[k]
		if err := w.Write(r.record()); err != nil {
			return "", err
		}
		total.Buys += r.Buys
		total.Sells += r.Sells
		total.BuyValue = total.BuyValue.Add(r.BuyValue)
		total.SellValue = total.SellValue.Add(r.SellValue)
		total.Fees = total.Fees.Add(r.Fees)
		total.RealizedPnL = total.RealizedPnL.Add(r.RealizedPnL)
	}
	_ = w.Write([]string{"TOTAL", strconv.Itoa(total.Buys), "", "", strconv.Itoa(total.Sells), "", "",
		total.Fees.StringFixed(4), total.RealizedPnL.StringFixed(2), total.BuyValue.StringFixed(2), total.SellValue.StringFixed(2)})

	_ = w.Write(nil)
	stats := [][]string{
		{"date", day.Date},
		{"trades", strconv.Itoa(day.Trades)},
		{"wins", strconv.Itoa(day.Wins)},
		{"losses", strconv.Itoa(day.Losses)},
		{"win_rate", fmt.Sprintf("%.2f", day.WinRate)},
		{"net_profit", day.NetProfit.StringFixed(2)},
	}
	if err := w.WriteAll(stats); err != nil {
		return "", err
	}
	return outPath, w.Error()
}

func aggregate(entries []tradelog.Entry) map[string]*aggRow {
	aggs := map[string]*aggRow{}
	for _, e := range entries {
		row := aggs[e.Symbol]
		if row == nil {
			row = &aggRow{Symbol: e.Symbol}
			aggs[e.Symbol] = row
		}
		switch e.Side {
		case "BUY":
			row.Buys++
			row.BuyQty = row.BuyQty.Add(e.Quantity)
			row.BuyValue = row.BuyValue.Add(e.Amount)
		case "SELL":
			row.Sells++
			row.SellQty = row.SellQty.Add(e.Quantity)
			row.SellValue = row.SellValue.Add(e.Amount)
			row.RealizedPnL = row.RealizedPnL.Add(e.PnL)
		default:
			continue
		}
		row.Fees = row.Fees.Add(e.Fee)
	}
	return aggs
}

func (r *aggRow) record() []string {
	avg := func(value, qty decimal.Decimal) string {
		if qty.IsZero() {
			return "0.0000"
		}
		return value.Div(qty).StringFixed(4)
	}
	return []string{
		r.Symbol,
		strconv.Itoa(r.Buys),
		r.BuyQty.String(),
		avg(r.BuyValue, r.BuyQty),
		strconv.Itoa(r.Sells),
		r.SellQty.String(),
		avg(r.SellValue, r.SellQty),
		r.Fees.StringFixed(4),
		r.RealizedPnL.StringFixed(2),
		r.BuyValue.StringFixed(2),
		r.SellValue.StringFixed(2),
	}
}
