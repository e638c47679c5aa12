package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"perpetual-engine/internal/logger"
	"perpetual-engine/internal/store"
	"perpetual-engine/internal/types"
)

// session is the state of a single run. Only the loop goroutine touches it.
type session struct {
	cfg    store.EngineConfig
	loc    *time.Location
	vault  *vault
	ledger *ledger
	stats  *tracker
}

func newSession(cfg store.EngineConfig, now time.Time, loc *time.Location) *session {
	v := newVault(cfg.InitialVault, cfg.MinVaultReserve)
	return &session{
		cfg:    cfg,
		loc:    loc,
		vault:  v,
		ledger: newLedger(),
		stats:  newTracker(v.total, dayKey(now, loc)),
	}
}

func (s *session) status(state types.EngineState, last types.CycleReport, now time.Time) types.Status {
	return types.Status{
		State:       state,
		Vault:       s.vault.state(),
		Exposure:    s.vault.exposure(),
		Positions:   s.ledger.snapshot(),
		DailyStats:  s.stats.daily(),
		Performance: s.stats.performance(),
		LastCycle:   last,
		UpdatedAt:   now,
	}
}

type candidate struct {
	snap  types.MarketSnapshot
	score float64
}

// runCycle executes one iteration and publishes its status. Any panic is
// turned into an errored report; the loop carries on.
func (e *Engine) runCycle(ctx context.Context, s *session) (report types.CycleReport) {
	e.seq++
	report = types.CycleReport{Seq: e.seq, StartedAt: e.clock()}

	defer func() {
		if r := recover(); r != nil {
			e.fail(ctx, s, &report, fmt.Errorf("cycle panic: %v", r))
		}
	}()

	if err := e.cycle(ctx, s, &report); err != nil {
		e.fail(ctx, s, &report, err)
	}
	return report
}

// cycle: reserve, scan and buy, revalue and sell, publish, settle on rollover.
func (e *Engine) cycle(ctx context.Context, s *session, report *types.CycleReport) error {
	s.vault.reserve()

	noData := e.buyStep(ctx, s, report)
	if err := e.sellStep(ctx, s, report); err != nil {
		return err
	}

	switch {
	case noData:
		report.Outcome = types.CycleSkippedNoData
	case report.Buys == 0 && report.SkippedBuys > 0:
		report.Outcome = types.CycleSkippedNoFunds
	default:
		report.Outcome = types.CycleProgressed
	}
	report.FinishedAt = e.clock()
	e.publish(s.status(types.StateRunning, *report, report.FinishedAt))

	if e.rollover(ctx, s, report.FinishedAt) {
		report.DayClosed = true
		e.publish(s.status(types.StateRunning, *report, report.FinishedAt))
	}

	logger.Debug(ctx, "Cycle completed",
		"seq", report.Seq,
		"outcome", string(report.Outcome),
		"candidates", report.Candidates,
		"buys", report.Buys,
		"sells", report.Sells,
		"skipped_buys", report.SkippedBuys,
		"stale_prices", report.StalePrices,
	)
	return nil
}

// buyStep scans the market and opens positions for qualifying snapshots,
// best score first. A failed scan reports noData and attempts no buys.
func (e *Engine) buyStep(ctx context.Context, s *session, report *types.CycleReport) (noData bool) {
	scanCtx, cancel := context.WithTimeout(ctx, e.scanTimeout)
	snaps, err := e.market.Scan(scanCtx)
	cancel()
	if err != nil {
		logger.Warn(ctx, "Market snapshot unavailable, skipping buys", "error", err)
		return true
	}

	buy := s.cfg.BuyThreshold
	var cands []candidate
	for _, snap := range snaps {
		if snap.Price <= 0 {
			logger.Warn(ctx, "Ignoring snapshot without price", "symbol", snap.Symbol)
			continue
		}
		if !MeetsBuyConditions(snap, buy) {
			continue
		}
		cands = append(cands, candidate{snap: snap, score: BuyScore(snap, buy)})
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].score > cands[j].score })
	report.Candidates = len(cands)

	for _, c := range cands {
		if e.buy(ctx, s, c) {
			report.Buys++
		} else {
			report.SkippedBuys++
		}
	}
	return false
}

// buy sizes and executes one entry. Sizing happens right before the debit so
// earlier fills of the same cycle count against the exposure cap.
func (e *Engine) buy(ctx context.Context, s *session, c candidate) bool {
	symbol := c.snap.Symbol
	size := PositionSize(s.vault.state(), c.score, s.cfg)
	if !size.IsPositive() {
		logger.Risk(ctx, symbol, "EXPOSURE_CAP",
			"exposure", s.vault.exposure(),
			"max_exposure", s.cfg.MaxDailyExposure,
			"score", c.score,
		)
		return false
	}

	fee := size.Mul(decimal.NewFromFloat(s.cfg.FeeRate))
	if err := s.vault.debit(size, fee); err != nil {
		logger.Risk(ctx, symbol, "INSUFFICIENT_FUNDS", "error", err.Error())
		return false
	}

	price := decimal.NewFromFloat(c.snap.Price)
	now := e.clock()
	fill := types.Fill{
		ID:        uuid.NewString(),
		Amount:    size,
		Quantity:  size.Div(price),
		Price:     price,
		Fee:       fee,
		Timestamp: now,
	}
	pyramid := s.ledger.has(symbol)
	pos := s.ledger.open(symbol, fill)
	s.stats.recordBuy()

	logger.Trade(ctx, symbol, "BUY", fill.Quantity, fill.Price, fill.ID,
		"amount", size.StringFixed(2),
		"fee", fee.StringFixed(4),
		"score", c.score,
		"stage", pos.Stage,
		"pyramid", pyramid,
	)
	e.notify(ctx, buyEvent(now, symbol, fill, s.vault.state()))
	return true
}

// sellStep revalues every open position and closes those the sell rule
// selects. A failed price lookup falls back to the last known price.
func (e *Engine) sellStep(ctx context.Context, s *session, report *types.CycleReport) error {
	for _, symbol := range s.ledger.symbols() {
		price, stale, err := e.currentPrice(ctx, s, symbol)
		if err != nil {
			return err
		}
		if stale {
			report.StalePrices++
		}

		pos, err := s.ledger.revalue(symbol, price)
		if err != nil {
			return fmt.Errorf("revalue %s: %w", symbol, err)
		}
		now := e.clock()
		if !ShouldSell(pos, now, s.cfg.SellThreshold) {
			continue
		}

		closure, err := s.ledger.close(symbol, price, s.cfg.FeeRate, now)
		if err != nil {
			return fmt.Errorf("close %s: %w", symbol, err)
		}
		s.vault.credit(closure.SaleValue, closure.Fee, closure.CostBasis)
		s.stats.recordClose(closure.PnL)
		report.Sells++

		logger.Trade(ctx, symbol, "SELL", closure.Quantity, closure.Price, closure.ID,
			"pnl", closure.PnL.StringFixed(2),
			"fee", closure.Fee.StringFixed(4),
			"held_for", closure.HeldFor.String(),
			"unrealized", pos.UnrealizedProfit,
			"stale_price", stale,
		)
		e.notify(ctx, closeEvent(now, closure, s.vault.state()))
	}
	return nil
}

func (e *Engine) currentPrice(ctx context.Context, s *session, symbol string) (decimal.Decimal, bool, error) {
	priceCtx, cancel := context.WithTimeout(ctx, e.scanTimeout)
	p, err := e.market.Price(priceCtx, symbol)
	cancel()
	if err == nil && p > 0 {
		return decimal.NewFromFloat(p), false, nil
	}

	last, ok := s.ledger.lastPrice(symbol)
	if !ok {
		return decimal.Zero, false, fmt.Errorf("price %s: %w", symbol, ErrNoPosition)
	}
	logger.Warn(ctx, "Price unavailable, using last known price",
		"symbol", symbol,
		"last_price", last.StringFixed(2),
		"error", err,
	)
	return last, true, nil
}

// rollover settles the closed day once the date in the engine zone changes.
func (e *Engine) rollover(ctx context.Context, s *session, now time.Time) bool {
	today := dayKey(now, s.loc)
	day := s.stats.daily()
	if today == day.Date {
		return false
	}

	before := s.vault.total
	compounded, reinvest := s.vault.settle(day.NetProfit, s.cfg.ProfitReinvestmentRate)
	closed := s.stats.rollover(today, before, s.vault.total, reinvest)
	perf := s.stats.performance()

	logger.Vault(ctx, "DAY_SETTLED",
		"date", closed.Date,
		"net_profit", closed.NetProfit.StringFixed(2),
		"compounded", compounded,
		"reinvested", reinvest.StringFixed(2),
		"total", s.vault.total.StringFixed(2),
		"compound_growth", perf.CompoundGrowth,
	)
	e.notify(ctx, dayClosedEvent(now, closed, compounded, reinvest, perf.CompoundGrowth, s.vault.state()))
	return true
}

// fail marks the report errored, notifies, and still publishes a status.
func (e *Engine) fail(ctx context.Context, s *session, report *types.CycleReport, err error) {
	report.Outcome = types.CycleErrored
	report.Error = err.Error()
	report.FinishedAt = e.clock()

	logger.ErrorWithErr(ctx, "Cycle failed, engine continues", err, "seq", report.Seq)
	e.notify(ctx, cycleErrorEvent(report.FinishedAt, err))
	e.publish(s.status(types.StateRunning, *report, report.FinishedAt))
}
