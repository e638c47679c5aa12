package engine

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpetual-engine/internal/store"
	"perpetual-engine/internal/types"
)

var day1 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

type harness struct {
	eng    *Engine
	market *fakeMarket
	events *recorder
	pub    *statusSink
	clock  *fakeClock
	sess   *session
}

func newHarness(t *testing.T, cfg store.EngineConfig) *harness {
	t.Helper()
	h := &harness{
		market: &fakeMarket{prices: map[string]float64{}},
		events: &recorder{},
		pub:    &statusSink{},
		clock:  newFakeClock(day1),
	}
	h.eng = New(cfg, h.market,
		WithNotifier(h.events),
		WithPublisher(h.pub),
		WithClock(h.clock.Now),
	)
	h.sess = newSession(cfg, h.clock.Now(), time.UTC)
	return h
}

func (h *harness) cycle() types.CycleReport {
	return h.eng.runCycle(context.Background(), h.sess)
}

func TestCycleBuysAndSells(t *testing.T) {
	h := newHarness(t, store.DefaultEngineConfig())
	h.market.snaps = []types.MarketSnapshot{oversold("ETH/USDT", 100)}
	h.market.prices["ETH/USDT"] = 102.5

	rep := h.cycle()

	assert.Equal(t, types.CycleProgressed, rep.Outcome)
	assert.Equal(t, 1, rep.Candidates)
	assert.Equal(t, 1, rep.Buys)
	assert.Equal(t, 1, rep.Sells)

	// size = 500 * 0.01 * 1.25 = 6.25; cost 6.25625; qty 0.0625; avg 100.1
	// sale 6.40625, fee 0.00640625 => pnl 0.14359375
	closes := h.events.ofKind(types.EventPositionClosed)
	require.Len(t, closes, 1)
	assert.True(t, closes[0].Closure.PnL.Equal(d("0.14359375")), "pnl %s", closes[0].Closure.PnL)
	assert.Equal(t, types.LevelSuccess, closes[0].Level)

	buys := h.events.ofKind(types.EventBuyExecuted)
	require.Len(t, buys, 1)
	assert.True(t, buys[0].Fill.Amount.Equal(d("6.25")))
	assert.True(t, buys[0].Fill.Fee.Equal(d("0.00625")))

	v := h.sess.vault
	assert.True(t, v.invested.IsZero())
	assert.True(t, v.unsettled.Equal(d("0.14359375")))
	assertConserved(t, v)

	day := h.sess.stats.daily()
	assert.Equal(t, 2, day.Trades)
	assert.Equal(t, 1, day.Buys)
	assert.Equal(t, 1, day.Sells)
	assert.Equal(t, 1, h.sess.stats.performance().CurrentStreak)
	assert.Equal(t, 1, h.pub.len(), "one status per cycle without rollover")
}

func TestCycleHoldsBelowTarget(t *testing.T) {
	h := newHarness(t, store.DefaultEngineConfig())
	h.market.snaps = []types.MarketSnapshot{oversold("ETH/USDT", 100)}
	h.market.prices["ETH/USDT"] = 101

	rep := h.cycle()

	assert.Equal(t, 1, rep.Buys)
	assert.Equal(t, 0, rep.Sells)
	require.True(t, h.sess.ledger.has("ETH/USDT"))
	pos, err := h.sess.ledger.revalue("ETH/USDT", d("101"))
	require.NoError(t, err)
	assert.InDelta(t, (101-100.1)/100.1, pos.UnrealizedProfit, 1e-9)
}

func TestCycleRanksCandidatesByScore(t *testing.T) {
	h := newHarness(t, store.DefaultEngineConfig())
	weak := oversold("AAA", 10)
	weak.Indicators.PriceDeviation = 0
	strong := oversold("BBB", 10)
	h.market.snaps = []types.MarketSnapshot{weak, strong}
	h.market.prices = map[string]float64{"AAA": 10, "BBB": 10}

	h.cycle()

	buys := h.events.ofKind(types.EventBuyExecuted)
	require.Len(t, buys, 2)
	assert.Equal(t, "BBB", buys[0].Symbol)
	assert.Equal(t, "AAA", buys[1].Symbol)
}

func TestCycleSnapshotUnavailableUsesLastPrice(t *testing.T) {
	h := newHarness(t, store.DefaultEngineConfig())
	h.market.snaps = []types.MarketSnapshot{oversold("ETH/USDT", 100)}
	h.market.prices["ETH/USDT"] = 100
	require.Equal(t, 1, h.cycle().Buys)

	h.market.set(func(f *fakeMarket) {
		f.scanErr = errors.New("feed down")
		f.priceErr = errors.New("feed down")
	})
	rep := h.cycle()

	assert.Equal(t, types.CycleSkippedNoData, rep.Outcome)
	assert.Equal(t, 0, rep.Buys)
	assert.Equal(t, 1, rep.StalePrices)
	assert.True(t, h.sess.ledger.has("ETH/USDT"), "position survives on its last price")
	last, _ := h.sess.ledger.lastPrice("ETH/USDT")
	assert.True(t, last.Equal(d("100")))
	assertConserved(t, h.sess.vault)
	assert.Equal(t, 0, h.events.count(types.EventCycleError), "missing data is not an error")
}

func TestCycleScanTimeoutSkipsBuys(t *testing.T) {
	h := newHarness(t, store.DefaultEngineConfig())
	h.eng.scanTimeout = 10 * time.Millisecond
	slow := &slowMarket{delay: time.Second}
	h.eng.market = slow

	rep := h.cycle()
	assert.Equal(t, types.CycleSkippedNoData, rep.Outcome)
}

type slowMarket struct{ delay time.Duration }

func (m *slowMarket) Scan(ctx context.Context) ([]types.MarketSnapshot, error) {
	select {
	case <-time.After(m.delay):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *slowMarket) Price(ctx context.Context, symbol string) (float64, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func (m *slowMarket) Symbols() []string { return nil }

func TestCycleSkippedNoFunds(t *testing.T) {
	cfg := store.DefaultEngineConfig()
	cfg.MaxDailyExposure = 0
	h := newHarness(t, cfg)
	h.market.snaps = []types.MarketSnapshot{oversold("ETH/USDT", 100)}

	rep := h.cycle()

	assert.Equal(t, types.CycleSkippedNoFunds, rep.Outcome)
	assert.Equal(t, 1, rep.SkippedBuys)
	assert.Equal(t, 0, h.events.count(types.EventBuyExecuted))
	assert.True(t, h.sess.vault.invested.IsZero())
}

func TestCyclePanicIsRecovered(t *testing.T) {
	h := newHarness(t, store.DefaultEngineConfig())
	h.market.scanPanic = true

	rep := h.cycle()

	assert.Equal(t, types.CycleErrored, rep.Outcome)
	assert.Contains(t, rep.Error, "scan exploded")
	assert.Equal(t, 1, h.events.count(types.EventCycleError))
	assert.Equal(t, 1, h.pub.len(), "status is still published after an error")

	h.market.set(func(f *fakeMarket) { f.scanPanic = false })
	rep = h.cycle()
	assert.Equal(t, types.CycleProgressed, rep.Outcome)
	assert.Equal(t, int64(2), rep.Seq)
}

func TestCycleExposureCapHolds(t *testing.T) {
	cfg := store.DefaultEngineConfig()
	cfg.BaseTradingUnit = 0.2
	h := newHarness(t, cfg)
	h.market.snaps = []types.MarketSnapshot{
		oversold("A", 10), oversold("B", 20), oversold("C", 30),
	}
	h.market.prices = map[string]float64{"A": 10, "B": 20, "C": 30}

	for i := 0; i < 5; i++ {
		h.cycle()
		assertConserved(t, h.sess.vault)
	}

	for _, ev := range h.events.ofKind(types.EventBuyExecuted) {
		exposure := ev.Vault.Invested.Div(ev.Vault.Total).InexactFloat64()
		assert.LessOrEqual(t, exposure, cfg.MaxDailyExposure+1e-9)
	}
	assert.InDelta(t, cfg.MaxDailyExposure, h.sess.vault.exposure(), 1e-6)
}

func TestConservationUnderRandomMarket(t *testing.T) {
	cfg := store.DefaultEngineConfig()
	cfg.SellThreshold.ProfitTarget = 0.005
	h := newHarness(t, cfg)
	rng := rand.New(rand.NewSource(3))
	symbols := []string{"BTC/USDT", "ETH/USDT", "SOL/USDT"}
	base := map[string]float64{"BTC/USDT": 45000, "ETH/USDT": 3000, "SOL/USDT": 150}

	for i := 0; i < 300; i++ {
		h.market.set(func(f *fakeMarket) {
			f.snaps = f.snaps[:0]
			for _, s := range symbols {
				p := base[s] * (1 + (rng.Float64()-0.5)*0.04)
				f.snaps = append(f.snaps, types.MarketSnapshot{
					Symbol: s,
					Price:  p,
					Indicators: types.Indicators{
						RSI:            rng.Float64() * 100,
						PriceDeviation: (rng.Float64() - 0.5) * 0.1,
						Volume:         rng.Float64() * 1000000,
						FearGreed:      rng.Float64() * 100,
					},
				})
				f.prices[s] = base[s] * (1 + (rng.Float64()-0.5)*0.04)
			}
		})
		h.clock.Advance(time.Duration(rng.Intn(4)) * time.Hour)

		rep := h.cycle()
		require.NotEqual(t, types.CycleErrored, rep.Outcome, rep.Error)
		assertConserved(t, h.sess.vault)
	}

	assert.Greater(t, h.events.count(types.EventBuyExecuted), 0)
	assert.Greater(t, h.events.count(types.EventPositionClosed), 0)
	assert.Greater(t, h.events.count(types.EventDayClosed), 0)
	for _, ev := range h.events.ofKind(types.EventBuyExecuted) {
		exposure := ev.Vault.Invested.Div(ev.Vault.Total).InexactFloat64()
		assert.LessOrEqual(t, exposure, cfg.MaxDailyExposure+1e-9)
	}
}

func TestRolloverCompoundsProfit(t *testing.T) {
	h := newHarness(t, store.DefaultEngineConfig())
	v := h.sess.vault
	require.NoError(t, v.debit(d("300"), decimal.Zero))
	v.credit(d("400"), decimal.Zero, d("300"))
	h.sess.stats.recordClose(d("100"))

	assert.False(t, h.eng.rollover(context.Background(), h.sess, day1.Add(time.Hour)), "same day")

	assert.True(t, h.eng.rollover(context.Background(), h.sess, day1.Add(24*time.Hour)))
	assert.True(t, v.total.Equal(d("1100")), "total %s", v.total)
	assert.True(t, v.reinvested.Equal(d("70")), "reinvested %s", v.reinvested)
	assertConserved(t, v)

	day := h.sess.stats.daily()
	assert.Equal(t, "2024-05-02", day.Date)
	assert.Equal(t, 0, day.Trades)
	assert.True(t, day.Profit.IsZero())
	assert.True(t, day.Loss.IsZero())
	assert.True(t, day.NetProfit.IsZero())

	perf := h.sess.stats.performance()
	assert.InDelta(t, 10.0, perf.CompoundGrowth, 1e-9)
	assert.True(t, perf.TotalReinvested.Equal(d("70")))

	evs := h.events.ofKind(types.EventDayClosed)
	require.Len(t, evs, 1)
	assert.True(t, evs[0].Compounded)
	assert.Equal(t, "2024-05-01", evs[0].Day.Date)
	assert.Equal(t, "Daily Compound Complete", evs[0].Title)
}

func TestRolloverAbsorbsLoss(t *testing.T) {
	h := newHarness(t, store.DefaultEngineConfig())
	v := h.sess.vault
	require.NoError(t, v.debit(d("100"), decimal.Zero))
	v.credit(d("90"), decimal.Zero, d("100"))
	h.sess.stats.recordClose(d("-10"))

	require.True(t, h.eng.rollover(context.Background(), h.sess, day1.Add(24*time.Hour)))

	assert.True(t, v.total.Equal(d("990")))
	assert.True(t, v.reinvested.IsZero())
	assertConserved(t, v)
	assert.Equal(t, 0, h.sess.stats.daily().Trades)

	evs := h.events.ofKind(types.EventDayClosed)
	require.Len(t, evs, 1)
	assert.False(t, evs[0].Compounded)
}

func TestCycleRolloverPublishesTwice(t *testing.T) {
	h := newHarness(t, store.DefaultEngineConfig())
	h.clock.Advance(24 * time.Hour)

	rep := h.cycle()

	assert.True(t, rep.DayClosed)
	assert.Equal(t, 2, h.pub.len())
	h.pub.mu.Lock()
	defer h.pub.mu.Unlock()
	assert.Equal(t, "2024-05-02", h.pub.statuses[1].DailyStats.Date)
}

func TestRolloverInConfiguredZone(t *testing.T) {
	cfg := store.DefaultEngineConfig()
	zone := time.FixedZone("UTC+9", 9*3600)
	clock := newFakeClock(time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)) // 23:00 in UTC+9
	events := &recorder{}
	eng := New(cfg, &fakeMarket{}, WithClock(clock.Now), WithLocation(zone), WithNotifier(events))
	s := newSession(cfg, clock.Now(), zone)
	require.Equal(t, "2024-05-01", s.stats.daily().Date)

	clock.Advance(2 * time.Hour) // 01:00 next day in UTC+9, still May 1st in UTC
	rep := eng.runCycle(context.Background(), s)

	assert.True(t, rep.DayClosed)
	assert.Equal(t, "2024-05-02", s.stats.daily().Date)
}

func TestStartStopLifecycle(t *testing.T) {
	h := newHarness(t, store.DefaultEngineConfig())
	h.eng.interval = 5 * time.Millisecond
	ctx := context.Background()

	require.NoError(t, h.eng.Start(ctx))
	assert.True(t, h.eng.Running())
	assert.ErrorIs(t, h.eng.Start(ctx), ErrAlreadyRunning)

	require.Eventually(t, func() bool {
		return h.eng.Status().LastCycle.Seq >= 3
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.eng.Stop(ctx))
	require.NoError(t, h.eng.Stop(ctx))

	assert.False(t, h.eng.Running())
	assert.Equal(t, types.StateStopped, h.eng.Status().State)
	assert.Equal(t, 1, h.events.count(types.EventEngineStarted))
	assert.Equal(t, 1, h.events.count(types.EventEngineStopped), "stop twice notifies once")
}

func TestStopInterruptsSleep(t *testing.T) {
	h := newHarness(t, store.DefaultEngineConfig())
	h.eng.interval = time.Hour
	ctx := context.Background()

	require.NoError(t, h.eng.Start(ctx))
	require.Eventually(t, func() bool {
		return h.eng.Status().LastCycle.Seq == 1
	}, 2*time.Second, 5*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	start := time.Now()
	require.NoError(t, h.eng.Stop(stopCtx))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestStopBeforeStartIsNoop(t *testing.T) {
	h := newHarness(t, store.DefaultEngineConfig())
	assert.NoError(t, h.eng.Stop(context.Background()))
	assert.Equal(t, 0, h.events.count(types.EventEngineStopped))
}

func TestRestartCreatesFreshSession(t *testing.T) {
	h := newHarness(t, store.DefaultEngineConfig())
	h.eng.interval = 5 * time.Millisecond
	h.market.snaps = []types.MarketSnapshot{oversold("ETH/USDT", 100)}
	h.market.prices["ETH/USDT"] = 100
	ctx := context.Background()

	require.NoError(t, h.eng.Start(ctx))
	require.Eventually(t, func() bool {
		return len(h.eng.Status().Positions) == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, h.eng.Stop(ctx))

	h.market.set(func(f *fakeMarket) { f.snaps = nil })
	require.NoError(t, h.eng.UpdateConfig(ctx, func(c *store.EngineConfig) error {
		c.InitialVault = 2000
		return nil
	}))
	require.NoError(t, h.eng.Start(ctx))
	defer h.eng.Stop(ctx)

	st := h.eng.Status()
	assert.Empty(t, st.Positions)
	assert.True(t, st.Vault.Total.Equal(d("2000")))
	assert.True(t, st.Vault.Invested.IsZero())
}

func TestStartRejectsInvalidConfig(t *testing.T) {
	cfg := store.DefaultEngineConfig()
	cfg.InitialVault = -5
	h := newHarness(t, cfg)

	err := h.eng.Start(context.Background())
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.False(t, h.eng.Running())
}

func TestNonFiniteConfigIsRejected(t *testing.T) {
	ctx := context.Background()
	for name, mutate := range map[string]func(*store.EngineConfig){
		"nan reserve":    func(c *store.EngineConfig) { c.MinVaultReserve = math.NaN() },
		"infinite vault": func(c *store.EngineConfig) { c.InitialVault = math.Inf(1) },
		"nan fee":        func(c *store.EngineConfig) { c.FeeRate = math.NaN() },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := store.DefaultEngineConfig()
			mutate(&cfg)

			var eng *Engine
			require.NotPanics(t, func() { eng = New(cfg, &fakeMarket{prices: map[string]float64{}}) })
			assert.Equal(t, types.StateStopped, eng.Status().State)
			assert.ErrorIs(t, eng.Start(ctx), ErrInvalidConfig)
			assert.False(t, eng.Running())
		})
	}

	t.Run("patch to nan", func(t *testing.T) {
		eng := New(store.DefaultEngineConfig(), &fakeMarket{prices: map[string]float64{}})
		err := eng.UpdateConfig(ctx, func(c *store.EngineConfig) error {
			c.ProfitReinvestmentRate = math.NaN()
			return nil
		})
		assert.ErrorIs(t, err, ErrInvalidConfig)
		assert.Equal(t, 0.7, eng.Config().ProfitReinvestmentRate)
	})
}

func TestStartOutlivesCallerContext(t *testing.T) {
	h := newHarness(t, store.DefaultEngineConfig())
	h.eng.interval = 5 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, h.eng.Start(ctx))
	cancel()

	require.Eventually(t, func() bool {
		return h.eng.Status().LastCycle.Seq >= 3
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, h.eng.Running())
	require.NoError(t, h.eng.Stop(context.Background()))
}

func TestUpdateConfig(t *testing.T) {
	h := newHarness(t, store.DefaultEngineConfig())
	ctx := context.Background()

	t.Run("json patch applies", func(t *testing.T) {
		err := h.eng.UpdateConfig(ctx, store.JSONPatch([]byte(`{"base_trading_unit":0.02,"sell_threshold":{"profit_target":0.03}}`)))
		require.NoError(t, err)
		cfg := h.eng.Config()
		assert.Equal(t, 0.02, cfg.BaseTradingUnit)
		assert.Equal(t, 0.03, cfg.SellThreshold.ProfitTarget)
		assert.Equal(t, 24*time.Hour, cfg.SellThreshold.TimeLimit.Std(), "untouched fields keep their value")
	})

	t.Run("invalid patch leaves config unchanged", func(t *testing.T) {
		before := h.eng.Config()
		err := h.eng.UpdateConfig(ctx, store.JSONPatch([]byte(`{"min_vault_reserve":1.5}`)))
		assert.ErrorIs(t, err, ErrInvalidConfig)
		assert.Equal(t, before, h.eng.Config())
	})

	t.Run("unknown field rejected", func(t *testing.T) {
		err := h.eng.UpdateConfig(ctx, store.JSONPatch([]byte(`{"leverage":10}`)))
		assert.Error(t, err)
	})

	t.Run("rejected while running", func(t *testing.T) {
		h.eng.interval = time.Hour
		require.NoError(t, h.eng.Start(ctx))
		defer h.eng.Stop(ctx)

		err := h.eng.UpdateConfig(ctx, store.JSONPatch([]byte(`{"fee_rate":0.002}`)))
		assert.ErrorIs(t, err, ErrEngineRunning)
	})
}

func TestStatusIsACopy(t *testing.T) {
	h := newHarness(t, store.DefaultEngineConfig())
	h.market.snaps = []types.MarketSnapshot{oversold("ETH/USDT", 100)}
	h.market.prices["ETH/USDT"] = 100
	h.cycle()

	st := h.eng.Status()
	require.Len(t, st.Positions, 1)
	st.Positions[0].Entries[0].Amount = d("1")

	again := h.eng.Status()
	assert.True(t, again.Positions[0].Entries[0].Amount.Equal(d("6.25")))
}

func TestStatusBeforeStart(t *testing.T) {
	h := newHarness(t, store.DefaultEngineConfig())
	st := h.eng.Status()

	assert.Equal(t, types.StateStopped, st.State)
	assert.True(t, st.Vault.Total.Equal(d("1000")))
	assert.True(t, st.Vault.Reserved.Equal(d("500")))
	assert.Equal(t, "2024-05-01", st.DailyStats.Date)
}
