// Package engine is the orchestrator: it wires every component together
// into one cooperative event loop and owns the process lifecycle.
//
// Lifecycle: New() → Start() → [runs until ctx cancelled] → Stop().
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"predmarket-trader/internal/account"
	"predmarket-trader/internal/api"
	"predmarket-trader/internal/config"
	"predmarket-trader/internal/exchange"
	"predmarket-trader/internal/executor"
	"predmarket-trader/internal/market"
	"predmarket-trader/internal/notify"
	"predmarket-trader/internal/order"
	"predmarket-trader/internal/position"
	"predmarket-trader/internal/risk"
	"predmarket-trader/internal/store"
	"predmarket-trader/internal/strategy"
	"predmarket-trader/pkg/types"
)

// Engine owns the lifecycle of every goroutine and the shared components
// they read and mutate.
type Engine struct {
	cfg config.Config

	signer *exchange.Signer
	rest   *exchange.RestClient
	stream *exchange.StreamClient

	marketStore *market.Store
	strategyEng *strategy.Engine
	riskMgr     *risk.Manager
	orderMgr    *order.Manager
	positions   *position.Tracker
	acct        *account.Account
	exec        *executor.Executor
	paper       *executor.PaperExecutor
	venue       executor.VenueClient

	db        *store.Store
	notifier  *notify.Notifier
	apiServer *api.Server
	logger    *slog.Logger

	paperOrderCh chan types.OrderUpdate
	paperFillCh  chan types.Fill

	pausedMu     sync.Mutex
	paused       bool
	breakerWasOn bool
	lastDay      int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires every component from cfg. dryRun selects PaperExecutor over the
// real RestClient-backed VenueClient.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	signer, err := exchange.NewSigner(cfg.Auth.AccessKeyID, cfg.Auth.PrivateKeyPEM, cfg.Auth.PrivateKeyPath)
	if err != nil {
		return nil, err
	}

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	logger = slog.New(store.NewLogHandler(db, logger.Handler()))

	rl := exchange.NewRateLimiter(cfg.RateLimit.ReadRate, cfg.RateLimit.WriteRate)
	rest := exchange.NewRestClient(cfg.API.RestBaseURL, signer, rl, logger)
	streamSilence := time.Duration(cfg.Risk.StreamSilenceS) * time.Second
	stream := exchange.NewStreamClient(cfg.API.StreamBaseURL, signer, streamSilence, logger)

	marketStore := market.NewStore()
	orderMgr := order.NewManager(logger)
	positions := position.NewTracker()

	startingBalance, err := rest.GetBalance(context.Background())
	if err != nil {
		startingBalance = decimal.Zero
	}
	acct := account.NewAccount(startingBalance)

	riskCfg := risk.Config{
		MaxExposurePct:       decimal.NewFromFloat(cfg.Risk.MaxExposurePct),
		MaxPositions:         cfg.Risk.MaxPositions,
		MaxPositionPct:       decimal.NewFromFloat(cfg.Strategy.MaxPositionPct),
		MinPositionDollars:   decimal.NewFromFloat(cfg.Strategy.MinPositionDollars),
		DailyLossLimit:       decimal.NewFromFloat(cfg.Risk.DailyLossLimit),
		MaxConsecutiveLosses: cfg.Risk.MaxConsecutiveLosses,
		APIErrorRateLimit:    decimal.NewFromFloat(cfg.Risk.APIErrorRateLimit),
		StreamSilenceS:       time.Duration(cfg.Risk.StreamSilenceS) * time.Second,
		StreamForceExitS:     time.Duration(cfg.Risk.StreamForceExitS) * time.Second,
	}
	notifier := notify.New(notify.Config{
		Enabled: cfg.SMTP.Enabled, Host: cfg.SMTP.Host, Port: cfg.SMTP.Port,
		Username: cfg.SMTP.Username, Password: cfg.SMTP.Password, From: cfg.SMTP.From, To: cfg.SMTP.To,
	}, logger)

	riskMgr := risk.NewManager(riskCfg, stream.LastMessageAge, notifier, logger)

	strategyCfg := strategy.Config{
		Filter: market.FilterConfig{
			MinLiquidity: decimal.NewFromFloat(cfg.Scanner.MinLiquidity),
			MinVolume:    decimal.NewFromFloat(cfg.Scanner.MinVolume),
			MaxSpread:    decimal.NewFromFloat(cfg.Scanner.MaxSpread),
			EntryThreshold: decimal.NewFromFloat(cfg.Strategy.EntryThreshold),
			ProfitTarget:   decimal.NewFromFloat(cfg.Strategy.ProfitTarget),
		},
		StopLossPct:     decimal.NewFromFloat(cfg.Strategy.StopLoss),
		ProfitTargetPct: decimal.NewFromFloat(cfg.Strategy.ProfitTarget),
		MaxHold:         time.Duration(cfg.Strategy.MaxHoldHours * float64(time.Hour)),
		CloseBuffer:     time.Duration(cfg.Strategy.CloseBufferMinutes * float64(time.Minute)),
		EvalInterval:    cfg.Strategy.EvalInterval,
	}

	sizing := func(ticker string, entryPrice decimal.Decimal) decimal.Decimal {
		return acct.PositionSize(decimal.NewFromFloat(cfg.Strategy.MaxPositionPct))
	}
	hasOpen := func(ticker string) bool { return positions.HasOpen(ticker) }
	openPositionsView := func() []strategy.OpenPositionView {
		open := positions.OpenPositions()
		out := make([]strategy.OpenPositionView, 0, len(open))
		for _, p := range open {
			if p.Status != types.PositionEntered {
				continue
			}
			out = append(out, strategy.OpenPositionView{PositionID: p.ID.String(), Ticker: p.Ticker, EnteredAt: p.EnteredAt})
		}
		return out
	}
	strategyEng := strategy.NewEngine(marketStore, strategyCfg, sizing, hasOpen, openPositionsView, logger)

	var paper *executor.PaperExecutor
	var venue executor.VenueClient = rest
	paperOrderCh := make(chan types.OrderUpdate, 64)
	paperFillCh := make(chan types.Fill, 64)
	if cfg.DryRun {
		paper = executor.NewPaperExecutor(marketStore, paperOrderCh, paperFillCh, logger)
		venue = paper
	}
	exec := executor.NewExecutor(venue, orderMgr, positions, acct, riskMgr, marketStore, db, notifier, logger)

	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		cfg: cfg, signer: signer, rest: rest, stream: stream,
		marketStore: marketStore, strategyEng: strategyEng, riskMgr: riskMgr,
		orderMgr: orderMgr, positions: positions, acct: acct, exec: exec, paper: paper,
		venue: venue, db: db, notifier: notifier, logger: logger.With("component", "engine"),
		paperOrderCh: paperOrderCh, paperFillCh: paperFillCh,
		ctx: ctx, cancel: cancel,
	}

	if cfg.Dashboard.Enabled {
		e.apiServer = api.NewServer(api.Config{
			Enabled:        cfg.Dashboard.Enabled,
			Port:           cfg.Dashboard.Port,
			AllowedOrigins: cfg.Dashboard.AllowedOrigins,
		}, e, logger)
	}

	return e, nil
}

const snapshotInterval = 5 * time.Minute

// Start reconciles against the venue's resting orders, then launches every
// background goroutine: the stream reader, strategy and risk timers, the
// executor loop, and the periodic account snapshot.
func (e *Engine) Start() error {
	e.reconcile(e.ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.stream.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("stream client stopped", "error", err)
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.dispatchStreamEvents()
	}()

	if e.paper != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.dispatchPaperEvents()
		}()
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.strategyEng.Run(e.ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.riskMgr.Run(e.ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.exec.Run(e.ctx, e.gatedSignals(), e.strategyEng.ExitDecisions(), e.riskMgr.ForceExitSignals())
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.snapshotLoop()
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.apiCounterLoop()
	}()

	if e.apiServer != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.apiServer.Start(); err != nil {
				e.logger.Error("api server stopped", "error", err)
			}
		}()
	}

	return nil
}

// reconcile fetches every order still resting at the venue from a prior
// process run and cancels it. PositionTracker always starts empty, so no
// position this process knows about could ever resubmit exits for an order
// left over from before a restart; the only safe recovery is to clear the
// book before accepting new signals. New entries are gated by Pause for the
// duration, so a position never opens against a book this process hasn't
// finished inspecting. A no-op against the paper venue, which has no
// resting orders to inherit.
func (e *Engine) reconcile(ctx context.Context) {
	if e.paper != nil {
		return
	}
	e.Pause()
	defer e.Resume()

	active, err := e.rest.GetActiveOrders(ctx)
	if err != nil {
		e.logger.Error("startup reconciliation: fetch active orders failed", "error", err)
		return
	}
	if len(active) == 0 {
		e.logger.Info("startup reconciliation: no resting orders found")
		return
	}

	cancelled := 0
	for _, ord := range active {
		if posID, purpose, ok := order.ParseClientID(ord.ClientID); ok {
			ord.PositionID = posID
			ord.Purpose = purpose
		}
		e.orderMgr.Register(ord)
		if err := e.rest.CancelOrder(ctx, ord.VenueID); err != nil {
			e.logger.Error("startup reconciliation: cancel orphaned order failed", "venue_id", ord.VenueID, "error", err)
			continue
		}
		cancelled++
	}
	e.logger.Warn("startup reconciliation: cancelled orphaned orders from a prior run",
		"found", len(active), "cancelled", cancelled)
}

const apiCounterPollInterval = 5 * time.Second

// apiCounterLoop drains RestClient's running success/error tally and folds
// the delta into RiskManager's API-error-rate breaker. Polling rather than
// a callback keeps RestClient free of a dependency on risk.
func (e *Engine) apiCounterLoop() {
	ticker := time.NewTicker(apiCounterPollInterval)
	defer ticker.Stop()

	var lastSuccess, lastErrors int64
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			success, errCount := e.rest.Counters()
			for i := int64(0); i < success-lastSuccess; i++ {
				e.riskMgr.ReportAPIResult(false)
			}
			for i := int64(0); i < errCount-lastErrors; i++ {
				e.riskMgr.ReportAPIResult(true)
			}
			lastSuccess, lastErrors = success, errCount
		}
	}
}

// dispatchStreamEvents fans out every StreamClient event to the component
// that owns that concern: market data into MarketStore, fills and order
// updates into OrderManager, whose Terminal() channel the executor drains.
func (e *Engine) dispatchStreamEvents() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case u := <-e.stream.TickerEvents():
			e.marketStore.ApplyTickerUpdate(u)
			e.evaluatePaperFills(u.Ticker)
		case d := <-e.stream.OrderBookDeltaEvents():
			e.marketStore.ApplyOrderBookDelta(d)
			e.evaluatePaperFills(d.Ticker)
		case tr := <-e.stream.TradeEvents():
			e.marketStore.ApplyTrade(tr)
		case f := <-e.stream.FillEvents():
			e.orderMgr.HandleFill(f)
		case u := <-e.stream.OrderUpdateEvents():
			e.orderMgr.HandleOrderUpdate(u)
		}
	}
}

// evaluatePaperFills drives the simulated matching engine against the
// freshly applied market snapshot. No-op against the real venue.
func (e *Engine) evaluatePaperFills(ticker string) {
	if e.paper != nil {
		e.paper.EvaluateFills(ticker)
	}
}

// dispatchPaperEvents forwards PaperExecutor's simulated order updates and
// fills into OrderManager exactly as the real stream client's events would.
func (e *Engine) dispatchPaperEvents() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case u := <-e.paperOrderCh:
			e.orderMgr.HandleOrderUpdate(u)
		case f := <-e.paperFillCh:
			e.orderMgr.HandleFill(f)
		}
	}
}

// gatedSignals wraps the strategy engine's signal channel so a paused
// engine drops new entries while still servicing exits, order terminals,
// and force-exits — open positions are never abandoned by a pause.
func (e *Engine) gatedSignals() <-chan types.Signal {
	out := make(chan types.Signal, 32)
	go func() {
		for {
			select {
			case <-e.ctx.Done():
				return
			case sig := <-e.strategyEng.Signals():
				if e.isPaused() {
					continue
				}
				select {
				case out <- sig:
				default:
				}
			}
		}
	}()
	return out
}

func (e *Engine) isPaused() bool {
	e.pausedMu.Lock()
	defer e.pausedMu.Unlock()
	return e.paused
}

// Pause suppresses new entries; open positions continue to be managed.
func (e *Engine) Pause() {
	e.pausedMu.Lock()
	e.paused = true
	e.pausedMu.Unlock()
}

// Resume re-enables new entries.
func (e *Engine) Resume() {
	e.pausedMu.Lock()
	e.paused = false
	e.pausedMu.Unlock()
}

// EmergencyStop force-exits every open position immediately, the same path
// RiskManager's stream force-exit threshold drives.
func (e *Engine) EmergencyStop() {
	e.exec.HandleForceExit(e.ctx)
}

// AccountSnapshot implements api.StateProvider.
func (e *Engine) AccountSnapshot() types.Account { return e.acct.Snapshot() }

// Positions implements api.StateProvider.
func (e *Engine) Positions() []types.Position { return e.positions.OpenPositions() }

// BreakerSnapshot implements api.StateProvider.
func (e *Engine) BreakerSnapshot() types.CircuitBreakerState { return e.riskMgr.Snapshot() }

// StreamAge implements api.StateProvider.
func (e *Engine) StreamAge() time.Duration { return e.stream.LastMessageAge() }

// RecentSignals implements api.StateProvider.
func (e *Engine) RecentSignals(n int) []types.Signal { return e.strategyEng.History().Last(n) }

var _ api.StateProvider = (*Engine)(nil)

func (e *Engine) snapshotLoop() {
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case now := <-ticker.C:
			e.acct.MaybeResetDaily(now)
			e.acct.SetExposure(e.positions.TotalExposure())
			e.acct.SetUnrealizedPnL(e.totalUnrealizedPnL())
			snap := e.acct.Snapshot()
			e.db.RecordSnapshot(snap, now)
			e.maybeSendDailySummary(now, snap)
			e.checkBreakerTripped()
		}
	}
}

// totalUnrealizedPnL sums mark-to-market P&L across every entered position,
// priced off MarketStore's current best bid. A position for a ticker
// MarketStore hasn't seen a quote for yet contributes zero rather than
// stale or guessed P&L.
func (e *Engine) totalUnrealizedPnL() decimal.Decimal {
	total := decimal.Zero
	for _, pos := range e.positions.OpenPositions() {
		if pos.Status != types.PositionEntered {
			continue
		}
		m, ok := e.marketStore.Get(pos.Ticker)
		if !ok {
			continue
		}
		total = total.Add(pos.UnrealizedPnL(m.BestBid))
	}
	return total
}

// maybeSendDailySummary fires once per calendar day, on the first snapshot
// tick after the day has changed.
func (e *Engine) maybeSendDailySummary(now time.Time, snap types.Account) {
	day := now.YearDay()
	if e.lastDay != 0 && e.lastDay != day {
		e.notifier.DailySummary(snap)
	}
	e.lastDay = day
}

// checkBreakerTripped notifies on the rising edge of a breaker trip only,
// so a sustained breaker doesn't re-send an email every snapshot tick.
func (e *Engine) checkBreakerTripped() {
	state := e.riskMgr.Snapshot()
	if state.Active && !e.breakerWasOn {
		e.notifier.BreakerTripped(state.Kind, state.Reason)
	}
	e.breakerWasOn = state.Active
}

// Stop cancels every goroutine, cancels all resting orders as a safety
// net, and waits for a clean shutdown.
func (e *Engine) Stop() {
	e.logger.Info("shutting down")
	e.cancel()

	if e.apiServer != nil {
		if err := e.apiServer.Stop(); err != nil {
			e.logger.Error("api server shutdown failed", "error", err)
		}
	}

	cancelCtx, cancelCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelCancel()
	for _, pos := range e.positions.OpenPositions() {
		for _, venueID := range []string{pos.EntryOrderID, pos.StopLossOrderID, pos.TakeProfitOrderID} {
			if venueID == "" {
				continue
			}
			if err := e.venue.CancelOrder(cancelCtx, venueID); err != nil {
				e.logger.Error("cancel order on shutdown failed", "venue_id", venueID, "error", err)
			}
		}
	}

	e.wg.Wait()
	e.db.Close()
	e.logger.Info("shutdown complete")
}
