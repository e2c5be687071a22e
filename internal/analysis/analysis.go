// Package analysis implements the Analysis Orchestrator: a bounded pool
// of workers that lease (wallet, token) pairs off the shared queue, run
// them through the parser/engine/quality pipeline, and persist the
// result.
//
// Grounded on spec.md §4.H, with the worker-pool shape borrowed from the
// teacher's bounded fire-and-forget goroutine idiom in
// internal/trading/executor_fast.go, generalized from "N trade
// executions" to "K lease -> pipeline -> complete workers" via
// golang.org/x/sync/errgroup.
package analysis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"wallet-pnl-analyzer/internal/config"
	"wallet-pnl-analyzer/internal/marketdata"
	"wallet-pnl-analyzer/internal/metrics"
	"wallet-pnl-analyzer/internal/money"
	"wallet-pnl-analyzer/internal/parser"
	"wallet-pnl-analyzer/internal/pnl"
	"wallet-pnl-analyzer/internal/quality"
	"wallet-pnl-analyzer/internal/store"
)

// State is the analysis orchestrator's lifecycle state: the discovery
// orchestrator's state set without Cycling.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateError
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateError:
		return "error"
	default:
		return "stopped"
	}
}

// Result is the persisted record a completed analysis produces: the
// spec's StoredPnLResult.
type Result struct {
	Wallet       string                   `json:"wallet"`
	TokenAddress string                   `json:"token_address"`
	Portfolio    pnl.PortfolioPnLResult   `json:"portfolio"`
	Quality      quality.Quality          `json:"quality"`
	AnalyzedAt   time.Time                `json:"analyzed_at"`
}

// Stats are the observability counters the service manager surfaces.
type Stats struct {
	State            State
	ErrorReason      string
	Completed        uint64
	Abandoned        uint64
	EmptyBackoffs    uint64
	LastActivity     time.Time
}

// Orchestrator runs Workers goroutines, each repeating the
// lease -> pipeline -> complete/abandon loop against the shared store.
type Orchestrator struct {
	adapter marketdata.Adapter
	balance marketdata.BalanceOracle
	store   *store.Store
	chain   string

	cfg         config.AnalysisConfig
	qualityCrit quality.Criteria
	engine      *pnl.Engine

	mu     sync.RWMutex
	stats  Stats
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds an Orchestrator in the Stopped state.
func New(adapter marketdata.Adapter, balance marketdata.BalanceOracle, st *store.Store, chain string, cfg config.AnalysisConfig, qc quality.Criteria) *Orchestrator {
	return &Orchestrator{
		adapter:     adapter,
		balance:     balance,
		store:       st,
		chain:       chain,
		cfg:         cfg,
		qualityCrit: qc,
		engine:      pnl.NewEngine(),
		stats:       Stats{State: StateStopped},
	}
}

// Stats returns a snapshot of the orchestrator's counters.
func (o *Orchestrator) Stats() Stats {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.stats
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.stats.State = s
	o.mu.Unlock()
}

func (o *Orchestrator) bump(fn func(*Stats)) {
	o.mu.Lock()
	fn(&o.stats)
	o.stats.LastActivity = time.Now().UTC()
	o.mu.Unlock()
}

// Start launches cfg.Workers worker goroutines. A call while already
// running is a no-op returning the current state.
func (o *Orchestrator) Start(ctx context.Context) State {
	o.mu.Lock()
	if o.stats.State == StateRunning || o.stats.State == StateStarting {
		s := o.stats.State
		o.mu.Unlock()
		return s
	}
	o.stats.State = StateStarting
	runCtx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.done = make(chan struct{})
	o.mu.Unlock()

	go o.run(runCtx)
	return StateStarting
}

// Stop transitions to Stopping, cancels every worker, and blocks until
// they have all exited or the wait context expires.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if o.stats.State == StateStopped {
		o.mu.Unlock()
		return nil
	}
	o.stats.State = StateStopping
	cancel := o.cancel
	done := o.done
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		o.setState(StateStopped)
		return fmt.Errorf("analysis: stop timed out, forced to stopped")
	}
}

func (o *Orchestrator) run(ctx context.Context) {
	defer close(o.done)
	o.setState(StateRunning)

	workers := o.cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			o.workerLoop(gctx)
			return nil
		})
	}
	_ = g.Wait()

	o.setState(StateStopped)
}

func (o *Orchestrator) workerLoop(ctx context.Context) {
	backoff := time.Duration(o.cfg.EmptyQueueBackoffMs) * time.Millisecond
	leaseTTL := time.Duration(o.cfg.LeaseTTLSeconds) * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		lease, err := o.store.LeaseNext(ctx, leaseTTL)
		if err != nil {
			log.Warn().Err(err).Msg("analysis: lease failed")
			if sleepErr := cancellableSleep(ctx, backoff); sleepErr != nil {
				return
			}
			continue
		}
		if lease == nil {
			metrics.AnalysisQueueEmptyBackoffs.Inc()
			o.bump(func(s *Stats) { s.EmptyBackoffs++ })
			if sleepErr := cancellableSleep(ctx, backoff); sleepErr != nil {
				return
			}
			continue
		}

		if err := o.processLease(ctx, lease); err != nil {
			log.Warn().Err(err).Str("wallet", lease.Task.Wallet).Str("token", lease.Task.TokenAddress).
				Msg("analysis: pipeline failed, abandoning lease for retry")
			if abandonErr := o.store.Abandon(ctx, lease.Task.Wallet, lease.Task.TokenAddress, lease.Token); abandonErr != nil {
				log.Error().Err(abandonErr).Msg("analysis: abandon failed")
			}
			cancellableSleep(ctx, time.Duration(o.cfg.RequeueDelayMs)*time.Millisecond)
			if requeueErr := o.store.Requeue(ctx, lease.Task); requeueErr != nil {
				log.Error().Err(requeueErr).Msg("analysis: requeue failed")
			}
			metrics.AnalysisItemsProcessed.WithLabelValues("abandoned").Inc()
			o.bump(func(s *Stats) { s.Abandoned++ })
			continue
		}

		if err := o.store.Complete(ctx, lease.Task.Wallet, lease.Task.TokenAddress, lease.Token); err != nil {
			log.Error().Err(err).Msg("analysis: complete failed")
		}
		metrics.AnalysisItemsProcessed.WithLabelValues("completed").Inc()
		o.bump(func(s *Stats) { s.Completed++ })
	}
}

// processLease runs the D->E->F pipeline of spec.md §4.H for one leased
// task and persists the result. Transient failures (adapter errors)
// surface as an error so the caller abandons and requeues; the pipeline
// itself never returns an error for data-quality problems (missing
// price, unreachable balance oracle) — those degrade per §4.E/§7 and are
// recorded as DataQualityNotes on the persisted report.
func (o *Orchestrator) processLease(ctx context.Context, lease *store.Lease) error {
	task := lease.Task

	tokenFilter := task.TokenAddress
	if task.FullHistory {
		tokenFilter = ""
	}

	trades, err := o.adapter.FetchTraderTrades(ctx, task.Wallet, tokenFilter, 0, 0, o.cfg.TradeHistoryLimit)
	if err != nil {
		return fmt.Errorf("analysis: fetch trades: %w", err)
	}

	events := parser.New(task.Wallet).ParseTransactions(trades)
	o.backfillMissingPrices(ctx, events)
	groups := parser.GroupByToken(events)

	report := pnl.PortfolioPnLResult{
		Wallet:             task.Wallet,
		RealizedPnLUSD:     money.Zero,
		UnrealizedPnLUSD:   money.Zero,
		TotalPnLUSD:        money.Zero,
		CapitalDeployedUSD: money.Zero,
	}

	holdWeightedSum := money.Zero
	totalMatchedQty := money.Zero

	for tokenAddress, tokenEvents := range groups {
		symbol := tokenEvents[0].TokenSymbol

		actualBalance, known, err := o.balance.GetBalance(ctx, o.chain, task.Wallet, tokenAddress)
		if err != nil {
			log.Warn().Err(err).Str("token", tokenAddress).Msg("analysis: balance oracle unreachable, falling back to accounting balance")
			known = false
		}

		currentPrice := o.resolveCurrentPrice(ctx, tokenAddress)

		tokenResult := o.engine.ProcessToken(tokenAddress, symbol, tokenEvents, money.FromFloat(actualBalance), known, currentPrice)
		report.Tokens = append(report.Tokens, tokenResult)

		report.RealizedPnLUSD = report.RealizedPnLUSD.Add(tokenResult.RealizedPnLUSD)
		report.UnrealizedPnLUSD = report.UnrealizedPnLUSD.Add(tokenResult.UnrealizedPnLUSD)
		report.CapitalDeployedUSD = report.CapitalDeployedUSD.Add(tokenResult.CapitalDeployedUSD)
		report.WinningTrades += tokenResult.WinningTrades
		report.LosingTrades += tokenResult.LosingTrades
		report.TotalTrades += len(tokenResult.MatchedTrades)

		for _, mt := range tokenResult.MatchedTrades {
			holdWeightedSum = holdWeightedSum.Add(mt.MatchedQuantity.Mul(decimal.NewFromInt(mt.HoldTimeSeconds)))
			totalMatchedQty = totalMatchedQty.Add(mt.MatchedQuantity)
		}

		if tokenResult.BalanceFallback {
			report.DataQualityNotes = append(report.DataQualityNotes, fmt.Sprintf("%s: balance oracle unreachable, used accounting balance", symbol))
		}
		if tokenResult.MissingCurrentPrice {
			report.DataQualityNotes = append(report.DataQualityNotes, fmt.Sprintf("%s: current price unavailable, unrealized P&L reported as 0", symbol))
		}
		if tokenResult.ZeroCostLotWarning {
			report.DataQualityNotes = append(report.DataQualityNotes, fmt.Sprintf("%s: zero-price buy excluded from capital deployed", symbol))
		}
	}

	report.TotalPnLUSD = report.RealizedPnLUSD.Add(report.UnrealizedPnLUSD)

	if wins := report.WinningTrades + report.LosingTrades; wins > 0 {
		report.WinRate = decimal.NewFromInt(int64(report.WinningTrades)).Div(decimal.NewFromInt(int64(wins)))
	}
	if !report.CapitalDeployedUSD.IsZero() {
		report.ROIPercentage = report.TotalPnLUSD.Div(report.CapitalDeployedUSD).Mul(decimal.NewFromInt(100))
	}
	if !totalMatchedQty.IsZero() {
		report.AvgHoldTimeSeconds = holdWeightedSum.Div(totalMatchedQty)
	}

	verdict := quality.Evaluate(report, o.qualityCrit)

	result := Result{
		Wallet:       task.Wallet,
		TokenAddress: task.TokenAddress,
		Portfolio:    report,
		Quality:      verdict,
		AnalyzedAt:   time.Now().UTC(),
	}

	if err := o.store.SaveResult(ctx, task.Wallet, task.TokenAddress, result); err != nil {
		return fmt.Errorf("analysis: save result: %w", err)
	}
	return nil
}

// resolveCurrentPrice is a read-through cache over the current-price key
// space (spec.md §4.B): a cache hit skips the adapter call entirely; a
// miss fetches, caches, and returns the fresh value; a fetch failure
// degrades to "no price" rather than aborting the token, per §4.E.
func (o *Orchestrator) resolveCurrentPrice(ctx context.Context, tokenAddress string) *decimal.Decimal {
	if cached, ok, err := o.store.GetCurrentPrice(ctx, tokenAddress); err == nil && ok {
		d := money.FromFloat(cached)
		return &d
	}

	price, err := o.adapter.FetchCurrentPrice(ctx, tokenAddress)
	if err != nil {
		log.Warn().Err(err).Str("token", tokenAddress).Msg("analysis: current price unavailable")
		return nil
	}
	if err := o.store.CacheCurrentPrice(ctx, tokenAddress, price); err != nil {
		log.Warn().Err(err).Str("token", tokenAddress).Msg("analysis: failed to cache current price")
	}
	d := money.FromFloat(price)
	return &d
}

// backfillMissingPrices fills in PricePerUnit/ValueUSD for any event whose
// raw trade record didn't carry a price inline, using the same
// cache-aside discipline as resolveCurrentPrice but keyed by the event's
// own timestamp. An event that still has no price after this (provider
// has no historical data point for that instant either) is left at zero
// and flows into the engine as a zero-cost lot, per spec.md §9.
func (o *Orchestrator) backfillMissingPrices(ctx context.Context, events []pnl.FinancialEvent) {
	for i := range events {
		ev := &events[i]
		if !ev.PricePerUnit.IsZero() {
			continue
		}

		unixTS := ev.Timestamp.Unix()
		price, ok, err := o.store.GetHistoricalPrice(ctx, ev.TokenAddress, unixTS)
		if err != nil || !ok {
			fetched, known, fetchErr := o.adapter.FetchHistoricalPrice(ctx, ev.TokenAddress, unixTS)
			if fetchErr != nil || !known {
				continue
			}
			price = fetched
			if cacheErr := o.store.CacheHistoricalPrice(ctx, ev.TokenAddress, unixTS, price); cacheErr != nil {
				log.Warn().Err(cacheErr).Str("token", ev.TokenAddress).Msg("analysis: failed to cache historical price")
			}
		}

		ev.PricePerUnit = money.FromFloat(price)
		ev.ValueUSD = ev.Quantity.Mul(ev.PricePerUnit)
	}
}

func cancellableSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
