// Package discovery implements the Discovery Orchestrator: a long-running
// loop that enumerates trending tokens, filters their top traders, and
// pushes surviving (wallet, token) pairs onto the analysis queue.
//
// Grounded on original_source/job_orchestrator/src/birdeye_trending_orchestrator.rs's
// start/is_running loop and per-token continue-on-error semantics,
// translated into the teacher's mutex-guarded state-struct idiom (compare
// internal/trading/position.go's lock-guarded fields).
package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"wallet-pnl-analyzer/internal/config"
	"wallet-pnl-analyzer/internal/marketdata"
	"wallet-pnl-analyzer/internal/metrics"
	"wallet-pnl-analyzer/internal/store"
	"wallet-pnl-analyzer/internal/walletaddr"
)

// State is a node in the orchestrator's lifecycle state machine:
// Stopped -> Starting -> Running <-> Cycling -> Stopping -> Stopped, with
// Error reachable from any running state.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateCycling
	StateStopping
	StateError
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateCycling:
		return "cycling"
	case StateStopping:
		return "stopping"
	case StateError:
		return "error"
	default:
		return "stopped"
	}
}

// Stats are the observability counters spec.md §4.G calls for.
type Stats struct {
	State             State
	ErrorReason       string
	TokensSeen        uint64
	PairsPushed       uint64
	CyclesCompleted   uint64
	LastActivity      time.Time
}

// Orchestrator drives discovery cycles against a market-data adapter and
// pushes candidates into the shared store.
type Orchestrator struct {
	adapter            marketdata.Adapter
	store              *store.Store
	chain              string
	fullHistoryDefault bool

	mu     sync.RWMutex
	cfg    config.DiscoveryConfig
	state  State
	errMsg string
	stats  Stats

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds an Orchestrator in the Stopped state. fullHistoryDefault is
// config.AnalysisConfig.FullHistoryDefault, threaded in here since it
// governs the DiscoveryTask.FullHistory scope decision made at enqueue
// time (spec.md §9).
func New(adapter marketdata.Adapter, st *store.Store, chain string, cfg config.DiscoveryConfig, fullHistoryDefault bool) *Orchestrator {
	return &Orchestrator{
		adapter:            adapter,
		store:              st,
		chain:              chain,
		cfg:                cfg,
		fullHistoryDefault: fullHistoryDefault,
		state:              StateStopped,
	}
}

// SetConfig swaps the cycle parameters in effect; picked up at the start
// of the next cycle. Safe to call while running (hot-reload, per the
// teacher's config.Manager.OnChange idiom).
func (o *Orchestrator) SetConfig(cfg config.DiscoveryConfig) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cfg = cfg
}

// State reports the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Stats returns a snapshot of the observability counters.
func (o *Orchestrator) Stats() Stats {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s := o.stats
	s.State = o.state
	s.ErrorReason = o.errMsg
	return s
}

// Start is a no-op returning the current state if already running;
// otherwise it launches the cycle loop in a background goroutine.
func (o *Orchestrator) Start(ctx context.Context) State {
	o.mu.Lock()
	if o.state == StateRunning || o.state == StateCycling || o.state == StateStarting {
		defer o.mu.Unlock()
		return o.state
	}
	o.state = StateStarting
	o.errMsg = ""
	runCtx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.done = make(chan struct{})
	o.mu.Unlock()

	go o.run(runCtx)
	return StateStarting
}

// Stop transitions Running/Cycling -> Stopping, cancels the loop, and
// blocks until it observes Stopped or the wait context expires.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if o.state == StateStopped {
		o.mu.Unlock()
		return nil
	}
	o.state = StateStopping
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
		o.mu.Lock()
		o.state = StateStopped
		o.mu.Unlock()
		return fmt.Errorf("discovery: stop timed out, forced to stopped")
	}
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

func (o *Orchestrator) setError(err error) {
	o.mu.Lock()
	o.state = StateError
	o.errMsg = err.Error()
	o.mu.Unlock()
}

func (o *Orchestrator) run(ctx context.Context) {
	defer close(o.done)
	o.setState(StateRunning)

	for {
		select {
		case <-ctx.Done():
			o.setState(StateStopped)
			return
		default:
		}

		o.setState(StateCycling)
		if err := o.ExecuteCycle(ctx); err != nil {
			log.Warn().Err(err).Msg("discovery: cycle aborted")
		}

		o.mu.RLock()
		interval := time.Duration(o.cfg.CycleIntervalSeconds) * time.Second
		o.mu.RUnlock()

		if ctx.Err() != nil {
			o.setState(StateStopped)
			return
		}
		o.setState(StateRunning)

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			o.setState(StateStopped)
			return
		case <-timer.C:
		}
	}
}

// ExecuteCycle runs exactly one discovery cycle: fetch trending tokens,
// then for each token fetch and filter its top traders and enqueue
// surviving (wallet, token) pairs. A failed trending-tokens fetch aborts
// the cycle entirely; a failure fetching traders for one token is logged
// and the cycle continues to the next token, per spec.md §4.G.
func (o *Orchestrator) ExecuteCycle(ctx context.Context) error {
	o.mu.RLock()
	cfg := o.cfg
	o.mu.RUnlock()

	tokens, err := o.adapter.FetchTrendingTokens(ctx, cfg.MaxTrendingTokens)
	if err != nil {
		metrics.DiscoveryTokenFetchFailures.Inc()
		return fmt.Errorf("discovery: fetch trending tokens: %w", err)
	}

	var pushedThisCycle uint64
	for i, token := range tokens {
		metrics.DiscoveryTokensSeen.Inc()
		o.bumpTokensSeen()

		tokenAddress, err := walletaddr.Normalize(token.Address)
		if err != nil {
			log.Warn().Err(err).Str("token", token.Address).Msg("discovery: skipping malformed token address")
			continue
		}

		traders, err := o.adapter.FetchTopTraders(ctx, tokenAddress, cfg.MaxTradersPerToken)
		if err != nil {
			log.Warn().Err(err).Str("token", tokenAddress).Msg("discovery: fetch top traders failed, continuing")
		} else {
			survivors := filterTraders(traders, cfg)
			for _, trader := range survivors {
				task := store.DiscoveryTask{
					Wallet:           trader.Wallet,
					TokenAddress:     tokenAddress,
					TokenSymbol:      token.Symbol,
					SourceVolumeUSD:  trader.VolumeUSD,
					SourceTradeCount: trader.TradeCount,
					FullHistory:      o.fullHistoryDefault,
					EnqueuedAt:       time.Now().UTC(),
				}
				enqueued, err := o.store.EnqueueAnalysis(ctx, task)
				if err != nil {
					log.Warn().Err(err).Str("wallet", trader.Wallet).Msg("discovery: enqueue failed")
					continue
				}
				if enqueued {
					metrics.DiscoveryPairsPushed.Inc()
					pushedThisCycle++
				}
			}
		}

		if i < len(tokens)-1 {
			pacing := time.Duration(cfg.InterTokenPacingMs) * time.Millisecond
			if err := cancellableSleep(ctx, pacing); err != nil {
				return err
			}
		}
	}

	o.mu.Lock()
	o.stats.PairsPushed += pushedThisCycle
	o.stats.CyclesCompleted++
	o.stats.LastActivity = time.Now().UTC()
	o.mu.Unlock()
	metrics.DiscoveryCyclesCompleted.Inc()
	return nil
}

func (o *Orchestrator) bumpTokensSeen() {
	o.mu.Lock()
	o.stats.TokensSeen++
	o.mu.Unlock()
}

// filterTraders applies the discovery config's quality thresholds and
// truncates to MaxTradersPerToken. A WinRate of -1 on a TraderCandidate
// means the provider didn't report one, so the win-rate floor is skipped
// for that candidate rather than disqualifying it outright.
func filterTraders(traders []marketdata.TraderCandidate, cfg config.DiscoveryConfig) []marketdata.TraderCandidate {
	out := make([]marketdata.TraderCandidate, 0, len(traders))
	for _, t := range traders {
		normalized, err := walletaddr.Normalize(t.Wallet)
		if err != nil {
			log.Warn().Err(err).Str("wallet", t.Wallet).Msg("discovery: skipping malformed wallet address")
			continue
		}
		t.Wallet = normalized
		if t.VolumeUSD < cfg.MinTraderVolumeUSD {
			continue
		}
		if t.TradeCount < cfg.MinTraderTrades {
			continue
		}
		if cfg.MinWinRate > 0 && t.WinRate >= 0 && t.WinRate < cfg.MinWinRate {
			continue
		}
		out = append(out, t)
		if len(out) >= cfg.MaxTradersPerToken {
			break
		}
	}
	return out
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
