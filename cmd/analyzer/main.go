// Command analyzer is the always-headless entrypoint: it wires config,
// store, market-data adapters, and the discovery/analysis orchestrators
// together behind the Service Manager, then serves the read API until a
// shutdown signal arrives.
//
// Grounded on the teacher's cmd/bot/main.go runHeadless path (component
// init returning a tuple of wired components, goroutine fan-out,
// os/signal graceful shutdown); the TUI path is not carried over since
// this system has no interactive-terminal surface.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"wallet-pnl-analyzer/internal/analysis"
	"wallet-pnl-analyzer/internal/api"
	"wallet-pnl-analyzer/internal/config"
	"wallet-pnl-analyzer/internal/discovery"
	"wallet-pnl-analyzer/internal/marketdata"
	"wallet-pnl-analyzer/internal/money"
	"wallet-pnl-analyzer/internal/quality"
	"wallet-pnl-analyzer/internal/retry"
	"wallet-pnl-analyzer/internal/service"
	"wallet-pnl-analyzer/internal/store"
)

func main() {
	setupLogger()

	configPath := flag.String("config", "config.yaml", "path to YAML config file")
	flag.Parse()

	cfgMgr, err := config.NewManager(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	cfg := cfgMgr.Get()

	st, mgr, apiServer, discoveryOrch := initComponents(cfgMgr, cfg)

	cfgMgr.SetOnChange(func(c *config.Config) {
		discoveryOrch.SetConfig(c.Discovery)
		log.Info().Msg("config changed, discovery cycle parameters will refresh on next cycle")
	})

	go func() {
		mgr.StartDiscovery(context.Background())
		mgr.StartAnalysis(context.Background())
	}()

	go func() {
		if err := apiServer.Start(); err != nil {
			log.Error().Err(err).Msg("api server stopped")
		}
	}()

	log.Info().Str("host", cfg.API.ListenHost).Int("port", cfg.API.ListenPort).Msg("wallet-pnl-analyzer started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := mgr.StopDiscovery(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("discovery stop")
	}
	if err := mgr.StopAnalysis(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("analysis stop")
	}
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("api shutdown")
	}
	if err := st.Close(); err != nil {
		log.Warn().Err(err).Msg("store close")
	}

	log.Info().Msg("goodbye")
}

func initComponents(cfgMgr *config.Manager, cfg *config.Config) (*store.Store, *service.Manager, *api.Server, *discovery.Orchestrator) {
	retryCfg := retry.Config{
		MaxAttempts:       cfg.Retry.MaxAttempts,
		RateLimitDelays:   millisToDurations(cfg.Retry.RateLimitDelaysMs),
		ServerErrorDelays: millisToDurations(cfg.Retry.ServerErrorDelaysMs),
		TimeoutDelays:     millisToDurations(cfg.Retry.TimeoutDelaysMs),
	}

	st, err := store.New(context.Background(), store.Config{
		Addr:             cfg.Store.RedisAddr,
		Password:         cfgMgr.RedisPassword(),
		DB:               cfg.Store.RedisDB,
		DiscoverySeenTTL: time.Duration(cfg.Store.DiscoverySeenTTLSeconds) * time.Second,
		CurrentPriceTTL:  time.Duration(cfg.Store.CurrentPriceTTLSeconds) * time.Second,
		HistPriceTTL:     time.Duration(cfg.Store.HistPriceTTLSeconds) * time.Second,
		Retry:            retryCfg,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis store")
	}

	adapter := marketdata.NewHTTPAdapter(cfg.MarketData.BaseURL, cfgMgr.MarketDataAPIKey(), cfgMgr.MarketDataTimeout(), 4, retryCfg)
	balanceOracle := marketdata.NewHTTPBalanceOracle(cfg.MarketData.BaseURL, cfgMgr.MarketDataAPIKey(), cfgMgr.MarketDataTimeout(), 2, retryCfg)

	qualityCriteria := quality.Criteria{
		MinRealizedPnLUSD:  money.FromFloat(cfg.Quality.MinRealizedPnLUSD),
		MinTotalTrades:     cfg.Quality.MinTotalTrades,
		MinWinningTrades:   cfg.Quality.MinWinningTrades,
		MinWinRate:         money.FromFloat(cfg.Quality.MinWinRate),
		MinROIPercentage:   money.FromFloat(cfg.Quality.MinROIPercentage),
		MinCapitalDeployed: money.FromFloat(cfg.Quality.MinCapitalDeployed),
		MinAvgHoldMinutes:  money.FromFloat(cfg.Quality.MinAvgHoldMinutes),
		MaxAvgHoldMinutes:  money.FromFloat(cfg.Quality.MaxAvgHoldMinutes),
		ExcludeHoldersOnly: cfg.Quality.ExcludeHoldersOnly,
		ExcludeZeroPnL:     cfg.Quality.ExcludeZeroPnL,
	}

	discoveryOrch := discovery.New(adapter, st, cfg.Chain.Name, cfg.Discovery, cfg.Analysis.FullHistoryDefault)
	analysisOrch := analysis.New(adapter, balanceOracle, st, cfg.Chain.Name, cfg.Analysis, qualityCriteria)
	mgr := service.New(discoveryOrch, analysisOrch, 15*time.Second)

	apiServer := api.New(cfg.API.ListenHost, cfg.API.ListenPort, st, mgr)

	return st, mgr, apiServer, discoveryOrch
}

func millisToDurations(ms []int) []time.Duration {
	out := make([]time.Duration, len(ms))
	for i, m := range ms {
		out[i] = time.Duration(m) * time.Millisecond
	}
	return out
}

func setupLogger() {
	log.Logger = zerolog.New(
		zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"},
	).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "1" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}
