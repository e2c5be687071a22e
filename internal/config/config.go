package config

import (
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds all analyzer configuration.
type Config struct {
	Chain      ChainConfig      `mapstructure:"chain"`
	MarketData MarketDataConfig `mapstructure:"market_data"`
	Store      StoreConfig      `mapstructure:"store"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Discovery  DiscoveryConfig  `mapstructure:"discovery"`
	Analysis   AnalysisConfig   `mapstructure:"analysis"`
	Quality    QualityConfig    `mapstructure:"quality"`
	API        APIConfig        `mapstructure:"api"`
}

type ChainConfig struct {
	Name string `mapstructure:"name"`
}

type MarketDataConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKeyEnv      string `mapstructure:"api_key_env"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type StoreConfig struct {
	RedisAddr               string `mapstructure:"redis_addr"`
	RedisPasswordEnv        string `mapstructure:"redis_password_env"`
	RedisDB                 int    `mapstructure:"redis_db"`
	CurrentPriceTTLSeconds  int    `mapstructure:"current_price_ttl_seconds"`
	HistPriceTTLSeconds     int    `mapstructure:"hist_price_ttl_seconds"`
	DiscoverySeenTTLSeconds int    `mapstructure:"discovery_seen_ttl_seconds"`
}

type RetryConfig struct {
	MaxAttempts         int   `mapstructure:"max_attempts"`
	RateLimitDelaysMs   []int `mapstructure:"rate_limit_delays_ms"`
	ServerErrorDelaysMs []int `mapstructure:"server_error_delays_ms"`
	TimeoutDelaysMs     []int `mapstructure:"timeout_delays_ms"`
}

type DiscoveryConfig struct {
	MaxTrendingTokens    int     `mapstructure:"max_trending_tokens"`
	MaxTradersPerToken   int     `mapstructure:"max_traders_per_token"`
	MinTraderVolumeUSD   float64 `mapstructure:"min_trader_volume_usd"`
	MinTraderTrades      int     `mapstructure:"min_trader_trades"`
	MinWinRate           float64 `mapstructure:"min_win_rate"`
	CycleIntervalSeconds int     `mapstructure:"cycle_interval_seconds"`
	InterTokenPacingMs   int     `mapstructure:"inter_token_pacing_ms"`
}

type AnalysisConfig struct {
	Workers             int  `mapstructure:"workers"`
	LeaseTTLSeconds     int  `mapstructure:"lease_ttl_seconds"`
	EmptyQueueBackoffMs int  `mapstructure:"empty_queue_backoff_ms"`
	FullHistoryDefault  bool `mapstructure:"full_history_default"`
	TradeHistoryLimit   int  `mapstructure:"trade_history_limit"`
	RequeueDelayMs      int  `mapstructure:"requeue_delay_ms"`
}

type QualityConfig struct {
	MinRealizedPnLUSD  float64 `mapstructure:"min_realized_pnl_usd"`
	MinTotalTrades     int     `mapstructure:"min_total_trades"`
	MinWinningTrades   int     `mapstructure:"min_winning_trades"`
	MinWinRate         float64 `mapstructure:"min_win_rate"`
	MinROIPercentage   float64 `mapstructure:"min_roi_percentage"`
	MinCapitalDeployed float64 `mapstructure:"min_capital_deployed_usd"`
	MinAvgHoldMinutes  float64 `mapstructure:"min_avg_hold_minutes"`
	MaxAvgHoldMinutes  float64 `mapstructure:"max_avg_hold_minutes"`
	ExcludeHoldersOnly bool    `mapstructure:"exclude_holders_only"`
	ExcludeZeroPnL     bool    `mapstructure:"exclude_zero_pnl"`
}

type APIConfig struct {
	ListenHost string `mapstructure:"listen_host"`
	ListenPort int    `mapstructure:"listen_port"`
}

// Manager handles config loading and hot-reload, mirroring the teacher's
// viper-backed config manager.
type Manager struct {
	mu       sync.RWMutex
	config   *Config
	viper    *viper.Viper
	onChange func(*Config)
}

// NewManager creates a new config manager from a YAML file.
func NewManager(configPath string) (*Manager, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.SetDefault("chain.name", "solana")
	v.SetDefault("market_data.base_url", "https://public-api.birdeye.so")
	v.SetDefault("market_data.api_key_env", "MARKET_DATA_API_KEY")
	v.SetDefault("market_data.timeout_seconds", 30)

	v.SetDefault("store.redis_addr", "127.0.0.1:6379")
	v.SetDefault("store.redis_password_env", "REDIS_PASSWORD")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.current_price_ttl_seconds", 30)
	v.SetDefault("store.hist_price_ttl_seconds", 604800)
	v.SetDefault("store.discovery_seen_ttl_seconds", 1800)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.rate_limit_delays_ms", []int{500, 1000, 2000})
	v.SetDefault("retry.server_error_delays_ms", []int{300, 600, 1200})
	v.SetDefault("retry.timeout_delays_ms", []int{500, 1000})

	v.SetDefault("discovery.max_trending_tokens", 20)
	v.SetDefault("discovery.max_traders_per_token", 10)
	v.SetDefault("discovery.min_trader_volume_usd", 1000.0)
	v.SetDefault("discovery.min_trader_trades", 5)
	v.SetDefault("discovery.min_win_rate", 0.0)
	v.SetDefault("discovery.cycle_interval_seconds", 300)
	v.SetDefault("discovery.inter_token_pacing_ms", 500)

	v.SetDefault("analysis.workers", 10)
	v.SetDefault("analysis.lease_ttl_seconds", 600)
	v.SetDefault("analysis.empty_queue_backoff_ms", 1000)
	v.SetDefault("analysis.full_history_default", true)
	v.SetDefault("analysis.trade_history_limit", 1000)
	v.SetDefault("analysis.requeue_delay_ms", 2000)

	v.SetDefault("quality.min_total_trades", 5)
	v.SetDefault("quality.min_win_rate", 0.4)
	v.SetDefault("quality.max_avg_hold_minutes", 1440.0)
	v.SetDefault("quality.min_avg_hold_minutes", 1.0)
	v.SetDefault("quality.exclude_holders_only", false)
	v.SetDefault("quality.exclude_zero_pnl", false)

	v.SetDefault("api.listen_host", "0.0.0.0")
	v.SetDefault("api.listen_port", 8090)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	m := &Manager{
		config: &cfg,
		viper:  v,
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Str("file", e.Name).Msg("config file changed, reloading")
		m.reload()
	})

	return m, nil
}

// Get returns the current config (thread-safe).
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetDiscovery returns the discovery config.
func (m *Manager) GetDiscovery() DiscoveryConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.Discovery
}

// GetAnalysis returns the analysis config.
func (m *Manager) GetAnalysis() AnalysisConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.Analysis
}

// GetQuality returns the quality filter config.
func (m *Manager) GetQuality() QualityConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.Quality
}

// SetOnChange registers a callback invoked after hot-reload.
func (m *Manager) SetOnChange(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

func (m *Manager) reload() {
	m.mu.Lock()
	defer m.mu.Unlock()

	var cfg Config
	if err := m.viper.Unmarshal(&cfg); err != nil {
		log.Error().Err(err).Msg("failed to unmarshal config on reload")
		return
	}

	m.config = &cfg
	if m.onChange != nil {
		m.onChange(&cfg)
	}
}

// MarketDataAPIKey loads the market-data API key from its configured env var.
func (m *Manager) MarketDataAPIKey() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return os.Getenv(m.config.MarketData.APIKeyEnv)
}

// RedisPassword loads the redis password from its configured env var.
func (m *Manager) RedisPassword() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return os.Getenv(m.config.Store.RedisPasswordEnv)
}

// MarketDataTimeout returns the outbound HTTP timeout as a duration.
func (m *Manager) MarketDataTimeout() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Duration(m.config.MarketData.TimeoutSeconds) * time.Second
}
