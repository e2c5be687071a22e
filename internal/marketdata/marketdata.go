// Package marketdata adapts an external chain/market-data provider into
// the interfaces the discovery and analysis orchestrators depend on:
// trending tokens, trader discovery, trade history, and current/
// historical pricing.
package marketdata

import (
	"context"
	"time"

	"wallet-pnl-analyzer/internal/parser"
)

// TrendingToken is a candidate surfaced by the discovery cycle's first
// step, sorted by 24h volume.
type TrendingToken struct {
	Address       string
	Symbol        string
	Volume24hUSD  float64
}

// TraderCandidate is one wallet observed trading a trending token.
type TraderCandidate struct {
	Wallet      string
	VolumeUSD   float64
	TradeCount  int
	WinRate     float64 // -1 when unavailable
	LastTradeAt time.Time
}

// Adapter is the market-data/chain boundary. HTTPAdapter retries each
// call itself through internal/retry; the orchestrators that call an
// Adapter do not retry on top of it.
type Adapter interface {
	// FetchTrendingTokens returns up to limit tokens sorted by 24h volume.
	FetchTrendingTokens(ctx context.Context, limit int) ([]TrendingToken, error)

	// FetchTopTraders returns up to limit wallets trading tokenAddress.
	FetchTopTraders(ctx context.Context, tokenAddress string, limit int) ([]TraderCandidate, error)

	// FetchTraderTrades returns raw trade records for wallet, optionally
	// scoped to a single token and/or time window.
	FetchTraderTrades(ctx context.Context, wallet string, tokenAddress string, fromTS, toTS int64, limit int) ([]parser.RawTrade, error)

	// FetchCurrentPrice returns the current USD price for tokenAddress.
	FetchCurrentPrice(ctx context.Context, tokenAddress string) (float64, error)

	// FetchHistoricalPrice returns the USD price for tokenAddress at
	// unixTS, or (0, false, nil) when the provider has no data point for
	// that timestamp.
	FetchHistoricalPrice(ctx context.Context, tokenAddress string, unixTS int64) (price float64, known bool, err error)
}

// BalanceOracle reports a wallet's actual on-chain balance of a token,
// used to reconcile the engine's accounting balance per §4.E.
type BalanceOracle interface {
	// GetBalance returns (balance, known). known is false when the
	// oracle could not be reached; balance is meaningless in that case.
	GetBalance(ctx context.Context, chainID, wallet, tokenAddress string) (balance float64, known bool, err error)
}
