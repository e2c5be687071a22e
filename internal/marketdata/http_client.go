package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"

	"wallet-pnl-analyzer/internal/parser"
	"wallet-pnl-analyzer/internal/retry"
)

// httpClientPool pools HTTP/2-capable clients so concurrent discovery
// and analysis workers don't contend on a single transport's connection
// cache.
type httpClientPool struct {
	clients []*http.Client
	mu      sync.Mutex
	idx     uint32
}

func newHTTPClientPool(size int, timeout time.Duration) *httpClientPool {
	pool := &httpClientPool{clients: make([]*http.Client, size)}
	for i := 0; i < size; i++ {
		transport := &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   5 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
		http2.ConfigureTransport(transport)
		pool.clients[i] = &http.Client{Transport: transport, Timeout: timeout}
	}
	log.Info().Int("pool_size", size).Msg("marketdata: HTTP/2 client pool initialized")
	return pool
}

func (p *httpClientPool) get() *http.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.clients[p.idx%uint32(len(p.clients))]
	p.idx++
	return c
}

// HTTPAdapter implements Adapter against a Birdeye-style REST API,
// retrying server errors and timeouts per internal/retry.
type HTTPAdapter struct {
	baseURL string
	apiKey  string
	pool    *httpClientPool
	policy  retry.Policy
}

// NewHTTPAdapter builds an HTTPAdapter. poolSize mirrors the teacher's
// Jupiter client pool sizing knob.
func NewHTTPAdapter(baseURL, apiKey string, timeout time.Duration, poolSize int, retryCfg retry.Config) *HTTPAdapter {
	if poolSize <= 0 {
		poolSize = 4
	}
	return &HTTPAdapter{
		baseURL: baseURL,
		apiKey:  apiKey,
		pool:    newHTTPClientPool(poolSize, timeout),
		policy:  retry.New(retryCfg, timeoutClassifier),
	}
}

// statusError carries the HTTP status of a failed request from doJSON;
// its RetryClass method maps that status into a retry class without
// requiring callers to inspect the response themselves.
type statusError struct {
	status int
	url    string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("marketdata: unexpected status %d from %s", e.status, e.url)
}

func (e *statusError) RetryClass() retry.Class {
	switch {
	case e.status == http.StatusTooManyRequests:
		return retry.RateLimit
	case e.status >= 500:
		return retry.ServerError
	default:
		return retry.Other
	}
}

func (a *HTTPAdapter) doJSON(ctx context.Context, url string, out any) error {
	return a.policy.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		if a.apiKey != "" {
			req.Header.Set("X-API-KEY", a.apiKey)
		}

		resp, err := a.pool.get().Do(req)
		if err != nil {
			// status 0: no HTTP response, a transport-level failure
			// (dial/deadline/context) that timeoutClassifier maps to
			// the Timeout class rather than leaving it unretried.
			return &statusError{status: 0, url: url}
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return &statusError{status: resp.StatusCode, url: url}
		}
		return json.NewDecoder(resp.Body).Decode(out)
	})
}

func (a *HTTPAdapter) FetchTrendingTokens(ctx context.Context, limit int) ([]TrendingToken, error) {
	url := fmt.Sprintf("%s/defi/token_trending?limit=%d", a.baseURL, limit)
	var raw struct {
		Tokens []struct {
			Address string  `json:"address"`
			Symbol  string  `json:"symbol"`
			Volume  float64 `json:"volume24hUSD"`
		} `json:"tokens"`
	}
	if err := a.doJSON(ctx, url, &raw); err != nil {
		return nil, err
	}
	tokens := make([]TrendingToken, 0, len(raw.Tokens))
	for _, t := range raw.Tokens {
		tokens = append(tokens, TrendingToken{Address: t.Address, Symbol: t.Symbol, Volume24hUSD: t.Volume})
	}
	sort.SliceStable(tokens, func(i, j int) bool {
		return tokens[i].Volume24hUSD > tokens[j].Volume24hUSD
	})
	if len(tokens) > limit {
		tokens = tokens[:limit]
	}
	return tokens, nil
}

func (a *HTTPAdapter) FetchTopTraders(ctx context.Context, tokenAddress string, limit int) ([]TraderCandidate, error) {
	url := fmt.Sprintf("%s/defi/token_traders?address=%s&limit=%d", a.baseURL, tokenAddress, limit)
	var raw struct {
		Traders []struct {
			Wallet     string  `json:"wallet"`
			VolumeUSD  float64 `json:"volumeUSD"`
			TradeCount int     `json:"tradeCount"`
			WinRate    *float64 `json:"winRate"`
		} `json:"traders"`
	}
	if err := a.doJSON(ctx, url, &raw); err != nil {
		return nil, err
	}
	out := make([]TraderCandidate, 0, len(raw.Traders))
	for _, t := range raw.Traders {
		winRate := -1.0
		if t.WinRate != nil {
			winRate = *t.WinRate
		}
		out = append(out, TraderCandidate{
			Wallet:     t.Wallet,
			VolumeUSD:  t.VolumeUSD,
			TradeCount: t.TradeCount,
			WinRate:    winRate,
		})
	}
	return out, nil
}

func (a *HTTPAdapter) FetchTraderTrades(ctx context.Context, wallet, tokenAddress string, fromTS, toTS int64, limit int) ([]parser.RawTrade, error) {
	url := fmt.Sprintf("%s/defi/wallet_trades?wallet=%s&limit=%d", a.baseURL, wallet, limit)
	if tokenAddress != "" {
		url += "&token=" + tokenAddress
	}
	var raw struct {
		Trades []struct {
			Quote struct {
				Address string  `json:"address"`
				Symbol  string  `json:"symbol"`
				Change  float64 `json:"uiChangeAmount"`
				Price   float64 `json:"price"`
			} `json:"quote"`
			Base struct {
				Address string  `json:"address"`
				Symbol  string  `json:"symbol"`
				Change  float64 `json:"uiChangeAmount"`
				Price   float64 `json:"price"`
			} `json:"base"`
			Timestamp int64  `json:"blockUnixTime"`
			TxHash    string `json:"txHash"`
		} `json:"items"`
	}
	if err := a.doJSON(ctx, url, &raw); err != nil {
		return nil, err
	}

	trades := make([]parser.RawTrade, 0, len(raw.Trades))
	for _, t := range raw.Trades {
		ts := time.Unix(t.Timestamp, 0).UTC()
		if fromTS > 0 && t.Timestamp < fromTS {
			continue
		}
		if toTS > 0 && t.Timestamp > toTS {
			continue
		}
		trades = append(trades, parser.RawTrade{
			Wallet:  wallet,
			ChainID: "solana",
			Quote: parser.RawSide{
				TokenAddress: t.Quote.Address,
				TokenSymbol:  t.Quote.Symbol,
				ChangeAmount: t.Quote.Change,
				Price:        t.Quote.Price,
			},
			Base: parser.RawSide{
				TokenAddress: t.Base.Address,
				TokenSymbol:  t.Base.Symbol,
				ChangeAmount: t.Base.Change,
				Price:        t.Base.Price,
			},
			Timestamp: ts,
			TxHash:    t.TxHash,
		})
	}
	return trades, nil
}

// FetchCurrentPrice returns the provider's price unmodified. The
// original system applies a deterministic pseudo-jitter here to paper
// over a provider quirk; per the decision recorded for this port, that
// jitter is omitted and this path is a pure pass-through.
func (a *HTTPAdapter) FetchCurrentPrice(ctx context.Context, tokenAddress string) (float64, error) {
	url := fmt.Sprintf("%s/defi/price?address=%s", a.baseURL, tokenAddress)
	var raw struct {
		Value float64 `json:"value"`
	}
	if err := a.doJSON(ctx, url, &raw); err != nil {
		return 0, err
	}
	return raw.Value, nil
}

// FetchHistoricalPrice returns the provider's price at unixTS. A response
// with an empty items list is treated as "no data point", not an error; a
// non-200 status is returned as an error.
func (a *HTTPAdapter) FetchHistoricalPrice(ctx context.Context, tokenAddress string, unixTS int64) (float64, bool, error) {
	url := fmt.Sprintf("%s/defi/history_price?address=%s&unixtime=%d", a.baseURL, tokenAddress, unixTS)
	var raw struct {
		Items []struct {
			Value     float64 `json:"value"`
			UnixTime  int64   `json:"unixTime"`
		} `json:"items"`
	}
	if err := a.doJSON(ctx, url, &raw); err != nil {
		return 0, false, err
	}
	if len(raw.Items) == 0 {
		return 0, false, nil
	}
	return raw.Items[0].Value, true, nil
}
