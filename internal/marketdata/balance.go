package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"wallet-pnl-analyzer/internal/retry"
)

// HTTPBalanceOracle implements BalanceOracle against the same
// Birdeye-style provider used for pricing. A transient failure is
// retried under the Timeout class per spec.md §4.E; a failure that
// survives retries reports known=false so callers fall back to the
// engine's own accounting balance rather than aborting the token.
type HTTPBalanceOracle struct {
	baseURL string
	apiKey  string
	pool    *httpClientPool
	policy  retry.Policy
}

func NewHTTPBalanceOracle(baseURL, apiKey string, timeout time.Duration, poolSize int, retryCfg retry.Config) *HTTPBalanceOracle {
	if poolSize <= 0 {
		poolSize = 2
	}
	return &HTTPBalanceOracle{
		baseURL: baseURL,
		apiKey:  apiKey,
		pool:    newHTTPClientPool(poolSize, timeout),
		policy:  retry.New(retryCfg, timeoutClassifier),
	}
}

// timeoutClassifier classes a statusError with status 0 (no HTTP response:
// a dial, deadline or context failure) as Timeout; every other error keeps
// the class DefaultClassifier gives it.
func timeoutClassifier(err error) retry.Class {
	var se *statusError
	if errors.As(err, &se) && se.status == 0 {
		return retry.Timeout
	}
	return retry.DefaultClassifier(err)
}

func (o *HTTPBalanceOracle) GetBalance(ctx context.Context, chainID, wallet, tokenAddress string) (float64, bool, error) {
	url := fmt.Sprintf("%s/v1/wallet/%s/token_balance?chain=%s&token=%s", o.baseURL, wallet, chainID, tokenAddress)

	var balance float64
	var known bool

	err := o.policy.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		if o.apiKey != "" {
			req.Header.Set("X-API-KEY", o.apiKey)
		}
		resp, err := o.pool.get().Do(req)
		if err != nil {
			return &statusError{status: 0, url: url}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return &statusError{status: resp.StatusCode, url: url}
		}
		var raw struct {
			UIAmount float64 `json:"uiAmount"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
			return err
		}
		balance = raw.UIAmount
		known = true
		return nil
	})

	if err != nil {
		return 0, false, err
	}
	return balance, known, nil
}
