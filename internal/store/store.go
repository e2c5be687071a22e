// Package store is the Redis-backed persistence substrate: the discovery
// queue, per-wallet and per-(wallet,token) analysis leases, the price
// caches, and the result store all live here. The teacher's sqlite
// storage layer has no native TTL or atomic list-pop primitive, so this
// package is grounded instead on the pack's other Redis consumer (see
// DESIGN.md).
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"wallet-pnl-analyzer/internal/retry"
)

const (
	keyQueue          = "discovery:queue:wallet_token_pairs"
	keySeenPrefix     = "discovery:seen:"
	keyInflightPrefix = "analysis:inflight:"
	keyWalletPrefix   = "analysis:wallet:"
	keyResultPrefix   = "pnl:result:"
	keyCurrentPrefix  = "price:current:"
	keyHistPrefix     = "price:hist:"

	leaseMaxScan = 64
)

// redisClassifier treats redis.Nil (key absent / list empty) as a
// non-error outcome the caller handles directly, and every other failure
// as the spec's ServerError class, per spec.md §4.B ("all operations are
// retried per §4.A, ServerError class").
func redisClassifier(err error) retry.Class {
	if errors.Is(err, redis.Nil) {
		return retry.Other
	}
	return retry.ServerError
}

// Store wraps a redis.Client with the typed operations the orchestrators
// and the market data adapter need. All methods accept a context and are
// safe for concurrent use, matching the client they wrap. Every mutating
// or read call is retried through retryPolicy at the ServerError class.
type Store struct {
	rdb         *redis.Client
	retryPolicy retry.Policy

	discoverySeenTTL time.Duration
	currentPriceTTL  time.Duration
	histPriceTTL     time.Duration
}

// Config carries the dial parameters, the cache TTLs, and the retry
// policy a Store needs.
type Config struct {
	Addr     string
	Password string
	DB       int

	DiscoverySeenTTL time.Duration
	CurrentPriceTTL  time.Duration
	HistPriceTTL     time.Duration

	Retry retry.Config
}

// New dials Redis and verifies connectivity with a PING before returning.
func New(ctx context.Context, cfg Config) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("store: ping redis: %w", err)
	}

	retryCfg := cfg.Retry
	if retryCfg.MaxAttempts == 0 {
		retryCfg = retry.DefaultConfig()
	}

	return &Store{
		rdb:              rdb,
		retryPolicy:      retry.New(retryCfg, redisClassifier),
		discoverySeenTTL: cfg.DiscoverySeenTTL,
		currentPriceTTL:  cfg.CurrentPriceTTL,
		histPriceTTL:     cfg.HistPriceTTL,
	}, nil
}

func (s *Store) Close() error { return s.rdb.Close() }

// DiscoveryTask is one (token, candidate wallet) pair discovered by a
// discovery cycle and awaiting analysis. FullHistory resolves spec.md
// §9's open question on analysis scope: true means the pipeline should
// fetch the wallet's full trade history rather than just this token.
type DiscoveryTask struct {
	Wallet           string    `json:"wallet"`
	TokenAddress     string    `json:"token_address"`
	TokenSymbol      string    `json:"token_symbol"`
	SourceVolumeUSD  float64   `json:"source_volume_usd"`
	SourceTradeCount int       `json:"source_trade_count"`
	FullHistory      bool      `json:"full_history"`
	EnqueuedAt       time.Time `json:"enqueued_at"`
}

// EnqueueAnalysis pushes a task onto the analysis queue, after marking the
// (token, wallet) pair seen so later discovery cycles don't re-enqueue it
// within the seen TTL. Returns false without enqueuing when the pair was
// already seen.
func (s *Store) EnqueueAnalysis(ctx context.Context, task DiscoveryTask) (bool, error) {
	seenKey := keySeenPrefix + task.TokenAddress + ":" + task.Wallet

	var marked bool
	err := s.retryPolicy.Do(ctx, func() error {
		ok, err := s.rdb.SetNX(ctx, seenKey, "1", s.discoverySeenTTL).Result()
		marked = ok
		return err
	})
	if err != nil {
		return false, fmt.Errorf("store: mark seen: %w", err)
	}
	if !marked {
		return false, nil
	}

	payload, err := json.Marshal(task)
	if err != nil {
		return false, fmt.Errorf("store: marshal task: %w", err)
	}

	err = s.retryPolicy.Do(ctx, func() error {
		return s.rdb.LPush(ctx, keyQueue, payload).Err()
	})
	if err != nil {
		return false, fmt.Errorf("store: enqueue: %w", err)
	}
	return true, nil
}

// QueueDepth reports the number of tasks currently waiting in the
// analysis queue.
func (s *Store) QueueDepth(ctx context.Context) (int64, error) {
	var depth int64
	err := s.retryPolicy.Do(ctx, func() error {
		v, err := s.rdb.LLen(ctx, keyQueue).Result()
		depth = v
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("store: queue depth: %w", err)
	}
	return depth, nil
}

// leaseScript atomically pops the oldest waiting task and takes out its
// two leases per spec.md §4.B/§4.H:
//
//   - the primary per-(wallet,token) lease (analysis:inflight:<wallet>:<token>)
//     guarantees at most one worker ever holds a given pair; if it is
//     already held, the item is discarded without being returned, since
//     the in-progress worker owns it.
//   - the secondary per-wallet lease (analysis:wallet:<wallet>) caps
//     concurrent analyses per wallet across tokens; on conflict the
//     inflight lease just acquired is released and the item is pushed
//     back onto the queue for a later worker to retry.
//
// Scanning is bounded by maxScan so a queue dominated by one over-leased
// wallet cannot wedge a worker indefinitely.
var leaseScript = redis.NewScript(`
local queueKey = KEYS[1]
local inflightPrefix = KEYS[2]
local walletPrefix = KEYS[3]
local leaseToken = ARGV[1]
local leaseTTL = tonumber(ARGV[2])
local maxScan = tonumber(ARGV[3])

for i = 1, maxScan do
  local raw = redis.call('RPOP', queueKey)
  if not raw then
    return nil
  end

  local item = cjson.decode(raw)
  local wallet = item['wallet']
  local tokenAddress = item['token_address']
  local inflightKey = inflightPrefix .. wallet .. ':' .. tokenAddress
  local walletKey = walletPrefix .. wallet

  local gotInflight = redis.call('SET', inflightKey, leaseToken, 'NX', 'EX', leaseTTL)
  if gotInflight then
    local gotWallet = redis.call('SET', walletKey, leaseToken, 'NX', 'EX', leaseTTL)
    if gotWallet then
      return raw
    end
    redis.call('DEL', inflightKey)
    redis.call('LPUSH', queueKey, raw)
  end
end
return nil
`)

// Lease is a leased DiscoveryTask plus the token needed to Complete or
// Abandon it.
type Lease struct {
	Task  DiscoveryTask
	Token string
}

// LeaseNext pops the next eligible task and takes out both its leases. It
// returns (nil, nil) when the queue has nothing currently leaseable.
func (s *Store) LeaseNext(ctx context.Context, ttl time.Duration) (*Lease, error) {
	token := uuid.NewString()

	var res any
	err := s.retryPolicy.Do(ctx, func() error {
		v, err := leaseScript.Run(ctx, s.rdb,
			[]string{keyQueue, keyInflightPrefix, keyWalletPrefix},
			token, int(ttl.Seconds()), leaseMaxScan,
		).Result()
		res = v
		return err
	})
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: lease: %w", err)
	}

	raw, ok := res.(string)
	if !ok {
		return nil, nil
	}
	var task DiscoveryTask
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		return nil, fmt.Errorf("store: decode leased task: %w", err)
	}
	return &Lease{Task: task, Token: token}, nil
}

// releaseScript is the CAS-delete used by Complete/Abandon. Each key is
// released independently so a lease that has already expired (and been
// reclaimed by a waiting worker) is left alone rather than torn down.
var releaseScript = redis.NewScript(`
local inflightKey = KEYS[1]
local walletKey = KEYS[2]
local token = ARGV[1]
if redis.call('GET', inflightKey) == token then
  redis.call('DEL', inflightKey)
end
if redis.call('GET', walletKey) == token then
  redis.call('DEL', walletKey)
end
return 1
`)

// Complete releases both leases after successful analysis. It is a
// compare-and-delete keyed on the lease token, so leases that have
// already expired and been re-issued to another worker are left alone.
func (s *Store) Complete(ctx context.Context, wallet, tokenAddress, leaseToken string) error {
	return s.release(ctx, wallet, tokenAddress, leaseToken)
}

// Abandon releases both leases after a failed analysis attempt, with the
// same CAS-delete semantics as Complete. Callers decide separately
// whether to re-enqueue the task.
func (s *Store) Abandon(ctx context.Context, wallet, tokenAddress, leaseToken string) error {
	return s.release(ctx, wallet, tokenAddress, leaseToken)
}

func (s *Store) release(ctx context.Context, wallet, tokenAddress, leaseToken string) error {
	inflightKey := keyInflightPrefix + wallet + ":" + tokenAddress
	walletKey := keyWalletPrefix + wallet

	err := s.retryPolicy.Do(ctx, func() error {
		_, err := releaseScript.Run(ctx, s.rdb, []string{inflightKey, walletKey}, leaseToken).Result()
		return err
	})
	if err != nil && err != redis.Nil {
		return fmt.Errorf("store: release lease: %w", err)
	}
	return nil
}

// Requeue pushes an abandoned task back onto the analysis queue for
// retry by another worker.
func (s *Store) Requeue(ctx context.Context, task DiscoveryTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("store: marshal task: %w", err)
	}
	err = s.retryPolicy.Do(ctx, func() error {
		return s.rdb.LPush(ctx, keyQueue, payload).Err()
	})
	if err != nil {
		return fmt.Errorf("store: requeue: %w", err)
	}
	return nil
}

// SaveResult persists a wallet+token PnL result for later retrieval
// through the API, keyed with no expiry: results are historical record,
// superseded in place by the next analysis of the same pair.
func (s *Store) SaveResult(ctx context.Context, wallet, tokenAddress string, result any) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("store: marshal result: %w", err)
	}
	key := keyResultPrefix + wallet + ":" + tokenAddress
	err = s.retryPolicy.Do(ctx, func() error {
		return s.rdb.Set(ctx, key, payload, 0).Err()
	})
	if err != nil {
		return fmt.Errorf("store: save result: %w", err)
	}
	return nil
}

// LoadResult retrieves a previously saved result into dst, a pointer.
// Returns (false, nil) when no result exists for the pair.
func (s *Store) LoadResult(ctx context.Context, wallet, tokenAddress string, dst any) (bool, error) {
	key := keyResultPrefix + wallet + ":" + tokenAddress

	var raw []byte
	err := s.retryPolicy.Do(ctx, func() error {
		v, err := s.rdb.Get(ctx, key).Bytes()
		raw = v
		return err
	})
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: load result: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("store: decode result: %w", err)
	}
	return true, nil
}

// CacheCurrentPrice stores a token's most recent USD price with the
// configured short TTL.
func (s *Store) CacheCurrentPrice(ctx context.Context, tokenAddress string, price float64) error {
	key := keyCurrentPrefix + tokenAddress
	err := s.retryPolicy.Do(ctx, func() error {
		return s.rdb.Set(ctx, key, price, s.currentPriceTTL).Err()
	})
	if err != nil {
		return fmt.Errorf("store: cache current price: %w", err)
	}
	return nil
}

// GetCurrentPrice returns a cached current price, if present and
// unexpired. A value that fails to parse as a decimal is treated as a
// cache miss per spec.md §4.B rather than surfaced as an error.
func (s *Store) GetCurrentPrice(ctx context.Context, tokenAddress string) (float64, bool, error) {
	return s.getCachedPrice(ctx, keyCurrentPrefix+tokenAddress)
}

// CacheHistoricalPrice stores a token's price at a specific unix
// timestamp, with the long TTL appropriate for data that never changes.
func (s *Store) CacheHistoricalPrice(ctx context.Context, tokenAddress string, unixTS int64, price float64) error {
	key := fmt.Sprintf("%s%s:%d", keyHistPrefix, tokenAddress, unixTS)
	err := s.retryPolicy.Do(ctx, func() error {
		return s.rdb.Set(ctx, key, price, s.histPriceTTL).Err()
	})
	if err != nil {
		return fmt.Errorf("store: cache historical price: %w", err)
	}
	return nil
}

// GetHistoricalPrice returns a cached historical price, if present. A
// value that fails to parse as a decimal is treated as a cache miss per
// spec.md §4.B rather than surfaced as an error.
func (s *Store) GetHistoricalPrice(ctx context.Context, tokenAddress string, unixTS int64) (float64, bool, error) {
	key := fmt.Sprintf("%s%s:%d", keyHistPrefix, tokenAddress, unixTS)
	return s.getCachedPrice(ctx, key)
}

func (s *Store) getCachedPrice(ctx context.Context, key string) (float64, bool, error) {
	var raw string
	err := s.retryPolicy.Do(ctx, func() error {
		v, err := s.rdb.Get(ctx, key).Result()
		raw = v
		return err
	})
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("store: get cached price: %w", err)
	}

	price, parseErr := strconv.ParseFloat(raw, 64)
	if parseErr != nil {
		log.Warn().Err(parseErr).Str("key", key).Msg("store: corrupt cached price, treating as cache miss")
		return 0, false, nil
	}
	return price, true, nil
}

// Ping is exposed for health-check callers outside this package.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		log.Error().Err(err).Msg("store: redis ping failed")
		return err
	}
	return nil
}
