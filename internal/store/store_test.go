package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"wallet-pnl-analyzer/internal/retry"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	return &Store{
		rdb:              redis.NewClient(&redis.Options{Addr: mr.Addr()}),
		retryPolicy:      retry.New(retry.DefaultConfig(), redisClassifier),
		discoverySeenTTL: time.Minute,
		currentPriceTTL:  time.Minute,
		histPriceTTL:     time.Hour,
	}
}

func TestEnqueueAnalysis_DedupsSeenPair(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := DiscoveryTask{Wallet: "w1", TokenAddress: "t1", EnqueuedAt: time.Now()}
	enqueued, err := s.EnqueueAnalysis(ctx, task)
	require.NoError(t, err)
	require.True(t, enqueued)

	enqueued, err = s.EnqueueAnalysis(ctx, task)
	require.NoError(t, err)
	require.False(t, enqueued, "second enqueue of the same pair should be suppressed by the seen set")

	depth, err := s.QueueDepth(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), depth)
}

func TestLeaseNext_EmptyQueueReturnsNil(t *testing.T) {
	s := newTestStore(t)
	lease, err := s.LeaseNext(context.Background(), time.Minute)
	require.NoError(t, err)
	require.Nil(t, lease)
}

func TestLeaseNext_ThenCompleteReleasesWallet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := DiscoveryTask{Wallet: "w1", TokenAddress: "t1", EnqueuedAt: time.Now()}
	_, err := s.EnqueueAnalysis(ctx, task)
	require.NoError(t, err)

	lease, err := s.LeaseNext(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, lease)
	require.Equal(t, "w1", lease.Task.Wallet)

	require.NoError(t, s.Complete(ctx, lease.Task.Wallet, lease.Task.TokenAddress, lease.Token))

	// the wallet lease being gone means a fresh enqueue for the same wallet
	// can be leased again (a different token, since the seen set suppresses
	// re-enqueuing the same pair).
	_, err = s.EnqueueAnalysis(ctx, DiscoveryTask{Wallet: "w1", TokenAddress: "t2", EnqueuedAt: time.Now()})
	require.NoError(t, err)
	lease2, err := s.LeaseNext(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, lease2)
}

func TestLeaseNext_SkipsWalletWithActiveLease(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, must(s.EnqueueAnalysis(ctx, DiscoveryTask{Wallet: "w1", TokenAddress: "t1"})))
	require.NoError(t, must(s.EnqueueAnalysis(ctx, DiscoveryTask{Wallet: "w1", TokenAddress: "t2"})))

	lease1, err := s.LeaseNext(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, lease1)

	// the second task for the same wallet is skipped and pushed back;
	// with only one wallet's tasks queued, the second lease attempt sees
	// nothing eligible.
	lease2, err := s.LeaseNext(ctx, time.Minute)
	require.NoError(t, err)
	require.Nil(t, lease2)
}

func TestComplete_WrongTokenIsNoop(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.EnqueueAnalysis(ctx, DiscoveryTask{Wallet: "w1", TokenAddress: "t1"})
	require.NoError(t, err)
	lease, err := s.LeaseNext(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, lease)

	require.NoError(t, s.Complete(ctx, "w1", "t1", "wrong-token"))

	// lease should still be held by the original token's owner: a second
	// lease attempt for a freshly enqueued w1 task finds it occupied.
	_, err = s.EnqueueAnalysis(ctx, DiscoveryTask{Wallet: "w1", TokenAddress: "t2"})
	require.NoError(t, err)
	lease2, err := s.LeaseNext(ctx, time.Minute)
	require.NoError(t, err)
	require.Nil(t, lease2)
}

func TestSaveAndLoadResult(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	type result struct {
		RealizedPnL float64 `json:"realized_pnl"`
	}
	in := result{RealizedPnL: 42.5}
	require.NoError(t, s.SaveResult(ctx, "w1", "t1", in))

	var out result
	found, err := s.LoadResult(ctx, "w1", "t1", &out)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, in, out)

	found, err = s.LoadResult(ctx, "w1", "nonexistent", &out)
	require.NoError(t, err)
	require.False(t, found)
}

func TestPriceCaches(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CacheCurrentPrice(ctx, "t1", 1.23))
	v, ok, err := s.GetCurrentPrice(ctx, "t1")
	require.NoError(t, err)
	require.True(t, ok)
	require.InDelta(t, 1.23, v, 1e-9)

	_, ok, err = s.GetCurrentPrice(ctx, "unseen")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.CacheHistoricalPrice(ctx, "t1", 1700000000, 0.05))
	v, ok, err = s.GetHistoricalPrice(ctx, "t1", 1700000000)
	require.NoError(t, err)
	require.True(t, ok)
	require.InDelta(t, 0.05, v, 1e-9)
}

func must(_ bool, err error) error { return err }
