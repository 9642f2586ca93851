package siwa_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentrep/siwa-core/pkg/siwa"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryReplayStore_Consume(t *testing.T) {
	clock := newFakeClock()
	store := siwa.NewMemoryReplayStore(&siwa.ReplayConfig{Now: clock.Now})
	defer store.Close()
	ctx := context.Background()
	exp := clock.Now().Add(time.Minute)

	first, err := store.Consume(ctx, "jti-1", exp)
	require.NoError(t, err)
	assert.True(t, first)

	first, err = store.Consume(ctx, "jti-1", exp)
	require.NoError(t, err)
	assert.False(t, first)

	first, err = store.Consume(ctx, "jti-2", exp)
	require.NoError(t, err)
	assert.True(t, first)
	assert.Equal(t, 2, store.Size())

	// Still retained at the expiry instant.
	clock.Advance(time.Minute)
	store.Cleanup()
	assert.Equal(t, 2, store.Size())
	first, err = store.Consume(ctx, "jti-1", exp)
	require.NoError(t, err)
	assert.False(t, first)

	clock.Advance(time.Nanosecond)
	store.Cleanup()
	assert.Equal(t, 0, store.Size())
}

func TestMemoryReplayStore_Full(t *testing.T) {
	clock := newFakeClock()
	store := siwa.NewMemoryReplayStore(&siwa.ReplayConfig{MaxEntries: 2, Now: clock.Now})
	defer store.Close()
	ctx := context.Background()

	_, err := store.Consume(ctx, "a", clock.Now().Add(time.Second))
	require.NoError(t, err)
	_, err = store.Consume(ctx, "b", clock.Now().Add(time.Hour))
	require.NoError(t, err)

	_, err = store.Consume(ctx, "c", clock.Now().Add(time.Hour))
	assert.ErrorIs(t, err, siwa.ErrReplayStoreFull)

	// Expired entries are purged to make room; live ones never are.
	clock.Advance(2 * time.Second)
	first, err := store.Consume(ctx, "c", clock.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, first)

	first, err = store.Consume(ctx, "b", clock.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, first)
}

func TestMemoryReplayStore_Concurrent(t *testing.T) {
	store := siwa.NewMemoryReplayStore(&siwa.ReplayConfig{})
	defer store.Close()

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			first, err := store.Consume(context.Background(), "same", time.Now().Add(time.Minute))
			if err == nil && first {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}

func TestMemoryReplayStore_BackgroundCleanup(t *testing.T) {
	store := siwa.NewMemoryReplayStore(&siwa.ReplayConfig{CleanupInterval: 10 * time.Millisecond})
	defer store.Close()

	_, err := store.Consume(context.Background(), "short", time.Now().Add(20*time.Millisecond))
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return store.Size() == 0 }, time.Second, 10*time.Millisecond)
}

func TestMemoryReplayStore_CanceledContext(t *testing.T) {
	store := siwa.NewMemoryReplayStore(&siwa.ReplayConfig{})
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := store.Consume(ctx, "x", time.Now().Add(time.Minute))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRedisReplayStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := siwa.NewRedisReplayStore(client, "")
	ctx := context.Background()

	first, err := store.Consume(ctx, "jti-1", time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, first)
	assert.True(t, mr.Exists(siwa.DefaultRedisKeyPrefix+"jti-1"))
	ttl := mr.TTL(siwa.DefaultRedisKeyPrefix + "jti-1")
	assert.True(t, ttl > 50*time.Second && ttl <= time.Minute, "ttl %s", ttl)

	first, err = store.Consume(ctx, "jti-1", time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, first)

	mr.FastForward(2 * time.Minute)
	first, err = store.Consume(ctx, "jti-1", time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, first)
}

func TestRedisReplayStore_SharedAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	a := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer a.Close()
	defer b.Close()

	ctx := context.Background()
	first, err := siwa.NewRedisReplayStore(a, "app:").Consume(ctx, "jti", time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, first)

	first, err = siwa.NewRedisReplayStore(b, "app:").Consume(ctx, "jti", time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, first)
}

func TestRedisReplayStore_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	_, err := siwa.NewRedisReplayStore(client, "").Consume(context.Background(), "jti", time.Now().Add(time.Minute))
	assert.Error(t, err)
}

func TestDialRedisReplayStore(t *testing.T) {
	mr := miniredis.RunT(t)

	store, closeFn, err := siwa.DialRedisReplayStore(context.Background(), fmt.Sprintf("redis://%s/0", mr.Addr()))
	require.NoError(t, err)
	defer closeFn()

	first, err := store.Consume(context.Background(), "jti", time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, first)

	_, _, err = siwa.DialRedisReplayStore(context.Background(), "not-a-url")
	assert.Error(t, err)
}

func TestVerify_WithRedisReplayStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	e := newAgentEnv(t, nil, nil)
	verifier := siwa.NewVerifier(e.service.Config(), e.oracle, siwa.NewRedisReplayStore(client, ""))
	issued := e.issue(t)
	req := siwa.VerifyRequest{Message: issued.Message, Signature: e.agent.sign(t, issued.Message), NonceToken: issued.Token}

	_, err := verifier.Verify(context.Background(), req, siwa.Policy{})
	require.NoError(t, err)

	_, err = verifier.Verify(context.Background(), req, siwa.Policy{})
	requireCode(t, err, siwa.ErrCodeNonceReplayed)
}
