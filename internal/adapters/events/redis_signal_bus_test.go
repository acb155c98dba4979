package events

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahecn/referraldesk/internal/domain/providers"
	redisclient "github.com/ahecn/referraldesk/internal/infrastructure/clients/redis"
)

// newUnreachableRedisBus never reaches a server; subscriptions are tracked locally only
func newUnreachableRedisBus(t *testing.T) *RedisSignalBus {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 20 * time.Millisecond,
		MaxRetries:  -1,
	})
	bus := NewRedisSignalBus(redisclient.NewClientFromRedis(rdb))
	t.Cleanup(func() {
		_ = bus.Close()
		_ = rdb.Close()
	})
	return bus
}

func (b *RedisSignalBus) subscribedChannels() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.subscriptions))
	for ch := range b.subscriptions {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

func sortedFanoutChannels(f *fanout) []string {
	out := f.channels()
	sort.Strings(out)
	return out
}

func TestRedisSignalBus_LastSubscriberLeavingClosesSubscription(t *testing.T) {
	bus := newUnreachableRedisBus(t)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := bus.Subscribe(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, []string{providers.GetCaseChannel("C1")}, bus.subscribedChannels())

	cancel()
	assert.Eventually(t, func() bool { return len(bus.subscribedChannels()) == 0 }, time.Second, 5*time.Millisecond)

	again, err := bus.Subscribe(context.Background(), "C1")
	require.NoError(t, err)
	assert.NotNil(t, again)
	assert.Equal(t, []string{providers.GetCaseChannel("C1")}, bus.subscribedChannels())
}

func TestRedisSignalBus_SubscriberChurnKeepsEveryListenerSubscribed(t *testing.T) {
	bus := newUnreachableRedisBus(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithCancel(context.Background())
			_, err := bus.Subscribe(ctx, "C1")
			assert.NoError(t, err)
			cancel()
		}()
	}
	_, err := bus.Subscribe(context.Background(), "C1")
	require.NoError(t, err)
	wg.Wait()

	want := []string{providers.GetCaseChannel("C1")}
	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(want, sortedFanoutChannels(bus.fanout)) &&
			assert.ObjectsAreEqual(want, bus.subscribedChannels())
	}, 2*time.Second, 10*time.Millisecond)
}
