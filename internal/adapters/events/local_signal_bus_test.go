package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan int64) int64 {
	t.Helper()
	select {
	case id, ok := <-ch:
		require.True(t, ok, "channel closed")
		return id
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for signal")
		return 0
	}
}

func TestLocalSignalBus_DeliversToCaseAndAllSubscribers(t *testing.T) {
	bus := NewLocalSignalBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	caseCh, err := bus.Subscribe(ctx, "C1")
	require.NoError(t, err)
	allCh, err := bus.Subscribe(ctx, "")
	require.NoError(t, err)
	otherCh, err := bus.Subscribe(ctx, "C2")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "C1", 7))

	assert.Equal(t, int64(7), receive(t, caseCh))
	assert.Equal(t, int64(7), receive(t, allCh))
	select {
	case id := <-otherCh:
		t.Fatalf("unexpected signal %d for other case", id)
	default:
	}
}

func TestLocalSignalBus_ClosesOnContextCancel(t *testing.T) {
	bus := NewLocalSignalBus()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := bus.Subscribe(ctx, "C1")
	require.NoError(t, err)
	cancel()

	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestLocalSignalBus_PublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	bus := NewLocalSignalBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := bus.Subscribe(ctx, "C1")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*4; i++ {
			_ = bus.Publish(ctx, "C1", int64(i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked")
	}
}

func TestLocalSignalBus_Close(t *testing.T) {
	bus := NewLocalSignalBus()
	ch, err := bus.Subscribe(context.Background(), "C1")
	require.NoError(t, err)

	require.NoError(t, bus.Close())

	_, ok := <-ch
	assert.False(t, ok)
}
