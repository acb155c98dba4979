package events

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ahecn/referraldesk/internal/domain/providers"
	redisclient "github.com/ahecn/referraldesk/internal/infrastructure/clients/redis"
)

// RedisSignalBus implements SignalBus using Redis Pub/Sub so that API replicas
// wake each other's case streams
type RedisSignalBus struct {
	client        *redisclient.Client
	fanout        *fanout
	subscriptions map[string]*redis.PubSub
	mu            sync.Mutex
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewRedisSignalBus creates a new Redis-based signal bus
func NewRedisSignalBus(client *redisclient.Client) *RedisSignalBus {
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisSignalBus{
		client:        client,
		fanout:        newFanout(),
		subscriptions: make(map[string]*redis.PubSub),
		ctx:           ctx,
		cancel:        cancel,
	}
}

var _ providers.SignalBus = (*RedisSignalBus)(nil)

// Publish announces the event id on the case channel and the all-cases channel
func (b *RedisSignalBus) Publish(ctx context.Context, caseID string, eventID int64) error {
	payload := strconv.FormatInt(eventID, 10)
	pipe := b.client.Client().Pipeline()
	pipe.Publish(ctx, providers.GetCaseChannel(caseID), payload)
	pipe.Publish(ctx, providers.SignalChannelAll, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish signal: %w", err)
	}
	return nil
}

// Subscribe returns a channel of event ids for the case; it closes when ctx is done
func (b *RedisSignalBus) Subscribe(ctx context.Context, caseID string) (<-chan int64, error) {
	channel := channelFor(caseID)

	b.mu.Lock()
	ch, _ := b.fanout.add(channel)
	if _, exists := b.subscriptions[channel]; !exists {
		pubsub := b.client.Client().Subscribe(b.ctx, channel)
		b.subscriptions[channel] = pubsub
		go b.receive(channel, pubsub)
	}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		// under b.mu so a concurrent Subscribe never joins a subscription being closed
		if b.fanout.remove(channel, ch) {
			if err := b.closeSubscriptionLocked(channel); err != nil {
				log.Warn().Err(err).Str("channel", channel).Msg("failed to close signal subscription")
			}
		}
	}()

	return ch, nil
}

func (b *RedisSignalBus) receive(channel string, pubsub *redis.PubSub) {
	msgs := pubsub.Channel()
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			id, err := strconv.ParseInt(msg.Payload, 10, 64)
			if err != nil {
				log.Warn().Err(err).Str("channel", channel).Msg("ignoring malformed signal")
				continue
			}
			b.fanout.dispatch(channel, id)
		}
	}
}

func (b *RedisSignalBus) closeSubscription(channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeSubscriptionLocked(channel)
}

func (b *RedisSignalBus) closeSubscriptionLocked(channel string) error {
	pubsub, ok := b.subscriptions[channel]
	if !ok {
		return nil
	}
	delete(b.subscriptions, channel)
	if err := pubsub.Close(); err != nil {
		return fmt.Errorf("failed to close subscription %s: %w", channel, err)
	}
	log.Debug().Str("channel", channel).Msg("closed signal subscription")
	return nil
}

// Unsubscribe closes every subscription for the case
func (b *RedisSignalBus) Unsubscribe(ctx context.Context, caseID string) error {
	channel := channelFor(caseID)
	b.fanout.closeChannel(channel)
	return b.closeSubscription(channel)
}

// Close closes the bus and all subscriptions
func (b *RedisSignalBus) Close() error {
	b.cancel()

	b.mu.Lock()
	channels := make([]string, 0, len(b.subscriptions))
	for channel := range b.subscriptions {
		channels = append(channels, channel)
	}
	b.mu.Unlock()

	var errs []error
	for _, channel := range channels {
		b.fanout.closeChannel(channel)
		if err := b.closeSubscription(channel); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
