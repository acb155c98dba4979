package events

import (
	"context"

	"github.com/ahecn/referraldesk/internal/domain/providers"
)

// LocalSignalBus delivers signals within one process
type LocalSignalBus struct {
	fanout *fanout
}

// NewLocalSignalBus creates an in-process signal bus
func NewLocalSignalBus() *LocalSignalBus {
	return &LocalSignalBus{fanout: newFanout()}
}

var _ providers.SignalBus = (*LocalSignalBus)(nil)

// Publish wakes subscribers of the case and of the all-cases channel
func (b *LocalSignalBus) Publish(ctx context.Context, caseID string, eventID int64) error {
	b.fanout.dispatch(providers.GetCaseChannel(caseID), eventID)
	b.fanout.dispatch(providers.SignalChannelAll, eventID)
	return nil
}

// Subscribe returns a channel of event ids; it closes when ctx is done
func (b *LocalSignalBus) Subscribe(ctx context.Context, caseID string) (<-chan int64, error) {
	channel := channelFor(caseID)
	ch, _ := b.fanout.add(channel)
	go func() {
		<-ctx.Done()
		b.fanout.remove(channel, ch)
	}()
	return ch, nil
}

// Unsubscribe closes every subscription for the case
func (b *LocalSignalBus) Unsubscribe(ctx context.Context, caseID string) error {
	b.fanout.closeChannel(channelFor(caseID))
	return nil
}

// Close closes all subscriptions
func (b *LocalSignalBus) Close() error {
	for _, ch := range b.fanout.channels() {
		b.fanout.closeChannel(ch)
	}
	return nil
}

// channelFor maps an empty case id to the all-cases channel
func channelFor(caseID string) string {
	if caseID == "" {
		return providers.SignalChannelAll
	}
	return providers.GetCaseChannel(caseID)
}
