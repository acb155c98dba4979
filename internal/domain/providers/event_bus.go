package providers

import (
	"context"
)

// SignalBus fans out "new events for this case" wake-ups between processes.
// Signals carry only the sequence id; consumers read the event log for the data.
type SignalBus interface {
	// Publish announces that eventID was appended for the given case
	Publish(ctx context.Context, caseID string, eventID int64) error

	// Subscribe returns a channel receiving event ids announced for the case
	Subscribe(ctx context.Context, caseID string) (<-chan int64, error)

	// Unsubscribe releases the subscription for the case
	Unsubscribe(ctx context.Context, caseID string) error

	// Close closes the bus and all subscriptions
	Close() error
}

const (
	// SignalChannelCasePrefix is the prefix for per-case channels
	SignalChannelCasePrefix = "referral:case:"

	// SignalChannelAll carries signals for every case
	SignalChannelAll = "referral:all"
)

// GetCaseChannel returns the channel name for a specific case
func GetCaseChannel(caseID string) string {
	return SignalChannelCasePrefix + caseID
}
