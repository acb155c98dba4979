package events

import (
	"sync"

	"github.com/rs/zerolog/log"
)

const subscriberBuffer = 16

// fanout delivers signals for a channel to every local subscriber of that channel
type fanout struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan int64]struct{}
}

func newFanout() *fanout {
	return &fanout{subscribers: make(map[string]map[chan int64]struct{})}
}

// add registers a subscriber and reports whether it is the first one on the channel
func (f *fanout) add(channel string) (chan int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	first := false
	if f.subscribers[channel] == nil {
		f.subscribers[channel] = make(map[chan int64]struct{})
		first = true
	}
	ch := make(chan int64, subscriberBuffer)
	f.subscribers[channel][ch] = struct{}{}
	return ch, first
}

// remove drops one subscriber and reports whether the channel has none left
func (f *fanout) remove(channel string, ch chan int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	subs, ok := f.subscribers[channel]
	if !ok {
		return false
	}
	if _, ok := subs[ch]; !ok {
		return false
	}
	delete(subs, ch)
	close(ch)

	if len(subs) == 0 {
		delete(f.subscribers, channel)
		return true
	}
	return false
}

// dispatch never blocks; a full subscriber already has a pending wake-up
func (f *fanout) dispatch(channel string, eventID int64) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for sub := range f.subscribers[channel] {
		select {
		case sub <- eventID:
		default:
			log.Debug().Str("channel", channel).Int64("event_id", eventID).Msg("subscriber busy, dropping signal")
		}
	}
}

// closeChannel closes every subscriber on the channel
func (f *fanout) closeChannel(channel string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for sub := range f.subscribers[channel] {
		close(sub)
	}
	delete(f.subscribers, channel)
}

func (f *fanout) channels() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]string, 0, len(f.subscribers))
	for ch := range f.subscribers {
		out = append(out, ch)
	}
	return out
}
