package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/ahecn/referraldesk/internal/domain/entities"
	"github.com/ahecn/referraldesk/internal/domain/repositories"
)

// EventLog is an in-process event log. Ids start at 1 and are never reused.
type EventLog struct {
	mu     sync.RWMutex
	nextID int64
	events []*entities.Event
}

// NewEventLog creates an empty in-memory event log
func NewEventLog() *EventLog {
	return &EventLog{nextID: 1}
}

var _ repositories.EventRepository = (*EventLog)(nil)

// Append stores a copy of the event under the next id
func (l *EventLog) Append(ctx context.Context, event *entities.Event) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextID
	l.nextID++
	event.ID = id
	l.events = append(l.events, cloneEvent(event))
	return id, nil
}

// ListSince returns events with id > AfterID in ascending order
func (l *EventLog) ListSince(ctx context.Context, q entities.EventQuery) ([]*entities.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	// ids are dense and ascending, so the first candidate can be found by search
	start := sort.Search(len(l.events), func(i int) bool { return l.events[i].ID > q.AfterID })

	out := make([]*entities.Event, 0)
	for _, e := range l.events[start:] {
		if q.CaseID != "" && e.CaseID != q.CaseID {
			continue
		}
		out = append(out, cloneEvent(e))
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

// LatestID returns the id of the last appended event
func (l *EventLog) LatestID(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.nextID - 1, nil
}

// Len returns the number of stored events
func (l *EventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

func cloneEvent(e *entities.Event) *entities.Event {
	c := *e
	c.Payload = make(map[string]interface{}, len(e.Payload))
	for k, v := range e.Payload {
		c.Payload[k] = v
	}
	return &c
}
