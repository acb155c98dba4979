package repositories

import (
	"context"

	"github.com/ahecn/referraldesk/internal/domain/entities"
)

// EventRepository is the append-only case event log.
type EventRepository interface {
	// Append stores the event and returns the sequence id assigned to it
	Append(ctx context.Context, event *entities.Event) (int64, error)

	// ListSince returns events with id greater than query.AfterID in ascending id order,
	// optionally restricted to one case, at most query.Limit entries
	ListSince(ctx context.Context, query entities.EventQuery) ([]*entities.Event, error)

	// LatestID returns the highest id assigned so far, 0 for an empty log
	LatestID(ctx context.Context) (int64, error)
}
