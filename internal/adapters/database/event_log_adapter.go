package database

import (
	"context"
	"database/sql"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/ahecn/referraldesk/internal/domain/entities"
	"github.com/ahecn/referraldesk/internal/domain/repositories"
	"github.com/ahecn/referraldesk/internal/infrastructure/clients/postgres"
	apperrors "github.com/ahecn/referraldesk/pkg/errors"
)

const eventsTable = "events"

const eventsSchema = `
CREATE TABLE IF NOT EXISTS events (
	id      BIGSERIAL PRIMARY KEY,
	ts      DOUBLE PRECISION NOT NULL,
	type    TEXT NOT NULL,
	case_id TEXT NOT NULL,
	actor   TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_events_case_id_id ON events (case_id, id);
`

// EventLogAdapter implements EventRepository on a single PostgreSQL table.
// The BIGSERIAL key is the sequence id, so concurrent writers never share one.
type EventLogAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewEventLogAdapter creates a new event log adapter
func NewEventLogAdapter(client *postgres.Client) *EventLogAdapter {
	return &EventLogAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

var _ repositories.EventRepository = (*EventLogAdapter)(nil)

// EnsureSchema creates the events table and its case index when missing
func (a *EventLogAdapter) EnsureSchema(ctx context.Context) error {
	if _, err := a.client.DB().ExecContext(ctx, eventsSchema); err != nil {
		return apperrors.NewStorageUnavailableError("failed to create events table", err)
	}
	return nil
}

// Append inserts the event and returns the id assigned by the database
func (a *EventLogAdapter) Append(ctx context.Context, event *entities.Event) (int64, error) {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return 0, apperrors.NewValidationError("event payload is not serializable: " + err.Error())
	}

	query, args, err := a.db.Insert(eventsTable).
		Rows(goqu.Record{
			"ts":      event.EpochSeconds(),
			"type":    string(event.Type),
			"case_id": event.CaseID,
			"actor":   event.Actor,
			"payload": string(payload),
		}).
		Returning("id").
		ToSQL()
	if err != nil {
		return 0, apperrors.NewInternalError("failed to build query", err)
	}

	var id int64
	if err := a.client.DB().QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, apperrors.NewStorageUnavailableError("failed to append event", err)
	}
	event.ID = id
	return id, nil
}

// ListSince returns events with id > AfterID, ascending, optionally for one case
func (a *EventLogAdapter) ListSince(ctx context.Context, q entities.EventQuery) ([]*entities.Event, error) {
	ds := a.db.Select("id", "ts", "type", "case_id", "actor", "payload").
		From(eventsTable).
		Where(goqu.C("id").Gt(q.AfterID))
	if q.CaseID != "" {
		ds = ds.Where(goqu.C("case_id").Eq(q.CaseID))
	}
	ds = ds.Order(goqu.C("id").Asc())
	if q.Limit > 0 {
		ds = ds.Limit(uint(q.Limit))
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewStorageUnavailableError("failed to poll events", err)
	}
	defer rows.Close()

	events := make([]*entities.Event, 0)
	for rows.Next() {
		var (
			e       entities.Event
			ts      float64
			typ     string
			actor   sql.NullString
			payload sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &typ, &e.CaseID, &actor, &payload); err != nil {
			return nil, apperrors.NewStorageUnavailableError("failed to scan event", err)
		}
		e.Timestamp = entities.TimeFromEpochSeconds(ts)
		e.Type = entities.EventType(typ)
		e.Actor = actor.String
		e.Payload = decodePayload(e.ID, payload.String)
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStorageUnavailableError("failed to read events", err)
	}

	return events, nil
}

// LatestID returns the highest sequence id in the table
func (a *EventLogAdapter) LatestID(ctx context.Context) (int64, error) {
	query, args, err := a.db.Select(goqu.COALESCE(goqu.MAX("id"), 0)).
		From(eventsTable).
		ToSQL()
	if err != nil {
		return 0, apperrors.NewInternalError("failed to build query", err)
	}

	var id int64
	if err := a.client.DB().QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, apperrors.NewStorageUnavailableError("failed to read latest event id", err)
	}
	return id, nil
}

// decodePayload never fails: an unreadable payload is served as an empty map
func decodePayload(id int64, raw string) map[string]interface{} {
	payload := map[string]interface{}{}
	if raw == "" {
		return payload
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil || payload == nil {
		log.Warn().Err(err).Int64("event_id", id).Msg("discarding undecodable event payload")
		return map[string]interface{}{}
	}
	return payload
}
