package repo

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"fieldwork/internal/domain"
)

type EventFilter struct {
	Type          string
	EntityKind    string
	EntityID      int64
	CorrelationID string
	// Before pages backwards from an event id.
	Before int64
	Limit  int
}

// LatestEvents returns matching events newest first.
func (r Repo) LatestEvents(ctx context.Context, f EventFilter) ([]domain.Event, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	sb := eventSelect().OrderBy("id DESC").Limit(uint64(f.Limit))
	if f.Type != "" {
		sb = sb.Where(sq.Eq{"type": f.Type})
	}
	if f.EntityKind != "" {
		sb = sb.Where(sq.Eq{"entity_kind": f.EntityKind})
	}
	if f.EntityID != 0 {
		sb = sb.Where(sq.Eq{"entity_id": f.EntityID})
	}
	if f.CorrelationID != "" {
		sb = sb.Where(sq.Eq{"correlation_id": f.CorrelationID})
	}
	if f.Before > 0 {
		sb = sb.Where(sq.Lt{"id": f.Before})
	}
	return r.queryEvents(ctx, sb)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	sb := eventSelect().Where(sq.Gt{"id": cursor}).OrderBy("id ASC").Limit(uint64(limit))
	return r.queryEvents(ctx, sb)
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id)
	return id, err
}

func eventSelect() sq.SelectBuilder {
	return builder().Select("id", "ts", "type", "entity_kind", "entity_id", "actor_id", "correlation_id", "payload_json").From("events")
}

func (r Repo) queryEvents(ctx context.Context, sb sq.SelectBuilder) ([]domain.Event, error) {
	query, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var (
			e                 domain.Event
			entityID, actorID sql.NullInt64
			correlation       sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entityID, &actorID, &correlation, &e.Payload); err != nil {
			return nil, err
		}
		e.EntityID = entityID.Int64
		e.ActorID = actorID.Int64
		e.CorrelationID = correlation.String
		res = append(res, e)
	}
	return res, rows.Err()
}
