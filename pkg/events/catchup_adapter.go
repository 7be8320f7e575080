package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// SQLCatchupQuerier implements CatchupQuerier directly against the events
// table via database/sql. This package carries no ORM dependency.
type SQLCatchupQuerier struct {
	db *sql.DB
}

// NewSQLCatchupQuerier creates a CatchupQuerier backed by db, which should be
// the *sql.DB returned by database.Client.DB().
func NewSQLCatchupQuerier(db *sql.DB) *SQLCatchupQuerier {
	return &SQLCatchupQuerier{db: db}
}

// GetCatchupEvents queries events since sinceID (exclusive) up to limit, in
// ascending id order, for the catchup mechanism a reconnecting client drives.
func (q *SQLCatchupQuerier) GetCatchupEvents(ctx context.Context, channel string, sinceID, limit int) ([]CatchupEvent, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, payload FROM events WHERE channel = $1 AND id > $2 ORDER BY id ASC LIMIT $3`,
		channel, sinceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying catchup events: %w", err)
	}
	defer rows.Close()

	var out []CatchupEvent
	for rows.Next() {
		var id int
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scanning catchup event: %w", err)
		}
		var payload map[string]interface{}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("unmarshaling catchup event payload: %w", err)
		}
		out = append(out, CatchupEvent{ID: id, Payload: payload})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating catchup events: %w", err)
	}
	return out, nil
}
