package event

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SqliteStore persists the event log in the shared engine database.
type SqliteStore struct {
	db *sql.DB
}

// NewSqliteStore creates a store over db. The schema is managed by the
// storage package.
func NewSqliteStore(db *sql.DB) *SqliteStore {
	return &SqliteStore{db: db}
}

func (s *SqliteStore) Insert(ctx context.Context, e Event) (int64, error) {
	var payload any
	if len(e.Payload) > 0 {
		payload = string(e.Payload)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events (kind, world_id, payload, created_at) VALUES (?, ?, ?, ?)`,
		string(e.Kind), e.WorldID, payload, e.CreatedAt.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("inserting event: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading event id: %w", err)
	}
	return id, nil
}

func (s *SqliteStore) FetchSince(ctx context.Context, since int64, limit int) ([]Event, error) {
	query := `SELECT id, kind, world_id, payload, created_at FROM events WHERE id > ? ORDER BY id`
	args := []any{since}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Event
	for rows.Next() {
		var (
			e         Event
			kind      string
			payload   sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &kind, &e.WorldID, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		e.Kind = Kind(kind)
		if payload.Valid {
			e.Payload = json.RawMessage(payload.String)
		}
		e.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	return out, nil
}
