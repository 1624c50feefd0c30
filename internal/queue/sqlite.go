package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/worldsmith/engine/internal/game"
)

// SqliteQueue is the durable Queue backend. All queues share one database;
// rows are partitioned by the queue name. Items survive restarts, which is
// what makes the stale-item sweep meaningful after a crash.
type SqliteQueue[T Payload] struct {
	db       *sql.DB
	name     string
	notifier Notifier
	clock    game.Clock
}

// NewSqliteQueue creates a durable queue named name over db. The schema is
// managed by the storage package.
func NewSqliteQueue[T Payload](db *sql.DB, name string, notifier Notifier, clock game.Clock) *SqliteQueue[T] {
	return &SqliteQueue[T]{
		db:       db,
		name:     name,
		notifier: notifier,
		clock:    clock,
	}
}

func (q *SqliteQueue[T]) Notifier() Notifier { return q.notifier }

func (q *SqliteQueue[T]) Name() string { return q.name }

func (q *SqliteQueue[T]) Enqueue(ctx context.Context, payload T) (uuid.UUID, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshalling payload: %w", err)
	}

	id := uuid.New()
	now := q.clock.NowMillis()
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO queue_items (id, queue, world_id, payload, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id.String(), q.name, payload.World(), string(body), StatusPending, now, now)
	if err != nil {
		return uuid.Nil, fmt.Errorf("inserting item: %w", err)
	}

	q.notifier.Notify()
	return id, nil
}

// DequeueReady claims the oldest Pending item. A claimed row whose stored
// payload no longer decodes is failed in place and the next row is tried,
// so one poisoned item cannot wedge the queue.
func (q *SqliteQueue[T]) DequeueReady(ctx context.Context) (*Item[T], error) {
	for {
		idStr, body, attempts, createdAt, now, err := q.claimNext(ctx)
		if err != nil || idStr == "" {
			return nil, err
		}

		item, err := buildItem[T](idStr, body, StatusProcessing, "", attempts+1, createdAt, now)
		if err != nil {
			slog.WarnContext(ctx, "failing undecodable queue item",
				"queue", q.name, "id", idStr, "error", err)
			_, ferr := q.db.ExecContext(ctx,
				`UPDATE queue_items SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
				StatusFailed, err.Error(), q.clock.NowMillis(), idStr)
			if ferr != nil {
				return nil, fmt.Errorf("failing undecodable item %s: %w", idStr, ferr)
			}
			continue
		}
		return item, nil
	}
}

// claimNext moves the oldest Pending row to Processing and returns its
// columns. An empty id means the queue is drained.
func (q *SqliteQueue[T]) claimNext(ctx context.Context) (idStr, body string, attempts int, createdAt, now int64, err error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return "", "", 0, 0, 0, fmt.Errorf("beginning dequeue tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT id, payload, attempts, created_at FROM queue_items
		 WHERE queue = ? AND status = ? ORDER BY created_at, id LIMIT 1`,
		q.name, StatusPending)

	err = row.Scan(&idStr, &body, &attempts, &createdAt)
	if err == sql.ErrNoRows {
		return "", "", 0, 0, 0, nil
	}
	if err != nil {
		return "", "", 0, 0, 0, fmt.Errorf("selecting next item: %w", err)
	}

	now = q.clock.NowMillis()
	_, err = tx.ExecContext(ctx,
		`UPDATE queue_items SET status = ?, attempts = attempts + 1, updated_at = ? WHERE id = ?`,
		StatusProcessing, now, idStr)
	if err != nil {
		return "", "", 0, 0, 0, fmt.Errorf("claiming item: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", "", 0, 0, 0, fmt.Errorf("committing dequeue: %w", err)
	}
	return idStr, body, attempts, createdAt, now, nil
}

func (q *SqliteQueue[T]) Complete(ctx context.Context, id uuid.UUID) error {
	return q.setFinished(ctx, id, StatusCompleted, "")
}

func (q *SqliteQueue[T]) Fail(ctx context.Context, id uuid.UUID, reason string) error {
	return q.setFinished(ctx, id, StatusFailed, reason)
}

func (q *SqliteQueue[T]) setFinished(ctx context.Context, id uuid.UUID, status Status, reason string) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE queue_items SET status = ?, error = ?, updated_at = ? WHERE id = ? AND queue = ?`,
		status, reason, q.clock.NowMillis(), id.String(), q.name)
	if err != nil {
		return fmt.Errorf("updating item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (q *SqliteQueue[T]) Depth(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM queue_items WHERE queue = ? AND status = ?`,
		q.name, StatusPending).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting pending items: %w", err)
	}
	return n, nil
}

func (q *SqliteQueue[T]) Get(ctx context.Context, id uuid.UUID) (*Item[T], error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT id, payload, status, error, attempts, created_at, updated_at
		 FROM queue_items WHERE id = ? AND queue = ?`,
		id.String(), q.name)

	item, err := scanItem[T](row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (q *SqliteQueue[T]) ListByStatus(ctx context.Context, status Status) ([]Item[T], error) {
	return q.list(ctx,
		`SELECT id, payload, status, error, attempts, created_at, updated_at
		 FROM queue_items WHERE queue = ? AND status = ? ORDER BY created_at, id`,
		q.name, status)
}

func (q *SqliteQueue[T]) ListByWorld(ctx context.Context, worldID string) ([]Item[T], error) {
	return q.list(ctx,
		`SELECT id, payload, status, error, attempts, created_at, updated_at
		 FROM queue_items WHERE queue = ? AND world_id = ? AND status IN (?, ?)
		 ORDER BY created_at, id`,
		q.name, worldID, StatusPending, StatusProcessing)
}

func (q *SqliteQueue[T]) HistoryByWorld(ctx context.Context, worldID string, limit int) ([]Item[T], error) {
	query := `SELECT id, payload, status, error, attempts, created_at, updated_at
		 FROM queue_items WHERE queue = ? AND world_id = ? AND status IN (?, ?)
		 ORDER BY updated_at DESC, id DESC`
	args := []any{q.name, worldID, StatusCompleted, StatusFailed}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return q.list(ctx, query, args...)
}

func (q *SqliteQueue[T]) RequeueStale(ctx context.Context, age time.Duration) (int, error) {
	cutoff := q.clock.Now().Add(-age).UnixMilli()
	res, err := q.db.ExecContext(ctx,
		`UPDATE queue_items SET status = ?, updated_at = ?
		 WHERE queue = ? AND status = ? AND updated_at < ?`,
		StatusPending, q.clock.NowMillis(), q.name, StatusProcessing, cutoff)
	if err != nil {
		return 0, fmt.Errorf("requeueing stale items: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading rows affected: %w", err)
	}
	if n > 0 {
		q.notifier.Notify()
	}
	return int(n), nil
}

func (q *SqliteQueue[T]) ExpireOld(ctx context.Context, age time.Duration) (int, error) {
	cutoff := q.clock.Now().Add(-age).UnixMilli()
	res, err := q.db.ExecContext(ctx,
		`UPDATE queue_items SET status = ?, error = ?, updated_at = ?
		 WHERE queue = ? AND status = ? AND created_at < ?`,
		StatusFailed, "expired before processing", q.clock.NowMillis(), q.name, StatusPending, cutoff)
	if err != nil {
		return 0, fmt.Errorf("expiring old items: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading rows affected: %w", err)
	}
	return int(n), nil
}

func (q *SqliteQueue[T]) Cleanup(ctx context.Context, age time.Duration) (int, error) {
	cutoff := q.clock.Now().Add(-age).UnixMilli()
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM queue_items WHERE queue = ? AND status IN (?, ?) AND updated_at < ?`,
		q.name, StatusCompleted, StatusFailed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleaning up items: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading rows affected: %w", err)
	}
	return int(n), nil
}

func (q *SqliteQueue[T]) list(ctx context.Context, query string, args ...any) ([]Item[T], error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Item[T]
	for rows.Next() {
		item, err := scanItem[T](rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating items: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem[T Payload](row rowScanner) (*Item[T], error) {
	var (
		idStr     string
		body      string
		status    string
		errMsg    string
		attempts  int
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(&idStr, &body, &status, &errMsg, &attempts, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	return buildItem[T](idStr, body, Status(status), errMsg, attempts, createdAt, updatedAt)
}

func buildItem[T Payload](idStr, body string, status Status, errMsg string, attempts int, createdAt, updatedAt int64) (*Item[T], error) {
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parsing item id: %w", err)
	}

	var payload T
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return nil, fmt.Errorf("unmarshalling payload: %w", err)
	}

	return &Item[T]{
		ID:        id,
		Payload:   payload,
		Status:    status,
		Error:     errMsg,
		Attempts:  attempts,
		CreatedAt: time.UnixMilli(createdAt),
		UpdatedAt: time.UnixMilli(updatedAt),
	}, nil
}
