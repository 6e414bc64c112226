package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kashcal/synccore/internal/shared/infrastructure/database"
	"github.com/google/uuid"
)

// SQLiteRepository implements Repository against the shared database.Connection
// abstraction, transparently joining whatever transaction GenericUnitOfWork
// placed in ctx.
type SQLiteRepository struct {
	conn database.Connection
}

// NewSQLiteRepository creates a new SQLite outbox repository.
func NewSQLiteRepository(conn database.Connection) *SQLiteRepository {
	return &SQLiteRepository{conn: conn}
}

func (r *SQLiteRepository) exec(ctx context.Context) database.Executor {
	return database.ExecutorFromContext(ctx, r.conn)
}

// Save stores a new outbox message.
func (r *SQLiteRepository) Save(ctx context.Context, msg *Message) error {
	result, err := r.exec(ctx).Exec(ctx, `
		INSERT INTO outbox_messages
			(event_id, aggregate_type, aggregate_id, event_type, routing_key, payload, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.EventID.String(), msg.AggregateType, msg.AggregateID.String(), msg.EventType,
		msg.RoutingKey, string(msg.Payload), string(msg.Metadata), msg.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert outbox message: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("read inserted id: %w", err)
	}
	msg.ID = id
	return nil
}

// SaveBatch stores multiple outbox messages. The caller is expected to
// already be inside a transaction via UnitOfWork when atomicity across a
// larger unit of work matters.
func (r *SQLiteRepository) SaveBatch(ctx context.Context, msgs []*Message) error {
	for _, msg := range msgs {
		if err := r.Save(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// GetUnpublished retrieves unpublished messages ordered by creation time.
func (r *SQLiteRepository) GetUnpublished(ctx context.Context, limit int) ([]*Message, error) {
	rows, err := r.exec(ctx).Query(ctx, `
		SELECT id, event_id, aggregate_type, aggregate_id, event_type, routing_key, payload,
		       metadata, created_at, published_at, next_retry_at, retry_count, last_error,
		       dead_lettered_at, dead_letter_reason
		FROM outbox_messages
		WHERE published_at IS NULL AND dead_lettered_at IS NULL
		  AND (next_retry_at IS NULL OR next_retry_at <= ?)
		ORDER BY created_at ASC
		LIMIT ?`,
		time.Now().Format(time.RFC3339), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query unpublished: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// GetFailed retrieves failed messages eligible for retry.
func (r *SQLiteRepository) GetFailed(ctx context.Context, maxRetries, limit int) ([]*Message, error) {
	rows, err := r.exec(ctx).Query(ctx, `
		SELECT id, event_id, aggregate_type, aggregate_id, event_type, routing_key, payload,
		       metadata, created_at, published_at, next_retry_at, retry_count, last_error,
		       dead_lettered_at, dead_letter_reason
		FROM outbox_messages
		WHERE published_at IS NULL AND dead_lettered_at IS NULL AND retry_count > 0 AND retry_count < ?
		ORDER BY created_at ASC
		LIMIT ?`,
		maxRetries, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// MarkPublished marks a message as successfully published.
func (r *SQLiteRepository) MarkPublished(ctx context.Context, id int64) error {
	_, err := r.exec(ctx).Exec(ctx,
		`UPDATE outbox_messages SET published_at = ? WHERE id = ?`,
		time.Now().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("mark published: %w", err)
	}
	return nil
}

// MarkFailed records a publish failure with error message.
func (r *SQLiteRepository) MarkFailed(ctx context.Context, id int64, errMsg string, nextRetryAt time.Time) error {
	_, err := r.exec(ctx).Exec(ctx,
		`UPDATE outbox_messages SET retry_count = retry_count + 1, last_error = ?, next_retry_at = ? WHERE id = ?`,
		errMsg, nextRetryAt.Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// MarkDead marks a message as dead-lettered.
func (r *SQLiteRepository) MarkDead(ctx context.Context, id int64, reason string) error {
	_, err := r.exec(ctx).Exec(ctx,
		`UPDATE outbox_messages SET dead_lettered_at = ?, dead_letter_reason = ? WHERE id = ?`,
		time.Now().Format(time.RFC3339), reason, id,
	)
	if err != nil {
		return fmt.Errorf("mark dead: %w", err)
	}
	return nil
}

// DeleteOld removes successfully published messages older than the retention period.
func (r *SQLiteRepository) DeleteOld(ctx context.Context, olderThanDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -olderThanDays).Format(time.RFC3339)
	result, err := r.exec(ctx).Exec(ctx,
		`DELETE FROM outbox_messages WHERE published_at IS NOT NULL AND published_at < ?`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("delete old: %w", err)
	}
	return result.RowsAffected()
}

func scanMessages(rows database.Rows) ([]*Message, error) {
	var msgs []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

func scanMessage(row database.Row) (*Message, error) {
	var (
		msg                                      Message
		eventID, aggregateID                     string
		payload, metadata                        string
		createdAt                                string
		publishedAt, nextRetryAt, deadLetteredAt sql.NullString
		lastError, deadLetterReason              sql.NullString
	)
	if err := row.Scan(
		&msg.ID, &eventID, &msg.AggregateType, &aggregateID, &msg.EventType, &msg.RoutingKey,
		&payload, &metadata, &createdAt, &publishedAt, &nextRetryAt, &msg.RetryCount,
		&lastError, &deadLetteredAt, &deadLetterReason,
	); err != nil {
		return nil, fmt.Errorf("scan outbox message: %w", err)
	}

	msg.EventID = uuid.MustParse(eventID)
	msg.AggregateID = uuid.MustParse(aggregateID)
	msg.Payload = []byte(payload)
	msg.Metadata = []byte(metadata)
	msg.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	if publishedAt.Valid {
		t, _ := time.Parse(time.RFC3339, publishedAt.String)
		msg.PublishedAt = &t
	}
	if nextRetryAt.Valid {
		t, _ := time.Parse(time.RFC3339, nextRetryAt.String)
		msg.NextRetryAt = &t
	}
	if deadLetteredAt.Valid {
		t, _ := time.Parse(time.RFC3339, deadLetteredAt.String)
		msg.DeadLetteredAt = &t
	}
	if lastError.Valid {
		msg.LastError = &lastError.String
	}
	if deadLetterReason.Valid {
		msg.DeadLetterReason = &deadLetterReason.String
	}

	return &msg, nil
}
