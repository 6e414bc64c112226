package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kashcal/synccore/internal/calendar/domain"
	"github.com/kashcal/synccore/internal/shared/infrastructure/database"
	"github.com/google/uuid"
)

// OccurrenceRepository implements domain.OccurrenceRepository against SQLite.
type OccurrenceRepository struct {
	conn database.Connection
}

func NewOccurrenceRepository(conn database.Connection) *OccurrenceRepository {
	return &OccurrenceRepository{conn: conn}
}

func (r *OccurrenceRepository) exec(ctx context.Context) database.Executor {
	return database.ExecutorFromContext(ctx, r.conn)
}

func (r *OccurrenceRepository) SaveBatch(ctx context.Context, occurrences []*domain.Occurrence) error {
	exec := r.exec(ctx)
	for _, o := range occurrences {
		_, err := exec.Exec(ctx, `
			INSERT INTO occurrences
				(id, event_id, calendar_id, start_ts, end_ts, start_day, end_day, is_cancelled,
				 exception_event_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				calendar_id = excluded.calendar_id, start_ts = excluded.start_ts, end_ts = excluded.end_ts,
				start_day = excluded.start_day, end_day = excluded.end_day,
				is_cancelled = excluded.is_cancelled, exception_event_id = excluded.exception_event_id,
				updated_at = excluded.updated_at`,
			o.ID().String(), o.EventID().String(), o.CalendarID().String(), o.StartTs(), o.EndTs(),
			o.StartDay(), o.EndDay(), o.IsCancelled(), nullUUID(o.ExceptionEventID()),
			formatTime(o.CreatedAt()), formatTime(o.UpdatedAt()),
		)
		if err != nil {
			return fmt.Errorf("save occurrence: %w", err)
		}
	}
	return nil
}

func (r *OccurrenceRepository) DeleteByEvent(ctx context.Context, eventID uuid.UUID) error {
	if _, err := r.exec(ctx).Exec(ctx, `DELETE FROM occurrences WHERE event_id = ?`, eventID.String()); err != nil {
		return fmt.Errorf("delete occurrences by event: %w", err)
	}
	return nil
}

func (r *OccurrenceRepository) FindByEvent(ctx context.Context, eventID uuid.UUID) ([]*domain.Occurrence, error) {
	rows, err := r.exec(ctx).Query(ctx, occurrenceSelect+` WHERE event_id = ? ORDER BY start_ts ASC`, eventID.String())
	if err != nil {
		return nil, fmt.Errorf("query occurrences by event: %w", err)
	}
	defer rows.Close()
	return scanOccurrences(rows)
}

func (r *OccurrenceRepository) FindInRange(ctx context.Context, calendarID uuid.UUID, rangeStart, rangeEnd int64) ([]*domain.Occurrence, error) {
	rows, err := r.exec(ctx).Query(ctx,
		occurrenceSelect+` WHERE calendar_id = ? AND end_ts >= ? AND start_ts <= ? AND is_cancelled = 0 ORDER BY start_ts ASC`,
		calendarID.String(), rangeStart, rangeEnd,
	)
	if err != nil {
		return nil, fmt.Errorf("query occurrences in range: %w", err)
	}
	defer rows.Close()
	return scanOccurrences(rows)
}

func (r *OccurrenceRepository) FindByExceptionEventID(ctx context.Context, exceptionEventID uuid.UUID) (*domain.Occurrence, error) {
	row := r.exec(ctx).QueryRow(ctx, occurrenceSelect+` WHERE exception_event_id = ?`, exceptionEventID.String())
	return scanOccurrence(row)
}

func (r *OccurrenceRepository) FindNearTime(ctx context.Context, eventID uuid.UUID, occurrenceTime int64, toleranceMs int64) (*domain.Occurrence, error) {
	row := r.exec(ctx).QueryRow(ctx,
		occurrenceSelect+` WHERE event_id = ? AND start_ts BETWEEN ? AND ? ORDER BY ABS(start_ts - ?) ASC LIMIT 1`,
		eventID.String(), occurrenceTime-toleranceMs, occurrenceTime+toleranceMs, occurrenceTime,
	)
	return scanOccurrence(row)
}

func (r *OccurrenceRepository) MaxStartTs(ctx context.Context, eventID uuid.UUID) (int64, bool, error) {
	var maxTs sql.NullInt64
	row := r.exec(ctx).QueryRow(ctx, `SELECT MAX(start_ts) FROM occurrences WHERE event_id = ?`, eventID.String())
	if err := row.Scan(&maxTs); err != nil {
		return 0, false, fmt.Errorf("query max occurrence start_ts: %w", err)
	}
	if !maxTs.Valid {
		return 0, false, nil
	}
	return maxTs.Int64, true, nil
}

const occurrenceSelect = `
	SELECT id, event_id, calendar_id, start_ts, end_ts, start_day, end_day, is_cancelled,
	       exception_event_id, created_at, updated_at
	FROM occurrences`

func scanOccurrences(rows database.Rows) ([]*domain.Occurrence, error) {
	var out []*domain.Occurrence
	for rows.Next() {
		o, err := scanOccurrenceRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanOccurrence(row database.Row) (*domain.Occurrence, error) {
	o, err := scanOccurrenceRow(row)
	if err != nil {
		if database.IsNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return o, nil
}

func scanOccurrenceRow(row scannable) (*domain.Occurrence, error) {
	var (
		idStr, eventIDStr, calendarIDStr string
		startTs, endTs                   int64
		startDay, endDay                 int
		isCancelled                      bool
		exceptionEventID                 sql.NullString
		createdAtStr, updatedAtStr       string
	)
	if err := row.Scan(
		&idStr, &eventIDStr, &calendarIDStr, &startTs, &endTs, &startDay, &endDay, &isCancelled,
		&exceptionEventID, &createdAtStr, &updatedAtStr,
	); err != nil {
		return nil, fmt.Errorf("scan occurrence: %w", err)
	}

	return domain.RehydrateOccurrence(
		uuid.MustParse(idStr), uuid.MustParse(eventIDStr), uuid.MustParse(calendarIDStr),
		startTs, endTs, startDay, endDay, isCancelled, uuidFromNull(exceptionEventID),
		parseTime(createdAtStr), parseTime(updatedAtStr),
	), nil
}
