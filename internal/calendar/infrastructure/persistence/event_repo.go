package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kashcal/synccore/internal/calendar/domain"
	"github.com/kashcal/synccore/internal/shared/infrastructure/database"
	"github.com/google/uuid"
)

// EventRepository implements domain.EventRepository against SQLite.
type EventRepository struct {
	conn database.Connection
}

func NewEventRepository(conn database.Connection) *EventRepository {
	return &EventRepository{conn: conn}
}

func (r *EventRepository) exec(ctx context.Context) database.Executor {
	return database.ExecutorFromContext(ctx, r.conn)
}

func (r *EventRepository) Save(ctx context.Context, e *domain.Event) error {
	extra, err := json.Marshal(e.ExtraProperties())
	if err != nil {
		return fmt.Errorf("marshal event extra properties: %w", err)
	}

	var geoLat, geoLon sql.NullFloat64
	if geo := e.Geo(); geo != nil {
		geoLat = sql.NullFloat64{Float64: geo.Lat, Valid: true}
		geoLon = sql.NullFloat64{Float64: geo.Lon, Valid: true}
	}

	_, err = r.exec(ctx).Exec(ctx, `
		INSERT INTO events
			(id, uid, calendar_id, title, location, description, start_ts, end_ts, timezone, all_day,
			 status, transparency, classification, organizer, rrule, rdate, exdate, duration_ns,
			 original_event_id, original_instance_time, dtstamp, reminders, extra, categories,
			 priority, url, color, geo_lat, geo_lon, server_url, etag, sequence, sync_status,
			 retry_count, last_sync_error, local_modified_at, server_modified_at,
			 created_at, updated_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			uid = excluded.uid, calendar_id = excluded.calendar_id, title = excluded.title,
			location = excluded.location, description = excluded.description,
			start_ts = excluded.start_ts, end_ts = excluded.end_ts, timezone = excluded.timezone,
			all_day = excluded.all_day, status = excluded.status, transparency = excluded.transparency,
			classification = excluded.classification, organizer = excluded.organizer,
			rrule = excluded.rrule, rdate = excluded.rdate, exdate = excluded.exdate,
			duration_ns = excluded.duration_ns, original_event_id = excluded.original_event_id,
			original_instance_time = excluded.original_instance_time, dtstamp = excluded.dtstamp,
			reminders = excluded.reminders, extra = excluded.extra, categories = excluded.categories,
			priority = excluded.priority, url = excluded.url, color = excluded.color,
			geo_lat = excluded.geo_lat, geo_lon = excluded.geo_lon, server_url = excluded.server_url,
			etag = excluded.etag, sequence = excluded.sequence, sync_status = excluded.sync_status,
			retry_count = excluded.retry_count, last_sync_error = excluded.last_sync_error,
			local_modified_at = excluded.local_modified_at, server_modified_at = excluded.server_modified_at,
			updated_at = excluded.updated_at, version = excluded.version`,
		e.ID().String(), e.UID(), e.CalendarID().String(), e.Title(), e.Location(), e.Description(),
		e.StartTs(), e.EndTs(), e.Timezone(), e.AllDay(),
		string(e.Status()), string(e.Transparency()), string(e.Classification()), e.Organizer(),
		e.RRule(), joinTimes(e.RDate()), joinTimes(e.EXDate()), int64(e.Duration()),
		nullUUID(e.OriginalEventID()), nullTimePtr(e.OriginalInstanceTime()), formatTime(e.DTStamp()),
		joinStrings(e.Reminders()), string(extra), joinStrings(e.Categories()),
		e.Priority(), e.URL(), e.Color(), geoLat, geoLon,
		e.ServerURL(), e.ETag(), e.Sequence(), string(e.SyncStatus()),
		e.RetryCount(), e.LastSyncError(), formatTime(e.LocalModifiedAt()), nullTime(e.ServerModifiedAt()),
		formatTime(e.CreatedAt()), formatTime(e.UpdatedAt()), e.Version(),
	)
	if err != nil {
		return fmt.Errorf("save event: %w", err)
	}
	return nil
}

func (r *EventRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Event, error) {
	row := r.exec(ctx).QueryRow(ctx, eventSelect+` WHERE id = ?`, id.String())
	return scanEvent(row)
}

func (r *EventRepository) FindBatchByIDs(ctx context.Context, ids []uuid.UUID) ([]*domain.Event, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id.String()
	}
	rows, err := r.exec(ctx).Query(ctx, eventSelect+` WHERE id IN (`+strings.Join(placeholders, ",")+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("query events batch: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (r *EventRepository) FindByCalendar(ctx context.Context, calendarID uuid.UUID) ([]*domain.Event, error) {
	rows, err := r.exec(ctx).Query(ctx, eventSelect+` WHERE calendar_id = ? ORDER BY start_ts ASC`, calendarID.String())
	if err != nil {
		return nil, fmt.Errorf("query events by calendar: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (r *EventRepository) FindByUID(ctx context.Context, calendarID uuid.UUID, uid string) (*domain.Event, error) {
	row := r.exec(ctx).QueryRow(ctx, eventSelect+` WHERE calendar_id = ? AND uid = ? AND original_event_id IS NULL`, calendarID.String(), uid)
	return scanEvent(row)
}

func (r *EventRepository) FindExceptions(ctx context.Context, masterID uuid.UUID) ([]*domain.Event, error) {
	rows, err := r.exec(ctx).Query(ctx, eventSelect+` WHERE original_event_id = ? ORDER BY original_instance_time ASC`, masterID.String())
	if err != nil {
		return nil, fmt.Errorf("query event exceptions: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (r *EventRepository) FindExceptionByInstanceTime(ctx context.Context, masterID uuid.UUID, occurrenceTime time.Time) (*domain.Event, error) {
	row := r.exec(ctx).QueryRow(ctx, eventSelect+` WHERE original_event_id = ? AND original_instance_time = ?`,
		masterID.String(), formatTime(occurrenceTime))
	return scanEvent(row)
}

func (r *EventRepository) FindByServerURL(ctx context.Context, calendarID uuid.UUID, serverURL string) (*domain.Event, error) {
	row := r.exec(ctx).QueryRow(ctx, eventSelect+` WHERE calendar_id = ? AND server_url = ?`, calendarID.String(), serverURL)
	return scanEvent(row)
}

func (r *EventRepository) ServerURLIndex(ctx context.Context, calendarID uuid.UUID) (map[string]string, error) {
	rows, err := r.exec(ctx).Query(ctx,
		`SELECT server_url, etag FROM events WHERE calendar_id = ? AND server_url != ''`, calendarID.String())
	if err != nil {
		return nil, fmt.Errorf("query server url index: %w", err)
	}
	defer rows.Close()

	index := make(map[string]string)
	for rows.Next() {
		var url, etag string
		if err := rows.Scan(&url, &etag); err != nil {
			return nil, fmt.Errorf("scan server url index row: %w", err)
		}
		index[url] = etag
	}
	return index, rows.Err()
}

func (r *EventRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := r.exec(ctx).Exec(ctx, `DELETE FROM events WHERE id = ?`, id.String()); err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	return nil
}

const eventSelect = `
	SELECT id, uid, calendar_id, title, location, description, start_ts, end_ts, timezone, all_day,
	       status, transparency, classification, organizer, rrule, rdate, exdate, duration_ns,
	       original_event_id, original_instance_time, dtstamp, reminders, extra, categories,
	       priority, url, color, geo_lat, geo_lon, server_url, etag, sequence, sync_status,
	       retry_count, last_sync_error, local_modified_at, server_modified_at,
	       created_at, updated_at, version
	FROM events`

func scanEvents(rows database.Rows) ([]*domain.Event, error) {
	var out []*domain.Event
	for rows.Next() {
		e, err := scanEventRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEvent(row database.Row) (*domain.Event, error) {
	e, err := scanEventRow(row)
	if err != nil {
		if database.IsNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

func scanEventRow(row scannable) (*domain.Event, error) {
	var (
		idStr, uid, calendarIDStr                    string
		title, location, description                 string
		startTs, endTs                                int64
		timezone                                      string
		allDay                                        bool
		status, transparency, classification          string
		organizer                                     string
		rrule, rdateStr, exdateStr                    string
		durationNs                                    int64
		originalEventID                               sql.NullString
		originalInstanceTime                          sql.NullString
		dtstampStr                                    string
		remindersStr, extraStr, categoriesStr         string
		priority                                      int
		url, color                                    string
		geoLat, geoLon                                sql.NullFloat64
		serverURL, etag                               string
		sequence                                      int
		syncStatus                                    string
		retryCount                                    int
		lastSyncError                                 string
		localModifiedAtStr                            string
		serverModifiedAt                              sql.NullString
		createdAtStr, updatedAtStr                    string
		version                                       int
	)
	if err := row.Scan(
		&idStr, &uid, &calendarIDStr, &title, &location, &description, &startTs, &endTs, &timezone, &allDay,
		&status, &transparency, &classification, &organizer, &rrule, &rdateStr, &exdateStr, &durationNs,
		&originalEventID, &originalInstanceTime, &dtstampStr, &remindersStr, &extraStr, &categoriesStr,
		&priority, &url, &color, &geoLat, &geoLon, &serverURL, &etag, &sequence, &syncStatus,
		&retryCount, &lastSyncError, &localModifiedAtStr, &serverModifiedAt,
		&createdAtStr, &updatedAtStr, &version,
	); err != nil {
		return nil, fmt.Errorf("scan event: %w", err)
	}

	var extra map[string]string
	if err := json.Unmarshal([]byte(extraStr), &extra); err != nil {
		return nil, fmt.Errorf("unmarshal event extra properties: %w", err)
	}

	var geo *domain.GeoPoint
	if geoLat.Valid && geoLon.Valid {
		geo = &domain.GeoPoint{Lat: geoLat.Float64, Lon: geoLon.Float64}
	}

	return domain.RehydrateEvent(
		uuid.MustParse(idStr), uid, uuid.MustParse(calendarIDStr),
		title, location, description,
		startTs, endTs, timezone, allDay,
		domain.EventStatus(status), domain.Transparency(transparency), domain.Classification(classification),
		organizer, rrule, splitTimes(rdateStr), splitTimes(exdateStr), time.Duration(durationNs),
		uuidFromNull(originalEventID), timePtrFromNull(originalInstanceTime),
		parseTime(dtstampStr), splitStrings(remindersStr), extra, splitStrings(categoriesStr),
		priority, url, color, geo,
		serverURL, etag, sequence, domain.SyncStatus(syncStatus),
		retryCount, lastSyncError, parseTime(localModifiedAtStr), timeFromNull(serverModifiedAt),
		parseTime(createdAtStr), parseTime(updatedAtStr), version,
	), nil
}
