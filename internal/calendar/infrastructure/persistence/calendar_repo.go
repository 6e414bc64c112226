package persistence

import (
	"context"
	"fmt"

	"github.com/kashcal/synccore/internal/calendar/domain"
	"github.com/kashcal/synccore/internal/shared/infrastructure/database"
	"github.com/google/uuid"
)

// CalendarRepository implements domain.CalendarRepository against SQLite.
type CalendarRepository struct {
	conn database.Connection
}

func NewCalendarRepository(conn database.Connection) *CalendarRepository {
	return &CalendarRepository{conn: conn}
}

func (r *CalendarRepository) exec(ctx context.Context) database.Executor {
	return database.ExecutorFromContext(ctx, r.conn)
}

func (r *CalendarRepository) Save(ctx context.Context, c *domain.Calendar) error {
	_, err := r.exec(ctx).Exec(ctx, `
		INSERT INTO calendars
			(id, account_id, server_url, display_name, color_argb, read_only, visible,
			 is_default, sort_order, sync_token, ctag, created_at, updated_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			account_id = excluded.account_id,
			server_url = excluded.server_url,
			display_name = excluded.display_name,
			color_argb = excluded.color_argb,
			read_only = excluded.read_only,
			visible = excluded.visible,
			is_default = excluded.is_default,
			sort_order = excluded.sort_order,
			sync_token = excluded.sync_token,
			ctag = excluded.ctag,
			updated_at = excluded.updated_at,
			version = excluded.version`,
		c.ID().String(), c.AccountID().String(), c.ServerURL(), c.DisplayName(), c.ColorARGB(),
		c.ReadOnly(), c.Visible(), c.IsDefault(), c.SortOrder(), c.SyncToken(), c.Ctag(),
		formatTime(c.CreatedAt()), formatTime(c.UpdatedAt()), c.Version(),
	)
	if err != nil {
		return fmt.Errorf("save calendar: %w", err)
	}
	return nil
}

func (r *CalendarRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Calendar, error) {
	row := r.exec(ctx).QueryRow(ctx, calendarSelect+` WHERE id = ?`, id.String())
	return scanCalendar(row)
}

func (r *CalendarRepository) FindByServerURL(ctx context.Context, serverURL string) (*domain.Calendar, error) {
	row := r.exec(ctx).QueryRow(ctx, calendarSelect+` WHERE server_url = ?`, serverURL)
	return scanCalendar(row)
}

func (r *CalendarRepository) FindByAccount(ctx context.Context, accountID uuid.UUID) ([]*domain.Calendar, error) {
	rows, err := r.exec(ctx).Query(ctx, calendarSelect+` WHERE account_id = ? ORDER BY sort_order ASC, created_at ASC`, accountID.String())
	if err != nil {
		return nil, fmt.Errorf("query calendars by account: %w", err)
	}
	defer rows.Close()
	return scanCalendars(rows)
}

func (r *CalendarRepository) FindDefaultForAccount(ctx context.Context, accountID uuid.UUID) (*domain.Calendar, error) {
	row := r.exec(ctx).QueryRow(ctx, calendarSelect+` WHERE account_id = ? AND is_default = 1`, accountID.String())
	return scanCalendar(row)
}

func (r *CalendarRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := r.exec(ctx).Exec(ctx, `DELETE FROM calendars WHERE id = ?`, id.String()); err != nil {
		return fmt.Errorf("delete calendar: %w", err)
	}
	return nil
}

const calendarSelect = `
	SELECT id, account_id, server_url, display_name, color_argb, read_only, visible,
	       is_default, sort_order, sync_token, ctag, created_at, updated_at, version
	FROM calendars`

func scanCalendars(rows database.Rows) ([]*domain.Calendar, error) {
	var out []*domain.Calendar
	for rows.Next() {
		c, err := scanCalendarRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCalendar(row database.Row) (*domain.Calendar, error) {
	c, err := scanCalendarRow(row)
	if err != nil {
		if database.IsNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

func scanCalendarRow(row scannable) (*domain.Calendar, error) {
	var (
		idStr, accountIDStr                  string
		serverURL, displayName               string
		colorARGB                            uint32
		readOnly, visible, isDefault         bool
		sortOrder                            int
		syncToken, ctag                      string
		createdAtStr, updatedAtStr           string
		version                              int
	)
	if err := row.Scan(
		&idStr, &accountIDStr, &serverURL, &displayName, &colorARGB, &readOnly, &visible,
		&isDefault, &sortOrder, &syncToken, &ctag, &createdAtStr, &updatedAtStr, &version,
	); err != nil {
		return nil, fmt.Errorf("scan calendar: %w", err)
	}

	return domain.RehydrateCalendar(
		uuid.MustParse(idStr), uuid.MustParse(accountIDStr), serverURL, displayName, colorARGB,
		readOnly, visible, isDefault, sortOrder, syncToken, ctag,
		parseTime(createdAtStr), parseTime(updatedAtStr), version,
	), nil
}
