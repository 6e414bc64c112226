package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kashcal/synccore/internal/calendar/domain"
	"github.com/kashcal/synccore/internal/shared/infrastructure/database"
	"github.com/google/uuid"
)

// AccountRepository implements domain.AccountRepository against SQLite.
type AccountRepository struct {
	conn database.Connection
}

func NewAccountRepository(conn database.Connection) *AccountRepository {
	return &AccountRepository{conn: conn}
}

func (r *AccountRepository) exec(ctx context.Context) database.Executor {
	return database.ExecutorFromContext(ctx, r.conn)
}

func (r *AccountRepository) Save(ctx context.Context, a *domain.Account) error {
	_, err := r.exec(ctx).Exec(ctx, `
		INSERT INTO accounts
			(id, provider, email, display_name, principal_url, calendar_home_url, credential_ref,
			 enabled, last_sync_attempt_at, last_sync_success_at, consecutive_failures,
			 created_at, updated_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			provider = excluded.provider,
			email = excluded.email,
			display_name = excluded.display_name,
			principal_url = excluded.principal_url,
			calendar_home_url = excluded.calendar_home_url,
			credential_ref = excluded.credential_ref,
			enabled = excluded.enabled,
			last_sync_attempt_at = excluded.last_sync_attempt_at,
			last_sync_success_at = excluded.last_sync_success_at,
			consecutive_failures = excluded.consecutive_failures,
			updated_at = excluded.updated_at,
			version = excluded.version`,
		a.ID().String(), a.Provider().String(), a.Email(), a.DisplayName(), a.PrincipalURL(),
		a.CalendarHomeURL(), a.CredentialRef(), a.Enabled(),
		nullTime(a.LastSyncAttemptAt()), nullTime(a.LastSyncSuccessAt()), a.ConsecutiveFailures(),
		formatTime(a.CreatedAt()), formatTime(a.UpdatedAt()), a.Version(),
	)
	if err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	return nil
}

func (r *AccountRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	row := r.exec(ctx).QueryRow(ctx, accountSelect+` WHERE id = ?`, id.String())
	return scanAccount(row)
}

func (r *AccountRepository) FindByProviderAndEmail(ctx context.Context, provider domain.ProviderType, email, calendarHomeURL string) (*domain.Account, error) {
	row := r.exec(ctx).QueryRow(ctx, accountSelect+` WHERE provider = ? AND email = ? AND calendar_home_url = ?`,
		provider.String(), email, calendarHomeURL)
	return scanAccount(row)
}

func (r *AccountRepository) FindAll(ctx context.Context) ([]*domain.Account, error) {
	rows, err := r.exec(ctx).Query(ctx, accountSelect+` ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()
	return scanAccounts(rows)
}

func (r *AccountRepository) FindEnabled(ctx context.Context) ([]*domain.Account, error) {
	rows, err := r.exec(ctx).Query(ctx, accountSelect+` WHERE enabled = 1 ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("query enabled accounts: %w", err)
	}
	defer rows.Close()
	return scanAccounts(rows)
}

func (r *AccountRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := r.exec(ctx).Exec(ctx, `DELETE FROM accounts WHERE id = ?`, id.String()); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return nil
}

const accountSelect = `
	SELECT id, provider, email, display_name, principal_url, calendar_home_url, credential_ref,
	       enabled, last_sync_attempt_at, last_sync_success_at, consecutive_failures,
	       created_at, updated_at, version
	FROM accounts`

// scannable is satisfied by both database.Row and database.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func scanAccounts(rows database.Rows) ([]*domain.Account, error) {
	var out []*domain.Account
	for rows.Next() {
		a, err := scanAccountRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAccount(row database.Row) (*domain.Account, error) {
	a, err := scanAccountRow(row)
	if err != nil {
		if database.IsNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}

func scanAccountRow(row scannable) (*domain.Account, error) {
	var (
		idStr, providerStr                  string
		email, displayName, principalURL    string
		calendarHomeURL, credentialRef      string
		enabled                             bool
		lastSyncAttemptAt, lastSyncSuccessAt sql.NullString
		consecutiveFailures                 int
		createdAtStr, updatedAtStr          string
		version                             int
	)
	if err := row.Scan(
		&idStr, &providerStr, &email, &displayName, &principalURL, &calendarHomeURL, &credentialRef,
		&enabled, &lastSyncAttemptAt, &lastSyncSuccessAt, &consecutiveFailures,
		&createdAtStr, &updatedAtStr, &version,
	); err != nil {
		return nil, fmt.Errorf("scan account: %w", err)
	}

	return domain.RehydrateAccount(
		uuid.MustParse(idStr), domain.ProviderType(providerStr), email, displayName, principalURL,
		calendarHomeURL, credentialRef, enabled,
		timeFromNull(lastSyncAttemptAt), timeFromNull(lastSyncSuccessAt),
		consecutiveFailures, parseTime(createdAtStr), parseTime(updatedAtStr), version,
	), nil
}
