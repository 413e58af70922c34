package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetSyncCursor returns the last successful sync time for an account folder.
// ok is false when the folder has never been synced.
func (s *SQLStore) GetSyncCursor(
	ctx context.Context,
	accountID, folder string,
) (time.Time, bool, error) {
	var at time.Time
	err := s.db.GetContext(ctx, &at, s.q(
		"SELECT last_synced_at FROM sync_cursors WHERE account_id = ? AND folder = ?",
	), accountID, folder)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("reading sync cursor %s/%s: %w", accountID, folder, err)
	}
	return at.UTC(), true, nil
}

// SetSyncCursor records the time of the last successful sync.
func (s *SQLStore) SetSyncCursor(
	ctx context.Context,
	accountID, folder string,
	at time.Time,
) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO sync_cursors (account_id, folder, last_synced_at)
		VALUES (?, ?, ?)
		ON CONFLICT (account_id, folder) DO UPDATE SET
			last_synced_at = excluded.last_synced_at`),
		accountID, folder, at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("writing sync cursor %s/%s: %w", accountID, folder, err)
	}
	return nil
}

// AcquireClaim inserts a lease row for key. An existing row is taken over
// only when it has expired.
func (s *SQLStore) AcquireClaim(
	ctx context.Context,
	key, holder string,
	now, expiresAt time.Time,
) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO claims (claim_key, holder, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT (claim_key) DO UPDATE SET
			holder = excluded.holder,
			expires_at = excluded.expires_at
		WHERE claims.expires_at < ?`),
		key, holder, expiresAt.UTC(), now.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("acquiring claim %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading rows affected: %w", err)
	}
	return n > 0, nil
}

// ReleaseClaim drops the lease if holder still owns it.
func (s *SQLStore) ReleaseClaim(ctx context.Context, key, holder string) error {
	if _, err := s.db.ExecContext(ctx, s.q(
		"DELETE FROM claims WHERE claim_key = ? AND holder = ?",
	), key, holder); err != nil {
		return fmt.Errorf("releasing claim %s: %w", key, err)
	}
	return nil
}
