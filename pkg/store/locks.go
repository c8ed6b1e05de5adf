package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/sekha-ai/sekha/internal/sekherr"
)

// AcquireJobLock attempts to take the named advisory lock until expiresAt,
// identifying the holder for observability. It succeeds only if no lock row
// exists or the existing one has already expired, so exactly one scheduler
// process runs a given background job at a time (SPEC_FULL.md §3.13,
// grounded on the teacher's single-writer discipline applied to job
// coordination instead of table writes).
func (s *Store) AcquireJobLock(ctx context.Context, name, holder string, expiresAt time.Time) (bool, error) {
	const op = "store.acquire_job_lock"
	acquired := false
	err := s.withTx(ctx, op, func(tx *sql.Tx) error {
		var lockedUntil string
		err := tx.QueryRowContext(ctx, `SELECT locked_until FROM job_locks WHERE name = ?`, name).Scan(&lockedUntil)
		switch {
		case err == sql.ErrNoRows:
			// no row at all: take it unconditionally
		case err != nil:
			return err
		default:
			until, perr := parseTime(lockedUntil)
			if perr != nil {
				return perr
			}
			if until.After(time.Now().UTC()) {
				return nil // still held by someone else
			}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO job_locks (name, locked_until, holder) VALUES (?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET locked_until = excluded.locked_until, holder = excluded.holder`,
			name, formatTime(expiresAt), holder,
		)
		if err != nil {
			return err
		}
		acquired = true
		return nil
	})
	if err != nil {
		return false, sekherr.New(sekherr.KindInternal, op, err)
	}
	return acquired, nil
}

// ReleaseJobLock frees the named lock early, letting another scheduler tick
// (in-process or a future multi-instance deployment) pick up the job sooner.
func (s *Store) ReleaseJobLock(ctx context.Context, name, holder string) error {
	const op = "store.release_job_lock"
	return s.withTx(ctx, op, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM job_locks WHERE name = ? AND holder = ?`, name, holder)
		return err
	})
}
