package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/graaaaa/vrclog-lifelog/internal/history"
)

// EnsureLogFile returns the LogFile identified by its creation time,
// creating it if this is the first time the file is seen.
func (s *Store) EnsureLogFile(ctx context.Context, created time.Time) (history.LogFile, error) {
	if created.IsZero() {
		return history.LogFile{}, fmt.Errorf("%w: log file creation time is required", ErrInvalidRecord)
	}

	var lf history.LogFile
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO log_files (created_at) VALUES (?) ON CONFLICT(created_at) DO NOTHING`,
			formatTime(created),
		); err != nil {
			return fmt.Errorf("insert log file: %w", err)
		}

		row := tx.QueryRowContext(ctx,
			`SELECT id, created_at, last_read FROM log_files WHERE created_at = ?`,
			formatTime(created),
		)
		var err error
		lf, err = scanLogFile(row)
		return err
	})
	return lf, err
}

// GetLogFile returns the LogFile with the given id.
func (s *Store) GetLogFile(ctx context.Context, id int64) (history.LogFile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, last_read FROM log_files WHERE id = ?`, id)
	return scanLogFile(row)
}

// SetLastRead persists the watermark of a LogFile.
func (s *Store) SetLastRead(ctx context.Context, id int64, t time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE log_files SET last_read = ? WHERE id = ?`, formatTime(t), id)
	if err != nil {
		return fmt.Errorf("set last_read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("log file %d: %w", id, ErrNotFound)
	}
	return nil
}

func scanLogFile(row *sql.Row) (history.LogFile, error) {
	var (
		lf       history.LogFile
		created  string
		lastRead sql.NullString
	)
	if err := row.Scan(&lf.ID, &created, &lastRead); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return history.LogFile{}, ErrNotFound
		}
		return history.LogFile{}, fmt.Errorf("scan log file: %w", err)
	}

	var err error
	if lf.CreatedAt, err = parseTime(created); err != nil {
		return history.LogFile{}, err
	}
	if lf.LastRead, err = parseNullTime(lastRead); err != nil {
		return history.LogFile{}, err
	}
	return lf, nil
}
