package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// InsertParseFailure keeps a line whose header could not be parsed so it can
// be inspected later. The same line text is stored once, which keeps replays
// of a log file from piling up duplicates. It reports whether a row was added.
func (s *Store) InsertParseFailure(ctx context.Context, rawLine, errorMsg string) (bool, error) {
	if rawLine == "" {
		return false, fmt.Errorf("%w: empty parse failure line", ErrInvalidRecord)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO parse_failures (ts, raw_line, error_msg, dedupe_key) VALUES (?, ?, ?, ?)
		 ON CONFLICT(dedupe_key) DO NOTHING`,
		formatTime(s.now()), rawLine, errorMsg, sha256Hex(rawLine))
	if err != nil {
		return false, fmt.Errorf("record parse failure: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record parse failure: %w", err)
	}
	return n == 1, nil
}

// CountParseFailures returns how many distinct malformed lines were seen.
func (s *Store) CountParseFailures(ctx context.Context) (n int64, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM parse_failures`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count parse failures: %w", err)
	}
	return n, nil
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
