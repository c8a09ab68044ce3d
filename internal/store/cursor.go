package store

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// cursorSep separates the join time from the row id in a decoded cursor.
const cursorSep = "|"

// EncodeCursor returns the opaque page cursor for the row (t, id): the
// fixed-width timestamp and id, base64url without padding.
func EncodeCursor(t time.Time, id int64) string {
	raw := formatTime(t) + cursorSep + strconv.FormatInt(id, 10)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// decodeCursor reverses EncodeCursor. Every failure wraps ErrInvalidCursor.
func decodeCursor(cur string) (time.Time, int64, error) {
	invalid := func(what string) (time.Time, int64, error) {
		return time.Time{}, 0, fmt.Errorf("%w: %s", ErrInvalidCursor, what)
	}

	raw, err := base64.RawURLEncoding.DecodeString(cur)
	if err != nil {
		return invalid("not base64url")
	}
	ts, idStr, ok := strings.Cut(string(raw), cursorSep)
	if !ok {
		return invalid("no separator")
	}
	t, err := time.Parse(TimeFormat, ts)
	if err != nil {
		return invalid("bad timestamp")
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id < 1 {
		return invalid("bad id")
	}
	return t, id, nil
}
