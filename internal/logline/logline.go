// Package logline parses the header of a single VRChat log line.
package logline

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// TimeLayout is the producer's fixed "date space time" header format.
const TimeLayout = "2006.01.02 15:04:05"

// ErrFormat is returned when a line matches the header grammar but its
// timestamp cannot be parsed. Callers should treat it as fatal for the file.
var ErrFormat = errors.New("log format violation")

// Severity is the level token written after the timestamp.
type Severity int

// Severity constants.
const (
	SeverityUnknown Severity = iota
	SeverityDebug
	SeverityLog
	SeverityWarning
	SeverityError
	SeverityException
)

// String returns the producer's spelling of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "Debug"
	case SeverityLog:
		return "Log"
	case SeverityWarning:
		return "Warning"
	case SeverityError:
		return "Error"
	case SeverityException:
		return "Exception"
	default:
		return "Unknown"
	}
}

// ParseSeverity maps a severity token to a Severity, case-insensitively.
func ParseSeverity(token string) Severity {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "debug":
		return SeverityDebug
	case "log":
		return SeverityLog
	case "warning":
		return SeverityWarning
	case "error":
		return SeverityError
	case "exception":
		return SeverityException
	default:
		return SeverityUnknown
	}
}

// Record is one parsed log line.
type Record struct {
	Time     time.Time
	Severity Severity
	Payload  string
}

// FormatError reports a header whose timestamp failed to parse.
type FormatError struct {
	Line string
	Err  error
}

// Error implements the error interface.
func (e *FormatError) Error() string {
	return fmt.Sprintf("%v: %v", ErrFormat, e.Err)
}

// Is makes errors.Is(err, ErrFormat) match.
func (e *FormatError) Is(target error) bool {
	return target == ErrFormat
}

// Unwrap returns the underlying time parse error.
func (e *FormatError) Unwrap() error {
	return e.Err
}

var headerPattern = regexp.MustCompile(`^\s*(\d{4}\.\d{2}\.\d{2} \d{2}:\d{2}:\d{2}) ([^-]*?)\s*-\s*(.*)$`)

// Parse extracts (timestamp, severity, payload) from line.
// Lines that do not start with a header (continuations of multi-line
// entries, blank lines) return ok=false with a nil error.
// Timestamps are interpreted in loc; nil means time.Local.
func Parse(line string, loc *time.Location) (rec Record, ok bool, err error) {
	line = strings.TrimRight(line, "\r\n")
	m := headerPattern.FindStringSubmatch(line)
	if m == nil {
		return Record{}, false, nil
	}

	if loc == nil {
		loc = time.Local
	}
	ts, err := time.ParseInLocation(TimeLayout, m[1], loc)
	if err != nil {
		return Record{}, false, &FormatError{Line: line, Err: err}
	}

	return Record{
		Time:     ts,
		Severity: ParseSeverity(m[2]),
		Payload:  m[3],
	}, true, nil
}
