package logline

import (
	"errors"
	"testing"
	"time"
)

func TestParse_Valid(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		severity Severity
		time     time.Time
		payload  string
	}{
		{
			name:     "debug player join",
			line:     "2025.02.20 07:30:40 Debug      -  [Behaviour] OnPlayerJoined hoge (usr_7c61377d-df7c-4cbe-a486-c8caad0d22de)",
			severity: SeverityDebug,
			time:     time.Date(2025, 2, 20, 7, 30, 40, 0, time.UTC),
			payload:  "[Behaviour] OnPlayerJoined hoge (usr_7c61377d-df7c-4cbe-a486-c8caad0d22de)",
		},
		{
			name:     "log level",
			line:     "2024.01.15 10:30:45 Log        -  [Behaviour] Joining or Creating Room: Gallery",
			severity: SeverityLog,
			time:     time.Date(2024, 1, 15, 10, 30, 45, 0, time.UTC),
			payload:  "[Behaviour] Joining or Creating Room: Gallery",
		},
		{
			name:     "warning with CRLF",
			line:     "2024.01.15 10:30:45 Warning    -  something odd\r\n",
			severity: SeverityWarning,
			time:     time.Date(2024, 1, 15, 10, 30, 45, 0, time.UTC),
			payload:  "something odd",
		},
		{
			name:     "unknown severity",
			line:     "2024.01.15 10:30:45 Verbose    -  hello",
			severity: SeverityUnknown,
			time:     time.Date(2024, 1, 15, 10, 30, 45, 0, time.UTC),
			payload:  "hello",
		},
		{
			name:     "payload keeps inner dashes",
			line:     "2024.01.15 10:30:45 Error      -  a - b - c",
			severity: SeverityError,
			time:     time.Date(2024, 1, 15, 10, 30, 45, 0, time.UTC),
			payload:  "a - b - c",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, ok, err := Parse(tt.line, time.UTC)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !ok {
				t.Fatal("expected match")
			}
			if rec.Severity != tt.severity {
				t.Errorf("Severity = %v, want %v", rec.Severity, tt.severity)
			}
			if !rec.Time.Equal(tt.time) {
				t.Errorf("Time = %v, want %v", rec.Time, tt.time)
			}
			if rec.Payload != tt.payload {
				t.Errorf("Payload = %q, want %q", rec.Payload, tt.payload)
			}
		})
	}
}

func TestParse_NoMatch(t *testing.T) {
	lines := []string{
		"",
		"   at UnityEngine.Debug.Log (System.Object message)",
		"Continuation of a multi-line entry",
		"2024-01-15 10:30:45 Log - wrong date separator",
	}

	for _, line := range lines {
		_, ok, err := Parse(line, time.UTC)
		if err != nil {
			t.Errorf("Parse(%q) error = %v, want nil", line, err)
		}
		if ok {
			t.Errorf("Parse(%q) matched, want no match", line)
		}
	}
}

func TestParse_BadTimestampIsFatal(t *testing.T) {
	_, ok, err := Parse("2024.13.45 10:30:45 Log        -  hello", time.UTC)
	if ok {
		t.Error("expected ok=false")
	}
	if !errors.Is(err, ErrFormat) {
		t.Fatalf("error = %v, want ErrFormat", err)
	}
	var fe *FormatError
	if !errors.As(err, &fe) {
		t.Fatal("expected *FormatError")
	}
	if fe.Line == "" {
		t.Error("FormatError.Line should carry the offending line")
	}
}

func TestParse_DefaultLocation(t *testing.T) {
	rec, ok, err := Parse("2024.01.15 10:30:45 Log        -  hello", nil)
	if err != nil || !ok {
		t.Fatalf("Parse: ok=%v err=%v", ok, err)
	}
	if rec.Time.Location() != time.Local {
		t.Errorf("location = %v, want Local", rec.Time.Location())
	}
}

func TestParseSeverity(t *testing.T) {
	tests := map[string]Severity{
		"Debug":     SeverityDebug,
		"log":       SeverityLog,
		"WARNING":   SeverityWarning,
		"Error":     SeverityError,
		"Exception": SeverityException,
		"":          SeverityUnknown,
		"Trace":     SeverityUnknown,
	}
	for token, want := range tests {
		if got := ParseSeverity(token); got != want {
			t.Errorf("ParseSeverity(%q) = %v, want %v", token, got, want)
		}
	}
}
