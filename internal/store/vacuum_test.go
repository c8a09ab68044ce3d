package store

import (
	"context"
	"testing"
	"time"
)

func TestVacuumIfNeeded(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		last *time.Time
		want bool
	}{
		{"never vacuumed", nil, true},
		{"31 days ago", ptr(now.Add(-31 * 24 * time.Hour)), true},
		{"yesterday", ptr(now.Add(-24 * time.Hour)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := openTestStore(t)
			defer st.Close()
			st.now = func() time.Time { return now }
			ctx := context.Background()

			if tt.last != nil {
				if err := st.setMetadataTime(ctx, lastVacuumKey, *tt.last); err != nil {
					t.Fatalf("setMetadataTime: %v", err)
				}
			}

			got, err := st.VacuumIfNeeded(ctx)
			if err != nil {
				t.Fatalf("VacuumIfNeeded: %v", err)
			}
			if got != tt.want {
				t.Errorf("vacuumed = %v, want %v", got, tt.want)
			}

			// A run is recorded, so an immediate second call skips.
			if again, _ := st.VacuumIfNeeded(ctx); again {
				t.Error("second call should skip")
			}
		})
	}
}

func TestCursorRoundTrip(t *testing.T) {
	ts := time.Date(2024, 1, 15, 10, 0, 0, 123, time.FixedZone("JST", 9*3600))

	gotT, gotID, err := decodeCursor(EncodeCursor(ts, 42))
	if err != nil {
		t.Fatalf("decodeCursor: %v", err)
	}
	if !gotT.Equal(ts) || gotID != 42 {
		t.Errorf("got (%v, %d)", gotT, gotID)
	}
}

func ptr[T any](v T) *T { return &v }
