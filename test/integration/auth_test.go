//go:build integration

package integration

import (
	"net/http"
	"testing"
)

func TestAuth_HealthNoAuthRequired(t *testing.T) {
	a := NewTestApp(t, WithAuth("admin", "secret123"))

	resp, err := http.Get(a.URL() + "/api/v1/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestAuth_HistoryRequiresAuth(t *testing.T) {
	a := NewTestApp(t, WithAuth("admin", "secret123"))

	for _, path := range []string{"/api/v1/status", "/api/v1/locations", "/api/v1/players", "/api/v1/stream"} {
		resp, err := http.Get(a.URL() + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", path, resp.StatusCode)
		}
	}
}

func TestAuth_Credentials(t *testing.T) {
	a := NewTestApp(t, WithAuth("admin", "secret123"))

	tests := []struct {
		name, user, pass string
		want             int
	}{
		{"valid", "admin", "secret123", http.StatusOK},
		{"wrong password", "admin", "wrong", http.StatusUnauthorized},
		{"wrong user", "root", "secret123", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, a.URL()+"/api/v1/locations", nil)
			req.SetBasicAuth(tt.user, tt.pass)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}
