// Package app provides application use cases.
package app

import "context"

// HealthUsecase defines the health check use case.
type HealthUsecase interface {
	Handle(ctx context.Context) (HealthResult, error)
}

// HealthResult represents the health check response.
type HealthResult struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Database string `json:"database"`
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthService implements HealthUsecase.
type HealthService struct {
	Version string
	DB      Pinger
}

// Handle returns the current health status. An unreachable database
// degrades the status without failing the request.
func (s HealthService) Handle(ctx context.Context) (HealthResult, error) {
	res := HealthResult{
		Status:   "ok",
		Version:  s.Version,
		Database: "ok",
	}
	if s.DB == nil {
		res.Database = "unknown"
		return res, nil
	}
	if err := s.DB.Ping(ctx); err != nil {
		res.Status = "degraded"
		res.Database = "unavailable"
	}
	return res, nil
}
