package utils

import (
	"context"
	"errors"
	"testing"
)

func TestHealthMonitorCheck(t *testing.T) {
	redisUp := true
	m := NewHealthMonitor(map[string]HealthCheck{
		"mongo": func(context.Context) error { return nil },
		"redis": func(context.Context) error {
			if redisUp {
				return nil
			}
			return errors.New("connection refused")
		},
	})

	if s := m.Check(context.Background()); !s.Healthy() || len(s.Checks) != 2 {
		t.Fatalf("expected healthy snapshot, got %+v", s)
	}

	redisUp = false
	m.Check(context.Background())
	s := m.GetHealthStatus()
	if s.Healthy() || s.Checks["redis"] || !s.Checks["mongo"] {
		t.Fatalf("expected redis down, got %+v", s)
	}
	if s.CheckedAt.IsZero() {
		t.Fatal("snapshot not timestamped")
	}
}
