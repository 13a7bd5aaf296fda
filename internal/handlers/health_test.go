package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/peakhost/api/internal/domain"
	"github.com/peakhost/api/internal/services"
)

type stubSystemService struct {
	healthFn func(context.Context) (services.SystemHealthReport, error)
}

func (s *stubSystemService) Health(ctx context.Context) (services.SystemHealthReport, error) {
	if s.healthFn != nil {
		return s.healthFn(ctx)
	}
	return services.SystemHealthReport{Status: domain.HealthStatusOK}, nil
}

func TestHealthzReportsBuildMetadata(t *testing.T) {
	started := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	now := started.Add(45 * time.Minute)

	handler := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{
			Version:     "1.4.0",
			CommitSHA:   "abc1234",
			Environment: "staging",
			StartedAt:   started,
		}),
		WithHealthClock(func() time.Time { return now }),
	)

	rec := httptest.NewRecorder()
	handler.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload healthPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Status != domain.HealthStatusOK {
		t.Fatalf("unexpected status %q", payload.Status)
	}
	if payload.Version != "1.4.0" || payload.CommitSHA != "abc1234" || payload.Environment != "staging" {
		t.Fatalf("build metadata missing: %+v", payload)
	}
	if payload.UptimeSec != 45*60 {
		t.Fatalf("unexpected uptime %d", payload.UptimeSec)
	}
}

func TestReadyzReturns503OnErrorStatus(t *testing.T) {
	handler := NewHealthHandlers(
		WithHealthSystemService(&stubSystemService{
			healthFn: func(context.Context) (services.SystemHealthReport, error) {
				return services.SystemHealthReport{
					Status: domain.HealthStatusError,
					Checks: map[string]domain.SystemHealthCheck{
						"firestore": {Status: domain.HealthStatusError, Error: "deadline exceeded"},
					},
				}, nil
			},
		}),
	)

	rec := httptest.NewRecorder()
	handler.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var payload healthPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Checks["firestore"].Error != "deadline exceeded" {
		t.Fatalf("check detail missing: %+v", payload.Checks)
	}
}

func TestReadyzDegradedStaysInRotation(t *testing.T) {
	handler := NewHealthHandlers(
		WithHealthSystemService(&stubSystemService{
			healthFn: func(context.Context) (services.SystemHealthReport, error) {
				return services.SystemHealthReport{Status: domain.HealthStatusDegraded}, nil
			},
		}),
	)

	rec := httptest.NewRecorder()
	handler.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("degraded must stay ready, got %d", rec.Code)
	}
}

func TestReadyzCollectorFailure(t *testing.T) {
	handler := NewHealthHandlers(
		WithHealthSystemService(&stubSystemService{
			healthFn: func(context.Context) (services.SystemHealthReport, error) {
				return services.SystemHealthReport{}, errors.New("collector down")
			},
		}),
	)

	rec := httptest.NewRecorder()
	handler.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestReadyzWithoutSystemServiceIsReady(t *testing.T) {
	handler := NewHealthHandlers()

	rec := httptest.NewRecorder()
	handler.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
