package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/verdantfield/api/internal/domain"
	"github.com/verdantfield/api/internal/services"
)

type stubSystemService struct {
	report services.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(ctx context.Context) (services.SystemHealthReport, error) {
	if s.err != nil {
		return services.SystemHealthReport{}, s.err
	}
	return s.report, nil
}

func TestHealthHandlersHealthz(t *testing.T) {
	started := time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)
	now := started.Add(5 * time.Minute)

	handler := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{
			Version:     "1.4.0",
			CommitSHA:   "abc1234",
			Environment: "production",
			StartedAt:   started,
		}),
		WithHealthClock(func() time.Time { return now }),
	)

	rr := httptest.NewRecorder()
	handler.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected status %v", body["status"])
	}
	if body["version"] != "1.4.0" || body["commitSha"] != "abc1234" || body["environment"] != "production" {
		t.Fatalf("unexpected build metadata %v", body)
	}
	if body["uptime"] != "5m0s" {
		t.Fatalf("unexpected uptime %v", body["uptime"])
	}
	if body["timestamp"] != now.Format(time.RFC3339) {
		t.Fatalf("unexpected timestamp %v", body["timestamp"])
	}
}

func TestHealthHandlersReadyzOK(t *testing.T) {
	system := &stubSystemService{
		report: services.SystemHealthReport{
			Status: domain.HealthStatusOK,
			Checks: map[string]domain.SystemHealthCheck{
				"firestore": {Status: domain.HealthStatusOK, Latency: 12 * time.Millisecond},
			},
		},
	}

	handler := NewHealthHandlers(WithHealthSystemService(system))

	rr := httptest.NewRecorder()
	handler.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp readyzResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Fatalf("unexpected status %q", resp.Status)
	}
	check, ok := resp.Checks["firestore"]
	if !ok || check.Status != "ok" || check.Latency != "12ms" {
		t.Fatalf("unexpected firestore check %+v", resp.Checks)
	}
	if len(resp.Details) != 0 {
		t.Fatalf("expected no details, got %+v", resp.Details)
	}
}

func TestHealthHandlersReadyzDegraded(t *testing.T) {
	system := &stubSystemService{
		report: services.SystemHealthReport{
			Status: domain.HealthStatusError,
			Checks: map[string]domain.SystemHealthCheck{
				"firestore": {Status: domain.HealthStatusError, Error: "deadline exceeded"},
				"pubsub":    {Status: domain.HealthStatusOK},
			},
		},
	}

	handler := NewHealthHandlers(WithHealthSystemService(system))

	rr := httptest.NewRecorder()
	handler.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}

	var resp readyzResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "error" {
		t.Fatalf("unexpected status %q", resp.Status)
	}
	if len(resp.Details) != 1 || resp.Details[0] != "firestore: deadline exceeded" {
		t.Fatalf("unexpected details %+v", resp.Details)
	}
}

func TestHealthHandlersReadyzReportFailure(t *testing.T) {
	system := &stubSystemService{err: errors.New("health repo unreachable")}

	handler := NewHealthHandlers(WithHealthSystemService(system))

	rr := httptest.NewRecorder()
	handler.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}

	var resp readyzResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "error" || len(resp.Details) != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestHealthHandlersReadyzWithoutBackend(t *testing.T) {
	handler := NewHealthHandlers()

	rr := httptest.NewRecorder()
	handler.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}
