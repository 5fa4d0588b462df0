package handlers

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	domain "github.com/verdantfield/api/internal/domain"
	"github.com/verdantfield/api/internal/services"
)

// HealthHandlers serves the liveness and readiness probes. Healthz reports
// process metadata only; Readyz consults the system service, which probes
// Firestore and the other downstream dependencies.
type HealthHandlers struct {
	system services.SystemService
	build  services.BuildInfo
	clock  func() time.Time
}

// HealthOption customises the health handlers.
type HealthOption func(*HealthHandlers)

// NewHealthHandlers constructs probe handlers with optional build metadata
// and a readiness backend.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{clock: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.clock()
	}
	return h
}

// WithHealthSystemService wires the readiness backend.
func WithHealthSystemService(system services.SystemService) HealthOption {
	return func(h *HealthHandlers) {
		h.system = system
	}
}

// WithHealthBuildInfo attaches version metadata to probe payloads.
func WithHealthBuildInfo(build services.BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = build
	}
}

// WithHealthClock overrides the time source.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// Healthz answers liveness probes. It never touches downstream dependencies:
// a process that can serve this response is alive.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.clock().UTC()
	payload := map[string]any{
		"status":    string(domain.HealthStatusOK),
		"timestamp": now.Format(time.RFC3339),
	}
	if h.build.Version != "" {
		payload["version"] = h.build.Version
	}
	if h.build.CommitSHA != "" {
		payload["commitSha"] = h.build.CommitSHA
	}
	if h.build.Environment != "" {
		payload["environment"] = h.build.Environment
	}
	if !h.build.StartedAt.IsZero() {
		payload["uptime"] = now.Sub(h.build.StartedAt).String()
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

type readyzCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

type readyzResponse struct {
	Status  string                 `json:"status"`
	Checks  map[string]readyzCheck `json:"checks"`
	Details []string               `json:"details"`
}

// Readyz answers readiness probes by collecting the dependency health
// report. Anything other than an all-ok report returns 503 so the load
// balancer drains the instance.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.system == nil {
		// No backend wired yet; readiness degrades to liveness.
		h.Healthz(w, r)
		return
	}

	report, err := h.system.HealthReport(r.Context())
	if err != nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, readyzResponse{
			Status:  string(domain.HealthStatusError),
			Checks:  map[string]readyzCheck{},
			Details: []string{err.Error()},
		})
		return
	}

	resp := readyzResponse{
		Status:  string(report.Status),
		Checks:  make(map[string]readyzCheck, len(report.Checks)),
		Details: []string{},
	}
	for name, check := range report.Checks {
		entry := readyzCheck{Status: string(check.Status)}
		if check.Latency > 0 {
			entry.Latency = check.Latency.String()
		}
		if check.Error != "" {
			entry.Error = check.Error
			resp.Details = append(resp.Details, fmt.Sprintf("%s: %s", name, check.Error))
		}
		resp.Checks[name] = entry
	}
	sort.Strings(resp.Details)

	status := http.StatusOK
	if report.Status != domain.HealthStatusOK {
		status = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, status, resp)
}
