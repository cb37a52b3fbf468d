package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vietddude/chainguard/internal/core/domain"
	"github.com/vietddude/chainguard/internal/errorlog"
	"github.com/vietddude/chainguard/internal/infra/storage/memory"
	"github.com/vietddude/chainguard/internal/monitor"
	"github.com/vietddude/chainguard/internal/resilience/breaker"
)

type stubChannel struct {
	state    domain.ConnectionState
	attempts int
	gaveUp   bool
}

func (s *stubChannel) State() domain.ConnectionState { return s.state }
func (s *stubChannel) ReconnectAttempts() int        { return s.attempts }
func (s *stubChannel) GaveUp() bool                  { return s.gaveUp }

type stubProviders []monitor.ProviderSnapshot

func (s stubProviders) Snapshot() []monitor.ProviderSnapshot { return s }

func serve(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeStatus(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body["status"]
}

func TestServer_HealthStatus(t *testing.T) {
	connected := &stubChannel{state: domain.ConnectionConnected}
	closed := stubProviders{{Name: "a", BreakerState: breaker.StateClosed}, {Name: "b", BreakerState: breaker.StateClosed}}

	tests := []struct {
		name      string
		channel   *stubChannel
		providers stubProviders
		wantCode  int
		want      SystemStatus
	}{
		{"all healthy", connected, closed, http.StatusOK, StatusHealthy},
		{"channel reconnecting", &stubChannel{state: domain.ConnectionDisconnected, attempts: 2}, closed, http.StatusOK, StatusDegraded},
		{"channel gave up", &stubChannel{state: domain.ConnectionDisconnected, attempts: 5, gaveUp: true}, closed, http.StatusServiceUnavailable, StatusCritical},
		{"one provider failing", connected, stubProviders{{Name: "a", BreakerState: breaker.StateClosed, LastError: "timeout"}, {Name: "b", BreakerState: breaker.StateClosed}}, http.StatusOK, StatusDegraded},
		{"every breaker open", connected, stubProviders{{Name: "a", BreakerState: breaker.StateOpen}, {Name: "b", BreakerState: breaker.StateOpen}}, http.StatusServiceUnavailable, StatusCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(NewMonitor(tt.channel, tt.providers, nil, 0), nil, 0)

			rec := serve(t, s.Handler(), http.MethodGet, "/health")
			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			if got := decodeStatus(t, rec); got != string(tt.want) {
				t.Errorf("status = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestServer_Detailed(t *testing.T) {
	ch := &stubChannel{state: domain.ConnectionConnected}
	providers := stubProviders{{Name: "alchemy", LatestBlock: 42, BreakerState: breaker.StateClosed}}
	s := NewServer(NewMonitor(ch, providers, nil, 0), nil, 0)

	rec := serve(t, s.Handler(), http.MethodGet, "/health/detailed")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}

	var report HealthReport
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.Channel == nil || report.Channel.State != "connected" {
		t.Errorf("unexpected channel %+v", report.Channel)
	}
	if len(report.Providers) != 1 || report.Providers[0].LatestBlock != 42 {
		t.Errorf("unexpected providers %+v", report.Providers)
	}
	if report.Errors != nil {
		t.Error("errors section should be omitted without a source")
	}
}

func TestServer_ErrorEndpoints(t *testing.T) {
	ctx := context.Background()
	logger := errorlog.New(memory.NewErrorStore())
	logger.LogError(ctx, errors.New("network unreachable"), nil)
	logger.LogError(ctx, errors.New("fatal: wallet keystore corrupted"), nil)

	s := NewServer(NewMonitor(nil, nil, logger, 0), logger, 0)
	h := s.Handler()

	rec := serve(t, h, http.MethodGet, "/health")
	if got := decodeStatus(t, rec); got != string(StatusDegraded) {
		t.Errorf("critical errors should degrade health, got %s", got)
	}

	rec = serve(t, h, http.MethodGet, "/errors/stats")
	var stats domain.ErrorStats
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.TotalErrors != 2 || stats.ErrorsByCategory[domain.CategoryNetwork] != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}

	rec = serve(t, h, http.MethodGet, "/errors/export")
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Disposition") == "" {
		t.Errorf("export code=%d headers=%v", rec.Code, rec.Header())
	}
	if !json.Valid(rec.Body.Bytes()) {
		t.Error("export is not valid JSON")
	}

	rec = serve(t, h, http.MethodDelete, "/errors")
	if rec.Code != http.StatusNoContent {
		t.Errorf("clear code = %d", rec.Code)
	}
	if got := logger.Stats(ctx).TotalErrors; got != 0 {
		t.Errorf("TotalErrors after clear = %d", got)
	}

	rec = serve(t, h, http.MethodPost, "/errors/stats")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /errors/stats code = %d, want 405", rec.Code)
	}
}

func TestServer_ErrorEndpointsDisabled(t *testing.T) {
	s := NewServer(NewMonitor(nil, nil, nil, 0), nil, 0)
	if rec := serve(t, s.Handler(), http.MethodGet, "/errors/stats"); rec.Code != http.StatusNotFound {
		t.Errorf("code = %d, want 404", rec.Code)
	}
}

func TestMonitor_CachesReport(t *testing.T) {
	ch := &stubChannel{state: domain.ConnectionConnected}
	m := NewMonitor(ch, nil, nil, time.Hour)

	first := m.CheckHealth(context.Background())
	ch.gaveUp = true
	second := m.CheckHealth(context.Background())

	if first.SystemStatus != StatusHealthy || second.SystemStatus != StatusHealthy {
		t.Errorf("expected cached healthy report, got %s then %s", first.SystemStatus, second.SystemStatus)
	}
}
