package core

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type mockHealthProbe struct {
	name     string
	checkErr error
	delay    time.Duration
	panics   bool
}

func (m *mockHealthProbe) Name() string { return m.name }

func (m *mockHealthProbe) Check(ctx context.Context) error {
	if m.panics {
		panic("probe exploded")
	}
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.checkErr
}

type mockPinger struct{ err error }

func (p mockPinger) Ping(context.Context) error { return p.err }

func getHealth(t *testing.T, probes ...HealthProbe) (int, healthResponse) {
	t.Helper()
	srv := newTestServer(t, &mockRunner{})
	srv.HealthProbes = probes

	rec := httptest.NewRecorder()
	srv.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rec.Code, resp
}

func TestHandleHealth_NoProbes(t *testing.T) {
	code, resp := getHealth(t)
	if code != http.StatusOK || resp.Status != "healthy" || resp.Components != nil {
		t.Errorf("got %d %+v", code, resp)
	}
}

func TestHandleHealth_AllHealthy(t *testing.T) {
	code, resp := getHealth(t,
		NewPingProbe("database", mockPinger{}),
		NewPingProbe("redis", mockPinger{}),
	)
	if code != http.StatusOK || resp.Status != "healthy" {
		t.Fatalf("got %d %+v", code, resp)
	}
	if resp.Components["database"].Status != "healthy" || resp.Components["redis"].Status != "healthy" {
		t.Errorf("unexpected components %+v", resp.Components)
	}
}

func TestHandleHealth_FailingProbe(t *testing.T) {
	code, resp := getHealth(t,
		NewPingProbe("database", mockPinger{}),
		NewPingProbe("redis", mockPinger{err: errors.New("dial tcp: connection refused")}),
	)
	if code != http.StatusServiceUnavailable || resp.Status != "unhealthy" {
		t.Fatalf("got %d %+v", code, resp)
	}
	redis := resp.Components["redis"]
	if redis.Status != "unhealthy" || redis.Message != "dial tcp: connection refused" {
		t.Errorf("unexpected redis component %+v", redis)
	}
	if resp.Components["database"].Status != "healthy" {
		t.Error("database should still be healthy")
	}
}

func TestHandleHealth_PanickingProbe(t *testing.T) {
	code, resp := getHealth(t, &mockHealthProbe{name: "database", panics: true})
	if code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", code)
	}
	if resp.Components["database"].Message == "" {
		t.Error("expected panic message")
	}
}

func TestHandleHealth_SlowProbeTimesOut(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the health deadline")
	}
	code, resp := getHealth(t, &mockHealthProbe{name: "database", delay: 10 * time.Second})
	if code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", code)
	}
	if resp.Components["database"].Status != "unhealthy" {
		t.Errorf("unexpected component %+v", resp.Components["database"])
	}
}

func TestHealthRoute_IsPublic(t *testing.T) {
	srv := newTriggerServer(t, &mockRunner{}, "s3cret")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 without a token", rec.Code)
	}
}
