package core

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// healthCheckTimeout bounds all probes together. A probe still running at
// the deadline is reported as timed out.
const healthCheckTimeout = 2 * time.Second

// HealthProbe checks one dependency.
type HealthProbe interface {
	Name() string
	Check(ctx context.Context) error
}

// Pinger is satisfied by *pgxpool.Pool and *cache.RedisReceiptCache.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingProbe adapts a Pinger to HealthProbe.
type PingProbe struct {
	name   string
	pinger Pinger
}

// NewPingProbe names a Pinger for the health report.
func NewPingProbe(name string, p Pinger) *PingProbe {
	return &PingProbe{name: name, pinger: p}
}

func (p *PingProbe) Name() string                    { return p.name }
func (p *PingProbe) Check(ctx context.Context) error { return p.pinger.Ping(ctx) }

type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

// HandleHealth runs every probe concurrently. It answers 200 when all are
// healthy and 503 when any fails, panics or misses the deadline.
// GET /health is not authenticated.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	probes := s.HealthProbes
	if len(probes) == 0 {
		JSON(w, r, http.StatusOK, healthResponse{Status: "healthy"})
		return
	}

	var (
		mu      sync.Mutex
		results = make(map[string]error, len(probes))
		wg      sync.WaitGroup
	)

	for _, probe := range probes {
		wg.Add(1)
		go func(p HealthProbe) {
			defer wg.Done()

			var err error
			func() {
				defer func() {
					if r := recover(); r != nil {
						err = fmt.Errorf("probe panicked: %v", r)
					}
				}()
				err = p.Check(ctx)
			}()

			mu.Lock()
			results[p.Name()] = err
			mu.Unlock()
		}(probe)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}

	mu.Lock()
	defer mu.Unlock()

	resp := healthResponse{
		Status:     "healthy",
		Components: make(map[string]componentStatus, len(probes)),
	}
	for _, probe := range probes {
		name := probe.Name()
		err, finished := results[name]
		switch {
		case !finished:
			resp.Status = "unhealthy"
			resp.Components[name] = componentStatus{Status: "unhealthy", Message: "health check timed out"}
		case err != nil:
			resp.Status = "unhealthy"
			resp.Components[name] = componentStatus{Status: "unhealthy", Message: err.Error()}
		default:
			resp.Components[name] = componentStatus{Status: "healthy"}
		}
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	JSON(w, r, status, resp)
}
