// Package health exposes run-scoped readiness probes next to the metrics
// endpoint. A probe checks one external dependency of the pipeline, such as
// the Kafka broker or the scratch directory, and the Checker fans all probes
// out concurrently to build one report per request.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Status is the health state of a dependency or the run overall.
type Status string

const (
	StatusUp   Status = "up"
	StatusDown Status = "down"
)

// Probe checks one dependency. A nil error means the dependency is usable.
type Probe func(ctx context.Context) error

// ProbeResult is the outcome of one probe within a report.
type ProbeResult struct {
	Status  Status `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency"`
}

// Report aggregates every probe outcome for the run serving it.
type Report struct {
	Status    Status                 `json:"status"`
	RunID     string                 `json:"run_id"`
	Probes    map[string]ProbeResult `json:"probes"`
	Timestamp string                 `json:"timestamp"`
}

// Checker holds the registered probes for one run.
type Checker struct {
	runID  string
	probes map[string]Probe
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewChecker creates a Checker whose reports carry the given run ID.
func NewChecker(runID string) *Checker {
	return &Checker{
		runID:  runID,
		probes: make(map[string]Probe),
		logger: slog.Default().With("component", "health", "run_id", runID),
	}
}

// Register adds a named probe.
func (c *Checker) Register(name string, p Probe) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes[name] = p
}

// Run executes all registered probes concurrently and returns an aggregated
// Report. The report is down if any probe fails.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	probes := make(map[string]Probe, len(c.probes))
	for name, p := range c.probes {
		probes[name] = p
	}
	c.mu.RUnlock()

	report := Report{
		Status:    StatusUp,
		RunID:     c.runID,
		Probes:    make(map[string]ProbeResult, len(probes)),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex

	for name, p := range probes {
		wg.Add(1)
		go func(n string, probe Probe) {
			defer wg.Done()
			start := time.Now()
			err := probe(ctx)
			result := ProbeResult{
				Status:  StatusUp,
				Latency: time.Since(start).Round(time.Millisecond).String(),
			}
			if err != nil {
				result.Status = StatusDown
				result.Error = err.Error()
			}
			mu.Lock()
			report.Probes[n] = result
			mu.Unlock()
		}(name, p)
	}
	wg.Wait()

	for name, res := range report.Probes {
		if res.Status == StatusDown {
			c.logger.Warn("dependency unhealthy", "name", name, "error", res.Error)
			report.Status = StatusDown
		}
	}
	return report
}

// LiveHandler returns an HTTP handler reporting process liveness.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "alive",
			"run_id": c.runID,
		})
	}
}

// ReadyHandler returns an HTTP handler that runs every registered probe and
// reports 503 if any dependency is down.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		report := c.Run(ctx)
		w.Header().Set("Content-Type", "application/json")
		if report.Status == StatusUp {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(report)
	}
}
