// Package health aggregates readiness checks over the process dependencies:
// the database, the task queue, the artifact store and the status cache.
package health

import (
	"context"
	"sync"
	"time"
)

// Status represents the health status of a component
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is the outcome of one component check.
type CheckResult struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
}

// Result aggregates all component checks into one readiness verdict.
type Result struct {
	Status   Status        `json:"status"`
	Checks   []CheckResult `json:"checks"`
	Duration time.Duration `json:"duration"`
}

// Checkable is satisfied by the store, queue and cache adapters.
type Checkable interface {
	HealthCheck(ctx context.Context) error
}

type check struct {
	name    string
	target  Checkable
	timeout time.Duration
}

// Registry holds named dependency checks and runs them concurrently.
type Registry struct {
	mu     sync.RWMutex
	checks []check
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a dependency check. A zero timeout defaults to 5 seconds.
func (r *Registry) Register(name string, target Checkable, timeout time.Duration) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks = append(r.checks, check{name: name, target: target, timeout: timeout})
}

// Check runs every registered check concurrently. The overall status is
// healthy only when every component is.
func (r *Registry) Check(ctx context.Context) Result {
	r.mu.RLock()
	checks := make([]check, len(r.checks))
	copy(checks, r.checks)
	r.mu.RUnlock()

	start := time.Now()
	results := make([]CheckResult, len(checks))

	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func(i int, c check) {
			defer wg.Done()
			results[i] = runCheck(ctx, c)
		}(i, c)
	}
	wg.Wait()

	overall := StatusHealthy
	for _, res := range results {
		if res.Status != StatusHealthy {
			overall = StatusUnhealthy
		}
	}

	return Result{
		Status:   overall,
		Checks:   results,
		Duration: time.Since(start),
	}
}

func runCheck(ctx context.Context, c check) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := c.target.HealthCheck(checkCtx)
	result := CheckResult{
		Name:      c.name,
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Duration:  time.Since(start),
	}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
	}
	return result
}
