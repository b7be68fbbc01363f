package health

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const defaultCheckTimeout = 5 * time.Second

type registration struct {
	checker  Checker
	critical bool
}

// Registry runs registered checkers concurrently
type Registry struct {
	mu      sync.RWMutex
	entries []registration
	timeout time.Duration
	now     func() time.Time
}

// NewRegistry creates a registry; timeout bounds each check
func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	return &Registry{timeout: timeout, now: time.Now}
}

// Register adds a checker. A failing critical checker makes the process
// unhealthy; a failing optional one only degrades it.
func (r *Registry) Register(c Checker, critical bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, registration{checker: c, critical: critical})
}

// Run executes every check and aggregates the worst status
func (r *Registry) Run(ctx context.Context) *Report {
	r.mu.RLock()
	entries := append([]registration(nil), r.entries...)
	r.mu.RUnlock()

	report := &Report{
		Status:     StatusHealthy,
		Timestamp:  r.now().UTC(),
		Components: make(map[string]Check, len(entries)),
	}

	results := make([]Check, len(entries))
	var wg sync.WaitGroup
	for i, e := range entries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = r.run(ctx, e.checker)
		}()
	}
	wg.Wait()

	for i, e := range entries {
		check := results[i]
		report.Components[e.checker.Name()] = check

		status := check.Status
		if !e.critical && status == StatusUnhealthy {
			status = StatusDegraded
		}
		if status.rank() > report.Status.rank() {
			report.Status = status
		}
	}
	return report
}

func (r *Registry) run(ctx context.Context, c Checker) (check Check) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			check = Check{Status: StatusUnhealthy, Message: fmt.Sprintf("check panicked: %v", p)}
		}
		check.Latency = time.Since(start)
	}()
	return c.Check(ctx)
}
