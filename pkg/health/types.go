// Package health aggregates component checks into one report.
package health

import (
	"context"
	"time"
)

// Status of a component or of the whole process
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// rank orders statuses from best to worst
func (s Status) rank() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Check is the outcome of one component check
type Check struct {
	Status   Status         `json:"status"`
	Message  string         `json:"message,omitempty"`
	Latency  time.Duration  `json:"latency"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Checker checks one component
type Checker interface {
	Name() string
	Check(ctx context.Context) Check
}

// Report is the aggregated health of every registered component
type Report struct {
	Status     Status           `json:"status"`
	Timestamp  time.Time        `json:"timestamp"`
	Components map[string]Check `json:"components,omitempty"`
}

// Healthy reports whether the process can serve requests. Degraded
// optional components do not count against it.
func (r *Report) Healthy() bool {
	return r.Status != StatusUnhealthy
}
