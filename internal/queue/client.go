package queue

import (
	"context"
	"sync"
)

// Client sends jobs to a queue backend.
type Client interface {
	Send(ctx context.Context, job Job) error
}

// MemoryClient records jobs in memory. Used in dev and tests.
type MemoryClient struct {
	mu   sync.Mutex
	jobs []Job
}

// Send appends the job after validating it.
func (m *MemoryClient) Send(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := job.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, job)
	return nil
}

// Sent returns a copy of the jobs sent so far.
func (m *MemoryClient) Sent() []Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Job(nil), m.jobs...)
}
