package workerpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"docverify/internal/shared/telemetry"
)

// Pool runs submitted jobs with at most Size running at once.
type Pool struct {
	size int64
	sem  *semaphore.Weighted
	wg   sync.WaitGroup
}

// New builds a pool. Sizes below one are treated as one.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		size: int64(size),
		sem:  semaphore.NewWeighted(int64(size)),
	}
}

// Size returns the concurrency bound.
func (p *Pool) Size() int {
	return int(p.size)
}

// Submit blocks until a slot is free, then runs fn in its own goroutine. It
// returns ctx.Err() if the context ends before a slot frees up.
func (p *Pool) Submit(ctx context.Context, fn func()) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				telemetry.Error("workerpool.panic", map[string]any{"error": fmt.Sprint(r)})
			}
		}()
		fn()
	}()
	return nil
}

// Wait blocks until every submitted job returns or timeout passes. It reports
// whether all jobs finished.
func (p *Pool) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	if timeout <= 0 {
		<-done
		return true
	}
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
