package sync

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// transferPool runs a bounded number of independent transfer tasks
// concurrently and reports the first failure, if any, once every
// submitted task has finished.
type transferPool struct {
	group *errgroup.Group
	sem   *semaphore.Weighted
	ctx   context.Context
}

func newTransferPool(ctx context.Context, concurrency int64) *transferPool {
	group, groupCtx := errgroup.WithContext(ctx)

	return &transferPool{
		group: group,
		sem:   semaphore.NewWeighted(concurrency),
		ctx:   groupCtx,
	}
}

// submit queues fn to run as soon as a slot is free. submit itself never
// blocks: the slot is acquired inside the task's own goroutine; fn's error
// (if any) surfaces from wait.
func (p *transferPool) submit(fn func() error) {
	p.group.Go(func() error {
		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			return err
		}
		defer p.sem.Release(1)

		return fn()
	})
}

// wait blocks until every submitted task has finished, returning the
// first error encountered, if any.
func (p *transferPool) wait() error {
	return p.group.Wait()
}
