// Package routingpool runs a fixed number of identical workers. Each worker
// owns its loop (usually reading from a shared channel) and returns when its
// input is exhausted or the context is cancelled, so the pool size is a hard
// cap on concurrency.
// NOTE: a panicking worker is not restarted
package routingpool

import (
	"context"
	"sync"
)

type SimpleRoutingPool struct {
	wg sync.WaitGroup

	ctx      context.Context
	size     uint32
	workerFn func(context.Context)
}

func NewSimpleRoutingPool(ctx context.Context, size uint32, workerFn func(context.Context)) RoutingPool {
	if size == 0 {
		size = 1
	}
	return &SimpleRoutingPool{
		ctx:      ctx,
		size:     size,
		workerFn: workerFn,
	}
}

func (s *SimpleRoutingPool) Start() error {
	var i uint32
	for ; i != s.size; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.workerFn(s.ctx)
		}()
	}
	return nil
}

func (s *SimpleRoutingPool) Stop() {
	s.wg.Wait()
}

// Run feeds jobs to size workers calling fn for each one and returns after
// all of them were handled or ctx was cancelled. Jobs not yet picked up when
// ctx is cancelled are skipped.
func Run[T any](ctx context.Context, size uint32, jobs []T, fn func(context.Context, T)) {
	queue := make(chan T)
	pool := NewSimpleRoutingPool(ctx, size, func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case job, ok := <-queue:
				if !ok {
					return
				}
				fn(ctx, job)
			}
		}
	})
	_ = pool.Start()

	func() {
		defer close(queue)
		for _, job := range jobs {
			select {
			case <-ctx.Done():
				return
			case queue <- job:
			}
		}
	}()

	pool.Stop()
}
