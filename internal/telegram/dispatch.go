package telegram

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

// dispatcher runs jobs in arrival order per key and in parallel across keys.
// A key has a worker goroutine only while it has queued jobs, and at most
// limit jobs run at once overall.
type dispatcher struct {
	sem *semaphore.Weighted

	mu     sync.Mutex
	queues map[int64][]func(context.Context)

	wg sync.WaitGroup
}

func newDispatcher(limit int64) *dispatcher {
	if limit < 1 {
		limit = 1
	}
	return &dispatcher{
		sem:    semaphore.NewWeighted(limit),
		queues: make(map[int64][]func(context.Context)),
	}
}

func (d *dispatcher) dispatch(ctx context.Context, key int64, job func(context.Context)) {
	d.mu.Lock()
	q, busy := d.queues[key]
	d.queues[key] = append(q, job)
	d.mu.Unlock()
	if busy {
		return
	}
	d.wg.Add(1)
	go d.drain(ctx, key)
}

// drain keeps the job being run at the head of the queue so that dispatch
// sees the key as busy until the queue is empty.
func (d *dispatcher) drain(ctx context.Context, key int64) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		job := d.queues[key][0]
		d.mu.Unlock()

		if err := d.sem.Acquire(ctx, 1); err != nil {
			d.mu.Lock()
			dropped := len(d.queues[key])
			delete(d.queues, key)
			d.mu.Unlock()
			log.Warn().Err(err).Int64("user_id", key).Int("dropped", dropped).Msg("dispatcher stopped with queued updates")
			return
		}
		job(ctx)
		d.sem.Release(1)

		d.mu.Lock()
		rest := d.queues[key][1:]
		if len(rest) == 0 {
			delete(d.queues, key)
			d.mu.Unlock()
			return
		}
		d.queues[key] = rest
		d.mu.Unlock()
	}
}

// wait blocks until every queue is drained.
func (d *dispatcher) wait() {
	d.wg.Wait()
}
