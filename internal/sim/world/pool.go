package world

import (
	"context"
	"sync"
)

// pool runs jobs on a fixed set of goroutines. The queue is sized so that the
// per-category caps keep submit from ever finding it full.
type pool struct {
	jobs chan func()
	wg   sync.WaitGroup
}

func newPool(workers, queue int) *pool {
	if workers <= 0 {
		workers = 1
	}
	p := &pool{jobs: make(chan func(), queue)}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				job()
			}
		}()
	}
	return p
}

// submit never blocks; it reports false when the queue is full.
func (p *pool) submit(job func()) bool {
	select {
	case p.jobs <- job:
		return true
	default:
		return false
	}
}

func (p *pool) close() {
	close(p.jobs)
	p.wg.Wait()
}

// task is an in-flight unit of work whose result is polled, never awaited,
// by the control goroutine.
type task[T any] struct {
	epoch  uint64
	urgent bool

	cancel    context.CancelFunc
	cancelled bool

	done chan T
}

func newTask[T any](epoch uint64) *task[T] {
	return &task[T]{epoch: epoch, done: make(chan T, 1)}
}

func (t *task[T]) poll() (T, bool) {
	select {
	case v := <-t.done:
		return v, true
	default:
		var zero T
		return zero, false
	}
}

func (t *task[T]) abort() {
	if t.cancel != nil {
		t.cancel()
	}
	t.cancelled = true
}
