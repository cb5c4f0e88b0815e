// Package workerpool implements a bounded worker pool for blocking
// operations. Its one user is the System's retention sweep, which submits
// each topic's segment deletions as a task; the dispatcher and transports
// do not use it.
//
// Grounded on the teacher's worker_pool.go: a buffered task channel, a
// fixed set of worker goroutines recovering from task panics, and a
// drop-on-full Submit so a stalled downstream never backs up the whole
// pool.
package workerpool

import (
	"sync"

	"github.com/rs/zerolog"
)

// Task is one unit of pool work.
type Task func()

// Pool runs submitted Tasks on a fixed-size set of worker goroutines.
type Pool struct {
	tasks chan Task
	wg    sync.WaitGroup
	log   zerolog.Logger
}

// New starts a pool of workerCount goroutines reading from a queue of
// depth queueDepth.
func New(workerCount, queueDepth int, log zerolog.Logger) *Pool {
	p := &Pool{
		tasks: make(chan Task, queueDepth),
		log:   log,
	}
	p.wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go p.worker(i)
	}
	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for task := range p.tasks {
		p.run(id, task)
	}
}

func (p *Pool) run(id int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Int("worker", id).Interface("panic", r).Msg("worker pool task panicked")
		}
	}()
	task()
}

// Submit enqueues task for execution, dropping it (and logging) if the
// queue is full rather than blocking the caller.
func (p *Pool) Submit(task Task) bool {
	select {
	case p.tasks <- task:
		return true
	default:
		p.log.Warn().Msg("worker pool queue full, dropping task")
		return false
	}
}

// Stop closes the task queue and waits for in-flight tasks to finish.
func (p *Pool) Stop() {
	close(p.tasks)
	p.wg.Wait()
}
