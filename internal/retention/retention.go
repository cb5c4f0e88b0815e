// Package retention runs the periodic segment-expiry sweep across every
// stream/topic (spec §4.2 "Retention"), grounded on the teacher's periodic
// background-goroutine pattern (monitorMemory/collectMetrics in server.go):
// a ticker loop selecting on a stop channel so shutdown drains the current
// tick before exiting (spec §5 "Cancellation").
package retention

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/streambroker/internal/workerpool"
)

// TopicSource yields every topic currently known to the system, so the
// sweep doesn't need a direct dependency on the stream/topic packages'
// concrete types (which would create an import cycle with system).
type TopicSource func() []Sweeper

// Sweeper is the subset of topic.Topic retention needs.
type Sweeper interface {
	ApplyRetention(now time.Time) error
}

// Task runs ApplyRetention on every topic on a fixed interval until Stop is
// called.
type Task struct {
	interval time.Duration
	source   TopicSource
	log      zerolog.Logger
	pool     *workerpool.Pool

	stop chan struct{}
	done chan struct{}
}

// New builds a retention task; call Start to begin the ticker loop. Each
// topic's sweep (which walks segment files on disk) runs as a pool task so
// one slow topic's I/O can't delay the others within the same tick.
func New(interval time.Duration, source TopicSource, pool *workerpool.Pool, log zerolog.Logger) *Task {
	return &Task{
		interval: interval,
		source:   source,
		log:      log,
		pool:     pool,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the sweep loop in a new goroutine.
func (t *Task) Start() {
	go t.run()
}

func (t *Task) run() {
	defer close(t.done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.sweepOnce()
		case <-t.stop:
			t.sweepOnce() // drain one more tick before exiting, per spec §5
			return
		}
	}
}

func (t *Task) sweepOnce() {
	now := time.Now()
	var wg sync.WaitGroup
	for _, topic := range t.source() {
		topic := topic
		sweep := func() {
			if err := topic.ApplyRetention(now); err != nil {
				t.log.Error().Err(err).Msg("retention sweep failed for topic")
			}
		}
		if t.pool == nil {
			sweep()
			continue
		}
		wg.Add(1)
		submitted := t.pool.Submit(func() {
			defer wg.Done()
			sweep()
		})
		if !submitted {
			wg.Done()
			sweep()
		}
	}
	wg.Wait()
}

// Stop signals the loop to drain and exit, blocking until it has.
func (t *Task) Stop() {
	close(t.stop)
	<-t.done
}
