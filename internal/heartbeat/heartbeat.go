// Package heartbeat periodically evicts clients that have gone silent past
// the configured timeout (spec §5 "Heartbeats": "A periodic sweep marks
// clients exceeding heartbeat_timeout as stale and schedules their implicit
// leave from all groups and removal from the table"), grounded on the same
// ticker/stop-channel shape as internal/retention.
package heartbeat

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/streambroker/internal/session"
)

// Sessions is the subset of system.System the sweep needs.
type Sessions interface {
	SweepStale(timeout time.Duration) []*session.Client
	LeaveAllGroups(client *session.Client)
	DeleteClient(address string) (*session.Client, bool)
}

// Task runs the stale-client sweep on a fixed interval until Stop is called.
type Task struct {
	interval time.Duration
	timeout  time.Duration
	sessions Sessions
	log      zerolog.Logger

	stop chan struct{}
	done chan struct{}
}

// New builds a heartbeat sweep task; call Start to begin the ticker loop.
func New(interval, timeout time.Duration, sessions Sessions, log zerolog.Logger) *Task {
	return &Task{
		interval: interval,
		timeout:  timeout,
		sessions: sessions,
		log:      log,
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
			t.sweepOnce()
			return
		}
	}
}

func (t *Task) sweepOnce() {
	stale := t.sessions.SweepStale(t.timeout)
	for _, c := range stale {
		t.sessions.LeaveAllGroups(c)
		t.sessions.DeleteClient(c.Address)
		t.log.Info().Int("client_id", c.ID).Str("address", c.Address).Msg("evicted stale client")
	}
}

// Stop signals the loop to exit and waits for the final sweep to finish.
func (t *Task) Stop() {
	close(t.stop)
	<-t.done
}
