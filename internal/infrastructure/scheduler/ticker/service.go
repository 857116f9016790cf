package tickerscheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/assetvault/custodyd/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

type job struct {
	interval time.Duration
	task     func()
}

type service struct {
	lock    sync.Locker
	jobs    []job
	started bool
	stopCh  chan struct{}
	wg      *sync.WaitGroup
}

// NewScheduler runs every task on its own ticker. Runs never overlap since each
// ticker is consumed by a single goroutine.
func NewScheduler() ports.SchedulerService {
	return &service{
		lock:   &sync.Mutex{},
		jobs:   make([]job, 0),
		stopCh: make(chan struct{}),
		wg:     &sync.WaitGroup{},
	}
}

func (s *service) Start() {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.started {
		return
	}
	s.started = true
	for _, j := range s.jobs {
		s.run(j)
	}
}

func (s *service) Stop() {
	s.lock.Lock()
	if !s.started {
		s.lock.Unlock()
		return
	}
	s.started = false
	close(s.stopCh)
	s.lock.Unlock()

	s.wg.Wait()
}

func (s *service) ScheduleEvery(interval time.Duration, task func()) error {
	if interval <= 0 {
		return fmt.Errorf("invalid interval %s", interval)
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	j := job{interval, task}
	s.jobs = append(s.jobs, j)
	if s.started {
		s.run(j)
	}
	return nil
}

func (s *service) run(j job) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				// a slow run makes the ticker drop the ticks it missed.
				j.task()
				log.Tracef("scheduled task with interval %s done", j.interval)
			}
		}
	}()
}
