package timescheduler

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/assetvault/custodyd/internal/core/ports"
	"github.com/go-co-op/gocron"
	log "github.com/sirupsen/logrus"
)

type service struct {
	scheduler *gocron.Scheduler
}

func NewScheduler() ports.SchedulerService {
	svc := gocron.NewScheduler(time.UTC)
	return &service{svc}
}

func (s *service) Start() {
	s.scheduler.StartAsync()
}

func (s *service) Stop() {
	s.scheduler.Stop()
}

func (s *service) ScheduleEvery(interval time.Duration, task func()) error {
	if interval <= 0 {
		return fmt.Errorf("invalid interval %s", interval)
	}

	running := &atomic.Bool{}
	_, err := s.scheduler.Every(interval).WaitForSchedule().SingletonMode().Do(func() {
		if !running.CompareAndSwap(false, true) {
			log.Debug("previous run still in progress, skipping")
			return
		}
		defer running.Store(false)
		task()
	})
	return err
}
