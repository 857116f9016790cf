package ports

import "time"

type SchedulerService interface {
	Start()
	Stop()
	// ScheduleEvery runs task every interval until Stop. A run is skipped if the
	// previous one is still in progress.
	ScheduleEvery(interval time.Duration, task func()) error
}
