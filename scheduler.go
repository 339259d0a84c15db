package librealtime

import "time"

type (
	// stopper cancels a scheduled task. Stop reports whether the task was prevented
	// from running.
	stopper interface {
		Stop() bool
	}

	// scheduler runs f once after d.
	scheduler interface {
		AfterFunc(d time.Duration, f func()) stopper
	}

	timeScheduler struct{}
)

func (timeScheduler) AfterFunc(d time.Duration, f func()) stopper {
	return time.AfterFunc(d, f)
}
