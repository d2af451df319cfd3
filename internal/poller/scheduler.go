package poller

import "time"

// Task is a cancellable handle on one scheduled wait.
type Task interface {
	Done() <-chan time.Time
	// Cancel stops the wait; Done will not fire afterwards.
	Cancel()
}

// Scheduler hands out the waits between polls.
type Scheduler interface {
	Schedule(d time.Duration) Task
}

// TimerScheduler schedules waits on real timers.
type TimerScheduler struct{}

// Schedule starts a timer that fires after d.
func (TimerScheduler) Schedule(d time.Duration) Task {
	return timerTask{t: time.NewTimer(d)}
}

type timerTask struct {
	t *time.Timer
}

func (t timerTask) Done() <-chan time.Time { return t.t.C }
func (t timerTask) Cancel()                { t.t.Stop() }
