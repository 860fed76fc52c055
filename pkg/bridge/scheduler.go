package bridge

import (
	"context"
	"time"
)

// TimerScheduler arms finalization ticks on wall-clock timers. It is
// created empty and bound to its controller after construction, since
// the controller itself needs a Scheduler to be built.
type TimerScheduler struct {
	ctx  context.Context
	ctrl *Controller
}

// NewTimerScheduler returns an unbound TimerScheduler.
func NewTimerScheduler() *TimerScheduler {
	return &TimerScheduler{}
}

// Bind attaches the controller and lifecycle context. Ticks armed
// before Bind are impossible: the controller only schedules through
// its own scheduler.
func (s *TimerScheduler) Bind(ctx context.Context, ctrl *Controller) {
	s.ctx = ctx
	s.ctrl = ctrl
}

// After implements Scheduler: it fires one finalization tick for
// round after d has elapsed, unless the lifecycle context has ended.
func (s *TimerScheduler) After(d time.Duration, round uint64) {
	time.AfterFunc(d, func() {
		select {
		case <-s.ctx.Done():
			return
		default:
		}
		s.ctrl.FinalizeBridging(s.ctx, round)
	})
}
