package servo

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
)

// Action is a span of time that starts when it is created. Its timer is
// armed immediately so the end is fixed no matter when Wait is called.
type Action struct {
	Start    time.Time
	Duration time.Duration

	timer *clock.Timer
}

func StartAction(clk clock.Clock, d time.Duration) *Action {
	return &Action{Start: clk.Now(), Duration: d, timer: clk.Timer(d)}
}

func (a *Action) End() time.Time {
	return a.Start.Add(a.Duration)
}

// Wait blocks until the action's duration has elapsed or ctx is done,
// whichever is first. It returns ctx.Err() in the latter case.
func (a *Action) Wait(ctx context.Context) error {
	select {
	case <-a.timer.C:
		return nil
	case <-ctx.Done():
		a.timer.Stop()
		return ctx.Err()
	}
}

func (a *Action) Stop() {
	a.timer.Stop()
}
