package servo

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	ErrNoRotation   = errors.New("servo: no rotation requested")
	ErrInvalidAngle = errors.New("servo: invalid angle")
)

// Calibration holds the hand-measured behaviour of one continuous-rotation
// servo. Rates are in degrees per second and are independent per direction.
type Calibration struct {
	ForwardUS      int
	ReverseUS      int
	ForwardRateDPS float64
	ReverseRateDPS float64
}

type State int32

const (
	Stopped State = iota
	Rotating
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Rotating:
		return "rotating"
	default:
		return "unknown"
	}
}

// Move is a planned open-loop rotation: hold PulseUS for Duration.
type Move struct {
	Degrees  float64
	PulseUS  int
	RateDPS  float64
	Duration time.Duration
}

// Commander turns angles into timed pulses. There is no feedback; accuracy
// is bounded by the calibration rates.
//
// Not safe for concurrent use.
type Commander struct {
	pulses *PulseController
	cal    Calibration
	clock  clock.Clock
	logger *zap.SugaredLogger

	state atomic.Int32
}

func NewCommander(pulses *PulseController, cal Calibration, clk clock.Clock, logger *zap.SugaredLogger) (*Commander, error) {
	if pulses == nil {
		return nil, errors.New("servo: pulse controller is nil")
	}
	if !(cal.ForwardRateDPS > 0) || !(cal.ReverseRateDPS > 0) {
		return nil, errors.Errorf("servo: rates must be > 0 (forward=%v reverse=%v)", cal.ForwardRateDPS, cal.ReverseRateDPS)
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Commander{pulses: pulses, cal: cal, clock: clk, logger: logger}, nil
}

func (c *Commander) State() State {
	return State(c.state.Load())
}

// Plan picks pulse and rate by the sign of degrees and derives how long the
// pulse must be held. Zero is ErrNoRotation; NaN, infinities and angles
// whose duration does not fit a time.Duration are ErrInvalidAngle.
func (c *Commander) Plan(degrees float64) (Move, error) {
	if math.IsNaN(degrees) || math.IsInf(degrees, 0) {
		return Move{}, errors.Wrapf(ErrInvalidAngle, "%v", degrees)
	}
	if degrees == 0 {
		return Move{}, ErrNoRotation
	}

	mv := Move{Degrees: degrees, PulseUS: c.cal.ForwardUS, RateDPS: c.cal.ForwardRateDPS}
	if degrees < 0 {
		mv.PulseUS = c.cal.ReverseUS
		mv.RateDPS = c.cal.ReverseRateDPS
	}

	ns := math.Abs(degrees) / mv.RateDPS * float64(time.Second)
	if ns >= math.MaxInt64 {
		return Move{}, errors.Wrapf(ErrInvalidAngle, "%v degrees takes too long", degrees)
	}
	mv.Duration = time.Duration(math.Round(ns))
	return mv, nil
}

// Execute holds the move's pulse for its duration and then returns to
// neutral. Neutral is commanded on every path, including cancellation, in
// which case ctx.Err() is returned.
func (c *Commander) Execute(ctx context.Context, mv Move) error {
	if mv.PulseUS == 0 {
		return ErrNoRotation
	}

	act := StartAction(c.clock, mv.Duration)
	c.state.Store(int32(Rotating))
	defer c.state.Store(int32(Stopped))

	c.logger.Debugw("rotation started", "degrees", mv.Degrees, "pulse_us", mv.PulseUS,
		"duration", mv.Duration, "end", act.End())

	if err := c.pulses.SetPulse(mv.PulseUS); err != nil {
		act.Stop()
		return multierr.Combine(err, c.pulses.Neutral())
	}

	waitErr := act.Wait(ctx)
	if waitErr != nil {
		c.logger.Infow("rotation cancelled", "degrees", mv.Degrees,
			"elapsed", c.clock.Since(act.Start), "err", waitErr)
	}
	return multierr.Combine(waitErr, c.pulses.Neutral())
}

// Rotate plans and executes a rotation of degrees.
func (c *Commander) Rotate(ctx context.Context, degrees float64) (Move, error) {
	mv, err := c.Plan(degrees)
	if err != nil {
		return mv, err
	}
	return mv, c.Execute(ctx, mv)
}
