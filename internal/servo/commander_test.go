package servo

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap/zaptest"

	"servoctl/internal/board"
)

// notifyBoard forwards every duty written so tests can step the mock clock
// only once the rotation pulse is on the wire.
type notifyBoard struct {
	*board.Sim
	dutyCh chan uint16
}

func (n *notifyBoard) SetDuty(channel int, duty uint16) error {
	if err := n.Sim.SetDuty(channel, duty); err != nil {
		return err
	}
	select {
	case n.dutyCh <- duty:
	default:
	}
	return nil
}

var defaultCal = Calibration{
	ForwardUS:      1588,
	ReverseUS:      1470,
	ForwardRateDPS: 360.0 / 5.5,
	ReverseRateDPS: 360.0 / 5.5,
}

type rig struct {
	cmd    *Commander
	pulses *PulseController
	board  *notifyBoard
	clock  *clock.Mock
}

func newRig(t *testing.T, cal Calibration) *rig {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	nb := &notifyBoard{Sim: board.NewSim(logger), dutyCh: make(chan uint16, 8)}
	pulses, err := NewPulseController(nb, PulseConfig{Channel: 4, PeriodUS: 20000, NeutralUS: 1500}, logger)
	if err != nil {
		t.Fatalf("NewPulseController: %v", err)
	}
	mock := clock.NewMock()
	cmd, err := NewCommander(pulses, cal, mock, logger)
	if err != nil {
		t.Fatalf("NewCommander: %v", err)
	}
	return &rig{cmd: cmd, pulses: pulses, board: nb, clock: mock}
}

func (r *rig) awaitDuty(t *testing.T, want uint16) {
	t.Helper()
	select {
	case got := <-r.board.dutyCh:
		if got != want {
			t.Fatalf("duty=%d want %d", got, want)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for duty %d", want)
	}
}

func approx(t *testing.T, got, want time.Duration) {
	t.Helper()
	if d := got - want; d > time.Microsecond || d < -time.Microsecond {
		t.Fatalf("duration=%s want %s", got, want)
	}
}

func TestPlan_Forward(t *testing.T) {
	r := newRig(t, defaultCal)
	mv, err := r.cmd.Plan(90)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if mv.PulseUS != 1588 {
		t.Fatalf("pulse=%d want 1588", mv.PulseUS)
	}
	approx(t, mv.Duration, 1375*time.Millisecond)
}

func TestPlan_Reverse(t *testing.T) {
	r := newRig(t, defaultCal)
	mv, err := r.cmd.Plan(-180)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if mv.PulseUS != 1470 {
		t.Fatalf("pulse=%d want 1470", mv.PulseUS)
	}
	approx(t, mv.Duration, 2750*time.Millisecond)
}

func TestPlan_IndependentRates(t *testing.T) {
	r := newRig(t, Calibration{ForwardUS: 1588, ReverseUS: 1470, ForwardRateDPS: 74.5, ReverseRateDPS: 76.9})

	fwd, err := r.cmd.Plan(149)
	if err != nil {
		t.Fatalf("Plan fwd: %v", err)
	}
	approx(t, fwd.Duration, 2*time.Second)

	rev, err := r.cmd.Plan(-76.9)
	if err != nil {
		t.Fatalf("Plan rev: %v", err)
	}
	approx(t, rev.Duration, time.Second)
	if rev.RateDPS != 76.9 {
		t.Fatalf("rate=%v want 76.9", rev.RateDPS)
	}
}

func TestPlan_DurationPositiveAndFinite(t *testing.T) {
	r := newRig(t, defaultCal)
	for _, deg := range []float64{0.001, 1, 45.5, 360, 3600, -0.5, -720} {
		mv, err := r.cmd.Plan(deg)
		if err != nil {
			t.Fatalf("Plan(%v): %v", deg, err)
		}
		if mv.Duration <= 0 {
			t.Fatalf("Plan(%v) duration=%s want > 0", deg, mv.Duration)
		}
		want := math.Abs(deg) / mv.RateDPS
		if got := mv.Duration.Seconds(); math.Abs(got-want) > 1e-6 {
			t.Fatalf("Plan(%v) duration=%vs want %vs", deg, got, want)
		}
	}
}

func TestPlan_ZeroIsNoop(t *testing.T) {
	r := newRig(t, defaultCal)
	mv, err := r.cmd.Rotate(context.Background(), 0)
	if !errors.Is(err, ErrNoRotation) {
		t.Fatalf("err=%v want ErrNoRotation", err)
	}
	if mv != (Move{}) {
		t.Fatalf("move=%+v want zero", mv)
	}
	if n := len(r.board.Writes()); n != 0 {
		t.Fatalf("writes=%d want 0", n)
	}
	if r.cmd.State() != Stopped {
		t.Fatalf("state=%s want stopped", r.cmd.State())
	}
}

func TestPlan_RejectsNonFinite(t *testing.T) {
	r := newRig(t, defaultCal)
	for _, deg := range []float64{math.NaN(), math.Inf(1), math.Inf(-1), 1e300} {
		if _, err := r.cmd.Plan(deg); !errors.Is(err, ErrInvalidAngle) {
			t.Fatalf("Plan(%v) err=%v want ErrInvalidAngle", deg, err)
		}
	}
}

func TestNewCommander_RejectsBadRates(t *testing.T) {
	r := newRig(t, defaultCal)
	for _, cal := range []Calibration{
		{ForwardRateDPS: 0, ReverseRateDPS: 1},
		{ForwardRateDPS: 1, ReverseRateDPS: -1},
		{ForwardRateDPS: math.NaN(), ReverseRateDPS: 1},
	} {
		if _, err := NewCommander(r.pulses, cal, nil, nil); err == nil {
			t.Fatalf("NewCommander(%+v) expected error", cal)
		}
	}
}

func TestExecute_HoldsPulseForDurationThenNeutral(t *testing.T) {
	r := newRig(t, defaultCal)
	mv, err := r.cmd.Plan(90)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- r.cmd.Execute(context.Background(), mv) }()

	r.awaitDuty(t, 5203)
	if r.cmd.State() != Rotating {
		t.Fatalf("state=%s want rotating", r.cmd.State())
	}

	r.clock.Add(mv.Duration - time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("Execute returned early: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	r.clock.Add(time.Millisecond)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Execute did not finish after duration elapsed")
	}

	want := []board.DutyWrite{{Channel: 4, Duty: 5203}, {Channel: 4, Duty: 4915}}
	if diff := cmp.Diff(want, r.board.Writes()); diff != "" {
		t.Fatalf("writes mismatch (-want +got):\n%s", diff)
	}
	if r.cmd.State() != Stopped {
		t.Fatalf("state=%s want stopped", r.cmd.State())
	}
}

func TestRotate_ReverseEndsAtNeutral(t *testing.T) {
	r := newRig(t, defaultCal)

	type result struct {
		mv  Move
		err error
	}
	done := make(chan result, 1)
	go func() {
		mv, err := r.cmd.Rotate(context.Background(), -180)
		done <- result{mv, err}
	}()

	r.awaitDuty(t, 4817)
	r.clock.Add(2750 * time.Millisecond)

	select {
	case res := <-done:
		if res.err != nil {
			t.Fatalf("Rotate: %v", res.err)
		}
		if res.mv.PulseUS != 1470 {
			t.Fatalf("pulse=%d want 1470", res.mv.PulseUS)
		}
	case <-time.After(time.Second):
		t.Fatalf("Rotate did not finish")
	}
	if r.pulses.Pulse() != 1500 {
		t.Fatalf("final pulse=%d want 1500", r.pulses.Pulse())
	}
}

func TestExecute_CancelCommandsNeutralAndRelease(t *testing.T) {
	r := newRig(t, defaultCal)
	mv, err := r.cmd.Plan(720)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.cmd.Execute(ctx, mv) }()

	r.awaitDuty(t, 5203)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err=%v want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Execute ignored cancellation")
	}
	if r.pulses.Pulse() != 1500 {
		t.Fatalf("pulse after cancel=%d want 1500", r.pulses.Pulse())
	}
	if r.cmd.State() != Stopped {
		t.Fatalf("state=%s want stopped", r.cmd.State())
	}

	if err := r.pulses.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if r.board.Closes() != 1 {
		t.Fatalf("board closes=%d want 1", r.board.Closes())
	}
}

func TestExecute_SetPulseFailureStillTriesNeutral(t *testing.T) {
	r := newRig(t, defaultCal)
	mv, err := r.cmd.Plan(10)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if err := r.pulses.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	err = r.cmd.Execute(context.Background(), mv)
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("err=%v want ErrClosed", err)
	}
	if r.cmd.State() != Stopped {
		t.Fatalf("state=%s want stopped", r.cmd.State())
	}
}

func TestAction_End(t *testing.T) {
	mock := clock.NewMock()
	a := StartAction(mock, 1500*time.Millisecond)
	if !a.End().Equal(mock.Now().Add(1500 * time.Millisecond)) {
		t.Fatalf("end=%s want start+1.5s", a.End())
	}
	a.Stop()
}
