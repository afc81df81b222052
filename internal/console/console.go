// Package console runs the interactive degrees prompt for one servo.
//
// Each line is one request: a signed number of degrees, or q to quit.
// A rotation blocks the prompt until it finishes.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"servoctl/internal/servo"
)

const Prompt = "Enter degrees to rotate (positive/negative) or 'q' to quit: "

// Rotator is what the console needs from servo.Commander.
type Rotator interface {
	Plan(degrees float64) (servo.Move, error)
	Execute(ctx context.Context, mv servo.Move) error
}

type Console struct {
	rot    Rotator
	out    io.Writer
	logger *zap.SugaredLogger
}

func New(rot Rotator, out io.Writer, logger *zap.SugaredLogger) *Console {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Console{rot: rot, out: out, logger: logger}
}

// Run prompts on out and serves lines from in until q, end of input or ctx
// is cancelled. Quitting and end of input return nil; cancellation returns
// ctx.Err(). Hardware errors end the loop and are returned as is.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	// Stops the reader once Run returns. A reader blocked inside in.Read
	// still stays there until the read completes.
	readCtx, stopReading := context.WithCancel(ctx)
	defer stopReading()
	go readLines(readCtx, in, lines, readErr)

	for {
		fmt.Fprint(c.out, Prompt)

		var line string
		select {
		case <-ctx.Done():
			return c.interrupted(ctx)
		case l, ok := <-lines:
			if !ok {
				if ctx.Err() != nil {
					return c.interrupted(ctx)
				}
				fmt.Fprintln(c.out)
				if err := <-readErr; err != nil {
					return errors.Wrap(err, "console: read input")
				}
				return nil
			}
			line = l
		}

		quit, err := c.handle(ctx, line)
		if err != nil {
			if ctx.Err() != nil {
				return c.interrupted(ctx)
			}
			return err
		}
		if quit {
			return nil
		}
	}
}

func (c *Console) interrupted(ctx context.Context) error {
	fmt.Fprintln(c.out, "\nInterrupted by user.")
	return ctx.Err()
}

func (c *Console) handle(ctx context.Context, line string) (quit bool, err error) {
	line = strings.TrimSpace(line)
	if strings.EqualFold(line, "q") {
		return true, nil
	}

	degrees, err := strconv.ParseFloat(line, 64)
	if err != nil {
		c.logger.Debugw("rejected input", "line", line, "err", err)
		fmt.Fprintln(c.out, "Error: enter a valid number.")
		return false, nil
	}

	mv, err := c.rot.Plan(degrees)
	switch {
	case errors.Is(err, servo.ErrNoRotation):
		fmt.Fprintln(c.out, "No rotation (0°).")
		return false, nil
	case errors.Is(err, servo.ErrInvalidAngle):
		c.logger.Debugw("rejected angle", "line", line, "err", err)
		fmt.Fprintln(c.out, "Error: enter a finite number of degrees.")
		return false, nil
	case err != nil:
		return false, err
	}

	fmt.Fprintf(c.out, "Rotating %.1f° for %.2f seconds (pulse = %d μs)\n", mv.Degrees, mv.Duration.Seconds(), mv.PulseUS)
	if err := c.rot.Execute(ctx, mv); err != nil {
		return false, err
	}
	fmt.Fprintln(c.out, "Rotation complete. Servo stopped.")
	return false, nil
}

func readLines(ctx context.Context, in io.Reader, lines chan<- string, errc chan<- error) {
	defer close(lines)
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		select {
		case lines <- sc.Text():
		case <-ctx.Done():
			errc <- nil
			return
		}
	}
	errc <- sc.Err()
}
