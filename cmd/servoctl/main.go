package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"servoctl/internal/board"
	"servoctl/internal/config"
	"servoctl/internal/console"
	"servoctl/internal/servo"
)

var (
	openBoardFn = board.Open
	newLoggerFn = newLogger
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newApp(os.Stdin, os.Stdout, os.Stderr).RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "servoctl: %v\n", err)
		cancel()
		os.Exit(1)
	}
}

func newApp(in io.Reader, out, errOut io.Writer) *cli.App {
	return &cli.App{
		Name:      "servoctl",
		Usage:     "rotate a continuous-rotation servo on a PCA9685 by degrees",
		Reader:    in,
		Writer:    out,
		ErrWriter: errOut,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to YAML config (defaults are used when empty)",
				EnvVars: []string{"SERVOCTL_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "driver",
				Usage: "override pwm.driver (native, periph, sim)",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
		},
		Action: func(c *cli.Context) error {
			logger, err := newLoggerFn(c.Bool("debug"))
			if err != nil {
				return errors.Wrap(err, "logger init failed")
			}
			defer func() { _ = logger.Sync() }()
			return run(c.Context, c.String("config"), c.String("driver"), c.App.Reader, c.App.Writer, logger)
		},
	}
}

// run owns the board for the whole session. Whatever ends the loop, the
// channel is returned to neutral and the board released before it returns.
func run(ctx context.Context, cfgPath, driver string, in io.Reader, out io.Writer, logger *zap.SugaredLogger) (err error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if driver != "" {
		cfg.PWM.Driver = driver
		if err := cfg.Validate(); err != nil {
			return errors.Wrap(err, "config load failed")
		}
	}

	b, err := openBoardFn(cfg.PWM, logger)
	if err != nil {
		return errors.Wrap(err, "pwm board init failed")
	}
	pulses, err := servo.NewPulseController(b, servo.PulseConfig{
		Channel:   cfg.PWM.Channel,
		PeriodUS:  cfg.PWM.PeriodUS(),
		NeutralUS: cfg.Servo.NeutralUS,
	}, logger)
	if err != nil {
		return multierr.Combine(err, b.Close())
	}
	defer func() {
		err = multierr.Append(err, pulses.Close())
		fmt.Fprintln(out, "PCA9685 shut down. Exiting.")
	}()

	cmd, err := servo.NewCommander(pulses, servo.Calibration{
		ForwardUS:      cfg.Servo.ForwardUS,
		ReverseUS:      cfg.Servo.ReverseUS,
		ForwardRateDPS: cfg.Servo.ForwardRateDPS,
		ReverseRateDPS: cfg.Servo.ReverseRateDPS,
	}, clock.New(), logger)
	if err != nil {
		return err
	}

	logger.Infow("servoctl starting", "channel", cfg.PWM.Channel,
		"forward_us", cfg.Servo.ForwardUS, "reverse_us", cfg.Servo.ReverseUS)

	err = console.New(cmd, out, logger).Run(ctx, in)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Infow("servoctl stopping")
	return err
}
