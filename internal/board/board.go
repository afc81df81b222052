package board

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"servoctl/internal/config"
)

// Board is a PWM controller with numbered channels.
//
// Duty is a fraction of the period in units of 1/MaxDuty. Close should
// leave every channel without pulses and release the underlying device.
type Board interface {
	SetDuty(channel int, duty uint16) error
	Close() error
}

// MaxDuty is the full-scale duty value for every backend.
const MaxDuty = 0xFFFF

var (
	openNativeFn       = openNative
	openPeriphFn       = openPeriph
	openOutputEnableFn = openOutputEnable
)

// Open returns the backend named by cfg.Driver, configured for
// cfg.FrequencyHz. If an output-enable line is configured it is asserted
// once the board is ready and released again by Close.
func Open(cfg config.PWMConfig, logger *zap.SugaredLogger) (Board, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	var (
		b   Board
		err error
	)
	switch cfg.Driver {
	case config.DriverNative:
		b, err = openNativeFn(cfg)
	case config.DriverPeriph:
		b, err = openPeriphFn(cfg)
	case config.DriverSim:
		b = NewSim(logger)
	default:
		return nil, errors.Errorf("board: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	logger.Infow("pwm board ready", "driver", cfg.Driver, "bus", cfg.Bus,
		"address", cfg.Address, "frequency_hz", cfg.FrequencyHz)

	if cfg.OutputEnable.Line < 0 {
		return b, nil
	}
	oe, err := openOutputEnableFn(cfg.OutputEnable.Chip, cfg.OutputEnable.Line)
	if err != nil {
		return nil, multierr.Combine(err, b.Close())
	}
	logger.Infow("output enable asserted", "chip", cfg.OutputEnable.Chip, "line", cfg.OutputEnable.Line)
	return &gated{Board: b, oe: oe}, nil
}

// outputEnable drives the board's active-low OE pin.
type outputEnable interface {
	// Disable floats every output and releases the line.
	Disable() error
}

type gated struct {
	Board
	oe outputEnable
}

func (g *gated) Close() error {
	return multierr.Combine(g.Board.Close(), g.oe.Disable())
}
