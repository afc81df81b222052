package board

import (
	"io"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/pca9685"
	"periph.io/x/host/v3"

	"servoctl/internal/config"
)

// periphPWM is the part of periph's pca9685.Dev this backend uses.
type periphPWM interface {
	SetPwm(channel int, on, off gpio.Duty) error
	SetAllPwm(on, off gpio.Duty) error
	SetFullOn(channel int) error
	SetFullOff(channel int) error
}

// periphBoard drives a PCA9685 through periph.io's host drivers.
type periphBoard struct {
	bus io.Closer
	dev periphPWM
}

func openPeriph(cfg config.PWMConfig) (Board, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "board: periph host init")
	}
	bus, err := i2creg.Open(cfg.Bus)
	if err != nil {
		return nil, errors.Wrapf(err, "board: open i2c bus %q", cfg.Bus)
	}
	dev, err := pca9685.NewI2C(bus, cfg.Address)
	if err != nil {
		return nil, multierr.Combine(errors.Wrapf(err, "board: pca9685 at 0x%02X", cfg.Address), bus.Close())
	}
	freq := physic.Frequency(cfg.FrequencyHz * float64(physic.Hertz))
	if err := dev.SetPwmFreq(freq); err != nil {
		return nil, multierr.Combine(errors.Wrapf(err, "board: set frequency %s", freq), bus.Close())
	}
	return &periphBoard{bus: bus, dev: dev}, nil
}

// SetDuty maps the 16-bit duty onto the chip's 12-bit counter the same way
// the native driver does.
func (p *periphBoard) SetDuty(channel int, duty uint16) error {
	var err error
	switch duty {
	case MaxDuty:
		err = p.dev.SetFullOn(channel)
	case 0:
		err = p.dev.SetFullOff(channel)
	default:
		err = p.dev.SetPwm(channel, 0, gpio.Duty(duty>>4))
	}
	return errors.Wrapf(err, "board: channel %d", channel)
}

func (p *periphBoard) Close() error {
	return multierr.Combine(p.dev.SetAllPwm(0, 0), p.bus.Close())
}
