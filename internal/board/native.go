package board

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"servoctl/internal/config"
	"servoctl/internal/i2c"
	"servoctl/internal/pca9685"
)

// native drives a PCA9685 through the in-tree register driver.
type native struct {
	bus *i2c.Bus
	dev *pca9685.Device
}

func openNative(cfg config.PWMConfig) (Board, error) {
	bus, err := i2c.Open(cfg.Bus)
	if err != nil {
		return nil, err
	}
	dev, err := pca9685.New(bus.Dev(cfg.Address))
	if err != nil {
		return nil, multierr.Combine(errors.Wrapf(err, "board: pca9685 at 0x%02X on %s", cfg.Address, bus.Path()), bus.Close())
	}
	if err := dev.SetFrequency(cfg.FrequencyHz); err != nil {
		return nil, multierr.Combine(err, bus.Close())
	}
	return &native{bus: bus, dev: dev}, nil
}

func (n *native) SetDuty(channel int, duty uint16) error {
	return n.dev.SetDuty(channel, duty)
}

func (n *native) Close() error {
	return multierr.Combine(n.dev.Reset(), n.bus.Close())
}
