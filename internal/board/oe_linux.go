//go:build linux

package board

import (
	"github.com/pkg/errors"
	"github.com/warthog618/go-gpiocdev"
	"go.uber.org/multierr"
)

// gpiodOE holds the OE line through the GPIO character device. The pin is
// active low: 0 enables the outputs, 1 floats them.
type gpiodOE struct {
	line *gpiocdev.Line
}

func openOutputEnable(chip string, offset int) (outputEnable, error) {
	line, err := gpiocdev.RequestLine(chip, offset,
		gpiocdev.AsOutput(0),
		gpiocdev.WithConsumer("servoctl-oe"))
	if err != nil {
		return nil, errors.Wrapf(err, "board: request oe line %s:%d", chip, offset)
	}
	return &gpiodOE{line: line}, nil
}

func (g *gpiodOE) Disable() error {
	if g == nil || g.line == nil {
		return nil
	}
	err := g.line.SetValue(1)
	err = multierr.Append(err, g.line.Close())
	g.line = nil
	return err
}
