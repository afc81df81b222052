package pca9685

import (
	"math"
	"time"

	"github.com/pkg/errors"

	"servoctl/internal/i2c"
)

var sleep = time.Sleep

// Minimal PCA9685 driver.
//
// Covers what a servo needs: reset, output frequency and per-channel duty.
// Duty is taken as a 16-bit fraction and reduced to the chip's 12 bits.

const (
	addrDefault = 0x40

	regMode1     = 0x00
	regMode2     = 0x01
	regLED0OnL   = 0x06
	regPrescale  = 0xFE
	mode1Restart = 0x80
	mode1AI      = 0x20
	mode1Sleep   = 0x10
	mode2OutDrv  = 0x04

	// Bit 4 of ON_H / OFF_H forces the output fully on / fully off.
	fullBit = 0x10

	oscillatorHz = 25_000_000
	steps        = 4096

	prescaleMin = 3
	prescaleMax = 255

	// NumChannels is the number of PWM outputs on the chip.
	NumChannels = 16

	// MaxDuty is the full-scale duty value accepted by SetDuty.
	MaxDuty = 0xFFFF
)

type Device struct {
	dev regIO

	prescale byte
}

type regIO interface {
	ReadRegU8(reg byte) (byte, error)
	WriteReg(reg, value byte) error
	WriteRegs(reg byte, values []byte) error
}

func DefaultAddress() uint16 { return addrDefault }

func New(dev *i2c.Dev) (*Device, error) {
	if dev == nil {
		return nil, errors.New("pca9685: dev is nil")
	}
	return newWithIO(dev)
}

func newWithIO(dev regIO) (*Device, error) {
	if dev == nil {
		return nil, errors.New("pca9685: dev is nil")
	}
	d := &Device{dev: dev}

	// Totem-pole outputs, then a clean MODE1 with register auto-increment so
	// the four LEDn bytes can go out in one transfer.
	if err := d.dev.WriteReg(regMode2, mode2OutDrv); err != nil {
		return nil, errors.Wrap(err, "pca9685: mode2 write failed")
	}
	if err := d.dev.WriteReg(regMode1, mode1AI); err != nil {
		return nil, errors.Wrap(err, "pca9685: mode1 write failed")
	}
	// Oscillator needs 500us after leaving sleep.
	sleep(time.Millisecond)

	mode1, err := d.dev.ReadRegU8(regMode1)
	if err != nil {
		return nil, errors.Wrap(err, "pca9685: mode1 read failed")
	}
	if mode1&mode1AI == 0 {
		return nil, errors.Errorf("pca9685: mode1=0x%02X, auto-increment did not stick", mode1)
	}
	return d, nil
}

// Prescale returns the register value that produces hz, clamped to the range
// the chip accepts.
func Prescale(hz float64) byte {
	v := math.Round(oscillatorHz/(steps*hz)) - 1
	if v < prescaleMin {
		v = prescaleMin
	}
	if v > prescaleMax {
		v = prescaleMax
	}
	return byte(v)
}

// SetFrequency sets the PWM output frequency for all channels.
func (d *Device) SetFrequency(hz float64) error {
	if hz <= 0 || math.IsNaN(hz) || math.IsInf(hz, 0) {
		return errors.Errorf("pca9685: invalid frequency %v", hz)
	}
	pre := Prescale(hz)

	old, err := d.dev.ReadRegU8(regMode1)
	if err != nil {
		return errors.Wrap(err, "pca9685: mode1 read failed")
	}
	// PRE_SCALE can only be written while the oscillator is off.
	if err := d.dev.WriteReg(regMode1, (old&^mode1Restart)|mode1Sleep); err != nil {
		return errors.Wrap(err, "pca9685: sleep failed")
	}
	if err := d.dev.WriteReg(regPrescale, pre); err != nil {
		return errors.Wrap(err, "pca9685: prescale write failed")
	}
	if err := d.dev.WriteReg(regMode1, old&^(mode1Sleep|mode1Restart)); err != nil {
		return errors.Wrap(err, "pca9685: wake failed")
	}
	sleep(5 * time.Millisecond)
	if err := d.dev.WriteReg(regMode1, (old&^mode1Sleep)|mode1Restart|mode1AI); err != nil {
		return errors.Wrap(err, "pca9685: restart failed")
	}
	d.prescale = pre
	return nil
}

// Frequency returns the output frequency produced by the last SetFrequency,
// or 0 if it has not been called.
func (d *Device) Frequency() float64 {
	if d.prescale == 0 {
		return 0
	}
	return oscillatorHz / (steps * (float64(d.prescale) + 1))
}

// SetDuty sets the fraction of each period channel is held high, in units of
// 1/MaxDuty.
func (d *Device) SetDuty(channel int, duty uint16) error {
	if channel < 0 || channel >= NumChannels {
		return errors.Errorf("pca9685: channel %d out of range 0..%d", channel, NumChannels-1)
	}
	on, off := registerCounts(duty)
	buf := []byte{byte(on), byte(on >> 8), byte(off), byte(off >> 8)}
	if err := d.dev.WriteRegs(regLED0OnL+byte(4*channel), buf); err != nil {
		return errors.Wrapf(err, "pca9685: channel %d write failed", channel)
	}
	return nil
}

// registerCounts maps a 16-bit duty onto the LEDn ON/OFF register pair.
func registerCounts(duty uint16) (on, off uint16) {
	switch duty {
	case MaxDuty:
		return fullBit << 8, 0
	case 0:
		return 0, fullBit << 8
	default:
		return 0, duty >> 4
	}
}

// Reset puts the chip to sleep. With the oscillator stopped no further
// pulses are generated on any channel.
func (d *Device) Reset() error {
	if err := d.dev.WriteReg(regMode1, mode1Sleep); err != nil {
		return errors.Wrap(err, "pca9685: reset failed")
	}
	return nil
}
