package config

import (
	"math"
	"os"
	"reflect"
	"strconv"

	"github.com/caarlos0/env/v6"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"servoctl/internal/pca9685"
)

const (
	DriverNative = "native"
	DriverPeriph = "periph"
	DriverSim    = "sim"
)

type Config struct {
	PWM   PWMConfig   `yaml:"pwm"`
	Servo ServoConfig `yaml:"servo"`
}

type PWMConfig struct {
	// Driver selects the board backend: native, periph or sim.
	Driver string `yaml:"driver" env:"SERVOCTL_DRIVER"`
	// Bus is a device path for the native driver (/dev/i2c-1) or an
	// i2creg bus name for the periph driver ("1", "I2C1"; empty = first bus).
	Bus         string  `yaml:"bus" env:"SERVOCTL_I2C_BUS"`
	Address     uint16  `yaml:"address" env:"SERVOCTL_I2C_ADDRESS"`
	Channel     int     `yaml:"channel" env:"SERVOCTL_CHANNEL"`
	FrequencyHz float64 `yaml:"frequency_hz" env:"SERVOCTL_FREQUENCY_HZ"`

	OutputEnable OutputEnableConfig `yaml:"output_enable"`
}

// OutputEnableConfig describes the GPIO line wired to the board's active-low
// OE pin. Line < 0 means the pin is not wired.
type OutputEnableConfig struct {
	Chip string `yaml:"chip"`
	Line int    `yaml:"line"`
}

type ServoConfig struct {
	NeutralUS int `yaml:"neutral_us"`
	ForwardUS int `yaml:"forward_us"`
	ReverseUS int `yaml:"reverse_us"`

	// Measured angular speed in degrees per second for each direction.
	ForwardRateDPS float64 `yaml:"forward_rate_dps" env:"SERVOCTL_FORWARD_RATE"`
	ReverseRateDPS float64 `yaml:"reverse_rate_dps" env:"SERVOCTL_REVERSE_RATE"`
}

// PeriodUS returns the PWM period in microseconds.
func (c PWMConfig) PeriodUS() float64 {
	return 1e6 / c.FrequencyHz
}

// Default returns the configuration the servo was calibrated with: channel 4
// of a PCA9685 at 0x40 on /dev/i2c-1, 50 Hz, 360 degrees in 5.5 s both ways.
func Default() Config {
	return Config{
		PWM: PWMConfig{
			Driver:       DriverNative,
			Bus:          "/dev/i2c-1",
			Address:      pca9685.DefaultAddress(),
			Channel:      4,
			FrequencyHz:  50,
			OutputEnable: OutputEnableConfig{Line: -1},
		},
		Servo: ServoConfig{
			NeutralUS:      1500,
			ForwardUS:      1588,
			ReverseUS:      1470,
			ForwardRateDPS: 360.0 / 5.5,
			ReverseRateDPS: 360.0 / 5.5,
		},
	}
}

// Load reads path on top of Default, applies SERVOCTL_* environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := env.ParseWithFuncs(&cfg, envParsers); err != nil {
		return Config{}, errors.Wrap(err, "environment overrides")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// envParsers lets SERVOCTL_I2C_ADDRESS be written as 0x40 as well as 64.
var envParsers = map[reflect.Type]env.ParserFunc{
	reflect.TypeOf(uint16(0)): func(v string) (interface{}, error) {
		n, err := strconv.ParseUint(v, 0, 16)
		return uint16(n), err
	},
}

func (c Config) Validate() error {
	switch c.PWM.Driver {
	case DriverNative, DriverPeriph, DriverSim:
	default:
		return errors.Errorf("pwm.driver %q must be one of native, periph, sim", c.PWM.Driver)
	}
	if c.PWM.Driver == DriverNative && c.PWM.Bus == "" {
		return errors.New("pwm.bus is required for the native driver")
	}
	if c.PWM.Address < 0x03 || c.PWM.Address > 0x77 {
		return errors.Errorf("pwm.address 0x%X out of range 0x03..0x77", c.PWM.Address)
	}
	if c.PWM.Channel < 0 || c.PWM.Channel > 15 {
		return errors.New("pwm.channel must be 0..15")
	}
	if !positive(c.PWM.FrequencyHz) {
		return errors.New("pwm.frequency_hz must be > 0")
	}
	if c.PWM.OutputEnable.Line >= 0 && c.PWM.OutputEnable.Chip == "" {
		return errors.New("pwm.output_enable.chip is required when pwm.output_enable.line is set")
	}

	period := c.PWM.PeriodUS()
	pulses := []struct {
		name string
		us   int
	}{
		{"servo.neutral_us", c.Servo.NeutralUS},
		{"servo.forward_us", c.Servo.ForwardUS},
		{"servo.reverse_us", c.Servo.ReverseUS},
	}
	for _, p := range pulses {
		if p.us <= 0 || float64(p.us) > period {
			return errors.Errorf("%s must be within (0, %.0f]", p.name, period)
		}
	}
	if !positive(c.Servo.ForwardRateDPS) {
		return errors.New("servo.forward_rate_dps must be > 0")
	}
	if !positive(c.Servo.ReverseRateDPS) {
		return errors.New("servo.reverse_rate_dps must be > 0")
	}
	return nil
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 1)
}
