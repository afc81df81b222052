// Package i2c is a small Linux I2C transport for register-mapped devices.
package i2c

import "github.com/pkg/errors"

// ValidateAddr rejects addresses outside the 7-bit range and the general
// call address 0.
func ValidateAddr(addr uint16) error {
	if addr == 0 || addr > 0x7F {
		return errors.Errorf("invalid i2c addr 0x%X", addr)
	}
	return nil
}
