//go:build !linux

package board

import "github.com/pkg/errors"

func openOutputEnable(chip string, offset int) (outputEnable, error) {
	return nil, errors.New("board: output enable line unsupported on this platform")
}
