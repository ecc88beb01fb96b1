//go:build !linux

package onedev

import (
	"errors"
	"fmt"

	"github.com/frobware/go-one/device"
)

// DefaultPath is where the driver registers its character device.
const DefaultPath = "/dev/one0"

var errUnsupported = errors.New("the One device is only available on linux")

// Opener returns an opener that always fails.
func Opener(path string) device.Opener {
	if path == "" {
		path = DefaultPath
	}
	return device.OpenerFunc(func() (device.Device, error) {
		return nil, fmt.Errorf("open %s: %w", path, errUnsupported)
	})
}
