//go:build !darwin && !linux

package device

import (
	"fmt"
	"runtime"

	"github.com/go-ble/ble"
)

func newHostDevice() (ble.Device, error) {
	return nil, fmt.Errorf("%w: no BLE stack for %s", ErrUnsupported, runtime.GOOS)
}
