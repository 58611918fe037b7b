//go:build !linux

package camera

import (
	"fmt"
	"syscall"
)

func openV4L2(uniqueID string, _ OpenOptions) (Device, error) {
	return nil, fmt.Errorf("V4L2 device %s: %w", uniqueID, syscall.ENOTSUP)
}
