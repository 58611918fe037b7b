//go:build !linux

package monitoring

import "errors"

func openSource() (Source, error) {
	return nil, errors.New("device hotplug monitoring requires linux")
}
