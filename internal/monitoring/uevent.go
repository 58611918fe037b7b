// Package monitoring watches the kernel for video device nodes appearing
// and disappearing and publishes them as hotplug events.
package monitoring

import (
	"bytes"
	"strings"
)

// Kernel uevent actions the monitor reports.
const (
	ActionAdd    = "add"
	ActionRemove = "remove"
)

const subsystemVideo4Linux = "video4linux"

// UEvent is one kernel device event.
type UEvent struct {
	Action    string
	KObj      string // /devices/... path of the kernel object
	Subsystem string
	DevName   string // node name relative to /dev, e.g. "video0"
	Env       map[string]string
}

// parseUEvent decodes "ACTION@KOBJ\0KEY=VALUE\0...". Messages relayed by
// udevd carry a binary "libudev" header and are rejected; the monitor only
// listens to the kernel group.
func parseUEvent(data []byte) (UEvent, bool) {
	if len(data) == 0 || bytes.HasPrefix(data, []byte("libudev")) {
		return UEvent{}, false
	}

	fields := bytes.Split(data, []byte{0})
	action, kobj, ok := strings.Cut(string(fields[0]), "@")
	if !ok || action == "" {
		return UEvent{}, false
	}

	ev := UEvent{Action: action, KObj: kobj, Env: make(map[string]string)}
	for _, f := range fields[1:] {
		key, value, ok := strings.Cut(string(f), "=")
		if !ok || key == "" {
			continue
		}
		ev.Env[key] = value
		switch key {
		case "SUBSYSTEM":
			ev.Subsystem = value
		case "DEVNAME":
			ev.DevName = value
		}
	}
	return ev, true
}
