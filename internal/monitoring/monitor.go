package monitoring

import (
	"context"
	"errors"
	"log/slog"
	"path"

	"github.com/smazurov/camback/internal/events"
	"github.com/smazurov/camback/internal/logging"
)

// Source yields kernel device events.
type Source interface {
	Next(ctx context.Context) (UEvent, error)
	Close() error
}

// EventPublisher receives hotplug events.
type EventPublisher interface {
	Publish(ev events.Event)
}

// DeviceMonitor publishes a DeviceHotplugEvent for every video4linux node
// added or removed.
type DeviceMonitor struct {
	bus    EventPublisher
	open   func() (Source, error)
	logger *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewDeviceMonitor creates a monitor reading the kernel netlink socket.
func NewDeviceMonitor(bus EventPublisher) *DeviceMonitor {
	return &DeviceMonitor{
		bus:    bus,
		open:   openSource,
		logger: logging.GetLogger("monitoring"),
	}
}

// Start opens the event source and begins publishing.
func (m *DeviceMonitor) Start() error {
	src, err := m.open()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.run(ctx, src)
	m.logger.Info("Device hotplug monitoring started")
	return nil
}

// Stop ends monitoring and waits for the reader to exit.
func (m *DeviceMonitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel = nil
	m.logger.Info("Device hotplug monitoring stopped")
}

func (m *DeviceMonitor) run(ctx context.Context, src Source) {
	defer close(m.done)
	defer src.Close()

	for {
		ev, err := src.Next(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				m.logger.Error("Hotplug event source failed", "error", err)
			}
			return
		}
		m.handle(ev)
	}
}

func (m *DeviceMonitor) handle(ev UEvent) {
	if ev.Subsystem != subsystemVideo4Linux || ev.DevName == "" {
		return
	}
	if ev.Action != ActionAdd && ev.Action != ActionRemove {
		return
	}

	devicePath := path.Join("/dev", ev.DevName)
	m.logger.Info("Video device "+ev.Action, "device", devicePath, "kobj", ev.KObj)
	m.bus.Publish(events.DeviceHotplugEvent{
		DevicePath: devicePath,
		Action:     ev.Action,
		Timestamp:  events.Now(),
	})
}
