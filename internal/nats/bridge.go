package nats

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/smazurov/camback/internal/events"
)

// Bridge republishes in-process bus events as JSON on NATS so that
// observers outside the process can follow sessions and devices.
type Bridge struct {
	url      string
	eventBus *events.Bus
	conn     *nats.Conn
	unsubs   []func()
	logger   *slog.Logger
	mu       sync.Mutex
}

// NewBridge creates a new EventBus-to-NATS bridge.
func NewBridge(url string, eventBus *events.Bus, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}

	return &Bridge{
		url:      url,
		eventBus: eventBus,
		logger:   logger.With("component", "nats-bridge"),
	}
}

// Start connects to NATS and subscribes to bus events.
func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	conn, err := nats.Connect(b.url,
		nats.Name("camback-bridge"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				b.logger.Warn("NATS bridge disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			b.logger.Info("NATS bridge reconnected")
		}),
	)
	if err != nil {
		return err
	}
	b.conn = conn

	b.unsubs = append(b.unsubs,
		b.eventBus.Subscribe(func(e events.SessionAttachedEvent) { b.forward("session_attached", e) }),
		b.eventBus.Subscribe(func(e events.SessionDetachedEvent) { b.forward("session_detached", e) }),
		b.eventBus.Subscribe(func(e events.StreamingStateChangedEvent) { b.forward("streaming", e) }),
		b.eventBus.Subscribe(func(e events.ControlChangedEvent) { b.forward("control_changed", e) }),
		b.eventBus.Subscribe(func(e events.ConfigFixedEvent) { b.forward("config_fixed", e) }),
		b.eventBus.Subscribe(func(e events.DeviceHotplugEvent) { b.forward("hotplug", e) }),
	)

	b.logger.Info("NATS bridge connected", "url", b.url)
	return nil
}

func (b *Bridge) forward(kind string, e events.Event) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return
	}

	data, err := json.Marshal(e)
	if err != nil {
		b.logger.Warn("Failed to marshal event", "kind", kind, "error", err)
		return
	}
	if err := conn.Publish(SubjectBusEvent(kind), data); err != nil {
		b.logger.Debug("Failed to publish event", "kind", kind, "error", err)
	}
}

// cleanup unsubscribes and closes connection.
func (b *Bridge) cleanup() {
	for _, unsub := range b.unsubs {
		unsub()
	}
	b.unsubs = nil

	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
}

// Stop closes the bridge connection.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.cleanup()
	b.logger.Info("NATS bridge stopped")
}

// IsConnected returns true if the bridge is connected to NATS.
func (b *Bridge) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil && b.conn.IsConnected()
}
