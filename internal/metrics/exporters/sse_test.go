package exporters

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/camback/internal/events"
	"github.com/smazurov/camback/internal/metrics"
)

type mockEventBus struct {
	mu        sync.Mutex
	events    []events.Event
	published chan struct{}
}

func newMockEventBus() *mockEventBus {
	return &mockEventBus{published: make(chan struct{}, 100)}
}

func (m *mockEventBus) Publish(ev events.Event) {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
	select {
	case m.published <- struct{}{}:
	default:
	}
}

func (m *mockEventBus) getEvents() []events.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]events.Event(nil), m.events...)
}

func TestSSEExporterPublishesMetrics(t *testing.T) {
	id := "sse-test-device"
	metrics.DeleteDeviceMetrics(id)
	defer metrics.DeleteDeviceMetrics(id)

	metrics.SetStreamingConsumers(id, 2)
	metrics.IncFramesCaptured(id)

	mock := newMockEventBus()
	exporter := NewSSEExporter(mock)
	exporter.interval = 20 * time.Millisecond

	exporter.Start(context.Background())
	defer exporter.Stop()

	select {
	case <-mock.published:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for metrics event")
	}

	var found bool
	for _, ev := range mock.getEvents() {
		if e, ok := ev.(events.DeviceMetricsEvent); ok && e.UniqueID == id {
			found = true
			if e.Consumers != 2 || e.FramesCaptured != 1 {
				t.Errorf("event = %+v", e)
			}
		}
	}
	if !found {
		t.Error("no DeviceMetricsEvent for device")
	}
}

func TestSSEExporterComputesFPS(t *testing.T) {
	id := "fps-test-device"
	metrics.DeleteDeviceMetrics(id)
	defer metrics.DeleteDeviceMetrics(id)

	metrics.IncFramesCaptured(id)

	mock := newMockEventBus()
	exporter := NewSSEExporter(mock)
	start := time.Now()
	exporter.lastTime = start
	exporter.publishMetrics(start)

	for range 30 {
		metrics.IncFramesCaptured(id)
	}
	exporter.publishMetrics(start.Add(time.Second))

	var last events.DeviceMetricsEvent
	for _, ev := range mock.getEvents() {
		if e, ok := ev.(events.DeviceMetricsEvent); ok && e.UniqueID == id {
			last = e
		}
	}
	if last.FPS < 29.9 || last.FPS > 30.1 {
		t.Errorf("FPS = %v, want 30", last.FPS)
	}
}

func TestSSEExporterStopWithoutStart(t *testing.T) {
	exporter := NewSSEExporter(newMockEventBus())
	exporter.Stop()
}
