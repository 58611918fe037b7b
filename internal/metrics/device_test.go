package metrics

import (
	"sync"
	"testing"
)

func TestDeviceMetricsCache(t *testing.T) {
	id := "test-device-1"
	DeleteDeviceMetrics(id)

	if m := GetDeviceMetrics(id); m != nil {
		t.Error("expected nil for unknown device")
	}

	IncFramesCaptured(id)
	IncFramesCaptured(id)
	IncFramesDelivered(id, DeliveryCopy)
	IncFramesDelivered(id, DeliveryZeroCopy)
	IncFramesDropped(id)
	SetStreamingConsumers(id, 2)
	SetHardwareBuffers(id, 4)

	m := GetDeviceMetrics(id)
	if m == nil {
		t.Fatal("expected non-nil metrics")
	}
	if m.FramesCaptured != 2 {
		t.Errorf("FramesCaptured = %d, want 2", m.FramesCaptured)
	}
	if m.FramesCopied != 1 || m.FramesZeroCopy != 1 {
		t.Errorf("delivered copy/zerocopy = %d/%d, want 1/1", m.FramesCopied, m.FramesZeroCopy)
	}
	if m.FramesDropped != 1 || m.Consumers != 2 || m.HardwareBuffers != 4 {
		t.Errorf("unexpected metrics %+v", m)
	}

	m.Consumers = 99
	if GetDeviceMetrics(id).Consumers != 2 {
		t.Error("cache was modified through returned copy")
	}

	DeleteDeviceMetrics(id)
	if GetDeviceMetrics(id) != nil {
		t.Error("expected nil after delete")
	}
}

func TestGetAllDeviceMetrics(t *testing.T) {
	DeleteDeviceMetrics("dev-a")
	DeleteDeviceMetrics("dev-b")

	SetStreamingConsumers("dev-a", 1)
	SetStreamingConsumers("dev-b", 3)

	all := GetAllDeviceMetrics()
	if all["dev-a"] == nil || all["dev-b"] == nil {
		t.Fatalf("missing devices in %v", all)
	}
	if all["dev-b"].Consumers != 3 {
		t.Errorf("dev-b consumers = %d", all["dev-b"].Consumers)
	}

	DeleteDeviceMetrics("dev-a")
	DeleteDeviceMetrics("dev-b")
}

func TestDeviceMetricsConcurrent(t *testing.T) {
	id := "concurrent-device"
	DeleteDeviceMetrics(id)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				IncFramesCaptured(id)
			}
		}()
	}
	wg.Wait()

	if got := GetDeviceMetrics(id).FramesCaptured; got != 1000 {
		t.Errorf("FramesCaptured = %d, want 1000", got)
	}
	DeleteDeviceMetrics(id)
}
