// Package metrics provides Prometheus metrics for capture devices and
// frontend sessions.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Delivery modes for frames handed to a session.
const (
	DeliveryCopy     = "copy"
	DeliveryZeroCopy = "zerocopy"
)

var (
	framesCaptured = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camback",
		Subsystem: "device",
		Name:      "frames_captured_total",
		Help:      "Frames captured by the physical device",
	}, []string{"unique_id"})

	framesDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camback",
		Subsystem: "device",
		Name:      "frames_delivered_total",
		Help:      "Frames delivered into guest buffers",
	}, []string{"unique_id", "mode"})

	framesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camback",
		Subsystem: "device",
		Name:      "frames_dropped_total",
		Help:      "Frames a session could not take because no buffer was queued",
	}, []string{"unique_id"})

	streamingConsumers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "camback",
		Subsystem: "device",
		Name:      "streaming_consumers",
		Help:      "Domains currently streaming from the device",
	}, []string{"unique_id"})

	hardwareBuffers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "camback",
		Subsystem: "device",
		Name:      "hardware_buffers",
		Help:      "Capture buffers allocated on the device",
	}, []string{"unique_id"})

	deviceCache   = make(map[string]*DeviceMetrics)
	deviceCacheMu sync.RWMutex
)

// DeviceMetrics holds current metric values for a device.
type DeviceMetrics struct {
	FramesCaptured  uint64
	FramesCopied    uint64
	FramesZeroCopy  uint64
	FramesDropped   uint64
	Consumers       int
	HardwareBuffers int
}

// IncFramesCaptured counts one captured frame.
func IncFramesCaptured(uniqueID string) {
	framesCaptured.WithLabelValues(uniqueID).Inc()
	updateCache(uniqueID, func(m *DeviceMetrics) { m.FramesCaptured++ })
}

// IncFramesDelivered counts one frame delivered in the given mode.
func IncFramesDelivered(uniqueID, mode string) {
	framesDelivered.WithLabelValues(uniqueID, mode).Inc()
	updateCache(uniqueID, func(m *DeviceMetrics) {
		if mode == DeliveryZeroCopy {
			m.FramesZeroCopy++
		} else {
			m.FramesCopied++
		}
	})
}

// IncFramesDropped counts one frame a session had nowhere to put.
func IncFramesDropped(uniqueID string) {
	framesDropped.WithLabelValues(uniqueID).Inc()
	updateCache(uniqueID, func(m *DeviceMetrics) { m.FramesDropped++ })
}

// SetStreamingConsumers sets the number of streaming domains.
func SetStreamingConsumers(uniqueID string, n int) {
	streamingConsumers.WithLabelValues(uniqueID).Set(float64(n))
	updateCache(uniqueID, func(m *DeviceMetrics) { m.Consumers = n })
}

// SetHardwareBuffers sets the number of allocated capture buffers.
func SetHardwareBuffers(uniqueID string, n int) {
	hardwareBuffers.WithLabelValues(uniqueID).Set(float64(n))
	updateCache(uniqueID, func(m *DeviceMetrics) { m.HardwareBuffers = n })
}

// DeleteDeviceMetrics removes all metrics for a device.
func DeleteDeviceMetrics(uniqueID string) {
	framesCaptured.DeleteLabelValues(uniqueID)
	framesDelivered.DeleteLabelValues(uniqueID, DeliveryCopy)
	framesDelivered.DeleteLabelValues(uniqueID, DeliveryZeroCopy)
	framesDropped.DeleteLabelValues(uniqueID)
	streamingConsumers.DeleteLabelValues(uniqueID)
	hardwareBuffers.DeleteLabelValues(uniqueID)

	deviceCacheMu.Lock()
	delete(deviceCache, uniqueID)
	deviceCacheMu.Unlock()
}

// GetDeviceMetrics returns current metric values for a device.
func GetDeviceMetrics(uniqueID string) *DeviceMetrics {
	deviceCacheMu.RLock()
	defer deviceCacheMu.RUnlock()
	if m, ok := deviceCache[uniqueID]; ok {
		dup := *m
		return &dup
	}
	return nil
}

// GetAllDeviceMetrics returns metrics for all known devices.
func GetAllDeviceMetrics() map[string]*DeviceMetrics {
	deviceCacheMu.RLock()
	defer deviceCacheMu.RUnlock()
	result := make(map[string]*DeviceMetrics, len(deviceCache))
	for id, m := range deviceCache {
		dup := *m
		result[id] = &dup
	}
	return result
}

func updateCache(uniqueID string, update func(*DeviceMetrics)) {
	deviceCacheMu.Lock()
	defer deviceCacheMu.Unlock()
	m, ok := deviceCache[uniqueID]
	if !ok {
		m = &DeviceMetrics{}
		deviceCache[uniqueID] = m
	}
	update(m)
}
