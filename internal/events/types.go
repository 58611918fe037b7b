package events

// Event type constants for kelindar/event.
const (
	TypeSessionAttached uint32 = iota + 1
	TypeSessionDetached
	TypeStreamingStateChanged
	TypeControlChanged
	TypeConfigFixed
	TypeDeviceHotplug
	TypeLogEntry
	TypeDeviceMetrics
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// SessionAttachedEvent is published when a frontend session is bound to a device.
type SessionAttachedEvent struct {
	SessionID string `json:"session_id" example:"5f0c2b1e-8d3a-4c36-9a57-1f3c0e2d9b11" doc:"Session instance identifier"`
	DomID     int    `json:"dom_id" example:"3" doc:"Guest domain id"`
	DevID     int    `json:"dev_id" example:"0" doc:"Frontend device index within the domain"`
	UniqueID  string `json:"unique_id" example:"video0" doc:"Physical device identifier"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SessionAttachedEvent.
func (e SessionAttachedEvent) Type() uint32 { return TypeSessionAttached }

// SessionDetachedEvent is published when a frontend session is closed.
type SessionDetachedEvent struct {
	SessionID string `json:"session_id" doc:"Session instance identifier"`
	DomID     int    `json:"dom_id" example:"3" doc:"Guest domain id"`
	DevID     int    `json:"dev_id" example:"0" doc:"Frontend device index within the domain"`
	UniqueID  string `json:"unique_id" example:"video0" doc:"Physical device identifier"`
	Reason    string `json:"reason,omitempty" example:"frontend removed" doc:"Why the session ended"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SessionDetachedEvent.
func (e SessionDetachedEvent) Type() uint32 { return TypeSessionDetached }

// StreamingStateChangedEvent is published when a physical device starts or stops capturing.
type StreamingStateChangedEvent struct {
	UniqueID  string `json:"unique_id" example:"video0" doc:"Physical device identifier"`
	Streaming bool   `json:"streaming" example:"true" doc:"Whether the device is capturing"`
	Consumers int    `json:"consumers" example:"2" doc:"Number of domains currently streaming"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for StreamingStateChangedEvent.
func (e StreamingStateChangedEvent) Type() uint32 { return TypeStreamingStateChanged }

// GetDeviceID implements led.StreamingEvent.
func (e StreamingStateChangedEvent) GetDeviceID() string { return e.UniqueID }

// IsStreaming implements led.StreamingEvent.
func (e StreamingStateChangedEvent) IsStreaming() bool { return e.Streaming }

// ControlChangedEvent is published when a session changes a device control.
type ControlChangedEvent struct {
	UniqueID  string `json:"unique_id" example:"video0" doc:"Physical device identifier"`
	Control   string `json:"control" example:"contrast" doc:"Control name"`
	Value     int64  `json:"value" example:"42" doc:"New control value"`
	DomID     int    `json:"dom_id" example:"3" doc:"Domain that made the change"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for ControlChangedEvent.
func (e ControlChangedEvent) Type() uint32 { return TypeControlChanged }

// ConfigFixedEvent is published when the first session fixes a device's format.
type ConfigFixedEvent struct {
	UniqueID    string `json:"unique_id" example:"video0" doc:"Physical device identifier"`
	PixelFormat string `json:"pixel_format" example:"YUYV" doc:"FourCC of the shared format"`
	Width       uint32 `json:"width" example:"640" doc:"Frame width"`
	Height      uint32 `json:"height" example:"480" doc:"Frame height"`
	DomID       int    `json:"dom_id" example:"3" doc:"Domain whose request fixed the format"`
	Timestamp   string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for ConfigFixedEvent.
func (e ConfigFixedEvent) Type() uint32 { return TypeConfigFixed }

// DeviceHotplugEvent is published when a video device node appears or disappears.
type DeviceHotplugEvent struct {
	DevicePath string `json:"device_path" example:"/dev/video0" doc:"Device node path"`
	Action     string `json:"action" example:"add" doc:"add or remove"`
	Timestamp  string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for DeviceHotplugEvent.
func (e DeviceHotplugEvent) Type() uint32 { return TypeDeviceHotplug }

// LogEntryEvent carries a log entry to SSE subscribers.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" example:"42" doc:"Monotonic sequence number for deduplication"`
	Timestamp  string         `json:"timestamp" example:"2026-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"broker" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }

// DeviceMetricsEvent is a periodic snapshot of a device's capture counters.
type DeviceMetricsEvent struct {
	UniqueID        string  `json:"unique_id" example:"video0" doc:"Physical device identifier"`
	FPS             float64 `json:"fps" example:"29.97" doc:"Measured capture frame rate"`
	FramesCaptured  uint64  `json:"frames_captured" doc:"Frames captured since the broker was created"`
	FramesCopied    uint64  `json:"frames_copied" doc:"Frames delivered by copy"`
	FramesZeroCopy  uint64  `json:"frames_zero_copy" doc:"Frames delivered without a copy"`
	FramesDropped   uint64  `json:"frames_dropped" doc:"Frames a session had no queued buffer for"`
	Consumers       int     `json:"consumers" example:"2" doc:"Domains currently streaming"`
	HardwareBuffers int     `json:"hardware_buffers" example:"4" doc:"Allocated capture buffers"`
	Timestamp       string  `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for DeviceMetricsEvent.
func (e DeviceMetricsEvent) Type() uint32 { return TypeDeviceMetrics }
