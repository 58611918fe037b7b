// Package broker arbitrates one physical capture device among the sessions
// of several guest domains. The first accepted configuration is shared by
// every session, the hardware buffer pool is allocated once and streaming
// is reference counted by domain.
package broker

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/smazurov/camback/internal/camera"
	"github.com/smazurov/camback/internal/cameraif"
	"github.com/smazurov/camback/internal/events"
	"github.com/smazurov/camback/internal/logging"
	"github.com/smazurov/camback/internal/metrics"
	"github.com/smazurov/camback/pkg/linuxav/v4l2"
)

// DefaultHardwareBuffers is the size of the capture pool when not configured.
const DefaultHardwareBuffers = 4

// ErrNoDevice is returned for control operations when the broker runs
// without a device.
var ErrNoDevice = fmt.Errorf("camera device not available: %w", syscall.ENODEV)

// DefaultConfig is reported by a broker without a device.
var DefaultConfig = cameraif.Config{DisplAspRatioNumer: 1, DisplAspRatioDenom: 1}

// Listener receives frames and control changes for one domain. Calls come
// from the device's capture goroutine or from another session's request and
// never while the broker lock is held.
type Listener interface {
	// ClaimFrame is the zero-copy probe: it returns true when the frame's
	// buffer is one of the listener's own queued buffers.
	ClaimFrame(f camera.Frame) bool
	// DeliverFrame copies the frame; only called when ClaimFrame declined.
	DeliverFrame(f camera.Frame)
	// ControlChanged reports a control changed by another domain.
	ControlChanged(name string, value int64)
}

// EventPublisher publishes broker state changes.
type EventPublisher interface {
	Publish(ev events.Event)
}

// Options configure a Broker.
type Options struct {
	UniqueID        string
	HardwareBuffers uint32
	Events          EventPublisher
}

type domainListener struct {
	domID    uint32
	listener Listener
}

// Broker owns one camera.Device on behalf of every session sharing it.
type Broker struct {
	uniqueID string
	logger   *slog.Logger
	bus      EventPublisher
	hwCount  uint32

	mu          sync.Mutex
	dev         camera.Device
	formatFixed bool
	rateFixed   bool
	allocated   uint32
	grants      map[uint32]uint32
	streaming   map[uint32]struct{}
	listeners   map[uint32]Listener

	// snapshot is the listener table as seen by the capture goroutine.
	snapshot atomic.Pointer[[]domainListener]
}

// New returns a broker for dev. A nil dev puts the broker in degraded mode.
func New(dev camera.Device, opts Options) *Broker {
	if opts.HardwareBuffers == 0 {
		opts.HardwareBuffers = DefaultHardwareBuffers
	}
	b := &Broker{
		uniqueID:  opts.UniqueID,
		logger:    logging.GetLogger("broker").With("device", opts.UniqueID),
		bus:       opts.Events,
		hwCount:   opts.HardwareBuffers,
		dev:       dev,
		grants:    make(map[uint32]uint32),
		streaming: make(map[uint32]struct{}),
		listeners: make(map[uint32]Listener),
	}
	b.snapshot.Store(&[]domainListener{})
	if dev == nil {
		b.logger.Warn("No camera device, running degraded")
	}
	return b
}

// UniqueID returns the device identifier the broker serves.
func (b *Broker) UniqueID() string { return b.uniqueID }

// Degraded reports whether the broker runs without a device.
func (b *Broker) Degraded() bool { return b.dev == nil }

// SetOrGetConfig applies req if no configuration was fixed yet and fixes
// it. Later calls from any domain ignore req and return the fixed config.
func (b *Broker) SetOrGetConfig(domID uint32, req cameraif.Config) (cameraif.Config, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.dev == nil {
		return DefaultConfig, nil
	}
	if b.formatFixed {
		return b.configLocked()
	}

	pix, err := cameraif.ToPixFormat(req)
	if err != nil {
		return cameraif.Config{}, err
	}
	applied, err := b.dev.SetFormat(pix)
	if err != nil {
		return cameraif.Config{}, err
	}
	if !b.rateFixed && req.FrameRateNumer != 0 && req.FrameRateDenom != 0 {
		if _, err := b.dev.SetFrameRate(req.FrameRate()); err != nil {
			return cameraif.Config{}, err
		}
		b.rateFixed = true
	}
	b.formatFixed = true

	b.logger.Info("Configuration fixed",
		"dom_id", domID,
		"fourcc", v4l2.FormatFourCC(applied.PixelFormat),
		"width", applied.Width,
		"height", applied.Height,
		"frame_rate", fmt.Sprintf("%d/%d", req.FrameRateNumer, req.FrameRateDenom))
	b.publish(events.ConfigFixedEvent{
		UniqueID:    b.uniqueID,
		PixelFormat: v4l2.FormatFourCC(applied.PixelFormat),
		Width:       applied.Width,
		Height:      applied.Height,
		DomID:       int(domID),
		Timestamp:   events.Now(),
	})

	return b.configLocked()
}

// SetFrameRate applies the frame rate of req unless one was fixed already.
func (b *Broker) SetFrameRate(domID uint32, req cameraif.Config) (cameraif.Config, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.dev == nil {
		return DefaultConfig, nil
	}
	if !b.rateFixed {
		if req.FrameRateNumer == 0 || req.FrameRateDenom == 0 {
			return cameraif.Config{}, fmt.Errorf("frame rate %d/%d: %w", req.FrameRateNumer, req.FrameRateDenom, syscall.EINVAL)
		}
		if _, err := b.dev.SetFrameRate(req.FrameRate()); err != nil {
			return cameraif.Config{}, err
		}
		b.rateFixed = true
		b.logger.Info("Frame rate fixed", "dom_id", domID, "frame_rate", fmt.Sprintf("%d/%d", req.FrameRateNumer, req.FrameRateDenom))
	}
	return b.configLocked()
}

// ValidateConfig returns the fixed config, or what the device would accept
// for req without applying it.
func (b *Broker) ValidateConfig(req cameraif.Config) (cameraif.Config, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.dev == nil {
		return DefaultConfig, nil
	}
	if b.formatFixed {
		return b.configLocked()
	}

	pix, err := cameraif.ToPixFormat(req)
	if err != nil {
		return cameraif.Config{}, err
	}
	tried, err := b.dev.TryFormat(pix)
	if err != nil {
		return cameraif.Config{}, err
	}
	rate := req.FrameRate()
	if rate.Numerator == 0 || rate.Denominator == 0 {
		if rate, err = b.dev.FrameRate(); err != nil {
			return cameraif.Config{}, err
		}
	}
	return cameraif.FromPixFormat(tried, rate)
}

// GetConfig returns the device's current config.
func (b *Broker) GetConfig() (cameraif.Config, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dev == nil {
		return DefaultConfig, nil
	}
	return b.configLocked()
}

func (b *Broker) configLocked() (cameraif.Config, error) {
	pix, err := b.dev.Format()
	if err != nil {
		return cameraif.Config{}, err
	}
	rate, err := b.dev.FrameRate()
	if err != nil {
		return cameraif.Config{}, err
	}
	return cameraif.FromPixFormat(pix, rate)
}

// GetLayout returns the single-plane buffer layout of the current format.
func (b *Broker) GetLayout() (cameraif.Layout, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dev == nil {
		return cameraif.Layout{}, nil
	}
	pix, err := b.dev.Format()
	if err != nil {
		return cameraif.Layout{}, err
	}
	return cameraif.LayoutFromPixFormat(pix), nil
}

// FrameSize returns the byte size of one frame in the current format.
func (b *Broker) FrameSize() (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dev == nil {
		return 0, nil
	}
	pix, err := b.dev.Format()
	if err != nil {
		return 0, err
	}
	return pix.SizeImage, nil
}

// RequestBuffers allocates the hardware pool on first use and grants the
// domain up to count buffers of it.
func (b *Broker) RequestBuffers(domID uint32, count uint32) (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.dev == nil {
		return 0, nil
	}
	if b.allocated == 0 {
		n, err := b.dev.AllocateBuffers(b.hwCount)
		if err != nil {
			return 0, err
		}
		b.allocated = n
		metrics.SetHardwareBuffers(b.uniqueID, int(n))
		b.logger.Info("Hardware buffers allocated", "count", n, "dom_id", domID)
	}

	granted := min(count, b.allocated)
	b.grants[domID] = granted
	b.logger.Debug("Buffers granted", "dom_id", domID, "requested", count, "granted", granted)
	return granted, nil
}

// ReleaseSession drops the domain's buffer grant and frees the hardware
// pool once no domain holds one.
func (b *Broker) ReleaseSession(domID uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.releaseSessionLocked(domID)
}

func (b *Broker) releaseSessionLocked(domID uint32) error {
	delete(b.grants, domID)
	if b.dev == nil || len(b.grants) > 0 || b.allocated == 0 {
		return nil
	}

	if len(b.streaming) > 0 {
		clear(b.streaming)
		if err := b.dev.StopCapture(); err != nil && !errors.Is(err, camera.ErrNotStreaming) {
			b.logger.Warn("Stop capture before release failed", "error", err)
		}
		b.streamingChangedLocked(false)
	}

	err := b.dev.ReleaseBuffers()
	b.allocated = 0
	metrics.SetHardwareBuffers(b.uniqueID, 0)
	b.logger.Info("Hardware buffers released", "dom_id", domID)
	return err
}

// StartStreaming adds the domain to the streaming set and starts the
// device when it is the first member.
func (b *Broker) StartStreaming(domID uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.dev == nil {
		return nil
	}
	if _, ok := b.streaming[domID]; ok {
		return nil
	}
	if len(b.streaming) == 0 {
		if err := b.dev.StartCapture(b.onFrame); err != nil {
			return err
		}
	}
	b.streaming[domID] = struct{}{}
	b.streamingChangedLocked(true)
	return nil
}

// StopStreaming removes the domain from the streaming set and stops the
// device when it was the last member.
func (b *Broker) StopStreaming(domID uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stopStreamingLocked(domID)
}

func (b *Broker) stopStreamingLocked(domID uint32) error {
	if b.dev == nil {
		return nil
	}
	if _, ok := b.streaming[domID]; !ok {
		return nil
	}
	delete(b.streaming, domID)

	var err error
	if len(b.streaming) == 0 {
		err = b.dev.StopCapture()
	}
	b.streamingChangedLocked(len(b.streaming) > 0)
	return err
}

func (b *Broker) streamingChangedLocked(active bool) {
	n := len(b.streaming)
	metrics.SetStreamingConsumers(b.uniqueID, n)
	b.logger.Debug("Streaming membership changed", "consumers", n)
	b.publish(events.StreamingStateChangedEvent{
		UniqueID:  b.uniqueID,
		Streaming: active,
		Consumers: n,
		Timestamp: events.Now(),
	})
}

// EnumerateControl describes the named control.
func (b *Broker) EnumerateControl(name string) (camera.Control, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dev == nil {
		return camera.Control{}, ErrNoDevice
	}
	return b.dev.Control(name)
}

// Controls lists the device controls.
func (b *Broker) Controls() ([]camera.Control, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dev == nil {
		return nil, ErrNoDevice
	}
	return b.dev.Controls(), nil
}

// SetControl writes a control on behalf of domID. An unchanged value is
// neither written nor reported; a change is reported to every other domain.
func (b *Broker) SetControl(domID uint32, name string, value int64) error {
	b.mu.Lock()

	if b.dev == nil {
		b.mu.Unlock()
		return ErrNoDevice
	}
	if value < math.MinInt32 || value > math.MaxInt32 {
		b.mu.Unlock()
		return fmt.Errorf("control %s value %d: %w", name, value, syscall.ERANGE)
	}

	current, err := b.dev.ControlValue(name)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	if int64(current) == value {
		b.mu.Unlock()
		return nil
	}
	if err := b.dev.SetControlValue(name, int32(value)); err != nil {
		b.mu.Unlock()
		return err
	}

	var others []Listener
	for id, l := range b.listeners {
		if id != domID {
			others = append(others, l)
		}
	}
	b.mu.Unlock()

	b.logger.Debug("Control changed", "dom_id", domID, "control", name, "value", value, "notified", len(others))
	b.publish(events.ControlChangedEvent{
		UniqueID:  b.uniqueID,
		Control:   name,
		Value:     value,
		DomID:     int(domID),
		Timestamp: events.Now(),
	})
	for _, l := range others {
		l.ControlChanged(name, value)
	}
	return nil
}

// GetControl reads the named control.
func (b *Broker) GetControl(name string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dev == nil {
		return 0, ErrNoDevice
	}
	v, err := b.dev.ControlValue(name)
	return int64(v), err
}

// RegisterListener sets the listener for domID.
func (b *Broker) RegisterListener(domID uint32, l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[domID] = l
	b.rebuildSnapshotLocked()
}

// UnregisterListener removes the domain's listener, its streaming
// membership and its buffer grant.
func (b *Broker) UnregisterListener(domID uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.listeners, domID)
	b.rebuildSnapshotLocked()

	if err := b.stopStreamingLocked(domID); err != nil {
		b.logger.Warn("Stop streaming on unregister failed", "dom_id", domID, "error", err)
	}
	if err := b.releaseSessionLocked(domID); err != nil {
		b.logger.Warn("Release on unregister failed", "dom_id", domID, "error", err)
	}
}

func (b *Broker) rebuildSnapshotLocked() {
	snap := make([]domainListener, 0, len(b.listeners))
	for id, l := range b.listeners {
		snap = append(snap, domainListener{domID: id, listener: l})
	}
	slices.SortFunc(snap, func(a, c domainListener) int { return cmp.Compare(a.domID, c.domID) })
	b.snapshot.Store(&snap)
}

// RecycleBuffer returns a hardware buffer held for zero-copy delivery.
func (b *Broker) RecycleBuffer(index uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dev == nil {
		return nil
	}
	return b.dev.RecycleBuffer(index)
}

// onFrame fans a captured frame out to every listener. It runs on the
// capture goroutine and reads the listener snapshot without the broker lock.
// The buffer may be recycled only if no listener claimed it.
func (b *Broker) onFrame(f camera.Frame) bool {
	metrics.IncFramesCaptured(b.uniqueID)

	snap := *b.snapshot.Load()
	claimed := make([]bool, len(snap))
	held := false
	for i, dl := range snap {
		if dl.listener.ClaimFrame(f) {
			claimed[i] = true
			held = true
		}
	}
	for i, dl := range snap {
		if !claimed[i] {
			dl.listener.DeliverFrame(f)
		}
	}
	return !held
}

// Status is a point-in-time view of a broker.
type Status struct {
	UniqueID        string
	Degraded        bool
	FormatFixed     bool
	RateFixed       bool
	Config          cameraif.Config
	HardwareBuffers uint32
	Grants          map[uint32]uint32 // domain -> granted buffers
	Streaming       []uint32          // streaming domains, ascending
	Listeners       int
	DMABufExport    bool // hardware buffers can be exported as dma-buf
}

// Status returns the broker state.
func (b *Broker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := Status{
		UniqueID:        b.uniqueID,
		Degraded:        b.dev == nil,
		FormatFixed:     b.formatFixed,
		RateFixed:       b.rateFixed,
		Config:          DefaultConfig,
		HardwareBuffers: b.allocated,
		Grants:          make(map[uint32]uint32, len(b.grants)),
		Streaming:       make([]uint32, 0, len(b.streaming)),
		Listeners:       len(b.listeners),
	}
	if b.dev != nil {
		if cfg, err := b.configLocked(); err == nil {
			st.Config = cfg
		}
		if b.allocated > 0 {
			if fd, err := b.dev.ExportBufferHandle(0); err == nil {
				st.DMABufExport = true
				_ = syscall.Close(fd)
			}
		}
	}
	for dom, n := range b.grants {
		st.Grants[dom] = n
	}
	for dom := range b.streaming {
		st.Streaming = append(st.Streaming, dom)
	}
	slices.Sort(st.Streaming)
	return st
}

// Close stops capture, frees buffers and closes the device.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	defer metrics.DeleteDeviceMetrics(b.uniqueID)
	if b.dev == nil {
		return nil
	}
	if len(b.streaming) > 0 {
		clear(b.streaming)
		_ = b.dev.StopCapture()
		b.streamingChangedLocked(false)
	}
	if b.allocated > 0 {
		_ = b.dev.ReleaseBuffers()
		b.allocated = 0
	}
	b.logger.Info("Broker closed")
	return b.dev.Close()
}

func (b *Broker) publish(ev events.Event) {
	if b.bus != nil {
		b.bus.Publish(ev)
	}
}
