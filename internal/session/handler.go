// Package session serves one guest frontend: it decodes wire requests,
// dispatches them to the shared device broker, owns the guest's mapped
// buffers and queue, and emits frame and control events back to the guest.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/smazurov/camback/internal/broker"
	"github.com/smazurov/camback/internal/camera"
	"github.com/smazurov/camback/internal/cameraif"
	"github.com/smazurov/camback/internal/grant"
	"github.com/smazurov/camback/internal/logging"
	"github.com/smazurov/camback/internal/metrics"
)

// Broker is the shared device a session drives. *broker.Broker implements it.
type Broker interface {
	UniqueID() string
	SetOrGetConfig(domID uint32, req cameraif.Config) (cameraif.Config, error)
	SetFrameRate(domID uint32, req cameraif.Config) (cameraif.Config, error)
	ValidateConfig(req cameraif.Config) (cameraif.Config, error)
	GetConfig() (cameraif.Config, error)
	GetLayout() (cameraif.Layout, error)
	FrameSize() (uint32, error)
	RequestBuffers(domID uint32, count uint32) (uint32, error)
	ReleaseSession(domID uint32) error
	StartStreaming(domID uint32) error
	StopStreaming(domID uint32) error
	EnumerateControl(name string) (camera.Control, error)
	SetControl(domID uint32, name string, value int64) error
	GetControl(name string) (int64, error)
	RegisterListener(domID uint32, l broker.Listener)
	UnregisterListener(domID uint32)
	RecycleBuffer(index uint32) error
}

// EventSender delivers events on the guest's event ring.
type EventSender interface {
	SendEvent(ev cameraif.Event) error
}

// Options configure a Handler.
type Options struct {
	DomID    uint32
	DevID    uint32
	Controls []string // assigned control names, in enumeration order
	Broker   Broker
	Mapper   grant.Mapper
	MaxPages int
	Events   EventSender
}

type buffer struct {
	mem     *grant.Buffer
	inQueue bool
	inHW    bool
	filled  bool // copied into and out of the FIFO, awaiting dequeue
	hwIndex uint32
}

// Handler is the backend side of one frontend connection.
type Handler struct {
	id       string
	domID    uint32
	devID    uint32
	uniqueID string
	controls []string
	broker   Broker
	mapper   grant.Mapper
	maxPages int
	events   EventSender
	logger   *slog.Logger
	opened   time.Time

	mu        sync.Mutex
	buffers   map[uint32]*buffer
	fifo      []uint32
	streaming bool
	sequence  uint32
	eventID   uint16
	closed    bool
}

// New creates a session and registers it with the broker.
func New(opts Options) *Handler {
	h := &Handler{
		id:       uuid.NewString(),
		domID:    opts.DomID,
		devID:    opts.DevID,
		uniqueID: opts.Broker.UniqueID(),
		controls: slices.Clone(opts.Controls),
		broker:   opts.Broker,
		mapper:   opts.Mapper,
		maxPages: opts.MaxPages,
		events:   opts.Events,
		opened:   time.Now(),
		buffers:  make(map[uint32]*buffer),
	}
	h.logger = logging.GetLogger("session").With("dom_id", h.domID, "dev_id", h.devID, "device", h.uniqueID)

	h.broker.RegisterListener(h.domID, h)
	metrics.SessionOpened()
	h.logger.Info("Session created", "session_id", h.id, "controls", h.controls)
	return h
}

// ID returns the session instance id.
func (h *Handler) ID() string { return h.id }

// DomID returns the guest domain id.
func (h *Handler) DomID() uint32 { return h.domID }

// DevID returns the frontend device index within the domain.
func (h *Handler) DevID() uint32 { return h.devID }

// UniqueID returns the physical device the session is bound to.
func (h *Handler) UniqueID() string { return h.uniqueID }

// Info is a point-in-time view of a session.
type Info struct {
	ID        string
	DomID     uint32
	DevID     uint32
	UniqueID  string
	Controls  []string
	Buffers   int
	Queued    []uint32
	Streaming bool
	Sequence  uint32
	Opened    time.Time
}

// Info returns the session state.
func (h *Handler) Info() Info {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Info{
		ID:        h.id,
		DomID:     h.domID,
		DevID:     h.devID,
		UniqueID:  h.uniqueID,
		Controls:  slices.Clone(h.controls),
		Buffers:   len(h.buffers),
		Queued:    slices.Clone(h.fifo),
		Streaming: h.streaming,
		Sequence:  h.sequence,
		Opened:    h.opened,
	}
}

// Handle executes one request and always returns its response. Errors and
// panics in an operation become a negative status.
func (h *Handler) Handle(req cameraif.Request) (resp cameraif.Response) {
	start := time.Now()
	resp = cameraif.NewResponse(req)

	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Request panicked", "op", req.Op.String(), "panic", r, "stack", string(debug.Stack()))
			resp = cameraif.NewResponse(req)
			resp.Status = Status(fmt.Errorf("panic: %v", r))
		}
		metrics.ObserveRequest(req.Op.String(), resp.Status, time.Since(start))
	}()

	fn, ok := ops[req.Op]
	if !ok {
		resp.Status = Status(NewError(syscall.ENOTSUP, "unsupported operation "+req.Op.String(), nil))
		h.logger.Warn("Unsupported request", "op", req.Op.String(), "id", req.ID)
		return resp
	}

	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		resp.Status = Status(ErrClosed)
		return resp
	}

	out, err := fn(h, req.Payload)
	if err == nil && out != nil {
		resp.Payload, err = cameraif.EncodePayload(out)
	}
	if err != nil {
		resp.Status = Status(err)
		h.logger.Debug("Request failed", "op", req.Op.String(), "id", req.ID, "status", resp.Status, "error", err)
		return resp
	}

	h.logger.Debug("Request handled", "op", req.Op.String(), "id", req.ID)
	return resp
}

// ClaimFrame takes a captured buffer without a copy when it is one of the
// session's queued buffers.
func (h *Handler) ClaimFrame(f camera.Frame) bool {
	addr := f.Addr()
	if addr == 0 {
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.streaming {
		return false
	}
	for _, idx := range h.fifo {
		b := h.buffers[idx]
		if b.inHW || b.mem.Addr() != addr {
			continue
		}
		b.inHW = true
		b.hwIndex = f.Index
		h.frameDoneLocked(idx, f.BytesUsed)
		metrics.IncFramesDelivered(h.uniqueID, metrics.DeliveryZeroCopy)
		return true
	}
	return false
}

// DeliverFrame copies a captured frame into the earliest queued buffer not
// held by the device. The filled buffer leaves the FIFO so the next frame
// lands in the one behind it; the guest still dequeues it before requeuing.
func (h *Handler) DeliverFrame(f camera.Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.streaming {
		return
	}
	for _, idx := range h.fifo {
		b := h.buffers[idx]
		if b.inHW {
			continue
		}
		n, err := b.mem.CopyInto(f.Payload())
		if err != nil {
			h.logger.Warn("Frame copy failed", "index", idx, "error", err)
			return
		}
		b.inQueue = false
		b.filled = true
		h.fifo = slices.DeleteFunc(h.fifo, func(i uint32) bool { return i == idx })
		h.frameDoneLocked(idx, uint32(n))
		metrics.IncFramesDelivered(h.uniqueID, metrics.DeliveryCopy)
		return
	}
	metrics.IncFramesDropped(h.uniqueID)
}

func (h *Handler) frameDoneLocked(index uint32, used uint32) {
	h.sequence++
	h.sendEventLocked(cameraif.EventFrameAvail, cameraif.FrameAvail{
		Index:  uint8(index),
		UsedSz: used,
		SeqNum: h.sequence,
	})
}

// ControlChanged forwards a control change made by another domain when the
// control is assigned to this session.
func (h *Handler) ControlChanged(name string, value int64) {
	if !slices.Contains(h.controls, name) {
		return
	}
	t, err := cameraif.ControlTypeByName(name)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.sendEventLocked(cameraif.EventCtrlChange, cameraif.CtrlValue{Type: t, Value: value})
}

func (h *Handler) sendEventLocked(typ cameraif.EventType, payload any) {
	ev := cameraif.Event{ID: h.eventID, Type: typ}
	h.eventID++

	var err error
	if ev.Payload, err = cameraif.EncodePayload(payload); err != nil {
		h.logger.Error("Event encoding failed", "type", typ.String(), "error", err)
		return
	}
	metrics.IncEvents(typ.String())
	if h.events == nil {
		return
	}
	if err := h.events.SendEvent(ev); err != nil {
		h.logger.Warn("Event delivery failed", "type", typ.String(), "id", ev.ID, "error", err)
	}
}

// Close detaches the session from the broker and unmaps every buffer.
func (h *Handler) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.streaming = false
	var held []uint32
	for _, b := range h.buffers {
		if b.inHW {
			held = append(held, b.hwIndex)
		}
	}
	buffers := h.buffers
	h.buffers = make(map[uint32]*buffer)
	h.fifo = nil
	h.mu.Unlock()

	var errs []error
	for _, idx := range held {
		if err := h.broker.RecycleBuffer(idx); err != nil {
			errs = append(errs, err)
		}
	}
	h.broker.UnregisterListener(h.domID)
	for idx, b := range buffers {
		if err := b.mem.Close(); err != nil {
			errs = append(errs, fmt.Errorf("buffer %d: %w", idx, err))
		}
	}

	metrics.SessionClosed()
	h.logger.Info("Session closed", "session_id", h.id)
	return errors.Join(errs...)
}
