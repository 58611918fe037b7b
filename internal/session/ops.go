package session

import (
	"errors"
	"fmt"
	"slices"
	"syscall"

	"github.com/smazurov/camback/internal/cameraif"
	"github.com/smazurov/camback/internal/grant"
)

type opFunc func(h *Handler, payload [cameraif.PayloadSize]byte) (any, error)

// ops holds exactly one handler per operation code.
var ops = map[cameraif.Op]opFunc{
	cameraif.OpConfigSet:      (*Handler).configSet,
	cameraif.OpConfigGet:      (*Handler).configGet,
	cameraif.OpConfigValidate: (*Handler).configValidate,
	cameraif.OpFrameRateSet:   (*Handler).frameRateSet,
	cameraif.OpBufGetLayout:   (*Handler).bufGetLayout,
	cameraif.OpBufRequest:     (*Handler).bufRequest,
	cameraif.OpBufCreate:      (*Handler).bufCreate,
	cameraif.OpBufDestroy:     (*Handler).bufDestroy,
	cameraif.OpBufQueue:       (*Handler).bufQueue,
	cameraif.OpBufDequeue:     (*Handler).bufDequeue,
	cameraif.OpCtrlEnum:       (*Handler).ctrlEnum,
	cameraif.OpCtrlSet:        (*Handler).ctrlSet,
	cameraif.OpCtrlGet:        (*Handler).ctrlGet,
	cameraif.OpStreamStart:    (*Handler).streamStart,
	cameraif.OpStreamStop:     (*Handler).streamStop,
}

func decodeConfig(p [cameraif.PayloadSize]byte) (cameraif.Config, error) {
	var c cameraif.Config
	err := cameraif.DecodePayload(p, &c)
	return c, err
}

func decodeIndex(p [cameraif.PayloadSize]byte) (uint32, error) {
	var req cameraif.Index
	if err := cameraif.DecodePayload(p, &req); err != nil {
		return 0, err
	}
	return uint32(req.Index), nil
}

func (h *Handler) configSet(p [cameraif.PayloadSize]byte) (any, error) {
	req, err := decodeConfig(p)
	if err != nil {
		return nil, err
	}
	return h.broker.SetOrGetConfig(h.domID, req)
}

func (h *Handler) configGet(_ [cameraif.PayloadSize]byte) (any, error) {
	return h.broker.GetConfig()
}

func (h *Handler) configValidate(p [cameraif.PayloadSize]byte) (any, error) {
	req, err := decodeConfig(p)
	if err != nil {
		return nil, err
	}
	return h.broker.ValidateConfig(req)
}

func (h *Handler) frameRateSet(p [cameraif.PayloadSize]byte) (any, error) {
	req, err := decodeConfig(p)
	if err != nil {
		return nil, err
	}
	return h.broker.SetFrameRate(h.domID, req)
}

func (h *Handler) bufGetLayout(_ [cameraif.PayloadSize]byte) (any, error) {
	return h.broker.GetLayout()
}

func (h *Handler) bufRequest(p [cameraif.PayloadSize]byte) (any, error) {
	var req cameraif.BufRequest
	if err := cameraif.DecodePayload(p, &req); err != nil {
		return nil, err
	}

	if req.NumBufs == 0 {
		h.mu.Lock()
		n := len(h.buffers)
		h.mu.Unlock()
		if n > 0 {
			return nil, NewError(syscall.EBUSY, fmt.Sprintf("%d buffers still created", n), nil)
		}
		return cameraif.BufRequest{}, h.broker.ReleaseSession(h.domID)
	}

	granted, err := h.broker.RequestBuffers(h.domID, uint32(req.NumBufs))
	if err != nil {
		return nil, err
	}
	return cameraif.BufRequest{NumBufs: uint8(granted)}, nil
}

func (h *Handler) bufCreate(p [cameraif.PayloadSize]byte) (any, error) {
	var req cameraif.BufCreate
	if err := cameraif.DecodePayload(p, &req); err != nil {
		return nil, err
	}
	idx := uint32(req.Index)

	h.mu.Lock()
	_, exists := h.buffers[idx]
	h.mu.Unlock()
	if exists {
		return nil, NewError(syscall.EEXIST, fmt.Sprintf("buffer %d already created", idx), nil)
	}

	size, err := h.broker.FrameSize()
	if err != nil {
		return nil, err
	}
	mem, err := grant.NewBuffer(h.mapper, grant.BufferOptions{
		DomID:     h.domID,
		Directory: req.GrefDirectory,
		Size:      size,
		Offset:    req.PlaneOffset[0],
		MaxPages:  h.maxPages,
	})
	if err != nil {
		if errors.Is(err, grant.ErrShortDirectory) || errors.Is(err, grant.ErrEmpty) || errors.Is(err, grant.ErrTooLarge) {
			return nil, NewError(syscall.EINVAL, fmt.Sprintf("buffer %d", idx), err)
		}
		return nil, fmt.Errorf("buffer %d: %w", idx, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		_ = mem.Close()
		return nil, ErrClosed
	}
	if _, exists := h.buffers[idx]; exists {
		_ = mem.Close()
		return nil, NewError(syscall.EEXIST, fmt.Sprintf("buffer %d already created", idx), nil)
	}
	h.buffers[idx] = &buffer{mem: mem}
	h.logger.Debug("Buffer created", "index", idx, "size", size, "offset", req.PlaneOffset[0])
	return nil, nil
}

func (h *Handler) bufDestroy(p [cameraif.PayloadSize]byte) (any, error) {
	idx, err := decodeIndex(p)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	b, ok := h.buffers[idx]
	if !ok {
		h.mu.Unlock()
		return nil, fmt.Errorf("buffer %d: %w", idx, ErrNotFound)
	}
	delete(h.buffers, idx)
	h.fifo = slices.DeleteFunc(h.fifo, func(i uint32) bool { return i == idx })
	empty := len(h.buffers) == 0
	h.mu.Unlock()

	var errs []error
	if b.inHW {
		errs = append(errs, h.broker.RecycleBuffer(b.hwIndex))
	}
	errs = append(errs, b.mem.Close())
	if empty {
		errs = append(errs, h.broker.ReleaseSession(h.domID))
	}
	h.logger.Debug("Buffer destroyed", "index", idx, "last", empty)
	return nil, errors.Join(errs...)
}

func (h *Handler) bufQueue(p [cameraif.PayloadSize]byte) (any, error) {
	idx, err := decodeIndex(p)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.buffers[idx]
	if !ok {
		return nil, fmt.Errorf("buffer %d: %w", idx, ErrNotFound)
	}
	if b.inQueue || b.filled {
		return nil, NewError(syscall.EINVAL, fmt.Sprintf("buffer %d already queued", idx), nil)
	}
	b.inQueue = true
	h.fifo = append(h.fifo, idx)
	return nil, nil
}

func (h *Handler) bufDequeue(p [cameraif.PayloadSize]byte) (any, error) {
	idx, err := decodeIndex(p)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	b, ok := h.buffers[idx]
	if !ok {
		h.mu.Unlock()
		return nil, fmt.Errorf("buffer %d: %w", idx, ErrNotFound)
	}
	if !b.inQueue && !b.filled {
		h.mu.Unlock()
		return nil, NewError(syscall.EINVAL, fmt.Sprintf("buffer %d not queued", idx), nil)
	}
	b.inQueue = false
	b.filled = false
	h.fifo = slices.DeleteFunc(h.fifo, func(i uint32) bool { return i == idx })
	held, hwIndex := b.inHW, b.hwIndex
	b.inHW = false
	h.mu.Unlock()

	if held {
		return nil, h.broker.RecycleBuffer(hwIndex)
	}
	return nil, nil
}

func (h *Handler) ctrlEnum(p [cameraif.PayloadSize]byte) (any, error) {
	var req cameraif.Index
	if err := cameraif.DecodePayload(p, &req); err != nil {
		return nil, err
	}
	if int(req.Index) >= len(h.controls) {
		return nil, NewError(syscall.EINVAL, "No more assigned controls", nil)
	}

	name := h.controls[req.Index]
	info, err := h.broker.EnumerateControl(name)
	if err != nil {
		return nil, err
	}
	typ, err := cameraif.ControlTypeByName(name)
	if err != nil {
		return nil, err
	}
	return cameraif.CtrlEnumResp{
		Index:   req.Index,
		Type:    typ,
		Flags:   cameraif.FlagsFromV4L2(info.Flags),
		Min:     int64(info.Min),
		Max:     int64(info.Max),
		Step:    int64(info.Step),
		Default: int64(info.Default),
	}, nil
}

func (h *Handler) ctrlSet(p [cameraif.PayloadSize]byte) (any, error) {
	var req cameraif.CtrlValue
	if err := cameraif.DecodePayload(p, &req); err != nil {
		return nil, err
	}
	name, err := h.assigned(req.Type)
	if err != nil {
		return nil, err
	}
	return nil, h.broker.SetControl(h.domID, name, req.Value)
}

func (h *Handler) ctrlGet(p [cameraif.PayloadSize]byte) (any, error) {
	var req cameraif.CtrlType
	if err := cameraif.DecodePayload(p, &req); err != nil {
		return nil, err
	}
	name, err := h.assigned(req.Type)
	if err != nil {
		return nil, err
	}
	v, err := h.broker.GetControl(name)
	if err != nil {
		return nil, err
	}
	return cameraif.CtrlValue{Type: req.Type, Value: v}, nil
}

func (h *Handler) streamStart(_ [cameraif.PayloadSize]byte) (any, error) {
	h.mu.Lock()
	h.streaming = true
	h.mu.Unlock()

	if err := h.broker.StartStreaming(h.domID); err != nil {
		h.mu.Lock()
		h.streaming = false
		h.mu.Unlock()
		return nil, err
	}
	h.logger.Info("Streaming started")
	return nil, nil
}

func (h *Handler) streamStop(_ [cameraif.PayloadSize]byte) (any, error) {
	h.mu.Lock()
	h.streaming = false
	h.mu.Unlock()

	if err := h.broker.StopStreaming(h.domID); err != nil {
		return nil, err
	}
	h.logger.Info("Streaming stopped")
	return nil, nil
}
