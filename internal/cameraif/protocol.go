// Package cameraif implements the paravirtual camera wire protocol: fixed
// 64-byte little-endian request, response and event records exchanged with a
// guest frontend, their payloads, and the mapping between wire enumerations
// and V4L2 values.
package cameraif

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Record sizes.
const (
	RecordSize  = 64
	PayloadSize = 56
)

// ErrShortRecord is returned when decoding fewer than RecordSize bytes.
var ErrShortRecord = errors.New("cameraif: short record")

// Op is a request operation code.
type Op uint8

// Operation codes.
const (
	OpConfigSet      Op = 0x00
	OpConfigGet      Op = 0x01
	OpConfigValidate Op = 0x02
	OpFrameRateSet   Op = 0x03
	OpBufGetLayout   Op = 0x04
	OpBufRequest     Op = 0x05
	OpBufCreate      Op = 0x06
	OpBufDestroy     Op = 0x07
	OpBufQueue       Op = 0x08
	OpBufDequeue     Op = 0x09
	OpCtrlEnum       Op = 0x0a
	OpCtrlSet        Op = 0x0b
	OpCtrlGet        Op = 0x0c
	OpStreamStart    Op = 0x0d
	OpStreamStop     Op = 0x0e
)

var opNames = map[Op]string{
	OpConfigSet:      "config-set",
	OpConfigGet:      "config-get",
	OpConfigValidate: "config-validate",
	OpFrameRateSet:   "frame-rate-set",
	OpBufGetLayout:   "buffer-get-layout",
	OpBufRequest:     "buffer-request",
	OpBufCreate:      "buffer-create",
	OpBufDestroy:     "buffer-destroy",
	OpBufQueue:       "buffer-queue",
	OpBufDequeue:     "buffer-dequeue",
	OpCtrlEnum:       "control-enum",
	OpCtrlSet:        "control-set",
	OpCtrlGet:        "control-get",
	OpStreamStart:    "stream-start",
	OpStreamStop:     "stream-stop",
}

func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("op(0x%02x)", uint8(o))
}

// EventType identifies an asynchronous event.
type EventType uint8

// Event types.
const (
	EventFrameAvail EventType = 0x00
	EventCtrlChange EventType = 0x01
)

func (t EventType) String() string {
	switch t {
	case EventFrameAvail:
		return "frame-available"
	case EventCtrlChange:
		return "control-changed"
	default:
		return fmt.Sprintf("event(0x%02x)", uint8(t))
	}
}

// Request is a guest to backend command.
type Request struct {
	ID      uint16
	Op      Op
	Payload [PayloadSize]byte
}

// Response answers the Request with the same ID and Op.
type Response struct {
	ID      uint16
	Op      Op
	Status  int32
	Payload [PayloadSize]byte
}

// Event is a one-way backend to guest notification.
type Event struct {
	ID      uint16
	Type    EventType
	Payload [PayloadSize]byte
}

// DecodeRequest parses a request record.
func DecodeRequest(b []byte) (Request, error) {
	if len(b) < RecordSize {
		return Request{}, fmt.Errorf("%w: %d bytes", ErrShortRecord, len(b))
	}
	var r Request
	r.ID = binary.LittleEndian.Uint16(b[0:2])
	r.Op = Op(b[2])
	copy(r.Payload[:], b[8:RecordSize])
	return r, nil
}

// Marshal encodes the request into a new record.
func (r Request) Marshal() []byte {
	b := make([]byte, RecordSize)
	binary.LittleEndian.PutUint16(b[0:2], r.ID)
	b[2] = byte(r.Op)
	copy(b[8:], r.Payload[:])
	return b
}

// requestHeaderSize covers the id and op of a request record.
const requestHeaderSize = 3

// DecodeRequestHeader reads only the id and op, for answering a record too
// short to decode in full. It reports false when even those are missing.
func DecodeRequestHeader(b []byte) (Request, bool) {
	if len(b) < requestHeaderSize {
		return Request{}, false
	}
	return Request{ID: binary.LittleEndian.Uint16(b[0:2]), Op: Op(b[2])}, true
}

// NewResponse returns a response echoing the request's ID and Op.
func NewResponse(req Request) Response {
	return Response{ID: req.ID, Op: req.Op}
}

// DecodeResponse parses a response record.
func DecodeResponse(b []byte) (Response, error) {
	if len(b) < RecordSize {
		return Response{}, fmt.Errorf("%w: %d bytes", ErrShortRecord, len(b))
	}
	var r Response
	r.ID = binary.LittleEndian.Uint16(b[0:2])
	r.Op = Op(b[2])
	r.Status = int32(binary.LittleEndian.Uint32(b[4:8]))
	copy(r.Payload[:], b[8:RecordSize])
	return r, nil
}

// Marshal encodes the response into a new record.
func (r Response) Marshal() []byte {
	b := make([]byte, RecordSize)
	binary.LittleEndian.PutUint16(b[0:2], r.ID)
	b[2] = byte(r.Op)
	binary.LittleEndian.PutUint32(b[4:8], uint32(r.Status))
	copy(b[8:], r.Payload[:])
	return b
}

// DecodeEvent parses an event record.
func DecodeEvent(b []byte) (Event, error) {
	if len(b) < RecordSize {
		return Event{}, fmt.Errorf("%w: %d bytes", ErrShortRecord, len(b))
	}
	var e Event
	e.ID = binary.LittleEndian.Uint16(b[0:2])
	e.Type = EventType(b[2])
	copy(e.Payload[:], b[8:RecordSize])
	return e, nil
}

// Marshal encodes the event into a new record.
func (e Event) Marshal() []byte {
	b := make([]byte, RecordSize)
	binary.LittleEndian.PutUint16(b[0:2], e.ID)
	b[2] = byte(e.Type)
	copy(b[8:], e.Payload[:])
	return b
}
