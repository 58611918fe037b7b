package cameraif

import "encoding/binary"

// Payloads are encoded with encoding/binary; blank fields are the reserved
// bytes of the wire layout and are written as zeros.

// MaxPlanes is the number of plane slots in layout and buffer-create payloads.
const MaxPlanes = 4

// Config is the format and frame rate negotiated by config-set, config-get,
// config-validate and frame-rate-set.
type Config struct {
	PixelFormat        uint32
	Width              uint32
	Height             uint32
	Colorspace         uint32
	XferFunc           uint32
	YCbCrEnc           uint32
	Quantization       uint32
	DisplAspRatioNumer uint32
	DisplAspRatioDenom uint32
	FrameRateNumer     uint32
	FrameRateDenom     uint32
}

// Layout answers buffer-get-layout.
type Layout struct {
	NumPlanes   uint8
	_           [3]byte
	Size        uint32
	PlaneSize   [MaxPlanes]uint32
	PlaneStride [MaxPlanes]uint32
}

// BufRequest is both the buffer-request payload and its response.
type BufRequest struct {
	NumBufs uint8
	_       [3]byte
}

// BufCreate is the buffer-create payload.
type BufCreate struct {
	Index         uint8
	_             [3]byte
	PlaneOffset   [MaxPlanes]uint32
	GrefDirectory uint32
}

// Index is the payload of buffer-destroy, buffer-queue, buffer-dequeue and
// control-enum.
type Index struct {
	Index uint8
	_     [3]byte
}

// CtrlValue is the control-set payload, the control-get response and the
// control-changed event payload.
type CtrlValue struct {
	Type  ControlType
	_     [7]byte
	Value int64
}

// CtrlType is the control-get request payload.
type CtrlType struct {
	Type ControlType
	_    [7]byte
}

// CtrlEnumResp answers control-enum.
type CtrlEnumResp struct {
	Index   uint8
	Type    ControlType
	_       [2]byte
	Flags   uint32
	Min     int64
	Max     int64
	Step    int64
	Default int64
}

// FrameAvail is the frame-available event payload.
type FrameAvail struct {
	Index  uint8
	_      [3]byte
	UsedSz uint32
	SeqNum uint32
}

// DecodePayload decodes the leading bytes of payload into v, which must be a
// pointer to one of the payload types.
func DecodePayload(payload [PayloadSize]byte, v any) error {
	_, err := binary.Decode(payload[:], binary.LittleEndian, v)
	return err
}

// EncodePayload encodes v into a zero-padded payload.
func EncodePayload(v any) ([PayloadSize]byte, error) {
	var p [PayloadSize]byte
	_, err := binary.Encode(p[:], binary.LittleEndian, v)
	return p, err
}
