package cameraif

import (
	"fmt"
	"syscall"

	"github.com/smazurov/camback/pkg/linuxav/v4l2"
)

// ControlType is the wire identifier of a camera control.
type ControlType uint8

// Control types.
const (
	CtrlBrightness ControlType = 0
	CtrlContrast   ControlType = 1
	CtrlSaturation ControlType = 2
	CtrlHue        ControlType = 3
)

// Control flags.
const (
	CtrlFlagRO       uint32 = 1 << 0
	CtrlFlagWO       uint32 = 1 << 1
	CtrlFlagVolatile uint32 = 1 << 2
)

// Colorspaces.
const (
	ColorspaceDefault   uint32 = 0
	ColorspaceSMPTE170M uint32 = 1
	ColorspaceREC709    uint32 = 2
	ColorspaceSRGB      uint32 = 3
	ColorspaceOPRGB     uint32 = 4
	ColorspaceBT2020    uint32 = 5
	ColorspaceDCIP3     uint32 = 6
)

// Transfer functions.
const (
	XferFuncDefault   uint32 = 0
	XferFunc709       uint32 = 1
	XferFuncSRGB      uint32 = 2
	XferFuncOPRGB     uint32 = 3
	XferFuncNone      uint32 = 4
	XferFuncDCIP3     uint32 = 5
	XferFuncSMPTE2084 uint32 = 6
)

// Y'CbCr encodings.
const (
	YCbCrEncIgnore        uint32 = 0
	YCbCrEnc601           uint32 = 1
	YCbCrEnc709           uint32 = 2
	YCbCrEncXV601         uint32 = 3
	YCbCrEncXV709         uint32 = 4
	YCbCrEncBT2020        uint32 = 5
	YCbCrEncBT2020ConstLu uint32 = 6
)

// Quantization ranges.
const (
	QuantizationDefault   uint32 = 0
	QuantizationFullRange uint32 = 1
	QuantizationLimRange  uint32 = 2
)

type mapping struct {
	wire uint32
	v4l2 uint32
}

type table struct {
	name    string
	entries []mapping
}

func (t table) toV4L2(wire uint32) (uint32, error) {
	for _, m := range t.entries {
		if m.wire == wire {
			return m.v4l2, nil
		}
	}
	return 0, fmt.Errorf("unsupported wire %s %d: %w", t.name, wire, syscall.EINVAL)
}

func (t table) toWire(v uint32) (uint32, error) {
	for _, m := range t.entries {
		if m.v4l2 == v {
			return m.wire, nil
		}
	}
	return 0, fmt.Errorf("unsupported V4L2 %s %d: %w", t.name, v, syscall.EINVAL)
}

var (
	colorspaces = table{"colorspace", []mapping{
		{ColorspaceDefault, v4l2.ColorspaceDefault},
		{ColorspaceSMPTE170M, v4l2.ColorspaceSMPTE170M},
		{ColorspaceREC709, v4l2.ColorspaceREC709},
		{ColorspaceSRGB, v4l2.ColorspaceSRGB},
		{ColorspaceOPRGB, v4l2.ColorspaceOPRGB},
		{ColorspaceBT2020, v4l2.ColorspaceBT2020},
		{ColorspaceDCIP3, v4l2.ColorspaceDCIP3},
	}}
	xferFuncs = table{"transfer function", []mapping{
		{XferFuncDefault, v4l2.XferFuncDefault},
		{XferFunc709, v4l2.XferFunc709},
		{XferFuncSRGB, v4l2.XferFuncSRGB},
		{XferFuncOPRGB, v4l2.XferFuncOPRGB},
		{XferFuncNone, v4l2.XferFuncNone},
		{XferFuncDCIP3, v4l2.XferFuncDCIP3},
		{XferFuncSMPTE2084, v4l2.XferFuncSMPTE2084},
	}}
	ycbcrEncs = table{"Y'CbCr encoding", []mapping{
		{YCbCrEncIgnore, v4l2.YCbCrEncDefault},
		{YCbCrEnc601, v4l2.YCbCrEnc601},
		{YCbCrEnc709, v4l2.YCbCrEnc709},
		{YCbCrEncXV601, v4l2.YCbCrEncXV601},
		{YCbCrEncXV709, v4l2.YCbCrEncXV709},
		{YCbCrEncBT2020, v4l2.YCbCrEncBT2020},
		{YCbCrEncBT2020ConstLu, v4l2.YCbCrEncBT2020ConstLum},
	}}
	quantizations = table{"quantization", []mapping{
		{QuantizationDefault, v4l2.QuantizationDefault},
		{QuantizationFullRange, v4l2.QuantizationFullRange},
		{QuantizationLimRange, v4l2.QuantizationLimRange},
	}}
	controlIDs = table{"control", []mapping{
		{uint32(CtrlBrightness), v4l2.CIDBrightness},
		{uint32(CtrlContrast), v4l2.CIDContrast},
		{uint32(CtrlSaturation), v4l2.CIDSaturation},
		{uint32(CtrlHue), v4l2.CIDHue},
	}}
)

var controlNames = map[ControlType]string{
	CtrlBrightness: "brightness",
	CtrlContrast:   "contrast",
	CtrlSaturation: "saturation",
	CtrlHue:        "hue",
}

// ControlName returns the control name for a wire control type.
func ControlName(t ControlType) (string, error) {
	name, ok := controlNames[t]
	if !ok {
		return "", fmt.Errorf("unsupported control type %d: %w", t, syscall.EINVAL)
	}
	return name, nil
}

// ControlTypeByName returns the wire control type for a control name.
func ControlTypeByName(name string) (ControlType, error) {
	for t, n := range controlNames {
		if n == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unsupported control %q: %w", name, syscall.EINVAL)
}

// ControlCID returns the V4L2 control id for a wire control type.
func ControlCID(t ControlType) (uint32, error) {
	return controlIDs.toV4L2(uint32(t))
}

// ControlTypeFromCID returns the wire control type for a V4L2 control id.
func ControlTypeFromCID(cid uint32) (ControlType, error) {
	t, err := controlIDs.toWire(cid)
	return ControlType(t), err
}

// FlagsFromV4L2 converts V4L2 control flags to wire control flags.
func FlagsFromV4L2(flags uint32) uint32 {
	var out uint32
	if flags&v4l2.CtrlFlagReadOnly != 0 {
		out |= CtrlFlagRO
	}
	if flags&v4l2.CtrlFlagWriteOnly != 0 {
		out |= CtrlFlagWO
	}
	if flags&v4l2.CtrlFlagVolatile != 0 {
		out |= CtrlFlagVolatile
	}
	return out
}

// FlagsToV4L2 converts wire control flags to V4L2 control flags.
func FlagsToV4L2(flags uint32) uint32 {
	var out uint32
	if flags&CtrlFlagRO != 0 {
		out |= v4l2.CtrlFlagReadOnly
	}
	if flags&CtrlFlagWO != 0 {
		out |= v4l2.CtrlFlagWriteOnly
	}
	if flags&CtrlFlagVolatile != 0 {
		out |= v4l2.CtrlFlagVolatile
	}
	return out
}

// ToPixFormat converts a wire config into the V4L2 format it requests.
func ToPixFormat(c Config) (v4l2.PixFormat, error) {
	pix := v4l2.PixFormat{
		Width:       c.Width,
		Height:      c.Height,
		PixelFormat: c.PixelFormat,
		Field:       v4l2.FieldAny,
	}
	var err error
	if pix.Colorspace, err = colorspaces.toV4L2(c.Colorspace); err != nil {
		return v4l2.PixFormat{}, err
	}
	if pix.XferFunc, err = xferFuncs.toV4L2(c.XferFunc); err != nil {
		return v4l2.PixFormat{}, err
	}
	if pix.YCbCrEnc, err = ycbcrEncs.toV4L2(c.YCbCrEnc); err != nil {
		return v4l2.PixFormat{}, err
	}
	if pix.Quantization, err = quantizations.toV4L2(c.Quantization); err != nil {
		return v4l2.PixFormat{}, err
	}
	return pix, nil
}

// FromPixFormat builds the wire config describing a V4L2 format and frame
// rate. The display aspect ratio is always reported as 1/1.
func FromPixFormat(pix v4l2.PixFormat, rate v4l2.Fract) (Config, error) {
	c := Config{
		PixelFormat:        pix.PixelFormat,
		Width:              pix.Width,
		Height:             pix.Height,
		DisplAspRatioNumer: 1,
		DisplAspRatioDenom: 1,
		FrameRateNumer:     rate.Numerator,
		FrameRateDenom:     rate.Denominator,
	}
	var err error
	if c.Colorspace, err = colorspaces.toWire(pix.Colorspace); err != nil {
		return Config{}, err
	}
	if c.XferFunc, err = xferFuncs.toWire(pix.XferFunc); err != nil {
		return Config{}, err
	}
	if c.YCbCrEnc, err = ycbcrEncs.toWire(pix.YCbCrEnc); err != nil {
		return Config{}, err
	}
	if c.Quantization, err = quantizations.toWire(pix.Quantization); err != nil {
		return Config{}, err
	}
	return c, nil
}

// FrameRate returns the frame rate requested by c in frames per second.
func (c Config) FrameRate() v4l2.Fract {
	return v4l2.Fract{Numerator: c.FrameRateNumer, Denominator: c.FrameRateDenom}
}

// LayoutFromPixFormat builds the single-plane buffer layout for pix.
func LayoutFromPixFormat(pix v4l2.PixFormat) Layout {
	l := Layout{NumPlanes: 1, Size: pix.SizeImage}
	l.PlaneSize[0] = pix.SizeImage
	l.PlaneStride[0] = pix.BytesPerLine
	return l
}
