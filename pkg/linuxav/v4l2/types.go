package v4l2

// DeviceInfo contains information about a V4L2 device.
type DeviceInfo struct {
	DevicePath string
	DeviceName string
	DeviceID   string // Stable identifier (from /dev/v4l/by-id/ or synthetic)
	Driver     string
	BusInfo    string
	Caps       uint32
}

// Node returns the device node name, e.g. "video0".
func (d DeviceInfo) Node() string {
	for i := len(d.DevicePath) - 1; i >= 0; i-- {
		if d.DevicePath[i] == '/' {
			return d.DevicePath[i+1:]
		}
	}
	return d.DevicePath
}

// FormatInfo contains information about a supported pixel format.
type FormatInfo struct {
	PixelFormat uint32
	FormatName  string
	Emulated    bool
}

// Resolution represents a supported video resolution.
type Resolution struct {
	Width  uint32
	Height uint32
}

// Framerate represents a frame interval as a fraction of a second.
type Framerate struct {
	Numerator   uint32
	Denominator uint32
}

// FPS returns the framerate as frames per second.
func (f Framerate) FPS() float64 {
	if f.Numerator == 0 {
		return 0
	}
	return float64(f.Denominator) / float64(f.Numerator)
}

// Capability is the result of VIDIOC_QUERYCAP.
type Capability struct {
	Driver       string
	Card         string
	BusInfo      string
	Version      uint32
	Capabilities uint32
	DeviceCaps   uint32
}

// Effective returns the device caps if the driver reports them, else the global caps.
func (c Capability) Effective() uint32 {
	if c.Capabilities&CapDeviceCaps != 0 {
		return c.DeviceCaps
	}
	return c.Capabilities
}

// PixFormat mirrors struct v4l2_pix_format.
type PixFormat struct {
	Width        uint32
	Height       uint32
	PixelFormat  uint32
	Field        uint32
	BytesPerLine uint32
	SizeImage    uint32
	Colorspace   uint32
	YCbCrEnc     uint32
	Quantization uint32
	XferFunc     uint32
}

// Fract is a V4L2 fraction.
type Fract struct {
	Numerator   uint32
	Denominator uint32
}

// ControlInfo describes one device control returned by VIDIOC_QUERYCTRL.
type ControlInfo struct {
	ID      uint32
	Type    uint32
	Name    string
	Minimum int32
	Maximum int32
	Step    int32
	Default int32
	Flags   uint32
}

// BufferInfo describes a dequeued capture buffer.
type BufferInfo struct {
	Index     uint32
	BytesUsed uint32
	Sequence  uint32
	Flags     uint32
}

// Capability flags.
const (
	CapVideoCapture = 0x00000001
	CapStreaming    = 0x04000000
	CapDeviceCaps   = 0x80000000
)

// Format flags.
const (
	FmtFlagEmulated = 0x0002
)

// Common pixel formats.
const (
	PixFmtYUYV  = 0x56595559 // 'YUYV'
	PixFmtUYVY  = 0x59565955 // 'UYVY'
	PixFmtMJPEG = 0x47504A4D // 'MJPG'
	PixFmtH264  = 0x34363248 // 'H264'
	PixFmtNV12  = 0x3231564E // 'NV12'
	PixFmtRGB24 = 0x33424752 // 'RGB3'
)

// Frame size types.
const (
	FrmsizeTypeDiscrete   = 1
	FrmsizeTypeContinuous = 2
	FrmsizeTypeStepwise   = 3
)

// Frame interval types.
const (
	FrmivalTypeDiscrete   = 1
	FrmivalTypeContinuous = 2
	FrmivalTypeStepwise   = 3
)

// Buffer types, memory types and fields.
const (
	BufTypeVideoCapture = 1
	MemoryMmap          = 1
	FieldAny            = 0
	FieldNone           = 1
)

// Control ids.
const (
	CIDBase                 = 0x00980900
	CIDBrightness           = CIDBase + 0
	CIDContrast             = CIDBase + 1
	CIDSaturation           = CIDBase + 2
	CIDHue                  = CIDBase + 3
	CIDMinBuffersForCapture = CIDBase + 39
)

// Control types.
const (
	CtrlTypeInteger     = 1
	CtrlTypeBoolean     = 2
	CtrlTypeMenu        = 3
	CtrlTypeButton      = 4
	CtrlTypeInteger64   = 5
	CtrlTypeCtrlClass   = 6
	CtrlTypeString      = 7
	CtrlTypeBitmask     = 8
	CtrlTypeIntegerMenu = 9
)

// Control flags.
const (
	CtrlFlagDisabled  = 0x0001
	CtrlFlagGrabbed   = 0x0002
	CtrlFlagReadOnly  = 0x0004
	CtrlFlagUpdate    = 0x0008
	CtrlFlagInactive  = 0x0010
	CtrlFlagSlider    = 0x0020
	CtrlFlagWriteOnly = 0x0040
	CtrlFlagVolatile  = 0x0080
	CtrlFlagNextCtrl  = 0x80000000
)

// Colorspaces.
const (
	ColorspaceDefault     = 0
	ColorspaceSMPTE170M   = 1
	ColorspaceSMPTE240M   = 2
	ColorspaceREC709      = 3
	ColorspaceBT878       = 4
	Colorspace470SystemM  = 5
	Colorspace470SystemBG = 6
	ColorspaceJPEG        = 7
	ColorspaceSRGB        = 8
	ColorspaceOPRGB       = 9
	ColorspaceBT2020      = 10
	ColorspaceRaw         = 11
	ColorspaceDCIP3       = 12
)

// Transfer functions.
const (
	XferFuncDefault   = 0
	XferFunc709       = 1
	XferFuncSRGB      = 2
	XferFuncOPRGB     = 3
	XferFuncSMPTE240M = 4
	XferFuncNone      = 5
	XferFuncDCIP3     = 6
	XferFuncSMPTE2084 = 7
)

// Y'CbCr encodings.
const (
	YCbCrEncDefault        = 0
	YCbCrEnc601            = 1
	YCbCrEnc709            = 2
	YCbCrEncXV601          = 3
	YCbCrEncXV709          = 4
	YCbCrEncSYCC           = 5
	YCbCrEncBT2020         = 6
	YCbCrEncBT2020ConstLum = 7
	YCbCrEncSMPTE240M      = 8
)

// Quantization ranges.
const (
	QuantizationDefault   = 0
	QuantizationFullRange = 1
	QuantizationLimRange  = 2
)
