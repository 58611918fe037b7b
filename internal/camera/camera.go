// Package camera defines the capture device consumed by the broker and its
// implementations: V4L2 hardware and a synthetic test pattern source.
package camera

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
	"unsafe"

	"github.com/smazurov/camback/internal/cameraif"
	"github.com/smazurov/camback/pkg/linuxav/v4l2"
)

// PatternPrefix selects the synthetic device when a unique id starts with it.
const PatternPrefix = "pattern"

var (
	// ErrNotStreaming is returned when stopping a device that is not capturing.
	ErrNotStreaming = errors.New("capture not running")
	// ErrStreaming is returned when a call requires capture to be stopped.
	ErrStreaming = fmt.Errorf("capture running: %w", syscall.EBUSY)
	// ErrNoBuffers is returned when capture starts without allocated buffers.
	ErrNoBuffers = fmt.Errorf("no capture buffers allocated: %w", syscall.EINVAL)
)

// Frame is one captured buffer handed to a FrameFunc.
type Frame struct {
	Index     uint32
	Data      []byte
	BytesUsed uint32
	Sequence  uint32
}

// Payload returns the bytes written by the device.
func (f Frame) Payload() []byte {
	n := min(int(f.BytesUsed), len(f.Data))
	return f.Data[:n]
}

// Addr returns the address of the capture buffer for identity comparison.
func (f Frame) Addr() uintptr {
	if len(f.Data) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(unsafe.SliceData(f.Data)))
}

// FrameFunc receives each captured frame on the capture goroutine. It
// returns true if the buffer may be handed back to the device right away;
// false keeps it out until RecycleBuffer.
type FrameFunc func(Frame) bool

// Control describes one device control.
type Control struct {
	Name    string
	ID      uint32
	Type    uint32
	Min     int32
	Max     int32
	Step    int32
	Default int32
	Flags   uint32
}

// Device is a capture device. Implementations serialize their own calls; the
// FrameFunc runs on a goroutine owned by the device.
type Device interface {
	Name() string

	Format() (v4l2.PixFormat, error)
	SetFormat(pix v4l2.PixFormat) (v4l2.PixFormat, error)
	TryFormat(pix v4l2.PixFormat) (v4l2.PixFormat, error)

	// FrameRate and SetFrameRate work in frames per second, not intervals.
	FrameRate() (v4l2.Fract, error)
	SetFrameRate(rate v4l2.Fract) (v4l2.Fract, error)

	Controls() []Control
	Control(name string) (Control, error)
	ControlValue(name string) (int32, error)
	SetControlValue(name string, value int32) error

	AllocateBuffers(count uint32) (uint32, error)
	ReleaseBuffers() error

	StartCapture(fn FrameFunc) error
	StopCapture() error
	RecycleBuffer(index uint32) error
	ExportBufferHandle(index uint32) (int, error)

	Close() error
}

// OpenOptions configure Open.
type OpenOptions struct {
	DevDir string // directory holding device nodes, /dev by default
}

// Open resolves a unique id to a device: ids starting with PatternPrefix
// give a PatternDevice, anything else is a V4L2 node under DevDir.
func Open(uniqueID string, opts OpenOptions) (Device, error) {
	if strings.HasPrefix(uniqueID, PatternPrefix) {
		return NewPatternDevice(uniqueID), nil
	}
	if opts.DevDir == "" {
		opts.DevDir = "/dev"
	}
	return openV4L2(uniqueID, opts)
}

// controlCID resolves a control name to its V4L2 id.
func controlCID(name string) (uint32, error) {
	typ, err := cameraif.ControlTypeByName(name)
	if err != nil {
		return 0, err
	}
	return cameraif.ControlCID(typ)
}

func findControl(controls []Control, name string) (Control, error) {
	cid, err := controlCID(name)
	if err != nil {
		return Control{}, err
	}
	for _, c := range controls {
		if c.ID == cid {
			c.Name = name
			return c, nil
		}
	}
	return Control{}, fmt.Errorf("control %q not supported by device: %w", name, syscall.EINVAL)
}

// FrameSize returns the bytes per image for a pixel format at the given size.
func FrameSize(pixelFormat, width, height uint32) (bytesPerLine, sizeImage uint32) {
	switch pixelFormat {
	case v4l2.PixFmtNV12:
		return width, width * height * 3 / 2
	case v4l2.PixFmtRGB24:
		return width * 3, width * height * 3
	default:
		return width * 2, width * height * 2
	}
}
