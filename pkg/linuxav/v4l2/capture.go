//go:build linux

package v4l2

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ErrNotCaptureDevice is returned by Open when the node cannot stream video capture.
var ErrNotCaptureDevice = errors.New("not a streaming video capture device")

// Device is an open V4L2 capture node. Methods are not safe for concurrent use.
type Device struct {
	path string
	fd   int
	cap  Capability
}

// Open opens a character device node and verifies it supports streaming capture.
func Open(path string) (*Device, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFCHR {
		return nil, fmt.Errorf("%s is not a character device: %w", path, unix.ENODEV)
	}

	fd, err := open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	d := &Device{path: path, fd: fd}

	d.cap, err = queryCapability(fd)
	if err != nil {
		closeFd(fd)
		return nil, fmt.Errorf("query capabilities of %s: %w", path, err)
	}

	caps := d.cap.Effective()
	if caps&CapVideoCapture == 0 || caps&CapStreaming == 0 {
		closeFd(fd)
		return nil, fmt.Errorf("%s: %w: %w", path, ErrNotCaptureDevice, unix.ENOTTY)
	}

	pix, err := d.Format()
	if err != nil || pix.Width == 0 || pix.Height == 0 {
		closeFd(fd)
		return nil, fmt.Errorf("%s: %w: %w", path, ErrNotCaptureDevice, unix.ENOTTY)
	}

	return d, nil
}

// Close releases the file descriptor.
func (d *Device) Close() error {
	if d.fd < 0 {
		return nil
	}
	err := closeFd(d.fd)
	d.fd = -1
	return err
}

// Path returns the device node path.
func (d *Device) Path() string { return d.path }

// Fd returns the underlying descriptor for use with poll(2).
func (d *Device) Fd() int { return d.fd }

// Capability returns the VIDIOC_QUERYCAP result captured at open.
func (d *Device) Capability() Capability { return d.cap }

// Format returns the current capture format.
func (d *Device) Format() (PixFormat, error) {
	f := v4l2Format{typ: BufTypeVideoCapture}
	if err := ioctl(d.fd, vidiocGFmt, unsafe.Pointer(&f)); err != nil {
		return PixFormat{}, err
	}
	return f.pix.toPublic(), nil
}

// SetFormat applies pix and returns what the driver actually chose.
func (d *Device) SetFormat(pix PixFormat) (PixFormat, error) {
	f := v4l2Format{typ: BufTypeVideoCapture, pix: pixFromPublic(pix)}
	if err := ioctl(d.fd, vidiocSFmt, unsafe.Pointer(&f)); err != nil {
		return PixFormat{}, err
	}
	return f.pix.toPublic(), nil
}

// TryFormat negotiates pix without changing device state.
func (d *Device) TryFormat(pix PixFormat) (PixFormat, error) {
	f := v4l2Format{typ: BufTypeVideoCapture, pix: pixFromPublic(pix)}
	if err := ioctl(d.fd, vidiocTryFmt, unsafe.Pointer(&f)); err != nil {
		return PixFormat{}, err
	}
	return f.pix.toPublic(), nil
}

// TimePerFrame returns the capture frame interval.
func (d *Device) TimePerFrame() (Fract, error) {
	p := v4l2Streamparm{typ: BufTypeVideoCapture}
	if err := ioctl(d.fd, vidiocGParm, unsafe.Pointer(&p)); err != nil {
		return Fract{}, err
	}
	return Fract{Numerator: p.capture.timeperframe.numerator, Denominator: p.capture.timeperframe.denominator}, nil
}

// SetTimePerFrame sets the capture frame interval and returns the applied value.
func (d *Device) SetTimePerFrame(tpf Fract) (Fract, error) {
	p := v4l2Streamparm{typ: BufTypeVideoCapture}
	p.capture.timeperframe = v4l2Fract{numerator: tpf.Numerator, denominator: tpf.Denominator}
	if err := ioctl(d.fd, vidiocSParm, unsafe.Pointer(&p)); err != nil {
		return Fract{}, err
	}
	return Fract{Numerator: p.capture.timeperframe.numerator, Denominator: p.capture.timeperframe.denominator}, nil
}

// QueryControls enumerates every enabled non-menu control.
func (d *Device) QueryControls() ([]ControlInfo, error) {
	var controls []ControlInfo
	id := uint32(CtrlFlagNextCtrl)
	for {
		q := v4l2Queryctrl{id: id}
		if err := ioctl(d.fd, vidiocQueryctrl, unsafe.Pointer(&q)); err != nil {
			if errors.Is(err, unix.EINVAL) {
				return controls, nil
			}
			return nil, err
		}
		id = q.id | CtrlFlagNextCtrl

		if q.flags&CtrlFlagDisabled != 0 || q.typ == CtrlTypeMenu {
			continue
		}
		controls = append(controls, ControlInfo{
			ID:      q.id,
			Type:    q.typ,
			Name:    cstr(q.name[:]),
			Minimum: q.minimum,
			Maximum: q.maximum,
			Step:    q.step,
			Default: q.defaultValue,
			Flags:   q.flags,
		})
	}
}

// QueryControl describes a single control by id.
func (d *Device) QueryControl(id uint32) (ControlInfo, error) {
	q := v4l2Queryctrl{id: id}
	if err := ioctl(d.fd, vidiocQueryctrl, unsafe.Pointer(&q)); err != nil {
		return ControlInfo{}, err
	}
	return ControlInfo{
		ID:      q.id,
		Type:    q.typ,
		Name:    cstr(q.name[:]),
		Minimum: q.minimum,
		Maximum: q.maximum,
		Step:    q.step,
		Default: q.defaultValue,
		Flags:   q.flags,
	}, nil
}

// ControlValue reads the current value of a control.
func (d *Device) ControlValue(id uint32) (int32, error) {
	c := v4l2Control{id: id}
	if err := ioctl(d.fd, vidiocGCtrl, unsafe.Pointer(&c)); err != nil {
		return 0, err
	}
	return c.value, nil
}

// SetControlValue writes a control.
func (d *Device) SetControlValue(id uint32, value int32) error {
	c := v4l2Control{id: id, value: value}
	return ioctl(d.fd, vidiocSCtrl, unsafe.Pointer(&c))
}

// RequestBuffers asks the driver for count mmap buffers and returns how many
// it allocated. A count of zero frees all buffers.
func (d *Device) RequestBuffers(count uint32) (uint32, error) {
	req := v4l2Requestbuffers{count: count, typ: BufTypeVideoCapture, memory: MemoryMmap}
	if err := ioctl(d.fd, vidiocReqbufs, unsafe.Pointer(&req)); err != nil {
		return 0, err
	}
	return req.count, nil
}

// MapBuffer queries buffer index and maps it into the process.
func (d *Device) MapBuffer(index uint32) ([]byte, error) {
	b := v4l2Buffer{index: index, typ: BufTypeVideoCapture, memory: MemoryMmap}
	if err := ioctl(d.fd, vidiocQuerybuf, unsafe.Pointer(&b)); err != nil {
		return nil, fmt.Errorf("query buffer %d: %w", index, err)
	}
	mem, err := unix.Mmap(d.fd, int64(b.offset()), int(b.length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap buffer %d: %w", index, err)
	}
	return mem, nil
}

// UnmapBuffer releases memory returned by MapBuffer.
func UnmapBuffer(mem []byte) error {
	return unix.Munmap(mem)
}

// QueueBuffer hands buffer index back to the driver.
func (d *Device) QueueBuffer(index uint32) error {
	b := v4l2Buffer{index: index, typ: BufTypeVideoCapture, memory: MemoryMmap}
	return ioctl(d.fd, vidiocQbuf, unsafe.Pointer(&b))
}

// DequeueBuffer takes the next filled buffer. It returns EAGAIN when none is ready.
func (d *Device) DequeueBuffer() (BufferInfo, error) {
	b := v4l2Buffer{typ: BufTypeVideoCapture, memory: MemoryMmap}
	if err := ioctl(d.fd, vidiocDqbuf, unsafe.Pointer(&b)); err != nil {
		return BufferInfo{}, err
	}
	return BufferInfo{Index: b.index, BytesUsed: b.bytesused, Sequence: b.sequence, Flags: b.flags}, nil
}

// StreamOn starts capture.
func (d *Device) StreamOn() error {
	typ := uint32(BufTypeVideoCapture)
	return ioctl(d.fd, vidiocStreamon, unsafe.Pointer(&typ))
}

// StreamOff stops capture and returns all buffers to the dequeued state.
func (d *Device) StreamOff() error {
	typ := uint32(BufTypeVideoCapture)
	return ioctl(d.fd, vidiocStreamoff, unsafe.Pointer(&typ))
}

// ExportBuffer returns a dma-buf descriptor for buffer index.
func (d *Device) ExportBuffer(index uint32) (int, error) {
	e := v4l2Exportbuffer{typ: BufTypeVideoCapture, index: index, flags: unix.O_RDWR | unix.O_CLOEXEC}
	if err := ioctl(d.fd, vidiocExpbuf, unsafe.Pointer(&e)); err != nil {
		return -1, err
	}
	return int(e.fd), nil
}

// WaitReadable blocks in poll(2) until a buffer is ready, timeoutMs elapses,
// or an error occurs. It reports whether the device became readable.
func (d *Device) WaitReadable(timeoutMs int) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(d.fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, timeoutMs)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return false, err
		}
		if n == 0 {
			return false, nil
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
			return false, fmt.Errorf("poll %s: revents 0x%x: %w", d.path, fds[0].Revents, unix.EIO)
		}
		return fds[0].Revents&unix.POLLIN != 0, nil
	}
}
