//go:build linux

package camera

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/smazurov/camback/internal/logging"
	"github.com/smazurov/camback/pkg/linuxav/v4l2"
)

const pollTimeoutMs = 200

// V4L2Device is a Device backed by a V4L2 capture node using mmap buffers.
type V4L2Device struct {
	mu       sync.Mutex
	dev      *v4l2.Device
	controls []Control
	logger   *slog.Logger

	bufs [][]byte

	qmu    sync.Mutex
	queued []bool

	stop chan struct{}
	done chan struct{}
}

func openV4L2(uniqueID string, opts OpenOptions) (Device, error) {
	return OpenV4L2(filepath.Join(opts.DevDir, uniqueID))
}

// OpenV4L2 opens the capture node at path and caches its controls.
func OpenV4L2(path string) (*V4L2Device, error) {
	dev, err := v4l2.Open(path)
	if err != nil {
		return nil, err
	}

	infos, err := dev.QueryControls()
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("enumerate controls of %s: %w", path, err)
	}

	d := &V4L2Device{
		dev:    dev,
		logger: logging.GetLogger("camera").With("device", path),
	}
	for _, info := range infos {
		d.controls = append(d.controls, Control{
			Name:    info.Name,
			ID:      info.ID,
			Type:    info.Type,
			Min:     info.Minimum,
			Max:     info.Maximum,
			Step:    info.Step,
			Default: info.Default,
			Flags:   info.Flags,
		})
	}

	capability := dev.Capability()
	d.logger.Info("Opened capture device",
		"driver", capability.Driver,
		"card", capability.Card,
		"bus", capability.BusInfo,
		"controls", len(d.controls))

	return d, nil
}

// Name returns the device node path.
func (d *V4L2Device) Name() string { return d.dev.Path() }

func (d *V4L2Device) Format() (v4l2.PixFormat, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dev.Format()
}

func (d *V4L2Device) SetFormat(pix v4l2.PixFormat) (v4l2.PixFormat, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out, err := d.dev.SetFormat(pix)
	if err != nil {
		return v4l2.PixFormat{}, fmt.Errorf("set format %s %dx%d: %w",
			v4l2.FormatFourCC(pix.PixelFormat), pix.Width, pix.Height, err)
	}
	d.logger.Debug("Format set", "fourcc", v4l2.FormatFourCC(out.PixelFormat), "width", out.Width, "height", out.Height, "size", out.SizeImage)
	return out, nil
}

func (d *V4L2Device) TryFormat(pix v4l2.PixFormat) (v4l2.PixFormat, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dev.TryFormat(pix)
}

func (d *V4L2Device) FrameRate() (v4l2.Fract, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	tpf, err := d.dev.TimePerFrame()
	if err != nil {
		return v4l2.Fract{}, err
	}
	return v4l2.Fract{Numerator: tpf.Denominator, Denominator: tpf.Numerator}, nil
}

func (d *V4L2Device) SetFrameRate(rate v4l2.Fract) (v4l2.Fract, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	tpf, err := d.dev.SetTimePerFrame(v4l2.Fract{Numerator: rate.Denominator, Denominator: rate.Numerator})
	if err != nil {
		return v4l2.Fract{}, fmt.Errorf("set frame rate %d/%d: %w", rate.Numerator, rate.Denominator, err)
	}
	return v4l2.Fract{Numerator: tpf.Denominator, Denominator: tpf.Numerator}, nil
}

func (d *V4L2Device) Controls() []Control {
	return append([]Control(nil), d.controls...)
}

func (d *V4L2Device) Control(name string) (Control, error) {
	return findControl(d.controls, name)
}

func (d *V4L2Device) ControlValue(name string) (int32, error) {
	c, err := findControl(d.controls, name)
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dev.ControlValue(c.ID)
}

func (d *V4L2Device) SetControlValue(name string, value int32) error {
	c, err := findControl(d.controls, name)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dev.SetControlValue(c.ID, value)
}

// minBuffers reads V4L2_CID_MIN_BUFFERS_FOR_CAPTURE, defaulting to 1.
func (d *V4L2Device) minBuffers() uint32 {
	v, err := d.dev.ControlValue(v4l2.CIDMinBuffersForCapture)
	if err != nil || v < 1 {
		return 1
	}
	return uint32(v)
}

// AllocateBuffers requests at least the driver minimum and maps every buffer.
func (d *V4L2Device) AllocateBuffers(count uint32) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stop != nil {
		return 0, ErrStreaming
	}
	if len(d.bufs) > 0 {
		d.releaseLocked()
	}

	count = max(count, d.minBuffers())
	n, err := d.dev.RequestBuffers(count)
	if err != nil {
		return 0, fmt.Errorf("request %d buffers: %w", count, err)
	}

	bufs := make([][]byte, 0, n)
	for i := range n {
		mem, err := d.dev.MapBuffer(i)
		if err != nil {
			for _, b := range bufs {
				_ = v4l2.UnmapBuffer(b)
			}
			_, _ = d.dev.RequestBuffers(0)
			return 0, err
		}
		bufs = append(bufs, mem)
	}

	d.bufs = bufs
	d.queued = make([]bool, n)
	d.logger.Debug("Buffers allocated", "requested", count, "allocated", n)
	return n, nil
}

func (d *V4L2Device) ReleaseBuffers() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return ErrStreaming
	}
	return d.releaseLocked()
}

func (d *V4L2Device) releaseLocked() error {
	for _, b := range d.bufs {
		_ = v4l2.UnmapBuffer(b)
	}
	d.bufs = nil
	d.queued = nil
	if _, err := d.dev.RequestBuffers(0); err != nil {
		return fmt.Errorf("free buffers: %w", err)
	}
	return nil
}

// StartCapture queues every buffer, turns streaming on and starts the
// capture goroutine.
func (d *V4L2Device) StartCapture(fn FrameFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stop != nil {
		return ErrStreaming
	}
	if len(d.bufs) == 0 {
		return ErrNoBuffers
	}

	d.qmu.Lock()
	for i := range d.bufs {
		if err := d.dev.QueueBuffer(uint32(i)); err != nil {
			d.qmu.Unlock()
			return fmt.Errorf("queue buffer %d: %w", i, err)
		}
		d.queued[i] = true
	}
	d.qmu.Unlock()

	if err := d.dev.StreamOn(); err != nil {
		return fmt.Errorf("stream on: %w", err)
	}

	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	go d.captureLoop(fn, d.stop, d.done)

	d.logger.Info("Capture started", "buffers", len(d.bufs))
	return nil
}

func (d *V4L2Device) captureLoop(fn FrameFunc, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-stop:
			return
		default:
		}

		ready, err := d.dev.WaitReadable(pollTimeoutMs)
		if err != nil {
			d.logger.Error("Poll failed", "error", err)
			select {
			case <-stop:
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if !ready {
			continue
		}

		d.qmu.Lock()
		buf, err := d.dev.DequeueBuffer()
		if err == nil {
			d.queued[buf.Index] = false
		}
		d.qmu.Unlock()
		if errors.Is(err, unix.EAGAIN) {
			continue
		}
		if err != nil {
			d.logger.Warn("Dequeue failed", "error", err)
			continue
		}

		frame := Frame{
			Index:     buf.Index,
			Data:      d.bufs[buf.Index],
			BytesUsed: buf.BytesUsed,
			Sequence:  buf.Sequence,
		}
		if fn(frame) {
			if err := d.RecycleBuffer(buf.Index); err != nil {
				d.logger.Warn("Requeue failed", "index", buf.Index, "error", err)
			}
		}
	}
}

// StopCapture stops the capture goroutine and turns streaming off. Held
// buffers are returned to the driver by the next StartCapture.
func (d *V4L2Device) StopCapture() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stop == nil {
		return ErrNotStreaming
	}
	close(d.stop)
	<-d.done
	d.stop, d.done = nil, nil

	d.qmu.Lock()
	err := d.dev.StreamOff()
	clear(d.queued)
	d.qmu.Unlock()
	if err != nil {
		return fmt.Errorf("stream off: %w", err)
	}

	d.logger.Info("Capture stopped")
	return nil
}

// RecycleBuffer hands a held buffer back to the driver. Recycling a buffer
// the driver already owns is a no-op.
func (d *V4L2Device) RecycleBuffer(index uint32) error {
	d.qmu.Lock()
	defer d.qmu.Unlock()
	if int(index) >= len(d.queued) {
		return fmt.Errorf("buffer %d: %w", index, unix.EINVAL)
	}
	if d.queued[index] {
		return nil
	}
	if err := d.dev.QueueBuffer(index); err != nil {
		return err
	}
	d.queued[index] = true
	return nil
}

// ExportBufferHandle returns a dma-buf descriptor for a capture buffer.
func (d *V4L2Device) ExportBufferHandle(index uint32) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dev.ExportBuffer(index)
}

func (d *V4L2Device) Close() error {
	if err := d.StopCapture(); err != nil && !errors.Is(err, ErrNotStreaming) {
		d.logger.Warn("Stop capture on close failed", "error", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.bufs) > 0 {
		_ = d.releaseLocked()
	}
	return d.dev.Close()
}
