package camera

import (
	"fmt"
	"log/slog"
	"sync"
	"syscall"
	"time"

	"github.com/smazurov/camback/internal/logging"
	"github.com/smazurov/camback/pkg/linuxav/v4l2"
)

// PatternDevice is a synthetic capture device producing moving color bars.
// It lets frontends be exercised without hardware.
type PatternDevice struct {
	name   string
	logger *slog.Logger

	mu       sync.Mutex
	pix      v4l2.PixFormat
	rate     v4l2.Fract
	controls []Control
	values   map[uint32]int32
	bufs     [][]byte
	held     []bool
	next     int
	seq      uint32
	fn       FrameFunc
	stop     chan struct{}
	done     chan struct{}
}

// NewPatternDevice returns a pattern source at 640x480 YUYV, 30 fps.
func NewPatternDevice(name string) *PatternDevice {
	d := &PatternDevice{
		name:   name,
		logger: logging.GetLogger("camera").With("device", name),
		rate:   v4l2.Fract{Numerator: 30, Denominator: 1},
		controls: []Control{
			{Name: "Brightness", ID: v4l2.CIDBrightness, Type: v4l2.CtrlTypeInteger, Min: 0, Max: 255, Step: 1, Default: 128, Flags: v4l2.CtrlFlagSlider},
			{Name: "Contrast", ID: v4l2.CIDContrast, Type: v4l2.CtrlTypeInteger, Min: 0, Max: 255, Step: 1, Default: 128, Flags: v4l2.CtrlFlagSlider},
			{Name: "Saturation", ID: v4l2.CIDSaturation, Type: v4l2.CtrlTypeInteger, Min: 0, Max: 255, Step: 1, Default: 128, Flags: v4l2.CtrlFlagSlider},
			{Name: "Hue", ID: v4l2.CIDHue, Type: v4l2.CtrlTypeInteger, Min: -180, Max: 180, Step: 1, Default: 0, Flags: v4l2.CtrlFlagSlider},
		},
		values: make(map[uint32]int32),
	}
	for _, c := range d.controls {
		d.values[c.ID] = c.Default
	}
	d.pix, _ = d.TryFormat(v4l2.PixFormat{Width: 640, Height: 480, PixelFormat: v4l2.PixFmtYUYV, Colorspace: v4l2.ColorspaceSRGB})
	return d
}

func (d *PatternDevice) Name() string { return d.name }

func (d *PatternDevice) Format() (v4l2.PixFormat, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pix, nil
}

// TryFormat rounds the size to even values within 16..4096 and falls back
// to YUYV for pixel formats it cannot render.
func (d *PatternDevice) TryFormat(pix v4l2.PixFormat) (v4l2.PixFormat, error) {
	switch pix.PixelFormat {
	case v4l2.PixFmtYUYV, v4l2.PixFmtUYVY, v4l2.PixFmtNV12, v4l2.PixFmtRGB24:
	default:
		pix.PixelFormat = v4l2.PixFmtYUYV
	}
	pix.Width = min(max(pix.Width, 16), 4096) &^ 1
	pix.Height = min(max(pix.Height, 16), 4096) &^ 1
	pix.Field = v4l2.FieldNone
	pix.BytesPerLine, pix.SizeImage = FrameSize(pix.PixelFormat, pix.Width, pix.Height)
	return pix, nil
}

func (d *PatternDevice) SetFormat(pix v4l2.PixFormat) (v4l2.PixFormat, error) {
	out, _ := d.TryFormat(pix)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil || len(d.bufs) > 0 {
		return v4l2.PixFormat{}, fmt.Errorf("set format: %w", syscall.EBUSY)
	}
	d.pix = out
	return out, nil
}

func (d *PatternDevice) FrameRate() (v4l2.Fract, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rate, nil
}

// SetFrameRate accepts 1 to 120 frames per second.
func (d *PatternDevice) SetFrameRate(rate v4l2.Fract) (v4l2.Fract, error) {
	if rate.Numerator == 0 || rate.Denominator == 0 {
		return v4l2.Fract{}, fmt.Errorf("frame rate %d/%d: %w", rate.Numerator, rate.Denominator, syscall.EINVAL)
	}
	fps := float64(rate.Numerator) / float64(rate.Denominator)
	if fps < 1 || fps > 120 {
		return v4l2.Fract{}, fmt.Errorf("frame rate %.2f out of range: %w", fps, syscall.EINVAL)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rate = rate
	return rate, nil
}

func (d *PatternDevice) Controls() []Control {
	return append([]Control(nil), d.controls...)
}

func (d *PatternDevice) Control(name string) (Control, error) {
	return findControl(d.controls, name)
}

func (d *PatternDevice) ControlValue(name string) (int32, error) {
	c, err := findControl(d.controls, name)
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.values[c.ID], nil
}

func (d *PatternDevice) SetControlValue(name string, value int32) error {
	c, err := findControl(d.controls, name)
	if err != nil {
		return err
	}
	if value < c.Min || value > c.Max {
		return fmt.Errorf("control %s value %d outside [%d, %d]: %w", name, value, c.Min, c.Max, syscall.ERANGE)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.values[c.ID] = value
	return nil
}

func (d *PatternDevice) AllocateBuffers(count uint32) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return 0, ErrStreaming
	}
	count = max(count, 1)
	d.bufs = make([][]byte, count)
	for i := range d.bufs {
		d.bufs[i] = make([]byte, d.pix.SizeImage)
	}
	d.held = make([]bool, count)
	d.next = 0
	return count, nil
}

func (d *PatternDevice) ReleaseBuffers() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return ErrStreaming
	}
	d.bufs, d.held = nil, nil
	return nil
}

// StartCapture begins producing frames at the current frame rate.
func (d *PatternDevice) StartCapture(fn FrameFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return ErrStreaming
	}
	if len(d.bufs) == 0 {
		return ErrNoBuffers
	}
	clear(d.held)
	d.fn = fn
	d.stop = make(chan struct{})
	d.done = make(chan struct{})

	interval := time.Duration(float64(time.Second) * float64(d.rate.Denominator) / float64(d.rate.Numerator))
	go d.run(interval, d.stop, d.done)
	d.logger.Info("Pattern capture started", "interval", interval)
	return nil
}

func (d *PatternDevice) run(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			d.CaptureOnce()
		}
	}
}

// CaptureOnce renders one frame into the next free buffer and delivers it.
// It reports false when capture is stopped or every buffer is held.
func (d *PatternDevice) CaptureOnce() bool {
	d.mu.Lock()
	if d.fn == nil || len(d.bufs) == 0 {
		d.mu.Unlock()
		return false
	}
	index := -1
	for i := range d.bufs {
		j := (d.next + i) % len(d.bufs)
		if !d.held[j] {
			index = j
			break
		}
	}
	if index < 0 {
		d.mu.Unlock()
		return false
	}
	d.next = (index + 1) % len(d.bufs)
	d.held[index] = true
	d.seq++
	frame := Frame{Index: uint32(index), Data: d.bufs[index], BytesUsed: d.pix.SizeImage, Sequence: d.seq}
	renderBars(frame.Data, d.pix, d.seq, d.values[v4l2.CIDBrightness])
	fn := d.fn
	d.mu.Unlock()

	if fn(frame) {
		_ = d.RecycleBuffer(frame.Index)
	}
	return true
}

func (d *PatternDevice) StopCapture() error {
	d.mu.Lock()
	if d.stop == nil {
		d.mu.Unlock()
		return ErrNotStreaming
	}
	stop, done := d.stop, d.done
	d.stop, d.done, d.fn = nil, nil, nil
	d.mu.Unlock()

	close(stop)
	<-done
	d.logger.Info("Pattern capture stopped")
	return nil
}

func (d *PatternDevice) RecycleBuffer(index uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if int(index) >= len(d.held) {
		return fmt.Errorf("buffer %d: %w", index, syscall.EINVAL)
	}
	d.held[index] = false
	return nil
}

func (d *PatternDevice) ExportBufferHandle(index uint32) (int, error) {
	return -1, fmt.Errorf("export buffer %d: %w", index, syscall.ENOTSUP)
}

func (d *PatternDevice) Close() error {
	_ = d.StopCapture()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bufs, d.held = nil, nil
	return nil
}

// 75% color bars in Y'CbCr: white, yellow, cyan, green, magenta, red, blue, black.
var barsYUV = [8][3]byte{
	{180, 128, 128},
	{162, 44, 142},
	{131, 156, 44},
	{112, 72, 58},
	{84, 184, 198},
	{65, 100, 212},
	{35, 212, 114},
	{16, 128, 128},
}

func renderBars(buf []byte, pix v4l2.PixFormat, seq uint32, brightness int32) {
	w := int(pix.Width)
	h := int(pix.Height)
	shift := int(seq) % max(w, 1)
	adjust := int(brightness) - 128

	bar := func(x int) [3]byte {
		c := barsYUV[((x+shift)%w)*8/w]
		c[0] = byte(min(max(int(c[0])+adjust, 16), 235))
		return c
	}

	switch pix.PixelFormat {
	case v4l2.PixFmtYUYV, v4l2.PixFmtUYVY:
		stride := int(pix.BytesPerLine)
		for x := 0; x < w; x += 2 {
			c := bar(x)
			px := [4]byte{c[0], c[1], c[0], c[2]}
			if pix.PixelFormat == v4l2.PixFmtUYVY {
				px = [4]byte{c[1], c[0], c[2], c[0]}
			}
			copy(buf[x*2:], px[:])
		}
		for y := 1; y < h; y++ {
			copy(buf[y*stride:(y+1)*stride], buf[:stride])
		}
	case v4l2.PixFmtNV12:
		for x := 0; x < w; x++ {
			buf[x] = bar(x)[0]
		}
		chroma := buf[w*h:]
		for x := 0; x < w; x += 2 {
			c := bar(x)
			chroma[x], chroma[x+1] = c[1], c[2]
		}
		for y := 1; y < h; y++ {
			copy(buf[y*w:(y+1)*w], buf[:w])
		}
		for y := 1; y < h/2; y++ {
			copy(chroma[y*w:(y+1)*w], chroma[:w])
		}
	default:
		for i := range buf {
			buf[i] = byte(int(seq) + i/3)
		}
	}
}
