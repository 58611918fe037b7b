package session

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/smazurov/camback/internal/broker"
	"github.com/smazurov/camback/internal/camera"
	"github.com/smazurov/camback/internal/cameraif"
	"github.com/smazurov/camback/internal/grant"
	"github.com/smazurov/camback/pkg/linuxav/v4l2"
)

type recordingSender struct {
	mu     sync.Mutex
	events []cameraif.Event
}

func (r *recordingSender) SendEvent(ev cameraif.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingSender) ofType(typ cameraif.EventType) []cameraif.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []cameraif.Event
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// fakeBroker records session calls without a device behind it.
type fakeBroker struct {
	mu           sync.Mutex
	frameSize    uint32
	panicOnGet   bool
	listeners    map[uint32]broker.Listener
	started      []uint32
	stopped      []uint32
	released     []uint32
	recycled     []uint32
	unregistered []uint32
}

func newFakeBroker(frameSize uint32) *fakeBroker {
	return &fakeBroker{frameSize: frameSize, listeners: make(map[uint32]broker.Listener)}
}

func (b *fakeBroker) UniqueID() string { return "fake" }

func (b *fakeBroker) SetOrGetConfig(_ uint32, req cameraif.Config) (cameraif.Config, error) {
	return req, nil
}

func (b *fakeBroker) SetFrameRate(_ uint32, req cameraif.Config) (cameraif.Config, error) {
	return req, nil
}

func (b *fakeBroker) ValidateConfig(req cameraif.Config) (cameraif.Config, error) { return req, nil }

func (b *fakeBroker) GetConfig() (cameraif.Config, error) {
	if b.panicOnGet {
		panic("device vanished")
	}
	return broker.DefaultConfig, nil
}

func (b *fakeBroker) GetLayout() (cameraif.Layout, error) {
	return cameraif.Layout{NumPlanes: 1, Size: b.frameSize}, nil
}

func (b *fakeBroker) FrameSize() (uint32, error) { return b.frameSize, nil }

func (b *fakeBroker) RequestBuffers(_ uint32, count uint32) (uint32, error) {
	return min(count, 4), nil
}

func (b *fakeBroker) ReleaseSession(domID uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.released = append(b.released, domID)
	return nil
}

func (b *fakeBroker) StartStreaming(domID uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.started = append(b.started, domID)
	return nil
}

func (b *fakeBroker) StopStreaming(domID uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = append(b.stopped, domID)
	return nil
}

func (b *fakeBroker) EnumerateControl(string) (camera.Control, error) {
	return camera.Control{}, broker.ErrNoDevice
}

func (b *fakeBroker) SetControl(uint32, string, int64) error { return nil }

func (b *fakeBroker) GetControl(string) (int64, error) { return 0, nil }

func (b *fakeBroker) RegisterListener(domID uint32, l broker.Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[domID] = l
}

func (b *fakeBroker) UnregisterListener(domID uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.listeners, domID)
	b.unregistered = append(b.unregistered, domID)
}

func (b *fakeBroker) RecycleBuffer(index uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recycled = append(b.recycled, index)
	return nil
}

func request(t *testing.T, op cameraif.Op, payload any) cameraif.Request {
	t.Helper()
	req := cameraif.Request{ID: 0x1234, Op: op}
	if payload != nil {
		p, err := cameraif.EncodePayload(payload)
		if err != nil {
			t.Fatalf("EncodePayload(%T): %v", payload, err)
		}
		req.Payload = p
	}
	return req
}

func mustHandle(t *testing.T, h *Handler, op cameraif.Op, payload any) cameraif.Response {
	t.Helper()
	resp := h.Handle(request(t, op, payload))
	if resp.Status != 0 {
		t.Fatalf("%s status = %d", op, resp.Status)
	}
	return resp
}

func handleStatus(t *testing.T, h *Handler, op cameraif.Op, payload any) int32 {
	t.Helper()
	return h.Handle(request(t, op, payload)).Status
}

// addGuestBuffer lays out a one-page directory at dirRef pointing at the
// data pages starting at dataRef.
func addGuestBuffer(t *testing.T, m *grant.MemoryMapper, domID, dirRef, dataRef uint32, pages int) {
	t.Helper()
	dir := m.Page(domID, dirRef)
	if dir == nil {
		t.Fatalf("directory page %d out of range", dirRef)
	}
	binary.LittleEndian.PutUint32(dir[0:4], 0)
	for i := range pages {
		binary.LittleEndian.PutUint32(dir[4+4*i:], dataRef+uint32(i))
	}
}

func newPatternBroker(t *testing.T) *broker.Broker {
	t.Helper()
	id := "pattern-" + t.Name()
	b := broker.New(camera.NewPatternDevice(id), broker.Options{UniqueID: id})
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func newSession(t *testing.T, b Broker, m grant.Mapper, domID uint32, controls string) (*Handler, *recordingSender) {
	t.Helper()
	names, err := ParseControls(controls)
	if err != nil {
		t.Fatalf("ParseControls(%q): %v", controls, err)
	}
	sender := &recordingSender{}
	h := New(Options{DomID: domID, Broker: b, Mapper: m, Controls: names, Events: sender})
	t.Cleanup(func() { _ = h.Close() })
	return h, sender
}

func TestStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int32
	}{
		{"nil", nil, 0},
		{"session error", NewError(syscall.EEXIST, "dup", nil), -int32(syscall.EEXIST)},
		{"wrapped errno", fmt.Errorf("open: %w", syscall.ENODEV), -int32(syscall.ENODEV)},
		{"zero errno", NewError(0, "odd", nil), -int32(syscall.EINVAL)},
		{"not found", fmt.Errorf("buffer 3: %w", ErrNotFound), -int32(syscall.ENOTSUP)},
		{"out of range", ErrOutOfRange, -int32(syscall.ENOTSUP)},
		{"other", errors.New("boom"), -int32(syscall.EIO)},
		{"degraded", broker.ErrNoDevice, -int32(syscall.ENODEV)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Status(tt.err); got != tt.want {
				t.Errorf("Status(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestParseControls(t *testing.T) {
	tests := []struct {
		in      string
		want    []string
		wantErr bool
	}{
		{"", nil, false},
		{"contrast", []string{"contrast"}, false},
		{" Contrast , brightness,,hue ", []string{"contrast", "brightness", "hue"}, false},
		{"contrast,zoom", nil, true},
		{"hue,hue", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseControls(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("ParseControls = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUnknownOpNotSupported(t *testing.T) {
	h, _ := newSession(t, newFakeBroker(4096), grant.NewMemoryMapper(), 1, "")

	resp := h.Handle(cameraif.Request{ID: 99, Op: cameraif.Op(0x42)})
	if resp.Status != -int32(syscall.ENOTSUP) {
		t.Errorf("status = %d", resp.Status)
	}
	if resp.ID != 99 || resp.Op != 0x42 {
		t.Errorf("response does not echo request: %+v", resp)
	}
}

func TestEveryOpHasHandler(t *testing.T) {
	for op := cameraif.OpConfigSet; op <= cameraif.OpStreamStop; op++ {
		if _, ok := ops[op]; !ok {
			t.Errorf("no handler for %s", op)
		}
	}
	if len(ops) != int(cameraif.OpStreamStop)+1 {
		t.Errorf("op table has %d entries", len(ops))
	}
}

func TestPanicBecomesIOError(t *testing.T) {
	fb := newFakeBroker(4096)
	fb.panicOnGet = true
	h, _ := newSession(t, fb, grant.NewMemoryMapper(), 1, "")

	if st := handleStatus(t, h, cameraif.OpConfigGet, nil); st != -int32(syscall.EIO) {
		t.Errorf("status = %d, want -EIO", st)
	}
	// The session keeps serving after a failed request.
	if st := handleStatus(t, h, cameraif.OpBufGetLayout, nil); st != 0 {
		t.Errorf("layout status = %d", st)
	}
}

func TestSharedFormatScenario(t *testing.T) {
	b := newPatternBroker(t)
	m := grant.NewMemoryMapper()
	s1, _ := newSession(t, b, m, 1, "")
	s2, _ := newSession(t, b, m, 2, "")

	first := cameraif.Config{PixelFormat: v4l2.PixFmtYUYV, Width: 640, Height: 480, FrameRateNumer: 30, FrameRateDenom: 1}
	resp := mustHandle(t, s1, cameraif.OpConfigSet, first)
	var got1 cameraif.Config
	if err := cameraif.DecodePayload(resp.Payload, &got1); err != nil {
		t.Fatal(err)
	}

	second := cameraif.Config{PixelFormat: v4l2.PixFmtNV12, Width: 1920, Height: 1080, FrameRateNumer: 15, FrameRateDenom: 1}
	resp = mustHandle(t, s2, cameraif.OpConfigSet, second)
	var got2 cameraif.Config
	if err := cameraif.DecodePayload(resp.Payload, &got2); err != nil {
		t.Fatal(err)
	}

	if got2.Width != 640 || got2.Height != 480 || got2.PixelFormat != v4l2.PixFmtYUYV {
		t.Errorf("second session got %dx%d %s", got2.Width, got2.Height, v4l2.FormatFourCC(got2.PixelFormat))
	}
	if got1 != got2 {
		t.Errorf("sessions disagree: %+v vs %+v", got1, got2)
	}
	if got2.DisplAspRatioNumer != 1 || got2.DisplAspRatioDenom != 1 {
		t.Errorf("aspect ratio = %d/%d", got2.DisplAspRatioNumer, got2.DisplAspRatioDenom)
	}
}

func TestBufferCreateDestroyRoundTrip(t *testing.T) {
	b := newPatternBroker(t)
	m := grant.NewMemoryMapper()
	m.AddDomain(1, 8)
	addGuestBuffer(t, m, 1, 1, 2, 1)
	h, _ := newSession(t, b, m, 1, "")

	mustHandle(t, h, cameraif.OpConfigSet, cameraif.Config{PixelFormat: v4l2.PixFmtYUYV, Width: 64, Height: 16})
	resp := mustHandle(t, h, cameraif.OpBufRequest, cameraif.BufRequest{NumBufs: 2})
	var granted cameraif.BufRequest
	_ = cameraif.DecodePayload(resp.Payload, &granted)
	if granted.NumBufs != 2 {
		t.Errorf("granted %d buffers", granted.NumBufs)
	}

	create := cameraif.BufCreate{Index: 3, GrefDirectory: 1}
	mustHandle(t, h, cameraif.OpBufCreate, create)
	if st := handleStatus(t, h, cameraif.OpBufCreate, create); st != -int32(syscall.EEXIST) {
		t.Errorf("duplicate create status = %d, want -EEXIST", st)
	}
	if m.Mapped() != 1 {
		t.Errorf("mapped regions = %d", m.Mapped())
	}

	mustHandle(t, h, cameraif.OpBufQueue, cameraif.Index{Index: 3})
	mustHandle(t, h, cameraif.OpBufDestroy, cameraif.Index{Index: 3})

	if st := handleStatus(t, h, cameraif.OpBufQueue, cameraif.Index{Index: 3}); st != -int32(syscall.ENOTSUP) {
		t.Errorf("queue after destroy status = %d, want -ENOTSUP", st)
	}
	if m.Mapped() != 0 {
		t.Errorf("mapped regions after destroy = %d", m.Mapped())
	}
	if info := h.Info(); info.Buffers != 0 || len(info.Queued) != 0 {
		t.Errorf("session still holds buffers: %+v", info)
	}
}

func TestBufferCreateFailureLeavesNothing(t *testing.T) {
	fb := newFakeBroker(2 * grant.PageSize)
	m := grant.NewMemoryMapper()
	m.AddDomain(1, 4)
	// Directory points past the end of guest memory.
	addGuestBuffer(t, m, 1, 1, 3, 2)
	h, _ := newSession(t, fb, m, 1, "")

	if st := handleStatus(t, h, cameraif.OpBufCreate, cameraif.BufCreate{Index: 0, GrefDirectory: 1}); st == 0 {
		t.Fatal("create with bad references succeeded")
	}
	if m.Mapped() != 0 || h.Info().Buffers != 0 {
		t.Errorf("mapped=%d buffers=%d", m.Mapped(), h.Info().Buffers)
	}
	if st := handleStatus(t, h, cameraif.OpBufQueue, cameraif.Index{Index: 0}); st != -int32(syscall.ENOTSUP) {
		t.Errorf("queue of failed buffer status = %d", st)
	}
}

func TestFIFOOrder(t *testing.T) {
	fb := newFakeBroker(grant.PageSize)
	m := grant.NewMemoryMapper()
	mem := m.AddDomain(1, 16)
	h, sender := newSession(t, fb, m, 1, "")

	dataRef := map[uint8]uint32{2: 10, 5: 11, 1: 12}
	for i, idx := range []uint8{2, 5, 1} {
		dir := uint32(1 + i)
		addGuestBuffer(t, m, 1, dir, dataRef[idx], 1)
		mustHandle(t, h, cameraif.OpBufCreate, cameraif.BufCreate{Index: idx, GrefDirectory: dir})
		mustHandle(t, h, cameraif.OpBufQueue, cameraif.Index{Index: idx})
	}
	mustHandle(t, h, cameraif.OpStreamStart, nil)

	frame := camera.Frame{Data: []byte("first"), BytesUsed: 5}
	h.DeliverFrame(frame)
	mustHandle(t, h, cameraif.OpBufDequeue, cameraif.Index{Index: 2})
	h.DeliverFrame(camera.Frame{Data: []byte("second"), BytesUsed: 6})

	evs := sender.ofType(cameraif.EventFrameAvail)
	if len(evs) != 2 {
		t.Fatalf("frame events = %d", len(evs))
	}
	want := []struct {
		index uint8
		used  uint32
		seq   uint32
	}{{2, 5, 1}, {5, 6, 2}}
	for i, ev := range evs {
		var fa cameraif.FrameAvail
		if err := cameraif.DecodePayload(ev.Payload, &fa); err != nil {
			t.Fatal(err)
		}
		if fa.Index != want[i].index || fa.UsedSz != want[i].used || fa.SeqNum != want[i].seq {
			t.Errorf("event %d = %+v, want %+v", i, fa, want[i])
		}
	}
	if evs[0].ID == evs[1].ID {
		t.Error("event ids not increasing")
	}

	if got := string(mem[10*grant.PageSize : 10*grant.PageSize+5]); got != "first" {
		t.Errorf("buffer 2 holds %q", got)
	}
	if got := string(mem[11*grant.PageSize : 11*grant.PageSize+6]); got != "second" {
		t.Errorf("buffer 5 holds %q", got)
	}
	if q := h.Info().Queued; fmt.Sprint(q) != "[1]" {
		t.Errorf("queue = %v", q)
	}
}

func TestCopyDeliveryAdvancesQueue(t *testing.T) {
	fb := newFakeBroker(grant.PageSize)
	m := grant.NewMemoryMapper()
	m.AddDomain(1, 16)
	h, sender := newSession(t, fb, m, 1, "")

	for i, idx := range []uint8{2, 5} {
		dir := uint32(1 + i)
		addGuestBuffer(t, m, 1, dir, 10+uint32(i), 1)
		mustHandle(t, h, cameraif.OpBufCreate, cameraif.BufCreate{Index: idx, GrefDirectory: dir})
		mustHandle(t, h, cameraif.OpBufQueue, cameraif.Index{Index: idx})
	}
	mustHandle(t, h, cameraif.OpStreamStart, nil)

	h.DeliverFrame(camera.Frame{Data: []byte("a"), BytesUsed: 1})
	h.DeliverFrame(camera.Frame{Data: []byte("b"), BytesUsed: 1})
	// Nothing left queued: the third frame is dropped.
	h.DeliverFrame(camera.Frame{Data: []byte("c"), BytesUsed: 1})

	var got []uint8
	for _, ev := range sender.ofType(cameraif.EventFrameAvail) {
		var fa cameraif.FrameAvail
		if err := cameraif.DecodePayload(ev.Payload, &fa); err != nil {
			t.Fatal(err)
		}
		got = append(got, fa.Index)
	}
	if fmt.Sprint(got) != "[2 5]" {
		t.Errorf("delivered to %v, want [2 5]", got)
	}
	if q := h.Info().Queued; len(q) != 0 {
		t.Errorf("queue = %v, want empty", q)
	}

	// A filled buffer must be dequeued before it is queued again.
	if st := handleStatus(t, h, cameraif.OpBufQueue, cameraif.Index{Index: 2}); st != -int32(syscall.EINVAL) {
		t.Errorf("requeue before dequeue status = %d, want -EINVAL", st)
	}
	mustHandle(t, h, cameraif.OpBufDequeue, cameraif.Index{Index: 2})
	if st := handleStatus(t, h, cameraif.OpBufDequeue, cameraif.Index{Index: 2}); st != -int32(syscall.EINVAL) {
		t.Errorf("second dequeue status = %d, want -EINVAL", st)
	}
	mustHandle(t, h, cameraif.OpBufQueue, cameraif.Index{Index: 2})
	if q := h.Info().Queued; fmt.Sprint(q) != "[2]" {
		t.Errorf("queue after requeue = %v, want [2]", q)
	}
	if len(fb.recycled) != 0 {
		t.Errorf("copied buffers recycled to the device: %v", fb.recycled)
	}
}

func TestFramesIgnoredWhenNotStreaming(t *testing.T) {
	fb := newFakeBroker(grant.PageSize)
	m := grant.NewMemoryMapper()
	m.AddDomain(1, 4)
	addGuestBuffer(t, m, 1, 1, 2, 1)
	h, sender := newSession(t, fb, m, 1, "")

	mustHandle(t, h, cameraif.OpBufCreate, cameraif.BufCreate{Index: 0, GrefDirectory: 1})
	mustHandle(t, h, cameraif.OpBufQueue, cameraif.Index{Index: 0})
	h.DeliverFrame(camera.Frame{Data: []byte("x"), BytesUsed: 1})
	if n := len(sender.ofType(cameraif.EventFrameAvail)); n != 0 {
		t.Errorf("frame events before stream-start = %d", n)
	}

	mustHandle(t, h, cameraif.OpStreamStart, nil)
	mustHandle(t, h, cameraif.OpStreamStop, nil)
	if len(fb.started) != 1 || len(fb.stopped) != 1 {
		t.Errorf("started=%v stopped=%v", fb.started, fb.stopped)
	}
	h.DeliverFrame(camera.Frame{Data: []byte("x"), BytesUsed: 1})
	if n := len(sender.ofType(cameraif.EventFrameAvail)); n != 0 {
		t.Errorf("frame events after stream-stop = %d", n)
	}
}

func TestZeroCopyClaim(t *testing.T) {
	fb := newFakeBroker(grant.PageSize)
	m := grant.NewMemoryMapper()
	mem := m.AddDomain(1, 4)
	addGuestBuffer(t, m, 1, 1, 2, 1)
	h, sender := newSession(t, fb, m, 1, "")

	mustHandle(t, h, cameraif.OpBufCreate, cameraif.BufCreate{Index: 7, GrefDirectory: 1})
	mustHandle(t, h, cameraif.OpBufQueue, cameraif.Index{Index: 7})
	mustHandle(t, h, cameraif.OpStreamStart, nil)

	// The captured buffer is the guest buffer itself.
	frame := camera.Frame{Index: 3, Data: mem[2*grant.PageSize : 3*grant.PageSize], BytesUsed: 100}
	if !h.ClaimFrame(frame) {
		t.Fatal("frame in guest buffer not claimed")
	}
	if h.ClaimFrame(frame) {
		t.Error("buffer claimed twice")
	}
	// Copy pass skips the buffer held by the device.
	h.DeliverFrame(camera.Frame{Data: []byte("copy"), BytesUsed: 4})
	if n := len(sender.ofType(cameraif.EventFrameAvail)); n != 1 {
		t.Errorf("frame events = %d, want 1", n)
	}

	mustHandle(t, h, cameraif.OpBufDequeue, cameraif.Index{Index: 7})
	if fmt.Sprint(fb.recycled) != "[3]" {
		t.Errorf("recycled = %v", fb.recycled)
	}
}

func TestControlChangeEvents(t *testing.T) {
	b := newPatternBroker(t)
	m := grant.NewMemoryMapper()
	s1, ev1 := newSession(t, b, m, 1, "contrast,brightness")
	_, ev2 := newSession(t, b, m, 2, "brightness,contrast")
	_, ev3 := newSession(t, b, m, 3, "brightness")

	set := cameraif.CtrlValue{Type: cameraif.CtrlContrast, Value: 42}
	mustHandle(t, s1, cameraif.OpCtrlSet, set)

	got := ev2.ofType(cameraif.EventCtrlChange)
	if len(got) != 1 {
		t.Fatalf("session 2 got %d control events", len(got))
	}
	var cv cameraif.CtrlValue
	if err := cameraif.DecodePayload(got[0].Payload, &cv); err != nil {
		t.Fatal(err)
	}
	if cv.Type != cameraif.CtrlContrast || cv.Value != 42 {
		t.Errorf("event = %+v", cv)
	}
	if n := len(ev1.ofType(cameraif.EventCtrlChange)); n != 0 {
		t.Errorf("originating session got %d events", n)
	}
	if n := len(ev3.ofType(cameraif.EventCtrlChange)); n != 0 {
		t.Errorf("session without contrast got %d events", n)
	}

	// Same value again: no write, no event.
	mustHandle(t, s1, cameraif.OpCtrlSet, set)
	if n := len(ev2.ofType(cameraif.EventCtrlChange)); n != 1 {
		t.Errorf("session 2 events after repeat = %d", n)
	}

	resp := mustHandle(t, s1, cameraif.OpCtrlGet, cameraif.CtrlType{Type: cameraif.CtrlContrast})
	_ = cameraif.DecodePayload(resp.Payload, &cv)
	if cv.Value != 42 {
		t.Errorf("control-get = %d", cv.Value)
	}
}

func TestControlAccess(t *testing.T) {
	b := newPatternBroker(t)
	h, _ := newSession(t, b, grant.NewMemoryMapper(), 1, "brightness")

	tests := []struct {
		name    string
		op      cameraif.Op
		payload any
		want    int32
	}{
		{"set unassigned", cameraif.OpCtrlSet, cameraif.CtrlValue{Type: cameraif.CtrlHue, Value: 1}, -int32(syscall.EACCES)},
		{"get unassigned", cameraif.OpCtrlGet, cameraif.CtrlType{Type: cameraif.CtrlContrast}, -int32(syscall.EACCES)},
		{"unknown type", cameraif.OpCtrlGet, cameraif.CtrlType{Type: 9}, -int32(syscall.EINVAL)},
		{"out of device range", cameraif.OpCtrlSet, cameraif.CtrlValue{Type: cameraif.CtrlBrightness, Value: 1000}, -int32(syscall.ERANGE)},
		{"enum past end", cameraif.OpCtrlEnum, cameraif.Index{Index: 1}, -int32(syscall.EINVAL)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if st := handleStatus(t, h, tt.op, tt.payload); st != tt.want {
				t.Errorf("status = %d, want %d", st, tt.want)
			}
		})
	}
}

func TestControlEnum(t *testing.T) {
	b := newPatternBroker(t)
	h, _ := newSession(t, b, grant.NewMemoryMapper(), 1, "hue,contrast")

	resp := mustHandle(t, h, cameraif.OpCtrlEnum, cameraif.Index{Index: 0})
	var info cameraif.CtrlEnumResp
	if err := cameraif.DecodePayload(resp.Payload, &info); err != nil {
		t.Fatal(err)
	}
	if info.Index != 0 || info.Type != cameraif.CtrlHue || info.Min != -180 || info.Max != 180 || info.Step != 1 {
		t.Errorf("enum = %+v", info)
	}

	resp = mustHandle(t, h, cameraif.OpCtrlEnum, cameraif.Index{Index: 1})
	_ = cameraif.DecodePayload(resp.Payload, &info)
	if info.Type != cameraif.CtrlContrast || info.Default != 128 {
		t.Errorf("enum = %+v", info)
	}
}

func TestDegradedControlEnum(t *testing.T) {
	b := broker.New(nil, broker.Options{UniqueID: "gone"})
	h, _ := newSession(t, b, grant.NewMemoryMapper(), 1, "contrast")

	if st := handleStatus(t, h, cameraif.OpCtrlEnum, cameraif.Index{Index: 0}); st != -int32(syscall.ENODEV) {
		t.Errorf("control-enum status = %d, want -ENODEV", st)
	}

	resp := mustHandle(t, h, cameraif.OpConfigGet, nil)
	var cfg cameraif.Config
	_ = cameraif.DecodePayload(resp.Payload, &cfg)
	if cfg != broker.DefaultConfig {
		t.Errorf("config-get = %+v", cfg)
	}
}

func TestCloseReleasesEverything(t *testing.T) {
	fb := newFakeBroker(grant.PageSize)
	m := grant.NewMemoryMapper()
	m.AddDomain(4, 8)
	addGuestBuffer(t, m, 4, 1, 2, 1)
	addGuestBuffer(t, m, 4, 3, 4, 1)
	h := New(Options{DomID: 4, Broker: fb, Mapper: m})

	mustHandle(t, h, cameraif.OpBufCreate, cameraif.BufCreate{Index: 0, GrefDirectory: 1})
	mustHandle(t, h, cameraif.OpBufCreate, cameraif.BufCreate{Index: 1, GrefDirectory: 3})
	mustHandle(t, h, cameraif.OpBufQueue, cameraif.Index{Index: 1})

	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if m.Mapped() != 0 {
		t.Errorf("mapped regions = %d", m.Mapped())
	}
	if fmt.Sprint(fb.unregistered) != "[4]" {
		t.Errorf("unregistered = %v", fb.unregistered)
	}
	if st := handleStatus(t, h, cameraif.OpConfigGet, nil); st != -int32(syscall.EIO) {
		t.Errorf("request after close status = %d", st)
	}
	if err := h.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestConcurrentSessionsDuringCapture(t *testing.T) {
	dev := camera.NewPatternDevice("pattern-concurrent")
	b := broker.New(dev, broker.Options{UniqueID: "pattern-concurrent"})
	t.Cleanup(func() { _ = b.Close() })

	size, err := b.FrameSize()
	if err != nil {
		t.Fatal(err)
	}
	pages := grant.PagesFor(uint64(size))

	m := grant.NewMemoryMapper()
	var handlers []*Handler
	for dom := uint32(1); dom <= 3; dom++ {
		m.AddDomain(dom, 2*(pages+1)+1)
		h, _ := newSession(t, b, m, dom, "contrast")
		mustHandle(t, h, cameraif.OpBufRequest, cameraif.BufRequest{NumBufs: 2})
		for i := range uint8(2) {
			dir := 1 + uint32(i)*uint32(pages+1)
			addGuestBuffer(t, m, dom, dir, dir+1, pages)
			mustHandle(t, h, cameraif.OpBufCreate, cameraif.BufCreate{Index: i, GrefDirectory: dir})
		}
		handlers = append(handlers, h)
	}

	done := make(chan struct{})
	captured := make(chan struct{})
	go func() {
		defer close(captured)
		for {
			select {
			case <-done:
				return
			default:
				dev.CaptureOnce()
				time.Sleep(100 * time.Microsecond)
			}
		}
	}()

	allowed := map[int32]bool{0: true, -int32(syscall.EINVAL): true}
	var wg sync.WaitGroup
	errs := make(chan string, 64)
	for n, h := range handlers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			step := func(op cameraif.Op, payload any) {
				if st := handleStatus(t, h, op, payload); !allowed[st] {
					errs <- fmt.Sprintf("dom %d %s status %d", h.DomID(), op, st)
				}
			}
			for i := range 50 {
				step(cameraif.OpBufQueue, cameraif.Index{Index: 0})
				step(cameraif.OpBufQueue, cameraif.Index{Index: 1})
				step(cameraif.OpStreamStart, nil)
				step(cameraif.OpCtrlSet, cameraif.CtrlValue{Type: cameraif.CtrlContrast, Value: int64(n*50 + i)})
				step(cameraif.OpBufDequeue, cameraif.Index{Index: 0})
				step(cameraif.OpBufDequeue, cameraif.Index{Index: 1})
				step(cameraif.OpStreamStop, nil)
			}
			if err := h.Close(); err != nil {
				errs <- fmt.Sprintf("dom %d close: %v", h.DomID(), err)
			}
		}()
	}
	wg.Wait()
	close(done)
	<-captured
	close(errs)

	for msg := range errs {
		t.Error(msg)
	}
	st := b.Status()
	if len(st.Streaming) != 0 || st.Listeners != 0 || len(st.Grants) != 0 {
		t.Errorf("broker after all sessions closed = %+v", st)
	}
}
