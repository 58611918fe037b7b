package registry

import (
	"context"
	"errors"
	"sync"
	"syscall"
	"testing"

	"github.com/smazurov/camback/internal/camera"
)

type fakePipelines struct {
	mu         sync.Mutex
	configured []string
	released   []string
	fail       bool
}

func (p *fakePipelines) Configure(_ context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.configured = append(p.configured, name)
	if p.fail {
		return errors.New("media-ctl failed")
	}
	return nil
}

func (p *fakePipelines) Release(_ context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released = append(p.released, name)
	return nil
}

type openCounter struct {
	mu    sync.Mutex
	opens map[string]int
}

func (o *openCounter) open(uniqueID string) (camera.Device, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.opens == nil {
		o.opens = make(map[string]int)
	}
	o.opens[uniqueID]++
	if uniqueID == "missing" {
		return nil, syscall.ENOENT
	}
	return camera.NewPatternDevice(uniqueID), nil
}

func TestAcquireSharesBroker(t *testing.T) {
	oc := &openCounter{}
	r := New(Options{Open: oc.open})

	h1 := r.Acquire(context.Background(), "pattern0", "")
	h2 := r.Acquire(context.Background(), "pattern0", "")
	h3 := r.Acquire(context.Background(), "pattern1", "")

	if h1.Broker() != h2.Broker() {
		t.Error("same unique id gave different brokers")
	}
	if h1.Broker() == h3.Broker() {
		t.Error("different unique ids share a broker")
	}
	if oc.opens["pattern0"] != 1 {
		t.Errorf("pattern0 opened %d times", oc.opens["pattern0"])
	}

	entries := r.Entries()
	if len(entries) != 2 || entries[0].UniqueID != "pattern0" || entries[0].Refs != 2 {
		t.Errorf("entries = %+v", entries)
	}

	_ = h1.Release()
	_ = h1.Release()
	if _, ok := r.Get("pattern0"); !ok {
		t.Fatal("broker closed while a handle remains")
	}
	_ = h2.Release()
	if _, ok := r.Get("pattern0"); ok {
		t.Error("broker kept after last release")
	}

	// A fresh acquire opens the device again.
	h4 := r.Acquire(context.Background(), "pattern0", "")
	defer h4.Release()
	if oc.opens["pattern0"] != 2 {
		t.Errorf("pattern0 opened %d times", oc.opens["pattern0"])
	}
	_ = h3.Release()
}

func TestAcquireDegradedOnOpenFailure(t *testing.T) {
	r := New(Options{Open: (&openCounter{}).open})
	h := r.Acquire(context.Background(), "missing", "")
	defer h.Release()

	if !h.Broker().Degraded() {
		t.Error("broker for missing device not degraded")
	}
}

func TestPipelineLifecycle(t *testing.T) {
	p := &fakePipelines{}
	r := New(Options{Open: (&openCounter{}).open, Pipelines: p})

	h1 := r.Acquire(context.Background(), "pattern0", "hdmi")
	h2 := r.Acquire(context.Background(), "pattern0", "hdmi")
	if len(p.configured) != 1 {
		t.Errorf("pipeline configured %d times", len(p.configured))
	}
	_ = h1.Release()
	_ = h2.Release()
	if len(p.released) != 1 || p.released[0] != "hdmi" {
		t.Errorf("released = %v", p.released)
	}
}

func TestPipelineFailureDegrades(t *testing.T) {
	p := &fakePipelines{fail: true}
	oc := &openCounter{}
	r := New(Options{Open: oc.open, Pipelines: p})

	h := r.Acquire(context.Background(), "pattern0", "hdmi")
	if !h.Broker().Degraded() {
		t.Error("broker not degraded after pipeline failure")
	}
	if oc.opens["pattern0"] != 0 {
		t.Error("device opened after pipeline failure")
	}
	_ = h.Release()
	if len(p.released) != 0 {
		t.Error("failed pipeline released")
	}
}

func TestPipelineReleasedWhenOpenFails(t *testing.T) {
	p := &fakePipelines{}
	r := New(Options{Open: (&openCounter{}).open, Pipelines: p})

	h := r.Acquire(context.Background(), "missing", "hdmi")
	if !h.Broker().Degraded() {
		t.Error("broker for missing device not degraded")
	}
	_ = h.Release()
	if len(p.configured) != 1 || len(p.released) != 1 || p.released[0] != "hdmi" {
		t.Errorf("configured = %v, released = %v", p.configured, p.released)
	}
}
