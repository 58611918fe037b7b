// Package registry shares one broker per physical camera among every
// session bound to it. A broker is created by the first Acquire for its
// unique id and closed when the last Handle is released.
package registry

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/smazurov/camback/internal/broker"
	"github.com/smazurov/camback/internal/camera"
	"github.com/smazurov/camback/internal/logging"
)

// OpenFunc opens the capture device for a unique id.
type OpenFunc func(uniqueID string) (camera.Device, error)

// PipelineConfigurator sets up the media pipeline in front of a camera.
type PipelineConfigurator interface {
	Configure(ctx context.Context, name string) error
	Release(ctx context.Context, name string) error
}

// Options configure a Registry.
type Options struct {
	Open            OpenFunc
	Pipelines       PipelineConfigurator
	HardwareBuffers uint32
	Events          broker.EventPublisher
}

type entry struct {
	broker     *broker.Broker
	pipeline   string
	configured bool // pipeline links applied and owed a release
	refs       int
}

// Registry maps unique ids to live brokers.
type Registry struct {
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// New creates an empty registry.
func New(opts Options) *Registry {
	return &Registry{
		opts:    opts,
		logger:  logging.GetLogger("registry"),
		entries: make(map[string]*entry),
	}
}

// Acquire returns a handle on the broker for uniqueID, creating it when no
// session holds one. The pipeline, if named, is configured before the device
// is opened. A device that cannot be opened yields a degraded broker.
func (r *Registry) Acquire(ctx context.Context, uniqueID, pipeline string) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[uniqueID]
	if !ok {
		b, configured := r.newBroker(ctx, uniqueID, pipeline)
		e = &entry{broker: b, pipeline: pipeline, configured: configured}
		r.entries[uniqueID] = e
	} else if pipeline != "" && pipeline != e.pipeline {
		r.logger.Warn("Pipeline differs from the one already applied, ignoring",
			"device", uniqueID, "pipeline", pipeline, "applied", e.pipeline)
	}
	e.refs++
	r.logger.Debug("Broker acquired", "device", uniqueID, "refs", e.refs)

	return &Handle{registry: r, uniqueID: uniqueID, broker: e.broker}
}

// newBroker reports whether the pipeline was configured, even when the device
// then failed to open.
func (r *Registry) newBroker(ctx context.Context, uniqueID, pipeline string) (*broker.Broker, bool) {
	opts := broker.Options{
		UniqueID:        uniqueID,
		HardwareBuffers: r.opts.HardwareBuffers,
		Events:          r.opts.Events,
	}

	configured := false
	if pipeline != "" && r.opts.Pipelines != nil {
		if err := r.opts.Pipelines.Configure(ctx, pipeline); err != nil {
			r.logger.Error("Failed to configure media pipeline", "device", uniqueID, "pipeline", pipeline, "error", err)
			return broker.New(nil, opts), false
		}
		configured = true
	}

	dev, err := r.opts.Open(uniqueID)
	if err != nil {
		r.logger.Error("Failed to open camera", "device", uniqueID, "error", err)
		return broker.New(nil, opts), configured
	}
	r.logger.Info("Camera opened", "device", uniqueID, "name", dev.Name())
	return broker.New(dev, opts), configured
}

func (r *Registry) release(uniqueID string) error {
	r.mu.Lock()
	e, ok := r.entries[uniqueID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	e.refs--
	if e.refs > 0 {
		r.mu.Unlock()
		return nil
	}
	delete(r.entries, uniqueID)
	r.mu.Unlock()

	r.logger.Info("Last session released camera", "device", uniqueID)
	err := e.broker.Close()
	if e.configured {
		if perr := r.opts.Pipelines.Release(context.Background(), e.pipeline); perr != nil {
			r.logger.Warn("Failed to release media pipeline", "pipeline", e.pipeline, "error", perr)
		}
	}
	return err
}

// Entry describes one live broker.
type Entry struct {
	UniqueID string
	Refs     int
	Broker   *broker.Broker
}

// Entries lists live brokers ordered by unique id.
func (r *Registry) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(r.entries))
	for id, e := range r.entries {
		out = append(out, Entry{UniqueID: id, Refs: e.refs, Broker: e.broker})
	}
	slices.SortFunc(out, func(a, b Entry) int { return strings.Compare(a.UniqueID, b.UniqueID) })
	return out
}

// Get returns the live broker for uniqueID.
func (r *Registry) Get(uniqueID string) (*broker.Broker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[uniqueID]
	if !ok {
		return nil, false
	}
	return e.broker, true
}

// Handle is one session's reference to a shared broker.
type Handle struct {
	registry *Registry
	uniqueID string
	broker   *broker.Broker
	once     sync.Once
}

// Broker returns the shared broker.
func (h *Handle) Broker() *broker.Broker { return h.broker }

// Release drops the reference. The last release closes the broker. Extra
// calls do nothing.
func (h *Handle) Release() error {
	var err error
	h.once.Do(func() {
		err = h.registry.release(h.uniqueID)
	})
	return err
}
