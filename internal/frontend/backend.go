// Package frontend binds the guest frontends listed in the frontends file
// to camera sessions. Each bound frontend gets a ring pair on the transport,
// a session handler and a reference on the shared device broker; removing
// the frontend from the file tears all three down.
package frontend

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/smazurov/camback/internal/cameraif"
	"github.com/smazurov/camback/internal/config"
	"github.com/smazurov/camback/internal/events"
	"github.com/smazurov/camback/internal/grant"
	"github.com/smazurov/camback/internal/logging"
	"github.com/smazurov/camback/internal/nats"
	"github.com/smazurov/camback/internal/registry"
	"github.com/smazurov/camback/internal/session"
)

// Ring is the request and event ring pair of one frontend.
type Ring interface {
	SendEvent(ev cameraif.Event) error
	Serve(h nats.RequestHandler) error
	Close() error
}

// Transport opens rings and announces session state to frontends.
type Transport interface {
	OpenRing(domID, devID uint32) Ring
	PublishState(m nats.StateMessage) error
}

// EventPublisher receives session lifecycle events.
type EventPublisher interface {
	Publish(ev events.Event)
}

// Options configure a Backend.
type Options struct {
	Registry  *registry.Registry
	Transport Transport
	Mapper    grant.Mapper
	MaxPages  int
	Events    EventPublisher
}

type binding struct {
	cfg     config.FrontendConfig
	handle  *registry.Handle
	ring    Ring
	session *session.Handler
}

// Backend tracks the bound frontends.
type Backend struct {
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	bindings map[string]*binding
	closed   bool
}

// New creates a backend with no frontends bound.
func New(opts Options) *Backend {
	return &Backend{
		opts:     opts,
		logger:   logging.GetLogger("frontend"),
		bindings: make(map[string]*binding),
	}
}

// Apply makes the bound frontends match cfg: frontends no longer listed are
// unbound, new ones are bound and changed ones are rebound. Frontends that
// fail to bind are reported in the returned error; the rest stay bound.
func (b *Backend) Apply(ctx context.Context, cfg config.FrontendsConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.New("frontend backend closed")
	}

	wanted := make(map[string]config.FrontendConfig, len(cfg.Frontends))
	for _, fc := range cfg.Frontends {
		wanted[fc.Key()] = fc
	}

	for key, bd := range b.bindings {
		fc, ok := wanted[key]
		switch {
		case !ok:
			b.unbindLocked(key, "frontend removed")
		case fc != bd.cfg:
			b.unbindLocked(key, "frontend changed")
		}
	}

	var errs []error
	for _, fc := range cfg.Frontends {
		if _, ok := b.bindings[fc.Key()]; ok {
			continue
		}
		if err := b.bindLocked(ctx, fc); err != nil {
			b.logger.Error("Failed to bind frontend", "frontend", fc.Key(), "device", fc.UniqueID, "error", err)
			errs = append(errs, fmt.Errorf("frontend %s: %w", fc.Key(), err))
		}
	}
	return errors.Join(errs...)
}

func (b *Backend) bindLocked(ctx context.Context, fc config.FrontendConfig) error {
	controls, err := session.ParseControls(fc.Controls)
	if err != nil {
		return err
	}
	// Brokers key their listeners by domain.
	for _, bd := range b.bindings {
		if bd.cfg.DomID == fc.DomID && bd.cfg.UniqueID == fc.UniqueID {
			return fmt.Errorf("domain %d already bound to %s as frontend %s", fc.DomID, fc.UniqueID, bd.cfg.Key())
		}
	}

	handle := b.opts.Registry.Acquire(ctx, fc.UniqueID, fc.Pipeline)
	ring := b.opts.Transport.OpenRing(fc.DomID, fc.DevID)
	sess := session.New(session.Options{
		DomID:    fc.DomID,
		DevID:    fc.DevID,
		Controls: controls,
		Broker:   handle.Broker(),
		Mapper:   b.opts.Mapper,
		MaxPages: b.opts.MaxPages,
		Events:   ring,
	})

	if err := ring.Serve(sess); err != nil {
		_ = sess.Close()
		_ = handle.Release()
		return fmt.Errorf("serve ring: %w", err)
	}

	b.bindings[fc.Key()] = &binding{cfg: fc, handle: handle, ring: ring, session: sess}
	b.logger.Info("Frontend bound", "frontend", fc.Key(), "device", fc.UniqueID,
		"session_id", sess.ID(), "degraded", handle.Broker().Degraded())

	b.publishState(fc, sess.ID(), nats.StateConnected, "")
	b.publish(events.SessionAttachedEvent{
		SessionID: sess.ID(),
		DomID:     int(fc.DomID),
		DevID:     int(fc.DevID),
		UniqueID:  fc.UniqueID,
		Timestamp: events.Now(),
	})
	return nil
}

func (b *Backend) unbindLocked(key, reason string) {
	bd, ok := b.bindings[key]
	if !ok {
		return
	}
	delete(b.bindings, key)

	if err := bd.ring.Close(); err != nil {
		b.logger.Warn("Failed to close ring", "frontend", key, "error", err)
	}
	if err := bd.session.Close(); err != nil {
		b.logger.Warn("Failed to close session", "frontend", key, "error", err)
	}
	if err := bd.handle.Release(); err != nil {
		b.logger.Warn("Failed to release device", "frontend", key, "device", bd.cfg.UniqueID, "error", err)
	}

	b.logger.Info("Frontend unbound", "frontend", key, "device", bd.cfg.UniqueID, "reason", reason)
	b.publishState(bd.cfg, bd.session.ID(), nats.StateClosed, reason)
	b.publish(events.SessionDetachedEvent{
		SessionID: bd.session.ID(),
		DomID:     int(bd.cfg.DomID),
		DevID:     int(bd.cfg.DevID),
		UniqueID:  bd.cfg.UniqueID,
		Reason:    reason,
		Timestamp: events.Now(),
	})
}

func (b *Backend) publishState(fc config.FrontendConfig, sessionID, state, reason string) {
	err := b.opts.Transport.PublishState(nats.StateMessage{
		DomID:     fc.DomID,
		DevID:     fc.DevID,
		UniqueID:  fc.UniqueID,
		SessionID: sessionID,
		State:     state,
		Reason:    reason,
	})
	if err != nil {
		b.logger.Debug("Failed to publish session state", "frontend", fc.Key(), "error", err)
	}
}

func (b *Backend) publish(ev events.Event) {
	if b.opts.Events != nil {
		b.opts.Events.Publish(ev)
	}
}

// Sessions returns the state of every bound session ordered by domain and
// device.
func (b *Backend) Sessions() []session.Info {
	b.mu.Lock()
	sessions := make([]*session.Handler, 0, len(b.bindings))
	for _, bd := range b.bindings {
		sessions = append(sessions, bd.session)
	}
	b.mu.Unlock()

	infos := make([]session.Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	slices.SortFunc(infos, func(a, b session.Info) int {
		return cmp.Or(cmp.Compare(a.DomID, b.DomID), cmp.Compare(a.DevID, b.DevID))
	})
	return infos
}

// Close unbinds every frontend.
func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key := range b.bindings {
		b.unbindLocked(key, "backend stopped")
	}
	b.closed = true
}
