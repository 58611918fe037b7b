package nats

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/smazurov/camback/internal/cameraif"
)

// FrontendClient is the guest side of a ring pair. It is used by emulated
// frontends and by the probe command.
type FrontendClient struct {
	conn   *nats.Conn
	prefix string
	domID  uint32
	devID  uint32
	logger *slog.Logger

	mu     sync.Mutex
	nextID uint16
	subs   []*nats.Subscription
	events chan cameraif.Event
	states chan StateMessage
}

// DialFrontend connects to url and subscribes to the event ring and state
// subject of frontend domID/devID.
func DialFrontend(url, prefix string, domID, devID uint32, logger *slog.Logger) (*FrontendClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if prefix == "" {
		prefix = DefaultFrontendPrefix
	}

	conn, err := nats.Connect(url, nats.Name(fmt.Sprintf("camback-frontend-%d-%d", domID, devID)))
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", url, err)
	}

	c := &FrontendClient{
		conn:   conn,
		prefix: prefix,
		domID:  domID,
		devID:  devID,
		logger: logger.With("component", "nats-frontend", "dom_id", domID, "dev_id", devID),
		events: make(chan cameraif.Event, 64),
		states: make(chan StateMessage, 8),
	}

	evtSub, err := conn.Subscribe(SubjectEvent(prefix, domID, devID), c.handleEvent)
	if err != nil {
		conn.Close()
		return nil, err
	}
	c.subs = append(c.subs, evtSub)

	stateSub, err := conn.Subscribe(SubjectState(prefix, domID, devID), c.handleState)
	if err != nil {
		conn.Close()
		return nil, err
	}
	c.subs = append(c.subs, stateSub)

	// Subscriptions must be registered before the first request.
	if err := conn.Flush(); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *FrontendClient) handleEvent(msg *nats.Msg) {
	ev, err := cameraif.DecodeEvent(msg.Data)
	if err != nil {
		c.logger.Warn("Dropping malformed event", "error", err)
		return
	}
	select {
	case c.events <- ev:
	default:
		c.logger.Debug("Event channel full, dropping event", "type", ev.Type)
	}
}

func (c *FrontendClient) handleState(msg *nats.Msg) {
	m, err := UnmarshalState(msg.Data)
	if err != nil {
		c.logger.Warn("Failed to unmarshal state", "error", err)
		return
	}
	select {
	case c.states <- m:
	default:
	}
}

// Do sends one request and waits for its response. payload may be nil or
// one of the cameraif payload structs.
func (c *FrontendClient) Do(ctx context.Context, op cameraif.Op, payload any) (cameraif.Response, error) {
	req := cameraif.Request{Op: op}
	if payload != nil {
		p, err := cameraif.EncodePayload(payload)
		if err != nil {
			return cameraif.Response{}, err
		}
		req.Payload = p
	}

	c.mu.Lock()
	req.ID = c.nextID
	c.nextID++
	c.mu.Unlock()

	msg, err := c.conn.RequestWithContext(ctx, SubjectRequest(c.prefix, c.domID, c.devID), req.Marshal())
	if err != nil {
		return cameraif.Response{}, fmt.Errorf("%s: %w", op, err)
	}
	resp, err := cameraif.DecodeResponse(msg.Data)
	if err != nil {
		return cameraif.Response{}, err
	}
	if resp.ID != req.ID || resp.Op != req.Op {
		return resp, fmt.Errorf("%s: response mismatch (id %d op %s)", op, resp.ID, resp.Op)
	}
	return resp, nil
}

// Events returns the frontend's event ring.
func (c *FrontendClient) Events() <-chan cameraif.Event { return c.events }

// States returns session state announcements for this frontend.
func (c *FrontendClient) States() <-chan StateMessage { return c.states }

// Close unsubscribes and closes the connection.
func (c *FrontendClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.subs = nil
	c.conn.Close()
}
