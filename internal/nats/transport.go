package nats

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/smazurov/camback/internal/cameraif"
)

// ErrNotConnected is returned when the transport has no NATS connection.
var ErrNotConnected = errors.New("nats transport not connected")

// RequestHandler answers one request record. *session.Handler implements it.
type RequestHandler interface {
	Handle(req cameraif.Request) cameraif.Response
}

// Transport is the backend's NATS connection. It opens one Ring per bound
// frontend.
type Transport struct {
	url    string
	prefix string
	logger *slog.Logger

	mu   sync.RWMutex
	conn *nats.Conn
}

// NewTransport creates a transport for frontends under prefix.
func NewTransport(url, prefix string, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	if prefix == "" {
		prefix = DefaultFrontendPrefix
	}
	return &Transport{
		url:    url,
		prefix: prefix,
		logger: logger.With("component", "nats-transport"),
	}
}

// Prefix returns the frontend subject prefix.
func (t *Transport) Prefix() string { return t.prefix }

// URL returns the server URL the transport dials.
func (t *Transport) URL() string { return t.url }

// Connect establishes the NATS connection.
func (t *Transport) Connect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	conn, err := nats.Connect(t.url,
		nats.Name("camback-backend"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				t.logger.Warn("NATS transport disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			t.logger.Info("NATS transport reconnected")
		}),
	)
	if err != nil {
		return fmt.Errorf("connect %s: %w", t.url, err)
	}

	t.conn = conn
	t.logger.Info("NATS transport connected", "url", t.url, "prefix", t.prefix)
	return nil
}

// Close closes the connection. Open rings stop receiving requests.
func (t *Transport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
}

func (t *Transport) connection() (*nats.Conn, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.conn == nil {
		return nil, ErrNotConnected
	}
	return t.conn, nil
}

// Open returns the ring pair of one frontend. Requests are not consumed
// until Serve is called.
func (t *Transport) Open(domID, devID uint32) *Ring {
	return &Ring{
		transport: t,
		domID:     domID,
		devID:     devID,
		logger:    t.logger.With("dom_id", domID, "dev_id", devID),
	}
}

// PublishState announces a session state change to the frontend.
func (t *Transport) PublishState(m StateMessage) error {
	conn, err := t.connection()
	if err != nil {
		return err
	}
	if m.Timestamp == "" {
		m.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	data, err := m.Marshal()
	if err != nil {
		return err
	}
	return conn.Publish(SubjectState(t.prefix, m.DomID, m.DevID), data)
}

// Ring is the request ring and event ring of one frontend.
type Ring struct {
	transport *Transport
	domID     uint32
	devID     uint32
	logger    *slog.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

// Serve subscribes to the request subject and answers each request with
// h. Requests are delivered one at a time in arrival order.
func (r *Ring) Serve(h RequestHandler) error {
	conn, err := r.transport.connection()
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sub != nil {
		return fmt.Errorf("ring %d/%d already served", r.domID, r.devID)
	}

	subject := SubjectRequest(r.transport.prefix, r.domID, r.devID)
	sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
		req, err := cameraif.DecodeRequest(msg.Data)
		if err != nil {
			hdr, ok := cameraif.DecodeRequestHeader(msg.Data)
			if !ok || msg.Reply == "" {
				r.logger.Warn("Dropping malformed request", "error", err, "size", len(msg.Data))
				return
			}
			r.logger.Warn("Rejecting short request", "op", hdr.Op, "id", hdr.ID, "size", len(msg.Data))
			resp := cameraif.NewResponse(hdr)
			resp.Status = -int32(syscall.EINVAL)
			if err := msg.Respond(resp.Marshal()); err != nil {
				r.logger.Warn("Failed to send response", "op", hdr.Op, "error", err)
			}
			return
		}
		resp := h.Handle(req)
		if msg.Reply == "" {
			return
		}
		if err := msg.Respond(resp.Marshal()); err != nil {
			r.logger.Warn("Failed to send response", "op", req.Op, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}

	r.sub = sub
	r.logger.Debug("Serving request ring", "subject", subject)
	return nil
}

// SendEvent publishes an event record on the event ring.
func (r *Ring) SendEvent(ev cameraif.Event) error {
	conn, err := r.transport.connection()
	if err != nil {
		return err
	}
	return conn.Publish(SubjectEvent(r.transport.prefix, r.domID, r.devID), ev.Marshal())
}

// Close stops serving requests.
func (r *Ring) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sub == nil {
		return nil
	}
	err := r.sub.Unsubscribe()
	r.sub = nil
	if errors.Is(err, nats.ErrConnectionClosed) {
		return nil
	}
	return err
}
