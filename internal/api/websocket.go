package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"
	"github.com/smazurov/camback/internal/events"
)

// socketFrame is one message on the event WebSocket.
type socketFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// serveEventSocket carries the same events as /api/events over a WebSocket
// for clients that cannot hold an EventSource open.
func (s *Server) serveEventSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Debug("WebSocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Clients never send; CloseRead cancels ctx when they go away.
	ctx := conn.CloseRead(r.Context())

	frames := make(chan socketFrame, 32)
	bus := s.options.EventBus
	unsubscribers := []func(){
		bus.Subscribe(func(e events.SessionAttachedEvent) { offer(frames, "session-attached", e) }),
		bus.Subscribe(func(e events.SessionDetachedEvent) { offer(frames, "session-detached", e) }),
		bus.Subscribe(func(e events.StreamingStateChangedEvent) { offer(frames, "streaming", e) }),
		bus.Subscribe(func(e events.ControlChangedEvent) { offer(frames, "control-changed", e) }),
		bus.Subscribe(func(e events.ConfigFixedEvent) { offer(frames, "config-fixed", e) }),
		bus.Subscribe(func(e events.DeviceHotplugEvent) { offer(frames, "device-hotplug", e) }),
	}
	defer func() {
		for _, unsub := range unsubscribers {
			unsub()
		}
	}()

	hello := socketFrame{Event: "connected", Data: ConnectedEvent{
		Message:   "WebSocket connection established",
		Timestamp: events.Now(),
	}}
	if err := writeFrame(ctx, conn, hello); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case f := <-frames:
			if err := writeFrame(ctx, conn, f); err != nil {
				status := websocket.CloseStatus(err)
				if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
					s.logger.Debug("WebSocket write failed", "error", err)
				}
				return
			}
		}
	}
}

// offer drops the frame when the client is not keeping up.
func offer(ch chan<- socketFrame, name string, data any) {
	select {
	case ch <- socketFrame{Event: name, Data: data}:
	default:
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, f socketFrame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
