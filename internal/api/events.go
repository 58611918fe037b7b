package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/camback/internal/events"
)

// ConnectedEvent is the first message on every event stream.
type ConnectedEvent struct {
	Message   string `json:"message" example:"SSE connection established"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z"`
}

func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Session lifecycle, streaming state, control changes, format fixes and device hotplug",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"connected":        ConnectedEvent{},
		"session-attached": events.SessionAttachedEvent{},
		"session-detached": events.SessionDetachedEvent{},
		"streaming":        events.StreamingStateChangedEvent{},
		"control-changed":  events.ControlChangedEvent{},
		"config-fixed":     events.ConfigFixedEvent{},
		"device-hotplug":   events.DeviceHotplugEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 32)

		unsubscribers := []func(){
			events.SubscribeToChannel[events.SessionAttachedEvent](s.options.EventBus, eventCh),
			events.SubscribeToChannel[events.SessionDetachedEvent](s.options.EventBus, eventCh),
			events.SubscribeToChannel[events.StreamingStateChangedEvent](s.options.EventBus, eventCh),
			events.SubscribeToChannel[events.ControlChangedEvent](s.options.EventBus, eventCh),
			events.SubscribeToChannel[events.ConfigFixedEvent](s.options.EventBus, eventCh),
			events.SubscribeToChannel[events.DeviceHotplugEvent](s.options.EventBus, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		if err := send.Data(ConnectedEvent{
			Message:   "SSE connection established",
			Timestamp: events.Now(),
		}); err != nil {
			return
		}

		forward(ctx, eventCh, send)
	})
}

// forward relays events until the client goes away or a write fails.
func forward(ctx context.Context, ch <-chan any, send sse.Sender) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			if err := send.Data(ev); err != nil {
				return
			}
		}
	}
}
