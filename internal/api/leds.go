package api

import (
	"context"
	"net/http"
	"slices"

	"github.com/danielgtaylor/huma/v2"
)

// LEDRequest sets one board LED.
type LEDRequest struct {
	Body struct {
		Type    string  `json:"type" example:"user" doc:"LED type (board-specific: user, system, blue, green, act)"`
		Enabled bool    `json:"enabled" example:"true" doc:"Whether the LED should be on or off"`
		Pattern *string `json:"pattern,omitempty" example:"solid" doc:"Optional LED pattern (solid, blink, heartbeat)"`
	}
}

// LEDStatusBody describes the board LEDs and the in-use indicator.
type LEDStatusBody struct {
	AvailableTypes    []string `json:"available_types" doc:"LED types available on this board"`
	AvailablePatterns []string `json:"available_patterns" doc:"LED patterns available on this board"`
	Indicator         string   `json:"indicator,omitempty" example:"user" doc:"LED that shows a camera in use"`
	InUse             bool     `json:"in_use" example:"false" doc:"Whether any device is streaming"`
}

type LEDStatusResponse struct {
	Body LEDStatusBody
}

// IndicatorState reports the in-use indicator managed by led.Manager.
type IndicatorState interface {
	Indicator() string
	InUse() bool
}

func (s *Server) registerLEDRoutes() {
	if s.options.LEDController == nil {
		s.logger.Debug("LED controller not available, skipping LED routes")
		return
	}

	huma.Register(s.api, huma.Operation{
		OperationID: "control-led",
		Method:      http.MethodPost,
		Path:        "/api/leds",
		Summary:     "Control LED",
		Description: "Set an LED's state and optional pattern. The in-use indicator is overwritten on the next streaming change.",
		Tags:        []string{"leds"},
		Errors:      []int{400, 401},
		Security:    withAuth(),
	}, func(ctx context.Context, input *LEDRequest) (*struct{}, error) {
		ctrl := s.options.LEDController
		if !slices.Contains(ctrl.Available(), input.Body.Type) {
			return nil, huma.Error400BadRequest("Unknown LED type " + input.Body.Type)
		}
		pattern := ""
		if input.Body.Pattern != nil {
			pattern = *input.Body.Pattern
		}
		if err := ctrl.Set(input.Body.Type, input.Body.Enabled, pattern); err != nil {
			return nil, huma.Error400BadRequest("Failed to control LED", err)
		}
		return &struct{}{}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-leds",
		Method:      http.MethodGet,
		Path:        "/api/leds",
		Summary:     "LED Status",
		Description: "Available LED types and patterns, and the state of the in-use indicator",
		Tags:        []string{"leds"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(ctx context.Context, input *struct{}) (*LEDStatusResponse, error) {
		body := LEDStatusBody{
			AvailableTypes:    s.options.LEDController.Available(),
			AvailablePatterns: s.options.LEDController.Patterns(),
		}
		if ind := s.options.LEDIndicator; ind != nil {
			body.Indicator = ind.Indicator()
			body.InUse = ind.InUse()
		}
		return &LEDStatusResponse{Body: body}, nil
	})

	s.logger.Info("LED routes registered")
}
