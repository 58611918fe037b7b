package led

import (
	"log/slog"
	"sync"

	"github.com/smazurov/camback/internal/events"
)

// Manager lights the indicator LED while any camera is capturing.
type Manager struct {
	controller  Controller
	indicator   string
	eventBus    *events.Bus
	unsubscribe func()
	logger      *slog.Logger

	mu        sync.Mutex
	streaming map[string]bool // unique id -> capturing
	lit       *bool
}

// NewManager creates a manager driving the indicator LED of controller.
func NewManager(controller Controller, indicator string, eventBus *events.Bus, logger *slog.Logger) *Manager {
	return &Manager{
		controller: controller,
		indicator:  indicator,
		eventBus:   eventBus,
		logger:     logger,
		streaming:  make(map[string]bool),
	}
}

// Start switches the LED off and begins following streaming events.
func (m *Manager) Start() {
	m.mu.Lock()
	m.applyLocked()
	m.mu.Unlock()

	m.unsubscribe = m.eventBus.Subscribe(func(e events.StreamingStateChangedEvent) {
		m.handleEvent(e)
	})
	m.logger.Info("LED manager started", "indicator", m.indicator)
}

// Stop unsubscribes and switches the LED off.
func (m *Manager) Stop() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}

	m.mu.Lock()
	clear(m.streaming)
	m.applyLocked()
	m.mu.Unlock()
	m.logger.Info("LED manager stopped")
}

func (m *Manager) handleEvent(event events.StreamingStateChangedEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if event.IsStreaming() {
		m.streaming[event.GetDeviceID()] = true
	} else {
		delete(m.streaming, event.GetDeviceID())
	}
	m.logger.Debug("Streaming state changed", "device", event.GetDeviceID(), "streaming", event.IsStreaming())
	m.applyLocked()
}

// InUse reports whether any camera is capturing.
func (m *Manager) InUse() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streaming) > 0
}

func (m *Manager) applyLocked() {
	on := len(m.streaming) > 0
	if m.lit != nil && *m.lit == on {
		return
	}
	if m.indicator == "" {
		m.lit = &on
		return
	}

	if err := m.controller.Set(m.indicator, on, "solid"); err != nil {
		m.logger.Warn("Failed to set indicator LED", "led", m.indicator, "on", on, "error", err)
		return
	}
	m.lit = &on
}

// Indicator returns the LED type used as the in-use indicator.
func (m *Manager) Indicator() string { return m.indicator }

// GetController returns the underlying LED controller for direct API access.
func (m *Manager) GetController() Controller {
	return m.controller
}
