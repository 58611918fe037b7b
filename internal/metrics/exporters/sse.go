package exporters

import (
	"context"
	"sync"
	"time"

	"github.com/smazurov/camback/internal/events"
	"github.com/smazurov/camback/internal/metrics"
)

// EventPublisher interface for publishing events.
type EventPublisher interface {
	Publish(ev events.Event)
}

// SSEExporter periodically publishes per-device metrics on the event bus,
// deriving a frame rate from the captured frame counter.
type SSEExporter struct {
	eventBus EventPublisher
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	last     map[string]uint64
	lastTime time.Time
}

// NewSSEExporter creates a new SSE exporter.
func NewSSEExporter(eventBus EventPublisher) *SSEExporter {
	return &SSEExporter{
		eventBus: eventBus,
		interval: 1 * time.Second,
		last:     make(map[string]uint64),
	}
}

// Start begins the export loop.
func (s *SSEExporter) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.lastTime = time.Now()
	s.wg.Add(1)
	go s.run()
}

// Stop stops the exporter and waits for the goroutine to finish.
func (s *SSEExporter) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *SSEExporter) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			s.publishMetrics(now)
		}
	}
}

func (s *SSEExporter) publishMetrics(now time.Time) {
	elapsed := now.Sub(s.lastTime).Seconds()
	s.lastTime = now

	all := metrics.GetAllDeviceMetrics()
	for id := range s.last {
		if _, ok := all[id]; !ok {
			delete(s.last, id)
		}
	}

	for uniqueID, m := range all {
		var fps float64
		if prev, ok := s.last[uniqueID]; ok && elapsed > 0 && m.FramesCaptured >= prev {
			fps = float64(m.FramesCaptured-prev) / elapsed
		}
		s.last[uniqueID] = m.FramesCaptured

		s.eventBus.Publish(events.DeviceMetricsEvent{
			UniqueID:        uniqueID,
			FPS:             fps,
			FramesCaptured:  m.FramesCaptured,
			FramesCopied:    m.FramesCopied,
			FramesZeroCopy:  m.FramesZeroCopy,
			FramesDropped:   m.FramesDropped,
			Consumers:       m.Consumers,
			HardwareBuffers: m.HardwareBuffers,
			Timestamp:       events.Now(),
		})
	}
}
