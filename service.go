package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/smazurov/camback/internal/api"
	"github.com/smazurov/camback/internal/camera"
	"github.com/smazurov/camback/internal/config"
	"github.com/smazurov/camback/internal/events"
	"github.com/smazurov/camback/internal/frontend"
	"github.com/smazurov/camback/internal/grant"
	"github.com/smazurov/camback/internal/led"
	"github.com/smazurov/camback/internal/logging"
	"github.com/smazurov/camback/internal/metrics/exporters"
	"github.com/smazurov/camback/internal/monitoring"
	"github.com/smazurov/camback/internal/nats"
	"github.com/smazurov/camback/internal/pipeline"
	"github.com/smazurov/camback/internal/registry"
)

// service owns every long-running component. Nothing is opened until start,
// so subcommands that share the CLI hooks stay side-effect free.
type service struct {
	opts   *Options
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	bus         *events.Bus
	natsServer  *nats.Server
	transport   *nats.Transport
	bridge      *nats.Bridge
	mapper      grant.Mapper
	closeMapper func() error
	registry    *registry.Registry
	backend     *frontend.Backend
	watcher     *config.Watcher[config.FrontendsConfig]
	ledManager  *led.Manager
	monitor     *monitoring.DeviceMonitor
	exporter    *exporters.SSEExporter
	server      *api.Server
}

func newService(opts *Options, logger *slog.Logger) *service {
	return &service{opts: opts, logger: logger}
}

func (d *service) start() error {
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.bus = events.New()

	logging.SetLogCallback(func(e logging.LogEntry) {
		d.bus.Publish(events.LogEntryEvent{
			Seq:        e.Seq,
			Timestamp:  e.Timestamp.Format(time.RFC3339Nano),
			Level:      e.Level,
			Module:     e.Module,
			Message:    e.Message,
			Attributes: e.Attributes,
		})
	})

	if err := d.startTransport(); err != nil {
		return err
	}
	if err := d.openMapper(); err != nil {
		return err
	}

	pipelines, err := config.LoadPipelines(d.opts.Config)
	if err != nil {
		return err
	}
	d.registry = registry.New(registry.Options{
		Open: func(uniqueID string) (camera.Device, error) {
			return camera.Open(uniqueID, camera.OpenOptions{DevDir: d.opts.CaptureDevDir})
		},
		Pipelines: pipeline.New(pipeline.Options{
			MediaCtl:  d.opts.CaptureMediaCtl,
			Pipelines: pipelines,
		}),
		HardwareBuffers: uint32(max(d.opts.CaptureHardwareBuffers, 1)),
		Events:          d.bus,
	})

	d.backend = frontend.New(frontend.Options{
		Registry:  d.registry,
		Transport: frontend.NATSTransport(d.transport),
		Mapper:    d.mapper,
		MaxPages:  d.opts.GrantMaxPages,
		Events:    d.bus,
	})

	ledController := d.startLED()

	if d.opts.FeaturesHotplug {
		d.monitor = monitoring.NewDeviceMonitor(d.bus)
		if err := d.monitor.Start(); err != nil {
			d.logger.Warn("Hotplug monitoring unavailable", "error", err)
			d.monitor = nil
		}
	}

	d.exporter = exporters.NewSSEExporter(d.bus)
	d.exporter.Start(d.ctx)

	apiOpts := &api.Options{
		AuthUsername:      d.opts.AuthUsername,
		AuthPassword:      d.opts.AuthPassword,
		EventBus:          d.bus,
		Devices:           d.registry,
		Sessions:          d.backend,
		PrometheusHandler: exporters.HTTPHandler(),
	}
	if ledController != nil {
		apiOpts.LEDController = ledController
		apiOpts.LEDIndicator = d.ledManager
	}
	d.server = api.NewServer(apiOpts)

	// Bind frontends last so every listener sees the first attach events.
	d.watcher, err = d.backend.Watch(d.ctx, d.opts.FrontendsFile)
	if d.watcher == nil {
		return fmt.Errorf("watch %s: %w", d.opts.FrontendsFile, err)
	}
	if err != nil {
		d.logger.Warn("Some frontends failed to bind", "error", err)
	}

	if ok, notifyErr := daemon.SdNotify(false, daemon.SdNotifyReady); notifyErr != nil {
		d.logger.Warn("sd_notify failed", "error", notifyErr)
	} else if ok {
		d.logger.Debug("Notified systemd of readiness")
	}
	d.logger.Info("Backend ready", "frontends", len(d.backend.Sessions()), "nats", d.transport.URL())
	return nil
}

func (d *service) startTransport() error {
	url := d.opts.NatsURL
	if d.opts.NatsEmbedded {
		d.natsServer = nats.NewServer(nats.ServerOptions{
			Host:   d.opts.NatsHost,
			Port:   d.opts.NatsPort,
			Logger: logging.GetLogger("nats"),
		})
		if err := d.natsServer.Start(); err != nil {
			return err
		}
		url = d.natsServer.ClientURL()
	}
	if url == "" {
		return errors.New("no NATS server: enable the embedded server or set nats.url")
	}

	d.transport = nats.NewTransport(url, d.opts.NatsPrefix, logging.GetLogger("nats"))
	if err := d.transport.Connect(); err != nil {
		return err
	}

	if d.opts.NatsBridge {
		d.bridge = nats.NewBridge(url, d.bus, logging.GetLogger("nats"))
		if err := d.bridge.Start(); err != nil {
			d.logger.Warn("Event bridge unavailable", "error", err)
			d.bridge = nil
		}
	}
	return nil
}

func (d *service) openMapper() error {
	switch d.opts.GrantBackend {
	case "gntdev":
		g, err := grant.OpenGntdev(d.opts.GrantDevice)
		if err != nil {
			return err
		}
		d.mapper, d.closeMapper = g, g.Close
	case "file":
		f := grant.NewFileMapper(d.opts.GrantDir)
		d.mapper, d.closeMapper = f, f.Close
	default:
		return fmt.Errorf("unknown grant backend %q (want gntdev or file)", d.opts.GrantBackend)
	}
	d.logger.Info("Grant mapper ready", "backend", d.opts.GrantBackend)
	return nil
}

func (d *service) startLED() led.Controller {
	if !d.opts.FeaturesLEDControl {
		return nil
	}
	ledLogger := logging.GetLogger("led")
	controller, indicator := led.New(ledLogger)
	d.ledManager = led.NewManager(controller, indicator, d.bus, ledLogger)
	d.ledManager.Start()
	return controller
}

// serve blocks until the HTTP server stops.
func (d *service) serve() error {
	return d.server.Start(d.opts.Port)
}

// stop tears components down in reverse dependency order. It tolerates a
// partially started daemon.
func (d *service) stop() {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		d.logger.Debug("sd_notify failed", "error", err)
	}

	if d.server != nil {
		if err := d.server.Stop(); err != nil {
			d.logger.Error("Error stopping HTTP server", "error", err)
		}
	}
	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			d.logger.Warn("Error stopping frontends watcher", "error", err)
		}
	}
	if d.backend != nil {
		d.backend.Close()
	}
	if d.cancel != nil {
		d.cancel()
	}
	if d.exporter != nil {
		d.exporter.Stop()
	}
	if d.monitor != nil {
		d.monitor.Stop()
	}
	if d.ledManager != nil {
		d.ledManager.Stop()
	}
	if d.closeMapper != nil {
		if err := d.closeMapper(); err != nil {
			d.logger.Warn("Error closing grant mapper", "error", err)
		}
	}
	if d.bridge != nil {
		d.bridge.Stop()
	}
	if d.transport != nil {
		d.transport.Close()
	}
	if d.natsServer != nil {
		d.natsServer.Stop()
	}
	logging.SetLogCallback(nil)
}
