package main

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"runtime/debug"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/camback/cmd"
	"github.com/smazurov/camback/internal/config"
	"github.com/smazurov/camback/internal/logging"
	"github.com/smazurov/camback/internal/version"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"camback.toml"`

	// Frontends
	FrontendsFile string `help:"Frontend bindings file, reloaded on change" default:"frontends.toml" toml:"frontends.file" env:"FRONTENDS_FILE"`

	// Server settings
	Port string `help:"HTTP status API address" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// NATS settings
	NatsEmbedded bool   `help:"Run the embedded NATS server" default:"true" toml:"nats.embedded" env:"NATS_EMBEDDED"`
	NatsHost     string `help:"Embedded NATS listen host" default:"127.0.0.1" toml:"nats.host" env:"NATS_HOST"`
	NatsPort     int    `help:"Embedded NATS listen port" default:"4222" toml:"nats.port" env:"NATS_PORT"`
	NatsURL      string `help:"External NATS URL, used when the embedded server is off" default:"" toml:"nats.url" env:"NATS_URL"`
	NatsPrefix   string `help:"Subject prefix of frontend rings" default:"camback.fe" toml:"nats.prefix" env:"NATS_PREFIX"`
	NatsBridge   bool   `help:"Mirror internal events to camback.events.*" default:"true" toml:"nats.bridge" env:"NATS_BRIDGE"`

	// Grant mapping
	GrantBackend  string `help:"Guest memory mapper (gntdev, file)" default:"gntdev" toml:"grant.backend" env:"GRANT_BACKEND"`
	GrantDevice   string `help:"Grant device node" default:"/dev/xen/gntdev" toml:"grant.device" env:"GRANT_DEVICE"`
	GrantDir      string `help:"Directory of per-domain page files for the file mapper" default:"/run/camback/grants" toml:"grant.dir" env:"GRANT_DIR"`
	GrantMaxPages int    `help:"Largest buffer a guest may map, in pages" default:"16384" toml:"grant.max_pages" env:"GRANT_MAX_PAGES"`

	// Capture settings
	CaptureDevDir          string `help:"Directory holding camera nodes" default:"/dev" toml:"capture.dev_dir" env:"CAPTURE_DEV_DIR"`
	CaptureHardwareBuffers int    `help:"Capture buffers allocated per device" default:"4" toml:"capture.hardware_buffers" env:"CAPTURE_HARDWARE_BUFFERS"`
	CaptureMediaCtl        string `help:"media-ctl binary used for pipelines" default:"media-ctl" toml:"capture.media_ctl" env:"CAPTURE_MEDIA_CTL"`

	// Auth settings
	AuthUsername string `help:"Basic auth username" default:"admin" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"password" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Features settings
	FeaturesLEDControl bool `help:"Light a board LED while any camera streams" default:"false" toml:"features.led_control_enabled" env:"FEATURES_LED_CONTROL"`
	FeaturesHotplug    bool `help:"Report camera hotplug events" default:"true" toml:"features.hotplug_enabled" env:"FEATURES_HOTPLUG"`

	// Logging settings
	LoggingLevel    string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat   string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingMask     string `help:"Module level mask, e.g. \"*:debug,nats:warn\"" default:"" toml:"logging.mask" env:"LOGGING_MASK"`
	LoggingBroker   string `help:"Broker logging level" default:"" toml:"logging.broker" env:"LOGGING_BROKER"`
	LoggingSession  string `help:"Session logging level" default:"" toml:"logging.session" env:"LOGGING_SESSION"`
	LoggingCamera   string `help:"Camera logging level" default:"" toml:"logging.camera" env:"LOGGING_CAMERA"`
	LoggingFrontend string `help:"Frontend binding logging level" default:"" toml:"logging.frontend" env:"LOGGING_FRONTEND"`
	LoggingNats     string `help:"NATS logging level" default:"" toml:"logging.nats" env:"LOGGING_NATS"`
	LoggingAPI      string `help:"API logging level" default:"" toml:"logging.api" env:"LOGGING_API"`
}

func (o *Options) loggingConfig() logging.Config {
	modules := map[string]string{}
	for module, level := range map[string]string{
		"broker":   o.LoggingBroker,
		"session":  o.LoggingSession,
		"camera":   o.LoggingCamera,
		"frontend": o.LoggingFrontend,
		"nats":     o.LoggingNats,
		"api":      o.LoggingAPI,
	} {
		if level != "" {
			modules[module] = level
		}
	}
	return logging.Config{
		Level:   o.LoggingLevel,
		Format:  o.LoggingFormat,
		Mask:    o.LoggingMask,
		Modules: modules,
	}
}

func main() {
	// A crash in a capture or request goroutine dumps every goroutine.
	debug.SetTraceback("all")

	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}
		logging.Initialize(opts.loggingConfig())
		logger := logging.GetLogger("main")

		d := newService(opts, logger)

		hooks.OnStart(func() {
			logger.Info("Starting", "version", version.Get().Banner())
			if startErr := d.start(); startErr != nil {
				logger.Error("Failed to start", "error", startErr)
				d.stop()
				os.Exit(1)
			}
			if serveErr := d.serve(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", serveErr)
				d.stop()
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down")
			d.stop()
		})
	})

	cli.Root().Use = "camback"
	cli.Root().Short = "Shared paravirtual camera backend"
	cli.Root().Version = version.Get().Banner()

	cli.Root().AddCommand(cmd.CreateDevicesCmd())
	cli.Root().AddCommand(cmd.CreateFrontendsCmd())
	cli.Root().AddCommand(cmd.CreateProbeCmd())

	cli.Run()
}
