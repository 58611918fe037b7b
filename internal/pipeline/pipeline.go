package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/smazurov/camback/internal/config"
	"github.com/smazurov/camback/internal/logging"
)

// DefaultMediaCtl is the media-ctl binary looked up in PATH.
const DefaultMediaCtl = "media-ctl"

// Configurator applies named pipelines with media-ctl.
type Configurator struct {
	mediaCtl  string
	runner    Runner
	pipelines map[string]config.PipelineConfig
	logger    *slog.Logger
}

// Options configure a Configurator.
type Options struct {
	MediaCtl  string
	Runner    Runner
	Pipelines map[string]config.PipelineConfig
}

// New creates a configurator. A nil Runner runs media-ctl as a subprocess.
func New(opts Options) *Configurator {
	logger := logging.GetLogger("pipeline")
	if opts.MediaCtl == "" {
		opts.MediaCtl = DefaultMediaCtl
	}
	if opts.Runner == nil {
		opts.Runner = NewExecRunner(logger, 0)
	}
	return &Configurator{
		mediaCtl:  opts.MediaCtl,
		runner:    opts.Runner,
		pipelines: opts.Pipelines,
		logger:    logger,
	}
}

// Has reports whether a pipeline is defined.
func (c *Configurator) Has(name string) bool {
	_, ok := c.pipelines[name]
	return ok
}

// Configure resets the media device of the named pipeline, enables its
// links and sets its pad formats. On failure the links are reset again.
func (c *Configurator) Configure(ctx context.Context, name string) error {
	p, ok := c.pipelines[name]
	if !ok {
		return fmt.Errorf("pipeline %q not defined", name)
	}

	logger := c.logger.With("pipeline", name, "media_device", p.MediaDevice)
	logger.Info("Configuring media pipeline", "links", len(p.Links), "formats", len(p.Formats))

	if err := c.mediaCtlRun(ctx, p, "-r"); err != nil {
		return fmt.Errorf("failed to reset links: %w", err)
	}
	for _, link := range p.Links {
		if err := c.mediaCtlRun(ctx, p, "-l", link); err != nil {
			c.reset(ctx, p, logger)
			return fmt.Errorf("failed to setup link %s: %w", link, err)
		}
	}
	for _, format := range p.Formats {
		if err := c.mediaCtlRun(ctx, p, "-V", format); err != nil {
			c.reset(ctx, p, logger)
			return fmt.Errorf("failed to setup format %s: %w", format, err)
		}
	}

	logger.Info("Media pipeline configured")
	return nil
}

// Release resets the links of the named pipeline.
func (c *Configurator) Release(ctx context.Context, name string) error {
	p, ok := c.pipelines[name]
	if !ok {
		return fmt.Errorf("pipeline %q not defined", name)
	}
	c.logger.Debug("Releasing media pipeline", "pipeline", name)
	return c.mediaCtlRun(ctx, p, "-r")
}

func (c *Configurator) reset(ctx context.Context, p config.PipelineConfig, logger *slog.Logger) {
	if err := c.mediaCtlRun(ctx, p, "-r"); err != nil {
		logger.Warn("Failed to reset links after error", "error", err)
	}
}

func (c *Configurator) mediaCtlRun(ctx context.Context, p config.PipelineConfig, args ...string) error {
	return c.runner.Run(ctx, c.mediaCtl, append([]string{"-d", p.MediaDevice}, args...)...)
}
