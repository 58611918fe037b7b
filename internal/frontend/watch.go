package frontend

import (
	"context"

	"github.com/smazurov/camback/internal/config"
)

// Watch applies path now and again whenever it changes. It returns the
// running watcher; the initial apply error is returned alongside it and does
// not stop the watch.
func (b *Backend) Watch(ctx context.Context, path string) (*config.Watcher[config.FrontendsConfig], error) {
	cfg, applyErr := config.LoadFrontends(path)
	if applyErr == nil {
		applyErr = b.Apply(ctx, cfg)
	}

	w := config.NewConfigWatcher(path, config.LoadFrontends, b.logger)
	w.OnReload(func(cfg config.FrontendsConfig) {
		b.logger.Info("Frontends file changed, applying", "path", path, "frontends", len(cfg.Frontends))
		if err := b.Apply(ctx, cfg); err != nil {
			b.logger.Warn("Some frontends failed to bind", "error", err)
		}
	})
	if err := w.Start(); err != nil {
		return nil, err
	}
	return w, applyErr
}
