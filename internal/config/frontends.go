package config

import (
	"cmp"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/pelletier/go-toml/v2"
)

// FrontendConfig binds one guest frontend device to a physical camera.
type FrontendConfig struct {
	DomID    uint32 `toml:"dom_id" json:"dom_id"`
	DevID    uint32 `toml:"dev_id" json:"dev_id"`
	UniqueID string `toml:"unique_id" json:"unique_id"`                   // camera node name or pattern id
	Pipeline string `toml:"pipeline,omitempty" json:"pipeline,omitempty"` // media pipeline applied before first use
	Controls string `toml:"controls,omitempty" json:"controls,omitempty"` // comma separated control names
}

// Key identifies a frontend by domain and device index.
func (f FrontendConfig) Key() string {
	return fmt.Sprintf("%d/%d", f.DomID, f.DevID)
}

// FrontendsConfig is the content of the frontends file.
type FrontendsConfig struct {
	Version   int              `toml:"version" json:"version"`
	Frontends []FrontendConfig `toml:"frontend" json:"frontends"`
}

// Validate checks required fields and rejects duplicate frontends.
func (c FrontendsConfig) Validate() error {
	seen := make(map[string]bool)
	var errs []error
	for _, f := range c.Frontends {
		if f.UniqueID == "" {
			errs = append(errs, fmt.Errorf("frontend %s: unique_id cannot be empty", f.Key()))
		}
		if seen[f.Key()] {
			errs = append(errs, fmt.Errorf("frontend %s: defined more than once", f.Key()))
		}
		seen[f.Key()] = true
	}
	return errors.Join(errs...)
}

// LoadFrontends reads and validates a frontends file.
func LoadFrontends(path string) (FrontendsConfig, error) {
	cfg := FrontendsConfig{Version: 1}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read frontends config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse frontends config: %w", err)
	}
	if cfg.Version == 0 {
		cfg.Version = 1
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid frontends config %s: %w", path, err)
	}
	return cfg, nil
}

// FrontendManager edits a frontends file.
type FrontendManager struct {
	configPath string
	config     FrontendsConfig
}

// NewFrontendManager creates a manager for configPath.
func NewFrontendManager(configPath string) *FrontendManager {
	if configPath == "" {
		configPath = "frontends.toml"
	}
	return &FrontendManager{
		configPath: configPath,
		config:     FrontendsConfig{Version: 1},
	}
}

// Load reads the file. A missing file leaves the configuration empty.
func (fm *FrontendManager) Load() error {
	if _, err := os.Stat(fm.configPath); os.IsNotExist(err) {
		return nil
	}
	cfg, err := LoadFrontends(fm.configPath)
	if err != nil {
		return err
	}
	fm.config = cfg
	return nil
}

// Save writes the configuration, sorted by domain and device.
func (fm *FrontendManager) Save() error {
	dir := filepath.Dir(fm.configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	slices.SortFunc(fm.config.Frontends, func(a, b FrontendConfig) int {
		return cmp.Or(cmp.Compare(a.DomID, b.DomID), cmp.Compare(a.DevID, b.DevID))
	})
	data, err := toml.Marshal(fm.config)
	if err != nil {
		return fmt.Errorf("failed to marshal frontends config: %w", err)
	}
	if err := os.WriteFile(fm.configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write frontends config: %w", err)
	}
	return nil
}

// AddFrontend adds or replaces a frontend and saves the file.
func (fm *FrontendManager) AddFrontend(f FrontendConfig) error {
	if f.UniqueID == "" {
		return fmt.Errorf("unique_id cannot be empty")
	}
	fm.config.Frontends = slices.DeleteFunc(fm.config.Frontends, func(e FrontendConfig) bool {
		return e.Key() == f.Key()
	})
	fm.config.Frontends = append(fm.config.Frontends, f)
	return fm.Save()
}

// RemoveFrontend removes a frontend and saves the file.
func (fm *FrontendManager) RemoveFrontend(domID, devID uint32) error {
	key := FrontendConfig{DomID: domID, DevID: devID}.Key()
	n := len(fm.config.Frontends)
	fm.config.Frontends = slices.DeleteFunc(fm.config.Frontends, func(e FrontendConfig) bool {
		return e.Key() == key
	})
	if len(fm.config.Frontends) == n {
		return fmt.Errorf("frontend %s not found", key)
	}
	return fm.Save()
}

// GetFrontends returns all frontends.
func (fm *FrontendManager) GetFrontends() []FrontendConfig {
	return fm.config.Frontends
}

// PipelineConfig describes the media pipeline feeding a camera: the media
// controller node, the links to enable and the pad formats to propagate, all
// in media-ctl syntax.
type PipelineConfig struct {
	MediaDevice string   `toml:"media_device" json:"media_device"`
	Links       []string `toml:"links" json:"links"`
	Formats     []string `toml:"formats" json:"formats"`
}

type pipelinesFile struct {
	Pipelines map[string]PipelineConfig `toml:"pipelines"`
}

// LoadPipelines reads the [pipelines.<name>] sections of a TOML file. A
// missing file yields no pipelines.
func LoadPipelines(path string) (map[string]PipelineConfig, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]PipelineConfig{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read pipelines: %w", err)
	}

	var f pipelinesFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse pipelines: %w", err)
	}
	if f.Pipelines == nil {
		f.Pipelines = map[string]PipelineConfig{}
	}
	for name, p := range f.Pipelines {
		if p.MediaDevice == "" {
			return nil, fmt.Errorf("pipeline %s: media_device cannot be empty", name)
		}
	}
	return f.Pipelines, nil
}
