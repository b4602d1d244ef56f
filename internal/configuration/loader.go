package configuration

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"glusterd/internal/configuration/util"
)

const (
	DefaultDir = "internal/static"
	DirEnv     = "GLUSTERD_CONFIG_DIR"
)

// Load reads application.yml and the overlay of its profile from the
// directory named by GLUSTERD_CONFIG_DIR, or DefaultDir.
func Load() (*Properties, error) {
	dir := DefaultDir
	if v, ok := os.LookupEnv(DirEnv); ok && v != "" {
		dir = v
	}
	return LoadFrom(dir)
}

func LoadFrom(dir string) (*Properties, error) {
	cfg, err := loadBaseConfig(dir)
	if err != nil {
		return nil, err
	}

	if err := loadProfileConfig(dir, cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadBaseConfig(dir string) (*Properties, error) {
	baseConfig, err := util.LoadAndExpandYaml(dir, "application")
	if err != nil {
		slog.Error("Error loading base config", "error", err)
		return nil, err
	}

	cfg := Properties{}
	if err := yaml.Unmarshal([]byte(baseConfig), &cfg); err != nil {
		slog.Error("Error parsing base config", "error", err)
		return nil, err
	}

	return &cfg, nil
}

func loadProfileConfig(dir string, cfg *Properties) error {
	if cfg.App.Profile == "" {
		return nil
	}

	profileConfig, err := util.LoadAndExpandYaml(dir, fmt.Sprintf("application-%s", cfg.App.Profile))
	if err != nil {
		slog.Error("Error loading profile config", "profile", cfg.App.Profile, "error", err)
		return err
	}

	if err := yaml.Unmarshal([]byte(profileConfig), cfg); err != nil {
		slog.Error("Error parsing profile config", "profile", cfg.App.Profile, "error", err)
		return err
	}

	return nil
}
