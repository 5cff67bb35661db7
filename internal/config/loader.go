package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"clustertest/pkg/logging"
)

// For mocking in tests
var osUserHomeDir = os.UserHomeDir
var osGetwd = os.Getwd

const (
	userConfigDir    = ".config/clustertest"
	projectConfigDir = ".clustertest"
	configFileName   = "config.yaml"
)

// LoadConfig loads the clustertest configuration by layering default, user,
// project and explicit settings. explicitPath may be empty; when set, the
// file must exist.
func LoadConfig(explicitPath string) (Config, error) {
	config := GetDefaultConfig()

	userConfigPath, err := getUserConfigPath()
	if err != nil {
		logging.Warn("Config", "Could not determine user config path: %v", err)
	} else if config, err = overlayIfExists(config, userConfigPath); err != nil {
		return Config{}, fmt.Errorf("error loading user config from %s: %w", userConfigPath, err)
	}

	projectConfigPath, err := getProjectConfigPath()
	if err != nil {
		logging.Warn("Config", "Could not determine project config path: %v", err)
	} else if config, err = overlayIfExists(config, projectConfigPath); err != nil {
		return Config{}, fmt.Errorf("error loading project config from %s: %w", projectConfigPath, err)
	}

	if explicitPath != "" {
		explicitConfig, err := loadConfigFromFile(explicitPath)
		if err != nil {
			return Config{}, fmt.Errorf("error loading config from %s: %w", explicitPath, err)
		}
		logging.Debug("Config", "Loaded config from %s", explicitPath)
		config = mergeConfigs(config, explicitConfig)
	}

	return config, nil
}

func overlayIfExists(base Config, path string) (Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return base, nil
	}
	overlay, err := loadConfigFromFile(path)
	if err != nil {
		return base, err
	}
	logging.Debug("Config", "Loaded config from %s", path)
	return mergeConfigs(base, overlay), nil
}

var getUserConfigPath = func() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir, configFileName), nil
}

var getProjectConfigPath = func() (string, error) {
	wd, err := osGetwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, projectConfigDir, configFileName), nil
}

// loadConfigFromFile loads a Config from a YAML file. An empty file yields a
// zero Config.
func loadConfigFromFile(filePath string) (Config, error) {
	var config Config
	data, err := os.ReadFile(filePath)
	if err != nil {
		return Config{}, err
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&config); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}
	return config, nil
}

// mergeConfigs merges 'overlay' config into 'base' config.
func mergeConfigs(base, overlay Config) Config {
	merged := base

	if len(overlay.Server.Command) > 0 {
		merged.Server.Command = append([]string{}, overlay.Server.Command...)
	}
	if overlay.Server.Host != "" {
		merged.Server.Host = overlay.Server.Host
	}
	if overlay.Server.BasePort != 0 {
		merged.Server.BasePort = overlay.Server.BasePort
	}
	if overlay.Server.Path != "" {
		merged.Server.Path = overlay.Server.Path
	}
	if overlay.Server.TLS.Enabled {
		merged.Server.TLS.Enabled = true
	}
	if overlay.Server.Ready.Type != "" {
		merged.Server.Ready.Type = overlay.Server.Ready.Type
	}
	if overlay.Server.Ready.Pattern != "" {
		merged.Server.Ready.Pattern = overlay.Server.Ready.Pattern
	}
	if len(overlay.Server.Env) > 0 {
		env := make(map[string]string, len(base.Server.Env)+len(overlay.Server.Env))
		for k, v := range base.Server.Env {
			env[k] = v
		}
		for k, v := range overlay.Server.Env {
			env[k] = v
		}
		merged.Server.Env = env
	}

	if overlay.Bootstrap.ReadyTimeout != 0 {
		merged.Bootstrap.ReadyTimeout = overlay.Bootstrap.ReadyTimeout
	}
	if overlay.Bootstrap.ShutdownGrace != 0 {
		merged.Bootstrap.ShutdownGrace = overlay.Bootstrap.ShutdownGrace
	}
	if overlay.Runner.RetryInterval != 0 {
		merged.Runner.RetryInterval = overlay.Runner.RetryInterval
	}
	if overlay.Tests.Dir != "" {
		merged.Tests.Dir = overlay.Tests.Dir
	}

	return merged
}

// GetUserConfigDir returns the user configuration directory path
func GetUserConfigDir() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir), nil
}
