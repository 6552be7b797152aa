package config

import (
	"fmt"
	"time"

	"github.com/GoCodeAlone/unitrt/feeders"
)

// ApplicationPrefix is the tree section holding ApplicationConfig.
const ApplicationPrefix = "application"

// ProfileEnv names the environment variable that selects the profile.
const ProfileEnv = "UNITRT_PROFILE"

// ApplicationConfig is the process-level configuration.
type ApplicationConfig struct {
	Name       string           `yaml:"name" default:"unitrt" validate:"required"`
	Profile    string           `yaml:"profile" env:"UNITRT_PROFILE"`
	AutoUpdate AutoUpdateConfig `yaml:"autoUpdate"`
	Shutdown   ShutdownConfig   `yaml:"shutdown"`
	Admin      AdminConfig      `yaml:"admin"`
	Cluster    ClusterConfig    `yaml:"cluster"`
	Log        LogConfig        `yaml:"log"`
}

// AutoUpdateConfig controls configuration hot reload.
type AutoUpdateConfig struct {
	Enable   bool          `yaml:"enable"`
	Interval time.Duration `yaml:"interval" default:"5m" validate:"gt=0"`
	// Watch also reloads on file system events between scheduled scans.
	Watch bool `yaml:"watch" default:"true"`
}

// ShutdownConfig bounds the stop sequence.
type ShutdownConfig struct {
	StopRequestTimeout time.Duration `yaml:"stopRequestTimeout" default:"25s" validate:"gt=0"`
	Ceiling            time.Duration `yaml:"ceiling" default:"2m" validate:"gt=0"`
}

// AdminConfig controls the admin HTTP server.
type AdminConfig struct {
	Enable bool   `yaml:"enable"`
	Addr   string `yaml:"addr" default:":8081" validate:"required"`
}

// ClusterConfig selects the clustered bus.
type ClusterConfig struct {
	Enable  bool   `yaml:"enable"`
	NatsURL string `yaml:"natsUrl" default:"nats://127.0.0.1:4222" validate:"required,url"`
	Queue   string `yaml:"queue" default:"unitrt" validate:"required"`
}

// LogConfig selects the log level and encoder.
type LogConfig struct {
	Level       string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Development bool   `yaml:"development"`
}

// LoadApplicationConfig binds the application section of tree and applies
// environment overrides.
func LoadApplicationConfig(tree *Tree) (*ApplicationConfig, error) {
	cfg := &ApplicationConfig{}
	if err := Bind(tree, ApplicationPrefix, cfg); err != nil {
		return nil, err
	}
	if err := feeders.NewEnvFeeder().Feed(cfg); err != nil {
		return nil, fmt.Errorf("%w: environment: %w", ErrDecode, err)
	}
	return cfg, nil
}
