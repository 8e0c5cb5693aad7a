// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"
	"time"
	"unicode"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/autobrr/jobwatch/internal/buildinfo"
	"github.com/autobrr/jobwatch/internal/domain"
)

const (
	configFileName = "config.toml"
	envPrefix      = "JOBWATCH__"
)

var defaults = map[string]any{
	"host":                  "127.0.0.1",
	"port":                  7480,
	"remoteUrl":             "http://127.0.0.1:7480",
	"transport":             "sse",
	"retryInterval":         5,
	"requestTimeout":        10,
	"logLevel":              "INFO",
	"logPath":               "",
	"logMaxSize":            50,
	"logMaxBackups":         3,
	"metricsEnabled":        false,
	"metricsHost":           "127.0.0.1",
	"metricsPort":           9074,
	"metricsBasicAuthUsers": "",
}

var configTemplate = template.Must(template.New("config").Parse(`# config.toml - Auto-generated on first run

# Hub listen address
# Default: "{{ .host }}"
host = "{{ .host }}"

# Hub listen port
# Default: {{ .port }}
port = {{ .port }}

# Job service the monitor connects to
# Default: "{{ .remoteUrl }}"
remoteUrl = "{{ .remoteUrl }}"

# Transport used to reach the job service
# Default: "{{ .transport }}"
# Options: "sse", "ws"
transport = "{{ .transport }}"

# Seconds between reconnect and resubscribe attempts
# Default: {{ .retryInterval }}
#retryInterval = {{ .retryInterval }}

# Seconds before a command to the job service times out
# Default: {{ .requestTimeout }}
#requestTimeout = {{ .requestTimeout }}

# Log file path
# If not defined, logs to stdout
# Optional
#logPath = "log/jobwatch.log"

# Log rotation
# Maximum log file size in megabytes before rotation
# Default: {{ .logMaxSize }}
#logMaxSize = {{ .logMaxSize }}

# Number of rotated log files to retain (0 keeps all)
# Default: {{ .logMaxBackups }}
#logMaxBackups = {{ .logMaxBackups }}

# Log level
# Default: "{{ .logLevel }}"
# Options: "ERROR", "DEBUG", "INFO", "WARN", "TRACE"
logLevel = "{{ .logLevel }}"

# Prometheus metrics
# Default: false
#metricsEnabled = false
#metricsHost = "{{ .metricsHost }}"
#metricsPort = {{ .metricsPort }}

# Comma separated user:password pairs protecting /metrics
# Optional
#metricsBasicAuthUsers = ""
`))

type AppConfig struct {
	Config *domain.Config

	viper      *viper.Viper
	configPath string

	mu       sync.Mutex
	logLevel string
}

// New loads the configuration from configPath, which may name a file or a
// directory. An empty path uses the default config directory. A missing
// config file is created with commented defaults.
func New(configPath string) (*AppConfig, error) {
	path, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, err
	}

	if err := writeDefaultConfig(path); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	for key, value := range defaults {
		v.SetDefault(key, value)
		if err := v.BindEnv(key, envName(key)); err != nil {
			return nil, errors.Wrapf(err, "bind env for %s", key)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}

	cfg := &domain.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	cfg.Version = buildinfo.Version

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %s", path)
	}

	return &AppConfig{
		Config:     cfg,
		viper:      v,
		configPath: path,
		logLevel:   cfg.LogLevel,
	}, nil
}

// ConfigPath returns the config file in use.
func (c *AppConfig) ConfigPath() string {
	return c.configPath
}

func (c *AppConfig) RetryInterval() time.Duration {
	return time.Duration(c.Config.RetryInterval) * time.Second
}

func (c *AppConfig) RequestTimeout() time.Duration {
	return time.Duration(c.Config.RequestTimeout) * time.Second
}

// WatchLogLevel calls apply whenever logLevel changes in the config file.
func (c *AppConfig) WatchLogLevel(apply func(level string)) {
	c.viper.OnConfigChange(func(e fsnotify.Event) {
		level := c.viper.GetString("logLevel")

		c.mu.Lock()
		changed := !strings.EqualFold(level, c.logLevel)
		c.logLevel = level
		c.mu.Unlock()

		if !changed {
			return
		}

		log.Info().Str("file", e.Name).Str("level", level).Msg("log level changed")
		apply(level)
	})
	c.viper.WatchConfig()
}

func resolveConfigPath(configPath string) (string, error) {
	if configPath == "" {
		configPath = getDefaultConfigDir()
	}

	if strings.EqualFold(filepath.Ext(configPath), ".toml") {
		if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
			return "", errors.Wrap(err, "create config directory")
		}
		return configPath, nil
	}

	if err := os.MkdirAll(configPath, 0o755); err != nil {
		return "", errors.Wrap(err, "create config directory")
	}
	return filepath.Join(configPath, configFileName), nil
}

// getDefaultConfigDir follows XDG_CONFIG_HOME. Containers set it to /config
// and expect the file there directly.
func getDefaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		if xdg == "/config" {
			return xdg
		}
		return filepath.Join(xdg, "jobwatch")
	}

	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, "jobwatch")
}

func writeDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return errors.Wrap(err, "stat config")
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return errors.Wrap(err, "create config")
	}
	defer f.Close()

	if err := configTemplate.Execute(f, defaults); err != nil {
		return errors.Wrap(err, "write default config")
	}

	log.Info().Str("path", path).Msg("wrote default config")
	return nil
}

// envName maps a config key to its environment variable, for example
// remoteUrl to JOBWATCH__REMOTE_URL.
func envName(key string) string {
	var b strings.Builder
	b.WriteString(envPrefix)
	for i, r := range key {
		if unicode.IsUpper(r) && i > 0 {
			b.WriteByte('_')
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}
