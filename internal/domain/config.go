// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Config represents the application configuration
type Config struct {
	Version   string
	Host      string `toml:"host" mapstructure:"host"`
	Port      int    `toml:"port" mapstructure:"port"`
	RemoteURL string `toml:"remoteUrl" mapstructure:"remoteUrl"`
	Transport string `toml:"transport" mapstructure:"transport"`

	// RetryInterval is the delay in seconds between reconnect and
	// resubscribe attempts while the job service is away.
	RetryInterval int `toml:"retryInterval" mapstructure:"retryInterval"`
	// RequestTimeout bounds each command sent to the job service, in seconds.
	RequestTimeout int `toml:"requestTimeout" mapstructure:"requestTimeout"`

	LogLevel      string `toml:"logLevel" mapstructure:"logLevel"`
	LogPath       string `toml:"logPath" mapstructure:"logPath"`
	LogMaxSize    int    `toml:"logMaxSize" mapstructure:"logMaxSize"`
	LogMaxBackups int    `toml:"logMaxBackups" mapstructure:"logMaxBackups"`

	MetricsEnabled        bool   `toml:"metricsEnabled" mapstructure:"metricsEnabled"`
	MetricsHost           string `toml:"metricsHost" mapstructure:"metricsHost"`
	MetricsPort           int    `toml:"metricsPort" mapstructure:"metricsPort"`
	MetricsBasicAuthUsers string `toml:"metricsBasicAuthUsers" mapstructure:"metricsBasicAuthUsers"`
}

// Validate checks the settings that would otherwise fail late at runtime.
// An unknown transport is not an error here; monitoring is then reported as
// unsupported.
func (c *Config) Validate() error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.MetricsEnabled && (c.MetricsPort < 1 || c.MetricsPort > 65535) {
		errs = append(errs, fmt.Errorf("metricsPort %d out of range", c.MetricsPort))
	}
	if c.RetryInterval <= 0 {
		errs = append(errs, errors.New("retryInterval must be positive"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("requestTimeout must be positive"))
	}
	if strings.TrimSpace(c.Transport) == "" {
		errs = append(errs, errors.New("transport is required"))
	}

	u, err := url.Parse(c.RemoteURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("invalid remoteUrl %q", c.RemoteURL))
	}

	return errors.Join(errs...)
}
