// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/autobrr/jobwatch/internal/buildinfo"
	"github.com/autobrr/jobwatch/internal/config"
	"github.com/autobrr/jobwatch/internal/logger"
	_ "github.com/autobrr/jobwatch/internal/remote/ssechan"
	_ "github.com/autobrr/jobwatch/internal/remote/wschan"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "jobwatch",
		Short:         "Monitor and relay job service notifications",
		Version:       buildinfo.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(
		RunWatchCommand(),
		RunHubCommand(),
		RunPublishCommand(),
		RunClearCommand(),
		RunVersionCommand(),
	)
	return root
}

func RunVersionCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !asJSON {
				_, err := fmt.Fprint(cmd.OutOrStdout(), buildinfo.String())
				return err
			}

			data, err := buildinfo.JSON()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

var loggerOnce sync.Once

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// loadConfig reads the config and sets up logging. Logging is configured by
// the first call only; the closer releases the log file.
func loadConfig(configDir string) (*config.AppConfig, io.Closer, error) {
	cfg, err := config.New(configDir)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	var closer io.Closer = nopCloser{}
	var setupErr error
	loggerOnce.Do(func() {
		closer, setupErr = logger.Setup(cfg.Config)
	})
	if setupErr != nil {
		return nil, nil, fmt.Errorf("setup logger: %w", setupErr)
	}

	log.Debug().Interface("config", cfg.Config.Redacted()).Str("path", cfg.ConfigPath()).Msg("config loaded")
	return cfg, closer, nil
}
