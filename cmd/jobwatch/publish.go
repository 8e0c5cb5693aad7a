// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/autobrr/jobwatch/internal/remote"
)

const (
	publishAttempts = 5
	publishDelay    = time.Second
)

func RunPublishCommand() *cobra.Command {
	var (
		configDir string
		id        string
		data      string
		file      string
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish item changes to the hub",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file != "" && (id != "" || data != "") {
				return errors.New("--file cannot be combined with --id or --data")
			}

			cfg, closer, err := loadConfig(configDir)
			if err != nil {
				return err
			}
			defer closer.Close()

			var items []remote.Item
			if file != "" {
				content, err := os.ReadFile(file)
				if err != nil {
					return errors.Wrap(err, "read items file")
				}
				if items, err = parseItems(content); err != nil {
					return err
				}
			} else {
				item, err := buildItem(id, data)
				if err != nil {
					return err
				}
				items = []remote.Item{item}
			}

			client, err := newHubClient(cfg.Config.RemoteURL, cfg.RequestTimeout(), publishAttempts, publishDelay)
			if err != nil {
				return err
			}
			for _, item := range items {
				if err := client.publish(cmd.Context(), item); err != nil {
					return errors.Wrapf(err, "publish %s", item.ID)
				}
				cmd.Printf("published %s\n", item.ID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", "", "Config directory or config.toml path")
	cmd.Flags().StringVar(&id, "id", "", "Item id (random when empty)")
	cmd.Flags().StringVar(&data, "data", "", "Item payload as JSON")
	cmd.Flags().StringVar(&file, "file", "", "YAML or JSON file holding one item or a list of items")

	return cmd
}

func RunClearCommand() *cobra.Command {
	var configDir string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every item from the hub",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, closer, err := loadConfig(configDir)
			if err != nil {
				return err
			}
			defer closer.Close()

			client, err := newHubClient(cfg.Config.RemoteURL, cfg.RequestTimeout(), publishAttempts, publishDelay)
			if err != nil {
				return err
			}
			if err := client.clear(cmd.Context()); err != nil {
				return errors.Wrap(err, "clear items")
			}
			cmd.Println("cleared")
			return nil
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", "", "Config directory or config.toml path")
	return cmd
}

func buildItem(id, data string) (remote.Item, error) {
	if id == "" {
		id = uuid.NewString()
	}

	item := remote.Item{ID: id}
	if data != "" {
		if !json.Valid([]byte(data)) {
			return remote.Item{}, errors.Errorf("--data is not valid JSON: %s", data)
		}
		item.Data = json.RawMessage(data)
	}
	return item, nil
}

type itemDocument struct {
	ID   string `yaml:"id"`
	Data any    `yaml:"data"`
}

// parseItems reads one item or a list of items. JSON input is valid YAML.
func parseItems(content []byte) ([]remote.Item, error) {
	var docs []itemDocument

	var node yaml.Node
	if err := yaml.Unmarshal(content, &node); err != nil {
		return nil, errors.Wrap(err, "parse items")
	}
	if len(node.Content) == 0 {
		return nil, errors.New("items file is empty")
	}

	root := node.Content[0]
	switch root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&docs); err != nil {
			return nil, errors.Wrap(err, "decode items")
		}
	case yaml.MappingNode:
		var doc itemDocument
		if err := root.Decode(&doc); err != nil {
			return nil, errors.Wrap(err, "decode item")
		}
		docs = append(docs, doc)
	default:
		return nil, errors.New("items file must hold a mapping or a list")
	}

	items := make([]remote.Item, 0, len(docs))
	for i, doc := range docs {
		if doc.ID == "" {
			return nil, errors.Errorf("item %d has no id", i)
		}

		item := remote.Item{ID: doc.ID}
		if doc.Data != nil {
			var buf bytes.Buffer
			enc := json.NewEncoder(&buf)
			enc.SetEscapeHTML(false)
			if err := enc.Encode(doc.Data); err != nil {
				return nil, errors.Wrapf(err, "encode data of %s", doc.ID)
			}
			item.Data = json.RawMessage(bytes.TrimSpace(buf.Bytes()))
		}
		items = append(items, item)
	}
	return items, nil
}
