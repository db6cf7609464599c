// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the service configuration, loaded from the YAML file
// named by --config. Decoding is strict: unknown keys are an error,
// so a typo in the config fails startup instead of silently running
// with a default.
type Config struct {
	// Listen is the TCP address for the webhook listener. Defaults
	// to 127.0.0.1:9600; external access goes through a reverse
	// proxy that terminates TLS.
	Listen string `yaml:"listen"`

	// Socket is the Unix socket path for the control protocol
	// (status, cancel). Empty disables the control socket.
	Socket string `yaml:"socket"`

	// WebhookSecretFile names a file holding the HMAC secret shared
	// with the forge. The secret is a separate file so the config
	// itself carries no credentials. Required.
	WebhookSecretFile string `yaml:"webhook_secret_file"`

	// Pipelines lists the pipeline definition files to evaluate
	// against incoming events. All definitions are parsed and
	// validated at startup. At least one is required.
	Pipelines []string `yaml:"pipelines"`

	// History is the run history database path. Empty disables
	// history recording.
	History string `yaml:"history"`

	// LogStore is the step-output archive directory. Requires
	// History; large step outputs are archived there instead of
	// being stored inline in the database.
	LogStore string `yaml:"log_store"`

	// Identity is the age identity file for unsealing pipeline
	// secrets. Only needed when a configured pipeline uses sealed
	// values.
	Identity string `yaml:"identity"`

	// InstallCommand is the package installer invocation, argv
	// style (e.g. ["apt-get", "install", "-y"]). Package names are
	// appended. Empty means pipelines requesting packages fail
	// provisioning.
	InstallCommand []string `yaml:"install_command"`

	// RecentRuns is the capacity of the in-memory ring of completed
	// runs served by the status action. Defaults to 50.
	RecentRuns int `yaml:"recent_runs"`
}

// LoadConfig reads and strictly decodes the configuration file, then
// applies defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var config Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if config.Listen == "" {
		config.Listen = "127.0.0.1:9600"
	}
	if config.RecentRuns == 0 {
		config.RecentRuns = 50
	}

	return &config, nil
}

// Validate checks the configuration for problems that defaults cannot
// fix.
func (c *Config) Validate() error {
	if c.WebhookSecretFile == "" {
		return errors.New("webhook_secret_file is required")
	}
	if len(c.Pipelines) == 0 {
		return errors.New("at least one pipeline is required")
	}
	for index, path := range c.Pipelines {
		if path == "" {
			return fmt.Errorf("pipelines[%d] is empty", index)
		}
	}
	if c.LogStore != "" && c.History == "" {
		return errors.New("log_store requires history")
	}
	if c.RecentRuns < 0 {
		return fmt.Errorf("recent_runs must not be negative, got %d", c.RecentRuns)
	}
	return nil
}
