// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/billstat/pkg/denomination"
	"github.com/Thermoquad/billstat/pkg/validator"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// config holds the merged settings: flags, then BILLSTAT_* environment
// variables, then the config file, then flag defaults
var config = viper.New()

// flagKeys maps config keys to the persistent flags that set them
var flagKeys = map[string]string{
	"device":        "port",
	"url":           "url",
	"username":      "username",
	"no_ssl_verify": "no-ssl-verify",
	"currency":      "currency",
	"log.level":     "log-level",
	"poll_interval": "poll-interval",
}

// InitConfig binds flags and environment variables and reads the config
// file. A missing default config file is not an error; a missing file named
// with --config is.
func InitConfig(cmd *cobra.Command) error {
	config.SetEnvPrefix("billstat")
	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()

	for key, flag := range flagKeys {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := config.BindPFlag(key, f); err != nil {
				return fmt.Errorf("failed to bind flag %s: %w", flag, err)
			}
		}
	}

	if configFile != "" {
		config.SetConfigFile(configFile)
		if err := config.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config %s: %w", configFile, err)
		}
		return nil
	}

	config.SetConfigName("billstat")
	config.SetConfigType("yaml")
	config.AddConfigPath(".")
	config.AddConfigPath("$HOME/.config/billstat")
	if err := config.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}
	return nil
}

// PrintConfig logs the effective configuration
func PrintConfig() {
	log.Infof("action: config | result: success | device: %s | url: %s | currency: %s | poll_interval: %s | log_level: %s",
		config.GetString("device"),
		config.GetString("url"),
		config.GetString("currency"),
		config.GetString("poll_interval"),
		config.GetString("log.level"),
	)
}

// configPollInterval parses the poll interval setting
func configPollInterval() (time.Duration, error) {
	raw := config.GetString("poll_interval")
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid poll interval %q: %w", raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("poll interval must be positive, got %s", d)
	}
	return d, nil
}

// configDenominations returns the built-in table overlaid with any
// denominations.<CODE> entries from the config
func configDenominations() (denomination.Static, error) {
	return denomination.FromConfig(config, denomination.Default)
}

// controllerConfig assembles the validator settings for the active connection
func controllerConfig() (validator.Config, error) {
	interval, err := configPollInterval()
	if err != nil {
		return validator.Config{}, err
	}

	opener, device, err := ConnectionOpener()
	if err != nil {
		return validator.Config{}, err
	}

	return validator.Config{
		Device:       device,
		Currency:     config.GetString("currency"),
		PollInterval: interval,
		Opener:       opener,
	}, nil
}
