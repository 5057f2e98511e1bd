// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"github.com/op/go-logging"
	"github.com/spf13/cobra"
)

var log = logging.MustGetLogger("billstat")

var (
	// Serial connection flags
	portName string

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Session flags
	configFile   string
	currencyCode string
	logLevel     string
	pollInterval string
)

var rootCmd = &cobra.Command{
	Use:   "billstat",
	Short: "Bill Validator Protocol Analyzer",
	Long: `Billstat - A CLI tool for driving and analyzing serial bill validators.

Speaks the omnibus polling protocol used by Cashflow SC style bill acceptors:
raw frame logging, link statistics, session capture and replay, and an
interactive controller for accepting, stacking and returning bills.

Connection modes:
  Serial:    --port /dev/ttyUSB0 (9600 baud, 7 data bits, even parity)
  WebSocket: --url ws://host/path [--username user]

Settings can also be given in a YAML config file (--config) or through
BILLSTAT_* environment variables, e.g. BILLSTAT_PORT, BILLSTAT_CURRENCY.

For WebSocket authentication, the password is read from the BILLSTAT_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:      "1.0.0",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := InitConfig(cmd); err != nil {
			return err
		}
		return InitLogger(config.GetString("log.level"))
	},
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Session flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&currencyCode, "currency", "USD", "ISO 4217 code escrowed bills must match")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "WARNING", "Log level (DEBUG, INFO, NOTICE, WARNING, ERROR, CRITICAL)")
	rootCmd.PersistentFlags().StringVar(&pollInterval, "poll-interval", "10s", "Keep-alive poll interval")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
