// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/Thermoquad/billstat/pkg/capture"
	"github.com/Thermoquad/billstat/pkg/validator"
	"github.com/spf13/cobra"
)

var (
	runEnable     bool
	runAutoStack  bool
	runRecordFile string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Drive the validator and print events",
	Long: `Open the validator, start polling and print every event as it happens.

The controller sends a poll with every denomination disabled on start, then
keeps polling at --poll-interval. With --enable all denominations are
accepted right away. Escrowed bills of another currency than --currency are
returned automatically; with --auto-stack matching bills are stacked.

With --record the raw traffic of the session is written to a capture file
that "replay" can decode later.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runEnable, "enable", false, "Accept all denominations after start")
	runCmd.Flags().BoolVar(&runAutoStack, "auto-stack", false, "Stack every accepted bill")
	runCmd.Flags().StringVar(&runRecordFile, "record", "", "Write a session capture to this file")
}

// recordingOpener wraps opener so every connection it opens is captured
func recordingOpener(opener validator.Opener, w *capture.Writer) validator.Opener {
	return func(device string) (validator.Port, error) {
		port, err := opener(device)
		if err != nil {
			return nil, err
		}
		return capture.NewTap(port, w, func(err error) {
			log.Errorf("action: record | result: fail | error: %v", err)
		}), nil
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := controllerConfig()
	if err != nil {
		return err
	}
	PrintConfig()

	if runRecordFile != "" {
		w, closeCapture, err := createCapture(runRecordFile)
		if err != nil {
			return err
		}
		defer closeCapture()
		cfg.Opener = recordingOpener(cfg.Opener, w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctrl := validator.New(cfg)
	defer ctrl.Shutdown()

	fmt.Printf("Billstat - Run\n")
	fmt.Printf("Connection: %s\n", cfg.Device)
	fmt.Printf("Currency: %s\n", ctrl.Currency())
	fmt.Printf("Press Ctrl+C to exit\n\n")

	if err := ctrl.Run(); err != nil {
		return err
	}
	if runEnable {
		if err := ctrl.Enable(); err != nil {
			return err
		}
	}

	return runSession(ctx, ctrl, os.Stdout)
}

// runSession prints events until ctx is cancelled or the link drops, then
// prints the link statistics
func runSession(ctx context.Context, ctrl *validator.Controller, out io.Writer) error {
	for {
		select {
		case <-ctx.Done():
			st := ctrl.Stats()
			fmt.Fprintln(out)
			fmt.Fprint(out, st.String())
			return nil

		case e, ok := <-ctrl.Events():
			if !ok {
				return nil
			}
			fmt.Fprintf(out, "[%s] %s\n", e.Time.Format("15:04:05.000"), e)

			switch e.Type {
			case validator.EventBillRead:
				if runAutoStack {
					if err := ctrl.Stack(); err != nil {
						log.Errorf("action: stack | result: fail | error: %v", err)
					}
				}
			case validator.EventDisconnected:
				return fmt.Errorf("validator disconnected")
			}
		}
	}
}
