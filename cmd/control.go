// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/billstat/pkg/validator"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var controlRecordFile string

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Interactive TUI for driving a bill validator",
	Long: `Control a bill validator via an interactive terminal UI.

Features:
  - Live coarse status and escrowed bill display
  - Enable / disable all denominations
  - Stack or return the escrowed bill
  - Currency selection from the denomination table
  - Link statistics and event log
  - Automatic reconnection on connection loss

Escrowed bills whose currency does not match are returned automatically.

Supports both serial and WebSocket connections.`,
	RunE: runControl,
}

func init() {
	rootCmd.AddCommand(controlCmd)
	controlCmd.Flags().StringVar(&controlRecordFile, "record", "", "Write a session capture to this file")
}

// connectionManager forwards controller events to the TUI and brings the
// session back after a disconnect
type connectionManager struct {
	ctrl     *validator.Controller
	connInfo string
	p        *tea.Program
	done     chan struct{}
}

func runControl(cmd *cobra.Command, args []string) error {
	cfg, err := controllerConfig()
	if err != nil {
		return err
	}

	if controlRecordFile != "" {
		w, closeCapture, err := createCapture(controlRecordFile)
		if err != nil {
			return err
		}
		defer closeCapture()
		cfg.Opener = recordingOpener(cfg.Opener, w)
	}

	table, err := configDenominations()
	if err != nil {
		return err
	}

	ctrl := validator.New(cfg)
	cm := &connectionManager{
		ctrl:     ctrl,
		connInfo: cfg.Device,
		done:     make(chan struct{}),
	}

	m := initialControlModel(ctrl, cfg.Device, table)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	cm.p = p
	restoreLogs := redirectLogs(p.Send)

	go cm.eventLoop()
	go func() {
		if err := ctrl.Run(); err != nil {
			p.Send(connectionLostMsg{err: err})
			cm.reconnect()
		}
	}()

	_, runErr := p.Run()
	restoreLogs()
	close(cm.done)
	ctrl.Shutdown()

	if runErr != nil {
		return fmt.Errorf("TUI error: %w", runErr)
	}
	return nil
}

// eventLoop forwards events until the controller closes its stream
func (cm *connectionManager) eventLoop() {
	for e := range cm.ctrl.Events() {
		cm.p.Send(controllerEventMsg{event: e})

		if e.Type == validator.EventDisconnected {
			cm.p.Send(connectionLostMsg{})
			go cm.reconnect()
		}
	}
}

// reconnect retries Run with exponential backoff.
// Returns false if shutdown was requested during reconnection.
func (cm *connectionManager) reconnect() bool {
	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-cm.done:
			return false
		case <-time.After(backoff):
		}

		err := cm.ctrl.Run()
		if err == nil {
			cm.p.Send(reconnectedMsg{connInfo: cm.connInfo})
			return true
		}
		if errors.Is(err, validator.ErrClosed) {
			return false
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		log.Warningf("action: reconnect | result: fail | retry_in: %s | error: %v", backoff, err)
	}
}
