// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/op/go-logging"
)

// stderrBackend is the backend installed by InitLogger
var stderrBackend logging.LeveledBackend

// InitLogger parses the level name and installs a leveled stderr backend
// for every module logger. Output goes to stderr so it never mixes with
// frame dumps on stdout.
func InitLogger(level string) error {
	baseBackend := logging.NewLogBackend(os.Stderr, "", 0)
	format := logging.MustStringFormatter(
		`%{time:2006-01-02 15:04:05.000} %{level:.5s} %{module:-9s} %{message}`,
	)
	backendFormatter := logging.NewBackendFormatter(baseBackend, format)

	backendLeveled := logging.AddModuleLevel(backendFormatter)
	levelCode, err := logging.LogLevel(strings.ToUpper(level))
	if err != nil {
		return err
	}
	backendLeveled.SetLevel(levelCode, "")

	logging.SetBackend(backendLeveled)
	stderrBackend = backendLeveled
	return nil
}

// logLineMsg is a log record delivered to a running TUI
type logLineMsg struct {
	level   logging.Level
	message string
}

// isError reports whether the record should be highlighted
func (l logLineMsg) isError() bool {
	return l.level <= logging.WARNING
}

// programBackend hands log records to a Bubble Tea program instead of
// writing them over the alternate screen
type programBackend struct {
	send func(tea.Msg)
}

func (b programBackend) Log(level logging.Level, calldepth int, rec *logging.Record) error {
	b.send(logLineMsg{
		level:   level,
		message: fmt.Sprintf("%s: %s", rec.Module, rec.Message()),
	})
	return nil
}

// redirectLogs sends log records to send, at the level set by InitLogger,
// until the returned function restores the stderr backend. send must not
// be called from the program's own update loop.
func redirectLogs(send func(tea.Msg)) (restore func()) {
	level := logging.WARNING
	if stderrBackend != nil {
		level = stderrBackend.GetLevel("")
	}

	leveled := logging.AddModuleLevel(programBackend{send: send})
	leveled.SetLevel(level, "")
	logging.SetBackend(leveled)

	return func() {
		if stderrBackend != nil {
			logging.SetBackend(stderrBackend)
			return
		}
		logging.SetBackend(logging.NewLogBackend(os.Stderr, "", 0))
	}
}
