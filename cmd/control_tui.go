// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/Thermoquad/billstat/pkg/denomination"
	"github.com/Thermoquad/billstat/pkg/ebds"
	"github.com/Thermoquad/billstat/pkg/validator"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	refreshInterval  = time.Second
	controlLogHeight = 10
	maxControlLog    = 200
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// validatorControl is the part of the controller the TUI drives
type validatorControl interface {
	Enable() error
	Disable() error
	Stack() error
	Reject() error
	SetCurrency(code string) error
	Currency() string
	Mask() byte
	Stats() ebds.Statistics
	State() validator.State
}

type controlKeyMap struct {
	Enable   key.Binding
	Disable  key.Binding
	Stack    key.Binding
	Return   key.Binding
	Currency key.Binding
	Up       key.Binding
	Down     key.Binding
	Help     key.Binding
	Quit     key.Binding
}

func (k controlKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Enable, k.Disable, k.Stack, k.Return, k.Help, k.Quit}
}

func (k controlKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Enable, k.Disable, k.Currency},
		{k.Stack, k.Return},
		{k.Up, k.Down},
		{k.Help, k.Quit},
	}
}

var controlKeys = controlKeyMap{
	Enable:   key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "enable all")),
	Disable:  key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "disable all")),
	Stack:    key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "stack bill")),
	Return:   key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "return bill")),
	Currency: key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "next currency")),
	Up:       key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "scroll up")),
	Down:     key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "scroll down")),
	Help:     key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "more keys")),
	Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

// controlModel is the Bubble Tea model for the control TUI
type controlModel struct {
	ctrl       validatorControl
	connInfo   string
	table      denomination.Static
	currencies []string

	// Latest controller view
	status   validator.EventType
	hasState bool
	bill     *ebds.Bill
	mask     byte
	currency string
	state    validator.State
	stats    ebds.Statistics

	// Event log
	errorLog []errorLogEntry
	logView  viewport.Model

	help help.Model
	keys controlKeyMap

	// UI state
	width          int
	height         int
	quitting       bool
	connectionLost bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type controlTickMsg time.Time

type controllerEventMsg struct {
	event validator.Event
}

type controlSnapshotMsg struct {
	mask     byte
	currency string
	state    validator.State
	stats    ebds.Statistics
}

type commandResultMsg struct {
	name string
	err  error
}

type connectionLostMsg struct {
	err error
}

type reconnectedMsg struct {
	connInfo string
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialControlModel(ctrl validatorControl, connInfo string, table denomination.Static) controlModel {
	vp := viewport.New(76, controlLogHeight)

	return controlModel{
		ctrl:       ctrl,
		connInfo:   connInfo,
		table:      table,
		currencies: table.Codes(),
		currency:   ctrl.Currency(),
		errorLog:   make([]errorLogEntry, 0),
		logView:    vp,
		help:       help.New(),
		keys:       controlKeys,
		width:      80,
		height:     24,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m controlModel) Init() tea.Cmd {
	return tea.Batch(controlTickCmd(), m.snapshotCmd())
}

func controlTickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return controlTickMsg(t)
	})
}

// snapshotCmd reads the controller state off the UI goroutine
func (m controlModel) snapshotCmd() tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		return controlSnapshotMsg{
			mask:     ctrl.Mask(),
			currency: ctrl.Currency(),
			state:    ctrl.State(),
			stats:    ctrl.Stats(),
		}
	}
}

// commandCmd runs a controller command off the UI goroutine
func commandCmd(name string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		return commandResultMsg{name: name, err: fn()}
	}
}

func (m controlModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.logView, cmd = m.logView.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.logView.Width = max(msg.Width-6, 20)
		m.logView.Height = max(msg.Height-18, 5)
		m.refreshLog()

	case controlTickMsg:
		return m, tea.Batch(controlTickCmd(), m.snapshotCmd())

	case controlSnapshotMsg:
		m.mask = msg.mask
		m.currency = msg.currency
		m.state = msg.state
		m.stats = msg.stats

	case controllerEventMsg:
		m.handleEvent(msg.event)

	case commandResultMsg:
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("%s failed: %v", msg.name, msg.err), true)
		} else {
			m.addLogEntry(fmt.Sprintf("%s sent", msg.name), false)
		}
		return m, m.snapshotCmd()

	case connectionLostMsg:
		m.connectionLost = true
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("Connection failed: %v (reconnecting)", msg.err), true)
		} else {
			m.addLogEntry("Connection lost (reconnecting)", true)
		}

	case reconnectedMsg:
		m.connectionLost = false
		m.addLogEntry(fmt.Sprintf("Reconnected: %s", msg.connInfo), false)

	case logLineMsg:
		m.addLogEntry(msg.message, msg.isError())
	}

	return m, nil
}

func (m controlModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil

	case key.Matches(msg, m.keys.Up), key.Matches(msg, m.keys.Down):
		var cmd tea.Cmd
		m.logView, cmd = m.logView.Update(msg)
		return m, cmd
	}

	isCommand := key.Matches(msg, m.keys.Enable, m.keys.Disable, m.keys.Stack, m.keys.Return, m.keys.Currency)
	if isCommand && m.connectionLost {
		m.addLogEntry("Cannot send command: connection lost", true)
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Enable):
		return m, commandCmd("Enable", m.ctrl.Enable)

	case key.Matches(msg, m.keys.Disable):
		return m, commandCmd("Disable", m.ctrl.Disable)

	case key.Matches(msg, m.keys.Stack):
		if m.status != validator.EventBillRead {
			m.addLogEntry("No bill in escrow", true)
			return m, nil
		}
		return m, commandCmd("Stack", m.ctrl.Stack)

	case key.Matches(msg, m.keys.Return):
		return m, commandCmd("Return", m.ctrl.Reject)

	case key.Matches(msg, m.keys.Currency):
		next := m.nextCurrency()
		if next == "" {
			return m, nil
		}
		ctrl := m.ctrl
		return m, commandCmd("Currency "+next, func() error {
			return ctrl.SetCurrency(next)
		})
	}

	return m, nil
}

// nextCurrency returns the code after the current one in the table
func (m controlModel) nextCurrency() string {
	if len(m.currencies) == 0 {
		return ""
	}
	i := slices.Index(m.currencies, m.currency)
	return m.currencies[(i+1)%len(m.currencies)]
}

func (m *controlModel) handleEvent(e validator.Event) {
	switch e.Type {
	case validator.EventConnected:
		m.connectionLost = false
		m.addLogEntry("Connected", false)
		return

	case validator.EventDisconnected:
		m.hasState = false
		m.bill = nil
		m.addLogEntry("Disconnected", true)
		return

	case validator.EventError:
		m.addLogEntry(fmt.Sprintf("Error: %v", e.Err), true)
		return

	case validator.EventBillAccepted:
		m.addLogEntry("Bill accepted into escrow", false)
		return

	case validator.EventBillRead:
		m.bill = e.Bill
		m.addLogEntry(fmt.Sprintf("Bill read: %s", m.describeBill(e.Bill)), false)

	case validator.EventJam, validator.EventStackerOpen, validator.EventBillRejected:
		m.bill = nil
		m.addLogEntry(fmt.Sprintf("Status: %s", e.Type), true)

	default:
		m.bill = nil
		m.addLogEntry(fmt.Sprintf("Status: %s", e.Type), false)
	}

	m.status = e.Type
	m.hasState = true
}

// describeBill formats a bill and whether the table knows its value
func (m controlModel) describeBill(b *ebds.Bill) string {
	if b == nil {
		return "(none)"
	}
	desc := fmt.Sprintf("%s %s", b.Denomination, b.Currency)
	if values, ok := denomination.Denominations(m.table, b.Currency); ok {
		if !slices.ContainsFunc(values, b.Denomination.Equal) {
			desc += " (not in table)"
		}
	}
	return desc
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

func (m controlModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	s.WriteString(titleStyle.Render("BILLSTAT CONTROL"))
	s.WriteString(" ")
	connStatus := m.connInfo
	if m.connectionLost {
		connStatus = warningStyle.Render("RECONNECTING...")
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | %s", connStatus, m.state)))
	s.WriteString("\n\n")

	panelWidth := max((m.width-6)/2, 30)
	statusPanel := boxStyle.Width(panelWidth).Render(m.renderStatusPanel())
	statsPanel := boxStyle.Width(panelWidth).Render(m.renderStatsPanel())
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, statusPanel, " ", statsPanel))
	s.WriteString("\n")

	s.WriteString(statsLabelStyle.Render("EVENTS"))
	s.WriteString("\n")
	s.WriteString(boxStyle.Width(m.width - 4).Render(m.logView.View()))
	s.WriteString("\n")

	s.WriteString(m.help.View(m.keys))
	return s.String()
}

func (m controlModel) renderStatusPanel() string {
	var c strings.Builder

	status := headerStyle.Render("waiting")
	if m.hasState {
		switch m.status {
		case validator.EventJam, validator.EventStackerOpen, validator.EventBillRejected:
			status = errorStyle.Render(m.status.String())
		default:
			status = statsValueStyle.Render(m.status.String())
		}
	}
	fmt.Fprintf(&c, "%s %s\n", statsLabelStyle.Render("Status:"), status)

	acceptance := warningStyle.Render("disabled")
	if m.mask == ebds.DenominationsAll {
		acceptance = statsValueStyle.Render("all enabled")
	} else if m.mask != ebds.DenominationsNone {
		acceptance = statsValueStyle.Render(fmt.Sprintf("mask 0x%02X", m.mask))
	}
	fmt.Fprintf(&c, "%s %s\n", statsLabelStyle.Render("Accepting:"), acceptance)

	currency := m.currency
	if values, ok := denomination.Denominations(m.table, currency); ok {
		parts := make([]string, len(values))
		for i, v := range values {
			parts[i] = v.String()
		}
		currency += headerStyle.Render(" (" + strings.Join(parts, " ") + ")")
	}
	fmt.Fprintf(&c, "%s %s\n", statsLabelStyle.Render("Currency:"), currency)

	escrow := headerStyle.Render("empty")
	if m.bill != nil {
		escrow = statsValueStyle.Render(m.describeBill(m.bill))
	}
	fmt.Fprintf(&c, "%s %s", statsLabelStyle.Render("Escrow:"), escrow)

	return c.String()
}

func (m controlModel) renderStatsPanel() string {
	st := m.stats

	var validPercent float64
	if st.TotalFrames > 0 {
		validPercent = float64(st.ValidFrames) * 100.0 / float64(st.TotalFrames)
	}

	errCount := statsValueStyle.Render("0")
	if st.Errors() > 0 {
		errCount = errorStyle.Render(fmt.Sprintf("%d", st.Errors()))
	}

	var c strings.Builder
	fmt.Fprintf(&c, "%s %s   %s %s\n",
		statsLabelStyle.Render("Frames:"), statsValueStyle.Render(fmt.Sprintf("%d", st.TotalFrames)),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%.1f%%", validPercent)))
	fmt.Fprintf(&c, "%s %s   %s %s\n",
		statsLabelStyle.Render("Errors:"), errCount,
		statsLabelStyle.Render("Dropped:"), warningStyle.Render(fmt.Sprintf("%d B", st.DroppedBytes)))
	fmt.Fprintf(&c, "%s %s   %s %s",
		statsLabelStyle.Render("ENQ:"), statsValueStyle.Render(fmt.Sprintf("%d", st.PollRequests)),
		statsLabelStyle.Render("Changes:"), statsValueStyle.Render(fmt.Sprintf("%d", st.StatusChanges)))
	return c.String()
}

//////////////////////////////////////////////////////////////
// Helpers
//////////////////////////////////////////////////////////////

func (m *controlModel) addLogEntry(message string, isError bool) {
	m.errorLog = append(m.errorLog, errorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})

	if len(m.errorLog) > maxControlLog {
		m.errorLog = m.errorLog[len(m.errorLog)-maxControlLog:]
	}
	m.refreshLog()
}

// refreshLog re-renders the log into the viewport, following the tail
// unless the user scrolled up
func (m *controlModel) refreshLog() {
	follow := m.logView.AtBottom()

	lines := make([]string, len(m.errorLog))
	for i, entry := range m.errorLog {
		lines[i] = formatLogEntry(entry)
	}
	m.logView.SetContent(strings.Join(lines, "\n"))

	if follow {
		m.logView.GotoBottom()
	}
}
