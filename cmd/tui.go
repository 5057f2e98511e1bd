// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/billstat/pkg/ebds"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Event log entry
type errorLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for notices
}

// Shared styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	statsLabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	statsValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

// Stats TUI model
type model struct {
	connInfo      string
	statsInterval int
	showAll       bool
	stats         *ebds.Statistics
	errorLog      []errorLogEntry
	maxLogEntries int
	synchronized  bool
	invalidBytes  uint64
	width         int
	height        int
	quitting      bool
	lastMessage   *ebds.Message
	lastSeen      time.Time
}

// Messages
type tickMsg time.Time

type frameBatchMsg struct {
	results []ebds.Result
	dropped uint64
	at      time.Time
}

type linkClosedMsg struct {
	err error
}

func initialModel(connInfo string, statsInterval int, showAll bool) model {
	return model{
		connInfo:      connInfo,
		statsInterval: statsInterval,
		showAll:       showAll,
		stats:         ebds.NewStatistics(),
		errorLog:      make([]errorLogEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		tea.EnterAltScreen,
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			m.stats.Reset()
			m.addLogEntry("Statistics reset", false)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.stats.CalculateRates()
		return m, tickCmd()

	case frameBatchMsg:
		m.processBatch(msg)

	case logLineMsg:
		m.addLogEntry(msg.message, msg.isError())

	case linkClosedMsg:
		m.addLogEntry(fmt.Sprintf("Connection closed: %v", msg.err), true)
	}

	return m, nil
}

// processBatch accounts for one chunk worth of reassembler results.
// Garbage before the first valid frame is only counted, not logged.
func (m *model) processBatch(msg frameBatchMsg) {
	for _, r := range msg.results {
		m.stats.Update(r)

		switch {
		case r.Poll:
			if m.showAll {
				m.addLogEntry("ENQ", false)
			}

		case r.Err != nil:
			if m.synchronized {
				m.addLogEntry(fmt.Sprintf("FRAME ERROR: %v", r.Err), true)
			}

		case r.Frame != nil:
			if !m.synchronized {
				m.synchronized = true
				m.invalidBytes = msg.dropped
				if msg.dropped > 0 {
					m.addLogEntry(fmt.Sprintf("Synchronized after skipping %d invalid bytes", msg.dropped), false)
				} else {
					m.addLogEntry("Synchronized", false)
				}
			}

			if r.Message == nil {
				if m.showAll {
					m.addLogEntry(fmt.Sprintf("%s (ignored)", ebds.FormatMessageType(r.Frame.Control.MessageType)), false)
				}
				continue
			}

			if m.lastMessage == nil || m.lastMessage.Status != r.Message.Status {
				m.stats.StatusChanges++
				m.addLogEntry(fmt.Sprintf("Status: %s", r.Message.Status), false)
			} else if m.showAll {
				m.addLogEntry(fmt.Sprintf("%s (valid)", ebds.FormatMessageType(r.Frame.Control.MessageType)), false)
			}
			m.lastMessage = r.Message
			m.lastSeen = msg.at
		}
	}
	m.stats.DroppedBytes = msg.dropped
}

func (m *model) addLogEntry(message string, isError bool) {
	entry := errorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.errorLog = append(m.errorLog, entry)

	// Keep only last N entries
	if len(m.errorLog) > m.maxLogEntries {
		m.errorLog = m.errorLog[len(m.errorLog)-m.maxLogEntries:]
	}
}

func (m model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("BILLSTAT - LINK STATISTICS"))
	s.WriteString("\n")
	mode := "Errors only"
	if m.showAll {
		mode = "All frames"
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Mode: %s | 'r' reset | 'q' quit", m.connInfo, mode)))
	s.WriteString("\n\n")

	if !m.synchronized {
		s.WriteString(warningStyle.Render("⏳ Waiting for synchronization..."))
	} else {
		s.WriteString(statsValueStyle.Render("✓ Synchronized"))
		if m.invalidBytes > 0 {
			s.WriteString(headerStyle.Render(fmt.Sprintf(" (skipped %d invalid bytes)", m.invalidBytes)))
		}
	}
	s.WriteString("\n\n")

	s.WriteString(boxStyle.Render(m.renderStatistics()))
	s.WriteString("\n\n")

	if m.lastMessage != nil {
		s.WriteString(statsLabelStyle.Render("Latest Status:"))
		s.WriteString("\n")
		s.WriteString(boxStyle.Width(m.width - 4).Render(m.renderStatus()))
		s.WriteString("\n\n")
	}

	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := m.height - 18
	if logHeight < 5 {
		logHeight = 5
	}
	s.WriteString(boxStyle.Width(m.width - 4).Render(renderLog(m.errorLog, logHeight)))

	return s.String()
}

func (m model) renderStatistics() string {
	st := m.stats
	st.CalculateRates()

	var validPercent, errorPercent float64
	if st.TotalFrames > 0 {
		validPercent = float64(st.ValidFrames) * 100.0 / float64(st.TotalFrames)
		errorPercent = float64(st.Errors()) * 100.0 / float64(st.TotalFrames)
	}

	var c strings.Builder
	fmt.Fprintf(&c, "%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Total:"), statsValueStyle.Render(fmt.Sprintf("%d", st.TotalFrames)),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%d (%.1f%%)", st.ValidFrames, validPercent)),
		statsLabelStyle.Render("Errors:"), errorStyle.Render(fmt.Sprintf("%d (%.1f%%)", st.Errors(), errorPercent)),
	)

	if st.Errors() > 0 {
		fmt.Fprintf(&c, "%s %s   %s %s   %s %s   %s %s\n",
			statsLabelStyle.Render("Checksum:"), errorStyle.Render(fmt.Sprintf("%d", st.ChecksumErrors)),
			statsLabelStyle.Render("ETX:"), errorStyle.Render(fmt.Sprintf("%d", st.ETXErrors)),
			statsLabelStyle.Render("Truncated:"), errorStyle.Render(fmt.Sprintf("%d", st.Truncations)),
			statsLabelStyle.Render("Decode:"), errorStyle.Render(fmt.Sprintf("%d", st.DecodeErrors)),
		)
	}

	fmt.Fprintf(&c, "%s %s   %s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("ENQ:"), statsValueStyle.Render(fmt.Sprintf("%d", st.PollRequests)),
		statsLabelStyle.Render("Ignored:"), statsValueStyle.Render(fmt.Sprintf("%d", st.IgnoredFrames)),
		statsLabelStyle.Render("Dropped:"), warningStyle.Render(fmt.Sprintf("%d B", st.DroppedBytes)),
		statsLabelStyle.Render("Changes:"), statsValueStyle.Render(fmt.Sprintf("%d", st.StatusChanges)),
	)

	errRate := statsValueStyle.Render(fmt.Sprintf("%.1f err/s", st.ErrorRate))
	if st.ErrorRate > 0 {
		errRate = errorStyle.Render(fmt.Sprintf("%.1f err/s", st.ErrorRate))
	}
	fmt.Fprintf(&c, "%s %s   %s %s",
		statsLabelStyle.Render("Frame Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f frames/s", st.FrameRate)),
		statsLabelStyle.Render("Error Rate:"), errRate,
	)
	return c.String()
}

func (m model) renderStatus() string {
	msg := m.lastMessage
	std := msg.StandardStatus

	var c strings.Builder
	fmt.Fprintf(&c, "%s %s   %s 0x%02X   %s %d   %s %s\n",
		statsLabelStyle.Render("Status:"), statsValueStyle.Render(msg.Status.String()),
		statsLabelStyle.Render("Model:"), std.ModelNumber,
		statsLabelStyle.Render("Firmware:"), std.FirmwareRevision,
		statsLabelStyle.Render("Seen:"), headerStyle.Render(m.lastSeen.Format("15:04:05.000")),
	)
	fmt.Fprintf(&c, "%s %s", statsLabelStyle.Render("Flags:"), ebds.FormatFlags(std))

	if msg.Bill != nil {
		fmt.Fprintf(&c, "\n%s %s",
			statsLabelStyle.Render("Bill:"),
			statsValueStyle.Render(fmt.Sprintf("%s %s", msg.Bill.Denomination, msg.Bill.Currency)))
	}
	return c.String()
}

// renderLog renders the newest entries of an event log
func renderLog(entries []errorLogEntry, height int) string {
	var c strings.Builder

	if len(entries) == 0 {
		c.WriteString(headerStyle.Render("  (no events yet)"))
		return c.String()
	}

	startIdx := len(entries) - height
	if startIdx < 0 {
		startIdx = 0
	}
	for _, entry := range entries[startIdx:] {
		c.WriteString(formatLogEntry(entry))
		c.WriteString("\n")
	}
	return c.String()
}

func formatLogEntry(entry errorLogEntry) string {
	timestamp := headerStyle.Render(entry.timestamp.Format("15:04:05.000"))
	if entry.isError {
		return fmt.Sprintf("%s %s", timestamp, errorStyle.Render("✗ "+entry.message))
	}
	return fmt.Sprintf("%s %s", timestamp, warningStyle.Render("ℹ "+entry.message))
}
