// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ebds

import (
	"fmt"
	"strings"
	"time"
)

// FormatMessageType returns the human-readable name for a message type
func FormatMessageType(msgType byte) string {
	switch msgType {
	case CtlOmnibusCommand >> ctlMsgShift:
		return "OMNIBUS_COMMAND"
	case MsgOmnibusReply:
		return "OMNIBUS_REPLY"
	case MsgCalibrateReply:
		return "CALIBRATE_REPLY"
	case MsgFirmwareReply:
		return "FIRMWARE_DOWNLOAD_REPLY"
	case MsgAuxiliaryReply:
		return "AUXILIARY_REPLY"
	case MsgExtended:
		return "EXTENDED"
	default:
		return "UNKNOWN"
	}
}

// FormatDeviceType returns the human-readable name for a device type
func FormatDeviceType(devType byte) string {
	switch devType {
	case DeviceBillAcceptor:
		return "acceptor"
	case DeviceBillRecycler:
		return "recycler"
	default:
		return fmt.Sprintf("reserved(%d)", devType)
	}
}

// FormatFrame formats a frame header and hex dump
func FormatFrame(ts time.Time, f *Frame) string {
	return fmt.Sprintf("[%s] %s (0b%03b) dev=%s ack=%d len=%d\n%s",
		ts.Format("15:04:05.000"),
		FormatMessageType(f.Control.MessageType), f.Control.MessageType,
		FormatDeviceType(f.Control.DeviceType), f.Control.Ack, f.Length,
		FormatHex("  Data: ", f.Data))
}

// FormatMessage formats the decoded content of a message
func FormatMessage(m *Message) string {
	var s strings.Builder

	fmt.Fprintf(&s, "  Status: %s\n", m.Status)
	fmt.Fprintf(&s, "  Flags: %s\n", FormatFlags(m.StandardStatus))
	fmt.Fprintf(&s, "  Model: 0x%02X, Firmware: %d\n", m.StandardStatus.ModelNumber, m.StandardStatus.FirmwareRevision)

	if m.Note != nil {
		n := m.Note
		fmt.Fprintf(&s, "  Note: #%d %s %s (base=%d exp=%+d) orient=%d type=%d series=%d compat=%d ver=%d class=%d\n",
			n.Index, n.Denomination().String(), n.Currency, n.Base, n.Sign*n.Exponent,
			n.Orientation, n.Type, n.Series, n.Compatibility, n.Version, n.Classification)
	}

	return s.String()
}

type flag struct {
	name string
	set  bool
}

func joinFlags(flags []flag) []string {
	var set []string
	for _, f := range flags {
		if f.set {
			set = append(set, f.name)
		}
	}
	return set
}

// FormatFlags lists the status bits that are set
func FormatFlags(s StandardStatus) string {
	set := joinFlags([]flag{
		{"idling", s.Idling},
		{"accepting", s.Accepting},
		{"escrowed", s.Escrowed},
		{"stacking", s.Stacking},
		{"stacked", s.Stacked},
		{"returning", s.Returning},
		{"returned", s.Returned},
		{"cheated", s.Cheated},
		{"rejected", s.Rejected},
		{"jammed", s.Jammed},
		{"stacker_full", s.StackerFull},
		{"cassette", s.CassetteAttached},
		{"paused", s.Paused},
		{"calibrating", s.Calibrating},
		{"powerup", s.Powerup},
		{"invalid_cmd", s.InvalidCommand},
		{"failure", s.Failure},
		{"transport_open", s.TransportOpen},
		{"stalled", s.Stalled},
		{"flash_download", s.FlashDownload},
		{"prestack", s.Prestack},
		{"raw_barcode", s.RawBarcode},
		{"capabilities", s.DeviceCapabilitiesSupported},
		{"disabled", s.Disabled},
	})

	if s.NoteValue != 0 {
		set = append(set, fmt.Sprintf("note_value=%d", s.NoteValue))
	}
	if len(set) == 0 {
		return "(none)"
	}
	return strings.Join(set, " ")
}

// FormatCommand describes the payload of an omnibus command:
// the denomination mask, then the operation and configuration bytes.
func FormatCommand(data []byte) string {
	if len(data) < 3 {
		return fmt.Sprintf("short command (%d bytes)", len(data))
	}
	op, cfg := data[1], data[2]

	orientation := (op & (Omni1OrientationLow | Omni1OrientationHigh)) >> 2
	powerup := (cfg & (Omni2PowerupLow | Omni2PowerupHigh)) >> 2

	set := joinFlags([]flag{
		{"interrupt", op&Omni1SpecialInterrupt != 0},
		{"high_security", op&Omni1HighSecurity != 0},
		{"escrow", op&Omni1EscrowMode != 0},
		{"stack", op&Omni1StackDocument != 0},
		{"return", op&Omni1ReturnDocument != 0},
		{"no_push", cfg&Omni2NoPush != 0},
		{"barcode", cfg&Omni2Barcode != 0},
		{"extended_note", cfg&Omni2ExtendedNote != 0},
		{"extended_coupon", cfg&Omni2ExtendedCoupon != 0},
	})
	set = append(set, fmt.Sprintf("orientation=%d", orientation), fmt.Sprintf("powerup=%d", powerup))

	return fmt.Sprintf("mask=0x%02X %s", data[0], strings.Join(set, " "))
}

// FormatHex renders bytes as a hex dump, 16 per line
func FormatHex(prefix string, data []byte) string {
	if len(data) == 0 {
		return prefix + "(empty)\n"
	}

	var s strings.Builder
	s.WriteString(prefix)
	indent := strings.Repeat(" ", len(prefix))
	for i, b := range data {
		if i > 0 && i%16 == 0 {
			s.WriteString("\n")
			s.WriteString(indent)
		}
		fmt.Fprintf(&s, "%02X ", b)
	}
	s.WriteString("\n")
	return s.String()
}
