// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ebds

// StatusSize is the number of fixed status bytes in an omnibus reply
const StatusSize = 6

// Status is the coarse device status derived from the standard status bytes
type Status int

// Coarse status values, in no particular order. See Classify for priority.
const (
	StatusNone Status = iota
	StatusBillRead
	StatusBillValid
	StatusBillRejected
	StatusJam
	StatusStackerOpen
	StatusIdle
)

// String returns the status name
func (s Status) String() string {
	switch s {
	case StatusBillRead:
		return "billRead"
	case StatusBillValid:
		return "billValid"
	case StatusBillRejected:
		return "billRejected"
	case StatusJam:
		return "jam"
	case StatusStackerOpen:
		return "stackerOpen"
	case StatusIdle:
		return "idle"
	default:
		return "none"
	}
}

// StandardStatus holds the six fixed status bytes reported by the validator
type StandardStatus struct {
	// Byte 0
	Idling    bool // not processing a document
	Accepting bool // drawing a document in
	Escrowed  bool // valid document in escrow
	Stacking  bool
	Stacked   bool
	Returning bool
	Returned  bool

	// Byte 1
	Cheated          bool
	Rejected         bool
	Jammed           bool
	StackerFull      bool
	CassetteAttached bool
	Paused           bool // customer fed a document while another was processed
	Calibrating      bool

	// Byte 2
	Powerup        bool
	InvalidCommand bool
	Failure        bool
	NoteValue      uint8 // only valid in non-extended mode while escrowed or stacked
	TransportOpen  bool

	// Byte 3
	Stalled                     bool
	FlashDownload               bool
	Prestack                    bool // deprecated by the device
	RawBarcode                  bool
	DeviceCapabilitiesSupported bool
	Disabled                    bool

	// Bytes 4-5
	ModelNumber      uint8
	FirmwareRevision uint8
}

func bit(b byte, n uint) bool {
	return (b>>n)&0x1 == 1
}

// bits extracts bits [from, to) of b
func bits(b byte, from, to uint) uint8 {
	mask := byte(1<<(to-from)) - 1
	return (b >> from) & mask
}

// DecodeStatus decodes the fixed status bytes.
// Returns false when fewer than StatusSize bytes are supplied.
func DecodeStatus(data []byte) (StandardStatus, bool) {
	if len(data) < StatusSize {
		return StandardStatus{}, false
	}

	b0, b1, b2, b3 := data[0], data[1], data[2], data[3]

	return StandardStatus{
		Idling:    bit(b0, 0),
		Accepting: bit(b0, 1),
		Escrowed:  bit(b0, 2),
		Stacking:  bit(b0, 3),
		Stacked:   bit(b0, 4),
		Returning: bit(b0, 5),
		Returned:  bit(b0, 6),

		Cheated:          bit(b1, 0),
		Rejected:         bit(b1, 1),
		Jammed:           bit(b1, 2),
		StackerFull:      bit(b1, 3),
		CassetteAttached: bit(b1, 4),
		Paused:           bit(b1, 5),
		Calibrating:      bit(b1, 6),

		Powerup:        bit(b2, 0),
		InvalidCommand: bit(b2, 1),
		Failure:        bit(b2, 2),
		NoteValue:      bits(b2, 3, 6),
		TransportOpen:  bit(b2, 6),

		Stalled:                     bit(b3, 0),
		FlashDownload:               bit(b3, 1),
		Prestack:                    bit(b3, 2),
		RawBarcode:                  bit(b3, 3),
		DeviceCapabilitiesSupported: bit(b3, 4),
		Disabled:                    bit(b3, 5),

		ModelNumber:      bits(data[4], 0, 7),
		FirmwareRevision: bits(data[5], 0, 7),
	}, true
}

// Classify reduces the standard status to a single coarse status.
// Conditions are checked in priority order; the first match wins.
func Classify(s StandardStatus) Status {
	switch {
	case s.Escrowed:
		return StatusBillRead
	case s.Accepting && s.Stacking:
		return StatusBillValid
	case s.Returned || s.Cheated || s.Rejected:
		return StatusBillRejected
	case s.Jammed:
		return StatusJam
	case !s.CassetteAttached:
		return StatusStackerOpen
	case s.Idling:
		return StatusIdle
	default:
		return StatusNone
	}
}
