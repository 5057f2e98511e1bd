// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package ebds implements the host side of the serial protocol spoken by
// Cashflow SC style bill acceptors and recyclers.
//
// Every message travels in a frame:
//
//	STX | LEN | CTL | DATA ... | ETX | CHK
//
// where LEN is the total frame length and CHK is the XOR of every byte
// between STX and CHK. This package provides frame validation and
// construction, standard status decoding, extended note specification
// decoding and a stream reassembler that recovers from line noise.
package ebds

// Protocol framing bytes
const (
	STX = 0x02
	ETX = 0x03
	ENQ = 0x05
)

// Frame size limits
const (
	HeaderSize     = 3 // STX, LEN, CTL
	TrailerSize    = 2 // ETX, CHK
	FrameOverhead  = HeaderSize + TrailerSize
	MaxFrameSize   = 0xFF
	MaxPayloadSize = MaxFrameSize - FrameOverhead
)

// Control byte layout: 0b0MMMDDDA
const (
	ctlAckMask     = 0x01
	ctlDevTypeMask = 0x07
	ctlDevShift    = 1
	ctlMsgTypeMask = 0x07
	ctlMsgShift    = 4
)

// CtlOmnibusCommand is the message type bits of every host command frame.
const CtlOmnibusCommand = 0x10

// Message types (validator → host)
const (
	MsgOmnibusReply   = 0b010
	MsgCalibrateReply = 0b100
	MsgFirmwareReply  = 0b101
	MsgAuxiliaryReply = 0b110
	MsgExtended       = 0b111
)

// Device types reported in the control byte
const (
	DeviceBillAcceptor = 0b000
	DeviceBillRecycler = 0b001
)

// Extended message subtypes
const (
	SubtypeNoteSpec = 0x02
)

// Extended note specification layout, relative to the start of the data
const (
	extendedStatusStart = 1
	extendedOffset      = 7
	extendedSize        = 18
)

// Omnibus command byte 1 bits
const (
	Omni1SpecialInterrupt = 1 << 0
	Omni1HighSecurity     = 1 << 1
	Omni1OrientationLow   = 1 << 2
	Omni1OrientationHigh  = 1 << 3
	Omni1EscrowMode       = 1 << 4
	Omni1StackDocument    = 1 << 5
	Omni1ReturnDocument   = 1 << 6
)

// Omnibus command byte 2 bits
const (
	Omni2NoPush           = 1 << 0
	Omni2Barcode          = 1 << 1
	Omni2PowerupLow       = 1 << 2
	Omni2PowerupHigh      = 1 << 3
	Omni2ExtendedNote     = 1 << 4
	Omni2ExtendedCoupon   = 1 << 5
	omni2DefaultOperation = Omni2ExtendedNote
)

// Omnibus command operation bytes used by the controller.
//
// 0x1b: interrupt mode, high security, any orientation, escrow enabled.
// 0x10: non-credit notes to the stacker, no barcodes, extended note reporting.
// Stack and return also set the low orientation bit, as the device expects.
const (
	omni1Base       = Omni1SpecialInterrupt | Omni1HighSecurity | Omni1EscrowMode
	OperationPoll   = omni1Base | Omni1OrientationHigh                                            // 0x1b
	OperationStack  = omni1Base | Omni1OrientationLow | Omni1OrientationHigh | Omni1StackDocument  // 0x3f
	OperationReturn = omni1Base | Omni1OrientationLow | Omni1OrientationHigh | Omni1ReturnDocument // 0x5f
	OperationConfig = omni2DefaultOperation                                                       // 0x10
)

// Denomination masks for omnibus byte 0
const (
	DenominationsNone = 0x00
	DenominationsAll  = 0x7F // 7 bits, one per denomination slot
)
