// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ebds

// Message is the interpretation of a validated frame
type Message struct {
	Control        Control
	StandardStatus StandardStatus
	Status         Status
	Bill           *Bill     // set for extended note specification messages only
	Note           *NoteSpec // set for extended note specification messages only
}

// Interpret decodes a validated frame according to its message type.
// Returns nil without error for message types the host ignores.
func Interpret(f *Frame) (*Message, error) {
	switch f.Control.MessageType {
	case MsgOmnibusReply:
		std, ok := DecodeStatus(f.Data)
		if !ok {
			return nil, newFrameError(ErrKindShortStatus, "have %d of %d bytes", len(f.Data), StatusSize)
		}
		return &Message{
			Control:        f.Control,
			StandardStatus: std,
			Status:         Classify(std),
		}, nil

	case MsgExtended:
		ext, err := DecodeExtended(f.Data)
		if err != nil || ext == nil {
			return nil, err
		}
		bill := ext.Bill
		note := ext.Note
		return &Message{
			Control:        f.Control,
			StandardStatus: ext.StandardStatus,
			Status:         ext.Status,
			Bill:           &bill,
			Note:           &note,
		}, nil

	default:
		return nil, nil
	}
}

// Decode validates a candidate frame and interprets it
func Decode(b []byte) (*Frame, *Message, error) {
	f, err := ValidateFrame(b)
	if err != nil {
		return nil, nil, err
	}
	m, err := Interpret(f)
	if err != nil {
		return f, nil, err
	}
	return f, m, nil
}
