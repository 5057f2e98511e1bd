// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ebds

// Control is a decoded control byte
type Control struct {
	Ack         byte
	DeviceType  byte
	MessageType byte
}

// ParseControl splits a control byte into its fields
func ParseControl(ctl byte) Control {
	return Control{
		Ack:         ctl & ctlAckMask,
		DeviceType:  (ctl >> ctlDevShift) & ctlDevTypeMask,
		MessageType: (ctl >> ctlMsgShift) & ctlMsgTypeMask,
	}
}

// Byte reassembles the control byte
func (c Control) Byte() byte {
	return c.Ack&ctlAckMask |
		(c.DeviceType&ctlDevTypeMask)<<ctlDevShift |
		(c.MessageType&ctlMsgTypeMask)<<ctlMsgShift
}

// Frame is a validated wire frame. All slices are owned copies.
type Frame struct {
	Length   uint8
	Control  Control
	Data     []byte
	Checksum byte
	Raw      []byte
}

// ValidateFrame checks a candidate frame and returns its decoded fields.
// The candidate must hold at least as many bytes as its declared length;
// bytes past the declared length are ignored.
func ValidateFrame(b []byte) (*Frame, error) {
	if len(b) < 2 {
		return nil, newFrameError(ErrKindTruncated, "have %d bytes, no length byte", len(b))
	}
	length := int(b[1])
	if length < FrameOverhead {
		return nil, newFrameError(ErrKindTruncated, "declared length %d below minimum %d", length, FrameOverhead)
	}
	if len(b) < length {
		return nil, newFrameError(ErrKindTruncated, "have %d of %d bytes", len(b), length)
	}
	b = b[:length]

	if b[0] != STX {
		return nil, newFrameError(ErrKindBadSTX, "got 0x%02X", b[0])
	}
	if b[length-2] != ETX {
		return nil, newFrameError(ErrKindMissingETX, "got 0x%02X", b[length-2])
	}
	if expected := Checksum(b); b[length-1] != expected {
		return nil, newFrameError(ErrKindBadChecksum, "expected 0x%02X, got 0x%02X", expected, b[length-1])
	}

	raw := make([]byte, length)
	copy(raw, b)

	return &Frame{
		Length:   uint8(length),
		Control:  ParseControl(raw[2]),
		Data:     raw[HeaderSize : length-TrailerSize],
		Checksum: raw[length-1],
		Raw:      raw,
	}, nil
}

// BuildFrame wraps a command payload in a frame with the given ack bit.
// The control byte always carries the omnibus command message type.
func BuildFrame(payload []byte, ack byte) ([]byte, error) {
	length := len(payload) + FrameOverhead
	if length > MaxFrameSize {
		return nil, newFrameError(ErrKindPayloadTooLong, "%d bytes (max %d)", len(payload), MaxPayloadSize)
	}

	frame := make([]byte, 0, length)
	frame = append(frame, STX, byte(length), CtlOmnibusCommand|ack&ctlAckMask)
	frame = append(frame, payload...)
	frame = append(frame, ETX, 0x00)
	frame[length-1] = Checksum(frame)

	return frame, nil
}

// OmnibusPoll builds the payload of a poll carrying the denomination mask
func OmnibusPoll(mask byte) []byte {
	return []byte{mask, OperationPoll, OperationConfig}
}

// OmnibusStack builds the payload asking to stack the escrowed document
func OmnibusStack(mask byte) []byte {
	return []byte{mask, OperationStack, OperationConfig}
}

// OmnibusReturn builds the payload asking to return the escrowed document
func OmnibusReturn(mask byte) []byte {
	return []byte{mask, OperationReturn, OperationConfig}
}
