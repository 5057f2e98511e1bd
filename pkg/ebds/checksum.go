// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ebds

// Checksum computes the XOR checksum of a complete frame.
// STX and the trailing ETX/checksum bytes are excluded.
func Checksum(frame []byte) byte {
	var cs byte
	for i := 1; i < len(frame)-2; i++ {
		cs ^= frame[i]
	}
	return cs
}
