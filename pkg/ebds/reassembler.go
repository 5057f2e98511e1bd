// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ebds

// Result is one outcome of feeding bytes into the Reassembler
type Result struct {
	// Poll is set when the device sent a lone ENQ asking to be polled
	Poll bool

	// Frame is the validated frame, nil when validation failed
	Frame *Frame

	// Message is the interpreted frame, nil for ignored message types
	Message *Message

	// Err is the validation or decode failure for a candidate frame.
	// Raw holds the candidate bytes in that case.
	Err error
	Raw []byte
}

// Reassembler turns a byte stream into frames.
//
// It is not safe for concurrent use; the owner feeds it chunks in arrival
// order from a single goroutine.
type Reassembler struct {
	buf     []byte
	dropped uint64
}

// NewReassembler creates an empty reassembler
func NewReassembler() *Reassembler {
	return &Reassembler{buf: make([]byte, 0, MaxFrameSize)}
}

// Reset discards any buffered bytes
func (r *Reassembler) Reset() {
	r.buf = r.buf[:0]
}

// Pending returns the number of buffered bytes not yet consumed
func (r *Reassembler) Pending() int {
	return len(r.buf)
}

// Dropped returns the number of bytes discarded while searching for STX
func (r *Reassembler) Dropped() uint64 {
	return r.dropped
}

// Feed consumes one chunk read from the transport and returns every
// outcome it produced, in stream order.
//
// A candidate frame that fails to validate or decode is reported with Err,
// then parsing resumes one byte after the start of that candidate, so a
// corrupted leading byte never stalls the stream.
func (r *Reassembler) Feed(chunk []byte) []Result {
	if len(r.buf) == 0 && len(chunk) == 1 && chunk[0] == ENQ {
		return []Result{{Poll: true}}
	}

	r.buf = append(r.buf, chunk...)

	var results []Result
	for {
		r.acquireSync()

		// Wait for size byte
		if len(r.buf) < 2 {
			break
		}

		// Wait for whole frame
		length := int(r.buf[1])
		if len(r.buf) < length {
			break
		}

		f, m, err := Decode(r.buf)
		if err != nil {
			raw := make([]byte, min(max(length, 2), len(r.buf)))
			copy(raw, r.buf)
			results = append(results, Result{Frame: f, Err: err, Raw: raw})

			// Retry from one byte later
			r.buf = r.buf[1:]
			continue
		}

		r.buf = r.buf[length:]
		results = append(results, Result{Frame: f, Message: m})
	}

	r.compact()
	return results
}

// acquireSync discards everything before the first STX
func (r *Reassembler) acquireSync() {
	for i, b := range r.buf {
		if b == STX {
			r.dropped += uint64(i)
			r.buf = r.buf[i:]
			return
		}
	}
	r.dropped += uint64(len(r.buf))
	r.buf = r.buf[:0]
}

// compact moves the unconsumed bytes back to the start of the buffer
func (r *Reassembler) compact() {
	if cap(r.buf) == 0 {
		return
	}
	fresh := make([]byte, len(r.buf), max(len(r.buf), MaxFrameSize))
	copy(fresh, r.buf)
	r.buf = fresh
}
