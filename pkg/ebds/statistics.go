// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ebds

import (
	"errors"
	"fmt"
	"time"
)

// Statistics tracks link health: frames, decode failures and resync losses
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalFrames    uint64
	ValidFrames    uint64
	IgnoredFrames  uint64
	PollRequests   uint64
	ChecksumErrors uint64
	ETXErrors      uint64
	Truncations    uint64
	DecodeErrors   uint64
	DroppedBytes   uint64
	StatusChanges  uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update accounts for one reassembler result
func (s *Statistics) Update(r Result) {
	s.LastUpdateTime = time.Now()

	if r.Poll {
		s.PollRequests++
		return
	}

	s.TotalFrames++

	if r.Err != nil {
		switch {
		case errors.Is(r.Err, ErrBadChecksum):
			s.ChecksumErrors++
		case errors.Is(r.Err, ErrMissingETX):
			s.ETXErrors++
		case errors.Is(r.Err, ErrTruncated):
			s.Truncations++
		default:
			s.DecodeErrors++
		}
		return
	}

	if r.Message == nil {
		s.IgnoredFrames++
		return
	}
	s.ValidFrames++
}

// Errors returns the total number of failed candidates
func (s *Statistics) Errors() uint64 {
	return s.ChecksumErrors + s.ETXErrors + s.Truncations + s.DecodeErrors
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		s.ErrorRate = float64(s.Errors()) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var validPercent float64
	if s.TotalFrames > 0 {
		validPercent = float64(s.ValidFrames) * 100.0 / float64(s.TotalFrames)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Frames:    %8d\n", s.TotalFrames)
	result += fmt.Sprintf("Valid Frames:    %8d (%.1f%%)\n", s.ValidFrames, validPercent)

	if s.IgnoredFrames > 0 {
		result += fmt.Sprintf("Ignored Frames:  %8d\n", s.IgnoredFrames)
	}
	if s.PollRequests > 0 {
		result += fmt.Sprintf("ENQ Requests:    %8d\n", s.PollRequests)
	}
	if s.ChecksumErrors > 0 {
		result += fmt.Sprintf("Checksum Errors: %8d\n", s.ChecksumErrors)
	}
	if s.ETXErrors > 0 {
		result += fmt.Sprintf("Missing ETX:     %8d\n", s.ETXErrors)
	}
	if s.Truncations > 0 {
		result += fmt.Sprintf("Truncated:       %8d\n", s.Truncations)
	}
	if s.DecodeErrors > 0 {
		result += fmt.Sprintf("Decode Errors:   %8d\n", s.DecodeErrors)
	}
	if s.DroppedBytes > 0 {
		result += fmt.Sprintf("Dropped Bytes:   %8d\n", s.DroppedBytes)
	}
	if s.StatusChanges > 0 {
		result += fmt.Sprintf("Status Changes:  %8d\n", s.StatusChanges)
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
