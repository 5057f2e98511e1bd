// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package validator

import (
	"fmt"
	"time"

	"github.com/Thermoquad/billstat/pkg/ebds"
)

// EventType identifies a controller event
type EventType int

const (
	EventConnected EventType = iota
	EventDisconnected
	EventError
	EventBillAccepted
	EventBillRead
	EventBillRejected
	EventBillValid
	EventJam
	EventStackerOpen
	EventIdle
)

// String returns the event name
func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventError:
		return "error"
	case EventBillAccepted:
		return "billAccepted"
	case EventBillRead:
		return "billRead"
	case EventBillRejected:
		return "billRejected"
	case EventBillValid:
		return "billValid"
	case EventJam:
		return "jam"
	case EventStackerOpen:
		return "stackerOpen"
	case EventIdle:
		return "idle"
	default:
		return "unknown"
	}
}

// Event is emitted by the controller to its single consumer
type Event struct {
	Type EventType
	Time time.Time
	Bill *ebds.Bill // EventBillRead only
	Err  error      // EventError only
}

// String formats the event for logs
func (e Event) String() string {
	switch {
	case e.Bill != nil:
		return fmt.Sprintf("%s %s %s", e.Type, e.Bill.Denomination.String(), e.Bill.Currency)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Type, e.Err)
	default:
		return e.Type.String()
	}
}

// statusEvents maps coarse statuses that are forwarded as plain events
var statusEvents = map[ebds.Status]EventType{
	ebds.StatusBillRejected: EventBillRejected,
	ebds.StatusBillValid:    EventBillValid,
	ebds.StatusJam:          EventJam,
	ebds.StatusStackerOpen:  EventStackerOpen,
	ebds.StatusIdle:         EventIdle,
}
