// Copyright © 2025 jackelyj <dreamerlyj@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//

package saga

import (
	"time"
)

// RequestedTimeout is a reminder requested during the current invocation.
// Exactly one of At and Within is meaningful.
type RequestedTimeout struct {
	ID      string
	Type    string
	Message interface{}
	At      time.Time
	Within  time.Duration
}

// IsAbsolute reports whether the reminder is due at an absolute time.
func (r RequestedTimeout) IsAbsolute() bool {
	return !r.At.IsZero()
}

// TimeoutLedger tracks the reminders requested during one invocation and the
// reminders already stored with the instance.
type TimeoutLedger struct {
	metadata  *Metadata
	instance  *Instance
	requested []RequestedTimeout
}

// NewTimeoutLedger creates a ledger for an invocation of the given saga.
// instance may be nil when no instance was resolved.
func NewTimeoutLedger(metadata *Metadata, instance *Instance) *TimeoutLedger {
	return &TimeoutLedger{metadata: metadata, instance: instance}
}

// RequestAt requests a reminder of timeoutType delivered at the given time.
func (l *TimeoutLedger) RequestAt(timeoutType string, at time.Time, message interface{}) error {
	if at.IsZero() {
		return NewValidationError("timeout delivery time must be set")
	}
	if err := l.verifyCanHandle(timeoutType); err != nil {
		return err
	}
	l.requested = append(l.requested, RequestedTimeout{
		ID:      NewTimeoutID(),
		Type:    timeoutType,
		Message: message,
		At:      at,
	})
	return nil
}

// RequestWithin requests a reminder of timeoutType delivered after the given delay.
func (l *TimeoutLedger) RequestWithin(timeoutType string, within time.Duration, message interface{}) error {
	if within < 0 {
		return NewValidationError("timeout delay must not be negative")
	}
	if err := l.verifyCanHandle(timeoutType); err != nil {
		return err
	}
	l.requested = append(l.requested, RequestedTimeout{
		ID:      NewTimeoutID(),
		Type:    timeoutType,
		Message: message,
		Within:  within,
	})
	return nil
}

// Cancel marks every stored timeout of timeoutType as canceled.
func (l *TimeoutLedger) Cancel(timeoutType string) {
	if l.instance == nil {
		return
	}
	for i := range l.instance.Timeouts {
		if l.instance.Timeouts[i].Type == timeoutType {
			l.instance.Timeouts[i].Canceled = true
		}
	}
}

// Requested returns the reminders requested so far, in request order.
func (l *TimeoutLedger) Requested() []RequestedTimeout {
	return l.requested
}

func (l *TimeoutLedger) verifyCanHandle(timeoutType string) error {
	if l.metadata == nil || !l.metadata.HandlesTimeout(timeoutType) {
		name := ""
		if l.metadata != nil {
			name = l.metadata.Name
		}
		return NewTimeoutNotHandledError(name, timeoutType)
	}
	return nil
}
