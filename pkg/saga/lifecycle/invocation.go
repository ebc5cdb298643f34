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

package lifecycle

import (
	"context"

	"github.com/innovationmech/sagakeeper/pkg/saga"
)

// Status is the resolution state of one invocation.
type Status int

const (
	// StatusUnresolved is the initial state. Invocations of handlers that
	// are not sagas stay in it.
	StatusUnresolved Status = iota
	// StatusNew means a new instance was created for a starting message.
	StatusNew
	// StatusFound means an existing instance was loaded.
	StatusFound
	// StatusNotFound means no instance matched and the message cannot start one.
	StatusNotFound
	// StatusCompleted means the handler completed the saga.
	StatusCompleted
	// StatusUpdated means the instance was saved or updated.
	StatusUpdated
	// StatusSkipped means the invocation did not apply to this handler.
	StatusSkipped
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusUnresolved:
		return "unresolved"
	case StatusNew:
		return "new"
	case StatusFound:
		return "found"
	case StatusNotFound:
		return "not_found"
	case StatusCompleted:
		return "completed"
	case StatusUpdated:
		return "updated"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the status ends an invocation.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusNotFound, StatusCompleted, StatusUpdated, StatusSkipped:
		return true
	default:
		return false
	}
}

// Handler describes the handler a message is dispatched to.
type Handler struct {
	// SagaType is the name of the saga the handler belongs to. It is empty
	// for handlers that are not sagas.
	SagaType string

	// IsTimeoutHandler marks handlers of reminder messages.
	IsTimeoutHandler bool
}

// IsSaga reports whether the handler belongs to a saga.
func (h Handler) IsSaga() bool {
	return h.SagaType != ""
}

// Invocation is one message dispatched to one handler.
type Invocation struct {
	// MessageID is the id of the inbound message.
	MessageID string

	// Message is the inbound message.
	Message interface{}

	// MessageHierarchy lists the message type names, most specific first.
	MessageHierarchy []string

	// Headers are the inbound message headers. The coordinator may add the
	// reminder flag or remove saga headers.
	Headers map[string]string

	// Handler is the handler being invoked.
	Handler Handler

	// Session is the unit of work of the message.
	Session saga.StorageSession

	// Extensions is the per-invocation context bag. Created when nil.
	Extensions *saga.Extensions

	state *saga.State
}

// State returns the saga state handed to the handler. It is nil for plain
// handlers and before resolution.
func (inv *Invocation) State() *saga.State {
	return inv.state
}

// NextFunc invokes the handler.
type NextFunc func(ctx context.Context, inv *Invocation) error

// Outcome reports what an invocation did.
type Outcome struct {
	// Status is the final resolution state.
	Status Status

	// SagaID is the id of the resolved or created instance.
	SagaID string

	// SagaFound is the bookkeeping result: true when an instance was
	// found or created, and for reminders of instances that are gone.
	SagaFound bool

	// HandlerInvoked reports whether next was called.
	HandlerInvoked bool

	// SkipReason explains a skipped invocation or handler.
	SkipReason string

	// ScheduledTimeouts lists the ids of reminders scheduled by this invocation.
	ScheduledTimeouts []string

	// DiscardedTimeouts counts reminders dropped because the saga completed.
	DiscardedTimeouts int
}

const stateKey = "saga.active-state"

// StateFrom returns the saga state stored in the invocation extensions.
func StateFrom(ext *saga.Extensions) (*saga.State, bool) {
	if ext == nil {
		return nil, false
	}
	v, ok := ext.Get(stateKey)
	if !ok {
		return nil, false
	}
	state, ok := v.(*saga.State)
	return state, ok
}
