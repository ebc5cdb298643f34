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
	"context"
	"time"
)

// State is the mutable saga state handed to a handler for one invocation.
// The coordinator creates it, the handler changes it, and the coordinator
// interprets it once the handler returns.
type State struct {
	metadata  *Metadata
	instance  *Instance
	ledger    *TimeoutLedger
	completed bool
}

// NewState creates the state of an invocation. instance is nil when the
// saga was not found.
func NewState(metadata *Metadata, instance *Instance) *State {
	return &State{
		metadata: metadata,
		instance: instance,
		ledger:   NewTimeoutLedger(metadata, instance),
	}
}

// Metadata returns the metadata of the saga being handled.
func (s *State) Metadata() *Metadata {
	return s.metadata
}

// Instance returns the resolved instance, or nil.
func (s *State) Instance() *Instance {
	return s.instance
}

// Entity returns the business state of the resolved instance, or nil.
func (s *State) Entity() Entity {
	if s.instance == nil {
		return nil
	}
	return s.instance.Entity
}

// MarkAsComplete marks the saga complete; its state is deleted after the handler returns.
func (s *State) MarkAsComplete() {
	s.completed = true
}

// Completed reports whether the handler marked the saga complete.
func (s *State) Completed() bool {
	return s.completed
}

// Timeouts returns the timeout ledger of the invocation.
func (s *State) Timeouts() *TimeoutLedger {
	return s.ledger
}

// RequestTimeoutAt requests a reminder at the given time.
func (s *State) RequestTimeoutAt(timeoutType string, at time.Time, message interface{}) error {
	return s.ledger.RequestAt(timeoutType, at, message)
}

// RequestTimeoutWithin requests a reminder after the given delay.
func (s *State) RequestTimeoutWithin(timeoutType string, within time.Duration, message interface{}) error {
	return s.ledger.RequestWithin(timeoutType, within, message)
}

// CancelTimeout cancels all stored reminders of timeoutType.
func (s *State) CancelTimeout(timeoutType string) {
	s.ledger.Cancel(timeoutType)
}

// ReplyToOriginator sends message to the endpoint that started the saga,
// correlated with the message that started it.
func (s *State) ReplyToOriginator(ctx context.Context, sender MessageSender, messageType string, message interface{}) error {
	entity := s.Entity()
	if entity == nil {
		return NewValidationError("cannot reply to originator: no saga entity")
	}
	data := entity.SagaData()
	if data.Originator == "" {
		return NewValidationError("entity originator is empty; perhaps the sender is a send-only endpoint")
	}

	// The saga's own id and type stay off the reply so a saga that started
	// us is not mistaken for this one.
	return sender.Send(ctx, message, SendOptions{
		MessageType:   messageType,
		Destination:   data.Originator,
		CorrelationID: data.OriginalMessageID,
	})
}
