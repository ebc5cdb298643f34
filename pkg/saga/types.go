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

// Message header keys read and written by the saga runtime. All values are
// plain strings carried on the message metadata map.
const (
	// HeaderSagaType names the saga type a message is addressed to.
	HeaderSagaType = "saga.type"

	// HeaderSagaID carries the id of the saga instance a message is addressed to.
	HeaderSagaID = "saga.id"

	// HeaderTimeoutID identifies the timeout a reminder message was scheduled for.
	HeaderTimeoutID = "saga.timeout-id"

	// HeaderIsTimeout flags a message as a saga reminder.
	HeaderIsTimeout = "saga.is-timeout"

	// HeaderVersion is the protocol version of the sending endpoint.
	HeaderVersion = "message.version"

	// HeaderIntent is the message intent (send, publish, reply).
	HeaderIntent = "message.intent"

	// HeaderReplyTo is the address replies should be sent to.
	HeaderReplyTo = "message.reply-to"

	// HeaderExpire is set by legacy timeout managers on reminder messages.
	HeaderExpire = "timeout.expire"
)

// IntentPublish is the HeaderIntent value of published events.
const IntentPublish = "Publish"

// Data holds the fields every saga entity carries. Embed it in the business
// state struct:
//
//	type OrderData struct {
//	    saga.Data
//	    OrderID int
//	}
type Data struct {
	ID                string `json:"Id"`
	Originator        string `json:"Originator"`
	OriginalMessageID string `json:"OriginalMessageId"`
}

// SagaData returns the embedded saga fields. Entity types get it by embedding Data.
func (d *Data) SagaData() *Data {
	return d
}

// Entity is the opaque business state owned by a saga definition.
type Entity interface {
	SagaData() *Data
}

// Timeout is a reminder requested by a saga instance. Timeouts are never
// removed; cancellation only sets Canceled so late reminders can be ignored.
type Timeout struct {
	ID       string `json:"Id"`
	Type     string `json:"Type"`
	Canceled bool   `json:"Canceled"`
}

// Instance is the durable record of one saga occurrence.
type Instance struct {
	ID       string
	Type     string
	Entity   Entity
	Timeouts []Timeout
}

// NewInstance creates an instance with the given identity and no state.
func NewInstance(id, sagaType string) *Instance {
	return &Instance{ID: id, Type: sagaType, Timeouts: []Timeout{}}
}

// Found reports whether the instance carries business state.
func (i *Instance) Found() bool {
	return i != nil && i.Entity != nil
}

// FindTimeout returns the timeout with the given id.
func (i *Instance) FindTimeout(id string) (*Timeout, bool) {
	for idx := range i.Timeouts {
		if i.Timeouts[idx].ID == id {
			return &i.Timeouts[idx], true
		}
	}
	return nil, false
}

// CorrelationProperty is a business field whose value ties messages to an instance.
type CorrelationProperty struct {
	Name  string
	Value interface{}
}

// NoCorrelationProperty is used when a saga has no correlation property.
var NoCorrelationProperty = CorrelationProperty{}

// IsNone reports whether p is the NoCorrelationProperty sentinel.
func (p CorrelationProperty) IsNone() bool {
	return p.Name == "" && p.Value == nil
}
