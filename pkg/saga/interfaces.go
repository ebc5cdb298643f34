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

// Package saga holds the data model and contracts of the saga lifecycle and
// persistence core: saga metadata, instances and timeouts, the timeout ledger,
// and the interfaces the lifecycle coordinator programs against.
package saga

import (
	"context"
	"time"
)

// StorageSession is the unit of work a message is processed in. Deferred
// persistence effects are applied by Commit; Close releases every resource
// the session holds, whether or not Commit ran.
type StorageSession interface {
	// Commit applies all deferred effects in the order they were requested.
	Commit(ctx context.Context) error

	// Close releases the session resources. It is safe to call more than once.
	Close() error
}

// AfterCommitFunc is work that may only happen once the persistence effects
// of its session are applied, such as scheduling or cancelling reminders.
type AfterCommitFunc func(ctx context.Context) error

// DispatchingSession is a StorageSession that holds outgoing work until
// Commit has applied every persistence effect. The work is dropped when
// Commit fails or the session closes without committing.
type DispatchingSession interface {
	StorageSession

	// AfterCommit queues fn to run, in queue order, after a successful Commit.
	AfterCommit(fn AfterCommitFunc) error
}

// PersisterContext carries what a persister needs for one invocation.
type PersisterContext struct {
	// Metadata describes the saga being handled.
	Metadata *Metadata

	// Session is the unit of work of the current message.
	Session StorageSession

	// Extensions is the per-invocation context bag.
	Extensions *Extensions
}

// Persister is the contract the lifecycle coordinator uses to load and store
// saga instances. Get and GetByCorrelationProperty return a nil instance and
// a nil error when nothing is stored.
type Persister interface {
	// PrepareNewInstance allocates the identity of a new instance.
	PrepareNewInstance(ctx context.Context, sagaType string, correlationValue interface{}, pc *PersisterContext) (*Instance, error)

	// Save stores a newly created instance.
	Save(ctx context.Context, instance *Instance, pc *PersisterContext) error

	// Update overwrites an existing instance.
	Update(ctx context.Context, instance *Instance, pc *PersisterContext) error

	// Get loads an instance by id.
	Get(ctx context.Context, sagaType, sagaID string, pc *PersisterContext) (*Instance, error)

	// GetByCorrelationProperty loads an instance by its correlation property.
	GetByCorrelationProperty(ctx context.Context, sagaType string, property CorrelationProperty, pc *PersisterContext) (*Instance, error)

	// Complete removes a finished instance.
	Complete(ctx context.Context, instance *Instance, pc *PersisterContext) error
}

// TimeoutStorageCapable is implemented by persisters that store the timeouts
// of an instance alongside its state.
type TimeoutStorageCapable interface {
	SupportsTimeoutStorage() bool
}

// SupportsTimeoutStorage reports whether p stores timeouts natively.
func SupportsTimeoutStorage(p Persister) bool {
	capable, ok := p.(TimeoutStorageCapable)
	return ok && capable.SupportsTimeoutStorage()
}

// IDGeneratorContext is the input of an IDGenerator.
type IDGeneratorContext struct {
	CorrelationProperty CorrelationProperty
	Metadata            *Metadata
	Extensions          *Extensions
}

// IDGenerator generates ids for new saga instances.
type IDGenerator interface {
	Generate(ctx IDGeneratorContext) (string, error)
}

// SendOptions controls how a message is sent.
type SendOptions struct {
	// MessageType is the logical type name of the message.
	MessageType string

	// Destination is the address to send to. Ignored with RouteToThisEndpoint.
	Destination string

	// RouteToThisEndpoint routes the message back to the sending endpoint.
	RouteToThisEndpoint bool

	// DeliverAt defers delivery until the given time.
	DeliverAt time.Time

	// Delay defers delivery by the given duration.
	Delay time.Duration

	// CorrelationID is attached to the outgoing message.
	CorrelationID string

	// Headers are attached to the outgoing message.
	Headers map[string]string
}

// SetHeader sets an outgoing header.
func (o *SendOptions) SetHeader(key, value string) {
	if o.Headers == nil {
		o.Headers = make(map[string]string)
	}
	o.Headers[key] = value
}

// MessageSender sends messages, optionally deferring delivery.
type MessageSender interface {
	Send(ctx context.Context, message interface{}, options SendOptions) error
}

// DeferredCanceller cancels reminder deliveries not yet made for a saga instance.
type DeferredCanceller interface {
	CancelDeferredMessages(ctx context.Context, sagaID string) error
}
