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

package storage

import (
	"context"
	"fmt"

	"github.com/innovationmech/sagakeeper/pkg/saga"
)

// Persister is the file-backed saga.Persister. It stores timeouts with the
// instance and needs a deterministic IDGenerator so correlation lookups can
// recompute instance ids.
type Persister struct {
	store       *InstanceStore
	idGenerator saga.IDGenerator
}

var (
	_ saga.Persister             = (*Persister)(nil)
	_ saga.TimeoutStorageCapable = (*Persister)(nil)
)

// NewPersister creates a persister over store. A nil idGenerator selects
// saga.DeterministicIDGenerator.
func NewPersister(store *InstanceStore, idGenerator saga.IDGenerator) *Persister {
	if idGenerator == nil {
		idGenerator = saga.DeterministicIDGenerator{}
	}
	return &Persister{store: store, idGenerator: idGenerator}
}

// Open creates the storage directories below root and returns a persister
// for the registered sagas.
func Open(root string, registry *saga.Registry, opts Options) (*Persister, error) {
	manifests, err := NewManifestCollection(registry, root)
	if err != nil {
		return nil, err
	}
	return NewPersister(NewInstanceStore(manifests, registry, opts), nil), nil
}

// Store returns the underlying instance store.
func (p *Persister) Store() *InstanceStore {
	return p.store
}

// NewSession starts a unit of work.
func (p *Persister) NewSession() *Session {
	return NewSession(p.store)
}

// SupportsTimeoutStorage implements saga.TimeoutStorageCapable.
func (p *Persister) SupportsTimeoutStorage() bool {
	return true
}

// PrepareNewInstance derives the id of a new instance from its correlation value.
func (p *Persister) PrepareNewInstance(ctx context.Context, sagaType string, correlationValue interface{}, pc *saga.PersisterContext) (*saga.Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if pc == nil || pc.Metadata == nil {
		return nil, saga.NewConfigurationError("persister context requires saga metadata")
	}

	property := saga.NoCorrelationProperty
	if pc.Metadata.CorrelationProperty != "" {
		if correlationValue == nil {
			return nil, saga.NewCorrelationPropertyMissingError(sagaType)
		}
		property = saga.CorrelationProperty{Name: pc.Metadata.CorrelationProperty, Value: correlationValue}
	}

	id, err := p.idGenerator.Generate(saga.IDGeneratorContext{
		CorrelationProperty: property,
		Metadata:            pc.Metadata,
		Extensions:          pc.Extensions,
	})
	if err != nil {
		return nil, err
	}
	return saga.NewInstance(id, sagaType), nil
}

// Save implements saga.Persister.
func (p *Persister) Save(ctx context.Context, instance *saga.Instance, pc *saga.PersisterContext) error {
	session, err := sessionOf(pc)
	if err != nil {
		return err
	}
	return session.Save(instance)
}

// Update implements saga.Persister.
func (p *Persister) Update(ctx context.Context, instance *saga.Instance, pc *saga.PersisterContext) error {
	session, err := sessionOf(pc)
	if err != nil {
		return err
	}
	return session.Update(instance)
}

// Get implements saga.Persister.
func (p *Persister) Get(ctx context.Context, sagaType, sagaID string, pc *saga.PersisterContext) (*saga.Instance, error) {
	session, err := sessionOf(pc)
	if err != nil {
		return nil, err
	}
	return session.Read(ctx, sagaType, sagaID)
}

// GetByCorrelationProperty implements saga.Persister.
func (p *Persister) GetByCorrelationProperty(ctx context.Context, sagaType string, property saga.CorrelationProperty, pc *saga.PersisterContext) (*saga.Instance, error) {
	if pc == nil || pc.Metadata == nil {
		return nil, saga.NewConfigurationError("persister context requires saga metadata")
	}
	id, err := p.idGenerator.Generate(saga.IDGeneratorContext{
		CorrelationProperty: property,
		Metadata:            pc.Metadata,
		Extensions:          pc.Extensions,
	})
	if err != nil {
		return nil, err
	}
	return p.Get(ctx, sagaType, id, pc)
}

// Complete implements saga.Persister.
func (p *Persister) Complete(ctx context.Context, instance *saga.Instance, pc *saga.PersisterContext) error {
	session, err := sessionOf(pc)
	if err != nil {
		return err
	}
	return session.Complete(instance)
}

func sessionOf(pc *saga.PersisterContext) (*Session, error) {
	if pc == nil || pc.Session == nil {
		return nil, saga.NewConfigurationError("persister context has no storage session")
	}
	session, ok := pc.Session.(*Session)
	if !ok {
		return nil, saga.NewConfigurationError(fmt.Sprintf("file persister cannot use storage session %T", pc.Session))
	}
	return session, nil
}
