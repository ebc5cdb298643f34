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

// Package persistence adapts persisters written against the entity-oriented
// contract to the instance contract used by the lifecycle coordinator.
package persistence

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/innovationmech/sagakeeper/pkg/logger"
	"github.com/innovationmech/sagakeeper/pkg/saga"
)

// EntityPersister stores saga entities directly. Get and GetByProperty return
// a nil entity and a nil error when nothing is stored.
type EntityPersister interface {
	Save(ctx context.Context, entity saga.Entity, property saga.CorrelationProperty, pc *saga.PersisterContext) error
	Update(ctx context.Context, entity saga.Entity, pc *saga.PersisterContext) error
	Get(ctx context.Context, sagaType, sagaID string, pc *saga.PersisterContext) (saga.Entity, error)
	GetByProperty(ctx context.Context, sagaType, propertyName string, value interface{}, pc *saga.PersisterContext) (saga.Entity, error)
	Complete(ctx context.Context, entity saga.Entity, pc *saga.PersisterContext) error
}

// Adapter exposes an EntityPersister as a saga.Persister. Timeouts are not
// stored, so stale reminders are not detected for sagas behind an Adapter.
type Adapter struct {
	entities    EntityPersister
	idGenerator saga.IDGenerator
	logger      *zap.Logger
}

var _ saga.Persister = (*Adapter)(nil)

// NewAdapter wraps entities. A nil idGenerator selects saga.DeterministicIDGenerator.
func NewAdapter(entities EntityPersister, idGenerator saga.IDGenerator, log *zap.Logger) *Adapter {
	if idGenerator == nil {
		idGenerator = saga.DeterministicIDGenerator{}
	}
	return &Adapter{
		entities:    entities,
		idGenerator: idGenerator,
		logger:      logger.Named(log, "persistence"),
	}
}

// SupportsTimeoutStorage always reports false.
func (a *Adapter) SupportsTimeoutStorage() bool {
	return false
}

// PrepareNewInstance generates the id of a new instance from its correlation
// property.
func (a *Adapter) PrepareNewInstance(_ context.Context, sagaType string, correlationValue interface{}, pc *saga.PersisterContext) (*saga.Instance, error) {
	metadata, err := metadataOf(pc, sagaType)
	if err != nil {
		return nil, err
	}

	id, err := a.idGenerator.Generate(saga.IDGeneratorContext{
		CorrelationProperty: correlationPropertyOf(metadata, correlationValue),
		Metadata:            metadata,
		Extensions:          pc.Extensions,
	})
	if err != nil {
		return nil, saga.WrapError(err, saga.ErrCodeStorageError, "failed to generate saga id", saga.ErrorTypeSystem, false)
	}
	return saga.NewInstance(id, sagaType), nil
}

// Save stores a new instance together with the correlation property read off
// its entity.
func (a *Adapter) Save(ctx context.Context, instance *saga.Instance, pc *saga.PersisterContext) error {
	metadata, err := metadataOf(pc, instance.Type)
	if err != nil {
		return err
	}
	if instance.Entity == nil {
		return saga.NewValidationError("cannot save an instance without an entity")
	}

	property := saga.NoCorrelationProperty
	if metadata.CorrelationProperty != "" {
		value, err := saga.ReadProperty(instance.Entity, metadata.CorrelationProperty)
		if err != nil {
			return err
		}
		property = saga.CorrelationProperty{Name: metadata.CorrelationProperty, Value: value}
	}

	a.logger.Debug("saving saga entity",
		zap.String("saga_type", instance.Type),
		zap.String("saga_id", instance.ID))
	return a.entities.Save(ctx, instance.Entity, property, pc)
}

// Update overwrites the entity of an existing instance.
func (a *Adapter) Update(ctx context.Context, instance *saga.Instance, pc *saga.PersisterContext) error {
	return a.entities.Update(ctx, instance.Entity, pc)
}

// Get loads an instance by id.
func (a *Adapter) Get(ctx context.Context, sagaType, sagaID string, pc *saga.PersisterContext) (*saga.Instance, error) {
	entity, err := a.entities.Get(ctx, sagaType, sagaID, pc)
	if err != nil {
		return nil, err
	}
	return wrap(sagaType, entity), nil
}

// GetByCorrelationProperty loads an instance by its correlation property.
func (a *Adapter) GetByCorrelationProperty(ctx context.Context, sagaType string, property saga.CorrelationProperty, pc *saga.PersisterContext) (*saga.Instance, error) {
	entity, err := a.entities.GetByProperty(ctx, sagaType, property.Name, property.Value, pc)
	if err != nil {
		return nil, err
	}
	return wrap(sagaType, entity), nil
}

// Complete removes the entity of a finished instance.
func (a *Adapter) Complete(ctx context.Context, instance *saga.Instance, pc *saga.PersisterContext) error {
	a.logger.Debug("completing saga entity",
		zap.String("saga_type", instance.Type),
		zap.String("saga_id", instance.ID))
	return a.entities.Complete(ctx, instance.Entity, pc)
}

func wrap(sagaType string, entity saga.Entity) *saga.Instance {
	if entity == nil {
		return nil
	}
	instance := saga.NewInstance(entity.SagaData().ID, sagaType)
	instance.Entity = entity
	return instance
}

func metadataOf(pc *saga.PersisterContext, sagaType string) (*saga.Metadata, error) {
	if pc == nil || pc.Metadata == nil {
		return nil, saga.NewConfigurationError(fmt.Sprintf("no metadata available for saga '%s'", sagaType))
	}
	return pc.Metadata, nil
}

func correlationPropertyOf(metadata *saga.Metadata, value interface{}) saga.CorrelationProperty {
	if metadata.CorrelationProperty == "" || value == nil {
		return saga.NoCorrelationProperty
	}
	return saga.CorrelationProperty{Name: metadata.CorrelationProperty, Value: value}
}
