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

package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/innovationmech/sagakeeper/pkg/saga"
)

var (
	// ErrInvalidEntity is returned for nil entities or entities without an id.
	ErrInvalidEntity = errors.New("invalid saga entity")

	// ErrDuplicateEntity is returned when saving an id that is already stored.
	ErrDuplicateEntity = errors.New("saga entity already exists")

	// ErrDuplicateCorrelationValue is returned when saving a correlation value
	// that another instance of the same saga already uses.
	ErrDuplicateCorrelationValue = errors.New("correlation value already in use")
)

// MemoryEntityPersister keeps saga entities in memory. Entities are stored as
// JSON, so callers never share state with the store. It is suitable for tests
// and for sagas that need no durability across restarts.
type MemoryEntityPersister struct {
	// mu protects entries
	mu sync.RWMutex

	// entries stores serialized entities indexed by saga type and id
	entries map[entryKey]*memoryEntry
}

type entryKey struct {
	sagaType string
	sagaID   string
}

type memoryEntry struct {
	data     []byte
	property saga.CorrelationProperty
}

var _ EntityPersister = (*MemoryEntityPersister)(nil)

// NewMemoryEntityPersister creates an empty persister.
func NewMemoryEntityPersister() *MemoryEntityPersister {
	return &MemoryEntityPersister{entries: make(map[entryKey]*memoryEntry)}
}

// Save stores a new entity. Correlation values are unique per saga type.
func (m *MemoryEntityPersister) Save(ctx context.Context, entity saga.Entity, property saga.CorrelationProperty, pc *saga.PersisterContext) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	key, err := keyOf(entity, pc)
	if err != nil {
		return err
	}
	data, err := json.Marshal(entity)
	if err != nil {
		return saga.NewStorageError("save", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[key]; exists {
		return saga.WrapError(ErrDuplicateEntity, saga.ErrCodeConcurrentCreate,
			fmt.Sprintf("saga '%s' with id '%s' already exists", key.sagaType, key.sagaID), saga.ErrorTypeConcurrency, true)
	}
	if !property.IsNone() {
		for other, entry := range m.entries {
			if other.sagaType == key.sagaType && entry.property.Name == property.Name &&
				reflect.DeepEqual(entry.property.Value, property.Value) {
				return saga.WrapError(ErrDuplicateCorrelationValue, saga.ErrCodeConcurrentCreate,
					fmt.Sprintf("saga '%s' already has an instance with %s=%v", key.sagaType, property.Name, property.Value),
					saga.ErrorTypeConcurrency, true)
			}
		}
	}

	m.entries[key] = &memoryEntry{data: data, property: property}
	return nil
}

// Update overwrites a stored entity.
func (m *MemoryEntityPersister) Update(ctx context.Context, entity saga.Entity, pc *saga.PersisterContext) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	key, err := keyOf(entity, pc)
	if err != nil {
		return err
	}
	data, err := json.Marshal(entity)
	if err != nil {
		return saga.NewStorageError("update", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.entries[key]
	if !exists {
		return saga.WrapError(saga.ErrSagaNotFound, saga.ErrCodeSagaNotFound,
			fmt.Sprintf("saga '%s' with id '%s' is not stored", key.sagaType, key.sagaID), saga.ErrorTypeData, false)
	}
	entry.data = data
	return nil
}

// Get returns a copy of the entity stored under sagaID.
func (m *MemoryEntityPersister) Get(ctx context.Context, sagaType, sagaID string, pc *saga.PersisterContext) (saga.Entity, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	metadata, err := metadataOf(pc, sagaType)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	entry, exists := m.entries[entryKey{sagaType: sagaType, sagaID: sagaID}]
	m.mu.RUnlock()
	if !exists {
		return nil, nil
	}
	return decode(metadata, entry.data)
}

// GetByProperty returns a copy of the entity whose property equals value.
// value is converted to the property type before comparing.
func (m *MemoryEntityPersister) GetByProperty(ctx context.Context, sagaType, propertyName string, value interface{}, pc *saga.PersisterContext) (saga.Entity, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	metadata, err := metadataOf(pc, sagaType)
	if err != nil {
		return nil, err
	}

	sample := metadata.NewEntity()
	if err := saga.SetProperty(sample, propertyName, value); err != nil {
		return nil, err
	}
	want, err := saga.ReadProperty(sample, propertyName)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for key, entry := range m.entries {
		if key.sagaType != sagaType {
			continue
		}
		entity, err := decode(metadata, entry.data)
		if err != nil {
			return nil, err
		}
		got, err := saga.ReadProperty(entity, propertyName)
		if err != nil {
			return nil, err
		}
		if reflect.DeepEqual(got, want) {
			return entity, nil
		}
	}
	return nil, nil
}

// Complete removes a stored entity. Completing an absent entity is a no-op.
func (m *MemoryEntityPersister) Complete(ctx context.Context, entity saga.Entity, pc *saga.PersisterContext) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	key, err := keyOf(entity, pc)
	if err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Count returns the number of stored entities.
func (m *MemoryEntityPersister) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func keyOf(entity saga.Entity, pc *saga.PersisterContext) (entryKey, error) {
	if entity == nil || entity.SagaData().ID == "" {
		return entryKey{}, ErrInvalidEntity
	}
	if pc == nil || pc.Metadata == nil {
		return entryKey{}, saga.NewConfigurationError("no metadata available for the saga entity")
	}
	return entryKey{sagaType: pc.Metadata.Name, sagaID: entity.SagaData().ID}, nil
}

func decode(metadata *saga.Metadata, data []byte) (saga.Entity, error) {
	entity := metadata.NewEntity()
	if err := json.Unmarshal(data, entity); err != nil {
		return nil, saga.NewStorageError("decode", err)
	}
	return entity, nil
}
