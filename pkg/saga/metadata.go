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
	"fmt"
	"sort"
	"strings"
	"sync"
)

// CustomFinder locates saga state by an arbitrary criterion. It must report
// absence by returning a nil entity or ErrSagaNotFound.
type CustomFinder interface {
	FindBy(ctx context.Context, message interface{}, pc *PersisterContext) (Entity, error)
}

// CustomFinderFunc adapts a function to CustomFinder.
type CustomFinderFunc func(ctx context.Context, message interface{}, pc *PersisterContext) (Entity, error)

// FindBy calls f.
func (f CustomFinderFunc) FindBy(ctx context.Context, message interface{}, pc *PersisterContext) (Entity, error) {
	return f(ctx, message, pc)
}

// FinderDefinition maps a message type to a way of finding the saga instance.
// A definition with a Custom finder is a custom lookup; otherwise it is a
// property lookup using Accessor and PropertyName.
type FinderDefinition struct {
	// MessageType is the message type name this definition applies to.
	MessageType string

	// PropertyName is the saga entity property the message value correlates with.
	PropertyName string

	// Accessor extracts the correlation value from the message.
	Accessor func(message interface{}) (interface{}, error)

	// Custom, when set, replaces the property lookup.
	Custom CustomFinder
}

// IsCustom reports whether the definition delegates to a custom finder.
func (f *FinderDefinition) IsCustom() bool {
	return f.Custom != nil
}

// Metadata describes a saga type. It is built once at startup and registered
// with a Registry; nothing about a saga is discovered at runtime.
type Metadata struct {
	// Name is the logical saga type name, stable across code moves.
	Name string

	// EntityType tags the entity on disk. Defaults to the Go type name of NewEntity().
	EntityType string

	// NewEntity creates an empty entity.
	NewEntity func() Entity

	// CorrelationProperty is the entity property used to correlate messages.
	CorrelationProperty string

	// StartedBy lists message types that may create a new instance.
	StartedBy []string

	// Finders lists how each handled message type is mapped to an instance.
	Finders []FinderDefinition

	// TimeoutTypes lists reminder message types the saga handles.
	TimeoutTypes []string
}

// Validate checks the metadata and fills in defaults.
func (m *Metadata) Validate() error {
	if m == nil {
		return NewConfigurationError("saga metadata is nil")
	}
	if strings.TrimSpace(m.Name) == "" {
		return NewConfigurationError("saga name is required")
	}
	if m.NewEntity == nil {
		return NewConfigurationError(fmt.Sprintf("saga '%s' has no entity factory", m.Name))
	}
	if m.EntityType == "" {
		m.EntityType = strings.TrimPrefix(fmt.Sprintf("%T", m.NewEntity()), "*")
	}

	seen := make(map[string]struct{}, len(m.Finders))
	for i := range m.Finders {
		f := &m.Finders[i]
		if f.MessageType == "" {
			return NewConfigurationError(fmt.Sprintf("saga '%s' has a finder without message type", m.Name))
		}
		if _, dup := seen[f.MessageType]; dup {
			return NewConfigurationError(fmt.Sprintf("saga '%s' maps message '%s' more than once", m.Name, f.MessageType))
		}
		seen[f.MessageType] = struct{}{}
		if !f.IsCustom() && (f.Accessor == nil || f.PropertyName == "") {
			return NewConfigurationError(fmt.Sprintf("saga '%s' property mapping for '%s' needs a property name and accessor", m.Name, f.MessageType))
		}
	}
	return nil
}

// IsMessageAllowedToStartTheSaga reports whether messageType may start the saga.
func (m *Metadata) IsMessageAllowedToStartTheSaga(messageType string) bool {
	for _, t := range m.StartedBy {
		if t == messageType {
			return true
		}
	}
	return false
}

// TryGetFinder returns the finder definition for messageType.
func (m *Metadata) TryGetFinder(messageType string) (*FinderDefinition, bool) {
	for i := range m.Finders {
		if m.Finders[i].MessageType == messageType {
			return &m.Finders[i], true
		}
	}
	return nil, false
}

// HandlesTimeout reports whether the saga handles reminders of timeoutType.
func (m *Metadata) HandlesTimeout(timeoutType string) bool {
	for _, t := range m.TimeoutTypes {
		if t == timeoutType {
			return true
		}
	}
	return false
}

// Registry holds the metadata of every known saga type.
type Registry struct {
	mu       sync.RWMutex
	byName   map[string]*Metadata
	byEntity map[string]*Metadata
}

// NewRegistry creates a registry holding the given sagas.
func NewRegistry(sagas ...*Metadata) (*Registry, error) {
	r := &Registry{
		byName:   make(map[string]*Metadata, len(sagas)),
		byEntity: make(map[string]*Metadata, len(sagas)),
	}
	for _, m := range sagas {
		if err := r.Register(m); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register validates and adds saga metadata.
func (r *Registry) Register(m *Metadata) error {
	if err := m.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[m.Name]; exists {
		return NewConfigurationError(fmt.Sprintf("saga '%s' is already registered", m.Name))
	}
	if other, exists := r.byEntity[m.EntityType]; exists {
		return NewConfigurationError(fmt.Sprintf("entity type '%s' is already used by saga '%s'", m.EntityType, other.Name))
	}
	r.byName[m.Name] = m
	r.byEntity[m.EntityType] = m
	return nil
}

// Find returns the metadata registered under name.
func (r *Registry) Find(name string) (*Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byName[name]
	return m, ok
}

// NewEntity creates an empty entity for the given entity type tag.
func (r *Registry) NewEntity(entityType string) (Entity, error) {
	r.mu.RLock()
	m, ok := r.byEntity[entityType]
	r.mu.RUnlock()
	if !ok {
		return nil, NewConfigurationError(fmt.Sprintf("no saga registered for entity type '%s'", entityType))
	}
	return m.NewEntity(), nil
}

// All returns every registered saga ordered by name.
func (r *Registry) All() []*Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Metadata, 0, len(r.byName))
	for _, m := range r.byName {
		result = append(result, m)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}
