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
	"encoding/json"
	"fmt"

	"github.com/innovationmech/sagakeeper/pkg/saga"
)

// storedInstance is the on-disk envelope. The entity is kept as a nested JSON
// string so the envelope can be decoded before the entity type is known.
type storedInstance struct {
	ID           string         `json:"Id"`
	Type         string         `json:"Type"`
	EntityType   string         `json:"EntityType"`
	EntityAsJSON string         `json:"EntityAsJson"`
	Timeouts     []saga.Timeout `json:"Timeouts"`
}

func encodeInstance(instance *saga.Instance, registry *saga.Registry, pretty bool) ([]byte, error) {
	if instance.Entity == nil {
		return nil, saga.NewValidationError(fmt.Sprintf("saga instance '%s' has no entity", instance.ID))
	}
	metadata, ok := registry.Find(instance.Type)
	if !ok {
		return nil, saga.NewConfigurationError(fmt.Sprintf("saga type '%s' is not registered", instance.Type))
	}

	entity, err := json.Marshal(instance.Entity)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal saga entity: %w", err)
	}

	timeouts := instance.Timeouts
	if timeouts == nil {
		timeouts = []saga.Timeout{}
	}

	stored := storedInstance{
		ID:           instance.ID,
		Type:         instance.Type,
		EntityType:   metadata.EntityType,
		EntityAsJSON: string(entity),
		Timeouts:     timeouts,
	}
	if pretty {
		return json.MarshalIndent(stored, "", "  ")
	}
	return json.Marshal(stored)
}

func decodeInstance(data []byte, registry *saga.Registry) (*saga.Instance, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("data is empty")
	}

	var stored storedInstance
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal saga envelope: %w", err)
	}

	entity, err := registry.NewEntity(stored.EntityType)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(stored.EntityAsJSON), entity); err != nil {
		return nil, fmt.Errorf("failed to unmarshal saga entity: %w", err)
	}

	timeouts := stored.Timeouts
	if timeouts == nil {
		timeouts = []saga.Timeout{}
	}
	return &saga.Instance{
		ID:       stored.ID,
		Type:     stored.Type,
		Entity:   entity,
		Timeouts: timeouts,
	}, nil
}
