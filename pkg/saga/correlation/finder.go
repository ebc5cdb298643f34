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

package correlation

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/innovationmech/sagakeeper/pkg/saga"
)

// propertyFinder looks an instance up by a message value mapped to an entity
// property.
type propertyFinder struct {
	persister saga.Persister
}

func (f *propertyFinder) find(ctx context.Context, req Request, def *saga.FinderDefinition) (*saga.Instance, error) {
	metadata := req.metadata()

	value, err := def.Accessor(req.Message)
	if err != nil {
		return nil, saga.WrapError(err, saga.ErrCodeConfigurationError,
			fmt.Sprintf("failed to read '%s' from message '%s'", def.PropertyName, def.MessageType),
			saga.ErrorTypeConfiguration, false)
	}

	if ext := req.PersisterContext.Extensions; ext != nil {
		saga.LookupValuesFrom(ext).Add(metadata.EntityType, def.PropertyName, value)
	}

	if value == nil {
		return nil, nil
	}

	if strings.EqualFold(def.PropertyName, "id") {
		return f.persister.Get(ctx, metadata.Name, fmt.Sprint(value), req.PersisterContext)
	}

	return f.persister.GetByCorrelationProperty(ctx, metadata.Name,
		saga.CorrelationProperty{Name: def.PropertyName, Value: value}, req.PersisterContext)
}

// customFinderAdapter runs a user-supplied finder and turns its entity into
// an instance.
type customFinderAdapter struct {
	persister saga.Persister
}

func (a *customFinderAdapter) find(ctx context.Context, req Request, def *saga.FinderDefinition) (*saga.Instance, error) {
	metadata := req.metadata()

	entity, err := def.Custom.FindBy(ctx, req.Message, req.PersisterContext)
	if errors.Is(err, saga.ErrSagaNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if entity == nil || isNilEntity(entity) {
		return nil, nil
	}

	id := entity.SagaData().ID
	if id != "" {
		// reload so the session holds the record and its timeouts
		instance, err := a.persister.Get(ctx, metadata.Name, id, req.PersisterContext)
		if err != nil {
			return nil, err
		}
		if instance.Found() {
			return instance, nil
		}
	}

	instance := saga.NewInstance(id, metadata.Name)
	instance.Entity = entity
	return instance, nil
}

func isNilEntity(entity saga.Entity) bool {
	v := reflect.ValueOf(entity)
	return v.Kind() == reflect.Ptr && v.IsNil()
}
