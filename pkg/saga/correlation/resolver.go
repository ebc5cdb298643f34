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

// Package correlation maps an inbound message to the saga instance it
// belongs to.
package correlation

import (
	"context"

	"go.uber.org/zap"

	"github.com/innovationmech/sagakeeper/pkg/logger"
	"github.com/innovationmech/sagakeeper/pkg/saga"
)

// Request is the input of a resolution.
type Request struct {
	// Message is the inbound message.
	Message interface{}

	// MessageHierarchy lists the message type names, most specific first.
	MessageHierarchy []string

	// Headers are the inbound message headers.
	Headers map[string]string

	// PersisterContext carries the saga metadata, the session and the
	// invocation extensions.
	PersisterContext *saga.PersisterContext
}

func (r Request) metadata() *saga.Metadata {
	if r.PersisterContext == nil {
		return nil
	}
	return r.PersisterContext.Metadata
}

// Resolver loads the saga instance a message belongs to.
type Resolver struct {
	persister saga.Persister
	logger    *zap.Logger
	property  *propertyFinder
	custom    *customFinderAdapter
}

// NewResolver creates a resolver reading through persister. A nil logger
// selects the global logger.
func NewResolver(persister saga.Persister, log *zap.Logger) *Resolver {
	return &Resolver{
		persister: persister,
		logger:    logger.Named(log, "correlation"),
		property:  &propertyFinder{persister: persister},
		custom:    &customFinderAdapter{persister: persister},
	}
}

// Resolve returns the instance the message correlates with, or nil when
// there is none. A non-empty saga id header is used directly and bypasses the
// finders.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*saga.Instance, error) {
	metadata := req.metadata()
	if metadata == nil {
		return nil, saga.NewConfigurationError("resolution requires saga metadata")
	}

	if sagaID := req.Headers[saga.HeaderSagaID]; sagaID != "" {
		r.logger.Debug("resolving saga by id header",
			zap.String("saga_type", metadata.Name),
			zap.String("saga_id", sagaID))
		return r.persister.Get(ctx, metadata.Name, sagaID, req.PersisterContext)
	}

	def, ok := FindFinder(metadata, req.MessageHierarchy)
	if !ok {
		return nil, nil
	}

	r.logger.Debug("resolving saga with finder",
		zap.String("saga_type", metadata.Name),
		zap.String("message_type", def.MessageType),
		zap.Bool("custom", def.IsCustom()))

	if def.IsCustom() {
		return r.custom.find(ctx, req, def)
	}
	return r.property.find(ctx, req, def)
}

// FindFinder returns the finder definition of the most specific message type
// in hierarchy that the saga maps.
func FindFinder(metadata *saga.Metadata, hierarchy []string) (*saga.FinderDefinition, bool) {
	if metadata == nil {
		return nil, false
	}
	for _, messageType := range hierarchy {
		if def, ok := metadata.TryGetFinder(messageType); ok {
			return def, true
		}
	}
	return nil, false
}
