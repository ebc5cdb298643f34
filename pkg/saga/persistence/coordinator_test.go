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

package persistence_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/innovationmech/sagakeeper/pkg/saga"
	"github.com/innovationmech/sagakeeper/pkg/saga/lifecycle"
	"github.com/innovationmech/sagakeeper/pkg/saga/persistence"
)

type refundData struct {
	saga.Data
	RefundID string `json:"RefundId"`
	Attempts int    `json:"Attempts"`
}

type requestRefund struct{ RefundID string }

func TestAdapter_DrivesCoordinator(t *testing.T) {
	registry, err := saga.NewRegistry(&saga.Metadata{
		Name:                "RefundSaga",
		NewEntity:           func() saga.Entity { return &refundData{} },
		CorrelationProperty: "RefundId",
		StartedBy:           []string{"RequestRefund"},
		Finders: []saga.FinderDefinition{{
			MessageType:  "RequestRefund",
			PropertyName: "RefundId",
			Accessor: func(message interface{}) (interface{}, error) {
				return message.(requestRefund).RefundID, nil
			},
		}},
	})
	require.NoError(t, err)

	entities := persistence.NewMemoryEntityPersister()
	opts := lifecycle.DefaultOptions()
	opts.Persister = persistence.NewAdapter(entities, nil, zap.NewNop())
	opts.Registry = registry
	opts.Logger = zap.NewNop()
	coordinator, err := lifecycle.NewCoordinator(opts)
	require.NoError(t, err)

	invoke := func() *lifecycle.Outcome {
		outcome, err := coordinator.Invoke(context.Background(), &lifecycle.Invocation{
			MessageID:        "m-1",
			Message:          requestRefund{RefundID: "R-9"},
			MessageHierarchy: []string{"RequestRefund"},
			Headers:          map[string]string{},
			Handler:          lifecycle.Handler{SagaType: "RefundSaga"},
		}, func(_ context.Context, inv *lifecycle.Invocation) error {
			data := inv.State().Entity().(*refundData)
			data.Attempts++
			if data.Attempts == 2 {
				inv.State().MarkAsComplete()
			}
			return nil
		})
		require.NoError(t, err)
		return outcome
	}

	first := invoke()
	assert.Equal(t, lifecycle.StatusUpdated, first.Status)
	assert.Equal(t, saga.DeterministicID("RefundSaga", "R-9"), first.SagaID)
	assert.Equal(t, 1, entities.Count())

	second := invoke()
	assert.Equal(t, lifecycle.StatusCompleted, second.Status)
	assert.Equal(t, first.SagaID, second.SagaID)
	assert.Equal(t, 0, entities.Count())
}
