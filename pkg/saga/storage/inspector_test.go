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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/innovationmech/sagakeeper/pkg/saga"
)

func TestInspector(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	p, err := Open(root, newTestRegistry(t), DefaultOptions())
	require.NoError(t, err)

	instance := newOrderInstance("order-1", 7,
		saga.Timeout{ID: "t-1", Type: "OrderTimeout"},
		saga.Timeout{ID: "t-2", Type: "OrderTimeout", Canceled: true})
	require.NoError(t, WithSession(ctx, p, func(session *Session) error {
		return session.Save(instance)
	}))

	inspector := NewInspector(root)

	dirs, err := inspector.Directories()
	require.NoError(t, err)
	assert.Equal(t, []string{"OrderSaga", "ShippingSaga"}, dirs)

	ids, err := inspector.List("OrderSaga")
	require.NoError(t, err)
	assert.Equal(t, []string{"order-1"}, ids)

	record, err := inspector.Read("OrderSaga", "order-1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "order-1", record.ID)
	assert.Equal(t, "OrderSagaData", record.EntityType)
	assert.Equal(t, float64(7), record.Entity["OrderId"])
	assert.Equal(t, 1, record.PendingTimeouts())
	assert.Equal(t, filepath.Join(root, "OrderSaga", "order-1.json"), record.Path)

	missing, err := inspector.Read("OrderSaga", "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	removed, err := inspector.Purge("OrderSaga", "order-1")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = inspector.Purge("OrderSaga", "order-1")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestInspector_Errors(t *testing.T) {
	root := t.TempDir()
	inspector := NewInspector(root)

	_, err := NewInspector(filepath.Join(root, "absent")).Directories()
	assert.True(t, saga.HasCode(err, saga.ErrCodeStorageError))

	require.NoError(t, os.MkdirAll(filepath.Join(root, "OrderSaga"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "OrderSaga", "bad.json"), []byte("{"), 0o644))
	_, err = inspector.Read("OrderSaga", "bad")
	assert.Error(t, err)
}
