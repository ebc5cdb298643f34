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

package endpoint

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/innovationmech/sagakeeper/pkg/config"
	"github.com/innovationmech/sagakeeper/pkg/saga"
	"github.com/innovationmech/sagakeeper/pkg/saga/lifecycle"
	"github.com/innovationmech/sagakeeper/pkg/saga/scheduler"
)

type paymentData struct {
	saga.Data
	PaymentID string `json:"PaymentId"`
	Captured  bool   `json:"Captured"`
}

type authorizePayment struct{ PaymentID string }
type capturePayment struct{ PaymentID string }
type paymentExpired struct{}

func paymentRegistry(t *testing.T) *saga.Registry {
	t.Helper()
	accessor := func(message interface{}) (interface{}, error) {
		switch m := message.(type) {
		case authorizePayment:
			return m.PaymentID, nil
		case capturePayment:
			return m.PaymentID, nil
		}
		return nil, nil
	}
	registry, err := saga.NewRegistry(&saga.Metadata{
		Name:                "PaymentSaga",
		NewEntity:           func() saga.Entity { return &paymentData{} },
		CorrelationProperty: "PaymentId",
		StartedBy:           []string{"AuthorizePayment"},
		Finders: []saga.FinderDefinition{
			{MessageType: "AuthorizePayment", PropertyName: "PaymentId", Accessor: accessor},
			{MessageType: "CapturePayment", PropertyName: "PaymentId", Accessor: accessor},
		},
		TimeoutTypes: []string{"PaymentExpired"},
	})
	require.NoError(t, err)
	return registry
}

func testSettings(t *testing.T) *config.Settings {
	t.Helper()
	settings, err := config.Defaults()
	require.NoError(t, err)
	settings.Storage.Root = t.TempDir()
	settings.Storage.ConflictRetryDelay = 5 * time.Millisecond
	settings.Endpoint.Name = "payments"
	return settings
}

func authorize(id string) *lifecycle.Invocation {
	return &lifecycle.Invocation{
		MessageID:        "auth-" + id,
		Message:          authorizePayment{PaymentID: id},
		MessageHierarchy: []string{"AuthorizePayment"},
		Headers:          map[string]string{},
		Handler:          lifecycle.Handler{SagaType: "PaymentSaga"},
	}
}

func capture(id string) *lifecycle.Invocation {
	return &lifecycle.Invocation{
		MessageID:        "capture-" + id,
		Message:          capturePayment{PaymentID: id},
		MessageHierarchy: []string{"CapturePayment"},
		Headers:          map[string]string{},
		Handler:          lifecycle.Handler{SagaType: "PaymentSaga"},
	}
}

func TestEndpoint_ReminderRoundTrip(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	settings := testSettings(t)
	settings.Scheduler.Redis.Addr = mr.Addr()
	registerer := prometheus.NewRegistry()

	e, err := New(ctx, Options{
		Settings:   settings,
		Registry:   paymentRegistry(t),
		Registerer: registerer,
		Logger:     zap.NewNop(),
	})
	require.NoError(t, err)
	defer e.Close()
	require.NotNil(t, e.Scheduler())
	require.NotNil(t, e.Metrics())

	started, err := e.Handle(ctx, authorize("P-1"), func(_ context.Context, inv *lifecycle.Invocation) error {
		return inv.State().RequestTimeoutWithin("PaymentExpired", time.Millisecond, paymentExpired{})
	})
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusUpdated, started.Status)

	ids, err := e.Persister().Store().Manifests().List("PaymentSaga")
	require.NoError(t, err)
	assert.Equal(t, []string{started.SagaID}, ids)

	var reminders []scheduler.DeferredMessage
	poller, err := e.Poller(func(_ context.Context, message scheduler.DeferredMessage) error {
		reminders = append(reminders, message)
		return nil
	}, scheduler.PollerOptions{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := poller.Poll(ctx)
		return err == nil && len(reminders) == 1
	}, 5*time.Second, 10*time.Millisecond)

	reminder := reminders[0]
	assert.Equal(t, "payments", reminder.Destination)
	assert.Equal(t, "PaymentExpired", reminder.MessageType)

	timeout := &lifecycle.Invocation{
		MessageID:        reminder.ID,
		Message:          paymentExpired{},
		MessageHierarchy: []string{reminder.MessageType},
		Headers:          reminder.Headers,
		Handler:          lifecycle.Handler{SagaType: "PaymentSaga", IsTimeoutHandler: true},
	}
	var body paymentExpired
	require.NoError(t, json.Unmarshal(reminder.Body, &body))

	expired, err := e.Handle(ctx, timeout, func(_ context.Context, inv *lifecycle.Invocation) error {
		inv.State().MarkAsComplete()
		return nil
	})
	require.NoError(t, err)
	assert.True(t, expired.HandlerInvoked)
	assert.Equal(t, lifecycle.StatusCompleted, expired.Status)

	ids, err = e.Persister().Store().Manifests().List("PaymentSaga")
	require.NoError(t, err)
	assert.Empty(t, ids)

	metrics := e.Metrics()
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.InvocationsTotal.WithLabelValues("PaymentSaga", "updated")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.InvocationsTotal.WithLabelValues("PaymentSaga", "completed")))
}

func TestEndpoint_CompletionCancelsReminders(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	e, err := New(ctx, Options{
		Settings:    testSettings(t),
		Registry:    paymentRegistry(t),
		RedisClient: client,
		Logger:      zap.NewNop(),
	})
	require.NoError(t, err)
	defer e.Close()
	assert.Nil(t, e.Metrics())

	_, err = e.Handle(ctx, authorize("P-2"), func(_ context.Context, inv *lifecycle.Invocation) error {
		return inv.State().RequestTimeoutWithin("PaymentExpired", time.Hour, paymentExpired{})
	})
	require.NoError(t, err)

	pending, err := e.Scheduler().Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)

	outcome, err := e.Handle(ctx, capture("P-2"), func(_ context.Context, inv *lifecycle.Invocation) error {
		inv.State().Entity().(*paymentData).Captured = true
		inv.State().MarkAsComplete()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusCompleted, outcome.Status)

	pending, err = e.Scheduler().Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)

	require.NoError(t, e.Close())
	require.NoError(t, client.Ping(ctx).Err(), "a caller supplied client stays open")
}

func TestEndpoint_WithoutScheduler(t *testing.T) {
	ctx := context.Background()
	e, err := New(ctx, Options{
		Settings: testSettings(t),
		Registry: paymentRegistry(t),
		Logger:   zap.NewNop(),
	})
	require.NoError(t, err)
	defer e.Close()

	assert.Nil(t, e.Scheduler())
	_, err = e.Poller(nil, scheduler.PollerOptions{})
	assert.True(t, saga.IsConfigurationError(err))

	_, err = e.Handle(ctx, authorize("P-3"), func(_ context.Context, inv *lifecycle.Invocation) error {
		return inv.State().RequestTimeoutWithin("PaymentExpired", time.Hour, paymentExpired{})
	})
	assert.True(t, saga.IsConfigurationError(err))

	ids, err := e.Persister().Store().Manifests().List("PaymentSaga")
	require.NoError(t, err)
	assert.Empty(t, ids, "nothing is committed when the invocation fails")
}

func TestNew_Validation(t *testing.T) {
	ctx := context.Background()

	_, err := New(ctx, Options{Registry: paymentRegistry(t)})
	assert.True(t, saga.IsConfigurationError(err))

	_, err = New(ctx, Options{Settings: testSettings(t)})
	assert.True(t, saga.IsConfigurationError(err))

	registerer := prometheus.NewRegistry()
	first, err := New(ctx, Options{Settings: testSettings(t), Registry: paymentRegistry(t), Registerer: registerer, Logger: zap.NewNop()})
	require.NoError(t, err)
	defer first.Close()
	_, err = New(ctx, Options{Settings: testSettings(t), Registry: paymentRegistry(t), Registerer: registerer, Logger: zap.NewNop()})
	assert.Error(t, err, "metrics cannot be registered twice")

	settings := testSettings(t)
	mr := miniredis.RunT(t)
	settings.Scheduler.Redis.Addr = mr.Addr()
	mr.Close()
	_, err = New(ctx, Options{Settings: settings, Registry: paymentRegistry(t), Logger: zap.NewNop()})
	assert.Error(t, err)
}
