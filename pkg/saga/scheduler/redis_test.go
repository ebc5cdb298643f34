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

package scheduler

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/innovationmech/sagakeeper/pkg/saga"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type reminder struct {
	Reason string `json:"reason"`
}

func newTestScheduler(t *testing.T) (*RedisScheduler, *miniredis.Miniredis, *fakeClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := &fakeClock{now: time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)}
	s := NewRedisScheduler(client, Options{
		KeyPrefix: "test:",
		Endpoint:  "orders",
		Logger:    zap.NewNop(),
		Clock:     clock.Now,
	})
	return s, mr, clock
}

func reminderOptions(sagaID string, delay time.Duration) saga.SendOptions {
	options := saga.SendOptions{
		MessageType:         "OrderTimeout",
		RouteToThisEndpoint: true,
		Delay:               delay,
	}
	options.SetHeader(saga.HeaderSagaID, sagaID)
	options.SetHeader(saga.HeaderIsTimeout, "True")
	return options
}

func TestRedisScheduler_SendAndDue(t *testing.T) {
	ctx := context.Background()
	s, mr, clock := newTestScheduler(t)

	require.NoError(t, s.Send(ctx, reminder{Reason: "payment"}, reminderOptions("saga-1", time.Minute)))

	pending, err := s.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)
	assert.True(t, mr.Exists("test:deferred:saga:saga-1"))

	due, err := s.Due(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, due, "not due yet")

	clock.Advance(time.Minute)
	due, err = s.Due(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	message := due[0]
	assert.Equal(t, "OrderTimeout", message.MessageType)
	assert.Equal(t, "orders", message.Destination)
	assert.Equal(t, "saga-1", message.SagaID())
	assert.Equal(t, "True", message.Headers[saga.HeaderIsTimeout])
	assert.True(t, message.DeliverAt.Equal(clock.Now()))

	var body reminder
	require.NoError(t, json.Unmarshal(message.Body, &body))
	assert.Equal(t, "payment", body.Reason)

	again, err := s.Due(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, again, "a message is claimed once")
	assert.False(t, mr.Exists("test:deferred:msg:"+message.ID))
}

func TestRedisScheduler_DeliverAtWinsOverDelay(t *testing.T) {
	ctx := context.Background()
	s, _, clock := newTestScheduler(t)

	at := clock.Now().Add(time.Hour)
	options := reminderOptions("saga-1", time.Second)
	options.DeliverAt = at
	require.NoError(t, s.Send(ctx, reminder{}, options))

	clock.Advance(time.Minute)
	due, err := s.Due(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	clock.Advance(time.Hour)
	due, err = s.Due(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.True(t, due[0].DeliverAt.Equal(at))
}

func TestRedisScheduler_DueOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	s, _, clock := newTestScheduler(t)

	for i, delay := range []time.Duration{3 * time.Second, time.Second, 2 * time.Second} {
		options := reminderOptions("saga-order", delay)
		options.CorrelationID = string(rune('a' + i))
		require.NoError(t, s.Send(ctx, reminder{}, options))
	}

	clock.Advance(time.Minute)
	first, err := s.Due(ctx, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "b", first[0].CorrelationID)
	assert.Equal(t, "c", first[1].CorrelationID)

	rest, err := s.Due(ctx, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "a", rest[0].CorrelationID)
}

func TestRedisScheduler_CancelDeferredMessages(t *testing.T) {
	ctx := context.Background()
	s, mr, clock := newTestScheduler(t)

	require.NoError(t, s.Send(ctx, reminder{}, reminderOptions("saga-1", time.Second)))
	require.NoError(t, s.Send(ctx, reminder{}, reminderOptions("saga-1", time.Minute)))
	require.NoError(t, s.Send(ctx, reminder{}, reminderOptions("saga-2", time.Second)))

	require.NoError(t, s.CancelDeferredMessages(ctx, "saga-1"))
	require.NoError(t, s.CancelDeferredMessages(ctx, "saga-1"))
	require.NoError(t, s.CancelDeferredMessages(ctx, "unknown"))
	assert.False(t, mr.Exists("test:deferred:saga:saga-1"))

	pending, err := s.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)

	clock.Advance(time.Hour)
	due, err := s.Due(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "saga-2", due[0].SagaID())
}

func TestRedisScheduler_Errors(t *testing.T) {
	ctx := context.Background()
	s, mr, _ := newTestScheduler(t)

	err := s.Send(ctx, reminder{}, saga.SendOptions{MessageType: "Ping"})
	assert.ErrorIs(t, err, ErrNoDestination)

	require.NoError(t, s.Send(ctx, reminder{}, saga.SendOptions{MessageType: "Ping", Destination: "billing"}))

	err = s.Send(ctx, make(chan int), saga.SendOptions{Destination: "billing"})
	assert.Error(t, err)

	mr.SetError("server down")
	err = s.Send(ctx, reminder{}, reminderOptions("saga-1", time.Second))
	assert.Error(t, err)
	mr.SetError("")

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Send(ctx, reminder{}, reminderOptions("saga-1", 0)), ErrSchedulerClosed)
	assert.ErrorIs(t, s.CancelDeferredMessages(ctx, "saga-1"), ErrSchedulerClosed)
	_, err = s.Due(ctx, 1)
	assert.ErrorIs(t, err, ErrSchedulerClosed)
}

func TestDial(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := Dial(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	require.NoError(t, client.Close())

	addr := mr.Addr()
	mr.Close()
	_, err = Dial(context.Background(), addr, "", 0)
	assert.Error(t, err)
}

func TestPoller_DeliversAndRetries(t *testing.T) {
	ctx := context.Background()
	s, _, clock := newTestScheduler(t)

	require.NoError(t, s.Send(ctx, reminder{Reason: "ok"}, reminderOptions("saga-1", time.Second)))
	require.NoError(t, s.Send(ctx, reminder{Reason: "flaky"}, reminderOptions("saga-2", 2*time.Second)))

	var delivered []string
	fail := true
	poller := NewPoller(s, func(_ context.Context, message DeferredMessage) error {
		if message.SagaID() == "saga-2" && fail {
			fail = false
			return assert.AnError
		}
		delivered = append(delivered, message.SagaID())
		return nil
	}, PollerOptions{RetryDelay: time.Minute})

	clock.Advance(time.Minute)
	count, err := poller.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, []string{"saga-1"}, delivered)

	pending, err := s.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending, "failed delivery is deferred again")

	count, err = poller.Poll(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	clock.Advance(time.Minute)
	count, err = poller.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, []string{"saga-1", "saga-2"}, delivered)

	require.NoError(t, s.CancelDeferredMessages(ctx, "saga-2"))
}

func TestPoller_RunStopsWithContext(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	require.NoError(t, s.Send(context.Background(), reminder{}, reminderOptions("saga-1", 0)))

	ctx, cancel := context.WithCancel(context.Background())
	deliveries := make(chan DeferredMessage, 1)
	poller := NewPoller(s, func(_ context.Context, message DeferredMessage) error {
		deliveries <- message
		cancel()
		return nil
	}, PollerOptions{Interval: 10 * time.Millisecond})

	done := make(chan error, 1)
	go func() { done <- poller.Run(ctx) }()

	select {
	case message := <-deliveries:
		assert.Equal(t, "saga-1", message.SagaID())
	case <-time.After(5 * time.Second):
		t.Fatal("message was not delivered")
	}
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestPoller_RetryDelay(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	poller := NewPoller(s, nil, PollerOptions{RetryDelay: time.Second, MaxRetryDelay: 10 * time.Second, Jitter: -1})

	tests := []struct {
		attempts int
		expected time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{50, 10 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, poller.backoff.GetRetryDelay(tt.attempts), "attempt %d", tt.attempts)
	}

	defaults := NewPoller(s, nil, PollerOptions{})
	assert.Equal(t, 5*time.Second, defaults.options.RetryDelay)
	assert.Equal(t, 5*time.Minute, defaults.options.MaxRetryDelay)
	assert.Equal(t, 0.2, defaults.options.Jitter)
	assert.Equal(t, time.Second, defaults.options.Interval)
	assert.Equal(t, int64(100), defaults.options.BatchSize)
	assert.Zero(t, defaults.backoff.GetMaxAttempts())
}

func TestPoller_RetryDelayIsJitteredBelowCap(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	poller := NewPoller(s, nil, PollerOptions{RetryDelay: time.Second, MaxRetryDelay: 10 * time.Second, Jitter: 0.5})

	seen := make(map[time.Duration]struct{})
	for i := 0; i < 50; i++ {
		delay := poller.backoff.GetRetryDelay(8)
		assert.LessOrEqual(t, delay, 10*time.Second)
		assert.GreaterOrEqual(t, delay, 5*time.Second)
		seen[delay] = struct{}{}
	}
	assert.Greater(t, len(seen), 1, "requeued messages are spread out")
}

func TestPoller_DropsMessageAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	s, _, clock := newTestScheduler(t)
	require.NoError(t, s.Send(ctx, reminder{Reason: "broken"}, reminderOptions("saga-1", 0)))

	failures := 0
	poller := NewPoller(s, func(context.Context, DeferredMessage) error {
		failures++
		return assert.AnError
	}, PollerOptions{RetryDelay: time.Second, MaxAttempts: 2, Jitter: -1})

	_, err := poller.Poll(ctx)
	require.NoError(t, err)
	pending, err := s.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)

	clock.Advance(time.Second)
	_, err = poller.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, failures)

	pending, err = s.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending, "message is given up after two failed deliveries")
}
