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

// Package scheduler defers saga reminders in Redis. Deferred messages are kept
// in a sorted set scored by due time, with a per-saga index so that every
// pending reminder of a completed saga can be canceled at once.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/innovationmech/sagakeeper/pkg/logger"
	"github.com/innovationmech/sagakeeper/pkg/saga"
)

// DefaultKeyPrefix prefixes every key written by the scheduler.
const DefaultKeyPrefix = "sagakeeper:"

var (
	// ErrNoDestination is returned when a message has no destination and is
	// not routed to this endpoint.
	ErrNoDestination = errors.New("deferred message has no destination")

	// ErrSchedulerClosed is returned after Close.
	ErrSchedulerClosed = errors.New("scheduler is closed")
)

// DeferredMessage is a message waiting for its delivery time.
type DeferredMessage struct {
	ID            string            `json:"id"`
	MessageType   string            `json:"message_type"`
	Destination   string            `json:"destination"`
	DeliverAt     time.Time         `json:"deliver_at"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	Body          json.RawMessage   `json:"body"`

	// Attempts counts failed deliveries.
	Attempts int `json:"attempts,omitempty"`
}

// SagaID returns the saga instance the message belongs to, if any.
func (m *DeferredMessage) SagaID() string {
	return m.Headers[saga.HeaderSagaID]
}

// Options configures a RedisScheduler.
type Options struct {
	// KeyPrefix defaults to DefaultKeyPrefix.
	KeyPrefix string

	// Endpoint is the destination of messages routed to this endpoint.
	Endpoint string

	// Logger defaults to the global logger.
	Logger *zap.Logger

	// Clock defaults to time.Now.
	Clock func() time.Time
}

// RedisScheduler implements saga.MessageSender and saga.DeferredCanceller on
// top of Redis.
type RedisScheduler struct {
	client    redis.UniversalClient
	keyPrefix string
	endpoint  string
	logger    *zap.Logger
	now       func() time.Time
	closed    atomic.Bool
}

var (
	_ saga.MessageSender     = (*RedisScheduler)(nil)
	_ saga.DeferredCanceller = (*RedisScheduler)(nil)
)

// NewRedisScheduler creates a scheduler using client.
func NewRedisScheduler(client redis.UniversalClient, opts Options) *RedisScheduler {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = DefaultKeyPrefix
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &RedisScheduler{
		client:    client,
		keyPrefix: opts.KeyPrefix,
		endpoint:  opts.Endpoint,
		logger:    logger.Named(opts.Logger, "scheduler"),
		now:       opts.Clock,
	}
}

// Dial connects to a standalone Redis server and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return client, nil
}

// Send defers message until options.DeliverAt, or for options.Delay when no
// absolute time is given.
func (s *RedisScheduler) Send(ctx context.Context, message interface{}, options saga.SendOptions) error {
	if s.closed.Load() {
		return ErrSchedulerClosed
	}

	destination := options.Destination
	if options.RouteToThisEndpoint {
		destination = s.endpoint
	}
	if destination == "" {
		return ErrNoDestination
	}

	deliverAt := options.DeliverAt
	if deliverAt.IsZero() {
		deliverAt = s.now().Add(options.Delay)
	}

	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to serialize deferred message: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return err
	}
	deferred := DeferredMessage{
		ID:            id.String(),
		MessageType:   options.MessageType,
		Destination:   destination,
		DeliverAt:     deliverAt.UTC(),
		CorrelationID: options.CorrelationID,
		Headers:       options.Headers,
		Body:          body,
	}
	if err := s.store(ctx, &deferred); err != nil {
		return err
	}

	s.logger.Debug("deferred message",
		zap.String("message_id", deferred.ID),
		zap.String("message_type", deferred.MessageType),
		zap.String("saga_id", deferred.SagaID()),
		zap.Time("deliver_at", deferred.DeliverAt))
	return nil
}

// Requeue defers a claimed message again until deliverAt.
func (s *RedisScheduler) Requeue(ctx context.Context, message DeferredMessage, deliverAt time.Time) error {
	if s.closed.Load() {
		return ErrSchedulerClosed
	}
	message.DeliverAt = deliverAt.UTC()
	return s.store(ctx, &message)
}

func (s *RedisScheduler) store(ctx context.Context, message *DeferredMessage) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to serialize deferred message: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.messageKey(message.ID), payload, 0)
		pipe.ZAdd(ctx, s.dueKey(), redis.Z{
			Score:  float64(message.DeliverAt.UnixMilli()),
			Member: message.ID,
		})
		if sagaID := message.SagaID(); sagaID != "" {
			pipe.SAdd(ctx, s.sagaKey(sagaID), message.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to defer message: %w", err)
	}
	return nil
}

// CancelDeferredMessages drops every pending message of the saga instance.
func (s *RedisScheduler) CancelDeferredMessages(ctx context.Context, sagaID string) error {
	if s.closed.Load() {
		return ErrSchedulerClosed
	}

	ids, err := s.client.SMembers(ctx, s.sagaKey(sagaID)).Result()
	if err != nil {
		return fmt.Errorf("failed to read deferred messages of saga %s: %w", sagaID, err)
	}
	if len(ids) == 0 {
		return nil
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		members := make([]interface{}, len(ids))
		keys := make([]string, 0, len(ids)+1)
		for i, id := range ids {
			members[i] = id
			keys = append(keys, s.messageKey(id))
		}
		keys = append(keys, s.sagaKey(sagaID))
		pipe.ZRem(ctx, s.dueKey(), members...)
		pipe.Del(ctx, keys...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to cancel deferred messages of saga %s: %w", sagaID, err)
	}

	s.logger.Debug("canceled deferred messages",
		zap.String("saga_id", sagaID),
		zap.Int("count", len(ids)))
	return nil
}

// Due claims up to limit messages whose delivery time has passed, oldest
// first. A message is claimed by exactly one caller.
func (s *RedisScheduler) Due(ctx context.Context, limit int64) ([]DeferredMessage, error) {
	if s.closed.Load() {
		return nil, ErrSchedulerClosed
	}

	ids, err := s.client.ZRangeByScore(ctx, s.dueKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(s.now().UnixMilli(), 10),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read due messages: %w", err)
	}

	messages := make([]DeferredMessage, 0, len(ids))
	for _, id := range ids {
		message, ok, err := s.claim(ctx, id)
		if err != nil {
			return messages, err
		}
		if ok {
			messages = append(messages, message)
		}
	}
	return messages, nil
}

func (s *RedisScheduler) claim(ctx context.Context, id string) (DeferredMessage, bool, error) {
	var message DeferredMessage

	removed, err := s.client.ZRem(ctx, s.dueKey(), id).Result()
	if err != nil {
		return message, false, fmt.Errorf("failed to claim message %s: %w", id, err)
	}
	if removed == 0 {
		return message, false, nil
	}

	payload, err := s.client.Get(ctx, s.messageKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return message, false, nil
	}
	if err != nil {
		return message, false, fmt.Errorf("failed to load message %s: %w", id, err)
	}
	if err := json.Unmarshal(payload, &message); err != nil {
		return message, false, fmt.Errorf("failed to decode message %s: %w", id, err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.messageKey(id))
		if sagaID := message.SagaID(); sagaID != "" {
			pipe.SRem(ctx, s.sagaKey(sagaID), id)
		}
		return nil
	})
	if err != nil {
		return message, false, fmt.Errorf("failed to release message %s: %w", id, err)
	}
	return message, true, nil
}

// Pending returns the number of messages not yet claimed.
func (s *RedisScheduler) Pending(ctx context.Context) (int64, error) {
	return s.client.ZCard(ctx, s.dueKey()).Result()
}

// Close marks the scheduler closed. The Redis client is owned by the caller.
func (s *RedisScheduler) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *RedisScheduler) dueKey() string {
	return s.keyPrefix + "deferred:due"
}

func (s *RedisScheduler) messageKey(id string) string {
	return s.keyPrefix + "deferred:msg:" + id
}

func (s *RedisScheduler) sagaKey(sagaID string) string {
	return s.keyPrefix + "deferred:saga:" + sagaID
}
