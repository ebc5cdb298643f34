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
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/innovationmech/sagakeeper/pkg/saga/retry"
)

// DeliverFunc hands a due message to the transport.
type DeliverFunc func(ctx context.Context, message DeferredMessage) error

// PollerOptions configures a Poller.
type PollerOptions struct {
	// Interval between polls. Default: 1s.
	Interval time.Duration

	// BatchSize is the maximum number of messages claimed per poll. Default: 100.
	BatchSize int64

	// RetryDelay defers a message again after its first failed delivery.
	// Each further failure doubles the delay. Default: 5s.
	RetryDelay time.Duration

	// MaxRetryDelay caps the retry delay. Default: 5m.
	MaxRetryDelay time.Duration

	// Jitter shortens each retry delay by a random share of up to Jitter.
	// Default: 0.2. Negative disables it.
	Jitter float64

	// MaxAttempts drops a message after that many failed deliveries.
	// Default: 0, retry forever.
	MaxAttempts int

	// Backoff overrides the policy built from the fields above.
	Backoff retry.RetryPolicy
}

// Poller delivers due messages of a RedisScheduler.
type Poller struct {
	scheduler *RedisScheduler
	deliver   DeliverFunc
	options   PollerOptions
	backoff   retry.RetryPolicy
	logger    *zap.Logger
}

// NewPoller creates a poller delivering through deliver.
func NewPoller(scheduler *RedisScheduler, deliver DeliverFunc, options PollerOptions) *Poller {
	if options.Interval <= 0 {
		options.Interval = time.Second
	}
	if options.BatchSize <= 0 {
		options.BatchSize = 100
	}
	if options.RetryDelay <= 0 {
		options.RetryDelay = 5 * time.Second
	}
	if options.MaxRetryDelay < options.RetryDelay {
		options.MaxRetryDelay = 5 * time.Minute
		if options.MaxRetryDelay < options.RetryDelay {
			options.MaxRetryDelay = options.RetryDelay
		}
	}
	if options.Jitter == 0 {
		options.Jitter = 0.2
	}
	backoff := options.Backoff
	if backoff == nil {
		backoff = retry.NewExponentialBackoffPolicy(&retry.RetryConfig{
			MaxAttempts:  options.MaxAttempts,
			InitialDelay: options.RetryDelay,
			MaxDelay:     options.MaxRetryDelay,
		}, 2.0, options.Jitter)
	}
	return &Poller{
		scheduler: scheduler,
		deliver:   deliver,
		options:   options,
		backoff:   backoff,
		logger:    scheduler.logger.Named("poller"),
	}
}

// Poll claims one batch of due messages and delivers them. Messages whose
// delivery fails are deferred again with jittered exponential backoff until
// the retry policy gives up on them. It returns the number of messages
// delivered.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	messages, err := p.scheduler.Due(ctx, p.options.BatchSize)
	delivered := 0
	for _, message := range messages {
		if deliverErr := p.deliver(ctx, message); deliverErr != nil {
			message.Attempts++
			if !p.backoff.ShouldRetry(deliverErr, message.Attempts) {
				p.logger.Error("dropping deferred message",
					zap.String("message_id", message.ID),
					zap.String("message_type", message.MessageType),
					zap.String("saga_id", message.SagaID()),
					zap.Int("attempts", message.Attempts),
					zap.Error(deliverErr))
				continue
			}
			delay := p.backoff.GetRetryDelay(message.Attempts)
			p.logger.Warn("failed to deliver deferred message, retrying later",
				zap.String("message_id", message.ID),
				zap.String("message_type", message.MessageType),
				zap.String("saga_id", message.SagaID()),
				zap.Int("attempts", message.Attempts),
				zap.Duration("retry_in", delay),
				zap.Error(deliverErr))
			if requeueErr := p.scheduler.Requeue(ctx, message, p.scheduler.now().Add(delay)); requeueErr != nil {
				err = errors.Join(err, requeueErr)
			}
			continue
		}
		delivered++
	}
	return delivered, err
}

// Run polls every Interval until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.options.Interval)
	defer ticker.Stop()

	for {
		if _, err := p.Poll(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("failed to poll deferred messages", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
