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

// Package endpoint assembles the saga core for one hosting endpoint: the file
// persister, the lifecycle coordinator, the Redis reminder scheduler and
// their metrics and tracing, configured from config.Settings.
package endpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/innovationmech/sagakeeper/pkg/config"
	"github.com/innovationmech/sagakeeper/pkg/logger"
	"github.com/innovationmech/sagakeeper/pkg/saga"
	"github.com/innovationmech/sagakeeper/pkg/saga/lifecycle"
	"github.com/innovationmech/sagakeeper/pkg/saga/monitoring"
	"github.com/innovationmech/sagakeeper/pkg/saga/scheduler"
	"github.com/innovationmech/sagakeeper/pkg/saga/storage"
)

// Options configures an Endpoint.
type Options struct {
	// Settings are required.
	Settings *config.Settings

	// Registry holds the sagas hosted by the endpoint. Required.
	Registry *saga.Registry

	// Registerer receives the saga metrics. Nil disables metrics.
	Registerer prometheus.Registerer

	// TracerProvider creates invocation spans. Nil disables tracing.
	TracerProvider oteltrace.TracerProvider

	// RedisClient replaces the client dialed from Settings.Scheduler.Redis.
	// The endpoint does not close a client it did not dial.
	RedisClient redis.UniversalClient

	// NotFound is called for messages that match no saga instance.
	NotFound lifecycle.NotFoundHandler

	// Logger defaults to the global logger.
	Logger *zap.Logger
}

// Endpoint runs saga handlers, each message in its own unit of work.
type Endpoint struct {
	persister   *storage.Persister
	coordinator *lifecycle.Coordinator
	scheduler   *scheduler.RedisScheduler
	metrics     *monitoring.Metrics
	ownedClient *redis.Client
	logger      *zap.Logger
}

// New creates an Endpoint. Without a Redis address or client, sagas that
// request timeouts fail with a configuration error.
func New(ctx context.Context, opts Options) (*Endpoint, error) {
	if opts.Settings == nil {
		return nil, saga.NewConfigurationError("endpoint requires settings")
	}
	if opts.Registry == nil {
		return nil, saga.NewConfigurationError("endpoint requires a saga registry")
	}
	settings := opts.Settings
	log := logger.Named(opts.Logger, "endpoint")

	e := &Endpoint{logger: log}

	var observer storage.Observer
	var recorder lifecycle.Metrics
	if opts.Registerer != nil {
		metrics, err := monitoring.NewMetrics(monitoring.DefaultNamespace, opts.Registerer)
		if err != nil {
			return nil, err
		}
		e.metrics = metrics
		observer = metrics
		recorder = metrics
	}

	persister, err := storage.Open(settings.Storage.Root, opts.Registry, storage.Options{
		ConflictRetryDelay: settings.Storage.ConflictRetryDelay,
		PrettyPrint:        settings.Storage.PrettyPrint,
		Logger:             log.Named("storage"),
		Observer:           observer,
	})
	if err != nil {
		return nil, err
	}
	e.persister = persister

	client := opts.RedisClient
	if client == nil && settings.Scheduler.Redis.Enabled() {
		redisSettings := settings.Scheduler.Redis
		dialed, err := scheduler.Dial(ctx, redisSettings.Addr, redisSettings.Password, redisSettings.DB)
		if err != nil {
			return nil, err
		}
		e.ownedClient = dialed
		client = dialed
	}

	coordinatorOptions := lifecycle.DefaultOptions()
	coordinatorOptions.Persister = persister
	coordinatorOptions.Registry = opts.Registry
	coordinatorOptions.NotFound = opts.NotFound
	coordinatorOptions.LegacyVersionPrefix = settings.Protocol.LegacyVersionPrefix
	coordinatorOptions.Logger = log.Named("lifecycle")
	coordinatorOptions.Metrics = recorder
	coordinatorOptions.Tracer = monitoring.NewSagaTracer(opts.TracerProvider)

	if client != nil {
		e.scheduler = scheduler.NewRedisScheduler(client, scheduler.Options{
			KeyPrefix: settings.Scheduler.Redis.KeyPrefix,
			Endpoint:  settings.Endpoint.Name,
			Logger:    log.Named("scheduler"),
		})
		coordinatorOptions.Sender = e.scheduler
		coordinatorOptions.Canceller = e.scheduler
	}

	coordinator, err := lifecycle.NewCoordinator(coordinatorOptions)
	if err != nil {
		_ = e.Close()
		return nil, err
	}
	e.coordinator = coordinator

	log.Info("saga endpoint ready",
		zap.String("endpoint", settings.Endpoint.Name),
		zap.String("storage_root", settings.Storage.Root),
		zap.Int("sagas", len(opts.Registry.All())),
		zap.Bool("scheduler", e.scheduler != nil))
	return e, nil
}

// Handle processes one message. The effects of next are committed only when
// every step succeeds; the instance files the message touched are released in
// every case. Reminders are scheduled or cancelled only once the commit has
// succeeded.
func (e *Endpoint) Handle(ctx context.Context, inv *lifecycle.Invocation, next lifecycle.NextFunc) (*lifecycle.Outcome, error) {
	var outcome *lifecycle.Outcome
	err := storage.WithSession(ctx, e.persister, func(session *storage.Session) error {
		inv.Session = session
		var err error
		outcome, err = e.coordinator.Invoke(ctx, inv, next)
		return err
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// Poller returns a poller delivering due reminders through deliver.
func (e *Endpoint) Poller(deliver scheduler.DeliverFunc, options scheduler.PollerOptions) (*scheduler.Poller, error) {
	if e.scheduler == nil {
		return nil, saga.NewConfigurationError("no reminder scheduler is configured")
	}
	return scheduler.NewPoller(e.scheduler, deliver, options), nil
}

// Persister returns the file persister.
func (e *Endpoint) Persister() *storage.Persister {
	return e.persister
}

// Scheduler returns the reminder scheduler, or nil when none is configured.
func (e *Endpoint) Scheduler() *scheduler.RedisScheduler {
	return e.scheduler
}

// Metrics returns the saga metrics, or nil when metrics are disabled.
func (e *Endpoint) Metrics() *monitoring.Metrics {
	return e.metrics
}

// Close stops the scheduler and closes a Redis client dialed by New.
func (e *Endpoint) Close() error {
	var errs []error
	if e.scheduler != nil {
		errs = append(errs, e.scheduler.Close())
	}
	if e.ownedClient != nil {
		if err := e.ownedClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis client: %w", err))
		}
	}
	return errors.Join(errs...)
}
