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

// Package lifecycle decides, for each message handled by a saga, whether it
// belongs to an existing instance, starts a new one or applies to none, runs
// the handler against the instance state and turns the result into deferred
// persistence and reminder scheduling.
//
// The per-invocation state machine is
//
//	Unresolved -> {New, Found, NotFound} -> {Completed, Updated}
//
// plus Skipped for invocations that do not apply to the handler. Timeouts
// requested by a handler that also completes the saga are discarded.
package lifecycle

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"go.uber.org/zap"

	"github.com/innovationmech/sagakeeper/pkg/logger"
	"github.com/innovationmech/sagakeeper/pkg/saga"
	"github.com/innovationmech/sagakeeper/pkg/saga/correlation"
	"github.com/innovationmech/sagakeeper/pkg/saga/monitoring"
)

// Metrics receives per-invocation measurements. It is satisfied by
// monitoring.Metrics.
type Metrics interface {
	ObserveInvocation(sagaType, status string, duration time.Duration, err error)
	ObserveReminder(sagaType, result string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveInvocation(string, string, time.Duration, error) {}
func (noopMetrics) ObserveReminder(string, string)                         {}

// Reminder results reported to Metrics.
const (
	ReminderScheduled = "scheduled"
	ReminderDiscarded = "discarded"
	ReminderStale     = "stale"
	ReminderOrphaned  = "orphaned"
)

// NotFoundHandler is called for ordinary messages that match no instance.
type NotFoundHandler func(ctx context.Context, inv *Invocation) error

// Options configures a Coordinator.
type Options struct {
	// Persister loads and stores instances. Required.
	Persister saga.Persister

	// Registry holds the metadata of every saga. Required.
	Registry *saga.Registry

	// Sender schedules reminders. Required once a saga requests timeouts.
	Sender saga.MessageSender

	// Canceller cancels pending reminders of completed sagas. Optional.
	Canceller saga.DeferredCanceller

	// NotFound is called for ordinary messages that match no instance. Optional.
	NotFound NotFoundHandler

	// LegacyVersionPrefix selects the protocol versions whose reminders are
	// recognized without the reminder flag. Empty disables the detection.
	LegacyVersionPrefix string

	// Logger defaults to the global logger.
	Logger *zap.Logger

	// Metrics defaults to a no-op recorder.
	Metrics Metrics

	// Tracer defaults to a disabled tracer.
	Tracer *monitoring.SagaTracer
}

// DefaultOptions returns options with the default legacy version prefix.
func DefaultOptions() Options {
	return Options{LegacyVersionPrefix: DefaultLegacyVersionPrefix}
}

// Coordinator runs saga handlers against their persisted state.
type Coordinator struct {
	persister    saga.Persister
	registry     *saga.Registry
	sender       saga.MessageSender
	canceller    saga.DeferredCanceller
	notFound     NotFoundHandler
	resolver     *correlation.Resolver
	legacyPrefix string
	timeoutsInDB bool
	logger       *zap.Logger
	metrics      Metrics
	tracer       *monitoring.SagaTracer
}

// NewCoordinator creates a coordinator.
func NewCoordinator(opts Options) (*Coordinator, error) {
	if opts.Persister == nil {
		return nil, saga.NewConfigurationError("coordinator requires a persister")
	}
	if opts.Registry == nil {
		return nil, saga.NewConfigurationError("coordinator requires a saga registry")
	}

	log := logger.Named(opts.Logger, "lifecycle")
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}
	if opts.Tracer == nil {
		opts.Tracer = monitoring.NewSagaTracer(nil)
	}

	return &Coordinator{
		persister:    opts.Persister,
		registry:     opts.Registry,
		sender:       opts.Sender,
		canceller:    opts.Canceller,
		notFound:     opts.NotFound,
		resolver:     correlation.NewResolver(opts.Persister, log),
		legacyPrefix: opts.LegacyVersionPrefix,
		timeoutsInDB: saga.SupportsTimeoutStorage(opts.Persister),
		logger:       log,
		metrics:      opts.Metrics,
		tracer:       opts.Tracer,
	}, nil
}

// Invoke dispatches inv to next with saga state attached and records the
// resulting persistence effects in the invocation session. Configuration
// defects are returned as errors; handler errors are returned unchanged and
// leave the session untouched.
func (c *Coordinator) Invoke(ctx context.Context, inv *Invocation, next NextFunc) (*Outcome, error) {
	if inv == nil {
		return nil, saga.NewValidationError("invocation is nil")
	}
	if next == nil {
		return nil, saga.NewValidationError("next handler is nil")
	}

	timeoutMessage := isTimeoutMessage(inv.Headers, c.legacyPrefix)
	if inv.Handler.IsTimeoutHandler && !timeoutMessage {
		return skipped("timeout handler received an ordinary message"), nil
	}
	if !inv.Handler.IsTimeoutHandler && timeoutMessage {
		return skipped("ordinary handler received a timeout message"), nil
	}

	removeSagaHeadersIfPublished(inv.Headers)

	if !inv.Handler.IsSaga() {
		return &Outcome{Status: StatusUnresolved, HandlerInvoked: true}, next(ctx, inv)
	}

	metadata, ok := c.registry.Find(inv.Handler.SagaType)
	if !ok {
		return nil, saga.NewConfigurationError(fmt.Sprintf("saga '%s' is not registered", inv.Handler.SagaType))
	}

	started := time.Now()
	ctx, span := c.tracer.StartInvocationSpan(ctx, metadata.Name, messageType(inv))
	defer span.End()

	outcome, err := c.invokeSaga(ctx, inv, metadata, timeoutMessage, next)

	status := "error"
	if err == nil {
		status = outcome.Status.String()
		c.tracer.RecordSuccess(ctx, status)
	} else {
		c.tracer.RecordFailure(ctx, err)
	}
	c.metrics.ObserveInvocation(metadata.Name, status, time.Since(started), err)
	return outcome, err
}

func (c *Coordinator) invokeSaga(ctx context.Context, inv *Invocation, metadata *saga.Metadata, timeoutMessage bool, next NextFunc) (*Outcome, error) {
	if c.targetsAnotherSaga(inv, metadata) {
		return skipped("message targets another saga type"), nil
	}

	if inv.Extensions == nil {
		inv.Extensions = saga.NewExtensions()
	}
	pc := &saga.PersisterContext{Metadata: metadata, Session: inv.Session, Extensions: inv.Extensions}

	instance, err := c.resolver.Resolve(ctx, correlation.Request{
		Message:          inv.Message,
		MessageHierarchy: inv.MessageHierarchy,
		Headers:          inv.Headers,
		PersisterContext: pc,
	})
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{Status: StatusFound, SagaFound: true}
	isNew := false

	if !instance.Found() {
		if isMessageAllowedToStartTheSaga(inv, metadata) {
			instance, err = c.newInstance(ctx, inv, metadata, pc)
			if err != nil {
				return nil, err
			}
			isNew = true
			outcome.Status = StatusNew
		} else {
			return c.handleNotFound(ctx, inv, metadata, timeoutMessage)
		}
	}
	outcome.SagaID = instance.ID
	c.tracer.RecordEvent(ctx, "saga.resolved", map[string]interface{}{
		"saga.id":     instance.ID,
		"saga.is_new": isNew,
	})

	state := saga.NewState(metadata, instance)
	inv.state = state
	inv.Extensions.Set(stateKey, state)

	var correlationBefore interface{}
	if !isNew && metadata.CorrelationProperty != "" {
		correlationBefore, _ = saga.ReadProperty(instance.Entity, metadata.CorrelationProperty)
	}

	if reason, skip := c.isStaleTimeout(inv, instance); skip {
		outcome.SkipReason = reason
		c.metrics.ObserveReminder(metadata.Name, ReminderStale)
		c.logger.Debug("skipping handler for stale timeout",
			zap.String("saga_type", metadata.Name),
			zap.String("saga_id", instance.ID),
			zap.String("timeout_id", inv.Headers[saga.HeaderTimeoutID]))
	} else {
		if err := next(ctx, inv); err != nil {
			return nil, err
		}
		outcome.HandlerInvoked = true
	}

	if state.Completed() {
		return c.complete(ctx, inv, state, pc, isNew, outcome)
	}
	return c.update(ctx, state, pc, isNew, correlationBefore, outcome)
}

func (c *Coordinator) handleNotFound(ctx context.Context, inv *Invocation, metadata *saga.Metadata, timeoutMessage bool) (*Outcome, error) {
	if timeoutMessage {
		c.metrics.ObserveReminder(metadata.Name, ReminderOrphaned)
		c.logger.Info("no saga found for timeout message, ignoring since the saga completed before the timeout fired",
			zap.String("saga_type", metadata.Name),
			zap.String("message_id", inv.MessageID))
		return &Outcome{Status: StatusNotFound, SagaFound: true}, nil
	}

	if _, hasID := inv.Headers[saga.HeaderSagaID]; !hasID {
		if _, ok := correlation.FindFinder(metadata, inv.MessageHierarchy); !ok {
			return nil, saga.NewConfigurationError(fmt.Sprintf(
				"message type '%s' is handled by saga '%s', but the saga has no property mapping or custom finder for it",
				messageType(inv), metadata.Name))
		}
	}

	outcome := &Outcome{Status: StatusNotFound}
	if c.notFound != nil {
		if err := c.notFound(ctx, inv); err != nil {
			return nil, err
		}
		outcome.HandlerInvoked = true
	}
	return outcome, nil
}

func (c *Coordinator) targetsAnotherSaga(inv *Invocation, metadata *saga.Metadata) bool {
	target, hasType := inv.Headers[saga.HeaderSagaType]
	sagaID, hasID := inv.Headers[saga.HeaderSagaID]
	if !hasType || !hasID {
		return false
	}

	targetMetadata, ok := c.registry.Find(target)
	if !ok {
		c.logger.Warn("saga headers name an unknown saga type, falling back to querying by id",
			zap.String("target_saga_type", target),
			zap.String("saga_type", metadata.Name),
			zap.String("saga_id", sagaID))
		return false
	}
	return targetMetadata.Name != metadata.Name
}

func (c *Coordinator) newInstance(ctx context.Context, inv *Invocation, metadata *saga.Metadata, pc *saga.PersisterContext) (*saga.Instance, error) {
	entity := metadata.NewEntity()

	var correlationValue interface{}
	if lookup, ok := saga.LookupValuesFrom(inv.Extensions).TryGet(metadata.EntityType); ok && lookup.PropertyValue != nil {
		if err := saga.SetProperty(entity, lookup.PropertyName, lookup.PropertyValue); err != nil {
			return nil, err
		}
		converted, err := saga.ReadProperty(entity, lookup.PropertyName)
		if err != nil {
			return nil, err
		}
		correlationValue = converted
	}
	if metadata.CorrelationProperty != "" && correlationValue == nil {
		return nil, saga.NewCorrelationPropertyMissingError(metadata.Name)
	}

	instance, err := c.persister.PrepareNewInstance(ctx, metadata.Name, correlationValue, pc)
	if err != nil {
		return nil, err
	}

	data := entity.SagaData()
	data.ID = instance.ID
	data.OriginalMessageID = inv.MessageID
	if replyTo, ok := inv.Headers[saga.HeaderReplyTo]; ok {
		data.Originator = replyTo
	}
	instance.Entity = entity

	c.logger.Debug("created new saga instance",
		zap.String("saga_type", metadata.Name),
		zap.String("saga_id", instance.ID))
	return instance, nil
}

func (c *Coordinator) isStaleTimeout(inv *Invocation, instance *saga.Instance) (string, bool) {
	if !c.timeoutsInDB {
		return "", false
	}
	timeoutID, ok := inv.Headers[saga.HeaderTimeoutID]
	if !ok {
		return "", false
	}
	timeout, found := instance.FindTimeout(timeoutID)
	switch {
	case !found:
		return "timeout is unknown to the saga instance", true
	case timeout.Canceled:
		return "timeout was canceled", true
	}
	return "", false
}

func (c *Coordinator) complete(ctx context.Context, inv *Invocation, state *saga.State, pc *saga.PersisterContext, isNew bool, outcome *Outcome) (*Outcome, error) {
	instance := state.Instance()
	metadata := state.Metadata()

	if discarded := len(state.Timeouts().Requested()); discarded > 0 {
		outcome.DiscardedTimeouts = discarded
		for i := 0; i < discarded; i++ {
			c.metrics.ObserveReminder(metadata.Name, ReminderDiscarded)
		}
		c.logger.Debug("discarding timeouts requested by a completing saga",
			zap.String("saga_type", metadata.Name),
			zap.String("saga_id", instance.ID),
			zap.Int("discarded", discarded))
	}

	if !isNew {
		if err := c.persister.Complete(ctx, instance, pc); err != nil {
			return nil, err
		}
	}

	if c.canceller != nil && instance.ID != "" {
		sagaID := instance.ID
		err := c.afterCommit(ctx, pc, func(ctx context.Context) error {
			if err := c.canceller.CancelDeferredMessages(ctx, sagaID); err != nil {
				return saga.NewSchedulingError("cancel", err).WithDetail("saga_id", sagaID)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	c.logger.Debug("saga has completed",
		zap.String("saga_type", metadata.Name),
		zap.String("saga_id", instance.ID),
		zap.String("message_id", inv.MessageID))

	outcome.Status = StatusCompleted
	return outcome, nil
}

func (c *Coordinator) update(ctx context.Context, state *saga.State, pc *saga.PersisterContext, isNew bool, correlationBefore interface{}, outcome *Outcome) (*Outcome, error) {
	instance := state.Instance()
	metadata := state.Metadata()

	if !isNew && metadata.CorrelationProperty != "" {
		after, err := saga.ReadProperty(instance.Entity, metadata.CorrelationProperty)
		if err != nil {
			return nil, err
		}
		if !reflect.DeepEqual(correlationBefore, after) {
			return nil, saga.NewCorrelationPropertyChangedError(metadata.Name, metadata.CorrelationProperty, correlationBefore, after)
		}
	}

	requested := state.Timeouts().Requested()
	if len(requested) > 0 && c.sender == nil {
		return nil, saga.NewConfigurationError(fmt.Sprintf("saga '%s' requested timeouts but no message sender is configured", metadata.Name))
	}

	sends := make([]saga.AfterCommitFunc, 0, len(requested))
	for _, req := range requested {
		options := saga.SendOptions{
			MessageType:         req.Type,
			RouteToThisEndpoint: true,
		}
		if req.IsAbsolute() {
			options.DeliverAt = req.At
		} else {
			options.Delay = req.Within
		}
		options.SetHeader(saga.HeaderSagaID, instance.ID)
		options.SetHeader(saga.HeaderTimeoutID, req.ID)
		options.SetHeader(saga.HeaderIsTimeout, flagTrue)
		options.SetHeader(saga.HeaderSagaType, metadata.Name)

		instance.Timeouts = append(instance.Timeouts, saga.Timeout{ID: req.ID, Type: req.Type})
		outcome.ScheduledTimeouts = append(outcome.ScheduledTimeouts, req.ID)

		sagaID, message := instance.ID, req.Message
		timeoutType := req.Type
		sends = append(sends, func(ctx context.Context) error {
			if err := c.sender.Send(ctx, message, options); err != nil {
				return saga.NewSchedulingError(timeoutType, err).WithDetail("saga_id", sagaID)
			}
			c.metrics.ObserveReminder(metadata.Name, ReminderScheduled)
			return nil
		})
	}

	var err error
	if isNew {
		err = c.persister.Save(ctx, instance, pc)
	} else {
		err = c.persister.Update(ctx, instance, pc)
	}
	if err != nil {
		return nil, err
	}

	for _, send := range sends {
		if err := c.afterCommit(ctx, pc, send); err != nil {
			return nil, err
		}
	}

	outcome.Status = StatusUpdated
	return outcome, nil
}

// afterCommit holds fn until the invocation's session has committed. Sessions
// that cannot hold work apply persistence effects immediately, so fn runs now.
func (c *Coordinator) afterCommit(ctx context.Context, pc *saga.PersisterContext, fn saga.AfterCommitFunc) error {
	if session, ok := pc.Session.(saga.DispatchingSession); ok {
		return session.AfterCommit(fn)
	}
	return fn(ctx)
}

func skipped(reason string) *Outcome {
	return &Outcome{Status: StatusSkipped, SkipReason: reason}
}

func messageType(inv *Invocation) string {
	if len(inv.MessageHierarchy) > 0 {
		return inv.MessageHierarchy[0]
	}
	return fmt.Sprintf("%T", inv.Message)
}
