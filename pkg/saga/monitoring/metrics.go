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

// Package monitoring provides Prometheus metrics and OpenTelemetry tracing for
// saga invocations and the saga store.
package monitoring

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// DefaultNamespace is the metric namespace used when none is given.
	DefaultNamespace = "sagakeeper"

	resultSuccess = "success"
	resultFailure = "failure"
)

// Metrics records saga invocation and storage metrics. It satisfies the
// metrics interface of the lifecycle coordinator and storage.Observer.
type Metrics struct {
	// InvocationsTotal counts invocations by saga type and final status
	InvocationsTotal *prometheus.CounterVec

	// InvocationErrorsTotal counts invocations that returned an error
	InvocationErrorsTotal *prometheus.CounterVec

	// InvocationDurationSeconds records how long an invocation took
	InvocationDurationSeconds *prometheus.HistogramVec

	// RemindersTotal counts reminders by saga type and result
	RemindersTotal *prometheus.CounterVec

	// StoreConflictsTotal counts instance file conflicts by saga type and
	// whether the single retry recovered
	StoreConflictsTotal *prometheus.CounterVec

	// SessionActionsTotal counts applied session actions by action and result
	SessionActionsTotal *prometheus.CounterVec
}

// NewMetrics creates the saga metrics and registers them with registerer.
//
// Parameters:
//   - namespace: The metric namespace. Empty selects DefaultNamespace.
//   - registerer: The Prometheus registerer. If nil, uses the default registerer.
//
// Returns:
//   - The metrics, or an error if a metric with the same name is already registered.
//
// Example:
//
//	registry := prometheus.NewRegistry()
//	metrics, err := monitoring.NewMetrics("", registry)
//	if err != nil {
//	    return err
//	}
//	coordinator, err := lifecycle.NewCoordinator(lifecycle.Options{Metrics: metrics, ...})
func NewMetrics(namespace string, registerer prometheus.Registerer) (*Metrics, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		InvocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "saga_invocations_total",
				Help:      "Total number of saga handler invocations by final status",
			},
			[]string{"saga_type", "status"},
		),
		InvocationErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "saga_invocation_errors_total",
				Help:      "Total number of saga handler invocations that failed",
			},
			[]string{"saga_type"},
		),
		InvocationDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "saga_invocation_duration_seconds",
				Help:      "Duration of saga handler invocations in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"saga_type"},
		),
		RemindersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "saga_reminders_total",
				Help:      "Total number of saga reminders by result",
			},
			[]string{"saga_type", "result"},
		),
		StoreConflictsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "saga_store_conflicts_total",
				Help:      "Total number of saga instance file conflicts",
			},
			[]string{"saga_type", "recovered"},
		),
		SessionActionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "saga_session_actions_total",
				Help:      "Total number of applied storage session actions",
			},
			[]string{"action", "result"},
		),
	}

	collectors := []prometheus.Collector{
		m.InvocationsTotal,
		m.InvocationErrorsTotal,
		m.InvocationDurationSeconds,
		m.RemindersTotal,
		m.StoreConflictsTotal,
		m.SessionActionsTotal,
	}
	for _, c := range collectors {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveInvocation records one saga invocation.
func (m *Metrics) ObserveInvocation(sagaType, status string, duration time.Duration, err error) {
	m.InvocationsTotal.WithLabelValues(sagaType, status).Inc()
	m.InvocationDurationSeconds.WithLabelValues(sagaType).Observe(duration.Seconds())
	if err != nil {
		m.InvocationErrorsTotal.WithLabelValues(sagaType).Inc()
	}
}

// ObserveReminder records a reminder result.
func (m *Metrics) ObserveReminder(sagaType, result string) {
	m.RemindersTotal.WithLabelValues(sagaType, result).Inc()
}

// ObserveConflict records an instance file conflict.
func (m *Metrics) ObserveConflict(sagaType string, recovered bool) {
	m.StoreConflictsTotal.WithLabelValues(sagaType, strconv.FormatBool(recovered)).Inc()
}

// ObserveAction records one applied session action.
func (m *Metrics) ObserveAction(action string, err error) {
	result := resultSuccess
	if err != nil {
		result = resultFailure
	}
	m.SessionActionsTotal.WithLabelValues(action, result).Inc()
}
