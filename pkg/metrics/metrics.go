// Copyright (c) 2025, NVIDIA CORPORATION.  All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exposes the bridge's Prometheus collectors.
//
// Collectors are registered on a caller-supplied Registerer so tests can use
// a fresh registry. All methods are safe on a nil *Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/NVIDIA/slurm-k8s-bridge/pkg/job"
)

const namespace = "sbridge"

// Gate verdict label values.
const (
	VerdictAccept   = "accept"
	VerdictDelegate = "delegate"
	VerdictReject   = "reject"
)

// Metrics holds the bridge's collectors.
type Metrics struct {
	dispatchAttempts     prometheus.Counter
	dispatchSuccess      prometheus.Counter
	dispatchFailures     *prometheus.CounterVec
	dispatchRetries      prometheus.Counter
	gateDecisions        *prometheus.CounterVec
	jobsTerminal         *prometheus.CounterVec
	jobsLost             prometheus.Counter
	submissionToDispatch prometheus.Histogram
	dispatchToRunning    prometheus.Histogram

	factory promauto.Factory
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		factory: f,
		dispatchAttempts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_attempts_total",
			Help:      "Total number of workload create attempts",
		}),
		dispatchSuccess: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_success_total",
			Help:      "Total number of jobs dispatched to the orchestrator",
		}),
		dispatchFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_failures_total",
			Help:      "Total number of jobs that failed to dispatch, by error category",
		}, []string{"category"}),
		dispatchRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_retries_total",
			Help:      "Total number of dispatch retries after transient errors",
		}),
		gateDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_decisions_total",
			Help:      "Total number of submission gate decisions, by verdict",
		}, []string{"verdict"}),
		jobsTerminal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_terminal_total",
			Help:      "Total number of delegated jobs reaching a terminal phase",
		}, []string{"phase"}),
		jobsLost: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_lost_total",
			Help:      "Total number of delegated jobs declared lost",
		}),
		submissionToDispatch: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "submission_to_dispatch_seconds",
			Help:      "Latency from gate acceptance to workload creation",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		dispatchToRunning: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_to_running_seconds",
			Help:      "Latency from workload creation to the first Running observation",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
}

// RegisterInFlight exposes fn as the count of non-terminal dispatch records.
// fn is only read at scrape time.
func (m *Metrics) RegisterInFlight(fn func() float64) {
	if m == nil {
		return
	}
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "dispatch_records_inflight",
		Help:      "Current number of dispatch records in a non-terminal phase",
	}, fn)
}

// DispatchAttempt counts one create attempt.
func (m *Metrics) DispatchAttempt() {
	if m == nil {
		return
	}
	m.dispatchAttempts.Inc()
}

// DispatchRetry counts one retry after a transient error.
func (m *Metrics) DispatchRetry() {
	if m == nil {
		return
	}
	m.dispatchRetries.Inc()
}

// DispatchSucceeded counts a successful dispatch and observes its latency.
func (m *Metrics) DispatchSucceeded(submitted, dispatched time.Time) {
	if m == nil {
		return
	}
	m.dispatchSuccess.Inc()
	if !submitted.IsZero() && dispatched.After(submitted) {
		m.submissionToDispatch.Observe(dispatched.Sub(submitted).Seconds())
	}
}

// DispatchFailed counts a job that could not be dispatched.
func (m *Metrics) DispatchFailed(category string) {
	if m == nil {
		return
	}
	if category == "" {
		category = "unknown"
	}
	m.dispatchFailures.WithLabelValues(category).Inc()
}

// GateDecision counts one gate verdict.
func (m *Metrics) GateDecision(verdict string) {
	if m == nil {
		return
	}
	m.gateDecisions.WithLabelValues(verdict).Inc()
}

// Running observes the dispatch-to-running latency.
func (m *Metrics) Running(dispatched, running time.Time) {
	if m == nil || dispatched.IsZero() || running.Before(dispatched) {
		return
	}
	m.dispatchToRunning.Observe(running.Sub(dispatched).Seconds())
}

// Terminal counts a job reaching phase p.
func (m *Metrics) Terminal(p job.Phase) {
	if m == nil {
		return
	}
	m.jobsTerminal.WithLabelValues(string(p)).Inc()
	if p == job.PhaseLost {
		m.jobsLost.Inc()
	}
}
