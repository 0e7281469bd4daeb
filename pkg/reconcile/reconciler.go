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

package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/NVIDIA/slurm-k8s-bridge/pkg/accounting"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/defaults"
	apperrors "github.com/NVIDIA/slurm-k8s-bridge/pkg/errors"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/job"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/metrics"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/store"
)

const trackBuffer = 1024

// StatusSource streams observations of a workload object. The channel is
// closed when the source stops, at the latest when ctx is done.
type StatusSource interface {
	Subscribe(ctx context.Context, ref job.ObjectRef) (<-chan job.Observation, error)
}

// Requeuer accepts records that need another dispatch attempt.
type Requeuer interface {
	Offer(id job.Identity) error
}

// Config holds the reconciler intervals. Zero values use pkg/defaults.
type Config struct {
	StalenessTimeout time.Duration
	SweepInterval    time.Duration
	RetentionWindow  time.Duration
}

func (c *Config) applyDefaults() {
	if c.StalenessTimeout <= 0 {
		c.StalenessTimeout = defaults.StalenessTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaults.SweepInterval
	}
	if c.RetentionWindow <= 0 {
		c.RetentionWindow = defaults.RecordRetention
	}
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithClock sets the clock used for staleness, retention and the sweep ticker.
func WithClock(c clock.WithTicker) Option {
	return func(r *Reconciler) { r.clock = c }
}

// WithMetrics records phase metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// WithAccountant sets where terminal outcomes are reported.
func WithAccountant(a accounting.Accountant) Option {
	return func(r *Reconciler) { r.accountant = a }
}

// WithRequeuer sets where undispatched records are sent on resume.
func WithRequeuer(q Requeuer) Option {
	return func(r *Reconciler) { r.requeuer = q }
}

// OnRemoved registers a callback run after a record leaves the store.
func OnRemoved(fn func(id job.Identity)) Option {
	return func(r *Reconciler) { r.onRemoved = fn }
}

// Reconciler folds workload status into dispatch records.
type Reconciler struct {
	source     StatusSource
	store      store.Store
	cfg        Config
	clock      clock.WithTicker
	metrics    *metrics.Metrics
	accountant accounting.Accountant
	requeuer   Requeuer
	onRemoved  func(id job.Identity)

	track chan job.Identity

	mu   sync.Mutex
	subs map[job.Identity]*subscription
	wg   sync.WaitGroup
}

type subscription struct {
	cancel context.CancelFunc
}

// New creates a Reconciler. Call Run to start it.
func New(source StatusSource, st store.Store, cfg Config, opts ...Option) *Reconciler {
	cfg.applyDefaults()
	r := &Reconciler{
		source: source,
		store:  st,
		cfg:    cfg,
		clock:  clock.RealClock{},
		track:  make(chan job.Identity, trackBuffer),
		subs:   make(map[job.Identity]*subscription),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Track starts tracking a dispatched record. It never blocks; a record that
// does not fit the buffer is picked up by the next sweep.
func (r *Reconciler) Track(rec *job.DispatchRecord) {
	select {
	case r.track <- rec.Identity:
	default:
		slog.Debug("track buffer full, deferring to sweep", "identity", rec.Identity.String())
	}
}

// Tracking returns the number of active subscriptions.
func (r *Reconciler) Tracking() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Run resumes stored records and reconciles until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	slog.Info("reconciler started",
		"staleness", r.cfg.StalenessTimeout, "sweep", r.cfg.SweepInterval, "retention", r.cfg.RetentionWindow)

	defer func() {
		r.mu.Lock()
		for _, s := range r.subs {
			s.cancel()
		}
		r.mu.Unlock()
		r.wg.Wait()
		slog.Info("reconciler stopped")
	}()

	if err := r.resume(ctx); err != nil {
		return err
	}

	ticker := r.clock.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case id := <-r.track:
			rec, err := r.store.Get(id)
			if err != nil {
				slog.Warn("cannot track record", "identity", id.String(), "error", err)
				continue
			}
			if rec.IsDispatched() && !rec.Phase.IsTerminal() {
				r.subscribe(ctx, rec)
			}
		case <-ticker.C():
			r.Sweep(ctx)
		}
	}
}

// resume picks up every record left by a previous run.
func (r *Reconciler) resume(ctx context.Context) error {
	recs, err := r.store.List()
	if err != nil {
		return fmt.Errorf("failed to list dispatch records: %w", err)
	}

	now := r.clock.Now()
	var tracked, requeued int
	for _, rec := range recs {
		switch {
		case rec.Phase.IsTerminal():
			r.report(ctx, rec.Identity)

		case rec.IsDispatched():
			// Staleness restarts from now; the previous run's last
			// observation says nothing about the time this process was down.
			updated, err := r.store.Update(rec.Identity, func(cur *job.DispatchRecord) error {
				cur.LastObservedAt = now
				return nil
			})
			if err != nil {
				slog.Warn("failed to resume record", "identity", rec.Identity.String(), "error", err)
				continue
			}
			r.subscribe(ctx, updated)
			tracked++

		default:
			if r.requeuer == nil {
				continue
			}
			_, err := r.store.Update(rec.Identity, func(cur *job.DispatchRecord) error {
				if !cur.SetPhase(job.PhasePending, now) {
					return store.ErrUnchanged
				}
				return nil
			})
			if err != nil && !errors.Is(err, store.ErrUnchanged) {
				slog.Warn("failed to reset record", "identity", rec.Identity.String(), "error", err)
				continue
			}
			if err := r.requeuer.Offer(rec.Identity); err != nil {
				slog.Warn("failed to requeue record", "identity", rec.Identity.String(), "error", err)
				continue
			}
			requeued++
		}
	}

	if tracked > 0 || requeued > 0 {
		slog.Info("resumed dispatch records", "tracked", tracked, "requeued", requeued)
	}
	return nil
}

func (r *Reconciler) subscribe(ctx context.Context, rec *job.DispatchRecord) {
	r.mu.Lock()
	if _, ok := r.subs[rec.Identity]; ok {
		r.mu.Unlock()
		return
	}
	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{cancel: cancel}
	r.subs[rec.Identity] = sub
	r.mu.Unlock()

	ch, err := r.source.Subscribe(subCtx, rec.Object)
	if err != nil {
		slog.Warn("failed to subscribe to workload status", "identity", rec.Identity.String(),
			"object", rec.Object.String(), "error", err)
		r.unsubscribe(rec.Identity, sub)
		return
	}

	slog.Debug("tracking workload", "identity", rec.Identity.String(), "object", rec.Object.String())
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.unsubscribe(rec.Identity, sub)
		for obs := range ch {
			if done := r.Apply(subCtx, rec.Identity, obs); done {
				return
			}
		}
	}()
}

func (r *Reconciler) unsubscribe(id job.Identity, sub *subscription) {
	sub.cancel()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.subs[id] == sub {
		delete(r.subs, id)
	}
}

func (r *Reconciler) stopTracking(id job.Identity) {
	r.mu.Lock()
	sub, ok := r.subs[id]
	r.mu.Unlock()
	if ok {
		sub.cancel()
	}
}

// Apply folds one observation into the record for id. It reports whether the
// record is terminal afterwards.
func (r *Reconciler) Apply(ctx context.Context, id job.Identity, obs job.Observation) bool {
	now := r.clock.Now()
	var from job.Phase
	rec, err := r.store.Update(id, func(cur *job.DispatchRecord) error {
		if cur.Phase.IsTerminal() {
			return store.ErrUnchanged
		}
		from = cur.Phase
		cur.LastObservedAt = now

		switch {
		case obs.Gone:
			cur.SetPhase(job.PhaseFailed, now)
			cur.LastError = obs.Reason
			cur.ErrorCode = string(apperrors.ErrCodeNotFound)
		case obs.IdempotencyKey != "" && obs.IdempotencyKey != cur.IdempotencyKey:
			cur.SetPhase(job.PhaseFailed, now)
			cur.LastError = fmt.Sprintf("workload object %s was replaced by another owner", obs.Ref)
			cur.ErrorCode = string(apperrors.ErrCodeRejected)
		case obs.Phase != cur.Phase:
			if cur.SetPhase(obs.Phase, now) && obs.Phase == job.PhaseFailed {
				cur.LastError = obs.Reason
			}
		}
		return nil
	})
	if errors.Is(err, store.ErrUnchanged) {
		return true
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return true
		}
		slog.Error("failed to apply workload observation", "identity", id.String(), "error", err)
		return false
	}

	if rec.Phase == from {
		return false
	}

	log := slog.With("identity", id.String(), "object", rec.Object.String())
	if rec.Phase == job.PhaseRunning {
		log.Info("job running")
		r.metrics.Running(rec.DispatchedAt, rec.RunningAt)
		return false
	}
	if !rec.Phase.IsTerminal() {
		return false
	}

	if rec.Phase == job.PhaseSucceeded {
		log.Info("job succeeded")
	} else {
		log.Warn("job failed", "reason", rec.LastError)
	}
	r.metrics.Terminal(rec.Phase)
	r.report(ctx, id)
	return true
}

// Sweep marks stale records Lost, retries pending reports, removes expired
// records and re-subscribes dispatched records that lost their subscription.
func (r *Reconciler) Sweep(ctx context.Context) {
	recs, err := r.store.List()
	if err != nil {
		slog.Error("failed to list dispatch records", "error", err)
		return
	}

	now := r.clock.Now()
	for _, rec := range recs {
		switch {
		case rec.Phase.IsTerminal() && !rec.Reported:
			r.report(ctx, rec.Identity)

		case rec.Phase.IsTerminal():
			if now.Sub(rec.TerminalAt) < r.cfg.RetentionWindow {
				continue
			}
			if err := r.store.Delete(rec.Identity); err != nil {
				slog.Warn("failed to remove expired record", "identity", rec.Identity.String(), "error", err)
				continue
			}
			slog.Debug("removed expired record", "identity", rec.Identity.String())
			if r.onRemoved != nil {
				r.onRemoved(rec.Identity)
			}

		case rec.IsDispatched():
			if now.Sub(rec.LastObservedAt) > r.cfg.StalenessTimeout {
				r.markLost(ctx, rec.Identity)
				continue
			}
			r.subscribe(ctx, rec)
		}
	}
}

// markLost fails a record whose workload went silent. Lost records are never
// dispatched again.
func (r *Reconciler) markLost(ctx context.Context, id job.Identity) {
	now := r.clock.Now()
	rec, err := r.store.Update(id, func(cur *job.DispatchRecord) error {
		if cur.Phase.IsTerminal() || now.Sub(cur.LastObservedAt) <= r.cfg.StalenessTimeout {
			return store.ErrUnchanged
		}
		silent := now.Sub(cur.LastObservedAt)
		cur.SetPhase(job.PhaseLost, now)
		cur.LastError = fmt.Sprintf("no workload status observed for %s", silent.Round(time.Second))
		cur.ErrorCode = string(apperrors.ErrCodeStale)
		return nil
	})
	if errors.Is(err, store.ErrUnchanged) {
		return
	}
	if err != nil {
		slog.Error("failed to mark record lost", "identity", id.String(), "error", err)
		return
	}

	r.stopTracking(id)
	slog.Error("job lost: workload status unavailable",
		"identity", id.String(), "object", rec.Object.String(),
		"lastObserved", rec.LastObservedAt, "staleness", r.cfg.StalenessTimeout)
	r.metrics.Terminal(job.PhaseLost)
	r.report(ctx, id)
}

func (r *Reconciler) report(ctx context.Context, id job.Identity) {
	acct := r.accountant
	if acct == nil {
		acct = accounting.Multi{}
	}
	if _, err := accounting.ReportOnce(ctx, r.store, acct, id); err != nil {
		slog.Warn("failed to report job outcome, will retry", "identity", id.String(), "error", err)
	}
}
