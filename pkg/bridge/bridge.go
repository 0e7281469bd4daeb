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

package bridge

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"k8s.io/utils/clock"

	"github.com/NVIDIA/slurm-k8s-bridge/pkg/accounting"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/api"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/config"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/dispatch"
	apperrors "github.com/NVIDIA/slurm-k8s-bridge/pkg/errors"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/gate"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/job"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/k8s/client"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/metrics"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/reconcile"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/serializer"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/server"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/store"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/translator"
)

// Name is reported by the HTTP root handler and in logs.
const Name = "sbridge"

// Deps are the external dependencies of a Bridge.
type Deps struct {
	Store        store.Store
	ControlPlane dispatch.ControlPlane
	Source       reconcile.StatusSource
	// Clients are the Kubernetes clients behind ControlPlane and Source, if any.
	Clients *client.Clients
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithVersion sets the version reported by the HTTP surface.
func WithVersion(v string) Option {
	return func(b *Bridge) { b.version = v }
}

// WithClock sets the clock of every component.
func WithClock(c clock.WithTicker) Option {
	return func(b *Bridge) { b.clock = c }
}

// WithRegistry registers metrics on reg and serves them from g.
func WithRegistry(reg prometheus.Registerer, g prometheus.Gatherer) Option {
	return func(b *Bridge) {
		b.registerer = reg
		b.gatherer = g
	}
}

// WithAccountant adds an accountant next to the status board and webhook.
func WithAccountant(a accounting.Accountant) Option {
	return func(b *Bridge) { b.accountants = append(b.accountants, a) }
}

// Bridge is the running bridge process.
type Bridge struct {
	cfg         *config.Config
	deps        Deps
	version     string
	clock       clock.WithTicker
	registerer  prometheus.Registerer
	gatherer    prometheus.Gatherer
	accountants accounting.Multi

	metrics    *metrics.Metrics
	board      *accounting.Board
	translator *translator.Translator
	gate       *gate.Gate
	dispatcher *dispatch.Dispatcher
	reconciler *reconcile.Reconciler
	server     *server.Server
}

// New wires a Bridge. cfg must have been validated.
func New(cfg *config.Config, deps Deps, opts ...Option) (*Bridge, error) {
	if cfg == nil {
		return nil, apperrors.New(apperrors.ErrCodeInvalidRequest, "configuration is required")
	}
	if deps.Store == nil || deps.ControlPlane == nil || deps.Source == nil {
		return nil, apperrors.New(apperrors.ErrCodeInvalidRequest, "store, control plane and status source are required")
	}

	b := &Bridge{
		cfg:        cfg,
		deps:       deps,
		version:    "dev",
		clock:      clock.RealClock{},
		registerer: prometheus.DefaultRegisterer,
		gatherer:   prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(b)
	}

	b.metrics = metrics.New(b.registerer)
	b.metrics.RegisterInFlight(func() float64 {
		n, err := deps.Store.InFlight()
		if err != nil {
			slog.Warn("failed to count in-flight records", "error", err)
			return 0
		}
		return float64(n)
	})

	b.board = accounting.NewBoard()
	acct := accounting.Multi{b.board}
	if cfg.Accounting.WebhookURL != "" {
		acct = append(acct, accounting.NewWebhook(cfg.Accounting.WebhookURL,
			serializer.WithUserAgent(Name+"/"+b.version)))
	}
	acct = append(acct, b.accountants...)

	var err error
	b.dispatcher, err = dispatch.New(deps.ControlPlane, deps.Store, cfg.DispatchConfig(),
		dispatch.WithClock(b.clock),
		dispatch.WithMetrics(b.metrics),
		dispatch.WithAccountant(acct),
		dispatch.OnDispatched(func(rec *job.DispatchRecord) { b.reconciler.Track(rec) }),
	)
	if err != nil {
		return nil, err
	}

	b.reconciler = reconcile.New(deps.Source, deps.Store, cfg.ReconcileConfig(),
		reconcile.WithClock(b.clock),
		reconcile.WithMetrics(b.metrics),
		reconcile.WithAccountant(acct),
		reconcile.WithRequeuer(b.dispatcher),
		reconcile.OnRemoved(b.board.Forget),
	)

	b.translator = translator.New(cfg.Translator)
	b.gate = gate.New(b.translator, deps.Store, b.dispatcher,
		gate.WithClock(b.clock),
		gate.WithMetrics(b.metrics),
		gate.WithStub(cfg.GateStub()),
	)

	srvCfg := server.NewConfig()
	srvCfg.Name = Name
	srvCfg.Version = b.version
	srvCfg.Address = cfg.Server.Address
	srvCfg.Port = cfg.Server.Port
	if cfg.Server.RateLimit > 0 {
		srvCfg.RateLimit = rate.Limit(cfg.Server.RateLimit)
	}
	if cfg.Server.RateLimitBurst > 0 {
		srvCfg.RateLimitBurst = cfg.Server.RateLimitBurst
	}
	srvCfg.Gatherer = b.gatherer
	b.server = server.New(server.WithConfig(srvCfg), server.WithHandler(b.routes()))

	return b, nil
}

func (b *Bridge) routes() map[string]http.HandlerFunc {
	return map[string]http.HandlerFunc{
		"POST " + api.PathSubmit:                          b.handleSubmit,
		"GET " + api.PathJobs + "/{cluster}/{id}":         b.handleStatus,
		"POST " + api.PathJobs + "/{cluster}/{id}/cancel": b.handleCancel,
		"GET " + api.PathRecords:                          b.handleRecords,
	}
}

// Handler returns the HTTP handler, middleware included.
func (b *Bridge) Handler() http.Handler {
	return b.server.Handler()
}

// Addr returns the HTTP listen address once Run has started the server.
func (b *Bridge) Addr() net.Addr {
	return b.server.Addr()
}

// Run runs the dispatcher, the reconciler and the HTTP server until ctx is
// done or one of them fails, then closes the store.
func (b *Bridge) Run(ctx context.Context) error {
	slog.Info("bridge starting",
		"version", b.version,
		"cluster", b.cfg.Cluster,
		"statusMode", b.cfg.Status.Mode,
		"store", b.cfg.Store.Type)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.dispatcher.Run(gctx) })
	g.Go(func() error { return b.reconciler.Run(gctx) })
	g.Go(func() error { return b.server.Run(gctx) })

	err := g.Wait()
	if cerr := b.deps.Store.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	slog.Info("bridge stopped")
	return err
}
