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

package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/NVIDIA/slurm-k8s-bridge/pkg/defaults"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/dispatch"
	apperrors "github.com/NVIDIA/slurm-k8s-bridge/pkg/errors"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/gate"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/job"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/k8s/workload"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/reconcile"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/serializer"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/translator"
)

// Status source modes.
const (
	StatusModeWatch = "watch"
	StatusModePoll  = "poll"
)

// Store types.
const (
	StoreMemory = "memory"
	StoreBolt   = "bolt"
)

// Config is the complete bridge configuration.
type Config struct {
	// Cluster is the scheduler cluster used when a submission names none.
	Cluster string `json:"cluster,omitempty" yaml:"cluster,omitempty"`
	// LogLevel is debug, info, warn or error.
	LogLevel string `json:"logLevel,omitempty" yaml:"logLevel,omitempty"`

	Translator translator.Config `json:"translator" yaml:"translator"`
	Dispatch   DispatchConfig    `json:"dispatch" yaml:"dispatch"`
	Status     StatusConfig      `json:"status,omitempty" yaml:"status,omitempty"`
	Store      StoreConfig       `json:"store,omitempty" yaml:"store,omitempty"`
	Accounting AccountingConfig  `json:"accounting,omitempty" yaml:"accounting,omitempty"`
	Server     ServerConfig      `json:"server,omitempty" yaml:"server,omitempty"`
	Kubernetes KubernetesConfig  `json:"kubernetes,omitempty" yaml:"kubernetes,omitempty"`
	Workload   workload.Options  `json:"workload,omitempty" yaml:"workload,omitempty"`
	Stub       StubConfig        `json:"stub,omitempty" yaml:"stub,omitempty"`
}

// DispatchConfig tunes the dispatcher worker pool and retry policy.
type DispatchConfig struct {
	Workers     int           `json:"workers,omitempty" yaml:"workers,omitempty"`
	QueueSize   int           `json:"queueSize,omitempty" yaml:"queueSize,omitempty"`
	MaxAttempts int           `json:"maxAttempts" yaml:"maxAttempts"`
	Backoff     BackoffConfig `json:"backoff" yaml:"backoff"`
	// QPS and Burst limit control-plane calls made by the dispatcher.
	QPS   float64 `json:"qps,omitempty" yaml:"qps,omitempty"`
	Burst int     `json:"burst,omitempty" yaml:"burst,omitempty"`
}

// BackoffConfig is the exponential delay between dispatch attempts.
type BackoffConfig struct {
	Initial Duration `json:"initial" yaml:"initial"`
	Factor  float64  `json:"factor" yaml:"factor"`
	// Jitter adds up to Jitter*delay of random delay.
	Jitter float64 `json:"jitter,omitempty" yaml:"jitter,omitempty"`
	// Cap bounds a single delay. Zero means no cap.
	Cap Duration `json:"cap,omitempty" yaml:"cap,omitempty"`
}

// StatusConfig selects and tunes workload status tracking.
type StatusConfig struct {
	Mode             string   `json:"mode,omitempty" yaml:"mode,omitempty"`
	PollInterval     Duration `json:"pollInterval,omitempty" yaml:"pollInterval,omitempty"`
	ResyncInterval   Duration `json:"resyncInterval,omitempty" yaml:"resyncInterval,omitempty"`
	StalenessTimeout Duration `json:"stalenessTimeout,omitempty" yaml:"stalenessTimeout,omitempty"`
	SweepInterval    Duration `json:"sweepInterval,omitempty" yaml:"sweepInterval,omitempty"`
	RetentionWindow  Duration `json:"retentionWindow,omitempty" yaml:"retentionWindow,omitempty"`
}

// StoreConfig selects the dispatch record store.
type StoreConfig struct {
	Type string `json:"type,omitempty" yaml:"type,omitempty"`
	// Path is the bolt database file.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// AccountingConfig configures where terminal outcomes are reported besides
// the status board the stub polls.
type AccountingConfig struct {
	WebhookURL string `json:"webhookURL,omitempty" yaml:"webhookURL,omitempty"`
}

// ServerConfig configures the HTTP hook surface.
type ServerConfig struct {
	Address        string  `json:"address,omitempty" yaml:"address,omitempty"`
	Port           int     `json:"port,omitempty" yaml:"port,omitempty"`
	RateLimit      float64 `json:"rateLimit,omitempty" yaml:"rateLimit,omitempty"`
	RateLimitBurst int     `json:"rateLimitBurst,omitempty" yaml:"rateLimitBurst,omitempty"`
	// GateBudget bounds one submission hook call.
	GateBudget Duration `json:"gateBudget,omitempty" yaml:"gateBudget,omitempty"`
}

// KubernetesConfig configures the control-plane client.
type KubernetesConfig struct {
	Kubeconfig string  `json:"kubeconfig,omitempty" yaml:"kubeconfig,omitempty"`
	QPS        float32 `json:"qps,omitempty" yaml:"qps,omitempty"`
	Burst      int     `json:"burst,omitempty" yaml:"burst,omitempty"`
}

// StubConfig configures the polling script delegated jobs run.
type StubConfig struct {
	Binary   string   `json:"binary,omitempty" yaml:"binary,omitempty"`
	Server   string   `json:"server,omitempty" yaml:"server,omitempty"`
	Interval Duration `json:"interval,omitempty" yaml:"interval,omitempty"`
}

// Load reads the configuration from source, applies environment overrides
// and defaults, and validates the result.
func Load(source string) (*Config, error) {
	cfg, err := serializer.FromFile[Config](source)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInvalidRequest,
			fmt.Sprintf("failed to load configuration from %s", source), err)
	}

	cfg.ApplyEnv(os.LookupEnv)
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	slog.Debug("configuration loaded",
		"source", source,
		"cluster", cfg.Cluster,
		"resources", len(cfg.Translator.Resources),
		"statusMode", cfg.Status.Mode,
		"store", cfg.Store.Type)
	return cfg, nil
}

// ApplyEnv overlays environment variables read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	str("SBRIDGE_CLUSTER", &c.Cluster)
	str("SBRIDGE_NAMESPACE", &c.Translator.DefaultNamespace)
	str("SBRIDGE_DEFAULT_IMAGE", &c.Translator.DefaultImage)
	str("SBRIDGE_STATUS_MODE", &c.Status.Mode)
	str("SBRIDGE_ACCOUNTING_WEBHOOK", &c.Accounting.WebhookURL)
	str("SBRIDGE_KUBECONFIG", &c.Kubernetes.Kubeconfig)
	str("LOG_LEVEL", &c.LogLevel)

	if v, ok := lookup("SBRIDGE_STORE_PATH"); ok && v != "" {
		c.Store.Type = StoreBolt
		c.Store.Path = v
	}
	if v, ok := lookup("PORT"); ok {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
}

// ApplyDefaults fills every optional zero value. Retry settings and the
// resource mapping are left alone.
func (c *Config) ApplyDefaults() {
	if c.Cluster == "" {
		c.Cluster = job.DefaultCluster
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Status.Mode == "" {
		c.Status.Mode = StatusModeWatch
	}
	if c.Store.Type == "" {
		c.Store.Type = StoreMemory
	}
	if c.Server.Port == 0 {
		c.Server.Port = defaults.ServerPort
	}
	if c.Server.GateBudget <= 0 {
		c.Server.GateBudget = Duration(defaults.GateBudget)
	}
	if c.Stub.Interval <= 0 {
		c.Stub.Interval = Duration(defaults.WaitPollInterval)
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := c.Translator.Validate(); err != nil {
		return err
	}
	if err := c.DispatchConfig().Validate(); err != nil {
		return err
	}

	switch c.Status.Mode {
	case StatusModeWatch, StatusModePoll:
	default:
		return apperrors.New(apperrors.ErrCodeInvalidRequest,
			fmt.Sprintf("status mode %q must be %q or %q", c.Status.Mode, StatusModeWatch, StatusModePoll))
	}

	rc := c.ReconcileConfig()
	interval := c.PollInterval()
	if c.Status.Mode == StatusModeWatch {
		interval = c.ResyncInterval()
	}
	if rc.StalenessTimeout <= interval {
		return apperrors.NewWithContext(apperrors.ErrCodeInvalidRequest,
			"status stalenessTimeout must exceed the observation interval", map[string]any{
				"stalenessTimeout": rc.StalenessTimeout.String(),
				"interval":         interval.String(),
			})
	}

	switch c.Store.Type {
	case StoreMemory:
	case StoreBolt:
		if c.Store.Path == "" {
			return apperrors.New(apperrors.ErrCodeInvalidRequest, "store path is required for the bolt store")
		}
	default:
		return apperrors.New(apperrors.ErrCodeInvalidRequest,
			fmt.Sprintf("store type %q must be %q or %q", c.Store.Type, StoreMemory, StoreBolt))
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return apperrors.New(apperrors.ErrCodeInvalidRequest, fmt.Sprintf("server port %d is out of range", c.Server.Port))
	}
	if c.Workload.TTLSecondsAfterFinished < 0 {
		return apperrors.New(apperrors.ErrCodeInvalidRequest, "workload ttlSecondsAfterFinished must not be negative")
	}
	return nil
}

// DispatchConfig returns the dispatcher settings.
func (c *Config) DispatchConfig() dispatch.Config {
	b := c.Dispatch.Backoff
	return dispatch.Config{
		Workers:     c.Dispatch.Workers,
		QueueSize:   c.Dispatch.QueueSize,
		MaxAttempts: c.Dispatch.MaxAttempts,
		Backoff: wait.Backoff{
			Duration: b.Initial.D(),
			Factor:   b.Factor,
			Jitter:   b.Jitter,
			Steps:    c.Dispatch.MaxAttempts,
			Cap:      b.Cap.D(),
		},
		QPS:   c.Dispatch.QPS,
		Burst: c.Dispatch.Burst,
	}
}

// ReconcileConfig returns the reconciler settings.
func (c *Config) ReconcileConfig() reconcile.Config {
	return reconcile.Config{
		StalenessTimeout: c.Status.StalenessTimeout.or(defaults.StalenessTimeout),
		SweepInterval:    c.Status.SweepInterval.or(defaults.SweepInterval),
		RetentionWindow:  c.Status.RetentionWindow.or(defaults.RecordRetention),
	}
}

// PollInterval is the poll-based status source interval.
func (c *Config) PollInterval() time.Duration {
	return c.Status.PollInterval.or(defaults.StatusPollInterval)
}

// ResyncInterval is the watch-based status source resync interval.
func (c *Config) ResyncInterval() time.Duration {
	return c.Status.ResyncInterval.or(defaults.StatusResyncInterval)
}

// GateStub returns the stub script settings.
func (c *Config) GateStub() gate.Stub {
	return gate.Stub{
		Binary:   c.Stub.Binary,
		Server:   c.Stub.Server,
		Interval: c.Stub.Interval.D(),
	}
}
