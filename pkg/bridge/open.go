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
	"fmt"
	"log/slog"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/clock"

	"github.com/NVIDIA/slurm-k8s-bridge/pkg/config"
	apperrors "github.com/NVIDIA/slurm-k8s-bridge/pkg/errors"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/k8s/client"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/k8s/workload"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/reconcile"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/store"
)

// OpenStore opens the record store selected by cfg.
func OpenStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Type {
	case config.StoreMemory, "":
		return store.NewMemory(), nil
	case config.StoreBolt:
		st, err := store.OpenBolt(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open record store: %w", err)
		}
		return st, nil
	default:
		return nil, apperrors.New(apperrors.ErrCodeInvalidRequest, fmt.Sprintf("unknown store type %q", cfg.Type))
	}
}

// Open builds the production dependencies described by cfg: the record
// store, Kubernetes clients, the workload control plane and the status
// source. The caller owns the returned store.
func Open(cfg *config.Config) (Deps, error) {
	clients, err := client.Build(client.Options{
		Kubeconfig: cfg.Kubernetes.Kubeconfig,
		QPS:        cfg.Kubernetes.QPS,
		Burst:      cfg.Kubernetes.Burst,
		UserAgent:  Name,
	})
	if err != nil {
		return Deps{}, apperrors.Wrap(apperrors.ErrCodeUnavailable, "failed to build kubernetes clients", err)
	}

	st, err := OpenStore(cfg.Store)
	if err != nil {
		return Deps{}, err
	}

	wc := workload.NewClient(clients.Kube, clients.Dynamic, cfg.Workload)

	var source reconcile.StatusSource
	switch cfg.Status.Mode {
	case config.StatusModePoll:
		source = workload.NewPollSource(wc, cfg.PollInterval(), clock.RealClock{})
	default:
		source = workload.NewWatchSource(wc, cfg.ResyncInterval(), clock.RealClock{})
	}

	slog.Debug("dependencies opened",
		"host", clients.Config.Host,
		"store", cfg.Store.Type,
		"statusMode", cfg.Status.Mode)
	return Deps{Store: st, ControlPlane: wc, Source: source, Clients: clients}, nil
}

// Preflight checks that the bridge identity may manage workloads in the
// default namespace. It needs Deps built by Open.
func Preflight(ctx context.Context, cfg *config.Config, deps Deps) ([]workload.PermissionCheck, error) {
	if deps.Clients == nil {
		return nil, apperrors.New(apperrors.ErrCodeInvalidRequest, "preflight requires kubernetes clients")
	}
	namespace := cfg.Translator.DefaultNamespace
	if namespace == "" {
		namespace = metav1.NamespaceDefault
	}
	checks, err := workload.CheckPermissions(ctx, deps.Clients.Kube, []string{namespace}, deps.Clients.Dynamic != nil)
	if err != nil {
		return checks, apperrors.Wrap(apperrors.ErrCodeUnauthorized, "preflight permission check failed", err)
	}
	slog.Info("preflight passed", "namespace", namespace, "checks", len(checks))
	return checks, nil
}
