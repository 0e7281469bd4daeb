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

package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/urfave/cli/v3"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/NVIDIA/slurm-k8s-bridge/pkg/bridge"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/config"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/logging"
)

// readyTimeout bounds the wait for the listener before READY is sent anyway.
const readyTimeout = 30 * time.Second

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the bridge (submission hook, dispatcher and reconciler)",
		Description: `Run the bridge until SIGINT or SIGTERM.

The configuration is loaded once at start. Environment variables with the
SBRIDGE_ prefix, PORT and LOG_LEVEL override it. When started by systemd with
Type=notify, READY=1 is sent once the hook listens and STOPPING=1 on shutdown.

Examples:
  sbridge serve --config /etc/sbridge/config.yaml
  sbridge serve --config cm://slurm-bridge/sbridge-config --preflight`,
		Flags: []cli.Flag{
			configFlag(),
			kubeconfigFlag(),
			&cli.BoolFlag{
				Name:  "preflight",
				Usage: "Check workload RBAC permissions before starting",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.Load(cmd.String("config"))
			if err != nil {
				return err
			}
			if !cmd.IsSet("log-level") {
				logging.SetDefaultStructuredLoggerWithLevel(name, version, cfg.LogLevel)
			}
			if kc := cmd.String("kubeconfig"); kc != "" {
				cfg.Kubernetes.Kubeconfig = kc
			}

			deps, err := bridge.Open(cfg)
			if err != nil {
				return err
			}

			if cmd.Bool("preflight") {
				if _, err := bridge.Preflight(ctx, cfg, deps); err != nil {
					_ = deps.Store.Close()
					return err
				}
			}

			b, err := bridge.New(cfg, deps, bridge.WithVersion(version))
			if err != nil {
				_ = deps.Store.Close()
				return err
			}

			go notifyWhenListening(ctx, b)
			defer notify(daemon.SdNotifyStopping)

			if err := b.Run(ctx); err != nil {
				return fmt.Errorf("bridge exited with error: %w", err)
			}
			return nil
		},
	}
}

// notifyWhenListening sends READY=1 once the HTTP listener is up.
func notifyWhenListening(ctx context.Context, b *bridge.Bridge) {
	err := wait.PollUntilContextTimeout(ctx, 50*time.Millisecond, readyTimeout, true,
		func(context.Context) (bool, error) { return b.Addr() != nil, nil })
	if err != nil {
		slog.Warn("listener not up, notifying readiness anyway", "error", err)
	}
	if ctx.Err() == nil {
		notify(daemon.SdNotifyReady)
	}
}

func notify(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		slog.Warn("failed to notify systemd", "state", state, "error", err)
		return
	}
	if sent {
		slog.Debug("notified systemd", "state", state)
	}
}
