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

	"github.com/urfave/cli/v3"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"

	"github.com/NVIDIA/slurm-k8s-bridge/pkg/config"
	apperrors "github.com/NVIDIA/slurm-k8s-bridge/pkg/errors"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/k8s/client"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/k8s/workload"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/serializer"
)

func rbacCmd() *cli.Command {
	return &cli.Command{
		Name:  "rbac",
		Usage: "Render or create the RBAC objects the bridge needs",
		Description: `Render the ServiceAccount, Roles and bindings that let the bridge manage
workloads in the configured namespace and read node capacity. With --apply
the missing objects are created in the cluster; existing ones are kept.

Examples:
  sbridge rbac --config config.yaml > rbac.yaml
  sbridge rbac --config config.yaml --workload-namespace research --apply`,
		Flags: []cli.Flag{
			configFlag(),
			kubeconfigFlag(),
			&cli.StringFlag{
				Name:    "namespace",
				Aliases: []string{"n"},
				Value:   "slurm-bridge",
				Usage:   "Namespace the bridge runs in",
			},
			&cli.StringFlag{
				Name:  "service-account",
				Value: name,
				Usage: "Name of the bridge ServiceAccount and its roles",
			},
			&cli.StringSliceFlag{
				Name:  "workload-namespace",
				Usage: "Additional namespace descriptors may target (can be repeated)",
			},
			&cli.BoolFlag{
				Name:  "distributed",
				Value: true,
				Usage: "Grant JobSet access for multi-node jobs",
			},
			&cli.BoolFlag{
				Name:  "apply",
				Usage: "Create the objects instead of printing them",
			},
			outputFlag(),
			formatFlag(serializer.FormatYAML),
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.Load(cmd.String("config"))
			if err != nil {
				return err
			}

			namespaces := cmd.StringSlice("workload-namespace")
			if ns := cfg.Translator.DefaultNamespace; ns != "" {
				namespaces = append(namespaces, ns)
			} else {
				namespaces = append(namespaces, metav1.NamespaceDefault)
			}

			r, err := workload.BuildRBAC(workload.RBACOptions{
				Name:               cmd.String("service-account"),
				Namespace:          cmd.String("namespace"),
				WorkloadNamespaces: namespaces,
				Distributed:        cmd.Bool("distributed"),
			})
			if err != nil {
				return apperrors.Wrap(apperrors.ErrCodeInvalidRequest, "invalid rbac options", err)
			}

			if !cmd.Bool("apply") {
				list, err := objectList(r.Objects())
				if err != nil {
					return err
				}
				return writeOutput(ctx, cmd, list)
			}

			kubeconfig := cfg.Kubernetes.Kubeconfig
			if kc := cmd.String("kubeconfig"); kc != "" {
				kubeconfig = kc
			}
			clients, err := client.Build(client.Options{Kubeconfig: kubeconfig, UserAgent: name})
			if err != nil {
				return apperrors.Wrap(apperrors.ErrCodeUnavailable, "failed to build kubernetes clients", err)
			}
			if err := workload.EnsureRBAC(ctx, clients.Kube, r); err != nil {
				return err
			}
			slog.Info("rbac objects ensured", "serviceAccount", r.ServiceAccount.Name,
				"namespace", r.ServiceAccount.Namespace, "roles", len(r.Roles))
			return nil
		},
	}
}

// objectList wraps objects in a v1 List so the output applies with kubectl.
func objectList(objs []runtime.Object) (map[string]any, error) {
	items := make([]any, 0, len(objs))
	for _, o := range objs {
		u, err := runtime.DefaultUnstructuredConverter.ToUnstructured(o)
		if err != nil {
			return nil, fmt.Errorf("failed to convert %T: %w", o, err)
		}
		items = append(items, u)
	}
	return map[string]any{
		"apiVersion": "v1",
		"kind":       "List",
		"items":      items,
	}, nil
}
