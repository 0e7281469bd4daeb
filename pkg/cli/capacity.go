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
	"slices"

	"github.com/urfave/cli/v3"

	"github.com/NVIDIA/slurm-k8s-bridge/pkg/config"
	apperrors "github.com/NVIDIA/slurm-k8s-bridge/pkg/errors"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/k8s/client"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/k8s/workload"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/serializer"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/translator"
)

func capacityCmd() *cli.Command {
	return &cli.Command{
		Name:  "capacity",
		Usage: "Show allocatable capacity of the mapped resources per node",
		Description: `List the nodes that advertise any of the orchestration resources the
configuration maps generic resources to, with totals over schedulable nodes.

Examples:
  sbridge capacity --config config.yaml
  sbridge capacity --config config.yaml --format table`,
		Flags: []cli.Flag{
			configFlag(),
			kubeconfigFlag(),
			outputFlag(),
			formatFlag(serializer.FormatYAML),
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.Load(cmd.String("config"))
			if err != nil {
				return err
			}
			kubeconfig := cfg.Kubernetes.Kubeconfig
			if kc := cmd.String("kubeconfig"); kc != "" {
				kubeconfig = kc
			}

			clients, err := client.Build(client.Options{
				Kubeconfig: kubeconfig,
				QPS:        cfg.Kubernetes.QPS,
				Burst:      cfg.Kubernetes.Burst,
				UserAgent:  name,
			})
			if err != nil {
				return apperrors.Wrap(apperrors.ErrCodeUnavailable, "failed to build kubernetes clients", err)
			}

			report, err := workload.Capacity(ctx, clients.Kube, mappedResources(cfg.Translator))
			if err != nil {
				return fmt.Errorf("failed to read node capacity: %w", err)
			}
			return writeOutput(ctx, cmd, report)
		},
	}
}

// mappedResources returns the distinct orchestration resources, sorted.
func mappedResources(cfg translator.Config) []string {
	var out []string
	for _, m := range cfg.Resources {
		if !slices.Contains(out, m.Resource) {
			out = append(out, m.Resource)
		}
	}
	slices.Sort(out)
	return out
}
